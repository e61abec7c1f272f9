package handlers

import "net/http"

func (a *API) treasuryStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.Treasury.GetTreasuryStats(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *API) liabilityReport(w http.ResponseWriter, r *http.Request) {
	report, err := a.Treasury.GetLiabilityReport(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
