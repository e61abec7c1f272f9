package handlers

import (
	"net/http"
	"stakeledger/internal/services"
	"stakeledger/internal/util"

	"github.com/go-chi/chi/v5"
)

type referralCodeRequest struct {
	Code string `json:"code"`
}

func (a *API) recordStake(w http.ResponseWriter, r *http.Request) {
	var req services.CryptoStakeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := a.Stakes.RecordCryptoStake(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) activeStakes(w http.ResponseWriter, r *http.Request) {
	stakes, err := a.Stakes.ActiveStakes(r.Context(), chi.URLParam(r, "wallet"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stakes": stakes})
}

func (a *API) referralStats(w http.ResponseWriter, r *http.Request) {
	user, err := a.Users.GetOrCreate(r.Context(), chi.URLParam(r, "wallet"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	stats, err := a.Referrals.Stats(r.Context(), user)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *API) applyReferralCode(w http.ResponseWriter, r *http.Request) {
	var req referralCodeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	user, err := a.Users.ApplyReferralCode(r.Context(), chi.URLParam(r, "wallet"), req.Code)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (a *API) skipReferral(w http.ResponseWriter, r *http.Request) {
	user, err := a.Users.SkipReferral(r.Context(), chi.URLParam(r, "wallet"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (a *API) transactionHistory(w http.ResponseWriter, r *http.Request) {
	wallet, err := services.ValidateWallet(chi.URLParam(r, "wallet"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	offset, limit := util.PageBounds(r.URL.Query().Get("page"), r.URL.Query().Get("size"))

	txs, err := a.History.FindByWallet(r.Context(), wallet, offset, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": txs})
}
