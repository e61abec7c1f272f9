package handlers

import (
	"crypto/subtle"
	"net/http"
	"stakeledger/internal/models"
	"stakeledger/internal/services"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

const defaultReconciliationLimit = 100

func requireToken(token string) func(http.Handler) http.Handler {
	want := []byte("Bearer " + token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := []byte(r.Header.Get("Authorization"))
			if subtle.ConstantTimeCompare(got, want) != 1 {
				writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized", Code: "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type adminClaimRequest struct {
	Type string `json:"type"`
}

type transferRequest struct {
	To     string          `json:"to"`
	Amount decimal.Decimal `json:"amount"`
}

type referralConfigRequest struct {
	ReferralPercentage decimal.Decimal `json:"referralPercentage"`
	ReferrerPercentage decimal.Decimal `json:"referrerPercentage"`
	Paused             bool            `json:"paused"`
}

func (a *API) claimOnBehalf(w http.ResponseWriter, r *http.Request) {
	var req adminClaimRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	claimType, err := models.ParseClaimType(req.Type)
	if err != nil {
		writeError(w, r, services.ErrInvalidClaimType)
		return
	}

	res, err := a.Rewards.ClaimOnBehalf(r.Context(), chi.URLParam(r, "wallet"), claimType)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) transferRewards(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := a.Treasury.TransferRewards(r.Context(), req.To, req.Amount)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) referralConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := a.Referrals.Config(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (a *API) updateReferralConfig(w http.ResponseWriter, r *http.Request) {
	var req referralConfigRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	cfg, err := a.Referrals.UpdateConfig(r.Context(), req.ReferralPercentage, req.ReferrerPercentage, req.Paused)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (a *API) openReconciliations(w http.ResponseWriter, r *http.Request) {
	limit := defaultReconciliationLimit
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, r, services.ErrInvalidRequest)
			return
		}
		limit = n
	}

	events, err := a.Reconciliations.Open(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (a *API) resolveReconciliation(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, r, services.ErrInvalidRequest)
		return
	}

	resolved, err := a.Reconciliations.Resolve(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"resolved": resolved})
}
