package handlers

import (
	"net/http"
	"stakeledger/internal/models"
	"stakeledger/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type claimRequest struct {
	Wallet         string          `json:"walletAddress"`
	Type           string          `json:"type"`
	TxHash         string          `json:"txHash"`
	BlockNumber    uint64          `json:"blockNumber"`
	InstantAmount  decimal.Decimal `json:"instantAmount"`
	ReferralAmount decimal.Decimal `json:"referralAmount"`
}

// recordClaim always answers success: the claim already happened on chain
// and bookkeeping problems are raised as reconciliation events.
func (a *API) recordClaim(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := decodeJSON(r, &req); err != nil {
		log.Warn("Claim record body rejected: ", err)
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "recorded": false})
		return
	}

	claimType, err := models.ParseClaimType(req.Type)
	if err != nil {
		log.WithField("wallet", req.Wallet).Warn("Claim record rejected: ", err)
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "recorded": false, "reason": err.Error()})
		return
	}

	outcome := a.Rewards.RecordClaim(r.Context(), services.ClaimRecord{
		Wallet:         req.Wallet,
		Type:           claimType,
		TxHash:         req.TxHash,
		BlockNumber:    req.BlockNumber,
		InstantAmount:  req.InstantAmount,
		ReferralAmount: req.ReferralAmount,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"recorded": outcome.Recorded,
		"marked":   outcome.Marked,
	})
}

func (a *API) pendingRewards(w http.ResponseWriter, r *http.Request) {
	summary, err := a.Rewards.GetPendingSummary(r.Context(), chi.URLParam(r, "wallet"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (a *API) lifetimeEarnings(w http.ResponseWriter, r *http.Request) {
	earnings, err := a.Rewards.GetLifetimeEarnings(r.Context(), chi.URLParam(r, "wallet"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, earnings)
}

func (a *API) syncAPY(w http.ResponseWriter, r *http.Request) {
	res, err := a.Rewards.SyncAPY(r.Context(), chi.URLParam(r, "wallet"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
