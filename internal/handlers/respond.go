package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"stakeledger/internal/chain"
	"stakeledger/internal/gateway"
	"stakeledger/internal/services"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn("Failed to write response: ", err)
	}
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return services.ErrInvalidRequest
	}
	return nil
}

// classify maps an error onto a status, a stable code and a message the user
// can act on. Gateway outages read as "try again"; chain and configuration
// problems say what is wrong.
func classify(err error) (int, string, string) {
	switch {
	case errors.Is(err, chain.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity, "insufficient_funds",
			"The reward pool does not hold enough tokens for this operation."
	case errors.Is(err, chain.ErrWrongNetwork):
		return http.StatusBadGateway, "wrong_network",
			"The staking contract is not reachable on the configured network."
	case errors.Is(err, services.ErrInvalidConfiguration):
		return http.StatusBadRequest, "invalid_configuration",
			"The selected staking option is not available. Choose another amount or lock period."
	case errors.Is(err, services.ErrContractPaused):
		return http.StatusServiceUnavailable, "staking_paused",
			"Staking is paused right now."
	case errors.Is(err, gateway.ErrUnavailable):
		return http.StatusServiceUnavailable, "gateway_unavailable",
			"The payment provider is not responding. Please try again in a moment."
	case errors.Is(err, services.ErrIntentNotFound):
		return http.StatusNotFound, "not_found", "Invoice not found."
	case errors.Is(err, services.ErrUserNotFound):
		return http.StatusNotFound, "not_found", "User not found."
	case errors.Is(err, services.ErrInvalidWallet),
		errors.Is(err, services.ErrInvalidEmail),
		errors.Is(err, services.ErrInvalidAmount),
		errors.Is(err, services.ErrInvalidClaimType),
		errors.Is(err, services.ErrInvalidRequest):
		return http.StatusBadRequest, "invalid_request", err.Error()
	case errors.Is(err, services.ErrStakeNotOnChain):
		return http.StatusBadRequest, "stake_not_found", err.Error()
	case errors.Is(err, services.ErrInvalidReferralCode),
		errors.Is(err, services.ErrOwnReferralCode),
		errors.Is(err, services.ErrReferralAlreadySet),
		errors.Is(err, services.ErrReferralPaused):
		return http.StatusConflict, "referral_rejected", err.Error()
	}
	return http.StatusInternalServerError, "internal", "Something went wrong, please try again."
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, msg := classify(err)
	entry := log.WithField("path", r.URL.Path).WithField("code", code)
	if status >= http.StatusInternalServerError {
		entry.Error("Request failed: ", err)
	} else {
		entry.Info("Request rejected: ", err)
	}
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}
