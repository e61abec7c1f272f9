package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"stakeledger/internal/gateway"
	"stakeledger/internal/services"
)

type verifyRequest struct {
	IntentId  string `json:"intent_id"`
	InvoiceId string `json:"invoice_id"`
}

type verifyResponse struct {
	Success bool `json:"success"`
	*services.SettlementResult
}

type webhookResponse struct {
	Success   bool   `json:"success"`
	Received  bool   `json:"received"`
	InvoiceId string `json:"invoiceId,omitempty"`
	Status    string `json:"status,omitempty"`
}

func (a *API) createInvoice(w http.ResponseWriter, r *http.Request) {
	var req services.InvoiceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	inv, err := a.Payments.CreateInvoice(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "invoice": inv})
}

func (a *API) verifyPayment(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := a.Payments.Verify(r.Context(), req.IntentId, req.InvoiceId)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, verifyResponse{Success: res.Error == "", SettlementResult: res})
}

// paymentWebhook acknowledges every authentic delivery with 200 so the
// gateway does not retry; only a bad signature is refused.
func (a *API) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		log.Warn("Failed to read webhook body: ", err)
		writeJSON(w, http.StatusOK, webhookResponse{Received: true})
		return
	}

	if a.WebhookSecret != "" && !gateway.VerifySignature(a.WebhookSecret, body, r.Header.Get(gateway.SignatureHeader)) {
		log.Warn("Webhook rejected: bad signature")
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid signature", Code: "unauthorized"})
		return
	}

	var ev gateway.WebhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		log.Warn("Webhook body is not valid JSON: ", err)
		writeJSON(w, http.StatusOK, webhookResponse{Received: true})
		return
	}

	res := a.Payments.HandleWebhook(r.Context(), &ev)
	resp := webhookResponse{Received: true}
	if res != nil {
		resp.Success = res.Error == ""
		resp.InvoiceId = res.InvoiceId
		resp.Status = string(res.Status)
	}
	writeJSON(w, http.StatusOK, resp)
}
