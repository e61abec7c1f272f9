package models

import "strings"

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentSuccess   PaymentStatus = "SUCCESS"
	PaymentFailed    PaymentStatus = "FAILED"
	PaymentCancelled PaymentStatus = "CANCELLED"
)

func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case PaymentSuccess, PaymentFailed, PaymentCancelled:
		return true
	}
	return false
}

// NormalizeGatewayStatus maps the free-form status strings reported by the
// payment gateway onto the settlement states. Anything unrecognised stays pending.
func NormalizeGatewayStatus(status string) PaymentStatus {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "succeeded", "success", "paid", "completed", "captured":
		return PaymentSuccess
	case "failed", "failure", "declined", "error", "rejected":
		return PaymentFailed
	case "cancelled", "canceled", "voided", "expired":
		return PaymentCancelled
	}
	return PaymentPending
}

// payment intent metadata keys
const (
	MetaConfirmationQueued = "confirmation_queued"
	MetaErrorKind          = "errorKind"
	MetaLastGatewayStatus  = "lastGatewayStatus"
	MetaWebhookEvent       = "webhookEvent"
)

const (
	ErrorKindTransient = "transient"
	ErrorKindPermanent = "permanent"
)
