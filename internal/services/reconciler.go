package services

import (
	"context"
	"stakeledger/internal/config"
	"stakeledger/internal/metrics"
	"stakeledger/internal/models"
	"stakeledger/internal/notify"

	"github.com/getsentry/sentry-go"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var log = config.InitLogger()

// Reconciliation gap kinds. Each one marks a place where the chain and the
// ledger may disagree and an operator has to look.
const (
	GapClaimRecordFailed        = "claim_record_failed"
	GapAttributionFailed        = "attribution_failed"
	GapCashbackRecordFailed     = "cashback_record_failed"
	GapSettlementAfterChain     = "settlement_after_chain_failed"
	GapSettlementUnconfirmed    = "settlement_unconfirmed"
	GapSettlementTxRecordFailed = "settlement_tx_record_failed"
	GapPaidWithoutStake         = "paid_without_stake"
	GapReferralConfigDrift      = "referral_config_drift"
	GapTransferRecordFailed     = "transfer_record_failed"
	GapSettlementStuck          = "settlement_stuck"
)

type Gap struct {
	Kind      string
	Wallet    string
	Amount    decimal.Decimal
	TxHash    string
	Reference string
	Detail    string
	Err       error
}

type Reconciler struct {
	store    ReconciliationStore
	notifier Notifier
}

func NewReconciler(store ReconciliationStore, notifier Notifier) *Reconciler {
	return &Reconciler{
		store:    store,
		notifier: notifier,
	}
}

// Report records a gap. It never fails: a gap that cannot be persisted is
// still logged and sent to Sentry.
func (r *Reconciler) Report(ctx context.Context, gap Gap) {
	detail := gap.Detail
	if gap.Err != nil {
		if detail != "" {
			detail += ": "
		}
		detail += gap.Err.Error()
	}

	ev := &models.ReconciliationEvent{
		Kind:          gap.Kind,
		WalletAddress: gap.Wallet,
		Amount:        gap.Amount,
		TxHash:        gap.TxHash,
		Reference:     gap.Reference,
		Detail:        detail,
	}

	fields := logrus.Fields{
		"kind":      gap.Kind,
		"wallet":    gap.Wallet,
		"amount":    gap.Amount.String(),
		"txHash":    gap.TxHash,
		"reference": gap.Reference,
	}
	log.WithFields(fields).Error("Reconciliation required: ", detail)
	metrics.ReconciliationEventsTotal.WithLabelValues(gap.Kind).Inc()

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("reconciliation_kind", gap.Kind)
		scope.SetContext("reconciliation", map[string]any(fields))
		if gap.Err != nil {
			sentry.CaptureException(gap.Err)
		} else {
			sentry.CaptureMessage("reconciliation required: " + gap.Kind)
		}
	})

	// the caller's request may already be cancelled; the record matters more
	if err := r.store.Save(context.WithoutCancel(ctx), ev); err != nil {
		log.WithFields(fields).Error("Failed to persist reconciliation event: ", err)
	}

	if r.notifier != nil {
		r.notifier.Dispatch(notify.ReconciliationAlert(ev))
	}
}

func (r *Reconciler) Open(ctx context.Context, limit int) ([]models.ReconciliationEvent, error) {
	return r.store.FindOpen(ctx, limit)
}

func (r *Reconciler) CountOpen(ctx context.Context) (int, error) {
	return r.store.CountOpen(ctx)
}

func (r *Reconciler) Resolve(ctx context.Context, id int64) (bool, error) {
	return r.store.Resolve(ctx, id)
}
