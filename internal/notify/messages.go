package notify

import (
	"fmt"
	"html"
	"stakeledger/internal/models"
	"stakeledger/internal/util"
)

func PaymentConfirmation(intent *models.PaymentIntent, stake *models.Stake) Notification {
	text := fmt.Sprintf(
		"<b>✅ Card payment settled</b>\n\nInvoice: <code>%s</code>\nWallet: <code>%s</code>\nPaid: %s\nStaked: %s tokens for %s\nStake: %s\nTx: <code>%s</code>",
		html.EscapeString(intent.InvoiceId),
		html.EscapeString(intent.WalletAddress),
		util.FormatUSD(intent.USDAmount),
		util.FormatAmount(stake.Amount),
		util.CountLabel(stake.LockDays, util.SuffixDay),
		html.EscapeString(stake.StakeId),
		html.EscapeString(stake.TxHash),
	)
	return Notification{Kind: KindPaymentConfirmation, Reference: intent.InvoiceId, Text: text}
}

func ReconciliationAlert(ev *models.ReconciliationEvent) Notification {
	text := fmt.Sprintf(
		"<b>⚠️ Reconciliation needed: %s</b>\n\nWallet: <code>%s</code>\nAmount: %s\nTx: <code>%s</code>\nRef: %s\n\n%s",
		html.EscapeString(ev.Kind),
		html.EscapeString(ev.WalletAddress),
		util.FormatAmount(ev.Amount),
		html.EscapeString(ev.TxHash),
		html.EscapeString(ev.Reference),
		html.EscapeString(ev.Detail),
	)
	return Notification{Kind: KindReconciliationAlert, Reference: ev.Reference, Text: text}
}
