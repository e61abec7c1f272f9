package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"stakeledger/internal/chain"
	"stakeledger/internal/gateway"
	"stakeledger/internal/metrics"
	"stakeledger/internal/models"
	"stakeledger/internal/notify"
	"stakeledger/internal/repositories"
	"stakeledger/internal/util"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	TriggerPoll    = "poll"
	TriggerWebhook = "webhook"
	TriggerSweep   = "sweep"

	// metadata keys private to settlement
	metaStuckReported     = "stuck_reported"
	metaPaidAfterTerminal = "paid_after_terminal_reported"
	metaSettlementStage   = "failedStage"
)

const (
	tokenDecimals          = 18
	stalePendingBatchLimit = 100
)

type PaymentOptions struct {
	TokenUSDPrice  decimal.Decimal
	GatewayTimeout time.Duration
	Currency       string
}

type InvoiceRequest struct {
	Wallet         string `json:"walletAddress"`
	Email          string `json:"email"`
	Name           string `json:"name"`
	AmountConfigId int64  `json:"amountConfigId"`
	LockConfigId   int64  `json:"lockConfigId"`
}

type Invoice struct {
	InvoiceId   string               `json:"invoiceId"`
	IntentId    string               `json:"intentId"`
	CheckoutURL string               `json:"checkoutUrl,omitempty"`
	Status      models.PaymentStatus `json:"status"`
	USDAmount   decimal.Decimal      `json:"usdAmount"`
	TokenAmount decimal.Decimal      `json:"nilaAmount"`
}

// SettlementResult is what every settlement trigger reports back.
type SettlementResult struct {
	InvoiceId   string               `json:"invoiceId"`
	Status      models.PaymentStatus `json:"status"`
	StakeId     string               `json:"stakeId,omitempty"`
	TxHash      string               `json:"txHash,omitempty"`
	TokenAmount decimal.Decimal      `json:"nilaAmount"`
	// Processing is set while another trigger is settling the invoice.
	Processing bool `json:"processing,omitempty"`
	// Degraded is set when the stake exists on chain but a local record
	// could not be written.
	Degraded bool   `json:"degraded,omitempty"`
	Error    string `json:"error,omitempty"`
}

type SweepResult struct {
	Checked  int `json:"checked"`
	Settled  int `json:"settled"`
	Declined int `json:"declined"`
	Pending  int `json:"pending"`
	Failed   int `json:"failed"`
	Stuck    int `json:"stuck"`
}

type PaymentService struct {
	intents    PaymentIntentStore
	users      *UserService
	stakes     *StakeService
	txRepo     TransactionStore
	gateway    PaymentGateway
	chain      chain.Client
	reconciler *Reconciler
	notifier   Notifier
	treasury   CacheInvalidator
	clock      clockwork.Clock
	opts       PaymentOptions
}

func NewPaymentService(
	intents PaymentIntentStore,
	users *UserService,
	stakes *StakeService,
	txRepo TransactionStore,
	gw PaymentGateway,
	chainCli chain.Client,
	reconciler *Reconciler,
	notifier Notifier,
	treasury CacheInvalidator,
	clock clockwork.Clock,
	opts PaymentOptions,
) *PaymentService {
	if opts.Currency == "" {
		opts.Currency = "USD"
	}
	if opts.GatewayTimeout <= 0 {
		opts.GatewayTimeout = 30 * time.Second
	}
	return &PaymentService{
		intents:    intents,
		users:      users,
		stakes:     stakes,
		txRepo:     txRepo,
		gateway:    gw,
		chain:      chainCli,
		reconciler: reconciler,
		notifier:   notifier,
		treasury:   treasury,
		clock:      clock,
		opts:       opts,
	}
}

// CreateInvoice seeds a PENDING intent and opens a payment on the gateway. A
// gateway failure never leaves the intent pending: it is marked FAILED with
// the error kind so the caller knows whether to retry.
func (s *PaymentService) CreateInvoice(ctx context.Context, req InvoiceRequest) (*Invoice, error) {
	wallet, err := ValidateWallet(req.Wallet)
	if err != nil {
		return nil, err
	}
	email := strings.TrimSpace(req.Email)
	if _, err := mail.ParseAddress(email); err != nil || email == "" {
		return nil, ErrInvalidEmail
	}
	if req.AmountConfigId <= 0 || req.LockConfigId <= 0 {
		return nil, fmt.Errorf("%w: amount and lock configuration are required", ErrInvalidConfiguration)
	}

	paused, err := s.chain.Paused(ctx)
	if err != nil {
		return nil, err
	}
	if paused {
		return nil, ErrContractPaused
	}

	amountCfg, err := s.chain.GetAmountConfig(ctx, req.AmountConfigId)
	if err != nil {
		return nil, err
	}
	if !amountCfg.Active || !amountCfg.USDAmount.IsPositive() {
		return nil, fmt.Errorf("%w: amount option %d is not active", ErrInvalidConfiguration, req.AmountConfigId)
	}
	lockCfg, err := s.chain.GetLockConfig(ctx, req.LockConfigId)
	if err != nil {
		return nil, err
	}
	if !lockCfg.Active || lockCfg.LockDays <= 0 {
		return nil, fmt.Errorf("%w: lock option %d is not active", ErrInvalidConfiguration, req.LockConfigId)
	}

	if _, err := s.users.GetOrCreate(ctx, wallet); err != nil {
		return nil, err
	}

	intent := &models.PaymentIntent{
		InvoiceId:      "INV-" + uuid.NewString(),
		WalletAddress:  wallet,
		Email:          email,
		Name:           strings.TrimSpace(req.Name),
		USDAmount:      amountCfg.USDAmount,
		TokenAmount:    s.tokensFor(amountCfg.USDAmount),
		AmountConfigId: req.AmountConfigId,
		LockConfigId:   req.LockConfigId,
		Status:         models.PaymentPending,
		Metadata:       models.Metadata{},
	}
	if err := s.intents.Save(ctx, intent); err != nil {
		return nil, err
	}

	fields := logrus.Fields{
		"invoiceId": intent.InvoiceId,
		"wallet":    wallet,
		"usd":       intent.USDAmount.String(),
	}

	gctx, cancel := context.WithTimeout(ctx, s.opts.GatewayTimeout)
	defer cancel()

	gi, err := s.gateway.CreateIntent(gctx, &gateway.CreateIntentRequest{
		ReferenceId: intent.InvoiceId,
		Amount:      intent.USDAmount,
		Currency:    s.opts.Currency,
		Email:       intent.Email,
		Name:        intent.Name,
		Metadata: map[string]string{
			"invoice_id": intent.InvoiceId,
			"wallet":     wallet,
		},
	})
	if err != nil {
		kind := models.ErrorKindPermanent
		if gateway.IsTransient(err) || errors.Is(gctx.Err(), context.DeadlineExceeded) {
			kind = models.ErrorKindTransient
		}
		log.WithFields(fields).WithField("errorKind", kind).Error("Failed to create gateway intent: ", err)

		if _, merr := s.intents.MarkTerminal(context.WithoutCancel(ctx), intent.InvoiceId, models.PaymentFailed, err.Error(), "",
			models.Metadata{models.MetaErrorKind: kind}); merr != nil {
			log.WithFields(fields).Error("Failed to mark intent failed: ", merr)
		}

		if kind == models.ErrorKindTransient {
			return nil, fmt.Errorf("%w: %v", gateway.ErrUnavailable, err)
		}
		return nil, err
	}

	if err := s.intents.SetGatewayIntent(ctx, intent.InvoiceId, gi.Id); err != nil {
		// the webhook still finds the intent by reference id
		log.WithFields(fields).Warn("Failed to store gateway intent id: ", err)
	}

	log.WithFields(fields).WithField("intentId", gi.Id).Info("Invoice created")

	return &Invoice{
		InvoiceId:   intent.InvoiceId,
		IntentId:    gi.Id,
		CheckoutURL: gi.CheckoutURL,
		Status:      intent.Status,
		USDAmount:   intent.USDAmount,
		TokenAmount: intent.TokenAmount,
	}, nil
}

// Verify is the poll trigger: it asks the gateway for the payment status and
// settles the invoice when it is paid. Safe to call repeatedly.
func (s *PaymentService) Verify(ctx context.Context, intentId, invoiceId string) (*SettlementResult, error) {
	invoiceId = strings.TrimSpace(invoiceId)
	if invoiceId == "" {
		return nil, fmt.Errorf("%w: invoice id is required", ErrInvalidRequest)
	}

	intent, err := s.intents.FindByInvoiceId(ctx, invoiceId)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, ErrIntentNotFound
	}
	if err != nil {
		return nil, err
	}

	if intent.Status.IsTerminal() {
		metrics.SettlementsTotal.WithLabelValues(TriggerPoll, "already_settled").Inc()
		return resultOf(intent), nil
	}

	gatewayId := intent.GatewayIntentId
	if gatewayId == "" {
		gatewayId = strings.TrimSpace(intentId)
	}
	if gatewayId == "" {
		return nil, fmt.Errorf("%w: intent id is required", ErrInvalidRequest)
	}

	gctx, cancel := context.WithTimeout(ctx, s.opts.GatewayTimeout)
	defer cancel()

	gi, err := s.gateway.GetIntent(gctx, gatewayId)
	if err != nil {
		if gateway.IsTransient(err) || errors.Is(gctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", gateway.ErrUnavailable, err)
		}
		return nil, err
	}
	if gi.ReferenceId != "" && gi.ReferenceId != intent.InvoiceId {
		return nil, fmt.Errorf("%w: intent %s belongs to another invoice", ErrInvalidRequest, gatewayId)
	}

	return s.settle(ctx, intent, models.NormalizeGatewayStatus(gi.Status), TriggerPoll, models.Metadata{
		models.MetaLastGatewayStatus: gi.Status,
	})
}

// HandleWebhook is the push trigger. It never returns an error: the gateway
// must always get an acknowledgement, and the real outcome is logged.
func (s *PaymentService) HandleWebhook(ctx context.Context, ev *gateway.WebhookEvent) *SettlementResult {
	invoiceId := strings.TrimSpace(ev.ReferenceId)
	fields := logrus.Fields{
		"event":     ev.Event,
		"invoiceId": invoiceId,
		"intentId":  ev.IntentId,
		"status":    ev.Status,
	}
	log.WithFields(fields).Info("Payment webhook received")

	if invoiceId == "" {
		log.WithFields(fields).Warn("Webhook without reference id dropped")
		return &SettlementResult{Error: "missing reference id"}
	}

	intent, err := s.intents.FindByInvoiceId(ctx, invoiceId)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			log.WithFields(fields).Warn("Webhook for unknown invoice dropped")
		} else {
			log.WithFields(fields).Error("Failed to load intent for webhook: ", err)
			sentry.CaptureException(err)
		}
		return &SettlementResult{InvoiceId: invoiceId, Error: err.Error()}
	}

	res, err := s.settle(ctx, intent, models.NormalizeGatewayStatus(ev.Status), TriggerWebhook, models.Metadata{
		models.MetaLastGatewayStatus: ev.Status,
		models.MetaWebhookEvent:      ev.Event,
	})
	if err != nil {
		log.WithFields(fields).Error("Webhook settlement failed: ", err)
		sentry.WithScope(func(scope *sentry.Scope) {
			scope.SetTag("invoice_id", invoiceId)
			scope.SetTag("trigger", TriggerWebhook)
			sentry.CaptureException(err)
		})
		if res == nil {
			res = resultOf(intent)
		}
		res.Error = err.Error()
	}
	return res
}

// SweepStale polls the gateway for intents left PENDING longer than
// olderThan and reports settlements that started but never finished.
func (s *PaymentService) SweepStale(ctx context.Context, olderThan time.Duration) (*SweepResult, error) {
	cutoff := s.clock.Now().Add(-olderThan)
	res := &SweepResult{}

	stale, err := s.intents.FindStalePending(ctx, cutoff, stalePendingBatchLimit)
	if err != nil {
		return nil, err
	}

	for i := range stale {
		intent := &stale[i]
		res.Checked++
		if intent.GatewayIntentId == "" {
			res.Pending++
			continue
		}

		gctx, cancel := context.WithTimeout(ctx, s.opts.GatewayTimeout)
		gi, err := s.gateway.GetIntent(gctx, intent.GatewayIntentId)
		cancel()
		if err != nil {
			log.WithField("invoiceId", intent.InvoiceId).Warn("Sweep failed to poll gateway: ", err)
			res.Failed++
			continue
		}

		out, err := s.settle(ctx, intent, models.NormalizeGatewayStatus(gi.Status), TriggerSweep, models.Metadata{
			models.MetaLastGatewayStatus: gi.Status,
		})
		switch {
		case err != nil:
			log.WithField("invoiceId", intent.InvoiceId).Error("Sweep settlement failed: ", err)
			res.Failed++
		case out.Status == models.PaymentSuccess:
			res.Settled++
		case out.Status.IsTerminal():
			res.Declined++
		default:
			res.Pending++
		}
	}

	stuck, err := s.intents.FindStuckSettlements(ctx, cutoff)
	if err != nil {
		return res, err
	}
	for i := range stuck {
		intent := &stuck[i]
		res.Stuck++
		first, err := s.intents.SetFlagOnce(ctx, intent.InvoiceId, metaStuckReported)
		if err != nil || !first {
			continue
		}
		s.reconciler.Report(ctx, Gap{
			Kind:      GapSettlementStuck,
			Wallet:    intent.WalletAddress,
			Amount:    intent.TokenAmount,
			Reference: intent.InvoiceId,
			Detail:    "settlement started at " + intent.SettlementStartedAt.Time.UTC().Format(time.RFC3339) + " and never finished",
		})
	}

	if res.Checked > 0 || res.Stuck > 0 {
		log.WithFields(logrus.Fields{
			"checked":  res.Checked,
			"settled":  res.Settled,
			"declined": res.Declined,
			"pending":  res.Pending,
			"failed":   res.Failed,
			"stuck":    res.Stuck,
		}).Info("Payment sweep finished")
	}
	return res, nil
}

// settle applies a normalised gateway status to the intent. All triggers share
// it; only the caller that wins ClaimSettlement creates the stake.
func (s *PaymentService) settle(ctx context.Context, intent *models.PaymentIntent, status models.PaymentStatus, trigger string, meta models.Metadata) (*SettlementResult, error) {
	fields := logrus.Fields{
		"invoiceId": intent.InvoiceId,
		"wallet":    intent.WalletAddress,
		"trigger":   trigger,
		"status":    status,
	}

	if intent.Status == models.PaymentSuccess {
		metrics.SettlementsTotal.WithLabelValues(trigger, "already_settled").Inc()
		return resultOf(intent), nil
	}

	if intent.Status.IsTerminal() {
		if status == models.PaymentSuccess {
			s.reportPaidAfterTerminal(ctx, intent)
		}
		metrics.SettlementsTotal.WithLabelValues(trigger, "already_settled").Inc()
		return resultOf(intent), nil
	}

	switch status {
	case models.PaymentPending:
		metrics.SettlementsTotal.WithLabelValues(trigger, "pending").Inc()
		return resultOf(intent), nil

	case models.PaymentFailed, models.PaymentCancelled:
		ok, err := s.intents.MarkDeclined(ctx, intent.InvoiceId, status, meta)
		if err != nil {
			return nil, err
		}
		if !ok {
			return s.current(ctx, intent.InvoiceId, trigger)
		}
		log.WithFields(fields).Info("Payment declined by gateway")
		metrics.SettlementsTotal.WithLabelValues(trigger, strings.ToLower(string(status))).Inc()
		intent.Status = status
		return resultOf(intent), nil

	case models.PaymentSuccess:
		won, err := s.intents.ClaimSettlement(ctx, intent.InvoiceId, s.clock.Now())
		if err != nil {
			return nil, err
		}
		if !won {
			return s.current(ctx, intent.InvoiceId, trigger)
		}
		return s.settleSuccess(ctx, intent, trigger, meta)
	}

	return nil, fmt.Errorf("%w: unsupported status %q", ErrInvalidRequest, status)
}

// settleSuccess runs with the settlement claim held. Before the on-chain write
// a failure releases the claim; after it nothing is retried.
func (s *PaymentService) settleSuccess(ctx context.Context, intent *models.PaymentIntent, trigger string, meta models.Metadata) (*SettlementResult, error) {
	fields := logrus.Fields{
		"invoiceId": intent.InvoiceId,
		"wallet":    intent.WalletAddress,
		"trigger":   trigger,
	}

	release := func(cause error) (*SettlementResult, error) {
		if err := s.intents.ReleaseSettlement(context.WithoutCancel(ctx), intent.InvoiceId); err != nil {
			log.WithFields(fields).Error("Failed to release settlement claim: ", err)
		}
		metrics.SettlementsTotal.WithLabelValues(trigger, "retry").Inc()
		return nil, cause
	}

	amountCfg, err := s.chain.GetAmountConfig(ctx, intent.AmountConfigId)
	if err != nil {
		return release(err)
	}
	lockCfg, err := s.chain.GetLockConfig(ctx, intent.LockConfigId)
	if err != nil {
		return release(err)
	}
	if !lockCfg.Active || lockCfg.LockDays <= 0 {
		cause := fmt.Errorf("%w: lock option %d is not active", ErrInvalidConfiguration, intent.LockConfigId)
		return s.failBeforeChain(ctx, intent, trigger, cause)
	}
	if !amountCfg.USDAmount.Equal(intent.USDAmount) {
		log.WithFields(fields).Warnf("Amount option changed since invoice (%s now, %s paid), staking what was paid",
			amountCfg.USDAmount, intent.USDAmount)
	}

	user, err := s.users.GetOrCreate(ctx, intent.WalletAddress)
	if err != nil {
		return release(err)
	}

	tokens := s.tokensFor(intent.USDAmount)
	receipt, err := s.chain.AdminCreateStake(ctx, chain.CreateStakeRequest{
		Wallet:           intent.WalletAddress,
		Amount:           tokens,
		LockDays:         lockCfg.LockDays,
		APRBps:           lockCfg.APRBps,
		InstantRewardBps: 0,
	})
	if err != nil {
		var unconfirmed *chain.UnconfirmedError
		if errors.As(err, &unconfirmed) {
			return s.failUnconfirmed(context.WithoutCancel(ctx), intent, trigger, tokens, unconfirmed), nil
		}
		return s.failBeforeChain(ctx, intent, trigger, err)
	}

	// the stake exists on chain from here on; local writes must not be cut short
	rctx := context.WithoutCancel(ctx)
	fields["txHash"] = receipt.TxHash
	fields["amount"] = tokens.String()
	log.WithFields(fields).Info("Admin stake created on chain")

	stake, err := s.stakes.CreateCardStake(rctx, CardStakeRequest{
		User:       user,
		Amount:     tokens,
		APY:        util.BpsToPercent(lockCfg.APRBps),
		LockDays:   lockCfg.LockDays,
		Plan:       fmt.Sprintf("card-%d", lockCfg.Id),
		TxHash:     receipt.TxHash,
		StakeIndex: receipt.StakeIndex,
	})
	if err != nil {
		return s.failAfterChain(rctx, intent, trigger, receipt, tokens, "persist_stake", err), nil
	}

	ok, err := s.intents.MarkSuccess(rctx, intent.InvoiceId, stake.StakeId, receipt.TxHash)
	if err != nil {
		return s.failAfterChain(rctx, intent, trigger, receipt, tokens, "mark_success", err), nil
	}
	if !ok {
		return s.failAfterChain(rctx, intent, trigger, receipt, tokens, "mark_success",
			errors.New("intent left PENDING while settlement was running")), nil
	}
	if len(meta) > 0 {
		if err := s.intents.MergeMetadata(rctx, intent.InvoiceId, meta); err != nil {
			log.WithFields(fields).Warn("Failed to store gateway metadata: ", err)
		}
	}

	intent.Status = models.PaymentSuccess
	intent.StakeId = sql.NullString{String: stake.StakeId, Valid: true}
	intent.TxHash = sql.NullString{String: receipt.TxHash, Valid: true}
	intent.TokenAmount = tokens
	res := resultOf(intent)

	if _, err := s.txRepo.Save(rctx, &models.Transaction{
		UserId:        sql.NullInt64{Int64: user.Id, Valid: true},
		WalletAddress: intent.WalletAddress,
		TxType:        models.TX_CARD_SETTLEMENT,
		Amount:        tokens,
		TxHash:        receipt.TxHash,
		BlockNumber:   receipt.BlockNumber,
		InvoiceId:     sql.NullString{String: intent.InvoiceId, Valid: true},
	}); err != nil {
		res.Degraded = true
		s.reconciler.Report(rctx, Gap{
			Kind:      GapSettlementTxRecordFailed,
			Wallet:    intent.WalletAddress,
			Amount:    tokens,
			TxHash:    receipt.TxHash,
			Reference: intent.InvoiceId,
			Err:       err,
		})
	}

	s.queueConfirmation(rctx, intent, stake)
	s.invalidate(rctx)

	log.WithFields(fields).WithField("stakeId", stake.StakeId).Info("Payment settled")
	metrics.SettlementsTotal.WithLabelValues(trigger, "success").Inc()
	return res, nil
}

// failBeforeChain ends a settlement whose on-chain stake was not created. The
// customer has paid, so it is always a reconciliation event.
func (s *PaymentService) failBeforeChain(ctx context.Context, intent *models.PaymentIntent, trigger string, cause error) (*SettlementResult, error) {
	rctx := context.WithoutCancel(ctx)
	meta := models.Metadata{
		models.MetaErrorKind:  models.ErrorKindPermanent,
		metaPaidAfterTerminal: true,
	}
	if chain.IsTransient(cause) {
		meta[models.MetaErrorKind] = models.ErrorKindTransient
	}

	if _, err := s.intents.MarkTerminal(rctx, intent.InvoiceId, models.PaymentFailed, cause.Error(), "", meta); err != nil {
		log.WithField("invoiceId", intent.InvoiceId).Error("Failed to mark intent failed: ", err)
	}
	s.reconciler.Report(rctx, Gap{
		Kind:      GapPaidWithoutStake,
		Wallet:    intent.WalletAddress,
		Amount:    intent.USDAmount,
		Reference: intent.InvoiceId,
		Detail:    "payment captured but no stake was created",
		Err:       cause,
	})
	metrics.SettlementsTotal.WithLabelValues(trigger, "failed").Inc()

	intent.Status = models.PaymentFailed
	intent.Error = sql.NullString{String: cause.Error(), Valid: true}
	res := resultOf(intent)
	return res, cause
}

// failAfterChain ends a settlement whose stake exists on chain but could not
// be fully recorded. The chain write is never repeated.
func (s *PaymentService) failAfterChain(ctx context.Context, intent *models.PaymentIntent, trigger string, receipt *chain.Receipt, tokens decimal.Decimal, stage string, cause error) *SettlementResult {
	return s.failWithStake(ctx, intent, trigger, receipt, tokens, stage, cause,
		GapSettlementAfterChain, "stake created on chain, local record failed at "+stage)
}

// failUnconfirmed ends a settlement whose stake transaction was broadcast but
// not seen mined in time. The stake may already exist, so it is never resubmitted.
func (s *PaymentService) failUnconfirmed(ctx context.Context, intent *models.PaymentIntent, trigger string, tokens decimal.Decimal, cause *chain.UnconfirmedError) *SettlementResult {
	receipt := &chain.Receipt{TxHash: cause.TxHash, StakeIndex: -1}
	return s.failWithStake(ctx, intent, trigger, receipt, tokens, "confirm", cause,
		GapSettlementUnconfirmed, "stake transaction not confirmed in time, stake may already exist on chain")
}

func (s *PaymentService) failWithStake(ctx context.Context, intent *models.PaymentIntent, trigger string, receipt *chain.Receipt, tokens decimal.Decimal, stage string, cause error, kind, detail string) *SettlementResult {
	meta := models.Metadata{
		models.MetaErrorKind:  models.ErrorKindPermanent,
		models.MetaStakeIndex: receipt.StakeIndex,
		metaSettlementStage:   stage,
		metaPaidAfterTerminal: true,
	}
	if _, err := s.intents.MarkTerminal(ctx, intent.InvoiceId, models.PaymentFailed, cause.Error(), receipt.TxHash, meta); err != nil {
		log.WithField("invoiceId", intent.InvoiceId).Error("Failed to mark intent failed: ", err)
	}
	s.reconciler.Report(ctx, Gap{
		Kind:      kind,
		Wallet:    intent.WalletAddress,
		Amount:    tokens,
		TxHash:    receipt.TxHash,
		Reference: intent.InvoiceId,
		Detail:    detail,
		Err:       cause,
	})
	metrics.SettlementsTotal.WithLabelValues(trigger, "reconciliation").Inc()
	s.invalidate(ctx)

	return &SettlementResult{
		InvoiceId:   intent.InvoiceId,
		Status:      models.PaymentFailed,
		TxHash:      receipt.TxHash,
		TokenAmount: tokens,
		Degraded:    true,
		Error:       cause.Error(),
	}
}

// reportPaidAfterTerminal flags a success notice for an intent that had
// already failed or been cancelled: the customer may have paid with no stake.
func (s *PaymentService) reportPaidAfterTerminal(ctx context.Context, intent *models.PaymentIntent) {
	first, err := s.intents.SetFlagOnce(ctx, intent.InvoiceId, metaPaidAfterTerminal)
	if err != nil || !first {
		return
	}
	s.reconciler.Report(ctx, Gap{
		Kind:      GapPaidWithoutStake,
		Wallet:    intent.WalletAddress,
		Amount:    intent.USDAmount,
		Reference: intent.InvoiceId,
		Detail:    "gateway reported success for a " + string(intent.Status) + " intent",
	})
}

func (s *PaymentService) queueConfirmation(ctx context.Context, intent *models.PaymentIntent, stake *models.Stake) {
	if s.notifier == nil {
		return
	}
	first, err := s.intents.SetFlagOnce(ctx, intent.InvoiceId, models.MetaConfirmationQueued)
	if err != nil {
		log.WithField("invoiceId", intent.InvoiceId).Warn("Failed to flag confirmation, skipping it: ", err)
		return
	}
	if !first {
		return
	}
	if !s.notifier.Dispatch(notify.PaymentConfirmation(intent, stake)) {
		log.WithField("invoiceId", intent.InvoiceId).Warn("Confirmation dropped, notification queue full")
	}
}

// current reloads the intent after losing a conditional update.
func (s *PaymentService) current(ctx context.Context, invoiceId, trigger string) (*SettlementResult, error) {
	intent, err := s.intents.FindByInvoiceId(ctx, invoiceId)
	if err != nil {
		return nil, err
	}
	res := resultOf(intent)
	if intent.Status == models.PaymentPending {
		res.Processing = intent.SettlementStartedAt.Valid
		metrics.SettlementsTotal.WithLabelValues(trigger, "processing").Inc()
	} else {
		metrics.SettlementsTotal.WithLabelValues(trigger, "already_settled").Inc()
	}
	return res, nil
}

func (s *PaymentService) tokensFor(usd decimal.Decimal) decimal.Decimal {
	return usd.DivRound(s.opts.TokenUSDPrice, tokenDecimals)
}

func (s *PaymentService) invalidate(ctx context.Context) {
	if s.treasury != nil {
		s.treasury.Invalidate(ctx)
	}
}

func resultOf(intent *models.PaymentIntent) *SettlementResult {
	return &SettlementResult{
		InvoiceId:   intent.InvoiceId,
		Status:      intent.Status,
		StakeId:     intent.StakeId.String,
		TxHash:      intent.TxHash.String,
		TokenAmount: intent.TokenAmount,
		Error:       intent.Error.String,
	}
}
