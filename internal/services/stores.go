package services

import (
	"context"
	"stakeledger/internal/gateway"
	"stakeledger/internal/models"
	"stakeledger/internal/notify"
	"time"

	"github.com/shopspring/decimal"
)

// The interfaces below are satisfied by the sqlx repositories. Implementations
// must keep the conditional updates atomic; the services rely on them for
// linearisation instead of in-process locks.

type UserStore interface {
	Create(ctx context.Context, user *models.User) (*models.User, bool, error)
	FindByWallet(ctx context.Context, wallet string) (*models.User, error)
	FindById(ctx context.Context, id int64) (*models.User, error)
	FindByReferralCode(ctx context.Context, code string) (*models.User, error)
	SetReferredBy(ctx context.Context, userId int64, code string) (bool, error)
	SkipReferral(ctx context.Context, userId int64) (bool, error)
}

type StakeStore interface {
	NextStakeId(ctx context.Context) (string, error)
	Save(ctx context.Context, stake *models.Stake) error
	FindByStakeId(ctx context.Context, stakeId string) (*models.Stake, error)
	FindByTxHash(ctx context.Context, txHash string) (*models.Stake, error)
	FindActiveByWallet(ctx context.Context, wallet string) ([]models.Stake, error)
	ActiveWallets(ctx context.Context) ([]string, error)
	CompleteMatured(ctx context.Context, now time.Time) (int64, error)
	ActiveCardPrincipal(ctx context.Context) (decimal.Decimal, int, error)
}

type RewardStore interface {
	Save(ctx context.Context, reward *models.PendingReward) error
	UpsertAPY(ctx context.Context, reward *models.PendingReward) (bool, error)
	FindPending(ctx context.Context, wallet string, types ...models.RewardType) ([]models.PendingReward, error)
	MarkClaimed(ctx context.Context, wallet string, types []models.RewardType, txHash string, at time.Time) (int64, error)
	Totals(ctx context.Context, wallet string) (decimal.Decimal, decimal.Decimal, error)
	SumPending(ctx context.Context, types ...models.RewardType) (decimal.Decimal, error)
}

type ReferralStore interface {
	AddEarnings(ctx context.Context, referrerId, referredId int64, amount decimal.Decimal) (*models.Referral, error)
	FindByReferrer(ctx context.Context, referrerId int64) ([]models.Referral, error)
}

type ReferralConfigStore interface {
	Get(ctx context.Context) (*models.ReferralConfig, error)
	Save(ctx context.Context, cfg *models.ReferralConfig) error
}

type PaymentIntentStore interface {
	Save(ctx context.Context, intent *models.PaymentIntent) error
	FindByInvoiceId(ctx context.Context, invoiceId string) (*models.PaymentIntent, error)
	SetGatewayIntent(ctx context.Context, invoiceId, gatewayIntentId string) error
	ClaimSettlement(ctx context.Context, invoiceId string, at time.Time) (bool, error)
	ReleaseSettlement(ctx context.Context, invoiceId string) error
	MarkSuccess(ctx context.Context, invoiceId, stakeId, txHash string) (bool, error)
	MarkTerminal(ctx context.Context, invoiceId string, status models.PaymentStatus, errMsg, txHash string, meta models.Metadata) (bool, error)
	MarkDeclined(ctx context.Context, invoiceId string, status models.PaymentStatus, meta models.Metadata) (bool, error)
	MergeMetadata(ctx context.Context, invoiceId string, meta models.Metadata) error
	SetFlagOnce(ctx context.Context, invoiceId, key string) (bool, error)
	FindStalePending(ctx context.Context, before time.Time, limit int) ([]models.PaymentIntent, error)
	FindStuckSettlements(ctx context.Context, before time.Time) ([]models.PaymentIntent, error)
}

type TransactionStore interface {
	Save(ctx context.Context, t *models.Transaction) (bool, error)
}

type ReconciliationStore interface {
	Save(ctx context.Context, ev *models.ReconciliationEvent) error
	FindOpen(ctx context.Context, limit int) ([]models.ReconciliationEvent, error)
	CountOpen(ctx context.Context) (int, error)
	Resolve(ctx context.Context, id int64) (bool, error)
}

type PaymentGateway interface {
	CreateIntent(ctx context.Context, req *gateway.CreateIntentRequest) (*gateway.Intent, error)
	GetIntent(ctx context.Context, intentId string) (*gateway.Intent, error)
}

type Notifier interface {
	Dispatch(n notify.Notification) bool
}

// CacheInvalidator drops derived treasury figures after money moves.
type CacheInvalidator interface {
	Invalidate(ctx context.Context)
}
