package chain

import (
	"context"
	"math/big"

	"github.com/shopspring/decimal"
)

// Client is the typed surface of the staking contract. Amounts are token units,
// already converted from wei. Writes return only after the transaction is mined
// and succeeded; a write still pending at the deadline fails with an
// *UnconfirmedError carrying its hash.
type Client interface {
	PendingReward(ctx context.Context, wallet string, stakeIndex int64) (decimal.Decimal, error)
	GetClaimableRewards(ctx context.Context, wallet string) (ClaimableRewards, error)
	TotalStaked(ctx context.Context) (decimal.Decimal, error)
	AvailableRewards(ctx context.Context) (decimal.Decimal, error)
	ContractBalance(ctx context.Context) (decimal.Decimal, error)
	Paused(ctx context.Context) (bool, error)
	GetReferralConfig(ctx context.Context) (ReferralConfig, error)
	GetAmountConfig(ctx context.Context, id int64) (AmountConfig, error)
	GetLockConfig(ctx context.Context, id int64) (LockConfig, error)
	StakeCount(ctx context.Context, wallet string) (int64, error)
	// StakeByTx reads the StakeCreated event of a mined, successful transaction.
	StakeByTx(ctx context.Context, txHash string) (*StakeEvent, error)

	AdminCreateStake(ctx context.Context, req CreateStakeRequest) (*Receipt, error)
	TransferRewards(ctx context.Context, to string, amount decimal.Decimal) (*Receipt, error)
	ClaimInstantRewardsFor(ctx context.Context, wallet string) (*Receipt, error)
	ClaimReferralRewardsFor(ctx context.Context, wallet string) (*Receipt, error)
	ClaimAllRewardsFor(ctx context.Context, wallet string) (*Receipt, error)
	SetReferralConfig(ctx context.Context, cfg ReferralConfig) (*Receipt, error)
}

type ClaimableRewards struct {
	Instant  decimal.Decimal
	Referral decimal.Decimal
}

func (c ClaimableRewards) Total() decimal.Decimal {
	return c.Instant.Add(c.Referral)
}

// ReferralConfig percentages are plain percents (5 means 5%).
type ReferralConfig struct {
	ReferralPercentage decimal.Decimal
	ReferrerPercentage decimal.Decimal
	Paused             bool
}

type AmountConfig struct {
	Id        int64
	USDAmount decimal.Decimal
	Active    bool
}

type LockConfig struct {
	Id       int64
	LockDays int
	APRBps   int64
	Active   bool
}

type CreateStakeRequest struct {
	Wallet           string
	Amount           decimal.Decimal
	LockDays         int
	APRBps           int64
	InstantRewardBps int64
}

type Receipt struct {
	TxHash      string
	BlockNumber uint64
	// StakeIndex is the per-wallet index emitted by StakeCreated, -1 when the
	// transaction did not create a stake.
	StakeIndex int64
}

// StakeEvent is a decoded StakeCreated log.
type StakeEvent struct {
	TxHash           string
	BlockNumber      uint64
	Wallet           string
	StakeIndex       int64
	Amount           decimal.Decimal
	LockDays         int
	APRBps           int64
	InstantRewardBps int64
}

// APY is the stake's APR as a plain percent.
func (e StakeEvent) APY() decimal.Decimal {
	return bpsToPercent(big.NewInt(e.APRBps))
}
