package models

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

type UserStatus string

const (
	UserStatusActive  UserStatus = "active"
	UserStatusFlagged UserStatus = "flagged"
)

type User struct {
	Id              int64          `db:"id" json:"id"`
	WalletAddress   string         `db:"wallet_address" json:"walletAddress"`
	ReferralCode    string         `db:"referral_code" json:"referralCode"`
	ReferredBy      sql.NullString `db:"referred_by" json:"-"`
	ReferralSkipped bool           `db:"referral_skipped" json:"referralSkipped"`
	Status          UserStatus     `db:"status" json:"status"`
	CreatedAt       time.Time      `db:"created_at" json:"createdAt"`
}

type StakeStatus string

const (
	StakeStatusActive    StakeStatus = "active"
	StakeStatusCompleted StakeStatus = "completed"
)

// StakeOrigin tells which path created the stake. Card stakes are admin-created on chain
// and never earn cashback or referral rewards.
type StakeOrigin string

const (
	StakeOriginCrypto StakeOrigin = "crypto"
	StakeOriginCard   StakeOrigin = "card"
)

type Stake struct {
	Id              int64           `db:"id" json:"-"`
	StakeId         string          `db:"stake_id" json:"stakeId"`
	UserId          int64           `db:"user_id" json:"userId"`
	WalletAddress   string          `db:"wallet_address" json:"walletAddress"`
	Amount          decimal.Decimal `db:"amount" json:"amount"`
	APY             decimal.Decimal `db:"apy" json:"apy"`
	LockDays        int             `db:"lock_days" json:"lockDays"`
	StartDate       time.Time       `db:"start_date" json:"startDate"`
	EndDate         time.Time       `db:"end_date" json:"endDate"`
	Plan            string          `db:"plan" json:"plan"`
	Origin          StakeOrigin     `db:"origin" json:"origin"`
	TxHash          string          `db:"tx_hash" json:"txHash"`
	ChainStakeIndex sql.NullInt64   `db:"chain_stake_index" json:"-"`
	Status          StakeStatus     `db:"status" json:"status"`
	CreatedAt       time.Time       `db:"created_at" json:"createdAt"`
}

func (s *Stake) IsMatured(now time.Time) bool {
	return s.Status == StakeStatusActive && !s.EndDate.After(now)
}

type PendingReward struct {
	Id            int64           `db:"id" json:"id"`
	UserId        int64           `db:"user_id" json:"userId"`
	WalletAddress string          `db:"wallet_address" json:"walletAddress"`
	RewardType    RewardType      `db:"reward_type" json:"type"`
	Amount        decimal.Decimal `db:"amount" json:"amount"`
	Status        RewardStatus    `db:"status" json:"status"`
	SourceId      sql.NullString  `db:"source_id" json:"-"`
	Metadata      Metadata        `db:"metadata" json:"metadata"`
	ClaimTxHash   sql.NullString  `db:"claim_tx_hash" json:"-"`
	ClaimedAt     sql.NullTime    `db:"claimed_at" json:"-"`
	CreatedAt     time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updatedAt"`
}

type Referral struct {
	Id             int64           `db:"id" json:"id"`
	ReferrerUserId int64           `db:"referrer_user_id" json:"referrerUserId"`
	ReferredUserId int64           `db:"referred_user_id" json:"referredUserId"`
	Earnings       decimal.Decimal `db:"earnings" json:"earnings"`
	CreatedAt      time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updatedAt"`
}

// ReferralConfig is an off-chain copy of the contract's referral settings.
type ReferralConfig struct {
	ReferralPercentage decimal.Decimal `db:"referral_percentage" json:"referralPercentage"`
	ReferrerPercentage decimal.Decimal `db:"referrer_percentage" json:"referrerPercentage"`
	Paused             bool            `db:"paused" json:"paused"`
	SyncedAt           sql.NullTime    `db:"synced_at" json:"-"`
}

type PaymentIntent struct {
	Id                  int64           `db:"id" json:"-"`
	InvoiceId           string          `db:"invoice_id" json:"invoiceId"`
	GatewayIntentId     string          `db:"gateway_intent_id" json:"intentId"`
	WalletAddress       string          `db:"wallet_address" json:"walletAddress"`
	Email               string          `db:"email" json:"email"`
	Name                string          `db:"name" json:"name"`
	USDAmount           decimal.Decimal `db:"usd_amount" json:"usdAmount"`
	TokenAmount         decimal.Decimal `db:"token_amount" json:"tokenAmount"`
	AmountConfigId      int64           `db:"amount_config_id" json:"amountConfigId"`
	LockConfigId        int64           `db:"lock_config_id" json:"lockConfigId"`
	Status              PaymentStatus   `db:"status" json:"status"`
	SettlementStartedAt sql.NullTime    `db:"settlement_started_at" json:"-"`
	StakeId             sql.NullString  `db:"stake_id" json:"-"`
	TxHash              sql.NullString  `db:"tx_hash" json:"-"`
	Error               sql.NullString  `db:"error" json:"-"`
	Metadata            Metadata        `db:"metadata" json:"metadata"`
	CreatedAt           time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt           time.Time       `db:"updated_at" json:"updatedAt"`
}

// Transaction is the local record of an on-chain write performed or observed by the service.
type Transaction struct {
	Id            int64           `db:"id" json:"id"`
	UserId        sql.NullInt64   `db:"user_id" json:"-"`
	WalletAddress string          `db:"wallet_address" json:"walletAddress"`
	TxType        string          `db:"tx_type" json:"type"`
	Amount        decimal.Decimal `db:"amount" json:"amount"`
	TxHash        string          `db:"tx_hash" json:"txHash"`
	BlockNumber   uint64          `db:"block_number" json:"blockNumber"`
	InvoiceId     sql.NullString  `db:"invoice_id" json:"-"`
	CreatedAt     time.Time       `db:"created_at" json:"createdAt"`
}

type ReconciliationEvent struct {
	Id            int64           `db:"id" json:"id"`
	Kind          string          `db:"kind" json:"kind"`
	WalletAddress string          `db:"wallet_address" json:"walletAddress"`
	Amount        decimal.Decimal `db:"amount" json:"amount"`
	TxHash        string          `db:"tx_hash" json:"txHash"`
	Reference     string          `db:"reference" json:"reference"`
	Detail        string          `db:"detail" json:"detail"`
	CreatedAt     time.Time       `db:"created_at" json:"createdAt"`
	ResolvedAt    sql.NullTime    `db:"resolved_at" json:"-"`
}
