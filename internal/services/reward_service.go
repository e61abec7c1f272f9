package services

import (
	"context"
	"database/sql"
	"fmt"
	"stakeledger/internal/chain"
	"stakeledger/internal/metrics"
	"stakeledger/internal/models"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	SourceLedger   = "ledger"
	SourceContract = "from contract"
)

type PendingLine struct {
	Type      models.RewardType `json:"type"`
	Amount    decimal.Decimal   `json:"amount"`
	SourceId  string            `json:"sourceId,omitempty"`
	Source    string            `json:"source"`
	CreatedAt *time.Time        `json:"createdAt,omitempty"`
}

type PendingSummary struct {
	Wallet    string          `json:"walletAddress"`
	Breakdown []PendingLine   `json:"breakdown"`
	Instant   decimal.Decimal `json:"instant"`
	Staking   decimal.Decimal `json:"staking"`
	Referral  decimal.Decimal `json:"referral"`
	Total     decimal.Decimal `json:"total"`
	// ContractReadFailed is set when the claimable amounts could not be read
	// and the summary holds ledger rows only.
	ContractReadFailed bool `json:"contractReadFailed"`
}

type LifetimeEarnings struct {
	Wallet  string          `json:"walletAddress"`
	Claimed decimal.Decimal `json:"claimed"`
	Pending decimal.Decimal `json:"pending"`
}

// ClaimRecord describes an on-chain claim that already happened.
type ClaimRecord struct {
	Wallet         string
	Type           models.ClaimType
	TxHash         string
	BlockNumber    uint64
	InstantAmount  decimal.Decimal
	ReferralAmount decimal.Decimal
}

type ClaimOutcome struct {
	Marked   int64  `json:"marked"`
	Recorded bool   `json:"recorded"`
	Reason   string `json:"reason,omitempty"`
}

type ClaimResult struct {
	TxHash      string `json:"txHash"`
	BlockNumber uint64 `json:"blockNumber"`
	Marked      int64  `json:"marked"`
	// Degraded means the claim went through on chain but the ledger could not
	// be updated; a reconciliation event was raised.
	Degraded bool `json:"degraded"`
}

type SyncResult struct {
	Wallet  string `json:"walletAddress"`
	Created int    `json:"created"`
	Updated int    `json:"updated"`
	Skipped int    `json:"skipped"`
	Failed  int    `json:"failed"`
}

type RewardService struct {
	rewardRepo RewardStore
	stakeRepo  StakeStore
	userRepo   UserStore
	txRepo     TransactionStore
	chain      chain.Client
	reconciler *Reconciler
	treasury   CacheInvalidator
	clock      clockwork.Clock
}

func NewRewardService(
	rewardRepo RewardStore,
	stakeRepo StakeStore,
	userRepo UserStore,
	txRepo TransactionStore,
	chainCli chain.Client,
	reconciler *Reconciler,
	treasury CacheInvalidator,
	clock clockwork.Clock,
) *RewardService {
	return &RewardService{
		rewardRepo: rewardRepo,
		stakeRepo:  stakeRepo,
		userRepo:   userRepo,
		txRepo:     txRepo,
		chain:      chainCli,
		reconciler: reconciler,
		treasury:   treasury,
		clock:      clock,
	}
}

// RecordReward adds a pending ledger row. It does not merge with existing rows.
func (s *RewardService) RecordReward(ctx context.Context, user *models.User, rewardType models.RewardType, amount decimal.Decimal, sourceId string, meta models.Metadata) (*models.PendingReward, error) {
	if user == nil {
		return nil, ErrUserNotFound
	}
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	switch rewardType {
	case models.RewardInstantCashback, models.RewardAPY, models.RewardReferral:
	default:
		return nil, fmt.Errorf("%w: reward type %q", ErrInvalidRequest, rewardType)
	}

	reward := &models.PendingReward{
		UserId:        user.Id,
		WalletAddress: user.WalletAddress,
		RewardType:    rewardType,
		Amount:        amount,
		Status:        models.RewardStatusPending,
		Metadata:      meta,
	}
	if sourceId != "" {
		reward.SourceId = sql.NullString{String: sourceId, Valid: true}
	}
	if reward.Metadata == nil {
		reward.Metadata = models.Metadata{}
	}

	if err := s.rewardRepo.Save(ctx, reward); err != nil {
		return nil, fmt.Errorf("failed to record %s reward: %w", rewardType, err)
	}

	log.WithFields(logrus.Fields{
		"wallet": user.WalletAddress,
		"type":   rewardType,
		"amount": amount.String(),
		"source": sourceId,
	}).Info("Recorded pending reward")

	return reward, nil
}

// GetPendingSummary merges pending ledger rows with the claimable amounts the
// contract reports. When the ledger holds no instant or referral rows but the
// contract has a claimable balance, a synthetic line stands in for it.
func (s *RewardService) GetPendingSummary(ctx context.Context, wallet string) (*PendingSummary, error) {
	wallet, err := ValidateWallet(wallet)
	if err != nil {
		return nil, err
	}

	summary := &PendingSummary{
		Wallet:    wallet,
		Breakdown: []PendingLine{},
	}

	claimable, err := s.chain.GetClaimableRewards(ctx, wallet)
	if err != nil {
		log.WithField("wallet", wallet).Warn("Failed to read claimable rewards, using ledger only: ", err)
		summary.ContractReadFailed = true
	}

	rows, err := s.rewardRepo.FindPending(ctx, wallet, models.RewardInstantCashback, models.RewardAPY, models.RewardReferral)
	if err != nil {
		return nil, err
	}

	var hasInstant, hasReferral bool
	for i := range rows {
		row := rows[i]
		line := PendingLine{
			Type:      row.RewardType,
			Amount:    row.Amount,
			SourceId:  row.SourceId.String,
			Source:    SourceLedger,
			CreatedAt: &row.CreatedAt,
		}
		switch row.RewardType {
		case models.RewardInstantCashback:
			hasInstant = true
			summary.Instant = summary.Instant.Add(row.Amount)
		case models.RewardAPY:
			summary.Staking = summary.Staking.Add(row.Amount)
		case models.RewardReferral:
			hasReferral = true
			summary.Referral = summary.Referral.Add(row.Amount)
		}
		summary.Breakdown = append(summary.Breakdown, line)
	}

	if !summary.ContractReadFailed {
		if !hasInstant && claimable.Instant.IsPositive() {
			summary.Breakdown = append(summary.Breakdown, PendingLine{
				Type:   models.RewardInstantCashback,
				Amount: claimable.Instant,
				Source: SourceContract,
			})
			summary.Instant = claimable.Instant
		}
		if !hasReferral && claimable.Referral.IsPositive() {
			summary.Breakdown = append(summary.Breakdown, PendingLine{
				Type:   models.RewardReferral,
				Amount: claimable.Referral,
				Source: SourceContract,
			})
			summary.Referral = claimable.Referral
		}
	}

	summary.Total = summary.Instant.Add(summary.Staking).Add(summary.Referral)
	return summary, nil
}

// GetLifetimeEarnings sums the ledger. Claims made on chain without a claim
// record are not reflected.
func (s *RewardService) GetLifetimeEarnings(ctx context.Context, wallet string) (*LifetimeEarnings, error) {
	wallet, err := ValidateWallet(wallet)
	if err != nil {
		return nil, err
	}

	claimed, pending, err := s.rewardRepo.Totals(ctx, wallet)
	if err != nil {
		return nil, err
	}

	return &LifetimeEarnings{
		Wallet:  wallet,
		Claimed: claimed,
		Pending: pending,
	}, nil
}

// RecordClaim marks every pending row of the claimed types as claimed. The
// on-chain claim has already happened, so nothing here fails the caller:
// problems are logged and raised as reconciliation events.
func (s *RewardService) RecordClaim(ctx context.Context, rec ClaimRecord) ClaimOutcome {
	fields := logrus.Fields{
		"wallet": rec.Wallet,
		"type":   rec.Type,
		"txHash": rec.TxHash,
	}

	wallet, err := ValidateWallet(rec.Wallet)
	if err != nil {
		log.WithFields(fields).Warn("Claim record rejected: ", err)
		return ClaimOutcome{Reason: err.Error()}
	}
	rec.Wallet = wallet

	types := rec.Type.RewardTypes()
	if len(types) == 0 {
		log.WithFields(fields).Warn("Claim record rejected: ", ErrInvalidClaimType)
		return ClaimOutcome{Reason: ErrInvalidClaimType.Error()}
	}
	rec.TxHash = strings.TrimSpace(rec.TxHash)
	if rec.TxHash == "" {
		log.WithFields(fields).Warn("Claim record rejected: missing tx hash")
		return ClaimOutcome{Reason: "missing tx hash"}
	}

	amount := rec.InstantAmount.Add(rec.ReferralAmount)
	if !amount.IsPositive() {
		amount = s.pendingAmount(ctx, wallet, types)
	}

	marked, err := s.rewardRepo.MarkClaimed(ctx, wallet, types, rec.TxHash, s.clock.Now())
	if err != nil {
		s.reconciler.Report(ctx, Gap{
			Kind:      GapClaimRecordFailed,
			Wallet:    wallet,
			Amount:    amount,
			TxHash:    rec.TxHash,
			Reference: string(rec.Type),
			Detail:    "failed to mark pending rewards claimed",
			Err:       err,
		})
		return ClaimOutcome{Reason: "ledger update failed"}
	}

	outcome := ClaimOutcome{Marked: marked, Recorded: true}
	fields["marked"] = marked
	if marked == 0 {
		log.WithFields(fields).Info("Claim recorded with no pending rows left")
	} else {
		log.WithFields(fields).Info("Claim recorded")
	}

	tx := &models.Transaction{
		WalletAddress: wallet,
		TxType:        models.TX_CLAIM,
		Amount:        amount,
		TxHash:        rec.TxHash,
		BlockNumber:   rec.BlockNumber,
	}
	if user, err := s.userRepo.FindByWallet(ctx, wallet); err == nil {
		tx.UserId = sql.NullInt64{Int64: user.Id, Valid: true}
	}
	if _, err := s.txRepo.Save(ctx, tx); err != nil {
		s.reconciler.Report(ctx, Gap{
			Kind:      GapClaimRecordFailed,
			Wallet:    wallet,
			Amount:    amount,
			TxHash:    rec.TxHash,
			Reference: string(rec.Type),
			Detail:    "failed to save claim transaction",
			Err:       err,
		})
	}

	s.invalidate(ctx)
	return outcome
}

// ClaimOnBehalf submits the admin claim for the wallet and then records it.
func (s *RewardService) ClaimOnBehalf(ctx context.Context, wallet string, claimType models.ClaimType) (*ClaimResult, error) {
	wallet, err := ValidateWallet(wallet)
	if err != nil {
		return nil, err
	}

	var claim func(context.Context, string) (*chain.Receipt, error)
	switch claimType {
	case models.ClaimInstant:
		claim = s.chain.ClaimInstantRewardsFor
	case models.ClaimReferral:
		claim = s.chain.ClaimReferralRewardsFor
	case models.ClaimAll:
		claim = s.chain.ClaimAllRewardsFor
	default:
		return nil, ErrInvalidClaimType
	}

	var instant, referral decimal.Decimal
	if claimable, err := s.chain.GetClaimableRewards(ctx, wallet); err == nil {
		if claimType != models.ClaimReferral {
			instant = claimable.Instant
		}
		if claimType != models.ClaimInstant {
			referral = claimable.Referral
		}
	} else {
		log.WithField("wallet", wallet).Warn("Failed to read claimable rewards before claim: ", err)
	}

	receipt, err := claim(ctx, wallet)
	if err != nil {
		return nil, err
	}

	outcome := s.RecordClaim(ctx, ClaimRecord{
		Wallet:         wallet,
		Type:           claimType,
		TxHash:         receipt.TxHash,
		BlockNumber:    receipt.BlockNumber,
		InstantAmount:  instant,
		ReferralAmount: referral,
	})

	return &ClaimResult{
		TxHash:      receipt.TxHash,
		BlockNumber: receipt.BlockNumber,
		Marked:      outcome.Marked,
		Degraded:    !outcome.Recorded,
	}, nil
}

// SyncAPY mirrors the contract's pending reward of every active stake into a
// single pending APY row per stake, updated in place.
func (s *RewardService) SyncAPY(ctx context.Context, wallet string) (*SyncResult, error) {
	wallet, err := ValidateWallet(wallet)
	if err != nil {
		return nil, err
	}

	stakes, err := s.stakeRepo.FindActiveByWallet(ctx, wallet)
	if err != nil {
		return nil, err
	}

	res := &SyncResult{Wallet: wallet}
	for i := range stakes {
		stake := &stakes[i]
		action := s.syncStake(ctx, stake)
		switch action {
		case "created":
			res.Created++
		case "updated":
			res.Updated++
		case "skipped":
			res.Skipped++
		default:
			res.Failed++
		}
		metrics.APYSyncUpsertsTotal.WithLabelValues(action).Inc()
	}

	log.WithFields(logrus.Fields{
		"wallet":  wallet,
		"created": res.Created,
		"updated": res.Updated,
		"skipped": res.Skipped,
		"failed":  res.Failed,
	}).Debug("APY sync finished")

	return res, nil
}

func (s *RewardService) syncStake(ctx context.Context, stake *models.Stake) string {
	if !stake.ChainStakeIndex.Valid {
		return "skipped"
	}

	fields := logrus.Fields{
		"wallet":  stake.WalletAddress,
		"stakeId": stake.StakeId,
	}

	amount, err := s.chain.PendingReward(ctx, stake.WalletAddress, stake.ChainStakeIndex.Int64)
	if err != nil {
		log.WithFields(fields).Warn("Failed to read pending reward: ", err)
		return "failed"
	}
	if !amount.IsPositive() {
		return "skipped"
	}

	inserted, err := s.rewardRepo.UpsertAPY(ctx, &models.PendingReward{
		UserId:        stake.UserId,
		WalletAddress: stake.WalletAddress,
		RewardType:    models.RewardAPY,
		Amount:        amount,
		Status:        models.RewardStatusPending,
		SourceId:      sql.NullString{String: stake.StakeId, Valid: true},
		Metadata: models.Metadata{
			models.MetaStakeIndex: stake.ChainStakeIndex.Int64,
			models.MetaSyncedAt:   s.clock.Now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		log.WithFields(fields).Error("Failed to upsert APY reward: ", err)
		return "failed"
	}
	if inserted {
		return "created"
	}
	return "updated"
}

func (s *RewardService) pendingAmount(ctx context.Context, wallet string, types []models.RewardType) decimal.Decimal {
	rows, err := s.rewardRepo.FindPending(ctx, wallet, types...)
	if err != nil {
		return decimal.Zero
	}
	total := decimal.Zero
	for _, r := range rows {
		total = total.Add(r.Amount)
	}
	return total
}

func (s *RewardService) invalidate(ctx context.Context) {
	if s.treasury != nil {
		s.treasury.Invalidate(ctx)
	}
}
