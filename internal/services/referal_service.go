package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"stakeledger/internal/chain"
	"stakeledger/internal/models"
	"stakeledger/internal/repositories"
	"stakeledger/internal/util"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var maxPercentage = decimal.NewFromInt(100)

// Attribution is what a stake paid out through the referral program. A zero
// value with Skipped set means the stake earned nothing for anyone.
type Attribution struct {
	Referrer      *models.User     `json:"-"`
	ReferrerCut   decimal.Decimal  `json:"referrerCut"`
	ReferredBonus decimal.Decimal  `json:"referredBonus"`
	Referral      *models.Referral `json:"referral,omitempty"`
	Skipped       string           `json:"skipped,omitempty"`
}

type ReferralStats struct {
	ReferralCode  string          `json:"referralCode"`
	ReferredBy    string          `json:"referredBy,omitempty"`
	Referrals     int             `json:"referrals"`
	TotalEarnings decimal.Decimal `json:"totalEarnings"`
}

type ReferralService struct {
	userRepo     UserStore
	referralRepo ReferralStore
	configRepo   ReferralConfigStore
	rewards      *RewardService
	chain        chain.Client
	reconciler   *Reconciler
	clock        clockwork.Clock
}

func NewReferralService(
	userRepo UserStore,
	referralRepo ReferralStore,
	configRepo ReferralConfigStore,
	rewards *RewardService,
	chainCli chain.Client,
	reconciler *Reconciler,
	clock clockwork.Clock,
) *ReferralService {
	return &ReferralService{
		userRepo:     userRepo,
		referralRepo: referralRepo,
		configRepo:   configRepo,
		rewards:      rewards,
		chain:        chainCli,
		reconciler:   reconciler,
		clock:        clock,
	}
}

func (s *ReferralService) Config(ctx context.Context) (*models.ReferralConfig, error) {
	return s.configRepo.Get(ctx)
}

// Attribute credits both sides of a referral for a new stake. The config is
// read now, so later edits never change what this stake earned. Callers run
// it once per stake.
func (s *ReferralService) Attribute(ctx context.Context, stake *models.Stake, user *models.User) (*Attribution, error) {
	if !user.ReferredBy.Valid || user.ReferredBy.String == "" {
		return &Attribution{Skipped: "no referrer"}, nil
	}

	cfg, err := s.configRepo.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read referral config: %w", err)
	}
	if cfg.Paused {
		return &Attribution{Skipped: "paused"}, nil
	}

	fields := logrus.Fields{
		"stakeId": stake.StakeId,
		"wallet":  user.WalletAddress,
		"code":    user.ReferredBy.String,
	}

	referrer, err := s.userRepo.FindByReferralCode(ctx, user.ReferredBy.String)
	if errors.Is(err, repositories.ErrNotFound) {
		log.WithFields(fields).Warn("Referral code does not resolve, skipping attribution")
		return &Attribution{Skipped: "unknown referrer"}, nil
	}
	if err != nil {
		return nil, err
	}
	if referrer.Id == user.Id {
		return &Attribution{Skipped: "self referral"}, nil
	}

	out := &Attribution{
		Referrer:      referrer,
		ReferrerCut:   util.PercentOf(stake.Amount, cfg.ReferrerPercentage),
		ReferredBonus: util.PercentOf(stake.Amount, cfg.ReferralPercentage),
	}

	out.Referral, err = s.referralRepo.AddEarnings(ctx, referrer.Id, user.Id, out.ReferrerCut)
	if err != nil {
		return nil, fmt.Errorf("failed to update referral earnings: %w", err)
	}

	snapshot := func(role string) models.Metadata {
		return models.Metadata{
			models.MetaRole:               role,
			models.MetaReferrerPercentage: cfg.ReferrerPercentage.String(),
			models.MetaReferralPercentage: cfg.ReferralPercentage.String(),
		}
	}

	if out.ReferrerCut.IsPositive() {
		if _, err := s.rewards.RecordReward(ctx, referrer, models.RewardReferral, out.ReferrerCut, stake.StakeId, snapshot(models.RoleReferrer)); err != nil {
			return out, err
		}
	}
	if out.ReferredBonus.IsPositive() {
		if _, err := s.rewards.RecordReward(ctx, user, models.RewardReferral, out.ReferredBonus, stake.StakeId, snapshot(models.RoleBonus)); err != nil {
			return out, err
		}
	}

	fields["referrer"] = referrer.WalletAddress
	fields["referrerCut"] = out.ReferrerCut.String()
	fields["referredBonus"] = out.ReferredBonus.String()
	log.WithFields(fields).Info("Referral attributed")

	return out, nil
}

// SyncConfig copies the contract's referral settings into the local row.
func (s *ReferralService) SyncConfig(ctx context.Context) (*models.ReferralConfig, error) {
	onChain, err := s.chain.GetReferralConfig(ctx)
	if err != nil {
		return nil, err
	}

	cfg := &models.ReferralConfig{
		ReferralPercentage: onChain.ReferralPercentage,
		ReferrerPercentage: onChain.ReferrerPercentage,
		Paused:             onChain.Paused,
		SyncedAt:           sql.NullTime{Time: s.clock.Now(), Valid: true},
	}
	if err := s.configRepo.Save(ctx, cfg); err != nil {
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"referralPercentage": cfg.ReferralPercentage.String(),
		"referrerPercentage": cfg.ReferrerPercentage.String(),
		"paused":             cfg.Paused,
	}).Info("Referral config synced from contract")

	return cfg, nil
}

// UpdateConfig writes the contract first and the local copy second. A failed
// local write leaves the contract authoritative and raises a drift event.
func (s *ReferralService) UpdateConfig(ctx context.Context, referralPct, referrerPct decimal.Decimal, paused bool) (*models.ReferralConfig, error) {
	if err := validatePercentages(referralPct, referrerPct); err != nil {
		return nil, err
	}

	receipt, err := s.chain.SetReferralConfig(ctx, chain.ReferralConfig{
		ReferralPercentage: referralPct,
		ReferrerPercentage: referrerPct,
		Paused:             paused,
	})
	if err != nil {
		return nil, err
	}

	cfg := &models.ReferralConfig{
		ReferralPercentage: referralPct,
		ReferrerPercentage: referrerPct,
		Paused:             paused,
		SyncedAt:           sql.NullTime{Time: s.clock.Now(), Valid: true},
	}
	if err := s.configRepo.Save(ctx, cfg); err != nil {
		detail := fmt.Sprintf("contract holds referral=%s referrer=%s paused=%t", referralPct, referrerPct, paused)
		s.reconciler.Report(ctx, Gap{
			Kind:      GapReferralConfigDrift,
			TxHash:    receipt.TxHash,
			Reference: "referral_config",
			Detail:    detail,
			Err:       err,
		})
	}

	return cfg, nil
}

func (s *ReferralService) Stats(ctx context.Context, user *models.User) (*ReferralStats, error) {
	refs, err := s.referralRepo.FindByReferrer(ctx, user.Id)
	if err != nil {
		return nil, err
	}

	stats := &ReferralStats{
		ReferralCode: user.ReferralCode,
		ReferredBy:   user.ReferredBy.String,
		Referrals:    len(refs),
	}
	for _, r := range refs {
		stats.TotalEarnings = stats.TotalEarnings.Add(r.Earnings)
	}
	return stats, nil
}

func validatePercentages(referralPct, referrerPct decimal.Decimal) error {
	for _, p := range []decimal.Decimal{referralPct, referrerPct} {
		if p.IsNegative() || p.GreaterThan(maxPercentage) {
			return fmt.Errorf("%w: percentage %s out of range", ErrInvalidConfiguration, p)
		}
	}
	if referralPct.Add(referrerPct).GreaterThan(maxPercentage) {
		return fmt.Errorf("%w: percentages add up to more than 100", ErrInvalidConfiguration)
	}
	return nil
}
