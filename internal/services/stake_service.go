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
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const maxBps = 10000

// CryptoStakeRequest points at a stake the user made on chain themselves.
// Amount, rate, lock period and stake index are read from the transaction;
// a client-sent Amount is only cross-checked.
type CryptoStakeRequest struct {
	Wallet string          `json:"walletAddress"`
	Amount decimal.Decimal `json:"amount"`
	Plan   string          `json:"plan"`
	TxHash string          `json:"txHash"`
}

// CardStakeRequest records a stake the admin created on chain for a card payment.
type CardStakeRequest struct {
	User       *models.User
	Amount     decimal.Decimal
	APY        decimal.Decimal
	LockDays   int
	Plan       string
	TxHash     string
	StakeIndex int64
}

type StakeResult struct {
	Stake       *models.Stake   `json:"stake"`
	Cashback    decimal.Decimal `json:"cashback"`
	Attribution *Attribution    `json:"attribution,omitempty"`
	// Duplicate is set when the tx hash had already been recorded.
	Duplicate bool `json:"duplicate"`
	// Degraded is set when the stake was stored but a follow-up record failed.
	Degraded bool `json:"degraded"`
}

type StakeService struct {
	users      *UserService
	stakeRepo  StakeStore
	txRepo     TransactionStore
	rewards    *RewardService
	referrals  *ReferralService
	chain      chain.Client
	reconciler *Reconciler
	treasury   CacheInvalidator
	clock      clockwork.Clock
}

func NewStakeService(
	users *UserService,
	stakeRepo StakeStore,
	txRepo TransactionStore,
	rewards *RewardService,
	referrals *ReferralService,
	chainCli chain.Client,
	reconciler *Reconciler,
	treasury CacheInvalidator,
	clock clockwork.Clock,
) *StakeService {
	return &StakeService{
		users:      users,
		stakeRepo:  stakeRepo,
		txRepo:     txRepo,
		rewards:    rewards,
		referrals:  referrals,
		chain:      chainCli,
		reconciler: reconciler,
		treasury:   treasury,
		clock:      clock,
	}
}

// RecordCryptoStake stores a user-made stake once per tx hash, then pays the
// instant cashback and runs referral attribution. The stake is taken from the
// StakeCreated event of the transaction; hashes that do not resolve to a stake
// of the wallet are rejected. Once the stake row exists nothing is retried;
// follow-up failures become reconciliation events.
func (s *StakeService) RecordCryptoStake(ctx context.Context, req CryptoStakeRequest) (*StakeResult, error) {
	if err := validateCryptoStake(&req); err != nil {
		return nil, err
	}

	if existing, err := s.stakeRepo.FindByTxHash(ctx, req.TxHash); err == nil {
		return &StakeResult{Stake: existing, Duplicate: true}, nil
	} else if !errors.Is(err, repositories.ErrNotFound) {
		return nil, err
	}

	event, err := s.verifyOnChain(ctx, req)
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetOrCreate(ctx, req.Wallet)
	if err != nil {
		return nil, err
	}

	stakeId, err := s.stakeRepo.NextStakeId(ctx)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	stake := &models.Stake{
		StakeId:         stakeId,
		UserId:          user.Id,
		WalletAddress:   user.WalletAddress,
		Amount:          event.Amount,
		APY:             event.APY(),
		LockDays:        event.LockDays,
		StartDate:       now,
		EndDate:         now.Add(time.Duration(event.LockDays) * 24 * time.Hour),
		Plan:            req.Plan,
		Origin:          models.StakeOriginCrypto,
		TxHash:          req.TxHash,
		Status:          models.StakeStatusActive,
		ChainStakeIndex: sql.NullInt64{Int64: event.StakeIndex, Valid: true},
	}

	if err := s.stakeRepo.Save(ctx, stake); err != nil {
		if errors.Is(err, repositories.ErrDuplicate) {
			// lost a race with another recorder of the same tx
			existing, ferr := s.stakeRepo.FindByTxHash(ctx, req.TxHash)
			if ferr != nil {
				return nil, ferr
			}
			return &StakeResult{Stake: existing, Duplicate: true}, nil
		}
		return nil, err
	}

	fields := logrus.Fields{
		"stakeId": stake.StakeId,
		"wallet":  stake.WalletAddress,
		"amount":  stake.Amount.String(),
		"txHash":  stake.TxHash,
	}
	log.WithFields(fields).Info("Crypto stake recorded")

	res := &StakeResult{Stake: stake}

	if _, err := s.txRepo.Save(ctx, &models.Transaction{
		UserId:        sql.NullInt64{Int64: user.Id, Valid: true},
		WalletAddress: user.WalletAddress,
		TxType:        models.TX_STAKE,
		Amount:        stake.Amount,
		TxHash:        stake.TxHash,
		BlockNumber:   event.BlockNumber,
	}); err != nil {
		log.WithFields(fields).Error("Failed to save stake transaction: ", err)
	}

	res.Cashback = util.ApplyBps(stake.Amount, event.InstantRewardBps)
	if res.Cashback.IsPositive() {
		meta := models.Metadata{models.MetaInstantRewardBps: event.InstantRewardBps}
		if _, err := s.rewards.RecordReward(ctx, user, models.RewardInstantCashback, res.Cashback, stake.StakeId, meta); err != nil {
			res.Degraded = true
			s.reconciler.Report(ctx, Gap{
				Kind:      GapCashbackRecordFailed,
				Wallet:    stake.WalletAddress,
				Amount:    res.Cashback,
				TxHash:    stake.TxHash,
				Reference: stake.StakeId,
				Err:       err,
			})
		}
	}

	attribution, err := s.referrals.Attribute(ctx, stake, user)
	if err != nil {
		res.Degraded = true
		s.reconciler.Report(ctx, Gap{
			Kind:      GapAttributionFailed,
			Wallet:    stake.WalletAddress,
			Amount:    stake.Amount,
			TxHash:    stake.TxHash,
			Reference: stake.StakeId,
			Detail:    "referral code " + user.ReferredBy.String,
			Err:       err,
		})
	}
	res.Attribution = attribution

	s.invalidate(ctx)
	return res, nil
}

// CreateCardStake records a stake that settlement created on chain. Card
// stakes get neither cashback nor referral rewards.
func (s *StakeService) CreateCardStake(ctx context.Context, req CardStakeRequest) (*models.Stake, error) {
	if req.User == nil {
		return nil, ErrUserNotFound
	}

	stakeId, err := s.stakeRepo.NextStakeId(ctx)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	stake := &models.Stake{
		StakeId:       stakeId,
		UserId:        req.User.Id,
		WalletAddress: req.User.WalletAddress,
		Amount:        req.Amount,
		APY:           req.APY,
		LockDays:      req.LockDays,
		StartDate:     now,
		EndDate:       now.Add(time.Duration(req.LockDays) * 24 * time.Hour),
		Plan:          req.Plan,
		Origin:        models.StakeOriginCard,
		TxHash:        req.TxHash,
		Status:        models.StakeStatusActive,
	}
	if req.StakeIndex >= 0 {
		stake.ChainStakeIndex = sql.NullInt64{Int64: req.StakeIndex, Valid: true}
	}

	if err := s.stakeRepo.Save(ctx, stake); err != nil {
		if errors.Is(err, repositories.ErrDuplicate) {
			return s.stakeRepo.FindByTxHash(ctx, req.TxHash)
		}
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"stakeId": stake.StakeId,
		"wallet":  stake.WalletAddress,
		"amount":  stake.Amount.String(),
		"txHash":  stake.TxHash,
	}).Info("Card stake recorded")

	return stake, nil
}

func (s *StakeService) ActiveStakes(ctx context.Context, wallet string) ([]models.Stake, error) {
	wallet, err := ValidateWallet(wallet)
	if err != nil {
		return nil, err
	}
	return s.stakeRepo.FindActiveByWallet(ctx, wallet)
}

// ActiveWallets lists every wallet holding at least one active stake.
func (s *StakeService) ActiveWallets(ctx context.Context) ([]string, error) {
	return s.stakeRepo.ActiveWallets(ctx)
}

// CompleteMatured flips every active stake past its end date to completed.
func (s *StakeService) CompleteMatured(ctx context.Context) (int64, error) {
	n, err := s.stakeRepo.CompleteMatured(ctx, s.clock.Now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Infof("Completed %d matured stakes", n)
		s.invalidate(ctx)
	}
	return n, nil
}

// verifyOnChain reads the stake the transaction created and checks it belongs
// to the requesting wallet.
func (s *StakeService) verifyOnChain(ctx context.Context, req CryptoStakeRequest) (*chain.StakeEvent, error) {
	event, err := s.chain.StakeByTx(ctx, req.TxHash)
	switch {
	case errors.Is(err, chain.ErrTxNotFound), errors.Is(err, chain.ErrNoStakeEvent), errors.Is(err, chain.ErrReverted):
		return nil, fmt.Errorf("%w: %v", ErrStakeNotOnChain, err)
	case err != nil:
		return nil, err
	}

	fields := logrus.Fields{"wallet": req.Wallet, "txHash": req.TxHash}
	switch {
	case util.NormalizeWallet(event.Wallet) != req.Wallet:
		log.WithFields(fields).Warnf("Stake transaction belongs to %s", event.Wallet)
		return nil, fmt.Errorf("%w: transaction staked for another wallet", ErrStakeNotOnChain)
	case !event.Amount.IsPositive():
		return nil, fmt.Errorf("%w: transaction staked nothing", ErrStakeNotOnChain)
	case event.InstantRewardBps < 0 || event.InstantRewardBps > maxBps:
		return nil, fmt.Errorf("%w: instant reward bps %d out of range", ErrStakeNotOnChain, event.InstantRewardBps)
	case req.Amount.IsPositive() && !req.Amount.Equal(event.Amount):
		log.WithFields(fields).Warnf("Claimed amount %s, transaction staked %s", req.Amount, event.Amount)
		return nil, fmt.Errorf("%w: amount does not match transaction", ErrStakeNotOnChain)
	}
	return event, nil
}

func (s *StakeService) invalidate(ctx context.Context) {
	if s.treasury != nil {
		s.treasury.Invalidate(ctx)
	}
}

func validateCryptoStake(req *CryptoStakeRequest) error {
	wallet, err := ValidateWallet(req.Wallet)
	if err != nil {
		return err
	}
	req.Wallet = wallet
	req.TxHash = strings.ToLower(strings.TrimSpace(req.TxHash))

	switch {
	case req.TxHash == "":
		return fmt.Errorf("%w: tx hash is required", ErrInvalidRequest)
	case req.Amount.IsNegative():
		return ErrInvalidAmount
	}
	return nil
}
