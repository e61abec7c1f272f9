package services

import (
	"context"
	"fmt"
	"stakeledger/internal/cache"
	"stakeledger/internal/chain"
	"stakeledger/internal/metrics"
	"stakeledger/internal/models"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	liabilitiesCacheKey = "treasury:liabilities"
	statsCacheKey       = "treasury:stats"

	walletReadConcurrency = 8
)

type TransferResult struct {
	TxHash      string          `json:"txHash"`
	BlockNumber uint64          `json:"blockNumber"`
	Amount      decimal.Decimal `json:"amount"`
	Degraded    bool            `json:"degraded"`
}

type TreasuryService struct {
	stakeRepo  StakeStore
	rewardRepo RewardStore
	txRepo     TransactionStore
	chain      chain.Client
	cache      cache.Cache
	reconciler *Reconciler
	ttl        time.Duration
	clock      clockwork.Clock
}

func NewTreasuryService(
	stakeRepo StakeStore,
	rewardRepo RewardStore,
	txRepo TransactionStore,
	chainCli chain.Client,
	c cache.Cache,
	reconciler *Reconciler,
	ttl time.Duration,
	clock clockwork.Clock,
) *TreasuryService {
	return &TreasuryService{
		stakeRepo:  stakeRepo,
		rewardRepo: rewardRepo,
		txRepo:     txRepo,
		chain:      chainCli,
		cache:      c,
		reconciler: reconciler,
		ttl:        ttl,
		clock:      clock,
	}
}

// ComputeLiabilities adds the contract's pending reward of every active stake
// to the unclaimed instant and referral rows of the ledger. Wallets whose
// reads fail are skipped; the figure is advisory.
func (s *TreasuryService) ComputeLiabilities(ctx context.Context) (*models.Liabilities, error) {
	var cached models.Liabilities
	if ok, err := s.cache.Get(ctx, liabilitiesCacheKey, &cached); err != nil {
		log.Warn("Failed to read liabilities from cache: ", err)
	} else if ok {
		return &cached, nil
	}

	wallets, err := s.stakeRepo.ActiveWallets(ctx)
	if err != nil {
		return nil, err
	}

	var (
		mu      sync.Mutex
		onChain = decimal.Zero
		failed  int
	)

	var g errgroup.Group
	g.SetLimit(walletReadConcurrency)
	for _, wallet := range wallets {
		wallet := wallet
		g.Go(func() error {
			pending, err := s.walletPending(ctx, wallet)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				metrics.TreasuryWalletReadFailures.Inc()
				log.WithField("wallet", wallet).Warn("Skipping wallet in liability scan: ", err)
				return nil
			}
			onChain = onChain.Add(pending)
			return nil
		})
	}
	_ = g.Wait()

	offChain, err := s.rewardRepo.SumPending(ctx, models.RewardInstantCashback, models.RewardReferral)
	if err != nil {
		return nil, err
	}

	out := &models.Liabilities{
		OnChainPending:   onChain,
		OffChainPending:  offChain,
		TotalLiabilities: onChain.Add(offChain),
		WalletsScanned:   len(wallets),
		WalletsFailed:    failed,
		ComputedAt:       s.clock.Now().UTC(),
	}

	if err := s.cache.Set(ctx, liabilitiesCacheKey, out, s.ttl); err != nil {
		log.Warn("Failed to cache liabilities: ", err)
	}

	log.WithFields(logrus.Fields{
		"onChain":  onChain.String(),
		"offChain": offChain.String(),
		"wallets":  len(wallets),
		"failed":   failed,
	}).Info("Liabilities computed")

	return out, nil
}

func (s *TreasuryService) walletPending(ctx context.Context, wallet string) (decimal.Decimal, error) {
	stakes, err := s.stakeRepo.FindActiveByWallet(ctx, wallet)
	if err != nil {
		return decimal.Zero, err
	}

	total := decimal.Zero
	for _, stake := range stakes {
		if !stake.ChainStakeIndex.Valid {
			continue
		}
		pending, err := s.chain.PendingReward(ctx, wallet, stake.ChainStakeIndex.Int64)
		if err != nil {
			return decimal.Zero, fmt.Errorf("stake %s: %w", stake.StakeId, err)
		}
		total = total.Add(pending)
	}
	return total, nil
}

// GetTreasuryStats is the claim-ready view of the reward pool.
func (s *TreasuryService) GetTreasuryStats(ctx context.Context) (*models.TreasuryStats, error) {
	var cached models.TreasuryStats
	if ok, err := s.cache.Get(ctx, statsCacheKey, &cached); err != nil {
		log.Warn("Failed to read treasury stats from cache: ", err)
	} else if ok {
		return &cached, nil
	}

	var (
		balance, staked, available decimal.Decimal
		paused                     bool
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		balance, err = s.chain.ContractBalance(gctx)
		return err
	})
	g.Go(func() (err error) {
		staked, err = s.chain.TotalStaked(gctx)
		return err
	})
	g.Go(func() (err error) {
		available, err = s.chain.AvailableRewards(gctx)
		return err
	})
	g.Go(func() (err error) {
		paused, err = s.chain.Paused(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	liabilities, err := s.ComputeLiabilities(ctx)
	if err != nil {
		return nil, err
	}

	ratio := models.CoverageRatio(available, liabilities.TotalLiabilities)
	stats := &models.TreasuryStats{
		ContractBalance:    balance,
		TotalStaked:        staked,
		AvailableRewards:   available,
		PendingLiabilities: liabilities.TotalLiabilities,
		Surplus:            available.Sub(liabilities.TotalLiabilities),
		CoverageRatio:      ratio,
		HealthStatus:       models.TreasuryHealth(ratio),
		Paused:             paused,
		Liabilities:        *liabilities,
	}
	metrics.TreasuryCoverageRatio.Set(ratio)

	if err := s.cache.Set(ctx, statsCacheKey, stats, s.ttl); err != nil {
		log.Warn("Failed to cache treasury stats: ", err)
	}
	return stats, nil
}

// GetLiabilityReport is the exposure view: principal of admin-created card
// stakes counts as unbacked on top of pending rewards.
func (s *TreasuryService) GetLiabilityReport(ctx context.Context) (*models.LiabilityReport, error) {
	available, err := s.chain.AvailableRewards(ctx)
	if err != nil {
		return nil, err
	}

	liabilities, err := s.ComputeLiabilities(ctx)
	if err != nil {
		return nil, err
	}

	principal, count, err := s.stakeRepo.ActiveCardPrincipal(ctx)
	if err != nil {
		return nil, err
	}

	open, err := s.reconciler.CountOpen(ctx)
	if err != nil {
		log.Warn("Failed to count open reconciliation events: ", err)
	}

	ratio := models.CoverageRatio(available, liabilities.TotalLiabilities.Add(principal))
	return &models.LiabilityReport{
		AvailableRewards:    available,
		PendingLiabilities:  liabilities.TotalLiabilities,
		CardStakePrincipal:  principal,
		CardStakeCount:      count,
		CoverageRatio:       ratio,
		HealthStatus:        models.LiabilityHealth(ratio),
		OpenReconciliations: open,
		Liabilities:         *liabilities,
	}, nil
}

// Invalidate drops the cached snapshots so the next read recomputes them.
func (s *TreasuryService) Invalidate(ctx context.Context) {
	if err := s.cache.Delete(context.WithoutCancel(ctx), liabilitiesCacheKey, statsCacheKey); err != nil {
		log.Warn("Failed to invalidate treasury cache: ", err)
	}
}

// TransferRewards pays out of the reward pool. The transfer is recorded after
// it is mined; a failed record is a reconciliation event, not an error.
func (s *TreasuryService) TransferRewards(ctx context.Context, to string, amount decimal.Decimal) (*TransferResult, error) {
	wallet, err := ValidateWallet(to)
	if err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	available, err := s.chain.AvailableRewards(ctx)
	if err != nil {
		return nil, err
	}
	if amount.GreaterThan(available) {
		return nil, fmt.Errorf("%w: %s requested, %s available", chain.ErrInsufficientFunds, amount, available)
	}

	receipt, err := s.chain.TransferRewards(ctx, wallet, amount)
	if err != nil {
		return nil, err
	}

	res := &TransferResult{
		TxHash:      receipt.TxHash,
		BlockNumber: receipt.BlockNumber,
		Amount:      amount,
	}

	rctx := context.WithoutCancel(ctx)
	tx := &models.Transaction{
		WalletAddress: wallet,
		TxType:        models.TX_REWARD_TRANSFER,
		Amount:        amount,
		TxHash:        receipt.TxHash,
		BlockNumber:   receipt.BlockNumber,
	}
	if _, err := s.txRepo.Save(rctx, tx); err != nil {
		res.Degraded = true
		s.reconciler.Report(rctx, Gap{
			Kind:   GapTransferRecordFailed,
			Wallet: wallet,
			Amount: amount,
			TxHash: receipt.TxHash,
			Err:    err,
		})
	}

	log.WithFields(logrus.Fields{
		"wallet": wallet,
		"amount": amount.String(),
		"txHash": receipt.TxHash,
	}).Info("Rewards transferred")

	s.Invalidate(rctx)
	return res, nil
}
