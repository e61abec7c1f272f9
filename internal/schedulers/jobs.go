package schedulers

import (
	"context"
	"stakeledger/internal/config"
	"stakeledger/internal/metrics"
	"stakeledger/internal/models"
	"stakeledger/internal/services"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var log = config.InitLogger()

const (
	apySyncConcurrency = 4
	jobTimeout         = 10 * time.Minute
)

type WalletLister interface {
	ActiveWallets(ctx context.Context) ([]string, error)
}

type APYSyncer interface {
	SyncAPY(ctx context.Context, wallet string) (*services.SyncResult, error)
}

type StakeCompleter interface {
	CompleteMatured(ctx context.Context) (int64, error)
}

type PaymentSweeper interface {
	SweepStale(ctx context.Context, olderThan time.Duration) (*services.SweepResult, error)
}

type ReferralConfigSyncer interface {
	SyncConfig(ctx context.Context) (*models.ReferralConfig, error)
}

// SyncAPYRewards refreshes the pending APY row of every active stake. Wallets
// are synced in parallel; one failing wallet does not stop the run.
func SyncAPYRewards(ctx context.Context, wallets WalletLister, syncer APYSyncer) func() {
	return func() {
		runCtx, cancel := context.WithTimeout(ctx, jobTimeout)
		defer cancel()

		list, err := wallets.ActiveWallets(runCtx)
		if err != nil {
			log.Error("APY sync: failed to list wallets: ", err)
			metrics.JobRunsTotal.WithLabelValues("apy_sync", "error").Inc()
			return
		}

		var created, updated, failed atomic.Int64
		g, gctx := errgroup.WithContext(runCtx)
		g.SetLimit(apySyncConcurrency)
		for _, wallet := range list {
			wallet := wallet
			g.Go(func() error {
				res, err := syncer.SyncAPY(gctx, wallet)
				if err != nil {
					failed.Add(1)
					log.WithField("wallet", wallet).Warn("APY sync failed for wallet: ", err)
					return nil
				}
				created.Add(int64(res.Created))
				updated.Add(int64(res.Updated))
				failed.Add(int64(res.Failed))
				return nil
			})
		}
		_ = g.Wait()

		outcome := "ok"
		if failed.Load() > 0 {
			outcome = "partial"
		}
		metrics.JobRunsTotal.WithLabelValues("apy_sync", outcome).Inc()

		log.WithFields(logrus.Fields{
			"wallets": len(list),
			"created": created.Load(),
			"updated": updated.Load(),
			"failed":  failed.Load(),
		}).Info("APY sync finished")
	}
}

func CompleteMaturedStakes(ctx context.Context, stakes StakeCompleter) func() {
	return func() {
		runCtx, cancel := context.WithTimeout(ctx, jobTimeout)
		defer cancel()

		if _, err := stakes.CompleteMatured(runCtx); err != nil {
			log.Error("Failed to complete matured stakes: ", err)
			metrics.JobRunsTotal.WithLabelValues("stake_maturity", "error").Inc()
			return
		}
		metrics.JobRunsTotal.WithLabelValues("stake_maturity", "ok").Inc()
	}
}

// SweepPayments settles intents whose webhook never arrived.
func SweepPayments(ctx context.Context, payments PaymentSweeper, staleAfter time.Duration) func() {
	return func() {
		runCtx, cancel := context.WithTimeout(ctx, jobTimeout)
		defer cancel()

		res, err := payments.SweepStale(runCtx, staleAfter)
		if err != nil {
			log.Error("Payment sweep failed: ", err)
			metrics.JobRunsTotal.WithLabelValues("payment_sweep", "error").Inc()
			return
		}
		outcome := "ok"
		if res.Failed > 0 || res.Stuck > 0 {
			outcome = "partial"
		}
		metrics.JobRunsTotal.WithLabelValues("payment_sweep", outcome).Inc()
	}
}

func SyncReferralConfig(ctx context.Context, referrals ReferralConfigSyncer) func() {
	return func() {
		runCtx, cancel := context.WithTimeout(ctx, jobTimeout)
		defer cancel()

		if _, err := referrals.SyncConfig(runCtx); err != nil {
			log.Error("Failed to sync referral config: ", err)
			metrics.JobRunsTotal.WithLabelValues("referral_config_sync", "error").Inc()
			return
		}
		metrics.JobRunsTotal.WithLabelValues("referral_config_sync", "ok").Inc()
	}
}
