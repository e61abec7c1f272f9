package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"stakeledger/internal/cache"
	"stakeledger/internal/chain"
	"stakeledger/internal/config"
	"stakeledger/internal/database"
	"stakeledger/internal/gateway"
	"stakeledger/internal/handlers"
	"stakeledger/internal/notify"
	"stakeledger/internal/opsbot"
	"stakeledger/internal/repositories"
	"stakeledger/internal/schedulers"
	"stakeledger/internal/services"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/go-telegram/bot"
	"github.com/jonboulle/clockwork"
)

const (
	notifyQueueSize = 256
	shutdownTimeout = 30 * time.Second
)

var log = config.InitLogger()

func main() {
	if err := run(); err != nil {
		log.Fatalf("Stakeledger stopped: %v", err)
	}
}

func run() error {
	cfg, err := config.InitConfig()
	if err != nil {
		return err
	}
	log.Infoln("Config initialized")

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.SentryDSN, Environment: cfg.Env}); err != nil {
			log.Warn("Failed to init sentry: ", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	psql, err := database.NewPostgres(&cfg.Postgres)
	if err != nil {
		return err
	}
	defer psql.Close()

	if cfg.Postgres.RunMigrations {
		if err := psql.Migrate(); err != nil {
			return err
		}
	}
	log.Infoln("Database initialized")

	clock := clockwork.NewRealClock()

	var treasuryCache cache.Cache = cache.NewMemory(clock)
	if cfg.RedisURL != "" {
		cli, err := database.InitRedisCli(cfg.RedisURL)
		if err != nil {
			return err
		}
		defer cli.Close()
		treasuryCache = cache.NewRedis(cli)
		log.Infoln("Redis cache initialized")
	}

	chainCli, err := chain.Dial(ctx, &cfg.Chain)
	if err != nil {
		return err
	}
	defer chainCli.Close()
	log.Infoln("Chain client connected")

	tg := newBot(cfg)
	var sender notify.Sender = notify.LogSender{}
	if tg != nil {
		sender = notify.NewTelegramSender(tg, cfg.TelegramOpsChatID)
	}
	dispatcher := notify.NewDispatcher(sender, notifyQueueSize)

	userRepo := repositories.NewUserRepository(psql.Db)
	stakeRepo := repositories.NewStakeRepository(psql.Db)
	rewardRepo := repositories.NewRewardRepository(psql.Db)
	referralRepo := repositories.NewReferralRepository(psql.Db)
	referralCfgRepo := repositories.NewReferralConfigRepository(psql.Db)
	intentRepo := repositories.NewPaymentIntentRepository(psql.Db)
	txRepo := repositories.NewTransactionRepository(psql.Db)
	reconRepo := repositories.NewReconciliationRepository(psql.Db)

	reconciler := services.NewReconciler(reconRepo, dispatcher)
	treasury := services.NewTreasuryService(stakeRepo, rewardRepo, txRepo, chainCli, treasuryCache, reconciler, cfg.TreasuryCacheTTL, clock)
	users := services.NewUserService(userRepo)
	rewards := services.NewRewardService(rewardRepo, stakeRepo, userRepo, txRepo, chainCli, reconciler, treasury, clock)
	referrals := services.NewReferralService(userRepo, referralRepo, referralCfgRepo, rewards, chainCli, reconciler, clock)
	stakes := services.NewStakeService(users, stakeRepo, txRepo, rewards, referrals, chainCli, reconciler, treasury, clock)
	payments := services.NewPaymentService(intentRepo, users, stakes, txRepo, gateway.NewClient(&cfg.Gateway), chainCli,
		reconciler, dispatcher, treasury, clock, services.PaymentOptions{
			TokenUSDPrice:  cfg.TokenUSDPrice,
			GatewayTimeout: cfg.Gateway.Timeout,
		})

	if _, err := referrals.SyncConfig(ctx); err != nil {
		log.Warn("Initial referral config sync failed: ", err)
	}

	scheduler := schedulers.NewScheduler()
	jobs := []struct {
		name string
		spec string
		job  func()
	}{
		{"apy_sync", cfg.APYSyncSchedule, schedulers.SyncAPYRewards(ctx, stakes, rewards)},
		{"stake_maturity", cfg.StakeMaturitySchedule, schedulers.CompleteMaturedStakes(ctx, stakes)},
		{"payment_sweep", cfg.PaymentSweepSchedule, schedulers.SweepPayments(ctx, payments, cfg.PaymentStaleAfter)},
		{"referral_config_sync", cfg.ReferralSyncSchedule, schedulers.SyncReferralConfig(ctx, referrals)},
	}
	for _, j := range jobs {
		if err := scheduler.Add(j.name, j.spec, j.job); err != nil {
			return err
		}
	}
	scheduler.Start()

	if tg != nil {
		opsbot.New(cfg.TelegramOpsChatID, treasury, reconciler).Register(tg)
		go tg.Start(ctx)
		log.Infoln("Ops bot started")
	}

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: handlers.NewRouter(&handlers.API{
			Payments:        payments,
			Rewards:         rewards,
			Stakes:          stakes,
			Treasury:        treasury,
			Users:           users,
			Referrals:       referrals,
			Reconciliations: reconciler,
			History:         txRepo,
			WebhookSecret:   cfg.Gateway.WebhookSecret,
			AdminToken:      cfg.AdminAPIToken,
			AllowedOrigins:  cfg.CORSAllowedOrigins,
			Health: func(ctx context.Context) error {
				return psql.Db.PingContext(ctx)
			},
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Infoln("HTTP server listening on", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		log.Infoln("Shutdown signal received")
	case err = <-serveErr:
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if sErr := srv.Shutdown(shutdownCtx); sErr != nil {
		log.Error("HTTP server shutdown failed: ", sErr)
	}
	scheduler.Stop(shutdownCtx)
	if dErr := dispatcher.Close(shutdownCtx); dErr != nil {
		log.Warn("Notifications left undelivered: ", dErr)
	}

	log.Infoln("Stakeledger stopped")
	return err
}

func newBot(cfg *config.Config) *bot.Bot {
	if cfg.TelegramBotToken == "" {
		return nil
	}
	b, err := bot.New(cfg.TelegramBotToken, bot.WithSkipGetMe())
	if err != nil {
		log.Warn("Failed to init telegram bot, notifications go to the log: ", err)
		return nil
	}
	return b
}
