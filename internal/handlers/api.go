package handlers

import (
	"context"
	"net/http"
	"stakeledger/internal/config"
	"stakeledger/internal/gateway"
	"stakeledger/internal/models"
	"stakeledger/internal/services"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

var log = config.InitLogger()

type Payments interface {
	CreateInvoice(ctx context.Context, req services.InvoiceRequest) (*services.Invoice, error)
	Verify(ctx context.Context, intentId, invoiceId string) (*services.SettlementResult, error)
	HandleWebhook(ctx context.Context, ev *gateway.WebhookEvent) *services.SettlementResult
}

type Rewards interface {
	GetPendingSummary(ctx context.Context, wallet string) (*services.PendingSummary, error)
	GetLifetimeEarnings(ctx context.Context, wallet string) (*services.LifetimeEarnings, error)
	RecordClaim(ctx context.Context, rec services.ClaimRecord) services.ClaimOutcome
	ClaimOnBehalf(ctx context.Context, wallet string, claimType models.ClaimType) (*services.ClaimResult, error)
	SyncAPY(ctx context.Context, wallet string) (*services.SyncResult, error)
}

type Stakes interface {
	RecordCryptoStake(ctx context.Context, req services.CryptoStakeRequest) (*services.StakeResult, error)
	ActiveStakes(ctx context.Context, wallet string) ([]models.Stake, error)
}

type Treasury interface {
	GetTreasuryStats(ctx context.Context) (*models.TreasuryStats, error)
	GetLiabilityReport(ctx context.Context) (*models.LiabilityReport, error)
	TransferRewards(ctx context.Context, to string, amount decimal.Decimal) (*services.TransferResult, error)
}

type Users interface {
	GetOrCreate(ctx context.Context, wallet string) (*models.User, error)
	ApplyReferralCode(ctx context.Context, wallet, code string) (*models.User, error)
	SkipReferral(ctx context.Context, wallet string) (*models.User, error)
}

type Referrals interface {
	Config(ctx context.Context) (*models.ReferralConfig, error)
	UpdateConfig(ctx context.Context, referralPct, referrerPct decimal.Decimal, paused bool) (*models.ReferralConfig, error)
	Stats(ctx context.Context, user *models.User) (*services.ReferralStats, error)
}

type History interface {
	FindByWallet(ctx context.Context, wallet string, offset, limit int) ([]models.Transaction, error)
}

type Reconciliations interface {
	Open(ctx context.Context, limit int) ([]models.ReconciliationEvent, error)
	Resolve(ctx context.Context, id int64) (bool, error)
}

type API struct {
	Payments        Payments
	Rewards         Rewards
	Stakes          Stakes
	Treasury        Treasury
	Users           Users
	Referrals       Referrals
	Reconciliations Reconciliations
	History         History

	// WebhookSecret enables X-Signature checks on gateway webhooks.
	WebhookSecret string
	// AdminToken guards /api/admin; admin routes are not mounted without it.
	AdminToken     string
	AllowedOrigins []string
	Health         func(ctx context.Context) error
}

const requestTimeout = 60 * time.Second

func NewRouter(api *API) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(Metrics)

	origins := api.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization", gateway.SignatureHeader},
		MaxAge:         300,
	}))

	r.Get("/healthz", api.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))

		r.Route("/payments", func(r chi.Router) {
			r.Post("/invoice", api.createInvoice)
			r.Post("/verify", api.verifyPayment)
			r.Post("/webhook", api.paymentWebhook)
		})

		r.Route("/rewards", func(r chi.Router) {
			r.Post("/claims", api.recordClaim)
			r.Get("/{wallet}/pending", api.pendingRewards)
			r.Get("/{wallet}/lifetime", api.lifetimeEarnings)
			r.Post("/{wallet}/sync", api.syncAPY)
		})

		r.Post("/stakes", api.recordStake)
		r.Get("/stakes/{wallet}", api.activeStakes)

		r.Get("/transactions/{wallet}", api.transactionHistory)

		r.Route("/users/{wallet}/referral", func(r chi.Router) {
			r.Get("/", api.referralStats)
			r.Post("/", api.applyReferralCode)
			r.Post("/skip", api.skipReferral)
		})

		r.Get("/treasury/stats", api.treasuryStats)
		r.Get("/treasury/liabilities", api.liabilityReport)

		if api.AdminToken != "" {
			r.Route("/admin", func(r chi.Router) {
				r.Use(requireToken(api.AdminToken))
				r.Post("/claims/{wallet}", api.claimOnBehalf)
				r.Post("/treasury/transfer", api.transferRewards)
				r.Get("/referral/config", api.referralConfig)
				r.Put("/referral/config", api.updateReferralConfig)
				r.Get("/reconciliations", api.openReconciliations)
				r.Post("/reconciliations/{id}/resolve", api.resolveReconciliation)
			})
		}
	})

	return r
}

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	if a.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := a.Health(ctx); err != nil {
			log.Warn("Health check failed: ", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
