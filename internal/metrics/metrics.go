package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SettlementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stakeledger_settlements_total",
			Help: "Payment settlement attempts by trigger and outcome",
		},
		[]string{"trigger", "outcome"},
	)

	ReconciliationEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stakeledger_reconciliation_events_total",
			Help: "Reconciliation gaps reported, by kind",
		},
		[]string{"kind"},
	)

	APYSyncUpsertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stakeledger_apy_sync_upserts_total",
			Help: "APY ledger rows written by the sync job",
		},
		[]string{"action"},
	)

	ChainCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stakeledger_chain_calls_total",
			Help: "Staking contract calls by method and status",
		},
		[]string{"method", "status"},
	)

	ChainCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stakeledger_chain_call_duration_seconds",
			Help:    "Duration of staking contract calls, including confirmation for writes",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		},
		[]string{"method"},
	)

	TreasuryCoverageRatio = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stakeledger_treasury_coverage_ratio",
			Help: "Available reward pool divided by pending liabilities",
		},
	)

	TreasuryWalletReadFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stakeledger_treasury_wallet_read_failures_total",
			Help: "Per-wallet pending reward reads skipped during liability computation",
		},
	)

	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stakeledger_notifications_total",
			Help: "Notifications by kind and status",
		},
		[]string{"kind", "status"},
	)

	JobRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stakeledger_job_runs_total",
			Help: "Scheduled job runs by job and outcome",
		},
		[]string{"job", "outcome"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stakeledger_http_requests_total",
			Help: "HTTP requests by route, method and status code",
		},
		[]string{"route", "method", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stakeledger_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
)
