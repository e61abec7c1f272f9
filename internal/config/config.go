package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

var log = InitLogger()

type PostgresConfig struct {
	Host          string `envconfig:"DB_HOST" default:"localhost"`
	Port          string `envconfig:"DB_PORT" default:"5432"`
	User          string `envconfig:"DB_USER" default:"postgres"`
	Password      string `envconfig:"DB_PASSWORD"`
	DBName        string `envconfig:"DB_NAME" default:"stakeledger"`
	SSLMode       string `envconfig:"DB_SSLMODE" default:"disable"`
	RunMigrations bool   `envconfig:"DB_RUN_MIGRATIONS" default:"true"`
}

type ChainConfig struct {
	RPCURL          string        `envconfig:"RPC_URL" required:"true"`
	ChainID         int64         `envconfig:"CHAIN_ID" required:"true"`
	StakingContract string        `envconfig:"STAKING_CONTRACT" required:"true"`
	AdminPrivateKey string        `envconfig:"ADMIN_PRIVATE_KEY" required:"true"`
	Timeout         time.Duration `envconfig:"RPC_TIMEOUT" default:"30s"`
	// reads per second against the RPC node
	RateLimit float64 `envconfig:"RPC_RATE_LIMIT" default:"20"`
}

type GatewayConfig struct {
	BaseURL       string        `envconfig:"GATEWAY_URL" required:"true"`
	APIKey        string        `envconfig:"GATEWAY_API_KEY"`
	WebhookSecret string        `envconfig:"GATEWAY_WEBHOOK_SECRET"`
	Timeout       time.Duration `envconfig:"GATEWAY_TIMEOUT" default:"30s"`
}

type Config struct {
	Postgres PostgresConfig
	Chain    ChainConfig
	Gateway  GatewayConfig

	HTTPAddr  string `envconfig:"HTTP_ADDR" default:":8080"`
	RedisURL  string `envconfig:"REDIS_URL"`
	SentryDSN string `envconfig:"SENTRY_DSN"`
	Env       string `envconfig:"APP_ENV" default:"development"`

	// admin routes are not served when empty
	AdminAPIToken      string   `envconfig:"ADMIN_API_TOKEN"`
	CORSAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS"`

	// USD per token, used to turn a card payment into a stake amount
	TokenUSDPrice decimal.Decimal `envconfig:"TOKEN_USD_PRICE" default:"0.01"`

	TreasuryCacheTTL      time.Duration `envconfig:"TREASURY_CACHE_TTL" default:"5m"`
	APYSyncSchedule       string        `envconfig:"APY_SYNC_SCHEDULE" default:"*/30 * * * *"`
	StakeMaturitySchedule string        `envconfig:"STAKE_MATURITY_SCHEDULE" default:"5 * * * *"`
	PaymentSweepSchedule  string        `envconfig:"PAYMENT_SWEEP_SCHEDULE" default:"*/10 * * * *"`
	PaymentStaleAfter     time.Duration `envconfig:"PAYMENT_STALE_AFTER" default:"15m"`
	ReferralSyncSchedule  string        `envconfig:"REFERRAL_SYNC_SCHEDULE" default:"0 * * * *"`

	TelegramBotToken  string `envconfig:"TELEGRAM_BOT_TOKEN"`
	TelegramOpsChatID int64  `envconfig:"TELEGRAM_OPS_CHAT_ID"`
}

func InitConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Warn("No .env file loaded, using process environment")
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if !c.TokenUSDPrice.IsPositive() {
		return errors.New("TOKEN_USD_PRICE must be greater than zero")
	}
	if c.Chain.Timeout <= 0 || c.Gateway.Timeout <= 0 {
		return errors.New("RPC_TIMEOUT and GATEWAY_TIMEOUT must be positive")
	}
	if c.Chain.RateLimit <= 0 {
		return errors.New("RPC_RATE_LIMIT must be greater than zero")
	}
	if c.TreasuryCacheTTL <= 0 {
		return errors.New("TREASURY_CACHE_TTL must be positive")
	}
	if c.TelegramBotToken != "" && c.TelegramOpsChatID == 0 {
		return errors.New("TELEGRAM_OPS_CHAT_ID is required when TELEGRAM_BOT_TOKEN is set")
	}
	return nil
}

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s&client_encoding=%s",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.DBName,
		c.SSLMode,
		"UTF8",
	)
}
