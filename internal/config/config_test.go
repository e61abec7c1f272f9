package config

import (
	"testing"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("RPC_URL", "http://localhost:8545")
	t.Setenv("CHAIN_ID", "31337")
	t.Setenv("STAKING_CONTRACT", "0x00000000000000000000000000000000000000aa")
	t.Setenv("ADMIN_PRIVATE_KEY", "deadbeef")
	t.Setenv("GATEWAY_URL", "http://localhost:9000")
}

func TestProcessDefaults(t *testing.T) {
	setRequired(t)
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example,https://b.example")

	var cfg Config
	require.NoError(t, envconfig.Process("", &cfg))
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 5*time.Minute, cfg.TreasuryCacheTTL)
	assert.True(t, cfg.TokenUSDPrice.Equal(decimal.RequireFromString("0.01")))
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowedOrigins)
	assert.Equal(t, int64(31337), cfg.Chain.ChainID)
	assert.Empty(t, cfg.AdminAPIToken)
}

func TestValidate(t *testing.T) {
	setRequired(t)

	tests := []struct {
		name string
		env  map[string]string
	}{
		{"zero token price", map[string]string{"TOKEN_USD_PRICE": "0"}},
		{"zero rate limit", map[string]string{"RPC_RATE_LIMIT": "0"}},
		{"telegram without chat", map[string]string{"TELEGRAM_BOT_TOKEN": "123:abc"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			var cfg Config
			require.NoError(t, envconfig.Process("", &cfg))
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDSN(t *testing.T) {
	cfg := PostgresConfig{User: "u", Password: "p", Host: "db", Port: "5432", DBName: "ledger", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@db:5432/ledger?sslmode=disable&client_encoding=UTF8", cfg.DSN())
}
