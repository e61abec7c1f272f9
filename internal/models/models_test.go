package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoverageRatio(t *testing.T) {
	assert.Equal(t, CoverageSentinel, CoverageRatio(decimal.NewFromInt(5), decimal.Zero))
	assert.InDelta(t, 0.5, CoverageRatio(decimal.NewFromInt(5), decimal.NewFromInt(10)), 1e-9)
}

func TestHealthBoundaries(t *testing.T) {
	cases := []struct {
		ratio     float64
		treasury  HealthStatus
		liability HealthStatus
	}{
		{0.49, HealthCritical, HealthCritical},
		{0.5, HealthCritical, HealthWarning},
		{1.0, HealthLow, HealthWarning},
		{1.1, HealthLow, HealthHealthy},
		{1.2, HealthHealthy, HealthHealthy},
		{CoverageSentinel, HealthHealthy, HealthHealthy},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.treasury, TreasuryHealth(tc.ratio), "treasury %v", tc.ratio)
		assert.Equal(t, tc.liability, LiabilityHealth(tc.ratio), "liability %v", tc.ratio)
	}
}

func TestNormalizeGatewayStatus(t *testing.T) {
	assert.Equal(t, PaymentSuccess, NormalizeGatewayStatus(" Succeeded "))
	assert.Equal(t, PaymentFailed, NormalizeGatewayStatus("declined"))
	assert.Equal(t, PaymentCancelled, NormalizeGatewayStatus("expired"))
	assert.Equal(t, PaymentPending, NormalizeGatewayStatus("requires_payment"))
	assert.Equal(t, PaymentPending, NormalizeGatewayStatus(""))
}

func TestClaimTypeRewardTypes(t *testing.T) {
	assert.Equal(t, []RewardType{RewardInstantCashback}, ClaimInstant.RewardTypes())
	assert.Equal(t, []RewardType{RewardReferral}, ClaimReferral.RewardTypes())
	assert.NotContains(t, ClaimAll.RewardTypes(), RewardAPY)
	assert.Nil(t, ClaimType("APY_REWARD").RewardTypes())

	ct, err := ParseClaimType(" all ")
	require.NoError(t, err)
	assert.Equal(t, ClaimAll, ct)
	_, err = ParseClaimType("APY_REWARD")
	assert.Error(t, err)
}

func TestMetadataScan(t *testing.T) {
	var m Metadata
	require.NoError(t, m.Scan([]byte(`{"confirmation_queued":true,"errorKind":"transient"}`)))
	assert.True(t, m.Bool(MetaConfirmationQueued))
	assert.Equal(t, ErrorKindTransient, m.String(MetaErrorKind))
	assert.False(t, m.Bool("missing"))

	require.NoError(t, m.Scan(nil))
	assert.Empty(t, m)
	assert.Error(t, m.Scan(42))

	var empty Metadata
	v, err := empty.Value()
	require.NoError(t, err)
	assert.Equal(t, "{}", v)
}
