package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthLow      HealthStatus = "low"
	HealthWarning  HealthStatus = "warning"
	HealthCritical HealthStatus = "critical"
)

// CoverageSentinel stands in for the ratio when nothing is owed.
const CoverageSentinel = 999999.0

// CoverageRatio divides the reward pool by outstanding liabilities.
func CoverageRatio(available, liabilities decimal.Decimal) float64 {
	if !liabilities.IsPositive() {
		return CoverageSentinel
	}
	ratio, _ := available.Div(liabilities).Float64()
	return ratio
}

// TreasuryHealth classifies claim-ready coverage.
func TreasuryHealth(ratio float64) HealthStatus {
	switch {
	case ratio < 1:
		return HealthCritical
	case ratio < 1.2:
		return HealthLow
	default:
		return HealthHealthy
	}
}

// LiabilityHealth classifies the stricter exposure view, which also counts
// stakes created by the admin for card payments.
func LiabilityHealth(ratio float64) HealthStatus {
	switch {
	case ratio < 0.5:
		return HealthCritical
	case ratio <= 1.0:
		return HealthWarning
	default:
		return HealthHealthy
	}
}

type Liabilities struct {
	OnChainPending   decimal.Decimal `json:"onChainPending"`
	OffChainPending  decimal.Decimal `json:"offChainPending"`
	TotalLiabilities decimal.Decimal `json:"totalLiabilities"`
	WalletsScanned   int             `json:"walletsScanned"`
	WalletsFailed    int             `json:"walletsFailed"`
	ComputedAt       time.Time       `json:"computedAt"`
}

type TreasuryStats struct {
	ContractBalance    decimal.Decimal `json:"contractBalance"`
	TotalStaked        decimal.Decimal `json:"totalStaked"`
	AvailableRewards   decimal.Decimal `json:"availableRewards"`
	PendingLiabilities decimal.Decimal `json:"pendingLiabilities"`
	Surplus            decimal.Decimal `json:"surplus"`
	CoverageRatio      float64         `json:"coverageRatio"`
	HealthStatus       HealthStatus    `json:"healthStatus"`
	Paused             bool            `json:"paused"`
	Liabilities        Liabilities     `json:"liabilities"`
}

type LiabilityReport struct {
	AvailableRewards    decimal.Decimal `json:"availableRewards"`
	PendingLiabilities  decimal.Decimal `json:"pendingLiabilities"`
	CardStakePrincipal  decimal.Decimal `json:"cardStakePrincipal"`
	CardStakeCount      int             `json:"cardStakeCount"`
	CoverageRatio       float64         `json:"coverageRatio"`
	HealthStatus        HealthStatus    `json:"healthStatus"`
	OpenReconciliations int             `json:"openReconciliations"`
	Liabilities         Liabilities     `json:"liabilities"`
}
