package command

import (
	"context"
	"errors"
	"testing"

	appModels "stakeledger/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

type stubTreasury struct {
	stats  *appModels.TreasuryStats
	report *appModels.LiabilityReport
	err    error
}

func (s *stubTreasury) GetTreasuryStats(context.Context) (*appModels.TreasuryStats, error) {
	return s.stats, s.err
}

func (s *stubTreasury) GetLiabilityReport(context.Context) (*appModels.LiabilityReport, error) {
	return s.report, s.err
}

type stubBook struct {
	events   []appModels.ReconciliationEvent
	resolved map[int64]bool
	err      error
}

func (s *stubBook) Open(context.Context, int) ([]appModels.ReconciliationEvent, error) {
	return s.events, s.err
}

func (s *stubBook) Resolve(_ context.Context, id int64) (bool, error) {
	return s.resolved[id], s.err
}

func TestTreasuryMessage(t *testing.T) {
	tr := &stubTreasury{stats: &appModels.TreasuryStats{
		ContractBalance:    decimal.NewFromInt(1234567),
		AvailableRewards:   decimal.NewFromInt(100),
		PendingLiabilities: decimal.NewFromInt(120),
		CoverageRatio:      0.83,
		HealthStatus:       appModels.HealthCritical,
		Paused:             true,
	}}

	text := NewTreasuryCommand(nil, tr).generateMessageResponse(context.Background())
	assert.Contains(t, text, "🔴")
	assert.Contains(t, text, "1,234,567.00")
	assert.Contains(t, text, "Coverage: 0.83 (critical)")
	assert.Contains(t, text, "paused")

	tr.err = errors.New("rpc <down>")
	text = NewTreasuryCommand(nil, tr).generateMessageResponse(context.Background())
	assert.Contains(t, text, "rpc &lt;down&gt;")
}

func TestLiabilitiesMessage(t *testing.T) {
	tr := &stubTreasury{report: &appModels.LiabilityReport{
		CardStakePrincipal:  decimal.NewFromInt(15),
		CardStakeCount:      1,
		CoverageRatio:       1,
		HealthStatus:        appModels.HealthWarning,
		OpenReconciliations: 2,
	}}

	text := NewLiabilitiesCommand(nil, tr).generateMessageResponse(context.Background())
	assert.Contains(t, text, "🟡")
	assert.Contains(t, text, "15.00 (1 stake)")
	assert.Contains(t, text, "Open gaps: 2")
}

func TestOpenGapsMessage(t *testing.T) {
	book := &stubBook{}
	assert.Contains(t, NewOpenGapsCommand(nil, book).generateMessageResponse(context.Background()), "No open")

	book.events = []appModels.ReconciliationEvent{{
		Id:            7,
		Kind:          "claim_record_failed",
		WalletAddress: "0xabc",
		Amount:        decimal.NewFromInt(25),
		TxHash:        "0xtx",
		Detail:        "failed to mark pending rewards claimed",
	}}
	text := NewOpenGapsCommand(nil, book).generateMessageResponse(context.Background())
	assert.Contains(t, text, "#7</b> claim_record_failed")
	assert.Contains(t, text, "<code>0xtx</code>")
	assert.Contains(t, text, "25.00")
}

func TestResolveGapMessage(t *testing.T) {
	book := &stubBook{resolved: map[int64]bool{7: true}}
	cmd := NewResolveGapCommand(nil, book)
	ctx := context.Background()

	assert.Contains(t, cmd.generateMessageResponse(ctx, "/resolve 7"), "Gap #7 resolved")
	assert.Contains(t, cmd.generateMessageResponse(ctx, "/resolve #8"), "already resolved")
	assert.Contains(t, cmd.generateMessageResponse(ctx, "/resolve"), "Usage")
	assert.Contains(t, cmd.generateMessageResponse(ctx, "/resolve x"), "Usage")
}
