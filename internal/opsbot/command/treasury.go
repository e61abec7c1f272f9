package command

import (
	"context"
	"fmt"
	"html"
	appModels "stakeledger/internal/models"
	"stakeledger/internal/util"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

type TreasuryCommand struct {
	b        *bot.Bot
	treasury TreasuryReader
}

func NewTreasuryCommand(b *bot.Bot, treasury TreasuryReader) *TreasuryCommand {
	return &TreasuryCommand{b: b, treasury: treasury}
}

func (c *TreasuryCommand) Execute(ctx context.Context, msg *models.Message) {
	reply(ctx, c.b, msg.Chat.ID, c.generateMessageResponse(ctx))
}

func (c *TreasuryCommand) generateMessageResponse(ctx context.Context) string {
	stats, err := c.treasury.GetTreasuryStats(ctx)
	if err != nil {
		log.Error("Ops treasury stats failed: ", err)
		return "Failed to read treasury stats: " + html.EscapeString(err.Error())
	}

	res := `<b>%v Treasury</b>

Contract balance: %s
Total staked: %s
Available rewards: %s
Pending liabilities: %s
Surplus: %s
Coverage: %.2f (%s)
Wallets failed: %d`
	text := fmt.Sprintf(res,
		healthIcon(stats.HealthStatus),
		util.FormatAmount(stats.ContractBalance),
		util.FormatAmount(stats.TotalStaked),
		util.FormatAmount(stats.AvailableRewards),
		util.FormatAmount(stats.PendingLiabilities),
		util.FormatAmount(stats.Surplus),
		stats.CoverageRatio,
		stats.HealthStatus,
		stats.Liabilities.WalletsFailed,
	)
	if stats.Paused {
		text += "\n\n⏸ Staking is paused"
	}
	return text
}

type LiabilitiesCommand struct {
	b        *bot.Bot
	treasury TreasuryReader
}

func NewLiabilitiesCommand(b *bot.Bot, treasury TreasuryReader) *LiabilitiesCommand {
	return &LiabilitiesCommand{b: b, treasury: treasury}
}

func (c *LiabilitiesCommand) Execute(ctx context.Context, msg *models.Message) {
	reply(ctx, c.b, msg.Chat.ID, c.generateMessageResponse(ctx))
}

func (c *LiabilitiesCommand) generateMessageResponse(ctx context.Context) string {
	report, err := c.treasury.GetLiabilityReport(ctx)
	if err != nil {
		log.Error("Ops liability report failed: ", err)
		return "Failed to build liability report: " + html.EscapeString(err.Error())
	}

	res := `<b>%v Liabilities</b>

On-chain pending: %s
Off-chain pending: %s
Card stake principal: %s (%s)
Available rewards: %s
Coverage: %.2f (%s)
Open gaps: %d`
	return fmt.Sprintf(res,
		healthIcon(report.HealthStatus),
		util.FormatAmount(report.Liabilities.OnChainPending),
		util.FormatAmount(report.Liabilities.OffChainPending),
		util.FormatAmount(report.CardStakePrincipal),
		util.CountLabel(report.CardStakeCount, util.SuffixStake),
		util.FormatAmount(report.AvailableRewards),
		report.CoverageRatio,
		report.HealthStatus,
		report.OpenReconciliations,
	)
}

func healthIcon(status appModels.HealthStatus) string {
	switch status {
	case appModels.HealthCritical:
		return "🔴"
	case appModels.HealthLow, appModels.HealthWarning:
		return "🟡"
	}
	return "🟢"
}
