package command

import (
	"context"
	"fmt"
	"html"
	"stakeledger/internal/util"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

const gapsPageSize = 10

type OpenGapsCommand struct {
	b     *bot.Bot
	recon ReconciliationBook
}

func NewOpenGapsCommand(b *bot.Bot, recon ReconciliationBook) *OpenGapsCommand {
	return &OpenGapsCommand{b: b, recon: recon}
}

func (c *OpenGapsCommand) Execute(ctx context.Context, msg *models.Message) {
	reply(ctx, c.b, msg.Chat.ID, c.generateMessageResponse(ctx))
}

func (c *OpenGapsCommand) generateMessageResponse(ctx context.Context) string {
	events, err := c.recon.Open(ctx, gapsPageSize)
	if err != nil {
		log.Error("Ops open gaps failed: ", err)
		return "Failed to load reconciliation gaps: " + html.EscapeString(err.Error())
	}
	if len(events) == 0 {
		return "🟢 No open reconciliation gaps"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "<b>⚠️ Open gaps</b> (oldest %d)\n", len(events))
	for _, ev := range events {
		fmt.Fprintf(&sb, "\n<b>#%d</b> %s\n%s · %s\n",
			ev.Id,
			html.EscapeString(ev.Kind),
			html.EscapeString(ev.WalletAddress),
			util.FormatAmount(ev.Amount),
		)
		if ev.TxHash != "" {
			fmt.Fprintf(&sb, "Tx: <code>%s</code>\n", html.EscapeString(ev.TxHash))
		}
		if ev.Detail != "" {
			sb.WriteString(html.EscapeString(ev.Detail) + "\n")
		}
	}
	return sb.String()
}

type ResolveGapCommand struct {
	b     *bot.Bot
	recon ReconciliationBook
}

func NewResolveGapCommand(b *bot.Bot, recon ReconciliationBook) *ResolveGapCommand {
	return &ResolveGapCommand{b: b, recon: recon}
}

func (c *ResolveGapCommand) Execute(ctx context.Context, msg *models.Message) {
	reply(ctx, c.b, msg.Chat.ID, c.generateMessageResponse(ctx, msg.Text))
}

// generateMessageResponse expects "/resolve <id>".
func (c *ResolveGapCommand) generateMessageResponse(ctx context.Context, text string) string {
	fields := strings.Fields(text)
	if len(fields) != 2 {
		return "Usage: <code>/resolve ID</code>"
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(fields[1], "#"), 10, 64)
	if err != nil || id <= 0 {
		return "Usage: <code>/resolve ID</code>"
	}

	ok, err := c.recon.Resolve(ctx, id)
	if err != nil {
		log.Error("Ops resolve gap failed: ", err)
		return "Failed to resolve gap: " + html.EscapeString(err.Error())
	}
	if !ok {
		return fmt.Sprintf("Gap #%d is unknown or already resolved", id)
	}
	return fmt.Sprintf("✅ Gap #%d resolved", id)
}
