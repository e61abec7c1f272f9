package command

import (
	"context"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

type StartCommand struct {
	b *bot.Bot
}

func NewStartCommand(b *bot.Bot) *StartCommand {
	return &StartCommand{b}
}

func (c *StartCommand) Execute(ctx context.Context, msg *models.Message) {
	reply(ctx, c.b, msg.Chat.ID, c.generateMessageResponse())
}

func (c *StartCommand) generateMessageResponse() string {
	return `<b>Stakeledger ops</b>

Use the menu to check treasury coverage, the liability report and open reconciliation gaps.
<code>/resolve ID</code> closes a gap once it has been handled.`
}
