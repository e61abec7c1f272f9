package opsbot

import (
	"context"
	"stakeledger/internal/config"
	"stakeledger/internal/opsbot/buttons"
	"stakeledger/internal/opsbot/command"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

var log = config.InitLogger()

// OpsBot answers treasury and reconciliation queries in the ops chat.
// Messages from any other chat are ignored.
type OpsBot struct {
	chatId   int64
	treasury command.TreasuryReader
	recon    command.ReconciliationBook
}

func New(chatId int64, treasury command.TreasuryReader, recon command.ReconciliationBook) *OpsBot {
	return &OpsBot{
		chatId:   chatId,
		treasury: treasury,
		recon:    recon,
	}
}

func (o *OpsBot) Register(b *bot.Bot) {
	b.RegisterHandlerMatchFunc(o.match, o.handler)
}

func (o *OpsBot) match(update *models.Update) bool {
	return update != nil && update.Message != nil && update.Message.Chat.ID == o.chatId
}

func (o *OpsBot) handler(ctx context.Context, b *bot.Bot, update *models.Update) {
	msg := update.Message
	cmd := o.route(b, msg.Text)
	if cmd == nil {
		return
	}
	log.WithField("chat", msg.Chat.ID).Debug("Ops command: ", msg.Text)
	cmd.Execute(ctx, msg)
}

func (o *OpsBot) route(b *bot.Bot, text string) command.Command {
	text = strings.TrimSpace(text)

	switch {
	case strings.HasPrefix(text, "/start"):
		return command.NewStartCommand(b)
	case text == buttons.Treasury || text == "/treasury":
		return command.NewTreasuryCommand(b, o.treasury)
	case text == buttons.Liabilities || text == "/liabilities":
		return command.NewLiabilitiesCommand(b, o.treasury)
	case text == buttons.OpenGaps || text == "/gaps":
		return command.NewOpenGapsCommand(b, o.recon)
	case strings.HasPrefix(text, "/resolve"):
		return command.NewResolveGapCommand(b, o.recon)
	}
	return nil
}
