package notify

import (
	"context"
	"stakeledger/internal/util"

	"github.com/go-telegram/bot"
	"github.com/sirupsen/logrus"
)

// TelegramSender posts notifications to one ops chat.
type TelegramSender struct {
	bot    *bot.Bot
	chatId int64
}

func NewTelegramSender(b *bot.Bot, chatId int64) *TelegramSender {
	return &TelegramSender{bot: b, chatId: chatId}
}

func (s *TelegramSender) Send(ctx context.Context, n Notification) error {
	_, err := util.SendTextMessage(ctx, s.bot, s.chatId, n.Text)
	return err
}

// LogSender writes notifications to the log. Used when no bot token is configured.
type LogSender struct{}

func (LogSender) Send(_ context.Context, n Notification) error {
	log.WithFields(logrus.Fields{"kind": n.Kind, "reference": n.Reference}).Info(n.Text)
	return nil
}
