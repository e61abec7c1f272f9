package command

import (
	"context"
	"stakeledger/internal/config"
	appModels "stakeledger/internal/models"
	"stakeledger/internal/opsbot/buttons"
	"stakeledger/internal/util"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

var log = config.InitLogger()

type Command interface {
	Execute(ctx context.Context, msg *models.Message)
}

type TreasuryReader interface {
	GetTreasuryStats(ctx context.Context) (*appModels.TreasuryStats, error)
	GetLiabilityReport(ctx context.Context) (*appModels.LiabilityReport, error)
}

type ReconciliationBook interface {
	Open(ctx context.Context, limit int) ([]appModels.ReconciliationEvent, error)
	Resolve(ctx context.Context, id int64) (bool, error)
}

func reply(ctx context.Context, b *bot.Bot, chatId int64, text string) {
	markup := util.CreateButtonsReplay(2, buttons.Menu...)
	if _, err := util.SendTextMessageMarkup(ctx, b, chatId, text, markup); err != nil {
		log.Error("Failed to reply in ops chat: ", err)
	}
}
