package util

import (
	"context"
	"stakeledger/internal/config"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

var log = config.InitLogger()

func SendTextMessage(ctx context.Context, bt *bot.Bot, chatId int64, text string) (*models.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	message, err := bt.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    chatId,
		Text:      text,
		ParseMode: models.ParseModeHTML,
	})
	if err != nil {
		log.Error("Failed to send message: ", err)
		return nil, err
	}

	return message, nil
}

func SendTextMessageMarkup(ctx context.Context, bt *bot.Bot, chatId int64, text string, markup models.ReplyMarkup) (*models.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	message, err := bt.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:      chatId,
		Text:        text,
		ParseMode:   models.ParseModeHTML,
		ReplyMarkup: markup,
	})
	if err != nil {
		log.Error("Failed to send message: ", err)
		return nil, err
	}
	return message, nil
}

// CreateButtonsReplay lays the buttons out as a reply keyboard with perRow buttons per row.
func CreateButtonsReplay(perRow int, texts ...string) *models.ReplyKeyboardMarkup {
	if perRow < 1 {
		perRow = 1
	}
	rows := make([][]models.KeyboardButton, 0, (len(texts)+perRow-1)/perRow)
	for i := 0; i < len(texts); i += perRow {
		end := min(i+perRow, len(texts))
		row := make([]models.KeyboardButton, 0, end-i)
		for _, t := range texts[i:end] {
			row = append(row, models.KeyboardButton{Text: t})
		}
		rows = append(rows, row)
	}

	return &models.ReplyKeyboardMarkup{
		Keyboard:       rows,
		ResizeKeyboard: true,
	}
}
