package opsbot

import (
	"testing"

	"stakeledger/internal/opsbot/buttons"
	"stakeledger/internal/opsbot/command"

	"github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/assert"
)

func TestMatchOnlyOpsChat(t *testing.T) {
	o := New(42, nil, nil)

	assert.True(t, o.match(&models.Update{Message: &models.Message{Chat: models.Chat{ID: 42}}}))
	assert.False(t, o.match(&models.Update{Message: &models.Message{Chat: models.Chat{ID: 7}}}))
	assert.False(t, o.match(&models.Update{}))
	assert.False(t, o.match(nil))
}

func TestRoute(t *testing.T) {
	o := New(42, nil, nil)

	tests := []struct {
		text string
		want command.Command
	}{
		{"/start", &command.StartCommand{}},
		{buttons.Treasury, &command.TreasuryCommand{}},
		{"/treasury", &command.TreasuryCommand{}},
		{buttons.Liabilities, &command.LiabilitiesCommand{}},
		{" /gaps ", &command.OpenGapsCommand{}},
		{buttons.OpenGaps, &command.OpenGapsCommand{}},
		{"/resolve 3", &command.ResolveGapCommand{}},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.IsType(t, tt.want, o.route(nil, tt.text))
		})
	}

	assert.Nil(t, o.route(nil, "hello"))
}
