package alerts

import (
	"context"
	"errors"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	sent   []tgbotapi.MessageConfig
	failOn map[int64]bool
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	msg := c.(tgbotapi.MessageConfig)
	if f.failOn[msg.ChatID] {
		return tgbotapi.Message{}, errors.New("Forbidden: bot was blocked by the user")
	}
	f.sent = append(f.sent, msg)
	return tgbotapi.Message{MessageID: len(f.sent)}, nil
}

func TestNewTelegramAlerterRequiresToken(t *testing.T) {
	_, err := NewTelegramAlerter("", []int64{1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bot token is required")
}

func TestTelegramAlerterSend(t *testing.T) {
	sender := &fakeSender{failOn: map[int64]bool{2: true}}
	alerter := &TelegramAlerter{api: sender, chatIDs: []int64{1, 2, 3}}

	err := alerter.Send(context.Background(), Alert{
		Title:     "Front Disconnected",
		Message:   "trader front disconnected",
		Severity:  SeverityCritical,
		Timestamp: time.Date(2024, 12, 2, 9, 0, 0, 0, time.UTC),
		Metadata:  map[string]any{"source": "trading", "reason": 4097},
	})
	require.NoError(t, err, "partial delivery is not an error")
	require.Len(t, sender.sent, 2)
	assert.Equal(t, int64(1), sender.sent[0].ChatID)
	assert.Equal(t, int64(3), sender.sent[1].ChatID)
	assert.Equal(t,
		"[CRITICAL] Front Disconnected\n\ntrader front disconnected\n\nreason: 4097\nsource: trading\n\nTime: 2024-12-02 09:00:00",
		sender.sent[0].Text)
}

func TestTelegramAlerterAllChatsFail(t *testing.T) {
	sender := &fakeSender{failOn: map[int64]bool{1: true}}
	alerter := &TelegramAlerter{api: sender, chatIDs: []int64{1}}

	err := alerter.Send(context.Background(), Alert{Title: "Login Failed"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to send alert to any chat")
}

func TestTelegramAlerterNoChats(t *testing.T) {
	sender := &fakeSender{}
	alerter := &TelegramAlerter{api: sender}
	assert.NoError(t, alerter.Send(context.Background(), Alert{Title: "Order Rejected"}))
	assert.Empty(t, sender.sent)
}

func TestTelegramAlerterChatIDs(t *testing.T) {
	alerter := &TelegramAlerter{chatIDs: []int64{123456789}}

	alerter.AddChatID(987654321)
	alerter.AddChatID(123456789)
	assert.Equal(t, []int64{123456789, 987654321}, alerter.ChatIDs())

	alerter.RemoveChatID(123456789)
	alerter.RemoveChatID(42)
	assert.Equal(t, []int64{987654321}, alerter.ChatIDs())
}
