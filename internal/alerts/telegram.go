package alerts

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
)

// messageSender is the part of tgbotapi.BotAPI the alerter uses.
type messageSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramAlerter sends alerts via Telegram bot
type TelegramAlerter struct {
	api     messageSender
	mu      sync.RWMutex
	chatIDs []int64
}

// NewTelegramAlerter creates a new Telegram-based alerter. It contacts the
// Bot API once to validate the token.
func NewTelegramAlerter(botToken string, chatIDs []int64) (*TelegramAlerter, error) {
	if botToken == "" {
		return nil, fmt.Errorf("bot token is required")
	}

	api, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot API: %w", err)
	}

	log.Info().
		Str("bot_username", api.Self.UserName).
		Int("chat_count", len(chatIDs)).
		Msg("Telegram alerter initialized")

	return &TelegramAlerter{api: api, chatIDs: chatIDs}, nil
}

// Send sends an alert to every configured chat. It fails only when no chat
// received the alert.
func (t *TelegramAlerter) Send(ctx context.Context, alert Alert) error {
	chats := t.ChatIDs()
	if len(chats) == 0 {
		log.Warn().Msg("No Telegram chat IDs configured, skipping alert")
		return nil
	}

	text := formatAlert(alert)
	var lastErr error
	sent := 0
	for _, chatID := range chats {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := t.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
			log.Error().
				Err(err).
				Int64("chat_id", chatID).
				Str("alert_title", alert.Title).
				Msg("Failed to send Telegram alert")
			lastErr = err
			continue
		}
		sent++
	}

	if sent == 0 && lastErr != nil {
		return fmt.Errorf("failed to send alert to any chat: %w", lastErr)
	}
	return nil
}

// formatAlert renders an alert as plain text with sorted details.
func formatAlert(alert Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s\n\n%s", alert.Severity, alert.Title, alert.Message)

	if len(alert.Metadata) > 0 {
		keys := make([]string, 0, len(alert.Metadata))
		for k := range alert.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "\n%s: %v", k, alert.Metadata[k])
		}
	}

	fmt.Fprintf(&b, "\n\nTime: %s", alert.Timestamp.Format("2006-01-02 15:04:05"))
	return b.String()
}

// AddChatID adds a chat ID to the alerter
func (t *TelegramAlerter) AddChatID(chatID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range t.chatIDs {
		if id == chatID {
			return
		}
	}
	t.chatIDs = append(t.chatIDs, chatID)
}

// RemoveChatID removes a chat ID from the alerter
func (t *TelegramAlerter) RemoveChatID(chatID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, id := range t.chatIDs {
		if id == chatID {
			t.chatIDs = append(t.chatIDs[:i], t.chatIDs[i+1:]...)
			return
		}
	}
}

// ChatIDs returns a copy of the configured chat IDs.
func (t *TelegramAlerter) ChatIDs() []int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]int64(nil), t.chatIDs...)
}
