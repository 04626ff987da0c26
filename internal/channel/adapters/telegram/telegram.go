// Package telegram adapts the Telegram Bot API to the channel contract.
// Inbound traffic arrives as webhook updates; outbound replies go through
// sendMessage with a typing action first.
package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/vionhq/vion/internal/channel"
)

const maxMessageLength = 4096

// Adapter implements channel.Adapter for Telegram.
type Adapter struct {
	logger   *slog.Logger
	endpoint string

	mu   sync.RWMutex
	bots map[string]*tgbotapi.BotAPI // keyed by bot token
}

// NewAdapter creates a Telegram adapter. The API endpoint is overridable for
// tests.
func NewAdapter(log *slog.Logger) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{
		logger:   log.With(slog.String("adapter", "telegram")),
		endpoint: tgbotapi.APIEndpoint,
		bots:     make(map[string]*tgbotapi.BotAPI),
	}
}

// Type returns the Telegram channel type.
func (a *Adapter) Type() channel.Type {
	return channel.TypeTelegram
}

func (a *Adapter) getOrCreateBot(token string) (*tgbotapi.BotAPI, error) {
	a.mu.RLock()
	bot, ok := a.bots[token]
	a.mu.RUnlock()
	if ok {
		return bot, nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if bot, ok := a.bots[token]; ok {
		return bot, nil
	}
	bot, err := tgbotapi.NewBotAPIWithAPIEndpoint(token, a.endpoint)
	if err != nil {
		a.logger.Error("create bot failed", slog.Any("error", err))
		return nil, err
	}
	a.bots[token] = bot
	return bot, nil
}

// Normalize parses a webhook update. Updates without a text message, and
// messages authored by bots, are ignored.
func (a *Adapter) Normalize(raw []byte) (channel.Inbound, bool, error) {
	var update tgbotapi.Update
	if err := json.Unmarshal(raw, &update); err != nil {
		return channel.Inbound{}, false, fmt.Errorf("decode update: %w", err)
	}
	msg := update.Message
	if msg == nil || msg.Chat == nil {
		return channel.Inbound{}, false, nil
	}
	if msg.From != nil && msg.From.IsBot {
		return channel.Inbound{}, false, nil
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return channel.Inbound{}, false, nil
	}

	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	return channel.Inbound{
		Channel:       channel.TypeTelegram,
		ParticipantID: chatID,
		ReplyTarget:   chatID,
		Text:          text,
		ExternalID:    strconv.Itoa(msg.MessageID),
		ReceivedAt:    time.Unix(int64(msg.Date), 0).UTC(),
	}, true, nil
}

// Dispatch sends a typing action followed by the reply text.
func (a *Adapter) Dispatch(ctx context.Context, cred channel.Credential, msg channel.Outbound) error {
	if !cred.Connected || cred.AuthSecret == "" {
		return channel.ErrNotConnected
	}
	if msg.IsEmpty() {
		return fmt.Errorf("message is required")
	}
	chatID, err := strconv.ParseInt(strings.TrimSpace(msg.Target), 10, 64)
	if err != nil {
		return fmt.Errorf("telegram target must be a chat id: %w", err)
	}
	bot, err := a.getOrCreateBot(cred.AuthSecret)
	if err != nil {
		return err
	}

	if _, err := bot.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)); err != nil {
		a.logger.Warn("send typing action failed", slog.Any("error", err))
	}
	out := tgbotapi.NewMessage(chatID, truncateText(sanitizeText(msg.Text)))
	if _, err := bot.Send(out); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// ValidateCredential calls getMe and returns the bot's identity.
func (a *Adapter) ValidateCredential(ctx context.Context, cred channel.Credential) (channel.Identity, error) {
	if strings.TrimSpace(cred.AuthSecret) == "" {
		return channel.Identity{}, fmt.Errorf("bot token is required")
	}
	bot, err := tgbotapi.NewBotAPIWithAPIEndpoint(cred.AuthSecret, a.endpoint)
	if err != nil {
		return channel.Identity{}, fmt.Errorf("validate bot token: %w", err)
	}
	return channel.Identity{
		ExternalAccountID: strconv.FormatInt(bot.Self.ID, 10),
		DisplayName:       bot.Self.UserName,
	}, nil
}

// RegisterWebhook points the bot's webhook at our callback URL.
func (a *Adapter) RegisterWebhook(ctx context.Context, cred channel.Credential, callbackURL string) error {
	bot, err := a.getOrCreateBot(cred.AuthSecret)
	if err != nil {
		return err
	}
	wh, err := tgbotapi.NewWebhook(callbackURL)
	if err != nil {
		return fmt.Errorf("build webhook config: %w", err)
	}
	if _, err := bot.Request(wh); err != nil {
		return fmt.Errorf("register webhook: %w", err)
	}
	a.logger.Info("webhook registered", slog.String("url", callbackURL))
	return nil
}

// sanitizeText strips invalid UTF-8 sequences the Telegram API rejects.
func sanitizeText(text string) string {
	if utf8.ValidString(text) {
		return text
	}
	return strings.ToValidUTF8(text, "")
}

// truncateText cuts text to the Telegram message limit on a rune boundary.
func truncateText(text string) string {
	if len(text) <= maxMessageLength {
		return text
	}
	const suffix = "..."
	limit := maxMessageLength - len(suffix)
	for limit > 0 && !utf8.RuneStart(text[limit]) {
		limit--
	}
	return text[:limit] + suffix
}
