package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"researchbot/internal/domain"
)

const (
	telegramMaxMsgLen      = 4096
	telegramMaxSendRetries = 3
	// telegramLogCap bounds the per-chat message log that stands in for
	// history, which the Bot API cannot read.
	telegramLogCap = 500
)

// Telegram implements domain.Transport with long polling. The Bot API has no
// history endpoint, so the transport keeps a bounded log of every message it
// has seen or sent per chat and answers History and FetchMessage from it.
type Telegram struct {
	allow     allowSet
	parseMode string
	bot       *tgbotapi.BotAPI
	http      *http.Client
	logger    *slog.Logger

	log    *messageLog
	mu     sync.Mutex
	titles map[string]string

	retryDelay time.Duration
}

type TelegramConfig struct {
	Token     string
	AllowFrom []string
	ParseMode string
	// Endpoint overrides the Bot API URL pattern (tgbotapi.APIEndpoint).
	Endpoint   string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// NewTelegram authenticates the token (one getMe call) and returns a ready
// transport.
func NewTelegram(cfg TelegramConfig) (*Telegram, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = tgbotapi.APIEndpoint
	}
	client := cfg.HTTPClient
	if client == nil {
		client = defaultHTTPClient
	}
	if cfg.ParseMode == "" {
		cfg.ParseMode = tgbotapi.ModeMarkdown
	}

	bot, err := tgbotapi.NewBotAPIWithClient(cfg.Token, cfg.Endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}

	return &Telegram{
		allow:      newAllowSet(cfg.AllowFrom),
		parseMode:  cfg.ParseMode,
		bot:        bot,
		http:       client,
		logger:     cfg.Logger,
		log:        newMessageLog(telegramLogCap),
		titles:     make(map[string]string),
		retryDelay: time.Second,
	}, nil
}

func (t *Telegram) Name() string { return "telegram" }

// Start polls for updates until ctx is cancelled.
func (t *Telegram) Start(ctx context.Context, bus domain.MessageBus) error {
	t.logger.Info("telegram bot connected", "username", t.bot.Self.UserName, "id", t.bot.Self.ID)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := t.bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			t.bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if msg, ok := t.inbound(update); ok {
				bus.Publish(msg)
			}
		}
	}
}

// Stop is a no-op; polling ends with Start's context. StopReceivingUpdates
// panics if called twice.
func (t *Telegram) Stop() error { return nil }

func (t *Telegram) inbound(update tgbotapi.Update) (domain.InboundMessage, bool) {
	m := update.Message
	if m == nil || m.From == nil || m.Chat == nil {
		return domain.InboundMessage{}, false
	}
	authorID := strconv.FormatInt(m.From.ID, 10)
	if !t.allow.permits(authorID) {
		t.logger.Warn("telegram author not allowed", "user_id", authorID, "username", m.From.UserName)
		return domain.InboundMessage{}, false
	}

	text := m.Text
	if text == "" {
		text = m.Caption
	}

	chatID := strconv.FormatInt(m.Chat.ID, 10)
	msg := domain.InboundMessage{
		Platform:   t.Name(),
		ChannelID:  chatID,
		MessageID:  strconv.Itoa(m.MessageID),
		AuthorID:   authorID,
		AuthorName: m.From.String(),
		Content:    text,
		Timestamp:  m.Time(),
	}
	if handle := "@" + t.bot.Self.UserName; t.bot.Self.UserName != "" && strings.Contains(text, handle) {
		msg.MentionsBot = true
		msg.Content = strings.TrimSpace(strings.ReplaceAll(text, handle, ""))
	}
	if d := m.Document; d != nil {
		msg.Attachments = append(msg.Attachments, domain.Attachment{
			ID:       d.FileID,
			Filename: d.FileName,
			Size:     d.FileSize,
		})
	}
	if strings.TrimSpace(msg.Content) == "" && len(msg.Attachments) == 0 {
		return domain.InboundMessage{}, false
	}

	t.mu.Lock()
	if m.Chat.Title != "" {
		t.titles[chatID] = m.Chat.Title
	}
	t.mu.Unlock()
	t.log.record(domain.ChannelMessage{
		ID:         msg.MessageID,
		ChannelID:  chatID,
		AuthorName: msg.AuthorName,
		Content:    text,
		CreatedAt:  msg.Timestamp,
	})

	t.logger.Info("telegram message received", "user_id", authorID, "chat_id", chatID, "text_len", len(text))
	return msg, true
}

func parseChatID(id string) (int64, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid telegram chat ID %q", domain.ErrChannelNotFound, id)
	}
	return n, nil
}

// Send tries the configured parse mode first and falls back to plain text when
// Telegram rejects the markup. Rate limits and transient errors are retried.
func (t *Telegram) Send(ctx context.Context, channelID, content string) (string, error) {
	chatID, err := parseChatID(channelID)
	if err != nil {
		return "", err
	}

	parseMode := t.parseMode
	var lastErr error
	for attempt := 0; attempt <= telegramMaxSendRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		cfg := tgbotapi.NewMessage(chatID, content)
		cfg.ParseMode = parseMode

		sent, err := t.bot.Send(cfg)
		if err == nil {
			id := strconv.Itoa(sent.MessageID)
			t.log.record(domain.ChannelMessage{
				ID:         id,
				ChannelID:  channelID,
				AuthorName: t.bot.Self.UserName,
				Content:    content,
				CreatedAt:  sent.Time(),
			})
			return id, nil
		}
		lastErr = err

		if parseMode != "" && strings.Contains(err.Error(), "can't parse entities") {
			t.logger.Warn("telegram markup rejected, retrying as plain text", "err", err)
			parseMode = ""
			continue
		}
		if strings.Contains(err.Error(), "chat not found") {
			return "", fmt.Errorf("telegram send: %w: %v", domain.ErrChannelNotFound, err)
		}

		backoff := time.Duration(attempt+1) * t.retryDelay
		var apiErr *tgbotapi.Error
		if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
			backoff = time.Duration(apiErr.RetryAfter) * time.Second
		}
		if attempt < telegramMaxSendRetries {
			t.logger.Warn("telegram send error, retrying", "err", err, "backoff", backoff)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return "", fmt.Errorf("telegram send failed after %d attempts: %w", telegramMaxSendRetries+1, lastErr)
}

func (t *Telegram) Typing(ctx context.Context, channelID string) error {
	chatID, err := parseChatID(channelID)
	if err != nil {
		return err
	}
	_, err = t.bot.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping))
	return err
}

// History returns the tail of the transport's own log for the chat.
func (t *Telegram) History(_ context.Context, channelID string, limit int) ([]domain.ChannelMessage, error) {
	return t.log.tail(channelID, clampLimit(limit, telegramLogCap)), nil
}

func (t *Telegram) FetchMessage(_ context.Context, channelID, messageID string) (*domain.ChannelMessage, error) {
	m, ok := t.log.find(channelID, messageID)
	if !ok {
		return nil, fmt.Errorf("telegram message %s: %w", messageID, domain.ErrMessageNotFound)
	}
	return &m, nil
}

func (t *Telegram) DeleteMessage(_ context.Context, channelID, messageID string) error {
	chatID, err := parseChatID(channelID)
	if err != nil {
		return err
	}
	msgID, err := strconv.Atoi(messageID)
	if err != nil {
		return fmt.Errorf("telegram message %q: %w", messageID, domain.ErrMessageNotFound)
	}

	if _, err := t.bot.Request(tgbotapi.NewDeleteMessage(chatID, msgID)); err != nil {
		if strings.Contains(err.Error(), "not found") {
			return fmt.Errorf("telegram delete: %w: %v", domain.ErrMessageNotFound, err)
		}
		return fmt.Errorf("telegram delete: %w", err)
	}

	t.log.remove(channelID, messageID)
	return nil
}

func (t *Telegram) ReadAttachment(ctx context.Context, att domain.Attachment) ([]byte, error) {
	url, err := t.bot.GetFileDirectURL(att.ID)
	if err != nil {
		return nil, fmt.Errorf("telegram file %s: %w", att.Filename, err)
	}
	return fetchURL(ctx, t.http, url, nil)
}

// MentionChannel uses the chat title when known; Telegram has no channel links.
func (t *Telegram) MentionChannel(channelID string) string {
	t.mu.Lock()
	title := t.titles[channelID]
	t.mu.Unlock()
	if title != "" {
		return "#" + title
	}
	return "chat " + channelID
}

func (t *Telegram) MaxMessageLen() int { return telegramMaxMsgLen }

var _ domain.Transport = (*Telegram)(nil)
