package channel

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"researchbot/internal/domain"
)

const (
	slackMaxMsgLen  = 4000
	slackMaxHistory = 200
)

// Slack implements domain.Transport using Socket Mode for events and the Web
// API for everything else. Message IDs are Slack timestamps.
type Slack struct {
	botToken string
	client   *slack.Client
	allow    allowSet
	http     *http.Client
	logger   *slog.Logger
	botUID   string
}

type SlackConfig struct {
	BotToken  string
	AppToken  string
	AllowFrom []string
	// APIURL overrides the Web API base URL.
	APIURL     string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

func NewSlack(cfg SlackConfig) *Slack {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	opts := []slack.Option{slack.OptionAppLevelToken(cfg.AppToken)}
	if cfg.APIURL != "" {
		opts = append(opts, slack.OptionAPIURL(cfg.APIURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, slack.OptionHTTPClient(cfg.HTTPClient))
	}
	return &Slack{
		botToken: cfg.BotToken,
		client:   slack.New(cfg.BotToken, opts...),
		allow:    newAllowSet(cfg.AllowFrom),
		http:     cfg.HTTPClient,
		logger:   cfg.Logger,
	}
}

func (s *Slack) Name() string { return "slack" }

// Start connects over Socket Mode and blocks until ctx is cancelled or the
// socket fails.
func (s *Slack) Start(ctx context.Context, bus domain.MessageBus) error {
	auth, err := s.client.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth: %w", err)
	}
	s.botUID = auth.UserID
	s.logger.Info("slack bot connected", "user", auth.User, "user_id", auth.UserID)

	socket := socketmode.New(s.client)

	go func() {
		for {
			var evt socketmode.Event
			select {
			case <-ctx.Done():
				return
			case evt = <-socket.Events:
			}
			if evt.Request != nil {
				socket.Ack(*evt.Request)
			}
			if evt.Type != socketmode.EventTypeEventsAPI {
				continue
			}
			api, ok := evt.Data.(slackevents.EventsAPIEvent)
			if !ok || api.Type != slackevents.CallbackEvent {
				continue
			}
			ev, ok := api.InnerEvent.Data.(*slackevents.MessageEvent)
			if !ok {
				continue
			}
			if msg, ok := s.inbound(ev); ok {
				bus.Publish(msg)
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() { errCh <- socket.RunContext(ctx) }()

	select {
	case <-ctx.Done():
		s.logger.Info("slack bot disconnecting")
		return nil
	case err := <-errCh:
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("slack socket mode: %w", err)
	}
}

// inbound converts a message event. Edits, deletions, bot posts and
// disallowed authors are dropped.
func (s *Slack) inbound(ev *slackevents.MessageEvent) (domain.InboundMessage, bool) {
	if ev.User == "" || ev.User == s.botUID || ev.BotID != "" {
		return domain.InboundMessage{}, false
	}
	if ev.SubType != "" && ev.SubType != "file_share" {
		return domain.InboundMessage{}, false
	}
	if !s.allow.permits(ev.User) {
		return domain.InboundMessage{}, false
	}

	msg := domain.InboundMessage{
		Platform:   s.Name(),
		ChannelID:  ev.Channel,
		MessageID:  ev.TimeStamp,
		AuthorID:   ev.User,
		AuthorName: ev.User,
		Content:    ev.Text,
		Timestamp:  slackTime(ev.TimeStamp),
	}
	if s.botUID != "" {
		mention := "<@" + s.botUID + ">"
		if strings.Contains(msg.Content, mention) {
			msg.MentionsBot = true
			msg.Content = strings.TrimSpace(strings.ReplaceAll(msg.Content, mention, ""))
		}
	}
	if ev.Message != nil {
		for _, f := range ev.Message.Files {
			msg.Attachments = append(msg.Attachments, domain.Attachment{
				ID:       f.ID,
				Filename: f.Name,
				URL:      f.URLPrivateDownload,
				Size:     f.Size,
			})
		}
	}

	s.logger.Info("slack message received", "user", ev.User, "channel", ev.Channel, "content_len", len(msg.Content))
	return msg, true
}

func (s *Slack) Stop() error { return nil }

func (s *Slack) Send(ctx context.Context, channelID, content string) (string, error) {
	_, ts, err := s.client.PostMessageContext(ctx, channelID, slack.MsgOptionText(content, false))
	if err != nil {
		return "", fmt.Errorf("slack send: %w", slackErr(err))
	}
	return ts, nil
}

// Typing is a no-op: the Web API has no typing indicator for bots.
func (s *Slack) Typing(context.Context, string) error { return nil }

func (s *Slack) History(ctx context.Context, channelID string, limit int) ([]domain.ChannelMessage, error) {
	resp, err := s.client.GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
		ChannelID: channelID,
		Limit:     clampLimit(limit, slackMaxHistory),
	})
	if err != nil {
		return nil, fmt.Errorf("slack history: %w", slackErr(err))
	}
	out := make([]domain.ChannelMessage, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		out = append(out, channelMessageFromSlack(channelID, m.Msg))
	}
	slices.Reverse(out)
	return out, nil
}

func (s *Slack) FetchMessage(ctx context.Context, channelID, messageID string) (*domain.ChannelMessage, error) {
	resp, err := s.client.GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
		ChannelID: channelID,
		Latest:    messageID,
		Inclusive: true,
		Limit:     1,
	})
	if err != nil {
		return nil, fmt.Errorf("slack fetch: %w", slackErr(err))
	}
	if len(resp.Messages) == 0 || resp.Messages[0].Timestamp != messageID {
		return nil, fmt.Errorf("slack fetch %s: %w", messageID, domain.ErrMessageNotFound)
	}
	cm := channelMessageFromSlack(channelID, resp.Messages[0].Msg)
	return &cm, nil
}

func (s *Slack) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	if _, _, err := s.client.DeleteMessageContext(ctx, channelID, messageID); err != nil {
		return fmt.Errorf("slack delete: %w", slackErr(err))
	}
	return nil
}

// ReadAttachment downloads a private file using the bot token.
func (s *Slack) ReadAttachment(ctx context.Context, att domain.Attachment) ([]byte, error) {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+s.botToken)
	return fetchURL(ctx, s.http, att.URL, h)
}

func (s *Slack) MentionChannel(channelID string) string { return "<#" + channelID + ">" }

func (s *Slack) MaxMessageLen() int { return slackMaxMsgLen }

func slackErr(err error) error {
	switch {
	case strings.Contains(err.Error(), "message_not_found"):
		return fmt.Errorf("%w: %v", domain.ErrMessageNotFound, err)
	case strings.Contains(err.Error(), "channel_not_found"):
		return fmt.Errorf("%w: %v", domain.ErrChannelNotFound, err)
	}
	return err
}

func channelMessageFromSlack(channelID string, m slack.Msg) domain.ChannelMessage {
	author := m.Username
	if author == "" {
		author = m.User
	}
	return domain.ChannelMessage{
		ID:         m.Timestamp,
		ChannelID:  channelID,
		AuthorName: author,
		Content:    m.Text,
		CreatedAt:  slackTime(m.Timestamp),
	}
}

// slackTime parses "1700000000.000100" style timestamps.
func slackTime(ts string) time.Time {
	secs, frac, _ := strings.Cut(ts, ".")
	sec, err := strconv.ParseInt(secs, 10, 64)
	if err != nil {
		return time.Time{}
	}
	var nsec int64
	if frac != "" {
		frac = (frac + "000000000")[:9]
		nsec, _ = strconv.ParseInt(frac, 10, 64)
	}
	return time.Unix(sec, nsec).UTC()
}

var _ domain.Transport = (*Slack)(nil)
