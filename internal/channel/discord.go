package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"

	"github.com/bwmarrin/discordgo"

	"researchbot/internal/domain"
)

const (
	discordMaxMsgLen     = 2000
	discordMaxHistory    = 100
	discordPlatformLabel = "discord"
)

// Discord implements domain.Transport over a bot gateway session. REST calls
// (send, history, delete) work as soon as the session is created; Start only
// adds the inbound event stream.
type Discord struct {
	guildID   string
	allow     allowSet
	session   *discordgo.Session
	http      *http.Client
	logger    *slog.Logger
	closeOnce sync.Once
}

type DiscordConfig struct {
	Token      string
	GuildID    string
	AllowFrom  []string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

func NewDiscord(cfg DiscordConfig) (*Discord, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent

	return &Discord{
		guildID: cfg.GuildID,
		allow:   newAllowSet(cfg.AllowFrom),
		session: session,
		http:    cfg.HTTPClient,
		logger:  cfg.Logger,
	}, nil
}

func (d *Discord) Name() string { return discordPlatformLabel }

// Start opens the gateway and publishes every message not written by the bot
// itself. It blocks until ctx is cancelled.
func (d *Discord) Start(ctx context.Context, bus domain.MessageBus) error {
	d.session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || s.State.User == nil || m.Author.ID == s.State.User.ID {
			return
		}
		if d.guildID != "" && m.GuildID != "" && m.GuildID != d.guildID {
			return
		}
		if !d.allow.permits(m.Author.ID) {
			d.logger.Debug("discord author not allowed", "author_id", m.Author.ID)
			return
		}

		msg := inboundFromDiscord(m.Message, s.State.User.ID)
		d.logger.Info("discord message received",
			"author", msg.AuthorName,
			"channel_id", msg.ChannelID,
			"content_len", len(msg.Content),
			"attachments", len(msg.Attachments),
		)
		bus.Publish(msg)
	})

	if err := d.session.Open(); err != nil {
		return fmt.Errorf("discord connect: %w", err)
	}
	d.logger.Info("discord bot connected", "user", d.session.State.User.Username)

	<-ctx.Done()
	d.logger.Info("discord bot disconnecting")
	return d.Stop()
}

func (d *Discord) Stop() error {
	var err error
	d.closeOnce.Do(func() { err = d.session.Close() })
	return err
}

func (d *Discord) Send(ctx context.Context, channelID, content string) (string, error) {
	m, err := d.session.ChannelMessageSend(channelID, content, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("discord send: %w", discordErr(err, domain.ErrChannelNotFound))
	}
	return m.ID, nil
}

func (d *Discord) Typing(ctx context.Context, channelID string) error {
	return d.session.ChannelTyping(channelID, discordgo.WithContext(ctx))
}

func (d *Discord) History(ctx context.Context, channelID string, limit int) ([]domain.ChannelMessage, error) {
	msgs, err := d.session.ChannelMessages(channelID, clampLimit(limit, discordMaxHistory), "", "", "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("discord history: %w", discordErr(err, domain.ErrChannelNotFound))
	}
	return historyFromDiscord(msgs), nil
}

func (d *Discord) FetchMessage(ctx context.Context, channelID, messageID string) (*domain.ChannelMessage, error) {
	if !isSnowflake(messageID) {
		return nil, fmt.Errorf("%w: %q is not a discord message id", domain.ErrMessageNotFound, messageID)
	}
	m, err := d.session.ChannelMessage(channelID, messageID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("discord fetch: %w", discordErr(err, domain.ErrMessageNotFound))
	}
	cm := channelMessageFromDiscord(m)
	return &cm, nil
}

func (d *Discord) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	if !isSnowflake(messageID) {
		return fmt.Errorf("%w: %q is not a discord message id", domain.ErrMessageNotFound, messageID)
	}
	if err := d.session.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord delete: %w", discordErr(err, domain.ErrMessageNotFound))
	}
	return nil
}

func (d *Discord) ReadAttachment(ctx context.Context, att domain.Attachment) ([]byte, error) {
	return fetchURL(ctx, d.http, att.URL, nil)
}

func (d *Discord) MentionChannel(channelID string) string { return "<#" + channelID + ">" }

func (d *Discord) MaxMessageLen() int { return discordMaxMsgLen }

// isSnowflake reports whether id looks like a Discord snowflake. Discord
// answers anything else with 400 rather than 404.
func isSnowflake(id string) bool {
	if id == "" || len(id) > 20 {
		return false
	}
	for _, c := range id {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// discordErr maps 404 responses onto the domain sentinels. notFound is used
// unless Discord says the channel itself is unknown.
func discordErr(err error, notFound error) error {
	var rest *discordgo.RESTError
	if !errors.As(err, &rest) || rest.Response == nil || rest.Response.StatusCode != http.StatusNotFound {
		return err
	}
	if rest.Message != nil {
		switch rest.Message.Code {
		case discordgo.ErrCodeUnknownChannel:
			return fmt.Errorf("%w: %v", domain.ErrChannelNotFound, err)
		case discordgo.ErrCodeUnknownMessage:
			return fmt.Errorf("%w: %v", domain.ErrMessageNotFound, err)
		}
	}
	return fmt.Errorf("%w: %v", notFound, err)
}

func inboundFromDiscord(m *discordgo.Message, botID string) domain.InboundMessage {
	msg := domain.InboundMessage{
		Platform:  discordPlatformLabel,
		ChannelID: m.ChannelID,
		MessageID: m.ID,
		Content:   m.Content,
		Timestamp: m.Timestamp,
	}
	if m.Author != nil {
		msg.AuthorID = m.Author.ID
		msg.AuthorName = m.Author.Username
	}
	for _, a := range m.Attachments {
		msg.Attachments = append(msg.Attachments, domain.Attachment{
			ID:       a.ID,
			Filename: a.Filename,
			URL:      a.URL,
			Size:     a.Size,
		})
	}
	for _, u := range m.Mentions {
		if u != nil && u.ID == botID {
			msg.MentionsBot = true
			break
		}
	}
	return msg
}

func channelMessageFromDiscord(m *discordgo.Message) domain.ChannelMessage {
	cm := domain.ChannelMessage{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		Content:   m.Content,
		CreatedAt: m.Timestamp,
	}
	if m.Author != nil {
		cm.AuthorName = m.Author.Username
	}
	return cm
}

// historyFromDiscord converts a newest-first page into oldest-first order.
func historyFromDiscord(msgs []*discordgo.Message) []domain.ChannelMessage {
	out := make([]domain.ChannelMessage, 0, len(msgs))
	for _, m := range msgs {
		if m != nil {
			out = append(out, channelMessageFromDiscord(m))
		}
	}
	slices.Reverse(out)
	return out
}

var _ domain.Transport = (*Discord)(nil)
