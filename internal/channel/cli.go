package channel

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"researchbot/internal/domain"
)

const consoleLogCap = 1000

// Console is a local terminal transport. Every channel role maps to a channel
// named after it; output is printed with a "[#channel]" tag so routed replies
// stay distinguishable. Lines are read from In and published as messages in
// the current channel.
type Console struct {
	in      io.Reader
	out     io.Writer
	outMu   sync.Mutex
	author  string
	current string
	log     *messageLog
	nextID  atomic.Int64
	logger  *slog.Logger
}

type ConsoleConfig struct {
	In  io.Reader
	Out io.Writer
	// Channel is where typed lines are posted; defaults to "general".
	Channel string
	Author  string
	Logger  *slog.Logger
}

func NewConsole(cfg ConsoleConfig) *Console {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Channel == "" {
		cfg.Channel = "general"
	}
	if cfg.Author == "" {
		cfg.Author = "you"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Console{
		in:      cfg.In,
		out:     cfg.Out,
		author:  cfg.Author,
		current: cfg.Channel,
		log:     newMessageLog(consoleLogCap),
		logger:  cfg.Logger,
	}
}

func (c *Console) Name() string { return "console" }

// Start reads lines until EOF, "/quit" or ctx cancellation. "/join <channel>"
// switches the channel subsequent lines are posted to.
func (c *Console) Start(ctx context.Context, bus domain.MessageBus) error {
	c.printf("researchbot console. Posting to #%s. /join <channel> switches, /quit exits.\n", c.current)

	scanner := bufio.NewScanner(c.in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}

		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit" || line == "/exit":
			c.logger.Info("console quit requested")
			return nil
		case strings.HasPrefix(line, "/join "):
			c.current = strings.TrimSpace(strings.TrimPrefix(line, "/join "))
			c.printf("now posting to #%s\n", c.current)
			continue
		}

		id := c.newID()
		now := time.Now()
		c.log.record(domain.ChannelMessage{ID: id, ChannelID: c.current, AuthorName: c.author, Content: line, CreatedAt: now})
		bus.Publish(domain.InboundMessage{
			Platform:   c.Name(),
			ChannelID:  c.current,
			MessageID:  id,
			AuthorID:   c.author,
			AuthorName: c.author,
			Content:    line,
			Timestamp:  now,
		})
	}
	return scanner.Err()
}

func (c *Console) Stop() error { return nil }

func (c *Console) newID() string { return strconv.FormatInt(c.nextID.Add(1), 10) }

func (c *Console) printf(format string, args ...any) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	_, _ = fmt.Fprintf(c.out, format, args...)
}

func (c *Console) Send(_ context.Context, channelID, content string) (string, error) {
	id := c.newID()
	c.log.record(domain.ChannelMessage{ID: id, ChannelID: channelID, AuthorName: "researchbot", Content: content, CreatedAt: time.Now()})
	c.printf("[#%s] %s\n", channelID, content)
	return id, nil
}

func (c *Console) Typing(context.Context, string) error { return nil }

func (c *Console) History(_ context.Context, channelID string, limit int) ([]domain.ChannelMessage, error) {
	return c.log.tail(channelID, clampLimit(limit, consoleLogCap)), nil
}

func (c *Console) FetchMessage(_ context.Context, channelID, messageID string) (*domain.ChannelMessage, error) {
	m, ok := c.log.find(channelID, messageID)
	if !ok {
		return nil, fmt.Errorf("console message %s: %w", messageID, domain.ErrMessageNotFound)
	}
	return &m, nil
}

func (c *Console) DeleteMessage(_ context.Context, channelID, messageID string) error {
	if !c.log.remove(channelID, messageID) {
		return fmt.Errorf("console message %s: %w", messageID, domain.ErrMessageNotFound)
	}
	c.printf("[#%s] (message %s deleted)\n", channelID, messageID)
	return nil
}

func (c *Console) ReadAttachment(context.Context, domain.Attachment) ([]byte, error) {
	return nil, errors.New("console has no attachments")
}

func (c *Console) MentionChannel(channelID string) string { return "#" + channelID }

// MaxMessageLen mirrors Discord so chunking looks the same locally.
func (c *Console) MaxMessageLen() int { return discordMaxMsgLen }

var _ domain.Transport = (*Console)(nil)
