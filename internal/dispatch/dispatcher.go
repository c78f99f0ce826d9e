// Package dispatch turns inbound chat messages into command executions: it
// parses the prefix command, merges text attachments, drives the agents and
// sends chunked replies through the transport.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"researchbot/internal/agent"
	"researchbot/internal/chunk"
	"researchbot/internal/config"
	"researchbot/internal/domain"
	"researchbot/internal/metrics"
)

const (
	defaultMaxConcurrent = 5
	errorSummaryBytes    = 300
)

// Classifier routes a query to research or build and names the channel.
type Classifier interface {
	Classify(ctx context.Context, query string) (agent.Label, string, error)
}

// ContextSource produces the project context for one request.
type ContextSource interface {
	Assemble(ctx context.Context) string
}

// Agents are the reasoning agents commands can invoke.
type Agents struct {
	Research     agent.Agent
	Build        agent.Agent
	General      agent.Agent
	SimpleCode   agent.Agent
	ThirdOpinion agent.Agent
	Classifier   Classifier
}

// AgentsFromSet adapts the agent package's set.
func AgentsFromSet(s *agent.Set) Agents {
	return Agents{
		Research:     s.Research,
		Build:        s.Build,
		General:      s.General,
		SimpleCode:   s.SimpleCode,
		ThirdOpinion: s.ThirdOpinion,
		Classifier:   s.Classifier,
	}
}

type Config struct {
	Transport domain.Transport
	Agents    Agents
	Context   ContextSource
	Memory    domain.MemoryStore
	Channels  config.ChannelMap

	Prefix        string
	ChunkLimit    int
	MaxConcurrent int

	// Now defaults to time.Now.
	Now    func() time.Time
	Logger *slog.Logger
}

type Dispatcher struct {
	transport domain.Transport
	agents    Agents
	context   ContextSource
	memory    domain.MemoryStore
	channels  config.ChannelMap

	prefix     string
	chunkLimit int
	slots      *semaphore.Weighted
	table      map[Command]commandSpec
	now        func() time.Time
	logger     *slog.Logger
}

// request is one command invocation.
type request struct {
	msg    domain.InboundMessage
	cmd    Command
	args   string
	id     string
	logger *slog.Logger
}

// New validates the configuration and the command table.
func New(cfg Config) (*Dispatcher, error) {
	var missing []string
	if cfg.Transport == nil {
		missing = append(missing, "transport")
	}
	if cfg.Context == nil {
		missing = append(missing, "context source")
	}
	if cfg.Memory == nil {
		missing = append(missing, "memory store")
	}
	a := cfg.Agents
	if a.Research == nil || a.Build == nil || a.General == nil || a.SimpleCode == nil || a.ThirdOpinion == nil || a.Classifier == nil {
		missing = append(missing, "agents")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("dispatch: missing %s", strings.Join(missing, ", "))
	}

	if cfg.Prefix == "" {
		cfg.Prefix = "!"
	}
	if cfg.ChunkLimit <= 0 {
		cfg.ChunkLimit = chunk.DefaultLimit
	}
	if tl := cfg.Transport.MaxMessageLen(); tl > 0 && cfg.ChunkLimit > tl {
		cfg.ChunkLimit = tl
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	d := &Dispatcher{
		transport:  cfg.Transport,
		agents:     cfg.Agents,
		context:    cfg.Context,
		memory:     cfg.Memory,
		channels:   cfg.Channels,
		prefix:     cfg.Prefix,
		chunkLimit: cfg.ChunkLimit,
		slots:      semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		now:        cfg.Now,
		logger:     cfg.Logger,
	}

	table, err := buildTable(d.commands())
	if err != nil {
		return nil, fmt.Errorf("dispatch: %w", err)
	}
	d.table = table
	return d, nil
}

// Run consumes the bus until it closes or ctx ends, dispatching each message
// on its own goroutine with at most MaxConcurrent in flight. It returns after
// every started command has finished.
func (d *Dispatcher) Run(ctx context.Context, bus domain.MessageBus) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	inbound := bus.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-inbound:
			if !ok {
				return nil
			}
			if err := d.slots.Acquire(ctx, 1); err != nil {
				return nil
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer d.slots.Release(1)
				d.Dispatch(ctx, msg)
			}()
		}
	}
}

// Dispatch handles one message synchronously. Every failure ends in exactly
// one reply to the requester; nothing is returned to the caller.
func (d *Dispatcher) Dispatch(ctx context.Context, msg domain.InboundMessage) {
	name, args, ok := parseCommand(msg.Content, d.prefix)
	if !ok {
		if msg.MentionsBot {
			d.replyTo(ctx, msg.ChannelID, mentionHint(d.prefix))
		}
		return
	}

	spec, known := d.table[Command(name)]
	if !known {
		d.replyTo(ctx, msg.ChannelID, fmt.Sprintf("❓ Unknown command `%s%s`. Use `%shelp_bot` to see all commands.", d.prefix, name, d.prefix))
		return
	}

	id := uuid.NewString()
	r := &request{
		msg:  msg,
		cmd:  spec.name,
		args: args,
		id:   id,
		logger: d.logger.With(
			"request_id", id,
			"command", string(spec.name),
			"channel_id", msg.ChannelID,
			"author", msg.AuthorName,
		),
	}
	d.execute(ctx, spec, r)
}

func (d *Dispatcher) execute(ctx context.Context, spec commandSpec, r *request) {
	metrics.CommandsTotal(string(spec.name)).Inc()
	metrics.CommandsActive.Inc()
	defer metrics.CommandsActive.Dec()

	start := time.Now()
	r.logger.Info("command started", "args_len", len(r.args), "attachments", len(r.msg.Attachments))

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("command panicked", "panic", p, "stack", string(debug.Stack()))
			d.fail(ctx, r, fmt.Errorf("panic: %v", p))
		}
	}()

	if err := spec.run(ctx, r); err != nil {
		d.fail(ctx, r, err)
		return
	}
	r.logger.Info("command completed", "duration_ms", time.Since(start).Milliseconds())
}

// fail reports an unexpected fault to the requester.
func (d *Dispatcher) fail(ctx context.Context, r *request, err error) {
	metrics.CommandFailures(string(r.cmd)).Inc()
	r.logger.Error("command failed", "err", err)
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return
	}
	d.replyTo(ctx, r.msg.ChannelID, "❌ Error: "+truncateBytes(err.Error(), errorSummaryBytes))
}

// send posts text to a channel in transport-sized chunks, in order, waiting
// for each before the next.
func (d *Dispatcher) send(ctx context.Context, channelID, text string) (firstID string, err error) {
	if strings.TrimSpace(text) == "" {
		text = "(empty response)"
	}
	for i, c := range chunk.Split(text, d.chunkLimit) {
		id, err := d.transport.Send(ctx, channelID, c)
		if err != nil {
			return firstID, fmt.Errorf("send to %s: %w", channelID, err)
		}
		if i == 0 {
			firstID = id
		}
	}
	return firstID, nil
}

// reply sends to the requester's channel.
func (d *Dispatcher) reply(ctx context.Context, r *request, text string) error {
	_, err := d.send(ctx, r.msg.ChannelID, text)
	return err
}

// replyTo is reply for paths that have nowhere further to report a failure.
func (d *Dispatcher) replyTo(ctx context.Context, channelID, text string) {
	if _, err := d.send(ctx, channelID, text); err != nil {
		d.logger.Error("reply failed", "channel_id", channelID, "err", err)
	}
}

func (d *Dispatcher) typing(ctx context.Context, r *request) {
	if err := d.transport.Typing(ctx, r.msg.ChannelID); err != nil {
		r.logger.Debug("typing indicator failed", "err", err)
	}
}

// roleChannel resolves a role, replying to the requester when it is not
// configured.
func (d *Dispatcher) roleChannel(ctx context.Context, r *request, role string) (string, bool, error) {
	if id, ok := d.channels.Lookup(role); ok {
		return id, true, nil
	}
	return "", false, d.reply(ctx, r, fmt.Sprintf("❌ No channel is configured for `%s`.", role))
}

func (d *Dispatcher) timestamp() string {
	return d.now().UTC().Format("2006-01-02 15:04") + " UTC"
}

func (d *Dispatcher) spec(c Command) commandSpec { return d.table[c] }
