// Package agent holds the reasoning agents: thin wrappers that turn a query and
// project context into a backend completion, plus the classifier, the fan-out
// coordinator and the worker pool every backend call runs on.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"researchbot/internal/domain"
	"researchbot/internal/metrics"
)

// ErrEmptyQuery is returned when an agent is invoked without query text.
var ErrEmptyQuery = errors.New("empty query")

// Mode selects the research agent's instruction set.
type Mode string

const (
	ModeCore     Mode = "core"
	ModeHardmode Mode = "hardmode"
)

type Request struct {
	Query   string
	Context string
	Mode    Mode
}

type ResultKind int

const (
	KindText ResultKind = iota
	KindUnavailable
)

// Result is either generated text or a notice that the agent's backend is
// not configured. A missing credential is never an error.
type Result struct {
	Kind   ResultKind
	Text   string
	Reason string
}

func Text(s string) Result { return Result{Kind: KindText, Text: s} }

func Unavailable(reason string) Result { return Result{Kind: KindUnavailable, Reason: reason} }

func (r Result) IsUnavailable() bool { return r.Kind == KindUnavailable }

// Render is the user-facing text for the result.
func (r Result) Render() string {
	if r.IsUnavailable() {
		return "❌ " + r.Reason
	}
	return r.Text
}

// Agent turns a request into a Result. Errors are reserved for unexpected
// faults such as a failing backend.
type Agent interface {
	Name() string
	Process(ctx context.Context, req Request) (Result, error)
}

// backend is the shared call path of every variant: credential check first,
// then a pooled completion.
type backend struct {
	name      string
	label     string // human name of the backend, e.g. "Claude (Anthropic)"
	envVar    string
	client    domain.Completer
	model     string
	maxTokens int
	pool      *Pool
	logger    *slog.Logger
}

func (b *backend) Name() string { return b.name }

func (b *backend) unavailable() Result {
	metrics.AgentUnavailable(b.name).Inc()
	return Unavailable(fmt.Sprintf("%s API key not configured. Set %s to enable it.", b.label, b.envVar))
}

func (b *backend) complete(ctx context.Context, system, prompt string) (Result, error) {
	if b.client == nil {
		return b.unavailable(), nil
	}

	metrics.AgentCalls(b.name).Inc()
	start := time.Now()

	text, err := b.pool.Submit(ctx, b.name, func(ctx context.Context) (string, error) {
		return b.client.Complete(ctx, domain.Completion{
			System:    system,
			Prompt:    prompt,
			Model:     b.model,
			MaxTokens: b.maxTokens,
		})
	}).Await(ctx)

	elapsed := time.Since(start)
	metrics.AgentLatency(b.name).Observe(elapsed.Seconds())
	if err != nil {
		b.logger.Warn("agent call failed", "agent", b.name, "err", err, "duration_ms", elapsed.Milliseconds())
		return Result{}, fmt.Errorf("%s agent: %w", b.name, err)
	}

	b.logger.Debug("agent call completed", "agent", b.name, "duration_ms", elapsed.Milliseconds(), "response_len", len(text))
	return Text(text), nil
}

// compose joins non-empty sections with blank lines.
func compose(sections ...string) string {
	parts := make([]string, 0, len(sections))
	for _, s := range sections {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n\n")
}
