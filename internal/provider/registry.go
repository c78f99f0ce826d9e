package provider

import (
	"context"
	"log/slog"
	"time"

	"researchbot/internal/config"
	"researchbot/internal/domain"
)

// Registry holds the backend clients built once at startup. A field is nil
// when its credential was not supplied; agents treat that as unavailable.
type Registry struct {
	Claude domain.Completer
	OpenAI domain.Completer
	Gemini domain.Completer
}

// NewRegistry builds a client for every backend whose API key is present.
// A Gemini client that fails to initialise is logged and left nil so the
// rest of the bot still starts.
func NewRegistry(ctx context.Context, cfg *config.Config, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	creds := cfg.Credentials
	httpClient := SharedHTTPClient(time.Duration(cfg.Agents.HTTPTimeoutSeconds) * time.Second)

	limit := func(c domain.Completer) domain.Completer {
		if cfg.Agents.RateLimitPerMinute <= 0 {
			return c
		}
		burst := max(cfg.Agents.WorkerPoolSize, 1)
		return WithRateLimit(c, NewRateLimiter(burst, float64(cfg.Agents.RateLimitPerMinute)))
	}

	r := &Registry{}
	if creds.AnthropicKey != "" {
		r.Claude = limit(NewClaude(ClaudeConfig{
			APIKey: creds.AnthropicKey,
			Model:  cfg.Models.Research,
			Client: httpClient,
			Logger: logger,
		}))
	}
	if creds.OpenAIKey != "" {
		r.OpenAI = limit(NewOpenAI(OpenAIConfig{
			APIKey: creds.OpenAIKey,
			Model:  cfg.Models.General,
			Client: httpClient,
			Logger: logger,
		}))
	}
	if creds.GeminiKey != "" {
		g, err := NewGemini(ctx, GeminiConfig{
			APIKey: creds.GeminiKey,
			Model:  cfg.Models.Code,
			Client: httpClient,
			Logger: logger,
		})
		if err != nil {
			logger.Error("gemini client disabled", "err", err)
		} else {
			r.Gemini = limit(g)
		}
	}

	logger.Info("backend clients",
		"claude", r.Claude != nil,
		"openai", r.OpenAI != nil,
		"gemini", r.Gemini != nil,
	)
	return r
}

// Status reports which backends are configured, keyed by backend name.
func (r *Registry) Status() map[string]bool {
	return map[string]bool{
		"claude": r.Claude != nil,
		"openai": r.OpenAI != nil,
		"gemini": r.Gemini != nil,
	}
}
