package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"researchbot/internal/config"
	"researchbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func init() {
	retryBaseDelay = time.Millisecond
}

// --- Claude ---

func TestClaude_Complete(t *testing.T) {
	var got claudeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "sk-ant" {
			t.Errorf("missing api key header")
		}
		if r.Header.Get("anthropic-version") != claudeAPIVersion {
			t.Errorf("missing version header")
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"content":[{"type":"text","text":"hello "},{"type":"text","text":"world"}],"stop_reason":"end_turn"}`))
	}))
	defer srv.Close()

	c := NewClaude(ClaudeConfig{APIKey: "sk-ant", APIURL: srv.URL, Logger: testLogger()})
	text, err := c.Complete(context.Background(), domain.Completion{
		System: "be brief", Prompt: "hi", Model: "claude-x", MaxTokens: 42,
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if text != "hello world" {
		t.Fatalf("expected joined text, got %q", text)
	}
	if got.Model != "claude-x" || got.MaxTokens != 42 || got.System != "be brief" {
		t.Fatalf("unexpected request: %+v", got)
	}
	if len(got.Messages) != 1 || got.Messages[0].Role != "user" || got.Messages[0].Content != "hi" {
		t.Fatalf("unexpected messages: %+v", got.Messages)
	}
}

func TestClaude_DefaultsModelAndTokens(t *testing.T) {
	var got claudeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"content":[{"type":"text","text":"ok"}]}`))
	}))
	defer srv.Close()

	c := NewClaude(ClaudeConfig{APIKey: "k", APIURL: srv.URL, Logger: testLogger()})
	if _, err := c.Complete(context.Background(), domain.Completion{Prompt: "x"}); err != nil {
		t.Fatal(err)
	}
	if got.Model != claudeDefaultModel || got.MaxTokens != defaultMaxTokens {
		t.Fatalf("defaults not applied: %+v", got)
	}
}

func TestClaude_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"content":[{"type":"text","text":"recovered"}]}`))
	}))
	defer srv.Close()

	c := NewClaude(ClaudeConfig{APIKey: "k", APIURL: srv.URL, Logger: testLogger()})
	text, err := c.Complete(context.Background(), domain.Completion{Prompt: "x"})
	if err != nil {
		t.Fatalf("expected recovery, got %v", err)
	}
	if text != "recovered" || calls.Load() != 3 {
		t.Fatalf("text=%q calls=%d", text, calls.Load())
	}
}

func TestClaude_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"bad key"}`))
	}))
	defer srv.Close()

	c := NewClaude(ClaudeConfig{APIKey: "k", APIURL: srv.URL, Logger: testLogger()})
	_, err := c.Complete(context.Background(), domain.Completion{Prompt: "x"})
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("expected 401 error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("4xx must not be retried, got %d calls", calls.Load())
	}
	var se *StatusError
	if !errors.As(err, &se) || se.Backend != "claude" || se.Transient() {
		t.Fatalf("expected non-transient claude StatusError, got %#v", err)
	}
}

func TestBackoffHonoursRetryAfter(t *testing.T) {
	resp := &http.Response{
		StatusCode: http.StatusTooManyRequests,
		Header:     http.Header{"Retry-After": []string{"7"}},
		Body:       io.NopCloser(strings.NewReader("slow down")),
	}
	se := readStatusError("openai", resp)
	if !se.Transient() || se.Body != "slow down" {
		t.Fatalf("unexpected %#v", se)
	}
	if got := backoff(1, se); got != 7*time.Second {
		t.Fatalf("backoff = %v, want 7s", got)
	}

	resp.Header.Set("Retry-After", "600")
	resp.Body = io.NopCloser(strings.NewReader(""))
	if got := backoff(1, readStatusError("openai", resp)); got != maxRetryAfter {
		t.Fatalf("backoff = %v, want cap %v", got, maxRetryAfter)
	}
}

func TestClaude_EmptyContentIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"content":[],"stop_reason":"max_tokens"}`))
	}))
	defer srv.Close()

	c := NewClaude(ClaudeConfig{APIKey: "k", APIURL: srv.URL, Logger: testLogger()})
	if _, err := c.Complete(context.Background(), domain.Completion{Prompt: "x"}); err == nil {
		t.Fatal("expected error for empty content")
	}
}

// --- OpenAI ---

func TestOpenAI_Complete(t *testing.T) {
	var got oaiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-oai" {
			t.Errorf("missing bearer token")
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"answer"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	o := NewOpenAI(OpenAIConfig{APIKey: "sk-oai", APIBase: srv.URL + "/", Logger: testLogger()})
	text, err := o.Complete(context.Background(), domain.Completion{System: "sys", Prompt: "q", MaxTokens: 1500})
	if err != nil {
		t.Fatal(err)
	}
	if text != "answer" {
		t.Fatalf("got %q", text)
	}
	if got.Model != openaiDefaultModel || got.MaxTokens != 1500 {
		t.Fatalf("unexpected request: %+v", got)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[1].Content != "q" {
		t.Fatalf("unexpected messages: %+v", got.Messages)
	}
}

func TestOpenAI_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	o := NewOpenAI(OpenAIConfig{APIKey: "k", APIBase: srv.URL, Logger: testLogger()})
	if _, err := o.Complete(context.Background(), domain.Completion{Prompt: "q"}); err == nil {
		t.Fatal("expected error for empty choices")
	}
}

func TestOpenAI_CancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	o := NewOpenAI(OpenAIConfig{APIKey: "k", APIBase: srv.URL, Logger: testLogger()})
	if _, err := o.Complete(ctx, domain.Completion{Prompt: "q"}); err == nil {
		t.Fatal("expected error with cancelled context")
	}
}

// --- Gemini ---

func TestGemini_Complete(t *testing.T) {
	var path string
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"gemini says hi"}]}}]}`))
	}))
	defer srv.Close()

	g, err := NewGemini(context.Background(), GeminiConfig{
		APIKey: "g-key", BaseURL: srv.URL, Model: "gemini-test", Logger: testLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}
	text, err := g.Complete(context.Background(), domain.Completion{Prompt: "hello"})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if text != "gemini says hi" {
		t.Fatalf("got %q", text)
	}
	if !strings.Contains(path, "gemini-test:generateContent") {
		t.Fatalf("unexpected path %q", path)
	}
	if _, ok := body["contents"]; !ok {
		t.Fatalf("request body missing contents: %v", body)
	}
}

func TestGemini_RequiresKey(t *testing.T) {
	if _, err := NewGemini(context.Background(), GeminiConfig{}); err == nil {
		t.Fatal("expected error without API key")
	}
}

// --- Rate limiting ---

func TestRateLimiter_ImmediateBurst(t *testing.T) {
	rl := NewRateLimiter(5, 60.0)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := rl.Wait(ctx); err != nil {
			t.Fatalf("burst token %d failed: %v", i, err)
		}
	}
}

func TestRateLimiter_WaitsAfterBurst(t *testing.T) {
	rl := NewRateLimiter(1, 600.0) // 10/sec refill

	ctx := context.Background()
	if err := rl.Wait(ctx); err != nil {
		t.Fatalf("first wait: %v", err)
	}
	start := time.Now()
	if err := rl.Wait(ctx); err != nil {
		t.Fatalf("second wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Fatalf("expected some wait time, got %v", elapsed)
	}
}

func TestRateLimiter_CancelledContext(t *testing.T) {
	rl := NewRateLimiter(1, 1.0)
	ctx, cancel := context.WithCancel(context.Background())
	if err := rl.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()
	if err := rl.Wait(ctx); err == nil {
		t.Fatal("expected context cancelled error")
	}
}

type echoCompleter struct{ calls atomic.Int32 }

func (e *echoCompleter) Name() string { return "echo" }
func (e *echoCompleter) Complete(_ context.Context, req domain.Completion) (string, error) {
	e.calls.Add(1)
	return req.Prompt, nil
}

func TestWithRateLimit(t *testing.T) {
	inner := &echoCompleter{}
	c := WithRateLimit(inner, NewRateLimiter(1, 1.0))
	if c.Name() != "echo" {
		t.Fatalf("wrapper should keep the inner name, got %q", c.Name())
	}

	if out, err := c.Complete(context.Background(), domain.Completion{Prompt: "p"}); err != nil || out != "p" {
		t.Fatalf("first call: %q %v", out, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := c.Complete(ctx, domain.Completion{Prompt: "p"}); err == nil {
		t.Fatal("second call should be throttled until the deadline")
	}
	if inner.calls.Load() != 1 {
		t.Fatalf("throttled call must not reach the backend, calls=%d", inner.calls.Load())
	}

	if WithRateLimit(nil, NewRateLimiter(1, 1)) != nil {
		t.Fatal("nil completer must stay nil")
	}
}

// --- Registry ---

func TestNewRegistry_OnlyConfiguredBackends(t *testing.T) {
	cfg := config.Defaults()
	cfg.Credentials.AnthropicKey = "a"

	r := NewRegistry(context.Background(), cfg, testLogger())
	if r.Claude == nil {
		t.Fatal("claude should be configured")
	}
	if r.OpenAI != nil || r.Gemini != nil {
		t.Fatal("openai and gemini must stay nil without keys")
	}
	st := r.Status()
	if !st["claude"] || st["openai"] || st["gemini"] {
		t.Fatalf("unexpected status %v", st)
	}
}

func TestNewRegistry_AllBackendsWithRateLimit(t *testing.T) {
	cfg := config.Defaults()
	cfg.Credentials.AnthropicKey = "a"
	cfg.Credentials.OpenAIKey = "o"
	cfg.Credentials.GeminiKey = "g"
	cfg.Agents.RateLimitPerMinute = 30

	r := NewRegistry(context.Background(), cfg, testLogger())
	for name, ok := range r.Status() {
		if !ok {
			t.Errorf("%s should be configured", name)
		}
	}
	if _, ok := r.Claude.(*limited); !ok {
		t.Fatalf("expected rate-limited claude, got %T", r.Claude)
	}
}
