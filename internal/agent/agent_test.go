package agent

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"go.uber.org/goleak"

	"researchbot/internal/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

type fakeCompleter struct {
	mu    sync.Mutex
	calls []domain.Completion
	reply func(domain.Completion) (string, error)
}

func (f *fakeCompleter) Name() string { return "fake" }

func (f *fakeCompleter) Complete(ctx context.Context, req domain.Completion) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	if f.reply == nil {
		return "ok", nil
	}
	return f.reply(req)
}

func (f *fakeCompleter) Calls() []domain.Completion {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Completion(nil), f.calls...)
}

func replyWith(text string) *fakeCompleter {
	return &fakeCompleter{reply: func(domain.Completion) (string, error) { return text, nil }}
}

func newTestSet(t *testing.T, claude, openai, gemini domain.Completer, promptsDir string) *Set {
	t.Helper()
	pool := NewPool(3, testLogger())
	t.Cleanup(pool.Wait)
	return NewSet(SetConfig{
		Claude:           claude,
		OpenAI:           openai,
		Gemini:           gemini,
		ResearchModel:    "claude-r",
		BuildModel:       "claude-b",
		GeneralModel:     "gpt",
		CodeModel:        "gem-code",
		RouterModel:      "gem-router",
		MaxTokens:        2000,
		GeneralMaxTokens: 1500,
		PromptsDir:       promptsDir,
		ResearchChannel:  "R",
		BuildChannel:     "B",
		Pool:             pool,
		Logger:           testLogger(),
	})
}

func TestAgents_UnavailableWithoutClient(t *testing.T) {
	set := newTestSet(t, nil, nil, nil, "")
	req := Request{Query: "why?", Context: "ctx"}

	tests := []struct {
		agent Agent
		env   string
	}{
		{set.Research, "ANTHROPIC_API_KEY"},
		{set.Build, "ANTHROPIC_API_KEY"},
		{set.General, "OPENAI_API_KEY"},
		{set.SimpleCode, "GEMINI_API_KEY"},
		{set.ThirdOpinion, "GEMINI_API_KEY"},
	}
	for _, tt := range tests {
		t.Run(tt.agent.Name(), func(t *testing.T) {
			res, err := tt.agent.Process(context.Background(), req)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !res.IsUnavailable() {
				t.Fatalf("expected unavailable, got %+v", res)
			}
			out := res.Render()
			if !strings.HasPrefix(out, "❌ ") || !strings.Contains(out, tt.env) {
				t.Fatalf("render should name %s, got %q", tt.env, out)
			}
		})
	}
}

func TestAgents_EmptyQuery(t *testing.T) {
	set := newTestSet(t, replyWith("x"), replyWith("x"), replyWith("x"), "")
	for _, a := range []Agent{set.Research, set.Build, set.General, set.SimpleCode, set.ThirdOpinion, set.Classifier} {
		if _, err := a.Process(context.Background(), Request{Query: "  "}); !errors.Is(err, ErrEmptyQuery) {
			t.Errorf("%s: expected ErrEmptyQuery, got %v", a.Name(), err)
		}
	}
}

func TestResearch_TemplatePerMode(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "research_hardmode.md"), []byte("Be brutal.\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	claude := replyWith("critique")
	set := newTestSet(t, claude, nil, nil, dir)

	res, err := set.Research.Process(context.Background(), Request{Query: "q", Context: "PROJECT", Mode: ModeHardmode})
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != "critique" {
		t.Fatalf("got %q", res.Text)
	}

	// research_core.md is missing, so core falls back to the generic instruction.
	if _, err := set.Research.Process(context.Background(), Request{Query: "q"}); err != nil {
		t.Fatal(err)
	}

	calls := claude.Calls()
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(calls))
	}
	if !strings.HasPrefix(calls[0].System, "Be brutal.") || !strings.Contains(calls[0].System, "PROJECT") {
		t.Errorf("hardmode system = %q", calls[0].System)
	}
	if !strings.HasPrefix(calls[1].System, genericResearchPrompt) {
		t.Errorf("core system = %q", calls[1].System)
	}
	if calls[0].Prompt != "Query: q" || calls[0].Model != "claude-r" || calls[0].MaxTokens != 2000 {
		t.Errorf("unexpected completion %+v", calls[0])
	}
}

func TestGeneral_UsesOwnTokenBudget(t *testing.T) {
	openai := replyWith("answer")
	set := newTestSet(t, nil, openai, nil, "")

	res, err := set.General.Process(context.Background(), Request{Query: "hi", Context: "CTX"})
	if err != nil || res.Text != "answer" {
		t.Fatalf("got %+v, %v", res, err)
	}
	c := openai.Calls()[0]
	if c.MaxTokens != 1500 || c.Model != "gpt" {
		t.Errorf("unexpected completion %+v", c)
	}
	if !strings.Contains(c.System, "!deep") || !strings.HasSuffix(c.System, "CTX") {
		t.Errorf("system = %q", c.System)
	}
}

func TestBuild_PromptDemandsLiteralImplementation(t *testing.T) {
	claude := replyWith("code")
	set := newTestSet(t, claude, nil, nil, "")

	if _, err := set.Build.Process(context.Background(), Request{Query: "a parser"}); err != nil {
		t.Fatal(err)
	}
	c := claude.Calls()[0]
	if !strings.Contains(c.System, "Kill Assumptions Gate") {
		t.Error("build system prompt missing assumptions gate")
	}
	if !strings.HasPrefix(c.Prompt, "Query: a parser") || !strings.Contains(c.Prompt, "Do not add features") {
		t.Errorf("prompt = %q", c.Prompt)
	}
}

func TestGeminiVariants_PromptShape(t *testing.T) {
	gemini := replyWith("g")
	set := newTestSet(t, nil, nil, gemini, "")

	if _, err := set.SimpleCode.Process(context.Background(), Request{Query: "sort a list"}); err != nil {
		t.Fatal(err)
	}
	if _, err := set.ThirdOpinion.Process(context.Background(), Request{Query: "opinion?", Context: "CTX"}); err != nil {
		t.Fatal(err)
	}

	calls := gemini.Calls()
	if !strings.Contains(calls[0].System, "!build") || !strings.HasSuffix(calls[0].Prompt, "Provide working code with brief explanations.") {
		t.Errorf("simple code completion %+v", calls[0])
	}
	if !strings.HasPrefix(calls[1].Prompt, "CTX\n\nQuery: opinion?") {
		t.Errorf("third opinion prompt = %q", calls[1].Prompt)
	}
	for _, c := range calls {
		if c.Model != "gem-code" {
			t.Errorf("expected code model, got %q", c.Model)
		}
	}
}

func TestAgent_BackendErrorIsFault(t *testing.T) {
	boom := errors.New("upstream 500")
	claude := &fakeCompleter{reply: func(domain.Completion) (string, error) { return "", boom }}
	set := newTestSet(t, claude, nil, nil, "")

	_, err := set.Build.Process(context.Background(), Request{Query: "q"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped backend error, got %v", err)
	}
}

func TestCompose_SkipsEmptySections(t *testing.T) {
	if got := compose("a", "  ", "", "b\n"); got != "a\n\nb" {
		t.Fatalf("compose = %q", got)
	}
}
