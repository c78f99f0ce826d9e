package agent

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"researchbot/internal/domain"
)

const (
	backendClaude = "Claude (Anthropic)"
	backendOpenAI = "OpenAI"
	backendGemini = "Gemini (Google)"

	envAnthropic = "ANTHROPIC_API_KEY"
	envOpenAI    = "OPENAI_API_KEY"
	envGemini    = "GEMINI_API_KEY"
)

const genericResearchPrompt = "You are a research agent. Analyze the query carefully and provide thorough reasoning."

const buildSystemPrompt = `You are a Build Agent (lab technician / engineer role).

Your job is to implement exactly what is requested: code, data pipelines, experiment
setup and debugging. You do not interpret results or decide research direction.

Before writing any code, run the Kill Assumptions Gate:
1. List every assumption the request depends on (data shape, units, library versions,
   file locations, sample sizes).
2. Mark each assumption as VERIFIED (stated in the request or project context) or
   UNVERIFIED.
3. If any UNVERIFIED assumption would change the implementation, stop and ask about it
   instead of guessing.

Then implement:
- Prefer the simplest implementation that satisfies the request.
- Keep code runnable and self-contained; state required inputs explicitly.
- Do not add features, optimizations or analyses that were not asked for.
- Report what you built, how to run it, and which assumptions remain open.`

const generalPromptTemplate = `You are a helpful research assistant.

Be concise and practical. Reference project context when relevant.
For complex reasoning or deep analysis, suggest using %sdeep instead.`

const simpleCodePromptTemplate = `You are a code assistant for Python data science projects.

Write simple, clean code. For complex implementations or architecture decisions, suggest using %sbuild instead.`

const thirdOpinionPrompt = "You are an AI research assistant."

// SetConfig wires every agent to its backend. A nil client makes the agents
// that use it report Unavailable.
type SetConfig struct {
	Claude domain.Completer
	OpenAI domain.Completer
	Gemini domain.Completer

	ResearchModel string
	BuildModel    string
	GeneralModel  string
	CodeModel     string
	RouterModel   string

	MaxTokens        int
	GeneralMaxTokens int

	// PromptsDir holds research_core.md and research_hardmode.md.
	PromptsDir string
	// Prefix is the command prefix quoted in instructions that point users at
	// other commands.
	Prefix string

	// ResearchChannel and BuildChannel are the classifier's destinations.
	ResearchChannel string
	BuildChannel    string

	Pool   *Pool
	Logger *slog.Logger
}

// Set is every agent the dispatcher can invoke.
type Set struct {
	Research     *Research
	Build        *Build
	General      *General
	SimpleCode   *SimpleCode
	ThirdOpinion *ThirdOpinion
	Classifier   *Classifier
}

func NewSet(cfg SetConfig) *Set {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Pool == nil {
		cfg.Pool = NewPool(DefaultPoolSize, cfg.Logger)
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "!"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2000
	}
	if cfg.GeneralMaxTokens <= 0 {
		cfg.GeneralMaxTokens = 1500
	}

	mk := func(name, label, env string, client domain.Completer, model string, maxTokens int) backend {
		return backend{
			name:      name,
			label:     label,
			envVar:    env,
			client:    client,
			model:     model,
			maxTokens: maxTokens,
			pool:      cfg.Pool,
			logger:    cfg.Logger,
		}
	}

	return &Set{
		Research: &Research{
			backend:    mk("research", backendClaude, envAnthropic, cfg.Claude, cfg.ResearchModel, cfg.MaxTokens),
			promptsDir: cfg.PromptsDir,
		},
		Build: &Build{
			backend: mk("build", backendClaude, envAnthropic, cfg.Claude, cfg.BuildModel, cfg.MaxTokens),
		},
		General: &General{
			backend: mk("general", backendOpenAI, envOpenAI, cfg.OpenAI, cfg.GeneralModel, cfg.GeneralMaxTokens),
			system:  fmt.Sprintf(generalPromptTemplate, cfg.Prefix),
		},
		SimpleCode: &SimpleCode{
			backend: mk("code", backendGemini, envGemini, cfg.Gemini, cfg.CodeModel, cfg.MaxTokens),
			system:  fmt.Sprintf(simpleCodePromptTemplate, cfg.Prefix),
		},
		ThirdOpinion: &ThirdOpinion{
			backend: mk("gemini", backendGemini, envGemini, cfg.Gemini, cfg.CodeModel, cfg.MaxTokens),
		},
		Classifier: &Classifier{
			backend:         mk("router", backendGemini, envGemini, cfg.Gemini, cfg.RouterModel, 0),
			researchChannel: cfg.ResearchChannel,
			buildChannel:    cfg.BuildChannel,
		},
	}
}

// Research reasons deeply about a query. Its instructions come from
// research_<mode>.md in the prompts directory.
type Research struct {
	backend
	promptsDir string
}

func (a *Research) Process(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.Query) == "" {
		return Result{}, ErrEmptyQuery
	}
	if a.client == nil {
		return a.unavailable(), nil
	}
	system := a.instructions(req.Mode)
	return a.complete(ctx, compose(system, req.Context), "Query: "+req.Query)
}

// instructions loads the template for mode, falling back to a generic
// instruction when the file is absent or empty.
func (a *Research) instructions(mode Mode) string {
	if mode == "" {
		mode = ModeCore
	}
	if a.promptsDir == "" {
		return genericResearchPrompt
	}
	path := filepath.Join(a.promptsDir, "research_"+string(mode)+".md")
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			a.logger.Warn("cannot read research template", "path", path, "err", err)
		}
		return genericResearchPrompt
	}
	if s := strings.TrimSpace(string(data)); s != "" {
		return s
	}
	return genericResearchPrompt
}

// Build implements what was asked and nothing more.
type Build struct {
	backend
}

func (a *Build) Process(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.Query) == "" {
		return Result{}, ErrEmptyQuery
	}
	prompt := fmt.Sprintf("Query: %s\n\nImplement exactly what is requested. Do not add features or interpret results.", req.Query)
	return a.complete(ctx, compose(buildSystemPrompt, req.Context), prompt)
}

// General answers quick questions.
type General struct {
	backend
	system string
}

func (a *General) Process(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.Query) == "" {
		return Result{}, ErrEmptyQuery
	}
	return a.complete(ctx, compose(a.system, req.Context), "Query: "+req.Query)
}

type SimpleCode struct {
	backend
	system string
}

func (a *SimpleCode) Process(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.Query) == "" {
		return Result{}, ErrEmptyQuery
	}
	prompt := compose(req.Context, "Query: "+req.Query, "Provide working code with brief explanations.")
	return a.complete(ctx, a.system, prompt)
}

// ThirdOpinion gives a balanced answer from a different model family.
type ThirdOpinion struct {
	backend
}

func (a *ThirdOpinion) Process(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.Query) == "" {
		return Result{}, ErrEmptyQuery
	}
	prompt := compose(req.Context, "Query: "+req.Query,
		"Provide a helpful, balanced response. Reference the project context when relevant. Consider multiple perspectives.")
	return a.complete(ctx, thirdOpinionPrompt, prompt)
}

var (
	_ Agent = (*Research)(nil)
	_ Agent = (*Build)(nil)
	_ Agent = (*General)(nil)
	_ Agent = (*SimpleCode)(nil)
	_ Agent = (*ThirdOpinion)(nil)
	_ Agent = (*Classifier)(nil)
)
