package domain

import "context"

// Completion is a single-turn request to a reasoning backend.
type Completion struct {
	System    string
	Prompt    string
	Model     string
	MaxTokens int
}

// Completer is a configured backend client (Claude, OpenAI, Gemini).
type Completer interface {
	Name() string
	Complete(ctx context.Context, req Completion) (string, error)
}
