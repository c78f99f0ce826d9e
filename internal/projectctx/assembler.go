// Package projectctx builds the project context document handed to agents:
// the reference documents from the prompts directory followed by the
// persistent memory notes.
package projectctx

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
	Separator = "\n\n---\n\n"
	// Empty is returned when there are no documents and no memory notes.
	Empty = "No project context available."

	memoryHeader = "## Persistent Memory"
)

// Documents is the priority order of reference documents, each read from <name>.md.
var Documents = []string{"canon", "structure", "framing", "timeline", "roles", "discipline"}

type Config struct {
	Dir    string
	Memory domain.MemoryStore
	Logger *slog.Logger
}

// Assembler is rebuilt-on-read: nothing is cached, so edits to the documents
// or to memory show up on the next request.
type Assembler struct {
	dir    string
	memory domain.MemoryStore
	logger *slog.Logger
}

func New(cfg Config) *Assembler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{dir: cfg.Dir, memory: cfg.Memory, logger: logger}
}

func (a *Assembler) Assemble(ctx context.Context) string {
	var parts []string

	for _, name := range Documents {
		if body := a.readDocument(name); body != "" {
			parts = append(parts, body)
		}
	}
	if section := a.memorySection(ctx); section != "" {
		parts = append(parts, section)
	}

	if len(parts) == 0 {
		return Empty
	}
	return strings.Join(parts, Separator)
}

func (a *Assembler) readDocument(name string) string {
	if a.dir == "" {
		return ""
	}
	path := filepath.Join(a.dir, name+".md")
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			a.logger.Warn("skipping unreadable context document", "path", path, "err", err)
		}
		return ""
	}
	return string(data)
}

func (a *Assembler) memorySection(ctx context.Context) string {
	if a.memory == nil {
		return ""
	}
	entries, err := a.memory.All(ctx)
	if err != nil {
		a.logger.Warn("memory unavailable for context", "err", err)
		return ""
	}
	if len(entries) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(memoryHeader)
	for _, e := range entries {
		b.WriteByte('\n')
		b.WriteString(FormatEntry(e))
	}
	return b.String()
}

// FormatEntry renders one note as "[id] content (by author, created)".
func FormatEntry(e domain.MemoryEntry) string {
	return fmt.Sprintf("[%d] %s (by %s, %s)", e.ID, e.Content, e.Author, e.Created)
}
