package dispatch

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"researchbot/internal/projectctx"
)

func (d *Dispatcher) handleImp(ctx context.Context, r *request) error {
	if r.args == "" {
		return d.reply(ctx, r, "Usage: "+d.spec(r.cmd).usage(d.prefix))
	}
	id, err := d.memory.Add(ctx, r.args, r.msg.AuthorName)
	if err != nil {
		return fmt.Errorf("save memory: %w", err)
	}
	r.logger.Info("memory saved", "memory_id", id)
	return d.reply(ctx, r, fmt.Sprintf("🧠 Memory #%d saved.", id))
}

func (d *Dispatcher) handleMemory(ctx context.Context, r *request) error {
	entries, err := d.memory.All(ctx)
	if err != nil {
		return fmt.Errorf("list memories: %w", err)
	}
	if len(entries) == 0 {
		return d.reply(ctx, r, fmt.Sprintf("🧠 No memories saved yet. Use %s to add one.", d.spec(CmdImp).usage(d.prefix)))
	}
	var b strings.Builder
	b.WriteString("🧠 **Project Memory:**")
	for _, e := range entries {
		b.WriteByte('\n')
		b.WriteString(projectctx.FormatEntry(e))
	}
	return d.reply(ctx, r, b.String())
}

func (d *Dispatcher) handleUpdate(ctx context.Context, r *request) error {
	raw, text := splitWord(r.args)
	id, err := strconv.Atoi(raw)
	if err != nil || text == "" {
		return d.reply(ctx, r, "Usage: "+d.spec(r.cmd).usage(d.prefix))
	}
	ok, err := d.memory.Update(ctx, id, text)
	if err != nil {
		return fmt.Errorf("update memory %d: %w", id, err)
	}
	if !ok {
		return d.reply(ctx, r, fmt.Sprintf("❌ Memory #%d not found.", id))
	}
	return d.reply(ctx, r, fmt.Sprintf("✏️ Memory #%d updated.", id))
}

func (d *Dispatcher) handleForget(ctx context.Context, r *request) error {
	id, err := strconv.Atoi(strings.TrimSpace(r.args))
	if err != nil {
		return d.reply(ctx, r, "Usage: "+d.spec(r.cmd).usage(d.prefix))
	}
	ok, err := d.memory.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("forget memory %d: %w", id, err)
	}
	if !ok {
		return d.reply(ctx, r, fmt.Sprintf("❌ Memory #%d not found.", id))
	}
	return d.reply(ctx, r, fmt.Sprintf("🗑️ Memory #%d forgotten.", id))
}
