package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"researchbot/internal/config"
	"researchbot/internal/domain"
)

const (
	historyDefault      = 20
	historyMax          = 100
	historyContentRunes = 150
)

// contextRoles are the names accepted by the context command.
const contextRoles = "research, build, coord, general, findings, task, completed"

func (d *Dispatcher) handleContext(ctx context.Context, r *request) error {
	fields := strings.Fields(r.args)
	if len(fields) == 0 || len(fields) > 2 {
		return d.reply(ctx, r, "Usage: "+d.spec(r.cmd).usage(d.prefix))
	}
	limit := historyDefault
	if len(fields) == 2 {
		n, err := strconv.Atoi(fields[1])
		if err != nil {
			return d.reply(ctx, r, "❌ Limit must be a number. Usage: "+d.spec(r.cmd).usage(d.prefix))
		}
		limit = min(max(n, 1), historyMax)
	}

	role := strings.ToLower(fields[0])
	id, ok := d.channels.Lookup(role)
	if !ok || !config.IsRole(role) {
		return d.reply(ctx, r, "Unknown channel. Use: "+contextRoles)
	}

	msgs, err := d.transport.History(ctx, id, limit)
	switch {
	case errors.Is(err, domain.ErrHistoryUnsupported):
		return d.reply(ctx, r, fmt.Sprintf("⚠️ Channel history is not available on %s.", d.transport.Name()))
	case errors.Is(err, domain.ErrChannelNotFound):
		return d.reply(ctx, r, "Unknown channel. Use: "+contextRoles)
	case err != nil:
		return fmt.Errorf("read history of %s: %w", role, err)
	}

	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("**%s** (%s): %s",
			m.AuthorName, m.CreatedAt.UTC().Format("2006-01-02 15:04"), truncateRunes(m.Content, historyContentRunes)))
	}
	if len(lines) == 0 {
		return d.reply(ctx, r, "No messages found in this channel.")
	}
	return d.reply(ctx, r, strings.Join(lines, "\n\n"))
}

func (d *Dispatcher) handleLogFinding(ctx context.Context, r *request) error {
	if r.args == "" {
		return d.reply(ctx, r, "Usage: "+d.spec(r.cmd).usage(d.prefix))
	}
	findings, ok, err := d.roleChannel(ctx, r, config.RoleFindings)
	if !ok {
		return err
	}
	body := fmt.Sprintf("📌 **Finding logged** (%s)\nBy: %s\n\n%s", d.timestamp(), r.msg.AuthorName, r.args)
	if _, err := d.send(ctx, findings, body); err != nil {
		return err
	}
	return d.reply(ctx, r, "✅ Finding logged to "+d.transport.MentionChannel(findings))
}

// handleTask posts a task card. The card must fit one message since its
// message id is the task id.
func (d *Dispatcher) handleTask(ctx context.Context, r *request) error {
	if r.args == "" {
		return d.reply(ctx, r, "Usage: "+d.spec(r.cmd).usage(d.prefix))
	}
	tasks, ok, err := d.roleChannel(ctx, r, config.RoleTask)
	if !ok {
		return err
	}
	body := fmt.Sprintf("📋 **New Task** (%s)\nCreated by: %s\n\n%s\n\nStatus: 🔵 **ACTIVE**", d.timestamp(), r.msg.AuthorName, r.args)
	if len(body) > d.chunkLimit {
		return d.reply(ctx, r, "❌ Task description is too long for a single message. Shorten it and try again.")
	}
	id, err := d.send(ctx, tasks, body)
	if err != nil {
		return err
	}
	return d.reply(ctx, r, fmt.Sprintf("✅ Task created in %s\nTask ID: `%s`", d.transport.MentionChannel(tasks), id))
}

// handleComplete moves a task card from the task channel to completed.
func (d *Dispatcher) handleComplete(ctx context.Context, r *request) error {
	taskID, result := splitWord(r.args)
	if taskID == "" {
		return d.reply(ctx, r, "Usage: "+d.spec(r.cmd).usage(d.prefix))
	}
	if result == "" {
		result = "Completed"
	}
	tasks, ok, err := d.roleChannel(ctx, r, config.RoleTask)
	if !ok {
		return err
	}
	done, ok, err := d.roleChannel(ctx, r, config.RoleCompleted)
	if !ok {
		return err
	}

	notFound := fmt.Sprintf("❌ Task `%s` not found in %s", taskID, d.transport.MentionChannel(tasks))
	orig, err := d.transport.FetchMessage(ctx, tasks, taskID)
	if errors.Is(err, domain.ErrMessageNotFound) {
		return d.reply(ctx, r, notFound)
	}
	if err != nil {
		return fmt.Errorf("fetch task %s: %w", taskID, err)
	}

	body := fmt.Sprintf("✅ **Task Completed** (%s)\nCompleted by: %s\n\n**Original Task:**\n%s\n\n**Result:** %s",
		d.timestamp(), r.msg.AuthorName, orig.Content, result)
	if _, err := d.send(ctx, done, body); err != nil {
		return err
	}

	// Someone else may have completed it in the meantime.
	if err := d.transport.DeleteMessage(ctx, tasks, taskID); err != nil && !errors.Is(err, domain.ErrMessageNotFound) {
		return fmt.Errorf("delete task %s: %w", taskID, err)
	}
	return d.reply(ctx, r, fmt.Sprintf("✅ Task `%s` moved to %s", taskID, d.transport.MentionChannel(done)))
}

func (d *Dispatcher) handleChannels(ctx context.Context, r *request) error {
	return d.reply(ctx, r, d.channelsText())
}

func (d *Dispatcher) handleHelp(ctx context.Context, r *request) error {
	return d.reply(ctx, r, d.helpText())
}

func (d *Dispatcher) handleSearch(ctx context.Context, r *request) error {
	return d.reply(ctx, r, searchText(d.prefix))
}
