package dispatch

import (
	"context"
	"fmt"
	"strings"

	"researchbot/internal/agent"
	"researchbot/internal/config"
)

// route describes a single-agent command: what to announce, which agent to
// call and where the answer goes. An empty role answers in place; otherwise
// the answer goes to the role channel and the requester gets ack.
type route struct {
	status string
	pick   func(Agents) agent.Agent
	mode   agent.Mode
	role   string
	header string // formatted with the query excerpt
	ack    string // formatted with the destination mention
}

var (
	routeAsk = route{
		status: "💬 Asking GPT-4...",
		pick:   func(a Agents) agent.Agent { return a.General },
	}
	routeDeep = route{
		status: "🧠 Deep reasoning with Claude...",
		pick:   func(a Agents) agent.Agent { return a.Research },
		mode:   agent.ModeCore,
		role:   config.RoleResearch,
		header: "**Deep Research (Claude)** responding to: *%s*",
		ack:    "✅ Claude's response posted in %s",
	}
	routeHardmode = route{
		status: "🔥 **HARD MODE** - Loading project context and preparing critique...",
		pick:   func(a Agents) agent.Agent { return a.Research },
		mode:   agent.ModeHardmode,
		role:   config.RoleResearch,
		header: "**🔥 HARD MODE CRITIQUE** of: *%s*",
		ack:    "✅ Hard mode critique posted in %s",
	}
	routeCode = route{
		status: "⚡ Quick code with Gemini (free)...",
		pick:   func(a Agents) agent.Agent { return a.SimpleCode },
	}
	routeBuild = route{
		status: "🏗️ Building with Claude (checking assumptions)...",
		pick:   func(a Agents) agent.Agent { return a.Build },
		role:   config.RoleBuild,
		header: "**Build Agent (Claude)** responding to: *%s*",
		ack:    "✅ Claude's response posted in %s",
	}
	routeGemini = route{
		status: "📚 Loading project context...",
		pick:   func(a Agents) agent.Agent { return a.ThirdOpinion },
	}
)

const queryExcerptRunes = 100

// query merges .txt attachments into the command text. It replies with the
// usage hint and returns ok=false when nothing is left. Unreadable
// attachments are reported and skipped.
func (d *Dispatcher) query(ctx context.Context, r *request) (string, bool, error) {
	q := r.args
	for _, att := range r.msg.Attachments {
		if !strings.HasSuffix(strings.ToLower(att.Filename), ".txt") {
			continue
		}
		data, err := d.transport.ReadAttachment(ctx, att)
		if err != nil {
			r.logger.Warn("attachment read failed", "file", att.Filename, "err", err)
			if err := d.reply(ctx, r, fmt.Sprintf("⚠️ Could not read attachment `%s`: %v", att.Filename, err)); err != nil {
				return "", false, err
			}
			continue
		}
		q += "\n\n" + strings.ToValidUTF8(string(data), "�")
	}

	q = strings.TrimSpace(q)
	if q == "" {
		return "", false, d.reply(ctx, r, "Usage: "+d.spec(r.cmd).usage(d.prefix))
	}
	return q, true, nil
}

func (d *Dispatcher) agentCommand(rt route) handler {
	return func(ctx context.Context, r *request) error {
		q, ok, err := d.query(ctx, r)
		if !ok {
			return err
		}
		dest := ""
		if rt.role != "" {
			id, ok, err := d.roleChannel(ctx, r, rt.role)
			if !ok {
				return err
			}
			dest = id
		}
		return d.runRoute(ctx, r, rt, q, dest)
	}
}

// runRoute calls the route's agent and delivers the result. dest is the
// destination channel for routes with a role.
func (d *Dispatcher) runRoute(ctx context.Context, r *request, rt route, q, dest string) error {
	if err := d.reply(ctx, r, rt.status); err != nil {
		return err
	}
	d.typing(ctx, r)

	res, err := rt.pick(d.agents).Process(ctx, agent.Request{
		Query:   q,
		Context: d.context.Assemble(ctx),
		Mode:    rt.mode,
	})
	if err != nil {
		return err
	}

	// An unconfigured backend is explained to the requester, not posted to
	// the destination channel.
	if dest == "" || res.IsUnavailable() {
		return d.reply(ctx, r, res.Render())
	}

	body := fmt.Sprintf(rt.header, excerpt(q, queryExcerptRunes)) + "\n\n" + res.Text
	if _, err := d.send(ctx, dest, body); err != nil {
		return err
	}
	return d.reply(ctx, r, fmt.Sprintf(rt.ack, d.transport.MentionChannel(dest)))
}

// handleAuto lets the classifier pick between the research and build routes.
func (d *Dispatcher) handleAuto(ctx context.Context, r *request) error {
	q, ok, err := d.query(ctx, r)
	if !ok {
		return err
	}
	if err := d.reply(ctx, r, "🧭 Classifying your query..."); err != nil {
		return err
	}

	label, dest, err := d.agents.Classifier.Classify(ctx, q)
	if err != nil {
		return err
	}
	r.logger.Info("query classified", "label", label)

	rt := routeBuild
	if label == agent.LabelResearch {
		rt = routeDeep
	}
	if dest == "" {
		id, ok, err := d.roleChannel(ctx, r, rt.role)
		if !ok {
			return err
		}
		dest = id
	}
	if err := d.reply(ctx, r, fmt.Sprintf("➡️ Routed to **%s**.", label)); err != nil {
		return err
	}
	return d.runRoute(ctx, r, rt, q, dest)
}

// handleCrosscheck compares the research and general agents side by side.
func (d *Dispatcher) handleCrosscheck(ctx context.Context, r *request) error {
	q, ok, err := d.query(ctx, r)
	if !ok {
		return err
	}
	if err := d.reply(ctx, r, "📚 Loading project context..."); err != nil {
		return err
	}
	d.typing(ctx, r)
	pctx := d.context.Assemble(ctx)

	if err := d.reply(ctx, r, "🔄 Querying Claude and GPT-4..."); err != nil {
		return err
	}
	results, err := agent.FanOut(ctx, agent.Request{Query: q, Context: pctx, Mode: agent.ModeCore},
		d.agents.Research, d.agents.General)
	if err != nil {
		return err
	}

	return d.reply(ctx, r, fmt.Sprintf("**Cross-check:** *%s*\n\n**🔵 Claude's take:**\n%s\n\n**🟢 GPT-4's take:**\n%s",
		excerpt(q, queryExcerptRunes),
		excerpt(results[0].Render(), crosscheckRunes),
		excerpt(results[1].Render(), crosscheckRunes)))
}

const (
	crosscheckRunes       = 800
	consensusSummaryRunes = 500
)

// handleConsensus asks all three backends, logs the full answers to findings
// and replies with a shortened summary.
func (d *Dispatcher) handleConsensus(ctx context.Context, r *request) error {
	q, ok, err := d.query(ctx, r)
	if !ok {
		return err
	}
	findings, ok, err := d.roleChannel(ctx, r, config.RoleFindings)
	if !ok {
		return err
	}
	if err := d.reply(ctx, r, "📚 Loading project context..."); err != nil {
		return err
	}
	d.typing(ctx, r)
	pctx := d.context.Assemble(ctx)

	if err := d.reply(ctx, r, "🔄 Querying Claude, GPT-4, and Gemini..."); err != nil {
		return err
	}
	results, err := agent.FanOut(ctx, agent.Request{Query: q, Context: pctx, Mode: agent.ModeCore},
		d.agents.Research, d.agents.General, d.agents.ThirdOpinion)
	if err != nil {
		return err
	}

	title := fmt.Sprintf("**🗳️ Consensus Query:** *%s*", excerpt(q, queryExcerptRunes))
	full := fmt.Sprintf("%s\n\n**🔵 Claude:**\n%s\n\n**🟢 GPT-4:**\n%s\n\n**🟡 Gemini:**\n%s",
		title, results[0].Render(), results[1].Render(), results[2].Render())
	if _, err := d.send(ctx, findings, full); err != nil {
		return err
	}

	return d.reply(ctx, r, fmt.Sprintf("%s\n\n**🔵 Claude:**\n%s\n\n**🟢 GPT-4:**\n%s\n\n**🟡 Gemini:**\n%s\n\n📌 Full responses logged in %s",
		title,
		excerpt(results[0].Render(), consensusSummaryRunes),
		excerpt(results[1].Render(), consensusSummaryRunes),
		excerpt(results[2].Render(), consensusSummaryRunes),
		d.transport.MentionChannel(findings)))
}
