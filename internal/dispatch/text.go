package dispatch

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"researchbot/internal/config"
)

func (d *Dispatcher) commands() []commandSpec {
	return []commandSpec{
		{CmdAsk, "[question]", "GPT-4 for quick answers ($)", sectionGeneral, d.agentCommand(routeAsk)},
		{CmdAuto, "[question]", "Let the router pick research or build", sectionGeneral, d.handleAuto},

		{CmdDeep, "[question]", "Claude for complex reasoning ($$$)", sectionDeep, d.agentCommand(routeDeep)},
		{CmdResearch, "[question]", "Alias for " + d.prefix + "deep", sectionDeep, d.agentCommand(routeDeep)},
		{CmdHardmode, "[question]", "Aggressive skepticism (Claude $$$)", sectionDeep, d.agentCommand(routeHardmode)},

		{CmdCode, "[request]", "Gemini for simple code (FREE)", sectionCode, d.agentCommand(routeCode)},
		{CmdBuild, "[request]", "Claude for complex implementation ($$$)", sectionCode, d.agentCommand(routeBuild)},

		{CmdCrosscheck, "[question]", "Claude + GPT-4 comparison", sectionMulti, d.handleCrosscheck},
		{CmdConsensus, "[question]", "All 3 AIs (logged to #findings)", sectionMulti, d.handleConsensus},
		{CmdGemini, "[question]", "Direct Gemini access (FREE)", sectionMulti, d.agentCommand(routeGemini)},

		{CmdTask, "[description]", "Create new task", sectionTasks, d.handleTask},
		{CmdComplete, "[task_id] [result]", "Mark task complete", sectionTasks, d.handleComplete},

		{CmdImp, "[note]", "Save a note to project memory", sectionMemory, d.handleImp},
		{CmdMemory, "", "List saved notes", sectionMemory, d.handleMemory},
		{CmdUpdate, "[id] [note]", "Replace a saved note", sectionMemory, d.handleUpdate},
		{CmdForget, "[id]", "Delete a saved note", sectionMemory, d.handleForget},

		{CmdContext, "[channel] [limit]", "View recent messages", sectionUtility, d.handleContext},
		{CmdLogFinding, "[text]", "Log to #findings", sectionUtility, d.handleLogFinding},
		{CmdChannels, "", "List all channels", sectionUtility, d.handleChannels},
		{CmdSearch, "[query]", "Web search (not available)", sectionUtility, d.handleSearch},
		{CmdHelp, "", "This help message", sectionUtility, d.handleHelp},
	}
}

// helpText lists the table grouped by section, in declaration order.
func (d *Dispatcher) helpText() string {
	var b strings.Builder
	b.WriteString("**🤖 Research Bot Commands:**")
	last := section(-1)
	for _, s := range d.commands() {
		if s.section != last {
			fmt.Fprintf(&b, "\n\n**%s**", sectionTitles[s.section])
			last = s.section
		}
		fmt.Fprintf(&b, "\n• %s - %s", s.usage(d.prefix), s.help)
	}
	p := d.prefix
	fmt.Fprintf(&b, "\n\n**Cost Guide:**\n• FREE: Gemini (%[1]scode, %[1]sgemini)\n• $: GPT-4 (%[1]sask)\n• $$$: Claude (%[1]sdeep, %[1]sresearch, %[1]shardmode, %[1]sbuild)", p)
	return b.String()
}

type channelGroup struct {
	title string
	roles []string
}

var channelGroups = []channelGroup{
	{"📋 **Organization:**", []string{config.RoleGeneral}},
	{"🔬 **Research:**", []string{config.RoleResearch, config.RoleFindings}},
	{"🛠️ **Development:**", []string{config.RoleBuild, config.RoleTestcase}},
	{"📊 **Task Management:**", []string{config.RoleTask, config.RoleCompleted}},
	{"📁 **Archive:**", []string{config.RoleArchive}},
}

var channelPurpose = map[string]string{
	config.RoleGeneral:   "Main coordination (ask questions here)",
	config.RoleResearch:  "Research agent responses",
	config.RoleFindings:  "Key findings (use %slog_finding)",
	config.RoleBuild:     "Build agent responses",
	config.RoleTestcase:  "Test cases",
	config.RoleTask:      "Active tasks (use %stask)",
	config.RoleCompleted: "Completed tasks (use %scomplete)",
	config.RoleArchive:   "Archived content",
}

func (d *Dispatcher) channelsText() string {
	var b strings.Builder
	b.WriteString("**Available Channels:**")
	for _, g := range channelGroups {
		fmt.Fprintf(&b, "\n\n%s", g.title)
		for _, role := range g.roles {
			where := "*" + role + " (not configured)*"
			if id, ok := d.channels.Lookup(role); ok {
				where = d.transport.MentionChannel(id)
			}
			purpose := channelPurpose[role]
			if strings.Contains(purpose, "%s") {
				purpose = fmt.Sprintf(purpose, d.prefix)
			}
			fmt.Fprintf(&b, "\n• %s - %s", where, purpose)
		}
	}
	return b.String()
}

func mentionHint(prefix string) string {
	return fmt.Sprintf("👋 **Hi! Please use a command to ask me something:**\n\n"+
		"• `%[1]sask [question]` - General/Quick (GPT-4 $)\n"+
		"• `%[1]sdeep [question]` - Deep Research (Claude $$$)\n"+
		"• `%[1]scode [request]` - Simple Code (Gemini FREE)\n"+
		"• `%[1]shelp_bot` - See all commands", prefix)
}

func searchText(prefix string) string {
	return fmt.Sprintf("⚠️ **Feature Not Available**\n\n"+
		"`%[1]ssearch` requires a Perplexity API key which is not configured.\n\n"+
		"**Alternatives:**\n"+
		"• Use `%[1]sask` or `%[1]sdeep` - Claude/GPT-4 have training data up to early 2024\n"+
		"• For current market data, use external sources and paste here", prefix)
}

// excerpt shortens s to n runes, marking the cut with "...".
func excerpt(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return truncateRunes(s, n) + "..."
}

func truncateRunes(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// truncateBytes cuts s to at most n bytes without splitting a rune.
func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
