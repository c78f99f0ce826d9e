package dispatch

import (
	"context"
	"fmt"
	"strings"
	"unicode"
)

// Command is the name of a chat command, without prefix.
type Command string

const (
	CmdAsk        Command = "ask"
	CmdDeep       Command = "deep"
	CmdResearch   Command = "research"
	CmdHardmode   Command = "hardmode"
	CmdCode       Command = "code"
	CmdBuild      Command = "build"
	CmdGemini     Command = "gemini"
	CmdAuto       Command = "auto"
	CmdCrosscheck Command = "crosscheck"
	CmdConsensus  Command = "consensus"
	CmdContext    Command = "context"
	CmdLogFinding Command = "log_finding"
	CmdTask       Command = "task"
	CmdComplete   Command = "complete"
	CmdChannels   Command = "channels"
	CmdHelp       Command = "help_bot"
	CmdImp        Command = "imp"
	CmdMemory     Command = "memory"
	CmdUpdate     Command = "update"
	CmdForget     Command = "forget"
	CmdSearch     Command = "search"
)

// AllCommands is the closed set of commands; the dispatcher refuses to start
// unless each has exactly one handler.
var AllCommands = []Command{
	CmdAsk, CmdDeep, CmdResearch, CmdHardmode, CmdCode, CmdBuild, CmdGemini,
	CmdAuto, CmdCrosscheck, CmdConsensus,
	CmdContext, CmdLogFinding, CmdTask, CmdComplete, CmdChannels, CmdHelp,
	CmdImp, CmdMemory, CmdUpdate, CmdForget, CmdSearch,
}

type handler func(ctx context.Context, r *request) error

// section groups commands in the help text.
type section int

const (
	sectionGeneral section = iota
	sectionDeep
	sectionCode
	sectionMulti
	sectionTasks
	sectionMemory
	sectionUtility
)

var sectionTitles = map[section]string{
	sectionGeneral: "General Questions (cheap):",
	sectionDeep:    "Deep Research (expensive, powerful):",
	sectionCode:    "Code:",
	sectionMulti:   "Multi-AI:",
	sectionTasks:   "Task Management:",
	sectionMemory:  "Memory:",
	sectionUtility: "Utility:",
}

type commandSpec struct {
	name    Command
	args    string
	help    string
	section section
	run     handler
}

// usage renders "`!name args`".
func (s commandSpec) usage(prefix string) string {
	if s.args == "" {
		return "`" + prefix + string(s.name) + "`"
	}
	return "`" + prefix + string(s.name) + " " + s.args + "`"
}

// buildTable indexes specs by name and checks the table is complete.
func buildTable(specs []commandSpec) (map[Command]commandSpec, error) {
	table := make(map[Command]commandSpec, len(specs))
	for _, s := range specs {
		if s.run == nil {
			return nil, fmt.Errorf("command %q has no handler", s.name)
		}
		if _, dup := table[s.name]; dup {
			return nil, fmt.Errorf("command %q declared twice", s.name)
		}
		table[s.name] = s
	}
	for _, c := range AllCommands {
		if _, ok := table[c]; !ok {
			return nil, fmt.Errorf("command %q has no table entry", c)
		}
	}
	if len(table) != len(AllCommands) {
		return nil, fmt.Errorf("command table has %d entries, want %d", len(table), len(AllCommands))
	}
	return table, nil
}

// parseCommand splits "!name rest of text" into name and args. ok is false
// when content does not start with prefix or names nothing.
func parseCommand(content, prefix string) (name, args string, ok bool) {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, prefix) {
		return "", "", false
	}
	name, args = splitWord(content[len(prefix):])
	if name == "" {
		return "", "", false
	}
	return strings.ToLower(name), args, true
}

// splitWord splits s at its first whitespace of any kind into the leading
// word and the trimmed remainder.
func splitWord(s string) (word, rest string) {
	s = strings.TrimLeftFunc(s, unicode.IsSpace)
	end := strings.IndexFunc(s, unicode.IsSpace)
	if end < 0 {
		return s, ""
	}
	return s[:end], strings.TrimSpace(s[end:])
}
