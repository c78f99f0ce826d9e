package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Channel roles a deployment maps to platform channel IDs.
const (
	RoleGeneral   = "general"
	RoleResearch  = "research"
	RoleBuild     = "build"
	RoleFindings  = "findings"
	RoleArchive   = "archive"
	RoleTestcase  = "testcase"
	RoleCompleted = "completed"
	RoleTask      = "task"
)

// Roles lists every known role in display order.
var Roles = []string{RoleGeneral, RoleResearch, RoleBuild, RoleFindings, RoleArchive, RoleTestcase, RoleCompleted, RoleTask}

// RequiredRoles must be configured for the bot to start.
var RequiredRoles = []string{RoleGeneral, RoleResearch, RoleBuild, RoleFindings, RoleTask, RoleCompleted}

// roleAliases are accepted by Lookup in addition to the role names.
var roleAliases = map[string]string{
	"coord": RoleGeneral,
}

// ChannelMap maps a role name to a platform channel ID. It is read-only once
// the config is loaded.
type ChannelMap map[string]string

// Lookup resolves a role (or alias) to its channel ID. ok is false for unknown
// or unconfigured roles.
func (m ChannelMap) Lookup(role string) (string, bool) {
	role = strings.ToLower(strings.TrimSpace(role))
	if alias, ok := roleAliases[role]; ok {
		role = alias
	}
	id, ok := m[role]
	return id, ok && id != ""
}

// IsRole reports whether name is a known role or alias, configured or not.
func IsRole(name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	if _, ok := roleAliases[name]; ok {
		return true
	}
	for _, r := range Roles {
		if r == name {
			return true
		}
	}
	return false
}

// Missing returns the required roles that have no channel ID.
func (m ChannelMap) Missing() []string {
	var missing []string
	for _, role := range RequiredRoles {
		if _, ok := m.Lookup(role); !ok {
			missing = append(missing, role)
		}
	}
	return missing
}

// ConsoleChannels maps every role to its own name, for the local console transport.
func ConsoleChannels() ChannelMap {
	m := make(ChannelMap, len(Roles))
	for _, r := range Roles {
		m[r] = r
	}
	return m
}

func (m ChannelMap) normalized() ChannelMap {
	out := make(ChannelMap, len(m))
	for k, v := range m {
		out[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}
	return out
}

// UnmarshalJSON accepts channel IDs as strings or numbers; Discord snowflakes
// are often pasted as bare integers.
func (m *ChannelMap) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(ChannelMap, len(raw))
	for role, v := range raw {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			out[role] = s
			continue
		}
		var n json.Number
		if err := json.Unmarshal(v, &n); err != nil {
			return fmt.Errorf("channels.%s: expected string or number", role)
		}
		if _, err := strconv.ParseUint(n.String(), 10, 64); err != nil {
			return fmt.Errorf("channels.%s: %q is not a channel ID", role, n.String())
		}
		out[role] = n.String()
	}
	*m = out
	return nil
}
