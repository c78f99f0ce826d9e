package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for researchbot.
type Config struct {
	General  GeneralConfig  `json:"general" yaml:"general"`
	Platform PlatformConfig `json:"platform" yaml:"platform"`
	Channels ChannelMap     `json:"channels" yaml:"channels"`
	Models   ModelsConfig   `json:"models" yaml:"models"`
	Agents   AgentsConfig   `json:"agents" yaml:"agents"`
	Memory   MemoryConfig   `json:"memory" yaml:"memory"`
	Prompts  PromptsConfig  `json:"prompts" yaml:"prompts"`
	Dispatch DispatchConfig `json:"dispatch" yaml:"dispatch"`
	Metrics  MetricsConfig  `json:"metrics" yaml:"metrics"`

	// Credentials never live in the config file; see LoadCredentials.
	Credentials Credentials `json:"-" yaml:"-"`
}

type GeneralConfig struct {
	LogLevel string `json:"logLevel" yaml:"logLevel"`
	LogFile  string `json:"logFile,omitempty" yaml:"logFile,omitempty"`
}

// PlatformConfig selects the chat transport.
type PlatformConfig struct {
	Name      string         `json:"name" yaml:"name"` // "discord" | "slack" | "telegram" | "console"
	GuildID   string         `json:"guildId,omitempty" yaml:"guildId,omitempty"`
	AllowFrom FlexStringList `json:"allowFrom,omitempty" yaml:"allowFrom,omitempty"`
}

// ModelsConfig names the backend model used by each agent role.
type ModelsConfig struct {
	Research string `json:"research" yaml:"research"`
	Build    string `json:"build" yaml:"build"`
	General  string `json:"general" yaml:"general"`
	Code     string `json:"code" yaml:"code"`
	Router   string `json:"router" yaml:"router"`
}

type AgentsConfig struct {
	WorkerPoolSize     int `json:"workerPoolSize" yaml:"workerPoolSize"`
	MaxTokens          int `json:"maxTokens" yaml:"maxTokens"`
	GeneralMaxTokens   int `json:"generalMaxTokens" yaml:"generalMaxTokens"`
	RateLimitPerMinute int `json:"rateLimitPerMinute,omitempty" yaml:"rateLimitPerMinute,omitempty"` // 0 = unlimited
	HTTPTimeoutSeconds int `json:"httpTimeoutSeconds" yaml:"httpTimeoutSeconds"`
}

type MemoryConfig struct {
	Backend string `json:"backend" yaml:"backend"` // "file" | "sqlite"
	Path    string `json:"path" yaml:"path"`
}

type PromptsConfig struct {
	Dir string `json:"dir" yaml:"dir"`
}

type DispatchConfig struct {
	Prefix                string `json:"prefix" yaml:"prefix"`
	ChunkLimit            int    `json:"chunkLimit" yaml:"chunkLimit"`
	MaxConcurrentCommands int    `json:"maxConcurrentCommands" yaml:"maxConcurrentCommands"`
}

// MetricsConfig configures the Prometheus text endpoint.
type MetricsConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Listen   string `json:"listen" yaml:"listen"`
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// FlexStringList is a []string that can unmarshal from JSON arrays containing
// both strings and numbers (e.g. ["123", 456] both become "123", "456").
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

// DefaultConfigDir returns the default config directory (~/.researchbot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".researchbot"
	}
	return filepath.Join(home, ".researchbot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads, parses and validates the config file, then pulls credentials
// from the environment.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// Read parses the config file without validating it.
func Read(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if isYAML(path) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Memory.Path = ExpandPath(cfg.Memory.Path)
	cfg.Prompts.Dir = ExpandPath(cfg.Prompts.Dir)
	cfg.Channels = cfg.Channels.normalized()
	cfg.Credentials = LoadCredentials(cfg.Platform.Name)

	return cfg, nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty; an unset
// variable without default is left untouched.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		if val, ok := os.LookupEnv(groups[1]); ok && val != "" {
			return val
		}
		if len(groups) >= 3 && groups[2] != "" {
			return groups[2]
		}
		return match
	})
}

// Save writes the config as JSON or YAML depending on the file extension.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values and that the mandatory
// platform credential and channel roles are present.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.Platform.Name {
	case PlatformDiscord, PlatformSlack, PlatformTelegram:
		if cfg.Credentials.PlatformToken == "" {
			errs = append(errs, fmt.Sprintf("%s is not set", platformTokenEnv[cfg.Platform.Name]))
		}
		if cfg.Platform.Name == PlatformSlack && cfg.Credentials.SlackAppToken == "" {
			errs = append(errs, envSlackAppToken+" is not set (required for socket mode)")
		}
		if missing := cfg.Channels.Missing(); len(missing) > 0 {
			errs = append(errs, "missing channel IDs: "+strings.Join(missing, ", "))
		}
	case PlatformConsole:
		// console maps every role to its own name
	default:
		errs = append(errs, "platform.name must be one of: discord, slack, telegram, console")
	}

	switch cfg.General.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	switch cfg.Memory.Backend {
	case MemoryBackendFile, MemoryBackendSQLite:
	default:
		errs = append(errs, "memory.backend must be one of: file, sqlite")
	}
	if cfg.Memory.Path == "" {
		errs = append(errs, "memory.path is required")
	}

	if cfg.Agents.WorkerPoolSize < 1 || cfg.Agents.WorkerPoolSize > 64 {
		errs = append(errs, "agents.workerPoolSize must be between 1 and 64")
	}
	if cfg.Agents.MaxTokens < 1 || cfg.Agents.GeneralMaxTokens < 1 {
		errs = append(errs, "agents.maxTokens and agents.generalMaxTokens must be >= 1")
	}
	if cfg.Agents.RateLimitPerMinute < 0 {
		errs = append(errs, "agents.rateLimitPerMinute must be >= 0")
	}

	if strings.TrimSpace(cfg.Dispatch.Prefix) == "" {
		errs = append(errs, "dispatch.prefix must not be empty")
	}
	if cfg.Dispatch.ChunkLimit < 100 || cfg.Dispatch.ChunkLimit > 4000 {
		errs = append(errs, "dispatch.chunkLimit must be between 100 and 4000")
	}
	if cfg.Dispatch.MaxConcurrentCommands < 1 || cfg.Dispatch.MaxConcurrentCommands > 100 {
		errs = append(errs, "dispatch.maxConcurrentCommands must be between 1 and 100")
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		errs = append(errs, "metrics.listen is required when metrics are enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// GetByPath retrieves a config value by dot-notation path (e.g. "dispatch.prefix").
func GetByPath(cfg *Config, path string) (any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var current any
	if err := json.Unmarshal(data, &current); err != nil {
		return nil, err
	}
	for _, key := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("cannot traverse into %T at %s", current, key)
		}
		if current, ok = m[key]; !ok {
			return nil, fmt.Errorf("key not found: %s", path)
		}
	}
	return current, nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
