package config

import "path/filepath"

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
		},
		Platform: PlatformConfig{
			Name: PlatformDiscord,
		},
		Channels: ChannelMap{},
		Models: ModelsConfig{
			Research: "claude-sonnet-4-20250514",
			Build:    "claude-sonnet-4-20250514",
			General:  "gpt-4",
			Code:     "gemini-1.5-pro",
			Router:   "gemini-1.5-flash",
		},
		Agents: AgentsConfig{
			WorkerPoolSize:     3,
			MaxTokens:          2000,
			GeneralMaxTokens:   1500,
			HTTPTimeoutSeconds: 120,
		},
		Memory: MemoryConfig{
			Backend: MemoryBackendFile,
			Path:    filepath.Join(DefaultConfigDir(), "memory.json"),
		},
		Prompts: PromptsConfig{
			Dir: filepath.Join(DefaultConfigDir(), "prompts"),
		},
		Dispatch: DispatchConfig{
			Prefix:                "!",
			ChunkLimit:            1900,
			MaxConcurrentCommands: 5,
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Listen:   "127.0.0.1:9464",
			Endpoint: "/metrics",
		},
	}
}
