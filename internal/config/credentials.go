package config

import "os"

const (
	PlatformDiscord  = "discord"
	PlatformSlack    = "slack"
	PlatformTelegram = "telegram"
	PlatformConsole  = "console"

	MemoryBackendFile   = "file"
	MemoryBackendSQLite = "sqlite"

	envDiscordToken  = "DISCORD_BOT_TOKEN"
	envSlackBotToken = "SLACK_BOT_TOKEN"
	envSlackAppToken = "SLACK_APP_TOKEN"
	envTelegramToken = "TELEGRAM_BOT_TOKEN"
	envAnthropicKey  = "ANTHROPIC_API_KEY"
	envOpenAIKey     = "OPENAI_API_KEY"
	envGeminiKey     = "GEMINI_API_KEY"
)

var platformTokenEnv = map[string]string{
	PlatformDiscord:  envDiscordToken,
	PlatformSlack:    envSlackBotToken,
	PlatformTelegram: envTelegramToken,
}

// Credentials are read from the environment only. A missing backend key
// disables the agents that depend on it; a missing platform token is fatal.
type Credentials struct {
	PlatformToken string
	SlackAppToken string
	AnthropicKey  string
	OpenAIKey     string
	GeminiKey     string
}

// LoadCredentials reads the platform token for the given platform plus the
// three optional backend keys.
func LoadCredentials(platform string) Credentials {
	c := Credentials{
		AnthropicKey: os.Getenv(envAnthropicKey),
		OpenAIKey:    os.Getenv(envOpenAIKey),
		GeminiKey:    os.Getenv(envGeminiKey),
	}
	if env, ok := platformTokenEnv[platform]; ok {
		c.PlatformToken = os.Getenv(env)
	}
	if platform == PlatformSlack {
		c.SlackAppToken = os.Getenv(envSlackAppToken)
	}
	return c
}
