package domain

import "context"

// Transport is a chat platform connection (Discord, Slack, Telegram, console).
// Channel IDs are the platform's own identifiers as strings.
type Transport interface {
	Name() string
	Start(ctx context.Context, bus MessageBus) error
	Stop() error

	// Send posts content to a channel and returns the new message's ID.
	Send(ctx context.Context, channelID, content string) (string, error)
	Typing(ctx context.Context, channelID string) error

	// History returns up to limit recent messages, oldest first.
	History(ctx context.Context, channelID string, limit int) ([]ChannelMessage, error)
	FetchMessage(ctx context.Context, channelID, messageID string) (*ChannelMessage, error)
	DeleteMessage(ctx context.Context, channelID, messageID string) error
	ReadAttachment(ctx context.Context, att Attachment) ([]byte, error)

	// MentionChannel renders a clickable reference to a channel.
	MentionChannel(channelID string) string
	MaxMessageLen() int
}
