package domain

import "time"

type InboundMessage struct {
	Platform    string
	ChannelID   string
	MessageID   string
	AuthorID    string
	AuthorName  string
	Content     string
	Attachments []Attachment
	MentionsBot bool
	Timestamp   time.Time
}

type Attachment struct {
	ID       string
	Filename string
	URL      string
	Size     int
}

// ChannelMessage is a message read back from a channel's history.
type ChannelMessage struct {
	ID         string
	ChannelID  string
	AuthorName string
	Content    string
	CreatedAt  time.Time
}
