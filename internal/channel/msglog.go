package channel

import (
	"sync"

	"researchbot/internal/domain"
)

// messageLog is a bounded per-channel record of messages, for transports whose
// platform cannot read history back.
type messageLog struct {
	mu      sync.Mutex
	perChan int
	entries map[string][]domain.ChannelMessage
}

func newMessageLog(perChan int) *messageLog {
	return &messageLog{perChan: perChan, entries: make(map[string][]domain.ChannelMessage)}
}

func (l *messageLog) record(m domain.ChannelMessage) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entries := append(l.entries[m.ChannelID], m)
	if len(entries) > l.perChan {
		entries = entries[len(entries)-l.perChan:]
	}
	l.entries[m.ChannelID] = entries
}

// tail returns up to limit of the newest messages, oldest first.
func (l *messageLog) tail(channelID string, limit int) []domain.ChannelMessage {
	l.mu.Lock()
	defer l.mu.Unlock()
	entries := l.entries[channelID]
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return append([]domain.ChannelMessage(nil), entries...)
}

func (l *messageLog) find(channelID, id string) (domain.ChannelMessage, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range l.entries[channelID] {
		if m.ID == id {
			return m, true
		}
	}
	return domain.ChannelMessage{}, false
}

func (l *messageLog) remove(channelID, id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	entries := l.entries[channelID]
	for i, m := range entries {
		if m.ID == id {
			l.entries[channelID] = append(entries[:i:i], entries[i+1:]...)
			return true
		}
	}
	return false
}
