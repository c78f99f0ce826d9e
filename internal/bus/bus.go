// Package bus carries inbound chat messages from transports to the dispatcher.
package bus

import (
	"log/slog"
	"sync"
	"time"

	"researchbot/internal/domain"
)

const (
	defaultBufferSize = 100
	publishTimeout    = 10 * time.Second
)

// InMemoryBus is a buffered Go channel shared by every transport. Publish
// blocks for up to publishTimeout when the buffer is full rather than
// dropping immediately.
type InMemoryBus struct {
	inbound  chan domain.InboundMessage
	// done is closed before Close takes mu, so a Publish waiting on a full
	// buffer gives up its read lock.
	done     chan struct{}
	doneOnce sync.Once
	mu       sync.RWMutex
	closed   bool
	timeout  time.Duration
	logger   *slog.Logger
}

func New(bufferSize int, logger *slog.Logger) *InMemoryBus {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &InMemoryBus{
		inbound: make(chan domain.InboundMessage, bufferSize),
		done:    make(chan struct{}),
		timeout: publishTimeout,
		logger:  logger,
	}
}

func (b *InMemoryBus) Publish(msg domain.InboundMessage) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.logger.Warn("publish on closed bus", "platform", msg.Platform, "channel", msg.ChannelID)
		return
	}

	select {
	case b.inbound <- msg:
		return
	default:
	}

	b.logger.Warn("inbound bus full, waiting", "channel", msg.ChannelID, "author", msg.AuthorID)
	timer := time.NewTimer(b.timeout)
	defer timer.Stop()
	select {
	case b.inbound <- msg:
		b.logger.Info("message delivered after wait", "channel", msg.ChannelID)
	case <-b.done:
		b.logger.Warn("message dropped: bus closing", "channel", msg.ChannelID)
	case <-timer.C:
		b.logger.Error("message dropped: bus full",
			"channel", msg.ChannelID,
			"author", msg.AuthorID,
			"waited", b.timeout,
		)
	}
}

func (b *InMemoryBus) Subscribe() <-chan domain.InboundMessage {
	return b.inbound
}

// Close stops the bus. Pending messages stay readable; the channel is closed
// once drained.
func (b *InMemoryBus) Close() {
	b.doneOnce.Do(func() { close(b.done) })
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed {
		b.closed = true
		close(b.inbound)
	}
}

var _ domain.MessageBus = (*InMemoryBus)(nil)
