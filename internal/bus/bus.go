package bus

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"relaybot/internal/domain"
)

const defaultPublishTimeout = 10 * time.Second

var (
	ErrClosed = errors.New("bus closed")
	ErrFull   = errors.New("bus full")
)

// InMemoryBus is a Go-channel based message bus for in-process communication.
type InMemoryBus struct {
	inbound        chan domain.InboundMessage
	handlers       map[string]func(domain.OutboundMessage)
	publishTimeout time.Duration
	mu             sync.RWMutex
	closed         bool
	logger         *slog.Logger
}

// New creates a new InMemoryBus with the given buffer size.
func New(bufferSize int, logger *slog.Logger) *InMemoryBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &InMemoryBus{
		inbound:        make(chan domain.InboundMessage, bufferSize),
		handlers:       make(map[string]func(domain.OutboundMessage)),
		publishTimeout: defaultPublishTimeout,
		logger:         logger,
	}
}

// Publish enqueues msg. When the buffer is full it waits up to the publish
// timeout and then gives up with ErrFull so the channel can tell its caller.
func (b *InMemoryBus) Publish(msg domain.InboundMessage) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.logger.Warn("attempted to publish to closed bus", "channel", msg.Channel)
		return ErrClosed
	}

	select {
	case b.inbound <- msg:
		return nil
	default:
	}

	b.logger.Warn("inbound bus full, waiting", "channel", msg.Channel, "sender", msg.SenderID)
	timer := time.NewTimer(b.publishTimeout)
	defer timer.Stop()
	select {
	case b.inbound <- msg:
		return nil
	case <-timer.C:
		b.logger.Error("message dropped: bus full",
			"channel", msg.Channel,
			"message_id", msg.ID,
			"waited", b.publishTimeout,
		)
		return ErrFull
	}
}

func (b *InMemoryBus) Subscribe() <-chan domain.InboundMessage {
	return b.inbound
}

func (b *InMemoryBus) SendOutbound(msg domain.OutboundMessage) {
	b.mu.RLock()
	handler, ok := b.handlers[msg.Channel]
	b.mu.RUnlock()

	if !ok {
		b.logger.Warn("no handler registered for channel", "channel", msg.Channel)
		return
	}

	handler(msg)
}

func (b *InMemoryBus) OnOutbound(channelName string, handler func(domain.OutboundMessage)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[channelName] = handler
}

func (b *InMemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed {
		b.closed = true
		close(b.inbound)
	}
}
