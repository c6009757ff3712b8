package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"minibot/internal/domain"
)

const defaultBufferSize = 100

// InMemoryBus is a Go-channel based message bus connecting channel
// adapters to the agent engine. Both queues are bounded and FIFO;
// publishing blocks under backpressure until the caller's context
// expires, so fast producers and a slow engine get uniform backpressure
// instead of silent drops.
type InMemoryBus struct {
	inbound  chan domain.InboundMessage
	outbound chan domain.OutboundMessage

	mu          sync.RWMutex
	handlers    map[string]func(domain.OutboundMessage)
	hasConsumer bool
	closed      bool

	dispatchOnce sync.Once
	done         chan struct{}
	logger       *slog.Logger
}

// New creates a bus with the given queue capacity and starts the
// outbound dispatcher.
func New(bufferSize int, logger *slog.Logger) *InMemoryBus {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	b := &InMemoryBus{
		inbound:  make(chan domain.InboundMessage, bufferSize),
		outbound: make(chan domain.OutboundMessage, bufferSize),
		handlers: make(map[string]func(domain.OutboundMessage)),
		done:     make(chan struct{}),
		logger:   logger,
	}
	go b.dispatchOutbound()
	return b
}

// PublishInbound validates the message and enqueues it for the engine.
// Blocks while the queue is full. Publishing before the engine has
// attached a consumer is a configuration error.
func (b *InMemoryBus) PublishInbound(ctx context.Context, msg domain.InboundMessage) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	b.mu.RLock()
	closed, hasConsumer := b.closed, b.hasConsumer
	b.mu.RUnlock()
	if closed {
		return fmt.Errorf("bus: publish to closed bus")
	}
	if !hasConsumer {
		return fmt.Errorf("bus: no inbound consumer attached")
	}

	select {
	case b.inbound <- msg:
		return nil
	default:
	}

	b.logger.Warn("inbound bus full, waiting",
		"channel", msg.Channel,
		"sender", msg.SenderID,
	)
	select {
	case b.inbound <- msg:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("bus: inbound publish: %w", ctx.Err())
	case <-b.done:
		return fmt.Errorf("bus: closed while publishing")
	}
}

// Inbound returns the engine-side consume channel and marks the bus as
// having its single logical consumer.
func (b *InMemoryBus) Inbound() <-chan domain.InboundMessage {
	b.mu.Lock()
	b.hasConsumer = true
	b.mu.Unlock()
	return b.inbound
}

// PublishOutbound enqueues a reply for its channel adapter. Rejected when
// no adapter has subscribed for the message's channel.
func (b *InMemoryBus) PublishOutbound(ctx context.Context, msg domain.OutboundMessage) error {
	b.mu.RLock()
	_, ok := b.handlers[msg.Channel]
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return fmt.Errorf("bus: publish to closed bus")
	}
	if !ok {
		return fmt.Errorf("bus: no subscriber for channel %q", msg.Channel)
	}

	select {
	case b.outbound <- msg:
		return nil
	default:
	}

	b.logger.Warn("outbound bus full, waiting", "channel", msg.Channel)
	select {
	case b.outbound <- msg:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("bus: outbound publish: %w", ctx.Err())
	case <-b.done:
		return fmt.Errorf("bus: closed while publishing")
	}
}

// SubscribeOutbound registers the delivery callback for a channel.
// Exactly one subscriber per channel; duplicates are a startup error.
func (b *InMemoryBus) SubscribeOutbound(channel string, deliver func(domain.OutboundMessage)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.handlers[channel]; exists {
		return fmt.Errorf("bus: duplicate outbound subscription for channel %q", channel)
	}
	b.handlers[channel] = deliver
	return nil
}

// dispatchOutbound routes queued replies to their channel adapter.
// A failing handler is reported but never stops dispatch.
func (b *InMemoryBus) dispatchOutbound() {
	for {
		select {
		case <-b.done:
			return
		case msg := <-b.outbound:
			b.mu.RLock()
			handler, ok := b.handlers[msg.Channel]
			b.mu.RUnlock()
			if !ok {
				// Subscriber was present at publish time; this only
				// happens if the adapter never registered at startup.
				b.logger.Error("no handler for outbound message", "channel", msg.Channel)
				continue
			}
			b.deliver(handler, msg)
		}
	}
}

func (b *InMemoryBus) deliver(handler func(domain.OutboundMessage), msg domain.OutboundMessage) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("outbound handler panicked",
				"channel", msg.Channel,
				"panic", r,
			)
		}
	}()
	handler(msg)
}

// Close shuts the bus down. Idempotent.
func (b *InMemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.done)
	}
}
