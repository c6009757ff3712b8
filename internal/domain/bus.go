package domain

import "context"

// MessageBus routes messages between channel adapters and the agent engine.
// Both directions are FIFO and bounded: publishing blocks under backpressure
// until the context expires instead of dropping messages.
type MessageBus interface {
	// PublishInbound validates and enqueues a user message for the engine.
	PublishInbound(ctx context.Context, msg InboundMessage) error

	// Inbound returns the engine-side consume channel. There is exactly
	// one logical consumer: the agent loop.
	Inbound() <-chan InboundMessage

	// PublishOutbound enqueues a reply for delivery to its channel adapter.
	// Publishing for a channel with no subscriber is an error.
	PublishOutbound(ctx context.Context, msg OutboundMessage) error

	// SubscribeOutbound registers the single delivery target for a channel.
	// A second subscription for the same channel is rejected.
	SubscribeOutbound(channel string, deliver func(OutboundMessage)) error

	Close()
}
