package domain

import "context"

// Channel is a chat-surface adapter (Telegram, Discord, Slack, CLI).
// Adapters only translate between platform wire formats and bus messages;
// all reasoning happens behind the bus.
type Channel interface {
	Name() string
	Start(ctx context.Context, bus MessageBus) error
	Stop() error
}
