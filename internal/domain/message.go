package domain

import (
	"fmt"
	"strings"
	"time"
)

// InboundMessage is a user message received from a chat channel.
// It is immutable once published to the bus.
type InboundMessage struct {
	Channel    string
	ChatID     string
	SenderID   string
	Content    string
	Media      []string
	Metadata   map[string]string // channel-specific, opaque to the engine
	ReceivedAt time.Time
}

// SessionKey identifies the conversation this message belongs to.
// Same channel + chat always maps to the same session.
func (m InboundMessage) SessionKey() string {
	return m.Channel + ":" + m.ChatID
}

// Validate rejects messages that are missing required routing fields.
// Malformed messages never enter the bus.
func (m InboundMessage) Validate() error {
	if strings.TrimSpace(m.Channel) == "" {
		return fmt.Errorf("inbound message: missing channel")
	}
	if strings.TrimSpace(m.ChatID) == "" {
		return fmt.Errorf("inbound message: missing chat_id")
	}
	if strings.TrimSpace(m.SenderID) == "" {
		return fmt.Errorf("inbound message: missing sender_id")
	}
	if strings.TrimSpace(m.Content) == "" && len(m.Media) == 0 {
		return fmt.Errorf("inbound message: empty content")
	}
	return nil
}

// OutboundMessage is a reply the agent sends back through a channel.
type OutboundMessage struct {
	Channel  string
	ChatID   string
	Content  string
	Media    []string
	Metadata map[string]string
}
