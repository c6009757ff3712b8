package tool

import (
	"context"
	"fmt"
	"strings"

	"minibot/internal/domain"
)

// MessageTool sends a message to the current conversation's channel
// without ending the turn. Useful for progress updates during long tool
// chains. The destination comes from the turn origin on the context, so
// concurrent turns cannot cross wires.
type MessageTool struct {
	bus domain.MessageBus
}

func NewMessageTool(bus domain.MessageBus) *MessageTool {
	return &MessageTool{bus: bus}
}

func (t *MessageTool) Name() string { return "message" }
func (t *MessageTool) Description() string {
	return "Send an intermediate message to the user immediately, before the turn completes. Use sparingly, for progress updates on long tasks."
}
func (t *MessageTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"content": {Type: "string", Description: "The message text to send"},
		},
		[]string{"content"},
	)
}

func (t *MessageTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	content := strings.TrimSpace(ArgsString(args, "content"))
	if content == "" {
		return "", fmt.Errorf("missing argument: content")
	}
	origin, ok := OriginFrom(ctx)
	if !ok {
		return "", fmt.Errorf("no conversation origin on this turn")
	}
	err := t.bus.PublishOutbound(ctx, domain.OutboundMessage{
		Channel: origin.Channel,
		ChatID:  origin.ChatID,
		Content: content,
	})
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	return "Message sent.", nil
}
