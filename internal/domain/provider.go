package domain

import "context"

// Provider is the model capability: an opaque request/response RPC.
// The engine does not care which vendor sits behind it.
type Provider interface {
	Name() string
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// ChatRequest carries the assembled context plus the tool catalog.
type ChatRequest struct {
	Messages    []Turn
	Tools       []ToolDefinition
	Model       string
	MaxTokens   int
	Temperature float64
}

// ChatResponse is either free text, a batch of tool calls, or both.
// When both are present the engine executes the tools and records the
// text on the assistant turn without emitting it.
type ChatResponse struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
	Usage        Usage
}

func (r *ChatResponse) HasToolCalls() bool { return len(r.ToolCalls) > 0 }

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}
