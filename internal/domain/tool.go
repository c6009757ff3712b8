package domain

import "context"

// Tool is a named, schema-described capability the model can invoke.
type Tool interface {
	Name() string
	Description() string
	// Parameters returns a JSON Schema object describing the arguments.
	Parameters() map[string]any
	Execute(ctx context.Context, args map[string]any) (string, error)
}

// ToolDefinition is the catalog entry handed to the model capability.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}
