package tool

import (
	"context"
	"fmt"
	"strings"

	"minibot/internal/domain"
)

const defaultMemoryLimit = 10

// MemoryTool gives the model explicit access to long-term memory, beyond
// the recent entries injected into every prompt. Saved entries survive
// session truncation and /new.
type MemoryTool struct {
	store domain.Store
}

func NewMemoryTool(store domain.Store) *MemoryTool {
	return &MemoryTool{store: store}
}

func (t *MemoryTool) Name() string { return "memory" }

func (t *MemoryTool) Description() string {
	return "Long-term memory. action=save stores a fact or preference permanently, action=search finds stored entries matching a query, action=recent lists the latest entries."
}

func (t *MemoryTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"action":   {Type: "string", Description: "One of: save, search, recent"},
			"content":  {Type: "string", Description: "The fact to remember (for save)"},
			"category": {Type: "string", Description: "One of: fact, preference, instruction (for save, default fact)"},
			"query":    {Type: "string", Description: "Text to search for (for search)"},
			"limit":    {Type: "integer", Description: "Maximum entries to return (for search/recent)"},
		},
		[]string{"action"},
	)
}

func (t *MemoryTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	switch ArgsString(args, "action") {
	case "save":
		return t.save(ctx, args)
	case "search":
		return t.search(ctx, args)
	case "recent":
		return t.recent(ctx, args)
	default:
		return "", fmt.Errorf("unknown action: %q (want save, search or recent)", ArgsString(args, "action"))
	}
}

func (t *MemoryTool) save(ctx context.Context, args map[string]any) (string, error) {
	content := strings.TrimSpace(ArgsString(args, "content"))
	if content == "" {
		return "", fmt.Errorf("missing argument: content")
	}
	category := ArgsString(args, "category")
	switch category {
	case "":
		category = "fact"
	case "fact", "preference", "instruction":
	default:
		return "", fmt.Errorf("unknown category: %q", category)
	}

	entry := domain.MemoryEntry{Category: category, Content: content}
	if origin, ok := OriginFrom(ctx); ok {
		entry.Source = origin.Channel + ":" + origin.ChatID
	}
	if err := t.store.SaveMemory(ctx, entry); err != nil {
		return "", fmt.Errorf("save memory: %w", err)
	}
	return "Remembered.", nil
}

func (t *MemoryTool) search(ctx context.Context, args map[string]any) (string, error) {
	query := strings.TrimSpace(ArgsString(args, "query"))
	if query == "" {
		return "", fmt.Errorf("missing argument: query")
	}
	entries, err := t.store.SearchMemories(ctx, query, memoryLimit(args))
	if err != nil {
		return "", fmt.Errorf("search memories: %w", err)
	}
	if len(entries) == 0 {
		return "No matching memories.", nil
	}
	return renderMemories(entries), nil
}

func (t *MemoryTool) recent(ctx context.Context, args map[string]any) (string, error) {
	entries, err := t.store.RecentMemories(ctx, memoryLimit(args))
	if err != nil {
		return "", fmt.Errorf("list memories: %w", err)
	}
	if len(entries) == 0 {
		return "No memories stored yet.", nil
	}
	return renderMemories(entries), nil
}

func memoryLimit(args map[string]any) int {
	if limit := ArgsInt(args, "limit", defaultMemoryLimit); limit > 0 {
		return limit
	}
	return defaultMemoryLimit
}

func renderMemories(entries []domain.MemoryEntry) string {
	var sb strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&sb, "- [%s] %s\n", e.Category, e.Content)
	}
	return strings.TrimRight(sb.String(), "\n")
}
