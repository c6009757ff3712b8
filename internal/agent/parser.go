package agent

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"minibot/internal/domain"
)

// extractToolCallsFromContent salvages tool calls that a model emitted
// as JSON in its content text instead of the structured field. Handles
// bare JSON, code-fenced JSON, and JSON embedded in surrounding prose.
func extractToolCallsFromContent(content string) []domain.ToolCall {
	content = strings.TrimSpace(content)

	if strings.HasPrefix(content, "```") {
		lines := strings.Split(content, "\n")
		if len(lines) >= 3 && strings.HasPrefix(lines[len(lines)-1], "```") {
			content = strings.TrimSpace(strings.Join(lines[1:len(lines)-1], "\n"))
		}
	}

	if calls := parseToolJSON(content); len(calls) > 0 {
		return calls
	}

	// The JSON may be wrapped in prose ("Sure.\n{...}\nDoing that now.").
	if start, end := jsonBounds(content); start >= 0 {
		if calls := parseToolJSON(content[start:end]); len(calls) > 0 {
			return calls
		}
	}
	return nil
}

type rawToolCall struct {
	Name       string         `json:"name"`
	Arguments  map[string]any `json:"arguments"`
	Parameters map[string]any `json:"parameters"`
}

func (r rawToolCall) toCall() domain.ToolCall {
	args := r.Arguments
	if args == nil {
		args = r.Parameters
	}
	if args == nil {
		args = make(map[string]any)
	}
	return domain.ToolCall{
		ID:        "extracted_" + uuid.NewString()[:8],
		Name:      normalizeToolName(r.Name),
		Arguments: args,
	}
}

func parseToolJSON(raw string) []domain.ToolCall {
	var single rawToolCall
	if err := json.Unmarshal([]byte(raw), &single); err == nil && single.Name != "" {
		return []domain.ToolCall{single.toCall()}
	}

	var multi []rawToolCall
	if err := json.Unmarshal([]byte(raw), &multi); err == nil {
		var calls []domain.ToolCall
		for _, r := range multi {
			if r.Name == "" {
				continue
			}
			calls = append(calls, r.toCall())
		}
		return calls
	}
	return nil
}

// jsonBounds locates the first balanced top-level JSON object or array
// in s, returning start and end+1, or (-1, -1).
func jsonBounds(s string) (int, int) {
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return -1, -1
	}

	open := s[start]
	closing := byte('}')
	if open == '[' {
		closing = ']'
	}

	depth := 0
	inStr := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inStr {
			switch ch {
			case '\\':
				i++
			case '"':
				inStr = false
			}
			continue
		}
		switch ch {
		case '"':
			inStr = true
		case open:
			depth++
		case closing:
			depth--
			if depth == 0 {
				return start, i + 1
			}
		}
	}
	return -1, -1
}

// normalizeToolName maps common model-generated name variants to the
// registered names. Smaller models drop underscores or use hyphens.
func normalizeToolName(name string) string {
	aliases := map[string]string{
		"readfile":   "read_file",
		"read-file":  "read_file",
		"writefile":  "write_file",
		"write-file": "write_file",
		"editfile":   "edit_file",
		"edit-file":  "edit_file",
		"listdir":    "list_dir",
		"list-dir":   "list_dir",
		"websearch":  "web_search",
		"web-search": "web_search",
		"webfetch":   "web_fetch",
		"web-fetch":  "web_fetch",
		"shell":      "exec",
	}
	if mapped, ok := aliases[strings.ToLower(name)]; ok {
		return mapped
	}
	return name
}
