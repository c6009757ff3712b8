package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"minibot/internal/domain"
	"minibot/internal/skill"
)

// Bootstrap files read from the workspace root, in context order.
// AGENTS.md carries operator instructions, SOUL.md the persona,
// USER.md the user profile. Missing files are skipped.
var bootstrapFiles = []string{"AGENTS.md", "SOUL.md", "USER.md"}

// ContextBuilder assembles the model-facing prompt. Build is
// deterministic given identical inputs: the clock and the memory
// snapshot are passed in, never read from globals, so failed turns can
// be replayed byte for byte in tests.
type ContextBuilder struct {
	workspace    string
	instructions string // extra operator text appended to the identity section
	skills       *skill.Library
}

func NewContextBuilder(workspace, instructions string, skills *skill.Library) *ContextBuilder {
	return &ContextBuilder{
		workspace:    workspace,
		instructions: instructions,
		skills:       skills,
	}
}

// Build produces the full message list for one model call:
// system prompt, then session history, then the current user message.
// Section order inside the system prompt is fixed: instructions,
// persona, user profile, long-term memory, skills, tool catalog, time.
func (b *ContextBuilder) Build(history []domain.Turn, userContent string, memories []domain.MemoryEntry, tools []domain.ToolDefinition, now time.Time) []domain.Turn {
	messages := make([]domain.Turn, 0, len(history)+2)
	messages = append(messages, domain.Turn{
		Role:    domain.RoleSystem,
		Content: b.systemPrompt(memories, tools, now),
	})
	messages = append(messages, history...)
	if userContent != "" {
		messages = append(messages, domain.Turn{Role: domain.RoleUser, Content: userContent})
	}
	return messages
}

func (b *ContextBuilder) systemPrompt(memories []domain.MemoryEntry, tools []domain.ToolDefinition, now time.Time) string {
	parts := []string{b.identity()}

	if bootstrap := b.loadBootstrapFiles(); bootstrap != "" {
		parts = append(parts, bootstrap)
	}

	if len(memories) > 0 {
		var mem strings.Builder
		mem.WriteString("# Memory\n\n")
		for _, m := range memories {
			fmt.Fprintf(&mem, "- [%s] %s\n", m.Category, m.Content)
		}
		parts = append(parts, strings.TrimRight(mem.String(), "\n"))
	}

	if b.skills != nil {
		if always := b.skills.AlwaysOn(); len(always) > 0 {
			var bodies []string
			for _, s := range always {
				bodies = append(bodies, s.Body)
			}
			parts = append(parts, "# Active Skills\n\n"+strings.Join(bodies, "\n\n---\n\n"))
		}
		if catalog := b.skills.Catalog(); catalog != "" {
			parts = append(parts, "# Skills\n\nThe following skills extend your capabilities. To use one, read its SKILL.md file with the read_file tool.\n\n"+catalog)
		}
	}

	if len(tools) > 0 {
		var cat strings.Builder
		cat.WriteString("# Tools\n\n")
		for _, t := range tools {
			fmt.Fprintf(&cat, "- %s: %s\n", t.Name, t.Description)
		}
		parts = append(parts, strings.TrimRight(cat.String(), "\n"))
	}

	parts = append(parts, "# Current Time\n\n"+now.Format("2006-01-02 15:04 (Monday)"))

	return strings.Join(parts, "\n\n---\n\n")
}

func (b *ContextBuilder) identity() string {
	workspacePath, err := filepath.Abs(b.workspace)
	if err != nil {
		workspacePath = b.workspace
	}

	identity := fmt.Sprintf(`# minibot

You are minibot, a helpful AI assistant with access to tools. You can:
- Read, write, and edit files in the workspace
- Execute shell commands
- Search the web and fetch web pages
- Send messages to users on chat channels
- Spawn sub-agents for complex background tasks

## Workspace
%s

## RULES
1. When responding to direct questions, reply with your text response. Only use the message tool to reach a specific chat channel.
2. Do NOT output raw JSON tool calls in your response text. Use the tool calling mechanism.
3. After tool execution, present results clearly. Do not mention tool names to the user.
4. Respond in the same language the user writes in.
5. Be helpful, accurate, and concise.`, workspacePath)

	if b.instructions != "" {
		identity += "\n\n## Custom Instructions\n" + b.instructions
	}
	return identity
}

func (b *ContextBuilder) loadBootstrapFiles() string {
	var parts []string
	for _, name := range bootstrapFiles {
		data, err := os.ReadFile(filepath.Join(b.workspace, name))
		if err != nil {
			continue
		}
		parts = append(parts, fmt.Sprintf("## %s\n\n%s", name, strings.TrimSpace(string(data))))
	}
	return strings.Join(parts, "\n\n")
}
