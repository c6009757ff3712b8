package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"minibot/internal/domain"
)

const consolidatePrompt = `Summarize the conversation below into at most three short factual notes worth remembering long-term (user preferences, facts about the user, standing instructions, unfinished tasks). One note per line, no bullets, no commentary. Reply with NOTHING if there is nothing worth keeping.`

// consolidate distills turns that are leaving the session window into
// long-term memory entries. Best effort: a failed model call or store
// write loses the summary, never the turn.
func (l *Loop) consolidate(ctx context.Context, sessionKey string, turns []domain.Turn) {
	if l.store == nil {
		return
	}

	transcript := renderTranscript(turns)
	if transcript == "" {
		return
	}

	resp, err := l.provider.Chat(ctx, domain.ChatRequest{
		Messages: []domain.Turn{
			{Role: domain.RoleSystem, Content: consolidatePrompt},
			{Role: domain.RoleUser, Content: transcript},
		},
		Model:     l.model,
		MaxTokens: 512,
	})
	if err != nil {
		l.logger.Warn("memory consolidation failed", "session", sessionKey, "error", err)
		return
	}

	content := strings.TrimSpace(resp.Content)
	if content == "" || strings.EqualFold(content, "NOTHING") {
		return
	}

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		entry := domain.MemoryEntry{
			Category:  "summary",
			Content:   line,
			Source:    sessionKey,
			CreatedAt: time.Now(),
		}
		if err := l.store.SaveMemory(ctx, entry); err != nil {
			l.logger.Warn("failed to save memory entry", "session", sessionKey, "error", err)
			return
		}
	}
	l.logger.Info("consolidated session into memory", "session", sessionKey, "turns", len(turns))
}

// renderTranscript flattens turns into plain text for the summarizer.
// Tool results are elided to their first line to keep the prompt small.
func renderTranscript(turns []domain.Turn) string {
	var b strings.Builder
	for _, t := range turns {
		content := strings.TrimSpace(t.Content)
		if content == "" {
			continue
		}
		if t.Role == domain.RoleTool {
			if i := strings.IndexByte(content, '\n'); i >= 0 {
				content = content[:i] + " ..."
			}
		}
		fmt.Fprintf(&b, "%s: %s\n", t.Role, content)
	}
	return strings.TrimRight(b.String(), "\n")
}
