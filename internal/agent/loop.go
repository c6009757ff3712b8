package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"minibot/internal/domain"
	"minibot/internal/session"
	"minibot/internal/tool"
)

const (
	defaultMaxIterations  = 20
	defaultConcurrency    = 4
	defaultToolTimeout    = 60 * time.Second
	defaultMaxTokens      = 4096
	defaultTemperature    = 0.7
	defaultMemoryInPrompt = 5
)

// Loop is the agent engine: receive message, build context, call the
// model, execute tools, repeat until the model answers in plain text or
// the iteration cap is hit, then publish the reply.
//
// Turns for different session keys run in parallel up to the concurrency
// bound; turns for the same key queue behind the session lock, which is
// held from the first append to the final persist.
type Loop struct {
	provider      domain.Provider
	sessions      *session.Manager
	builder       *ContextBuilder
	tools         *tool.Registry
	store         domain.Store
	bus           domain.MessageBus
	logger        *slog.Logger
	maxIterations int
	concurrency   int
	toolTimeout   time.Duration
	model         string
	maxTokens     int
	temperature   float64
}

// LoopConfig holds the dependencies and tuning knobs for the engine.
type LoopConfig struct {
	Provider      domain.Provider
	Sessions      *session.Manager
	Builder       *ContextBuilder
	Tools         *tool.Registry
	Store         domain.Store
	Bus           domain.MessageBus
	Logger        *slog.Logger
	MaxIterations int
	Concurrency   int
	ToolTimeout   time.Duration
	Model         string
	MaxTokens     int
	Temperature   float64
}

func NewLoop(cfg LoopConfig) *Loop {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultMaxIterations
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.ToolTimeout <= 0 {
		cfg.ToolTimeout = defaultToolTimeout
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = defaultTemperature
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Loop{
		provider:      cfg.Provider,
		sessions:      cfg.Sessions,
		builder:       cfg.Builder,
		tools:         cfg.Tools,
		store:         cfg.Store,
		bus:           cfg.Bus,
		logger:        cfg.Logger,
		maxIterations: cfg.MaxIterations,
		concurrency:   cfg.Concurrency,
		toolTimeout:   cfg.ToolTimeout,
		model:         cfg.Model,
		maxTokens:     cfg.MaxTokens,
		temperature:   cfg.Temperature,
	}
}

// Run consumes inbound messages until the context is cancelled or the
// bus closes. It is the bus's single logical consumer.
func (l *Loop) Run(ctx context.Context) {
	l.logger.Info("agent loop started", "concurrency", l.concurrency)

	sem := make(chan struct{}, l.concurrency)
	inbound := l.bus.Inbound()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("agent loop stopping")
			return
		case msg, ok := <-inbound:
			if !ok {
				l.logger.Info("inbound channel closed, agent loop stopping")
				return
			}
			sem <- struct{}{}
			go func(m domain.InboundMessage) {
				defer func() { <-sem }()
				l.processMessage(ctx, m)
			}(msg)
		}
	}
}

// processMessage runs one turn and publishes the reply. A failed turn
// still answers: the user gets an apologetic message, not silence.
func (l *Loop) processMessage(ctx context.Context, msg domain.InboundMessage) {
	l.logger.Info("processing message",
		"channel", msg.Channel,
		"sender", msg.SenderID,
		"content_len", len(msg.Content),
	)

	reply, err := l.Process(ctx, msg)
	if err != nil {
		l.logger.Error("message processing failed", "session", msg.SessionKey(), "error", err)
		reply = fmt.Sprintf("Sorry, I encountered an error: %s", err.Error())
	}

	out := domain.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Content: reply,
	}
	if err := l.bus.PublishOutbound(ctx, out); err != nil {
		l.logger.Error("failed to publish reply", "channel", msg.Channel, "error", err)
	}
}

// Process runs one turn synchronously and returns the final text.
// Used by processMessage, the CLI, and sub-agents.
func (l *Loop) Process(ctx context.Context, msg domain.InboundMessage) (string, error) {
	if cmd := strings.TrimSpace(msg.Content); strings.HasPrefix(cmd, "/") {
		if reply, handled := l.handleCommand(ctx, msg, cmd); handled {
			return reply, nil
		}
	}
	return l.runTurn(ctx, msg)
}

// runTurn drives the state machine for one inbound message. The session
// lock is held for the entire turn so concurrent messages for the same
// key queue rather than interleave.
func (l *Loop) runTurn(ctx context.Context, msg domain.InboundMessage) (string, error) {
	key := msg.SessionKey()

	sess, release, err := l.sessions.Acquire(ctx, key)
	if err != nil {
		return "", fmt.Errorf("acquire session %q: %w", key, err)
	}
	defer release()

	sess.Append(domain.Turn{Role: domain.RoleUser, Content: msg.Content})

	toolDefs := l.tools.Definitions()
	toolCtx := tool.WithOrigin(ctx, tool.Origin{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Depth:   originDepth(msg),
	})

	var finalContent string
	finalized := false

	for iteration := 0; iteration < l.maxIterations; iteration++ {
		memories := l.recentMemories(ctx)
		messages := l.builder.Build(sess.Snapshot(), "", memories, toolDefs, time.Now())

		l.logger.Debug("model call", "session", key, "iteration", iteration+1, "messages", len(messages))

		resp, err := l.provider.Chat(ctx, domain.ChatRequest{
			Messages:    messages,
			Tools:       toolDefs,
			Model:       l.model,
			MaxTokens:   l.maxTokens,
			Temperature: l.temperature,
		})
		if err != nil {
			return "", fmt.Errorf("model call: %w", err)
		}

		// Some models embed tool calls as JSON in the content text
		// instead of using the structured field.
		if !resp.HasToolCalls() && resp.Content != "" {
			if extracted := extractToolCallsFromContent(resp.Content); len(extracted) > 0 {
				resp.ToolCalls = extracted
				resp.Content = ""
				l.logger.Info("extracted tool calls from content text", "count", len(extracted))
			}
		}

		if !resp.HasToolCalls() {
			finalContent = strings.TrimSpace(resp.Content)
			sess.Append(domain.Turn{Role: domain.RoleAssistant, Content: finalContent})
			finalized = true
			break
		}

		// Model text alongside tool calls is recorded on the
		// assistant turn but not emitted to the user.
		calls := ensureCallIDs(resp.ToolCalls)
		sess.Append(domain.Turn{
			Role:      domain.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: calls,
		})

		results := l.tools.ExecuteBatch(toolCtx, calls, l.toolTimeout)
		for i, res := range results {
			sess.Append(domain.Turn{
				Role:       domain.RoleTool,
				Content:    res.Content,
				ToolCallID: res.CallID,
				ToolName:   calls[i].Name,
				IsError:    res.IsError,
			})
		}
	}

	if !finalized {
		finalContent = fmt.Sprintf("Reached the maximum of %d tool iterations without a final answer. Stopping here; ask me to continue if you want me to keep going.", l.maxIterations)
		sess.Append(domain.Turn{Role: domain.RoleAssistant, Content: finalContent})
	}
	if finalContent == "" {
		finalContent = "I've completed processing but have no additional response."
	}

	if dropped := sess.Truncate(l.sessions.Window()); len(dropped) > 0 {
		l.consolidate(ctx, key, dropped)
	}

	// Persistence is write-behind: a failed durable write is logged and
	// retried on the next turn, the reply goes out regardless.
	if err := l.sessions.Persist(ctx, sess); err != nil {
		l.logger.Warn("failed to persist session", "session", key, "error", err)
	}

	return finalContent, nil
}

// handleCommand intercepts slash commands before they reach the model.
func (l *Loop) handleCommand(ctx context.Context, msg domain.InboundMessage, cmd string) (string, bool) {
	switch strings.Fields(cmd)[0] {
	case "/new", "/reset":
		key := msg.SessionKey()
		sess, release, err := l.sessions.Acquire(ctx, key)
		if err != nil {
			return fmt.Sprintf("Could not reset the conversation: %s", err), true
		}
		defer release()

		if turns := sess.Snapshot(); len(turns) > 0 {
			l.consolidate(ctx, key, turns)
		}
		if err := l.sessions.Clear(ctx, sess); err != nil {
			l.logger.Warn("failed to clear session", "session", key, "error", err)
		}
		return "Started a fresh conversation.", true
	case "/help":
		return "Commands:\n/new - start a fresh conversation\n/help - show this help", true
	}
	return "", false
}

func (l *Loop) recentMemories(ctx context.Context) []domain.MemoryEntry {
	if l.store == nil {
		return nil
	}
	memories, err := l.store.RecentMemories(ctx, defaultMemoryInPrompt)
	if err != nil {
		l.logger.Warn("failed to load memories for prompt", "error", err)
		return nil
	}
	return memories
}

// ensureCallIDs backfills missing tool-call ids so results can always be
// paired with their calls.
func ensureCallIDs(calls []domain.ToolCall) []domain.ToolCall {
	out := make([]domain.ToolCall, len(calls))
	copy(out, calls)
	for i := range out {
		if out[i].ID == "" {
			out[i].ID = "call_" + uuid.NewString()[:8]
		}
	}
	return out
}

// originDepth reads the sub-agent nesting depth from message metadata.
// Regular user messages have depth zero.
func originDepth(msg domain.InboundMessage) int {
	if msg.Metadata == nil {
		return 0
	}
	depth := 0
	fmt.Sscanf(msg.Metadata["subagent_depth"], "%d", &depth)
	return depth
}
