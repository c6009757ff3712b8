package agent

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"minibot/internal/domain"
)

const (
	defaultHeartbeatInterval = 30 * time.Minute

	heartbeatPrompt = "Read HEARTBEAT.md in your workspace (if it exists). Follow any instructions found there. If nothing needs attention, reply with just: HEARTBEAT_OK"

	// heartbeatOK in a reply means the agent found nothing to do.
	heartbeatOK = "HEARTBEAT_OK"
)

// Heartbeat periodically wakes the agent with a synthetic message so it
// can act on standing instructions in HEARTBEAT.md without user input.
// Ticks are skipped while the file is missing or effectively empty, and
// HEARTBEAT_OK replies are swallowed instead of delivered anywhere.
type Heartbeat struct {
	workspace string
	interval  time.Duration
	bus       domain.MessageBus
	logger    *slog.Logger
}

func NewHeartbeat(workspace string, interval time.Duration, bus domain.MessageBus, logger *slog.Logger) *Heartbeat {
	if interval <= 0 {
		interval = defaultHeartbeatInterval
	}
	return &Heartbeat{
		workspace: workspace,
		interval:  interval,
		bus:       bus,
		logger:    logger,
	}
}

// Start runs the heartbeat loop until ctx is cancelled. It registers
// itself as the delivery target for the "heartbeat" channel so the
// agent's replies land here rather than at a user-facing adapter.
func (h *Heartbeat) Start(ctx context.Context) error {
	err := h.bus.SubscribeOutbound("heartbeat", func(msg domain.OutboundMessage) {
		reply := strings.TrimSpace(msg.Content)
		if reply == "" || strings.Contains(reply, heartbeatOK) {
			h.logger.Debug("heartbeat ok")
			return
		}
		h.logger.Info("heartbeat produced output", "content_len", len(reply))
	})
	if err != nil {
		return err
	}

	h.logger.Info("heartbeat started", "interval", h.interval)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("heartbeat stopped")
			return nil
		case <-ticker.C:
			h.tick(ctx)
		}
	}
}

func (h *Heartbeat) tick(ctx context.Context) {
	if !h.hasWork() {
		h.logger.Debug("heartbeat skipped, HEARTBEAT.md empty")
		return
	}

	err := h.bus.PublishInbound(ctx, domain.InboundMessage{
		Channel:    "heartbeat",
		ChatID:     "heartbeat",
		SenderID:   "system",
		Content:    heartbeatPrompt,
		ReceivedAt: time.Now(),
	})
	if err != nil {
		h.logger.Warn("failed to publish heartbeat", "error", err)
	}
}

// hasWork reports whether HEARTBEAT.md holds anything beyond headers
// and comments.
func (h *Heartbeat) hasWork() bool {
	data, err := os.ReadFile(filepath.Join(h.workspace, "HEARTBEAT.md"))
	if err != nil {
		return false
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "<!--") {
			continue
		}
		return true
	}
	return false
}
