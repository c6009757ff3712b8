package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"minibot/internal/domain"
	"minibot/internal/tool"
)

const defaultMaxDepth = 2

// Spawner runs delegated tasks on a child engine. The child shares the
// static configuration (provider, context builder, store) but gets an
// isolated session under a derived key and a reduced tool set, so it can
// never mutate the parent's history or message the user directly.
type Spawner struct {
	child    *Loop
	maxDepth int
	logger   *slog.Logger

	mu      sync.Mutex
	running map[string]*Handle
}

// Handle tracks one spawned child from launch to FINALIZED.
type Handle struct {
	ID        string
	ParentKey string
	ChildKey  string

	done   chan struct{}
	cancel context.CancelFunc
	result string
	err    error
}

// NewSpawner wraps a child engine. The caller builds the child Loop with
// the reduced registry (no message, no spawn).
func NewSpawner(child *Loop, maxDepth int, logger *slog.Logger) *Spawner {
	if maxDepth <= 0 {
		maxDepth = defaultMaxDepth
	}
	return &Spawner{
		child:    child,
		maxDepth: maxDepth,
		logger:   logger,
		running:  make(map[string]*Handle),
	}
}

// Spawn launches a child turn for the task and returns immediately.
// origin carries the parent's session coordinates and nesting depth;
// exceeding the depth cap fails here, before any work starts.
func (s *Spawner) Spawn(task string, origin tool.Origin) (*Handle, error) {
	if origin.Depth >= s.maxDepth {
		return nil, fmt.Errorf("sub-agent nesting depth %d exceeds the maximum of %d", origin.Depth+1, s.maxDepth)
	}

	id := uuid.NewString()[:8]
	parentKey := origin.Channel + ":" + origin.ChatID

	ctx, cancel := context.WithCancel(context.Background())
	h := &Handle{
		ID:        id,
		ParentKey: parentKey,
		ChildKey:  "sub:" + parentKey + ":" + id,
		done:      make(chan struct{}),
		cancel:    cancel,
	}

	s.mu.Lock()
	s.running[id] = h
	s.mu.Unlock()

	s.logger.Info("spawning sub-agent", "id", id, "parent", parentKey, "depth", origin.Depth+1)

	go func() {
		defer close(h.done)
		defer func() {
			s.mu.Lock()
			delete(s.running, id)
			s.mu.Unlock()
		}()

		h.result, h.err = s.child.Process(ctx, domain.InboundMessage{
			Channel:  "sub",
			ChatID:   parentKey + ":" + id,
			SenderID: "agent",
			Content:  task,
			Metadata: map[string]string{
				"subagent_depth": strconv.Itoa(origin.Depth + 1),
			},
			ReceivedAt: time.Now(),
		})
	}()

	return h, nil
}

// AwaitResult blocks until the child finalizes, the deadline elapses, or
// ctx is cancelled. A deadline or cancellation tears the child down; a
// hung child never leaks a goroutine past its handle.
func (s *Spawner) AwaitResult(ctx context.Context, h *Handle, deadline time.Duration) (string, error) {
	timer := time.NewTimer(deadline)
	defer timer.Stop()

	select {
	case <-h.done:
		if h.err != nil {
			return "", fmt.Errorf("sub-agent %s: %w", h.ID, h.err)
		}
		return h.result, nil
	case <-timer.C:
		h.cancel()
		return "", fmt.Errorf("sub-agent %s did not finish within %s", h.ID, deadline)
	case <-ctx.Done():
		h.cancel()
		return "", fmt.Errorf("sub-agent %s cancelled: %w", h.ID, ctx.Err())
	}
}

// Running reports how many children are currently in flight.
func (s *Spawner) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}
