package agent

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"minibot/internal/bus"
	"minibot/internal/domain"
	"minibot/internal/session"
	"minibot/internal/tool"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptedProvider replays a fixed sequence of responses. When the
// script runs out it keeps returning the last response.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []*domain.ChatResponse
	requests  []domain.ChatRequest
	delay     time.Duration
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	i := len(p.requests) - 1
	if i >= len(p.responses) {
		i = len(p.responses) - 1
	}
	if i < 0 {
		return &domain.ChatResponse{Content: "ok"}, nil
	}
	return p.responses[i], nil
}

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

// memStore is an in-memory domain.Store for tests.
type memStore struct {
	mu       sync.Mutex
	turns    map[string][]domain.Turn
	memories []domain.MemoryEntry
	jobs     map[string]domain.CronJob
}

func newMemStore() *memStore {
	return &memStore{turns: make(map[string][]domain.Turn), jobs: make(map[string]domain.CronJob)}
}

func (s *memStore) AppendTurn(_ context.Context, key string, turn domain.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns[key] = append(s.turns[key], turn)
	return nil
}

func (s *memStore) LoadTurns(_ context.Context, key string, limit int) ([]domain.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	turns := s.turns[key]
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	out := make([]domain.Turn, len(turns))
	copy(out, turns)
	return out, nil
}

func (s *memStore) ReplaceTurns(_ context.Context, key string, turns []domain.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns[key] = append([]domain.Turn(nil), turns...)
	return nil
}

func (s *memStore) DeleteSession(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.turns, key)
	return nil
}

func (s *memStore) SaveMemory(_ context.Context, entry domain.MemoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memories = append(s.memories, entry)
	return nil
}

func (s *memStore) RecentMemories(_ context.Context, limit int) ([]domain.MemoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit > 0 && len(s.memories) > limit {
		return append([]domain.MemoryEntry(nil), s.memories[len(s.memories)-limit:]...), nil
	}
	return append([]domain.MemoryEntry(nil), s.memories...), nil
}

func (s *memStore) SearchMemories(_ context.Context, query string, limit int) ([]domain.MemoryEntry, error) {
	return s.RecentMemories(nil, limit)
}

func (s *memStore) SaveCronJob(_ context.Context, job domain.CronJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	return nil
}

func (s *memStore) ListCronJobs(_ context.Context) ([]domain.CronJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.CronJob
	for _, j := range s.jobs {
		out = append(out, j)
	}
	return out, nil
}

func (s *memStore) DeleteCronJob(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
	return nil
}

func (s *memStore) Close() error { return nil }

// fixedTool returns a canned string for any arguments.
type fixedTool struct {
	name   string
	result string
}

func (t *fixedTool) Name() string                { return t.name }
func (t *fixedTool) Description() string         { return "test tool" }
func (t *fixedTool) Parameters() map[string]any  { return map[string]any{"type": "object"} }
func (t *fixedTool) Execute(context.Context, map[string]any) (string, error) {
	return t.result, nil
}

type loopFixture struct {
	loop     *Loop
	provider *scriptedProvider
	store    *memStore
	sessions *session.Manager
	bus      *bus.InMemoryBus
	registry *tool.Registry
}

func newLoopFixture(t *testing.T, responses []*domain.ChatResponse, opts func(*LoopConfig)) *loopFixture {
	t.Helper()
	logger := testLogger()
	store := newMemStore()
	sessions := session.NewManager(store, 100, logger)
	registry := tool.NewRegistry(logger)
	b := bus.New(16, logger)
	t.Cleanup(b.Close)
	provider := &scriptedProvider{responses: responses}

	cfg := LoopConfig{
		Provider: provider,
		Sessions: sessions,
		Builder:  NewContextBuilder(t.TempDir(), "", nil),
		Tools:    registry,
		Store:    store,
		Bus:      b,
		Logger:   logger,
	}
	if opts != nil {
		opts(&cfg)
	}
	return &loopFixture{
		loop:     NewLoop(cfg),
		provider: provider,
		store:    store,
		sessions: sessions,
		bus:      b,
		registry: registry,
	}
}

func (f *loopFixture) history(t *testing.T, key string) []domain.Turn {
	t.Helper()
	sess, release, err := f.sessions.Acquire(context.Background(), key)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer release()
	return sess.Snapshot()
}

// Inbound "list files" turns into a list_dir call, the tool result is
// fed back, and the model's follow-up text is published to the original
// channel and chat.
func TestTurnWithToolCallRoundTrip(t *testing.T) {
	f := newLoopFixture(t, []*domain.ChatResponse{
		{ToolCalls: []domain.ToolCall{{ID: "c1", Name: "list_dir", Arguments: map[string]any{"path": "/tmp"}}}},
		{Content: "Files: a.txt, b.txt"},
	}, nil)
	if err := f.registry.Register(&fixedTool{name: "list_dir", result: `["a.txt","b.txt"]`}); err != nil {
		t.Fatalf("register: %v", err)
	}

	var mu sync.Mutex
	var delivered []domain.OutboundMessage
	if err := f.bus.SubscribeOutbound("t", func(m domain.OutboundMessage) {
		mu.Lock()
		delivered = append(delivered, m)
		mu.Unlock()
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.loop.Run(ctx)

	err := f.bus.PublishInbound(ctx, domain.InboundMessage{
		Channel:  "t",
		ChatID:   "1",
		SenderID: "u1",
		Content:  "list files in /tmp",
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		mu.Lock()
		n := len(delivered)
		mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("no outbound message delivered")
		case <-time.After(10 * time.Millisecond):
		}
	}

	mu.Lock()
	got := delivered[0]
	mu.Unlock()
	if got.Channel != "t" || got.ChatID != "1" {
		t.Fatalf("reply misrouted: %+v", got)
	}
	if got.Content != "Files: a.txt, b.txt" {
		t.Fatalf("unexpected reply: %q", got.Content)
	}

	// The tool result must sit between the two assistant turns.
	turns := f.history(t, "t:1")
	roles := make([]string, len(turns))
	for i, turn := range turns {
		roles[i] = turn.Role
	}
	want := []string{domain.RoleUser, domain.RoleAssistant, domain.RoleTool, domain.RoleAssistant}
	if fmt.Sprint(roles) != fmt.Sprint(want) {
		t.Fatalf("history roles = %v, want %v", roles, want)
	}
	if turns[2].ToolCallID != "c1" {
		t.Fatalf("tool result not paired with its call: %+v", turns[2])
	}
}

// A policy-blocked exec produces an error ToolResult that is fed back
// to the model; the turn finalizes normally with the model's refusal.
func TestBlockedExecFinalizesNormally(t *testing.T) {
	f := newLoopFixture(t, []*domain.ChatResponse{
		{ToolCalls: []domain.ToolCall{{ID: "c1", Name: "exec", Arguments: map[string]any{"command": "rm -rf /"}}}},
		{Content: "I can't run that command."},
	}, nil)
	if err := f.registry.Register(tool.NewExecTool(tool.ExecConfig{WorkingDir: t.TempDir()})); err != nil {
		t.Fatalf("register: %v", err)
	}

	reply, err := f.loop.Process(context.Background(), domain.InboundMessage{
		Channel: "t", ChatID: "1", SenderID: "u1", Content: "wipe the disk",
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if reply != "I can't run that command." {
		t.Fatalf("unexpected reply: %q", reply)
	}

	turns := f.history(t, "t:1")
	var toolTurn *domain.Turn
	for i := range turns {
		if turns[i].Role == domain.RoleTool {
			toolTurn = &turns[i]
		}
	}
	if toolTurn == nil {
		t.Fatal("no tool result turn recorded")
	}
	if !toolTurn.IsError {
		t.Fatalf("blocked command should be an error result: %+v", toolTurn)
	}
	if !strings.Contains(toolTurn.Content, "blocked by policy") {
		t.Fatalf("unexpected error content: %q", toolTurn.Content)
	}
}

// Concurrent turns for the same key serialize: the history never shows
// two user turns back to back, every turn completes its appends before
// the next begins.
func TestSameKeyTurnsDoNotInterleave(t *testing.T) {
	f := newLoopFixture(t, []*domain.ChatResponse{{Content: "ok"}}, nil)
	f.provider.delay = 5 * time.Millisecond

	const n = 8
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.loop.Process(context.Background(), domain.InboundMessage{
				Channel: "t", ChatID: "1", SenderID: "u1",
				Content: fmt.Sprintf("message %d", i),
			})
			if err != nil {
				t.Errorf("Process: %v", err)
			}
		}(i)
	}
	wg.Wait()

	turns := f.history(t, "t:1")
	if len(turns) != 2*n {
		t.Fatalf("got %d turns, want %d", len(turns), 2*n)
	}
	for i, turn := range turns {
		want := domain.RoleUser
		if i%2 == 1 {
			want = domain.RoleAssistant
		}
		if turn.Role != want {
			t.Fatalf("turn %d role = %s, want %s (interleaved turns)", i, turn.Role, want)
		}
	}
}

// A model that keeps requesting tools hits the iteration cap and the
// turn finalizes with an explicit limit notice instead of hanging.
func TestIterationCap(t *testing.T) {
	f := newLoopFixture(t, []*domain.ChatResponse{
		{ToolCalls: []domain.ToolCall{{ID: "c", Name: "ping", Arguments: map[string]any{}}}},
	}, func(cfg *LoopConfig) {
		cfg.MaxIterations = 3
	})
	if err := f.registry.Register(&fixedTool{name: "ping", result: "pong"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	reply, err := f.loop.Process(context.Background(), domain.InboundMessage{
		Channel: "t", ChatID: "1", SenderID: "u1", Content: "loop forever",
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !strings.Contains(reply, "maximum of 3") {
		t.Fatalf("cap notice missing from reply: %q", reply)
	}
	if got := f.provider.callCount(); got != 3 {
		t.Fatalf("model called %d times, want 3", got)
	}
}

// An empty model response still finalizes with a fallback reply.
func TestEmptyModelTextFinalizes(t *testing.T) {
	f := newLoopFixture(t, []*domain.ChatResponse{{Content: "   "}}, nil)

	reply, err := f.loop.Process(context.Background(), domain.InboundMessage{
		Channel: "t", ChatID: "1", SenderID: "u1", Content: "hello",
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if reply == "" || !strings.Contains(reply, "no additional response") {
		t.Fatalf("expected fallback reply, got %q", reply)
	}
}

// Every tool call gets exactly one result before the next model call,
// including unknown tools.
func TestToolCallResultPairing(t *testing.T) {
	f := newLoopFixture(t, []*domain.ChatResponse{
		{ToolCalls: []domain.ToolCall{
			{ID: "c1", Name: "ping", Arguments: map[string]any{}},
			{ID: "c2", Name: "no_such_tool", Arguments: map[string]any{}},
		}},
		{Content: "done"},
	}, nil)
	if err := f.registry.Register(&fixedTool{name: "ping", result: "pong"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, err := f.loop.Process(context.Background(), domain.InboundMessage{
		Channel: "t", ChatID: "1", SenderID: "u1", Content: "go",
	}); err != nil {
		t.Fatalf("Process: %v", err)
	}

	turns := f.history(t, "t:1")
	results := make(map[string]domain.Turn)
	for _, turn := range turns {
		if turn.Role == domain.RoleTool {
			results[turn.ToolCallID] = turn
		}
	}
	if len(results) != 2 {
		t.Fatalf("got %d tool results, want 2", len(results))
	}
	if results["c1"].IsError {
		t.Fatalf("known tool errored: %+v", results["c1"])
	}
	if !results["c2"].IsError || !strings.Contains(results["c2"].Content, "unknown tool") {
		t.Fatalf("unknown tool should be an error result: %+v", results["c2"])
	}
}

// Text the model sends alongside tool calls is recorded on the
// assistant turn but only the final text is emitted.
func TestInterimTextNotEmitted(t *testing.T) {
	f := newLoopFixture(t, []*domain.ChatResponse{
		{Content: "Let me check.", ToolCalls: []domain.ToolCall{{ID: "c1", Name: "ping", Arguments: map[string]any{}}}},
		{Content: "All good."},
	}, nil)
	if err := f.registry.Register(&fixedTool{name: "ping", result: "pong"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	reply, err := f.loop.Process(context.Background(), domain.InboundMessage{
		Channel: "t", ChatID: "1", SenderID: "u1", Content: "check",
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if reply != "All good." {
		t.Fatalf("unexpected reply: %q", reply)
	}

	turns := f.history(t, "t:1")
	if turns[1].Content != "Let me check." || len(turns[1].ToolCalls) != 1 {
		t.Fatalf("interim text not recorded on assistant turn: %+v", turns[1])
	}
}

// /new consolidates and clears the conversation without a model turn.
func TestNewCommandClearsSession(t *testing.T) {
	f := newLoopFixture(t, []*domain.ChatResponse{{Content: "remember: user likes tea"}}, nil)

	if _, err := f.loop.Process(context.Background(), domain.InboundMessage{
		Channel: "t", ChatID: "1", SenderID: "u1", Content: "I like tea",
	}); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(f.history(t, "t:1")) == 0 {
		t.Fatal("expected history before reset")
	}

	reply, err := f.loop.Process(context.Background(), domain.InboundMessage{
		Channel: "t", ChatID: "1", SenderID: "u1", Content: "/new",
	})
	if err != nil {
		t.Fatalf("Process /new: %v", err)
	}
	if !strings.Contains(reply, "fresh conversation") {
		t.Fatalf("unexpected /new reply: %q", reply)
	}
	if got := len(f.history(t, "t:1")); got != 0 {
		t.Fatalf("history not cleared, %d turns remain", got)
	}
}

// A model failure surfaces as an apologetic reply through the bus, not
// a dropped message.
func TestModelFailurePublishesApology(t *testing.T) {
	f := newLoopFixture(t, nil, nil)
	f.provider.responses = nil
	failing := &failingProvider{}
	f.loop.provider = failing

	var mu sync.Mutex
	var delivered []domain.OutboundMessage
	if err := f.bus.SubscribeOutbound("t", func(m domain.OutboundMessage) {
		mu.Lock()
		delivered = append(delivered, m)
		mu.Unlock()
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.loop.Run(ctx)

	if err := f.bus.PublishInbound(ctx, domain.InboundMessage{
		Channel: "t", ChatID: "1", SenderID: "u1", Content: "hello",
	}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		mu.Lock()
		n := len(delivered)
		mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("no outbound message delivered")
		case <-time.After(10 * time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if !strings.Contains(delivered[0].Content, "Sorry, I encountered an error") {
		t.Fatalf("unexpected reply: %q", delivered[0].Content)
	}
}

type failingProvider struct{}

func (failingProvider) Name() string { return "failing" }
func (failingProvider) Chat(context.Context, domain.ChatRequest) (*domain.ChatResponse, error) {
	return nil, fmt.Errorf("upstream unavailable")
}
