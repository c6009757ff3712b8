package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"minibot/internal/domain"
)

// fakeStore is an in-memory domain.Store covering only the session methods.
type fakeStore struct {
	mu       sync.Mutex
	turns    map[string][]domain.Turn
	failNext bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{turns: make(map[string][]domain.Turn)}
}

func (f *fakeStore) AppendTurn(_ context.Context, key string, turn domain.Turn) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return fmt.Errorf("store unavailable")
	}
	f.turns[key] = append(f.turns[key], turn)
	return nil
}

func (f *fakeStore) LoadTurns(_ context.Context, key string, _ int) ([]domain.Turn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Turn, len(f.turns[key]))
	copy(out, f.turns[key])
	return out, nil
}

func (f *fakeStore) ReplaceTurns(_ context.Context, key string, turns []domain.Turn) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return fmt.Errorf("store unavailable")
	}
	f.turns[key] = append([]domain.Turn(nil), turns...)
	return nil
}

func (f *fakeStore) DeleteSession(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.turns, key)
	return nil
}

func (f *fakeStore) SaveMemory(context.Context, domain.MemoryEntry) error { return nil }
func (f *fakeStore) RecentMemories(context.Context, int) ([]domain.MemoryEntry, error) {
	return nil, nil
}
func (f *fakeStore) SearchMemories(context.Context, string, int) ([]domain.MemoryEntry, error) {
	return nil, nil
}
func (f *fakeStore) SaveCronJob(context.Context, domain.CronJob) error     { return nil }
func (f *fakeStore) ListCronJobs(context.Context) ([]domain.CronJob, error) { return nil, nil }
func (f *fakeStore) DeleteCronJob(context.Context, string) error           { return nil }
func (f *fakeStore) Close() error                                          { return nil }

func testManager(window int) (*Manager, *fakeStore) {
	store := newFakeStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewManager(store, window, logger), store
}

func userTurn(content string) domain.Turn {
	return domain.Turn{Role: domain.RoleUser, Content: content}
}

func TestAppend_PreservesOrder(t *testing.T) {
	m, _ := testManager(100)
	sess, release, err := m.Acquire(context.Background(), "test:1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer release()

	for i := 0; i < 10; i++ {
		sess.Append(userTurn(fmt.Sprintf("turn-%d", i)))
	}
	snap := sess.Snapshot()
	if len(snap) != 10 {
		t.Fatalf("expected 10 turns, got %d", len(snap))
	}
	for i, turn := range snap {
		if want := fmt.Sprintf("turn-%d", i); turn.Content != want {
			t.Fatalf("turn %d: expected %q, got %q", i, want, turn.Content)
		}
	}
}

func TestTruncate_DropsOldestFirst(t *testing.T) {
	sess := newSession("test:1")
	for i := 0; i < 10; i++ {
		sess.Append(userTurn(fmt.Sprintf("turn-%d", i)))
	}

	dropped := sess.Truncate(4)
	if len(dropped) != 6 {
		t.Fatalf("expected 6 dropped, got %d", len(dropped))
	}
	if sess.Len() != 4 {
		t.Fatalf("expected 4 remaining, got %d", sess.Len())
	}
	if sess.Turns[0].Content != "turn-6" {
		t.Fatalf("expected turn-6 at head, got %q", sess.Turns[0].Content)
	}
}

func TestTruncate_NeverOrphansToolResults(t *testing.T) {
	sess := newSession("test:1")
	sess.Append(userTurn("old question"))
	sess.Append(domain.Turn{
		Role:    domain.RoleAssistant,
		Content: "",
		ToolCalls: []domain.ToolCall{
			{ID: "c1", Name: "list_dir"},
			{ID: "c2", Name: "read_file"},
		},
	})
	sess.Append(domain.Turn{Role: domain.RoleTool, ToolCallID: "c1", Content: "a.txt"})
	sess.Append(domain.Turn{Role: domain.RoleTool, ToolCallID: "c2", Content: "hello"})
	sess.Append(domain.Turn{Role: domain.RoleAssistant, Content: "done"})
	sess.Append(userTurn("new question"))

	// Window of 4 would cut between the assistant call turn and its
	// results; the orphaned results must go with it.
	sess.Truncate(4)

	for _, turn := range sess.Turns {
		if turn.Role == domain.RoleTool {
			// Any kept result must have its call in the kept history.
			found := false
			for _, other := range sess.Turns {
				for _, call := range other.ToolCalls {
					if call.ID == turn.ToolCallID {
						found = true
					}
				}
			}
			if !found {
				t.Fatalf("orphaned tool result %q after truncation", turn.ToolCallID)
			}
		}
	}
	if sess.Turns[0].Content != "done" {
		t.Fatalf("expected head 'done', got %q", sess.Turns[0].Content)
	}
}

func TestTruncate_NoopInsideWindow(t *testing.T) {
	sess := newSession("test:1")
	sess.Append(userTurn("only"))
	if dropped := sess.Truncate(10); dropped != nil {
		t.Fatalf("expected no drop, got %d turns", len(dropped))
	}
}

func TestAcquire_SerializesSameKey(t *testing.T) {
	m, _ := testManager(100)
	ctx := context.Background()

	var order []string
	var orderMu sync.Mutex
	record := func(s string) {
		orderMu.Lock()
		order = append(order, s)
		orderMu.Unlock()
	}

	sess, release, err := m.Acquire(ctx, "test:1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	second := make(chan struct{})
	go func() {
		s2, rel2, err := m.Acquire(ctx, "test:1")
		if err != nil {
			t.Errorf("second acquire: %v", err)
		}
		record("second")
		s2.Append(userTurn("B"))
		rel2()
		close(second)
	}()

	time.Sleep(50 * time.Millisecond)
	record("first")
	sess.Append(userTurn("A"))
	release()

	<-second
	orderMu.Lock()
	defer orderMu.Unlock()
	if order[0] != "first" || order[1] != "second" {
		t.Fatalf("turns interleaved: %v", order)
	}

	snap, rel, _ := m.Acquire(ctx, "test:1")
	defer rel()
	if snap.Turns[0].Content != "A" || snap.Turns[1].Content != "B" {
		t.Fatalf("history out of order: %+v", snap.Turns)
	}
}

func TestAcquire_DifferentKeysDoNotContend(t *testing.T) {
	m, _ := testManager(100)
	ctx := context.Background()

	_, release1, err := m.Acquire(ctx, "test:1")
	if err != nil {
		t.Fatalf("acquire 1: %v", err)
	}
	defer release1()

	done := make(chan struct{})
	go func() {
		_, release2, err := m.Acquire(ctx, "test:2")
		if err != nil {
			t.Errorf("acquire 2: %v", err)
		}
		release2()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("unrelated key blocked behind held lock")
	}
}

func TestPersist_RoundTrip(t *testing.T) {
	m, store := testManager(100)
	ctx := context.Background()

	sess, release, _ := m.Acquire(ctx, "test:1")
	sess.Append(userTurn("hello"))
	sess.Append(domain.Turn{Role: domain.RoleAssistant, Content: "hi"})
	if err := m.Persist(ctx, sess); err != nil {
		t.Fatalf("persist: %v", err)
	}
	release()

	saved, _ := store.LoadTurns(ctx, "test:1", 0)
	if len(saved) != 2 {
		t.Fatalf("expected 2 persisted turns, got %d", len(saved))
	}

	loaded, err := m.Load(ctx, "test:1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Turns[1].Content != "hi" {
		t.Fatalf("unexpected loaded history: %+v", loaded.Turns)
	}
}

func TestPersist_FailureKeepsDirty(t *testing.T) {
	m, store := testManager(100)
	ctx := context.Background()

	sess, release, _ := m.Acquire(ctx, "test:1")
	defer release()
	sess.Append(userTurn("hello"))

	store.failNext = true
	if err := m.Persist(ctx, sess); err == nil {
		t.Fatal("expected persist error")
	}

	// In-memory history is still authoritative and the retry succeeds.
	if sess.Len() != 1 {
		t.Fatalf("history lost on failed persist: %d turns", sess.Len())
	}
	if err := m.Persist(ctx, sess); err != nil {
		t.Fatalf("retry persist: %v", err)
	}
}

func TestPersist_AfterTruncateRewrites(t *testing.T) {
	m, store := testManager(100)
	ctx := context.Background()

	sess, release, _ := m.Acquire(ctx, "test:1")
	defer release()
	for i := 0; i < 6; i++ {
		sess.Append(userTurn(fmt.Sprintf("turn-%d", i)))
	}
	if err := m.Persist(ctx, sess); err != nil {
		t.Fatalf("persist: %v", err)
	}

	sess.Append(userTurn("turn-6"))
	sess.Truncate(3)
	if err := m.Persist(ctx, sess); err != nil {
		t.Fatalf("persist after truncate: %v", err)
	}

	saved, _ := store.LoadTurns(ctx, "test:1", 0)
	if len(saved) != 3 {
		t.Fatalf("expected stored history rewritten to 3 turns, got %d", len(saved))
	}
	if saved[0].Content != "turn-4" {
		t.Fatalf("expected turn-4 at stored head, got %q", saved[0].Content)
	}
}

func TestLoad_NotFound(t *testing.T) {
	m, _ := testManager(100)
	if _, err := m.Load(context.Background(), "missing:1"); err == nil {
		t.Fatal("expected not-found error")
	}
}
