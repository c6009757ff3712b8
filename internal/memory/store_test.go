package memory

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"minibot/internal/domain"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "minibot.db"), logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestTurns_AppendAndLoadInOrder(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	turns := []domain.Turn{
		{Role: domain.RoleUser, Content: "hello"},
		{Role: domain.RoleAssistant, ToolCalls: []domain.ToolCall{{ID: "c1", Name: "list_dir", Arguments: map[string]any{"path": "/tmp"}}}},
		{Role: domain.RoleTool, ToolCallID: "c1", ToolName: "list_dir", Content: "a.txt"},
		{Role: domain.RoleAssistant, Content: "Files: a.txt"},
	}
	for _, turn := range turns {
		if err := store.AppendTurn(ctx, "t:1", turn); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	loaded, err := store.LoadTurns(ctx, "t:1", 0)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 4 {
		t.Fatalf("expected 4 turns, got %d", len(loaded))
	}
	if loaded[1].ToolCalls[0].Name != "list_dir" {
		t.Fatalf("tool call not round-tripped: %+v", loaded[1])
	}
	if loaded[2].ToolCallID != "c1" {
		t.Fatalf("tool result pairing lost: %+v", loaded[2])
	}
	if loaded[3].Content != "Files: a.txt" {
		t.Fatalf("order lost: %+v", loaded[3])
	}
}

func TestTurns_LimitReturnsTailOldestFirst(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	for _, content := range []string{"one", "two", "three", "four"} {
		if err := store.AppendTurn(ctx, "t:1", domain.Turn{Role: domain.RoleUser, Content: content}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	loaded, err := store.LoadTurns(ctx, "t:1", 2)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 2 || loaded[0].Content != "three" || loaded[1].Content != "four" {
		t.Fatalf("expected [three four], got %+v", loaded)
	}
}

func TestTurns_ReplaceIsAtomic(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	_ = store.AppendTurn(ctx, "t:1", domain.Turn{Role: domain.RoleUser, Content: "old"})
	err := store.ReplaceTurns(ctx, "t:1", []domain.Turn{
		{Role: domain.RoleUser, Content: "new-1"},
		{Role: domain.RoleAssistant, Content: "new-2"},
	})
	if err != nil {
		t.Fatalf("replace: %v", err)
	}

	loaded, _ := store.LoadTurns(ctx, "t:1", 0)
	if len(loaded) != 2 || loaded[0].Content != "new-1" {
		t.Fatalf("replace did not take: %+v", loaded)
	}
}

func TestTurns_SessionsAreIsolated(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	_ = store.AppendTurn(ctx, "t:1", domain.Turn{Role: domain.RoleUser, Content: "for one"})
	_ = store.AppendTurn(ctx, "t:2", domain.Turn{Role: domain.RoleUser, Content: "for two"})

	loaded, _ := store.LoadTurns(ctx, "t:2", 0)
	if len(loaded) != 1 || loaded[0].Content != "for two" {
		t.Fatalf("session isolation broken: %+v", loaded)
	}

	if err := store.DeleteSession(ctx, "t:1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	loaded, _ = store.LoadTurns(ctx, "t:1", 0)
	if len(loaded) != 0 {
		t.Fatalf("delete left turns behind: %+v", loaded)
	}
}

func TestMemories_SaveSearchRecent(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	entries := []domain.MemoryEntry{
		{Category: "fact", Content: "user lives in Hanoi", Source: "t:1"},
		{Category: "preference", Content: "prefers short answers", Source: "t:1"},
	}
	for _, e := range entries {
		if err := store.SaveMemory(ctx, e); err != nil {
			t.Fatalf("save memory: %v", err)
		}
	}

	recent, err := store.RecentMemories(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 memories, got %d", len(recent))
	}

	hits, err := store.SearchMemories(ctx, "Hanoi", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 || hits[0].Category != "fact" {
		t.Fatalf("unexpected search hits: %+v", hits)
	}
}

func TestCronJobs_RoundTrip(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	job := domain.CronJob{
		ID:              "job-1",
		Message:         "check the news",
		Channel:         "telegram",
		ChatID:          "42",
		IntervalSeconds: 3600,
		NextRun:         time.Now().Add(time.Hour),
	}
	if err := store.SaveCronJob(ctx, job); err != nil {
		t.Fatalf("save: %v", err)
	}

	jobs, err := store.ListCronJobs(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(jobs) != 1 || jobs[0].Message != "check the news" {
		t.Fatalf("unexpected jobs: %+v", jobs)
	}

	if err := store.DeleteCronJob(ctx, "job-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	jobs, _ = store.ListCronJobs(ctx)
	if len(jobs) != 0 {
		t.Fatalf("job not deleted: %+v", jobs)
	}
}
