package domain

import (
	"context"
	"time"
)

// Store is the persistence capability: durable storage for session
// history, long-term memory, and scheduled jobs. The engine only needs
// read-your-writes consistency per key; the in-memory session stays
// authoritative even when a durable write lags.
type Store interface {
	// Session history. Turns for a key are stored in append order.
	AppendTurn(ctx context.Context, sessionKey string, turn Turn) error
	LoadTurns(ctx context.Context, sessionKey string, limit int) ([]Turn, error)
	ReplaceTurns(ctx context.Context, sessionKey string, turns []Turn) error
	DeleteSession(ctx context.Context, sessionKey string) error

	// Long-term memory.
	SaveMemory(ctx context.Context, entry MemoryEntry) error
	RecentMemories(ctx context.Context, limit int) ([]MemoryEntry, error)
	SearchMemories(ctx context.Context, query string, limit int) ([]MemoryEntry, error)

	// Scheduled jobs.
	SaveCronJob(ctx context.Context, job CronJob) error
	ListCronJobs(ctx context.Context) ([]CronJob, error)
	DeleteCronJob(ctx context.Context, id string) error

	Close() error
}

// MemoryEntry is one consolidated fact or preference distilled from a
// conversation and injected into future contexts.
type MemoryEntry struct {
	ID        int64     `json:"id"`
	Category  string    `json:"category"` // fact | preference | summary | instruction
	Content   string    `json:"content"`
	Source    string    `json:"source"` // session key that produced it
	CreatedAt time.Time `json:"created_at"`
}

// CronJob is a scheduled synthetic message. When it fires, the scheduler
// publishes an InboundMessage to the bus as if the user had sent it.
type CronJob struct {
	ID              string    `json:"id"`
	Message         string    `json:"message"`
	Channel         string    `json:"channel"`
	ChatID          string    `json:"chat_id"`
	IntervalSeconds int64     `json:"interval_seconds"` // 0 = one-shot
	NextRun         time.Time `json:"next_run"`
	CreatedAt       time.Time `json:"created_at"`
}
