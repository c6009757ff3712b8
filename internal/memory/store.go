package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"minibot/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements domain.Store on a single SQLite file. It backs
// session history, long-term memory, and scheduled jobs. SQLite's WAL
// mode with a single connection gives read-your-writes per key, which is
// all the engine requires from its persistence capability.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db, logger: logger}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS turns (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		session_key   TEXT NOT NULL,
		seq           INTEGER NOT NULL,
		role          TEXT NOT NULL,
		content       TEXT,
		tool_calls    TEXT,
		tool_call_id  TEXT,
		tool_name     TEXT,
		is_error      INTEGER DEFAULT 0,
		created_at    DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_key, seq);

	CREATE TABLE IF NOT EXISTS memories (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		category    TEXT NOT NULL,
		content     TEXT NOT NULL,
		source      TEXT,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_memories_cat ON memories(category);

	CREATE TABLE IF NOT EXISTS cron_jobs (
		id               TEXT PRIMARY KEY,
		message          TEXT NOT NULL,
		channel          TEXT NOT NULL,
		chat_id          TEXT NOT NULL,
		interval_seconds INTEGER DEFAULT 0,
		next_run         DATETIME,
		created_at       DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) AppendTurn(ctx context.Context, sessionKey string, turn domain.Turn) error {
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}
	var toolCalls string
	if len(turn.ToolCalls) > 0 {
		data, err := json.Marshal(turn.ToolCalls)
		if err != nil {
			return fmt.Errorf("marshal tool calls: %w", err)
		}
		toolCalls = string(data)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO turns (session_key, seq, role, content, tool_calls, tool_call_id, tool_name, is_error, created_at)
		 VALUES (?, (SELECT COALESCE(MAX(seq), -1) + 1 FROM turns WHERE session_key = ?), ?, ?, ?, ?, ?, ?, ?)`,
		sessionKey, sessionKey, turn.Role, turn.Content, toolCalls, turn.ToolCallID, turn.ToolName, boolToInt(turn.IsError), turn.CreatedAt,
	)
	return err
}

func (s *SQLiteStore) LoadTurns(ctx context.Context, sessionKey string, limit int) ([]domain.Turn, error) {
	query := `SELECT role, content, tool_calls, tool_call_id, tool_name, is_error, created_at
		 FROM turns WHERE session_key = ? ORDER BY seq`
	args := []any{sessionKey}
	if limit > 0 {
		// Last N turns, still returned oldest first.
		query = `SELECT role, content, tool_calls, tool_call_id, tool_name, is_error, created_at
			 FROM (SELECT * FROM turns WHERE session_key = ? ORDER BY seq DESC LIMIT ?)
			 ORDER BY seq`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var turns []domain.Turn
	for rows.Next() {
		var t domain.Turn
		var toolCalls, toolCallID, toolName sql.NullString
		var isError int
		if err := rows.Scan(&t.Role, &t.Content, &toolCalls, &toolCallID, &toolName, &isError, &t.CreatedAt); err != nil {
			return nil, err
		}
		if toolCalls.String != "" {
			if err := json.Unmarshal([]byte(toolCalls.String), &t.ToolCalls); err != nil {
				s.logger.Warn("cannot decode stored tool calls, skipping",
					"session", sessionKey,
					"error", err,
				)
			}
		}
		t.ToolCallID = toolCallID.String
		t.ToolName = toolName.String
		t.IsError = isError != 0
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

func (s *SQLiteStore) ReplaceTurns(ctx context.Context, sessionKey string, turns []domain.Turn) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM turns WHERE session_key = ?`, sessionKey); err != nil {
		return err
	}
	for seq, turn := range turns {
		var toolCalls string
		if len(turn.ToolCalls) > 0 {
			data, err := json.Marshal(turn.ToolCalls)
			if err != nil {
				return fmt.Errorf("marshal tool calls: %w", err)
			}
			toolCalls = string(data)
		}
		if turn.CreatedAt.IsZero() {
			turn.CreatedAt = time.Now()
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO turns (session_key, seq, role, content, tool_calls, tool_call_id, tool_name, is_error, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sessionKey, seq, turn.Role, turn.Content, toolCalls, turn.ToolCallID, turn.ToolName, boolToInt(turn.IsError), turn.CreatedAt,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, sessionKey string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM turns WHERE session_key = ?`, sessionKey)
	return err
}

func (s *SQLiteStore) SaveMemory(ctx context.Context, entry domain.MemoryEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memories (category, content, source, created_at) VALUES (?, ?, ?, ?)`,
		entry.Category, entry.Content, entry.Source, entry.CreatedAt,
	)
	return err
}

func (s *SQLiteStore) RecentMemories(ctx context.Context, limit int) ([]domain.MemoryEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, category, content, source, created_at
		 FROM memories ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMemories(rows)
}

func (s *SQLiteStore) SearchMemories(ctx context.Context, query string, limit int) ([]domain.MemoryEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, category, content, source, created_at
		 FROM memories WHERE content LIKE ? ORDER BY created_at DESC LIMIT ?`,
		"%"+query+"%", limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMemories(rows)
}

func scanMemories(rows *sql.Rows) ([]domain.MemoryEntry, error) {
	var entries []domain.MemoryEntry
	for rows.Next() {
		var e domain.MemoryEntry
		var source sql.NullString
		if err := rows.Scan(&e.ID, &e.Category, &e.Content, &source, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Source = source.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) SaveCronJob(ctx context.Context, job domain.CronJob) error {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO cron_jobs (id, message, channel, chat_id, interval_seconds, next_run, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Message, job.Channel, job.ChatID, job.IntervalSeconds, job.NextRun, job.CreatedAt,
	)
	return err
}

func (s *SQLiteStore) ListCronJobs(ctx context.Context) ([]domain.CronJob, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, message, channel, chat_id, interval_seconds, next_run, created_at
		 FROM cron_jobs ORDER BY next_run`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.CronJob
	for rows.Next() {
		var j domain.CronJob
		if err := rows.Scan(&j.ID, &j.Message, &j.Channel, &j.ChatID, &j.IntervalSeconds, &j.NextRun, &j.CreatedAt); err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (s *SQLiteStore) DeleteCronJob(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cron_jobs WHERE id = ?`, id)
	return err
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
