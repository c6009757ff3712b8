package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"minibot/internal/domain"
)

const defaultWindow = 100

// Manager owns every live session. Each session key is a mutual-exclusion
// domain: Acquire hands out the session together with its key lock, so two
// turns for the same conversation can never interleave their appends.
// Unrelated keys never contend.
type Manager struct {
	store  domain.Store
	window int
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	mu     sync.Mutex
	sess   *Session
	loaded bool
}

func NewManager(store domain.Store, window int, logger *slog.Logger) *Manager {
	if window <= 0 {
		window = defaultWindow
	}
	return &Manager{
		store:   store,
		window:  window,
		logger:  logger,
		entries: make(map[string]*entry),
	}
}

// Window returns the configured retention window in turns.
func (m *Manager) Window() int { return m.window }

func (m *Manager) entryFor(key string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		e = &entry{sess: newSession(key)}
		m.entries[key] = e
	}
	return e
}

// Acquire locks the session for the given key and returns it with a
// release func. On first touch the persisted history is loaded from the
// store; a load failure starts the session empty rather than failing the
// turn. The caller must hold the lock for the whole turn.
func (m *Manager) Acquire(ctx context.Context, key string) (*Session, func(), error) {
	e := m.entryFor(key)
	e.mu.Lock()

	if !e.loaded {
		turns, err := m.store.LoadTurns(ctx, key, m.window)
		if err != nil {
			m.logger.Warn("failed to load session history, starting empty",
				"session", key,
				"error", err,
			)
			// The stored prefix is unknown; the next persist rewrites it.
			e.sess.rewrite = true
		} else {
			e.sess.Turns = turns
			e.sess.persisted = len(turns)
		}
		e.loaded = true
	}

	return e.sess, e.mu.Unlock, nil
}

// Load returns a detached copy of a persisted session, or not-found.
// Read-only: it does not touch the live in-memory session.
func (m *Manager) Load(ctx context.Context, key string) (*Session, error) {
	turns, err := m.store.LoadTurns(ctx, key, m.window)
	if err != nil {
		return nil, fmt.Errorf("load session %q: %w", key, err)
	}
	if len(turns) == 0 {
		return nil, fmt.Errorf("session %q: not found", key)
	}
	s := newSession(key)
	s.Turns = turns
	return s, nil
}

// Persist writes the session's history to the store. The caller must
// hold the session lock. New turns are appended onto the durable prefix;
// truncation forces a full rewrite since the stored prefix no longer
// matches. A failed write leaves the session dirty so the next persist
// retries it; in-memory history stays authoritative.
func (m *Manager) Persist(ctx context.Context, sess *Session) error {
	if !sess.dirty {
		return nil
	}
	if sess.rewrite {
		if err := m.store.ReplaceTurns(ctx, sess.Key, sess.Turns); err != nil {
			return fmt.Errorf("persist session %q: %w", sess.Key, err)
		}
		sess.persisted = len(sess.Turns)
		sess.rewrite = false
	}
	for sess.persisted < len(sess.Turns) {
		if err := m.store.AppendTurn(ctx, sess.Key, sess.Turns[sess.persisted]); err != nil {
			return fmt.Errorf("persist session %q: %w", sess.Key, err)
		}
		sess.persisted++
	}
	sess.dirty = false
	return nil
}

// Clear wipes a session's history in memory and in the store.
// The caller must hold the session lock.
func (m *Manager) Clear(ctx context.Context, sess *Session) error {
	sess.Clear()
	if err := m.store.DeleteSession(ctx, sess.Key); err != nil {
		return fmt.Errorf("clear session %q: %w", sess.Key, err)
	}
	sess.dirty = false
	return nil
}
