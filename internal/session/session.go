package session

import (
	"time"

	"minibot/internal/domain"
)

// Session is the ordered history of one conversation. All access goes
// through the Manager, which serializes mutations per key; the turn
// slice is append-only and never reordered.
type Session struct {
	Key       string
	Turns     []domain.Turn
	CreatedAt time.Time
	UpdatedAt time.Time

	dirty bool
	// persisted is the length of the durable prefix; turns beyond it are
	// appended on the next persist. rewrite forces a full replace instead,
	// set whenever the in-memory history diverges from the stored prefix.
	persisted int
	rewrite   bool
}

func newSession(key string) *Session {
	now := time.Now()
	return &Session{Key: key, CreatedAt: now, UpdatedAt: now}
}

// Append adds a turn at the end of the history.
func (s *Session) Append(turn domain.Turn) {
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}
	s.Turns = append(s.Turns, turn)
	s.UpdatedAt = time.Now()
	s.dirty = true
}

// Snapshot returns a copy of the history safe to read after the session
// lock is released.
func (s *Session) Snapshot() []domain.Turn {
	out := make([]domain.Turn, len(s.Turns))
	copy(out, s.Turns)
	return out
}

func (s *Session) Len() int { return len(s.Turns) }

// Clear drops all history, keeping the session itself.
func (s *Session) Clear() {
	s.Turns = nil
	s.UpdatedAt = time.Now()
	s.dirty = true
	s.persisted = 0
	s.rewrite = false
}

// Truncate enforces the retention window, dropping oldest turns first.
// The cut never separates an assistant turn from its tool results: when
// the natural cut point lands on orphaned tool-result turns, they are
// dropped along with their already-evicted call. Returns the dropped
// prefix so the caller can consolidate it into long-term memory.
func (s *Session) Truncate(window int) []domain.Turn {
	if window <= 0 || len(s.Turns) <= window {
		return nil
	}
	cut := len(s.Turns) - window
	for cut < len(s.Turns) && s.Turns[cut].Role == domain.RoleTool {
		cut++
	}
	if cut == 0 {
		return nil
	}
	dropped := make([]domain.Turn, cut)
	copy(dropped, s.Turns[:cut])
	s.Turns = append([]domain.Turn(nil), s.Turns[cut:]...)
	s.UpdatedAt = time.Now()
	s.dirty = true
	s.rewrite = true
	return dropped
}
