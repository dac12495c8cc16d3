// Package session keeps the process-wide map of live conversations.
// Entries are created on first use, hydrated from the message log, and
// removed only by an explicit clear or by the idle janitor.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/comigor/chatproxy/internal/conversation"
	"github.com/comigor/chatproxy/internal/history"
	"github.com/comigor/chatproxy/internal/logger"
	"github.com/comigor/chatproxy/internal/metrics"
)

// Loader reads the durable messages of a session in chronological order.
type Loader interface {
	List(ctx context.Context, sessionID string) ([]history.Message, error)
}

// Session owns one conversation. Lock it for the duration of any read or
// mutation of Conversation.
type Session struct {
	ID string

	mu       sync.Mutex
	conv     conversation.Conversation
	lastSeen time.Time
}

// Lock acquires the session for a read or mutation of its conversation.
func (s *Session) Lock() { s.mu.Lock() }

// Unlock releases the session.
func (s *Session) Unlock() { s.mu.Unlock() }

// Conversation returns the session's conversation. Caller must hold the lock.
func (s *Session) Conversation() *conversation.Conversation {
	return &s.conv
}

// Snapshot returns a copy of the entries.
func (s *Session) Snapshot() []conversation.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv.Entries()
}

// RecentPrompts returns up to n of the latest user prompts with their indices.
func (s *Session) RecentPrompts(n int) []conversation.Prompt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv.RecentPrompts(n)
}

// Registry maps session ids to sessions.
type Registry struct {
	loader Loader
	now    func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry that hydrates new sessions from loader.
// loader may be nil, in which case sessions always start empty.
func NewRegistry(loader Loader) *Registry {
	return &Registry{
		loader:   loader,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// Resolve returns the session for id, creating it if needed. An empty id mints
// a new one and reports minted. A session created for a supplied id is
// hydrated from the loader before any other caller can use it.
func (r *Registry) Resolve(ctx context.Context, id string) (*Session, bool) {
	minted := false
	if id == "" {
		id = uuid.NewString()
		minted = true
	}

	r.mu.Lock()
	if s, ok := r.sessions[id]; ok {
		r.mu.Unlock()
		s.mu.Lock()
		s.lastSeen = r.now()
		s.mu.Unlock()
		return s, minted
	}
	s := &Session{ID: id, lastSeen: r.now()}
	// Held until hydration ends so concurrent resolvers wait for a ready conversation.
	s.mu.Lock()
	r.sessions[id] = s
	n := len(r.sessions)
	r.mu.Unlock()
	metrics.SetActiveSessions(n)

	if !minted {
		// A caller that goes away must not leave the session empty for everyone else.
		r.hydrate(context.WithoutCancel(ctx), s)
	}
	s.mu.Unlock()
	return s, minted
}

func (r *Registry) hydrate(ctx context.Context, s *Session) {
	if r.loader == nil {
		return
	}
	msgs, err := r.loader.List(ctx, s.ID)
	if err != nil {
		logger.L.Error("failed to restore conversation", "session_id", s.ID, "error", err)
		return
	}
	for _, m := range msgs {
		role, err := conversation.ParseRole(string(m.Role))
		if err != nil {
			logger.L.Warn("skipping stored message", "session_id", s.ID, "id", m.ID, "error", err)
			continue
		}
		s.conv.Append(conversation.NewEntry(role, m.Content))
	}
	logger.L.Debug("conversation restored", "session_id", s.ID, "entries", s.conv.Len())
}

// Lookup returns an in-memory session without creating or hydrating it.
func (r *Registry) Lookup(id string) (*Session, bool) {
	if id == "" {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Remove drops the session from memory. It reports whether it was present.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	_, ok := r.sessions[id]
	delete(r.sessions, id)
	n := len(r.sessions)
	r.mu.Unlock()
	if ok {
		metrics.SetActiveSessions(n)
		metrics.SessionsRemoved("clear", 1)
	}
	return ok
}

// Len reports the number of sessions in memory.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep removes sessions not used for longer than ttl and returns how many were
// removed. Sessions with a turn in flight are skipped.
func (r *Registry) Sweep(ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}
	cutoff := r.now().Add(-ttl)

	r.mu.Lock()
	removed := 0
	for id, s := range r.sessions {
		if !s.mu.TryLock() {
			continue
		}
		if s.lastSeen.Before(cutoff) {
			delete(r.sessions, id)
			removed++
		}
		s.mu.Unlock()
	}
	n := len(r.sessions)
	r.mu.Unlock()

	if removed > 0 {
		metrics.SetActiveSessions(n)
		metrics.SessionsRemoved("idle", removed)
		logger.L.Info("idle sessions removed", "count", removed, "remaining", n)
	}
	return removed
}
