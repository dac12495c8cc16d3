// Package history provides SQLite-based persistence for chat messages.
// All statements run on one writer goroutine, so appends land in submission
// order and reads observe every append queued before them.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"

	"github.com/comigor/chatproxy/internal/conversation"
	"github.com/comigor/chatproxy/internal/logger"
	"github.com/comigor/chatproxy/internal/metrics"
)

var (
	// ErrClosed is returned by operations issued after Close.
	ErrClosed = errors.New("history: store closed")
	// ErrQueueFull is reported when a fire-and-forget write finds the queue full.
	ErrQueueFull = errors.New("history: write queue full")
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT,
    role TEXT,
    content TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages (session_id, created_at);`

type op struct {
	name string
	run  func(ctx context.Context, db *sql.DB) error
	ctx  context.Context
	done chan error // nil for fire-and-forget
}

// Store is the durable message log.
type Store struct {
	db  *sql.DB
	now func() time.Time

	mu     sync.RWMutex
	closed bool
	ops    chan op
	wg     sync.WaitGroup
}

// Open opens (creating if needed) the SQLite database at path and starts the
// writer. queueSize bounds the number of pending writes; values below 1 use 256.
func Open(path string, queueSize int) (*Store, error) {
	db, err := sql.Open("sqlite", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", path, err)
	}
	// One connection: the writer is the only user and ":memory:" stays a single database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA busy_timeout = 10000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: set busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: create schema: %w", err)
	}

	if queueSize < 1 {
		queueSize = 256
	}
	s := &Store{
		db:  db,
		now: time.Now,
		ops: make(chan op, queueSize),
	}
	s.wg.Add(1)
	go s.loop()

	logger.L.Info("sqlite history DB initialized", "path", path)
	return s, nil
}

func (s *Store) loop() {
	defer s.wg.Done()
	for o := range s.ops {
		err := o.run(o.ctx, s.db)
		if o.done != nil {
			o.done <- err
			continue
		}
		if err != nil {
			metrics.HistoryError(o.name)
			logger.L.Error("failed to store message in sqlite", "op", o.name, "error", err)
		}
	}
}

func (s *Store) submit(o op) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	if o.done == nil {
		// Fire-and-forget writes never wait for the writer; they are dropped instead.
		select {
		case s.ops <- o:
			return nil
		default:
			return ErrQueueFull
		}
	}
	select {
	case s.ops <- o:
		return nil
	case <-o.ctx.Done():
		return o.ctx.Err()
	}
}

// call runs fn on the writer and waits for it.
func (s *Store) call(ctx context.Context, name string, fn func(ctx context.Context, db *sql.DB) error) error {
	o := op{name: name, run: fn, ctx: ctx, done: make(chan error, 1)}
	if err := s.submit(o); err != nil {
		return err
	}
	select {
	case err := <-o.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Append queues a message for insertion and returns immediately. When the
// queue is full the message is dropped. Failures are logged and counted; they
// never reach the caller.
func (s *Store) Append(sessionID string, role conversation.Role, content string) {
	createdAt := s.now().UTC()
	err := s.submit(op{
		name: "append",
		ctx:  context.Background(),
		run: func(ctx context.Context, db *sql.DB) error {
			_, err := db.ExecContext(ctx,
				`INSERT INTO messages (session_id, role, content, created_at) VALUES (?,?,?,?);`,
				sessionID, string(role), content, createdAt)
			return err
		},
	})
	if err != nil {
		metrics.HistoryError("append")
		logger.L.Error("failed to queue message", "session_id", sessionID, "error", err)
	}
}

// List returns all messages of a session in chronological order.
func (s *Store) List(ctx context.Context, sessionID string) ([]Message, error) {
	var out []Message
	err := s.call(ctx, "list", func(ctx context.Context, db *sql.DB) error {
		rows, err := db.QueryContext(ctx,
			`SELECT id, session_id, role, content, created_at FROM messages WHERE session_id = ? ORDER BY created_at ASC, id ASC;`,
			sessionID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var (
				m    Message
				role string
			)
			if err := rows.Scan(&m.ID, &m.SessionID, &role, &m.Content, &m.CreatedAt); err != nil {
				return err
			}
			m.Role = conversation.Role(role)
			out = append(out, m)
		}
		return rows.Err()
	})
	if err != nil {
		metrics.HistoryError("list")
		return nil, fmt.Errorf("history: list %s: %w", sessionID, err)
	}
	return out, nil
}

// Delete removes every stored message of a session. Appends queued before the
// call are deleted too.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	err := s.call(ctx, "delete", func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?;`, sessionID)
		return err
	})
	if err != nil {
		metrics.HistoryError("delete")
		return fmt.Errorf("history: delete %s: %w", sessionID, err)
	}
	return nil
}

// Close flushes queued writes and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.ops)
	s.mu.Unlock()

	s.wg.Wait()
	return s.db.Close()
}
