// Package sqlite persists conversation state in a SQLite database using
// the same schema as the in-memory store, for deployments that need
// session state to survive restarts. Exclusive per-session access is
// still enforced in-process; run a single engine instance per database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/koscakluka/booking-core/core/sessions"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	state      TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
`

// Store implements sessions.Store over a SQLite file.
type Store struct {
	db *sql.DB

	mu     sync.Mutex
	locks  map[string]chan struct{}
	closed bool

	ttl   time.Duration
	clock func() time.Time
}

type StoreOption func(*Store)

// WithTTL overrides the session expiry, measured from the last release.
func WithTTL(ttl time.Duration) StoreOption {
	return func(s *Store) { s.ttl = ttl }
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) StoreOption {
	return func(s *Store) { s.clock = clock }
}

// Open creates or opens the database at path and runs migrations.
func Open(path string, opts ...StoreOption) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create session store directory: %w", err)
		}
	}

	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open session database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate session database: %w", err)
	}

	s := &Store{
		db:    db,
		locks: map[string]chan struct{}{},
		ttl:   30 * time.Minute,
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) Acquire(ctx context.Context, sessionID string) (sessions.Lease, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, sessions.ErrStoreClosed
	}
	sem, ok := s.locks[sessionID]
	if !ok {
		sem = make(chan struct{}, 1)
		s.locks[sessionID] = sem
	}
	s.mu.Unlock()

	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	state, err := s.load(ctx, sessionID)
	if err != nil {
		<-sem
		return nil, err
	}

	return &lease{store: s, sem: sem, state: state}, nil
}

func (s *Store) Reset(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to reset session %q: %w", sessionID, err)
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.db.Close()
}

// PurgeExpired removes sessions whose TTL lapsed. Intended to be called
// periodically by the owning process.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	cutoff := s.clock().Add(-s.ttl).Unix()
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE updated_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *Store) load(ctx context.Context, sessionID string) (*sessions.State, error) {
	var (
		raw       string
		updatedAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT state, updated_at FROM sessions WHERE id = ?`, sessionID,
	).Scan(&raw, &updatedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return sessions.NewState(sessionID), nil
	case err != nil:
		return nil, fmt.Errorf("failed to load session %q: %w", sessionID, err)
	}

	if s.clock().Sub(time.Unix(updatedAt, 0)) > s.ttl {
		return sessions.NewState(sessionID), nil
	}

	state := &sessions.State{}
	if err := json.Unmarshal([]byte(raw), state); err != nil {
		// Corrupt state is unrecoverable; start over for this session.
		return sessions.NewState(sessionID), nil
	}
	return state, nil
}

type lease struct {
	store    *Store
	sem      chan struct{}
	state    *sessions.State
	released bool
}

func (l *lease) State() *sessions.State { return l.state }

func (l *lease) Release(ctx context.Context) error {
	if l.released {
		return nil
	}
	l.released = true
	defer func() { <-l.sem }()

	now := l.store.clock()
	l.state.UpdatedAt = now
	raw, err := json.Marshal(l.state)
	if err != nil {
		return fmt.Errorf("failed to encode session state: %w", err)
	}

	_, err = l.store.db.ExecContext(ctx, `
		INSERT INTO sessions (id, state, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`,
		l.state.ID, string(raw), now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to persist session state: %w", err)
	}
	return nil
}
