package sessions

import (
	"context"
	"sync"
	"time"
)

const defaultSessionTTL = 30 * time.Minute

// MemoryStore keeps conversation state in volatile memory with TTL
// eviction. Suitable for single-instance deployments; the sqlite store
// shares the same schema for persisted state.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	closed  bool
	done    chan struct{}

	ttl   time.Duration
	clock func() time.Time
}

type memoryEntry struct {
	// sem serializes access per session; acquisition is context-aware.
	sem   chan struct{}
	state *State
}

type MemoryStoreOption func(*MemoryStore)

// WithTTL overrides the session expiry, measured from the last release.
func WithTTL(ttl time.Duration) MemoryStoreOption {
	return func(s *MemoryStore) { s.ttl = ttl }
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) MemoryStoreOption {
	return func(s *MemoryStore) { s.clock = clock }
}

func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		entries: map[string]*memoryEntry{},
		done:    make(chan struct{}),
		ttl:     defaultSessionTTL,
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	go s.sweep()
	return s
}

// Acquire blocks until the session is free, then hands out an exclusive
// lease. Expired state is replaced with a fresh one.
func (s *MemoryStore) Acquire(ctx context.Context, sessionID string) (Lease, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrStoreClosed
	}
	entry, ok := s.entries[sessionID]
	if !ok {
		entry = &memoryEntry{sem: make(chan struct{}, 1), state: NewState(sessionID)}
		s.entries[sessionID] = entry
	}
	s.mu.Unlock()

	select {
	case entry.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	now := s.clock()
	if s.expired(entry.state, now) {
		entry.state = NewState(sessionID)
	}

	return &memoryLease{store: s, entry: entry}, nil
}

// Reset discards the session's state. A held lease keeps its (now
// detached) state until released.
func (s *MemoryStore) Reset(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	delete(s.entries, sessionID)
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.done)
		s.entries = map[string]*memoryEntry{}
	}
	return nil
}

func (s *MemoryStore) expired(state *State, now time.Time) bool {
	return !state.UpdatedAt.IsZero() && now.Sub(state.UpdatedAt) > s.ttl
}

// sweep drops sessions whose TTL lapsed without another access.
func (s *MemoryStore) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			now := s.clock()
			s.mu.Lock()
			for id, entry := range s.entries {
				select {
				case entry.sem <- struct{}{}:
					if s.expired(entry.state, now) {
						delete(s.entries, id)
					}
					<-entry.sem
				default:
					// Leased; skip.
				}
			}
			s.mu.Unlock()
		}
	}
}

type memoryLease struct {
	store    *MemoryStore
	entry    *memoryEntry
	released bool
}

func (l *memoryLease) State() *State { return l.entry.state }

func (l *memoryLease) Release(ctx context.Context) error {
	if l.released {
		return nil
	}
	l.released = true
	l.entry.state.UpdatedAt = l.store.clock()
	<-l.entry.sem
	return nil
}
