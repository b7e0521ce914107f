package orchestration

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/koscakluka/booking-core/core/calendars"
	"github.com/koscakluka/booking-core/core/sessions"
)

const defaultConfirmationTTL = 10 * time.Minute

var (
	// ErrNothingPending is returned when a confirmation or rejection
	// arrives with no mutation awaiting one.
	ErrNothingPending = errors.New("no mutation awaiting confirmation")
	// ErrNotAwaitingConfirmation is returned for transitions out of any
	// state other than awaiting confirmation.
	ErrNotAwaitingConfirmation = errors.New("mutation is not awaiting confirmation")
)

// ConfirmationGate holds fully resolved mutations until the user
// explicitly approves them. Every mutation passes through it; no code
// path commits without a confirmed mutation.
type ConfirmationGate struct {
	ttl   time.Duration
	clock func() time.Time
}

func NewConfirmationGate(ttl time.Duration, clock func() time.Time) ConfirmationGate {
	if ttl <= 0 {
		ttl = defaultConfirmationTTL
	}
	if clock == nil {
		clock = time.Now
	}
	return ConfirmationGate{ttl: ttl, clock: clock}
}

// Propose admits a fully resolved mutation and immediately moves it to
// awaiting confirmation; the caller must surface a confirmation prompt
// before anything else happens to it.
func (g ConfirmationGate) Propose(operation calendars.Operation, targetEventID, title string, window *calendars.TimeWindow) *sessions.Mutation {
	return &sessions.Mutation{
		ID:            uuid.NewString(),
		Operation:     operation,
		TargetEventID: targetEventID,
		Title:         title,
		Window:        window,
		State:         sessions.MutationAwaitingConfirmation,
		ProposedAt:    g.clock(),
	}
}

// ExpireStale discards a pending mutation older than the gate's TTL.
// Returns true when the state held an expired mutation. Liveness only:
// a stale confirmation must not act on outdated availability.
func (g ConfirmationGate) ExpireStale(state *sessions.State) bool {
	m := state.PendingMutation
	if m == nil || m.State != sessions.MutationAwaitingConfirmation {
		return false
	}
	if g.clock().Sub(m.ProposedAt) <= g.ttl {
		return false
	}
	m.State = sessions.MutationExpired
	state.PendingMutation = nil
	return true
}

// Confirm transitions an awaiting mutation to confirmed so the engine
// may commit it.
func (g ConfirmationGate) Confirm(m *sessions.Mutation) error {
	if m == nil {
		return ErrNothingPending
	}
	if m.State != sessions.MutationAwaitingConfirmation {
		return fmt.Errorf("%w: state=%s", ErrNotAwaitingConfirmation, m.State)
	}
	m.State = sessions.MutationConfirmed
	return nil
}

// Reject discards an awaiting mutation. Previously filled intent fields
// are the caller's to preserve.
func (g ConfirmationGate) Reject(m *sessions.Mutation) error {
	if m == nil {
		return ErrNothingPending
	}
	if m.State != sessions.MutationAwaitingConfirmation {
		return fmt.Errorf("%w: state=%s", ErrNotAwaitingConfirmation, m.State)
	}
	m.State = sessions.MutationRejected
	return nil
}
