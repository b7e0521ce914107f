// Package sessions owns per-conversation state: the partially filled
// intent, the mutation awaiting confirmation, and the bounded turn
// history handed to the intent resolver as context. One state exists
// per chat session; no state is ever shared across sessions.
package sessions

import (
	"context"
	"errors"
	"time"

	"github.com/jinzhu/copier"
	"github.com/koscakluka/booking-core/core/calendars"
	"github.com/koscakluka/booking-core/core/intents"
)

// ErrStoreClosed is returned by stores after Close.
var ErrStoreClosed = errors.New("session store closed")

// MutationState tracks a pending mutation through the confirmation
// gate.
type MutationState string

const (
	// MutationAwaitingConfirmation means the mutation was proposed and an
	// explicit confirmation prompt is outstanding.
	MutationAwaitingConfirmation MutationState = "awaiting_confirmation"
	// MutationConfirmed means the user affirmed; the commit may proceed.
	MutationConfirmed MutationState = "confirmed"
	// MutationRejected means the user declined; the mutation is dead.
	MutationRejected MutationState = "rejected"
	// MutationExpired means the confirmation prompt outlived its TTL.
	MutationExpired MutationState = "expired"
)

// Mutation is a fully resolved calendar action awaiting confirmation.
// It is immutable once proposed; when the user changes a detail a new
// mutation replaces it.
type Mutation struct {
	ID            string                `json:"id"`
	Operation     calendars.Operation   `json:"operation"`
	TargetEventID string                `json:"target_event_id,omitempty"`
	Title         string                `json:"title,omitempty"`
	Window        *calendars.TimeWindow `json:"window,omitempty"`
	State         MutationState         `json:"state"`
	ProposedAt    time.Time             `json:"proposed_at"`
	// CommitAttempts counts failed commits; the mutation survives exactly
	// one gateway failure for a retried confirmation.
	CommitAttempts int `json:"commit_attempts,omitempty"`
}

// Turn is one prior exchange kept as resolver context.
type Turn struct {
	Role    intents.Role `json:"role"`
	Content string       `json:"content"`
	At      time.Time    `json:"at"`
}

// State is the complete conversation state for one session.
type State struct {
	ID       string `json:"id"`
	Timezone string `json:"timezone,omitempty"`

	PendingIntent   *intents.Intent `json:"pending_intent,omitempty"`
	PendingMutation *Mutation       `json:"pending_mutation,omitempty"`

	// Candidates are alternative windows offered after a conflict,
	// awaiting a 1-based pick.
	Candidates []calendars.TimeWindow `json:"candidates,omitempty"`
	// EventChoices are disambiguation targets awaiting a 1-based pick.
	EventChoices []calendars.Event `json:"event_choices,omitempty"`
	// TargetEvent is the resolved reschedule/cancel target.
	TargetEvent *calendars.Event `json:"target_event,omitempty"`

	History []Turn `json:"history,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// NewState creates an empty state for the session.
func NewState(sessionID string) *State {
	return &State{ID: sessionID}
}

// AppendTurn records one exchange, trimming the history to limit turns.
func (s *State) AppendTurn(role intents.Role, content string, at time.Time, limit int) {
	s.History = append(s.History, Turn{Role: role, Content: content, At: at})
	if limit > 0 && len(s.History) > limit {
		s.History = s.History[len(s.History)-limit:]
	}
}

// HasPending reports whether the conversation is mid-flow: a partial
// intent, an unconfirmed mutation, or an outstanding pick.
func (s *State) HasPending() bool {
	return s.PendingIntent != nil || s.PendingMutation != nil ||
		len(s.Candidates) > 0 || len(s.EventChoices) > 0
}

// ClearPending drops the pending intent, mutation and any offered
// choices. It never touches the calendar.
func (s *State) ClearPending() {
	s.PendingIntent = nil
	s.PendingMutation = nil
	s.Candidates = nil
	s.EventChoices = nil
	s.TargetEvent = nil
}

// ClearChoices drops offered candidate windows and disambiguation
// targets, keeping the intent and mutation.
func (s *State) ClearChoices() {
	s.Candidates = nil
	s.EventChoices = nil
}

// Clone returns a deep copy of the state.
func (s *State) Clone() (*State, error) {
	clone := &State{}
	if err := copier.CopyWithOption(clone, s, copier.Option{DeepCopy: true}); err != nil {
		return nil, err
	}
	return clone, nil
}

// Lease is exclusive access to one session's state for the duration of
// one utterance. Concurrent acquisitions for the same session block
// until the lease is released.
type Lease interface {
	// State is the live state; valid until Release.
	State() *State
	// Release persists the state and gives up exclusivity. It must be
	// called exactly once.
	Release(ctx context.Context) error
}

// Store hands out per-session leases. Sessions are created on first
// acquisition and destroyed on TTL expiry or explicit reset.
type Store interface {
	Acquire(ctx context.Context, sessionID string) (Lease, error)
	// Reset discards the session's state without calendar side effects.
	Reset(ctx context.Context, sessionID string) error
	Close() error
}
