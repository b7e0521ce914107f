// Package intents defines the intent resolver contract: the structured
// output the engine expects from whatever model maps raw utterances to
// calendar actions. The engine never inspects resolver output beyond
// these types.
package intents

import (
	"context"
	"time"
)

// Kind classifies what the user wants from the current utterance.
type Kind string

const (
	// KindCreate books a new event.
	KindCreate Kind = "create"
	// KindReschedule moves an existing event.
	KindReschedule Kind = "reschedule"
	// KindCancel deletes an existing event.
	KindCancel Kind = "cancel"
	// KindConfirm affirms a pending confirmation prompt.
	KindConfirm Kind = "confirm"
	// KindDecline rejects a pending confirmation prompt.
	KindDecline Kind = "decline"
	// KindClarify supplies fields for the pending intent without naming a
	// new action (answers to slot questions, candidate picks).
	KindClarify Kind = "clarify"
	// KindReset discards all pending conversation state.
	KindReset Kind = "reset"
	// KindUnknown is used when the resolver cannot classify the utterance.
	KindUnknown Kind = "unknown"
)

// Mutating reports whether the kind names a calendar action of its own.
func (k Kind) Mutating() bool {
	return k == KindCreate || k == KindReschedule || k == KindCancel
}

// Field names one extractable intent parameter. The set is closed; the
// resolver must not invent field names outside it.
type Field string

const (
	FieldTitle     Field = "title"
	FieldStartTime Field = "start_time"
	FieldEndTime   Field = "end_time"
	FieldDuration  Field = "duration"
	// FieldEventRef is the user's description of an existing event
	// ("my Project Sync meeting next week").
	FieldEventRef Field = "event_ref"
	// FieldChoice is a 1-based pick from the most recently offered list of
	// candidate windows or disambiguation targets.
	FieldChoice Field = "choice"
)

// Value is one extracted field value with the resolver's confidence in
// it. Exactly one of the typed slots is meaningful for a given field.
type Value struct {
	Text       string         `json:"text,omitempty"`
	Time       *time.Time     `json:"time,omitempty"`
	Duration   *time.Duration `json:"duration,omitempty"`
	Choice     int            `json:"choice,omitempty"`
	Confidence float64        `json:"confidence"`
}

// Intent is a possibly partially-filled calendar action. Fields absent
// from the map are missing, never defaulted.
type Intent struct {
	Kind   Kind            `json:"kind"`
	Fields map[Field]Value `json:"fields"`
}

// Field returns the named field if present.
func (i Intent) Field(name Field) (Value, bool) {
	v, ok := i.Fields[name]
	return v, ok
}

// Has reports whether the named field is present.
func (i Intent) Has(name Field) bool {
	_, ok := i.Fields[name]
	return ok
}

// Merge folds a resolution into a pending intent. Fields below the
// confidence threshold are dropped. A mutating kind different from the
// pending one discards the stale fields entirely; clarifications and
// same-kind updates overwrite fields of the same name and keep the rest.
func Merge(pending *Intent, update Resolution, threshold float64) Intent {
	merged := Intent{Fields: map[Field]Value{}}

	switch {
	case pending == nil:
		merged.Kind = update.Kind
	case update.Kind.Mutating() && update.Kind != pending.Kind:
		// A new action invalidates fields gathered for the old one.
		merged.Kind = update.Kind
	default:
		merged.Kind = pending.Kind
		for name, value := range pending.Fields {
			merged.Fields[name] = value
		}
	}

	for name, value := range update.Fields {
		if value.Confidence < threshold {
			continue
		}
		merged.Fields[name] = value
	}

	return merged
}

// Role tags one side of a conversation turn handed to the resolver as
// context.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one prior conversation exchange, oldest first.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request is everything the resolver may use for one utterance.
type Request struct {
	RawText string
	// History is bounded by the caller; oldest first.
	History []Turn
	// Pending is the intent accumulated so far, if any.
	Pending *Intent
	// ReferenceTime anchors relative expressions ("tomorrow at 3pm").
	ReferenceTime time.Time
	// Timezone is the session's resolved IANA zone name.
	Timezone string
}

// Resolution is the resolver's structured answer. Fields may be partial;
// each carries its own confidence.
type Resolution struct {
	Kind   Kind
	Fields map[Field]Value
}

// Resolver maps one utterance plus context to a structured resolution.
// Implementations are remote and fallible; calls run under the caller's
// context deadline.
type Resolver interface {
	Resolve(ctx context.Context, req Request) (*Resolution, error)
}
