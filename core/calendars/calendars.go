// Package calendars defines the calendar gateway contract used by the
// booking engine. Implementations talk to a real calendar backend; the
// engine only ever sees these types.
package calendars

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrEventNotFound is returned by mutating calls that target an event
	// id the backend no longer knows about.
	ErrEventNotFound = errors.New("calendar event not found")

	// ErrInvalidWindow is returned when a window's start is not strictly
	// before its end.
	ErrInvalidWindow = errors.New("time window start must be before end")
)

// TimeWindow is a half-open [Start, End) interval. Both instants are
// timezone-aware; all comparisons are instant-based so windows from
// different zones compose safely.
type TimeWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewTimeWindow validates Start < End.
func NewTimeWindow(start, end time.Time) (TimeWindow, error) {
	if !start.Before(end) {
		return TimeWindow{}, fmt.Errorf("%w: start=%s end=%s", ErrInvalidWindow, start, end)
	}
	return TimeWindow{Start: start, End: end}, nil
}

func (w TimeWindow) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// Overlaps reports whether two windows share any time. Touching
// endpoints do not overlap.
func (w TimeWindow) Overlaps(other TimeWindow) bool {
	return w.Start.Before(other.End) && w.End.After(other.Start)
}

// Equal reports whether both windows cover the same instants, regardless
// of location.
func (w TimeWindow) Equal(other TimeWindow) bool {
	return w.Start.Equal(other.Start) && w.End.Equal(other.End)
}

// In returns the window with both endpoints expressed in loc.
func (w TimeWindow) In(loc *time.Location) TimeWindow {
	return TimeWindow{Start: w.Start.In(loc), End: w.End.In(loc)}
}

// Day returns the full day containing the window's start, in the
// window's own location.
func (w TimeWindow) Day() TimeWindow {
	start := time.Date(w.Start.Year(), w.Start.Month(), w.Start.Day(), 0, 0, 0, 0, w.Start.Location())
	return TimeWindow{Start: start, End: start.AddDate(0, 0, 1)}
}

// Operation names a calendar mutation.
type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

// Event is a calendar event as reported by the backend. The engine
// references events but never owns them.
type Event struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Window      TimeWindow `json:"window"`
	Description string     `json:"description,omitempty"`
}

// EventSpec describes an event to be created.
type EventSpec struct {
	Title       string
	Window      TimeWindow
	Description string
}

// EventUpdate carries the fields to change on an existing event. Nil
// fields are left untouched.
type EventUpdate struct {
	Title  *string
	Window *TimeWindow
}

// BusyFinder answers free/busy queries. Read-only; callers may retry.
type BusyFinder interface {
	FindBusySlots(ctx context.Context, window TimeWindow) ([]TimeWindow, error)
}

// EventFinder looks up events by a textual query, optionally narrowed to
// a window. Results are ordered by the backend's notion of relevance.
type EventFinder interface {
	FindEvent(ctx context.Context, query string, window *TimeWindow) ([]Event, error)
}

// Mutator performs calendar writes. Callers must never retry these
// automatically.
type Mutator interface {
	CreateEvent(ctx context.Context, spec EventSpec) (string, error)
	UpdateEvent(ctx context.Context, eventID string, update EventUpdate) error
	DeleteEvent(ctx context.Context, eventID string) error
}

// Gateway is the full calendar backend contract.
type Gateway interface {
	BusyFinder
	EventFinder
	Mutator
}
