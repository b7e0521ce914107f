package orchestration

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/koscakluka/booking-core/core/calendars"
)

const (
	defaultCandidateCount = 3
	defaultProbeIncrement = 30 * time.Minute
	defaultSearchHorizon  = 7 * 24 * time.Hour
)

// ConflictOutcome is the advisory result of checking a requested window
// against live busy data.
type ConflictOutcome struct {
	// Conflicting holds the busy slots overlapping the requested window;
	// empty means the window is clear.
	Conflicting []calendars.TimeWindow
	// Candidates are up to candidateCount alternative windows of
	// identical duration, ordered by earliest start. Empty together with
	// a non-empty Conflicting means no availability within the horizon.
	Candidates []calendars.TimeWindow
}

// Clear reports whether the requested window can be booked as-is.
func (o ConflictOutcome) Clear() bool { return len(o.Conflicting) == 0 }

// NoAvailability reports that the window conflicts and the search
// horizon was exhausted without a single alternative.
func (o ConflictOutcome) NoAvailability() bool {
	return !o.Clear() && len(o.Candidates) == 0
}

// ConflictResolver checks proposed windows against busy data and
// computes alternatives. Purely advisory; it never commits anything.
type ConflictResolver struct {
	busy calendars.BusyFinder

	candidateCount int
	probeIncrement time.Duration
	searchHorizon  time.Duration

	readRetries  int
	retryBackoff time.Duration
	sleep        func(time.Duration)
}

type ConflictResolverOption func(*ConflictResolver)

// WithCandidateCount overrides how many alternatives are generated.
func WithCandidateCount(count int) ConflictResolverOption {
	return func(r *ConflictResolver) { r.candidateCount = count }
}

// WithProbeIncrement overrides the step between probed starts.
func WithProbeIncrement(step time.Duration) ConflictResolverOption {
	return func(r *ConflictResolver) { r.probeIncrement = step }
}

// WithSearchHorizon overrides how far past the requested start
// alternatives are probed.
func WithSearchHorizon(horizon time.Duration) ConflictResolverOption {
	return func(r *ConflictResolver) { r.searchHorizon = horizon }
}

// WithReadRetries overrides how many extra attempts busy queries get on
// failure.
func WithReadRetries(retries int, backoff time.Duration) ConflictResolverOption {
	return func(r *ConflictResolver) {
		r.readRetries = retries
		r.retryBackoff = backoff
	}
}

func NewConflictResolver(busy calendars.BusyFinder, opts ...ConflictResolverOption) *ConflictResolver {
	r := &ConflictResolver{
		busy:           busy,
		candidateCount: defaultCandidateCount,
		probeIncrement: defaultProbeIncrement,
		searchHorizon:  defaultSearchHorizon,
		readRetries:    2,
		retryBackoff:   250 * time.Millisecond,
		sleep:          time.Sleep,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve checks the requested window. The exclude window, when set,
// identifies the event being rescheduled so its own slot does not count
// as a conflict. Given identical busy data and an identical request the
// returned candidate sequence is identical.
func (r *ConflictResolver) Resolve(ctx context.Context, window calendars.TimeWindow, exclude *calendars.TimeWindow) (ConflictOutcome, error) {
	ctx, span := tracer.Start(ctx, "resolve window conflicts")
	defer span.End()
	span.SetAttributes(
		attribute.String("request.window_start", window.Start.Format(time.RFC3339)),
		attribute.String("request.window_end", window.End.Format(time.RFC3339)),
	)

	// Pad to the containing day so adjacent bookings are visible.
	busy, err := r.findBusy(ctx, window.Day())
	if err != nil {
		return ConflictOutcome{}, fmt.Errorf("failed to query busy slots: %w", err)
	}

	outcome := ConflictOutcome{}
	for _, slot := range busy {
		if exclude != nil && slot.Equal(*exclude) {
			continue
		}
		if slot.Overlaps(window) {
			outcome.Conflicting = append(outcome.Conflicting, slot)
		}
	}
	if outcome.Clear() {
		return outcome, nil
	}

	duration := window.Duration()
	horizon := calendars.TimeWindow{
		Start: window.Start,
		End:   window.Start.Add(r.searchHorizon + duration),
	}
	busy, err = r.findBusy(ctx, horizon)
	if err != nil {
		return ConflictOutcome{}, fmt.Errorf("failed to query busy slots over search horizon: %w", err)
	}

	outcome.Candidates = r.probe(window, busy, exclude)
	span.SetAttributes(attribute.Int("response.candidates", len(outcome.Candidates)))
	return outcome, nil
}

// probe walks forward from the requested start in fixed increments,
// collecting conflict-free windows of identical duration. Ordering by
// earliest start falls out of the walk; ties are impossible by
// construction.
func (r *ConflictResolver) probe(window calendars.TimeWindow, busy []calendars.TimeWindow, exclude *calendars.TimeWindow) []calendars.TimeWindow {
	duration := window.Duration()
	limit := window.Start.Add(r.searchHorizon)

	var candidates []calendars.TimeWindow
	for start := window.Start; len(candidates) < r.candidateCount && !start.After(limit); start = start.Add(r.probeIncrement) {
		candidate := calendars.TimeWindow{Start: start, End: start.Add(duration)}
		if r.overlapsAny(candidate, busy, exclude) {
			continue
		}
		candidates = append(candidates, candidate)
	}
	return candidates
}

func (r *ConflictResolver) overlapsAny(window calendars.TimeWindow, busy []calendars.TimeWindow, exclude *calendars.TimeWindow) bool {
	for _, slot := range busy {
		if exclude != nil && slot.Equal(*exclude) {
			continue
		}
		if slot.Overlaps(window) {
			return true
		}
	}
	return false
}

// findBusy retries the read-only busy query a small bounded number of
// times; mutating calls never get this treatment.
func (r *ConflictResolver) findBusy(ctx context.Context, window calendars.TimeWindow) ([]calendars.TimeWindow, error) {
	var lastErr error
	for attempt := 0; attempt <= r.readRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}
			r.sleep(r.retryBackoff)
		}

		busy, err := r.busy.FindBusySlots(ctx, window)
		if err == nil {
			return busy, nil
		}
		lastErr = err
		logger.WarnContext(ctx, "busy slot query failed",
			"attempt", attempt+1,
			"error", err,
		)
	}
	return nil, lastErr
}
