// Package orchestration turns a sequence of user utterances into
// validated, conflict-free calendar mutations. Every turn is a function
// of (conversation state, utterance) to (state, structured response);
// no mutation is ever committed without explicit confirmation.
package orchestration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jinzhu/copier"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/koscakluka/booking-core/core/calendars"
	"github.com/koscakluka/booking-core/core/intents"
	"github.com/koscakluka/booking-core/core/responses"
	"github.com/koscakluka/booking-core/core/sessions"
)

const (
	defaultConfidenceThreshold = 0.5
	defaultHistoryLimit        = 20
	defaultResolverHistory     = 12
	defaultResolverTimeout     = 15 * time.Second
	defaultGatewayTimeout      = 10 * time.Second
)

// ErrNotConfigured is returned when the engine is missing a resolver or
// a calendar gateway.
var ErrNotConfigured = errors.New("engine requires an intent resolver and a calendar gateway")

// Engine is the top-level booking orchestrator. It owns session state
// and composes slot filling, conflict resolution and the confirmation
// gate per incoming utterance.
type Engine struct {
	resolver intents.Resolver
	calendar calendars.Gateway
	store    sessions.Store

	gate      ConfirmationGate
	conflicts *ConflictResolver

	clock               func() time.Time
	timezone            *time.Location
	confidenceThreshold float64
	confirmationTTL     time.Duration
	historyLimit        int
	resolverHistory     int
	resolverTimeout     time.Duration
	gatewayTimeout      time.Duration
	conflictOpts        []ConflictResolverOption
}

func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		clock:               time.Now,
		timezone:            time.UTC,
		confidenceThreshold: defaultConfidenceThreshold,
		confirmationTTL:     defaultConfirmationTTL,
		historyLimit:        defaultHistoryLimit,
		resolverHistory:     defaultResolverHistory,
		resolverTimeout:     defaultResolverTimeout,
		gatewayTimeout:      defaultGatewayTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.store == nil {
		e.store = sessions.NewMemoryStore(sessions.WithClock(e.clock))
	}
	e.gate = NewConfirmationGate(e.confirmationTTL, e.clock)
	if e.calendar != nil {
		e.conflicts = NewConflictResolver(e.calendar, e.conflictOpts...)
	}

	return e
}

// HandleUtterance processes one utterance for the session and returns
// the structured response to render. Utterances for the same session
// are serialized; unrelated sessions proceed in parallel.
func (e *Engine) HandleUtterance(ctx context.Context, sessionID, rawText string) (responses.Response, error) {
	ctx, span := tracer.Start(ctx, "handle utterance")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sessionID))

	if e.resolver == nil || e.calendar == nil {
		return nil, ErrNotConfigured
	}

	lease, err := e.store.Acquire(ctx, sessionID)
	if err != nil {
		recordedErr := fmt.Errorf("failed to acquire session %q: %w", sessionID, err)
		span.RecordError(recordedErr)
		span.SetStatus(codes.Error, recordedErr.Error())
		return nil, recordedErr
	}

	state := lease.State()
	if state.Timezone == "" {
		state.Timezone = e.timezone.String()
	}

	response := e.handleTurn(ctx, state, rawText)

	if err := lease.Release(ctx); err != nil {
		recordedErr := fmt.Errorf("failed to release session %q: %w", sessionID, err)
		span.RecordError(recordedErr)
		span.SetStatus(codes.Error, recordedErr.Error())
	}

	span.SetAttributes(attribute.String("response.kind", string(response.Kind())))
	return response, nil
}

// Reset discards the session's pending state without calendar side
// effects.
func (e *Engine) Reset(ctx context.Context, sessionID string) error {
	return e.store.Reset(ctx, sessionID)
}

func (e *Engine) handleTurn(ctx context.Context, state *sessions.State, rawText string) responses.Response {
	now := e.clock()

	if e.gate.ExpireStale(state) {
		logger.InfoContext(ctx, "discarded expired pending mutation", "session", state.ID)
	}

	resolution, err := e.resolve(ctx, state, rawText)
	if err != nil {
		// Conversation state is untouched on resolution failure.
		logger.WarnContext(ctx, "intent resolution failed", "session", state.ID, "error", err)
		return responses.NewFailure(
			"Sorry, I couldn't make sense of that just now. Please try again.",
			responses.ReasonResolutionFailure,
		)
	}

	if resolution.Kind == intents.KindUnknown && !state.HasPending() {
		return responses.NewQuestion(
			"I can book, move, or cancel calendar events. What would you like to do?",
			"",
		)
	}

	state.AppendTurn(intents.RoleUser, rawText, now, e.historyLimit)

	var response responses.Response
	switch resolution.Kind {
	case intents.KindReset:
		state.ClearPending()
		response = responses.NewSuccess("Okay, I've dropped what we were working on. What next?", "")
	case intents.KindConfirm:
		response = e.handleConfirm(ctx, state)
	case intents.KindDecline:
		response = e.handleDecline(state)
	case intents.KindUnknown:
		response = e.handleUnknown(ctx, state, *resolution)
	default:
		response = e.handleIntent(ctx, state, *resolution)
	}

	state.AppendTurn(intents.RoleAssistant, response.Text(), now, e.historyLimit)
	return response
}

// resolve calls the intent resolver under a bounded timeout, handing it
// bounded history and a copy of the pending intent.
func (e *Engine) resolve(ctx context.Context, state *sessions.State, rawText string) (*intents.Resolution, error) {
	ctx, cancel := context.WithTimeout(ctx, e.resolverTimeout)
	defer cancel()

	history := state.History
	if len(history) > e.resolverHistory {
		history = history[len(history)-e.resolverHistory:]
	}
	bounded := make([]intents.Turn, 0, len(history))
	for _, turn := range history {
		bounded = append(bounded, intents.Turn{Role: turn.Role, Content: turn.Content})
	}

	var pending *intents.Intent
	if state.PendingIntent != nil {
		clone := intents.Intent{}
		if err := copier.CopyWithOption(&clone, state.PendingIntent, copier.Option{DeepCopy: true}); err != nil {
			return nil, fmt.Errorf("failed to copy pending intent: %w", err)
		}
		pending = &clone
	}

	resolution, err := e.resolver.Resolve(ctx, intents.Request{
		RawText:       rawText,
		History:       bounded,
		Pending:       pending,
		ReferenceTime: e.clock().In(e.location(state)),
		Timezone:      state.Timezone,
	})
	if err != nil {
		return nil, err
	}
	if resolution == nil {
		return nil, errors.New("resolver returned no resolution")
	}
	return resolution, nil
}

func (e *Engine) handleConfirm(ctx context.Context, state *sessions.State) responses.Response {
	mutation := state.PendingMutation
	if err := e.gate.Confirm(mutation); err != nil {
		return responses.NewQuestion(
			"There's nothing waiting for a go-ahead right now. What would you like to do?",
			"",
		)
	}

	// The time between proposal and confirmation can be long; re-check
	// against the live calendar before committing.
	if mutation.Operation != calendars.OperationDelete && mutation.Window != nil {
		outcome, err := e.conflicts.Resolve(ctx, *mutation.Window, e.excludeWindow(state))
		if err != nil {
			// Nothing was attempted against the calendar yet; the mutation
			// keeps its full retry budget.
			logger.ErrorContext(ctx, "pre-commit availability check failed",
				"session", state.ID,
				"error", err,
			)
			mutation.State = sessions.MutationAwaitingConfirmation
			return responses.NewFailure(
				"I couldn't re-check the calendar's availability, so nothing was changed. Confirm again to retry.",
				responses.ReasonGatewayFailure,
			)
		}
		if !outcome.Clear() {
			state.PendingMutation = nil
			state.Candidates = outcome.Candidates
			if outcome.NoAvailability() {
				return responses.NewFailure(
					"That time was taken while we were talking, and I couldn't find a free slot nearby. Try a different time or a wider window.",
					responses.ReasonCommitConflict,
				)
			}
			loc := e.location(state)
			return responses.NewChoiceQuestion(
				"That time was taken while we were talking. "+formatChoices(outcome.Candidates, loc),
				outcome.Candidates,
			).WithReason(responses.ReasonCommitConflict)
		}
	}

	return e.commit(ctx, state, mutation)
}

// commit issues exactly one gateway call; mutations are never retried
// automatically. Success is reported only on a positive acknowledgment.
func (e *Engine) commit(ctx context.Context, state *sessions.State, mutation *sessions.Mutation) responses.Response {
	ctx, cancel := context.WithTimeout(ctx, e.gatewayTimeout)
	defer cancel()

	loc := e.location(state)
	summary := mutationSummary(mutation)

	switch mutation.Operation {
	case calendars.OperationCreate:
		eventID, err := e.calendar.CreateEvent(ctx, calendars.EventSpec{
			Title:  mutation.Title,
			Window: mutation.Window.In(loc),
		})
		if err != nil {
			return e.commitFailed(ctx, state, mutation, err)
		}
		state.ClearPending()
		summary.EventID = eventID
		return responses.NewSuccess(
			fmt.Sprintf("Booked %q for %s.", mutation.Title, formatWindow(*mutation.Window, loc)),
			eventID,
		).WithSummary(summary)

	case calendars.OperationUpdate:
		window := mutation.Window.In(loc)
		err := e.calendar.UpdateEvent(ctx, mutation.TargetEventID, calendars.EventUpdate{Window: &window})
		if err != nil {
			return e.commitFailed(ctx, state, mutation, err)
		}
		state.ClearPending()
		return responses.NewSuccess(
			fmt.Sprintf("Moved %q to %s.", mutation.Title, formatWindow(*mutation.Window, loc)),
			mutation.TargetEventID,
		).WithSummary(summary)

	case calendars.OperationDelete:
		if err := e.calendar.DeleteEvent(ctx, mutation.TargetEventID); err != nil {
			return e.commitFailed(ctx, state, mutation, err)
		}
		state.ClearPending()
		return responses.NewSuccess(
			fmt.Sprintf("Cancelled %q.", mutation.Title),
			mutation.TargetEventID,
		).WithSummary(summary)
	}

	return responses.NewFailure("I don't know how to carry out that action.", responses.ReasonGatewayFailure)
}

// commitFailed keeps the mutation awaiting confirmation for exactly one
// retried confirmation; a second failure drops the mutation but keeps
// the filled intent so the user need not repeat themselves.
func (e *Engine) commitFailed(ctx context.Context, state *sessions.State, mutation *sessions.Mutation, err error) responses.Response {
	logger.ErrorContext(ctx, "calendar commit failed",
		"session", state.ID,
		"operation", string(mutation.Operation),
		"error", err,
	)

	mutation.CommitAttempts++
	if mutation.CommitAttempts >= 2 {
		state.PendingMutation = nil
		return responses.NewFailure(
			"The calendar still isn't responding, so I've set that request aside. Your details are kept; say when to try again.",
			responses.ReasonGatewayFailure,
		)
	}

	mutation.State = sessions.MutationAwaitingConfirmation
	return responses.NewFailure(
		"The calendar didn't accept that change. Nothing was booked; confirm once more to retry.",
		responses.ReasonGatewayFailure,
	)
}

func (e *Engine) handleDecline(state *sessions.State) responses.Response {
	mutation := state.PendingMutation
	if err := e.gate.Reject(mutation); err != nil {
		return responses.NewQuestion(
			"There's nothing pending to call off. What would you like to do?",
			"",
		)
	}

	// Filled intent fields survive so the user can adjust and retry.
	state.PendingMutation = nil
	state.ClearChoices()
	return responses.NewQuestion("Okay, I won't do that. What should I change?", "")
}

// handleUnknown re-surfaces whatever the engine is waiting on. The
// pending mutation is left untouched so idle chatter cannot refresh its
// confirmation deadline.
func (e *Engine) handleUnknown(ctx context.Context, state *sessions.State, resolution intents.Resolution) responses.Response {
	if mutation := state.PendingMutation; mutation != nil {
		return responses.NewConfirmation(
			"Sorry, I didn't catch that. "+confirmationPrompt(mutation, state, e.location(state)),
			mutationSummary(mutation),
		)
	}
	return e.handleIntent(ctx, state, resolution)
}

func (e *Engine) handleIntent(ctx context.Context, state *sessions.State, resolution intents.Resolution) responses.Response {
	// A new or adjusted request replaces any pending mutation outright;
	// mutations are never edited in place.
	if state.PendingMutation != nil {
		state.PendingMutation = nil
	}

	var previousKind intents.Kind
	if state.PendingIntent != nil {
		previousKind = state.PendingIntent.Kind
	}
	merged := intents.Merge(state.PendingIntent, resolution, e.confidenceThreshold)
	state.PendingIntent = &merged

	// Switching actions orphans the old target and any offered lists. A
	// stale target would be excluded from the conflict check and let an
	// overlapping booking through.
	if previousKind != "" && merged.Kind != previousKind {
		state.TargetEvent = nil
		state.EventChoices = nil
		state.Candidates = nil
	}

	// Fresh time or event details invalidate previously offered choices.
	if hasConfident(resolution, intents.FieldStartTime, e.confidenceThreshold) {
		state.Candidates = nil
	}
	if hasConfident(resolution, intents.FieldEventRef, e.confidenceThreshold) {
		state.EventChoices = nil
		state.TargetEvent = nil
	}

	if choice, ok := merged.Field(intents.FieldChoice); ok {
		delete(merged.Fields, intents.FieldChoice)
		if response := e.applyChoice(state, &merged, choice.Choice); response != nil {
			return response
		}
	}

	if !merged.Kind.Mutating() {
		return responses.NewQuestion(
			"I can book, move, or cancel calendar events. What would you like to do?",
			"",
		)
	}

	if merged.Kind == intents.KindReschedule || merged.Kind == intents.KindCancel {
		if response := e.resolveTarget(ctx, state, merged); response != nil {
			return response
		}
	}

	if slot, missing := NextMissingField(merged); missing {
		return responses.NewQuestion(slot.Question, string(slot.Field))
	}

	window, response := e.buildWindow(state, merged)
	if response != nil {
		return response
	}

	if merged.Kind != intents.KindCancel {
		outcome, err := e.conflicts.Resolve(ctx, *window, e.excludeWindow(state))
		if err != nil {
			return responses.NewFailure(
				"I couldn't check the calendar's availability. Please try again.",
				responses.ReasonGatewayFailure,
			)
		}
		if outcome.NoAvailability() {
			return responses.NewFailure(
				"That time is taken and I couldn't find a free slot within the next week. Try a different time or a wider window.",
				responses.ReasonNoAvailability,
			)
		}
		if !outcome.Clear() {
			state.Candidates = outcome.Candidates
			loc := e.location(state)
			return responses.NewChoiceQuestion(
				"That time is already taken. "+formatChoices(outcome.Candidates, loc),
				outcome.Candidates,
			)
		}
	}

	return e.propose(state, merged, window)
}

// applyChoice consumes a 1-based pick against whichever list is
// outstanding. Returns a re-prompt when the pick is out of range.
func (e *Engine) applyChoice(state *sessions.State, intent *intents.Intent, choice int) responses.Response {
	loc := e.location(state)

	if len(state.EventChoices) > 0 {
		if choice < 1 || choice > len(state.EventChoices) {
			return responses.NewDisambiguation(
				fmt.Sprintf("Please pick a number between 1 and %d.", len(state.EventChoices)),
				state.EventChoices,
			)
		}
		target := state.EventChoices[choice-1]
		state.TargetEvent = &target
		state.EventChoices = nil
		return nil
	}

	if len(state.Candidates) > 0 {
		if choice < 1 || choice > len(state.Candidates) {
			return responses.NewChoiceQuestion(
				fmt.Sprintf("Please pick a number between 1 and %d. %s", len(state.Candidates), formatChoices(state.Candidates, loc)),
				state.Candidates,
			)
		}
		window := state.Candidates[choice-1]
		intent.Fields[intents.FieldStartTime] = intents.Value{Time: &window.Start, Confidence: 1}
		intent.Fields[intents.FieldEndTime] = intents.Value{Time: &window.End, Confidence: 1}
		state.Candidates = nil
		return nil
	}

	return nil
}

// resolveTarget pins down which event a reschedule/cancel refers to,
// emitting a disambiguation question when the reference matches zero or
// several events.
func (e *Engine) resolveTarget(ctx context.Context, state *sessions.State, intent intents.Intent) responses.Response {
	if state.TargetEvent != nil {
		return nil
	}

	if len(state.EventChoices) > 0 {
		// Still waiting for a pick.
		return responses.NewDisambiguation(
			fmt.Sprintf("I found %d matching events. Which one do you mean?", len(state.EventChoices)),
			state.EventChoices,
		)
	}

	ref, ok := intent.Field(intents.FieldEventRef)
	if !ok {
		// Slot filling will ask for the reference.
		return nil
	}

	matches, err := e.findEvent(ctx, ref.Text, searchWindowFor(intent))
	if err != nil {
		return responses.NewFailure(
			"I couldn't look that event up. Please try again.",
			responses.ReasonGatewayFailure,
		)
	}

	switch len(matches) {
	case 0:
		return responses.NewDisambiguation(
			fmt.Sprintf("I couldn't find an event matching %q. Could you describe it differently?", ref.Text),
			nil,
		)
	case 1:
		state.TargetEvent = &matches[0]
		return nil
	default:
		state.EventChoices = matches
		return responses.NewDisambiguation(
			fmt.Sprintf("I found %d matching events. Which one do you mean?", len(matches)),
			matches,
		)
	}
}

// searchWindowFor narrows an event lookup to the vicinity of a stated
// start time. The slack is a full horizon on either side: on a
// reschedule the stated time is the destination, which can sit days
// away from the event's current slot.
func searchWindowFor(intent intents.Intent) *calendars.TimeWindow {
	start, ok := intent.Field(intents.FieldStartTime)
	if !ok || start.Time == nil {
		return nil
	}
	return &calendars.TimeWindow{
		Start: start.Time.Add(-defaultSearchHorizon),
		End:   start.Time.Add(defaultSearchHorizon),
	}
}

// findEvent retries the read-only lookup a small bounded number of
// times.
func (e *Engine) findEvent(ctx context.Context, query string, window *calendars.TimeWindow) ([]calendars.Event, error) {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, e.gatewayTimeout)
		matches, err := e.calendar.FindEvent(callCtx, query, window)
		cancel()
		if err == nil {
			return matches, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// buildWindow assembles the session-timezone window from the filled
// intent. Cancel intents have no window.
func (e *Engine) buildWindow(state *sessions.State, intent intents.Intent) (*calendars.TimeWindow, responses.Response) {
	if intent.Kind == intents.KindCancel {
		return nil, nil
	}

	loc := e.location(state)
	start, _ := intent.Field(intents.FieldStartTime)
	if start.Time == nil {
		return nil, responses.NewQuestion("When should it start?", string(intents.FieldStartTime))
	}
	startAt := start.Time.In(loc)

	var endAt time.Time
	if end, ok := intent.Field(intents.FieldEndTime); ok && end.Time != nil {
		endAt = end.Time.In(loc)
	} else if duration, ok := intent.Field(intents.FieldDuration); ok && duration.Duration != nil {
		endAt = startAt.Add(*duration.Duration)
	}

	window, err := calendars.NewTimeWindow(startAt, endAt)
	if err != nil {
		delete(intent.Fields, intents.FieldEndTime)
		delete(intent.Fields, intents.FieldDuration)
		return nil, responses.NewQuestion(
			"That end time is before the start. How long should it be?",
			string(intents.FieldDuration),
		)
	}
	return &window, nil
}

// propose runs the fully resolved action through the confirmation gate
// and surfaces the confirmation prompt.
func (e *Engine) propose(state *sessions.State, intent intents.Intent, window *calendars.TimeWindow) responses.Response {
	loc := e.location(state)

	var mutation *sessions.Mutation
	switch intent.Kind {
	case intents.KindCreate:
		title, _ := intent.Field(intents.FieldTitle)
		mutation = e.gate.Propose(calendars.OperationCreate, "", title.Text, window)
	case intents.KindReschedule:
		mutation = e.gate.Propose(calendars.OperationUpdate, state.TargetEvent.ID, state.TargetEvent.Title, window)
	case intents.KindCancel:
		mutation = e.gate.Propose(calendars.OperationDelete, state.TargetEvent.ID, state.TargetEvent.Title, nil)
	}

	state.PendingMutation = mutation
	return responses.NewConfirmation(confirmationPrompt(mutation, state, loc), mutationSummary(mutation))
}

func (e *Engine) excludeWindow(state *sessions.State) *calendars.TimeWindow {
	if state.TargetEvent == nil {
		return nil
	}
	window := state.TargetEvent.Window
	return &window
}

func (e *Engine) location(state *sessions.State) *time.Location {
	if state.Timezone != "" {
		if loc, err := time.LoadLocation(state.Timezone); err == nil {
			return loc
		}
	}
	return e.timezone
}

func hasConfident(resolution intents.Resolution, field intents.Field, threshold float64) bool {
	value, ok := resolution.Fields[field]
	return ok && value.Confidence >= threshold
}

func mutationSummary(mutation *sessions.Mutation) responses.Summary {
	return responses.Summary{
		Operation: mutation.Operation,
		Title:     mutation.Title,
		EventID:   mutation.TargetEventID,
		Window:    mutation.Window,
	}
}

func confirmationPrompt(mutation *sessions.Mutation, state *sessions.State, loc *time.Location) string {
	switch mutation.Operation {
	case calendars.OperationCreate:
		return fmt.Sprintf("Book %q for %s?", mutation.Title, formatWindow(*mutation.Window, loc))
	case calendars.OperationUpdate:
		return fmt.Sprintf("Move %q to %s?", mutation.Title, formatWindow(*mutation.Window, loc))
	default:
		when := ""
		if state.TargetEvent != nil {
			when = " on " + state.TargetEvent.Window.Start.In(loc).Format("Mon, Jan 2")
		}
		return fmt.Sprintf("Cancel %q%s?", mutation.Title, when)
	}
}

func formatWindow(window calendars.TimeWindow, loc *time.Location) string {
	w := window.In(loc)
	return fmt.Sprintf("%s from %s to %s",
		w.Start.Format("Mon, Jan 2"),
		w.Start.Format("15:04"),
		w.End.Format("15:04"),
	)
}

func formatChoices(choices []calendars.TimeWindow, loc *time.Location) string {
	out := "Here's what's free:"
	for i, choice := range choices {
		out += fmt.Sprintf(" %d) %s", i+1, formatWindow(choice, loc))
	}
	return out
}
