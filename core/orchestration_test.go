package orchestration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/koscakluka/booking-core/core/calendars"
	"github.com/koscakluka/booking-core/core/intents"
	"github.com/koscakluka/booking-core/core/responses"
	"github.com/koscakluka/booking-core/internal/utils"
)

type resolverStub struct {
	resolutions []intents.Resolution
	err         error
	requests    []intents.Request
}

func (s *resolverStub) Resolve(ctx context.Context, req intents.Request) (*intents.Resolution, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	if len(s.resolutions) == 0 {
		return &intents.Resolution{Kind: intents.KindUnknown}, nil
	}
	next := s.resolutions[0]
	s.resolutions = s.resolutions[1:]
	return &next, nil
}

func (s *resolverStub) script(resolutions ...intents.Resolution) {
	s.resolutions = append(s.resolutions, resolutions...)
}

type gatewayStub struct {
	busy        []calendars.TimeWindow
	busyErr     error
	matches     []calendars.Event
	findErr     error
	findWindows []*calendars.TimeWindow

	created   []calendars.EventSpec
	updated   map[string]calendars.EventUpdate
	deleted   []string
	createErr error
	updateErr error
	deleteErr error

	mutations int
}

func newGatewayStub() *gatewayStub {
	return &gatewayStub{updated: map[string]calendars.EventUpdate{}}
}

func (s *gatewayStub) FindBusySlots(ctx context.Context, window calendars.TimeWindow) ([]calendars.TimeWindow, error) {
	if s.busyErr != nil {
		return nil, s.busyErr
	}
	return s.busy, nil
}

func (s *gatewayStub) FindEvent(ctx context.Context, query string, window *calendars.TimeWindow) ([]calendars.Event, error) {
	s.findWindows = append(s.findWindows, window)
	if s.findErr != nil {
		return nil, s.findErr
	}
	return s.matches, nil
}

func (s *gatewayStub) CreateEvent(ctx context.Context, spec calendars.EventSpec) (string, error) {
	s.mutations++
	if s.createErr != nil {
		return "", s.createErr
	}
	s.created = append(s.created, spec)
	return "evt-created", nil
}

func (s *gatewayStub) UpdateEvent(ctx context.Context, eventID string, update calendars.EventUpdate) error {
	s.mutations++
	if s.updateErr != nil {
		return s.updateErr
	}
	s.updated[eventID] = update
	return nil
}

func (s *gatewayStub) DeleteEvent(ctx context.Context, eventID string) error {
	s.mutations++
	if s.deleteErr != nil {
		return s.deleteErr
	}
	s.deleted = append(s.deleted, eventID)
	return nil
}

type engineFixture struct {
	engine   *Engine
	resolver *resolverStub
	gateway  *gatewayStub
	now      time.Time
}

func newEngineFixture(t *testing.T, opts ...EngineOption) *engineFixture {
	t.Helper()
	f := &engineFixture{
		resolver: &resolverStub{},
		gateway:  newGatewayStub(),
		now:      time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC),
	}
	options := append([]EngineOption{
		WithIntentResolver(f.resolver),
		WithCalendarGateway(f.gateway),
		WithClock(func() time.Time { return f.now }),
		WithTimezone(time.UTC),
	}, opts...)
	f.engine = NewEngine(options...)
	return f
}

func (f *engineFixture) handle(t *testing.T, text string) responses.Response {
	t.Helper()
	response, err := f.engine.HandleUtterance(context.Background(), "session-1", text)
	if err != nil {
		t.Fatalf("expected utterance to be handled, got %v", err)
	}
	return response
}

func createResolution(title string, start time.Time, duration time.Duration) intents.Resolution {
	return intents.Resolution{
		Kind: intents.KindCreate,
		Fields: map[intents.Field]intents.Value{
			intents.FieldTitle:     {Text: title, Confidence: 0.9},
			intents.FieldStartTime: {Time: utils.Ptr(start), Confidence: 0.9},
			intents.FieldDuration:  {Duration: utils.Ptr(duration), Confidence: 0.9},
		},
	}
}

func choiceResolution(choice int) intents.Resolution {
	return intents.Resolution{
		Kind: intents.KindClarify,
		Fields: map[intents.Field]intents.Value{
			intents.FieldChoice: {Choice: choice, Confidence: 0.9},
		},
	}
}

func TestFullySpecifiedCreateFlowsStraightToConfirmationAndCommit(t *testing.T) {
	f := newEngineFixture(t)
	start := time.Date(2026, 7, 2, 15, 0, 0, 0, time.UTC)
	f.resolver.script(
		createResolution("Project Sync", start, time.Hour),
		intents.Resolution{Kind: intents.KindConfirm},
	)

	response := f.handle(t, "Book a meeting tomorrow at 3pm for 1 hour titled Project Sync")

	confirmation, ok := response.(responses.Confirmation)
	if !ok {
		t.Fatalf("expected a confirmation, got %q", response.Kind())
	}
	if confirmation.Summary.Operation != calendars.OperationCreate {
		t.Fatalf("expected a create summary, got %q", confirmation.Summary.Operation)
	}
	if confirmation.Summary.Window == nil || !confirmation.Summary.Window.Start.Equal(start) {
		t.Fatalf("expected the requested window in the summary")
	}
	if f.gateway.mutations != 0 {
		t.Fatalf("expected no gateway mutation before confirmation")
	}

	response = f.handle(t, "yes")

	success, ok := response.(responses.Success)
	if !ok {
		t.Fatalf("expected success after confirmation, got %q", response.Kind())
	}
	if success.EventID != "evt-created" {
		t.Fatalf("expected the created event id, got %q", success.EventID)
	}
	if len(f.gateway.created) != 1 {
		t.Fatalf("expected exactly one create call, got %d", len(f.gateway.created))
	}
	created := f.gateway.created[0]
	if created.Title != "Project Sync" {
		t.Fatalf("expected the confirmed title, got %q", created.Title)
	}
	if !created.Window.Start.Equal(start) || !created.Window.End.Equal(start.Add(time.Hour)) {
		t.Fatalf("expected window [15:00,16:00), got [%s,%s)", created.Window.Start, created.Window.End)
	}
}

func TestConflictOffersCandidatesAndUserPicksOne(t *testing.T) {
	f := newEngineFixture(t)
	start := time.Date(2026, 7, 2, 15, 0, 0, 0, time.UTC)
	f.gateway.busy = []calendars.TimeWindow{
		{Start: start.Add(30 * time.Minute), End: start.Add(90 * time.Minute)},
	}
	f.resolver.script(
		createResolution("Project Sync", start, time.Hour),
		choiceResolution(1),
	)

	response := f.handle(t, "Book Project Sync tomorrow at 3pm for an hour")

	question, ok := response.(responses.Question)
	if !ok {
		t.Fatalf("expected a choice question, got %q", response.Kind())
	}
	if len(question.Choices) != 3 {
		t.Fatalf("expected 3 candidates, got %d", len(question.Choices))
	}
	firstChoice := question.Choices[0]
	if !firstChoice.Start.Equal(start.Add(90 * time.Minute)) {
		t.Fatalf("expected first candidate at 16:30, got %s", firstChoice.Start)
	}
	for _, choice := range question.Choices {
		if choice.Overlaps(f.gateway.busy[0]) {
			t.Fatalf("expected no candidate to overlap the busy slot")
		}
	}

	response = f.handle(t, "the first one")

	confirmation, ok := response.(responses.Confirmation)
	if !ok {
		t.Fatalf("expected a confirmation after the pick, got %q", response.Kind())
	}
	if confirmation.Summary.Window == nil || !confirmation.Summary.Window.Start.Equal(firstChoice.Start) {
		t.Fatalf("expected the picked window in the summary")
	}
	if f.gateway.mutations != 0 {
		t.Fatalf("expected no gateway mutation before confirmation")
	}
}

func TestAmbiguousCancelAsksForDisambiguation(t *testing.T) {
	f := newEngineFixture(t)
	first := calendars.Event{
		ID: "evt-1", Title: "Project Sync",
		Window: calendars.TimeWindow{
			Start: time.Date(2026, 7, 6, 15, 0, 0, 0, time.UTC),
			End:   time.Date(2026, 7, 6, 16, 0, 0, 0, time.UTC),
		},
	}
	second := calendars.Event{
		ID: "evt-2", Title: "Project Sync",
		Window: calendars.TimeWindow{
			Start: time.Date(2026, 7, 8, 15, 0, 0, 0, time.UTC),
			End:   time.Date(2026, 7, 8, 16, 0, 0, 0, time.UTC),
		},
	}
	f.gateway.matches = []calendars.Event{first, second}
	f.resolver.script(
		intents.Resolution{
			Kind: intents.KindCancel,
			Fields: map[intents.Field]intents.Value{
				intents.FieldEventRef: {Text: "Project Sync next week", Confidence: 0.9},
			},
		},
		choiceResolution(2),
		intents.Resolution{Kind: intents.KindConfirm},
	)

	response := f.handle(t, "Cancel my Project Sync meeting next week")

	disambiguation, ok := response.(responses.Disambiguation)
	if !ok {
		t.Fatalf("expected disambiguation, got %q", response.Kind())
	}
	if len(disambiguation.Candidates) != 2 {
		t.Fatalf("expected both matches to be listed, got %d", len(disambiguation.Candidates))
	}

	response = f.handle(t, "the second one")

	confirmation, ok := response.(responses.Confirmation)
	if !ok {
		t.Fatalf("expected a confirmation, got %q", response.Kind())
	}
	if confirmation.Summary.Operation != calendars.OperationDelete {
		t.Fatalf("expected a delete summary, got %q", confirmation.Summary.Operation)
	}
	if confirmation.Summary.EventID != "evt-2" {
		t.Fatalf("expected the picked event id, got %q", confirmation.Summary.EventID)
	}
	if f.gateway.mutations != 0 {
		t.Fatalf("expected no gateway mutation before confirmation")
	}

	response = f.handle(t, "yes")

	if _, ok := response.(responses.Success); !ok {
		t.Fatalf("expected success after confirmation, got %q", response.Kind())
	}
	if len(f.gateway.deleted) != 1 || f.gateway.deleted[0] != "evt-2" {
		t.Fatalf("expected exactly evt-2 to be deleted, got %v", f.gateway.deleted)
	}
}

func TestExpiredConfirmationIsTreatedAsFreshRequest(t *testing.T) {
	f := newEngineFixture(t)
	start := time.Date(2026, 7, 2, 15, 0, 0, 0, time.UTC)
	f.resolver.script(
		createResolution("Project Sync", start, time.Hour),
		intents.Resolution{Kind: intents.KindConfirm},
	)

	response := f.handle(t, "Book Project Sync tomorrow at 3pm for an hour")
	if _, ok := response.(responses.Confirmation); !ok {
		t.Fatalf("expected a confirmation, got %q", response.Kind())
	}

	f.now = f.now.Add(11 * time.Minute)

	response = f.handle(t, "yes")

	if _, ok := response.(responses.Question); !ok {
		t.Fatalf("expected the stale confirmation to be dropped, got %q", response.Kind())
	}
	if f.gateway.mutations != 0 {
		t.Fatalf("expected no gateway mutation from a stale confirmation")
	}
}

func TestRejectionPreservesIntentAndIssuesNoGatewayCalls(t *testing.T) {
	f := newEngineFixture(t)
	start := time.Date(2026, 7, 2, 15, 0, 0, 0, time.UTC)
	f.resolver.script(
		createResolution("Project Sync", start, time.Hour),
		intents.Resolution{Kind: intents.KindDecline},
		intents.Resolution{
			Kind: intents.KindClarify,
			Fields: map[intents.Field]intents.Value{
				intents.FieldStartTime: {Time: utils.Ptr(start.Add(2 * time.Hour)), Confidence: 0.9},
			},
		},
	)

	f.handle(t, "Book Project Sync tomorrow at 3pm for an hour")
	response := f.handle(t, "no, wait")

	if _, ok := response.(responses.Question); !ok {
		t.Fatalf("expected a follow-up question after rejection, got %q", response.Kind())
	}
	if f.gateway.mutations != 0 {
		t.Fatalf("expected rejection to issue no gateway calls")
	}

	// Previously filled fields survive: adjusting only the time must
	// yield a full confirmation again without re-asking for the title.
	response = f.handle(t, "make it 5pm instead")

	confirmation, ok := response.(responses.Confirmation)
	if !ok {
		t.Fatalf("expected a confirmation after adjusting, got %q", response.Kind())
	}
	if confirmation.Summary.Title != "Project Sync" {
		t.Fatalf("expected the preserved title, got %q", confirmation.Summary.Title)
	}
	if confirmation.Summary.Window == nil || !confirmation.Summary.Window.Start.Equal(start.Add(2*time.Hour)) {
		t.Fatalf("expected the adjusted start time")
	}
}

func TestSlotFillingAsksForMissingFieldsInOrder(t *testing.T) {
	f := newEngineFixture(t)
	start := time.Date(2026, 7, 2, 15, 0, 0, 0, time.UTC)
	f.resolver.script(
		intents.Resolution{Kind: intents.KindCreate, Fields: map[intents.Field]intents.Value{}},
		intents.Resolution{
			Kind: intents.KindClarify,
			Fields: map[intents.Field]intents.Value{
				intents.FieldTitle: {Text: "Project Sync", Confidence: 0.9},
			},
		},
		intents.Resolution{
			Kind: intents.KindClarify,
			Fields: map[intents.Field]intents.Value{
				intents.FieldStartTime: {Time: utils.Ptr(start), Confidence: 0.9},
			},
		},
		intents.Resolution{
			Kind: intents.KindClarify,
			Fields: map[intents.Field]intents.Value{
				intents.FieldDuration: {Duration: utils.Ptr(time.Hour), Confidence: 0.9},
			},
		},
	)

	expectedFields := []intents.Field{intents.FieldTitle, intents.FieldStartTime, intents.FieldDuration}
	utterances := []string{"book something", "call it Project Sync", "tomorrow at 3pm"}
	for i, utterance := range utterances {
		response := f.handle(t, utterance)
		question, ok := response.(responses.Question)
		if !ok {
			t.Fatalf("expected a question for %q, got %q", utterance, response.Kind())
		}
		if question.ExpectedField != string(expectedFields[i]) {
			t.Fatalf("expected question for %q, got %q", expectedFields[i], question.ExpectedField)
		}
	}

	response := f.handle(t, "an hour")
	if _, ok := response.(responses.Confirmation); !ok {
		t.Fatalf("expected a confirmation once complete, got %q", response.Kind())
	}
}

func TestResolverFailureLeavesStateUntouched(t *testing.T) {
	f := newEngineFixture(t)
	start := time.Date(2026, 7, 2, 15, 0, 0, 0, time.UTC)
	f.resolver.script(createResolution("Project Sync", start, time.Hour))

	f.handle(t, "Book Project Sync tomorrow at 3pm for an hour")

	f.resolver.err = errors.New("resolver unreachable")
	response := f.handle(t, "yes")

	failure, ok := response.(responses.Failure)
	if !ok {
		t.Fatalf("expected a failure, got %q", response.Kind())
	}
	if failure.Reason != responses.ReasonResolutionFailure {
		t.Fatalf("expected a resolution failure reason, got %q", failure.Reason)
	}

	// The pending confirmation must still be live once the resolver
	// recovers.
	f.resolver.err = nil
	f.resolver.script(intents.Resolution{Kind: intents.KindConfirm})
	response = f.handle(t, "yes")

	if _, ok := response.(responses.Success); !ok {
		t.Fatalf("expected the preserved confirmation to commit, got %q", response.Kind())
	}
}

func TestCommitTimeConflictAbortsAndReoffersCandidates(t *testing.T) {
	f := newEngineFixture(t)
	start := time.Date(2026, 7, 2, 15, 0, 0, 0, time.UTC)
	f.resolver.script(
		createResolution("Project Sync", start, time.Hour),
		intents.Resolution{Kind: intents.KindConfirm},
	)

	f.handle(t, "Book Project Sync tomorrow at 3pm for an hour")

	// Someone else books the slot between proposal and confirmation.
	f.gateway.busy = []calendars.TimeWindow{{Start: start, End: start.Add(time.Hour)}}

	response := f.handle(t, "yes")

	question, ok := response.(responses.Question)
	if !ok {
		t.Fatalf("expected fresh alternatives, got %q", response.Kind())
	}
	if question.Reason != responses.ReasonCommitConflict {
		t.Fatalf("expected a commit conflict reason, got %q", question.Reason)
	}
	if len(question.Choices) == 0 {
		t.Fatalf("expected regenerated candidates")
	}
	if f.gateway.mutations != 0 {
		t.Fatalf("expected the commit to be aborted, got %d mutations", f.gateway.mutations)
	}
}

func TestGatewayFailureKeepsMutationForOneRetry(t *testing.T) {
	f := newEngineFixture(t)
	start := time.Date(2026, 7, 2, 15, 0, 0, 0, time.UTC)
	f.resolver.script(
		createResolution("Project Sync", start, time.Hour),
		intents.Resolution{Kind: intents.KindConfirm},
		intents.Resolution{Kind: intents.KindConfirm},
	)

	f.handle(t, "Book Project Sync tomorrow at 3pm for an hour")

	f.gateway.createErr = errors.New("calendar down")
	response := f.handle(t, "yes")

	failure, ok := response.(responses.Failure)
	if !ok {
		t.Fatalf("expected a failure, got %q", response.Kind())
	}
	if failure.Reason != responses.ReasonGatewayFailure {
		t.Fatalf("expected a gateway failure reason, got %q", failure.Reason)
	}

	// One retried confirmation commits once the calendar recovers.
	f.gateway.createErr = nil
	response = f.handle(t, "yes")

	if _, ok := response.(responses.Success); !ok {
		t.Fatalf("expected the retried confirmation to commit, got %q", response.Kind())
	}
	if len(f.gateway.created) != 1 {
		t.Fatalf("expected exactly one successful create, got %d", len(f.gateway.created))
	}
}

func TestUnknownUtteranceWithoutPendingStateAsksWhatToDo(t *testing.T) {
	f := newEngineFixture(t)
	f.resolver.script(intents.Resolution{Kind: intents.KindUnknown})

	response := f.handle(t, "the weather is nice")

	if _, ok := response.(responses.Question); !ok {
		t.Fatalf("expected a clarification question, got %q", response.Kind())
	}
}

func TestRescheduleExcludesOwnSlotFromConflictCheck(t *testing.T) {
	f := newEngineFixture(t)
	ownWindow := calendars.TimeWindow{
		Start: time.Date(2026, 7, 6, 15, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 7, 6, 16, 0, 0, 0, time.UTC),
	}
	f.gateway.matches = []calendars.Event{{ID: "evt-1", Title: "Standup", Window: ownWindow}}
	f.gateway.busy = []calendars.TimeWindow{ownWindow}

	newStart := ownWindow.Start.Add(30 * time.Minute)
	f.resolver.script(
		intents.Resolution{
			Kind: intents.KindReschedule,
			Fields: map[intents.Field]intents.Value{
				intents.FieldEventRef:  {Text: "standup", Confidence: 0.9},
				intents.FieldStartTime: {Time: utils.Ptr(newStart), Confidence: 0.9},
				intents.FieldDuration:  {Duration: utils.Ptr(time.Hour), Confidence: 0.9},
			},
		},
		intents.Resolution{Kind: intents.KindConfirm},
	)

	response := f.handle(t, "move standup to 3:30")

	confirmation, ok := response.(responses.Confirmation)
	if !ok {
		t.Fatalf("expected a confirmation despite the event's own busy slot, got %q", response.Kind())
	}
	if confirmation.Summary.Operation != calendars.OperationUpdate {
		t.Fatalf("expected an update summary, got %q", confirmation.Summary.Operation)
	}

	response = f.handle(t, "yes")
	if _, ok := response.(responses.Success); !ok {
		t.Fatalf("expected success, got %q", response.Kind())
	}
	update, ok := f.gateway.updated["evt-1"]
	if !ok {
		t.Fatalf("expected evt-1 to be updated")
	}
	if update.Window == nil || !update.Window.Start.Equal(newStart) {
		t.Fatalf("expected the new window on the update")
	}
}

func TestEventLookupIsNarrowedByAStatedStartTime(t *testing.T) {
	f := newEngineFixture(t)
	start := time.Date(2026, 7, 6, 15, 0, 0, 0, time.UTC)
	f.gateway.matches = []calendars.Event{{
		ID: "evt-1", Title: "Standup",
		Window: calendars.TimeWindow{Start: start, End: start.Add(time.Hour)},
	}}
	f.resolver.script(
		intents.Resolution{
			Kind: intents.KindCancel,
			Fields: map[intents.Field]intents.Value{
				intents.FieldEventRef:  {Text: "standup", Confidence: 0.9},
				intents.FieldStartTime: {Time: utils.Ptr(start), Confidence: 0.9},
			},
		},
	)

	f.handle(t, "cancel my standup at 3pm")

	if len(f.gateway.findWindows) != 1 {
		t.Fatalf("expected one event lookup, got %d", len(f.gateway.findWindows))
	}
	window := f.gateway.findWindows[0]
	if window == nil {
		t.Fatalf("expected the lookup to be narrowed by the stated time")
	}
	if start.Before(window.Start) || start.After(window.End) {
		t.Fatalf("expected the stated time inside the search window [%s,%s)", window.Start, window.End)
	}
}

func TestEventLookupWithoutAStatedTimeIsUnbounded(t *testing.T) {
	f := newEngineFixture(t)
	f.gateway.matches = []calendars.Event{{
		ID: "evt-1", Title: "Standup",
		Window: calendars.TimeWindow{
			Start: time.Date(2026, 7, 6, 15, 0, 0, 0, time.UTC),
			End:   time.Date(2026, 7, 6, 16, 0, 0, 0, time.UTC),
		},
	}}
	f.resolver.script(
		intents.Resolution{
			Kind: intents.KindCancel,
			Fields: map[intents.Field]intents.Value{
				intents.FieldEventRef: {Text: "standup", Confidence: 0.9},
			},
		},
	)

	f.handle(t, "cancel my standup")

	if len(f.gateway.findWindows) != 1 {
		t.Fatalf("expected one event lookup, got %d", len(f.gateway.findWindows))
	}
	if f.gateway.findWindows[0] != nil {
		t.Fatalf("expected an unbounded lookup without a stated time")
	}
}

func TestSwitchingFromRescheduleToCreateDropsTheOldTarget(t *testing.T) {
	f := newEngineFixture(t)
	busyWindow := calendars.TimeWindow{
		Start: time.Date(2026, 7, 6, 12, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 7, 6, 13, 0, 0, 0, time.UTC),
	}
	f.gateway.matches = []calendars.Event{{ID: "evt-1", Title: "Standup", Window: busyWindow}}
	f.gateway.busy = []calendars.TimeWindow{busyWindow}

	f.resolver.script(
		intents.Resolution{
			Kind: intents.KindReschedule,
			Fields: map[intents.Field]intents.Value{
				intents.FieldEventRef:  {Text: "standup", Confidence: 0.9},
				intents.FieldStartTime: {Time: utils.Ptr(busyWindow.Start.Add(2 * time.Hour)), Confidence: 0.9},
				intents.FieldDuration:  {Duration: utils.Ptr(time.Hour), Confidence: 0.9},
			},
		},
		intents.Resolution{Kind: intents.KindDecline},
		createResolution("Lunch", busyWindow.Start, time.Hour),
	)

	f.handle(t, "move standup to 2pm")
	f.handle(t, "no, leave it")

	// The new create overlaps the abandoned target's slot; it must
	// conflict rather than ride on the exclusion granted to the
	// reschedule.
	response := f.handle(t, "book Lunch at noon instead")

	question, ok := response.(responses.Question)
	if !ok {
		t.Fatalf("expected a conflict question, got %q", response.Kind())
	}
	if len(question.Choices) == 0 {
		t.Fatalf("expected alternatives for the busy window")
	}
	for _, choice := range question.Choices {
		if choice.Overlaps(busyWindow) {
			t.Fatalf("expected no candidate to overlap the busy slot")
		}
	}
	if f.gateway.mutations != 0 {
		t.Fatalf("expected no gateway mutation, got %d", f.gateway.mutations)
	}
}

func TestIdleChatterDoesNotRefreshTheConfirmationDeadline(t *testing.T) {
	f := newEngineFixture(t)
	start := time.Date(2026, 7, 2, 15, 0, 0, 0, time.UTC)
	f.resolver.script(
		createResolution("Project Sync", start, time.Hour),
		intents.Resolution{Kind: intents.KindUnknown},
		intents.Resolution{Kind: intents.KindConfirm},
	)

	f.handle(t, "Book Project Sync tomorrow at 3pm for an hour")

	f.now = f.now.Add(6 * time.Minute)
	response := f.handle(t, "hmm, let me think")

	if _, ok := response.(responses.Confirmation); !ok {
		t.Fatalf("expected the pending confirmation to be re-surfaced, got %q", response.Kind())
	}

	// 11 minutes after the proposal the deadline must have passed even
	// though the session saw chatter in between.
	f.now = f.now.Add(5 * time.Minute)
	response = f.handle(t, "yes")

	if _, ok := response.(responses.Question); !ok {
		t.Fatalf("expected the original deadline to stand, got %q", response.Kind())
	}
	if f.gateway.mutations != 0 {
		t.Fatalf("expected no gateway mutation after expiry, got %d", f.gateway.mutations)
	}
}

func TestBusyRecheckFailureLeavesTheRetryBudgetIntact(t *testing.T) {
	f := newEngineFixture(t, WithConflictOptions(WithReadRetries(0, 0)))
	start := time.Date(2026, 7, 2, 15, 0, 0, 0, time.UTC)
	f.resolver.script(
		createResolution("Project Sync", start, time.Hour),
		intents.Resolution{Kind: intents.KindConfirm},
		intents.Resolution{Kind: intents.KindConfirm},
		intents.Resolution{Kind: intents.KindConfirm},
	)

	f.handle(t, "Book Project Sync tomorrow at 3pm for an hour")

	f.gateway.busyErr = errors.New("freebusy down")
	response := f.handle(t, "yes")

	failure, ok := response.(responses.Failure)
	if !ok {
		t.Fatalf("expected a failure, got %q", response.Kind())
	}
	if failure.Reason != responses.ReasonGatewayFailure {
		t.Fatalf("expected a gateway failure reason, got %q", failure.Reason)
	}
	if f.gateway.mutations != 0 {
		t.Fatalf("expected no mutation attempt on a failed availability check, got %d", f.gateway.mutations)
	}

	// The read-side failure must not have burned the commit retry: one
	// real commit failure is still survivable.
	f.gateway.busyErr = nil
	f.gateway.createErr = errors.New("calendar down")
	response = f.handle(t, "yes")
	if _, ok := response.(responses.Failure); !ok {
		t.Fatalf("expected a failure on the failed commit, got %q", response.Kind())
	}

	f.gateway.createErr = nil
	response = f.handle(t, "yes")
	if _, ok := response.(responses.Success); !ok {
		t.Fatalf("expected the retried confirmation to commit, got %q", response.Kind())
	}
	if len(f.gateway.created) != 1 {
		t.Fatalf("expected exactly one successful create, got %d", len(f.gateway.created))
	}
}

func TestResetDiscardsPendingStateWithoutSideEffects(t *testing.T) {
	f := newEngineFixture(t)
	start := time.Date(2026, 7, 2, 15, 0, 0, 0, time.UTC)
	f.resolver.script(
		createResolution("Project Sync", start, time.Hour),
		intents.Resolution{Kind: intents.KindReset},
		intents.Resolution{Kind: intents.KindConfirm},
	)

	f.handle(t, "Book Project Sync tomorrow at 3pm for an hour")
	f.handle(t, "actually never mind, start over")

	response := f.handle(t, "yes")
	if _, ok := response.(responses.Question); !ok {
		t.Fatalf("expected nothing to confirm after a reset, got %q", response.Kind())
	}
	if f.gateway.mutations != 0 {
		t.Fatalf("expected reset to issue no gateway calls")
	}
}
