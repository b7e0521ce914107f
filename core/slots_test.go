package orchestration

import (
	"testing"
	"time"

	"github.com/koscakluka/booking-core/core/intents"
	"github.com/koscakluka/booking-core/internal/utils"
)

func TestNextMissingFieldFollowsDeclaredOrder(t *testing.T) {
	start := time.Date(2026, 7, 2, 15, 0, 0, 0, time.UTC)

	testCases := []struct {
		name     string
		intent   intents.Intent
		expected intents.Field
		complete bool
	}{
		{
			name:     "create with nothing asks for title first",
			intent:   intents.Intent{Kind: intents.KindCreate, Fields: map[intents.Field]intents.Value{}},
			expected: intents.FieldTitle,
		},
		{
			name: "create with title asks for start",
			intent: intents.Intent{Kind: intents.KindCreate, Fields: map[intents.Field]intents.Value{
				intents.FieldTitle: {Text: "Project Sync"},
			}},
			expected: intents.FieldStartTime,
		},
		{
			name: "create with title and start asks for duration",
			intent: intents.Intent{Kind: intents.KindCreate, Fields: map[intents.Field]intents.Value{
				intents.FieldTitle:     {Text: "Project Sync"},
				intents.FieldStartTime: {Time: utils.Ptr(start)},
			}},
			expected: intents.FieldDuration,
		},
		{
			name: "end time satisfies the duration slot",
			intent: intents.Intent{Kind: intents.KindCreate, Fields: map[intents.Field]intents.Value{
				intents.FieldTitle:     {Text: "Project Sync"},
				intents.FieldStartTime: {Time: utils.Ptr(start)},
				intents.FieldEndTime:   {Time: utils.Ptr(start.Add(time.Hour))},
			}},
			complete: true,
		},
		{
			name:     "reschedule asks for the event first",
			intent:   intents.Intent{Kind: intents.KindReschedule, Fields: map[intents.Field]intents.Value{}},
			expected: intents.FieldEventRef,
		},
		{
			name: "cancel needs only the event reference",
			intent: intents.Intent{Kind: intents.KindCancel, Fields: map[intents.Field]intents.Value{
				intents.FieldEventRef: {Text: "standup"},
			}},
			complete: true,
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			slot, missing := NextMissingField(testCase.intent)
			if testCase.complete {
				if missing {
					t.Fatalf("expected intent to be complete, got missing field %q", slot.Field)
				}
				return
			}
			if !missing {
				t.Fatalf("expected a missing field, got none")
			}
			if slot.Field != testCase.expected {
				t.Fatalf("expected field %q, got %q", testCase.expected, slot.Field)
			}
			if slot.Question == "" {
				t.Fatalf("expected a question for field %q", slot.Field)
			}
		})
	}
}

func TestNextMissingFieldIsIdempotent(t *testing.T) {
	intent := intents.Intent{Kind: intents.KindCreate, Fields: map[intents.Field]intents.Value{
		intents.FieldTitle: {Text: "Project Sync"},
	}}

	first, _ := NextMissingField(intent)
	second, _ := NextMissingField(intent)

	if first.Field != second.Field {
		t.Fatalf("expected repeated calls on an unchanged intent to agree, got %q then %q", first.Field, second.Field)
	}
}
