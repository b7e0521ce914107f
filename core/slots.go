package orchestration

import (
	"github.com/koscakluka/booking-core/core/intents"
)

// Slot is one required field of an intent together with the question
// that fills it.
type Slot struct {
	Field    intents.Field
	Question string
}

// Required-field sets are fixed per intent kind and asked in declared
// order, so repeated calls with an unchanged intent ask the same
// question.
var requiredSlots = map[intents.Kind][]Slot{
	intents.KindCreate: {
		{Field: intents.FieldTitle, Question: "What should the event be called?"},
		{Field: intents.FieldStartTime, Question: "When should it start?"},
		{Field: intents.FieldDuration, Question: "How long should it be?"},
	},
	intents.KindReschedule: {
		{Field: intents.FieldEventRef, Question: "Which event should I move?"},
		{Field: intents.FieldStartTime, Question: "When should it start instead?"},
		{Field: intents.FieldDuration, Question: "How long should it be?"},
	},
	intents.KindCancel: {
		{Field: intents.FieldEventRef, Question: "Which event should I cancel?"},
	},
}

// NextMissingField returns the first unfilled required slot for the
// intent, or false when the intent is complete. The duration slot is
// satisfied by either an explicit duration or an end time.
func NextMissingField(intent intents.Intent) (Slot, bool) {
	for _, slot := range requiredSlots[intent.Kind] {
		if slotFilled(intent, slot.Field) {
			continue
		}
		return slot, true
	}
	return Slot{}, false
}

func slotFilled(intent intents.Intent, field intents.Field) bool {
	switch field {
	case intents.FieldDuration:
		return intent.Has(intents.FieldDuration) || intent.Has(intents.FieldEndTime)
	default:
		return intent.Has(field)
	}
}
