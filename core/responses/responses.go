package responses

import "github.com/koscakluka/booking-core/core/calendars"

const (
	// KindQuestion identifies a follow-up question for a missing slot or
	// a candidate pick.
	KindQuestion Kind = "response.question"
	// KindConfirmation identifies a confirmation prompt for a pending
	// mutation.
	KindConfirmation Kind = "response.confirmation"
	// KindSuccess identifies an acknowledged committed mutation.
	KindSuccess Kind = "response.success"
	// KindFailure identifies a failed or abandoned action.
	KindFailure Kind = "response.failure"
	// KindDisambiguation identifies an ambiguous event reference.
	KindDisambiguation Kind = "response.disambiguation"
)

// ReasonCode is a stable failure classification carried on Failure
// responses.
type ReasonCode string

const (
	ReasonResolutionFailure  ReasonCode = "resolution_failure"
	ReasonAmbiguousReference ReasonCode = "ambiguous_reference"
	ReasonNoAvailability     ReasonCode = "no_availability"
	ReasonCommitConflict     ReasonCode = "commit_conflict"
	ReasonGatewayFailure     ReasonCode = "gateway_failure"
)

// Question asks the user for one more piece of information.
type Question struct {
	Base
	Prompt string
	// ExpectedField names the slot being filled, empty when the question
	// asks for a pick from Choices.
	ExpectedField string
	// Choices is an ordered list of candidate windows; the user answers
	// by position (1-based).
	Choices []calendars.TimeWindow
	// Reason is set when the question was forced by a failure, such as a
	// conflict discovered at commit time.
	Reason ReasonCode
}

func (q Question) Text() string { return q.Prompt }

// NewQuestion creates a slot-filling question.
func NewQuestion(prompt, expectedField string) Question {
	return Question{Base: NewBase(KindQuestion), Prompt: prompt, ExpectedField: expectedField}
}

// NewChoiceQuestion creates a question answered by picking one of the
// offered windows.
func NewChoiceQuestion(prompt string, choices []calendars.TimeWindow) Question {
	return Question{Base: NewBase(KindQuestion), Prompt: prompt, Choices: choices}
}

// WithReason tags the question with the failure that forced it.
func (q Question) WithReason(reason ReasonCode) Question {
	q.Reason = reason
	return q
}

// Summary describes the exact mutation awaiting approval or just
// committed.
type Summary struct {
	Operation calendars.Operation   `json:"operation"`
	Title     string                `json:"title,omitempty"`
	EventID   string                `json:"event_id,omitempty"`
	Window    *calendars.TimeWindow `json:"window,omitempty"`
}

// Confirmation surfaces a pending mutation for explicit approval.
type Confirmation struct {
	Base
	Prompt  string
	Summary Summary
}

func (c Confirmation) Text() string { return c.Prompt }

// NewConfirmation creates a confirmation prompt.
func NewConfirmation(prompt string, summary Summary) Confirmation {
	return Confirmation{Base: NewBase(KindConfirmation), Prompt: prompt, Summary: summary}
}

// Success reports an acknowledged commit.
type Success struct {
	Base
	Message string
	EventID string
	Summary *Summary
}

func (s Success) Text() string { return s.Message }

// NewSuccess creates a success response.
func NewSuccess(message, eventID string) Success {
	return Success{Base: NewBase(KindSuccess), Message: message, EventID: eventID}
}

// WithSummary attaches the committed mutation's summary.
func (s Success) WithSummary(summary Summary) Success {
	s.Summary = &summary
	return s
}

// Failure reports a failed or abandoned action. It never implies a
// calendar write happened.
type Failure struct {
	Base
	Message string
	Reason  ReasonCode
}

func (f Failure) Text() string { return f.Message }

// NewFailure creates a failure response.
func NewFailure(message string, reason ReasonCode) Failure {
	return Failure{Base: NewBase(KindFailure), Message: message, Reason: reason}
}

// Disambiguation lists the events an ambiguous reference matched.
type Disambiguation struct {
	Base
	Prompt     string
	Candidates []calendars.Event
}

func (d Disambiguation) Text() string { return d.Prompt }

// NewDisambiguation creates a disambiguation question.
func NewDisambiguation(prompt string, candidates []calendars.Event) Disambiguation {
	return Disambiguation{Base: NewBase(KindDisambiguation), Prompt: prompt, Candidates: candidates}
}
