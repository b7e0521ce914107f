package responses

import "time"

// Kind identifies the machine-readable response type.
type Kind string

// Response is the structured payload emitted for every handled
// utterance. The presentation layer renders Text; the Kind and the
// typed payload carry the machine-readable part.
type Response interface {
	Kind() Kind
	Timestamp() time.Time
	// Text is a short renderable description of the response. It is never
	// the only payload.
	Text() string
}

type Base struct {
	kind      Kind
	timestamp time.Time
}

func NewBase(kind Kind) Base {
	return Base{kind: kind, timestamp: time.Now()}
}

func (b Base) Kind() Kind {
	return b.kind
}

func (b Base) Timestamp() time.Time {
	return b.timestamp
}
