package events

import "time"

type Kind string

// OutputItem is a single item on the session's ordered output queue. The
// transport consumes items in strict production order; within one
// uninterrupted assistant turn audio and word-timing items for word k are
// never enqueued before those of word k-1.
type OutputItem interface {
	Kind() Kind
	Timestamp() time.Time
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
