package llms

import (
	"context"
	"iter"
)

// Stream is one in-flight completion. Chunks yields text deltas of arbitrary
// granularity until the model finishes the turn or the context is cancelled.
// The sequence may be consumed once.
type Stream interface {
	Chunks(context.Context) iter.Seq2[string, error]
}
