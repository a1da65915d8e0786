package orchestration

import (
	"context"
	"sync"

	"github.com/parley-ai/parley-core/core/events"
)

const defaultOutputQueueCapacity = 64

// outputQueue is the single ordered path from the orchestrator to the
// transport. Its contents only ever belong to the current assistant turn: on
// interruption the orchestrator installs a fresh queue and retires the old
// one, so stale audio never reaches the client. Producers and the draining
// reader both detect retirement and stop touching the old queue.
type outputQueue struct {
	items chan events.OutputItem

	// retired discards: buffered leftovers belong to an aborted turn.
	retired    chan struct{}
	retireOnce sync.Once

	// finished drains: remaining items still reach the reader, then the
	// queue reports exhaustion. Used for graceful session shutdown.
	finished   chan struct{}
	finishOnce sync.Once
}

func newOutputQueue(capacity int) *outputQueue {
	if capacity <= 0 {
		capacity = defaultOutputQueueCapacity
	}
	return &outputQueue{
		items:    make(chan events.OutputItem, capacity),
		retired:  make(chan struct{}),
		finished: make(chan struct{}),
	}
}

// Enqueue appends item in production order. Reports false without blocking
// further when the queue has been retired or ctx ends.
func (q *outputQueue) Enqueue(ctx context.Context, item events.OutputItem) bool {
	select {
	case <-q.retired:
		return false
	default:
	}

	select {
	case q.items <- item:
		return true
	case <-q.retired:
		return false
	case <-ctx.Done():
		return false
	}
}

// Dequeue blocks for the next item. The second result is false when the
// queue was retired or ctx ended; the reader should re-fetch the current
// queue respectively stop.
func (q *outputQueue) Dequeue(ctx context.Context) (events.OutputItem, bool) {
	select {
	case <-q.retired:
		return nil, false
	default:
	}

	select {
	case item := <-q.items:
		return item, true
	case <-q.retired:
		return nil, false
	case <-q.finished:
		select {
		case item := <-q.items:
			return item, true
		default:
			return nil, false
		}
	case <-ctx.Done():
		return nil, false
	}
}

func (q *outputQueue) retire() {
	q.retireOnce.Do(func() { close(q.retired) })
}

func (q *outputQueue) finish() {
	q.finishOnce.Do(func() { close(q.finished) })
}

func (q *outputQueue) isRetired() bool {
	select {
	case <-q.retired:
		return true
	default:
		return false
	}
}
