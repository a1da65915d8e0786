package orchestration

import (
	"iter"
	"strings"
	"sync"
)

// textBuffer decouples the generator's token pace from the synthesizer's
// consumption pace. The generator appends deltas as they stream in; the
// synthesis side drains them through the Chunks iterator, blocking while the
// buffer is empty and ending once the text is complete or the buffer is
// cleared.
type textBuffer struct {
	mu             sync.Mutex
	chunks         []string
	chunksConsumed int
	textComplete   bool
	cleared        bool
	updateSignal   chan struct{}
}

func newTextBuffer() *textBuffer {
	return &textBuffer{
		updateSignal: make(chan struct{}, 1),
	}
}

func (b *textBuffer) AddChunk(chunk string) {
	b.mu.Lock()
	b.chunks = append(b.chunks, chunk)
	b.mu.Unlock()
	b.signalUpdate()
}

// TextComplete marks the end of the generator's stream; Chunks finishes once
// the remaining deltas are drained.
func (b *textBuffer) TextComplete() {
	b.mu.Lock()
	b.textComplete = true
	b.mu.Unlock()
	b.signalUpdate()
}

// Clear ends the stream immediately, discarding anything not yet consumed.
// Used when the turn is cancelled.
func (b *textBuffer) Clear() {
	b.mu.Lock()
	b.cleared = true
	b.mu.Unlock()
	b.signalUpdate()
}

// Chunks yields buffered deltas in arrival order. Single consumer.
func (b *textBuffer) Chunks() iter.Seq[string] {
	return func(yield func(string) bool) {
		for {
			b.mu.Lock()
			if b.cleared {
				b.mu.Unlock()
				return
			}

			if b.chunksConsumed < len(b.chunks) {
				chunk := b.chunks[b.chunksConsumed]
				b.chunksConsumed++
				b.mu.Unlock()
				if !yield(chunk) {
					return
				}
				continue
			}

			if b.textComplete {
				b.mu.Unlock()
				return
			}

			b.mu.Unlock()
			<-b.updateSignal
		}
	}
}

func (b *textBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return strings.Join(b.chunks, "")
}

func (b *textBuffer) signalUpdate() {
	select {
	case b.updateSignal <- struct{}{}:
	default:
	}
}
