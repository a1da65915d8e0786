package orchestration

import (
	"context"
	"fmt"

	"github.com/parley-ai/parley-core/core/events"
	"github.com/parley-ai/parley-core/core/llms"
	"github.com/parley-ai/parley-core/core/texttospeech"
)

const (
	questSpeechToText = "speech-to-text"
	questLLM          = "llm-response"
	questTextToSpeech = "text-to-speech"
)

// llmQuest drains one streamed completion into the turn's text buffer. The
// history is not written here; assistant deltas enter it word by word from
// the synthesis side, so an interrupted turn records only what was actually
// sent for speech.
type llmQuest struct {
	stream llms.Stream
	buffer *textBuffer
}

func (q *llmQuest) Init(ctx context.Context) error { return nil }

func (q *llmQuest) Run(ctx context.Context) error {
	// The buffer must complete even on failure, otherwise the synthesis
	// side would block forever on a stream that will never grow.
	defer q.buffer.TextComplete()

	for chunk, err := range q.stream.Chunks(ctx) {
		if err != nil {
			return fmt.Errorf("response stream failed: %w", err)
		}
		if chunk == "" {
			continue
		}
		q.buffer.AddChunk(chunk)
	}
	return nil
}

func (q *llmQuest) Close(ctx context.Context) error { return nil }

// ttsQuest feeds the turn's text, re-chunked to whole words, into one
// streaming synthesis request and forwards everything the synthesizer
// produces onto the turn's output queue. The queue is captured at turn start:
// once the orchestrator retires it on interruption, late callbacks enqueue
// into the void instead of leaking stale audio.
type ttsQuest struct {
	tts   TextToSpeech
	voice string

	turnID  string
	buffer  *textBuffer
	history *chatHistory
	queue   *outputQueue

	// flushPartialWord keeps the word the generator was mid-way through at
	// cancellation in the synthesis stream instead of dropping it.
	flushPartialWord bool

	// spoken is called with the turn id once all audio has been produced
	// and enqueued.
	spoken func(turnID string)

	generator   texttospeech.SpeechGenerator
	speechEnded chan struct{}
	errs        chan error
}

func (q *ttsQuest) Init(ctx context.Context) error {
	q.speechEnded = make(chan struct{})
	q.errs = make(chan error, 1)

	opts := []texttospeech.TextToSpeechOption{
		texttospeech.WithSpeechAudioCallback(func(audio []byte) {
			q.queue.Enqueue(ctx, events.NewAudioChunk(audio))
		}),
		texttospeech.WithWordTimingCallback(func(timing texttospeech.WordTiming) {
			q.queue.Enqueue(ctx, events.NewWordTiming(timing.Text, timing.StartS, timing.StopS))
		}),
		texttospeech.WithSpeechEndedCallback(func() {
			close(q.speechEnded)
		}),
		texttospeech.WithErrorCallback(func(err error) {
			select {
			case q.errs <- err:
			default:
			}
		}),
	}
	if q.voice != "" {
		opts = append(opts, texttospeech.WithVoice(q.voice))
	}

	generator, err := q.tts.NewSpeechGenerator(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to open speech generator: %w", err)
	}

	q.generator = generator
	return nil
}

func (q *ttsQuest) Run(ctx context.Context) error {
	// The buffer iterator has no context of its own; clearing it on
	// cancellation unblocks the feed loop below.
	unblocked := make(chan struct{})
	defer close(unblocked)
	go func() {
		select {
		case <-ctx.Done():
			q.buffer.Clear()
		case <-unblocked:
		}
	}()

	for word := range RechunkToWords(q.buffer.Chunks()) {
		if ctx.Err() != nil && !q.flushPartialWord {
			// A cleared buffer still flushes its pending partial word;
			// drop it unless configured otherwise.
			break
		}
		q.history.AppendDelta(word, llms.RoleAssistant)
		q.queue.Enqueue(ctx, events.NewResponseText(word))
		if err := q.generator.SendText(word); err != nil {
			return fmt.Errorf("failed to send text for synthesis: %w", err)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := q.generator.EndOfText(); err != nil {
		return fmt.Errorf("failed to finish synthesis request: %w", err)
	}

	select {
	case <-q.speechEnded:
		q.spoken(q.turnID)
		return nil
	case err := <-q.errs:
		return fmt.Errorf("speech synthesis failed: %w", err)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *ttsQuest) Close(ctx context.Context) error {
	if q.generator == nil {
		return nil
	}
	return q.generator.Cancel()
}
