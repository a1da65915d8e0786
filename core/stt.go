package orchestration

import (
	"context"
	"fmt"
	"io"

	"github.com/parley-ai/parley-core/core/speechtotext"
)

// sttEvent is one recognizer notification, normalized for the control loop.
// Exactly one field is set.
type sttEvent struct {
	word             *speechtotext.Word
	wordStopTime     *float64
	markerID         *int64
	pauseProbability *float64
}

// sttQuest runs the session-long transcription connection. Unlike the
// per-turn quests it is fatal to the session when it fails.
type sttQuest struct {
	client SpeechToText
	events chan<- sttEvent

	errs chan error
}

func newSTTQuest(client SpeechToText, events chan<- sttEvent) *sttQuest {
	return &sttQuest{
		client: client,
		events: events,
		errs:   make(chan error, 1),
	}
}

func (q *sttQuest) Init(ctx context.Context) error {
	send := func(event sttEvent) {
		select {
		case q.events <- event:
		case <-ctx.Done():
		}
	}

	return q.client.Transcribe(ctx,
		speechtotext.WithWordCallback(func(word speechtotext.Word) {
			send(sttEvent{word: &word})
		}),
		speechtotext.WithEndWordCallback(func(stopTime float64) {
			send(sttEvent{wordStopTime: &stopTime})
		}),
		speechtotext.WithMarkerCallback(func(id int64) {
			send(sttEvent{markerID: &id})
		}),
		speechtotext.WithPauseProbabilityCallback(func(probability float64) {
			send(sttEvent{pauseProbability: &probability})
		}),
		speechtotext.WithErrorCallback(func(err error) {
			select {
			case q.errs <- err:
			default:
			}
		}),
	)
}

func (q *sttQuest) Run(ctx context.Context) error {
	select {
	case err := <-q.errs:
		return fmt.Errorf("transcription failed: %w", err)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *sttQuest) Close(ctx context.Context) error {
	switch client := q.client.(type) {
	case interface{ Close(ctx context.Context) error }:
		return client.Close(ctx)
	case io.Closer:
		return client.Close()
	default:
		return nil
	}
}
