package orchestration

import (
	"context"
	"errors"
	"iter"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/parley-ai/parley-core/core/events"
	"github.com/parley-ai/parley-core/core/llms"
	"github.com/parley-ai/parley-core/core/speechtotext"
	"github.com/parley-ai/parley-core/core/texttospeech"
)

type fakeSTT struct {
	mu    sync.Mutex
	opts  speechtotext.TranscriptionOptions
	audio [][]byte
	ready chan struct{}
}

func newFakeSTT() *fakeSTT {
	return &fakeSTT{ready: make(chan struct{})}
}

func (s *fakeSTT) Transcribe(ctx context.Context, opts ...speechtotext.TranscriptionOption) error {
	options := speechtotext.TranscriptionOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	s.mu.Lock()
	s.opts = options
	s.mu.Unlock()
	close(s.ready)
	return nil
}

func (s *fakeSTT) SendAudio(audio []byte) error {
	s.mu.Lock()
	s.audio = append(s.audio, audio)
	s.mu.Unlock()
	return nil
}

func (s *fakeSTT) awaitReady(t *testing.T) {
	t.Helper()
	select {
	case <-s.ready:
	case <-time.After(time.Second):
		t.Fatalf("expected transcription to start")
	}
}

func (s *fakeSTT) callbacks() speechtotext.TranscriptionOptions {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opts
}

// emitWord mimics the recognizer: a finalized word always comes with a
// voice-activity sample saying the user is talking.
func (s *fakeSTT) emitWord(text string) {
	opts := s.callbacks()
	opts.WordCallback(speechtotext.Word{Text: text})
	opts.PauseProbabilityCallback(0.0)
}

func (s *fakeSTT) emitPause() {
	opts := s.callbacks()
	for range 20 {
		opts.PauseProbabilityCallback(1.0)
	}
}

func (s *fakeSTT) emitSpeech() {
	opts := s.callbacks()
	for range 20 {
		opts.PauseProbabilityCallback(0.0)
	}
}

func (s *fakeSTT) fail(err error) {
	s.callbacks().ErrorCallback(err)
}

type scriptedStream struct {
	chunks chan string
	err    error
}

func newScriptedStream() *scriptedStream {
	return &scriptedStream{chunks: make(chan string, 16)}
}

func (s *scriptedStream) send(chunk string) { s.chunks <- chunk }

func (s *scriptedStream) finish() { close(s.chunks) }

func (s *scriptedStream) failWith(err error) {
	s.err = err
	close(s.chunks)
}

func (s *scriptedStream) Chunks(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for {
			select {
			case chunk, ok := <-s.chunks:
				if !ok {
					if s.err != nil {
						yield("", s.err)
					}
					return
				}
				if !yield(chunk, nil) {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}
}

type fakeLLM struct {
	mu      sync.Mutex
	calls   [][]llms.Message
	options []llms.StreamingPromptOptions
	streams chan llms.Stream
}

func newFakeLLM() *fakeLLM {
	return &fakeLLM{streams: make(chan llms.Stream, 4)}
}

func (f *fakeLLM) queueStream(stream llms.Stream) { f.streams <- stream }

func (f *fakeLLM) PromptWithStream(messages []llms.Message, opts ...llms.StreamingPromptOption) llms.Stream {
	options := llms.StreamingPromptOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	f.mu.Lock()
	f.calls = append(f.calls, messages)
	f.options = append(f.options, options)
	f.mu.Unlock()

	select {
	case stream := <-f.streams:
		return stream
	default:
		stream := newScriptedStream()
		stream.finish()
		return stream
	}
}

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeLLM) prompt(call int) []llms.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[call]
}

func (f *fakeLLM) temperature(call int) float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.options[call].Temperature
}

type fakeTTS struct {
	mu sync.Mutex
	// manualEnd keeps the generator from reporting completion on its own;
	// tests drive the end-of-speech signal themselves.
	manualEnd  bool
	generators []*fakeSpeechGenerator
}

func (f *fakeTTS) NewSpeechGenerator(ctx context.Context, opts ...texttospeech.TextToSpeechOption) (texttospeech.SpeechGenerator, error) {
	options := texttospeech.TextToSpeechOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	generator := &fakeSpeechGenerator{options: options, manualEnd: f.manualEnd}
	f.mu.Lock()
	f.generators = append(f.generators, generator)
	f.mu.Unlock()
	return generator, nil
}

type fakeSpeechGenerator struct {
	mu        sync.Mutex
	options   texttospeech.TextToSpeechOptions
	manualEnd bool
	sent      []string
	cancelled bool
}

func (g *fakeSpeechGenerator) SendText(text string) error {
	g.mu.Lock()
	g.sent = append(g.sent, text)
	g.mu.Unlock()

	g.options.SpeechAudioCallback([]byte(text))
	g.options.WordTimingCallback(texttospeech.WordTiming{Text: text})
	return nil
}

func (g *fakeSpeechGenerator) EndOfText() error {
	if !g.manualEnd {
		g.options.SpeechEndedCallback()
	}
	return nil
}

func (g *fakeSpeechGenerator) Cancel() error {
	g.mu.Lock()
	g.cancelled = true
	g.mu.Unlock()
	return nil
}

func (g *fakeSpeechGenerator) Close() error { return nil }

func startOrchestrator(t *testing.T, opts ...OrchestratorOption) (*Orchestrator, *fakeSTT, *fakeLLM, *fakeTTS, chan error) {
	t.Helper()

	stt := newFakeSTT()
	llm := newFakeLLM()
	tts := &fakeTTS{}

	orchestrator := NewOrchestrator(append([]OrchestratorOption{
		WithSpeechToTextClient(stt),
		WithStreamingLLM(llm),
		WithTextToSpeechClient(tts),
		WithInstructions("be brief"),
	}, opts...)...)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	runErrs := make(chan error, 1)
	go func() { runErrs <- orchestrator.Run(ctx) }()

	stt.awaitReady(t)
	return orchestrator, stt, llm, tts, runErrs
}

func awaitState(t *testing.T, orchestrator *Orchestrator, want ConversationState) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if orchestrator.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected state %s, got %s", want, orchestrator.State())
}

func nextItem(t *testing.T, orchestrator *Orchestrator) events.OutputItem {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	item, err := orchestrator.NextOutput(ctx)
	if err != nil {
		t.Fatalf("expected an output item, got error %v", err)
	}
	return item
}

func TestOrchestratorRequiresClients(t *testing.T) {
	orchestrator := NewOrchestrator()
	if err := orchestrator.Run(context.Background()); err == nil {
		t.Fatalf("expected run without clients to fail")
	}
}

func TestOrchestratorRunsOneAssistantTurn(t *testing.T) {
	orchestrator, stt, llm, _, _ := startOrchestrator(t)

	stream := newScriptedStream()
	llm.queueStream(stream)

	stt.emitWord("hello")
	awaitState(t, orchestrator, StateUserSpeaking)
	stt.emitPause()
	awaitState(t, orchestrator, StateBotSpeaking)

	stream.send("Hi ")
	stream.send("there!")
	stream.finish()

	var turnID string
	var spoken strings.Builder
	sawAudio := false
collect:
	for {
		item := nextItem(t, orchestrator)
		switch item := item.(type) {
		case events.TurnStarted:
			if turnID != "" {
				t.Fatalf("expected a single turn")
			}
			turnID = item.TurnID
		case events.ResponseText:
			spoken.WriteString(item.Segment)
		case events.AudioChunk:
			sawAudio = true
		case events.TurnEnded:
			if item.TurnID != turnID {
				t.Fatalf("expected turn end for %q, got %q", turnID, item.TurnID)
			}
			break collect
		}
	}

	if turnID == "" {
		t.Fatalf("expected a turn-started item before anything else")
	}
	if got := spoken.String(); got != "Hi there!" {
		t.Fatalf("expected response text %q, got %q", "Hi there!", got)
	}
	if !sawAudio {
		t.Fatalf("expected synthesized audio to be delivered")
	}
	if got := llm.temperature(0); got != 1.0 {
		t.Fatalf("expected first turn temperature 1.0, got %f", got)
	}

	awaitState(t, orchestrator, StateWaitingForUser)

	messages := orchestrator.Messages()
	last := messages[len(messages)-1]
	if last.Role != llms.RoleAssistant || last.Content != "Hi there!" {
		t.Fatalf("expected assistant message recorded, got %+v", last)
	}
}

func TestOrchestratorInterruptionSwapsOutput(t *testing.T) {
	orchestrator, stt, llm, _, _ := startOrchestrator(t, WithGraceWindow(0))

	stream := newScriptedStream()
	llm.queueStream(stream)

	stt.emitWord("hello")
	stt.emitPause()
	awaitState(t, orchestrator, StateBotSpeaking)

	stream.send("One two ")

	var turnID string
	for {
		item := nextItem(t, orchestrator)
		if started, ok := item.(events.TurnStarted); ok {
			turnID = started.TurnID
		}
		if _, ok := item.(events.AudioChunk); ok {
			break
		}
	}

	// The user barges in mid-sentence.
	stt.emitWord("wait")
	awaitState(t, orchestrator, StateUserSpeaking)

	for {
		item := nextItem(t, orchestrator)
		if _, ok := item.(events.AudioChunk); ok {
			t.Fatalf("expected no audio from the aborted turn after the interruption")
		}
		if interrupted, ok := item.(events.Interrupted); ok {
			if interrupted.TurnID != turnID {
				t.Fatalf("expected interruption of turn %q, got %q", turnID, interrupted.TurnID)
			}
			break
		}
	}

	assistant := orchestrator.history.LastMessage(llms.RoleAssistant)
	if assistant == nil || !strings.HasSuffix(assistant.Content, InterruptionMarker) {
		t.Fatalf("expected the cut-off utterance to carry the interruption marker, got %+v", assistant)
	}

	// The follow-up turn starts clean on the replacement queue, at the
	// lower temperature.
	second := newScriptedStream()
	llm.queueStream(second)
	stt.emitPause()
	awaitState(t, orchestrator, StateBotSpeaking)

	item := nextItem(t, orchestrator)
	started, ok := item.(events.TurnStarted)
	if !ok {
		t.Fatalf("expected the new turn to open the replacement queue, got %T", item)
	}
	if started.TurnID == turnID {
		t.Fatalf("expected a fresh turn id")
	}
	if got := llm.temperature(1); got != 0.7 {
		t.Fatalf("expected later turn temperature 0.7, got %f", got)
	}

	second.finish()
}

func TestOrchestratorBatchesUserWordsIntoOneTurn(t *testing.T) {
	orchestrator, stt, llm, _, _ := startOrchestrator(t)

	stream := newScriptedStream()
	llm.queueStream(stream)

	stt.emitWord("Bonjour")
	stt.emitWord("comment")
	stt.emitWord("allez-vous")
	awaitState(t, orchestrator, StateUserSpeaking)
	stt.emitPause()
	awaitState(t, orchestrator, StateBotSpeaking)
	stream.finish()

	if got := llm.callCount(); got != 1 {
		t.Fatalf("expected one pause to trigger exactly one generation, got %d", got)
	}

	var userMessages []llms.Message
	for _, message := range llm.prompt(0) {
		if message.Role == llms.RoleUser {
			userMessages = append(userMessages, message)
		}
	}
	if len(userMessages) != 1 {
		t.Fatalf("expected the word deltas merged into one user message, got %v", userMessages)
	}
	if got := userMessages[0].Content; got != "Bonjour comment allez-vous" {
		t.Fatalf("expected spaced concatenation %q, got %q", "Bonjour comment allez-vous", got)
	}
}

func TestOrchestratorInterruptionMarkerTerminatesUtterance(t *testing.T) {
	orchestrator, stt, llm, _, _ := startOrchestrator(t,
		WithGraceWindow(0),
		WithFlushPartialWordOnInterrupt(true),
	)

	stream := newScriptedStream()
	llm.queueStream(stream)

	stt.emitWord("hello")
	stt.emitPause()
	awaitState(t, orchestrator, StateBotSpeaking)

	// "Hello" is a complete word; " wor" stays buffered as a partial that
	// the interruption will flush.
	stream.send("Hello wor")

	for {
		if _, ok := nextItem(t, orchestrator).(events.AudioChunk); ok {
			break
		}
	}

	stt.emitWord("wait")
	awaitState(t, orchestrator, StateUserSpeaking)

	assistant := orchestrator.history.LastMessage(llms.RoleAssistant)
	if assistant == nil {
		t.Fatalf("expected the cut-off utterance recorded")
	}
	if want := "Hello wor " + InterruptionMarker; assistant.Content != want {
		t.Fatalf("expected the marker to terminate the utterance as %q, got %q", want, assistant.Content)
	}
}

func TestOrchestratorGraceWindowSuppressesEcho(t *testing.T) {
	orchestrator, stt, llm, _, _ := startOrchestrator(t, WithGraceWindow(time.Minute))

	stream := newScriptedStream()
	llm.queueStream(stream)

	stt.emitWord("hello")
	stt.emitPause()
	awaitState(t, orchestrator, StateBotSpeaking)

	// Recognized words and resumed voice activity inside the grace window
	// are the assistant's own audio echoing back.
	stt.emitWord("hello")
	stt.emitSpeech()

	time.Sleep(50 * time.Millisecond)
	if got := orchestrator.State(); got != StateBotSpeaking {
		t.Fatalf("expected the turn to survive echo inside the grace window, got %s", got)
	}

	stream.finish()
}

func TestOrchestratorSilenceTimeoutReturnsToWaiting(t *testing.T) {
	orchestrator, stt, llm, _, _ := startOrchestrator(t, WithUserSilenceTimeout(60*time.Millisecond))

	stt.emitWord("hello")
	awaitState(t, orchestrator, StateUserSpeaking)

	// The user trails off without a detectable pause.
	awaitState(t, orchestrator, StateWaitingForUser)

	if got := llm.callCount(); got != 0 {
		t.Fatalf("expected no response generation on a silence timeout, got %d calls", got)
	}

	// Continued silence gets noted in the history.
	deadline := time.Now().Add(2 * time.Second)
	for {
		last := orchestrator.history.LastMessage(llms.RoleUser)
		if last != nil && strings.HasSuffix(last.Content, UserSilenceMarker) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected the silence marker to be recorded, got %+v", last)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestOrchestratorRecognizerFailureEndsSession(t *testing.T) {
	orchestrator, stt, _, _, runErrs := startOrchestrator(t)

	stt.fail(errors.New("socket closed"))

	select {
	case err := <-runErrs:
		if err == nil {
			t.Fatalf("expected the session to end with an error")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected the session to end after a recognizer failure")
	}

	sawError, sawEnd := false, false
	for {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		item, err := orchestrator.NextOutput(ctx)
		cancel()
		if err != nil {
			if !errors.Is(err, ErrSessionClosed) {
				t.Fatalf("expected session-closed after draining, got %v", err)
			}
			break
		}
		switch item.(type) {
		case events.Error:
			sawError = true
		case events.SessionEnded:
			sawEnd = true
		}
	}

	if !sawError || !sawEnd {
		t.Fatalf("expected error and session-ended items, got error=%t end=%t", sawError, sawEnd)
	}
}

func TestOrchestratorGeneratorFailureAbortsTurn(t *testing.T) {
	stt := newFakeSTT()
	llm := newFakeLLM()
	tts := &fakeTTS{manualEnd: true}

	orchestrator := NewOrchestrator(
		WithSpeechToTextClient(stt),
		WithStreamingLLM(llm),
		WithTextToSpeechClient(tts),
	)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go orchestrator.Run(ctx)
	stt.awaitReady(t)

	stream := newScriptedStream()
	llm.queueStream(stream)

	stt.emitWord("hello")
	stt.emitPause()
	awaitState(t, orchestrator, StateBotSpeaking)

	stream.failWith(errors.New("model overloaded"))

	for {
		item := nextItem(t, orchestrator)
		if _, ok := item.(events.Error); ok {
			break
		}
	}
	awaitState(t, orchestrator, StateWaitingForUser)
}

func TestOrchestratorForwardsAudioToRecognizer(t *testing.T) {
	orchestrator, stt, _, _, _ := startOrchestrator(t)

	if err := orchestrator.SendAudio([]byte{1, 2, 3}); err != nil {
		t.Fatalf("expected audio forwarding to succeed, got %v", err)
	}

	stt.mu.Lock()
	defer stt.mu.Unlock()
	if len(stt.audio) != 1 || len(stt.audio[0]) != 3 {
		t.Fatalf("expected one forwarded audio chunk, got %v", stt.audio)
	}
}
