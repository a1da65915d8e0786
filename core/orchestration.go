package orchestration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/parley-ai/parley-core/core/events"
	"github.com/parley-ai/parley-core/core/llms"
	"github.com/parley-ai/parley-core/core/speechtotext"
)

// ErrSessionClosed is returned by NextOutput once the session ended and every
// remaining output item has been delivered.
var ErrSessionClosed = errors.New("session closed")

// ConversationState is who currently holds the conversational floor.
type ConversationState string

const (
	// StateWaitingForUser: nobody is speaking, the session listens.
	StateWaitingForUser ConversationState = "waiting_for_user"
	// StateUserSpeaking: recognized user speech is accumulating.
	StateUserSpeaking ConversationState = "user_speaking"
	// StateBotSpeaking: an assistant turn is generating and synthesizing.
	StateBotSpeaking ConversationState = "bot_speaking"
)

// Orchestrator drives one full-duplex voice conversation: user audio in,
// ordered assistant output items out. It owns the turn-taking state machine,
// the session history and the lifecycle of the recognizer, generator and
// synthesizer sub-sessions.
//
// All state transitions happen on the single goroutine inside Run; the
// collaborators only ever talk to it through channels.
type Orchestrator struct {
	speechToText SpeechToText
	llm          LLM
	textToSpeech TextToSpeech

	instructions string
	voice        string
	tools        []llms.Tool
	config       orchestratorConfig

	history *chatHistory
	pause   *pauseDetector
	quests  *questManager

	out atomic.Pointer[outputQueue]

	sttEvents chan sttEvent
	turnsDone chan string

	stateMu sync.Mutex
	state   ConversationState

	sessionID     string
	currentTurnID string
	turnStartedAt time.Time
	turnsStarted  int

	runOnce sync.Once
}

func NewOrchestrator(opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		config:    defaultOrchestratorConfig(),
		sessionID: uuid.NewString(),
		sttEvents: make(chan sttEvent, 64),
		turnsDone: make(chan string, 1),
		state:     StateWaitingForUser,
	}

	for _, opt := range opts {
		opt(o)
	}

	o.history = newChatHistory(o.instructions)
	o.pause = newPauseDetector(o.config.pauseDetector)
	o.quests = newQuestManager(o.config.questCloseTimeout)
	o.out.Store(newOutputQueue(o.config.outputQueueCapacity))

	return o
}

// Run drives the session until ctx ends or the recognizer fails. It may be
// called at most once.
func (o *Orchestrator) Run(ctx context.Context) error {
	started := false
	o.runOnce.Do(func() { started = true })
	if !started {
		return errors.New("orchestrator already ran")
	}

	if o.speechToText == nil || o.llm == nil || o.textToSpeech == nil {
		return errors.New("orchestrator requires speech-to-text, llm and text-to-speech clients")
	}

	ctx, span := tracer.Start(ctx, "conversation session",
		trace.WithAttributes(attribute.String("session.id", o.sessionID)))
	defer span.End()
	defer o.quests.Shutdown()

	if err := o.quests.Add(ctx, questSpeechToText, newSTTQuest(o.speechToText, o.sttEvents)); err != nil {
		err = fmt.Errorf("failed to start transcription: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.finishSession("transcription unavailable")
		return err
	}

	silence := time.NewTimer(o.config.userSilenceTimeout)
	defer silence.Stop()

	for {
		select {
		case <-ctx.Done():
			o.quests.Shutdown()
			o.finishSession("context cancelled")
			return ctx.Err()

		case event := <-o.sttEvents:
			o.handleSTTEvent(ctx, event, silence)

		case turnID := <-o.turnsDone:
			o.handleTurnDone(ctx, turnID)

		case failure := <-o.quests.Failures():
			if failure.Name == questSpeechToText {
				err := fmt.Errorf("transcription quest failed: %w", failure.Err)
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				o.emit(ctx, events.NewError("speech recognition failed"))
				o.quests.Shutdown()
				o.finishSession("transcription failed")
				return err
			}
			o.abortTurn(ctx, failure)

		case <-silence.C:
			o.handleSilenceTimeout(ctx)
			silence.Reset(o.config.userSilenceTimeout)
		}
	}
}

// SendAudio forwards one chunk of user audio to the recognizer.
func (o *Orchestrator) SendAudio(audio []byte) error {
	if o.speechToText == nil {
		return errors.New("no speech-to-text client configured")
	}
	return o.speechToText.SendAudio(audio)
}

// NextOutput blocks for the next output item. Items arrive in production
// order; after an interruption nothing from the aborted turn is ever
// returned. Returns ErrSessionClosed once the session ended and the last
// item was delivered.
func (o *Orchestrator) NextOutput(ctx context.Context) (events.OutputItem, error) {
	for {
		queue := o.out.Load()
		if item, ok := queue.Dequeue(ctx); ok {
			return item, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if o.out.Load() == queue {
			return nil, ErrSessionClosed
		}
		// The queue was swapped out under us; pick up its replacement.
	}
}

// State reports who currently holds the floor.
func (o *Orchestrator) State() ConversationState {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	return o.state
}

// Messages returns a snapshot of the conversation so far.
func (o *Orchestrator) Messages() []llms.Message {
	return o.history.Messages()
}

func (o *Orchestrator) setState(state ConversationState) {
	o.stateMu.Lock()
	o.state = state
	o.stateMu.Unlock()
}

func (o *Orchestrator) handleSTTEvent(ctx context.Context, event sttEvent, silence *time.Timer) {
	if event.pauseProbability != nil {
		o.pause.Update(*event.pauseProbability)
		o.reactToPauseSignal(ctx)
	}
	if event.markerID != nil {
		logger.Debug("utterance end acknowledged", "session", o.sessionID, "marker", *event.markerID)
	}
	if event.wordStopTime != nil {
		logger.Debug("word stop settled", "session", o.sessionID, "stop_s", *event.wordStopTime)
	}
	if event.word != nil {
		if !silence.Stop() {
			select {
			case <-silence.C:
			default:
			}
		}
		silence.Reset(o.config.userSilenceTimeout)
		o.handleUserWord(ctx, *event.word)
	}
}

func (o *Orchestrator) handleUserWord(ctx context.Context, word speechtotext.Word) {
	if o.State() == StateBotSpeaking {
		if o.withinGraceWindow() {
			// Assistant audio leaking back through the microphone comes
			// out of the recognizer as words too; inside the grace window
			// they are treated as echo and dropped.
			return
		}
		o.interruptTurn(ctx)
	}

	o.history.AppendDelta(word.Text, llms.RoleUser)
	if o.State() != StateUserSpeaking {
		o.pause.Reset()
		o.setState(StateUserSpeaking)
	}
}

func (o *Orchestrator) reactToPauseSignal(ctx context.Context) {
	switch o.State() {
	case StateUserSpeaking:
		if o.pause.IsPaused() {
			o.startAssistantTurn(ctx)
		}
	case StateBotSpeaking:
		if o.pause.IsResumed() && !o.withinGraceWindow() {
			o.interruptTurn(ctx)
		}
	}
}

func (o *Orchestrator) withinGraceWindow() bool {
	return time.Since(o.turnStartedAt) < o.config.graceWindow
}

func (o *Orchestrator) startAssistantTurn(ctx context.Context) {
	ctx, span := tracer.Start(ctx, "assistant turn",
		trace.WithAttributes(attribute.String("session.id", o.sessionID)))
	defer span.End()

	turnID := uuid.NewString()
	span.SetAttributes(attribute.String("turn.id", turnID))

	temperature := o.config.laterTurnTemperature
	if o.turnsStarted == 0 {
		// The first response of a session runs hotter so openers do not
		// repeat across sessions.
		temperature = o.config.firstTurnTemperature
	}

	stream := o.llm.PromptWithStream(o.history.PreprocessedMessages(),
		llms.WithTemperature(temperature),
		llms.WithTools(o.tools...),
	)

	buffer := newTextBuffer()
	queue := o.out.Load()

	o.emitTo(ctx, queue, events.NewTurnStarted(turnID))

	if err := o.quests.Add(ctx, questLLM, &llmQuest{stream: stream, buffer: buffer}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.emitTo(ctx, queue, events.NewError("response generation unavailable"))
		o.setState(StateWaitingForUser)
		return
	}

	err := o.quests.Add(ctx, questTextToSpeech, &ttsQuest{
		tts:              o.textToSpeech,
		voice:            o.voice,
		turnID:           turnID,
		buffer:           buffer,
		history:          o.history,
		queue:            queue,
		flushPartialWord: o.config.flushPartialWordOnInterrupt,
		spoken:           o.notifyTurnDone,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.quests.Remove(questLLM)
		o.emitTo(ctx, queue, events.NewError("speech synthesis unavailable"))
		o.setState(StateWaitingForUser)
		return
	}

	o.currentTurnID = turnID
	o.turnStartedAt = time.Now()
	o.turnsStarted++
	o.setState(StateBotSpeaking)
}

// interruptTurn tears the running assistant turn down: the history records
// the cut-off, the generation and synthesis quests are removed, and the
// output queue is swapped so nothing from the aborted turn reaches the
// client. The replacement queue opens with the Interrupted control item.
func (o *Orchestrator) interruptTurn(ctx context.Context) {
	ctx, span := tracer.Start(ctx, "interrupt assistant turn",
		trace.WithAttributes(attribute.String("turn.id", o.currentTurnID)))
	defer span.End()

	// Quiesce the turn before marking it: the synthesis side appends
	// assistant words until its removal completes, and the marker must
	// terminate the truncated utterance.
	o.quests.Remove(questLLM)
	o.quests.Remove(questTextToSpeech)
	o.history.AppendInterruptionMarker()
	o.pause.Reset()

	interruptedTurnID := o.currentTurnID
	o.currentTurnID = ""

	fresh := newOutputQueue(o.config.outputQueueCapacity)
	retired := o.out.Swap(fresh)
	retired.retire()

	o.emitTo(ctx, fresh, events.NewInterrupted(interruptedTurnID))
	o.setState(StateUserSpeaking)
}

func (o *Orchestrator) handleTurnDone(ctx context.Context, turnID string) {
	if turnID != o.currentTurnID {
		// A turn that was aborted while its completion signal was already
		// in flight.
		return
	}

	o.currentTurnID = ""
	o.setState(StateWaitingForUser)
	o.emit(ctx, events.NewTurnEnded(turnID))
}

// abortTurn handles a recoverable sub-service failure: the turn is torn down
// like an interruption, an error item is surfaced and the session goes back
// to listening.
func (o *Orchestrator) abortTurn(ctx context.Context, failure questFailure) {
	logger.Error("assistant turn failed", "session", o.sessionID,
		"quest", failure.Name, "error", failure.Err)

	if o.State() != StateBotSpeaking {
		return
	}

	o.quests.Remove(questLLM)
	o.quests.Remove(questTextToSpeech)
	o.currentTurnID = ""

	fresh := newOutputQueue(o.config.outputQueueCapacity)
	retired := o.out.Swap(fresh)
	retired.retire()

	o.emitTo(ctx, fresh, events.NewError(fmt.Sprintf("%s failed", failure.Name)))
	o.setState(StateWaitingForUser)
}

func (o *Orchestrator) handleSilenceTimeout(ctx context.Context) {
	switch o.State() {
	case StateUserSpeaking:
		// The user trailed off without a clean pause; give the floor back
		// without generating a response.
		o.setState(StateWaitingForUser)
	case StateWaitingForUser:
		last := o.history.LastMessage(llms.RoleUser)
		if last != nil && !strings.HasSuffix(last.Content, UserSilenceMarker) {
			// Note the stretch of silence so the model can acknowledge it
			// if the user ever comes back.
			o.history.AppendDelta(UserSilenceMarker, llms.RoleUser)
		}
	}
}

func (o *Orchestrator) notifyTurnDone(turnID string) {
	select {
	case o.turnsDone <- turnID:
	default:
		logger.Warn("turn completion dropped", "turn", turnID)
	}
}

func (o *Orchestrator) emit(ctx context.Context, item events.OutputItem) {
	o.emitTo(ctx, o.out.Load(), item)
}

func (o *Orchestrator) emitTo(ctx context.Context, queue *outputQueue, item events.OutputItem) {
	if !queue.Enqueue(ctx, item) {
		logger.Debug("dropped output item", "kind", string(item.Kind()))
	}
}

// finishSession flushes the terminal item and lets the reader drain what is
// left; unlike an interruption nothing gets discarded.
func (o *Orchestrator) finishSession(reason string) {
	flushCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	queue := o.out.Load()
	queue.Enqueue(flushCtx, events.NewSessionEnded(reason))
	queue.finish()
}
