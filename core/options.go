package orchestration

import (
	"context"
	"time"

	"github.com/parley-ai/parley-core/core/llms"
	"github.com/parley-ai/parley-core/core/speechtotext"
	"github.com/parley-ai/parley-core/core/texttospeech"
)

type OrchestratorOption func(*Orchestrator)

// SpeechToText is the recognizer the session depends on continuously. It
// paces itself; the orchestrator consumes its events one at a time and never
// applies backpressure.
type SpeechToText interface {
	Transcribe(ctx context.Context, opts ...speechtotext.TranscriptionOption) error
	SendAudio(audio []byte) error
}

func WithSpeechToTextClient(client SpeechToText) OrchestratorOption {
	return func(o *Orchestrator) { o.speechToText = client }
}

// LLM produces one assistant turn as a lazy token-delta stream. Streams must
// support mid-flight cancellation through their context.
type LLM interface {
	PromptWithStream(messages []llms.Message, opts ...llms.StreamingPromptOption) llms.Stream
}

func WithStreamingLLM(client LLM) OrchestratorOption {
	return func(o *Orchestrator) { o.llm = client }
}

// TextToSpeech opens one streaming synthesis request per assistant turn.
type TextToSpeech interface {
	NewSpeechGenerator(ctx context.Context, opts ...texttospeech.TextToSpeechOption) (texttospeech.SpeechGenerator, error)
}

func WithTextToSpeechClient(client TextToSpeech) OrchestratorOption {
	return func(o *Orchestrator) { o.textToSpeech = client }
}

// WithInstructions sets the system prompt recorded at the head of the
// session's history.
func WithInstructions(instructions string) OrchestratorOption {
	return func(o *Orchestrator) { o.instructions = instructions }
}

// WithVoice selects the synthesizer voice for the whole session.
func WithVoice(voice string) OrchestratorOption {
	return func(o *Orchestrator) { o.voice = voice }
}

func WithTools(tools ...llms.Tool) OrchestratorOption {
	return func(o *Orchestrator) { o.tools = append(o.tools, tools...) }
}

// WithGraceWindow sets the window after an assistant turn starts during
// which voice-activity interruptions are suppressed, rejecting the
// assistant's own audio leaking back in as false user speech.
func WithGraceWindow(graceWindow time.Duration) OrchestratorOption {
	return func(o *Orchestrator) { o.config.graceWindow = graceWindow }
}

// WithUserSilenceTimeout sets how long the session tolerates no recognizer
// activity before falling back to waiting for the user.
func WithUserSilenceTimeout(timeout time.Duration) OrchestratorOption {
	return func(o *Orchestrator) { o.config.userSilenceTimeout = timeout }
}

// WithQuestCloseTimeout bounds how long a sub-session's close phase may take
// before it is abandoned.
func WithQuestCloseTimeout(timeout time.Duration) OrchestratorOption {
	return func(o *Orchestrator) { o.config.questCloseTimeout = timeout }
}

// WithPauseDetection overrides the pause detector's smoothing and threshold
// parameters.
func WithPauseDetection(attackTau, releaseTau, frameInterval time.Duration, pauseThreshold, resumeThreshold float64) OrchestratorOption {
	return func(o *Orchestrator) {
		o.config.pauseDetector = pauseDetectorConfig{
			AttackTau:       attackTau,
			ReleaseTau:      releaseTau,
			FrameInterval:   frameInterval,
			PauseThreshold:  pauseThreshold,
			ResumeThreshold: resumeThreshold,
		}
	}
}

// WithTemperatures sets the sampling temperatures for the first assistant
// turn of the session and for every later one. The first turn runs hotter to
// avoid repetitive openers.
func WithTemperatures(firstTurn, laterTurns float64) OrchestratorOption {
	return func(o *Orchestrator) {
		o.config.firstTurnTemperature = firstTurn
		o.config.laterTurnTemperature = laterTurns
	}
}

// WithFlushPartialWordOnInterrupt controls whether a word the generator was
// mid-way through when the user interrupted is still sent to the
// synthesizer. Off by default: the tail end of an aborted turn is never
// heard anyway.
func WithFlushPartialWordOnInterrupt(flush bool) OrchestratorOption {
	return func(o *Orchestrator) { o.config.flushPartialWordOnInterrupt = flush }
}

type orchestratorConfig struct {
	graceWindow        time.Duration
	userSilenceTimeout time.Duration
	questCloseTimeout  time.Duration

	outputQueueCapacity int

	firstTurnTemperature float64
	laterTurnTemperature float64

	pauseDetector pauseDetectorConfig

	flushPartialWordOnInterrupt bool
}

func defaultOrchestratorConfig() orchestratorConfig {
	return orchestratorConfig{
		graceWindow:          3 * time.Second,
		userSilenceTimeout:   7 * time.Second,
		questCloseTimeout:    defaultQuestCloseTimeout,
		outputQueueCapacity:  defaultOutputQueueCapacity,
		firstTurnTemperature: 1.0,
		laterTurnTemperature: 0.7,
		pauseDetector:        defaultPauseDetectorConfig(),
	}
}
