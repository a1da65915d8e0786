package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	orchestration "github.com/parley-ai/parley-core/core"
	"github.com/parley-ai/parley-core/core/events"
	"github.com/parley-ai/parley-core/core/llms"
	"github.com/parley-ai/parley-core/core/llms/openai"
	"github.com/parley-ai/parley-core/core/speechtotext/deepgram"
	"github.com/parley-ai/parley-core/core/texttospeech/sidecar"
)

// Wire protocol of the session endpoint: the client streams raw audio as
// binary frames; the server answers with binary frames for synthesized audio
// and JSON text frames for everything else.
type outboundMessage struct {
	Type    string  `json:"type"`
	TurnID  string  `json:"turn_id,omitempty"`
	Text    string  `json:"text,omitempty"`
	StartS  float64 `json:"start_s,omitempty"`
	StopS   float64 `json:"stop_s,omitempty"`
	Message string  `json:"message,omitempty"`
	Reason  string  `json:"reason,omitempty"`
}

type sessionHandler struct {
	config   Config
	upgrader websocket.Upgrader
}

func newSessionHandler(config Config) *sessionHandler {
	return &sessionHandler{
		config: config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

func (h *sessionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("failed to upgrade session connection", "error", err)
		return
	}
	defer conn.Close()

	metricSessionsTotal.Inc()
	metricSessionsActive.Inc()
	defer metricSessionsActive.Dec()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	orchestrator := h.newOrchestrator()

	go h.readAudio(ctx, cancel, conn, orchestrator)
	go h.writeOutput(ctx, cancel, conn, orchestrator)

	if err := orchestrator.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("session ended abnormally", "error", err)
	}
}

func (h *sessionHandler) newOrchestrator() *orchestration.Orchestrator {
	sttClient := deepgram.NewTranscriptionClient(
		deepgram.WithAPIKey(h.config.DeepgramAPIKey),
		deepgram.WithModel(h.config.STTModel),
		deepgram.WithLanguage(h.config.STTLanguage),
		deepgram.WithSampleRate(h.config.SampleRate),
	)

	llmClient := openai.NewClient(h.config.LLMBaseURL, h.config.LLMAPIKey,
		openai.WithModel(h.config.LLMModel),
	)

	ttsClient := sidecar.NewTextToSpeechClient(h.config.TTSURL,
		sidecar.WithAPIKey(h.config.TTSAPIKey),
		sidecar.WithDefaultVoice(h.config.Voice),
	)

	return orchestration.NewOrchestrator(
		orchestration.WithSpeechToTextClient(sttClient),
		orchestration.WithStreamingLLM(llmClient),
		orchestration.WithTextToSpeechClient(ttsClient),
		orchestration.WithInstructions(h.config.Instructions),
		orchestration.WithVoice(h.config.Voice),
		orchestration.WithTools(llms.CurrentTimeTool()),
		orchestration.WithGraceWindow(h.config.GraceWindow),
		orchestration.WithUserSilenceTimeout(h.config.UserSilenceTimeout),
	)
}

// readAudio pumps inbound audio frames into the recognizer until the client
// hangs up.
func (h *sessionHandler) readAudio(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, orchestrator *orchestration.Orchestrator) {
	defer cancel()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("session read ended", "error", err)
			}
			return
		}
		if messageType != websocket.BinaryMessage {
			continue
		}

		metricInboundAudioBytes.Add(float64(len(data)))
		if err := orchestrator.SendAudio(data); err != nil {
			logger.Error("failed to forward audio", "error", err)
			return
		}

		if ctx.Err() != nil {
			return
		}
	}
}

// writeOutput drains the orchestrator's ordered output onto the socket.
func (h *sessionHandler) writeOutput(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, orchestrator *orchestration.Orchestrator) {
	defer cancel()

	var turnStartedAt time.Time
	firstAudioSeen := false

	for {
		item, err := orchestrator.NextOutput(ctx)
		if err != nil {
			if errors.Is(err, orchestration.ErrSessionClosed) {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			}
			return
		}

		metricOutputItems.WithLabelValues(string(item.Kind())).Inc()
		switch item.(type) {
		case events.TurnStarted:
			turnStartedAt = item.Timestamp()
			firstAudioSeen = false
		case events.AudioChunk:
			if !firstAudioSeen && !turnStartedAt.IsZero() {
				metricFirstAudioSeconds.Observe(item.Timestamp().Sub(turnStartedAt).Seconds())
				firstAudioSeen = true
			}
		}

		if err := writeItem(conn, item); err != nil {
			logger.Debug("session write ended", "error", err)
			return
		}
	}
}

func writeItem(conn *websocket.Conn, item events.OutputItem) error {
	switch item := item.(type) {
	case events.AudioChunk:
		return conn.WriteMessage(websocket.BinaryMessage, item.Audio)
	case events.ResponseText:
		return writeJSON(conn, outboundMessage{Type: "response_text", Text: item.Segment})
	case events.WordTiming:
		return writeJSON(conn, outboundMessage{Type: "word_timing", Text: item.Text, StartS: item.StartS, StopS: item.StopS})
	case events.TurnStarted:
		metricTurnsStarted.Inc()
		return writeJSON(conn, outboundMessage{Type: "turn_started", TurnID: item.TurnID})
	case events.TurnEnded:
		return writeJSON(conn, outboundMessage{Type: "turn_ended", TurnID: item.TurnID})
	case events.Interrupted:
		metricInterruptions.Inc()
		return writeJSON(conn, outboundMessage{Type: "interrupted", TurnID: item.TurnID})
	case events.Error:
		return writeJSON(conn, outboundMessage{Type: "error", Message: item.Message})
	case events.SessionEnded:
		return writeJSON(conn, outboundMessage{Type: "session_ended", Reason: item.Reason})
	default:
		logger.Warn("unknown output item", "kind", string(item.Kind()))
		return nil
	}
}

func writeJSON(conn *websocket.Conn, message outboundMessage) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, payload)
}
