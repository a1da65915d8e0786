// Package deepgram adapts Deepgram's live-transcription websocket to the
// word-level recognizer contract the orchestrator consumes.
package deepgram

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"sync"
	"time"

	api "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/websocket/interfaces"
	"github.com/gorilla/websocket"

	"github.com/parley-ai/parley-core/core/speechtotext"
)

type TranscriptionClient struct {
	connMu sync.Mutex
	conn   *websocket.Conn

	apiKey     string
	listenURL  string
	model      string
	language   string
	sampleRate int

	lastMsgTs time.Time
	// markerSeq numbers utterance-end acknowledgments within the session.
	markerSeq int64
}

type ClientOption func(*TranscriptionClient)

func WithAPIKey(apiKey string) ClientOption {
	return func(c *TranscriptionClient) { c.apiKey = apiKey }
}

// WithListenURL overrides the endpoint, e.g. for a self-hosted proxy.
func WithListenURL(listenURL string) ClientOption {
	return func(c *TranscriptionClient) { c.listenURL = listenURL }
}

func WithModel(model string) ClientOption {
	return func(c *TranscriptionClient) { c.model = model }
}

func WithLanguage(language string) ClientOption {
	return func(c *TranscriptionClient) { c.language = language }
}

func WithSampleRate(sampleRate int) ClientOption {
	return func(c *TranscriptionClient) { c.sampleRate = sampleRate }
}

func NewTranscriptionClient(opts ...ClientOption) *TranscriptionClient {
	client := &TranscriptionClient{
		listenURL:  "wss://api.deepgram.com/v1/listen",
		model:      "nova-3",
		language:   "en-US",
		sampleRate: 16000,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

func (s *TranscriptionClient) Transcribe(ctx context.Context, opts ...speechtotext.TranscriptionOption) error {
	options := &speechtotext.TranscriptionOptions{}
	for _, opt := range opts {
		opt(options)
	}

	conn, err := s.connectWebsocket()
	if err != nil {
		return fmt.Errorf("failed to open websocket: %w", err)
	}

	s.connMu.Lock()
	s.conn = conn
	s.lastMsgTs = time.Now()
	s.connMu.Unlock()

	go s.readAndProcessMessages(ctx, conn, *options)

	return nil
}

func (s *TranscriptionClient) connectWebsocket() (*websocket.Conn, error) {
	apiKey := s.apiKey
	if apiKey == "" {
		var ok bool
		if apiKey, ok = os.LookupEnv("DEEPGRAM_API_KEY"); !ok {
			return nil, fmt.Errorf("deepgram api key not found")
		}
	}

	listenURL, err := url.Parse(s.listenURL)
	if err != nil {
		return nil, fmt.Errorf("invalid listen url: %w", err)
	}
	queryParams := listenURL.Query()
	queryParams.Set("encoding", "linear16")
	queryParams.Set("sample_rate", strconv.Itoa(s.sampleRate))
	queryParams.Set("channels", "1")
	queryParams.Set("model", s.model)
	queryParams.Set("language", s.language)
	queryParams.Set("smart_format", "true")
	queryParams.Set("interim_results", "true")
	queryParams.Set("utterance_end_ms", "1000")
	queryParams.Set("endpointing", "300")
	queryParams.Set("vad_events", "true")
	listenURL.RawQuery = queryParams.Encode()

	conn, _, err := websocket.DefaultDialer.Dial(listenURL.String(),
		http.Header{"Authorization": {"Token " + apiKey}})
	if err != nil {
		return nil, fmt.Errorf("failed to open socket connection to deepgram: %w", err)
	}

	return conn, nil
}

func (s *TranscriptionClient) SendAudio(audio []byte) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.conn == nil {
		return fmt.Errorf("transcription connection not open")
	}

	s.lastMsgTs = time.Now()
	if err := s.conn.WriteMessage(websocket.BinaryMessage, audio); err != nil {
		return fmt.Errorf("failed to write to deepgram client: %w", err)
	}
	return nil
}

func (s *TranscriptionClient) Close(ctx context.Context) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.conn == nil {
		return nil
	}

	if err := s.conn.WriteJSON(struct {
		Type string `json:"type"`
	}{Type: string(api.TypeCloseStreamResponse)}); err != nil {
		return fmt.Errorf("failed to close deepgram stream through websocket: %w", err)
	}
	return nil
}

func (s *TranscriptionClient) readAndProcessMessages(ctx context.Context, conn *websocket.Conn, options speechtotext.TranscriptionOptions) {
	keepAliveCtx, keepAliveCancel := context.WithCancel(ctx)
	defer keepAliveCancel()

	go s.keepAlive(keepAliveCtx)

	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			s.connMu.Lock()
			s.conn = nil
			s.connMu.Unlock()
			conn.Close()

			if err.Error() != "websocket: close 1000 (normal)" && options.ErrorCallback != nil {
				options.ErrorCallback(fmt.Errorf("deepgram websocket read failed: %w", err))
			}
			return
		}
		if msgType != websocket.BinaryMessage {
			s.processMessage(msg, options)
		}
	}
}

func (s *TranscriptionClient) processMessage(msg []byte, options speechtotext.TranscriptionOptions) {
	var parsedMsg struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(msg, &parsedMsg); err != nil {
		log.Println("Failed to unmarshal deepgram message", "error", err)
		return
	}

	switch api.TypeResponse(parsedMsg.Type) {
	case api.TypeMessageResponse:
		var msgResp api.MessageResponse
		if err := json.Unmarshal(msg, &msgResp); err != nil {
			log.Println("Failed to unmarshal deepgram message", err)
			return
		}
		s.processTranscript(msgResp, options)

	case api.TypeUtteranceEndResponse:
		var msgResp api.UtteranceEndResponse
		if err := json.Unmarshal(msg, &msgResp); err != nil {
			log.Println("Failed to unmarshal deepgram message", err)
			return
		}

		s.markerSeq++
		if options.MarkerCallback != nil {
			options.MarkerCallback(s.markerSeq)
		}
		if options.PauseProbabilityCallback != nil {
			options.PauseProbabilityCallback(1.0)
		}

	case api.TypeSpeechStartedResponse:
		if options.PauseProbabilityCallback != nil {
			options.PauseProbabilityCallback(0.0)
		}
	}
}

func (s *TranscriptionClient) processTranscript(msgResp api.MessageResponse, options speechtotext.TranscriptionOptions) {
	if len(msgResp.Channel.Alternatives) == 0 {
		return
	}
	alternative := msgResp.Channel.Alternatives[0]

	if msgResp.IsFinal {
		var stopTime float64
		for _, word := range alternative.Words {
			if options.WordCallback != nil {
				options.WordCallback(speechtotext.Word{
					Text:      word.Word,
					StartTime: word.Start,
				})
			}
			stopTime = word.End
		}
		if stopTime > 0 && options.EndWordCallback != nil {
			options.EndWordCallback(stopTime)
		}
	}

	// Endpointing is folded into a pause-probability signal: a final result
	// that closes the utterance counts as silence, anything carrying words
	// counts as live speech.
	if options.PauseProbabilityCallback != nil {
		switch {
		case msgResp.IsFinal && msgResp.SpeechFinal:
			options.PauseProbabilityCallback(1.0)
		case len(alternative.Words) > 0:
			options.PauseProbabilityCallback(0.0)
		}
	}
}

// keepAlive keeps the websocket open across user silences; deepgram closes
// connections that stay quiet for more than ~10s.
func (s *TranscriptionClient) keepAlive(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.connMu.Lock()
			if s.conn != nil && time.Since(s.lastMsgTs) > 5*time.Second {
				if err := s.conn.WriteJSON(struct {
					Type string `json:"type"`
				}{Type: "KeepAlive"}); err != nil {
					log.Println("Failed to write to deepgram client", "error", err)
				}
			}
			s.connMu.Unlock()
		}
	}
}
