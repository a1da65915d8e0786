package sidecar

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/parley-ai/parley-core/core/texttospeech"
)

type streamingRequest struct {
	ws *websocket.Conn
	mu sync.Mutex

	options texttospeech.TextToSpeechOptions

	stateMu      sync.Mutex
	textComplete bool
	cancelled    bool
	closed       bool
}

type outboundMessage struct {
	Type  string `json:"type"`
	Text  string `json:"text,omitempty"`
	Voice string `json:"voice,omitempty"`
}

func textMsg(text string) outboundMessage { return outboundMessage{Type: "Text", Text: text} }

func voiceMsg(voice string) outboundMessage { return outboundMessage{Type: "Voice", Voice: voice} }

var eosMsg = outboundMessage{Type: "Eos"}

func connectWebsocket(url string, apiKey string) (*websocket.Conn, error) {
	header := http.Header{}
	if apiKey != "" {
		header.Set("Authorization", "Bearer "+apiKey)
	}

	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		return nil, fmt.Errorf("failed to open socket connection to synthesis sidecar: %w", err)
	}

	return conn, nil
}

func (r *streamingRequest) processIncomingMessages(ctx context.Context) {
	// ReadMessage has no context support, so an abandoned request would pin
	// this goroutine on the socket. Closing it unblocks the read.
	stop := context.AfterFunc(ctx, func() {
		_ = r.Close()
	})
	defer stop()

	for {
		msgType, msg, err := r.ws.ReadMessage()
		if err != nil {
			if r.isClosed() || r.isCancelled() {
				return
			}
			if err.Error() != "websocket: close 1000 (normal)" {
				log.Printf("Websocket read error: %v", err)
				r.options.ErrorCallback(fmt.Errorf("synthesis stream read failed: %w", err))
			}
			_ = r.Close()
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			if r.isCancelled() {
				continue
			}
			r.options.SpeechAudioCallback(msg)

		case websocket.TextMessage:
			var parsedMsg struct {
				Type   string  `json:"type"`
				Text   string  `json:"text"`
				StartS float64 `json:"start_s"`
				StopS  float64 `json:"stop_s"`
			}
			if err := json.Unmarshal(msg, &parsedMsg); err != nil {
				continue
			}

			switch parsedMsg.Type {
			case "Word":
				if r.isCancelled() {
					continue
				}
				r.options.WordTimingCallback(texttospeech.WordTiming{
					Text:   parsedMsg.Text,
					StartS: parsedMsg.StartS,
					StopS:  parsedMsg.StopS,
				})
			case "Eos":
				r.options.SpeechEndedCallback()
				_ = r.Close()
				return
			}
		}
	}
}

func (r *streamingRequest) SendText(text string) error {
	r.stateMu.Lock()
	if r.closed {
		r.stateMu.Unlock()
		return fmt.Errorf("streaming request closed")
	} else if r.cancelled {
		r.stateMu.Unlock()
		return fmt.Errorf("streaming request cancelled")
	} else if r.textComplete {
		r.stateMu.Unlock()
		return fmt.Errorf("streaming request text already completed")
	}
	r.stateMu.Unlock()

	if err := r.sendWebsocketMessage(textMsg(text)); err != nil {
		return fmt.Errorf("failed to send websocket text message: %w", err)
	}
	return nil
}

func (r *streamingRequest) EndOfText() error {
	r.stateMu.Lock()
	if r.closed {
		r.stateMu.Unlock()
		return fmt.Errorf("streaming request closed")
	} else if r.cancelled {
		r.stateMu.Unlock()
		return fmt.Errorf("streaming request cancelled")
	} else if r.textComplete {
		r.stateMu.Unlock()
		return nil
	}
	r.textComplete = true
	r.stateMu.Unlock()

	if err := r.sendWebsocketMessage(eosMsg); err != nil {
		return fmt.Errorf("failed to send websocket end of stream message: %w", err)
	}
	return nil
}

func (r *streamingRequest) Cancel() error {
	r.stateMu.Lock()
	if r.closed || r.cancelled {
		r.stateMu.Unlock()
		return nil
	}
	r.cancelled = true
	r.stateMu.Unlock()

	return r.Close()
}

func (r *streamingRequest) Close() error {
	r.stateMu.Lock()
	if r.closed {
		r.stateMu.Unlock()
		return nil
	}
	r.closed = true
	r.stateMu.Unlock()

	if err := r.ws.Close(); err != nil {
		return fmt.Errorf("failed to close websocket: %w", err)
	}
	return nil
}

func (r *streamingRequest) isCancelled() bool {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	return r.cancelled
}

func (r *streamingRequest) isClosed() bool {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	return r.closed
}

func (r *streamingRequest) sendWebsocketMessage(msg outboundMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.ws.WriteJSON(msg)
}
