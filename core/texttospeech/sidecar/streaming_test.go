package sidecar

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/parley-ai/parley-core/core/texttospeech"
)

// fakeSidecar echoes every text fragment back as binary audio plus a word
// timing, and acknowledges the end of stream.
func fakeSidecar(t *testing.T, inbound chan<- outboundMessage) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("failed to upgrade: %v", err)
			return
		}
		defer conn.Close()

		for {
			var msg outboundMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			select {
			case inbound <- msg:
			default:
			}

			switch msg.Type {
			case "Text":
				if err := conn.WriteMessage(websocket.BinaryMessage, []byte(msg.Text)); err != nil {
					return
				}
				timing, _ := json.Marshal(map[string]any{
					"type": "Word", "text": msg.Text, "start_s": 0.0, "stop_s": 0.5,
				})
				if err := conn.WriteMessage(websocket.TextMessage, timing); err != nil {
					return
				}
			case "Eos":
				eos, _ := json.Marshal(map[string]string{"type": "Eos"})
				if err := conn.WriteMessage(websocket.TextMessage, eos); err != nil {
					return
				}
				return
			}
		}
	}))
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestStreamingRequestRoundTrip(t *testing.T) {
	inbound := make(chan outboundMessage, 16)
	server := fakeSidecar(t, inbound)
	defer server.Close()

	audio := make(chan []byte, 16)
	timings := make(chan texttospeech.WordTiming, 16)
	ended := make(chan struct{})

	client := NewTextToSpeechClient(wsURL(server), WithDefaultVoice("nova"))
	generator, err := client.NewSpeechGenerator(context.Background(),
		texttospeech.WithSpeechAudioCallback(func(chunk []byte) { audio <- chunk }),
		texttospeech.WithWordTimingCallback(func(timing texttospeech.WordTiming) { timings <- timing }),
		texttospeech.WithSpeechEndedCallback(func() { close(ended) }),
	)
	if err != nil {
		t.Fatalf("expected generator to open, got %v", err)
	}

	if err := generator.SendText("hello"); err != nil {
		t.Fatalf("expected send to succeed, got %v", err)
	}
	if err := generator.EndOfText(); err != nil {
		t.Fatalf("expected end-of-text to succeed, got %v", err)
	}

	select {
	case <-ended:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected the speech-ended callback")
	}

	select {
	case msg := <-inbound:
		if msg.Type != "Voice" || msg.Voice != "nova" {
			t.Fatalf("expected the voice selector first, got %+v", msg)
		}
	default:
		t.Fatalf("expected the server to have received messages")
	}

	select {
	case chunk := <-audio:
		if string(chunk) != "hello" {
			t.Fatalf("expected audio for %q, got %q", "hello", chunk)
		}
	default:
		t.Fatalf("expected an audio chunk")
	}

	select {
	case timing := <-timings:
		if timing.Text != "hello" || timing.StopS != 0.5 {
			t.Fatalf("unexpected word timing %+v", timing)
		}
	default:
		t.Fatalf("expected a word timing")
	}
}

func TestStreamingRequestRejectsTextAfterEndOfText(t *testing.T) {
	server := fakeSidecar(t, make(chan outboundMessage, 16))
	defer server.Close()

	client := NewTextToSpeechClient(wsURL(server))
	generator, err := client.NewSpeechGenerator(context.Background())
	if err != nil {
		t.Fatalf("expected generator to open, got %v", err)
	}
	defer generator.Close()

	if err := generator.EndOfText(); err != nil {
		t.Fatalf("expected end-of-text to succeed, got %v", err)
	}
	if err := generator.EndOfText(); err != nil {
		t.Fatalf("expected repeated end-of-text to be ignored, got %v", err)
	}
	if err := generator.SendText("late"); err == nil {
		t.Fatalf("expected send after end-of-text to fail")
	}
}

func TestStreamingRequestClosesWhenContextEnds(t *testing.T) {
	server := fakeSidecar(t, make(chan outboundMessage, 16))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := NewTextToSpeechClient(wsURL(server))
	generator, err := client.NewSpeechGenerator(ctx)
	if err != nil {
		t.Fatalf("expected generator to open, got %v", err)
	}

	if err := generator.SendText("hello"); err != nil {
		t.Fatalf("expected send to succeed, got %v", err)
	}

	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for generator.SendText("after") == nil {
		if time.Now().After(deadline) {
			t.Fatalf("expected the request to close once its context ended")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStreamingRequestCancelStopsCallbacks(t *testing.T) {
	server := fakeSidecar(t, make(chan outboundMessage, 16))
	defer server.Close()

	client := NewTextToSpeechClient(wsURL(server))
	errs := make(chan error, 1)
	generator, err := client.NewSpeechGenerator(context.Background(),
		texttospeech.WithErrorCallback(func(err error) { errs <- err }),
	)
	if err != nil {
		t.Fatalf("expected generator to open, got %v", err)
	}

	if err := generator.Cancel(); err != nil {
		t.Fatalf("expected cancel to succeed, got %v", err)
	}
	if err := generator.Cancel(); err != nil {
		t.Fatalf("expected repeated cancel to be ignored, got %v", err)
	}

	if err := generator.SendText("after"); err == nil {
		t.Fatalf("expected send after cancel to fail")
	}
	if err := generator.EndOfText(); err == nil {
		t.Fatalf("expected end-of-text after cancel to fail")
	}

	select {
	case err := <-errs:
		t.Fatalf("expected no error callback after cancel, got %v", err)
	case <-time.After(100 * time.Millisecond):
	}
}
