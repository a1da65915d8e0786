// Package sidecar streams synthesis requests to a speech-synthesis sidecar
// over a websocket. The sidecar accepts whole-word text fragments terminated
// by an end-of-stream message and answers with interleaved binary audio
// deltas and word-timing messages.
package sidecar

import (
	"context"
	"fmt"

	"github.com/parley-ai/parley-core/core/texttospeech"
)

type TextToSpeechClient struct {
	url    string
	apiKey string
	voice  string
}

type ClientOption func(*TextToSpeechClient)

func WithAPIKey(apiKey string) ClientOption {
	return func(c *TextToSpeechClient) { c.apiKey = apiKey }
}

// WithDefaultVoice sets the voice used when a request does not pick one.
func WithDefaultVoice(voice string) ClientOption {
	return func(c *TextToSpeechClient) { c.voice = voice }
}

func NewTextToSpeechClient(url string, opts ...ClientOption) *TextToSpeechClient {
	client := &TextToSpeechClient{url: url}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// NewSpeechGenerator opens one streaming synthesis request. The returned
// generator is single-use.
func (c *TextToSpeechClient) NewSpeechGenerator(ctx context.Context, opts ...texttospeech.TextToSpeechOption) (texttospeech.SpeechGenerator, error) {
	req := &streamingRequest{
		options: texttospeech.TextToSpeechOptions{
			Voice:               c.voice,
			SpeechAudioCallback: func([]byte) {},
			WordTimingCallback:  func(texttospeech.WordTiming) {},
			SpeechEndedCallback: func() {},
			ErrorCallback:       func(error) {},
		},
	}
	for _, opt := range opts {
		opt(&req.options)
	}

	var err error
	if req.ws, err = connectWebsocket(c.url, c.apiKey); err != nil {
		return nil, fmt.Errorf("failed to open websocket: %w", err)
	}

	if req.options.Voice != "" {
		if err := req.sendWebsocketMessage(voiceMsg(req.options.Voice)); err != nil {
			_ = req.Close()
			return nil, fmt.Errorf("failed to send voice selector: %w", err)
		}
	}

	go req.processIncomingMessages(ctx)

	return req, nil
}
