package server

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the process configuration, loaded from the environment.
type Config struct {
	ListenAddr string `env:"PARLEY_LISTEN_ADDR" envDefault:":8778"`

	DeepgramAPIKey string `env:"DEEPGRAM_API_KEY"`
	STTModel       string `env:"PARLEY_STT_MODEL" envDefault:"nova-2"`
	STTLanguage    string `env:"PARLEY_STT_LANGUAGE" envDefault:"en"`
	SampleRate     int    `env:"PARLEY_SAMPLE_RATE" envDefault:"16000"`

	LLMBaseURL string `env:"PARLEY_LLM_BASE_URL"`
	LLMAPIKey  string `env:"PARLEY_LLM_API_KEY"`
	LLMModel   string `env:"PARLEY_LLM_MODEL" envDefault:"gpt-4o-mini"`

	TTSURL    string `env:"PARLEY_TTS_URL" envDefault:"ws://localhost:8089/api/tts_streaming"`
	TTSAPIKey string `env:"PARLEY_TTS_API_KEY"`
	Voice     string `env:"PARLEY_VOICE"`

	Instructions string `env:"PARLEY_INSTRUCTIONS" envDefault:"You are a helpful voice assistant. Keep answers short and conversational."`

	GraceWindow        time.Duration `env:"PARLEY_GRACE_WINDOW" envDefault:"3s"`
	UserSilenceTimeout time.Duration `env:"PARLEY_USER_SILENCE_TIMEOUT" envDefault:"7s"`
}

// LoadConfig reads the configuration from the environment and validates the
// credentials the session cannot run without.
func LoadConfig() (Config, error) {
	var config Config
	if err := env.Parse(&config); err != nil {
		return Config{}, fmt.Errorf("failed to parse environment: %w", err)
	}

	if config.DeepgramAPIKey == "" {
		return Config{}, fmt.Errorf("DEEPGRAM_API_KEY is required")
	}
	if config.LLMAPIKey == "" {
		return Config{}, fmt.Errorf("PARLEY_LLM_API_KEY is required")
	}

	return config, nil
}
