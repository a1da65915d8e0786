package llms

import "github.com/parley-ai/parley-core/internal/utils"

// StreamingPromptOptions carries per-call parameters for a streamed
// completion.
type StreamingPromptOptions struct {
	// Temperature overrides the client's default sampling temperature when
	// non-nil. The orchestrator uses a higher temperature for the first
	// assistant turn of a session than for later ones.
	Temperature *float64
	Tools       []Tool
}

type StreamingPromptOption func(*StreamingPromptOptions)

func WithTemperature(temperature float64) StreamingPromptOption {
	return func(o *StreamingPromptOptions) { o.Temperature = utils.Ptr(temperature) }
}

func WithTools(tools ...Tool) StreamingPromptOption {
	return func(o *StreamingPromptOptions) { o.Tools = append(o.Tools, tools...) }
}
