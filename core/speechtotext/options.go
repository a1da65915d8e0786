package speechtotext

// Word is one recognized word with its start offset in seconds from the
// beginning of the audio stream.
type Word struct {
	Text      string
	StartTime float64
}

type TranscriptionOptions struct {
	// WordCallback is called for every finalized recognized word, in
	// receipt order.
	WordCallback func(word Word)
	// EndWordCallback is called when the recognizer settles the stop time
	// of the most recent word.
	EndWordCallback func(stopTime float64)
	// MarkerCallback is called when the recognizer acknowledges the end of
	// an utterance.
	MarkerCallback func(id int64)
	// PauseProbabilityCallback reports the recognizer's running estimate
	// that the user has stopped talking, in [0, 1]. Called on every
	// recognizer event that carries voice-activity information.
	PauseProbabilityCallback func(probability float64)
	// ErrorCallback is called when the recognizer connection fails. The
	// recognizer is required for the whole session, so this is fatal to it.
	ErrorCallback func(err error)
}

type TranscriptionOption func(*TranscriptionOptions)

func WithWordCallback(callback func(word Word)) TranscriptionOption {
	return func(o *TranscriptionOptions) { o.WordCallback = callback }
}

func WithEndWordCallback(callback func(stopTime float64)) TranscriptionOption {
	return func(o *TranscriptionOptions) { o.EndWordCallback = callback }
}

func WithMarkerCallback(callback func(id int64)) TranscriptionOption {
	return func(o *TranscriptionOptions) { o.MarkerCallback = callback }
}

func WithPauseProbabilityCallback(callback func(probability float64)) TranscriptionOption {
	return func(o *TranscriptionOptions) { o.PauseProbabilityCallback = callback }
}

func WithErrorCallback(callback func(err error)) TranscriptionOption {
	return func(o *TranscriptionOptions) { o.ErrorCallback = callback }
}
