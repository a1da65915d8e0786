package texttospeech

// WordTiming locates one synthesized word inside the generated audio, in
// seconds from the start of the generation.
type WordTiming struct {
	Text   string
	StartS float64
	StopS  float64
}

type TextToSpeechOptions struct {
	// Voice selects the synthesizer voice; sent before any text.
	Voice string
	// SpeechAudioCallback is called for every audio delta, in generation
	// order.
	SpeechAudioCallback func(audio []byte)
	// WordTimingCallback is called when the synthesizer reports timing for
	// a word. Timings for word k always arrive before those of word k+1.
	WordTimingCallback func(timing WordTiming)
	// SpeechEndedCallback is called once all audio for the request has been
	// generated.
	SpeechEndedCallback func()
	// ErrorCallback is called when the synthesizer connection fails.
	ErrorCallback func(err error)
}

type TextToSpeechOption func(*TextToSpeechOptions)

func WithVoice(voice string) TextToSpeechOption {
	return func(o *TextToSpeechOptions) { o.Voice = voice }
}

func WithSpeechAudioCallback(callback func(audio []byte)) TextToSpeechOption {
	return func(o *TextToSpeechOptions) { o.SpeechAudioCallback = callback }
}

func WithWordTimingCallback(callback func(timing WordTiming)) TextToSpeechOption {
	return func(o *TextToSpeechOptions) { o.WordTimingCallback = callback }
}

func WithSpeechEndedCallback(callback func()) TextToSpeechOption {
	return func(o *TextToSpeechOptions) { o.SpeechEndedCallback = callback }
}

func WithErrorCallback(callback func(err error)) TextToSpeechOption {
	return func(o *TextToSpeechOptions) { o.ErrorCallback = callback }
}

// SpeechGenerator is one streaming synthesis request.
type SpeechGenerator interface {
	// SendText sends a whole-word text fragment. Speech is generated in the
	// order text is sent.
	//
	// SendText will error if EndOfText, Cancel or Close has been called.
	SendText(text string) error
	// EndOfText signals that no more text will be sent. The generator
	// closes itself once all remaining speech has been produced.
	//
	// EndOfText will error if Cancel or Close has been called. Repeated
	// calls are ignored.
	EndOfText() error
	// Cancel immediately stops further speech generation and closes the
	// generator.
	//
	// Repeated calls are ignored.
	Cancel() error
	// Close immediately closes the generator. No callbacks fire after it
	// returns.
	//
	// Repeated calls are ignored.
	Close() error
}
