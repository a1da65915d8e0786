package events

const (
	KindAudioChunk   Kind = "output.audio_chunk"
	KindWordTiming   Kind = "output.word_timing"
	KindResponseText Kind = "output.response_text"
)

// AudioChunk carries one synthesized audio delta for the current turn.
type AudioChunk struct {
	Base
	Audio []byte
}

func NewAudioChunk(audio []byte) AudioChunk {
	return AudioChunk{Base: NewBase(KindAudioChunk), Audio: audio}
}

// WordTiming reports when a synthesized word starts and stops within the
// turn's audio stream, in seconds from the start of the turn.
type WordTiming struct {
	Base
	Text   string
	StartS float64
	StopS  float64
}

func NewWordTiming(text string, startS, stopS float64) WordTiming {
	return WordTiming{Base: NewBase(KindWordTiming), Text: text, StartS: startS, StopS: stopS}
}

// ResponseText carries one streamed response text segment, re-chunked to
// whole words.
type ResponseText struct {
	Base
	Segment string
}

func NewResponseText(segment string) ResponseText {
	return ResponseText{Base: NewBase(KindResponseText), Segment: segment}
}
