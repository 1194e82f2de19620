package vad

// Result of analysing one PCM chunk.
type Result struct {
	HasVoice   bool    `json:"hasVoice"`
	Confidence float32 `json:"confidence"`
}

// VAD decides whether a PCM chunk contains speech. Implementations are
// per-session and must yield quickly: the detector runs on the decode
// hot path for every chunk.
type VAD interface {
	Detect(pcm []byte) Result
	Close() error
}

// Config for voice activity detection.
type Config struct {
	SampleRate     int     `json:"sampleRate"`
	Aggressiveness int     `json:"aggressiveness"` // 0 (lenient) .. 3 (strict)
	WindowMs       int     `json:"windowMs"`       // analysis sub-window, 10-40ms
	Threshold      float32 `json:"threshold"`      // 0 = derive from aggressiveness
}

// DefaultConfig returns detection settings tuned for 16kHz speech.
func DefaultConfig() Config {
	return Config{
		SampleRate:     16000,
		Aggressiveness: 1,
		WindowMs:       30,
	}
}
