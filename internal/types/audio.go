package types

import (
	"time"
)

// Codec identifies the encoding of client audio frames.
type Codec string

const (
	CodecOpus  Codec = "opus"
	CodecAAC   Codec = "aac"
	CodecPCM16 Codec = "pcm16"
)

func (c Codec) Valid() bool {
	switch c {
	case CodecOpus, CodecAAC, CodecPCM16:
		return true
	}
	return false
}

// AudioFrame is one codec-framed payload as received from the device.
// Seq wraps at uint16 like the device-side counter; RecvOffset is
// milliseconds since session start on the session's monotonic clock.
type AudioFrame struct {
	Codec      Codec
	Payload    []byte
	Seq        uint16
	RecvOffset time.Duration
	Wallclock  *time.Time
	FinalBurst bool
}

// PcmChunk is 16-bit little-endian mono PCM at the session sample rate.
// It carries the timestamp of its source frame. A chunk is created by
// the decoder, consumed once by the pre-processor, then tee'd to the
// STT path and the audio fan-out.
type PcmChunk struct {
	Samples    []byte
	SampleRate int
	RecvOffset time.Duration

	// Pre-processor annotations. Silent marks VAD-negative chunks when
	// the session forwards rather than drops them; OwnerScore is the
	// speech-profile owner likelihood, -1 when no profile is loaded.
	Silent     bool
	OwnerScore float32
}

// DurationOf returns the play duration of the chunk's samples.
func (p PcmChunk) DurationOf() time.Duration {
	if p.SampleRate <= 0 {
		return 0
	}
	samples := len(p.Samples) / 2
	return time.Duration(samples) * time.Second / time.Duration(p.SampleRate)
}
