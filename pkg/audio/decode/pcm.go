package decode

import (
	"github.com/auriclabs/auric/internal/types"
)

// pcmDecoder passes 16-bit little-endian mono samples through. Frames
// with an odd byte count are truncated to the last whole sample.
type pcmDecoder struct {
	sampleRate int
	dropped    uint64
	closed     bool
}

func newPCMDecoder(sampleRate int) *pcmDecoder {
	return &pcmDecoder{sampleRate: sampleRate}
}

func (d *pcmDecoder) Decode(frame types.AudioFrame) (*types.PcmChunk, error) {
	if d.closed {
		return nil, ErrClosed
	}
	if frame.Codec != types.CodecPCM16 {
		return nil, ErrCodecMismatch
	}
	if len(frame.Payload) < 2 {
		d.dropped++
		return nil, ErrBadFrame
	}

	samples := frame.Payload
	if len(samples)%2 != 0 {
		samples = samples[:len(samples)-1]
	}
	out := make([]byte, len(samples))
	copy(out, samples)

	return &types.PcmChunk{
		Samples:    out,
		SampleRate: d.sampleRate,
		RecvOffset: frame.RecvOffset,
		OwnerScore: -1,
	}, nil
}

func (d *pcmDecoder) Dropped() uint64 { return d.dropped }

func (d *pcmDecoder) Close() error {
	d.closed = true
	return nil
}
