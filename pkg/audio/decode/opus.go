package decode

import (
	"fmt"

	"gopkg.in/hraban/opus.v2"

	"github.com/auriclabs/auric/internal/types"
)

// opusRates are the output rates libopus can decode to directly.
var opusRates = map[int]bool{8000: true, 12000: true, 16000: true, 24000: true, 48000: true}

type opusDecoder struct {
	dec        *opus.Decoder
	decodeRate int
	resampler  *chunkResampler // nil when decodeRate == session rate
	pcmBuf     []int16
	dropped    uint64
	closed     bool
}

func newOpusDecoder(sampleRate int) (*opusDecoder, error) {
	decodeRate := sampleRate
	if !opusRates[decodeRate] {
		decodeRate = 48000
	}

	dec, err := opus.NewDecoder(decodeRate, 1)
	if err != nil {
		return nil, fmt.Errorf("decode: opus decoder init: %w", err)
	}

	d := &opusDecoder{
		dec:        dec,
		decodeRate: decodeRate,
		// 120ms at 48kHz is the largest opus frame
		pcmBuf: make([]int16, 5760),
	}
	if decodeRate != sampleRate {
		rs, err := newChunkResampler(decodeRate, sampleRate)
		if err != nil {
			return nil, err
		}
		d.resampler = rs
	}
	return d, nil
}

func (d *opusDecoder) Decode(frame types.AudioFrame) (*types.PcmChunk, error) {
	if d.closed {
		return nil, ErrClosed
	}
	if frame.Codec != types.CodecOpus {
		return nil, ErrCodecMismatch
	}
	if len(frame.Payload) == 0 {
		return nil, nil
	}

	n, err := d.dec.Decode(frame.Payload, d.pcmBuf)
	if err != nil {
		d.dropped++
		return nil, ErrBadFrame
	}

	samples := pcm16ToBytes(d.pcmBuf[:n])
	rate := d.decodeRate
	if d.resampler != nil {
		samples, err = d.resampler.Resample(samples)
		if err != nil {
			d.dropped++
			return nil, ErrBadFrame
		}
		rate = d.resampler.outRate
		if len(samples) == 0 {
			return nil, nil
		}
	}

	return &types.PcmChunk{
		Samples:    samples,
		SampleRate: rate,
		RecvOffset: frame.RecvOffset,
		OwnerScore: -1,
	}, nil
}

func (d *opusDecoder) Dropped() uint64 { return d.dropped }

func (d *opusDecoder) Close() error {
	d.closed = true
	return nil
}

func pcm16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}
