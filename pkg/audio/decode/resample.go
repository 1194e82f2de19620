package decode

import (
	"fmt"

	resampling "github.com/tphakala/go-audio-resampling"
)

// chunkResampler converts 16-bit mono PCM between sample rates one
// chunk at a time. The underlying resampler keeps filter state across
// calls so chunk boundaries stay artifact-free.
type chunkResampler struct {
	rs      resampling.Resampler
	inRate  int
	outRate int
}

func newChunkResampler(inRate, outRate int) (*chunkResampler, error) {
	config := &resampling.Config{
		InputRate:  float64(inRate),
		OutputRate: float64(outRate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	}
	rs, err := resampling.New(config)
	if err != nil {
		return nil, fmt.Errorf("decode: resampler init: %w", err)
	}
	return &chunkResampler{rs: rs, inRate: inRate, outRate: outRate}, nil
}

// Resample converts little-endian int16 bytes at inRate to outRate.
// May return fewer samples than the rate ratio implies while the
// filter primes; leftovers flush on subsequent calls.
func (c *chunkResampler) Resample(pcm []byte) ([]byte, error) {
	frames := len(pcm) / 2
	if frames == 0 {
		return nil, nil
	}

	input := make([]float64, frames)
	for i := 0; i < frames; i++ {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		input[i] = float64(s) / 32768.0
	}

	output, err := c.rs.Process(input)
	if err != nil {
		return nil, fmt.Errorf("decode: resample: %w", err)
	}

	out := make([]byte, len(output)*2)
	for i, f := range output {
		s := int16(f * 32767.0)
		if f > 1.0 {
			s = 32767
		} else if f < -1.0 {
			s = -32768
		}
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out, nil
}
