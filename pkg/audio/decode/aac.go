package decode

import (
	"encoding/binary"
	"fmt"

	"github.com/winlinvip/go-fdkaac/fdkaac"

	"github.com/auriclabs/auric/internal/types"
)

// aacDecoder decodes ADTS-framed AAC. The stream's native rate is read
// from the ADTS header of the first frame; a resampler is attached
// lazily when it differs from the session rate.
type aacDecoder struct {
	dec        *fdkaac.AacDecoder
	targetRate int
	nativeRate int
	resampler  *chunkResampler
	dropped    uint64
	closed     bool
}

// adtsSampleRates indexes the sampling_frequency_index field.
var adtsSampleRates = []int{
	96000, 88200, 64000, 48000, 44100, 32000,
	24000, 22050, 16000, 12000, 11025, 8000, 7350,
}

func newAACDecoder(sampleRate int) (*aacDecoder, error) {
	dec := fdkaac.NewAacDecoder()
	if err := dec.InitAdts(); err != nil {
		return nil, fmt.Errorf("decode: aac decoder init: %w", err)
	}
	return &aacDecoder{dec: dec, targetRate: sampleRate}, nil
}

func (d *aacDecoder) Decode(frame types.AudioFrame) (*types.PcmChunk, error) {
	if d.closed {
		return nil, ErrClosed
	}
	if frame.Codec != types.CodecAAC {
		return nil, ErrCodecMismatch
	}
	if len(frame.Payload) < 7 || frame.Payload[0] != 0xFF || frame.Payload[1]&0xF0 != 0xF0 {
		d.dropped++
		return nil, ErrBadFrame
	}

	if d.nativeRate == 0 {
		idx := (frame.Payload[2] >> 2) & 0x0F
		if int(idx) >= len(adtsSampleRates) {
			d.dropped++
			return nil, ErrBadFrame
		}
		d.nativeRate = adtsSampleRates[idx]
		if d.nativeRate != d.targetRate {
			rs, err := newChunkResampler(d.nativeRate, d.targetRate)
			if err != nil {
				return nil, err
			}
			d.resampler = rs
		}
	}

	pcm, err := d.dec.Decode(frame.Payload)
	if err != nil {
		d.dropped++
		return nil, ErrBadFrame
	}
	if len(pcm) == 0 {
		// decoder is still priming
		return nil, nil
	}

	pcm = downmixToMono(pcm, d.dec.NumChannels())
	rate := d.nativeRate
	if d.resampler != nil {
		pcm, err = d.resampler.Resample(pcm)
		if err != nil {
			d.dropped++
			return nil, ErrBadFrame
		}
		rate = d.targetRate
		if len(pcm) == 0 {
			return nil, nil
		}
	}

	return &types.PcmChunk{
		Samples:    pcm,
		SampleRate: rate,
		RecvOffset: frame.RecvOffset,
		OwnerScore: -1,
	}, nil
}

func (d *aacDecoder) Dropped() uint64 { return d.dropped }

func (d *aacDecoder) Close() error {
	d.closed = true
	return d.dec.Close()
}

// downmixToMono averages interleaved channels into one.
func downmixToMono(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	frames := len(pcm) / (2 * channels)
	out := make([]byte, frames*2)
	for i := 0; i < frames; i++ {
		var acc int32
		for ch := 0; ch < channels; ch++ {
			off := (i*channels + ch) * 2
			acc += int32(int16(binary.LittleEndian.Uint16(pcm[off:])))
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(acc/int32(channels))))
	}
	return out
}
