package decode

import (
	"errors"
	"fmt"

	"github.com/auriclabs/auric/internal/types"
)

var (
	// ErrCodecMismatch is fatal: the client sent a codec other than the
	// one declared at session open.
	ErrCodecMismatch = errors.New("decode: frame codec does not match session codec")

	// ErrBadFrame marks a malformed payload; the frame is dropped and
	// the session continues.
	ErrBadFrame = errors.New("decode: malformed codec frame")

	ErrClosed = errors.New("decode: decoder is closed")
)

// Decoder turns codec-framed bytes into 16-bit mono PCM at the session
// sample rate. Implementations are stateful per session and not safe
// for concurrent use; the session's decode task is the single caller.
//
// Decode returns (nil, nil) when the codec needs more input before it
// can emit a chunk.
type Decoder interface {
	Decode(frame types.AudioFrame) (*types.PcmChunk, error)
	// Dropped reports how many malformed frames were discarded.
	Dropped() uint64
	Close() error
}

// New builds the decoder for the codec declared at session open.
func New(codec types.Codec, sampleRate int) (Decoder, error) {
	switch codec {
	case types.CodecOpus:
		return newOpusDecoder(sampleRate)
	case types.CodecAAC:
		return newAACDecoder(sampleRate)
	case types.CodecPCM16:
		return newPCMDecoder(sampleRate), nil
	}
	return nil, fmt.Errorf("decode: unsupported codec %q", codec)
}
