package websocket

import (
	"encoding/binary"
	"errors"
	"time"

	"github.com/auriclabs/auric/internal/types"
)

// Device audio frames arrive with a 4-byte header:
//
//	byte 0..1  sequence number, uint16 little-endian, wraps
//	byte 2     flags: bit0 final-of-burst, bit1 has-wallclock
//	byte 3     payload length in bytes
//	byte 4..   optional wallclock (unix millis, int64 LE), then payload
const (
	frameHeaderLen = 4
	wallclockLen   = 8

	flagFinalBurst = 1 << 0
	flagWallclock  = 1 << 1
)

// maxFramePayload is the largest payload the one-byte length field
// can describe.
const maxFramePayload = 255

var (
	ErrShortFrame     = errors.New("ws: frame shorter than header")
	ErrTruncatedFrame = errors.New("ws: frame payload truncated")
	ErrPayloadTooBig  = errors.New("ws: frame payload exceeds length field")
)

// ParseFrame unpacks one binary device frame. The codec is the one the
// session was opened with; the frame itself carries no codec marker.
func ParseFrame(codec types.Codec, data []byte, recvOffset time.Duration) (types.AudioFrame, error) {
	if len(data) < frameHeaderLen {
		return types.AudioFrame{}, ErrShortFrame
	}

	frame := types.AudioFrame{
		Codec:      codec,
		Seq:        binary.LittleEndian.Uint16(data[0:2]),
		RecvOffset: recvOffset,
		FinalBurst: data[2]&flagFinalBurst != 0,
	}
	payloadLen := int(data[3])
	body := data[frameHeaderLen:]

	if data[2]&flagWallclock != 0 {
		if len(body) < wallclockLen {
			return types.AudioFrame{}, ErrTruncatedFrame
		}
		millis := int64(binary.LittleEndian.Uint64(body[:wallclockLen]))
		wc := time.UnixMilli(millis).UTC()
		frame.Wallclock = &wc
		body = body[wallclockLen:]
	}

	if len(body) < payloadLen {
		return types.AudioFrame{}, ErrTruncatedFrame
	}
	frame.Payload = body[:payloadLen]
	return frame, nil
}

// EncodeFrame packs a frame in the device wire format.
func EncodeFrame(frame types.AudioFrame) ([]byte, error) {
	if len(frame.Payload) > maxFramePayload {
		return nil, ErrPayloadTooBig
	}
	size := frameHeaderLen + len(frame.Payload)
	if frame.Wallclock != nil {
		size += wallclockLen
	}
	buf := make([]byte, 0, size)

	var hdr [frameHeaderLen]byte
	binary.LittleEndian.PutUint16(hdr[0:2], frame.Seq)
	if frame.FinalBurst {
		hdr[2] |= flagFinalBurst
	}
	if frame.Wallclock != nil {
		hdr[2] |= flagWallclock
	}
	hdr[3] = byte(len(frame.Payload))
	buf = append(buf, hdr[:]...)

	if frame.Wallclock != nil {
		var wc [wallclockLen]byte
		binary.LittleEndian.PutUint64(wc[:], uint64(frame.Wallclock.UnixMilli()))
		buf = append(buf, wc[:]...)
	}
	return append(buf, frame.Payload...), nil
}
