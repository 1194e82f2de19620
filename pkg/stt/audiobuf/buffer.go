package audiobuf

import (
	"encoding/binary"
	"errors"
	"time"

	"github.com/smallnest/ringbuffer"
)

// Chunk is one buffered PCM payload with its session-relative offset.
type Chunk struct {
	Samples    []byte
	RecvOffset time.Duration
}

const headerSize = 12 // offset(8) + dataLen(4)

// Buffer holds PCM audio while the STT connection is down. It is a
// byte ring sized for a fixed number of seconds; when full, the oldest
// chunks are evicted and counted. Single producer, single consumer.
type Buffer struct {
	rb      *ringbuffer.RingBuffer
	size    int
	dropped uint64
}

// New sizes the ring for roughly `seconds` of 16-bit mono audio at
// sampleRate, plus per-chunk header overhead.
func New(seconds, sampleRate int) *Buffer {
	size := seconds*sampleRate*2 + seconds*50*headerSize
	return &Buffer{
		rb:   ringbuffer.New(size).SetBlocking(false),
		size: size,
	}
}

// Enqueue appends a chunk, evicting oldest entries when space runs out.
func (b *Buffer) Enqueue(c Chunk) error {
	need := headerSize + len(c.Samples)
	if need > b.size {
		return errors.New("audiobuf: chunk larger than buffer")
	}

	for b.rb.Free() < need {
		if !b.evictOldest() {
			b.rb.Reset()
			break
		}
		b.dropped++
	}

	var header [headerSize]byte
	binary.LittleEndian.PutUint64(header[0:], uint64(c.RecvOffset))
	binary.LittleEndian.PutUint32(header[8:], uint32(len(c.Samples)))
	if _, err := b.rb.Write(header[:]); err != nil {
		return err
	}
	_, err := b.rb.Write(c.Samples)
	return err
}

// Dequeue pops the oldest chunk.
func (b *Buffer) Dequeue() (Chunk, bool) {
	if b.rb.IsEmpty() {
		return Chunk{}, false
	}

	var header [headerSize]byte
	if n, err := b.rb.Read(header[:]); err != nil || n != headerSize {
		return Chunk{}, false
	}
	offset := time.Duration(binary.LittleEndian.Uint64(header[0:]))
	dataLen := int(binary.LittleEndian.Uint32(header[8:]))

	data := make([]byte, dataLen)
	if dataLen > 0 {
		if n, err := b.rb.Read(data); err != nil || n != dataLen {
			return Chunk{}, false
		}
	}
	return Chunk{Samples: data, RecvOffset: offset}, true
}

// Drain pops every buffered chunk in order.
func (b *Buffer) Drain() []Chunk {
	var out []Chunk
	for {
		c, ok := b.Dequeue()
		if !ok {
			return out
		}
		out = append(out, c)
	}
}

func (b *Buffer) evictOldest() bool {
	if b.rb.IsEmpty() {
		return false
	}
	var header [headerSize]byte
	if n, err := b.rb.Read(header[:]); err != nil || n != headerSize {
		return false
	}
	dataLen := int(binary.LittleEndian.Uint32(header[8:]))
	if dataLen > 0 {
		skip := make([]byte, dataLen)
		if n, err := b.rb.Read(skip); err != nil || n != dataLen {
			return false
		}
	}
	return true
}

// Dropped reports chunks evicted by overflow since creation.
func (b *Buffer) Dropped() uint64 {
	return b.dropped
}

// Len reports buffered bytes including headers.
func (b *Buffer) Len() int {
	return b.rb.Length()
}

func (b *Buffer) Reset() {
	b.rb.Reset()
}
