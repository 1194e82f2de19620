package stt

import (
	"context"
	"errors"
)

var (
	// ErrUnavailable is raised after every reconnect attempt has been
	// exhausted. The session supervisor decides between terminating the
	// conversation and degraded mode.
	ErrUnavailable = errors.New("stt: provider unavailable")

	ErrStreamClosed = errors.New("stt: stream closed")
)

// TranscriptEvent is the provider-normalized transcription unit. Every
// adapter converts its wire format to this shape before the segment
// merger sees it.
type TranscriptEvent struct {
	SegmentID string  `json:"segment_id"` // provider-scoped id, stable across interim updates
	SpeakerID int     `json:"speaker_id"`
	Text      string  `json:"text"`
	Start     float64 `json:"start"` // seconds from stream start
	End       float64 `json:"end"`
	IsFinal   bool    `json:"is_final"`
	Language  string  `json:"language,omitempty"`
}

// StreamConfig is passed to a provider when opening a logical stream.
type StreamConfig struct {
	SampleRate int
	Language   string
	// ResumeID restores a previous provider session after a reconnect,
	// empty on first connect or when the provider cannot resume.
	ResumeID string
}

// Stream is one live duplex connection to a provider.
type Stream interface {
	// Send writes one PCM16 chunk to the provider.
	Send(pcm []byte) error
	// Events yields normalized transcript events. The channel closes
	// when the stream dies; Err then reports why.
	Events() <-chan TranscriptEvent
	Err() error
	// ResumeID returns the provider session handle for reconnects,
	// empty when the provider does not support resumption.
	ResumeID() string
	Close() error
}

// Provider dials transcription streams. Adapters exist for deepgram,
// soniox, speechmatics and self-hosted whisperx.
type Provider interface {
	Name() string
	Connect(ctx context.Context, cfg StreamConfig) (Stream, error)
}
