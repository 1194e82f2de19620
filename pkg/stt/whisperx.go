package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/gorilla/websocket"

	"github.com/auriclabs/auric/pkg/Logger"
)

// WhisperXProvider streams to a self-hosted whisperx gateway. Unlike
// the hosted providers it supports session resumption: reconnecting
// with the previous session id keeps the segment-id namespace, so the
// merger can keep updating segments across a network blip.
type WhisperXProvider struct {
	baseURL string
	logger  *Logger.Logger
}

func NewWhisperX(baseURL string, logger *Logger.Logger) *WhisperXProvider {
	return &WhisperXProvider{baseURL: baseURL, logger: logger}
}

func (p *WhisperXProvider) Name() string { return "whisperx" }

func (p *WhisperXProvider) Connect(ctx context.Context, cfg StreamConfig) (Stream, error) {
	u, err := url.Parse(p.baseURL)
	if err != nil {
		return nil, fmt.Errorf("whisperx url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/v1/stream"
	q := u.Query()
	q.Set("sample_rate", strconv.Itoa(cfg.SampleRate))
	if cfg.Language != "" {
		q.Set("language", cfg.Language)
	}
	if cfg.ResumeID != "" {
		q.Set("session", cfg.ResumeID)
	}
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("whisperx dial: %w", err)
	}

	parser := &whisperxParser{}
	stream := newWSStream(conn, p.logger, nil, func(c *websocket.Conn) error {
		return c.WriteJSON(map[string]string{"type": "finalize"})
	})
	parser.stream = stream
	stream.parse = parser.parse
	// optimistic: the gateway confirms or replaces this in its hello
	stream.setResumeID(cfg.ResumeID)
	return stream.start(), nil
}

type whisperxMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Error     string `json:"error"`
	Segments  []struct {
		ID       string  `json:"id"`
		Speaker  int     `json:"speaker"`
		Text     string  `json:"text"`
		Start    float64 `json:"start"`
		End      float64 `json:"end"`
		IsFinal  bool    `json:"is_final"`
		Language string  `json:"language"`
	} `json:"segments"`
}

type whisperxParser struct {
	stream *wsStream
}

func (wp *whisperxParser) parse(msgType int, data []byte) ([]TranscriptEvent, error) {
	if msgType != websocket.TextMessage {
		return nil, nil
	}
	var msg whisperxMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	switch msg.Type {
	case "hello":
		wp.stream.setResumeID(msg.SessionID)
		return nil, nil
	case "error":
		return nil, fmt.Errorf("whisperx error: %s", msg.Error)
	case "transcript":
	default:
		return nil, nil
	}

	events := make([]TranscriptEvent, 0, len(msg.Segments))
	for _, seg := range msg.Segments {
		events = append(events, TranscriptEvent{
			SegmentID: seg.ID,
			SpeakerID: seg.Speaker,
			Text:      seg.Text,
			Start:     seg.Start,
			End:       seg.End,
			IsFinal:   seg.IsFinal,
			Language:  seg.Language,
		})
	}
	return events, nil
}
