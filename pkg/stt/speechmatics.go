package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/auriclabs/auric/pkg/Logger"
)

const speechmaticsHost = "wss://eu2.rt.speechmatics.com/v2"

// SpeechmaticsProvider drives the Speechmatics realtime v2 protocol:
// StartRecognition handshake, binary AddAudio frames, EndOfStream on
// close. Partials arrive as AddPartialTranscript and finals as
// AddTranscript.
type SpeechmaticsProvider struct {
	apiKey string
	logger *Logger.Logger
}

func NewSpeechmatics(apiKey string, logger *Logger.Logger) *SpeechmaticsProvider {
	return &SpeechmaticsProvider{apiKey: apiKey, logger: logger}
}

func (p *SpeechmaticsProvider) Name() string { return "speechmatics" }

func (p *SpeechmaticsProvider) Connect(ctx context.Context, cfg StreamConfig) (Stream, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+p.apiKey)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, speechmaticsHost, header)
	if err != nil {
		return nil, fmt.Errorf("speechmatics dial: %w", err)
	}

	language := cfg.Language
	if language == "" || language == "auto" {
		language = "en"
	}
	start := map[string]any{
		"message": "StartRecognition",
		"audio_format": map[string]any{
			"type":        "raw",
			"encoding":    "pcm_s16le",
			"sample_rate": cfg.SampleRate,
		},
		"transcription_config": map[string]any{
			"language":        language,
			"enable_partials": true,
			"diarization":     "speaker",
			"operating_point": "enhanced",
			"max_delay":       3,
		},
	}
	if err := conn.WriteJSON(start); err != nil {
		conn.Close()
		return nil, fmt.Errorf("speechmatics start recognition: %w", err)
	}

	parser := &speechmaticsParser{}
	stream := newWSStream(conn, p.logger, nil, func(c *websocket.Conn) error {
		return c.WriteJSON(map[string]any{"message": "EndOfStream", "last_seq_no": parser.seqNo})
	})
	parser.stream = stream
	stream.parse = parser.parse
	return stream.start(), nil
}

type speechmaticsMessage struct {
	Message string `json:"message"`
	ID      string `json:"id"`
	Reason  string `json:"reason"`
	Results []struct {
		StartTime    float64 `json:"start_time"`
		EndTime      float64 `json:"end_time"`
		Alternatives []struct {
			Content  string `json:"content"`
			Speaker  string `json:"speaker"`
			Language string `json:"language"`
		} `json:"alternatives"`
	} `json:"results"`
}

type speechmaticsParser struct {
	stream  *wsStream
	seqNo   int
	nextSeg int
}

func (sp *speechmaticsParser) parse(msgType int, data []byte) ([]TranscriptEvent, error) {
	if msgType != websocket.TextMessage {
		return nil, nil
	}
	var msg speechmaticsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	switch msg.Message {
	case "RecognitionStarted":
		sp.stream.setResumeID(msg.ID)
		return nil, nil
	case "AudioAdded":
		sp.seqNo++
		return nil, nil
	case "Error":
		return nil, fmt.Errorf("speechmatics error: %s", msg.Reason)
	case "AddTranscript", "AddPartialTranscript":
	default:
		return nil, nil
	}

	final := msg.Message == "AddTranscript"
	if len(msg.Results) == 0 {
		return nil, nil
	}

	ev := TranscriptEvent{
		SpeakerID: -1,
		Start:     msg.Results[0].StartTime,
		IsFinal:   final,
	}
	var text strings.Builder
	for _, r := range msg.Results {
		if len(r.Alternatives) == 0 {
			continue
		}
		alt := r.Alternatives[0]
		if ev.SpeakerID == -1 {
			ev.SpeakerID = speechmaticsSpeaker(alt.Speaker)
			ev.Language = alt.Language
		}
		if text.Len() > 0 {
			text.WriteByte(' ')
		}
		text.WriteString(alt.Content)
		ev.End = r.EndTime
	}
	if text.Len() == 0 {
		return nil, nil
	}
	ev.Text = text.String()
	ev.SegmentID = fmt.Sprintf("sm-%d", sp.nextSeg)
	if final {
		sp.nextSeg++
	}
	return []TranscriptEvent{ev}, nil
}

func speechmaticsSpeaker(s string) int {
	// speakers arrive as "S1", "S2", ...; unknown as "UU"
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n = n*10 + int(r-'0')
		}
	}
	if n > 0 {
		n--
	}
	return n
}
