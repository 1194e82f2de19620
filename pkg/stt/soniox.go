package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/auriclabs/auric/pkg/Logger"
)

const sonioxHost = "wss://stt-rt.soniox.com/transcribe-websocket"

// SonioxProvider streams PCM to Soniox realtime transcription. Soniox
// emits word-level tokens; the parser folds consecutive same-speaker
// tokens into one event per message.
type SonioxProvider struct {
	apiKey string
	logger *Logger.Logger
}

func NewSoniox(apiKey string, logger *Logger.Logger) *SonioxProvider {
	return &SonioxProvider{apiKey: apiKey, logger: logger}
}

func (p *SonioxProvider) Name() string { return "soniox" }

func (p *SonioxProvider) Connect(ctx context.Context, cfg StreamConfig) (Stream, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, sonioxHost, nil)
	if err != nil {
		return nil, fmt.Errorf("soniox dial: %w", err)
	}

	start := map[string]any{
		"api_key":                    p.apiKey,
		"model":                      "stt-rt-preview",
		"audio_format":               "pcm_s16le",
		"sample_rate":                cfg.SampleRate,
		"num_channels":               1,
		"enable_speaker_diarization": true,
	}
	if cfg.Language != "" && cfg.Language != "auto" {
		start["language_hints"] = []string{cfg.Language}
	}
	if err := conn.WriteJSON(start); err != nil {
		conn.Close()
		return nil, fmt.Errorf("soniox start message: %w", err)
	}

	parser := &sonioxParser{}
	return newWSStream(conn, p.logger, parser.parse, func(c *websocket.Conn) error {
		// empty binary frame signals end of audio
		return c.WriteMessage(websocket.BinaryMessage, nil)
	}).start(), nil
}

type sonioxToken struct {
	Text    string `json:"text"`
	StartMs int    `json:"start_ms"`
	EndMs   int    `json:"end_ms"`
	IsFinal bool   `json:"is_final"`
	Speaker string `json:"speaker"`
}

type sonioxResponse struct {
	Tokens    []sonioxToken `json:"tokens"`
	ErrorCode int           `json:"error_code"`
	ErrorMsg  string        `json:"error_message"`
}

type sonioxParser struct {
	nextSeg int
}

func (sp *sonioxParser) parse(msgType int, data []byte) ([]TranscriptEvent, error) {
	if msgType != websocket.TextMessage {
		return nil, nil
	}
	var res sonioxResponse
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, err
	}
	if res.ErrorCode != 0 {
		return nil, fmt.Errorf("soniox error %d: %s", res.ErrorCode, res.ErrorMsg)
	}
	if len(res.Tokens) == 0 {
		return nil, nil
	}

	var events []TranscriptEvent
	cur := TranscriptEvent{SpeakerID: -1}
	var text strings.Builder
	flush := func() {
		if text.Len() == 0 {
			return
		}
		cur.Text = strings.TrimSpace(text.String())
		cur.SegmentID = fmt.Sprintf("sx-%d", sp.nextSeg)
		if cur.IsFinal {
			sp.nextSeg++
		}
		events = append(events, cur)
		text.Reset()
	}

	for _, tok := range res.Tokens {
		speaker := sonioxSpeaker(tok.Speaker)
		if cur.SpeakerID != -1 && (speaker != cur.SpeakerID || tok.IsFinal != cur.IsFinal) {
			flush()
			cur = TranscriptEvent{SpeakerID: -1}
		}
		if cur.SpeakerID == -1 {
			cur = TranscriptEvent{
				SpeakerID: speaker,
				Start:     float64(tok.StartMs) / 1000,
				IsFinal:   tok.IsFinal,
			}
		}
		cur.End = float64(tok.EndMs) / 1000
		text.WriteString(tok.Text)
	}
	flush()
	return events, nil
}

func sonioxSpeaker(s string) int {
	if s == "" {
		return 0
	}
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n = n*10 + int(r-'0')
		}
	}
	return n
}
