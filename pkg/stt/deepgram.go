package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gorilla/websocket"

	"github.com/auriclabs/auric/pkg/Logger"
)

const deepgramHost = "wss://api.deepgram.com/v1/listen"

// DeepgramProvider streams PCM to Deepgram's live listen API and maps
// its channel results to transcript events. Deepgram has no session
// resumption, so ResumeID is always empty and every reconnect opens a
// fresh segment-id namespace.
type DeepgramProvider struct {
	apiKey string
	logger *Logger.Logger
}

func NewDeepgram(apiKey string, logger *Logger.Logger) *DeepgramProvider {
	return &DeepgramProvider{apiKey: apiKey, logger: logger}
}

func (p *DeepgramProvider) Name() string { return "deepgram" }

func (p *DeepgramProvider) Connect(ctx context.Context, cfg StreamConfig) (Stream, error) {
	q := url.Values{}
	q.Set("model", "nova-2-general")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(cfg.SampleRate))
	q.Set("channels", "1")
	q.Set("interim_results", "true")
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	q.Set("diarize", "true")
	if cfg.Language != "" && cfg.Language != "auto" {
		q.Set("language", cfg.Language)
	}

	header := http.Header{}
	header.Set("Authorization", "Token "+p.apiKey)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, deepgramHost+"?"+q.Encode(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("deepgram dial: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("deepgram dial: %w", err)
	}

	return newWSStream(conn, p.logger, parseDeepgram, func(c *websocket.Conn) error {
		return c.WriteJSON(map[string]string{"type": "CloseStream"})
	}).start(), nil
}

type deepgramResult struct {
	Type    string `json:"type"`
	Channel struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
			Words      []struct {
				Word    string  `json:"punctuated_word"`
				Start   float64 `json:"start"`
				End     float64 `json:"end"`
				Speaker int     `json:"speaker"`
			} `json:"words"`
		} `json:"alternatives"`
		DetectedLanguage string `json:"detected_language"`
	} `json:"channel"`
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
	IsFinal  bool    `json:"is_final"`
}

func parseDeepgram(msgType int, data []byte) ([]TranscriptEvent, error) {
	if msgType != websocket.TextMessage {
		return nil, nil
	}
	var res deepgramResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, err
	}
	if res.Type != "Results" || len(res.Channel.Alternatives) == 0 {
		return nil, nil
	}
	alt := res.Channel.Alternatives[0]
	if alt.Transcript == "" {
		return nil, nil
	}
	speaker := 0
	if len(alt.Words) > 0 {
		speaker = alt.Words[0].Speaker
	}
	// Deepgram keys interim revisions of one utterance to the same
	// start offset, so start-in-millis is a stable segment id.
	ev := TranscriptEvent{
		SegmentID: fmt.Sprintf("dg-%d", int64(res.Start*1000)),
		SpeakerID: speaker,
		Text:      alt.Transcript,
		Start:     res.Start,
		End:       res.Start + res.Duration,
		IsFinal:   res.IsFinal,
		Language:  res.Channel.DetectedLanguage,
	}
	return []TranscriptEvent{ev}, nil
}
