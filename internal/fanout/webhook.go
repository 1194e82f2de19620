package fanout

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/auriclabs/auric/internal/types"
	"github.com/auriclabs/auric/pkg/Logger"
)

// WebhookSink posts deliveries to an external integration endpoint.
// audio_bytes payloads go out as raw PCM16 with the sample rate in a
// header; everything else is JSON.
type WebhookSink struct {
	url        string
	channel    types.Channel
	sampleRate int
	client     *http.Client
	logger     *Logger.Logger
}

func NewWebhookSink(url string, sub types.Subscription, logger *Logger.Logger) *WebhookSink {
	return &WebhookSink{
		url:        url,
		channel:    sub.Channel,
		sampleRate: sub.SampleRate,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
		logger: logger,
	}
}

func (w *WebhookSink) Deliver(ctx context.Context, payload any) error {
	var body []byte
	contentType := "application/json"

	var chunk *types.PcmChunk
	if w.channel == types.ChannelAudioBytes {
		switch v := payload.(type) {
		case types.PcmChunk:
			chunk = &v
			body = v.Samples
		case []byte:
			body = v
		default:
			return fmt.Errorf("audio webhook got %T, want PcmChunk or []byte", payload)
		}
		contentType = "application/octet-stream"
	} else {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal webhook payload: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Auric-Channel", string(w.channel))
	if w.channel == types.ChannelAudioBytes && w.sampleRate > 0 {
		req.Header.Set("X-Auric-Sample-Rate", fmt.Sprintf("%d", w.sampleRate))
	}
	if chunk != nil {
		// pre-processor annotations ride along as headers
		if chunk.OwnerScore >= 0 {
			req.Header.Set("X-Auric-Owner-Score", fmt.Sprintf("%.3f", chunk.OwnerScore))
		}
		if chunk.Silent {
			req.Header.Set("X-Auric-Silent", "1")
		}
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook post: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func (w *WebhookSink) Close() error { return nil }

// ChannelSink adapts an in-process consumer channel to the Sink
// interface; the websocket event writer subscribes this way.
type ChannelSink struct {
	C chan any
}

func NewChannelSink(cap int) *ChannelSink {
	if cap <= 0 {
		cap = DefaultQueueCap
	}
	return &ChannelSink{C: make(chan any, cap)}
}

func (c *ChannelSink) Deliver(ctx context.Context, payload any) error {
	select {
	case c.C <- payload:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *ChannelSink) Close() error {
	close(c.C)
	return nil
}
