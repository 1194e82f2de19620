package session

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/auriclabs/auric/internal/config"
	convdomain "github.com/auriclabs/auric/internal/domains/conversation"
	"github.com/auriclabs/auric/internal/fanout"
	"github.com/auriclabs/auric/internal/pipeline/preprocess"
	"github.com/auriclabs/auric/internal/types"
	"github.com/auriclabs/auric/pkg/Logger"
	"github.com/auriclabs/auric/pkg/stt"
)

type fakeStream struct {
	mu     sync.Mutex
	sent   [][]byte
	events chan stt.TranscriptEvent
	closed bool
}

func newFakeStream() *fakeStream {
	return &fakeStream{events: make(chan stt.TranscriptEvent, 16)}
}

func (f *fakeStream) Send(pcm []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	f.sent = append(f.sent, cp)
	return nil
}

func (f *fakeStream) Events() <-chan stt.TranscriptEvent { return f.events }
func (f *fakeStream) Err() error                         { return nil }
func (f *fakeStream) ResumeID() string                   { return "" }

func (f *fakeStream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.events)
	}
	return nil
}

func (f *fakeStream) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeProvider struct {
	mu      sync.Mutex
	streams []*fakeStream
	fail    bool
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Connect(_ context.Context, _ stt.StreamConfig) (stt.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, errors.New("connect refused")
	}
	s := newFakeStream()
	f.streams = append(f.streams, s)
	return s, nil
}

func (f *fakeProvider) last() *fakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.streams) == 0 {
		return nil
	}
	return f.streams[len(f.streams)-1]
}

type fakeConvService struct {
	mu        sync.Mutex
	finished  []*types.Conversation
	saved     []*types.Conversation
	resume    *types.Conversation
	resumeAdd float64
	last      []types.Conversation
}

func (f *fakeConvService) SaveInProgress(_ context.Context, conv *types.Conversation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, conv)
	return nil
}

func (f *fakeConvService) Finish(_ context.Context, conv *types.Conversation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished = append(f.finished, conv)
	return nil
}

func (f *fakeConvService) Resume(_ context.Context, _ string) (*types.Conversation, float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resume == nil {
		return nil, 0, convdomain.ErrNoResumble
	}
	return f.resume, f.resumeAdd, nil
}

func (f *fakeConvService) Get(_ context.Context, _ string, _ uuid.UUID) (*types.Conversation, error) {
	return nil, convdomain.ErrNotFound
}

func (f *fakeConvService) List(_ context.Context, _ string, _ convdomain.ListQuery) ([]types.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last, nil
}

func (f *fakeConvService) finishedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.finished)
}

func testConfig() Config {
	return Config{
		UID:        "u1",
		DeviceID:   "d1",
		SessionID:  uuid.New(),
		Codec:      types.CodecPCM16,
		SampleRate: 16000,
		Language:   "en",
		Pipeline: config.PipelineConfig{
			SilenceCloseSeconds:    120,
			MaxConversationSeconds: 7200,
			MaxSegments:            2000,
			MinWords:               1,
			VADEnabled:             false,
			TeardownDeadlineSecs:   2,
			SubscriberBlockSecs:    1,
		},
		STT: config.STTConfig{
			ReconnectMaxAttempts: 1,
			ReconnectBufferSecs:  1,
		},
	}
}

func startSession(t *testing.T, cfg Config, p stt.Provider, svc convdomain.ConversationService) (*Session, context.CancelFunc) {
	t.Helper()
	s, err := New(cfg, Deps{
		Provider:      p,
		Conversations: svc,
		Logger:        Logger.New(false),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)
	return s, cancel
}

// nextEvent blocks for the next session event, failing after timeout.
func nextEvent(t *testing.T, s *Session) (types.MessageEvent, bool) {
	t.Helper()
	select {
	case ev, ok := <-s.Events():
		return ev, ok
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for session event")
		return types.MessageEvent{}, false
	}
}

// waitEvent drains events until one of the wanted type arrives.
func waitEvent(t *testing.T, s *Session, want types.EventType) types.MessageEvent {
	t.Helper()
	for {
		ev, ok := nextEvent(t, s)
		if !ok {
			t.Fatalf("events closed before %s arrived", want)
		}
		if ev.Type == want {
			return ev
		}
	}
}

func waitDone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("session did not finish teardown")
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func pcmFrame(seq uint16) types.AudioFrame {
	payload := make([]byte, 320)
	for i := range payload {
		payload[i] = byte(i % 7 * 30) // non-silent
	}
	return types.AudioFrame{Codec: types.CodecPCM16, Payload: payload, Seq: seq}
}

func TestSessionStatusLadder(t *testing.T) {
	s, cancel := startSession(t, testConfig(), &fakeProvider{}, &fakeConvService{})

	want := []string{
		types.ServiceStatusInitiating,
		types.ServiceStatusSTTInitiating,
		types.ServiceStatusReady,
	}
	for _, status := range want {
		ev := waitEvent(t, s, types.EventServiceStatus)
		data, ok := ev.Data.(types.ServiceStatusData)
		if !ok {
			t.Fatalf("service_status data has type %T", ev.Data)
		}
		if data.Status != status {
			t.Errorf("Expected status %q, got %q", status, data.Status)
		}
	}

	cancel()
	ev := waitEvent(t, s, types.EventClosed)
	data := ev.Data.(types.ClosedData)
	if data.Reason != types.CloseReasonShutdown {
		t.Errorf("Expected close reason shutdown, got %s", data.Reason)
	}
	waitDone(t, s)
}

func TestSessionTranscriptToConversation(t *testing.T) {
	p := &fakeProvider{}
	svc := &fakeConvService{}
	s, cancel := startSession(t, testConfig(), p, svc)

	waitEvent(t, s, types.EventServiceStatus)
	s.HandleFrame(pcmFrame(0))

	waitFor(t, "stream connect and first send", func() bool {
		st := p.last()
		return st != nil && st.sentCount() > 0
	})

	p.last().events <- stt.TranscriptEvent{
		SegmentID: "s1",
		SpeakerID: 0,
		Text:      "hello there friend",
		Start:     0,
		End:       1.2,
		IsFinal:   true,
	}

	ev := waitEvent(t, s, types.EventTranscript)
	delta, ok := ev.Data.(types.SegmentDelta)
	if !ok {
		t.Fatalf("transcript data has type %T", ev.Data)
	}
	if delta.Segment.Text != "hello there friend" {
		t.Errorf("Expected segment text, got %q", delta.Segment.Text)
	}

	cancel()
	waitDone(t, s)

	if svc.finishedCount() != 1 {
		t.Fatalf("Expected 1 finished conversation, got %d", svc.finishedCount())
	}
	svc.mu.Lock()
	conv := svc.finished[0]
	svc.mu.Unlock()
	if conv.UID != "u1" {
		t.Errorf("Expected conversation owned by u1, got %q", conv.UID)
	}
	if len(conv.Segments) != 1 {
		t.Errorf("Expected 1 segment, got %d", len(conv.Segments))
	}
	if conv.Language != "en" {
		t.Errorf("Expected session language stamped, got %q", conv.Language)
	}
}

func TestSessionGeolocationStamped(t *testing.T) {
	p := &fakeProvider{}
	svc := &fakeConvService{}
	s, cancel := startSession(t, testConfig(), p, svc)

	s.SetGeolocation(types.Geolocation{Latitude: 52.3, Longitude: 4.9})
	s.HandleFrame(pcmFrame(0))
	waitFor(t, "stream connect", func() bool { return p.last() != nil })
	p.last().events <- stt.TranscriptEvent{SegmentID: "s1", Text: "we are here now", IsFinal: true, End: 1}
	waitEvent(t, s, types.EventTranscript)

	cancel()
	waitDone(t, s)

	if svc.finishedCount() != 1 {
		t.Fatalf("Expected 1 finished conversation, got %d", svc.finishedCount())
	}
	svc.mu.Lock()
	geo := svc.finished[0].Geolocation
	svc.mu.Unlock()
	if geo == nil || geo.Latitude != 52.3 {
		t.Errorf("Expected geolocation stamped on close, got %+v", geo)
	}
}

func TestSessionDegradedMode(t *testing.T) {
	p := &fakeProvider{fail: true}
	cfg := testConfig()
	cfg.STT.DegradedModeEnabled = true
	s, cancel := startSession(t, cfg, p, &fakeConvService{})

	sink := fanout.NewChannelSink(64)
	s.Subscribe(types.Subscription{
		SubscriberID: "test",
		Channel:      types.ChannelAudioBytes,
		Policy:       types.DropOldest,
	}, sink)

	s.HandleFrame(pcmFrame(0))
	ev := waitEvent(t, s, types.EventDegraded)
	data := ev.Data.(types.DegradedData)
	if data.Reason != "stt_unavailable" {
		t.Errorf("Expected degraded reason stt_unavailable, got %q", data.Reason)
	}
	if !s.Degraded() {
		t.Error("Expected session to report degraded")
	}

	// audio keeps flowing to subscribers without transcription
	s.HandleFrame(pcmFrame(1))
	waitFor(t, "audio fan-out delivery", func() bool { return len(sink.C) > 0 })

	cancel()
	waitDone(t, s)
}

func TestSessionSTTUnavailableCloses(t *testing.T) {
	p := &fakeProvider{fail: true}
	cfg := testConfig()
	cfg.STT.DegradedModeEnabled = false
	s, cancel := startSession(t, cfg, p, &fakeConvService{})
	defer cancel()

	s.HandleFrame(pcmFrame(0))
	ev := waitEvent(t, s, types.EventClosed)
	data := ev.Data.(types.ClosedData)
	if data.Reason != types.CloseReasonSTTUnavailable {
		t.Errorf("Expected close reason stt_unavailable, got %s", data.Reason)
	}
	waitDone(t, s)
}

func TestSessionCodecMismatchFatal(t *testing.T) {
	s, cancel := startSession(t, testConfig(), &fakeProvider{}, &fakeConvService{})
	defer cancel()

	s.HandleFrame(types.AudioFrame{Codec: types.CodecOpus, Payload: []byte{1, 2, 3}})

	waitEvent(t, s, types.EventError)
	ev := waitEvent(t, s, types.EventClosed)
	data := ev.Data.(types.ClosedData)
	if data.Reason != types.CloseReasonCodecMismatch {
		t.Errorf("Expected close reason codec_mismatch, got %s", data.Reason)
	}
	waitDone(t, s)
}

func TestSessionResumesInProgressConversation(t *testing.T) {
	resumeID := uuid.New()
	svc := &fakeConvService{
		resume: &types.Conversation{
			ID:        resumeID,
			UID:       "u1",
			Status:    types.StatusInProgress,
			StartedAt: time.Now().Add(-time.Minute),
			Segments: []types.TranscriptSegment{
				{ID: uuid.New(), Text: "picking up where we left off", IsFinal: true, End: 4},
			},
		},
		resumeAdd: 60,
	}
	s, cancel := startSession(t, testConfig(), &fakeProvider{}, svc)

	waitEvent(t, s, types.EventServiceStatus)
	cancel()
	waitDone(t, s)

	if svc.finishedCount() != 1 {
		t.Fatalf("Expected resumed conversation sealed at teardown, got %d finished", svc.finishedCount())
	}
	svc.mu.Lock()
	conv := svc.finished[0]
	svc.mu.Unlock()
	if conv.ID != resumeID {
		t.Errorf("Expected resumed conversation %s, got %s", resumeID, conv.ID)
	}
}

func TestSessionAnnouncesLastConversation(t *testing.T) {
	lastID := uuid.New()
	svc := &fakeConvService{
		last: []types.Conversation{{ID: lastID, Status: types.StatusCompleted}},
	}
	s, cancel := startSession(t, testConfig(), &fakeProvider{}, svc)
	defer cancel()

	ev := waitEvent(t, s, types.EventLastConversation)
	conv, ok := ev.Data.(types.Conversation)
	if !ok {
		t.Fatalf("last_conversation data has type %T", ev.Data)
	}
	if conv.ID != lastID {
		t.Errorf("Expected last conversation %s, got %s", lastID, conv.ID)
	}
}

func TestSessionCountsSeqGaps(t *testing.T) {
	p := &fakeProvider{}
	s, cancel := startSession(t, testConfig(), p, &fakeConvService{})

	waitEvent(t, s, types.EventServiceStatus)
	s.HandleFrame(pcmFrame(1))
	s.HandleFrame(pcmFrame(2))
	s.HandleFrame(pcmFrame(5)) // 3 and 4 lost in transit

	waitFor(t, "seq gap counter", func() bool { return s.SeqGaps() == 2 })

	// the pipeline keeps running across the gap
	waitFor(t, "stream connect and sends", func() bool {
		st := p.last()
		return st != nil && st.sentCount() == 3
	})

	cancel()
	waitDone(t, s)
}

func TestSessionCountsSeqGapAcrossWrap(t *testing.T) {
	p := &fakeProvider{}
	s, cancel := startSession(t, testConfig(), p, &fakeConvService{})

	waitEvent(t, s, types.EventServiceStatus)
	s.HandleFrame(pcmFrame(65534))
	s.HandleFrame(pcmFrame(1)) // 65535 and 0 lost across the wrap

	waitFor(t, "wrap-aware gap counter", func() bool { return s.SeqGaps() == 2 })

	cancel()
	waitDone(t, s)
}

func TestSessionAttributesOwnerSegments(t *testing.T) {
	p := &fakeProvider{}
	svc := &fakeConvService{}
	cfg := testConfig()

	// enroll the exact fingerprint of the test audio so the smoothed
	// score saturates
	fp := preprocess.Fingerprint(pcmFrame(0).Payload)
	s, err := New(cfg, Deps{
		Provider:      p,
		Conversations: svc,
		Profile:       fp[:],
		Logger:        Logger.New(false),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)

	waitEvent(t, s, types.EventServiceStatus)
	for seq := uint16(0); seq < 4; seq++ {
		s.HandleFrame(pcmFrame(seq))
	}
	waitFor(t, "stream connect and sends", func() bool {
		st := p.last()
		return st != nil && st.sentCount() == 4
	})

	p.last().events <- stt.TranscriptEvent{SegmentID: "s1", SpeakerID: 0, Text: "that was me", IsFinal: true, End: 1}

	ev := waitEvent(t, s, types.EventTranscript)
	delta := ev.Data.(types.SegmentDelta)
	if !delta.Segment.IsUser {
		t.Error("Expected segment attributed to the enrolled owner")
	}

	cancel()
	waitDone(t, s)
}

func TestSessionWebhookSubscriberGetsAudio(t *testing.T) {
	type hit struct {
		contentType string
		channel     string
		bodyLen     int
	}
	hits := make(chan hit, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		hits <- hit{
			contentType: r.Header.Get("Content-Type"),
			channel:     r.Header.Get("X-Auric-Channel"),
			bodyLen:     len(body),
		}
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.Fanout = config.FanoutConfig{Subscribers: []config.FanoutSubscriber{
		{ID: "integration-1", Channel: "audio_bytes", URL: srv.URL, Policy: "drop_oldest"},
	}}
	s, cancel := startSession(t, cfg, &fakeProvider{}, &fakeConvService{})

	waitEvent(t, s, types.EventServiceStatus)
	s.HandleFrame(pcmFrame(0))

	select {
	case h := <-hits:
		if h.contentType != "application/octet-stream" {
			t.Errorf("content type = %q", h.contentType)
		}
		if h.channel != "audio_bytes" {
			t.Errorf("channel header = %q", h.channel)
		}
		if h.bodyLen != 320 {
			t.Errorf("body length = %d, want 320", h.bodyLen)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("configured webhook subscriber never received audio")
	}

	cancel()
	waitDone(t, s)
}

func TestSessionDrainsPendingFinalsOnClose(t *testing.T) {
	p := &fakeProvider{}
	svc := &fakeConvService{}
	s, cancel := startSession(t, testConfig(), p, svc)

	waitEvent(t, s, types.EventServiceStatus)
	s.HandleFrame(pcmFrame(0))
	waitFor(t, "stream connect and first send", func() bool {
		st := p.last()
		return st != nil && st.sentCount() > 0
	})

	// the provider's final is still queued when the session is closed
	p.last().events <- stt.TranscriptEvent{SegmentID: "s1", SpeakerID: 0, Text: "parting words", IsFinal: true, End: 1}
	cancel()
	waitDone(t, s)

	if svc.finishedCount() != 1 {
		t.Fatalf("Expected 1 finished conversation, got %d", svc.finishedCount())
	}
	svc.mu.Lock()
	conv := svc.finished[0]
	svc.mu.Unlock()
	if len(conv.Segments) != 1 || conv.Segments[0].Text != "parting words" {
		t.Errorf("in-flight final dropped at close: %+v", conv.Segments)
	}
}
