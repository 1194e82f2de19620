package stt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/auriclabs/auric/internal/types"
	"github.com/auriclabs/auric/pkg/Logger"
)

type fakeStream struct {
	mu       sync.Mutex
	sent     [][]byte
	events   chan TranscriptEvent
	err      error
	resumeID string
	failSend bool
	closed   bool
}

func newFakeStream(resumeID string) *fakeStream {
	return &fakeStream{
		events:   make(chan TranscriptEvent, 16),
		resumeID: resumeID,
	}
}

func (f *fakeStream) Send(pcm []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSend {
		return errors.New("send failed")
	}
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	f.sent = append(f.sent, cp)
	return nil
}

func (f *fakeStream) Events() <-chan TranscriptEvent { return f.events }

func (f *fakeStream) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakeStream) ResumeID() string { return f.resumeID }

func (f *fakeStream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.events)
	}
	return nil
}

func (f *fakeStream) breakStream(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		f.err = err
		close(f.events)
	}
}

func (f *fakeStream) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeProvider struct {
	mu       sync.Mutex
	failures int // connect attempts to fail before succeeding
	streams  []*fakeStream
	resume   bool // honor cfg.ResumeID
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Connect(_ context.Context, cfg StreamConfig) (Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failures > 0 {
		p.failures--
		return nil, errors.New("connect refused")
	}
	id := cfg.ResumeID
	if !p.resume || id == "" {
		id = fmt.Sprintf("session-%d", len(p.streams))
	}
	s := newFakeStream(id)
	p.streams = append(p.streams, s)
	return s, nil
}

func (p *fakeProvider) stream(i int) *fakeStream {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i >= len(p.streams) {
		return nil
	}
	return p.streams[i]
}

func testTransportConfig() TransportConfig {
	return TransportConfig{
		SampleRate:     16000,
		ConnectTimeout: time.Second,
		IdleTimeout:    time.Minute,
		BackoffInitial: time.Millisecond,
		BackoffCap:     5 * time.Millisecond,
		MaxAttempts:    3,
		BufferSeconds:  2,
		CloseAckWait:   100 * time.Millisecond,
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestTransportStreamsChunksAndEvents(t *testing.T) {
	provider := &fakeProvider{}
	tr := NewTransport(provider, testTransportConfig(), Logger.New(true))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { tr.Run(ctx); close(done) }()

	tr.Input() <- types.PcmChunk{Samples: []byte{1, 2, 3}}
	waitFor(t, "chunk delivery", func() bool {
		s := provider.stream(0)
		return s != nil && s.sentCount() == 1
	})

	provider.stream(0).events <- TranscriptEvent{SegmentID: "a", Text: "hello", IsFinal: true}
	ev := <-tr.Events()
	if ev.Text != "hello" || !ev.IsFinal {
		t.Errorf("unexpected event: %+v", ev)
	}
	if got := tr.State(); got != StateStreaming {
		t.Errorf("state = %s, want %s", got, StateStreaming)
	}

	cancel()
	<-done
	if _, ok := <-tr.Events(); ok {
		t.Error("events channel not closed after Run returned")
	}
	if !provider.stream(0).closed {
		t.Error("stream not closed on shutdown")
	}
}

func TestTransportReconnectsAndReplaysBuffer(t *testing.T) {
	provider := &fakeProvider{resume: true}
	tr := NewTransport(provider, testTransportConfig(), Logger.New(true))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tr.Run(ctx)

	tr.Input() <- types.PcmChunk{Samples: []byte{1}}
	waitFor(t, "first stream", func() bool {
		s := provider.stream(0)
		return s != nil && s.sentCount() == 1
	})

	provider.stream(0).breakStream(errors.New("network blip"))

	n := <-tr.Notices()
	if n.Kind != NoticeReconnecting {
		t.Fatalf("notice = %s, want %s", n.Kind, NoticeReconnecting)
	}

	// audio arriving mid-reconnect must be buffered, not lost
	tr.Input() <- types.PcmChunk{Samples: []byte{2}}
	tr.Input() <- types.PcmChunk{Samples: []byte{3}}

	n = <-tr.Notices()
	if n.Kind != NoticeReconnected {
		t.Fatalf("notice = %s, want %s", n.Kind, NoticeReconnected)
	}
	if n.FreshNamespace {
		t.Error("resume honored but FreshNamespace set")
	}

	waitFor(t, "buffered replay", func() bool {
		s := provider.stream(1)
		return s != nil && s.sentCount() >= 2
	})
}

func TestTransportFreshNamespaceWhenResumeUnsupported(t *testing.T) {
	provider := &fakeProvider{resume: false}
	tr := NewTransport(provider, testTransportConfig(), Logger.New(true))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tr.Run(ctx)

	tr.Input() <- types.PcmChunk{Samples: []byte{1}}
	waitFor(t, "first stream", func() bool { return provider.stream(0) != nil })

	provider.stream(0).breakStream(errors.New("gone"))
	<-tr.Notices() // reconnecting
	n := <-tr.Notices()
	if n.Kind != NoticeReconnected || !n.FreshNamespace {
		t.Errorf("want fresh-namespace reconnected notice, got %+v", n)
	}
}

func TestTransportUnavailableAfterRetriesExhausted(t *testing.T) {
	provider := &fakeProvider{failures: 100}
	tr := NewTransport(provider, testTransportConfig(), Logger.New(true))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tr.Run(ctx)

	tr.Input() <- types.PcmChunk{Samples: []byte{1}}

	n := <-tr.Notices()
	if n.Kind != NoticeUnavailable {
		t.Fatalf("notice = %s, want %s", n.Kind, NoticeUnavailable)
	}
	waitFor(t, "draining state", func() bool { return tr.State() == StateDraining })

	// input keeps being accepted and discarded
	select {
	case tr.Input() <- types.PcmChunk{Samples: []byte{2}}:
	case <-time.After(time.Second):
		t.Error("input blocked while draining")
	}
}

func TestTransportConnectRetryWithinBudget(t *testing.T) {
	provider := &fakeProvider{failures: 2}
	tr := NewTransport(provider, testTransportConfig(), Logger.New(true))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tr.Run(ctx)

	tr.Input() <- types.PcmChunk{Samples: []byte{7}}
	waitFor(t, "eventual connect", func() bool {
		s := provider.stream(0)
		return s != nil && s.sentCount() == 1
	})
	if got := tr.State(); got != StateStreaming {
		t.Errorf("state = %s, want %s", got, StateStreaming)
	}
}
