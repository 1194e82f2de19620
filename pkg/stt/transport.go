package stt

import (
	"context"
	"math/rand"
	"time"

	"github.com/looplab/fsm"

	"github.com/auriclabs/auric/internal/types"
	"github.com/auriclabs/auric/pkg/Logger"
	"github.com/auriclabs/auric/pkg/stt/audiobuf"
)

// Transport states.
const (
	StateIdle         = "idle"
	StateConnecting   = "connecting"
	StateStreaming    = "streaming"
	StateReconnecting = "reconnecting"
	StateDraining     = "draining"
	StateClosed       = "closed"
)

// NoticeKind labels transport lifecycle notices for the supervisor.
type NoticeKind string

const (
	NoticeReconnecting NoticeKind = "reconnecting"
	NoticeReconnected  NoticeKind = "reconnected"
	NoticeUnavailable  NoticeKind = "unavailable"
)

// Notice is an out-of-band transport event. Transient errors never
// reach the conversation assembler; they surface here as telemetry.
type Notice struct {
	Kind NoticeKind
	// FreshNamespace is set on reconnects where the provider could not
	// resume: the merger must open a new segment-id namespace.
	FreshNamespace bool
	Err            error
}

type TransportConfig struct {
	SampleRate     int
	Language       string
	ConnectTimeout time.Duration // default 10s
	IdleTimeout    time.Duration // no events while chunks flow, default 30s
	BackoffInitial time.Duration // default 250ms
	BackoffCap     time.Duration // default 5s
	MaxAttempts    int           // default 6
	BufferSeconds  int           // reconnect buffer, default 10
	CloseAckWait   time.Duration // default 2s
}

func (c *TransportConfig) fillDefaults() {
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 30 * time.Second
	}
	if c.BackoffInitial == 0 {
		c.BackoffInitial = 250 * time.Millisecond
	}
	if c.BackoffCap == 0 {
		c.BackoffCap = 5 * time.Second
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 6
	}
	if c.BufferSeconds == 0 {
		c.BufferSeconds = 10
	}
	if c.CloseAckWait == 0 {
		c.CloseAckWait = 2 * time.Second
	}
}

// Transport owns the long-lived duplex connection to one STT provider.
// It is the connection's single owner: chunks go in through Input,
// normalized events come out of Events, lifecycle notices out of
// Notices. Run drives the state machine until the context fires.
type Transport struct {
	provider Provider
	cfg      TransportConfig
	logger   *Logger.Logger

	machine *fsm.FSM
	inCh    chan types.PcmChunk
	events  chan TranscriptEvent
	notices chan Notice
	buffer  *audiobuf.Buffer

	stream      Stream
	resumeID    string
	sentSince   bool // chunks sent since the last provider event
	lastEventAt time.Time
}

func NewTransport(provider Provider, cfg TransportConfig, logger *Logger.Logger) *Transport {
	cfg.fillDefaults()
	t := &Transport{
		provider: provider,
		cfg:      cfg,
		logger:   logger,
		inCh:     make(chan types.PcmChunk, 256),
		events:   make(chan TranscriptEvent, 64),
		notices:  make(chan Notice, 8),
		buffer:   audiobuf.New(cfg.BufferSeconds, cfg.SampleRate),
	}
	t.machine = fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: "chunk", Src: []string{StateIdle}, Dst: StateConnecting},
			{Name: "ready", Src: []string{StateConnecting, StateReconnecting}, Dst: StateStreaming},
			{Name: "drop", Src: []string{StateStreaming}, Dst: StateReconnecting},
			{Name: "retry_failed", Src: []string{StateConnecting, StateReconnecting}, Dst: StateDraining},
			{Name: "close", Src: []string{StateIdle, StateConnecting, StateStreaming, StateReconnecting, StateDraining}, Dst: StateClosed},
		},
		fsm.Callbacks{},
	)
	return t
}

// Input is the PCM feed. The channel is bounded; the session's tee
// task owns the send side.
func (t *Transport) Input() chan<- types.PcmChunk {
	return t.inCh
}

// Events yields provider-normalized transcript events in order.
func (t *Transport) Events() <-chan TranscriptEvent {
	return t.events
}

// Notices yields reconnect/unavailable telemetry.
func (t *Transport) Notices() <-chan Notice {
	return t.notices
}

// State reports the current machine state, for health checks.
func (t *Transport) State() string {
	return t.machine.Current()
}

// BufferedDrops reports chunks lost to reconnect-buffer overflow.
func (t *Transport) BufferedDrops() uint64 {
	return t.buffer.Dropped()
}

// Run drives the transport until ctx fires. It closes the events
// channel on exit; the caller drains it.
func (t *Transport) Run(ctx context.Context) {
	defer close(t.events)
	defer t.shutdown()

	for {
		switch t.machine.Current() {
		case StateIdle:
			select {
			case <-ctx.Done():
				t.transition(ctx, "close")
				return
			case chunk := <-t.inCh:
				t.bufferChunk(chunk)
				t.transition(ctx, "chunk")
			}

		case StateConnecting, StateReconnecting:
			if !t.connectWithRetry(ctx) {
				if ctx.Err() != nil {
					t.transition(ctx, "close")
					return
				}
				t.transition(ctx, "retry_failed")
				continue
			}
			t.transition(ctx, "ready")

		case StateStreaming:
			if done := t.streamLoop(ctx); done {
				t.transition(ctx, "close")
				return
			}
			// stream dropped, go reconnect
			t.transition(ctx, "drop")
			t.notify(Notice{Kind: NoticeReconnecting})

		case StateDraining:
			// retries exhausted: discard input until the session reacts
			t.notify(Notice{Kind: NoticeUnavailable, Err: ErrUnavailable})
			for {
				select {
				case <-ctx.Done():
					t.transition(ctx, "close")
					return
				case <-t.inCh:
					// drop; degraded mode keeps audio flowing elsewhere
				}
			}
		}
	}
}

// connectWithRetry opens a stream within exponential backoff. Incoming
// PCM keeps accumulating in the bounded buffer meanwhile.
func (t *Transport) connectWithRetry(ctx context.Context) bool {
	backoff := t.cfg.BackoffInitial
	for attempt := 1; attempt <= t.cfg.MaxAttempts; attempt++ {
		connectCtx, cancel := context.WithTimeout(ctx, t.cfg.ConnectTimeout)
		stream, err := t.provider.Connect(connectCtx, StreamConfig{
			SampleRate: t.cfg.SampleRate,
			Language:   t.cfg.Language,
			ResumeID:   t.resumeID,
		})
		cancel()

		if err == nil {
			resumed := t.resumeID != "" && stream.ResumeID() == t.resumeID
			t.stream = stream
			t.resumeID = stream.ResumeID()
			t.lastEventAt = time.Now()
			t.sentSince = false
			t.flushBuffer()
			if attempt > 1 || t.machine.Current() == StateReconnecting {
				t.notify(Notice{Kind: NoticeReconnected, FreshNamespace: !resumed})
			}
			return true
		}

		t.logger.Warnf("stt connect attempt %d/%d to %s failed: %v",
			attempt, t.cfg.MaxAttempts, t.provider.Name(), err)
		if ctx.Err() != nil {
			return false
		}
		if attempt == t.cfg.MaxAttempts {
			return false
		}

		if !t.sleepBuffering(ctx, jitter(backoff)) {
			return false
		}
		backoff *= 2
		if backoff > t.cfg.BackoffCap {
			backoff = t.cfg.BackoffCap
		}
	}
	return false
}

// streamLoop pumps chunks out and events in until the stream dies or
// ctx fires. Returns true when the session is shutting down.
func (t *Transport) streamLoop(ctx context.Context) bool {
	idle := time.NewTimer(t.cfg.IdleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return true

		case chunk := <-t.inCh:
			if err := t.stream.Send(chunk.Samples); err != nil {
				t.logger.Warnf("stt send failed: %v", err)
				t.bufferChunk(chunk)
				t.closeStream()
				return false
			}
			t.sentSince = true

		case ev, ok := <-t.stream.Events():
			if !ok {
				t.logger.Warnf("stt stream dropped: %v", t.stream.Err())
				t.closeStream()
				return false
			}
			t.sentSince = false
			t.lastEventAt = time.Now()
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(t.cfg.IdleTimeout)
			select {
			case t.events <- ev:
			case <-ctx.Done():
				return true
			}

		case <-idle.C:
			if t.sentSince {
				t.logger.Warnf("stt idle for %v with audio flowing, reconnecting", t.cfg.IdleTimeout)
				t.closeStream()
				return false
			}
			idle.Reset(t.cfg.IdleTimeout)
		}
	}
}

// sleepBuffering waits for d while spilling incoming PCM into the
// reconnect buffer.
func (t *Transport) sleepBuffering(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case chunk := <-t.inCh:
			t.bufferChunk(chunk)
		case <-timer.C:
			return true
		}
	}
}

func (t *Transport) bufferChunk(chunk types.PcmChunk) {
	_ = t.buffer.Enqueue(audiobuf.Chunk{Samples: chunk.Samples, RecvOffset: chunk.RecvOffset})
}

func (t *Transport) flushBuffer() {
	for _, c := range t.buffer.Drain() {
		if err := t.stream.Send(c.Samples); err != nil {
			t.logger.Warnf("stt flush send failed: %v", err)
			return
		}
	}
}

func (t *Transport) closeStream() {
	if t.stream == nil {
		return
	}
	done := make(chan struct{})
	s := t.stream
	go func() {
		_ = s.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(t.cfg.CloseAckWait):
		t.logger.Warnf("stt stream close not acked within %v, abandoning", t.cfg.CloseAckWait)
	}
	t.stream = nil
}

func (t *Transport) shutdown() {
	t.closeStream()
}

func (t *Transport) transition(ctx context.Context, event string) {
	if err := t.machine.Event(ctx, event); err != nil {
		// close is allowed from anywhere else; other conflicts are bugs
		t.logger.Debugf("stt fsm %s from %s: %v", event, t.machine.Current(), err)
	}
}

func (t *Transport) notify(n Notice) {
	select {
	case t.notices <- n:
	default:
		t.logger.Warnf("stt notice channel full, dropping %s", n.Kind)
	}
}

func jitter(d time.Duration) time.Duration {
	// +-20%
	delta := time.Duration(rand.Int63n(int64(d)/5*2+1)) - d/5
	return d + delta
}
