package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/auriclabs/auric/internal/config"
	convdomain "github.com/auriclabs/auric/internal/domains/conversation"
	"github.com/auriclabs/auric/internal/fanout"
	"github.com/auriclabs/auric/internal/pipeline/assembler"
	"github.com/auriclabs/auric/internal/pipeline/merger"
	"github.com/auriclabs/auric/internal/pipeline/preprocess"
	"github.com/auriclabs/auric/internal/pipeline/translate"
	"github.com/auriclabs/auric/internal/types"
	"github.com/auriclabs/auric/pkg/Logger"
	"github.com/auriclabs/auric/pkg/audio/decode"
	"github.com/auriclabs/auric/pkg/audio/vad"
	"github.com/auriclabs/auric/pkg/stt"
)

// checkpointInterval paces in-progress persistence so a crashed
// instance loses at most this much transcript.
const checkpointInterval = 30 * time.Second

type Config struct {
	UID        string
	DeviceID   string
	SessionID  uuid.UUID
	Codec      types.Codec
	SampleRate int
	Language   string

	// SpeechProfileID selects whose enrollment to score chunks
	// against; empty means the connecting user's own profile.
	SpeechProfileID string

	Pipeline    config.PipelineConfig
	Fanout      config.FanoutConfig
	STT         config.STTConfig
	Translation config.TranslationConfig
}

// Deps are the shared services a session borrows from the app.
type Deps struct {
	Provider       stt.Provider
	Conversations  convdomain.ConversationService
	Translator     translate.Backend // nil disables translation
	TranslateCache translate.Cache   // shared across sessions, nil for in-memory per session
	Profile        []float32         // speech profile embedding, nil if unenrolled
	Logger         *Logger.Logger
}

// Session supervises one device's pipeline: decoder, VAD gate, STT
// transport, merger, translator, assembler and fan-out run under it,
// and it owns their teardown order. Frames come in through
// HandleFrame; client-bound JSON events come out of Events.
type Session struct {
	cfg    Config
	deps   Deps
	logger *Logger.Logger

	decoder    decode.Decoder
	pre        *preprocess.Preprocessor
	transport  *stt.Transport
	merger     *merger.Merger
	translator *translate.Translator
	asm        *assembler.Assembler
	bus        *fanout.Bus

	frames  chan types.AudioFrame
	events  chan types.MessageEvent
	results chan assembler.Result

	startedAt   time.Time
	lastFrameAt atomic.Int64 // unix nanos
	degraded    atomic.Bool

	owner *ownerTracker // nil when unenrolled

	seqSeen bool
	lastSeq uint16
	seqGaps atomic.Uint64

	geoMu sync.Mutex
	geo   *types.Geolocation

	closeOnce   sync.Once
	closeReason types.CloseReason
	cancelRun   context.CancelFunc
	done        chan struct{}
}

func New(cfg Config, deps Deps) (*Session, error) {
	if !cfg.Codec.Valid() {
		return nil, decode.ErrCodecMismatch
	}
	dec, err := decode.New(cfg.Codec, cfg.SampleRate)
	if err != nil {
		return nil, err
	}

	logger := deps.Logger.Named("session")

	detector := vad.NewEnergyVAD(vad.Config{
		SampleRate:     cfg.SampleRate,
		Aggressiveness: cfg.Pipeline.VADAggressiveness,
	}, logger)
	var profile *preprocess.SpeechProfile
	if len(deps.Profile) > 0 {
		profile = &preprocess.SpeechProfile{Embedding: deps.Profile}
	}
	pre := preprocess.New(preprocess.Policy{
		VADEnabled:  cfg.Pipeline.VADEnabled,
		DropSilence: cfg.Pipeline.DropSilence,
	}, detector, profile, logger)

	transport := stt.NewTransport(deps.Provider, stt.TransportConfig{
		SampleRate:    cfg.SampleRate,
		Language:      cfg.Language,
		MaxAttempts:   cfg.STT.ReconnectMaxAttempts,
		BufferSeconds: cfg.STT.ReconnectBufferSecs,
	}, logger)

	var translator *translate.Translator
	if deps.Translator != nil && cfg.Translation.Enabled {
		translator = translate.New(deps.Translator, deps.TranslateCache, cfg.Translation.TargetLanguage, logger)
	}

	s := &Session{
		cfg:       cfg,
		deps:      deps,
		logger:    logger,
		decoder:   dec,
		pre:       pre,
		transport: transport,
		merger:    merger.New(merger.DefaultMergeGap, logger),
		bus: fanout.NewBus(
			cfg.Pipeline.SubscriberBlockTimeout(), logger),
		translator: translator,
		frames:     make(chan types.AudioFrame, 256),
		events:     make(chan types.MessageEvent, 64),
		results:    make(chan assembler.Result, 4),
		done:       make(chan struct{}),
	}
	if profile != nil {
		s.owner = &ownerTracker{}
	}
	s.asm = assembler.New(assembler.Config{
		SilenceTimeout: cfg.Pipeline.SilenceClose(),
		MaxDuration:    cfg.Pipeline.MaxConversation(),
		MaxSegments:    cfg.Pipeline.MaxSegments,
		MinWords:       cfg.Pipeline.MinWords,
	}, logger, func(r assembler.Result) {
		select {
		case s.results <- r:
		case <-s.done:
		}
	})
	s.subscribeIntegrations()
	return s, nil
}

// subscribeIntegrations attaches the configured webhook endpoints to
// the fan-out bus before any audio flows.
func (s *Session) subscribeIntegrations() {
	for _, sc := range s.cfg.Fanout.Subscribers {
		if sc.ID == "" || sc.URL == "" {
			s.logger.Warnf("session %s: skipping fanout subscriber with empty id or url", s.cfg.SessionID)
			continue
		}
		qc := sc.QueueCap
		if qc <= 0 {
			qc = s.cfg.Pipeline.SubscriberQueueCap
		}
		policy := types.OverflowPolicy(sc.Policy)
		if policy == "" {
			policy = types.DropOldest
		}
		sub := types.Subscription{
			SubscriberID: sc.ID,
			Channel:      types.Channel(sc.Channel),
			QueueCap:     qc,
			Policy:       policy,
			SampleRate:   s.cfg.SampleRate,
		}
		s.bus.Subscribe(sub, fanout.NewWebhookSink(sc.URL, sub, s.logger))
	}
}

// Events yields session JSON events until the session closes.
func (s *Session) Events() <-chan types.MessageEvent { return s.events }

// Done closes when teardown has finished.
func (s *Session) Done() <-chan struct{} { return s.done }

// Degraded reports whether audio is flowing without transcription.
func (s *Session) Degraded() bool { return s.degraded.Load() }

// Subscribe attaches an integration to one fan-out channel.
func (s *Session) Subscribe(sub types.Subscription, sink fanout.Sink) {
	s.bus.Subscribe(sub, sink)
}

// Unsubscribe detaches one integration.
func (s *Session) Unsubscribe(id string) {
	s.bus.Unsubscribe(id)
}

// HandleFrame enqueues one client audio frame; drops when the session
// is backed up so the socket read loop never blocks.
func (s *Session) HandleFrame(frame types.AudioFrame) {
	s.lastFrameAt.Store(time.Now().UnixNano())
	select {
	case s.frames <- frame:
	default:
		s.logger.Warnf("session %s: frame queue full, dropping seq %d", s.cfg.SessionID, frame.Seq)
	}
}

// SetGeolocation records where the conversation is happening; it is
// stamped onto the conversation at close.
func (s *Session) SetGeolocation(geo types.Geolocation) {
	s.geoMu.Lock()
	s.geo = &geo
	s.geoMu.Unlock()
}

// CloseConversation ends the open conversation on client request
// without ending the session.
func (s *Session) CloseConversation() {
	s.asm.Close(assembler.TriggerCancel)
}

// Run drives the session until ctx fires or a fatal condition closes
// it. It emits the boot status ladder, resumes any in-progress
// conversation, then pumps the pipeline.
func (s *Session) Run(ctx context.Context) {
	ctx, s.cancelRun = context.WithCancel(ctx)
	s.startedAt = time.Now()
	s.lastFrameAt.Store(s.startedAt.UnixNano())

	s.emit(types.EventServiceStatus, types.ServiceStatusData{Status: types.ServiceStatusInitiating})
	s.resume(ctx)
	s.announceLastConversation(ctx)

	s.emit(types.EventServiceStatus, types.ServiceStatusData{Status: types.ServiceStatusSTTInitiating})
	transportCtx, stopTransport := context.WithCancel(context.Background())
	transportDone := make(chan struct{})
	go func() {
		s.transport.Run(transportCtx)
		close(transportDone)
	}()
	s.emit(types.EventServiceStatus, types.ServiceStatusData{Status: types.ServiceStatusReady})

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	lastCheckpoint := time.Now()

	softTimeout := s.cfg.Pipeline.SessionSoftTimeout()

	defer s.teardown(stopTransport, transportDone)

	for {
		select {
		case <-ctx.Done():
			s.setCloseReason(types.CloseReasonShutdown)
			return

		case frame := <-s.frames:
			if fatal := s.processFrame(frame); fatal {
				return
			}

		case ev, ok := <-s.transport.Events():
			if !ok {
				s.setCloseReason(types.CloseReasonSTTUnavailable)
				return
			}
			s.processTranscript(ctx, ev)

		case notice := <-s.transport.Notices():
			if fatal := s.processNotice(notice); fatal {
				return
			}

		case r := <-s.results:
			s.finishConversation(ctx, r)

		case <-ticker.C:
			s.asm.Tick()
			if time.Since(lastCheckpoint) >= checkpointInterval {
				s.checkpoint(ctx)
				lastCheckpoint = time.Now()
			}
			if softTimeout > 0 {
				idle := time.Since(time.Unix(0, s.lastFrameAt.Load()))
				if idle >= softTimeout {
					s.logger.Infof("session %s: no audio for %v, soft timeout", s.cfg.SessionID, idle)
					s.setCloseReason(types.CloseReasonSoftTimeout)
					return
				}
			}
		}
	}
}

// processFrame decodes, gates and tees one frame. A codec mismatch is
// fatal for the session; other decode failures just count drops.
func (s *Session) processFrame(frame types.AudioFrame) bool {
	s.observeSeq(frame.Seq)

	chunk, err := s.decoder.Decode(frame)
	if err != nil {
		if errors.Is(err, decode.ErrCodecMismatch) {
			s.emit(types.EventError, types.DegradedData{Reason: "codec mismatch"})
			s.setCloseReason(types.CloseReasonCodecMismatch)
			return true
		}
		return false
	}

	out := s.pre.Process(*chunk)
	if s.owner != nil && !out.Chunk.Silent {
		s.owner.observe(out.Chunk.OwnerScore)
	}
	s.bus.Publish(types.ChannelAudioBytes, out.Chunk)

	if out.ForwardToSTT && !s.degraded.Load() {
		select {
		case s.transport.Input() <- out.Chunk:
		default:
			s.logger.Warnf("session %s: stt input backed up, dropping chunk", s.cfg.SessionID)
		}
	}
	return false
}

// observeSeq tracks wrap-aware frame sequence gaps. Gaps are reported
// and counted; the pipeline keeps going.
func (s *Session) observeSeq(seq uint16) {
	if s.seqSeen {
		if delta := seq - s.lastSeq; delta > 1 && delta < 1<<15 {
			missing := uint64(delta) - 1
			s.seqGaps.Add(missing)
			s.logger.Warnf("session %s: %d frame(s) missing before seq %d", s.cfg.SessionID, missing, seq)
		}
	}
	s.seqSeen = true
	s.lastSeq = seq
}

// SeqGaps reports how many frames the sequence numbers say were lost.
func (s *Session) SeqGaps() uint64 { return s.seqGaps.Load() }

func (s *Session) processTranscript(ctx context.Context, ev stt.TranscriptEvent) {
	for _, delta := range s.merger.Apply(ev) {
		if s.owner != nil {
			delta.Segment.IsUser = s.owner.likelyOwner()
		}
		if delta.Type == types.DeltaFinalize && s.translator != nil {
			seg := delta.Segment
			if _, err := s.translator.TranslateSegment(ctx, &seg); err == nil {
				delta.Segment = seg
			} else {
				s.logger.Warnf("session %s: translation failed: %v", s.cfg.SessionID, err)
			}
		}
		s.asm.OnDelta(delta)
		s.bus.Publish(types.ChannelTranscript, delta)
		s.emit(types.EventTranscript, delta)
	}
	s.asm.Tick()
}

// ownerScoreThreshold is the smoothed fingerprint similarity above
// which recent audio is attributed to the enrolled owner.
const ownerScoreThreshold = 0.75

// ownerTracker smooths per-chunk owner-likelihood scores over recent
// voiced audio. Segment attribution leans on recency: provider finals
// trail the audio they describe by well under the smoothing horizon.
type ownerTracker struct {
	ewma float64
	seen bool
}

func (o *ownerTracker) observe(score float32) {
	if score < 0 {
		return
	}
	if !o.seen {
		o.ewma = float64(score)
		o.seen = true
		return
	}
	o.ewma = 0.8*o.ewma + 0.2*float64(score)
}

func (o *ownerTracker) likelyOwner() bool {
	return o.seen && o.ewma >= ownerScoreThreshold
}

// processNotice reacts to transport telemetry. Loss of the provider
// is fatal only when degraded mode is disabled.
func (s *Session) processNotice(n stt.Notice) bool {
	switch n.Kind {
	case stt.NoticeReconnected:
		if n.FreshNamespace {
			s.merger.ResetNamespace()
		}
	case stt.NoticeUnavailable:
		if !s.cfg.STT.DegradedModeEnabled {
			s.setCloseReason(types.CloseReasonSTTUnavailable)
			return true
		}
		if s.degraded.CompareAndSwap(false, true) {
			s.logger.Warnf("session %s: transcription unavailable, continuing degraded", s.cfg.SessionID)
			s.emit(types.EventDegraded, types.DegradedData{Reason: "stt_unavailable"})
		}
	}
	return false
}

func (s *Session) finishConversation(ctx context.Context, r assembler.Result) {
	conv := r.Conversation
	conv.UID = s.cfg.UID
	if conv.Language == "" {
		conv.Language = s.cfg.Language
	}
	s.geoMu.Lock()
	conv.Geolocation = s.geo
	s.geoMu.Unlock()

	s.merger.Reset()

	if err := s.deps.Conversations.Finish(ctx, conv); err != nil {
		s.logger.Errorf("session %s: finishing conversation %s: %v", s.cfg.SessionID, conv.ID, err)
	}
	s.bus.Publish(types.ChannelConversation, conv)
	s.emit(types.EventConversationClosed, conv)
}

func (s *Session) checkpoint(ctx context.Context) {
	conv := s.asm.Current()
	if conv == nil {
		return
	}
	conv.UID = s.cfg.UID
	if err := s.deps.Conversations.SaveInProgress(ctx, conv); err != nil {
		s.logger.Warnf("session %s: checkpoint failed: %v", s.cfg.SessionID, err)
	}
}

func (s *Session) resume(ctx context.Context) {
	conv, add, err := s.deps.Conversations.Resume(ctx, s.cfg.UID)
	if err != nil {
		if !errors.Is(err, convdomain.ErrNoResumble) {
			s.logger.Warnf("session %s: resume lookup failed: %v", s.cfg.SessionID, err)
		}
		return
	}
	s.asm.Resume(conv, add)
}

func (s *Session) announceLastConversation(ctx context.Context) {
	list, err := s.deps.Conversations.List(ctx, s.cfg.UID, convdomain.ListQuery{
		Limit:    1,
		Statuses: []types.ConversationStatus{types.StatusCompleted},
	})
	if err != nil || len(list) == 0 {
		return
	}
	s.emit(types.EventLastConversation, list[0])
}

// teardown runs the ordered shutdown under the configured deadline:
// input stops first, the current conversation is sealed and drained,
// subscribers flush, then the transport and codecs release.
func (s *Session) teardown(stopTransport context.CancelFunc, transportDone <-chan struct{}) {
	s.closeOnce.Do(func() {
		if s.closeReason == "" {
			s.closeReason = types.CloseReasonShutdown
		}
	})

	deadline := time.NewTimer(s.cfg.Pipeline.TeardownDeadline())
	defer deadline.Stop()

	s.drainTranscripts()
	s.asm.Close(assembler.TriggerCancel)
	// drain sealed results queued by the close
	for {
		select {
		case r := <-s.results:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			s.finishConversation(ctx, r)
			cancel()
			continue
		case <-deadline.C:
		default:
		}
		break
	}

	s.emit(types.EventClosed, types.ClosedData{Reason: s.closeReason})
	s.bus.Close()

	stopTransport()
	select {
	case <-transportDone:
	case <-deadline.C:
		s.logger.Warnf("session %s: transport did not stop before teardown deadline", s.cfg.SessionID)
	}

	s.decoder.Close()
	s.pre.Close()
	close(s.events)
	close(s.done)
	s.logger.Infof("session %s closed (%s)", s.cfg.SessionID, s.closeReason)
}

// drainTranscripts folds finals the provider already emitted into the
// conversation before the seal, so cancellation does not drop speech
// that was still in flight. Bounded by a quiet window and a hard cap
// inside the teardown deadline.
func (s *Session) drainTranscripts() {
	grace := s.cfg.Pipeline.TeardownDeadline() / 2
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	for {
		select {
		case ev, ok := <-s.transport.Events():
			if !ok {
				return
			}
			s.processTranscript(ctx, ev)
		case <-time.After(200 * time.Millisecond):
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Session) setCloseReason(r types.CloseReason) {
	s.closeOnce.Do(func() { s.closeReason = r })
}

func (s *Session) emit(t types.EventType, data any) {
	ev := types.MessageEvent{
		Type:      t,
		SessionID: s.cfg.SessionID,
		Data:      data,
		Timestamp: time.Now(),
	}
	select {
	case s.events <- ev:
	default:
		s.logger.Debugf("session %s: event queue full, dropping %s", s.cfg.SessionID, t)
	}
}
