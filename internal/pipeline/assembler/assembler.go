package assembler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"

	"github.com/auriclabs/auric/internal/types"
	"github.com/auriclabs/auric/pkg/Logger"
)

// Assembler states.
const (
	StateNone    = "none"
	StateOpen    = "open"
	StateClosing = "closing"
	StateClosed  = "closed"
)

// Trigger names why a conversation left the open state, in precedence
// order: an explicit cancel beats the duration cap, which beats the
// segment cap, which beats the silence timeout.
type Trigger string

const (
	TriggerCancel      Trigger = "cancel"
	TriggerMaxTime     Trigger = "max_time"
	TriggerMaxSegments Trigger = "max_segments"
	TriggerSilence     Trigger = "silence"
)

type Config struct {
	SilenceTimeout time.Duration // default 120s
	MaxDuration    time.Duration // default 2h
	MaxSegments    int           // default 2000
	MinWords       int           // discard threshold, default 10
	GracePeriod    time.Duration // closing dwell, default 5s
}

func (c *Config) fillDefaults() {
	if c.SilenceTimeout == 0 {
		c.SilenceTimeout = 120 * time.Second
	}
	if c.MaxDuration == 0 {
		c.MaxDuration = 2 * time.Hour
	}
	if c.MaxSegments == 0 {
		c.MaxSegments = 2000
	}
	if c.MinWords == 0 {
		c.MinWords = 10
	}
	if c.GracePeriod == 0 {
		c.GracePeriod = 5 * time.Second
	}
}

// Result is a closed conversation handed to the session for
// persistence and structuring. Discarded conversations carried too
// few words to be worth keeping.
type Result struct {
	Conversation *types.Conversation
	Trigger      Trigger
	Discarded    bool
}

// Assembler accumulates segment deltas into the current conversation
// and decides when it ends. The first delta opens a conversation; a
// trigger moves it to closing, where a grace period lets trailing
// speech reopen it; grace expiry seals it and emits a Result.
//
// The clock is injected so the timeout ladder is testable.
type Assembler struct {
	mu     sync.Mutex
	cfg    Config
	logger *Logger.Logger
	now    func() time.Time

	machine      *fsm.FSM
	conv         *types.Conversation
	index        map[uuid.UUID]int
	lastSpeech   time.Time
	closingSince time.Time
	trigger      Trigger
	offset       float64 // added to segment times of a resumed conversation

	onClosed func(Result)
}

func New(cfg Config, logger *Logger.Logger, onClosed func(Result)) *Assembler {
	cfg.fillDefaults()
	a := &Assembler{
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		onClosed: onClosed,
		index:    make(map[uuid.UUID]int),
	}
	a.machine = fsm.NewFSM(
		StateNone,
		fsm.Events{
			{Name: "speech", Src: []string{StateNone}, Dst: StateOpen},
			{Name: "trigger", Src: []string{StateOpen}, Dst: StateClosing},
			{Name: "reopen", Src: []string{StateClosing}, Dst: StateOpen},
			{Name: "seal", Src: []string{StateClosing, StateOpen}, Dst: StateClosed},
			{Name: "reset", Src: []string{StateClosed}, Dst: StateNone},
		},
		fsm.Callbacks{},
	)
	return a
}

// SetClock overrides the time source.
func (a *Assembler) SetClock(now func() time.Time) {
	a.mu.Lock()
	a.now = now
	a.mu.Unlock()
}

// State reports the machine state.
func (a *Assembler) State() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.machine.Current()
}

// Current returns a snapshot of the open conversation, or nil.
func (a *Assembler) Current() *types.Conversation {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conv == nil {
		return nil
	}
	snap := *a.conv
	snap.Segments = append([]types.TranscriptSegment(nil), a.conv.Segments...)
	return &snap
}

// Resume adopts a previously persisted in-progress conversation.
// Incoming segment times are shifted by secondsToAdd so they land
// after the adopted transcript.
func (a *Assembler) Resume(conv *types.Conversation, secondsToAdd float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.machine.Current() != StateNone {
		a.logger.Warnf("assembler: resume ignored in state %s", a.machine.Current())
		return
	}
	a.conv = conv
	a.offset = secondsToAdd
	a.index = make(map[uuid.UUID]int, len(conv.Segments))
	for i, s := range conv.Segments {
		a.index[s.ID] = i
	}
	a.lastSpeech = a.now()
	a.transition("speech")
	a.logger.Infof("assembler: resumed conversation %s with %d segments", conv.ID, len(conv.Segments))
}

// OnDelta folds one merger delta into the current conversation,
// opening one on first speech and reopening a closing one.
func (a *Assembler) OnDelta(d types.SegmentDelta) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch a.machine.Current() {
	case StateNone:
		a.open()
	case StateClosing:
		a.transition("reopen")
		a.logger.Infof("assembler: conversation %s reopened by speech during grace", a.conv.ID)
	case StateClosed:
		// deltas raced the seal; the next one opens a fresh conversation
		a.transition("reset")
		a.open()
	}

	a.lastSpeech = a.now()
	a.applyDelta(d)
}

func (a *Assembler) open() {
	now := a.now()
	a.conv = &types.Conversation{
		ID:        uuid.New(),
		Status:    types.StatusInProgress,
		Source:    types.SourceLive,
		StartedAt: now,
	}
	a.offset = 0
	a.index = make(map[uuid.UUID]int)
	a.transition("speech")
	a.logger.Infof("assembler: conversation %s opened", a.conv.ID)
}

func (a *Assembler) applyDelta(d types.SegmentDelta) {
	seg := d.Segment
	seg.Start += a.offset
	seg.End += a.offset

	switch d.Type {
	case types.DeltaAppend:
		a.index[seg.ID] = len(a.conv.Segments)
		a.conv.Segments = append(a.conv.Segments, seg)
	case types.DeltaUpdate, types.DeltaFinalize:
		if i, ok := a.index[seg.ID]; ok {
			a.conv.Segments[i] = seg
		} else {
			a.index[seg.ID] = len(a.conv.Segments)
			a.conv.Segments = append(a.conv.Segments, seg)
		}
	case types.DeltaMerge:
		if i, ok := a.index[d.MergedInto]; ok {
			a.conv.Segments[i] = seg
		}
		if i, ok := a.index[d.SegmentID]; ok {
			a.conv.Segments = append(a.conv.Segments[:i], a.conv.Segments[i+1:]...)
			delete(a.index, d.SegmentID)
			for j := i; j < len(a.conv.Segments); j++ {
				a.index[a.conv.Segments[j].ID] = j
			}
		}
	}
}

// Tick evaluates the trigger ladder. The session calls it on a short
// interval and after every delta batch.
func (a *Assembler) Tick() {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.now()

	switch a.machine.Current() {
	case StateOpen:
		if t, ok := a.dueTrigger(now); ok {
			a.trigger = t
			a.closingSince = now
			a.transition("trigger")
			a.logger.Infof("assembler: conversation %s closing (%s)", a.conv.ID, t)
		}
	case StateClosing:
		if now.Sub(a.closingSince) >= a.cfg.GracePeriod {
			a.seal()
		}
	}
}

func (a *Assembler) dueTrigger(now time.Time) (Trigger, bool) {
	if now.Sub(a.conv.StartedAt) >= a.cfg.MaxDuration {
		return TriggerMaxTime, true
	}
	if len(a.conv.Segments) >= a.cfg.MaxSegments {
		return TriggerMaxSegments, true
	}
	if now.Sub(a.lastSpeech) >= a.cfg.SilenceTimeout {
		return TriggerSilence, true
	}
	return "", false
}

// Close force-closes the open conversation without grace, for client
// requests and session teardown. No-op when nothing is open.
func (a *Assembler) Close(trigger Trigger) {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch a.machine.Current() {
	case StateOpen, StateClosing:
		a.trigger = trigger
		a.seal()
	}
}

// seal finalizes the conversation and hands it off. Callers hold the
// lock.
func (a *Assembler) seal() {
	a.transition("seal")
	conv := a.conv
	conv.FinishedAt = a.now()

	discarded := conv.WordCount() < a.cfg.MinWords
	if discarded {
		conv.Status = types.StatusDiscarded
		conv.Discarded = true
	} else {
		conv.Status = types.StatusProcessing
	}

	result := Result{Conversation: conv, Trigger: a.trigger, Discarded: discarded}
	a.conv = nil
	a.index = make(map[uuid.UUID]int)
	a.transition("reset")
	a.logger.Infof("assembler: conversation %s sealed (%s, discarded=%v, %d segments)",
		conv.ID, result.Trigger, discarded, len(conv.Segments))

	if a.onClosed != nil {
		// callback runs without the lock so it can call back in
		a.mu.Unlock()
		a.onClosed(result)
		a.mu.Lock()
	}
}

func (a *Assembler) transition(event string) {
	if err := a.machine.Event(context.Background(), event); err != nil {
		a.logger.Debugf("assembler fsm %s from %s: %v", event, a.machine.Current(), err)
	}
}
