package merger

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/auriclabs/auric/internal/types"
	"github.com/auriclabs/auric/pkg/Logger"
	"github.com/auriclabs/auric/pkg/stt"
)

// DefaultMergeGap is the largest pause between two same-speaker finals
// that still reads as one utterance.
const DefaultMergeGap = 0.5

// Merger folds the provider's interim/final event stream into a
// canonical ordered segment list and emits one delta per mutation.
// Interims overwrite in place; a final locks its segment; adjacent
// same-speaker finals within the merge gap collapse rightward into
// the earlier segment.
//
// Provider segment ids are only unique within one connection. After a
// non-resumed reconnect the supervisor calls ResetNamespace so stale
// ids from the dead connection cannot collide with new ones.
type Merger struct {
	mu       sync.Mutex
	logger   *Logger.Logger
	mergeGap float64

	namespace  int
	byProvider map[string]uuid.UUID
	segments   []*types.TranscriptSegment
	index      map[uuid.UUID]int

	// the first segment's start anchors the conversation's zero point
	trim    float64
	trimSet bool
	rebase  bool
}

func New(mergeGap float64, logger *Logger.Logger) *Merger {
	if mergeGap <= 0 {
		mergeGap = DefaultMergeGap
	}
	return &Merger{
		logger:     logger,
		mergeGap:   mergeGap,
		byProvider: make(map[string]uuid.UUID),
		index:      make(map[uuid.UUID]int),
	}
}

// ResetNamespace invalidates all provider segment ids from the
// previous connection. Already-collected segments stay, and the next
// event rebases the trim so post-reconnect offsets continue after the
// existing segments instead of restarting at the new provider clock's
// zero.
func (m *Merger) ResetNamespace() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.namespace++
	m.byProvider = make(map[string]uuid.UUID)
	m.rebase = true
}

// Reset drops all state for a new conversation.
func (m *Merger) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.namespace++
	m.byProvider = make(map[string]uuid.UUID)
	m.segments = nil
	m.index = make(map[uuid.UUID]int)
	m.trimSet = false
	m.rebase = false
}

// Apply folds one provider event in and returns the resulting deltas
// in order. Per segment the lifetime is append, zero or more updates,
// one finalize, then at most one merge.
func (m *Merger) Apply(ev stt.TranscriptEvent) []types.SegmentDelta {
	if strings.TrimSpace(ev.Text) == "" {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.trimSet {
		m.trim = ev.Start
		m.trimSet = true
		m.rebase = false
		if m.trim > 0 {
			m.logger.Debugf("merger: trimming %.2fs of leading offset", m.trim)
		}
	} else if m.rebase {
		// splice the fresh provider clock in after everything already
		// collected so offsets stay monotonic across the reconnect
		floor := 0.0
		for _, s := range m.segments {
			if s.End > floor {
				floor = s.End
			}
		}
		m.trim = ev.Start - floor
		m.rebase = false
		m.logger.Debugf("merger: rebased reconnect clock, floor %.2fs", floor)
	}
	start := ev.Start - m.trim
	if start < 0 {
		start = 0
	}
	end := ev.End - m.trim
	if end < start {
		end = start
	}

	key := fmt.Sprintf("%d:%s", m.namespace, ev.SegmentID)
	id, known := m.byProvider[key]

	var deltas []types.SegmentDelta
	var seg *types.TranscriptSegment

	if !known {
		seg = &types.TranscriptSegment{
			ID:        uuid.New(),
			SpeakerID: ev.SpeakerID,
			Text:      strings.TrimSpace(ev.Text),
			Start:     start,
			End:       end,
			Language:  ev.Language,
		}
		m.byProvider[key] = seg.ID
		m.index[seg.ID] = len(m.segments)
		m.segments = append(m.segments, seg)
		if d, carried := m.tryCarryForward(seg); carried {
			deltas = append(deltas, d)
		}
		deltas = append(deltas, types.SegmentDelta{
			Type: types.DeltaAppend, SegmentID: seg.ID, Segment: *seg,
		})
	} else {
		seg = m.segments[m.index[id]]
		if seg.IsFinal {
			// locked; late interims from a slow provider are noise
			m.logger.Debugf("merger: event for finalized segment %s ignored", id)
			return nil
		}
		seg.Text = strings.TrimSpace(ev.Text)
		seg.End = end
		if ev.Language != "" {
			seg.Language = ev.Language
		}
		if !ev.IsFinal {
			deltas = append(deltas, types.SegmentDelta{
				Type: types.DeltaUpdate, SegmentID: seg.ID, Segment: *seg,
			})
		}
	}

	if ev.IsFinal {
		seg.IsFinal = true
		deltas = append(deltas, types.SegmentDelta{
			Type: types.DeltaFinalize, SegmentID: seg.ID, Segment: *seg,
		})
		if d, merged := m.tryMergeBack(seg); merged {
			deltas = append(deltas, d)
		}
	}
	return deltas
}

// tryMergeBack collapses seg into the nearest preceding final segment
// when both share a speaker and the pause between them is under the
// merge gap.
func (m *Merger) tryMergeBack(seg *types.TranscriptSegment) (types.SegmentDelta, bool) {
	pos := m.index[seg.ID]
	for i := pos - 1; i >= 0; i-- {
		prev := m.segments[i]
		if !prev.IsFinal {
			continue
		}
		if prev.SpeakerID != seg.SpeakerID || prev.IsUser != seg.IsUser {
			return types.SegmentDelta{}, false
		}
		if seg.Start-prev.End >= m.mergeGap {
			return types.SegmentDelta{}, false
		}
		prev.Text = joinUtterances(prev.Text, seg.Text)
		if prev.OriginalText != "" || seg.OriginalText != "" {
			prev.OriginalText = joinUtterances(
				fallback(prev.OriginalText, prev.Text), fallback(seg.OriginalText, seg.Text))
		}
		prev.End = seg.End

		m.removeAt(pos)
		return types.SegmentDelta{
			Type:       types.DeltaMerge,
			SegmentID:  seg.ID,
			MergedInto: prev.ID,
			Segment:    *prev,
		}, true
	}
	return types.SegmentDelta{}, false
}

// tryCarryForward moves a dangling sentence tail from the previous
// final segment onto seg. Providers sometimes cut a speaker change one
// or two words late, leaving the next speaker's opening words stranded
// at the end of the prior segment.
func (m *Merger) tryCarryForward(seg *types.TranscriptSegment) (types.SegmentDelta, bool) {
	pos := m.index[seg.ID]
	if pos == 0 {
		return types.SegmentDelta{}, false
	}
	prev := m.segments[pos-1]
	if !prev.IsFinal || endsSentence(prev.Text) {
		return types.SegmentDelta{}, false
	}
	if prev.SpeakerID == seg.SpeakerID && prev.IsUser == seg.IsUser &&
		seg.Start-prev.End < m.mergeGap {
		// contiguous same-speaker finals merge back instead
		return types.SegmentDelta{}, false
	}
	cut := strings.LastIndexAny(prev.Text, ".?!")
	if cut < 0 {
		return types.SegmentDelta{}, false
	}
	tail := strings.TrimSpace(prev.Text[cut+1:])
	if tail == "" || len(strings.Fields(tail)) > 2 {
		return types.SegmentDelta{}, false
	}
	prev.Text = strings.TrimSpace(prev.Text[:cut+1])
	seg.Text = joinUtterances(tail, seg.Text)
	return types.SegmentDelta{
		Type: types.DeltaUpdate, SegmentID: prev.ID, Segment: *prev,
	}, true
}

func endsSentence(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return true
	}
	switch s[len(s)-1] {
	case '.', '?', '!':
		return true
	}
	return false
}

func (m *Merger) removeAt(pos int) {
	removed := m.segments[pos]
	m.segments = append(m.segments[:pos], m.segments[pos+1:]...)
	delete(m.index, removed.ID)
	for i := pos; i < len(m.segments); i++ {
		m.index[m.segments[i].ID] = i
	}
	for key, id := range m.byProvider {
		if id == removed.ID {
			delete(m.byProvider, key)
		}
	}
}

// Segments returns a snapshot of the current ordered list.
func (m *Merger) Segments() []types.TranscriptSegment {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.TranscriptSegment, len(m.segments))
	for i, s := range m.segments {
		out[i] = *s
	}
	return out
}

// FinalWordCount counts words across finalized segments only.
func (m *Merger) FinalWordCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.segments {
		if s.IsFinal {
			n += s.WordCount()
		}
	}
	return n
}

// LastFinalEnd reports the end offset of the latest finalized speech,
// which the assembler uses as its silence anchor.
func (m *Merger) LastFinalEnd() (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.segments) - 1; i >= 0; i-- {
		if m.segments[i].IsFinal {
			return m.segments[i].End, true
		}
	}
	return 0, false
}

func joinUtterances(a, b string) string {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	if a == "" {
		return b
	}
	if b == "" {
		return a
	}
	return a + " " + b
}

func fallback(s, alt string) string {
	if s == "" {
		return alt
	}
	return s
}
