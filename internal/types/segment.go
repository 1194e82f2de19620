package types

import (
	"strings"

	"github.com/google/uuid"
)

// TranscriptSegment is a contiguous transcript span attributed to one
// speaker. IDs are stable within their in-progress conversation.
type TranscriptSegment struct {
	ID           uuid.UUID `json:"id"`
	SpeakerID    int       `json:"speaker_id"`
	IsUser       bool      `json:"is_user"`
	Text         string    `json:"text"`
	OriginalText string    `json:"original_text,omitempty"` // pre-translation text, set by the translator
	Start        float64   `json:"start"`                   // seconds since conversation start
	End          float64   `json:"end"`
	IsFinal      bool      `json:"is_final"`
	Language     string    `json:"language,omitempty"`
}

// WordCount counts whitespace-separated words; used by the discard rule.
func (s TranscriptSegment) WordCount() int {
	return len(strings.Fields(s.Text))
}

// DeltaType orders the lifecycle of a segment's emitted deltas:
// append <= update* <= finalize <= merge.
type DeltaType string

const (
	DeltaAppend   DeltaType = "append"
	DeltaUpdate   DeltaType = "update"
	DeltaFinalize DeltaType = "finalize"
	DeltaMerge    DeltaType = "merge"
)

// SegmentDelta is the merger's output event. For DeltaMerge, MergedInto
// names the surviving segment and Segment carries its updated state.
type SegmentDelta struct {
	Type       DeltaType         `json:"type"`
	SegmentID  uuid.UUID         `json:"segment_id"`
	MergedInto uuid.UUID         `json:"merged_into,omitempty"`
	Segment    TranscriptSegment `json:"segment"`
}
