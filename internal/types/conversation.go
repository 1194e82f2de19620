package types

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

type ConversationStatus string

const (
	StatusInProgress ConversationStatus = "in_progress"
	StatusProcessing ConversationStatus = "processing"
	StatusCompleted  ConversationStatus = "completed"
	StatusDiscarded  ConversationStatus = "discarded"
	StatusFailed     ConversationStatus = "failed"
)

// CanTransition enforces the monotonic status order
// in_progress -> processing -> completed|discarded|failed.
func (s ConversationStatus) CanTransition(to ConversationStatus) bool {
	switch s {
	case StatusInProgress:
		return to == StatusProcessing
	case StatusProcessing:
		return to == StatusCompleted || to == StatusDiscarded || to == StatusFailed
	}
	return false
}

type ConversationSource string

const (
	SourceLive       ConversationSource = "live"
	SourceExternal   ConversationSource = "external"
	SourceScreenpipe ConversationSource = "screenpipe"
	SourceWorkflow   ConversationSource = "workflow"
)

type Category string

const (
	CategoryPersonal      Category = "personal"
	CategoryWork          Category = "work"
	CategoryEducation     Category = "education"
	CategoryHealth        Category = "health"
	CategoryFinance       Category = "finance"
	CategoryOther         Category = "other"
)

type ActionItem struct {
	Description string `json:"description"`
	Completed   bool   `json:"completed"`
}

// Structured is filled by the structuring driver at conversation close.
type Structured struct {
	Title       string       `json:"title"`
	Overview    string       `json:"overview"`
	Emoji       string       `json:"emoji"`
	Category    Category     `json:"category"`
	ActionItems []ActionItem `json:"action_items"`
}

type Geolocation struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address,omitempty"`
}

type ConversationPhoto struct {
	Base64      string `json:"base64"`
	Description string `json:"description,omitempty"`
}

// Conversation is the persisted artifact produced by the assembler.
// At most one conversation per (uid, source=live) is in_progress at a
// time; once completed its segments are read-only.
type Conversation struct {
	ID          uuid.UUID           `json:"id"`
	UID         string              `json:"uid"`
	Status      ConversationStatus  `json:"status"`
	StartedAt   time.Time           `json:"started_at"`
	FinishedAt  time.Time           `json:"finished_at"`
	Language    string              `json:"language"`
	Segments    []TranscriptSegment `json:"segments"`
	Source      ConversationSource  `json:"source"`
	Geolocation *Geolocation        `json:"geolocation,omitempty"`
	Structured  *Structured         `json:"structured,omitempty"`
	Discarded   bool                `json:"discarded"`
	Photos      []ConversationPhoto `json:"photos,omitempty"`
}

// Transcript renders the segment list as speaker-prefixed lines for
// the structuring prompt.
func (c *Conversation) Transcript() string {
	var b strings.Builder
	for _, s := range c.Segments {
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		speaker := "Speaker " + strconv.Itoa(s.SpeakerID)
		if s.IsUser {
			speaker = "User"
		}
		b.WriteString(speaker)
		b.WriteString(": ")
		b.WriteString(s.Text)
	}
	return b.String()
}

// WordCount sums final segment words; drives the discard rule.
func (c *Conversation) WordCount() int {
	n := 0
	for _, s := range c.Segments {
		if s.IsFinal {
			n += s.WordCount()
		}
	}
	return n
}

