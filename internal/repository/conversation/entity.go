package conversation

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/auriclabs/auric/internal/types"
)

// ConversationEntity is the gorm row behind types.Conversation.
// Segments, structured output, geolocation and photos are stored as
// JSON blobs: the pipeline always reads and writes a conversation
// whole, never by individual segment.
type ConversationEntity struct {
	ID         uuid.UUID  `gorm:"primaryKey;type:char(36);not null"`
	UID        string     `gorm:"column:uid;type:varchar(64);index;not null"`
	Status     string     `gorm:"type:varchar(16);index"`
	Source     string     `gorm:"type:varchar(16)"`
	Language   string     `gorm:"type:varchar(16)"`
	StartedAt  time.Time  `gorm:"column:started_at"`
	FinishedAt *time.Time `gorm:"column:finished_at"`
	Discarded  bool       `gorm:"column:discarded"`

	SegmentsJSON    []byte `gorm:"column:segments;type:longtext"`
	StructuredJSON  []byte `gorm:"column:structured;type:text"`
	GeolocationJSON []byte `gorm:"column:geolocation;type:text"`
	PhotosJSON      []byte `gorm:"column:photos;type:longtext"`

	CreatedAt time.Time      `gorm:"autoCreateTime(3)"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime(3)"`
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

func (ConversationEntity) TableName() string { return "conversations" }

func (e *ConversationEntity) FromDomain(c *types.Conversation) error {
	e.ID = c.ID
	e.UID = c.UID
	e.Status = string(c.Status)
	e.Source = string(c.Source)
	e.Language = c.Language
	e.StartedAt = c.StartedAt
	e.Discarded = c.Discarded
	if !c.FinishedAt.IsZero() {
		t := c.FinishedAt
		e.FinishedAt = &t
	}

	var err error
	if e.SegmentsJSON, err = json.Marshal(c.Segments); err != nil {
		return fmt.Errorf("marshal segments: %w", err)
	}
	e.StructuredJSON, e.GeolocationJSON, e.PhotosJSON = nil, nil, nil
	if c.Structured != nil {
		if e.StructuredJSON, err = json.Marshal(c.Structured); err != nil {
			return fmt.Errorf("marshal structured: %w", err)
		}
	}
	if c.Geolocation != nil {
		if e.GeolocationJSON, err = json.Marshal(c.Geolocation); err != nil {
			return fmt.Errorf("marshal geolocation: %w", err)
		}
	}
	if len(c.Photos) > 0 {
		if e.PhotosJSON, err = json.Marshal(c.Photos); err != nil {
			return fmt.Errorf("marshal photos: %w", err)
		}
	}
	return nil
}

func (e *ConversationEntity) ToDomain() (*types.Conversation, error) {
	c := &types.Conversation{
		ID:        e.ID,
		UID:       e.UID,
		Status:    types.ConversationStatus(e.Status),
		Source:    types.ConversationSource(e.Source),
		Language:  e.Language,
		StartedAt: e.StartedAt,
		Discarded: e.Discarded,
	}
	if e.FinishedAt != nil {
		c.FinishedAt = *e.FinishedAt
	}
	if len(e.SegmentsJSON) > 0 {
		if err := json.Unmarshal(e.SegmentsJSON, &c.Segments); err != nil {
			return nil, fmt.Errorf("unmarshal segments: %w", err)
		}
	}
	if len(e.StructuredJSON) > 0 {
		c.Structured = &types.Structured{}
		if err := json.Unmarshal(e.StructuredJSON, c.Structured); err != nil {
			return nil, fmt.Errorf("unmarshal structured: %w", err)
		}
	}
	if len(e.GeolocationJSON) > 0 {
		c.Geolocation = &types.Geolocation{}
		if err := json.Unmarshal(e.GeolocationJSON, c.Geolocation); err != nil {
			return nil, fmt.Errorf("unmarshal geolocation: %w", err)
		}
	}
	if len(e.PhotosJSON) > 0 {
		if err := json.Unmarshal(e.PhotosJSON, &c.Photos); err != nil {
			return nil, fmt.Errorf("unmarshal photos: %w", err)
		}
	}
	return c, nil
}
