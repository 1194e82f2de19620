package user

import (
	"time"

	"gorm.io/gorm"

	"github.com/auriclabs/auric/internal/database/dbtypes"
)

// SpeechProfileEntity stores a user's voice fingerprint, computed
// from the profile preseconds a device uploads at enrollment.
type SpeechProfileEntity struct {
	UID       string          `gorm:"primaryKey;column:uid;type:varchar(64);not null"`
	Embedding dbtypes.XVector `gorm:"column:embedding;type:text"`
	Duration  float64
	CreatedAt time.Time      `gorm:"autoCreateTime(3)"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime(3)"`
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

func (SpeechProfileEntity) TableName() string {
	return "speech_profiles"
}
