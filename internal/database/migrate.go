package database

import (
	"gorm.io/gorm"

	convrepo "github.com/auriclabs/auric/internal/repository/conversation"
	profilerepo "github.com/auriclabs/auric/internal/repository/user"
)

func MigrateDB(db *gorm.DB) error {
	return db.AutoMigrate(
		&convrepo.ConversationEntity{},
		&profilerepo.SpeechProfileEntity{},
	)
}
