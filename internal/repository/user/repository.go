package user

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrNoProfile = errors.New("no speech profile")

// SpeechProfileRepository persists enrollment fingerprints used for
// is_user attribution in the preprocessor.
type SpeechProfileRepository interface {
	Upsert(ctx context.Context, uid string, embedding []float32, duration float64) error
	Get(ctx context.Context, uid string) ([]float32, error)
	Delete(ctx context.Context, uid string) error
}

type gormSpeechProfileRepo struct {
	db *gorm.DB
}

func NewGormSpeechProfileRepo(db *gorm.DB) SpeechProfileRepository {
	return &gormSpeechProfileRepo{db: db}
}

func (g *gormSpeechProfileRepo) Upsert(ctx context.Context, uid string, embedding []float32, duration float64) error {
	e := SpeechProfileEntity{UID: uid, Duration: duration, Embedding: embedding}
	return g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "uid"}},
		UpdateAll: true,
	}).Create(&e).Error
}

func (g *gormSpeechProfileRepo) Get(ctx context.Context, uid string) ([]float32, error) {
	var e SpeechProfileEntity
	err := g.db.WithContext(ctx).Where("uid = ?", uid).First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoProfile
	}
	if err != nil {
		return nil, err
	}
	return e.Embedding, nil
}

func (g *gormSpeechProfileRepo) Delete(ctx context.Context, uid string) error {
	return g.db.WithContext(ctx).Delete(&SpeechProfileEntity{}, "uid = ?", uid).Error
}
