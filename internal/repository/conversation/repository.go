package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	convdomain "github.com/auriclabs/auric/internal/domains/conversation"
	"github.com/auriclabs/auric/internal/types"
)

// InProgressKey is the redis pointer to a user's open conversation.
func InProgressKey(uid string) string {
	return fmt.Sprintf("auric:in_progress:%s", uid)
}

type GormConversationRepo struct {
	db *gorm.DB
	rc *redis.Client
}

func NewGormConversationRepo(db *gorm.DB, rc *redis.Client) convdomain.ConversationRepository {
	return &GormConversationRepo{db: db, rc: rc}
}

// Save upserts the whole conversation row.
func (g *GormConversationRepo) Save(ctx context.Context, conv *types.Conversation) error {
	var e ConversationEntity
	if err := e.FromDomain(conv); err != nil {
		return err
	}
	return g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&e).Error
}

// Get fetches one conversation, scoped to its owner.
func (g *GormConversationRepo) Get(ctx context.Context, uid string, id uuid.UUID) (*types.Conversation, error) {
	var e ConversationEntity
	err := g.db.WithContext(ctx).Where("id = ?", id).First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, convdomain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if e.UID != uid {
		return nil, convdomain.ErrNotOwned
	}
	return e.ToDomain()
}

// List pages a user's conversations, newest first.
func (g *GormConversationRepo) List(ctx context.Context, uid string, q convdomain.ListQuery) ([]types.Conversation, error) {
	if q.Limit <= 0 || q.Limit > 200 {
		q.Limit = 50
	}
	tx := g.db.WithContext(ctx).Where("uid = ?", uid)
	if !q.IncludeDiscarded {
		tx = tx.Where("discarded = ?", false)
	}
	if len(q.Statuses) > 0 {
		tx = tx.Where("status IN ?", q.Statuses)
	}

	var rows []ConversationEntity
	if err := tx.Order("started_at DESC").Limit(q.Limit).Offset(q.Offset).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]types.Conversation, 0, len(rows))
	for i := range rows {
		c, err := rows[i].ToDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, nil
}

// UpdateStatus advances a conversation's status, enforcing the
// monotonic order at the database so racing workers cannot regress it.
func (g *GormConversationRepo) UpdateStatus(ctx context.Context, id uuid.UUID, from, to types.ConversationStatus) error {
	if !from.CanTransition(to) {
		return convdomain.ErrBadStatus
	}
	res := g.db.WithContext(ctx).Model(&ConversationEntity{}).
		Where("id = ? AND status = ?", id, string(from)).
		Update("status", string(to))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return convdomain.ErrBadStatus
	}
	return nil
}

func (g *GormConversationRepo) SetInProgress(ctx context.Context, uid string, id uuid.UUID, ttl time.Duration) error {
	return g.rc.Set(InProgressKey(uid), id.String(), ttl).Err()
}

func (g *GormConversationRepo) GetInProgress(ctx context.Context, uid string) (uuid.UUID, error) {
	raw, err := g.rc.Get(InProgressKey(uid)).Result()
	if err == redis.Nil {
		return uuid.Nil, convdomain.ErrNoResumble
	}
	if err != nil {
		return uuid.Nil, err
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		// poisoned pointer; clear so the session opens fresh
		g.rc.Del(InProgressKey(uid))
		return uuid.Nil, convdomain.ErrNoResumble
	}
	return id, nil
}

func (g *GormConversationRepo) ClearInProgress(ctx context.Context, uid string) error {
	return g.rc.Del(InProgressKey(uid)).Err()
}
