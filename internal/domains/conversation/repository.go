package conversation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/auriclabs/auric/internal/types"
)

var (
	ErrNotFound   = errors.New("conversation not found")
	ErrBadStatus  = errors.New("invalid status transition")
	ErrNotOwned   = errors.New("conversation belongs to another user")
	ErrNoResumble = errors.New("no in-progress conversation")
)

// ListQuery filters and pages a user's conversation listing.
type ListQuery struct {
	Limit            int
	Offset           int
	IncludeDiscarded bool
	Statuses         []types.ConversationStatus
}

// ConversationRepository persists sealed and in-progress
// conversations. The in-progress pointer lives in redis so a device
// reconnecting to another instance can pick its conversation back up.
type ConversationRepository interface {
	Save(ctx context.Context, conv *types.Conversation) error
	Get(ctx context.Context, uid string, id uuid.UUID) (*types.Conversation, error)
	List(ctx context.Context, uid string, q ListQuery) ([]types.Conversation, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to types.ConversationStatus) error

	SetInProgress(ctx context.Context, uid string, id uuid.UUID, ttl time.Duration) error
	GetInProgress(ctx context.Context, uid string) (uuid.UUID, error)
	ClearInProgress(ctx context.Context, uid string) error
}
