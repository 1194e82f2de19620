package conversation

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/auriclabs/auric/internal/types"
	"github.com/auriclabs/auric/pkg/Logger"
)

// Structurer produces post-close metadata for a sealed conversation.
type Structurer interface {
	Structure(ctx context.Context, conv *types.Conversation) error
}

// inProgressTTL bounds how long a dangling in-progress pointer can
// capture reconnecting devices after a crashed session.
const inProgressTTL = 10 * time.Minute

// maxResumeAge is how stale an in-progress conversation may be and
// still be picked up by a reconnecting device.
const maxResumeAge = 4 * time.Hour

// structuringBudget bounds the background structuring call, covering
// the model's own timeout and retries.
const structuringBudget = 2 * time.Minute

type ConversationService interface {
	// SaveInProgress checkpoints the open conversation and refreshes
	// the in-progress pointer.
	SaveInProgress(ctx context.Context, conv *types.Conversation) error
	// Finish persists a sealed conversation and, unless it was
	// discarded, runs structuring and persists the outcome.
	Finish(ctx context.Context, conv *types.Conversation) error
	// Resume returns the user's resumable conversation plus the
	// seconds to add to incoming segment offsets, or ErrNoResumble.
	Resume(ctx context.Context, uid string) (*types.Conversation, float64, error)
	Get(ctx context.Context, uid string, id uuid.UUID) (*types.Conversation, error)
	List(ctx context.Context, uid string, q ListQuery) ([]types.Conversation, error)
}

type conversationService struct {
	repo       ConversationRepository
	structurer Structurer
	logger     *Logger.Logger
}

func NewService(repo ConversationRepository, structurer Structurer, logger *Logger.Logger) ConversationService {
	return &conversationService{repo: repo, structurer: structurer, logger: logger}
}

func (c *conversationService) SaveInProgress(ctx context.Context, conv *types.Conversation) error {
	if err := c.repo.Save(ctx, conv); err != nil {
		return err
	}
	return c.repo.SetInProgress(ctx, conv.UID, conv.ID, inProgressTTL)
}

func (c *conversationService) Finish(ctx context.Context, conv *types.Conversation) error {
	if err := c.repo.Save(ctx, conv); err != nil {
		return err
	}
	if err := c.repo.ClearInProgress(ctx, conv.UID); err != nil {
		c.logger.Warnf("conversation %s: clearing in-progress pointer: %v", conv.ID, err)
	}
	if conv.Discarded {
		return nil
	}

	// structuring is a slow model call; it runs off the caller's
	// goroutine so sealing never stalls a live session or its shutdown
	snap := *conv
	go c.structureAndPersist(&snap)
	return nil
}

func (c *conversationService) structureAndPersist(conv *types.Conversation) {
	ctx, cancel := context.WithTimeout(context.Background(), structuringBudget)
	defer cancel()

	if err := c.structurer.Structure(ctx, conv); err != nil {
		// status is already failed; persist it so the client sees it
		c.logger.Errorf("conversation %s: structuring: %v", conv.ID, err)
	}
	if err := c.repo.Save(ctx, conv); err != nil {
		c.logger.Errorf("conversation %s: persisting structured result: %v", conv.ID, err)
	}
}

func (c *conversationService) Resume(ctx context.Context, uid string) (*types.Conversation, float64, error) {
	id, err := c.repo.GetInProgress(ctx, uid)
	if err != nil {
		return nil, 0, err
	}
	conv, err := c.repo.Get(ctx, uid, id)
	if err != nil {
		c.repo.ClearInProgress(ctx, uid)
		return nil, 0, ErrNoResumble
	}
	if conv.Status != types.StatusInProgress {
		c.repo.ClearInProgress(ctx, uid)
		return nil, 0, ErrNoResumble
	}
	if time.Since(conv.StartedAt) > maxResumeAge {
		// too stale to continue; seal it instead of resuming
		c.logger.Infof("conversation %s: too stale to resume, sealing", conv.ID)
		conv.Status = types.StatusProcessing
		conv.FinishedAt = conv.StartedAt.Add(time.Duration(lastEnd(conv) * float64(time.Second)))
		if err := c.Finish(ctx, conv); err != nil {
			c.logger.Errorf("conversation %s: sealing stale conversation: %v", conv.ID, err)
		}
		return nil, 0, ErrNoResumble
	}

	// new segments continue on the same timeline: offset them by the
	// wallclock gap since this conversation started
	secondsToAdd := time.Since(conv.StartedAt).Seconds()
	if last := lastEnd(conv); last > secondsToAdd {
		secondsToAdd = last
	}
	c.logger.Infof("conversation %s resumed for %s (+%.1fs)", conv.ID, uid, secondsToAdd)
	return conv, secondsToAdd, nil
}

func (c *conversationService) Get(ctx context.Context, uid string, id uuid.UUID) (*types.Conversation, error) {
	return c.repo.Get(ctx, uid, id)
}

func (c *conversationService) List(ctx context.Context, uid string, q ListQuery) ([]types.Conversation, error) {
	return c.repo.List(ctx, uid, q)
}

func lastEnd(conv *types.Conversation) float64 {
	end := 0.0
	for _, s := range conv.Segments {
		if s.End > end {
			end = s.End
		}
	}
	return end
}
