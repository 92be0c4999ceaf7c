package conversations

import (
	"context"
	"time"

	"github.com/dmitrijs2005/chatkeeper/internal/server/models"
	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, accountID uuid.UUID, title string, now time.Time) (*models.Conversation, error)
	// Get returns the conversation or common.ErrorNotFound. Ownership is
	// checked by the caller.
	Get(ctx context.Context, id uuid.UUID) (*models.Conversation, error)
	// ListByAccount returns conversations newest-updated first.
	ListByAccount(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*models.Conversation, error)
	CountByAccount(ctx context.Context, accountID uuid.UUID) (int, error)
	Rename(ctx context.Context, id uuid.UUID, title string, now time.Time) error
	// Delete removes the conversation; its turns go with it.
	Delete(ctx context.Context, id uuid.UUID) error
	// NextSeq atomically bumps last_seq and updated_at and returns the new
	// sequence number for the next turn.
	NextSeq(ctx context.Context, id uuid.UUID, now time.Time) (int64, error)
}
