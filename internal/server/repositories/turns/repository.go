package turns

import (
	"context"

	"github.com/dmitrijs2005/chatkeeper/internal/server/models"
	"github.com/google/uuid"
)

type Repository interface {
	// Create inserts a turn whose Seq was taken from the conversation
	// counter. ID is filled in.
	Create(ctx context.Context, turn *models.Turn) error
	Get(ctx context.Context, id uuid.UUID) (*models.Turn, error)
	// ListByConversation returns turns in Seq order. limit <= 0 means all.
	ListByConversation(ctx context.Context, conversationID uuid.UUID, limit, offset int) ([]*models.Turn, error)
	CountByConversation(ctx context.Context, conversationID uuid.UUID) (int, error)
	Delete(ctx context.Context, id uuid.UUID) error
}
