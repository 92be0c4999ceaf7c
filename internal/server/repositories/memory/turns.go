package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/dmitrijs2005/chatkeeper/internal/common"
	"github.com/dmitrijs2005/chatkeeper/internal/server/models"
	"github.com/google/uuid"
)

type turnRepo store

func cloneTurn(t *models.Turn) *models.Turn {
	c := *t
	if t.Metadata != nil {
		m := *t.Metadata
		c.Metadata = &m
	}
	return &c
}

func (r *turnRepo) Create(_ context.Context, turn *models.Turn) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conversations[turn.ConversationID]; !ok {
		return common.ErrorNotFound
	}
	for _, t := range r.turns {
		if t.ConversationID == turn.ConversationID && t.Seq == turn.Seq {
			return fmt.Errorf("turn seq %d already used: %w", turn.Seq, common.ErrConflict)
		}
	}
	turn.ID = uuid.New()
	r.turns[turn.ID] = cloneTurn(turn)
	return nil
}

func (r *turnRepo) Get(_ context.Context, id uuid.UUID) (*models.Turn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.turns[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return cloneTurn(t), nil
}

func (r *turnRepo) ListByConversation(_ context.Context, conversationID uuid.UUID, limit, offset int) ([]*models.Turn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var all []*models.Turn
	for _, t := range r.turns {
		if t.ConversationID == conversationID {
			all = append(all, cloneTurn(t))
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Seq < all[j].Seq })
	return page(all, limit, offset), nil
}

func (r *turnRepo) CountByConversation(_ context.Context, conversationID uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, t := range r.turns {
		if t.ConversationID == conversationID {
			n++
		}
	}
	return n, nil
}

func (r *turnRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.turns[id]; !ok {
		return common.ErrorNotFound
	}
	delete(r.turns, id)
	return nil
}
