package memory

import (
	"context"
	"sort"
	"time"

	"github.com/dmitrijs2005/chatkeeper/internal/common"
	"github.com/dmitrijs2005/chatkeeper/internal/server/models"
	"github.com/google/uuid"
)

type conversationRepo store

func (r *conversationRepo) Create(_ context.Context, accountID uuid.UUID, title string, now time.Time) (*models.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.accounts[accountID]; !ok {
		return nil, common.ErrorNotFound
	}
	c := &models.Conversation{ID: uuid.New(), AccountID: accountID, Title: title, CreatedAt: now, UpdatedAt: now}
	r.conversations[c.ID] = c
	cp := *c
	return &cp, nil
}

func (r *conversationRepo) Get(_ context.Context, id uuid.UUID) (*models.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conversations[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *conversationRepo) ListByAccount(_ context.Context, accountID uuid.UUID, limit, offset int) ([]*models.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var all []*models.Conversation
	for _, c := range r.conversations {
		if c.AccountID == accountID {
			cp := *c
			all = append(all, &cp)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].UpdatedAt.Equal(all[j].UpdatedAt) {
			return all[i].UpdatedAt.After(all[j].UpdatedAt)
		}
		return all[i].ID.String() < all[j].ID.String()
	})
	return page(all, limit, offset), nil
}

func (r *conversationRepo) CountByAccount(_ context.Context, accountID uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, c := range r.conversations {
		if c.AccountID == accountID {
			n++
		}
	}
	return n, nil
}

func (r *conversationRepo) Rename(_ context.Context, id uuid.UUID, title string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conversations[id]
	if !ok {
		return common.ErrorNotFound
	}
	c.Title = title
	c.UpdatedAt = now
	return nil
}

func (r *conversationRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conversations[id]; !ok {
		return common.ErrorNotFound
	}
	(*store)(r).deleteConversationLocked(id)
	return nil
}

func (r *conversationRepo) NextSeq(_ context.Context, id uuid.UUID, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conversations[id]
	if !ok {
		return 0, common.ErrorNotFound
	}
	c.LastSeq++
	c.UpdatedAt = now
	return c.LastSeq, nil
}

// deleteConversationLocked removes the conversation and its turns.
func (s *store) deleteConversationLocked(id uuid.UUID) {
	delete(s.conversations, id)
	for tid, t := range s.turns {
		if t.ConversationID == id {
			delete(s.turns, tid)
		}
	}
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
