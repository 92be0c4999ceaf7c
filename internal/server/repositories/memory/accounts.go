package memory

import (
	"context"
	"time"

	"github.com/dmitrijs2005/chatkeeper/internal/common"
	"github.com/dmitrijs2005/chatkeeper/internal/server/models"
	"github.com/google/uuid"
)

type accountRepo store

func cloneAccount(a *models.Account) *models.Account {
	c := *a
	c.LockedUntil = copyTime(a.LockedUntil)
	c.LastLoginAt = copyTime(a.LastLoginAt)
	return &c
}

func (r *accountRepo) Create(_ context.Context, account *models.Account) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.handles[account.Handle]; ok {
		return nil, common.ErrConflict
	}
	account.ID = uuid.New()
	account.CreatedAt = r.now()
	r.accounts[account.ID] = cloneAccount(account)
	r.handles[account.Handle] = account.ID
	return account, nil
}

func (r *accountRepo) GetByHandle(_ context.Context, handle string) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.handles[handle]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return cloneAccount(r.accounts[id]), nil
}

func (r *accountRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.accounts[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return cloneAccount(a), nil
}

func (r *accountRepo) RecordFailure(_ context.Context, id uuid.UUID, maxAttempts int, lockUntil time.Time) (int, *time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.accounts[id]
	if !ok {
		return 0, nil, common.ErrorNotFound
	}
	a.FailedAttempts++
	if a.FailedAttempts >= maxAttempts {
		until := lockUntil
		a.LockedUntil = &until
	} else {
		a.LockedUntil = nil
	}
	return a.FailedAttempts, copyTime(a.LockedUntil), nil
}

func (r *accountRepo) ResetLockout(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.accounts[id]
	if !ok {
		return common.ErrorNotFound
	}
	a.FailedAttempts = 0
	a.LockedUntil = nil
	return nil
}

func (r *accountRepo) RecordSuccess(_ context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.accounts[id]
	if !ok {
		return common.ErrorNotFound
	}
	a.FailedAttempts = 0
	a.LockedUntil = nil
	a.LastLoginAt = &at
	return nil
}
