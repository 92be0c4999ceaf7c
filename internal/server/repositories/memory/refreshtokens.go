package memory

import (
	"context"
	"time"

	"github.com/dmitrijs2005/chatkeeper/internal/common"
	"github.com/dmitrijs2005/chatkeeper/internal/server/models"
	"github.com/google/uuid"
)

type refreshTokenRepo store

func cloneRefreshToken(t *models.RefreshToken) *models.RefreshToken {
	c := *t
	c.RevokedAt = copyTime(t.RevokedAt)
	return &c
}

func (r *refreshTokenRepo) Create(_ context.Context, accountID uuid.UUID, tokenHash string, issuedAt, expiresAt time.Time) (*models.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.accounts[accountID]; !ok {
		return nil, common.ErrorNotFound
	}
	if _, ok := r.tokenHashes[tokenHash]; ok {
		return nil, common.ErrConflict
	}
	t := &models.RefreshToken{ID: uuid.New(), AccountID: accountID, TokenHash: tokenHash, IssuedAt: issuedAt, ExpiresAt: expiresAt}
	r.refreshTokens[t.ID] = t
	r.tokenHashes[tokenHash] = t.ID
	return cloneRefreshToken(t), nil
}

func (r *refreshTokenRepo) Find(_ context.Context, tokenHash string) (*models.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.tokenHashes[tokenHash]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return cloneRefreshToken(r.refreshTokens[id]), nil
}

func (r *refreshTokenRepo) Revoke(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.revokeLocked(id, at), nil
}

func (r *refreshTokenRepo) RevokeByHash(_ context.Context, tokenHash string, at time.Time) (uuid.UUID, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.tokenHashes[tokenHash]
	if !ok || !r.revokeLocked(id, at) {
		return uuid.Nil, false, nil
	}
	return r.refreshTokens[id].AccountID, true, nil
}

func (r *refreshTokenRepo) revokeLocked(id uuid.UUID, at time.Time) bool {
	t, ok := r.refreshTokens[id]
	if !ok || t.RevokedAt != nil {
		return false
	}
	t.RevokedAt = &at
	return true
}

func (r *refreshTokenRepo) SweepExpired(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for id, t := range r.refreshTokens {
		if t.RevokedAt != nil && !t.ExpiresAt.After(now) {
			delete(r.tokenHashes, t.TokenHash)
			delete(r.refreshTokens, id)
			n++
		}
	}
	return n, nil
}
