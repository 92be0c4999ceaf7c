// Package refreshtokens declares the credential store: persisted refresh
// token records and their revocation state.
package refreshtokens

import (
	"context"
	"time"

	"github.com/dmitrijs2005/chatkeeper/internal/server/models"
	"github.com/google/uuid"
)

// Repository stores refresh tokens by their SHA-256 hash.
type Repository interface {
	// Create stores a new record for accountID.
	Create(ctx context.Context, accountID uuid.UUID, tokenHash string, issuedAt, expiresAt time.Time) (*models.RefreshToken, error)

	// Find returns the record for tokenHash, revoked or not.
	// Implementations return common.ErrorNotFound when the hash is absent.
	Find(ctx context.Context, tokenHash string) (*models.RefreshToken, error)

	// Revoke marks the record revoked only if it is not revoked yet and
	// reports whether this call did it.
	Revoke(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)

	// RevokeByHash is Revoke keyed by token hash. It also returns the owner
	// of the revoked token.
	RevokeByHash(ctx context.Context, tokenHash string, at time.Time) (uuid.UUID, bool, error)

	// SweepExpired deletes records that are both revoked and expired at now.
	SweepExpired(ctx context.Context, now time.Time) (int64, error)
}
