// Package accounts declares the storage contract for registered accounts
// and their failed-login counters.
package accounts

import (
	"context"
	"time"

	"github.com/dmitrijs2005/chatkeeper/internal/server/models"
	"github.com/google/uuid"
)

type Repository interface {
	// Create inserts the account and fills ID and CreatedAt. A duplicate
	// handle yields common.ErrConflict.
	Create(ctx context.Context, account *models.Account) (*models.Account, error)
	GetByHandle(ctx context.Context, handle string) (*models.Account, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error)

	// RecordFailure atomically increments failed_attempts and, when the new
	// value reaches maxAttempts, sets locked_until to lockUntil. It returns
	// the new counter and lock.
	RecordFailure(ctx context.Context, id uuid.UUID, maxAttempts int, lockUntil time.Time) (int, *time.Time, error)
	// ResetLockout clears the counter and the lock.
	ResetLockout(ctx context.Context, id uuid.UUID) error
	// RecordSuccess clears the counter and the lock and stamps last_login_at.
	RecordSuccess(ctx context.Context, id uuid.UUID, at time.Time) error
}
