package services

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/chatkeeper/internal/common"
	"github.com/dmitrijs2005/chatkeeper/internal/server/models"
	"github.com/dmitrijs2005/chatkeeper/internal/server/repositories/accounts"
)

// LockState is derived from the account row, never stored.
type LockState int

const (
	StateOpen LockState = iota
	StateLocked
)

func (s LockState) String() string {
	if s == StateLocked {
		return "LOCKED"
	}
	return "OPEN"
}

// LockoutPolicy configures the failed-login lockout.
type LockoutPolicy struct {
	MaxAttempts int
	Duration    time.Duration
}

// LockoutTracker drives the OPEN/LOCKED state machine kept on the account
// row. It holds no state of its own.
type LockoutTracker struct {
	policy LockoutPolicy
	now    func() time.Time
}

func NewLockoutTracker(p LockoutPolicy) *LockoutTracker {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 5
	}
	if p.Duration <= 0 {
		p.Duration = 15 * time.Minute
	}
	return &LockoutTracker{policy: p, now: time.Now}
}

// WithClock replaces the time source. Used by tests.
func (l *LockoutTracker) WithClock(now func() time.Time) *LockoutTracker {
	l.now = now
	return l
}

func (l *LockoutTracker) State(a *models.Account) LockState {
	if a.LockedAt(l.now()) {
		return StateLocked
	}
	return StateOpen
}

// Check runs before any password comparison. A live lock rejects with
// *common.AccountLockedError; an elapsed lock is cleared in storage and the
// account continues as if it had never been locked.
func (l *LockoutTracker) Check(ctx context.Context, repo accounts.Repository, a *models.Account) error {
	if a.LockedUntil == nil {
		return nil
	}
	now := l.now()
	if now.Before(*a.LockedUntil) {
		return common.NewAccountLockedError(*a.LockedUntil, now)
	}

	if err := repo.ResetLockout(ctx, a.ID); err != nil {
		return fmt.Errorf("reset lockout: %w", err)
	}
	a.FailedAttempts = 0
	a.LockedUntil = nil
	return nil
}

// RecordFailure counts a wrong password. It returns the error the caller
// should surface: *common.AccountLockedError when this attempt locked the
// account, common.ErrInvalidCredentials otherwise.
func (l *LockoutTracker) RecordFailure(ctx context.Context, repo accounts.Repository, a *models.Account) error {
	now := l.now()
	attempts, lockedUntil, err := repo.RecordFailure(ctx, a.ID, l.policy.MaxAttempts, now.Add(l.policy.Duration))
	if err != nil {
		return fmt.Errorf("record failed login: %w", err)
	}
	a.FailedAttempts = attempts
	a.LockedUntil = lockedUntil

	if lockedUntil != nil && now.Before(*lockedUntil) {
		return common.NewAccountLockedError(*lockedUntil, now)
	}
	return common.ErrInvalidCredentials
}

// RecordSuccess resets the counter and stamps the login time.
func (l *LockoutTracker) RecordSuccess(ctx context.Context, repo accounts.Repository, a *models.Account) error {
	now := l.now()
	if err := repo.RecordSuccess(ctx, a.ID, now); err != nil {
		return fmt.Errorf("record login: %w", err)
	}
	a.FailedAttempts = 0
	a.LockedUntil = nil
	a.LastLoginAt = &now
	return nil
}
