// Package models defines server-side data models persisted in the database.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Account is a registered user. Handle is stored normalized (trimmed,
// lower-cased) and is unique. FailedAttempts and LockedUntil hold the
// lockout state.
type Account struct {
	ID             uuid.UUID
	Handle         string
	DisplayName    string
	PasswordHash   string
	Role           string
	FailedAttempts int
	LockedUntil    *time.Time
	LastLoginAt    *time.Time
	CreatedAt      time.Time
}

// LockedAt reports whether the account is locked at the given instant.
func (a *Account) LockedAt(now time.Time) bool {
	return a.LockedUntil != nil && now.Before(*a.LockedUntil)
}

// AccountSummary is the public view of an account.
type AccountSummary struct {
	ID          uuid.UUID `json:"id"`
	Handle      string    `json:"handle"`
	DisplayName string    `json:"display_name"`
	Role        string    `json:"role"`
	CreatedAt   time.Time `json:"created_at"`
}

func (a *Account) Summary() AccountSummary {
	return AccountSummary{
		ID:          a.ID,
		Handle:      a.Handle,
		DisplayName: a.DisplayName,
		Role:        a.Role,
		CreatedAt:   a.CreatedAt,
	}
}
