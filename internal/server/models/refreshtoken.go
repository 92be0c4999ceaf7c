package models

import (
	"time"

	"github.com/google/uuid"
)

// RefreshToken is the stored record of an issued refresh token. Only the
// SHA-256 of the token is kept.
type RefreshToken struct {
	ID        uuid.UUID
	AccountID uuid.UUID
	TokenHash string
	IssuedAt  time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time
}

func (t *RefreshToken) Revoked() bool { return t.RevokedAt != nil }

func (t *RefreshToken) ExpiredAt(now time.Time) bool { return !now.Before(t.ExpiresAt) }
