// Package common defines shared constants and sentinel errors used across
// the chatkeeper server layers. Callers should use errors.Is to match these
// values.
package common

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors (generic/internal flow control).
	ErrorUnauthorized = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrConflict       = errors.New("conflict")
	ErrValidation     = errors.New("validation error")

	// Auth errors. All of them match ErrorUnauthorized.
	ErrInvalidCredentials = fmt.Errorf("invalid credentials: %w", ErrorUnauthorized)
	ErrInvalidToken       = fmt.Errorf("invalid token: %w", ErrorUnauthorized)
	ErrMalformedToken     = fmt.Errorf("malformed token: %w", ErrInvalidToken)
	ErrTokenExpired       = fmt.Errorf("token expired: %w", ErrorUnauthorized)
	ErrAccountLocked      = fmt.Errorf("account locked: %w", ErrorUnauthorized)

	// Generation backend failures. Never returned to chat callers.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

// AccountLockedError is returned while an account is inside its lockout
// window. It matches ErrAccountLocked and ErrorUnauthorized.
type AccountLockedError struct {
	Until     time.Time
	Remaining time.Duration
}

// NewAccountLockedError builds the error for a lock expiring at until.
func NewAccountLockedError(until, now time.Time) *AccountLockedError {
	return &AccountLockedError{Until: until, Remaining: until.Sub(now)}
}

func (e *AccountLockedError) Error() string {
	return fmt.Sprintf("account locked, retry in %d seconds", e.RetryAfterSeconds())
}

// Unwrap lets errors.Is reach ErrAccountLocked and ErrorUnauthorized.
func (e *AccountLockedError) Unwrap() error { return ErrAccountLocked }

// RetryAfterSeconds is the remaining lock time rounded up; never below 1.
func (e *AccountLockedError) RetryAfterSeconds() int {
	s := int(math.Ceil(e.Remaining.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}

// ValidationError wraps ErrValidation with the offending field.
func ValidationError(field, reason string) error {
	return fmt.Errorf("%w: %s %s", ErrValidation, field, reason)
}
