package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/chatkeeper/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister_TokensIdentifySameAccount(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.sessions.Register(ctx, RegisterRequest{Handle: "  Demo@Example.com ", Password: "Password123!", DisplayName: "Demo"})
	require.NoError(t, err)

	assert.Equal(t, "demo@example.com", res.Account.Handle)
	assert.Equal(t, "Demo", res.Account.DisplayName)
	assert.Equal(t, common.RoleUser, res.Account.Role)
	assert.Equal(t, "Bearer", res.Tokens.TokenType)
	assert.NotEqual(t, res.Tokens.AccessToken, res.Tokens.RefreshToken)

	access, err := h.sessions.Authenticate(ctx, res.Tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, res.Account.ID, access.AccountID)

	refresh, err := h.sessions.codecs.Refresh.Verify(res.Tokens.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, res.Account.ID, refresh.AccountID)

	stored, err := h.rm.RefreshTokens(nil).Find(ctx, common.HashToken(res.Tokens.RefreshToken))
	require.NoError(t, err)
	assert.Equal(t, res.Account.ID, stored.AccountID)
	assert.False(t, stored.Revoked())
}

func TestRegister_Conflict(t *testing.T) {
	h := newHarness(t)
	h.register(t, "demo@example.com", "Demo")

	_, err := h.sessions.Register(context.Background(), RegisterRequest{Handle: "DEMO@example.com", Password: "Password123!"})
	assert.ErrorIs(t, err, common.ErrConflict)
}

func TestRegister_Validation(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name string
		req  RegisterRequest
	}{
		{"empty handle", RegisterRequest{Handle: "   ", Password: "Password123!"}},
		{"short password", RegisterRequest{Handle: "a@example.com", Password: "short"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.sessions.Register(context.Background(), tt.req)
			assert.ErrorIs(t, err, common.ErrValidation)
		})
	}
}

func TestLogin_SuccessIsAdditive(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	first, _ := h.register(t, "demo@example.com", "Demo")

	second, err := h.sessions.Login(ctx, "Demo@Example.com", "Password123!")
	require.NoError(t, err)
	assert.Equal(t, first.Account.ID, second.Account.ID)

	// Both sessions stay usable.
	_, err = h.sessions.Refresh(ctx, first.Tokens.RefreshToken)
	require.NoError(t, err)
	_, err = h.sessions.Refresh(ctx, second.Tokens.RefreshToken)
	require.NoError(t, err)

	account, err := h.rm.Accounts(nil).GetByID(ctx, first.Account.ID)
	require.NoError(t, err)
	require.NotNil(t, account.LastLoginAt)
	assert.True(t, account.LastLoginAt.Equal(h.clock.Now()))
}

func TestLogin_UnknownAndWrongPasswordLookTheSame(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(t, "demo@example.com", "Demo")

	_, errUnknown := h.sessions.Login(ctx, "nobody@example.com", "Password123!")
	_, errWrong := h.sessions.Login(ctx, "demo@example.com", "wrong-password")

	assert.ErrorIs(t, errUnknown, common.ErrInvalidCredentials)
	assert.ErrorIs(t, errWrong, common.ErrInvalidCredentials)
	assert.Equal(t, errUnknown.Error(), errWrong.Error())
}

func TestLogin_LockoutAndRecovery(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(t, "demo@example.com", "Demo")

	for i := 0; i < 4; i++ {
		_, err := h.sessions.Login(ctx, "demo@example.com", "wrong-password")
		require.ErrorIs(t, err, common.ErrInvalidCredentials, "attempt %d", i+1)
	}

	_, err := h.sessions.Login(ctx, "demo@example.com", "wrong-password")
	var locked *common.AccountLockedError
	require.True(t, errors.As(err, &locked), "fifth failure locks, got %v", err)
	assert.Equal(t, 15*time.Minute, locked.Remaining)

	// The correct password does not help while locked.
	h.clock.Advance(time.Minute)
	_, err = h.sessions.Login(ctx, "demo@example.com", "Password123!")
	require.True(t, errors.As(err, &locked))
	assert.ErrorIs(t, err, common.ErrorUnauthorized)
	assert.Greater(t, locked.RetryAfterSeconds(), 0)
	assert.Equal(t, 14*time.Minute, locked.Remaining)

	// After the window the counter starts over.
	h.clock.Advance(14*time.Minute + time.Second)
	_, err = h.sessions.Login(ctx, "demo@example.com", "wrong-password")
	require.ErrorIs(t, err, common.ErrInvalidCredentials)
	assert.False(t, errors.As(err, &locked))

	res, err := h.sessions.Login(ctx, "demo@example.com", "Password123!")
	require.NoError(t, err)

	account, err := h.rm.Accounts(nil).GetByID(ctx, res.Account.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, account.FailedAttempts)
	assert.Nil(t, account.LockedUntil)
}

func TestLogin_SuccessResetsCounter(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(t, "demo@example.com", "Demo")

	for i := 0; i < 4; i++ {
		_, _ = h.sessions.Login(ctx, "demo@example.com", "wrong-password")
	}
	_, err := h.sessions.Login(ctx, "demo@example.com", "Password123!")
	require.NoError(t, err)

	// Four more failures are needed before a lock again.
	for i := 0; i < 4; i++ {
		_, err := h.sessions.Login(ctx, "demo@example.com", "wrong-password")
		require.ErrorIs(t, err, common.ErrInvalidCredentials)
		require.NotErrorIs(t, err, common.ErrAccountLocked)
	}
}

func TestRefresh_RotationAndReuse(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	first, _ := h.register(t, "demo@example.com", "Demo")

	rotated, err := h.sessions.Refresh(ctx, first.Tokens.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, first.Tokens.RefreshToken, rotated.Tokens.RefreshToken)
	assert.Equal(t, first.Account.ID, rotated.Account.ID)

	_, err = h.sessions.Refresh(ctx, first.Tokens.RefreshToken)
	assert.ErrorIs(t, err, common.ErrInvalidToken)

	_, err = h.sessions.Refresh(ctx, rotated.Tokens.RefreshToken)
	assert.NoError(t, err)
}

func TestRefresh_ConcurrentReuseHasOneWinner(t *testing.T) {
	h := newHarness(t)
	first, _ := h.register(t, "demo@example.com", "Demo")

	const n = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
		invalid int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.sessions.Refresh(context.Background(), first.Tokens.RefreshToken)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				success++
			case errors.Is(err, common.ErrInvalidToken):
				invalid++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, success)
	assert.Equal(t, n-1, invalid)
}

func TestRefresh_Rejections(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	first, _ := h.register(t, "demo@example.com", "Demo")

	_, err := h.sessions.Refresh(ctx, first.Tokens.AccessToken)
	assert.ErrorIs(t, err, common.ErrMalformedToken, "access token must not refresh")

	_, err = h.sessions.Refresh(ctx, "garbage")
	assert.ErrorIs(t, err, common.ErrMalformedToken)

	_, err = h.sessions.Authenticate(ctx, first.Tokens.RefreshToken)
	assert.ErrorIs(t, err, common.ErrMalformedToken, "refresh token must not authenticate")
}

func TestRefresh_Expired(t *testing.T) {
	h := newHarness(t)
	first, _ := h.register(t, "demo@example.com", "Demo")

	h.clock.Advance(7*24*time.Hour + time.Second)

	_, err := h.sessions.Refresh(context.Background(), first.Tokens.RefreshToken)
	assert.ErrorIs(t, err, common.ErrTokenExpired)
}

func TestRefresh_DeletedAccount(t *testing.T) {
	h := newHarness(t)
	first, _ := h.register(t, "demo@example.com", "Demo")

	h.rm.DeleteAccount(first.Account.ID)

	_, err := h.sessions.Refresh(context.Background(), first.Tokens.RefreshToken)
	assert.ErrorIs(t, err, common.ErrInvalidToken)
}

func TestLogout_Idempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	first, _ := h.register(t, "demo@example.com", "Demo")

	require.NoError(t, h.sessions.Logout(ctx, first.Tokens.RefreshToken))
	require.NoError(t, h.sessions.Logout(ctx, first.Tokens.RefreshToken))
	require.NoError(t, h.sessions.Logout(ctx, "garbage"))
	require.NoError(t, h.sessions.Logout(ctx, ""))

	_, err := h.sessions.Refresh(ctx, first.Tokens.RefreshToken)
	assert.ErrorIs(t, err, common.ErrInvalidToken)

	// The access token lives until it expires.
	_, err = h.sessions.Authenticate(ctx, first.Tokens.AccessToken)
	assert.NoError(t, err)
}

func TestProfile(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	first, _ := h.register(t, "demo@example.com", "Demo")

	p, err := h.sessions.Profile(ctx, first.Account.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Account, *p)

	h.rm.DeleteAccount(first.Account.ID)
	_, err = h.sessions.Profile(ctx, first.Account.ID)
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestAuthenticate_AccessExpiry(t *testing.T) {
	h := newHarness(t)
	first, _ := h.register(t, "demo@example.com", "Demo")

	h.clock.Advance(15*time.Minute + time.Second)

	_, err := h.sessions.Authenticate(context.Background(), first.Tokens.AccessToken)
	assert.ErrorIs(t, err, common.ErrTokenExpired)
}

func TestSessions_AuditCarriesAccount(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	assertAudit := func(event, outcome string, account any) {
		t.Helper()
		got := h.audit.lastAudit()
		require.NotNil(t, got)
		assert.Equal(t, true, got["audit"])
		assert.Equal(t, event, got["event"])
		assert.Equal(t, outcome, got["outcome"])
		assert.Equal(t, account, got["account_id"])
	}

	reg, _ := h.register(t, "demo@example.com", "Demo")
	id := reg.Account.ID
	assertAudit("register", "success", id)

	login, err := h.sessions.Login(ctx, "demo@example.com", "Password123!")
	require.NoError(t, err)
	assertAudit("login", "success", id)

	_, err = h.sessions.Login(ctx, "demo@example.com", "wrong-password")
	require.Error(t, err)
	assertAudit("login", "invalid_credentials", id)

	rotated, err := h.sessions.Refresh(ctx, login.Tokens.RefreshToken)
	require.NoError(t, err)
	assertAudit("refresh", "success", id)

	require.NoError(t, h.sessions.Logout(ctx, rotated.Tokens.RefreshToken))
	assertAudit("logout", "success", id)

	require.NoError(t, h.sessions.Logout(ctx, rotated.Tokens.RefreshToken))
	assertAudit("logout", "noop", id)

	require.NoError(t, h.sessions.Logout(ctx, "garbage"))
	assertAudit("logout", "noop", nil)
}
