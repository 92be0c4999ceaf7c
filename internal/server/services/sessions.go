// Package services contains server-side business logic: sessions and
// lockout, the conversation pipeline and the credential sweeper.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/dmitrijs2005/chatkeeper/internal/common"
	"github.com/dmitrijs2005/chatkeeper/internal/cryptox"
	"github.com/dmitrijs2005/chatkeeper/internal/dbx"
	"github.com/dmitrijs2005/chatkeeper/internal/logging"
	"github.com/dmitrijs2005/chatkeeper/internal/server/auth"
	"github.com/dmitrijs2005/chatkeeper/internal/server/metrics"
	"github.com/dmitrijs2005/chatkeeper/internal/server/models"
	"github.com/dmitrijs2005/chatkeeper/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

const MinPasswordLength = 8

// TokenPair bundles a short-lived access token and a long-lived refresh token.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// AuthResult is returned by Register, Login and Refresh.
type AuthResult struct {
	Account models.AccountSummary `json:"account"`
	Tokens  TokenPair             `json:"tokens"`
}

type RegisterRequest struct {
	Handle      string
	Password    string
	DisplayName string
}

// Codecs are the two token codecs. They must use different secrets.
type Codecs struct {
	Access  *auth.Codec
	Refresh *auth.Codec
}

// SessionService implements register, login, refresh, logout and profile
// lookup on top of the account and refresh token repositories.
type SessionService struct {
	tx          dbx.Transactor
	repomanager repomanager.RepositoryManager
	codecs      Codecs
	hasher      *cryptox.Hasher
	lockout     *LockoutTracker
	logger      logging.Logger
	metrics     *metrics.Metrics
	now         func() time.Time
}

func NewSessionService(tx dbx.Transactor, rm repomanager.RepositoryManager, codecs Codecs,
	hasher *cryptox.Hasher, lockout *LockoutTracker, logger logging.Logger, m *metrics.Metrics) *SessionService {
	return &SessionService{
		tx:          tx,
		repomanager: rm,
		codecs:      codecs,
		hasher:      hasher,
		lockout:     lockout,
		logger:      logger,
		metrics:     m,
		now:         time.Now,
	}
}

// WithClock replaces the time source used for revocation and issue
// timestamps. The codecs and the lockout tracker keep their own clocks.
func (s *SessionService) WithClock(now func() time.Time) *SessionService {
	s.now = now
	return s
}

// Register creates the account and its first session in one transaction.
// A taken handle is common.ErrConflict.
func (s *SessionService) Register(ctx context.Context, req RegisterRequest) (*AuthResult, error) {
	handle := common.NormalizeHandle(req.Handle)
	if handle == "" {
		return nil, common.ValidationError("handle", "is required")
	}
	if utf8.RuneCountInString(req.Password) < MinPasswordLength {
		return nil, common.ValidationError("password", fmt.Sprintf("must be at least %d characters", MinPasswordLength))
	}

	if _, err := s.repomanager.Accounts(s.tx.Conn()).GetByHandle(ctx, handle); err == nil {
		s.audit(ctx, "register", "conflict")
		return nil, common.ErrConflict
	} else if !errors.Is(err, common.ErrorNotFound) {
		return nil, fmt.Errorf("lookup account: %w", err)
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	var result *AuthResult
	err = s.tx.InTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		account, err := s.repomanager.Accounts(tx).Create(ctx, &models.Account{
			Handle:       handle,
			DisplayName:  req.DisplayName,
			PasswordHash: hash,
			Role:         common.RoleUser,
		})
		if err != nil {
			return err
		}
		pair, err := s.issuePair(ctx, tx, account)
		if err != nil {
			return err
		}
		result = &AuthResult{Account: account.Summary(), Tokens: *pair}
		return nil
	})
	if err != nil {
		if errors.Is(err, common.ErrConflict) {
			s.audit(ctx, "register", "conflict")
			return nil, common.ErrConflict
		}
		return nil, fmt.Errorf("register: %w", err)
	}

	s.audit(ctx, "register", "success", "account_id", result.Account.ID)
	return result, nil
}

// Login checks the password and opens an additional session; sessions on
// other devices stay valid. Unknown handles and wrong passwords fail the
// same way.
func (s *SessionService) Login(ctx context.Context, handle, password string) (*AuthResult, error) {
	handle = common.NormalizeHandle(handle)
	repo := s.repomanager.Accounts(s.tx.Conn())

	account, err := repo.GetByHandle(ctx, handle)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			s.hasher.VerifyDummy(password)
			s.audit(ctx, "login", "invalid_credentials")
			return nil, common.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("lookup account: %w", err)
	}

	if err := s.lockout.Check(ctx, repo, account); err != nil {
		if errors.Is(err, common.ErrAccountLocked) {
			s.audit(ctx, "login", "locked", "account_id", account.ID)
		}
		return nil, err
	}

	if !s.hasher.Verify(password, account.PasswordHash) {
		err := s.lockout.RecordFailure(ctx, repo, account)
		switch {
		case errors.Is(err, common.ErrAccountLocked):
			s.audit(ctx, "login", "locked", "account_id", account.ID, "failed_attempts", account.FailedAttempts)
		case errors.Is(err, common.ErrInvalidCredentials):
			s.audit(ctx, "login", "invalid_credentials", "account_id", account.ID, "failed_attempts", account.FailedAttempts)
		}
		return nil, err
	}

	if err := s.lockout.RecordSuccess(ctx, repo, account); err != nil {
		return nil, err
	}

	pair, err := s.issuePair(ctx, s.tx.Conn(), account)
	if err != nil {
		return nil, err
	}

	s.audit(ctx, "login", "success", "account_id", account.ID)
	return &AuthResult{Account: account.Summary(), Tokens: *pair}, nil
}

// Refresh rotates a refresh token: the presented token is revoked and a new
// pair is issued in the same transaction. A token can be used once; the
// loser of a concurrent refresh gets common.ErrInvalidToken.
func (s *SessionService) Refresh(ctx context.Context, refreshToken string) (*AuthResult, error) {
	identity, err := s.codecs.Refresh.Verify(refreshToken)
	if err != nil {
		s.audit(ctx, "refresh", outcomeOf(err))
		return nil, err
	}

	now := s.now()
	record, err := s.repomanager.RefreshTokens(s.tx.Conn()).Find(ctx, common.HashToken(refreshToken))
	switch {
	case errors.Is(err, common.ErrorNotFound):
		s.audit(ctx, "refresh", "unknown", "account_id", identity.AccountID)
		return nil, common.ErrInvalidToken
	case err != nil:
		return nil, fmt.Errorf("lookup refresh token: %w", err)
	case record.Revoked() || record.AccountID != identity.AccountID:
		s.audit(ctx, "refresh", "revoked", "account_id", identity.AccountID)
		return nil, common.ErrInvalidToken
	case record.ExpiredAt(now):
		s.audit(ctx, "refresh", "expired", "account_id", identity.AccountID)
		return nil, common.ErrTokenExpired
	}

	var result *AuthResult
	err = s.tx.InTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		revoked, err := s.repomanager.RefreshTokens(tx).Revoke(ctx, record.ID, now)
		if err != nil {
			return err
		}
		if !revoked {
			return common.ErrInvalidToken
		}

		account, err := s.repomanager.Accounts(tx).GetByID(ctx, record.AccountID)
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return common.ErrInvalidToken
			}
			return err
		}

		pair, err := s.issuePair(ctx, tx, account)
		if err != nil {
			return err
		}
		result = &AuthResult{Account: account.Summary(), Tokens: *pair}
		return nil
	})
	if err != nil {
		if errors.Is(err, common.ErrInvalidToken) {
			s.audit(ctx, "refresh", "race_lost", "account_id", identity.AccountID)
			return nil, common.ErrInvalidToken
		}
		return nil, fmt.Errorf("rotate refresh token: %w", err)
	}

	s.audit(ctx, "refresh", "success", "account_id", identity.AccountID)
	return result, nil
}

// Logout revokes the refresh token if a live record exists. It is
// idempotent: unknown, revoked or garbage tokens are a no-op.
func (s *SessionService) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		s.audit(ctx, "logout", "noop")
		return nil
	}

	accountID, revoked, err := s.repomanager.RefreshTokens(s.tx.Conn()).RevokeByHash(ctx, common.HashToken(refreshToken), s.now())
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}

	switch identity, verr := s.codecs.Refresh.Verify(refreshToken); {
	case revoked:
		s.audit(ctx, "logout", "success", "account_id", accountID)
	case verr == nil:
		s.audit(ctx, "logout", "noop", "account_id", identity.AccountID)
	default:
		s.audit(ctx, "logout", "noop")
	}
	return nil
}

// Profile returns the account summary, or common.ErrorNotFound if the
// account disappeared after authentication.
func (s *SessionService) Profile(ctx context.Context, accountID uuid.UUID) (*models.AccountSummary, error) {
	account, err := s.repomanager.Accounts(s.tx.Conn()).GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	summary := account.Summary()
	return &summary, nil
}

// Authenticate verifies an access token. Refresh tokens are rejected.
func (s *SessionService) Authenticate(_ context.Context, accessToken string) (*auth.Identity, error) {
	return s.codecs.Access.Verify(accessToken)
}

// --- helpers below ---

func (s *SessionService) issuePair(ctx context.Context, db dbx.DBTX, a *models.Account) (*TokenPair, error) {
	id := auth.Identity{AccountID: a.ID, Handle: a.Handle, Role: a.Role}

	access, accessExp, err := s.codecs.Access.Issue(id)
	if err != nil {
		return nil, err
	}
	refresh, refreshExp, err := s.codecs.Refresh.Issue(id)
	if err != nil {
		return nil, err
	}

	if _, err := s.repomanager.RefreshTokens(db).Create(ctx, a.ID, common.HashToken(refresh), s.now(), refreshExp); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}

	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		TokenType:        "Bearer",
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (s *SessionService) audit(ctx context.Context, event, outcome string, args ...any) {
	logging.Audit(ctx, s.logger, event, outcome, args...)
	s.metrics.AuthOutcome(event, outcome)
}

func outcomeOf(err error) string {
	if errors.Is(err, common.ErrTokenExpired) {
		return "expired"
	}
	return "malformed"
}
