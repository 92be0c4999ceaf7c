// Package memory keeps every repository in process memory. It backs the
// server when no DSN is configured and the service tests.
package memory

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/dmitrijs2005/chatkeeper/internal/dbx"
	"github.com/dmitrijs2005/chatkeeper/internal/server/models"
	"github.com/dmitrijs2005/chatkeeper/internal/server/repositories/accounts"
	"github.com/dmitrijs2005/chatkeeper/internal/server/repositories/conversations"
	"github.com/dmitrijs2005/chatkeeper/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/chatkeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/chatkeeper/internal/server/repositories/turns"
	"github.com/google/uuid"
)

// store is shared by all repositories of one manager. Each method holds mu
// for its whole body, which gives every single operation the atomicity the
// SQL statements have.
type store struct {
	mu            sync.Mutex
	accounts      map[uuid.UUID]*models.Account
	handles       map[string]uuid.UUID
	refreshTokens map[uuid.UUID]*models.RefreshToken
	tokenHashes   map[string]uuid.UUID
	conversations map[uuid.UUID]*models.Conversation
	turns         map[uuid.UUID]*models.Turn
	now           func() time.Time
}

// InMemoryRepositoryManager ignores the DBTX handed to it; pair it with
// dbx.NoTx.
type InMemoryRepositoryManager struct {
	s *store
}

var _ repomanager.RepositoryManager = (*InMemoryRepositoryManager)(nil)

func NewInMemoryRepositoryManager() *InMemoryRepositoryManager {
	return &InMemoryRepositoryManager{s: &store{
		accounts:      make(map[uuid.UUID]*models.Account),
		handles:       make(map[string]uuid.UUID),
		refreshTokens: make(map[uuid.UUID]*models.RefreshToken),
		tokenHashes:   make(map[string]uuid.UUID),
		conversations: make(map[uuid.UUID]*models.Conversation),
		turns:         make(map[uuid.UUID]*models.Turn),
		now:           time.Now,
	}}
}

func (m *InMemoryRepositoryManager) RunMigrations(context.Context, *sql.DB) error {
	return nil
}

func (m *InMemoryRepositoryManager) Accounts(dbx.DBTX) accounts.Repository {
	return (*accountRepo)(m.s)
}

func (m *InMemoryRepositoryManager) RefreshTokens(dbx.DBTX) refreshtokens.Repository {
	return (*refreshTokenRepo)(m.s)
}

func (m *InMemoryRepositoryManager) Conversations(dbx.DBTX) conversations.Repository {
	return (*conversationRepo)(m.s)
}

func (m *InMemoryRepositoryManager) Turns(dbx.DBTX) turns.Repository {
	return (*turnRepo)(m.s)
}

// DeleteAccount purges an account and everything it owns. Nothing in the
// server calls it; tests use it to simulate a hard delete elsewhere.
func (m *InMemoryRepositoryManager) DeleteAccount(id uuid.UUID) {
	s := m.s
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok {
		return
	}
	delete(s.handles, a.Handle)
	delete(s.accounts, id)
	for tid, t := range s.refreshTokens {
		if t.AccountID == id {
			delete(s.tokenHashes, t.TokenHash)
			delete(s.refreshTokens, tid)
		}
	}
	for cid, c := range s.conversations {
		if c.AccountID == id {
			s.deleteConversationLocked(cid)
		}
	}
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
