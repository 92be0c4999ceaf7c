package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/chatkeeper/internal/common"
	"github.com/dmitrijs2005/chatkeeper/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)

func newAccount(t *testing.T, m *InMemoryRepositoryManager, handle string) *models.Account {
	t.Helper()
	a, err := m.Accounts(nil).Create(context.Background(), &models.Account{Handle: handle, PasswordHash: "h", Role: common.RoleUser})
	require.NoError(t, err)
	return a
}

func TestAccounts_UniqueHandleAndCopies(t *testing.T) {
	m := NewInMemoryRepositoryManager()
	ctx := context.Background()
	a := newAccount(t, m, "alice")

	_, err := m.Accounts(nil).Create(ctx, &models.Account{Handle: "alice"})
	assert.ErrorIs(t, err, common.ErrConflict)

	got, err := m.Accounts(nil).GetByHandle(ctx, "alice")
	require.NoError(t, err)
	got.FailedAttempts = 99

	again, err := m.Accounts(nil).GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, again.FailedAttempts, "callers get copies")

	_, err = m.Accounts(nil).GetByHandle(ctx, "bob")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestAccounts_RecordFailureLocksAtThreshold(t *testing.T) {
	m := NewInMemoryRepositoryManager()
	ctx := context.Background()
	a := newAccount(t, m, "alice")
	repo := m.Accounts(nil)
	until := t0.Add(15 * time.Minute)

	for i := 1; i < 3; i++ {
		n, locked, err := repo.RecordFailure(ctx, a.ID, 3, until)
		require.NoError(t, err)
		assert.Equal(t, i, n)
		assert.Nil(t, locked)
	}
	n, locked, err := repo.RecordFailure(ctx, a.ID, 3, until)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.NotNil(t, locked)
	assert.Equal(t, until, *locked)

	require.NoError(t, repo.RecordSuccess(ctx, a.ID, t0))
	got, _ := repo.GetByID(ctx, a.ID)
	assert.Equal(t, 0, got.FailedAttempts)
	assert.Nil(t, got.LockedUntil)
	require.NotNil(t, got.LastLoginAt)
}

func TestAccounts_ConcurrentFailuresAreNotLost(t *testing.T) {
	m := NewInMemoryRepositoryManager()
	a := newAccount(t, m, "alice")
	repo := m.Accounts(nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, _ = repo.RecordFailure(context.Background(), a.ID, 1000, t0)
		}()
	}
	wg.Wait()

	got, _ := repo.GetByID(context.Background(), a.ID)
	assert.Equal(t, 50, got.FailedAttempts)
}

func TestRefreshTokens_RevokeOnceAndSweep(t *testing.T) {
	m := NewInMemoryRepositoryManager()
	ctx := context.Background()
	a := newAccount(t, m, "alice")
	repo := m.RefreshTokens(nil)

	live, err := repo.Create(ctx, a.ID, "live", t0, t0.Add(time.Hour))
	require.NoError(t, err)
	old, err := repo.Create(ctx, a.ID, "old", t0, t0.Add(time.Minute))
	require.NoError(t, err)

	ok, err := repo.Revoke(ctx, old.ID, t0)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = repo.Revoke(ctx, old.ID, t0)
	assert.False(t, ok)

	_, ok, _ = repo.RevokeByHash(ctx, "missing", t0)
	assert.False(t, ok)

	owner, ok, err := repo.RevokeByHash(ctx, "live", t0)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, a.ID, owner)
	_, ok, _ = repo.RevokeByHash(ctx, "live", t0)
	assert.False(t, ok)

	n, err := repo.SweepExpired(ctx, t0.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = repo.Find(ctx, "old")
	assert.ErrorIs(t, err, common.ErrorNotFound)
	got, err := repo.Find(ctx, "live")
	require.NoError(t, err)
	assert.Equal(t, live.ID, got.ID)
}

func TestConversations_SeqPagingAndCascade(t *testing.T) {
	m := NewInMemoryRepositoryManager()
	ctx := context.Background()
	a := newAccount(t, m, "alice")
	convs, turns := m.Conversations(nil), m.Turns(nil)

	c, err := convs.Create(ctx, a.ID, "first", t0)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		seq, err := convs.NextSeq(ctx, c.ID, t0.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
		require.NoError(t, turns.Create(ctx, &models.Turn{ConversationID: c.ID, Seq: seq, Role: models.RoleUser, Content: "m"}))
	}

	err = turns.Create(ctx, &models.Turn{ConversationID: c.ID, Seq: 2})
	assert.ErrorIs(t, err, common.ErrConflict)

	list, err := turns.ListByConversation(ctx, c.ID, 2, 1)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, int64(2), list[0].Seq)
	assert.Equal(t, int64(3), list[1].Seq)

	got, _ := convs.Get(ctx, c.ID)
	assert.Equal(t, int64(3), got.LastSeq)
	assert.Equal(t, t0.Add(2*time.Second), got.UpdatedAt)

	require.NoError(t, convs.Delete(ctx, c.ID))
	n, _ := turns.CountByConversation(ctx, c.ID)
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, convs.Delete(ctx, c.ID), common.ErrorNotFound)
}

func TestConversations_ListNewestFirst(t *testing.T) {
	m := NewInMemoryRepositoryManager()
	ctx := context.Background()
	a := newAccount(t, m, "alice")
	b := newAccount(t, m, "bob")
	convs := m.Conversations(nil)

	_, _ = convs.Create(ctx, a.ID, "old", t0)
	_, _ = convs.Create(ctx, a.ID, "new", t0.Add(time.Hour))
	_, _ = convs.Create(ctx, b.ID, "bob's", t0)

	list, err := convs.ListByAccount(ctx, a.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "new", list[0].Title)

	n, _ := convs.CountByAccount(ctx, a.ID)
	assert.Equal(t, 2, n)

	list, _ = convs.ListByAccount(ctx, a.ID, 10, 5)
	assert.Empty(t, list)
}

func TestDeleteAccount_Cascades(t *testing.T) {
	m := NewInMemoryRepositoryManager()
	ctx := context.Background()
	a := newAccount(t, m, "alice")

	c, _ := m.Conversations(nil).Create(ctx, a.ID, "t", t0)
	_, _ = m.RefreshTokens(nil).Create(ctx, a.ID, "h", t0, t0.Add(time.Hour))

	m.DeleteAccount(a.ID)

	_, err := m.Accounts(nil).GetByID(ctx, a.ID)
	assert.ErrorIs(t, err, common.ErrorNotFound)
	_, err = m.Conversations(nil).Get(ctx, c.ID)
	assert.ErrorIs(t, err, common.ErrorNotFound)
	_, err = m.RefreshTokens(nil).Find(ctx, "h")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}
