// Package conversations provides PostgreSQL-backed storage for
// conversations and their per-conversation turn counter.
package conversations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/chatkeeper/internal/common"
	"github.com/dmitrijs2005/chatkeeper/internal/dbx"
	"github.com/dmitrijs2005/chatkeeper/internal/server/models"
	"github.com/google/uuid"
)

// PostgresRepository implements conversation storage over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, accountID uuid.UUID, title string, now time.Time) (*models.Conversation, error) {
	query := `
		INSERT INTO conversations (account_id, title, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		RETURNING id
	`
	c := &models.Conversation{AccountID: accountID, Title: title, CreatedAt: now, UpdatedAt: now}
	if err := r.db.QueryRowContext(ctx, query, accountID, title, now).Scan(&c.ID); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return c, nil
}

func (r *PostgresRepository) Get(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	query := `
		SELECT id, account_id, title, last_seq, created_at, updated_at
		FROM conversations
		WHERE id = $1
	`
	c := &models.Conversation{}
	err := r.db.QueryRowContext(ctx, query, id).
		Scan(&c.ID, &c.AccountID, &c.Title, &c.LastSeq, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return c, nil
}

func (r *PostgresRepository) ListByAccount(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*models.Conversation, error) {
	query := `
		SELECT id, account_id, title, last_seq, created_at, updated_at
		FROM conversations
		WHERE account_id = $1
		ORDER BY updated_at DESC, id
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.QueryContext(ctx, query, accountID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to select conversations: %w", err)
	}
	defer rows.Close()

	var result []*models.Conversation
	for rows.Next() {
		var item models.Conversation
		if err := rows.Scan(&item.ID, &item.AccountID, &item.Title, &item.LastSeq, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) CountByAccount(ctx context.Context, accountID uuid.UUID) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations WHERE account_id = $1`, accountID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) Rename(ctx context.Context, id uuid.UUID, title string, now time.Time) error {
	query := `
		UPDATE conversations SET title = $2, updated_at = $3
		WHERE id = $1
	`
	return r.execOne(ctx, query, id, title, now)
}

func (r *PostgresRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.execOne(ctx, `DELETE FROM conversations WHERE id = $1`, id)
}

func (r *PostgresRepository) NextSeq(ctx context.Context, id uuid.UUID, now time.Time) (int64, error) {
	query := `
		UPDATE conversations SET last_seq = last_seq + 1, updated_at = $2
		WHERE id = $1
		RETURNING last_seq
	`
	var seq int64
	if err := r.db.QueryRowContext(ctx, query, id, now).Scan(&seq); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, common.ErrorNotFound
		}
		return 0, fmt.Errorf("db error: %w", err)
	}
	return seq, nil
}

func (r *PostgresRepository) execOne(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	switch n {
	case 1:
		return nil
	case 0:
		return common.ErrorNotFound
	default:
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
}
