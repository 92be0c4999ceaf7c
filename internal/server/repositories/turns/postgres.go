// Package turns provides PostgreSQL-backed storage for conversation turns.
package turns

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/chatkeeper/internal/common"
	"github.com/dmitrijs2005/chatkeeper/internal/dbx"
	"github.com/dmitrijs2005/chatkeeper/internal/server/models"
	"github.com/google/uuid"
)

// PostgresRepository implements turn storage over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, turn *models.Turn) error {
	meta, err := encodeMetadata(turn.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO turns (conversation_id, seq, role, content, format, status, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`
	err = r.db.QueryRowContext(ctx, query,
		turn.ConversationID, turn.Seq, turn.Role, turn.Content, turn.Format, turn.Status, meta, turn.CreatedAt).
		Scan(&turn.ID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

const selectTurn = `
		SELECT id, conversation_id, seq, role, content, format, status, metadata, created_at
		FROM turns`

type scanner interface {
	Scan(dest ...any) error
}

func scanTurn(s scanner) (*models.Turn, error) {
	var (
		t    models.Turn
		meta []byte
	)
	if err := s.Scan(&t.ID, &t.ConversationID, &t.Seq, &t.Role, &t.Content, &t.Format, &t.Status, &meta, &t.CreatedAt); err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		t.Metadata = &models.TurnMetadata{}
		if err := json.Unmarshal(meta, t.Metadata); err != nil {
			return nil, fmt.Errorf("turn %s metadata: %w", t.ID, err)
		}
	}
	return &t, nil
}

func (r *PostgresRepository) Get(ctx context.Context, id uuid.UUID) (*models.Turn, error) {
	t, err := scanTurn(r.db.QueryRowContext(ctx, selectTurn+`
		WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return t, nil
}

func (r *PostgresRepository) ListByConversation(ctx context.Context, conversationID uuid.UUID, limit, offset int) ([]*models.Turn, error) {
	query := selectTurn + `
		WHERE conversation_id = $1
		ORDER BY seq ASC`
	args := []any{conversationID}
	if limit > 0 {
		query += `
		LIMIT $2 OFFSET $3`
		args = append(args, limit, offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select turns: %w", err)
	}
	defer rows.Close()

	var result []*models.Turn
	for rows.Next() {
		t, err := scanTurn(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) CountByConversation(ctx context.Context, conversationID uuid.UUID) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM turns WHERE conversation_id = $1`, conversationID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM turns WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

// encodeMetadata returns nil for absent metadata so the column stays NULL.
func encodeMetadata(m *models.TurnMetadata) (any, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode turn metadata: %w", err)
	}
	return string(b), nil
}
