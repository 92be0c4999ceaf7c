package accounts

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
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, account *models.Account) (*models.Account, error) {

	query :=
		`INSERT INTO accounts (handle, display_name, password_hash, role)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at
		 `

	err := r.db.QueryRowContext(ctx, query,
		account.Handle, account.DisplayName, account.PasswordHash, account.Role).Scan(&account.ID, &account.CreatedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, common.ErrConflict
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return account, nil
}

const selectAccount = `SELECT id, handle, display_name, password_hash, role,
		 failed_attempts, locked_until, last_login_at, created_at
		 FROM accounts`

func scanAccount(row *sql.Row) (*models.Account, error) {
	a := &models.Account{}
	err := row.Scan(&a.ID, &a.Handle, &a.DisplayName, &a.PasswordHash, &a.Role,
		&a.FailedAttempts, &a.LockedUntil, &a.LastLoginAt, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return a, nil
}

func (r *PostgresRepository) GetByHandle(ctx context.Context, handle string) (*models.Account, error) {
	return scanAccount(r.db.QueryRowContext(ctx, selectAccount+`
		 WHERE handle = $1`, handle))
}

func (r *PostgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	return scanAccount(r.db.QueryRowContext(ctx, selectAccount+`
		 WHERE id = $1`, id))
}

func (r *PostgresRepository) RecordFailure(ctx context.Context, id uuid.UUID, maxAttempts int, lockUntil time.Time) (int, *time.Time, error) {
	query :=
		`UPDATE accounts SET
		   failed_attempts = failed_attempts + 1,
		   locked_until = CASE WHEN failed_attempts + 1 >= $2 THEN $3::timestamptz ELSE NULL END
		 WHERE id = $1
		 RETURNING failed_attempts, locked_until
		 `

	var (
		attempts    int
		lockedUntil *time.Time
	)
	err := r.db.QueryRowContext(ctx, query, id, maxAttempts, lockUntil).Scan(&attempts, &lockedUntil)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil, common.ErrorNotFound
		}
		return 0, nil, fmt.Errorf("db error: %w", err)
	}

	return attempts, lockedUntil, nil
}

func (r *PostgresRepository) ResetLockout(ctx context.Context, id uuid.UUID) error {
	query :=
		`UPDATE accounts SET failed_attempts = 0, locked_until = NULL
		 WHERE id = $1
		 `
	return r.execOne(ctx, query, id)
}

func (r *PostgresRepository) RecordSuccess(ctx context.Context, id uuid.UUID, at time.Time) error {
	query :=
		`UPDATE accounts SET failed_attempts = 0, locked_until = NULL, last_login_at = $2
		 WHERE id = $1
		 `
	return r.execOne(ctx, query, id, at)
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
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}
