package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/quietriver/gatehouse/internal/services/auth/storage"
)

// PutOneTimeCode stores a fresh code and supersedes any outstanding
// code for the same email in one transaction.
func (s *Store) PutOneTimeCode(ctx context.Context, code storage.OneTimeCode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(code.ID) == "" {
		return fmt.Errorf("code id is required")
	}
	if strings.TrimSpace(code.Email) == "" {
		return fmt.Errorf("email is required")
	}
	if strings.TrimSpace(code.CodeHash) == "" {
		return fmt.Errorf("code hash is required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin put one-time code: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(
		ctx,
		`UPDATE one_time_codes SET consumed_at = ? WHERE email = ? AND consumed_at IS NULL`,
		toMillis(code.CreatedAt),
		code.Email,
	); err != nil {
		return fmt.Errorf("supersede prior codes: %w", err)
	}

	if _, err := tx.ExecContext(
		ctx,
		`INSERT INTO one_time_codes (id, email, code_hash, created_at, expires_at, consumed_at)
		 VALUES (?, ?, ?, ?, ?, NULL)`,
		code.ID,
		code.Email,
		code.CodeHash,
		toMillis(code.CreatedAt),
		toMillis(code.ExpiresAt),
	); err != nil {
		return fmt.Errorf("insert one-time code: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit put one-time code: %w", err)
	}
	return nil
}

// GetLatestOneTimeCode returns the most recently issued code row for an
// email, consumed or not.
func (s *Store) GetLatestOneTimeCode(ctx context.Context, email string) (storage.OneTimeCode, error) {
	if err := ctx.Err(); err != nil {
		return storage.OneTimeCode{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.OneTimeCode{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(email) == "" {
		return storage.OneTimeCode{}, fmt.Errorf("email is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT id, email, code_hash, created_at, expires_at, consumed_at
		 FROM one_time_codes
		 WHERE email = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1`,
		email,
	)
	var code storage.OneTimeCode
	var createdAt, expiresAt int64
	var consumedAt sql.NullInt64
	if err := row.Scan(&code.ID, &code.Email, &code.CodeHash, &createdAt, &expiresAt, &consumedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.OneTimeCode{}, storage.ErrNotFound
		}
		return storage.OneTimeCode{}, fmt.Errorf("get one-time code: %w", err)
	}
	code.CreatedAt = fromMillis(createdAt)
	code.ExpiresAt = fromMillis(expiresAt)
	code.ConsumedAt = millisPtr(consumedAt)
	return code, nil
}

// ConsumeOneTimeCode marks a code consumed exactly once.
//
// The consumed flag is flipped with a compare-and-swap on its NULL
// state, so two racing verifications resolve to one winner.
func (s *Store) ConsumeOneTimeCode(ctx context.Context, codeID string, consumedAt time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if s == nil || s.sqlDB == nil {
		return false, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(codeID) == "" {
		return false, fmt.Errorf("code id is required")
	}

	result, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE one_time_codes SET consumed_at = ? WHERE id = ? AND consumed_at IS NULL`,
		toMillis(consumedAt),
		codeID,
	)
	if err != nil {
		return false, fmt.Errorf("consume one-time code: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("consume one-time code rows: %w", err)
	}
	return affected == 1, nil
}

// CountOneTimeCodesSince counts codes issued to an email after since.
func (s *Store) CountOneTimeCodesSince(ctx context.Context, email string, since time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(email) == "" {
		return 0, fmt.Errorf("email is required")
	}

	var count int
	err := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT COUNT(*) FROM one_time_codes WHERE email = ? AND created_at > ?`,
		email,
		toMillis(since),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count one-time codes: %w", err)
	}
	return count, nil
}

// DeleteOneTimeCodesExpiredBefore removes code rows expired before cutoff.
func (s *Store) DeleteOneTimeCodesExpiredBefore(ctx context.Context, cutoff time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if _, err := s.sqlDB.ExecContext(
		ctx,
		`DELETE FROM one_time_codes WHERE expires_at < ?`,
		toMillis(cutoff),
	); err != nil {
		return fmt.Errorf("delete expired one-time codes: %w", err)
	}
	return nil
}
