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

// PutChallenge stores a pending ceremony, replacing any prior pending
// ceremony for the same subject.
func (s *Store) PutChallenge(ctx context.Context, challenge storage.Challenge) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(challenge.Subject) == "" {
		return fmt.Errorf("challenge subject is required")
	}
	if strings.TrimSpace(challenge.Kind) == "" {
		return fmt.Errorf("challenge kind is required")
	}
	if strings.TrimSpace(challenge.SessionJSON) == "" {
		return fmt.Errorf("challenge session json is required")
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO challenges (subject, kind, account_id, session_json, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(subject) DO UPDATE SET
		   kind = excluded.kind,
		   account_id = excluded.account_id,
		   session_json = excluded.session_json,
		   created_at = excluded.created_at,
		   expires_at = excluded.expires_at`,
		challenge.Subject,
		challenge.Kind,
		challenge.AccountID,
		challenge.SessionJSON,
		toMillis(challenge.CreatedAt),
		toMillis(challenge.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("put challenge: %w", err)
	}
	return nil
}

// TakeChallenge claims and removes the pending challenge for a subject
// in a single statement, so replays and concurrent completions find
// nothing left to consume.
func (s *Store) TakeChallenge(ctx context.Context, subject string) (storage.Challenge, error) {
	if err := ctx.Err(); err != nil {
		return storage.Challenge{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.Challenge{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(subject) == "" {
		return storage.Challenge{}, fmt.Errorf("challenge subject is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`DELETE FROM challenges WHERE subject = ?
		 RETURNING subject, kind, account_id, session_json, created_at, expires_at`,
		subject,
	)
	var challenge storage.Challenge
	var createdAt, expiresAt int64
	err := row.Scan(
		&challenge.Subject,
		&challenge.Kind,
		&challenge.AccountID,
		&challenge.SessionJSON,
		&createdAt,
		&expiresAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Challenge{}, storage.ErrNotFound
		}
		return storage.Challenge{}, fmt.Errorf("take challenge: %w", err)
	}
	challenge.CreatedAt = fromMillis(createdAt)
	challenge.ExpiresAt = fromMillis(expiresAt)
	return challenge, nil
}

// DeleteExpiredChallenges removes ceremonies past their expiry.
func (s *Store) DeleteExpiredChallenges(ctx context.Context, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if _, err := s.sqlDB.ExecContext(
		ctx,
		`DELETE FROM challenges WHERE expires_at < ?`,
		toMillis(now),
	); err != nil {
		return fmt.Errorf("delete expired challenges: %w", err)
	}
	return nil
}
