package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/quietriver/gatehouse/internal/services/auth/account"
	"github.com/quietriver/gatehouse/internal/services/auth/storage"
)

// PutAccount upserts an account record.
func (s *Store) PutAccount(ctx context.Context, a account.Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(a.ID) == "" {
		return fmt.Errorf("account id is required")
	}
	if a.Privacy == "" {
		return fmt.Errorf("privacy mode is required")
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO accounts (id, email, email_verified_at, privacy, admin, passkey_enabled, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   email = excluded.email,
		   email_verified_at = excluded.email_verified_at,
		   privacy = excluded.privacy,
		   admin = excluded.admin,
		   passkey_enabled = excluded.passkey_enabled,
		   updated_at = excluded.updated_at`,
		a.ID,
		a.Email,
		nullMillis(a.EmailVerifiedAt),
		string(a.Privacy),
		boolToInt(a.Admin),
		boolToInt(a.PasskeyEnabled),
		toMillis(a.CreatedAt),
		toMillis(a.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put account: %w", err)
	}
	return nil
}

// GetAccount returns an account by id.
func (s *Store) GetAccount(ctx context.Context, accountID string) (account.Account, error) {
	if err := ctx.Err(); err != nil {
		return account.Account{}, err
	}
	if s == nil || s.sqlDB == nil {
		return account.Account{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(accountID) == "" {
		return account.Account{}, fmt.Errorf("account id is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT id, email, email_verified_at, privacy, admin, passkey_enabled, created_at, updated_at
		 FROM accounts WHERE id = ?`,
		accountID,
	)
	return scanAccount(row)
}

// GetAccountByEmail returns the account bound to an email address.
func (s *Store) GetAccountByEmail(ctx context.Context, email string) (account.Account, error) {
	if err := ctx.Err(); err != nil {
		return account.Account{}, err
	}
	if s == nil || s.sqlDB == nil {
		return account.Account{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(email) == "" {
		return account.Account{}, fmt.Errorf("email is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT id, email, email_verified_at, privacy, admin, passkey_enabled, created_at, updated_at
		 FROM accounts WHERE email = ?`,
		email,
	)
	return scanAccount(row)
}

func scanAccount(row *sql.Row) (account.Account, error) {
	var a account.Account
	var privacy string
	var verifiedAt sql.NullInt64
	var admin, passkeyEnabled int
	var createdAt, updatedAt int64
	err := row.Scan(&a.ID, &a.Email, &verifiedAt, &privacy, &admin, &passkeyEnabled, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return account.Account{}, storage.ErrNotFound
		}
		return account.Account{}, fmt.Errorf("scan account: %w", err)
	}
	mode, err := account.ParsePrivacyMode(privacy)
	if err != nil {
		return account.Account{}, fmt.Errorf("stored privacy mode %q: %w", privacy, err)
	}
	a.Privacy = mode
	a.EmailVerifiedAt = millisPtr(verifiedAt)
	a.Admin = admin != 0
	a.PasskeyEnabled = passkeyEnabled != 0
	a.CreatedAt = fromMillis(createdAt)
	a.UpdatedAt = fromMillis(updatedAt)
	return a, nil
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
