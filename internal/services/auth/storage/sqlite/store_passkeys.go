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

// PutPasskeyCredential inserts a new WebAuthn credential.
//
// Credential IDs are globally unique; an insert colliding with any
// enrolled credential fails ErrAlreadyExists and the existing row keeps
// its owner and key material.
func (s *Store) PutPasskeyCredential(ctx context.Context, credential storage.PasskeyCredential) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(credential.CredentialID) == "" {
		return fmt.Errorf("credential id is required")
	}
	if strings.TrimSpace(credential.AccountID) == "" {
		return fmt.Errorf("account id is required")
	}
	if strings.TrimSpace(credential.CredentialJSON) == "" {
		return fmt.Errorf("credential json is required")
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO passkey_credentials
		   (credential_id, account_id, name, device_class, credential_json, clone_flagged_at, created_at, updated_at, last_used_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		credential.CredentialID,
		credential.AccountID,
		credential.Name,
		credential.DeviceClass,
		credential.CredentialJSON,
		nullMillis(credential.CloneFlaggedAt),
		toMillis(credential.CreatedAt),
		toMillis(credential.UpdatedAt),
		nullMillis(credential.LastUsedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("put passkey credential: %w", err)
	}
	return nil
}

// UpdatePasskeyCredential rewrites the mutable fields of an enrolled
// credential, scoped to its owning account.
func (s *Store) UpdatePasskeyCredential(ctx context.Context, credential storage.PasskeyCredential) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(credential.CredentialID) == "" {
		return fmt.Errorf("credential id is required")
	}
	if strings.TrimSpace(credential.AccountID) == "" {
		return fmt.Errorf("account id is required")
	}
	if strings.TrimSpace(credential.CredentialJSON) == "" {
		return fmt.Errorf("credential json is required")
	}

	result, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE passkey_credentials SET
		   credential_json = ?,
		   clone_flagged_at = ?,
		   updated_at = ?,
		   last_used_at = ?
		 WHERE credential_id = ? AND account_id = ?`,
		credential.CredentialJSON,
		nullMillis(credential.CloneFlaggedAt),
		toMillis(credential.UpdatedAt),
		nullMillis(credential.LastUsedAt),
		credential.CredentialID,
		credential.AccountID,
	)
	if err != nil {
		return fmt.Errorf("update passkey credential: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update passkey credential rows: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// GetPasskeyCredential fetches a stored WebAuthn credential.
func (s *Store) GetPasskeyCredential(ctx context.Context, credentialID string) (storage.PasskeyCredential, error) {
	if err := ctx.Err(); err != nil {
		return storage.PasskeyCredential{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.PasskeyCredential{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(credentialID) == "" {
		return storage.PasskeyCredential{}, fmt.Errorf("credential id is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT credential_id, account_id, name, device_class, credential_json, clone_flagged_at, created_at, updated_at, last_used_at
		 FROM passkey_credentials WHERE credential_id = ?`,
		credentialID,
	)
	credential, err := scanPasskeyCredential(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.PasskeyCredential{}, storage.ErrNotFound
		}
		return storage.PasskeyCredential{}, fmt.Errorf("get passkey credential: %w", err)
	}
	return credential, nil
}

// ListPasskeyCredentials returns an account's credentials ordered by
// creation time.
func (s *Store) ListPasskeyCredentials(ctx context.Context, accountID string) ([]storage.PasskeyCredential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(accountID) == "" {
		return nil, fmt.Errorf("account id is required")
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT credential_id, account_id, name, device_class, credential_json, clone_flagged_at, created_at, updated_at, last_used_at
		 FROM passkey_credentials
		 WHERE account_id = ?
		 ORDER BY created_at ASC, credential_id ASC`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("list passkey credentials: %w", err)
	}
	defer rows.Close()

	credentials := make([]storage.PasskeyCredential, 0)
	for rows.Next() {
		credential, err := scanPasskeyCredential(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan passkey credential: %w", err)
		}
		credentials = append(credentials, credential)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate passkey credentials: %w", err)
	}
	return credentials, nil
}

// RenamePasskeyCredential renames a credential owned by the account.
func (s *Store) RenamePasskeyCredential(ctx context.Context, accountID, credentialID, name string, updatedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(accountID) == "" {
		return fmt.Errorf("account id is required")
	}
	if strings.TrimSpace(credentialID) == "" {
		return fmt.Errorf("credential id is required")
	}

	result, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE passkey_credentials SET name = ?, updated_at = ?
		 WHERE credential_id = ? AND account_id = ?`,
		name,
		toMillis(updatedAt),
		credentialID,
		accountID,
	)
	if err != nil {
		return fmt.Errorf("rename passkey credential: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rename passkey credential rows: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeletePasskeyCredential removes a credential owned by the account.
func (s *Store) DeletePasskeyCredential(ctx context.Context, accountID, credentialID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(accountID) == "" {
		return fmt.Errorf("account id is required")
	}
	if strings.TrimSpace(credentialID) == "" {
		return fmt.Errorf("credential id is required")
	}

	result, err := s.sqlDB.ExecContext(
		ctx,
		`DELETE FROM passkey_credentials WHERE credential_id = ? AND account_id = ?`,
		credentialID,
		accountID,
	)
	if err != nil {
		return fmt.Errorf("delete passkey credential: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete passkey credential rows: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func scanPasskeyCredential(scan func(...any) error) (storage.PasskeyCredential, error) {
	var credential storage.PasskeyCredential
	var cloneFlaggedAt, lastUsedAt sql.NullInt64
	var createdAt, updatedAt int64
	if err := scan(
		&credential.CredentialID,
		&credential.AccountID,
		&credential.Name,
		&credential.DeviceClass,
		&credential.CredentialJSON,
		&cloneFlaggedAt,
		&createdAt,
		&updatedAt,
		&lastUsedAt,
	); err != nil {
		return storage.PasskeyCredential{}, err
	}
	credential.CloneFlaggedAt = millisPtr(cloneFlaggedAt)
	credential.CreatedAt = fromMillis(createdAt)
	credential.UpdatedAt = fromMillis(updatedAt)
	credential.LastUsedAt = millisPtr(lastUsedAt)
	return credential, nil
}
