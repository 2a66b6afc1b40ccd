package service

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	apperrors "github.com/quietriver/gatehouse/internal/platform/errors"
	"github.com/quietriver/gatehouse/internal/services/auth/storage"
)

const maxCredentialNameLength = 64

// PasskeySummary is the management view of an enrolled credential. It
// never exposes key material.
type PasskeySummary struct {
	ID           string
	Name         string
	DeviceClass  string
	CloneFlagged bool
	CreatedAt    time.Time
	LastUsedAt   *time.Time
}

// ListPasskeys returns an account's enrolled credentials ordered by
// creation time.
func (s *Service) ListPasskeys(ctx context.Context, accountID string) ([]PasskeySummary, error) {
	records, err := s.passkeys.ListPasskeyCredentials(ctx, accountID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "list credentials", err)
	}
	summaries := make([]PasskeySummary, 0, len(records))
	for _, record := range records {
		summaries = append(summaries, summarize(record))
	}
	return summaries, nil
}

// RenamePasskey sets a user-facing label on a credential. Ownership is
// enforced in storage: a foreign credential reports not-found.
func (s *Service) RenamePasskey(ctx context.Context, accountID, credentialID, name string) (PasskeySummary, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return PasskeySummary{}, apperrors.New(apperrors.CodeInvalidArgument, "credential name is required")
	}
	if utf8.RuneCountInString(name) > maxCredentialNameLength {
		return PasskeySummary{}, apperrors.New(apperrors.CodeInvalidArgument, "credential name is too long")
	}
	if err := s.passkeys.RenamePasskeyCredential(ctx, accountID, credentialID, name, s.now()); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return PasskeySummary{}, storage.ErrNotFound
		}
		return PasskeySummary{}, apperrors.Wrap(apperrors.CodeInternal, "rename credential", err)
	}
	record, err := s.passkeys.GetPasskeyCredential(ctx, credentialID)
	if err != nil {
		return PasskeySummary{}, apperrors.Wrap(apperrors.CodeInternal, "load renamed credential", err)
	}
	return summarize(record), nil
}

// DeletePasskey removes a credential from an account.
//
// Deleting the only credential of an account with no verified email is
// refused: the account would be permanently locked out, since no other
// sign-in path exists for it.
func (s *Service) DeletePasskey(ctx context.Context, accountID, credentialID string) error {
	records, err := s.passkeys.ListPasskeyCredentials(ctx, accountID)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "list credentials", err)
	}
	owned := false
	for _, record := range records {
		if record.CredentialID == credentialID {
			owned = true
			break
		}
	}
	if !owned {
		return storage.ErrNotFound
	}
	if len(records) == 1 {
		owner, getErr := s.accounts.GetAccount(ctx, accountID)
		if getErr != nil {
			return domainOrInternal(getErr, "load account")
		}
		if owner.EmailVerifiedAt == nil {
			return ErrLastCredential
		}
	}

	if err := s.passkeys.DeletePasskeyCredential(ctx, accountID, credentialID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.ErrNotFound
		}
		return apperrors.Wrap(apperrors.CodeInternal, "delete credential", err)
	}

	if len(records) == 1 {
		owner, getErr := s.accounts.GetAccount(ctx, accountID)
		if getErr != nil {
			return domainOrInternal(getErr, "load account")
		}
		if owner.PasskeyEnabled {
			owner.PasskeyEnabled = false
			owner.UpdatedAt = s.now()
			if putErr := s.accounts.PutAccount(ctx, owner); putErr != nil {
				return apperrors.Wrap(apperrors.CodeInternal, "update account", putErr)
			}
		}
	}
	return nil
}

func summarize(record storage.PasskeyCredential) PasskeySummary {
	return PasskeySummary{
		ID:           record.CredentialID,
		Name:         record.Name,
		DeviceClass:  record.DeviceClass,
		CloneFlagged: record.CloneFlaggedAt != nil,
		CreatedAt:    record.CreatedAt,
		LastUsedAt:   record.LastUsedAt,
	}
}
