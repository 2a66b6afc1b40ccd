package service

import (
	"context"
	"errors"

	apperrors "github.com/quietriver/gatehouse/internal/platform/errors"
	"github.com/quietriver/gatehouse/internal/services/auth/account"
	"github.com/quietriver/gatehouse/internal/services/auth/storage"
)

// issueSession mints an opaque bearer session for an account.
//
// Tokens are random, never derived from account data, and only ever
// handed out here after a completed authentication.
func (s *Service) issueSession(ctx context.Context, accountID string) (storage.Session, error) {
	token, err := s.newToken()
	if err != nil {
		return storage.Session{}, apperrors.Wrap(apperrors.CodeInternal, "generate session token", err)
	}
	now := s.now()
	issued := storage.Session{
		Token:     token,
		AccountID: accountID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.sessionConfig.TTL),
	}
	if err := s.sessions.PutSession(ctx, issued); err != nil {
		return storage.Session{}, apperrors.Wrap(apperrors.CodeInternal, "store session", err)
	}
	return issued, nil
}

// ResolveSession maps a bearer token to its account.
//
// Revoked and expired sessions resolve as unauthenticated, identically to
// unknown tokens, so callers cannot probe session state.
func (s *Service) ResolveSession(ctx context.Context, token string) (account.Account, storage.Session, error) {
	if token == "" {
		return account.Account{}, storage.Session{}, ErrUnauthenticated
	}
	found, err := s.sessions.GetSession(ctx, token)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return account.Account{}, storage.Session{}, ErrUnauthenticated
		}
		return account.Account{}, storage.Session{}, apperrors.Wrap(apperrors.CodeInternal, "load session", err)
	}
	now := s.now()
	if found.RevokedAt != nil || now.After(found.ExpiresAt) {
		return account.Account{}, storage.Session{}, ErrUnauthenticated
	}
	owner, err := s.accounts.GetAccount(ctx, found.AccountID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return account.Account{}, storage.Session{}, ErrUnauthenticated
		}
		return account.Account{}, storage.Session{}, apperrors.Wrap(apperrors.CodeInternal, "load session account", err)
	}
	return owner, found, nil
}

// RevokeSession invalidates a bearer token.
//
// Revocation is idempotent and monotonic: revoking an already revoked
// session succeeds and keeps the original revocation time, and a revoked
// session never resolves again.
func (s *Service) RevokeSession(ctx context.Context, token string) error {
	if token == "" {
		return ErrUnauthenticated
	}
	if err := s.sessions.RevokeSession(ctx, token, s.now()); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrUnauthenticated
		}
		return apperrors.Wrap(apperrors.CodeInternal, "revoke session", err)
	}
	return nil
}
