package storage

import (
	"context"
	"time"

	"github.com/quietriver/gatehouse/internal/platform/errors"
	"github.com/quietriver/gatehouse/internal/services/auth/account"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New(errors.CodeNotFound, "record not found")

// ErrAlreadyExists indicates an insert collided with an existing record.
var ErrAlreadyExists = errors.New(errors.CodeAlreadyExists, "record already exists")

// AccountStore persists auth account records.
type AccountStore interface {
	PutAccount(ctx context.Context, a account.Account) error
	GetAccount(ctx context.Context, accountID string) (account.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (account.Account, error)
}

// OneTimeCode represents a single-use emailed code.
//
// The code value is stored as a bcrypt hash; issuing a new code for an
// email marks prior outstanding rows consumed, so at most one
// unconsumed, unexpired code exists per email at any time. Consumed
// rows are retained until the expiry sweep so delivery pacing can be
// computed from history.
type OneTimeCode struct {
	ID         string
	Email      string
	CodeHash   string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	ConsumedAt *time.Time
}

// OneTimeCodeStore persists one-time codes.
type OneTimeCodeStore interface {
	// PutOneTimeCode stores a fresh code, superseding any outstanding
	// code for the same email in the same transaction.
	PutOneTimeCode(ctx context.Context, code OneTimeCode) error
	// GetLatestOneTimeCode returns the most recently issued code row for
	// an email regardless of its consumed state.
	GetLatestOneTimeCode(ctx context.Context, email string) (OneTimeCode, error)
	// ConsumeOneTimeCode marks a code consumed. It reports false when the
	// code was already consumed, so two racing verifications resolve to
	// exactly one winner.
	ConsumeOneTimeCode(ctx context.Context, codeID string, consumedAt time.Time) (bool, error)
	// CountOneTimeCodesSince counts codes issued to an email after the
	// given instant, consumed or not.
	CountOneTimeCodesSince(ctx context.Context, email string, since time.Time) (int, error)
	// DeleteOneTimeCodesExpiredBefore removes rows whose expiry is before
	// the cutoff. Callers keep a retention window so rate accounting
	// survives the sweep.
	DeleteOneTimeCodesExpiredBefore(ctx context.Context, cutoff time.Time) error
}

// Challenge stores a pending WebAuthn ceremony keyed by its subject.
//
// A subject holds at most one pending ceremony; storing a new challenge
// replaces the previous one.
type Challenge struct {
	Subject     string
	Kind        string
	AccountID   string
	SessionJSON string
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// ChallengeStore persists pending WebAuthn ceremonies.
type ChallengeStore interface {
	// PutChallenge stores a challenge, superseding any pending ceremony
	// for the same subject.
	PutChallenge(ctx context.Context, challenge Challenge) error
	// TakeChallenge atomically claims and removes the pending challenge
	// for a subject. Exactly one of several racing callers receives the
	// challenge; the rest get ErrNotFound.
	TakeChallenge(ctx context.Context, subject string) (Challenge, error)
	DeleteExpiredChallenges(ctx context.Context, now time.Time) error
}

// PasskeyCredential stores a WebAuthn credential enrolled on an account.
//
// CredentialJSON is the serialized webauthn.Credential: public key,
// signature counter, transports, and flags. No private key material
// exists on the server side.
type PasskeyCredential struct {
	CredentialID   string
	AccountID      string
	Name           string
	DeviceClass    string
	CredentialJSON string
	CloneFlaggedAt *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastUsedAt     *time.Time
}

// PasskeyStore persists WebAuthn credentials.
//
// Credential IDs are globally unique: enrollment is insert-only and an
// existing row is never re-bound or overwritten by a later registration.
type PasskeyStore interface {
	// PutPasskeyCredential inserts a new credential; ErrAlreadyExists
	// when the credential ID is already enrolled, on any account.
	PutPasskeyCredential(ctx context.Context, credential PasskeyCredential) error
	// UpdatePasskeyCredential rewrites the mutable fields of an enrolled
	// credential scoped to its owning account; ErrNotFound when the
	// credential is missing or foreign.
	UpdatePasskeyCredential(ctx context.Context, credential PasskeyCredential) error
	GetPasskeyCredential(ctx context.Context, credentialID string) (PasskeyCredential, error)
	// ListPasskeyCredentials returns an account's credentials ordered by
	// creation time.
	ListPasskeyCredentials(ctx context.Context, accountID string) ([]PasskeyCredential, error)
	// RenamePasskeyCredential renames a credential scoped to its owning
	// account; ErrNotFound when the credential is missing or foreign.
	RenamePasskeyCredential(ctx context.Context, accountID, credentialID, name string, updatedAt time.Time) error
	// DeletePasskeyCredential removes a credential scoped to its owning
	// account; ErrNotFound when the credential is missing or foreign.
	DeletePasskeyCredential(ctx context.Context, accountID, credentialID string) error
}

// Session represents a bearer-token grant bound to an account.
type Session struct {
	Token     string
	AccountID string
	CreatedAt time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time
}

// SessionStore persists bearer sessions.
type SessionStore interface {
	PutSession(ctx context.Context, session Session) error
	GetSession(ctx context.Context, token string) (Session, error)
	// RevokeSession marks a session revoked. Revoking an already revoked
	// session keeps the original revocation time.
	RevokeSession(ctx context.Context, token string, revokedAt time.Time) error
	DeleteExpiredSessions(ctx context.Context, now time.Time) error
}
