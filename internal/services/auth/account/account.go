// Package account provides identity records for the auth service.
package account

import (
	"fmt"
	"net/mail"
	"strings"
	"time"

	apperrors "github.com/quietriver/gatehouse/internal/platform/errors"
	"github.com/quietriver/gatehouse/internal/platform/id"
)

var (
	// ErrInvalidEmail indicates a malformed email address.
	ErrInvalidEmail = apperrors.New(apperrors.CodeAccountEmailInvalid, "email is invalid")
	// ErrInvalidPrivacyMode indicates an unrecognized privacy mode.
	ErrInvalidPrivacyMode = apperrors.New(apperrors.CodeAccountPrivacyInvalid, "privacy mode is invalid")
)

// PrivacyMode controls how an account is displayed to others.
type PrivacyMode string

const (
	PrivacyOpen      PrivacyMode = "open"
	PrivacyAnonymous PrivacyMode = "anonymous"
	PrivacyPrivate   PrivacyMode = "private"
	PrivacyGhost     PrivacyMode = "ghost"
)

// ParsePrivacyMode validates a stored or submitted privacy mode value.
func ParsePrivacyMode(value string) (PrivacyMode, error) {
	switch PrivacyMode(strings.ToLower(strings.TrimSpace(value))) {
	case PrivacyOpen:
		return PrivacyOpen, nil
	case PrivacyAnonymous:
		return PrivacyAnonymous, nil
	case PrivacyPrivate:
		return PrivacyPrivate, nil
	case PrivacyGhost:
		return PrivacyGhost, nil
	}
	return "", ErrInvalidPrivacyMode
}

// Account represents an authenticated identity record.
//
// Email is empty for accounts created through the passkey signup path;
// EmailVerifiedAt is set the first time a one-time code for the address
// is verified.
type Account struct {
	ID              string
	Email           string
	EmailVerifiedAt *time.Time
	Privacy         PrivacyMode
	Admin           bool
	PasskeyEnabled  bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// CreateAccountInput describes the metadata needed to create an account.
type CreateAccountInput struct {
	Email   string
	Privacy PrivacyMode
}

// NormalizeEmail lowercases and validates an email address.
func NormalizeEmail(value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", ErrInvalidEmail
	}
	parsed, err := mail.ParseAddress(trimmed)
	if err != nil {
		return "", ErrInvalidEmail
	}
	return strings.ToLower(parsed.Address), nil
}

// CreateAccount creates a durable identity from validated input.
//
// The service layer treats this as the canonical point where an
// untrusted email or a pending passkey signup becomes a stable account
// id used by every downstream caller.
func CreateAccount(input CreateAccountInput, now func() time.Time, idGenerator func() (string, error)) (Account, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	normalized, err := NormalizeCreateAccountInput(input)
	if err != nil {
		return Account{}, err
	}

	accountID, err := idGenerator()
	if err != nil {
		return Account{}, fmt.Errorf("generate account id: %w", err)
	}

	createdAt := now().UTC()
	return Account{
		ID:        accountID,
		Email:     normalized.Email,
		Privacy:   normalized.Privacy,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}, nil
}

// NormalizeCreateAccountInput trims and validates input before account creation.
//
// Accounts without an email default to the anonymous privacy mode,
// accounts created from a verified email default to open.
func NormalizeCreateAccountInput(input CreateAccountInput) (CreateAccountInput, error) {
	input.Email = strings.TrimSpace(input.Email)
	if input.Email != "" {
		normalized, err := NormalizeEmail(input.Email)
		if err != nil {
			return CreateAccountInput{}, err
		}
		input.Email = normalized
	}
	if input.Privacy == "" {
		if input.Email == "" {
			input.Privacy = PrivacyAnonymous
		} else {
			input.Privacy = PrivacyOpen
		}
	}
	if _, err := ParsePrivacyMode(string(input.Privacy)); err != nil {
		return CreateAccountInput{}, err
	}
	return input, nil
}
