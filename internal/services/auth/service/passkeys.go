package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	apperrors "github.com/quietriver/gatehouse/internal/platform/errors"
	"github.com/quietriver/gatehouse/internal/services/auth/account"
	"github.com/quietriver/gatehouse/internal/services/auth/passkey"
	"github.com/quietriver/gatehouse/internal/services/auth/signup"
	"github.com/quietriver/gatehouse/internal/services/auth/storage"
)

// RegistrationStart carries the options a client needs to run a passkey
// registration ceremony.
//
// SignupGrant is set only on the pre-account path; the client must return
// it with the finish call to prove the subject was server-issued.
type RegistrationStart struct {
	Subject     string
	SignupGrant string
	OptionsJSON []byte
	ExpiresIn   time.Duration
}

// AuthenticationStart carries the options for a passkey login ceremony.
type AuthenticationStart struct {
	Subject     string
	OptionsJSON []byte
	ExpiresIn   time.Duration
}

// RegistrationResult reports a completed registration.
//
// Session and the returned account are only meaningful on the signup
// path, where finishing the ceremony also creates the account and signs
// the caller in.
type RegistrationResult struct {
	Credential PasskeySummary
	Account    account.Account
	Session    *storage.Session
}

// BeginRegistration starts a passkey registration ceremony.
//
// With an account id the ceremony enrolls an additional credential and
// excludes already enrolled ones. Without, it starts the signup path: a
// signed grant names the pending subject, and no state beyond the
// challenge exists until the ceremony finishes.
func (s *Service) BeginRegistration(ctx context.Context, accountID string) (RegistrationStart, error) {
	ctx, span := s.startSpan(ctx, "auth.BeginRegistration")
	var err error
	defer func() { endSpan(span, err) }()

	if err = s.passkeyReady(); err != nil {
		return RegistrationStart{}, err
	}

	var (
		subject string
		grant   string
		waUser  webauthn.User
		options = []webauthn.RegistrationOption{
			webauthn.WithResidentKeyRequirement(protocol.ResidentKeyRequirementRequired),
		}
	)
	if accountID = strings.TrimSpace(accountID); accountID != "" {
		owner, getErr := s.accounts.GetAccount(ctx, accountID)
		if getErr != nil {
			err = domainOrInternal(getErr, "load account")
			return RegistrationStart{}, err
		}
		loaded, loadErr := s.loadWebauthnAccount(ctx, owner)
		if loadErr != nil {
			err = apperrors.Wrap(apperrors.CodeInternal, "load account credentials", loadErr)
			return RegistrationStart{}, err
		}
		if len(loaded.credentials) > 0 {
			options = append(options, webauthn.WithExclusions(webauthn.Credentials(loaded.credentials).CredentialDescriptors()))
		}
		subject = owner.ID
		waUser = loaded
	} else {
		if s.grants == nil {
			err = apperrors.New(apperrors.CodeInternal, "signup grant signer is not configured")
			return RegistrationStart{}, err
		}
		grant, subject, err = s.grants.Issue()
		if err != nil {
			err = apperrors.Wrap(apperrors.CodeInternal, "issue signup grant", err)
			return RegistrationStart{}, err
		}
		waUser = &webauthnAccount{id: subject, displayName: "New account"}
	}

	creation, sessionData, err := s.webAuthn.BeginRegistration(waUser, options...)
	if err != nil {
		err = apperrors.Wrap(apperrors.CodeInternal, "begin registration ceremony", err)
		return RegistrationStart{}, err
	}
	if err = s.storeChallenge(ctx, subject, passkey.CeremonyKindRegistration, accountID, sessionData); err != nil {
		return RegistrationStart{}, err
	}
	optionsJSON, err := json.Marshal(creation)
	if err != nil {
		err = apperrors.Wrap(apperrors.CodeInternal, "encode registration options", err)
		return RegistrationStart{}, err
	}
	return RegistrationStart{
		Subject:     subject,
		SignupGrant: grant,
		OptionsJSON: optionsJSON,
		ExpiresIn:   s.passkeyConfig.ChallengeTTL,
	}, nil
}

// FinishRegistration validates an attestation response and enrolls the
// credential.
//
// The challenge is claimed before any validation, so a response replayed
// against the same subject finds nothing. On the signup path the verified
// grant authorizes account creation; the new anonymous account reuses the
// grant subject as its id so the credential's user handle resolves to it
// during later discoverable logins.
func (s *Service) FinishRegistration(ctx context.Context, subject, grant string, responseJSON []byte) (RegistrationResult, error) {
	ctx, span := s.startSpan(ctx, "auth.FinishRegistration")
	var err error
	defer func() { endSpan(span, err) }()

	if err = s.passkeyReady(); err != nil {
		return RegistrationResult{}, err
	}

	subject = strings.TrimSpace(subject)
	if grant = strings.TrimSpace(grant); grant != "" {
		verified, verifyErr := s.grants.Verify(grant)
		if verifyErr != nil {
			err = verifyErr
			return RegistrationResult{}, err
		}
		if subject == "" {
			subject = verified
		} else if subject != verified {
			err = signup.ErrGrantInvalid
			return RegistrationResult{}, err
		}
	}
	if subject == "" {
		err = apperrors.New(apperrors.CodeInvalidArgument, "ceremony subject is required")
		return RegistrationResult{}, err
	}
	if len(responseJSON) == 0 {
		err = apperrors.New(apperrors.CodeInvalidArgument, "credential response is required")
		return RegistrationResult{}, err
	}

	challenge, err := s.takeChallenge(ctx, subject, passkey.CeremonyKindRegistration)
	if err != nil {
		return RegistrationResult{}, err
	}

	signupPath := challenge.AccountID == ""
	if signupPath && grant == "" {
		err = signup.ErrGrantInvalid
		return RegistrationResult{}, err
	}

	var owner account.Account
	var waUser webauthn.User
	now := s.now()
	if signupPath {
		owner = account.Account{
			ID:        subject,
			Privacy:   account.PrivacyAnonymous,
			CreatedAt: now,
			UpdatedAt: now,
		}
		waUser = &webauthnAccount{id: subject, displayName: "New account"}
	} else {
		existing, getErr := s.accounts.GetAccount(ctx, challenge.AccountID)
		if getErr != nil {
			err = domainOrInternal(getErr, "load account")
			return RegistrationResult{}, err
		}
		owner = existing
		loaded, loadErr := s.loadWebauthnAccount(ctx, owner)
		if loadErr != nil {
			err = apperrors.Wrap(apperrors.CodeInternal, "load account credentials", loadErr)
			return RegistrationResult{}, err
		}
		waUser = loaded
	}

	parsed, parseErr := s.parser.ParseCredentialCreationResponseBytes(responseJSON)
	if parseErr != nil {
		err = ErrAttestationInvalid
		return RegistrationResult{}, err
	}
	var sessionData webauthn.SessionData
	if err = json.Unmarshal([]byte(challenge.SessionJSON), &sessionData); err != nil {
		err = apperrors.Wrap(apperrors.CodeInternal, "decode ceremony state", err)
		return RegistrationResult{}, err
	}
	credential, createErr := s.webAuthn.CreateCredential(waUser, sessionData, parsed)
	if createErr != nil {
		err = ErrAttestationInvalid
		return RegistrationResult{}, err
	}

	deviceClass := deviceClassFor(*credential)
	record, err := s.storeCredential(ctx, owner.ID, *credential, deviceClass, now)
	if err != nil {
		return RegistrationResult{}, err
	}

	owner.PasskeyEnabled = true
	owner.UpdatedAt = now
	if err = s.accounts.PutAccount(ctx, owner); err != nil {
		err = apperrors.Wrap(apperrors.CodeInternal, "store account", err)
		return RegistrationResult{}, err
	}

	result := RegistrationResult{Credential: summarize(record), Account: owner}
	if signupPath {
		issued, issueErr := s.issueSession(ctx, owner.ID)
		if issueErr != nil {
			err = issueErr
			return RegistrationResult{}, err
		}
		result.Session = &issued
	}
	return result, nil
}

// BeginAuthentication starts a passkey login ceremony.
//
// With an email the allow list is constrained to that account's
// credentials; without, the ceremony runs the discoverable-credential
// flow and the authenticator names the account through its user handle.
// An email with no enrolled credentials also gets a discoverable
// ceremony, so the response never reveals which emails hold passkeys.
func (s *Service) BeginAuthentication(ctx context.Context, emailAddr string) (AuthenticationStart, error) {
	ctx, span := s.startSpan(ctx, "auth.BeginAuthentication")
	var err error
	defer func() { endSpan(span, err) }()

	if err = s.passkeyReady(); err != nil {
		return AuthenticationStart{}, err
	}

	var (
		subject     string
		accountID   string
		assertion   *protocol.CredentialAssertion
		sessionData *webauthn.SessionData
	)
	if strings.TrimSpace(emailAddr) != "" {
		normalized, normErr := account.NormalizeEmail(emailAddr)
		if normErr != nil {
			err = normErr
			return AuthenticationStart{}, err
		}
		owner, getErr := s.accounts.GetAccountByEmail(ctx, normalized)
		if getErr != nil && !errors.Is(getErr, storage.ErrNotFound) {
			err = apperrors.Wrap(apperrors.CodeInternal, "load account by email", getErr)
			return AuthenticationStart{}, err
		}
		if getErr == nil {
			loaded, loadErr := s.loadWebauthnAccount(ctx, owner)
			if loadErr != nil {
				err = apperrors.Wrap(apperrors.CodeInternal, "load account credentials", loadErr)
				return AuthenticationStart{}, err
			}
			if len(loaded.credentials) > 0 {
				assertion, sessionData, err = s.webAuthn.BeginLogin(loaded)
				if err != nil {
					err = apperrors.Wrap(apperrors.CodeInternal, "begin login ceremony", err)
					return AuthenticationStart{}, err
				}
				subject = owner.ID
				accountID = owner.ID
			}
		}
	}
	if assertion == nil {
		subject, err = s.newID()
		if err != nil {
			err = apperrors.Wrap(apperrors.CodeInternal, "generate ceremony subject", err)
			return AuthenticationStart{}, err
		}
		assertion, sessionData, err = s.webAuthn.BeginDiscoverableLogin()
		if err != nil {
			err = apperrors.Wrap(apperrors.CodeInternal, "begin login ceremony", err)
			return AuthenticationStart{}, err
		}
	}

	if err = s.storeChallenge(ctx, subject, passkey.CeremonyKindLogin, accountID, sessionData); err != nil {
		return AuthenticationStart{}, err
	}
	optionsJSON, err := json.Marshal(assertion)
	if err != nil {
		err = apperrors.Wrap(apperrors.CodeInternal, "encode login options", err)
		return AuthenticationStart{}, err
	}
	return AuthenticationStart{
		Subject:     subject,
		OptionsJSON: optionsJSON,
		ExpiresIn:   s.passkeyConfig.ChallengeTTL,
	}, nil
}

// FinishAuthentication validates an assertion response and signs the
// caller in.
//
// The challenge is claimed first, so concurrent finishes for one subject
// resolve to exactly one validation attempt. A validated credential whose
// authenticator data reports a possible clone is flagged and the attempt
// fails closed; a fresh ceremony may still succeed afterwards.
func (s *Service) FinishAuthentication(ctx context.Context, subject string, responseJSON []byte) (AuthResult, error) {
	ctx, span := s.startSpan(ctx, "auth.FinishAuthentication")
	var err error
	defer func() { endSpan(span, err) }()

	if err = s.passkeyReady(); err != nil {
		return AuthResult{}, err
	}
	if subject = strings.TrimSpace(subject); subject == "" {
		err = apperrors.New(apperrors.CodeInvalidArgument, "ceremony subject is required")
		return AuthResult{}, err
	}
	if len(responseJSON) == 0 {
		err = apperrors.New(apperrors.CodeInvalidArgument, "credential response is required")
		return AuthResult{}, err
	}

	challenge, err := s.takeChallenge(ctx, subject, passkey.CeremonyKindLogin)
	if err != nil {
		return AuthResult{}, err
	}

	parsed, parseErr := s.parser.ParseCredentialRequestResponseBytes(responseJSON)
	if parseErr != nil {
		err = apperrors.Wrap(apperrors.CodeInvalidArgument, "parse credential response", parseErr)
		return AuthResult{}, err
	}
	var sessionData webauthn.SessionData
	if err = json.Unmarshal([]byte(challenge.SessionJSON), &sessionData); err != nil {
		err = apperrors.Wrap(apperrors.CodeInternal, "decode ceremony state", err)
		return AuthResult{}, err
	}

	validatedUser, validatedCredential, validateErr := s.webAuthn.ValidatePasskeyLogin(s.accountHandler(ctx), sessionData, parsed)
	if validateErr != nil {
		if errors.Is(validateErr, ErrUnknownCredential) {
			err = ErrUnknownCredential
		} else {
			err = ErrSignatureInvalid
		}
		return AuthResult{}, err
	}
	loaded, ok := validatedUser.(*webauthnAccount)
	if !ok {
		err = apperrors.New(apperrors.CodeInternal, "unexpected ceremony user type")
		return AuthResult{}, err
	}
	if challenge.AccountID != "" && loaded.account.ID != challenge.AccountID {
		err = ErrChallengeMismatch
		return AuthResult{}, err
	}

	credentialID := encodeCredentialID(validatedCredential.ID)
	stored, getErr := s.passkeys.GetPasskeyCredential(ctx, credentialID)
	if getErr != nil {
		if errors.Is(getErr, storage.ErrNotFound) {
			err = ErrUnknownCredential
		} else {
			err = apperrors.Wrap(apperrors.CodeInternal, "load credential", getErr)
		}
		return AuthResult{}, err
	}
	if stored.AccountID != loaded.account.ID {
		err = ErrUnknownCredential
		return AuthResult{}, err
	}

	now := s.now()

	if validatedCredential.Authenticator.CloneWarning {
		// Flag the credential but keep its stored key material and
		// counter untouched: the warning must not be persisted, or a
		// fresh assertion with a healthy counter could never recover.
		flagged := now
		stored.CloneFlaggedAt = &flagged
		stored.UpdatedAt = now
		if putErr := s.passkeys.UpdatePasskeyCredential(ctx, stored); putErr != nil {
			err = apperrors.Wrap(apperrors.CodeInternal, "flag credential", putErr)
			return AuthResult{}, err
		}
		err = ErrCloneDetected
		return AuthResult{}, err
	}

	validatedCredential.Authenticator.CloneWarning = false
	credentialJSON, marshalErr := json.Marshal(validatedCredential)
	if marshalErr != nil {
		err = apperrors.Wrap(apperrors.CodeInternal, "encode credential", marshalErr)
		return AuthResult{}, err
	}
	stored.CredentialJSON = string(credentialJSON)
	stored.UpdatedAt = now
	used := now
	stored.LastUsedAt = &used
	if err = s.passkeys.UpdatePasskeyCredential(ctx, stored); err != nil {
		err = apperrors.Wrap(apperrors.CodeInternal, "store credential", err)
		return AuthResult{}, err
	}

	issued, err := s.issueSession(ctx, loaded.account.ID)
	if err != nil {
		return AuthResult{}, err
	}
	return AuthResult{Account: loaded.account, Session: issued}, nil
}

// webauthnAccount adapts an account and its stored credentials to the
// webauthn.User interface.
type webauthnAccount struct {
	id          string
	displayName string
	account     account.Account
	credentials []webauthn.Credential
}

func (a *webauthnAccount) WebAuthnID() []byte { return []byte(a.id) }

func (a *webauthnAccount) WebAuthnName() string { return a.id }

func (a *webauthnAccount) WebAuthnDisplayName() string { return a.displayName }

func (a *webauthnAccount) WebAuthnIcon() string { return "" }

func (a *webauthnAccount) WebAuthnCredentials() []webauthn.Credential { return a.credentials }

func (s *Service) loadWebauthnAccount(ctx context.Context, owner account.Account) (*webauthnAccount, error) {
	records, err := s.passkeys.ListPasskeyCredentials(ctx, owner.ID)
	if err != nil {
		return nil, err
	}
	credentials := make([]webauthn.Credential, 0, len(records))
	for _, record := range records {
		var credential webauthn.Credential
		if err := json.Unmarshal([]byte(record.CredentialJSON), &credential); err != nil {
			return nil, fmt.Errorf("decode credential %s: %w", record.CredentialID, err)
		}
		credentials = append(credentials, credential)
	}
	displayName := owner.Email
	if displayName == "" {
		displayName = owner.ID
	}
	return &webauthnAccount{
		id:          owner.ID,
		displayName: displayName,
		account:     owner,
		credentials: credentials,
	}, nil
}

// accountHandler resolves the user handle returned by a discoverable
// credential to its account.
func (s *Service) accountHandler(ctx context.Context) webauthn.DiscoverableUserHandler {
	return func(_, userHandle []byte) (webauthn.User, error) {
		accountID := strings.TrimSpace(string(userHandle))
		if accountID == "" {
			return nil, ErrUnknownCredential
		}
		owner, err := s.accounts.GetAccount(ctx, accountID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, ErrUnknownCredential
			}
			return nil, err
		}
		return s.loadWebauthnAccount(ctx, owner)
	}
}

func (s *Service) passkeyReady() error {
	if s.passkeyInitErr != nil || s.webAuthn == nil {
		return apperrors.New(apperrors.CodeInternal, "passkey configuration is not available")
	}
	if s.parser == nil {
		return apperrors.New(apperrors.CodeInternal, "passkey parser is not configured")
	}
	return nil
}

func (s *Service) storeChallenge(ctx context.Context, subject string, kind passkey.CeremonyKind, accountID string, sessionData *webauthn.SessionData) error {
	if sessionData == nil {
		return apperrors.New(apperrors.CodeInternal, "ceremony state is required")
	}
	payload, err := json.Marshal(sessionData)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "encode ceremony state", err)
	}
	now := s.now()
	if err := s.challenges.PutChallenge(ctx, storage.Challenge{
		Subject:     subject,
		Kind:        string(kind),
		AccountID:   accountID,
		SessionJSON: string(payload),
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.passkeyConfig.ChallengeTTL),
	}); err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "store challenge", err)
	}
	return nil
}

// takeChallenge atomically claims the pending challenge for a subject and
// validates kind and expiry. Expired challenges report not-found, same as
// missing ones.
func (s *Service) takeChallenge(ctx context.Context, subject string, expected passkey.CeremonyKind) (storage.Challenge, error) {
	challenge, err := s.challenges.TakeChallenge(ctx, subject)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.Challenge{}, ErrChallengeNotFound
		}
		return storage.Challenge{}, apperrors.Wrap(apperrors.CodeInternal, "claim challenge", err)
	}
	if challenge.Kind != string(expected) {
		return storage.Challenge{}, ErrChallengeMismatch
	}
	if s.now().After(challenge.ExpiresAt) {
		return storage.Challenge{}, ErrChallengeNotFound
	}
	return challenge, nil
}

func (s *Service) storeCredential(ctx context.Context, accountID string, credential webauthn.Credential, deviceClass passkey.DeviceClass, now time.Time) (storage.PasskeyCredential, error) {
	credentialJSON, err := json.Marshal(credential)
	if err != nil {
		return storage.PasskeyCredential{}, apperrors.Wrap(apperrors.CodeInternal, "encode credential", err)
	}
	record := storage.PasskeyCredential{
		CredentialID:   encodeCredentialID(credential.ID),
		AccountID:      accountID,
		Name:           defaultCredentialName(deviceClass),
		DeviceClass:    string(deviceClass),
		CredentialJSON: string(credentialJSON),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.passkeys.PutPasskeyCredential(ctx, record); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			// The credential ID is already bound to an account. Re-binding
			// would overwrite the existing holder's key material.
			return storage.PasskeyCredential{}, ErrAttestationInvalid
		}
		return storage.PasskeyCredential{}, apperrors.Wrap(apperrors.CodeInternal, "store credential", err)
	}
	return record, nil
}

func deviceClassFor(credential webauthn.Credential) passkey.DeviceClass {
	if credential.Authenticator.Attachment == protocol.Platform {
		return passkey.DeviceClassPlatform
	}
	return passkey.DeviceClassCrossPlatform
}

func defaultCredentialName(deviceClass passkey.DeviceClass) string {
	if deviceClass == passkey.DeviceClassPlatform {
		return "Device passkey"
	}
	return "Security key"
}

func encodeCredentialID(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}

// domainOrInternal passes coded domain errors through and wraps anything
// else as internal.
func domainOrInternal(err error, message string) error {
	var domainErr *apperrors.Error
	if errors.As(err, &domainErr) {
		return err
	}
	return apperrors.Wrap(apperrors.CodeInternal, message, err)
}
