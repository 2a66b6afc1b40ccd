// Package service implements the passwordless authentication operations:
// emailed one-time codes, WebAuthn passkey ceremonies, credential
// management, and bearer session issuance.
package service

import (
	"context"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/quietriver/gatehouse/internal/platform/errors"
	"github.com/quietriver/gatehouse/internal/platform/id"
	"github.com/quietriver/gatehouse/internal/services/auth/email"
	"github.com/quietriver/gatehouse/internal/services/auth/otp"
	"github.com/quietriver/gatehouse/internal/services/auth/passkey"
	"github.com/quietriver/gatehouse/internal/services/auth/session"
	"github.com/quietriver/gatehouse/internal/services/auth/signup"
	"github.com/quietriver/gatehouse/internal/services/auth/storage"
)

var (
	// ErrRateLimited indicates the email exceeded its code delivery allowance.
	ErrRateLimited = apperrors.New(apperrors.CodeAuthRateLimited, "too many code requests")
	// ErrCodeInvalid indicates a submitted code that matches no outstanding code.
	ErrCodeInvalid = apperrors.New(apperrors.CodeAuthCodeInvalid, "code is invalid")
	// ErrCodeExpired indicates a matching code past its expiry.
	ErrCodeExpired = apperrors.New(apperrors.CodeAuthCodeExpired, "code expired")
	// ErrCodeAlreadyUsed indicates a matching code that was already consumed.
	ErrCodeAlreadyUsed = apperrors.New(apperrors.CodeAuthCodeAlreadyUsed, "code already used")
	// ErrChallengeNotFound indicates a missing, expired, or already
	// consumed ceremony challenge.
	ErrChallengeNotFound = apperrors.New(apperrors.CodeAuthChallengeNotFound, "challenge not found")
	// ErrChallengeMismatch indicates a challenge claimed for the wrong ceremony kind.
	ErrChallengeMismatch = apperrors.New(apperrors.CodeAuthChallengeMismatch, "challenge ceremony mismatch")
	// ErrAttestationInvalid indicates a registration response that fails validation.
	ErrAttestationInvalid = apperrors.New(apperrors.CodeAuthAttestationInvalid, "attestation is invalid")
	// ErrSignatureInvalid indicates an assertion that fails signature verification.
	ErrSignatureInvalid = apperrors.New(apperrors.CodeAuthSignatureInvalid, "assertion signature is invalid")
	// ErrCloneDetected indicates an assertion whose authenticator data
	// suggests a cloned credential.
	ErrCloneDetected = apperrors.New(apperrors.CodeAuthCloneDetected, "credential clone detected")
	// ErrUnknownCredential indicates an assertion from a credential not on record.
	ErrUnknownCredential = apperrors.New(apperrors.CodeAuthUnknownCredential, "credential is not recognized")
	// ErrLastCredential indicates a refusal to delete an account's only
	// sign-in method.
	ErrLastCredential = apperrors.New(apperrors.CodeAuthLastCredential, "cannot remove the last credential")
	// ErrUnauthenticated indicates a missing, expired, or revoked session.
	ErrUnauthenticated = apperrors.New(apperrors.CodeAuthUnauthenticated, "authentication required")
)

type passkeyProvider interface {
	BeginRegistration(user webauthn.User, opts ...webauthn.RegistrationOption) (*protocol.CredentialCreation, *webauthn.SessionData, error)
	CreateCredential(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialCreationData) (*webauthn.Credential, error)
	BeginLogin(user webauthn.User, opts ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error)
	BeginDiscoverableLogin(opts ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error)
	ValidatePasskeyLogin(handler webauthn.DiscoverableUserHandler, session webauthn.SessionData, response *protocol.ParsedCredentialAssertionData) (webauthn.User, *webauthn.Credential, error)
}

type passkeyParser interface {
	ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error)
	ParseCredentialRequestResponseBytes(data []byte) (*protocol.ParsedCredentialAssertionData, error)
}

type defaultPasskeyParser struct{}

func (defaultPasskeyParser) ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error) {
	return protocol.ParseCredentialCreationResponseBytes(data)
}

func (defaultPasskeyParser) ParseCredentialRequestResponseBytes(data []byte) (*protocol.ParsedCredentialAssertionData, error) {
	return protocol.ParseCredentialRequestResponseBytes(data)
}

// Stores bundles the persistence interfaces the service depends on.
type Stores struct {
	Accounts   storage.AccountStore
	Codes      storage.OneTimeCodeStore
	Challenges storage.ChallengeStore
	Passkeys   storage.PasskeyStore
	Sessions   storage.SessionStore
}

// Service is the canonical auth domain entrypoint.
//
// Transport handlers call it and treat its coded errors as the contract;
// they never touch storage directly.
type Service struct {
	accounts   storage.AccountStore
	codes      storage.OneTimeCodeStore
	challenges storage.ChallengeStore
	passkeys   storage.PasskeyStore
	sessions   storage.SessionStore

	otpConfig     otp.Config
	passkeyConfig passkey.Config
	sessionConfig session.Config

	webAuthn       passkeyProvider
	passkeyInitErr error
	parser         passkeyParser
	grants         *signup.Signer
	mail           email.Sender

	clock    func() time.Time
	newID    func() (string, error)
	newToken func() (string, error)
	tracer   trace.Tracer
}

// New builds a service with configuration loaded from the environment.
//
// Defaults are assembled here so transport handlers can treat this as the
// canonical auth domain entrypoint.
func New(stores Stores, mail email.Sender, grants *signup.Signer) *Service {
	passkeyConfig := passkey.LoadConfigFromEnv()
	webAuthn, err := webauthn.New(&webauthn.Config{
		RPDisplayName: passkeyConfig.RPDisplayName,
		RPID:          passkeyConfig.RPID,
		RPOrigins:     passkeyConfig.RPOrigins,
	})
	return &Service{
		accounts:       stores.Accounts,
		codes:          stores.Codes,
		challenges:     stores.Challenges,
		passkeys:       stores.Passkeys,
		sessions:       stores.Sessions,
		otpConfig:      otp.LoadConfigFromEnv(),
		passkeyConfig:  passkeyConfig,
		sessionConfig:  session.LoadConfigFromEnv(),
		webAuthn:       webAuthn,
		passkeyInitErr: err,
		parser:         defaultPasskeyParser{},
		grants:         grants,
		mail:           mail,
		clock:          time.Now,
		newID:          id.NewID,
		newToken:       id.NewToken,
		tracer:         otel.Tracer("gatehouse/auth"),
	}
}

func (s *Service) now() time.Time {
	if s.clock != nil {
		return s.clock().UTC()
	}
	return time.Now().UTC()
}

// startSpan opens a ceremony span. Outcomes are recorded as attributes so
// security-relevant failures stay distinguishable in traces while clients
// see uniform messages.
func (s *Service) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return s.tracer.Start(ctx, name)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		if domainErr, ok := err.(*apperrors.Error); ok {
			span.SetAttributes(attribute.String("auth.outcome", string(domainErr.Code)))
		}
		span.SetStatus(codes.Error, "authentication operation failed")
	} else {
		span.SetAttributes(attribute.String("auth.outcome", "ok"))
	}
	span.End()
}
