package service

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/quietriver/gatehouse/internal/services/auth/account"
	"github.com/quietriver/gatehouse/internal/services/auth/email"
	"github.com/quietriver/gatehouse/internal/services/auth/signup"
	"github.com/quietriver/gatehouse/internal/services/auth/storage"
)

type fakeAccountStore struct {
	accounts map[string]account.Account
	putErr   error
}

func newFakeAccountStore() *fakeAccountStore {
	return &fakeAccountStore{accounts: make(map[string]account.Account)}
}

func (s *fakeAccountStore) PutAccount(_ context.Context, a account.Account) error {
	if s.putErr != nil {
		return s.putErr
	}
	s.accounts[a.ID] = a
	return nil
}

func (s *fakeAccountStore) GetAccount(_ context.Context, accountID string) (account.Account, error) {
	found, ok := s.accounts[accountID]
	if !ok {
		return account.Account{}, storage.ErrNotFound
	}
	return found, nil
}

func (s *fakeAccountStore) GetAccountByEmail(_ context.Context, emailAddr string) (account.Account, error) {
	for _, a := range s.accounts {
		if a.Email == emailAddr {
			return a, nil
		}
	}
	return account.Account{}, storage.ErrNotFound
}

type fakeCodeStore struct {
	codes  map[string]storage.OneTimeCode
	putErr error
}

func newFakeCodeStore() *fakeCodeStore {
	return &fakeCodeStore{codes: make(map[string]storage.OneTimeCode)}
}

func (s *fakeCodeStore) PutOneTimeCode(_ context.Context, code storage.OneTimeCode) error {
	if s.putErr != nil {
		return s.putErr
	}
	for id, existing := range s.codes {
		if existing.Email == code.Email && existing.ConsumedAt == nil {
			consumed := code.CreatedAt
			existing.ConsumedAt = &consumed
			s.codes[id] = existing
		}
	}
	s.codes[code.ID] = code
	return nil
}

func (s *fakeCodeStore) GetLatestOneTimeCode(_ context.Context, emailAddr string) (storage.OneTimeCode, error) {
	var latest storage.OneTimeCode
	found := false
	for _, code := range s.codes {
		if code.Email != emailAddr {
			continue
		}
		if !found || code.CreatedAt.After(latest.CreatedAt) {
			latest = code
			found = true
		}
	}
	if !found {
		return storage.OneTimeCode{}, storage.ErrNotFound
	}
	return latest, nil
}

func (s *fakeCodeStore) ConsumeOneTimeCode(_ context.Context, codeID string, consumedAt time.Time) (bool, error) {
	code, ok := s.codes[codeID]
	if !ok || code.ConsumedAt != nil {
		return false, nil
	}
	code.ConsumedAt = &consumedAt
	s.codes[codeID] = code
	return true, nil
}

func (s *fakeCodeStore) CountOneTimeCodesSince(_ context.Context, emailAddr string, since time.Time) (int, error) {
	count := 0
	for _, code := range s.codes {
		if code.Email == emailAddr && code.CreatedAt.After(since) {
			count++
		}
	}
	return count, nil
}

func (s *fakeCodeStore) DeleteOneTimeCodesExpiredBefore(_ context.Context, cutoff time.Time) error {
	for id, code := range s.codes {
		if code.ExpiresAt.Before(cutoff) {
			delete(s.codes, id)
		}
	}
	return nil
}

type fakeChallengeStore struct {
	challenges map[string]storage.Challenge
	putErr     error
}

func newFakeChallengeStore() *fakeChallengeStore {
	return &fakeChallengeStore{challenges: make(map[string]storage.Challenge)}
}

func (s *fakeChallengeStore) PutChallenge(_ context.Context, challenge storage.Challenge) error {
	if s.putErr != nil {
		return s.putErr
	}
	s.challenges[challenge.Subject] = challenge
	return nil
}

func (s *fakeChallengeStore) TakeChallenge(_ context.Context, subject string) (storage.Challenge, error) {
	challenge, ok := s.challenges[subject]
	if !ok {
		return storage.Challenge{}, storage.ErrNotFound
	}
	delete(s.challenges, subject)
	return challenge, nil
}

func (s *fakeChallengeStore) DeleteExpiredChallenges(_ context.Context, now time.Time) error {
	for subject, challenge := range s.challenges {
		if challenge.ExpiresAt.Before(now) {
			delete(s.challenges, subject)
		}
	}
	return nil
}

type fakePasskeyStore struct {
	credentials map[string]storage.PasskeyCredential
	putErr      error
}

func newFakePasskeyStore() *fakePasskeyStore {
	return &fakePasskeyStore{credentials: make(map[string]storage.PasskeyCredential)}
}

func (s *fakePasskeyStore) PutPasskeyCredential(_ context.Context, credential storage.PasskeyCredential) error {
	if s.putErr != nil {
		return s.putErr
	}
	if _, ok := s.credentials[credential.CredentialID]; ok {
		return storage.ErrAlreadyExists
	}
	s.credentials[credential.CredentialID] = credential
	return nil
}

func (s *fakePasskeyStore) UpdatePasskeyCredential(_ context.Context, credential storage.PasskeyCredential) error {
	existing, ok := s.credentials[credential.CredentialID]
	if !ok || existing.AccountID != credential.AccountID {
		return storage.ErrNotFound
	}
	s.credentials[credential.CredentialID] = credential
	return nil
}

func (s *fakePasskeyStore) GetPasskeyCredential(_ context.Context, credentialID string) (storage.PasskeyCredential, error) {
	credential, ok := s.credentials[credentialID]
	if !ok {
		return storage.PasskeyCredential{}, storage.ErrNotFound
	}
	return credential, nil
}

func (s *fakePasskeyStore) ListPasskeyCredentials(_ context.Context, accountID string) ([]storage.PasskeyCredential, error) {
	credentials := make([]storage.PasskeyCredential, 0)
	for _, credential := range s.credentials {
		if credential.AccountID == accountID {
			credentials = append(credentials, credential)
		}
	}
	sort.Slice(credentials, func(i, j int) bool {
		return credentials[i].CreatedAt.Before(credentials[j].CreatedAt)
	})
	return credentials, nil
}

func (s *fakePasskeyStore) RenamePasskeyCredential(_ context.Context, accountID, credentialID, name string, updatedAt time.Time) error {
	credential, ok := s.credentials[credentialID]
	if !ok || credential.AccountID != accountID {
		return storage.ErrNotFound
	}
	credential.Name = name
	credential.UpdatedAt = updatedAt
	s.credentials[credentialID] = credential
	return nil
}

func (s *fakePasskeyStore) DeletePasskeyCredential(_ context.Context, accountID, credentialID string) error {
	credential, ok := s.credentials[credentialID]
	if !ok || credential.AccountID != accountID {
		return storage.ErrNotFound
	}
	delete(s.credentials, credentialID)
	return nil
}

type fakeSessionStore struct {
	sessions map[string]storage.Session
	putErr   error
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: make(map[string]storage.Session)}
}

func (s *fakeSessionStore) PutSession(_ context.Context, session storage.Session) error {
	if s.putErr != nil {
		return s.putErr
	}
	s.sessions[session.Token] = session
	return nil
}

func (s *fakeSessionStore) GetSession(_ context.Context, token string) (storage.Session, error) {
	session, ok := s.sessions[token]
	if !ok {
		return storage.Session{}, storage.ErrNotFound
	}
	return session, nil
}

func (s *fakeSessionStore) RevokeSession(_ context.Context, token string, revokedAt time.Time) error {
	session, ok := s.sessions[token]
	if !ok {
		return storage.ErrNotFound
	}
	if session.RevokedAt == nil {
		session.RevokedAt = &revokedAt
		s.sessions[token] = session
	}
	return nil
}

func (s *fakeSessionStore) DeleteExpiredSessions(_ context.Context, now time.Time) error {
	for token, session := range s.sessions {
		if session.ExpiresAt.Before(now) {
			delete(s.sessions, token)
		}
	}
	return nil
}

type fakeSender struct {
	messages []email.Message
	sendErr  error
}

func (s *fakeSender) Send(_ context.Context, msg email.Message) error {
	if s.sendErr != nil {
		return s.sendErr
	}
	s.messages = append(s.messages, msg)
	return nil
}

type fakePasskeyProvider struct {
	credential           *webauthn.Credential
	userHandle           []byte
	assertionCounter     uint32
	beginRegistrationErr error
	beginLoginErr        error
	validateErr          error
}

func (f *fakePasskeyProvider) BeginRegistration(_ webauthn.User, _ ...webauthn.RegistrationOption) (*protocol.CredentialCreation, *webauthn.SessionData, error) {
	if f.beginRegistrationErr != nil {
		return nil, nil, f.beginRegistrationErr
	}
	return &protocol.CredentialCreation{}, &webauthn.SessionData{}, nil
}

func (f *fakePasskeyProvider) CreateCredential(_ webauthn.User, _ webauthn.SessionData, _ *protocol.ParsedCredentialCreationData) (*webauthn.Credential, error) {
	if f.credential != nil {
		return f.credential, nil
	}
	return &webauthn.Credential{ID: []byte("cred")}, nil
}

func (f *fakePasskeyProvider) BeginLogin(_ webauthn.User, _ ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error) {
	if f.beginLoginErr != nil {
		return nil, nil, f.beginLoginErr
	}
	return &protocol.CredentialAssertion{}, &webauthn.SessionData{}, nil
}

func (f *fakePasskeyProvider) BeginDiscoverableLogin(_ ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error) {
	if f.beginLoginErr != nil {
		return nil, nil, f.beginLoginErr
	}
	return &protocol.CredentialAssertion{}, &webauthn.SessionData{}, nil
}

// ValidatePasskeyLogin mirrors the library contract: with no canned
// credential it selects the resolved user's stored credential and runs
// UpdateCounter against the assertion's sign count, so the returned
// credential carries whatever clone state the stored copy held.
func (f *fakePasskeyProvider) ValidatePasskeyLogin(handler webauthn.DiscoverableUserHandler, _ webauthn.SessionData, _ *protocol.ParsedCredentialAssertionData) (webauthn.User, *webauthn.Credential, error) {
	if f.validateErr != nil {
		return nil, nil, f.validateErr
	}
	resolved, err := handler(nil, f.userHandle)
	if err != nil {
		return nil, nil, err
	}
	credential := f.credential
	if credential == nil {
		stored := resolved.WebAuthnCredentials()
		if len(stored) == 0 {
			return nil, nil, ErrUnknownCredential
		}
		selected := stored[0]
		selected.Authenticator.UpdateCounter(f.assertionCounter)
		credential = &selected
	}
	return resolved, credential, nil
}

type fakePasskeyParser struct {
	creationErr  error
	assertionErr error
}

func (f *fakePasskeyParser) ParseCredentialCreationResponseBytes(_ []byte) (*protocol.ParsedCredentialCreationData, error) {
	if f.creationErr != nil {
		return nil, f.creationErr
	}
	return &protocol.ParsedCredentialCreationData{}, nil
}

func (f *fakePasskeyParser) ParseCredentialRequestResponseBytes(_ []byte) (*protocol.ParsedCredentialAssertionData, error) {
	if f.assertionErr != nil {
		return nil, f.assertionErr
	}
	return &protocol.ParsedCredentialAssertionData{}, nil
}

type testEnv struct {
	accounts   *fakeAccountStore
	codes      *fakeCodeStore
	challenges *fakeChallengeStore
	passkeys   *fakePasskeyStore
	sessions   *fakeSessionStore
	mail       *fakeSender
	now        time.Time
	svc        *Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		accounts:   newFakeAccountStore(),
		codes:      newFakeCodeStore(),
		challenges: newFakeChallengeStore(),
		passkeys:   newFakePasskeyStore(),
		sessions:   newFakeSessionStore(),
		mail:       &fakeSender{},
		now:        time.Date(2026, 2, 12, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return env.now }

	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate signer key: %v", err)
	}
	signer := signup.NewSigner("gatehouse-auth", "gatehouse-signup", key, 15*time.Minute, clock)

	svc := New(Stores{
		Accounts:   env.accounts,
		Codes:      env.codes,
		Challenges: env.challenges,
		Passkeys:   env.passkeys,
		Sessions:   env.sessions,
	}, env.mail, signer)
	svc.clock = clock

	counter := 0
	svc.newID = func() (string, error) {
		counter++
		return fmt.Sprintf("id-%d", counter), nil
	}
	tokens := 0
	svc.newToken = func() (string, error) {
		tokens++
		return fmt.Sprintf("token-%d", tokens), nil
	}
	env.svc = svc
	return env
}

func accountWithEmail(accountID, emailAddr string, now time.Time) account.Account {
	return account.Account{
		ID:        accountID,
		Email:     emailAddr,
		Privacy:   account.PrivacyOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func assertErrorIs(t *testing.T, err, want error) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error %v, got nil", want)
	}
	if !errors.Is(err, want) {
		t.Fatalf("error = %v, want %v", err, want)
	}
}
