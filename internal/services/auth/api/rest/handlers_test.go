package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	apperrors "github.com/quietriver/gatehouse/internal/platform/errors"
	"github.com/quietriver/gatehouse/internal/services/auth/account"
	"github.com/quietriver/gatehouse/internal/services/auth/service"
	"github.com/quietriver/gatehouse/internal/services/auth/storage"
)

type fakeAuthService struct {
	requestCodeResult service.RequestCodeResult
	requestCodeErr    error

	verifyResult service.AuthResult
	verifyErr    error

	registrationStart  service.RegistrationStart
	registrationResult service.RegistrationResult
	registrationErr    error
	beganForAccount    string

	authenticationStart service.AuthenticationStart
	finishResult        service.AuthResult
	finishErr           error

	sessionAccount account.Account
	session        storage.Session
	resolveErr     error
	revokedToken   string
	revokeErr      error

	passkeys   []service.PasskeySummary
	renamed    service.PasskeySummary
	passkeyErr error
}

func (f *fakeAuthService) RequestCode(_ context.Context, _ string) (service.RequestCodeResult, error) {
	return f.requestCodeResult, f.requestCodeErr
}

func (f *fakeAuthService) VerifyCode(_ context.Context, _, _ string) (service.AuthResult, error) {
	return f.verifyResult, f.verifyErr
}

func (f *fakeAuthService) BeginRegistration(_ context.Context, accountID string) (service.RegistrationStart, error) {
	f.beganForAccount = accountID
	return f.registrationStart, f.registrationErr
}

func (f *fakeAuthService) FinishRegistration(_ context.Context, _, _ string, _ []byte) (service.RegistrationResult, error) {
	return f.registrationResult, f.registrationErr
}

func (f *fakeAuthService) BeginAuthentication(_ context.Context, _ string) (service.AuthenticationStart, error) {
	return f.authenticationStart, f.finishErr
}

func (f *fakeAuthService) FinishAuthentication(_ context.Context, _ string, _ []byte) (service.AuthResult, error) {
	return f.finishResult, f.finishErr
}

func (f *fakeAuthService) ResolveSession(_ context.Context, token string) (account.Account, storage.Session, error) {
	if f.resolveErr != nil {
		return account.Account{}, storage.Session{}, f.resolveErr
	}
	if token != f.session.Token {
		return account.Account{}, storage.Session{}, service.ErrUnauthenticated
	}
	return f.sessionAccount, f.session, nil
}

func (f *fakeAuthService) RevokeSession(_ context.Context, token string) error {
	if f.revokeErr != nil {
		return f.revokeErr
	}
	f.revokedToken = token
	return nil
}

func (f *fakeAuthService) ListPasskeys(_ context.Context, _ string) ([]service.PasskeySummary, error) {
	return f.passkeys, f.passkeyErr
}

func (f *fakeAuthService) RenamePasskey(_ context.Context, _, _, _ string) (service.PasskeySummary, error) {
	return f.renamed, f.passkeyErr
}

func (f *fakeAuthService) DeletePasskey(_ context.Context, _, _ string) error {
	return f.passkeyErr
}

func newTestHandler(svc AuthService) *http.ServeMux {
	mux := http.NewServeMux()
	NewHandler(svc).RegisterRoutes(mux)
	return mux
}

func signedInFake() *fakeAuthService {
	now := time.Date(2026, 2, 12, 12, 0, 0, 0, time.UTC)
	return &fakeAuthService{
		sessionAccount: account.Account{ID: "acct-1", Email: "a@x.com", Privacy: account.PrivacyOpen},
		session: storage.Session{
			Token:     "token-1",
			AccountID: "acct-1",
			CreatedAt: now,
			ExpiresAt: now.Add(time.Hour),
		},
	}
}

func TestHandleRequestCode(t *testing.T) {
	fake := &fakeAuthService{requestCodeResult: service.RequestCodeResult{ExpiresIn: 10 * time.Minute}}
	mux := newTestHandler(fake)

	req := httptest.NewRequest(http.MethodPost, "/auth/code/request", strings.NewReader(`{"email":"a@x.com"}`))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp requestCodeResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ExpiresIn != 600 {
		t.Fatalf("expires_in = %d, want 600", resp.ExpiresIn)
	}
	if resp.Code != "" {
		t.Fatal("code must be absent outside dev echo")
	}
}

func TestHandleRequestCodeRateLimited(t *testing.T) {
	fake := &fakeAuthService{
		requestCodeErr: apperrors.WithMetadata(apperrors.CodeAuthRateLimited, "code requested too soon", map[string]string{
			"retry_after": "30s",
		}),
	}
	mux := newTestHandler(fake)

	req := httptest.NewRequest(http.MethodPost, "/auth/code/request", strings.NewReader(`{"email":"a@x.com"}`))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	var resp errorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error != string(apperrors.CodeAuthRateLimited) {
		t.Fatalf("error = %q", resp.Error)
	}
	if resp.Details["retry_after"] != "30s" {
		t.Fatalf("details = %v", resp.Details)
	}
}

func TestHandleRequestCodeMalformedBody(t *testing.T) {
	mux := newTestHandler(&fakeAuthService{})

	req := httptest.NewRequest(http.MethodPost, "/auth/code/request", strings.NewReader("{"))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestHandleVerifyCode(t *testing.T) {
	fake := signedInFake()
	fake.verifyResult = service.AuthResult{Account: fake.sessionAccount, Session: fake.session}
	mux := newTestHandler(fake)

	req := httptest.NewRequest(http.MethodPost, "/auth/code/verify", strings.NewReader(`{"email":"a@x.com","code":"123456"}`))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp authResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Token != "token-1" || resp.Account.ID != "acct-1" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestHandleVerifyCodeExpiredKeepsCode(t *testing.T) {
	fake := &fakeAuthService{verifyErr: service.ErrCodeExpired}
	mux := newTestHandler(fake)

	req := httptest.NewRequest(http.MethodPost, "/auth/code/verify", strings.NewReader(`{"email":"a@x.com","code":"123456"}`))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	var resp errorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error != string(apperrors.CodeAuthCodeExpired) {
		t.Fatalf("error = %q, want expiry surfaced", resp.Error)
	}
}

func TestCryptographicFailuresAreMasked(t *testing.T) {
	for _, failure := range []error{
		service.ErrSignatureInvalid,
		service.ErrAttestationInvalid,
		service.ErrCloneDetected,
		service.ErrUnknownCredential,
	} {
		fake := &fakeAuthService{finishErr: failure}
		mux := newTestHandler(fake)

		req := httptest.NewRequest(http.MethodPost, "/auth/passkeys/login/finish", strings.NewReader(`{"subject":"s","credential":{}}`))
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", w.Code)
		}
		var resp errorResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if resp.Error != "AUTH_FAILED" || resp.Message != "authentication failed" {
			t.Fatalf("response %+v must not reveal the failing check", resp)
		}
	}
}

func TestHandleBeginRegistrationAnonymous(t *testing.T) {
	fake := &fakeAuthService{
		registrationStart: service.RegistrationStart{
			Subject:     "subj-1",
			SignupGrant: "grant-1",
			OptionsJSON: []byte(`{"publicKey":{}}`),
			ExpiresIn:   5 * time.Minute,
		},
	}
	mux := newTestHandler(fake)

	req := httptest.NewRequest(http.MethodPost, "/auth/passkeys/register/begin", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if fake.beganForAccount != "" {
		t.Fatalf("began for account %q, want anonymous", fake.beganForAccount)
	}
	var resp beginRegistrationResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.SignupGrant != "grant-1" || resp.Subject != "subj-1" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestHandleBeginRegistrationAuthenticated(t *testing.T) {
	fake := signedInFake()
	fake.registrationStart = service.RegistrationStart{Subject: "acct-1", OptionsJSON: []byte(`{}`)}
	mux := newTestHandler(fake)

	req := httptest.NewRequest(http.MethodPost, "/auth/passkeys/register/begin", strings.NewReader(`{}`))
	req.Header.Set("Authorization", "Bearer token-1")
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if fake.beganForAccount != "acct-1" {
		t.Fatalf("began for account %q, want acct-1", fake.beganForAccount)
	}
}

func TestHandleBeginRegistrationBadBearer(t *testing.T) {
	fake := signedInFake()
	mux := newTestHandler(fake)

	req := httptest.NewRequest(http.MethodPost, "/auth/passkeys/register/begin", strings.NewReader(`{}`))
	req.Header.Set("Authorization", "Bearer wrong")
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestHandleFinishRegistrationSignup(t *testing.T) {
	now := time.Date(2026, 2, 12, 12, 0, 0, 0, time.UTC)
	issued := storage.Session{Token: "token-9", AccountID: "subj-1", ExpiresAt: now.Add(time.Hour)}
	fake := &fakeAuthService{
		registrationResult: service.RegistrationResult{
			Credential: service.PasskeySummary{ID: "cred-1", Name: "Device passkey"},
			Account:    account.Account{ID: "subj-1", Privacy: account.PrivacyAnonymous},
			Session:    &issued,
		},
	}
	mux := newTestHandler(fake)

	req := httptest.NewRequest(http.MethodPost, "/auth/passkeys/register/finish",
		strings.NewReader(`{"subject":"subj-1","signup_grant":"grant-1","credential":{}}`))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp finishRegistrationResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Token != "token-9" || resp.Account == nil || resp.Account.ID != "subj-1" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestHandleListPasskeysRequiresAuth(t *testing.T) {
	mux := newTestHandler(signedInFake())

	req := httptest.NewRequest(http.MethodGet, "/auth/passkeys", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestHandleListPasskeys(t *testing.T) {
	fake := signedInFake()
	fake.passkeys = []service.PasskeySummary{{ID: "cred-1", Name: "Device passkey"}}
	mux := newTestHandler(fake)

	req := httptest.NewRequest(http.MethodGet, "/auth/passkeys", nil)
	req.Header.Set("Authorization", "Bearer token-1")
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp listPasskeysResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Passkeys) != 1 || resp.Passkeys[0].ID != "cred-1" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestHandleRenamePasskey(t *testing.T) {
	fake := signedInFake()
	fake.renamed = service.PasskeySummary{ID: "cred-1", Name: "Work laptop"}
	mux := newTestHandler(fake)

	req := httptest.NewRequest(http.MethodPost, "/auth/passkeys/cred-1/rename", strings.NewReader(`{"name":"Work laptop"}`))
	req.Header.Set("Authorization", "Bearer token-1")
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestHandleDeletePasskeyLastCredential(t *testing.T) {
	fake := signedInFake()
	fake.passkeyErr = service.ErrLastCredential
	mux := newTestHandler(fake)

	req := httptest.NewRequest(http.MethodDelete, "/auth/passkeys/cred-1", nil)
	req.Header.Set("Authorization", "Bearer token-1")
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", w.Code)
	}
}

func TestHandleDeletePasskey(t *testing.T) {
	fake := signedInFake()
	mux := newTestHandler(fake)

	req := httptest.NewRequest(http.MethodDelete, "/auth/passkeys/cred-1", nil)
	req.Header.Set("Authorization", "Bearer token-1")
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", w.Code)
	}
}

func TestHandleLogout(t *testing.T) {
	fake := signedInFake()
	mux := newTestHandler(fake)

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.Header.Set("Authorization", "Bearer token-1")
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", w.Code)
	}
	if fake.revokedToken != "token-1" {
		t.Fatalf("revoked token = %q, want token-1", fake.revokedToken)
	}
}

func TestHandleLogoutMissingBearer(t *testing.T) {
	mux := newTestHandler(signedInFake())

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestHandleSession(t *testing.T) {
	fake := signedInFake()
	mux := newTestHandler(fake)

	req := httptest.NewRequest(http.MethodGet, "/auth/session", nil)
	req.Header.Set("Authorization", "Bearer token-1")
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp sessionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Account.ID != "acct-1" || resp.Account.Privacy != "open" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestHandleUp(t *testing.T) {
	mux := newTestHandler(&fakeAuthService{})

	req := httptest.NewRequest(http.MethodGet, "/up", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}
