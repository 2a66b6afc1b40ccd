// Package rest exposes the auth service over HTTP JSON.
//
// Handlers translate between wire shapes and the service layer and map
// coded domain errors onto HTTP statuses. Failed authentication proofs
// surface a uniform message; the detailed code stays internal.
package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/quietriver/gatehouse/internal/platform/errors"
	"github.com/quietriver/gatehouse/internal/services/auth/account"
	"github.com/quietriver/gatehouse/internal/services/auth/service"
	"github.com/quietriver/gatehouse/internal/services/auth/storage"
)

const maxRequestBody = 1 << 20

// AuthService is the service surface the handlers depend on.
type AuthService interface {
	RequestCode(ctx context.Context, email string) (service.RequestCodeResult, error)
	VerifyCode(ctx context.Context, email, code string) (service.AuthResult, error)
	BeginRegistration(ctx context.Context, accountID string) (service.RegistrationStart, error)
	FinishRegistration(ctx context.Context, subject, grant string, responseJSON []byte) (service.RegistrationResult, error)
	BeginAuthentication(ctx context.Context, email string) (service.AuthenticationStart, error)
	FinishAuthentication(ctx context.Context, subject string, responseJSON []byte) (service.AuthResult, error)
	ResolveSession(ctx context.Context, token string) (account.Account, storage.Session, error)
	RevokeSession(ctx context.Context, token string) error
	ListPasskeys(ctx context.Context, accountID string) ([]service.PasskeySummary, error)
	RenamePasskey(ctx context.Context, accountID, credentialID, name string) (service.PasskeySummary, error)
	DeletePasskey(ctx context.Context, accountID, credentialID string) error
}

// Handler serves the auth HTTP API.
type Handler struct {
	svc AuthService
}

// NewHandler builds a handler bound to the auth service.
func NewHandler(svc AuthService) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes registers the auth endpoints on the provided mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	if mux == nil {
		return
	}
	mux.HandleFunc("POST /auth/code/request", h.handleRequestCode)
	mux.HandleFunc("POST /auth/code/verify", h.handleVerifyCode)
	mux.HandleFunc("POST /auth/passkeys/register/begin", h.handleBeginRegistration)
	mux.HandleFunc("POST /auth/passkeys/register/finish", h.handleFinishRegistration)
	mux.HandleFunc("POST /auth/passkeys/login/begin", h.handleBeginLogin)
	mux.HandleFunc("POST /auth/passkeys/login/finish", h.handleFinishLogin)
	mux.HandleFunc("GET /auth/passkeys", h.handleListPasskeys)
	mux.HandleFunc("POST /auth/passkeys/{id}/rename", h.handleRenamePasskey)
	mux.HandleFunc("DELETE /auth/passkeys/{id}", h.handleDeletePasskey)
	mux.HandleFunc("POST /auth/logout", h.handleLogout)
	mux.HandleFunc("GET /auth/session", h.handleSession)
	mux.HandleFunc("GET /up", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
}

type requestCodeRequest struct {
	Email string `json:"email"`
}

type requestCodeResponse struct {
	ExpiresIn int    `json:"expires_in"`
	Code      string `json:"code,omitempty"`
}

func (h *Handler) handleRequestCode(w http.ResponseWriter, r *http.Request) {
	var req requestCodeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	result, err := h.svc.RequestCode(r.Context(), req.Email)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, requestCodeResponse{
		ExpiresIn: int(result.ExpiresIn.Seconds()),
		Code:      result.DevCode,
	})
}

type verifyCodeRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type accountResponse struct {
	ID             string `json:"id"`
	Email          string `json:"email,omitempty"`
	EmailVerified  bool   `json:"email_verified"`
	Privacy        string `json:"privacy"`
	PasskeyEnabled bool   `json:"passkey_enabled"`
	Admin          bool   `json:"admin"`
}

type authResponse struct {
	Token     string          `json:"token"`
	ExpiresAt time.Time       `json:"expires_at"`
	Account   accountResponse `json:"account"`
}

func (h *Handler) handleVerifyCode(w http.ResponseWriter, r *http.Request) {
	var req verifyCodeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	result, err := h.svc.VerifyCode(r.Context(), req.Email, req.Code)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAuthResponse(result))
}

type beginRegistrationResponse struct {
	Subject     string          `json:"subject"`
	SignupGrant string          `json:"signup_grant,omitempty"`
	Options     json.RawMessage `json:"options"`
	ExpiresIn   int             `json:"expires_in"`
}

func (h *Handler) handleBeginRegistration(w http.ResponseWriter, r *http.Request) {
	// An authenticated caller enrolls an additional credential; an
	// anonymous caller starts the signup path.
	accountID := ""
	if token := bearerToken(r); token != "" {
		owner, _, err := h.svc.ResolveSession(r.Context(), token)
		if err != nil {
			writeError(w, err)
			return
		}
		accountID = owner.ID
	}
	start, err := h.svc.BeginRegistration(r.Context(), accountID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, beginRegistrationResponse{
		Subject:     start.Subject,
		SignupGrant: start.SignupGrant,
		Options:     json.RawMessage(start.OptionsJSON),
		ExpiresIn:   int(start.ExpiresIn.Seconds()),
	})
}

type finishRegistrationRequest struct {
	Subject     string          `json:"subject"`
	SignupGrant string          `json:"signup_grant"`
	Credential  json.RawMessage `json:"credential"`
}

type passkeyResponse struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	DeviceClass  string     `json:"device_class"`
	CloneFlagged bool       `json:"clone_flagged"`
	CreatedAt    time.Time  `json:"created_at"`
	LastUsedAt   *time.Time `json:"last_used_at,omitempty"`
}

type finishRegistrationResponse struct {
	Passkey   passkeyResponse  `json:"passkey"`
	Token     string           `json:"token,omitempty"`
	ExpiresAt *time.Time       `json:"expires_at,omitempty"`
	Account   *accountResponse `json:"account,omitempty"`
}

func (h *Handler) handleFinishRegistration(w http.ResponseWriter, r *http.Request) {
	var req finishRegistrationRequest
	if !decodeBody(w, r, &req) {
		return
	}
	result, err := h.svc.FinishRegistration(r.Context(), req.Subject, req.SignupGrant, []byte(req.Credential))
	if err != nil {
		writeError(w, err)
		return
	}
	resp := finishRegistrationResponse{Passkey: toPasskeyResponse(result.Credential)}
	if result.Session != nil {
		resp.Token = result.Session.Token
		expires := result.Session.ExpiresAt
		resp.ExpiresAt = &expires
		acct := toAccountResponse(result.Account)
		resp.Account = &acct
	}
	writeJSON(w, http.StatusOK, resp)
}

type beginLoginRequest struct {
	Email string `json:"email"`
}

type beginLoginResponse struct {
	Subject   string          `json:"subject"`
	Options   json.RawMessage `json:"options"`
	ExpiresIn int             `json:"expires_in"`
}

func (h *Handler) handleBeginLogin(w http.ResponseWriter, r *http.Request) {
	var req beginLoginRequest
	if !decodeBody(w, r, &req) {
		return
	}
	start, err := h.svc.BeginAuthentication(r.Context(), req.Email)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, beginLoginResponse{
		Subject:   start.Subject,
		Options:   json.RawMessage(start.OptionsJSON),
		ExpiresIn: int(start.ExpiresIn.Seconds()),
	})
}

type finishLoginRequest struct {
	Subject    string          `json:"subject"`
	Credential json.RawMessage `json:"credential"`
}

func (h *Handler) handleFinishLogin(w http.ResponseWriter, r *http.Request) {
	var req finishLoginRequest
	if !decodeBody(w, r, &req) {
		return
	}
	result, err := h.svc.FinishAuthentication(r.Context(), req.Subject, []byte(req.Credential))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAuthResponse(result))
}

type listPasskeysResponse struct {
	Passkeys []passkeyResponse `json:"passkeys"`
}

func (h *Handler) handleListPasskeys(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	summaries, err := h.svc.ListPasskeys(r.Context(), owner.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := listPasskeysResponse{Passkeys: make([]passkeyResponse, 0, len(summaries))}
	for _, summary := range summaries {
		resp.Passkeys = append(resp.Passkeys, toPasskeyResponse(summary))
	}
	writeJSON(w, http.StatusOK, resp)
}

type renamePasskeyRequest struct {
	Name string `json:"name"`
}

func (h *Handler) handleRenamePasskey(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	var req renamePasskeyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	renamed, err := h.svc.RenamePasskey(r.Context(), owner.ID, r.PathValue("id"), req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPasskeyResponse(renamed))
}

func (h *Handler) handleDeletePasskey(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	if err := h.svc.DeletePasskey(r.Context(), owner.ID, r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, service.ErrUnauthenticated)
		return
	}
	if err := h.svc.RevokeSession(r.Context(), token); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type sessionResponse struct {
	Account   accountResponse `json:"account"`
	ExpiresAt time.Time       `json:"expires_at"`
}

func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	owner, resolved, err := h.svc.ResolveSession(r.Context(), token)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		Account:   toAccountResponse(owner),
		ExpiresAt: resolved.ExpiresAt,
	})
}

// authenticate resolves the bearer token or writes an unauthenticated
// response.
func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request) (account.Account, bool) {
	owner, _, err := h.svc.ResolveSession(r.Context(), bearerToken(r))
	if err != nil {
		writeError(w, err)
		return account.Account{}, false
	}
	return owner, true
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, prefix))
}

func decodeBody(w http.ResponseWriter, r *http.Request, target any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := decoder.Decode(target); err != nil {
		writeJSONError(w, http.StatusBadRequest, string(apperrors.CodeInvalidArgument), "invalid request body")
		return false
	}
	return true
}

func toAuthResponse(result service.AuthResult) authResponse {
	return authResponse{
		Token:     result.Session.Token,
		ExpiresAt: result.Session.ExpiresAt,
		Account:   toAccountResponse(result.Account),
	}
}

func toAccountResponse(a account.Account) accountResponse {
	return accountResponse{
		ID:             a.ID,
		Email:          a.Email,
		EmailVerified:  a.EmailVerifiedAt != nil,
		Privacy:        string(a.Privacy),
		PasskeyEnabled: a.PasskeyEnabled,
		Admin:          a.Admin,
	}
}

func toPasskeyResponse(summary service.PasskeySummary) passkeyResponse {
	return passkeyResponse{
		ID:           summary.ID,
		Name:         summary.Name,
		DeviceClass:  summary.DeviceClass,
		CloneFlagged: summary.CloneFlagged,
		CreatedAt:    summary.CreatedAt,
		LastUsedAt:   summary.LastUsedAt,
	}
}

type errorResponse struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// maskedCodes are cryptographic failures whose classification stays
// internal: the client sees a uniform response no matter which part of
// the check failed. State conflicts like expired codes are expected and
// keep their codes.
var maskedCodes = map[apperrors.Code]bool{
	apperrors.CodeAuthAttestationInvalid: true,
	apperrors.CodeAuthSignatureInvalid:   true,
	apperrors.CodeAuthCloneDetected:      true,
	apperrors.CodeAuthUnknownCredential:  true,
}

// writeError maps a domain error to an HTTP response.
func writeError(w http.ResponseWriter, err error) {
	var domainErr *apperrors.Error
	if !errors.As(err, &domainErr) {
		writeJSONError(w, http.StatusInternalServerError, string(apperrors.CodeInternal), "internal error")
		return
	}
	if maskedCodes[domainErr.Code] {
		writeJSONError(w, http.StatusUnauthorized, "AUTH_FAILED", "authentication failed")
		return
	}
	status := domainErr.Code.HTTPStatus()
	message := domainErr.Message
	if status == http.StatusInternalServerError {
		message = "internal error"
	}
	writeJSON(w, status, errorResponse{
		Error:   string(domainErr.Code),
		Message: message,
		Details: domainErr.Metadata,
	})
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
