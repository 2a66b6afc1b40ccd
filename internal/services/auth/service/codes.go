package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	apperrors "github.com/quietriver/gatehouse/internal/platform/errors"
	"github.com/quietriver/gatehouse/internal/services/auth/account"
	"github.com/quietriver/gatehouse/internal/services/auth/email"
	"github.com/quietriver/gatehouse/internal/services/auth/otp"
	"github.com/quietriver/gatehouse/internal/services/auth/storage"
)

// codeRetentionWindow keeps consumed and superseded code rows long enough
// for the daily delivery cap to be computed from history.
const codeRetentionWindow = 24 * time.Hour

// RequestCodeResult reports the outcome of a code request.
//
// DevCode carries the plaintext code only when dev echo is enabled, so
// automated clients can finish the flow without an email transport.
type RequestCodeResult struct {
	ExpiresIn time.Duration
	DevCode   string
}

// AuthResult is a successful authentication: the resolved account and a
// freshly issued bearer session.
type AuthResult struct {
	Account account.Account
	Session storage.Session
}

// RequestCode generates a one-time code for an email and delivers it.
//
// Issuing a new code supersedes any outstanding code for the email, so at
// most one code is verifiable at a time. Delivery pacing is enforced from
// storage: a cooldown between sends and a per-email daily cap.
func (s *Service) RequestCode(ctx context.Context, emailAddr string) (RequestCodeResult, error) {
	ctx, span := s.startSpan(ctx, "auth.RequestCode")
	var err error
	defer func() { endSpan(span, err) }()

	normalized, err := account.NormalizeEmail(emailAddr)
	if err != nil {
		return RequestCodeResult{}, err
	}
	now := s.now()

	latest, getErr := s.codes.GetLatestOneTimeCode(ctx, normalized)
	if getErr != nil && !errors.Is(getErr, storage.ErrNotFound) {
		err = apperrors.Wrap(apperrors.CodeInternal, "load latest code", getErr)
		return RequestCodeResult{}, err
	}
	if getErr == nil && s.otpConfig.SendCooldown > 0 && now.Sub(latest.CreatedAt) < s.otpConfig.SendCooldown {
		retryAfter := s.otpConfig.SendCooldown - now.Sub(latest.CreatedAt)
		err = apperrors.WithMetadata(apperrors.CodeAuthRateLimited, "code requested too soon", map[string]string{
			"retry_after": retryAfter.Round(time.Second).String(),
		})
		return RequestCodeResult{}, err
	}

	issued, countErr := s.codes.CountOneTimeCodesSince(ctx, normalized, now.Add(-codeRetentionWindow))
	if countErr != nil {
		err = apperrors.Wrap(apperrors.CodeInternal, "count issued codes", countErr)
		return RequestCodeResult{}, err
	}
	if issued >= s.otpConfig.DailyLimit {
		err = ErrRateLimited
		return RequestCodeResult{}, err
	}

	code, err := otp.GenerateCode(s.otpConfig.CodeLength)
	if err != nil {
		err = apperrors.Wrap(apperrors.CodeInternal, "generate code", err)
		return RequestCodeResult{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		err = apperrors.Wrap(apperrors.CodeInternal, "hash code", err)
		return RequestCodeResult{}, err
	}
	codeID, err := s.newID()
	if err != nil {
		err = apperrors.Wrap(apperrors.CodeInternal, "generate code id", err)
		return RequestCodeResult{}, err
	}

	if err = s.codes.PutOneTimeCode(ctx, storage.OneTimeCode{
		ID:        codeID,
		Email:     normalized,
		CodeHash:  string(hash),
		CreatedAt: now,
		ExpiresAt: now.Add(s.otpConfig.TTL),
	}); err != nil {
		err = apperrors.Wrap(apperrors.CodeInternal, "store code", err)
		return RequestCodeResult{}, err
	}

	if s.mail != nil {
		message := email.Message{
			To:      normalized,
			Subject: "Your sign-in code",
			Text: fmt.Sprintf("Your sign-in code is %s. It expires in %d minutes.",
				code, int(s.otpConfig.TTL.Minutes())),
		}
		if sendErr := s.mail.Send(ctx, message); sendErr != nil {
			err = apperrors.Wrap(apperrors.CodeInternal, "send code email", sendErr)
			return RequestCodeResult{}, err
		}
	}

	result := RequestCodeResult{ExpiresIn: s.otpConfig.TTL}
	if s.otpConfig.DevEcho {
		result.DevCode = code
	}
	return result, nil
}

// VerifyCode checks a submitted code, consumes it, and signs the caller in.
//
// Consumption is a compare-and-set against storage, so two racing
// verifications of the same code resolve to exactly one session.
func (s *Service) VerifyCode(ctx context.Context, emailAddr, code string) (AuthResult, error) {
	ctx, span := s.startSpan(ctx, "auth.VerifyCode")
	var err error
	defer func() { endSpan(span, err) }()

	normalized, err := account.NormalizeEmail(emailAddr)
	if err != nil {
		return AuthResult{}, err
	}
	code = strings.TrimSpace(code)
	if code == "" {
		err = ErrCodeInvalid
		return AuthResult{}, err
	}

	latest, getErr := s.codes.GetLatestOneTimeCode(ctx, normalized)
	if getErr != nil {
		if errors.Is(getErr, storage.ErrNotFound) {
			err = ErrCodeInvalid
		} else {
			err = apperrors.Wrap(apperrors.CodeInternal, "load latest code", getErr)
		}
		return AuthResult{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(latest.CodeHash), []byte(code)) != nil {
		err = ErrCodeInvalid
		return AuthResult{}, err
	}
	if latest.ConsumedAt != nil {
		err = ErrCodeAlreadyUsed
		return AuthResult{}, err
	}
	now := s.now()
	if now.After(latest.ExpiresAt) {
		err = ErrCodeExpired
		return AuthResult{}, err
	}

	consumed, consumeErr := s.codes.ConsumeOneTimeCode(ctx, latest.ID, now)
	if consumeErr != nil {
		err = apperrors.Wrap(apperrors.CodeInternal, "consume code", consumeErr)
		return AuthResult{}, err
	}
	if !consumed {
		err = ErrCodeAlreadyUsed
		return AuthResult{}, err
	}

	resolved, err := s.resolveEmailAccount(ctx, normalized, now)
	if err != nil {
		return AuthResult{}, err
	}
	issued, err := s.issueSession(ctx, resolved.ID)
	if err != nil {
		return AuthResult{}, err
	}
	return AuthResult{Account: resolved, Session: issued}, nil
}

// resolveEmailAccount finds or creates the account bound to a verified
// email and marks the address verified.
func (s *Service) resolveEmailAccount(ctx context.Context, normalized string, now time.Time) (account.Account, error) {
	existing, err := s.accounts.GetAccountByEmail(ctx, normalized)
	if err == nil {
		if existing.EmailVerifiedAt == nil {
			verified := now
			existing.EmailVerifiedAt = &verified
			existing.UpdatedAt = now
			if putErr := s.accounts.PutAccount(ctx, existing); putErr != nil {
				return account.Account{}, apperrors.Wrap(apperrors.CodeInternal, "mark email verified", putErr)
			}
		}
		return existing, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return account.Account{}, apperrors.Wrap(apperrors.CodeInternal, "load account by email", err)
	}

	created, err := account.CreateAccount(account.CreateAccountInput{Email: normalized}, s.clock, s.newID)
	if err != nil {
		return account.Account{}, err
	}
	verified := now
	created.EmailVerifiedAt = &verified
	if putErr := s.accounts.PutAccount(ctx, created); putErr != nil {
		return account.Account{}, apperrors.Wrap(apperrors.CodeInternal, "store account", putErr)
	}
	return created, nil
}
