// Package signup issues and verifies temporary signup grants.
//
// A grant names the pending-signup subject used by the passkey
// registration ceremony before any account exists. The grant is an
// Ed25519-signed JWT so a completion call can prove it carries a
// server-issued subject without a database lookup.
package signup

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/quietriver/gatehouse/internal/platform/errors"
	"github.com/quietriver/gatehouse/internal/platform/id"
)

var (
	// ErrGrantInvalid indicates a grant that fails signature or claim checks.
	ErrGrantInvalid = apperrors.New(apperrors.CodeAuthSignupGrantInvalid, "signup grant is invalid")
	// ErrGrantExpired indicates a grant past its expiry.
	ErrGrantExpired = apperrors.New(apperrors.CodeAuthSignupGrantExpired, "signup grant expired")
)

// grantEnv holds raw env values before post-parse validation.
type grantEnv struct {
	Issuer     string        `env:"GATEHOUSE_SIGNUP_GRANT_ISSUER"      envDefault:"gatehouse-auth"`
	Audience   string        `env:"GATEHOUSE_SIGNUP_GRANT_AUDIENCE"    envDefault:"gatehouse-signup"`
	PrivateKey string        `env:"GATEHOUSE_SIGNUP_GRANT_PRIVATE_KEY"`
	TTL        time.Duration `env:"GATEHOUSE_SIGNUP_GRANT_TTL"         envDefault:"15m"`
}

// Signer signs and verifies temporary signup grants.
type Signer struct {
	issuer   string
	audience string
	key      ed25519.PrivateKey
	public   ed25519.PublicKey
	ttl      time.Duration
	now      func() time.Time
	newID    func() (string, error)
}

// NewSignerFromEnv builds a Signer from environment configuration.
//
// When no private key is configured an ephemeral key is generated;
// grants then only verify within the issuing process, so deployments
// running more than one instance must configure a shared key.
func NewSignerFromEnv(now func() time.Time) (*Signer, error) {
	var raw grantEnv
	if err := env.Parse(&raw); err != nil {
		return nil, fmt.Errorf("parse signup grant env: %w", err)
	}
	if raw.TTL <= 0 {
		return nil, fmt.Errorf("signup grant ttl must be positive")
	}

	var key ed25519.PrivateKey
	if trimmed := strings.TrimSpace(raw.PrivateKey); trimmed != "" {
		keyBytes, err := decodeBase64(trimmed)
		if err != nil {
			return nil, fmt.Errorf("decode signup grant private key: %w", err)
		}
		if len(keyBytes) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("signup grant private key must be %d bytes", ed25519.PrivateKeySize)
		}
		key = ed25519.PrivateKey(keyBytes)
	} else {
		_, generated, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generate signup grant key: %w", err)
		}
		key = generated
	}

	return NewSigner(strings.TrimSpace(raw.Issuer), strings.TrimSpace(raw.Audience), key, raw.TTL, now), nil
}

// NewSigner builds a Signer from explicit configuration.
func NewSigner(issuer, audience string, key ed25519.PrivateKey, ttl time.Duration, now func() time.Time) *Signer {
	if now == nil {
		now = time.Now
	}
	return &Signer{
		issuer:   issuer,
		audience: audience,
		key:      key,
		public:   key.Public().(ed25519.PublicKey),
		ttl:      ttl,
		now:      now,
		newID:    id.NewID,
	}
}

// Issue mints a grant for a freshly generated pending-signup subject.
// It returns the signed grant and the subject it names.
func (s *Signer) Issue() (grant string, subject string, err error) {
	if s == nil || len(s.key) != ed25519.PrivateKeySize {
		return "", "", errors.New("signup grant signer is not configured")
	}
	subject, err = s.newID()
	if err != nil {
		return "", "", fmt.Errorf("generate signup subject: %w", err)
	}
	now := s.now().UTC()
	claims := jwt.RegisteredClaims{
		Issuer:    s.issuer,
		Audience:  jwt.ClaimStrings{s.audience},
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", "", fmt.Errorf("sign signup grant: %w", err)
	}
	return signed, subject, nil
}

// Verify checks a grant and returns the pending-signup subject it names.
func (s *Signer) Verify(grant string) (string, error) {
	if s == nil || len(s.public) != ed25519.PublicKeySize {
		return "", errors.New("signup grant signer is not configured")
	}
	parsed, err := jwt.ParseWithClaims(
		strings.TrimSpace(grant),
		&jwt.RegisteredClaims{},
		func(*jwt.Token) (any, error) { return s.public, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithTimeFunc(func() time.Time { return s.now().UTC() }),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrGrantExpired
		}
		return "", ErrGrantInvalid
	}
	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || strings.TrimSpace(claims.Subject) == "" {
		return "", ErrGrantInvalid
	}
	return claims.Subject, nil
}

func decodeBase64(value string) ([]byte, error) {
	if value == "" {
		return nil, errors.New("empty base64 value")
	}
	decoded, err := base64.RawStdEncoding.DecodeString(value)
	if err == nil {
		return decoded, nil
	}
	return base64.StdEncoding.DecodeString(value)
}
