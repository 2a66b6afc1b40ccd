// Package id generates identifiers and bearer token values.
package id

import (
	"crypto/rand"
	"encoding/base32"
	"encoding/base64"
	"fmt"
	"strings"
)

var lowerBase32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewID returns a random 128-bit identifier encoded as 26 lowercase
// base32 characters. The underlying bytes carry UUIDv4 version and
// variant bits so the value can be mapped back to a UUID if needed.
func NewID() (string, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	raw[6] = (raw[6] & 0x0F) | 0x40
	raw[8] = (raw[8] & 0x3F) | 0x80
	return strings.ToLower(lowerBase32.EncodeToString(raw)), nil
}

// NewToken returns a random 256-bit bearer token encoded as URL-safe
// base64 without padding. Tokens are opaque and never derived from
// identifiers.
func NewToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
