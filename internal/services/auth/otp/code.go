package otp

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

// GenerateCode returns a decimal code of the given length from crypto/rand.
//
// Leading zeros are preserved so every code is exactly length digits,
// keeping the search space at 10^length within the expiry window.
func GenerateCode(length int) (string, error) {
	if length < 6 {
		return "", fmt.Errorf("code length %d is below the minimum of 6", length)
	}
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		digit, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", fmt.Errorf("read random digit: %w", err)
		}
		b.WriteByte(byte('0' + digit.Int64()))
	}
	return b.String(), nil
}
