package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"math/big"
)

const (
	VerificationCodeDigits = 6
	CompletionTokenLength  = 32 // 256 bits
)

var verificationCodeSpace = big.NewInt(1_000_000)

// GenerateVerificationCode returns a uniformly random, zero-padded 6-digit code.
func GenerateVerificationCode() (string, error) {
	n, err := rand.Int(rand.Reader, verificationCodeSpace)
	if err != nil {
		return "", fmt.Errorf("failed to generate verification code: %w", err)
	}
	return fmt.Sprintf("%0*d", VerificationCodeDigits, n.Int64()), nil
}

// GenerateCompletionToken returns a URL-safe token carrying 256 bits of entropy.
func GenerateCompletionToken() (string, error) {
	b := make([]byte, CompletionTokenLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate completion token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
