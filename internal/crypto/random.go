package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"math/big"

	"golang.org/x/crypto/bcrypt"
)

// passwordAlphabet is the character set for generated account passwords
const passwordAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// GeneratedPasswordLength is the length of passwords minted for
// accounts provisioned from an identity provider. Nobody ever types
// these; the account is only reachable through single sign-on.
const GeneratedPasswordLength = 8

// GenerateSecureToken creates a cryptographically secure random token.
// Returns a base64 URL-encoded string suitable for use as OAuth state parameters,
// ticket nonces, etc.
func GenerateSecureToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// GeneratePassword creates a random password for a provisioned account
func GeneratePassword() (string, error) {
	max := big.NewInt(int64(len(passwordAlphabet)))
	out := make([]byte, GeneratedPasswordLength)
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate random index: %w", err)
		}
		out[i] = passwordAlphabet[n.Int64()]
	}
	return string(out), nil
}

// RandomSuffix returns a random integer in [0, 10000) for username
// collision resolution
func RandomSuffix() (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(10000))
	if err != nil {
		return 0, fmt.Errorf("failed to generate random suffix: %w", err)
	}
	return int(n.Int64()), nil
}

// HashPassword hashes an account password using bcrypt
// This should be used before storing the password
func HashPassword(password string) ([]byte, error) {
	// Use default cost (10) for bcrypt
	return bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
}
