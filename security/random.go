package security

import (
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// GenerateSecureRandomString returns base64 of length random bytes; length defaults to 32.
func GenerateSecureRandomString(length int) (string, error) {
	if length <= 0 {
		length = randomStringLen
	}
	buf, err := randomBytes(length)
	if err != nil {
		return "", fmt.Errorf("security: random string: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

func HashPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("security: password is required")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("security: hash password: %w", err)
	}
	return string(hashed), nil
}

// VerifyPassword never returns an error; a malformed hash simply does not match.
func VerifyPassword(password string, hashed string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(password)) == nil
}
