package auth

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// HashCode hashes a one-time code for storage. A cost of zero uses
// bcrypt.DefaultCost.
func HashCode(code string, cost int) (string, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return "", ErrInvalidCode.Clone().WithMetadata(map[string]any{"reason": "empty code"})
	}
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}

	h, err := bcrypt.GenerateFromPassword([]byte(code), cost)
	return string(h), err
}

// CompareCodeAndHash validates the given cleartext code matches hash.
// A mismatch is ErrInvalidCode.
func CompareCodeAndHash(code, hash string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(strings.TrimSpace(code))); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrInvalidCode
		}
		return err
	}
	return nil
}
