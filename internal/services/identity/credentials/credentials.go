// Package credentials provides the password-hashing capability consumed by
// the excluded registration flow. The algorithm choice stays behind the
// Hasher interface; callers may swap in their own implementation.
package credentials

import (
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	apperrors "github.com/addline/identity/internal/platform/errors"
)

// ErrEmptyPassword indicates a blank password was offered for hashing.
var ErrEmptyPassword = apperrors.New(apperrors.CodePasswordEmpty, "password is required")

// Hasher hashes and verifies passwords.
type Hasher interface {
	// Hash derives a storable hash from a plaintext password.
	Hash(password string) (string, error)
	// Verify reports whether password matches the stored hash.
	Verify(hash, password string) bool
}

// BcryptHasher is the default Hasher, backed by bcrypt at the library's
// default cost.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher creates a bcrypt hasher at the default cost.
func NewBcryptHasher() *BcryptHasher {
	return &BcryptHasher{cost: bcrypt.DefaultCost}
}

// Hash derives a bcrypt hash from password.
func (h *BcryptHasher) Hash(password string) (string, error) {
	if strings.TrimSpace(password) == "" {
		return "", ErrEmptyPassword
	}
	cost := bcrypt.DefaultCost
	if h != nil && h.cost != 0 {
		cost = h.cost
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hashed), nil
}

// Verify reports whether password matches hash.
func (h *BcryptHasher) Verify(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

var _ Hasher = (*BcryptHasher)(nil)
