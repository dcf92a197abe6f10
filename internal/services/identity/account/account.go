// Package account provides the unified local identity record.
package account

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	apperrors "github.com/addline/identity/internal/platform/errors"
	"github.com/addline/identity/internal/platform/id"
)

var (
	// ErrEmptyEmail indicates a missing primary email.
	ErrEmptyEmail = apperrors.New(apperrors.CodeAccountEmailEmpty, "primary email is required")
	// ErrInvalidEmail indicates a primary email that does not look like an address.
	ErrInvalidEmail = apperrors.New(apperrors.CodeAccountEmailInvalid, "primary email must be a valid address")
	// ErrInvalidStatus indicates an unrecognized account status value.
	ErrInvalidStatus = apperrors.New(apperrors.CodeAccountStatusInvalid, "unknown account status")

	emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

// Status is the lifecycle state of an account.
type Status string

const (
	// StatusActive marks a usable account.
	StatusActive Status = "ACTIVE"
	// StatusInactive marks a dormant account.
	StatusInactive Status = "INACTIVE"
	// StatusSuspended marks an administratively blocked account.
	StatusSuspended Status = "SUSPENDED"
	// StatusDeleted marks a soft-deleted account awaiting purge.
	StatusDeleted Status = "DELETED"
)

// ParseStatus converts a stored status string back to a Status.
func ParseStatus(value string) (Status, error) {
	switch Status(value) {
	case StatusActive, StatusInactive, StatusSuspended, StatusDeleted:
		return Status(value), nil
	}
	return "", ErrInvalidStatus
}

// Valid reports whether the status is one of the known states.
func (s Status) Valid() bool {
	_, err := ParseStatus(string(s))
	return err == nil
}

// CanTransitionTo reports whether a lifecycle change from s to next is legal.
//
// ACTIVE, INACTIVE and SUSPENDED move freely among themselves and into
// DELETED. DELETED is terminal: no resurrection path exists, only permanent
// purge.
func (s Status) CanTransitionTo(next Status) bool {
	if !s.Valid() || !next.Valid() {
		return false
	}
	if s == StatusDeleted {
		return false
	}
	return true
}

// Account is the unified local identity record. It owns zero-or-one Profile
// and zero-or-more linked external identities.
type Account struct {
	ID            string
	PrimaryEmail  string
	EmailVerified bool
	Status        Status
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Deleted reports whether the account has been soft-deleted.
func (a Account) Deleted() bool {
	return a.Status == StatusDeleted
}

// NormalizeEmail lowercases and trims an email address. Uniqueness checks
// operate on the normalized form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail enforces the canonical email shape used for account identity.
func ValidateEmail(email string) error {
	if email == "" {
		return ErrEmptyEmail
	}
	if !emailPattern.MatchString(email) {
		return ErrInvalidEmail
	}
	return nil
}

// New builds a durable account record from an untrusted primary email.
//
// This is the canonical point where an inbound email becomes a stable
// identity; callers decide the verified flag (registration leaves it false,
// trusted social assertions set it true at creation time).
func New(primaryEmail string, emailVerified bool, now func() time.Time, idGenerator func() (string, error)) (Account, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	normalized := NormalizeEmail(primaryEmail)
	if err := ValidateEmail(normalized); err != nil {
		return Account{}, err
	}

	accountID, err := idGenerator()
	if err != nil {
		return Account{}, fmt.Errorf("generate account id: %w", err)
	}

	createdAt := now().UTC()
	return Account{
		ID:            accountID,
		PrimaryEmail:  normalized,
		EmailVerified: emailVerified,
		Status:        StatusActive,
		CreatedAt:     createdAt,
		UpdatedAt:     createdAt,
	}, nil
}
