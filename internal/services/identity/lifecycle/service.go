// Package lifecycle manages account creation, status transitions, and
// soft/hard deletion.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/addline/identity/internal/platform/errors"
	"github.com/addline/identity/internal/platform/id"
	"github.com/addline/identity/internal/services/identity/account"
	"github.com/addline/identity/internal/services/identity/storage"
)

var (
	// ErrAccountNotFound indicates no account exists for the given id.
	ErrAccountNotFound = apperrors.New(apperrors.CodeNotFound, "account not found")
	// ErrEmailConflict indicates the primary email is already owned by a
	// non-deleted account.
	ErrEmailConflict = apperrors.New(apperrors.CodeEmailConflict, "primary email is already in use")
	// ErrAccountIDRequired indicates a missing account id.
	ErrAccountIDRequired = apperrors.New(apperrors.CodeAccountIDEmpty, "account id is required")
)

type accountAndProfileStore interface {
	storage.AccountStore
	storage.ProfileStore
}

// Service is the account lifecycle manager. It owns the mutations that move
// an account through ACTIVE, INACTIVE, SUSPENDED, and DELETED, and the two
// deletion flavors (soft keeps rows, hard purges the whole graph).
type Service struct {
	store       accountAndProfileStore
	clock       func() time.Time
	idGenerator func() (string, error)
}

// NewService creates a lifecycle service backed by account storage.
func NewService(store accountAndProfileStore) *Service {
	return &Service{
		store:       store,
		clock:       time.Now,
		idGenerator: id.NewID,
	}
}

func (s *Service) ready() error {
	if s == nil || s.store == nil {
		return apperrors.New(apperrors.CodeStorageUnavailable, "lifecycle service is not configured")
	}
	return nil
}

func (s *Service) now() time.Time {
	if s.clock != nil {
		return s.clock().UTC()
	}
	return time.Now().UTC()
}

// CreateAccount creates an ACTIVE, unverified account plus its empty profile
// in one atomic unit. The email conflict scope excludes soft-deleted owners.
func (s *Service) CreateAccount(ctx context.Context, primaryEmail string) (account.Account, error) {
	if err := s.ready(); err != nil {
		return account.Account{}, err
	}

	acct, err := account.New(primaryEmail, false, s.clock, s.idGenerator)
	if err != nil {
		return account.Account{}, err
	}
	profile, err := account.NewProfile(acct.ID, account.ProfileHints{}, s.clock, s.idGenerator)
	if err != nil {
		return account.Account{}, err
	}

	if err := storage.RetryOnce(ctx, func() error {
		return s.store.CreateAccount(ctx, acct, profile)
	}); err != nil {
		if errors.Is(err, storage.ErrEmailTaken) {
			return account.Account{}, ErrEmailConflict
		}
		return account.Account{}, err
	}
	return acct, nil
}

// ChangeStatus moves an account to next. Transitions originating from
// DELETED are rejected; DELETED is terminal and only hard delete applies.
func (s *Service) ChangeStatus(ctx context.Context, accountID string, next account.Status) (account.Account, error) {
	if err := s.ready(); err != nil {
		return account.Account{}, err
	}
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return account.Account{}, ErrAccountIDRequired
	}
	if !next.Valid() {
		return account.Account{}, account.ErrInvalidStatus
	}

	acct, err := s.getAccount(ctx, accountID)
	if err != nil {
		return account.Account{}, err
	}
	if acct.Status == next {
		return acct, nil
	}
	if !acct.Status.CanTransitionTo(next) {
		return account.Account{}, apperrors.WithMetadata(
			apperrors.CodeInvalidTransition,
			fmt.Sprintf("cannot transition account from %s to %s", acct.Status, next),
			map[string]string{"from": string(acct.Status), "to": string(next)},
		)
	}

	acct.Status = next
	acct.UpdatedAt = s.now()
	if err := s.updateAccount(ctx, acct); err != nil {
		return account.Account{}, err
	}
	return acct, nil
}

// SoftDelete marks the account DELETED without removing rows. The primary
// email becomes reusable immediately because uniqueness excludes deleted
// accounts.
func (s *Service) SoftDelete(ctx context.Context, accountID string) error {
	_, err := s.ChangeStatus(ctx, accountID, account.StatusDeleted)
	return err
}

// HardDelete permanently removes the account, its profile, and every linked
// identity in one transaction. Irreversible.
func (s *Service) HardDelete(ctx context.Context, accountID string) error {
	if err := s.ready(); err != nil {
		return err
	}
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return ErrAccountIDRequired
	}

	err := storage.RetryOnce(ctx, func() error {
		return s.store.DeleteAccount(ctx, accountID)
	})
	if errors.Is(err, storage.ErrNotFound) {
		return ErrAccountNotFound
	}
	return err
}

// UpdatePrimaryEmail changes the account's primary email. Setting the same
// address is a no-op; a real change resets the verified flag because the new
// address needs its own verification pass.
func (s *Service) UpdatePrimaryEmail(ctx context.Context, accountID, newEmail string) (account.Account, error) {
	if err := s.ready(); err != nil {
		return account.Account{}, err
	}
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return account.Account{}, ErrAccountIDRequired
	}
	normalized := account.NormalizeEmail(newEmail)
	if err := account.ValidateEmail(normalized); err != nil {
		return account.Account{}, err
	}

	acct, err := s.getAccount(ctx, accountID)
	if err != nil {
		return account.Account{}, err
	}
	if acct.PrimaryEmail == normalized {
		return acct, nil
	}

	acct.PrimaryEmail = normalized
	acct.EmailVerified = false
	acct.UpdatedAt = s.now()
	if err := s.updateAccount(ctx, acct); err != nil {
		return account.Account{}, err
	}
	return acct, nil
}

// SetEmailVerified records the outcome of an email verification pass.
func (s *Service) SetEmailVerified(ctx context.Context, accountID string, verified bool) (account.Account, error) {
	if err := s.ready(); err != nil {
		return account.Account{}, err
	}
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return account.Account{}, ErrAccountIDRequired
	}

	acct, err := s.getAccount(ctx, accountID)
	if err != nil {
		return account.Account{}, err
	}
	if acct.EmailVerified == verified {
		return acct, nil
	}

	acct.EmailVerified = verified
	acct.UpdatedAt = s.now()
	if err := s.updateAccount(ctx, acct); err != nil {
		return account.Account{}, err
	}
	return acct, nil
}

// UpdateProfile replaces the mutable profile fields for an account.
func (s *Service) UpdateProfile(ctx context.Context, profile account.Profile) (account.Profile, error) {
	if err := s.ready(); err != nil {
		return account.Profile{}, err
	}
	if strings.TrimSpace(profile.AccountID) == "" {
		return account.Profile{}, ErrAccountIDRequired
	}

	var current account.Profile
	err := storage.RetryOnce(ctx, func() error {
		var getErr error
		current, getErr = s.store.GetProfile(ctx, profile.AccountID)
		return getErr
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return account.Profile{}, ErrAccountNotFound
		}
		return account.Profile{}, err
	}

	profile.ID = current.ID
	profile.CreatedAt = current.CreatedAt
	profile.UpdatedAt = s.now()
	if err := storage.RetryOnce(ctx, func() error {
		return s.store.PutProfile(ctx, profile)
	}); err != nil {
		return account.Profile{}, err
	}
	return profile, nil
}

func (s *Service) getAccount(ctx context.Context, accountID string) (account.Account, error) {
	var acct account.Account
	err := storage.RetryOnce(ctx, func() error {
		var getErr error
		acct, getErr = s.store.GetAccount(ctx, accountID)
		return getErr
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return account.Account{}, ErrAccountNotFound
		}
		return account.Account{}, err
	}
	return acct, nil
}

func (s *Service) updateAccount(ctx context.Context, acct account.Account) error {
	err := storage.RetryOnce(ctx, func() error {
		return s.store.UpdateAccount(ctx, acct)
	})
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return ErrAccountNotFound
	case errors.Is(err, storage.ErrEmailTaken):
		return ErrEmailConflict
	}
	return err
}
