// Package query exposes the read-only account lookup operations.
package query

import (
	"context"
	"errors"
	"strings"

	apperrors "github.com/addline/identity/internal/platform/errors"
	"github.com/addline/identity/internal/services/identity/account"
	"github.com/addline/identity/internal/services/identity/link"
	"github.com/addline/identity/internal/services/identity/storage"
)

var (
	// ErrAccountNotFound indicates no account matches the lookup key.
	ErrAccountNotFound = apperrors.New(apperrors.CodeNotFound, "account not found")
	// ErrAccountIDRequired indicates a missing account id.
	ErrAccountIDRequired = apperrors.New(apperrors.CodeAccountIDEmpty, "account id is required")
)

type accountAndLinkStore interface {
	storage.AccountStore
	storage.LinkStore
}

// Service answers account reads. It never mutates state; single-entity
// lookups fail with NotFound, list operations return empty slices.
type Service struct {
	store accountAndLinkStore
}

// NewService creates a query service backed by identity storage.
func NewService(store accountAndLinkStore) *Service {
	return &Service{store: store}
}

func (s *Service) ready() error {
	if s == nil || s.store == nil {
		return apperrors.New(apperrors.CodeStorageUnavailable, "query service is not configured")
	}
	return nil
}

// GetByID fetches an account by its id, soft-deleted rows included.
func (s *Service) GetByID(ctx context.Context, accountID string) (account.Account, error) {
	if err := s.ready(); err != nil {
		return account.Account{}, err
	}
	if strings.TrimSpace(accountID) == "" {
		return account.Account{}, ErrAccountIDRequired
	}

	var acct account.Account
	err := storage.RetryOnce(ctx, func() error {
		var readErr error
		acct, readErr = s.store.GetAccount(ctx, strings.TrimSpace(accountID))
		return readErr
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return account.Account{}, ErrAccountNotFound
		}
		return account.Account{}, err
	}
	return acct, nil
}

// GetByEmail fetches the non-deleted account owning the primary email.
func (s *Service) GetByEmail(ctx context.Context, email string) (account.Account, error) {
	if err := s.ready(); err != nil {
		return account.Account{}, err
	}
	normalized := account.NormalizeEmail(email)
	if err := account.ValidateEmail(normalized); err != nil {
		return account.Account{}, err
	}

	var acct account.Account
	err := storage.RetryOnce(ctx, func() error {
		var readErr error
		acct, readErr = s.store.GetAccountByEmail(ctx, normalized)
		return readErr
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return account.Account{}, ErrAccountNotFound
		}
		return account.Account{}, err
	}
	return acct, nil
}

// GetByProviderAccount resolves the account owning a provider identity by
// joining through its linked identities.
func (s *Service) GetByProviderAccount(ctx context.Context, provider link.Provider, providerAccountID string) (account.Account, error) {
	if err := s.ready(); err != nil {
		return account.Account{}, err
	}
	normalizedProvider, err := link.ParseProvider(string(provider))
	if err != nil {
		return account.Account{}, err
	}
	providerAccountID = strings.TrimSpace(providerAccountID)
	if providerAccountID == "" {
		return account.Account{}, link.ErrEmptyProviderAccountID
	}

	var acct account.Account
	err = storage.RetryOnce(ctx, func() error {
		var readErr error
		acct, readErr = s.store.GetAccountByProviderAccount(ctx, normalizedProvider, providerAccountID)
		return readErr
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return account.Account{}, ErrAccountNotFound
		}
		return account.Account{}, err
	}
	return acct, nil
}

// ListActive returns every ACTIVE account.
func (s *Service) ListActive(ctx context.Context) ([]account.Account, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.listAccounts(ctx, func(ctx context.Context) ([]account.Account, error) {
		return s.store.ListActiveAccounts(ctx)
	})
}

// ListActiveVerified returns every ACTIVE account with a verified email.
func (s *Service) ListActiveVerified(ctx context.Context) ([]account.Account, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.listAccounts(ctx, func(ctx context.Context) ([]account.Account, error) {
		return s.store.ListActiveVerifiedAccounts(ctx)
	})
}

// SearchByEmail returns accounts whose primary email contains keyword as a
// literal substring. An empty keyword matches nothing.
func (s *Service) SearchByEmail(ctx context.Context, keyword string) ([]account.Account, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	keyword = strings.ToLower(strings.TrimSpace(keyword))
	if keyword == "" {
		return []account.Account{}, nil
	}
	return s.listAccounts(ctx, func(ctx context.Context) ([]account.Account, error) {
		return s.store.SearchAccountsByEmail(ctx, keyword)
	})
}

// ListAccounts returns accounts matching an AIP-160 filter expression over
// status, email, email_verified, created_at and updated_at. An empty filter
// returns everything.
func (s *Service) ListAccounts(ctx context.Context, filter string) ([]account.Account, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	cond, err := parseAccountFilter(filter)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeFilterInvalid, "invalid filter expression", err)
	}
	return s.listAccounts(ctx, func(ctx context.Context) ([]account.Account, error) {
		return s.store.ListAccounts(ctx, cond)
	})
}

func (s *Service) listAccounts(ctx context.Context, list func(context.Context) ([]account.Account, error)) ([]account.Account, error) {
	var accounts []account.Account
	err := storage.RetryOnce(ctx, func() error {
		var listErr error
		accounts, listErr = list(ctx)
		return listErr
	})
	if err != nil {
		return nil, err
	}
	return accounts, nil
}
