// Package storage defines the persistence contracts for the identity
// subsystem. Implementations must back the uniqueness invariants with
// storage-level unique constraints; application-side check-then-insert is
// never the authoritative guard.
package storage

import (
	"context"

	apperrors "github.com/addline/identity/internal/platform/errors"
	"github.com/addline/identity/internal/services/identity/account"
	"github.com/addline/identity/internal/services/identity/link"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = apperrors.New(apperrors.CodeNotFound, "record not found")

// ErrEmailTaken indicates the primary email is already used by a non-deleted
// account.
var ErrEmailTaken = apperrors.New(apperrors.CodeEmailConflict, "primary email already in use")

// ErrProviderLinkTaken indicates the (provider, provider account id) pair is
// already linked, or the account already holds a live link for the provider.
var ErrProviderLinkTaken = apperrors.New(apperrors.CodeProviderLinkConflict, "provider identity already linked")

// Condition is a storage filter fragment produced by the query layer's
// filter translator. An empty Clause matches everything.
type Condition struct {
	Clause string
	Params []any
}

// AccountStore persists account records.
type AccountStore interface {
	// CreateAccount writes an account and its profile in one atomic unit.
	CreateAccount(ctx context.Context, acct account.Account, profile account.Profile) error
	GetAccount(ctx context.Context, accountID string) (account.Account, error)
	// GetAccountByEmail looks up the non-deleted account owning email.
	GetAccountByEmail(ctx context.Context, email string) (account.Account, error)
	UpdateAccount(ctx context.Context, acct account.Account) error
	// DeleteAccount permanently removes the account, its profile and all of
	// its linked identities, in dependency order, atomically.
	DeleteAccount(ctx context.Context, accountID string) error
	ListActiveAccounts(ctx context.Context) ([]account.Account, error)
	ListActiveVerifiedAccounts(ctx context.Context) ([]account.Account, error)
	SearchAccountsByEmail(ctx context.Context, keyword string) ([]account.Account, error)
	ListAccounts(ctx context.Context, cond Condition) ([]account.Account, error)
}

// ProfileStore persists profile records.
type ProfileStore interface {
	GetProfile(ctx context.Context, accountID string) (account.Profile, error)
	PutProfile(ctx context.Context, profile account.Profile) error
}

// LinkStore persists linked external identities.
type LinkStore interface {
	// CreateAccountWithLink writes a brand-new account, its profile and its
	// first linked identity in one atomic unit.
	CreateAccountWithLink(ctx context.Context, acct account.Account, profile account.Profile, identity link.LinkedIdentity) error
	CreateLink(ctx context.Context, identity link.LinkedIdentity) error
	GetLinkByProviderAccount(ctx context.Context, provider link.Provider, providerAccountID string) (link.LinkedIdentity, error)
	GetLinkByAccountProvider(ctx context.Context, accountID string, provider link.Provider) (link.LinkedIdentity, error)
	ListLinks(ctx context.Context, accountID string) ([]link.LinkedIdentity, error)
	UpdateLink(ctx context.Context, identity link.LinkedIdentity) error
	// GetAccountByProviderAccount resolves the owning account through the
	// linked identity join.
	GetAccountByProviderAccount(ctx context.Context, provider link.Provider, providerAccountID string) (account.Account, error)
}

// Store aggregates every persistence contract the subsystem consumes.
type Store interface {
	AccountStore
	ProfileStore
	LinkStore
}
