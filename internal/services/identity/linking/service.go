// Package linking reconciles externally-asserted social identities with
// local accounts. Its single entry point is idempotent and safe to retry
// under concurrent duplicate callbacks.
package linking

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/addline/identity/internal/platform/errors"
	"github.com/addline/identity/internal/platform/id"
	"github.com/addline/identity/internal/services/identity/account"
	"github.com/addline/identity/internal/services/identity/link"
	"github.com/addline/identity/internal/services/identity/storage"
)

var (
	// ErrAccountNotFound indicates no account exists for the given id.
	ErrAccountNotFound = apperrors.New(apperrors.CodeNotFound, "account not found")
	// ErrLinkNotFound indicates the account holds no live link for the
	// provider.
	ErrLinkNotFound = apperrors.New(apperrors.CodeNotFound, "linked identity not found")
	// ErrProviderLinkConflict indicates the provider identity is attached to
	// another account and could not be reconciled.
	ErrProviderLinkConflict = apperrors.New(apperrors.CodeProviderLinkConflict, "provider identity already linked to another account")
	// ErrAccountIDRequired indicates a missing account id.
	ErrAccountIDRequired = apperrors.New(apperrors.CodeAccountIDEmpty, "account id is required")
)

// Assertion is a verified identity claim from an external provider. The
// upstream OAuth/OIDC exchange (out of scope here) has already validated it;
// this engine only reconciles it with local state.
type Assertion struct {
	Provider          link.Provider
	ProviderAccountID string
	Email             string
	Name              string
	Picture           string
	Tokens            link.TokenMaterial
}

type identityStore interface {
	storage.AccountStore
	storage.LinkStore
}

// Service is the identity linking engine.
type Service struct {
	store       identityStore
	clock       func() time.Time
	idGenerator func() (string, error)
	tracer      trace.Tracer
}

// NewService creates a linking service backed by identity storage.
func NewService(store identityStore) *Service {
	return &Service{
		store:       store,
		clock:       time.Now,
		idGenerator: id.NewID,
		tracer:      otel.Tracer("identity/linking"),
	}
}

func (s *Service) ready() error {
	if s == nil || s.store == nil {
		return apperrors.New(apperrors.CodeStorageUnavailable, "linking service is not configured")
	}
	return nil
}

func (s *Service) now() time.Time {
	if s.clock != nil {
		return s.clock().UTC()
	}
	return time.Now().UTC()
}

// ResolveSocialIdentity reconciles a provider assertion with local state and
// returns the owning account. In order it (1) returns the existing owner for
// a known provider pair, reactivating a REVOKED link in place, (2) attaches
// a new link to the non-deleted account owning the asserted email, or (3)
// creates a new account, profile and link in one atomic unit.
//
// A uniqueness violation during (2) or (3) means a concurrent caller won the
// same race; the engine re-reads from (1) exactly once instead of surfacing
// the conflict.
func (s *Service) ResolveSocialIdentity(ctx context.Context, assertion Assertion) (account.Account, error) {
	if err := s.ready(); err != nil {
		return account.Account{}, err
	}

	normalized, err := normalizeAssertion(assertion)
	if err != nil {
		return account.Account{}, err
	}

	ctx, span := s.tracer.Start(ctx, "linking.ResolveSocialIdentity",
		trace.WithAttributes(attribute.String("identity.provider", string(normalized.Provider))))
	defer span.End()

	acct, err := s.resolveOnce(ctx, normalized)
	if err == nil {
		return acct, nil
	}

	// Constraint violation is the concurrent-duplicate race: another worker
	// committed the same pair or email first. One re-read resolves it.
	if !errors.Is(err, storage.ErrProviderLinkTaken) && !errors.Is(err, storage.ErrEmailTaken) {
		return account.Account{}, err
	}
	span.AddEvent("uniqueness race, re-reading")

	acct, err = s.resolveOnce(ctx, normalized)
	if err != nil {
		if errors.Is(err, storage.ErrProviderLinkTaken) || errors.Is(err, storage.ErrEmailTaken) {
			return account.Account{}, ErrProviderLinkConflict
		}
		return account.Account{}, err
	}
	return acct, nil
}

func (s *Service) resolveOnce(ctx context.Context, assertion Assertion) (account.Account, error) {
	// Step 1: known provider pair. The common returning-user path performs
	// no writes; a REVOKED row is reactivated on its original owner.
	var existing link.LinkedIdentity
	err := storage.RetryOnce(ctx, func() error {
		var lookupErr error
		existing, lookupErr = s.store.GetLinkByProviderAccount(ctx, assertion.Provider, assertion.ProviderAccountID)
		return lookupErr
	})
	switch {
	case err == nil:
		if existing.Status == link.StatusRevoked {
			if err := s.reactivate(ctx, existing, assertion); err != nil {
				return account.Account{}, err
			}
		}
		var owner account.Account
		err := storage.RetryOnce(ctx, func() error {
			var readErr error
			owner, readErr = s.store.GetAccount(ctx, existing.AccountID)
			return readErr
		})
		if err != nil {
			return account.Account{}, err
		}
		return owner, nil
	case !errors.Is(err, storage.ErrNotFound):
		return account.Account{}, err
	}

	// Step 2: existing account under the asserted email, non-deleted
	// scope. Attaching a provider never flips the verified flag; only a
	// social-first creation trusts the assertion for verification.
	var owner account.Account
	err = storage.RetryOnce(ctx, func() error {
		var readErr error
		owner, readErr = s.store.GetAccountByEmail(ctx, assertion.Email)
		return readErr
	})
	switch {
	case err == nil:
		identity, err := s.newLink(owner.ID, assertion)
		if err != nil {
			return account.Account{}, err
		}
		if err := storage.RetryOnce(ctx, func() error {
			return s.store.CreateLink(ctx, identity)
		}); err != nil {
			return account.Account{}, err
		}
		return owner, nil
	case !errors.Is(err, storage.ErrNotFound):
		return account.Account{}, err
	}

	// Step 3: first-ever sighting. Create account (pre-verified by the
	// social assertion), seeded profile, and link atomically.
	acct, err := account.New(assertion.Email, true, s.clock, s.idGenerator)
	if err != nil {
		return account.Account{}, err
	}
	profile, err := account.NewProfile(acct.ID, account.ProfileHints{
		DisplayName: assertion.Name,
		PictureURL:  assertion.Picture,
	}, s.clock, s.idGenerator)
	if err != nil {
		return account.Account{}, err
	}
	identity, err := s.newLink(acct.ID, assertion)
	if err != nil {
		return account.Account{}, err
	}
	if err := storage.RetryOnce(ctx, func() error {
		return s.store.CreateAccountWithLink(ctx, acct, profile, identity)
	}); err != nil {
		return account.Account{}, err
	}
	return acct, nil
}

func (s *Service) newLink(accountID string, assertion Assertion) (link.LinkedIdentity, error) {
	return link.New(link.NewInput{
		AccountID:         accountID,
		Provider:          assertion.Provider,
		ProviderAccountID: assertion.ProviderAccountID,
		ProviderEmail:     assertion.Email,
		ProviderName:      assertion.Name,
		ProviderPicture:   assertion.Picture,
		Tokens:            assertion.Tokens,
	}, s.clock, s.idGenerator)
}

// reactivate flips a REVOKED link back to ACTIVE on its original owner and
// refreshes the cached provider hints and token material.
func (s *Service) reactivate(ctx context.Context, identity link.LinkedIdentity, assertion Assertion) error {
	identity.Status = link.StatusActive
	identity.ProviderEmail = assertion.Email
	identity.ProviderName = assertion.Name
	identity.ProviderPicture = assertion.Picture
	identity.Tokens = assertion.Tokens
	identity.UpdatedAt = s.now()
	return storage.RetryOnce(ctx, func() error {
		return s.store.UpdateLink(ctx, identity)
	})
}

// Unlink revokes the account's live link for provider. The row is kept so
// provider-pair uniqueness history and the audit trail survive.
func (s *Service) Unlink(ctx context.Context, accountID string, provider link.Provider) error {
	if err := s.ready(); err != nil {
		return err
	}
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return ErrAccountIDRequired
	}
	normalizedProvider, err := link.ParseProvider(string(provider))
	if err != nil {
		return err
	}

	if err := storage.RetryOnce(ctx, func() error {
		_, readErr := s.store.GetAccount(ctx, accountID)
		return readErr
	}); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrAccountNotFound
		}
		return err
	}

	var identity link.LinkedIdentity
	err = storage.RetryOnce(ctx, func() error {
		var readErr error
		identity, readErr = s.store.GetLinkByAccountProvider(ctx, accountID, normalizedProvider)
		return readErr
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrLinkNotFound
		}
		return err
	}

	identity.Status = link.StatusRevoked
	identity.UpdatedAt = s.now()
	return storage.RetryOnce(ctx, func() error {
		return s.store.UpdateLink(ctx, identity)
	})
}

// ListLinkedIdentities returns every link for the account, REVOKED rows
// included. Callers shape the visible subset.
func (s *Service) ListLinkedIdentities(ctx context.Context, accountID string) ([]link.LinkedIdentity, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, ErrAccountIDRequired
	}
	var identities []link.LinkedIdentity
	err := storage.RetryOnce(ctx, func() error {
		var listErr error
		identities, listErr = s.store.ListLinks(ctx, accountID)
		return listErr
	})
	if err != nil {
		return nil, err
	}
	return identities, nil
}

func normalizeAssertion(assertion Assertion) (Assertion, error) {
	provider, err := link.ParseProvider(string(assertion.Provider))
	if err != nil {
		return Assertion{}, err
	}
	assertion.Provider = provider
	assertion.ProviderAccountID = strings.TrimSpace(assertion.ProviderAccountID)
	if assertion.ProviderAccountID == "" {
		return Assertion{}, link.ErrEmptyProviderAccountID
	}
	assertion.Email = account.NormalizeEmail(assertion.Email)
	if err := account.ValidateEmail(assertion.Email); err != nil {
		return Assertion{}, err
	}
	assertion.Name = strings.TrimSpace(assertion.Name)
	assertion.Picture = strings.TrimSpace(assertion.Picture)
	return assertion, nil
}
