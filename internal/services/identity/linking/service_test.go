package linking

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	apperrors "github.com/addline/identity/internal/platform/errors"
	"github.com/addline/identity/internal/services/identity/account"
	"github.com/addline/identity/internal/services/identity/link"
	"github.com/addline/identity/internal/services/identity/storage"
	"github.com/addline/identity/internal/services/identity/storage/sqlite"
)

func openTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "identity.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})
	return store
}

func newTestService(t *testing.T, store identityStore) *Service {
	t.Helper()
	svc := NewService(store)
	svc.clock = func() time.Time {
		return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	}
	counter := 0
	svc.idGenerator = func() (string, error) {
		counter++
		return fmt.Sprintf("id-%02d", counter), nil
	}
	return svc
}

func googleAssertion() Assertion {
	return Assertion{
		Provider:          link.ProviderGoogle,
		ProviderAccountID: "g1",
		Email:             "a@x.com",
		Name:              "Alice",
		Picture:           "https://img.example/alice.png",
		Tokens:            link.TokenMaterial{AccessToken: "at-1", RefreshToken: "rt-1"},
	}
}

func TestResolveCreatesAccountProfileAndLink(t *testing.T) {
	store := openTestStore(t)
	svc := newTestService(t, store)

	acct, err := svc.ResolveSocialIdentity(context.Background(), googleAssertion())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if acct.PrimaryEmail != "a@x.com" {
		t.Fatalf("unexpected email: %q", acct.PrimaryEmail)
	}
	if !acct.EmailVerified {
		t.Fatal("expected social-created account to be verified")
	}
	if acct.Status != account.StatusActive {
		t.Fatalf("expected ACTIVE, got %s", acct.Status)
	}

	profile, err := store.GetProfile(context.Background(), acct.ID)
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	if profile.DisplayName != "Alice" || profile.FullName != "Alice" {
		t.Fatalf("expected seeded profile names, got %+v", profile)
	}
	if profile.ProfileImageURL != "https://img.example/alice.png" {
		t.Fatalf("expected seeded picture, got %q", profile.ProfileImageURL)
	}

	links, err := store.ListLinks(context.Background(), acct.ID)
	if err != nil {
		t.Fatalf("list links: %v", err)
	}
	if len(links) != 1 {
		t.Fatalf("expected 1 link, got %d", len(links))
	}
	if links[0].Status != link.StatusActive || links[0].ProviderAccountID != "g1" {
		t.Fatalf("unexpected link: %+v", links[0])
	}
	if links[0].Tokens.AccessToken != "at-1" || links[0].Tokens.RefreshToken != "rt-1" {
		t.Fatalf("expected cached token material, got %+v", links[0].Tokens)
	}
}

func TestResolveIsIdempotent(t *testing.T) {
	store := openTestStore(t)
	svc := newTestService(t, store)

	first, err := svc.ResolveSocialIdentity(context.Background(), googleAssertion())
	if err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	second, err := svc.ResolveSocialIdentity(context.Background(), googleAssertion())
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected same account, got %s and %s", first.ID, second.ID)
	}

	accounts, err := store.ListActiveAccounts(context.Background())
	if err != nil {
		t.Fatalf("list accounts: %v", err)
	}
	if len(accounts) != 1 {
		t.Fatalf("expected 1 account, got %d", len(accounts))
	}
	links, err := store.ListLinks(context.Background(), first.ID)
	if err != nil {
		t.Fatalf("list links: %v", err)
	}
	if len(links) != 1 {
		t.Fatalf("expected 1 link, got %d", len(links))
	}
}

func TestResolveAttachesToEmailOwnerWithoutVerifying(t *testing.T) {
	store := openTestStore(t)
	svc := newTestService(t, store)

	// Registration-created owner: unverified email.
	acct, err := account.New("a@x.com", false, svc.clock, svc.idGenerator)
	if err != nil {
		t.Fatalf("new account: %v", err)
	}
	profile, err := account.NewProfile(acct.ID, account.ProfileHints{}, svc.clock, svc.idGenerator)
	if err != nil {
		t.Fatalf("new profile: %v", err)
	}
	if err := store.CreateAccount(context.Background(), acct, profile); err != nil {
		t.Fatalf("create account: %v", err)
	}

	resolved, err := svc.ResolveSocialIdentity(context.Background(), googleAssertion())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.ID != acct.ID {
		t.Fatalf("expected attach to existing account %s, got %s", acct.ID, resolved.ID)
	}
	if resolved.EmailVerified {
		t.Fatal("attach must not flip the verified flag")
	}

	links, err := store.ListLinks(context.Background(), acct.ID)
	if err != nil {
		t.Fatalf("list links: %v", err)
	}
	if len(links) != 1 || links[0].Provider != link.ProviderGoogle {
		t.Fatalf("unexpected links: %+v", links)
	}
}

func TestResolveSkipsDeletedEmailOwner(t *testing.T) {
	store := openTestStore(t)
	svc := newTestService(t, store)

	acct, err := account.New("a@x.com", false, svc.clock, svc.idGenerator)
	if err != nil {
		t.Fatalf("new account: %v", err)
	}
	profile, err := account.NewProfile(acct.ID, account.ProfileHints{}, svc.clock, svc.idGenerator)
	if err != nil {
		t.Fatalf("new profile: %v", err)
	}
	if err := store.CreateAccount(context.Background(), acct, profile); err != nil {
		t.Fatalf("create account: %v", err)
	}
	acct.Status = account.StatusDeleted
	if err := store.UpdateAccount(context.Background(), acct); err != nil {
		t.Fatalf("soft delete: %v", err)
	}

	resolved, err := svc.ResolveSocialIdentity(context.Background(), googleAssertion())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.ID == acct.ID {
		t.Fatal("expected a fresh account, not the deleted email owner")
	}
}

func TestResolveReactivatesRevokedLink(t *testing.T) {
	store := openTestStore(t)
	svc := newTestService(t, store)

	acct, err := svc.ResolveSocialIdentity(context.Background(), googleAssertion())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if err := svc.Unlink(context.Background(), acct.ID, link.ProviderGoogle); err != nil {
		t.Fatalf("unlink: %v", err)
	}

	refreshed := googleAssertion()
	refreshed.Name = "Alice Renamed"
	refreshed.Tokens = link.TokenMaterial{AccessToken: "at-2", RefreshToken: "rt-2"}

	resolved, err := svc.ResolveSocialIdentity(context.Background(), refreshed)
	if err != nil {
		t.Fatalf("resolve after unlink: %v", err)
	}
	if resolved.ID != acct.ID {
		t.Fatalf("expected original owner %s, got %s", acct.ID, resolved.ID)
	}

	links, err := store.ListLinks(context.Background(), acct.ID)
	if err != nil {
		t.Fatalf("list links: %v", err)
	}
	if len(links) != 1 {
		t.Fatalf("expected the revoked row reactivated, got %d rows", len(links))
	}
	got := links[0]
	if got.Status != link.StatusActive {
		t.Fatalf("expected ACTIVE, got %s", got.Status)
	}
	if got.ProviderName != "Alice Renamed" {
		t.Fatalf("expected refreshed hint, got %q", got.ProviderName)
	}
	if got.Tokens.AccessToken != "at-2" || got.Tokens.RefreshToken != "rt-2" {
		t.Fatalf("expected refreshed tokens, got %+v", got.Tokens)
	}
}

func TestResolveValidation(t *testing.T) {
	svc := newTestService(t, openTestStore(t))

	cases := []struct {
		name     string
		mutate   func(*Assertion)
		expected error
	}{
		{"unknown provider", func(a *Assertion) { a.Provider = "MYSPACE" }, link.ErrInvalidProvider},
		{"empty provider account id", func(a *Assertion) { a.ProviderAccountID = "  " }, link.ErrEmptyProviderAccountID},
		{"empty email", func(a *Assertion) { a.Email = "" }, account.ErrEmptyEmail},
		{"malformed email", func(a *Assertion) { a.Email = "nope" }, account.ErrInvalidEmail},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assertion := googleAssertion()
			tc.mutate(&assertion)
			if _, err := svc.ResolveSocialIdentity(context.Background(), assertion); !errors.Is(err, tc.expected) {
				t.Fatalf("expected %v, got %v", tc.expected, err)
			}
		})
	}
}

func TestResolveAcceptsLowercaseProvider(t *testing.T) {
	svc := newTestService(t, openTestStore(t))

	assertion := googleAssertion()
	assertion.Provider = "google"
	acct, err := svc.ResolveSocialIdentity(context.Background(), assertion)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	links, err := svc.ListLinkedIdentities(context.Background(), acct.ID)
	if err != nil {
		t.Fatalf("list links: %v", err)
	}
	if len(links) != 1 || links[0].Provider != link.ProviderGoogle {
		t.Fatalf("expected canonical provider, got %+v", links)
	}
}

// racingStore simulates a concurrent worker winning the create race: the
// first atomic create commits the winner's rows through the inner store and
// then reports the loser's constraint violation.
type racingStore struct {
	*sqlite.Store
	winner    Assertion
	triggered bool
}

func (r *racingStore) CreateAccountWithLink(ctx context.Context, acct account.Account, profile account.Profile, identity link.LinkedIdentity) error {
	if r.triggered {
		return r.Store.CreateAccountWithLink(ctx, acct, profile, identity)
	}
	r.triggered = true

	winnerAcct := account.Account{
		ID:            "winner",
		PrimaryEmail:  r.winner.Email,
		EmailVerified: true,
		Status:        account.StatusActive,
		CreatedAt:     acct.CreatedAt,
		UpdatedAt:     acct.UpdatedAt,
	}
	winnerProfile := account.Profile{
		ID:        "winner-prof",
		AccountID: "winner",
		CreatedAt: acct.CreatedAt,
		UpdatedAt: acct.UpdatedAt,
	}
	winnerLink := link.LinkedIdentity{
		ID:                "winner-link",
		AccountID:         "winner",
		Provider:          r.winner.Provider,
		ProviderAccountID: r.winner.ProviderAccountID,
		Status:            link.StatusActive,
		CreatedAt:         acct.CreatedAt,
		UpdatedAt:         acct.UpdatedAt,
	}
	if err := r.Store.CreateAccountWithLink(ctx, winnerAcct, winnerProfile, winnerLink); err != nil {
		return err
	}
	return storage.ErrProviderLinkTaken
}

func TestResolveRetriesOnCreateRace(t *testing.T) {
	store := openTestStore(t)
	racing := &racingStore{Store: store, winner: googleAssertion()}
	svc := newTestService(t, racing)

	acct, err := svc.ResolveSocialIdentity(context.Background(), googleAssertion())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if acct.ID != "winner" {
		t.Fatalf("expected the race winner's account, got %s", acct.ID)
	}

	accounts, err := store.ListActiveAccounts(context.Background())
	if err != nil {
		t.Fatalf("list accounts: %v", err)
	}
	if len(accounts) != 1 {
		t.Fatalf("expected exactly 1 account, got %d", len(accounts))
	}
}

// conflictingStore always reports a constraint violation on create without
// ever committing a row the re-read could find.
type conflictingStore struct {
	*sqlite.Store
	calls int
}

func (c *conflictingStore) CreateAccountWithLink(ctx context.Context, acct account.Account, profile account.Profile, identity link.LinkedIdentity) error {
	c.calls++
	return storage.ErrProviderLinkTaken
}

func TestResolveSurfacesConflictAfterSingleRetry(t *testing.T) {
	conflicting := &conflictingStore{Store: openTestStore(t)}
	svc := newTestService(t, conflicting)

	_, err := svc.ResolveSocialIdentity(context.Background(), googleAssertion())
	if !errors.Is(err, ErrProviderLinkConflict) {
		t.Fatalf("expected provider link conflict, got %v", err)
	}
	if conflicting.calls != 2 {
		t.Fatalf("expected exactly 2 create attempts, got %d", conflicting.calls)
	}
}

// flakyStore fails the provider-pair lookup a fixed number of times before
// delegating to the inner store.
type flakyStore struct {
	*sqlite.Store
	failures int
	calls    int
}

func (f *flakyStore) GetLinkByProviderAccount(ctx context.Context, provider link.Provider, providerAccountID string) (link.LinkedIdentity, error) {
	f.calls++
	if f.calls <= f.failures {
		return link.LinkedIdentity{}, errors.New("connection reset")
	}
	return f.Store.GetLinkByProviderAccount(ctx, provider, providerAccountID)
}

func TestResolveRecoversFromTransientStorageFailure(t *testing.T) {
	flaky := &flakyStore{Store: openTestStore(t), failures: 1}
	svc := newTestService(t, flaky)

	acct, err := svc.ResolveSocialIdentity(context.Background(), googleAssertion())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if acct.PrimaryEmail != "a@x.com" {
		t.Fatalf("unexpected email: %q", acct.PrimaryEmail)
	}
	if flaky.calls != 2 {
		t.Fatalf("expected 2 lookup attempts, got %d", flaky.calls)
	}
}

func TestResolveSurfacesPersistentStorageFailure(t *testing.T) {
	flaky := &flakyStore{Store: openTestStore(t), failures: 100}
	svc := newTestService(t, flaky)

	_, err := svc.ResolveSocialIdentity(context.Background(), googleAssertion())
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) || appErr.Code != apperrors.CodeStorageUnavailable {
		t.Fatalf("expected storage unavailable, got %v", err)
	}
	if flaky.calls != 2 {
		t.Fatalf("expected 2 lookup attempts, got %d", flaky.calls)
	}
}

func TestResolveConcurrentDuplicateCallbacks(t *testing.T) {
	store := openTestStore(t)
	svc := NewService(store)

	const workers = 8
	ids := make([]string, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			acct, err := svc.ResolveSocialIdentity(context.Background(), googleAssertion())
			ids[i], errs[i] = acct.ID, err
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("worker %d: %v", i, errs[i])
		}
		if ids[i] != ids[0] {
			t.Fatalf("worker %d resolved %s, worker 0 resolved %s", i, ids[i], ids[0])
		}
	}

	accounts, err := store.ListActiveAccounts(context.Background())
	if err != nil {
		t.Fatalf("list accounts: %v", err)
	}
	if len(accounts) != 1 {
		t.Fatalf("expected exactly 1 account, got %d", len(accounts))
	}
	links, err := store.ListLinks(context.Background(), ids[0])
	if err != nil {
		t.Fatalf("list links: %v", err)
	}
	if len(links) != 1 || links[0].Status != link.StatusActive {
		t.Fatalf("expected exactly 1 active link, got %+v", links)
	}
}

func TestUnlink(t *testing.T) {
	store := openTestStore(t)
	svc := newTestService(t, store)

	acct, err := svc.ResolveSocialIdentity(context.Background(), googleAssertion())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	if err := svc.Unlink(context.Background(), acct.ID, link.ProviderGoogle); err != nil {
		t.Fatalf("unlink: %v", err)
	}

	links, err := store.ListLinks(context.Background(), acct.ID)
	if err != nil {
		t.Fatalf("list links: %v", err)
	}
	if len(links) != 1 || links[0].Status != link.StatusRevoked {
		t.Fatalf("expected revoked row retained, got %+v", links)
	}

	// A second unlink finds no live link.
	if err := svc.Unlink(context.Background(), acct.ID, link.ProviderGoogle); !errors.Is(err, ErrLinkNotFound) {
		t.Fatalf("expected link not found, got %v", err)
	}
}

func TestUnlinkNotFoundCases(t *testing.T) {
	store := openTestStore(t)
	svc := newTestService(t, store)

	if err := svc.Unlink(context.Background(), "missing", link.ProviderGoogle); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected account not found, got %v", err)
	}

	acct, err := svc.ResolveSocialIdentity(context.Background(), googleAssertion())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if err := svc.Unlink(context.Background(), acct.ID, link.ProviderKakao); !errors.Is(err, ErrLinkNotFound) {
		t.Fatalf("expected link not found, got %v", err)
	}
}

func TestListLinkedIdentitiesIncludesRevoked(t *testing.T) {
	store := openTestStore(t)
	svc := newTestService(t, store)

	acct, err := svc.ResolveSocialIdentity(context.Background(), googleAssertion())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	kakao := googleAssertion()
	kakao.Provider = link.ProviderKakao
	kakao.ProviderAccountID = "k1"
	if _, err := svc.ResolveSocialIdentity(context.Background(), kakao); err != nil {
		t.Fatalf("resolve kakao: %v", err)
	}
	if err := svc.Unlink(context.Background(), acct.ID, link.ProviderGoogle); err != nil {
		t.Fatalf("unlink: %v", err)
	}

	links, err := svc.ListLinkedIdentities(context.Background(), acct.ID)
	if err != nil {
		t.Fatalf("list links: %v", err)
	}
	if len(links) != 2 {
		t.Fatalf("expected 2 links, got %d", len(links))
	}
}
