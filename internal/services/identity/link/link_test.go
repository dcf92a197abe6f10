package link

import (
	"errors"
	"testing"
	"time"
)

func fixedClock() time.Time {
	return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
}

func staticID(value string) func() (string, error) {
	return func() (string, error) { return value, nil }
}

func TestParseProvider(t *testing.T) {
	known := []string{"GOOGLE", "FACEBOOK", "GITHUB", "KAKAO", "NAVER", "APPLE", "TWITTER", "DISCORD"}
	for _, value := range known {
		provider, err := ParseProvider(value)
		if err != nil {
			t.Fatalf("parse %s: %v", value, err)
		}
		if string(provider) != value {
			t.Fatalf("expected %s, got %s", value, provider)
		}
	}

	// Mixed case and padding normalize to the canonical form.
	provider, err := ParseProvider(" google ")
	if err != nil {
		t.Fatalf("parse lowercase: %v", err)
	}
	if provider != ProviderGoogle {
		t.Fatalf("expected GOOGLE, got %s", provider)
	}

	if _, err := ParseProvider("myspace"); !errors.Is(err, ErrInvalidProvider) {
		t.Fatalf("expected invalid provider error, got %v", err)
	}
}

func TestProviderValidRequiresCanonicalForm(t *testing.T) {
	if !ProviderGoogle.Valid() {
		t.Fatal("expected GOOGLE to be valid")
	}
	if Provider("google").Valid() {
		t.Fatal("expected lowercase provider to be invalid as stored form")
	}
}

func TestParseStatus(t *testing.T) {
	for _, value := range []string{"ACTIVE", "INACTIVE", "REVOKED"} {
		status, err := ParseStatus(value)
		if err != nil {
			t.Fatalf("parse %s: %v", value, err)
		}
		if string(status) != value {
			t.Fatalf("expected %s, got %s", value, status)
		}
	}
	if _, err := ParseStatus("DELETED"); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected invalid status error, got %v", err)
	}
}

func TestNewBuildsActiveLink(t *testing.T) {
	expiry := fixedClock().Add(time.Hour)
	built, err := New(NewInput{
		AccountID:         "acct-1",
		Provider:          ProviderGoogle,
		ProviderAccountID: " g1 ",
		ProviderEmail:     "a@x.com",
		ProviderName:      "Alice",
		Tokens:            TokenMaterial{AccessToken: "at", RefreshToken: "rt", ExpiresAt: &expiry},
	}, fixedClock, staticID("link-1"))
	if err != nil {
		t.Fatalf("new link: %v", err)
	}
	if built.Status != StatusActive {
		t.Fatalf("expected ACTIVE, got %s", built.Status)
	}
	if built.ProviderAccountID != "g1" {
		t.Fatalf("expected trimmed provider account id, got %q", built.ProviderAccountID)
	}
	if built.Tokens.AccessToken != "at" || built.Tokens.ExpiresAt == nil {
		t.Fatalf("unexpected token material: %+v", built.Tokens)
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(NewInput{Provider: ProviderGoogle, ProviderAccountID: "g1"}, fixedClock, staticID("x")); err == nil {
		t.Fatal("expected error for missing account id")
	}
	if _, err := New(NewInput{AccountID: "acct-1", Provider: "MYSPACE", ProviderAccountID: "g1"}, fixedClock, staticID("x")); !errors.Is(err, ErrInvalidProvider) {
		t.Fatalf("expected invalid provider error, got %v", err)
	}
	if _, err := New(NewInput{AccountID: "acct-1", Provider: ProviderGoogle, ProviderAccountID: "  "}, fixedClock, staticID("x")); !errors.Is(err, ErrEmptyProviderAccountID) {
		t.Fatalf("expected empty provider account id error, got %v", err)
	}
}
