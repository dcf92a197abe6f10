package credentials

import (
	"errors"
	"testing"
)

func TestHashAndVerify(t *testing.T) {
	hasher := NewBcryptHasher()

	hash, err := hasher.Hash("correct horse battery staple")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if hash == "correct horse battery staple" {
		t.Fatal("expected hash to differ from plaintext")
	}

	if !hasher.Verify(hash, "correct horse battery staple") {
		t.Fatal("expected matching password to verify")
	}
	if hasher.Verify(hash, "wrong password") {
		t.Fatal("expected mismatched password to fail")
	}
}

func TestHashRejectsEmptyPassword(t *testing.T) {
	hasher := NewBcryptHasher()

	for _, password := range []string{"", "   "} {
		if _, err := hasher.Hash(password); !errors.Is(err, ErrEmptyPassword) {
			t.Fatalf("expected empty password error for %q, got %v", password, err)
		}
	}
}

func TestHashesAreSalted(t *testing.T) {
	hasher := NewBcryptHasher()

	first, err := hasher.Hash("secret")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	second, err := hasher.Hash("secret")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if first == second {
		t.Fatal("expected distinct salts to produce distinct hashes")
	}
	if !hasher.Verify(first, "secret") || !hasher.Verify(second, "secret") {
		t.Fatal("expected both hashes to verify")
	}
}

func TestVerifyRejectsGarbageHash(t *testing.T) {
	hasher := NewBcryptHasher()
	if hasher.Verify("not-a-bcrypt-hash", "secret") {
		t.Fatal("expected garbage hash to fail verification")
	}
}
