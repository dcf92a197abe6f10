// Package link models the tie between an account and one external-provider
// identity.
package link

import (
	"fmt"
	"strings"
	"time"

	apperrors "github.com/addline/identity/internal/platform/errors"
	"github.com/addline/identity/internal/platform/id"
)

var (
	// ErrInvalidProvider indicates an unrecognized provider value.
	ErrInvalidProvider = apperrors.New(apperrors.CodeProviderInvalid, "unknown identity provider")
	// ErrEmptyProviderAccountID indicates a missing provider-assigned account id.
	ErrEmptyProviderAccountID = apperrors.New(apperrors.CodeProviderAccountIDEmpty, "provider account id is required")
	// ErrInvalidStatus indicates an unrecognized link status value.
	ErrInvalidStatus = apperrors.New(apperrors.CodeLinkStatusInvalid, "unknown link status")
)

// Provider identifies an external identity assertion source.
type Provider string

const (
	ProviderGoogle   Provider = "GOOGLE"
	ProviderFacebook Provider = "FACEBOOK"
	ProviderGitHub   Provider = "GITHUB"
	ProviderKakao    Provider = "KAKAO"
	ProviderNaver    Provider = "NAVER"
	ProviderApple    Provider = "APPLE"
	ProviderTwitter  Provider = "TWITTER"
	ProviderDiscord  Provider = "DISCORD"
)

// ParseProvider converts a stored provider string back to a Provider.
func ParseProvider(value string) (Provider, error) {
	switch Provider(strings.ToUpper(strings.TrimSpace(value))) {
	case ProviderGoogle:
		return ProviderGoogle, nil
	case ProviderFacebook:
		return ProviderFacebook, nil
	case ProviderGitHub:
		return ProviderGitHub, nil
	case ProviderKakao:
		return ProviderKakao, nil
	case ProviderNaver:
		return ProviderNaver, nil
	case ProviderApple:
		return ProviderApple, nil
	case ProviderTwitter:
		return ProviderTwitter, nil
	case ProviderDiscord:
		return ProviderDiscord, nil
	}
	return "", ErrInvalidProvider
}

// Valid reports whether the provider is one of the known sources.
func (p Provider) Valid() bool {
	_, err := ParseProvider(string(p))
	return err == nil && Provider(strings.ToUpper(string(p))) == p
}

// Status is the state of one provider link.
type Status string

const (
	// StatusActive marks a usable link.
	StatusActive Status = "ACTIVE"
	// StatusInactive marks a dormant link that still identifies its owner.
	StatusInactive Status = "INACTIVE"
	// StatusRevoked marks an unlinked provider identity. The row is never
	// deleted so the provider pair keeps its uniqueness history.
	StatusRevoked Status = "REVOKED"
)

// ParseStatus converts a stored status string back to a Status.
func ParseStatus(value string) (Status, error) {
	switch Status(value) {
	case StatusActive, StatusInactive, StatusRevoked:
		return Status(value), nil
	}
	return "", ErrInvalidStatus
}

// TokenMaterial carries provider-issued token state cached on a link. The
// subsystem stores it opaque; it never mints or parses tokens.
type TokenMaterial struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
}

// LinkedIdentity ties an account to one external-provider identity.
//
// The provider-supplied email, name and picture are cached hints, not
// authoritative identity data.
type LinkedIdentity struct {
	ID                string
	AccountID         string
	Provider          Provider
	ProviderAccountID string
	ProviderEmail     string
	ProviderName      string
	ProviderPicture   string
	Tokens            TokenMaterial
	Status            Status
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// NewInput describes a link to be created.
type NewInput struct {
	AccountID         string
	Provider          Provider
	ProviderAccountID string
	ProviderEmail     string
	ProviderName      string
	ProviderPicture   string
	Tokens            TokenMaterial
}

// New validates input and builds an ACTIVE linked identity.
func New(input NewInput, now func() time.Time, idGenerator func() (string, error)) (LinkedIdentity, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	if strings.TrimSpace(input.AccountID) == "" {
		return LinkedIdentity{}, fmt.Errorf("account id is required")
	}
	if !input.Provider.Valid() {
		return LinkedIdentity{}, ErrInvalidProvider
	}
	if strings.TrimSpace(input.ProviderAccountID) == "" {
		return LinkedIdentity{}, ErrEmptyProviderAccountID
	}

	linkID, err := idGenerator()
	if err != nil {
		return LinkedIdentity{}, fmt.Errorf("generate link id: %w", err)
	}

	createdAt := now().UTC()
	return LinkedIdentity{
		ID:                linkID,
		AccountID:         strings.TrimSpace(input.AccountID),
		Provider:          input.Provider,
		ProviderAccountID: strings.TrimSpace(input.ProviderAccountID),
		ProviderEmail:     strings.TrimSpace(input.ProviderEmail),
		ProviderName:      strings.TrimSpace(input.ProviderName),
		ProviderPicture:   strings.TrimSpace(input.ProviderPicture),
		Tokens:            input.Tokens,
		Status:            StatusActive,
		CreatedAt:         createdAt,
		UpdatedAt:         createdAt,
	}, nil
}
