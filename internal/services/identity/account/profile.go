package account

import (
	"fmt"
	"strings"
	"time"

	"github.com/addline/identity/internal/platform/id"
)

// Gender is an optional self-reported profile attribute.
type Gender string

const (
	// GenderUnspecified is the default when no value was provided.
	GenderUnspecified Gender = ""
	// GenderMale is a self-reported gender value.
	GenderMale Gender = "MALE"
	// GenderFemale is a self-reported gender value.
	GenderFemale Gender = "FEMALE"
	// GenderOther is a self-reported gender value.
	GenderOther Gender = "OTHER"
)

// Profile captures display and contact metadata for one account. Every
// account owns at most one profile, created in the same transaction as the
// account itself.
type Profile struct {
	ID              string
	AccountID       string
	DisplayName     string
	FullName        string
	BirthDate       *time.Time
	Gender          Gender
	PhoneNumber     string
	Address         string
	ProfileImageURL string
	Bio             string
	WebsiteURL      string
	Location        string
	DeletedAt       *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ProfileHints carries provider-supplied values used to pre-populate a
// profile on first social login. Empty fields are left blank for the owner
// to fill in later.
type ProfileHints struct {
	DisplayName string
	PictureURL  string
}

// NewProfile builds an empty profile owned by accountID, seeded from any
// provider hints.
func NewProfile(accountID string, hints ProfileHints, now func() time.Time, idGenerator func() (string, error)) (Profile, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return Profile{}, fmt.Errorf("account id is required")
	}

	profileID, err := idGenerator()
	if err != nil {
		return Profile{}, fmt.Errorf("generate profile id: %w", err)
	}

	createdAt := now().UTC()
	profile := Profile{
		ID:        profileID,
		AccountID: accountID,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
	if name := strings.TrimSpace(hints.DisplayName); name != "" {
		profile.DisplayName = name
		profile.FullName = name
	}
	if picture := strings.TrimSpace(hints.PictureURL); picture != "" {
		profile.ProfileImageURL = picture
	}
	return profile, nil
}
