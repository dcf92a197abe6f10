package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/addline/identity/internal/services/identity/account"
	"github.com/addline/identity/internal/services/identity/storage"
)

const profileColumns = `id, account_id, display_name, full_name, birth_date, gender,
phone_number, address, profile_image_url, bio, website_url, location,
deleted_at, created_at, updated_at`

func scanProfile(row rowScanner) (account.Profile, error) {
	var profile account.Profile
	var gender string
	var birthDate, deletedAt sql.NullInt64
	var createdAt, updatedAt int64
	if err := row.Scan(
		&profile.ID,
		&profile.AccountID,
		&profile.DisplayName,
		&profile.FullName,
		&birthDate,
		&gender,
		&profile.PhoneNumber,
		&profile.Address,
		&profile.ProfileImageURL,
		&profile.Bio,
		&profile.WebsiteURL,
		&profile.Location,
		&deletedAt,
		&createdAt,
		&updatedAt,
	); err != nil {
		return account.Profile{}, err
	}
	profile.BirthDate = millisPtr(birthDate)
	profile.Gender = account.Gender(gender)
	profile.DeletedAt = millisPtr(deletedAt)
	profile.CreatedAt = fromMillis(createdAt)
	profile.UpdatedAt = fromMillis(updatedAt)
	return profile, nil
}

func insertProfile(ctx context.Context, target execContexter, profile account.Profile) error {
	_, err := target.ExecContext(ctx, `
INSERT INTO profiles (
	id, account_id, display_name, full_name, birth_date, gender,
	phone_number, address, profile_image_url, bio, website_url, location,
	deleted_at, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		profile.ID,
		profile.AccountID,
		profile.DisplayName,
		profile.FullName,
		nullableMillis(profile.BirthDate),
		string(profile.Gender),
		profile.PhoneNumber,
		profile.Address,
		profile.ProfileImageURL,
		profile.Bio,
		profile.WebsiteURL,
		profile.Location,
		nullableMillis(profile.DeletedAt),
		toMillis(profile.CreatedAt),
		toMillis(profile.UpdatedAt),
	)
	return err
}

// GetProfile fetches the profile owned by accountID.
func (s *Store) GetProfile(ctx context.Context, accountID string) (account.Profile, error) {
	if err := ctx.Err(); err != nil {
		return account.Profile{}, err
	}
	if err := s.ensureDB(); err != nil {
		return account.Profile{}, err
	}
	if strings.TrimSpace(accountID) == "" {
		return account.Profile{}, fmt.Errorf("account id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx,
		"SELECT "+profileColumns+" FROM profiles WHERE account_id = ?", accountID)
	profile, err := scanProfile(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return account.Profile{}, storage.ErrNotFound
		}
		return account.Profile{}, fmt.Errorf("get profile: %w", err)
	}
	return profile, nil
}

// PutProfile upserts a profile record keyed by its owning account.
func (s *Store) PutProfile(ctx context.Context, profile account.Profile) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ensureDB(); err != nil {
		return err
	}
	if strings.TrimSpace(profile.ID) == "" {
		return fmt.Errorf("profile id is required")
	}
	if strings.TrimSpace(profile.AccountID) == "" {
		return fmt.Errorf("account id is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO profiles (
	id, account_id, display_name, full_name, birth_date, gender,
	phone_number, address, profile_image_url, bio, website_url, location,
	deleted_at, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(account_id) DO UPDATE SET
	display_name = excluded.display_name,
	full_name = excluded.full_name,
	birth_date = excluded.birth_date,
	gender = excluded.gender,
	phone_number = excluded.phone_number,
	address = excluded.address,
	profile_image_url = excluded.profile_image_url,
	bio = excluded.bio,
	website_url = excluded.website_url,
	location = excluded.location,
	deleted_at = excluded.deleted_at,
	updated_at = excluded.updated_at`,
		profile.ID,
		profile.AccountID,
		profile.DisplayName,
		profile.FullName,
		nullableMillis(profile.BirthDate),
		string(profile.Gender),
		profile.PhoneNumber,
		profile.Address,
		profile.ProfileImageURL,
		profile.Bio,
		profile.WebsiteURL,
		profile.Location,
		nullableMillis(profile.DeletedAt),
		toMillis(profile.CreatedAt),
		toMillis(profile.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put profile: %w", err)
	}
	return nil
}
