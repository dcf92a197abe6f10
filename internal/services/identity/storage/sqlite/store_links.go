package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/addline/identity/internal/services/identity/account"
	"github.com/addline/identity/internal/services/identity/link"
	"github.com/addline/identity/internal/services/identity/storage"
)

const linkColumns = `id, account_id, provider, provider_account_id, provider_email,
provider_name, provider_picture, access_token, refresh_token, token_expires_at,
status, created_at, updated_at`

func scanLink(row rowScanner) (link.LinkedIdentity, error) {
	var identity link.LinkedIdentity
	var provider, status string
	var tokenExpiresAt sql.NullInt64
	var createdAt, updatedAt int64
	if err := row.Scan(
		&identity.ID,
		&identity.AccountID,
		&provider,
		&identity.ProviderAccountID,
		&identity.ProviderEmail,
		&identity.ProviderName,
		&identity.ProviderPicture,
		&identity.Tokens.AccessToken,
		&identity.Tokens.RefreshToken,
		&tokenExpiresAt,
		&status,
		&createdAt,
		&updatedAt,
	); err != nil {
		return link.LinkedIdentity{}, err
	}
	parsedProvider, err := link.ParseProvider(provider)
	if err != nil {
		return link.LinkedIdentity{}, fmt.Errorf("stored link %s: %w", identity.ID, err)
	}
	parsedStatus, err := link.ParseStatus(status)
	if err != nil {
		return link.LinkedIdentity{}, fmt.Errorf("stored link %s: %w", identity.ID, err)
	}
	identity.Provider = parsedProvider
	identity.Status = parsedStatus
	identity.Tokens.ExpiresAt = millisPtr(tokenExpiresAt)
	identity.CreatedAt = fromMillis(createdAt)
	identity.UpdatedAt = fromMillis(updatedAt)
	return identity, nil
}

func insertLink(ctx context.Context, target execContexter, identity link.LinkedIdentity) error {
	_, err := target.ExecContext(ctx, `
INSERT INTO linked_identities (
	id, account_id, provider, provider_account_id, provider_email,
	provider_name, provider_picture, access_token, refresh_token,
	token_expires_at, status, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		identity.ID,
		identity.AccountID,
		string(identity.Provider),
		identity.ProviderAccountID,
		identity.ProviderEmail,
		identity.ProviderName,
		identity.ProviderPicture,
		identity.Tokens.AccessToken,
		identity.Tokens.RefreshToken,
		nullableMillis(identity.Tokens.ExpiresAt),
		string(identity.Status),
		toMillis(identity.CreatedAt),
		toMillis(identity.UpdatedAt),
	)
	return classifyConstraintError(err)
}

func validateLink(identity link.LinkedIdentity) error {
	if strings.TrimSpace(identity.ID) == "" {
		return fmt.Errorf("link id is required")
	}
	if strings.TrimSpace(identity.AccountID) == "" {
		return fmt.Errorf("account id is required")
	}
	if !identity.Provider.Valid() {
		return link.ErrInvalidProvider
	}
	if strings.TrimSpace(identity.ProviderAccountID) == "" {
		return link.ErrEmptyProviderAccountID
	}
	return nil
}

// CreateAccountWithLink writes a brand-new account, its profile and its first
// linked identity in one transaction. Constraint violations on either unique
// index roll back the whole unit and surface as the matching sentinel.
func (s *Store) CreateAccountWithLink(ctx context.Context, acct account.Account, profile account.Profile, identity link.LinkedIdentity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ensureDB(); err != nil {
		return err
	}
	if strings.TrimSpace(acct.ID) == "" {
		return fmt.Errorf("account id is required")
	}
	if profile.AccountID != acct.ID || identity.AccountID != acct.ID {
		return fmt.Errorf("account id mismatch across entities")
	}
	if err := validateLink(identity); err != nil {
		return err
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("start transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := insertAccount(ctx, tx, acct); err != nil {
		if errors.Is(err, storage.ErrEmailTaken) {
			return err
		}
		return fmt.Errorf("insert account: %w", err)
	}
	if err := insertProfile(ctx, tx, profile); err != nil {
		return fmt.Errorf("insert profile: %w", err)
	}
	if err := insertLink(ctx, tx, identity); err != nil {
		if errors.Is(err, storage.ErrProviderLinkTaken) {
			return err
		}
		return fmt.Errorf("insert link: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return classifyConstraintError(err)
	}
	return nil
}

// CreateLink attaches a linked identity to an existing account.
func (s *Store) CreateLink(ctx context.Context, identity link.LinkedIdentity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ensureDB(); err != nil {
		return err
	}
	if err := validateLink(identity); err != nil {
		return err
	}

	if err := insertLink(ctx, s.sqlDB, identity); err != nil {
		if errors.Is(err, storage.ErrProviderLinkTaken) {
			return err
		}
		return fmt.Errorf("insert link: %w", err)
	}
	return nil
}

// GetLinkByProviderAccount fetches a link by its globally unique provider pair.
func (s *Store) GetLinkByProviderAccount(ctx context.Context, provider link.Provider, providerAccountID string) (link.LinkedIdentity, error) {
	if err := ctx.Err(); err != nil {
		return link.LinkedIdentity{}, err
	}
	if err := s.ensureDB(); err != nil {
		return link.LinkedIdentity{}, err
	}
	if !provider.Valid() {
		return link.LinkedIdentity{}, link.ErrInvalidProvider
	}
	if strings.TrimSpace(providerAccountID) == "" {
		return link.LinkedIdentity{}, link.ErrEmptyProviderAccountID
	}

	row := s.sqlDB.QueryRowContext(ctx,
		"SELECT "+linkColumns+" FROM linked_identities WHERE provider = ? AND provider_account_id = ?",
		string(provider), providerAccountID)
	identity, err := scanLink(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return link.LinkedIdentity{}, storage.ErrNotFound
		}
		return link.LinkedIdentity{}, fmt.Errorf("get link by provider account: %w", err)
	}
	return identity, nil
}

// GetLinkByAccountProvider fetches an account's live link for one provider.
// REVOKED rows are history and are not returned here.
func (s *Store) GetLinkByAccountProvider(ctx context.Context, accountID string, provider link.Provider) (link.LinkedIdentity, error) {
	if err := ctx.Err(); err != nil {
		return link.LinkedIdentity{}, err
	}
	if err := s.ensureDB(); err != nil {
		return link.LinkedIdentity{}, err
	}
	if strings.TrimSpace(accountID) == "" {
		return link.LinkedIdentity{}, fmt.Errorf("account id is required")
	}
	if !provider.Valid() {
		return link.LinkedIdentity{}, link.ErrInvalidProvider
	}

	row := s.sqlDB.QueryRowContext(ctx,
		"SELECT "+linkColumns+" FROM linked_identities WHERE account_id = ? AND provider = ? AND status != ?",
		accountID, string(provider), string(link.StatusRevoked))
	identity, err := scanLink(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return link.LinkedIdentity{}, storage.ErrNotFound
		}
		return link.LinkedIdentity{}, fmt.Errorf("get link by account provider: %w", err)
	}
	return identity, nil
}

// ListLinks returns every linked identity for the account, REVOKED included,
// oldest first.
func (s *Store) ListLinks(ctx context.Context, accountID string) ([]link.LinkedIdentity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.ensureDB(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(accountID) == "" {
		return nil, fmt.Errorf("account id is required")
	}

	rows, err := s.sqlDB.QueryContext(ctx,
		"SELECT "+linkColumns+" FROM linked_identities WHERE account_id = ? ORDER BY created_at, id",
		accountID)
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	links := []link.LinkedIdentity{}
	for rows.Next() {
		identity, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		links = append(links, identity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	return links, nil
}

// UpdateLink rewrites the mutable link columns (cached provider hints, token
// material and status).
func (s *Store) UpdateLink(ctx context.Context, identity link.LinkedIdentity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ensureDB(); err != nil {
		return err
	}
	if strings.TrimSpace(identity.ID) == "" {
		return fmt.Errorf("link id is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE linked_identities
SET provider_email = ?, provider_name = ?, provider_picture = ?,
	access_token = ?, refresh_token = ?, token_expires_at = ?,
	status = ?, updated_at = ?
WHERE id = ?`,
		identity.ProviderEmail,
		identity.ProviderName,
		identity.ProviderPicture,
		identity.Tokens.AccessToken,
		identity.Tokens.RefreshToken,
		nullableMillis(identity.Tokens.ExpiresAt),
		string(identity.Status),
		toMillis(identity.UpdatedAt),
		identity.ID,
	)
	if err != nil {
		if classified := classifyConstraintError(err); classified != err {
			return classified
		}
		return fmt.Errorf("update link: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update link rows: %w", err)
	}
	if rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetAccountByProviderAccount resolves the owning account through the link
// join, regardless of link status.
func (s *Store) GetAccountByProviderAccount(ctx context.Context, provider link.Provider, providerAccountID string) (account.Account, error) {
	if err := ctx.Err(); err != nil {
		return account.Account{}, err
	}
	if err := s.ensureDB(); err != nil {
		return account.Account{}, err
	}
	if !provider.Valid() {
		return account.Account{}, link.ErrInvalidProvider
	}
	if strings.TrimSpace(providerAccountID) == "" {
		return account.Account{}, link.ErrEmptyProviderAccountID
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT a.id, a.primary_email, a.email_verified, a.status, a.created_at, a.updated_at
FROM accounts a
JOIN linked_identities l ON l.account_id = a.id
WHERE l.provider = ? AND l.provider_account_id = ?`,
		string(provider), providerAccountID)
	acct, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return account.Account{}, storage.ErrNotFound
		}
		return account.Account{}, fmt.Errorf("get account by provider account: %w", err)
	}
	return acct, nil
}
