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

const accountColumns = "id, primary_email, email_verified, status, created_at, updated_at"

type execContexter interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (account.Account, error) {
	var acct account.Account
	var emailVerified int64
	var status string
	var createdAt, updatedAt int64
	if err := row.Scan(&acct.ID, &acct.PrimaryEmail, &emailVerified, &status, &createdAt, &updatedAt); err != nil {
		return account.Account{}, err
	}
	parsed, err := account.ParseStatus(status)
	if err != nil {
		return account.Account{}, fmt.Errorf("stored account %s: %w", acct.ID, err)
	}
	acct.EmailVerified = emailVerified != 0
	acct.Status = parsed
	acct.CreatedAt = fromMillis(createdAt)
	acct.UpdatedAt = fromMillis(updatedAt)
	return acct, nil
}

func boolToInt(value bool) int64 {
	if value {
		return 1
	}
	return 0
}

func insertAccount(ctx context.Context, target execContexter, acct account.Account) error {
	_, err := target.ExecContext(ctx, `
INSERT INTO accounts (id, primary_email, email_verified, status, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)`,
		acct.ID,
		acct.PrimaryEmail,
		boolToInt(acct.EmailVerified),
		string(acct.Status),
		toMillis(acct.CreatedAt),
		toMillis(acct.UpdatedAt),
	)
	return classifyConstraintError(err)
}

// CreateAccount writes an account and its profile in one transaction. A
// uniqueness violation on the live-email index surfaces as
// storage.ErrEmailTaken with no partial rows.
func (s *Store) CreateAccount(ctx context.Context, acct account.Account, profile account.Profile) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ensureDB(); err != nil {
		return err
	}
	if strings.TrimSpace(acct.ID) == "" {
		return fmt.Errorf("account id is required")
	}
	if profile.AccountID != acct.ID {
		return fmt.Errorf("profile account id mismatch")
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

	if err := tx.Commit(); err != nil {
		return classifyConstraintError(err)
	}
	return nil
}

// GetAccount fetches an account by its id.
func (s *Store) GetAccount(ctx context.Context, accountID string) (account.Account, error) {
	if err := ctx.Err(); err != nil {
		return account.Account{}, err
	}
	if err := s.ensureDB(); err != nil {
		return account.Account{}, err
	}
	if strings.TrimSpace(accountID) == "" {
		return account.Account{}, fmt.Errorf("account id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE id = ?", accountID)
	acct, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return account.Account{}, storage.ErrNotFound
		}
		return account.Account{}, fmt.Errorf("get account: %w", err)
	}
	return acct, nil
}

// GetAccountByEmail fetches the non-deleted account owning email. Deleted
// rows may share the address; they are never returned here.
func (s *Store) GetAccountByEmail(ctx context.Context, email string) (account.Account, error) {
	if err := ctx.Err(); err != nil {
		return account.Account{}, err
	}
	if err := s.ensureDB(); err != nil {
		return account.Account{}, err
	}

	normalized := account.NormalizeEmail(email)
	if normalized == "" {
		return account.Account{}, fmt.Errorf("email is required")
	}

	row := s.sqlDB.QueryRowContext(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE primary_email = ? AND status != ?",
		normalized, string(account.StatusDeleted))
	acct, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return account.Account{}, storage.ErrNotFound
		}
		return account.Account{}, fmt.Errorf("get account by email: %w", err)
	}
	return acct, nil
}

// UpdateAccount rewrites the mutable account columns. Email and status
// changes remain subject to the live-email unique index.
func (s *Store) UpdateAccount(ctx context.Context, acct account.Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ensureDB(); err != nil {
		return err
	}
	if strings.TrimSpace(acct.ID) == "" {
		return fmt.Errorf("account id is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE accounts
SET primary_email = ?, email_verified = ?, status = ?, updated_at = ?
WHERE id = ?`,
		acct.PrimaryEmail,
		boolToInt(acct.EmailVerified),
		string(acct.Status),
		toMillis(acct.UpdatedAt),
		acct.ID,
	)
	if err != nil {
		if classified := classifyConstraintError(err); classified != err {
			return classified
		}
		return fmt.Errorf("update account: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update account rows: %w", err)
	}
	if rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeleteAccount permanently removes the account graph in dependency order:
// linked identities, then profile, then the account row.
func (s *Store) DeleteAccount(ctx context.Context, accountID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ensureDB(); err != nil {
		return err
	}
	if strings.TrimSpace(accountID) == "" {
		return fmt.Errorf("account id is required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("start transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, "DELETE FROM linked_identities WHERE account_id = ?", accountID); err != nil {
		return fmt.Errorf("delete linked identities: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM profiles WHERE account_id = ?", accountID); err != nil {
		return fmt.Errorf("delete profile: %w", err)
	}
	result, err := tx.ExecContext(ctx, "DELETE FROM accounts WHERE id = ?", accountID)
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete account rows: %w", err)
	}
	if rows == 0 {
		return storage.ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}
	return nil
}

func (s *Store) queryAccounts(ctx context.Context, query string, args ...any) ([]account.Account, error) {
	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	accounts := []account.Account{}
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, acct)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return accounts, nil
}

// ListActiveAccounts returns every ACTIVE account, oldest first.
func (s *Store) ListActiveAccounts(ctx context.Context) ([]account.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.ensureDB(); err != nil {
		return nil, err
	}

	accounts, err := s.queryAccounts(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE status = ? ORDER BY created_at, id",
		string(account.StatusActive))
	if err != nil {
		return nil, fmt.Errorf("list active accounts: %w", err)
	}
	return accounts, nil
}

// ListActiveVerifiedAccounts returns ACTIVE accounts whose email is verified.
func (s *Store) ListActiveVerifiedAccounts(ctx context.Context) ([]account.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.ensureDB(); err != nil {
		return nil, err
	}

	accounts, err := s.queryAccounts(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE status = ? AND email_verified = 1 ORDER BY created_at, id",
		string(account.StatusActive))
	if err != nil {
		return nil, fmt.Errorf("list verified accounts: %w", err)
	}
	return accounts, nil
}

// SearchAccountsByEmail returns accounts whose primary email contains the
// keyword as a substring, regardless of status.
func (s *Store) SearchAccountsByEmail(ctx context.Context, keyword string) ([]account.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.ensureDB(); err != nil {
		return nil, err
	}

	keyword = strings.ToLower(strings.TrimSpace(keyword))
	if keyword == "" {
		return []account.Account{}, nil
	}

	escaped := strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`).Replace(keyword)
	accounts, err := s.queryAccounts(ctx,
		"SELECT "+accountColumns+` FROM accounts WHERE primary_email LIKE ? ESCAPE '\' ORDER BY created_at, id`,
		"%"+escaped+"%")
	if err != nil {
		return nil, fmt.Errorf("search accounts: %w", err)
	}
	return accounts, nil
}

// ListAccounts returns accounts matching a translated filter condition.
func (s *Store) ListAccounts(ctx context.Context, cond storage.Condition) ([]account.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.ensureDB(); err != nil {
		return nil, err
	}

	query := "SELECT " + accountColumns + " FROM accounts"
	if strings.TrimSpace(cond.Clause) != "" {
		query += " WHERE " + cond.Clause
	}
	query += " ORDER BY created_at, id"

	accounts, err := s.queryAccounts(ctx, query, cond.Params...)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return accounts, nil
}
