package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// LocalAccountName is the display name of the synthetic offline account.
const LocalAccountName = "Local"

// CreateAccount inserts a new account. When IsDefault is set, the default
// flag is cleared on every other account in the same transaction so that
// exactly one default exists.
func (s *Store) CreateAccount(account *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createAccountLocked(account)
}

func (s *Store) createAccountLocked(account *Account) error {
	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	account.CreatedAt = now
	account.UpdatedAt = now

	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if account.IsDefault {
		if _, err := tx.Exec(`UPDATE accounts SET is_default = 0`); err != nil {
			return fmt.Errorf("failed to clear default flag: %w", err)
		}
	}

	_, err = tx.Exec(`INSERT INTO accounts (
		id, name, server_url, username, principal_url, home_set_url, is_default, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		account.ID, account.Name, account.ServerURL, account.Username,
		account.PrincipalURL, account.HomeSetURL, account.IsDefault,
		account.CreatedAt, account.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit account: %w", err)
	}

	s.hub.notify(topicAccounts)
	return nil
}

// GetAccount returns an account by id.
func (s *Store) GetAccount(id string) (*Account, error) {
	row := s.conn.QueryRow(`SELECT id, name, server_url, username, principal_url,
		home_set_url, is_default, created_at, updated_at FROM accounts WHERE id = ?`, id)
	return scanAccount(row)
}

// ListAccounts returns all accounts ordered by creation time.
func (s *Store) ListAccounts() ([]*Account, error) {
	rows, err := s.conn.Query(`SELECT id, name, server_url, username, principal_url,
		home_set_url, is_default, created_at, updated_at FROM accounts ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", err)
	}
	return accounts, nil
}

// UpdateAccountURLs records the URLs resolved by discovery.
func (s *Store) UpdateAccountURLs(id, principalURL, homeSetURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.conn.Exec(`UPDATE accounts SET principal_url = ?, home_set_url = ?, updated_at = ?
		WHERE id = ?`, principalURL, homeSetURL, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update account URLs: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	s.hub.notify(topicAccounts)
	return nil
}

// SetDefaultAccount makes id the single default account.
func (s *Store) SetDefaultAccount(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`UPDATE accounts SET is_default = 0`); err != nil {
		return fmt.Errorf("failed to clear default flag: %w", err)
	}
	res, err := tx.Exec(`UPDATE accounts SET is_default = 1, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to set default account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit default account: %w", err)
	}
	s.hub.notify(topicAccounts)
	return nil
}

// DeleteAccount removes an account. Its calendars and their events are
// removed by cascade.
func (s *Store) DeleteAccount(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.conn.Exec(`DELETE FROM accounts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	s.hub.notify(topicAccounts, topicCalendars, topicEvents)
	return nil
}

// GetOrCreateLocalAccount returns the synthetic offline account, creating
// it on first use. It becomes the default only if no other account exists.
// Check and insert happen under the store lock so concurrent callers
// cannot both insert.
func (s *Store) GetOrCreateLocalAccount() (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.conn.QueryRow(`SELECT id, name, server_url, username, principal_url,
		home_set_url, is_default, created_at, updated_at FROM accounts WHERE server_url = '' LIMIT 1`)
	account, err := scanAccount(row)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	var count int
	if err := s.conn.QueryRow(`SELECT COUNT(*) FROM accounts`).Scan(&count); err != nil {
		return nil, fmt.Errorf("failed to count accounts: %w", err)
	}

	account = &Account{
		Name:      LocalAccountName,
		IsDefault: count == 0,
	}
	if err := s.createAccountLocked(account); err != nil {
		return nil, err
	}
	return account, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*Account, error) {
	account := &Account{}
	err := row.Scan(&account.ID, &account.Name, &account.ServerURL, &account.Username,
		&account.PrincipalURL, &account.HomeSetURL, &account.IsDefault,
		&account.CreatedAt, &account.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan account: %w", err)
	}
	return account, nil
}
