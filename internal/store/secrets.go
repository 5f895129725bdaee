package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PutSecret stores the encrypted credential blob for an account.
func (s *Store) PutSecret(accountID string, ciphertext []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.conn.Exec(`INSERT INTO secrets (account_id, ciphertext, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET ciphertext = excluded.ciphertext, updated_at = excluded.updated_at`,
		accountID, ciphertext, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to store secret: %w", err)
	}
	return nil
}

// GetSecret returns the encrypted credential blob for an account.
func (s *Store) GetSecret(accountID string) ([]byte, error) {
	var ciphertext []byte
	err := s.conn.QueryRow(`SELECT ciphertext FROM secrets WHERE account_id = ?`, accountID).
		Scan(&ciphertext)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read secret: %w", err)
	}
	return ciphertext, nil
}

// DeleteSecret removes an account's credential blob.
func (s *Store) DeleteSecret(accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.conn.Exec(`DELETE FROM secrets WHERE account_id = ?`, accountID); err != nil {
		return fmt.Errorf("failed to delete secret: %w", err)
	}
	return nil
}
