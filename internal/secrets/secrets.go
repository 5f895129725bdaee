// Package secrets is the credential vault: per-account passwords encrypted
// with AES-256-GCM at rest. The sync core only reads from it; the write
// path belongs to account management.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/sundial-cal/sundial/internal/store"
)

var (
	ErrInvalidKey       = errors.New("encryption key must be exactly 32 bytes")
	ErrDecryptionFailed = errors.New("decryption failed")
	ErrMalformedPayload = errors.New("malformed encrypted payload")
)

// Vault encrypts and stores account credentials.
type Vault struct {
	store *store.Store
	aead  cipher.AEAD
}

// New creates a vault with the given 32-byte key.
func New(st *store.Store, key []byte) (*Vault, error) {
	if len(key) != 32 {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &Vault{store: st, aead: aead}, nil
}

// SetPassword encrypts and stores the password for an account.
func (v *Vault) SetPassword(accountID, password string) error {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}
	ciphertext := v.aead.Seal(nonce, nonce, []byte(password), nil)
	return v.store.PutSecret(accountID, ciphertext)
}

// GetPassword returns the stored password for an account, or false when
// none exists or decryption fails. It satisfies the engine's credential
// source contract.
func (v *Vault) GetPassword(accountID string) (string, bool) {
	ciphertext, err := v.store.GetSecret(accountID)
	if err != nil {
		return "", false
	}

	password, err := v.decrypt(ciphertext)
	if err != nil {
		// A corrupt or re-keyed secret is indistinguishable from a
		// missing one for sync purposes. Never log the payload.
		log.Printf("secrets: cannot decrypt credential for account %s: %v", accountID, err)
		return "", false
	}
	return password, true
}

// DeletePassword removes the stored credential for an account.
func (v *Vault) DeletePassword(accountID string) error {
	return v.store.DeleteSecret(accountID)
}

func (v *Vault) decrypt(ciphertext []byte) (string, error) {
	if len(ciphertext) < v.aead.NonceSize() {
		return "", ErrMalformedPayload
	}
	nonce, sealed := ciphertext[:v.aead.NonceSize()], ciphertext[v.aead.NonceSize():]
	plaintext, err := v.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}
