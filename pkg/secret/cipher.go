// Package secret turns stored credential records into usable authentication
// material: it unseals encrypted blobs and parses private keys.
package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// ErrDecryptFailed is returned when a sealed blob cannot be opened, either
// because the key material is wrong or the blob was tampered with.
var ErrDecryptFailed = errors.New("decryption failed")

const (
	kdfIterations = 100_000
	keyLen        = 32
)

// kdfSalt is fixed so every daemon derives the same key from the same
// passphrase; blob portability across restarts matters more than salt
// uniqueness for this store.
var kdfSalt = []byte("laoqin_panel_salt")

// Cipher seals and opens credential blobs with a key derived from the
// configured passphrase (PBKDF2-HMAC-SHA256, AES-256-GCM).
type Cipher struct {
	key []byte
}

// NewCipher derives the blob key from a passphrase.
func NewCipher(passphrase string) *Cipher {
	return &Cipher{
		key: pbkdf2.Key([]byte(passphrase), kdfSalt, kdfIterations, keyLen, sha256.New),
	}
}

// Encrypt seals plaintext into a URL-safe base64 blob.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("init gcm: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.URLEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a blob produced by Encrypt.
func (c *Cipher) Decrypt(blob string) (string, error) {
	raw, err := base64.URLEncoding.DecodeString(blob)
	if err != nil {
		return "", fmt.Errorf("%w: not base64: %v", ErrDecryptFailed, err)
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("init gcm: %w", err)
	}

	if len(raw) < aead.NonceSize() {
		return "", fmt.Errorf("%w: blob too short", ErrDecryptFailed)
	}
	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptFailed, err)
	}
	return string(plaintext), nil
}
