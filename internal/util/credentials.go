package util

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const sealedPrefix = "enc:v1:"

var ErrCredentialCorrupt = errors.New("credential: sealed value is corrupt")

// CredentialBox seals account secrets (IMAP passwords, OAuth tokens) before they are stored.
// A nil box stores values as plain text.
type CredentialBox struct {
	aead cipher.AEAD
}

// NewCredentialBox derives an XChaCha20-Poly1305 key from secret. An empty secret returns nil.
func NewCredentialBox(secret string) (*CredentialBox, error) {
	if secret == "" {
		return nil, nil
	}
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte("mailtriage/account-credentials")), key); err != nil {
		return nil, fmt.Errorf("derive credential key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return &CredentialBox{aead: aead}, nil
}

// Seal encrypts plain. Empty values stay empty.
func (b *CredentialBox) Seal(plain string) (string, error) {
	if b == nil || plain == "" {
		return plain, nil
	}
	nonce := make([]byte, b.aead.NonceSize(), b.aead.NonceSize()+len(plain)+b.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	out := b.aead.Seal(nonce, nonce, []byte(plain), nil)
	return sealedPrefix + base64.RawStdEncoding.EncodeToString(out), nil
}

// Open decrypts a sealed value. Values stored before sealing was enabled are returned as is.
func (b *CredentialBox) Open(stored string) (string, error) {
	if !strings.HasPrefix(stored, sealedPrefix) {
		return stored, nil
	}
	if b == nil {
		return "", errors.New("credential: sealed value but no credential key configured")
	}
	raw, err := base64.RawStdEncoding.DecodeString(strings.TrimPrefix(stored, sealedPrefix))
	if err != nil || len(raw) < b.aead.NonceSize() {
		return "", ErrCredentialCorrupt
	}
	nonce, ct := raw[:b.aead.NonceSize()], raw[b.aead.NonceSize():]
	plain, err := b.aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", ErrCredentialCorrupt
	}
	return string(plain), nil
}
