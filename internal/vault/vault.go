// Package vault seals voucher payloads and vendor credentials at rest and
// renders the masked previews that are safe to show or log.
package vault

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

const sealedPrefix = "v1."

var ErrNoKey = errors.New("vault: no key material configured")

type Vault struct {
	aead cipher.AEAD
}

// New derives the sealing key from the operator secret. An empty secret
// yields a vault that refuses to seal and never opens anything.
func New(secret string) (*Vault, error) {
	if secret == "" {
		return &Vault{}, nil
	}
	key := sha256.Sum256([]byte(secret))
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, fmt.Errorf("vault: init cipher: %w", err)
	}
	return &Vault{aead: aead}, nil
}

// Seal JSON-encodes v and encrypts it under a fresh random nonce.
func (v *Vault) Seal(payload any) (string, error) {
	plain, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("vault: encode payload: %w", err)
	}
	return v.seal(plain)
}

// Open decrypts s into out. Tampered, truncated or foreign input returns false.
func (v *Vault) Open(s string, out any) bool {
	plain, ok := v.open(s)
	if !ok {
		return false
	}
	return json.Unmarshal(plain, out) == nil
}

func (v *Vault) SealString(s string) (string, error) {
	return v.seal([]byte(s))
}

func (v *Vault) OpenString(s string) (string, bool) {
	plain, ok := v.open(s)
	if !ok {
		return "", false
	}
	return string(plain), true
}

func (v *Vault) seal(plain []byte) (string, error) {
	if v == nil || v.aead == nil {
		return "", ErrNoKey
	}
	nonce := make([]byte, v.aead.NonceSize(), v.aead.NonceSize()+len(plain)+v.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("vault: nonce: %w", err)
	}
	sealed := v.aead.Seal(nonce, nonce, plain, nil)
	return sealedPrefix + base64.RawURLEncoding.EncodeToString(sealed), nil
}

func (v *Vault) open(s string) (plain []byte, ok bool) {
	defer func() {
		if recover() != nil {
			plain, ok = nil, false
		}
	}()

	if v == nil || v.aead == nil || !strings.HasPrefix(s, sealedPrefix) {
		return nil, false
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(s, sealedPrefix))
	if err != nil || len(raw) < v.aead.NonceSize()+v.aead.Overhead() {
		return nil, false
	}
	nonce, ct := raw[:v.aead.NonceSize()], raw[v.aead.NonceSize():]
	plain, err = v.aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, false
	}
	return plain, true
}
