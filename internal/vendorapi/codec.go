package vendor

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Strategy names how the shared key and IV are turned into AES material.
type Strategy string

const (
	StrategyRaw     Strategy = "raw"
	StrategyHexKey  Strategy = "hex-key"
	StrategyDigest  Strategy = "digest"
	StrategyHexIV   Strategy = "hex-iv"
	StrategyHexBoth Strategy = "hex-both"
)

// Strategies is the order in which Decrypt tries each derivation.
var Strategies = []Strategy{StrategyRaw, StrategyHexKey, StrategyDigest, StrategyHexIV, StrategyHexBoth}

var (
	ErrUnknownStrategy = errors.New("vendor: unknown codec strategy")
	ErrKeyMaterial     = errors.New("vendor: key material does not fit strategy")
)

type keyPair struct {
	strategy Strategy
	key      []byte
	iv       []byte
}

// Codec encrypts requests for, and decrypts payloads from, the vendor API.
// The vendor has historically rotated between several key derivations, so
// decryption tries all of them while encryption sticks to the agreed one.
type Codec struct {
	primary keyPair
	pairs   []keyPair
}

func NewCodec(key, iv string, primary Strategy) (*Codec, error) {
	if primary == "" {
		primary = StrategyRaw
	}

	c := &Codec{}
	found := false
	for _, s := range Strategies {
		k, v, err := derive(s, key, iv)
		if err != nil {
			if s == primary {
				return nil, fmt.Errorf("%w: %s: %v", ErrKeyMaterial, s, err)
			}
			continue
		}
		pair := keyPair{strategy: s, key: k, iv: v}
		c.pairs = append(c.pairs, pair)
		if s == primary {
			c.primary = pair
			found = true
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, primary)
	}
	return c, nil
}

// Encrypt returns base64(AES-CBC(PKCS#7(plaintext))) under the agreed strategy.
func (c *Codec) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(c.primary.key)
	if err != nil {
		return "", fmt.Errorf("vendor: encrypt: %w", err)
	}
	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, c.primary.iv).CryptBlocks(out, padded)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt tries every strategy in order and returns the first non-empty
// printable result. Any failure yields ("", false).
func (c *Codec) Decrypt(ciphertext string) (string, bool) {
	raw, ok := decodeCiphertext(ciphertext)
	if !ok {
		return "", false
	}
	for _, pair := range c.pairs {
		if text, ok := decryptWith(pair, raw); ok {
			return text, true
		}
	}
	return "", false
}

// DecryptWith decrypts using one named strategy only.
func (c *Codec) DecryptWith(strategy Strategy, ciphertext string) (string, bool) {
	raw, ok := decodeCiphertext(ciphertext)
	if !ok {
		return "", false
	}
	for _, pair := range c.pairs {
		if pair.strategy == strategy {
			return decryptWith(pair, raw)
		}
	}
	return "", false
}

func (c *Codec) Primary() Strategy {
	return c.primary.strategy
}

func decryptWith(pair keyPair, raw []byte) (text string, ok bool) {
	defer func() {
		if recover() != nil {
			text, ok = "", false
		}
	}()

	block, err := aes.NewCipher(pair.key)
	if err != nil {
		return "", false
	}
	out := make([]byte, len(raw))
	cipher.NewCBCDecrypter(block, pair.iv).CryptBlocks(out, raw)
	plain, ok := pkcs7Unpad(out, aes.BlockSize)
	if !ok || len(plain) == 0 || !printable(plain) {
		return "", false
	}
	return string(plain), true
}

// normalizeCiphertext strips whitespace, maps the URL-safe alphabet back to
// the standard one and restores padding.
func normalizeCiphertext(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case unicode.IsSpace(r):
			return -1
		case r == '-':
			return '+'
		case r == '_':
			return '/'
		}
		return r
	}, s)
	s = strings.TrimRight(s, "=")
	if rem := len(s) % 4; rem != 0 {
		s += strings.Repeat("=", 4-rem)
	}
	return s
}

func decodeCiphertext(s string) ([]byte, bool) {
	s = normalizeCiphertext(s)
	if s == "" {
		return nil, false
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil || len(raw) == 0 || len(raw)%aes.BlockSize != 0 {
		return nil, false
	}
	return raw, true
}

func derive(s Strategy, key, iv string) ([]byte, []byte, error) {
	switch s {
	case StrategyRaw:
		return fitKey([]byte(key)), fitIV(ivOrKey(iv, key)), nil
	case StrategyHexKey:
		k, err := hexKey(key)
		if err != nil {
			return nil, nil, err
		}
		return k, fitIV(ivOrKey(iv, key)), nil
	case StrategyDigest:
		k := sha256.Sum256([]byte(key))
		v := md5.Sum(ivOrKey(iv, key))
		return k[:], v[:], nil
	case StrategyHexIV:
		v, err := hexIV(iv)
		if err != nil {
			return nil, nil, err
		}
		return fitKey([]byte(key)), v, nil
	case StrategyHexBoth:
		k, err := hexKey(key)
		if err != nil {
			return nil, nil, err
		}
		v, err := hexIV(iv)
		if err != nil {
			return nil, nil, err
		}
		return k, v, nil
	}
	return nil, nil, ErrUnknownStrategy
}

func ivOrKey(iv, key string) []byte {
	if iv == "" {
		return []byte(key)
	}
	return []byte(iv)
}

// fitKey keeps AES-sized keys as they are and repeats or truncates anything
// else to 32 bytes.
func fitKey(k []byte) []byte {
	switch len(k) {
	case 16, 24, 32:
		return k
	}
	return repeatTo(k, 32)
}

func fitIV(v []byte) []byte {
	return repeatTo(v, aes.BlockSize)
}

func repeatTo(b []byte, n int) []byte {
	if len(b) == 0 {
		return make([]byte, n)
	}
	out := make([]byte, 0, n+len(b))
	for len(out) < n {
		out = append(out, b...)
	}
	return out[:n]
}

func hexKey(s string) ([]byte, error) {
	k, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, err
	}
	switch len(k) {
	case 16, 24, 32:
		return k, nil
	}
	return nil, fmt.Errorf("hex key decodes to %d bytes", len(k))
}

func hexIV(s string) ([]byte, error) {
	v, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, err
	}
	if len(v) != aes.BlockSize {
		return nil, fmt.Errorf("hex iv decodes to %d bytes", len(v))
	}
	return v, nil
}

func pkcs7Pad(b []byte, size int) []byte {
	n := size - len(b)%size
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(b []byte, size int) ([]byte, bool) {
	if len(b) == 0 || len(b)%size != 0 {
		return nil, false
	}
	n := int(b[len(b)-1])
	if n == 0 || n > size || n > len(b) {
		return nil, false
	}
	for _, p := range b[len(b)-n:] {
		if int(p) != n {
			return nil, false
		}
	}
	return b[:len(b)-n], true
}

func printable(b []byte) bool {
	if !utf8.Valid(b) {
		return false
	}
	for _, r := range string(b) {
		if r == '\n' || r == '\r' || r == '\t' {
			continue
		}
		if !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}
