// Package token implements the AES-256-GCM token service: a versioned,
// nonce-prefixed authenticated-encryption envelope around a small
// plaintext payload, grounded on tinistream's auth/crypto.rs and
// auth/client_token.rs. Raw AEAD primitives come from the standard
// library's crypto/aes and crypto/cipher — no third-party AEAD library
// appears anywhere in the example pack, so this is the one component in
// the gateway built directly on stdlib crypto, following the same
// stdlib-crypto idiom the orchestrator's own internal/auth package uses
// for its token hashing (crypto/rand, crypto/subtle, crypto/sha256).
package token

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fa-sharp/streamgate/internal/apierr"
)

// versionLen is the byte length of the version prefix.
const versionLen = 2

// version is the single supported envelope version prefix, matching
// tinistream's `const VERSION: &[u8] = b"v1"`.
var version = []byte("v1")

// nonceSize is the GCM standard nonce length.
const nonceSize = 12

// DefaultClientTokenTTL is how far in the future a minted client token
// expires by default.
const DefaultClientTokenTTL = 10 * time.Minute

var encoding = base64.URLEncoding.WithPadding(base64.NoPadding)

// Service encrypts and decrypts tokens under a single process-wide
// 32-byte key. The key does not rotate during process life (see
// SPEC_FULL.md's "Global state" design note).
type Service struct {
	aead cipher.AEAD
}

// New builds a Service from a 32-byte AES-256 key.
func New(key []byte) (*Service, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("token key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM mode: %w", err)
	}
	return &Service{aead: aead}, nil
}

// Encrypt seals plaintext into a versioned, nonce-prefixed, URL-safe
// base64 token.
func (s *Service) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := s.aead.Seal(nil, nonce, []byte(plaintext), nil)

	buf := make([]byte, 0, versionLen+nonceSize+len(sealed))
	buf = append(buf, version...)
	buf = append(buf, nonce...)
	buf = append(buf, sealed...)
	return encoding.EncodeToString(buf), nil
}

// Decrypt opens a token produced by Encrypt, failing with
// KindUnauthorized on any structural, version, or authentication
// mismatch — callers must not distinguish these cases to the caller
// per the error-handling design's "collapse to generic Unauthorized"
// policy.
func (s *Service) Decrypt(tok string) (string, error) {
	raw, err := encoding.DecodeString(tok)
	if err != nil {
		return "", apierr.New(apierr.KindUnauthorized, "invalid token")
	}
	if len(raw) < versionLen+nonceSize {
		return "", apierr.New(apierr.KindUnauthorized, "invalid token")
	}
	if !bytes.Equal(raw[:versionLen], version) {
		return "", apierr.New(apierr.KindUnauthorized, "invalid token")
	}
	nonce := raw[versionLen : versionLen+nonceSize]
	ciphertext := raw[versionLen+nonceSize:]

	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", apierr.New(apierr.KindUnauthorized, "invalid token")
	}
	return string(plaintext), nil
}

// MintClientToken builds the "expiresUnix:key" plaintext payload for a
// consumer token scoped to key, valid for ttl (DefaultClientTokenTTL if
// zero), then encrypts it.
func (s *Service) MintClientToken(key string, ttl time.Duration) (string, error) {
	if ttl == 0 {
		ttl = DefaultClientTokenTTL
	}
	expires := time.Now().Add(ttl).Unix()
	plaintext := strconv.FormatInt(expires, 10) + ":" + key
	return s.Encrypt(plaintext)
}

// ValidateClientToken decrypts tok and checks it is unexpired and
// scoped to key.
func (s *Service) ValidateClientToken(tok, key string) error {
	plaintext, err := s.Decrypt(tok)
	if err != nil {
		return err
	}
	idx := strings.IndexByte(plaintext, ':')
	if idx < 0 {
		return apierr.New(apierr.KindUnauthorized, "invalid token")
	}
	expiresStr, tokenKey := plaintext[:idx], plaintext[idx+1:]
	expires, err := strconv.ParseInt(expiresStr, 10, 64)
	if err != nil {
		return apierr.New(apierr.KindUnauthorized, "invalid token")
	}
	if time.Now().Unix() >= expires {
		return apierr.New(apierr.KindUnauthorized, "token expired")
	}
	if tokenKey != key {
		return apierr.New(apierr.KindUnauthorized, "token not valid for this stream")
	}
	return nil
}
