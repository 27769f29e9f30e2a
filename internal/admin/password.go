// Package admin provides admin account management and authentication
// primitives for the brandgallery admin area.
//
// This package handles:
//   - Password hashing and verification using scrypt
//   - The signup gate that caps self-service admin accounts
//   - Operator account management (list, delete, change password)
//
// # Security
//
// Passwords are hashed with scrypt (N=16384, r=8, p=1) into a 64-byte digest,
// stored as hex next to a per-user random salt. The salt is used as its hex
// text, so digests match those produced by earlier deployments.
//
// Verification recomputes the digest and compares the full length with
// crypto/subtle, so the running time does not depend on where two digests
// first differ.
package admin

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/scrypt"
)

const (
	// ScryptN is the CPU/memory cost parameter. Each doubling doubles the
	// time and memory needed per guess.
	ScryptN = 16384
	ScryptR = 8
	ScryptP = 1

	// KeyLen is the digest length in bytes (128 hex characters).
	KeyLen = 64

	// SaltLen is the salt length in bytes (32 hex characters).
	SaltLen = 16
)

// Hasher derives and verifies password digests.
type Hasher struct {
	n, r, p int
	keyLen  int
}

// Option configures a Hasher.
type Option func(*Hasher)

// WithCost overrides the scrypt work factors. Tests use this to keep
// hashing cheap; production code should use the defaults.
func WithCost(n, r, p int) Option {
	return func(h *Hasher) {
		h.n, h.r, h.p = n, r, p
	}
}

// NewHasher returns a Hasher with the default scrypt parameters.
//
// Example:
//
//	h := admin.NewHasher()
//	salt, _ := admin.NewSalt()
//	digest, err := h.Hash("my-password", salt)
func NewHasher(opts ...Option) *Hasher {
	h := &Hasher{n: ScryptN, r: ScryptR, p: ScryptP, keyLen: KeyLen}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Hash derives the hex-encoded digest of password under salt.
//
// The result is deterministic for a given (password, salt) pair.
func (h *Hasher) Hash(password, salt string) (string, error) {
	key, err := scrypt.Key([]byte(password), []byte(salt), h.n, h.r, h.p, h.keyLen)
	if err != nil {
		return "", fmt.Errorf("failed to derive password hash: %w", err)
	}
	return hex.EncodeToString(key), nil
}

// Verify reports whether password hashes to expected under salt.
//
// A malformed or wrong-length expected digest is rejected without an early
// return on content.
func (h *Hasher) Verify(password, salt, expected string) bool {
	want, err := hex.DecodeString(expected)
	if err != nil {
		return false
	}

	got, err := h.Hash(password, salt)
	if err != nil {
		return false
	}
	gotBytes, err := hex.DecodeString(got)
	if err != nil {
		return false
	}

	if len(gotBytes) != len(want) {
		return false
	}
	return subtle.ConstantTimeCompare(gotBytes, want) == 1
}

// NewSalt returns SaltLen random bytes, hex-encoded.
func NewSalt() (string, error) {
	b := make([]byte, SaltLen)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	return hex.EncodeToString(b), nil
}
