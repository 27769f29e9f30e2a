// Package session issues and checks the signed cookie that authenticates admins.
//
// A session token is
//
//	base64url(JSON{"email":..., "exp":...}) "." base64url(HMAC-SHA256(secret, payload))
//
// with unpadded base64url and exp in epoch milliseconds. The MAC is computed
// over the encoded payload text. Tokens are signed but not encrypted: they
// carry only an email and an expiry.
//
// There is no server-side session table. A token stays valid until exp
// unless the secret is rotated, which invalidates every token at once.
package session

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TTL is the lifetime of a session from issuance.
const TTL = 7 * 24 * time.Hour

var (
	// ErrInvalidSession covers every verification failure. Callers cannot
	// tell a forged token from an expired or malformed one.
	ErrInvalidSession = errors.New("invalid or expired session")

	// ErrNoSecret means the signer was built without a secret.
	ErrNoSecret = errors.New("session secret is not configured")
)

// b64 rejects non-zero padding bits so each token has exactly one encoding.
var b64 = base64.RawURLEncoding.Strict()

// Claims is the session payload.
type Claims struct {
	Email string `json:"email"`
	Exp   int64  `json:"exp"` // epoch milliseconds
}

// ExpiresAt returns Exp as a time.
func (c Claims) ExpiresAt() time.Time {
	return time.UnixMilli(c.Exp)
}

// Signer signs and verifies session tokens with one secret.
type Signer struct {
	key []byte
	now func() time.Time
}

// SignerOption configures a Signer.
type SignerOption func(*Signer)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) SignerOption {
	return func(s *Signer) { s.now = now }
}

// NewSigner returns a Signer keyed by the text bytes of secret.
func NewSigner(secret string, opts ...SignerOption) (*Signer, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	s := &Signer{key: []byte(secret), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// NewClaims returns claims for email expiring TTL from now.
func (s *Signer) NewClaims(email string) Claims {
	return Claims{Email: email, Exp: s.now().Add(TTL).UnixMilli()}
}

// Sign encodes and signs c.
func (s *Signer) Sign(c Claims) (string, error) {
	payload, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	encoded := b64.EncodeToString(payload)

	sig, err := jwt.SigningMethodHS256.Sign(encoded, s.key)
	if err != nil {
		return "", err
	}
	return encoded + "." + b64.EncodeToString(sig), nil
}

// Verify checks the signature and expiry of token and returns its claims.
// Every failure returns ErrInvalidSession.
func (s *Signer) Verify(token string) (*Claims, error) {
	encoded, encodedSig, ok := strings.Cut(token, ".")
	if !ok || encoded == "" || encodedSig == "" || strings.Contains(encodedSig, ".") {
		return nil, ErrInvalidSession
	}

	sig, err := b64.DecodeString(encodedSig)
	if err != nil {
		return nil, ErrInvalidSession
	}
	// constant-time comparison (hmac.Equal)
	if err := jwt.SigningMethodHS256.Verify(encoded, sig, s.key); err != nil {
		return nil, ErrInvalidSession
	}

	payload, err := b64.DecodeString(encoded)
	if err != nil {
		return nil, ErrInvalidSession
	}
	var c Claims
	if err := json.Unmarshal(payload, &c); err != nil {
		return nil, ErrInvalidSession
	}
	if c.Email == "" || c.Exp == 0 {
		return nil, ErrInvalidSession
	}
	if c.Exp <= s.now().UnixMilli() {
		return nil, ErrInvalidSession
	}
	return &c, nil
}
