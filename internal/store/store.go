// Package store persists admin accounts and password-reset tokens.
//
// The contract is whole-collection: callers read the full list of users or
// tokens, and writes replace the full list. Read-modify-write sequences that
// must not interleave (the signup cap, token redemption) go through Update,
// which every driver runs inside its own critical section:
//
//   - file: process mutex plus atomic rename of the JSON documents
//   - sqlite: a BEGIN IMMEDIATE transaction on a single connection
//   - postgres: a transaction holding pg_advisory_xact_lock
package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"time"
)

var (
	// ErrCorrupt means a persisted collection exists but cannot be decoded.
	// It is never treated as an empty collection.
	ErrCorrupt = errors.New("credential store is corrupt")

	// ErrUnknownDriver is returned by Open for an unsupported driver name.
	ErrUnknownDriver = errors.New("unknown store driver")
)

// AdminUser is a persisted admin account.
type AdminUser struct {
	ID           string    `json:"id,omitempty" db:"id"`
	Email        string    `json:"email" db:"email"`
	PasswordHash string    `json:"passwordHash" db:"password_hash"`
	Salt         string    `json:"salt" db:"salt"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
}

// ResetToken is a pending password reset. Only the SHA-256 hex of the raw
// token is stored.
type ResetToken struct {
	Email     string    `json:"email" db:"email"`
	TokenHash string    `json:"tokenHash" db:"token_hash"`
	ExpiresAt time.Time `json:"expiresAt" db:"expires_at"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// Expired reports whether the token is no longer redeemable at now.
func (t ResetToken) Expired(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}

// FindUser returns the index of the user with the given normalized email, or -1.
func FindUser(users []AdminUser, email string) int {
	return slices.IndexFunc(users, func(u AdminUser) bool { return u.Email == email })
}

// Tx is the view of both collections inside Update. Getters return copies;
// setters replace the collection and mark it for writing.
type Tx interface {
	AdminUsers() []AdminUser
	SetAdminUsers(users []AdminUser)
	ResetTokens() []ResetToken
	SetResetTokens(tokens []ResetToken)
}

// Store is the credential store contract.
type Store interface {
	ReadAdminUsers(ctx context.Context) ([]AdminUser, error)
	WriteAdminUsers(ctx context.Context, users []AdminUser) error
	ReadResetTokens(ctx context.Context) ([]ResetToken, error)
	WriteResetTokens(ctx context.Context, tokens []ResetToken) error

	// Update runs fn against a consistent snapshot. Collections changed
	// through the Tx are written only when fn returns nil.
	Update(ctx context.Context, fn func(Tx) error) error

	Close() error
}

// snapshot is the Tx handed to Update callbacks by every driver.
type snapshot struct {
	users       []AdminUser
	tokens      []ResetToken
	usersDirty  bool
	tokensDirty bool
}

func (s *snapshot) AdminUsers() []AdminUser { return slices.Clone(s.users) }

func (s *snapshot) SetAdminUsers(users []AdminUser) {
	s.users = slices.Clone(users)
	s.usersDirty = true
}

func (s *snapshot) ResetTokens() []ResetToken { return slices.Clone(s.tokens) }

func (s *snapshot) SetResetTokens(tokens []ResetToken) {
	s.tokens = slices.Clone(tokens)
	s.tokensDirty = true
}

// Options selects a driver for Open.
type Options struct {
	// Driver is "file", "sqlite" or "postgres".
	Driver string
	// DataDir holds the file driver's documents and the default sqlite database.
	DataDir string
	// DSN overrides the sqlite path or supplies the postgres connection string.
	DSN string
}

// Open returns the Store for opts.Driver.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Driver {
	case "", "file":
		return NewFileStore(opts.DataDir)
	case "sqlite":
		path := opts.DSN
		if path == "" {
			path = filepath.Join(opts.DataDir, "brandgallery.db")
		}
		return NewSQLiteStore(path)
	case "postgres":
		if opts.DSN == "" {
			return nil, fmt.Errorf("postgres store requires a connection string")
		}
		return NewPostgresStore(ctx, opts.DSN)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, opts.Driver)
	}
}
