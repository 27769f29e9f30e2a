package admin

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"slices"
	"strings"

	"github.com/markb/brandgallery/internal/store"
)

// MinPasswordLength is the shortest password accepted anywhere.
const MinPasswordLength = 8

var (
	ErrSignupClosed     = errors.New("admin limit reached, signup is disabled")
	ErrInvalidEmail     = errors.New("a valid email address is required")
	ErrPasswordTooShort = fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	ErrDuplicateEmail   = errors.New("this email is already registered")
	ErrUserNotFound     = errors.New("admin user not found")
)

// NormalizeEmail trims and lower-cases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail checks an already-normalized address. Only a bare RFC 5322
// addr-spec is accepted; display names, comments and line breaks are not.
func ValidateEmail(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Name != "" || addr.Address != email {
		return ErrInvalidEmail
	}
	return nil
}

// ValidatePassword enforces MinPasswordLength.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return ErrPasswordTooShort
	}
	return nil
}

// Users exposes operator-level account management over a store.
type Users struct {
	store  store.Store
	hasher *Hasher
}

// NewUsers returns account management backed by s.
func NewUsers(s store.Store, h *Hasher) *Users {
	return &Users{store: s, hasher: h}
}

// FindByEmail looks up a user by (unnormalized) email address.
func (u *Users) FindByEmail(ctx context.Context, email string) (*store.AdminUser, error) {
	users, err := u.store.ReadAdminUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read admin users: %w", err)
	}
	i := store.FindUser(users, NormalizeEmail(email))
	if i < 0 {
		return nil, ErrUserNotFound
	}
	return &users[i], nil
}

// List returns all admin users, newest first.
func (u *Users) List(ctx context.Context) ([]store.AdminUser, error) {
	users, err := u.store.ReadAdminUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read admin users: %w", err)
	}
	slices.SortStableFunc(users, func(a, b store.AdminUser) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return users, nil
}

// Count returns the total number of admin users.
func (u *Users) Count(ctx context.Context) (int, error) {
	users, err := u.store.ReadAdminUsers(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read admin users: %w", err)
	}
	return len(users), nil
}

// Delete removes a user by email, along with any reset tokens issued to it.
func (u *Users) Delete(ctx context.Context, email string) error {
	email = NormalizeEmail(email)
	return u.store.Update(ctx, func(tx store.Tx) error {
		users := tx.AdminUsers()
		i := store.FindUser(users, email)
		if i < 0 {
			return ErrUserNotFound
		}
		tx.SetAdminUsers(slices.Delete(users, i, i+1))

		tokens := tx.ResetTokens()
		kept := slices.DeleteFunc(tokens, func(t store.ResetToken) bool { return t.Email == email })
		tx.SetResetTokens(kept)
		return nil
	})
}

// UpdatePassword changes a user's password. A fresh salt is generated.
func (u *Users) UpdatePassword(ctx context.Context, email, newPassword string) error {
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}
	email = NormalizeEmail(email)
	return u.store.Update(ctx, func(tx store.Tx) error {
		users := tx.AdminUsers()
		i := store.FindUser(users, email)
		if i < 0 {
			return ErrUserNotFound
		}
		if err := SetPassword(u.hasher, &users[i], newPassword); err != nil {
			return err
		}
		tx.SetAdminUsers(users)
		return nil
	})
}

// SetPassword replaces user's salt and digest for password.
func SetPassword(h *Hasher, user *store.AdminUser, password string) error {
	salt, err := NewSalt()
	if err != nil {
		return err
	}
	hash, err := h.Hash(password, salt)
	if err != nil {
		return err
	}
	user.Salt = salt
	user.PasswordHash = hash
	return nil
}
