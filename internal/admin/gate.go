package admin

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/markb/brandgallery/internal/store"
)

// Gate decides whether self-service signup is open and creates accounts.
//
// The limit sizes a small operator team. It is not an authorization
// boundary: every admin has the same rights.
type Gate struct {
	store  store.Store
	hasher *Hasher
	limit  int
	now    func() time.Time
}

// NewGate returns a Gate allowing at most limit accounts via signup.
func NewGate(s store.Store, h *Hasher, limit int) *Gate {
	return &Gate{store: s, hasher: h, limit: limit, now: time.Now}
}

// Limit returns the configured account ceiling.
func (g *Gate) Limit() int { return g.limit }

// CanSignUp reports whether fewer than Limit accounts exist.
func (g *Gate) CanSignUp(ctx context.Context) (bool, error) {
	users, err := g.store.ReadAdminUsers(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to read admin users: %w", err)
	}
	return len(users) < g.limit, nil
}

// CreateAdminUser creates an account through self-service signup. The cap,
// validation and duplicate checks run in the same store update as the write.
func (g *Gate) CreateAdminUser(ctx context.Context, email, password string) (*store.AdminUser, error) {
	return g.create(ctx, email, password, true)
}

// CreateOperatorUser creates an account from the operator CLI. The cap is
// enforced unless force is set.
func (g *Gate) CreateOperatorUser(ctx context.Context, email, password string, force bool) (*store.AdminUser, error) {
	return g.create(ctx, email, password, !force)
}

func (g *Gate) create(ctx context.Context, email, password string, enforceCap bool) (*store.AdminUser, error) {
	email = NormalizeEmail(email)

	var created store.AdminUser
	err := g.store.Update(ctx, func(tx store.Tx) error {
		users := tx.AdminUsers()
		if enforceCap && len(users) >= g.limit {
			return ErrSignupClosed
		}
		if err := ValidateEmail(email); err != nil {
			return err
		}
		if err := ValidatePassword(password); err != nil {
			return err
		}
		if store.FindUser(users, email) >= 0 {
			return ErrDuplicateEmail
		}

		user := store.AdminUser{
			ID:        uuid.New().String(),
			Email:     email,
			CreatedAt: g.now().UTC(),
		}
		if err := SetPassword(g.hasher, &user, password); err != nil {
			return err
		}

		tx.SetAdminUsers(append(users, user))
		created = user
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}
