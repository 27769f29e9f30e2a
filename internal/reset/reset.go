// Package reset implements the password-reset token lifecycle:
// requested, issued, then redeemed or expired.
//
// Raw tokens are 32 random bytes, base64url-encoded, and appear only in the
// reset URL handed to the Notifier. The store holds their SHA-256 hex, so a
// leaked store cannot be replayed. Redemption deletes the record.
package reset

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/markb/brandgallery/internal/admin"
	"github.com/markb/brandgallery/internal/log"
	"github.com/markb/brandgallery/internal/store"
)

const (
	// TokenTTL is how long an issued token stays redeemable.
	TokenTTL = time.Hour

	// TokenBytes is the randomness in a raw token.
	TokenBytes = 32

	// DeliveryTimeout bounds one background notification.
	DeliveryTimeout = 30 * time.Second

	// GenericMessage is returned whether or not the account exists.
	GenericMessage = "If an account exists we sent reset instructions."

	// DisclosedMessage accompanies a ResetURL when disclosure is enabled.
	DisclosedMessage = "Reset link generated."
)

var (
	ErrEmailRequired         = errors.New("provide an email")
	ErrInvalidResetRequest   = fmt.Errorf("invalid token or password too short (min %d chars)", admin.MinPasswordLength)
	ErrInvalidOrExpiredToken = errors.New("invalid or expired token")
	ErrAccountNotFound       = errors.New("account not found")
)

// Notifier delivers a reset link out of band.
type Notifier interface {
	SendPasswordReset(ctx context.Context, email, resetURL string) error
}

// Result is the caller-visible outcome of a reset request.
type Result struct {
	Message  string `json:"message"`
	ResetURL string `json:"resetUrl,omitempty"`
}

// Flow issues and redeems reset tokens.
type Flow struct {
	store    store.Store
	hasher   *admin.Hasher
	notifier Notifier
	siteURL  string
	disclose bool
	now      func() time.Time
	pending  sync.WaitGroup
}

// Option configures a Flow.
type Option func(*Flow)

// WithNotifier sets the delivery channel for reset links.
func WithNotifier(n Notifier) Option {
	return func(f *Flow) { f.notifier = n }
}

// WithSiteURL sets the origin prefixed to reset paths.
func WithSiteURL(siteURL string) Option {
	return func(f *Flow) { f.siteURL = strings.TrimRight(siteURL, "/") }
}

// WithDisclosure returns the reset URL in Result. Development only; the
// default is to disclose nothing.
func WithDisclosure(disclose bool) Option {
	return func(f *Flow) { f.disclose = disclose }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(f *Flow) { f.now = now }
}

// NewFlow returns a Flow.
func NewFlow(s store.Store, h *admin.Hasher, opts ...Option) *Flow {
	f := &Flow{store: s, hasher: h, now: time.Now}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// URL returns the reset link for a raw token.
func (f *Flow) URL(token string) string {
	return f.siteURL + "/admin/password-reset/" + token
}

// CreatePasswordReset issues a token for email if the account exists. The
// Result is the same for present and absent accounts unless disclosure is on.
func (f *Flow) CreatePasswordReset(ctx context.Context, email string) (*Result, error) {
	email = admin.NormalizeEmail(email)
	if email == "" {
		return nil, ErrEmailRequired
	}

	generic := &Result{Message: GenericMessage}

	var token string
	err := f.store.Update(ctx, func(tx store.Tx) error {
		if store.FindUser(tx.AdminUsers(), email) < 0 {
			return nil
		}

		now := f.now()
		raw, err := newToken()
		if err != nil {
			return err
		}

		tokens := pruneExpired(tx.ResetTokens(), now)
		tokens = append(tokens, store.ResetToken{
			Email:     email,
			TokenHash: HashToken(raw),
			ExpiresAt: now.Add(TokenTTL).UTC(),
			CreatedAt: now.UTC(),
		})
		tx.SetResetTokens(tokens)
		token = raw
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to issue reset token: %w", err)
	}
	if token == "" {
		log.Debug("password reset requested for unknown account")
		return generic, nil
	}

	resetURL := f.URL(token)
	log.Info("password reset issued", "email", email)

	if f.notifier != nil {
		f.deliver(ctx, email, resetURL)
	}

	if f.disclose {
		return &Result{Message: DisclosedMessage, ResetURL: resetURL}, nil
	}
	return generic, nil
}

// deliver notifies in the background, so the request returns in the same
// time whether or not the account exists. The delivery outlives ctx's
// cancellation but not DeliveryTimeout.
func (f *Flow) deliver(ctx context.Context, email, resetURL string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DeliveryTimeout)
	f.pending.Add(1)
	go func() {
		defer f.pending.Done()
		defer cancel()
		if err := f.notifier.SendPasswordReset(ctx, email, resetURL); err != nil {
			log.Error("failed to deliver password reset", "email", email, "error", err)
		}
	}()
}

// Wait blocks until every pending notification has finished.
func (f *Flow) Wait() {
	f.pending.Wait()
}

// ResetPasswordWithToken redeems token and sets newPassword. The token is
// consumed on success, and also when its account no longer exists.
func (f *Flow) ResetPasswordWithToken(ctx context.Context, token, newPassword string) error {
	if token == "" || admin.ValidatePassword(newPassword) != nil {
		return ErrInvalidResetRequest
	}

	hash := HashToken(token)

	// outcome carries a failure that must still commit its token changes
	var outcome error
	var email string

	err := f.store.Update(ctx, func(tx store.Tx) error {
		now := f.now()
		all := tx.ResetTokens()
		tokens := pruneExpired(all, now)

		i := slices.IndexFunc(tokens, func(t store.ResetToken) bool { return t.TokenHash == hash })
		if i < 0 {
			if len(tokens) == len(all) {
				return ErrInvalidOrExpiredToken
			}
			tx.SetResetTokens(tokens)
			outcome = ErrInvalidOrExpiredToken
			return nil
		}

		rec := tokens[i]
		tx.SetResetTokens(slices.Delete(tokens, i, i+1))

		users := tx.AdminUsers()
		u := store.FindUser(users, rec.Email)
		if u < 0 {
			outcome = ErrAccountNotFound
			return nil
		}
		if err := admin.SetPassword(f.hasher, &users[u], newPassword); err != nil {
			return err
		}
		tx.SetAdminUsers(users)
		email = rec.Email
		return nil
	})
	if errors.Is(err, ErrInvalidOrExpiredToken) {
		return err
	}
	if err != nil {
		return fmt.Errorf("failed to reset password: %w", err)
	}
	if outcome != nil {
		return outcome
	}

	log.Info("password reset completed", "email", email)
	return nil
}

// PruneExpired removes every expired token and reports how many were removed.
func (f *Flow) PruneExpired(ctx context.Context) (int, error) {
	var removed int
	err := f.store.Update(ctx, func(tx store.Tx) error {
		all := tx.ResetTokens()
		kept := pruneExpired(all, f.now())
		removed = len(all) - len(kept)
		if removed > 0 {
			tx.SetResetTokens(kept)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to prune reset tokens: %w", err)
	}
	return removed, nil
}

// HashToken returns the stored form of a raw token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func newToken() (string, error) {
	b := make([]byte, TokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate reset token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func pruneExpired(tokens []store.ResetToken, now time.Time) []store.ResetToken {
	return slices.DeleteFunc(tokens, func(t store.ResetToken) bool { return t.Expired(now) })
}
