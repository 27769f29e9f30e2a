package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/markb/brandgallery/internal/admin"
	"github.com/markb/brandgallery/internal/store"
)

const (
	// CookieName is the session cookie.
	CookieName = "admin_session"

	// SignInPath is where RequireSession sends anonymous requests.
	SignInPath = "/admin/signin"
)

// ErrInvalidCredentials is returned by Login for an unknown email and for a
// wrong password alike.
var ErrInvalidCredentials = errors.New("invalid email or password")

// dummySalt is hashed against when the email is unknown, so a miss costs
// the same as a wrong password.
const dummySalt = "00000000000000000000000000000000"

var dummyDigest = strings.Repeat("00", admin.KeyLen)

// Manager ties the signer to the credential store and the cookie.
type Manager struct {
	signer *Signer
	store  store.Store
	hasher *admin.Hasher
	secure bool
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithSecureCookies sets the Secure attribute on session cookies. Enable it
// in production.
func WithSecureCookies(secure bool) ManagerOption {
	return func(m *Manager) { m.secure = secure }
}

// NewManager returns a Manager.
func NewManager(signer *Signer, s store.Store, h *admin.Hasher, opts ...ManagerOption) *Manager {
	m := &Manager{signer: signer, store: s, hasher: h}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Login checks email and password and returns the cookie to set on success.
func (m *Manager) Login(ctx context.Context, email, password string) (*http.Cookie, error) {
	email = admin.NormalizeEmail(email)

	users, err := m.store.ReadAdminUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read admin users: %w", err)
	}

	i := store.FindUser(users, email)
	if i < 0 {
		m.hasher.Verify(password, dummySalt, dummyDigest)
		return nil, ErrInvalidCredentials
	}
	u := users[i]
	if !m.hasher.Verify(password, u.Salt, u.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	return m.Issue(u.Email)
}

// Issue signs a fresh session for email without checking credentials.
// Callers must have authenticated the user already.
func (m *Manager) Issue(email string) (*http.Cookie, error) {
	token, err := m.signer.Sign(m.signer.NewClaims(email))
	if err != nil {
		return nil, fmt.Errorf("failed to sign session: %w", err)
	}
	return m.cookie(token, int(TTL.Seconds())), nil
}

// Logout returns a cookie that overwrites the session with an expired, empty value.
func (m *Manager) Logout() *http.Cookie {
	// MaxAge < 0 is written as "Max-Age=0"
	return m.cookie("", -1)
}

// CurrentSession returns the verified claims carried by r, if any.
func (m *Manager) CurrentSession(r *http.Request) (*Claims, bool) {
	c, err := r.Cookie(CookieName)
	if err != nil || c.Value == "" {
		return nil, false
	}
	claims, err := m.signer.Verify(c.Value)
	if err != nil {
		return nil, false
	}
	return claims, true
}

// RequireSession admits requests with a valid session and redirects the rest
// to SignInPath with 303 See Other. Handlers behind it read the claims with
// FromContext.
func (m *Manager) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := m.CurrentSession(r)
		if !ok {
			http.Redirect(w, r, SignInPath, http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), claims)))
	})
}

func (m *Manager) cookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	}
}

type contextKey struct{}

// NewContext returns ctx carrying claims.
func NewContext(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, contextKey{}, claims)
}

// FromContext returns the claims stored by RequireSession.
func FromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(contextKey{}).(*Claims)
	return c, ok && c != nil
}
