package server

import (
	"context"
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/markb/brandgallery/internal/admin"
	"github.com/markb/brandgallery/internal/log"
	"github.com/markb/brandgallery/internal/reset"
	"github.com/markb/brandgallery/internal/session"
)

const maxBodyBytes = 64 << 10

// authRequest carries the fields of every admin form. Routes read the
// ones they need.
type authRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Token    string `json:"token"`
}

type messageResponse struct {
	OK       bool   `json:"ok"`
	Message  string `json:"message,omitempty"`
	Error    string `json:"error,omitempty"`
	ResetURL string `json:"resetUrl,omitempty"`
}

type signupStatusResponse struct {
	OK    bool `json:"ok"`
	Open  bool `json:"open"`
	Limit int  `json:"limit"`
}

type sessionResponse struct {
	OK        bool      `json:"ok"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func okBody(msg string) messageResponse    { return messageResponse{OK: true, Message: msg} }
func errorBody(msg string) messageResponse { return messageResponse{Error: msg} }

// handleSignIn verifies credentials and sets the session cookie.
//
// POST /admin/signin
func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRequest(w, r)
	if !ok {
		return
	}

	cookie, err := s.deps.Sessions.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	http.SetCookie(w, cookie)
	writeJSON(w, http.StatusOK, okBody("Signed in."))
}

// POST /admin/signout
func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, s.deps.Sessions.Logout())
	writeJSON(w, http.StatusOK, okBody("Signed out."))
}

// GET /admin/signup
func (s *Server) handleSignupStatus(w http.ResponseWriter, r *http.Request) {
	open, err := s.deps.Gate.CanSignUp(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, signupStatusResponse{OK: true, Open: open, Limit: s.deps.Gate.Limit()})
}

// handleSignUp creates an admin while the cap allows it and signs the new
// admin in.
//
// POST /admin/signup
func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRequest(w, r)
	if !ok {
		return
	}

	user, err := s.deps.Gate.CreateAdminUser(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	cookie, err := s.deps.Sessions.Issue(user.Email)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	http.SetCookie(w, cookie)
	writeJSON(w, http.StatusCreated, okBody("Admin account created."))
}

// POST /admin/password-reset/request
func (s *Server) handleResetRequest(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRequest(w, r)
	if !ok {
		return
	}

	res, err := s.deps.Resets.CreatePasswordReset(r.Context(), req.Email)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{OK: true, Message: res.Message, ResetURL: res.ResetURL})
}

// handleResetRedeem sets a new password from a reset token taken from the
// path or, failing that, the body.
//
// POST /admin/password-reset/{token}
func (s *Server) handleResetRedeem(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRequest(w, r)
	if !ok {
		return
	}
	token := chi.URLParam(r, "token")
	if token == "" {
		token = req.Token
	}

	if err := s.deps.Resets.ResetPasswordWithToken(r.Context(), token, req.Password); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okBody("Password updated. You can sign in now."))
}

// GET /admin/session
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	claims, _ := session.FromContext(r.Context())
	writeJSON(w, http.StatusOK, sessionResponse{OK: true, Email: claims.Email, ExpiresAt: claims.ExpiresAt()})
}

// decodeRequest reads a JSON or form body. On failure it has already
// written the response.
func decodeRequest(w http.ResponseWriter, r *http.Request) (authRequest, bool) {
	var req authRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("Malformed request body."))
			return req, false
		}
		return req, true
	}

	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("Malformed request body."))
		return req, false
	}
	req.Email = r.PostForm.Get("email")
	req.Password = r.PostForm.Get("password")
	req.Token = r.PostForm.Get("token")
	return req, true
}

// userMessages are the messages shown for expected failures.
var userMessages = []struct {
	err    error
	status int
	msg    string
}{
	{session.ErrInvalidCredentials, http.StatusUnauthorized, "Invalid email or password."},
	{admin.ErrSignupClosed, http.StatusForbidden, "Admin limit reached. Signup is disabled."},
	{admin.ErrInvalidEmail, http.StatusBadRequest, "A valid email address is required."},
	{admin.ErrPasswordTooShort, http.StatusBadRequest, "Password must be at least 8 characters."},
	{admin.ErrDuplicateEmail, http.StatusBadRequest, "This email is already registered."},
	{reset.ErrEmailRequired, http.StatusBadRequest, "Provide an email."},
	{reset.ErrInvalidResetRequest, http.StatusBadRequest, "Invalid token or password too short (min 8 chars)."},
	{reset.ErrInvalidOrExpiredToken, http.StatusBadRequest, "Invalid or expired token."},
	{reset.ErrAccountNotFound, http.StatusBadRequest, "Account not found."},
}

// writeError maps domain errors to responses. Unexpected errors are logged
// and reported without detail.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	for _, m := range userMessages {
		if errors.Is(err, m.err) {
			writeJSON(w, m.status, errorBody(m.msg))
			return
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		log.Warn("request timed out", "path", r.URL.Path, "request_id", getRequestID(r.Context()), "error", err)
		writeJSON(w, http.StatusServiceUnavailable, errorBody("Service is busy. Please try again."))
		return
	}

	log.Error("request failed", "path", r.URL.Path, "request_id", getRequestID(r.Context()), "error", err)
	writeJSON(w, http.StatusInternalServerError, errorBody("Internal error."))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug("failed to write response", "error", err)
	}
}
