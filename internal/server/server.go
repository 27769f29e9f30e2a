// Package server exposes the admin auth operations over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/markb/brandgallery/internal/admin"
	"github.com/markb/brandgallery/internal/log"
	"github.com/markb/brandgallery/internal/reset"
	"github.com/markb/brandgallery/internal/session"
)

type Config struct {
	Host               string
	Port               int
	Production         bool
	RateLimitPerMinute int           // 0 disables rate limiting
	StoreTimeout       time.Duration // 0 disables the per-request deadline
	AllowedOrigins     []string
	ShutdownTimeout    time.Duration
}

// Deps are the domain services behind the routes.
type Deps struct {
	Gate     *admin.Gate
	Sessions *session.Manager
	Resets   *reset.Flow
}

type Server struct {
	config     Config
	deps       Deps
	router     *chi.Mux
	httpServer *http.Server
}

func New(cfg Config, deps Deps) *Server {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	s := &Server{
		config: cfg,
		deps:   deps,
		router: chi.NewRouter(),
	}
	s.setupRoutes()
	return s
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.Use(requestID)
	s.router.Use(requestLogger)
	s.router.Use(chimw.Recoverer)
	s.router.Use(securityHeaders(s.config.Production))
	if len(s.config.AllowedOrigins) > 0 {
		s.router.Use(cors.New(cors.Options{
			AllowedOrigins:   s.config.AllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
			AllowCredentials: true,
			MaxAge:           300,
		}).Handler)
	}

	s.router.Get("/health", s.handleHealth)

	s.router.Route("/admin", func(r chi.Router) {
		if s.config.RateLimitPerMinute > 0 {
			r.Use(rateLimit(s.config.RateLimitPerMinute))
		}
		if s.config.StoreTimeout > 0 {
			r.Use(withTimeout(s.config.StoreTimeout))
		}

		r.Post("/signin", s.handleSignIn)
		r.Post("/signout", s.handleSignOut)
		r.Get("/signup", s.handleSignupStatus)
		r.Post("/signup", s.handleSignUp)
		r.Post("/password-reset/request", s.handleResetRequest)
		r.Post("/password-reset", s.handleResetRedeem)
		r.Post("/password-reset/{token}", s.handleResetRedeem)

		r.With(s.deps.Sessions.RequireSession).Get("/session", s.handleSession)
	})
}

// Run serves until ctx is cancelled or SIGINT/SIGTERM arrives, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := net.JoinHostPort(s.config.Host, fmt.Sprint(s.config.Port))
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("brandgallery listening", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	return s.waitForShutdown(ctx, errCh)
}

func (s *Server) waitForShutdown(ctx context.Context, errCh <-chan error) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		log.Info("received signal, shutting down...", "signal", sig)
	case <-ctx.Done():
		log.Info("context done, shutting down...")
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}
	log.Info("shutdown complete")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}
