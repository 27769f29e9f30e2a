// Package mailcapture runs a local SMTP sink for development. Reset mails
// sent to it are kept in memory and can be listed from the CLI log or read
// back in tests, so the reset flow works end to end without a real relay.
package mailcapture

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/emersion/go-smtp"

	"github.com/markb/brandgallery/internal/log"
)

// Server is a mail capture SMTP server that keeps messages in an Inbox
type Server struct {
	config   Config
	inbox    *Inbox
	smtpSrv  *smtp.Server
	listener net.Listener
	mu       sync.RWMutex
	running  bool
}

// NewServer creates a new mail capture server
func NewServer(cfg Config) *Server {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = 100
	}
	return &Server{
		config: cfg,
		inbox:  newInbox(cfg.MaxMessages),
	}
}

// Start begins listening for SMTP connections
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("server already running")
	}

	backend := &smtpBackend{inbox: s.inbox}

	s.smtpSrv = smtp.NewServer(backend)
	s.smtpSrv.Addr = net.JoinHostPort(s.config.Host, fmt.Sprint(s.config.Port))
	s.smtpSrv.Domain = "localhost"
	s.smtpSrv.AllowInsecureAuth = true

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", s.smtpSrv.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.smtpSrv.Addr, err)
	}
	s.listener = listener

	go func() {
		if err := s.smtpSrv.Serve(listener); err != nil {
			log.Debug("mail capture listener closed", "error", err)
		}
	}()

	s.running = true
	log.Info("mail capture server started", "addr", listener.Addr().String())
	return nil
}

// Stop gracefully stops the mail capture server
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	if s.smtpSrv != nil {
		s.smtpSrv.Close()
	}
	if s.listener != nil {
		s.listener.Close()
	}

	s.running = false
	log.Info("mail capture server stopped")
	return nil
}

// IsRunning returns true if the server is running
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Port returns the port the server is listening on. Before Start it is the
// configured port.
func (s *Server) Port() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener != nil {
		if addr, ok := s.listener.Addr().(*net.TCPAddr); ok {
			return addr.Port
		}
	}
	return s.config.Port
}

// Inbox returns the captured messages.
func (s *Server) Inbox() *Inbox {
	return s.inbox
}
