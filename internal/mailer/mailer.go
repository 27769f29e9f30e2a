// Package mailer delivers password reset links.
//
// SMTPNotifier sends a plain-text message through an SMTP relay. When no
// relay is configured, LogNotifier writes the link to the server log so an
// operator can hand it over manually.
package mailer

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/google/uuid"

	"github.com/markb/brandgallery/internal/config"
	"github.com/markb/brandgallery/internal/log"
	"github.com/markb/brandgallery/internal/reset"
)

const (
	// Subject is the subject line of reset messages.
	Subject = "Reset your brandgallery admin password"

	// DefaultTimeout bounds dialing and each SMTP command when ctx has no
	// deadline.
	DefaultTimeout = 30 * time.Second
)

// Config holds SMTP relay settings.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	StartTLS bool
}

// FromEmailConfig maps the email section of the config file.
func FromEmailConfig(e *config.EmailConfig) Config {
	if e.CaptureMode {
		return Config{Host: "localhost", Port: e.CapturePort, From: e.From}
	}
	return Config{
		Host:     e.SMTPHost,
		Port:     e.SMTPPort,
		Username: e.SMTPUser,
		Password: e.SMTPPass,
		From:     e.From,
		StartTLS: e.StartTLS,
	}
}

// New returns the notifier for e: SMTP when enabled, the log otherwise.
func New(e *config.EmailConfig) reset.Notifier {
	if e.Enabled() {
		return NewSMTPNotifier(FromEmailConfig(e))
	}
	return LogNotifier{}
}

// SMTPNotifier implements reset.Notifier over SMTP.
type SMTPNotifier struct {
	cfg Config
	now func() time.Time
}

// NewSMTPNotifier returns a notifier using cfg.
func NewSMTPNotifier(cfg Config) *SMTPNotifier {
	return &SMTPNotifier{cfg: cfg, now: time.Now}
}

// SendPasswordReset mails resetURL to email. The SMTP conversation is bound
// to ctx: cancelling it closes the connection.
func (n *SMTPNotifier) SendPasswordReset(ctx context.Context, email, resetURL string) error {
	if err := n.send(ctx, email, n.compose(email, resetURL)); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("reset mail timed out: %w", ctxErr)
		}
		return fmt.Errorf("failed to send reset mail: %w", err)
	}
	log.Debug("reset mail sent", "to", email, "relay", n.addr())
	return nil
}

func (n *SMTPNotifier) addr() string {
	return net.JoinHostPort(n.cfg.Host, strconv.Itoa(n.cfg.Port))
}

// dial connects to the relay, upgrading with STARTTLS when configured. The
// connection is closed as soon as ctx is done; the returned stop detaches that.
func (n *SMTPNotifier) dial(ctx context.Context) (*smtp.Client, func() bool, error) {
	d := net.Dialer{Timeout: DefaultTimeout}
	conn, err := d.DialContext(ctx, "tcp", n.addr())
	if err != nil {
		return nil, nil, err
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })

	timeout := DefaultTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	var c *smtp.Client
	if n.cfg.StartTLS {
		// the greeting and STARTTLS exchange run before CommandTimeout can be set
		conn.SetDeadline(time.Now().Add(timeout))
		c, err = smtp.NewClientStartTLS(conn, &tls.Config{ServerName: n.cfg.Host})
		if err != nil {
			stop()
			conn.Close()
			return nil, nil, fmt.Errorf("starttls: %w", err)
		}
	} else {
		c = smtp.NewClient(conn)
	}
	c.CommandTimeout = timeout
	c.SubmissionTimeout = timeout
	return c, stop, nil
}

func (n *SMTPNotifier) send(ctx context.Context, to string, msg []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c, stop, err := n.dial(ctx)
	if err != nil {
		return err
	}
	defer stop()
	defer c.Close()

	if n.cfg.Username != "" {
		if err := c.Auth(sasl.NewPlainClient("", n.cfg.Username, n.cfg.Password)); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	if err := c.SendMail(n.cfg.From, []string{to}, bytes.NewReader(msg)); err != nil {
		return err
	}
	return c.Quit()
}

func (n *SMTPNotifier) compose(to, resetURL string) []byte {
	var b bytes.Buffer
	header := func(k, v string) { fmt.Fprintf(&b, "%s: %s\r\n", k, v) }

	header("From", n.cfg.From)
	header("To", to)
	header("Subject", mime.QEncoding.Encode("utf-8", Subject))
	header("Date", n.now().Format(time.RFC1123Z))
	header("Message-ID", fmt.Sprintf("<%s@brandgallery>", uuid.New().String()))
	header("MIME-Version", "1.0")
	header("Content-Type", "text/plain; charset=utf-8")
	b.WriteString("\r\n")

	b.WriteString("Someone asked to reset the password for this brandgallery admin account.\r\n\r\n")
	b.WriteString("Open the link below within one hour to choose a new password:\r\n\r\n")
	b.WriteString(resetURL + "\r\n\r\n")
	b.WriteString("If you did not ask for this, you can ignore this message.\r\n")
	return b.Bytes()
}

// LogNotifier writes reset links to the server log.
type LogNotifier struct{}

func (LogNotifier) SendPasswordReset(_ context.Context, email, resetURL string) error {
	log.Info("password reset link", "email", email, "url", resetURL)
	return nil
}
