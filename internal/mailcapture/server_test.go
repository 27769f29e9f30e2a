package mailcapture

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

func startServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	srv := NewServer(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { srv.Stop() })
	return srv
}

// send delivers msg in plaintext; the capture server never offers STARTTLS.
func send(srv *Server, auth sasl.Client, from string, to []string, msg string) error {
	c, err := smtp.Dial(fmt.Sprintf("localhost:%d", srv.Port()))
	if err != nil {
		return err
	}
	defer c.Close()

	if auth != nil {
		if err := c.Auth(auth); err != nil {
			return err
		}
	}
	if err := c.SendMail(from, to, strings.NewReader(msg)); err != nil {
		return err
	}
	return c.Quit()
}

func TestMailCaptureServer_CapturesEmail(t *testing.T) {
	srv := startServer(t, Config{Host: "localhost"})

	msg := "From: sender@example.com\r\n" +
		"To: recipient@example.com\r\n" +
		"Subject: Test Email\r\n" +
		"\r\n" +
		"This is a test email body.\r\n"

	err := send(srv, nil, "sender@example.com", []string{"recipient@example.com"}, msg)
	if err != nil {
		t.Fatalf("Failed to send email: %v", err)
	}

	got, ok := srv.Inbox().Latest("recipient@example.com")
	if !ok {
		t.Fatal("Expected a captured message")
	}
	if got.From != "sender@example.com" {
		t.Errorf("From = %q", got.From)
	}
	if got.Subject != "Test Email" {
		t.Errorf("Subject = %q", got.Subject)
	}
	if !strings.Contains(got.TextBody, "This is a test email body.") {
		t.Errorf("TextBody = %q", got.TextBody)
	}
	if len(got.Raw) == 0 {
		t.Error("Raw message should be kept")
	}
}

func TestMailCaptureServer_AcceptsAnyCredentials(t *testing.T) {
	srv := startServer(t, Config{Host: "localhost"})

	msg := "Subject: =?utf-8?q?Caf=C3=A9?=\r\n\r\nhello\r\n"
	auth := sasl.NewPlainClient("", "user", "whatever")
	err := send(srv, auth, "a@example.com", []string{"b@example.com"}, msg)
	if err != nil {
		t.Fatalf("Failed to send email: %v", err)
	}

	got, ok := srv.Inbox().Latest("B@example.com")
	if !ok {
		t.Fatal("Latest should match recipients case-insensitively")
	}
	if got.Subject != "Café" {
		t.Errorf("Subject = %q, want decoded", got.Subject)
	}
}

func TestMailCaptureServer_MultipleRecipients(t *testing.T) {
	srv := startServer(t, Config{Host: "localhost"})

	msg := "Subject: both\r\n\r\nbody\r\n"
	to := []string{"one@example.com", "two@example.com"}
	if err := send(srv, nil, "a@example.com", to, msg); err != nil {
		t.Fatal(err)
	}

	msgs := srv.Inbox().Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	for i, m := range msgs {
		if m.To != to[i] {
			t.Errorf("msgs[%d].To = %q, want %q", i, m.To, to[i])
		}
	}
}

func TestInbox_Bounded(t *testing.T) {
	in := newInbox(2)
	for i := range 3 {
		in.add(Message{To: "x@example.com", Subject: fmt.Sprint(i)})
	}

	msgs := in.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Subject != "1" || msgs[1].Subject != "2" {
		t.Errorf("oldest message should be dropped first: %+v", msgs)
	}

	latest, _ := in.Latest("x@example.com")
	if latest.Subject != "2" {
		t.Errorf("Latest().Subject = %q", latest.Subject)
	}
	if _, ok := in.Latest("nobody@example.com"); ok {
		t.Error("Latest() should miss unknown recipients")
	}
}

func TestExtractBodies_Multipart(t *testing.T) {
	srv := startServer(t, Config{Host: "localhost"})

	msg := "Subject: multi\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: multipart/alternative; boundary=XYZ\r\n" +
		"\r\n" +
		"--XYZ\r\n" +
		"Content-Type: text/plain\r\n\r\n" +
		"plain part\r\n" +
		"--XYZ\r\n" +
		"Content-Type: text/html\r\n\r\n" +
		"<p>html part</p>\r\n" +
		"--XYZ--\r\n"
	if err := send(srv, nil, "a@example.com", []string{"b@example.com"}, msg); err != nil {
		t.Fatal(err)
	}

	got, _ := srv.Inbox().Latest("b@example.com")
	if !strings.Contains(got.TextBody, "plain part") {
		t.Errorf("TextBody = %q", got.TextBody)
	}
	if !strings.Contains(got.HTMLBody, "<p>html part</p>") {
		t.Errorf("HTMLBody = %q", got.HTMLBody)
	}
}

func TestServer_StartStop(t *testing.T) {
	srv := NewServer(Config{Host: "localhost"})
	if srv.IsRunning() {
		t.Error("new server should not be running")
	}

	if err := srv.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !srv.IsRunning() || srv.Port() == 0 {
		t.Errorf("running=%v port=%d", srv.IsRunning(), srv.Port())
	}
	if err := srv.Start(context.Background()); err == nil {
		t.Error("second Start() should fail")
	}

	if err := srv.Stop(); err != nil {
		t.Fatal(err)
	}
	if srv.IsRunning() {
		t.Error("server should be stopped")
	}
}
