package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/cookiejar"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/markb/brandgallery/internal/admin"
	"github.com/markb/brandgallery/internal/keys"
	"github.com/markb/brandgallery/internal/mailcapture"
	"github.com/markb/brandgallery/internal/mailer"
	"github.com/markb/brandgallery/internal/reset"
	"github.com/markb/brandgallery/internal/server"
	"github.com/markb/brandgallery/internal/session"
	"github.com/markb/brandgallery/internal/store"
)

type harness struct {
	base    string
	client  *http.Client
	capture *mailcapture.Server
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

// startServer runs the full stack on a real port: sqlite store, persisted
// secret, SMTP delivery into a capture server.
func startServer(t *testing.T, limit int) *harness {
	t.Helper()
	dataDir := t.TempDir()

	secret, err := keys.LoadOrCreate(dataDir, "")
	if err != nil {
		t.Fatal(err)
	}

	st, err := store.NewSQLiteStore(filepath.Join(dataDir, "brandgallery.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	capture := mailcapture.NewServer(mailcapture.Config{Host: "localhost"})
	if err := capture.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { capture.Stop() })

	port := freePort(t)
	base := fmt.Sprintf("http://127.0.0.1:%d", port)

	hasher := admin.NewHasher(admin.WithCost(1024, 8, 1))
	signer, err := session.NewSigner(secret.Value)
	if err != nil {
		t.Fatal(err)
	}
	notifier := mailer.NewSMTPNotifier(mailer.Config{
		Host: "localhost",
		Port: capture.Port(),
		From: "no-reply@gallery.example",
	})

	srv := server.New(server.Config{
		Host:               "127.0.0.1",
		Port:               port,
		RateLimitPerMinute: 1000,
		StoreTimeout:       5 * time.Second,
	}, server.Deps{
		Gate:     admin.NewGate(st, hasher, limit),
		Sessions: session.NewManager(signer, st, hasher),
		Resets:   reset.NewFlow(st, hasher, reset.WithNotifier(notifier), reset.WithSiteURL(base)),
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-errCh; err != nil {
			t.Errorf("Server error: %v", err)
		}
	})

	h := &harness{base: base, capture: capture}
	h.client = h.newClient(t)

	for i := 0; i < 50; i++ {
		resp, err := h.client.Get(base + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return h
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatal("server did not become healthy")
	return nil
}

func (h *harness) newClient(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	return &http.Client{
		Jar:     jar,
		Timeout: 10 * time.Second,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func (h *harness) post(t *testing.T, c *http.Client, path string, body any) (int, map[string]any) {
	t.Helper()
	data, _ := json.Marshal(body)
	resp, err := c.Post(h.base+path, "application/json", strings.NewReader(string(data)))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("POST %s: invalid JSON: %v", path, err)
	}
	return resp.StatusCode, out
}

func (h *harness) get(t *testing.T, c *http.Client, path string) (int, map[string]any) {
	t.Helper()
	resp, err := c.Get(h.base + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()

	var out map[string]any
	json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

// waitForMail polls the capture inbox; reset mail is sent in the background.
func (h *harness) waitForMail(t *testing.T, to string) mailcapture.Message {
	t.Helper()
	for i := 0; i < 50; i++ {
		if msg, ok := h.capture.Inbox().Latest(to); ok {
			return msg
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("no mail captured for %s", to)
	return mailcapture.Message{}
}

func creds(email, password string) map[string]string {
	return map[string]string{"email": email, "password": password}
}

func TestSignupCap(t *testing.T) {
	h := startServer(t, 2)

	if code, body := h.post(t, h.newClient(t), "/admin/signup", creds("a@x.com", "password123")); code != http.StatusCreated {
		t.Fatalf("create A: %d %v", code, body)
	}
	if code, body := h.post(t, h.newClient(t), "/admin/signup", creds("b@x.com", "password456")); code != http.StatusCreated {
		t.Fatalf("create B: %d %v", code, body)
	}

	code, body := h.post(t, h.newClient(t), "/admin/signup", creds("c@x.com", "password789"))
	if code != http.StatusForbidden {
		t.Fatalf("create C: status = %d, want 403", code)
	}
	if body["error"] != "Admin limit reached. Signup is disabled." {
		t.Errorf("create C: error = %v", body["error"])
	}

	if _, body := h.get(t, h.client, "/admin/signup"); body["open"] != false {
		t.Errorf("canSignUp = %v, want false", body["open"])
	}
}

func TestLoginSessionLogout(t *testing.T) {
	h := startServer(t, 2)
	h.post(t, h.newClient(t), "/admin/signup", creds("a@x.com", "password123"))

	c := h.newClient(t)
	if code, body := h.post(t, c, "/admin/signin", creds("a@x.com", "password123")); code != http.StatusOK {
		t.Fatalf("signin: %d %v", code, body)
	}

	code, body := h.get(t, c, "/admin/session")
	if code != http.StatusOK {
		t.Fatalf("session: status = %d", code)
	}
	if body["email"] != "a@x.com" {
		t.Errorf("session email = %v", body["email"])
	}
	exp, err := time.Parse(time.RFC3339, fmt.Sprint(body["expiresAt"]))
	if err != nil || !exp.After(time.Now()) {
		t.Errorf("expiresAt = %v, want a future time", body["expiresAt"])
	}

	if code, _ := h.post(t, c, "/admin/signout", map[string]string{}); code != http.StatusOK {
		t.Fatalf("signout: status = %d", code)
	}
	if code, _ := h.get(t, c, "/admin/session"); code != http.StatusSeeOther {
		t.Errorf("session after signout: status = %d, want 303", code)
	}
}

var resetLink = regexp.MustCompile(`/admin/password-reset/([A-Za-z0-9_-]+)`)

func TestPasswordResetByEmail(t *testing.T) {
	h := startServer(t, 2)
	h.post(t, h.newClient(t), "/admin/signup", creds("a@x.com", "password123"))

	code, body := h.post(t, h.client, "/admin/password-reset/request", map[string]string{"email": "a@x.com"})
	if code != http.StatusOK || body["message"] != reset.GenericMessage {
		t.Fatalf("request: %d %v", code, body)
	}
	if _, ok := body["resetUrl"]; ok {
		t.Error("reset URL must not be disclosed by default")
	}

	msg := h.waitForMail(t, "a@x.com")
	m := resetLink.FindStringSubmatch(msg.TextBody)
	if m == nil {
		t.Fatalf("no reset link in email:\n%s", msg.TextBody)
	}
	token := m[1]

	if code, body := h.post(t, h.client, "/admin/password-reset/"+token, map[string]string{"password": "newpassword1"}); code != http.StatusOK {
		t.Fatalf("redeem: %d %v", code, body)
	}

	if code, _ := h.post(t, h.newClient(t), "/admin/signin", creds("a@x.com", "password123")); code != http.StatusUnauthorized {
		t.Errorf("old password: status = %d, want 401", code)
	}
	if code, _ := h.post(t, h.newClient(t), "/admin/signin", creds("a@x.com", "newpassword1")); code != http.StatusOK {
		t.Errorf("new password: status = %d, want 200", code)
	}
}
