package mailcapture

import (
	"bytes"
	"io"
	"mime"
	"mime/multipart"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/markb/brandgallery/internal/log"
)

// Message is one captured email, stored once per recipient
type Message struct {
	ReceivedAt time.Time
	From       string
	To         string
	Subject    string
	TextBody   string
	HTMLBody   string
	Raw        []byte
}

// Inbox is a bounded, concurrency-safe list of captured messages
type Inbox struct {
	mu       sync.Mutex
	max      int
	messages []Message
}

func newInbox(max int) *Inbox {
	return &Inbox{max: max}
}

func (in *Inbox) add(m Message) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.messages = append(in.messages, m)
	if over := len(in.messages) - in.max; over > 0 {
		in.messages = append([]Message(nil), in.messages[over:]...)
	}
}

// Messages returns a copy of all captured messages, oldest first.
func (in *Inbox) Messages() []Message {
	in.mu.Lock()
	defer in.mu.Unlock()
	return append([]Message(nil), in.messages...)
}

// Latest returns the newest message addressed to to.
func (in *Inbox) Latest(to string) (Message, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	for i := len(in.messages) - 1; i >= 0; i-- {
		if strings.EqualFold(in.messages[i].To, to) {
			return in.messages[i], true
		}
	}
	return Message{}, false
}

// smtpBackend implements smtp.Backend
type smtpBackend struct {
	inbox *Inbox
}

func (b *smtpBackend) NewSession(_ *smtp.Conn) (smtp.Session, error) {
	return &smtpSession{inbox: b.inbox}, nil
}

// smtpSession handles a single SMTP session
type smtpSession struct {
	inbox *Inbox
	from  string
	to    []string
}

// AuthMechanisms advertises PLAIN so clients configured with credentials work.
func (s *smtpSession) AuthMechanisms() []string {
	return []string{sasl.Plain}
}

// Auth accepts any credentials in capture mode
func (s *smtpSession) Auth(mech string) (sasl.Server, error) {
	return sasl.NewPlainServer(func(identity, username, password string) error {
		return nil
	}), nil
}

func (s *smtpSession) Mail(from string, opts *smtp.MailOptions) error {
	s.from = from
	return nil
}

func (s *smtpSession) Rcpt(to string, opts *smtp.RcptOptions) error {
	s.to = append(s.to, to)
	return nil
}

func (s *smtpSession) Data(r io.Reader) error {
	rawMessage, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	var subject, textBody, htmlBody string

	msg, err := mail.ReadMessage(bytes.NewReader(rawMessage))
	if err != nil {
		// keep it anyway, unparsed
		log.Warn("failed to parse email", "error", err)
	} else {
		subject = msg.Header.Get("Subject")
		if decoded, err := decodeRFC2047(subject); err == nil {
			subject = decoded
		}
		textBody, htmlBody = extractBodies(msg)
	}

	now := time.Now()
	for _, to := range s.to {
		s.inbox.add(Message{
			ReceivedAt: now,
			From:       s.from,
			To:         to,
			Subject:    subject,
			TextBody:   textBody,
			HTMLBody:   htmlBody,
			Raw:        rawMessage,
		})
	}

	log.Info("captured email", "from", s.from, "to", s.to, "subject", subject)
	return nil
}

func (s *smtpSession) Reset() {
	s.from = ""
	s.to = nil
}

func (s *smtpSession) Logout() error {
	return nil
}

// decodeRFC2047 decodes MIME encoded-word strings
func decodeRFC2047(s string) (string, error) {
	dec := new(mime.WordDecoder)
	return dec.DecodeHeader(s)
}

// extractBodies extracts text and HTML bodies from an email
func extractBodies(msg *mail.Message) (textBody, htmlBody string) {
	contentType := msg.Header.Get("Content-Type")

	if strings.HasPrefix(contentType, "multipart/") {
		mediaType, params, err := mime.ParseMediaType(contentType)
		if err != nil {
			return readBody(msg.Body), ""
		}

		if strings.HasPrefix(mediaType, "multipart/") {
			mr := multipart.NewReader(msg.Body, params["boundary"])

			for {
				part, err := mr.NextPart()
				if err != nil {
					break
				}

				partContentType := part.Header.Get("Content-Type")
				body, _ := io.ReadAll(part)

				if strings.HasPrefix(partContentType, "text/plain") {
					textBody = string(body)
				} else if strings.HasPrefix(partContentType, "text/html") {
					htmlBody = string(body)
				}
			}
		}
	} else if strings.HasPrefix(contentType, "text/html") {
		htmlBody = readBody(msg.Body)
	} else {
		textBody = readBody(msg.Body)
	}

	return textBody, htmlBody
}

func readBody(r io.Reader) string {
	body, _ := io.ReadAll(r)
	return string(body)
}
