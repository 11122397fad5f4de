// Package email delivers invoices to customers over SMTP.
package email

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotConfigured = errors.New("email not configured")
	ErrNoRecipient   = errors.New("email has no valid recipient")
)

type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

// Attachment is a file sent along with a message.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

type Message struct {
	To          []string
	Subject     string
	Text        string
	HTML        string
	Attachments []Attachment
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

type Service struct {
	config Config
	server string
	auth   smtp.Auth
	send   sendFunc
	now    func() time.Time
}

func NewService(config Config) *Service {
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}
	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
		send:   smtp.SendMail,
		now:    time.Now,
	}
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// Send delivers msg to every valid address in msg.To.
func (s *Service) Send(msg Message) error {
	if !s.IsConfigured() {
		return ErrNotConfigured
	}
	to := validRecipients(msg.To)
	if len(to) == 0 {
		return ErrNoRecipient
	}

	raw, err := s.build(to, msg)
	if err != nil {
		return err
	}
	if err := s.send(s.server, s.auth, s.config.From, to, raw); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func validRecipients(addrs []string) []string {
	out := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		parsed, err := mail.ParseAddress(strings.TrimSpace(addr))
		if err != nil {
			continue
		}
		out = append(out, parsed.Address)
	}
	return out
}

// build writes a multipart/mixed message: an alternative text/html body
// followed by base64 attachments.
func (s *Service) build(to []string, msg Message) ([]byte, error) {
	from := (&mail.Address{Name: s.config.FromName, Address: s.config.From}).String()

	var buf bytes.Buffer
	mixed := multipart.NewWriter(&buf)

	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	fmt.Fprintf(&buf, "Date: %s\r\n", s.now().Format(time.RFC1123Z))
	fmt.Fprintf(&buf, "Message-ID: <%s@%s>\r\n", uuid.NewString(), domainOf(s.config.From))
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", mixed.Boundary())

	var body bytes.Buffer
	alt := multipart.NewWriter(&body)
	text := msg.Text
	if text == "" {
		text = "Please view this email in an HTML-capable email client."
	}
	if err := writePart(alt, "text/plain; charset=UTF-8", "", []byte(text)); err != nil {
		return nil, err
	}
	if msg.HTML != "" {
		if err := writePart(alt, "text/html; charset=UTF-8", "", []byte(msg.HTML)); err != nil {
			return nil, err
		}
	}
	if err := alt.Close(); err != nil {
		return nil, err
	}

	header := textproto.MIMEHeader{}
	header.Set("Content-Type", fmt.Sprintf("multipart/alternative; boundary=%q", alt.Boundary()))
	part, err := mixed.CreatePart(header)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(body.Bytes()); err != nil {
		return nil, err
	}

	for _, a := range msg.Attachments {
		disposition := mime.FormatMediaType("attachment", map[string]string{"filename": a.Filename})
		if err := writePart(mixed, a.ContentType, disposition, a.Data); err != nil {
			return nil, err
		}
	}
	if err := mixed.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writePart(w *multipart.Writer, contentType, disposition string, data []byte) error {
	header := textproto.MIMEHeader{}
	header.Set("Content-Type", contentType)
	header.Set("Content-Transfer-Encoding", "base64")
	if disposition != "" {
		header.Set("Content-Disposition", disposition)
	}
	part, err := w.CreatePart(header)
	if err != nil {
		return err
	}
	encoded := base64.StdEncoding.EncodeToString(data)
	for len(encoded) > 76 {
		if _, err := part.Write([]byte(encoded[:76] + "\r\n")); err != nil {
			return err
		}
		encoded = encoded[76:]
	}
	_, err = part.Write([]byte(encoded + "\r\n"))
	return err
}

func domainOf(addr string) string {
	if i := strings.LastIndex(addr, "@"); i >= 0 && i < len(addr)-1 {
		return addr[i+1:]
	}
	return "localhost"
}
