// Package mailer notifies the cyber cell inbox of new complaints over SMTP,
// encrypting the contents with OpenPGP when a public key is configured.
package mailer

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"mime/multipart"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
)

var ErrNotConfigured = errors.New("mailer: not configured")

type Config struct {
	Host         string
	Port         int
	User         string
	Pass         string
	FromName     string
	FromAddress  string
	To           []string
	PGPPublicKey string
}

// Enabled reports whether there is a server and somewhere to send to.
func (c *Config) Enabled() bool {
	return c != nil && c.Host != "" && len(c.To) > 0
}

type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

type Message struct {
	To          []string
	Subject     string
	Body        string
	IsHTML      bool
	Attachments []Attachment
}

type Mailer struct {
	mu     sync.RWMutex
	cfg    *Config
	sendFn func(Message) error
}

func New(cfg *Config) *Mailer {
	if cfg == nil {
		cfg = &Config{}
	}
	return &Mailer{cfg: cfg}
}

// Reconfigure swaps the configuration used by subsequent sends.
func (m *Mailer) Reconfigure(cfg *Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = cfg
}

func (m *Mailer) config() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Mailer) Enabled() bool {
	return m.config().Enabled() || m.sendFn != nil
}

// CanEncrypt returns nil if the configured public key parses.
func (m *Mailer) CanEncrypt() error {
	key := m.config().PGPPublicKey
	if key == "" {
		return fmt.Errorf("no PGP public key configured")
	}
	if _, err := openpgp.ReadArmoredKeyRing(strings.NewReader(key)); err != nil {
		return fmt.Errorf("parse PGP public key: %w", err)
	}
	return nil
}

// Ping checks that the SMTP server accepts connections.
func (m *Mailer) Ping() error {
	cfg := m.config()
	if cfg.Host == "" {
		return ErrNotConfigured
	}
	conn, err := net.DialTimeout("tcp", cfg.addr(), 5*time.Second)
	if err != nil {
		return fmt.Errorf("dial smtp: %w", err)
	}
	c, err := smtp.NewClient(conn, cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	return c.Quit()
}

// SendComplaint sends a complaint summary and its evidence immediately.
func (m *Mailer) SendComplaint(subject, summary string, evidence []Attachment) error {
	msg, err := buildComplaintMessage(m.config(), subject, summary, evidence)
	if err != nil {
		return err
	}
	return m.send(msg)
}

// buildComplaintMessage addresses the message to the configured inbox. With a
// public key the summary and attachments are encrypted into a single armored
// body.
func buildComplaintMessage(cfg *Config, subject, summary string, evidence []Attachment) (Message, error) {
	msg := Message{To: cfg.To, Subject: subject}
	if cfg.PGPPublicKey == "" {
		msg.Body = summary
		msg.Attachments = evidence
		return msg, nil
	}

	inner := []byte(summary)
	if len(evidence) > 0 {
		var err error
		if inner, err = mimeBody(summary, evidence); err != nil {
			return Message{}, fmt.Errorf("build mime body: %w", err)
		}
	}
	encrypted, err := encryptBody(cfg.PGPPublicKey, string(inner))
	if err != nil {
		return Message{}, fmt.Errorf("encrypt complaint: %w", err)
	}
	msg.Body = encrypted
	return msg, nil
}

func (m *Mailer) send(msg Message) error {
	if m.sendFn != nil {
		return m.sendFn(msg)
	}
	cfg := m.config()
	if !cfg.Enabled() {
		return ErrNotConfigured
	}
	to := msg.To
	if len(to) == 0 {
		to = cfg.To
	}

	var auth smtp.Auth
	if cfg.User != "" {
		auth = smtp.PlainAuth("", cfg.User, cfg.Pass, cfg.Host)
	}
	return smtp.SendMail(cfg.addr(), auth, cfg.FromAddress, to, []byte(m.formatMessage(msg)))
}

func (c *Config) addr() string {
	port := c.Port
	if port == 0 {
		port = 587
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

func (m *Mailer) formatMessage(msg Message) string {
	cfg := m.config()

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s <%s>\r\n", cfg.FromName, cfg.FromAddress)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(msg.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", sanitizeHeader(msg.Subject))
	b.WriteString("MIME-Version: 1.0\r\n")

	if len(msg.Attachments) > 0 {
		body, err := mimeBody(msg.Body, msg.Attachments)
		if err == nil {
			b.Write(body)
			return b.String()
		}
		// Fall through to a plain message without the attachments.
	}

	contentType := "text/plain"
	if msg.IsHTML {
		contentType = "text/html"
	}
	fmt.Fprintf(&b, "Content-Type: %s; charset=UTF-8\r\n", contentType)
	b.WriteString("\r\n")
	b.WriteString(msg.Body)
	return b.String()
}

// mimeBody renders a multipart/mixed entity, starting with its own
// Content-Type header, holding the text and base64 attachments.
func mimeBody(text string, attachments []Attachment) ([]byte, error) {
	var parts bytes.Buffer
	w := multipart.NewWriter(&parts)

	textHeader := textproto.MIMEHeader{}
	textHeader.Set("Content-Type", "text/plain; charset=UTF-8")
	textPart, err := w.CreatePart(textHeader)
	if err != nil {
		return nil, err
	}
	if _, err := textPart.Write([]byte(text)); err != nil {
		return nil, err
	}

	for _, att := range attachments {
		h := textproto.MIMEHeader{}
		h.Set("Content-Type", att.ContentType)
		h.Set("Content-Transfer-Encoding", "base64")
		h.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", att.Filename))
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, err
		}
		encoded := base64.StdEncoding.EncodeToString(att.Data)
		// 76-character lines per RFC 2045
		for i := 0; i < len(encoded); i += 76 {
			end := min(i+76, len(encoded))
			if _, err := part.Write([]byte(encoded[i:end] + "\r\n")); err != nil {
				return nil, err
			}
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	var out bytes.Buffer
	fmt.Fprintf(&out, "Content-Type: multipart/mixed; boundary=%s\r\n\r\n", w.Boundary())
	out.Write(parts.Bytes())
	return out.Bytes(), nil
}

// encryptBody returns body encrypted to the armored public key, itself
// armored.
func encryptBody(pubKey, body string) (string, error) {
	entities, err := openpgp.ReadArmoredKeyRing(strings.NewReader(pubKey))
	if err != nil {
		return "", fmt.Errorf("parsing public key: %w", err)
	}

	var buf bytes.Buffer
	armorWriter, err := armor.Encode(&buf, "PGP MESSAGE", nil)
	if err != nil {
		return "", fmt.Errorf("creating armor writer: %w", err)
	}
	encWriter, err := openpgp.Encrypt(armorWriter, entities, nil, nil, nil)
	if err != nil {
		return "", fmt.Errorf("creating encrypt writer: %w", err)
	}
	if _, err := encWriter.Write([]byte(body)); err != nil {
		return "", fmt.Errorf("writing encrypted data: %w", err)
	}
	if err := encWriter.Close(); err != nil {
		return "", err
	}
	if err := armorWriter.Close(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func sanitizeHeader(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}
