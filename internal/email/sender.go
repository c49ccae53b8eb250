// Package email delivers notification mail over SMTP.
package email

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net"
	"net/smtp"
	"os"
	"strings"
	"time"

	"github.com/eventflow/eventflow/internal/core"
	"github.com/eventflow/eventflow/internal/logging"
)

// Config configures the SMTP sender
type Config struct {
	SMTPHost    string
	SMTPPort    int
	Username    string
	Password    string
	FromEmail   string
	FromName    string
	UseTLS      bool
	UseStartTLS bool
	Timeout     time.Duration
}

// DefaultConfig returns config from environment
func DefaultConfig() Config {
	port := 587
	if os.Getenv("SMTP_PORT") != "" {
		fmt.Sscanf(os.Getenv("SMTP_PORT"), "%d", &port)
	}

	return Config{
		SMTPHost:    os.Getenv("SMTP_HOST"),
		SMTPPort:    port,
		Username:    os.Getenv("SMTP_USERNAME"),
		Password:    os.Getenv("SMTP_PASSWORD"),
		FromEmail:   os.Getenv("SMTP_FROM_EMAIL"),
		FromName:    getEnvOrDefault("SMTP_FROM_NAME", "EventFlow"),
		UseTLS:      os.Getenv("SMTP_USE_TLS") == "true",
		UseStartTLS: getEnvOrDefault("SMTP_USE_STARTTLS", "true") == "true",
		Timeout:     30 * time.Second,
	}
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// Sender handles email delivery
type Sender struct {
	config Config
}

// NewSender creates an email sender
func NewSender(cfg Config) *Sender {
	return &Sender{config: cfg}
}

// Message represents an outgoing email
type Message struct {
	To          []string
	Subject     string
	TextBody    string
	HTMLBody    string
	Attachments []Attachment
	Headers     map[string]string
}

// Attachment represents an email attachment
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// IsConfigured reports whether SMTP delivery is set up at all
func (s *Sender) IsConfigured() bool {
	return s.config.SMTPHost != "" && s.config.FromEmail != ""
}

// Send delivers a message. Returns core.ErrNotConfigured when no SMTP host
// is set; callers that treat mail as best-effort should use Notify instead.
func (s *Sender) Send(ctx context.Context, msg *Message) error {
	if !s.IsConfigured() {
		return core.ErrNotConfigured
	}

	email, err := s.buildEmail(msg)
	if err != nil {
		return fmt.Errorf("build email: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", s.config.SMTPHost, s.config.SMTPPort)

	var conn net.Conn
	dialer := net.Dialer{Timeout: s.config.Timeout}

	if s.config.UseTLS {
		tlsConfig := &tls.Config{ServerName: s.config.SMTPHost}
		conn, err = tls.DialWithDialer(&dialer, "tcp", addr, tlsConfig)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("connect to SMTP server: %w", err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, s.config.SMTPHost)
	if err != nil {
		return fmt.Errorf("create SMTP client: %w", err)
	}
	defer client.Close()

	if s.config.UseStartTLS && !s.config.UseTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			tlsConfig := &tls.Config{ServerName: s.config.SMTPHost}
			if err := client.StartTLS(tlsConfig); err != nil {
				return fmt.Errorf("STARTTLS failed: %w", err)
			}
		}
	}

	if s.config.Username != "" && s.config.Password != "" {
		auth := smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.SMTPHost)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("authentication failed: %w", err)
		}
	}

	if err := client.Mail(s.config.FromEmail); err != nil {
		return fmt.Errorf("MAIL FROM failed: %w", err)
	}
	for _, rcpt := range msg.To {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("RCPT TO failed for %s: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA command failed: %w", err)
	}
	if _, err := w.Write(email); err != nil {
		return fmt.Errorf("write email data: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close data writer: %w", err)
	}

	return client.Quit()
}

// Notify sends best-effort. Delivery failures and missing configuration are
// logged and swallowed so notification mail can never fail a pipeline.
func (s *Sender) Notify(ctx context.Context, msg *Message) {
	if !s.IsConfigured() {
		logging.Debug("email not configured, skipping %q", msg.Subject)
		return
	}
	if err := s.Send(ctx, msg); err != nil {
		logging.WithField("subject", msg.Subject).Warn("notification email failed: %v", err)
	}
}

// SendSuggestionNotification tells a user an event was auto-approved on
// their behalf.
func (s *Sender) SendSuggestionNotification(ctx context.Context, to string, sg *core.Suggestion) {
	title := sg.Title
	if title == "" {
		title = "Untitled event"
	}

	var when string
	if sg.Start != nil {
		when = sg.Start.Format("Mon, Jan 2 2006 15:04")
	} else {
		when = "time to be confirmed"
	}

	body := fmt.Sprintf(
		"EventFlow added %q to your calendar (%s).\n\nConfidence: %.0f%%\nSource: %s\n\nOpen EventFlow to review or undo.",
		title, when, sg.Confidence*100, sg.Source,
	)

	s.Notify(ctx, &Message{
		To:       []string{to},
		Subject:  fmt.Sprintf("Event added: %s", title),
		TextBody: body,
		Headers:  map[string]string{"X-EventFlow-Type": "auto-approve"},
	})
}

// SendEventReminder sends an upcoming event reminder
func (s *Sender) SendEventReminder(ctx context.Context, to string, ev *core.Event) {
	lines := []string{
		fmt.Sprintf("Reminder: %s", ev.Title),
		fmt.Sprintf("Starts: %s", ev.Start.Format("Mon, Jan 2 2006 15:04")),
	}
	if ev.Location != "" {
		lines = append(lines, fmt.Sprintf("Location: %s", ev.Location))
	}

	s.Notify(ctx, &Message{
		To:       []string{to},
		Subject:  fmt.Sprintf("Reminder: %s", ev.Title),
		TextBody: strings.Join(lines, "\n"),
		Headers:  map[string]string{"X-EventFlow-Type": "reminder"},
	})
}

// SendInvite delivers an ICS calendar file as an attachment. Used for the
// Apple Calendar path, which has no API and imports events from mail.
func (s *Sender) SendInvite(ctx context.Context, to string, ev *core.Event, ics []byte) error {
	return s.Send(ctx, &Message{
		To:       []string{to},
		Subject:  fmt.Sprintf("Calendar invite: %s", ev.Title),
		TextBody: fmt.Sprintf("Attached is the calendar file for %q. Open it to add the event.", ev.Title),
		Attachments: []Attachment{{
			Filename:    "invite.ics",
			ContentType: "text/calendar; method=PUBLISH",
			Data:        ics,
		}},
		Headers: map[string]string{"X-EventFlow-Type": "invite"},
	})
}

// buildEmail constructs the raw RFC 5322 message bytes
func (s *Sender) buildEmail(msg *Message) ([]byte, error) {
	var buf bytes.Buffer

	boundary := fmt.Sprintf("----=_Part_%d", time.Now().UnixNano())

	buf.WriteString(fmt.Sprintf("From: %s <%s>\r\n", s.config.FromName, s.config.FromEmail))
	buf.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(msg.To, ", ")))
	buf.WriteString(fmt.Sprintf("Subject: %s\r\n", msg.Subject))
	buf.WriteString(fmt.Sprintf("Date: %s\r\n", time.Now().Format(time.RFC1123Z)))
	buf.WriteString("MIME-Version: 1.0\r\n")

	for key, value := range msg.Headers {
		buf.WriteString(fmt.Sprintf("%s: %s\r\n", key, value))
	}

	hasHTML := msg.HTMLBody != ""
	hasText := msg.TextBody != ""

	switch {
	case len(msg.Attachments) > 0:
		buf.WriteString(fmt.Sprintf("Content-Type: multipart/mixed; boundary=\"%s\"\r\n\r\n", boundary))

		if hasText {
			buf.WriteString(fmt.Sprintf("--%s\r\n", boundary))
			buf.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
			buf.WriteString(msg.TextBody)
			buf.WriteString("\r\n")
		}
		if hasHTML {
			buf.WriteString(fmt.Sprintf("--%s\r\n", boundary))
			buf.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
			buf.WriteString(msg.HTMLBody)
			buf.WriteString("\r\n")
		}

		for _, att := range msg.Attachments {
			buf.WriteString(fmt.Sprintf("--%s\r\n", boundary))
			buf.WriteString(fmt.Sprintf("Content-Type: %s; name=\"%s\"\r\n", att.ContentType, att.Filename))
			buf.WriteString("Content-Transfer-Encoding: base64\r\n")
			buf.WriteString(fmt.Sprintf("Content-Disposition: attachment; filename=\"%s\"\r\n\r\n", att.Filename))
			buf.WriteString(base64.StdEncoding.EncodeToString(att.Data))
			buf.WriteString("\r\n")
		}

		buf.WriteString(fmt.Sprintf("--%s--\r\n", boundary))

	case hasHTML && hasText:
		buf.WriteString(fmt.Sprintf("Content-Type: multipart/alternative; boundary=\"%s\"\r\n\r\n", boundary))

		buf.WriteString(fmt.Sprintf("--%s\r\n", boundary))
		buf.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
		buf.WriteString(msg.TextBody)
		buf.WriteString("\r\n")

		buf.WriteString(fmt.Sprintf("--%s\r\n", boundary))
		buf.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
		buf.WriteString(msg.HTMLBody)
		buf.WriteString("\r\n")

		buf.WriteString(fmt.Sprintf("--%s--\r\n", boundary))

	case hasHTML:
		buf.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
		buf.WriteString(msg.HTMLBody)

	default:
		buf.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
		buf.WriteString(msg.TextBody)
	}

	return buf.Bytes(), nil
}
