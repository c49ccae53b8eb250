package email

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/eventflow/eventflow/internal/core"
)

func TestDefaultConfig(t *testing.T) {
	origHost := os.Getenv("SMTP_HOST")
	origPort := os.Getenv("SMTP_PORT")
	defer func() {
		os.Setenv("SMTP_HOST", origHost)
		os.Setenv("SMTP_PORT", origPort)
	}()

	os.Setenv("SMTP_HOST", "smtp.test.com")
	os.Setenv("SMTP_PORT", "465")

	cfg := DefaultConfig()

	if cfg.SMTPHost != "smtp.test.com" {
		t.Errorf("SMTPHost = %v, want smtp.test.com", cfg.SMTPHost)
	}
	if cfg.SMTPPort != 465 {
		t.Errorf("SMTPPort = %d, want 465", cfg.SMTPPort)
	}
	if cfg.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", cfg.Timeout)
	}
}

func TestDefaultConfig_DefaultPort(t *testing.T) {
	origPort := os.Getenv("SMTP_PORT")
	defer os.Setenv("SMTP_PORT", origPort)

	os.Unsetenv("SMTP_PORT")
	cfg := DefaultConfig()

	if cfg.SMTPPort != 587 {
		t.Errorf("SMTPPort = %d, want 587 (default)", cfg.SMTPPort)
	}
}

func TestSender_IsConfigured(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want bool
	}{
		{"fully configured", Config{SMTPHost: "smtp.test.com", FromEmail: "a@b.com"}, true},
		{"missing host", Config{FromEmail: "a@b.com"}, false},
		{"missing from", Config{SMTPHost: "smtp.test.com"}, false},
		{"empty", Config{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NewSender(tt.cfg).IsConfigured(); got != tt.want {
				t.Errorf("IsConfigured() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSender_Send_NotConfigured(t *testing.T) {
	s := NewSender(Config{})
	err := s.Send(context.Background(), &Message{To: []string{"x@y.com"}, Subject: "hi"})
	if !errors.Is(err, core.ErrNotConfigured) {
		t.Errorf("err = %v, want ErrNotConfigured", err)
	}
}

func TestSender_Notify_NotConfigured(t *testing.T) {
	// Notify must swallow the missing configuration, not panic or error.
	s := NewSender(Config{})
	s.Notify(context.Background(), &Message{To: []string{"x@y.com"}, Subject: "hi"})
}

func testSender() *Sender {
	return NewSender(Config{
		SMTPHost:  "smtp.test.com",
		SMTPPort:  587,
		FromEmail: "noreply@eventflow.test",
		FromName:  "EventFlow",
	})
}

func TestSender_buildEmail_TextOnly(t *testing.T) {
	email, err := testSender().buildEmail(&Message{
		To:       []string{"user@test.com"},
		Subject:  "Test subject",
		TextBody: "plain body",
	})
	if err != nil {
		t.Fatalf("buildEmail: %v", err)
	}

	s := string(email)
	for _, want := range []string{
		"From: EventFlow <noreply@eventflow.test>",
		"To: user@test.com",
		"Subject: Test subject",
		"Content-Type: text/plain; charset=UTF-8",
		"plain body",
	} {
		if !strings.Contains(s, want) {
			t.Errorf("email missing %q", want)
		}
	}
}

func TestSender_buildEmail_Multipart(t *testing.T) {
	email, err := testSender().buildEmail(&Message{
		To:       []string{"user@test.com"},
		Subject:  "Test",
		TextBody: "text version",
		HTMLBody: "<p>html version</p>",
	})
	if err != nil {
		t.Fatalf("buildEmail: %v", err)
	}

	s := string(email)
	if !strings.Contains(s, "multipart/alternative") {
		t.Error("missing multipart/alternative content type")
	}
	if !strings.Contains(s, "text version") || !strings.Contains(s, "<p>html version</p>") {
		t.Error("missing body parts")
	}
}

func TestSender_buildEmail_WithAttachment(t *testing.T) {
	email, err := testSender().buildEmail(&Message{
		To:       []string{"user@test.com"},
		Subject:  "Invite",
		TextBody: "see attached",
		Attachments: []Attachment{{
			Filename:    "invite.ics",
			ContentType: "text/calendar; method=PUBLISH",
			Data:        []byte("BEGIN:VCALENDAR"),
		}},
	})
	if err != nil {
		t.Fatalf("buildEmail: %v", err)
	}

	s := string(email)
	if !strings.Contains(s, "multipart/mixed") {
		t.Error("missing multipart/mixed content type")
	}
	if !strings.Contains(s, `filename="invite.ics"`) {
		t.Error("missing attachment disposition")
	}
	if !strings.Contains(s, "Content-Transfer-Encoding: base64") {
		t.Error("attachment not base64 encoded")
	}
}

func TestSender_buildEmail_CustomHeaders(t *testing.T) {
	email, err := testSender().buildEmail(&Message{
		To:       []string{"user@test.com"},
		Subject:  "Test",
		TextBody: "body",
		Headers:  map[string]string{"X-EventFlow-Type": "reminder"},
	})
	if err != nil {
		t.Fatalf("buildEmail: %v", err)
	}

	if !strings.Contains(string(email), "X-EventFlow-Type: reminder") {
		t.Error("custom header missing")
	}
}

func TestSendSuggestionNotification_NotConfigured(t *testing.T) {
	start := time.Date(2026, 9, 15, 10, 0, 0, 0, time.UTC)
	sg := &core.Suggestion{
		Title:      "Vizsga",
		Start:      &start,
		Confidence: 0.85,
		Source:     core.SourceGmail,
	}

	// Best-effort path: no SMTP config means a logged no-op.
	NewSender(Config{}).SendSuggestionNotification(context.Background(), "user@test.com", sg)
}
