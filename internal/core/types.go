// Package core defines the fundamental types for EventFlow.
// Every other package builds on these.
package core

import (
	"time"
)

// -----------------------------------------------------------------------------
// USER - account that owns suggestions, events and connectors
// -----------------------------------------------------------------------------

// UserID is a type-safe identifier for users
type UserID string

// User represents an account. Events and suggestions are exclusively owned
// by one user; there is no cross-user sharing.
type User struct {
	ID        UserID    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	APIToken  string    `json:"-"` // bearer token for the HTTP API
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UserSettings holds per-user policy. Created lazily on first write,
// defaulted on first read.
type UserSettings struct {
	UserID             UserID    `json:"user_id"`
	Timezone           string    `json:"timezone"`            // IANA name, default UTC
	DefaultReminder    int       `json:"default_reminder"`    // minutes before start
	AutoApprove        bool      `json:"auto_approve"`        // sweep may promote suggestions
	ConfidenceMin      float64   `json:"confidence_min"`      // [0,1], default 0.7
	EmailNotifications bool      `json:"email_notifications"` // default true
	UpdatedAt          time.Time `json:"updated_at"`
}

// DefaultSettings returns the policy applied before a user ever saves settings.
func DefaultSettings(userID UserID) *UserSettings {
	return &UserSettings{
		UserID:             userID,
		Timezone:           "UTC",
		DefaultReminder:    30,
		AutoApprove:        false,
		ConfidenceMin:      0.7,
		EmailNotifications: true,
	}
}

// -----------------------------------------------------------------------------
// SUGGESTION - a candidate event awaiting a decision
// -----------------------------------------------------------------------------

// SuggestionID is a type-safe identifier for suggestions
type SuggestionID string

// SuggestionStatus is the lifecycle state of a suggestion
type SuggestionStatus string

const (
	StatusPending  SuggestionStatus = "PENDING"
	StatusApproved SuggestionStatus = "APPROVED"
	StatusRejected SuggestionStatus = "REJECTED"
	StatusSnoozed  SuggestionStatus = "SNOOZED"
)

// Source tags where a suggestion's text came from
type Source string

const (
	SourceGmail           Source = "gmail"
	SourceQuickAdd        Source = "quick_add"
	SourceSMS             Source = "sms"
	SourceChromeExtension Source = "chrome_extension"
)

// SourceMeta carries opaque provenance context alongside the raw text.
type SourceMeta struct {
	MessageID string `json:"message_id,omitempty"`
	Subject   string `json:"subject,omitempty"`
	From      string `json:"from,omitempty"`
	Locale    string `json:"locale,omitempty"`
	URL       string `json:"url,omitempty"`
}

// Suggestion is a candidate event extracted from noisy input, waiting for a
// human or policy decision. EventID is set exactly once, on approval.
type Suggestion struct {
	ID           SuggestionID     `json:"id"`
	UserID       UserID           `json:"user_id"`
	Title        string           `json:"title"`
	Description  string           `json:"description,omitempty"`
	Start        *time.Time       `json:"start,omitempty"`
	End          *time.Time       `json:"end,omitempty"`
	Timezone     string           `json:"timezone"`
	Location     string           `json:"location,omitempty"`
	Attendees    []string         `json:"attendees"`
	Reminders    []int            `json:"reminders"` // minute offsets, defaults to [30]
	Recurrence   string           `json:"recurrence,omitempty"`
	Confidence   float64          `json:"confidence"` // [0,1] after rule boosts
	RawText      string           `json:"raw_text"`   // original source text, kept for audit
	Source       Source           `json:"source"`
	SourceMeta   *SourceMeta      `json:"source_meta,omitempty"`
	Status       SuggestionStatus `json:"status"`
	ApprovedAt   *time.Time       `json:"approved_at,omitempty"`
	SnoozedUntil *time.Time       `json:"snoozed_until,omitempty"`
	EventID      *EventID         `json:"event_id,omitempty"` // non-nil iff APPROVED
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// -----------------------------------------------------------------------------
// EVENT - a committed calendar entry
// -----------------------------------------------------------------------------

// EventID is a type-safe identifier for events
type EventID string

// Event is a durable, user-owned calendar entry. Created exactly once, either
// directly or by approving a suggestion. External calendar linkage ids are
// filled in by the sync collaborator, best-effort.
type Event struct {
	ID          EventID    `json:"id"`
	UserID      UserID     `json:"user_id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Start       time.Time  `json:"start"`
	End         *time.Time `json:"end,omitempty"`
	Timezone    string     `json:"timezone"`
	Location    string     `json:"location,omitempty"`
	Attendees   []string   `json:"attendees"`
	Reminders   []int      `json:"reminders"`
	Recurrence  string     `json:"recurrence,omitempty"`

	// Provenance, carried over from the suggestion when approved
	Source     Source  `json:"source,omitempty"`
	RawText    string  `json:"raw_text,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`

	// External calendar linkage
	GoogleEventID  string `json:"google_event_id,omitempty"`
	OutlookEventID string `json:"outlook_event_id,omitempty"`
	AppleEventID   string `json:"apple_event_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// -----------------------------------------------------------------------------
// CONNECTOR - a linked external mailbox/calendar
// -----------------------------------------------------------------------------

// ConnectorID is a type-safe identifier for connectors
type ConnectorID string

// Provider identifies the external service a connector talks to
type Provider string

const (
	ProviderGmail          Provider = "GMAIL"
	ProviderGoogleCalendar Provider = "GOOGLE_CALENDAR"
	ProviderAppleCalendar  Provider = "APPLE_CALENDAR"
)

// Connector is a configured link to an external mailbox or calendar, used as
// a suggestion source and as a sync target.
type Connector struct {
	ID           ConnectorID `json:"id"`
	UserID       UserID      `json:"user_id"`
	Provider     Provider    `json:"provider"`
	Email        string      `json:"email"`
	Enabled      bool        `json:"enabled"`
	TokenJSON    string      `json:"-"` // serialized oauth2.Token
	LastPolled   *time.Time  `json:"last_polled,omitempty"`
	PollInterval int         `json:"poll_interval"`        // seconds between polls
	HistoryID    uint64      `json:"history_id,omitempty"` // gmail incremental cursor
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}
