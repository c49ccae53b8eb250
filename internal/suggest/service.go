// Package suggest implements the suggestion lifecycle: create, list, approve,
// reject, snooze. Approval is the only path that creates an event from a
// suggestion, and it happens exactly once per suggestion.
package suggest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/eventflow/eventflow/internal/audit"
	"github.com/eventflow/eventflow/internal/auth"
	"github.com/eventflow/eventflow/internal/calsync"
	"github.com/eventflow/eventflow/internal/core"
	"github.com/eventflow/eventflow/internal/storage"
)

// EventSync pushes approved events to external calendars, best-effort
type EventSync interface {
	SyncEvent(ctx context.Context, ev *core.Event)
}

// Broadcaster pushes live updates to connected clients, best-effort
type Broadcaster interface {
	Broadcast(userID core.UserID, kind string, payload interface{})
}

// Service coordinates the suggestion state machine
type Service struct {
	suggestions *storage.SuggestionStore
	events      *storage.EventStore
	users       *storage.UserStore
	audit       *audit.Log

	sync      EventSync   // optional
	broadcast Broadcaster // optional

	now func() time.Time
}

// NewService creates the lifecycle service. sync and broadcast may be nil;
// both are side channels that never affect the state machine.
func NewService(suggestions *storage.SuggestionStore, events *storage.EventStore, users *storage.UserStore, auditLog *audit.Log, sync EventSync, broadcast Broadcaster) *Service {
	return &Service{
		suggestions: suggestions,
		events:      events,
		users:       users,
		audit:       auditLog,
		sync:        sync,
		broadcast:   broadcast,
		now:         time.Now,
	}
}

// SetClock overrides the time source, for tests
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// CreateInput is a new suggestion. Title and Start may be absent; a
// suggestion is allowed to be vague, an event is not.
type CreateInput struct {
	Title       string
	Description string
	Start       *time.Time
	End         *time.Time
	Timezone    string
	Location    string
	Attendees   []string
	Reminders   []int
	Recurrence  string
	Confidence  float64
	RawText     string
	Source      core.Source
	SourceMeta  *core.SourceMeta
}

// Create validates and stores a new PENDING suggestion
func (s *Service) Create(ctx context.Context, actor auth.Actor, in CreateInput) (*core.Suggestion, error) {
	if err := s.validate(&in); err != nil {
		return nil, err
	}

	settings, err := s.users.GetSettings(actor.UserID)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	if in.Timezone == "" {
		in.Timezone = settings.Timezone
	}
	if len(in.Reminders) == 0 {
		in.Reminders = []int{settings.DefaultReminder}
	}

	sg := &core.Suggestion{
		ID:          core.SuggestionID(uuid.New().String()),
		UserID:      actor.UserID,
		Title:       in.Title,
		Description: in.Description,
		Start:       in.Start,
		End:         in.End,
		Timezone:    in.Timezone,
		Location:    in.Location,
		Attendees:   in.Attendees,
		Reminders:   in.Reminders,
		Recurrence:  in.Recurrence,
		Confidence:  in.Confidence,
		RawText:     in.RawText,
		Source:      in.Source,
		SourceMeta:  in.SourceMeta,
		Status:      core.StatusPending,
	}

	if err := s.suggestions.Create(sg); err != nil {
		return nil, fmt.Errorf("store suggestion: %w", err)
	}

	s.audit.Record(audit.ActionSuggestionCreated, "suggestion", string(sg.ID), sg.UserID, actor.Name(), map[string]interface{}{
		"source":     string(sg.Source),
		"confidence": sg.Confidence,
	})
	s.notify(sg.UserID, "suggestion.created", sg)

	return sg, nil
}

// Get returns one suggestion. Foreign suggestions are indistinguishable from
// missing ones.
func (s *Service) Get(ctx context.Context, actor auth.Actor, id core.SuggestionID) (*core.Suggestion, error) {
	if err := auth.RequireOwner(actor, s.suggestions, string(id), core.ErrSuggestionNotFound); err != nil {
		return nil, err
	}
	return s.suggestions.GetByID(id)
}

// List returns the actor's suggestions, optionally filtered by status.
// Elapsed snoozes are released first so they show up as PENDING.
func (s *Service) List(ctx context.Context, actor auth.Actor, status core.SuggestionStatus, limit int) ([]*core.Suggestion, error) {
	if _, err := s.suggestions.ReleaseSnoozed(actor.UserID, s.now()); err != nil {
		return nil, fmt.Errorf("release snoozed: %w", err)
	}
	return s.suggestions.ListByUser(actor.UserID, status, limit)
}

// Counts returns the actor's suggestion counts per status
func (s *Service) Counts(ctx context.Context, actor auth.Actor) (map[core.SuggestionStatus]int, error) {
	return s.suggestions.CountByStatus(actor.UserID)
}

// Approve promotes a PENDING suggestion into an event. The promotion is a
// single transaction keyed on the PENDING status, so two concurrent approvals
// produce exactly one event; the loser gets ErrInvalidState.
func (s *Service) Approve(ctx context.Context, actor auth.Actor, id core.SuggestionID) (*core.Event, error) {
	if err := auth.RequireOwner(actor, s.suggestions, string(id), core.ErrSuggestionNotFound); err != nil {
		return nil, err
	}

	// An elapsed snooze counts as pending again.
	if _, err := s.suggestions.ReleaseSnoozed(actor.UserID, s.now()); err != nil {
		return nil, fmt.Errorf("release snoozed: %w", err)
	}

	sg, err := s.suggestions.GetByID(id)
	if err != nil {
		return nil, err
	}

	event := s.buildEvent(sg)
	approvedAt := s.now()

	if err := s.suggestions.Promote(sg, event, approvedAt); err != nil {
		return nil, err
	}

	sg.Status = core.StatusApproved
	sg.ApprovedAt = &approvedAt
	sg.EventID = &event.ID

	s.audit.Record(audit.ActionSuggestionApproved, "suggestion", string(sg.ID), sg.UserID, actor.Name(), map[string]interface{}{
		"event_id":   string(event.ID),
		"confidence": sg.Confidence,
	})
	s.audit.Record(audit.ActionEventCreated, "event", string(event.ID), event.UserID, actor.Name(), map[string]interface{}{
		"suggestion_id": string(sg.ID),
	})

	if s.sync != nil {
		s.sync.SyncEvent(ctx, event)
	}
	s.notify(sg.UserID, "suggestion.approved", sg)

	return event, nil
}

// Reject marks a suggestion REJECTED. Terminal states stay put:
// rejecting an approved suggestion is ErrInvalidState, and the event it
// produced is untouched.
func (s *Service) Reject(ctx context.Context, actor auth.Actor, id core.SuggestionID) error {
	if err := auth.RequireOwner(actor, s.suggestions, string(id), core.ErrSuggestionNotFound); err != nil {
		return err
	}

	if err := s.suggestions.SetStatus(id, core.StatusRejected, nil); err != nil {
		return err
	}

	s.audit.Record(audit.ActionSuggestionRejected, "suggestion", string(id), actor.UserID, actor.Name(), nil)
	s.notify(actor.UserID, "suggestion.rejected", map[string]string{"id": string(id)})

	return nil
}

// Snooze hides a suggestion until the given time
func (s *Service) Snooze(ctx context.Context, actor auth.Actor, id core.SuggestionID, until time.Time) error {
	if err := auth.RequireOwner(actor, s.suggestions, string(id), core.ErrSuggestionNotFound); err != nil {
		return err
	}
	if !until.After(s.now()) {
		return fmt.Errorf("%w: snooze time must be in the future", core.ErrValidation)
	}

	if err := s.suggestions.SetStatus(id, core.StatusSnoozed, &until); err != nil {
		return err
	}

	s.audit.Record(audit.ActionSuggestionSnoozed, "suggestion", string(id), actor.UserID, actor.Name(), map[string]interface{}{
		"until": until.UTC().Format(time.RFC3339),
	})
	s.notify(actor.UserID, "suggestion.snoozed", map[string]string{"id": string(id)})

	return nil
}

// buildEvent carries the suggestion's fields into a concrete event. A
// suggestion without a start becomes an event starting now; the user asked
// for it explicitly, so "now" beats refusing.
func (s *Service) buildEvent(sg *core.Suggestion) *core.Event {
	start := s.now()
	if sg.Start != nil {
		start = *sg.Start
	}

	title := sg.Title
	if title == "" {
		title = "Untitled"
	}

	return &core.Event{
		ID:          core.EventID(uuid.New().String()),
		UserID:      sg.UserID,
		Title:       title,
		Description: sg.Description,
		Start:       start,
		End:         sg.End,
		Timezone:    sg.Timezone,
		Location:    sg.Location,
		Attendees:   sg.Attendees,
		Reminders:   sg.Reminders,
		Recurrence:  sg.Recurrence,
		Source:      sg.Source,
		RawText:     sg.RawText,
		Confidence:  sg.Confidence,
	}
}

func (s *Service) validate(in *CreateInput) error {
	if in.Source == "" {
		return fmt.Errorf("%w: source", core.ErrMissingRequired)
	}
	if in.Confidence < 0 || in.Confidence > 1 {
		return fmt.Errorf("%w: confidence %v outside [0,1]", core.ErrValidation, in.Confidence)
	}
	if in.Start != nil && in.End != nil && !in.End.After(*in.Start) {
		return fmt.Errorf("%w: end must be after start", core.ErrValidation)
	}
	if err := calsync.ValidateRecurrence(in.Recurrence); err != nil {
		return err
	}
	for _, m := range in.Reminders {
		if m < 0 {
			return fmt.Errorf("%w: negative reminder offset", core.ErrValidation)
		}
	}
	return nil
}

func (s *Service) notify(userID core.UserID, kind string, payload interface{}) {
	if s.broadcast == nil {
		return
	}
	s.broadcast.Broadcast(userID, kind, payload)
}
