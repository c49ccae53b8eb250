// Package events implements direct calendar event CRUD. Unlike a suggestion,
// an event always has a concrete start time.
package events

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
	"github.com/eventflow/eventflow/internal/suggest"
)

// Service manages user calendar events
type Service struct {
	events *storage.EventStore
	users  *storage.UserStore
	audit  *audit.Log
	sync   suggest.EventSync // optional
}

// NewService creates the events service. sync may be nil.
func NewService(events *storage.EventStore, users *storage.UserStore, auditLog *audit.Log, sync suggest.EventSync) *Service {
	return &Service{events: events, users: users, audit: auditLog, sync: sync}
}

// CreateInput describes a directly created event
type CreateInput struct {
	Title       string
	Description string
	Start       time.Time
	End         *time.Time
	Timezone    string
	Location    string
	Attendees   []string
	Reminders   []int
	Recurrence  string
}

// Create validates and stores an event, then syncs it out
func (s *Service) Create(ctx context.Context, actor auth.Actor, in CreateInput) (*core.Event, error) {
	if in.Title == "" {
		return nil, fmt.Errorf("%w: title", core.ErrMissingRequired)
	}
	if in.Start.IsZero() {
		return nil, fmt.Errorf("%w: start", core.ErrMissingRequired)
	}
	if in.End != nil && !in.End.After(in.Start) {
		return nil, fmt.Errorf("%w: end must be after start", core.ErrValidation)
	}
	if err := calsync.ValidateRecurrence(in.Recurrence); err != nil {
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

	event := &core.Event{
		ID:          core.EventID(uuid.New().String()),
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
	}

	if err := s.events.Create(event); err != nil {
		return nil, fmt.Errorf("store event: %w", err)
	}

	s.audit.Record(audit.ActionEventCreated, "event", string(event.ID), event.UserID, actor.Name(), nil)

	if s.sync != nil {
		s.sync.SyncEvent(ctx, event)
	}

	return event, nil
}

// Get returns one event; foreign events look missing
func (s *Service) Get(ctx context.Context, actor auth.Actor, id core.EventID) (*core.Event, error) {
	if err := auth.RequireOwner(actor, s.events, string(id), core.ErrEventNotFound); err != nil {
		return nil, err
	}
	return s.events.GetByID(id)
}

// List returns the actor's events within an optional time range
func (s *Service) List(ctx context.Context, actor auth.Actor, from, to *time.Time, limit int) ([]*core.Event, error) {
	return s.events.ListByUser(actor.UserID, from, to, limit)
}

// UpdateInput holds the mutable event fields. Nil pointers mean "leave as is".
type UpdateInput struct {
	Title       *string
	Description *string
	Start       *time.Time
	End         *time.Time
	Timezone    *string
	Location    *string
	Recurrence  *string
}

// Update applies a partial update and re-syncs
func (s *Service) Update(ctx context.Context, actor auth.Actor, id core.EventID, in UpdateInput) (*core.Event, error) {
	if err := auth.RequireOwner(actor, s.events, string(id), core.ErrEventNotFound); err != nil {
		return nil, err
	}

	event, err := s.events.GetByID(id)
	if err != nil {
		return nil, err
	}

	if in.Title != nil {
		if *in.Title == "" {
			return nil, fmt.Errorf("%w: title cannot be cleared", core.ErrValidation)
		}
		event.Title = *in.Title
	}
	if in.Description != nil {
		event.Description = *in.Description
	}
	if in.Start != nil {
		event.Start = *in.Start
	}
	if in.End != nil {
		event.End = in.End
	}
	if in.Timezone != nil {
		event.Timezone = *in.Timezone
	}
	if in.Location != nil {
		event.Location = *in.Location
	}
	if in.Recurrence != nil {
		if err := calsync.ValidateRecurrence(*in.Recurrence); err != nil {
			return nil, err
		}
		event.Recurrence = *in.Recurrence
	}
	if event.End != nil && !event.End.After(event.Start) {
		return nil, fmt.Errorf("%w: end must be after start", core.ErrValidation)
	}

	if err := s.events.Update(event); err != nil {
		return nil, err
	}

	s.audit.Record(audit.ActionEventUpdated, "event", string(event.ID), event.UserID, actor.Name(), nil)

	if s.sync != nil {
		s.sync.SyncEvent(ctx, event)
	}

	return event, nil
}

// Delete removes an event. The suggestion that produced it, if any, stays
// APPROVED; history is not rewritten.
func (s *Service) Delete(ctx context.Context, actor auth.Actor, id core.EventID) error {
	if err := auth.RequireOwner(actor, s.events, string(id), core.ErrEventNotFound); err != nil {
		return err
	}

	if err := s.events.Delete(id); err != nil {
		return err
	}

	s.audit.Record(audit.ActionEventDeleted, "event", string(id), actor.UserID, actor.Name(), nil)
	return nil
}

// ICS renders an event as an iCalendar file for download
func (s *Service) ICS(ctx context.Context, actor auth.Actor, id core.EventID) ([]byte, error) {
	event, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	return calsync.BuildICS(event)
}
