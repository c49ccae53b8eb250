// Package storage provides persistence for EventFlow.
package storage

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/eventflow/eventflow/internal/core"
)

// EventStore handles event persistence
type EventStore struct {
	db *DB
}

// NewEventStore creates a new event store
func NewEventStore(db *DB) *EventStore {
	return &EventStore{db: db}
}

const eventColumns = `id, user_id, title, description, start, "end", timezone, location,
	attendees, reminders, recurrence, source, raw_text, confidence,
	google_event_id, outlook_event_id, apple_event_id, created_at, updated_at`

// Create creates a new event
func (s *EventStore) Create(event *core.Event) error {
	now := time.Now().UTC()
	event.CreatedAt = now
	event.UpdatedAt = now

	attendees, _ := json.Marshal(event.Attendees)
	reminders, _ := json.Marshal(event.Reminders)

	_, err := s.db.conn.Exec(`
		INSERT INTO events (`+eventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		event.ID, event.UserID, event.Title, nullStr(event.Description),
		event.Start.UTC(), event.End, event.Timezone, nullStr(event.Location),
		string(attendees), string(reminders), nullStr(event.Recurrence),
		event.Source, nullStr(event.RawText), event.Confidence,
		nullStr(event.GoogleEventID), nullStr(event.OutlookEventID), nullStr(event.AppleEventID),
		event.CreatedAt, event.UpdatedAt,
	)

	return err
}

// GetByID returns an event by ID
func (s *EventStore) GetByID(id core.EventID) (*core.Event, error) {
	row := s.db.conn.QueryRow(`SELECT `+eventColumns+` FROM events WHERE id = ?`, id)

	event, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, core.ErrEventNotFound
	}
	return event, err
}

// ListByUser returns a user's events inside an optional start window,
// ordered by start ascending.
func (s *EventStore) ListByUser(userID core.UserID, from, to *time.Time, limit int) ([]*core.Event, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + eventColumns + ` FROM events WHERE user_id = ?`
	args := []interface{}{userID}

	if from != nil {
		query += " AND start >= ?"
		args = append(args, from.UTC())
	}
	if to != nil {
		query += " AND start <= ?"
		args = append(args, to.UTC())
	}

	query += " ORDER BY start ASC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*core.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}

	return events, rows.Err()
}

// Update updates an event's mutable fields
func (s *EventStore) Update(event *core.Event) error {
	event.UpdatedAt = time.Now().UTC()

	attendees, _ := json.Marshal(event.Attendees)
	reminders, _ := json.Marshal(event.Reminders)

	result, err := s.db.conn.Exec(`
		UPDATE events SET
			title = ?, description = ?, start = ?, "end" = ?, timezone = ?,
			location = ?, attendees = ?, reminders = ?, recurrence = ?, updated_at = ?
		WHERE id = ?
	`,
		event.Title, nullStr(event.Description), event.Start.UTC(), event.End,
		event.Timezone, nullStr(event.Location), string(attendees), string(reminders),
		nullStr(event.Recurrence), event.UpdatedAt, event.ID,
	)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return core.ErrEventNotFound
	}

	return nil
}

// SetExternalID records an external calendar's id for the event after sync
func (s *EventStore) SetExternalID(id core.EventID, provider core.Provider, externalID string) error {
	var column string
	switch provider {
	case core.ProviderGoogleCalendar:
		column = "google_event_id"
	case core.ProviderAppleCalendar:
		column = "apple_event_id"
	default:
		column = "outlook_event_id"
	}

	_, err := s.db.conn.Exec(
		"UPDATE events SET "+column+" = ?, updated_at = ? WHERE id = ?",
		externalID, time.Now().UTC(), id,
	)
	return err
}

// Delete removes an event
func (s *EventStore) Delete(id core.EventID) error {
	result, err := s.db.conn.Exec("DELETE FROM events WHERE id = ?", id)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return core.ErrEventNotFound
	}

	return nil
}

// OwnerOf returns the owning user of an event
func (s *EventStore) OwnerOf(id string) (core.UserID, error) {
	var userID core.UserID
	err := s.db.conn.QueryRow("SELECT user_id FROM events WHERE id = ?", id).Scan(&userID)

	if err == sql.ErrNoRows {
		return "", core.ErrEventNotFound
	}
	return userID, err
}

// CountByUser returns how many events a user owns
func (s *EventStore) CountByUser(userID core.UserID) (int, error) {
	var count int
	err := s.db.conn.QueryRow("SELECT COUNT(*) FROM events WHERE user_id = ?", userID).Scan(&count)
	return count, err
}

func scanEvent(row scanner) (*core.Event, error) {
	event := &core.Event{}
	var description, location, recurrence, source, rawText sql.NullString
	var googleID, outlookID, appleID sql.NullString
	var end sql.NullTime
	var confidence sql.NullFloat64
	var attendees, reminders string

	err := row.Scan(
		&event.ID, &event.UserID, &event.Title, &description, &event.Start, &end,
		&event.Timezone, &location, &attendees, &reminders, &recurrence,
		&source, &rawText, &confidence, &googleID, &outlookID, &appleID,
		&event.CreatedAt, &event.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	event.Description = description.String
	event.Location = location.String
	event.Recurrence = recurrence.String
	event.Source = core.Source(source.String)
	event.RawText = rawText.String
	event.Confidence = confidence.Float64
	event.GoogleEventID = googleID.String
	event.OutlookEventID = outlookID.String
	event.AppleEventID = appleID.String
	if end.Valid {
		t := end.Time
		event.End = &t
	}

	json.Unmarshal([]byte(attendees), &event.Attendees)
	json.Unmarshal([]byte(reminders), &event.Reminders)

	return event, nil
}
