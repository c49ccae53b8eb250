// Package storage provides persistence for EventFlow.
package storage

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/eventflow/eventflow/internal/core"
)

// SuggestionStore handles suggestion persistence
type SuggestionStore struct {
	db *DB
}

// NewSuggestionStore creates a new suggestion store
func NewSuggestionStore(db *DB) *SuggestionStore {
	return &SuggestionStore{db: db}
}

const suggestionColumns = `id, user_id, title, description, start, "end", timezone, location,
	attendees, reminders, recurrence, confidence, raw_text, source, source_meta,
	status, approved_at, snoozed_until, event_id, created_at, updated_at`

// Create persists a new suggestion in PENDING state
func (s *SuggestionStore) Create(sg *core.Suggestion) error {
	now := time.Now().UTC()
	sg.CreatedAt = now
	sg.UpdatedAt = now
	if sg.Status == "" {
		sg.Status = core.StatusPending
	}

	attendees, _ := json.Marshal(sg.Attendees)
	reminders, _ := json.Marshal(sg.Reminders)

	var sourceMeta *string
	if sg.SourceMeta != nil {
		data, _ := json.Marshal(sg.SourceMeta)
		str := string(data)
		sourceMeta = &str
	}

	_, err := s.db.conn.Exec(`
		INSERT INTO event_suggestions (`+suggestionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		sg.ID, sg.UserID, sg.Title, nullStr(sg.Description), sg.Start, sg.End,
		sg.Timezone, nullStr(sg.Location), string(attendees), string(reminders),
		nullStr(sg.Recurrence), sg.Confidence, sg.RawText, sg.Source, sourceMeta,
		sg.Status, sg.ApprovedAt, sg.SnoozedUntil, sg.EventID,
		sg.CreatedAt, sg.UpdatedAt,
	)

	return err
}

// GetByID returns a suggestion by ID
func (s *SuggestionStore) GetByID(id core.SuggestionID) (*core.Suggestion, error) {
	row := s.db.conn.QueryRow(`
		SELECT `+suggestionColumns+` FROM event_suggestions WHERE id = ?
	`, id)

	sg, err := scanSuggestion(row)
	if err == sql.ErrNoRows {
		return nil, core.ErrSuggestionNotFound
	}
	return sg, err
}

// ListByUser returns a user's suggestions, newest first, optionally filtered
// by status.
func (s *SuggestionStore) ListByUser(userID core.UserID, status core.SuggestionStatus, limit int) ([]*core.Suggestion, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + suggestionColumns + ` FROM event_suggestions WHERE user_id = ?`
	args := []interface{}{userID}

	if status != "" {
		query += " AND status = ?"
		args = append(args, status)
	}

	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSuggestions(rows)
}

// ListEligible returns a user's PENDING suggestions at or above the confidence
// threshold, oldest first, capped at limit. This is the auto-approve selection.
func (s *SuggestionStore) ListEligible(userID core.UserID, confidenceMin float64, limit int) ([]*core.Suggestion, error) {
	rows, err := s.db.conn.Query(`
		SELECT `+suggestionColumns+`
		FROM event_suggestions
		WHERE user_id = ? AND status = ? AND confidence >= ?
		ORDER BY created_at ASC
		LIMIT ?
	`, userID, core.StatusPending, confidenceMin, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSuggestions(rows)
}

// ReleaseSnoozed flips SNOOZED suggestions whose snooze window has elapsed
// back to PENDING. Callers run this before any selection that should treat
// elapsed snoozes as eligible again.
func (s *SuggestionStore) ReleaseSnoozed(userID core.UserID, now time.Time) (int, error) {
	query := `
		UPDATE event_suggestions
		SET status = ?, snoozed_until = NULL, updated_at = ?
		WHERE status = ? AND snoozed_until IS NOT NULL AND snoozed_until <= ?`
	args := []interface{}{core.StatusPending, now.UTC(), core.StatusSnoozed, now.UTC()}

	if userID != "" {
		query += " AND user_id = ?"
		args = append(args, userID)
	}

	result, err := s.db.conn.Exec(query, args...)
	if err != nil {
		return 0, err
	}

	affected, _ := result.RowsAffected()
	return int(affected), nil
}

// Promote atomically creates the event and marks the suggestion APPROVED.
// The status precondition makes concurrent promotions of the same suggestion
// first-write-wins: the loser sees ErrInvalidState and no second event exists.
func (s *SuggestionStore) Promote(sg *core.Suggestion, event *core.Event, approvedAt time.Time) error {
	now := time.Now().UTC()
	event.CreatedAt = now
	event.UpdatedAt = now

	attendees, _ := json.Marshal(event.Attendees)
	reminders, _ := json.Marshal(event.Reminders)

	return s.db.Transaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO events (id, user_id, title, description, start, "end", timezone,
				location, attendees, reminders, recurrence, source, raw_text, confidence,
				created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			event.ID, event.UserID, event.Title, nullStr(event.Description),
			event.Start.UTC(), event.End, event.Timezone, nullStr(event.Location),
			string(attendees), string(reminders), nullStr(event.Recurrence),
			event.Source, nullStr(event.RawText), event.Confidence,
			event.CreatedAt, event.UpdatedAt,
		)
		if err != nil {
			return err
		}

		result, err := tx.Exec(`
			UPDATE event_suggestions
			SET status = ?, approved_at = ?, event_id = ?, updated_at = ?
			WHERE id = ? AND status = ?
		`, core.StatusApproved, approvedAt.UTC(), event.ID, now, sg.ID, core.StatusPending)
		if err != nil {
			return err
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			// Lost the race or not pending; roll the event insert back too.
			return core.ErrInvalidState
		}

		return nil
	})
}

// SetStatus moves a suggestion to REJECTED or SNOOZED. Approval goes through
// Promote. Returns ErrInvalidState when the suggestion already reached a
// terminal state.
func (s *SuggestionStore) SetStatus(id core.SuggestionID, status core.SuggestionStatus, snoozedUntil *time.Time) error {
	result, err := s.db.conn.Exec(`
		UPDATE event_suggestions
		SET status = ?, snoozed_until = ?, updated_at = ?
		WHERE id = ? AND status NOT IN (?, ?)
	`, status, snoozedUntil, time.Now().UTC(), id, core.StatusApproved, core.StatusRejected)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return core.ErrInvalidState
	}

	return nil
}

// OwnerOf returns the owning user of a suggestion
func (s *SuggestionStore) OwnerOf(id string) (core.UserID, error) {
	var userID core.UserID
	err := s.db.conn.QueryRow(
		"SELECT user_id FROM event_suggestions WHERE id = ?", id,
	).Scan(&userID)

	if err == sql.ErrNoRows {
		return "", core.ErrSuggestionNotFound
	}
	return userID, err
}

// CountByStatus returns how many of a user's suggestions sit in each state
func (s *SuggestionStore) CountByStatus(userID core.UserID) (map[core.SuggestionStatus]int, error) {
	rows, err := s.db.conn.Query(`
		SELECT status, COUNT(*) FROM event_suggestions WHERE user_id = ? GROUP BY status
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[core.SuggestionStatus]int)
	for rows.Next() {
		var status core.SuggestionStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}

	return counts, rows.Err()
}

// scanner matches sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSuggestion(row scanner) (*core.Suggestion, error) {
	sg := &core.Suggestion{}
	var description, location, recurrence, sourceMeta, eventID sql.NullString
	var start, end, approvedAt, snoozedUntil sql.NullTime
	var attendees, reminders string

	err := row.Scan(
		&sg.ID, &sg.UserID, &sg.Title, &description, &start, &end, &sg.Timezone,
		&location, &attendees, &reminders, &recurrence, &sg.Confidence,
		&sg.RawText, &sg.Source, &sourceMeta, &sg.Status, &approvedAt,
		&snoozedUntil, &eventID, &sg.CreatedAt, &sg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	sg.Description = description.String
	sg.Location = location.String
	sg.Recurrence = recurrence.String
	if start.Valid {
		t := start.Time
		sg.Start = &t
	}
	if end.Valid {
		t := end.Time
		sg.End = &t
	}
	if approvedAt.Valid {
		t := approvedAt.Time
		sg.ApprovedAt = &t
	}
	if snoozedUntil.Valid {
		t := snoozedUntil.Time
		sg.SnoozedUntil = &t
	}
	if eventID.Valid {
		id := core.EventID(eventID.String)
		sg.EventID = &id
	}
	if sourceMeta.Valid && sourceMeta.String != "" {
		meta := &core.SourceMeta{}
		if json.Unmarshal([]byte(sourceMeta.String), meta) == nil {
			sg.SourceMeta = meta
		}
	}

	json.Unmarshal([]byte(attendees), &sg.Attendees)
	json.Unmarshal([]byte(reminders), &sg.Reminders)

	return sg, nil
}

func scanSuggestions(rows *sql.Rows) ([]*core.Suggestion, error) {
	var suggestions []*core.Suggestion
	for rows.Next() {
		sg, err := scanSuggestion(rows)
		if err != nil {
			return nil, err
		}
		suggestions = append(suggestions, sg)
	}
	return suggestions, rows.Err()
}

func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
