// Package audit provides an append-only audit log for suggestion and event
// activity. Entries are hash-chained to the previous entry, so tampering with
// history is detectable.
package audit

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eventflow/eventflow/internal/core"
	"github.com/eventflow/eventflow/internal/logging"
	"github.com/eventflow/eventflow/internal/storage"
)

// Action names recorded by the core services
const (
	ActionSuggestionCreated  = "suggestion.created"
	ActionSuggestionApproved = "suggestion.approved"
	ActionSuggestionRejected = "suggestion.rejected"
	ActionSuggestionSnoozed  = "suggestion.snoozed"
	ActionEventCreated       = "event.created"
	ActionEventUpdated       = "event.updated"
	ActionEventDeleted       = "event.deleted"
	ActionConnectorPolled    = "connector.polled"
	ActionSettingsUpdated    = "settings.updated"
)

// Actor names for entries not tied to an interactive user
const (
	ActorSystem = "system"
	ActorUser   = "user"
)

const genesisHash = "GENESIS:0000000000000000000000000000000000000000000000000000000000000000"

// Entry is an immutable audit record
type Entry struct {
	ID         string      `json:"id"`
	Timestamp  time.Time   `json:"timestamp"`
	Action     string      `json:"action"`
	Actor      string      `json:"actor"` // "user", "system"
	EntityType string      `json:"entity_type"`
	EntityID   string      `json:"entity_id"`
	UserID     core.UserID `json:"user_id,omitempty"`
	Metadata   string      `json:"metadata"`  // JSON blob
	PrevHash   string      `json:"prev_hash"` // hash of previous entry
	Hash       string      `json:"hash"`
}

// Log is the audit sink. Record never propagates failures to the caller;
// audit is a side channel and must not abort the primary operation.
type Log struct {
	db *storage.DB
	mu sync.Mutex
}

// NewLog creates an audit log over the shared database
func NewLog(db *storage.DB) *Log {
	return &Log{db: db}
}

// Record appends an entry, swallowing any failure. This is the interface the
// services use.
func (l *Log) Record(action, entityType, entityID string, userID core.UserID, actor string, metadata map[string]interface{}) {
	if _, err := l.Append(action, entityType, entityID, userID, actor, metadata); err != nil {
		logging.WithFields(map[string]interface{}{
			"action":    action,
			"entity_id": entityID,
		}).Error("audit record failed: %v", err)
	}
}

// Append adds a hash-chained entry and returns it. Exposed separately from
// Record so tests and the API can observe failures.
func (l *Log) Append(action, entityType, entityID string, userID core.UserID, actor string, metadata map[string]interface{}) (*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var metadataJSON string
	if metadata != nil {
		data, err := json.Marshal(metadata)
		if err != nil {
			return nil, fmt.Errorf("marshal metadata: %w", err)
		}
		metadataJSON = string(data)
	}

	prevHash, err := l.lastHash()
	if err != nil {
		return nil, fmt.Errorf("get last hash: %w", err)
	}

	entry := &Entry{
		ID:         uuid.New().String(),
		Timestamp:  time.Now().UTC(),
		Action:     action,
		Actor:      actor,
		EntityType: entityType,
		EntityID:   entityID,
		UserID:     userID,
		Metadata:   metadataJSON,
		PrevHash:   prevHash,
	}
	entry.Hash = computeHash(entry)

	_, err = l.db.Conn().Exec(`
		INSERT INTO audit_log (id, timestamp, action, actor, entity_type, entity_id, user_id, metadata, prev_hash, hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, entry.Timestamp, entry.Action, entry.Actor, entry.EntityType, entry.EntityID,
		string(entry.UserID), entry.Metadata, entry.PrevHash, entry.Hash)
	if err != nil {
		return nil, fmt.Errorf("insert audit entry: %w", err)
	}

	return entry, nil
}

func (l *Log) lastHash() (string, error) {
	var hash sql.NullString
	err := l.db.Conn().QueryRow(`
		SELECT hash FROM audit_log ORDER BY timestamp DESC, id DESC LIMIT 1
	`).Scan(&hash)

	if err == sql.ErrNoRows {
		return genesisHash, nil
	}
	if err != nil {
		return "", err
	}

	return hash.String, nil
}

// computeHash creates the SHA-256 hash of an entry's canonical form,
// excluding the hash itself.
func computeHash(entry *Entry) string {
	canonical := struct {
		ID         string    `json:"id"`
		Timestamp  time.Time `json:"timestamp"`
		Action     string    `json:"action"`
		Actor      string    `json:"actor"`
		EntityType string    `json:"entity_type"`
		EntityID   string    `json:"entity_id"`
		UserID     string    `json:"user_id"`
		Metadata   string    `json:"metadata"`
		PrevHash   string    `json:"prev_hash"`
	}{
		ID:         entry.ID,
		Timestamp:  entry.Timestamp,
		Action:     entry.Action,
		Actor:      entry.Actor,
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
		UserID:     string(entry.UserID),
		Metadata:   entry.Metadata,
		PrevHash:   entry.PrevHash,
	}

	data, _ := json.Marshal(canonical)
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// VerifyChain walks the whole log and reports the first broken link, if any.
func (l *Log) VerifyChain() error {
	rows, err := l.db.Conn().Query(`
		SELECT id, timestamp, action, actor, entity_type, entity_id, user_id, metadata, prev_hash, hash
		FROM audit_log ORDER BY timestamp ASC, id ASC
	`)
	if err != nil {
		return fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	expectedPrev := genesisHash
	entryNum := 0

	for rows.Next() {
		entryNum++
		entry, err := scanEntry(rows)
		if err != nil {
			return fmt.Errorf("scan entry %d: %w", entryNum, err)
		}

		if entry.PrevHash != expectedPrev {
			return fmt.Errorf("audit chain broken at entry %d (%s)", entryNum, entry.ID)
		}
		if entry.Hash != computeHash(entry) {
			return fmt.Errorf("audit hash mismatch at entry %d (%s)", entryNum, entry.ID)
		}

		expectedPrev = entry.Hash
	}

	return rows.Err()
}

// QueryOptions filter audit entries
type QueryOptions struct {
	Action     string
	EntityType string
	EntityID   string
	UserID     core.UserID
	Since      time.Time
	Limit      int
}

// Query returns entries matching the criteria, newest first
func (l *Log) Query(opts QueryOptions) ([]*Entry, error) {
	query := `
		SELECT id, timestamp, action, actor, entity_type, entity_id, user_id, metadata, prev_hash, hash
		FROM audit_log WHERE 1=1
	`
	var args []interface{}

	if opts.Action != "" {
		query += " AND action = ?"
		args = append(args, opts.Action)
	}
	if opts.EntityType != "" {
		query += " AND entity_type = ?"
		args = append(args, opts.EntityType)
	}
	if opts.EntityID != "" {
		query += " AND entity_id = ?"
		args = append(args, opts.EntityID)
	}
	if opts.UserID != "" {
		query += " AND user_id = ?"
		args = append(args, string(opts.UserID))
	}
	if !opts.Since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, opts.Since)
	}

	query += " ORDER BY timestamp DESC, id DESC"

	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	} else {
		query += " LIMIT 100"
	}

	rows, err := l.db.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

// EntityHistory returns all entries for one entity, newest first
func (l *Log) EntityHistory(entityType, entityID string) ([]*Entry, error) {
	return l.Query(QueryOptions{EntityType: entityType, EntityID: entityID})
}

// Count returns the total number of entries
func (l *Log) Count() (int, error) {
	var count int
	err := l.db.Conn().QueryRow("SELECT COUNT(*) FROM audit_log").Scan(&count)
	return count, err
}

func scanEntry(rows *sql.Rows) (*Entry, error) {
	entry := &Entry{}
	var entityType, entityID, userID, metadata, prevHash sql.NullString

	err := rows.Scan(
		&entry.ID, &entry.Timestamp, &entry.Action, &entry.Actor,
		&entityType, &entityID, &userID, &metadata, &prevHash, &entry.Hash,
	)
	if err != nil {
		return nil, err
	}

	entry.EntityType = entityType.String
	entry.EntityID = entityID.String
	entry.UserID = core.UserID(userID.String)
	entry.Metadata = metadata.String
	entry.PrevHash = prevHash.String

	return entry, nil
}
