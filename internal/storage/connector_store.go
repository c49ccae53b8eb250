// Package storage provides persistence for EventFlow.
package storage

import (
	"database/sql"
	"time"

	"github.com/eventflow/eventflow/internal/core"
)

// ConnectorStore handles connector persistence
type ConnectorStore struct {
	db *DB
}

// NewConnectorStore creates a new connector store
func NewConnectorStore(db *DB) *ConnectorStore {
	return &ConnectorStore{db: db}
}

const connectorColumns = `id, user_id, provider, email, enabled, token_json,
	last_polled, poll_interval, history_id, created_at, updated_at`

// Create creates a new connector
func (s *ConnectorStore) Create(c *core.Connector) error {
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	if c.PollInterval <= 0 {
		c.PollInterval = 300
	}

	_, err := s.db.conn.Exec(`
		INSERT INTO connectors (`+connectorColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		c.ID, c.UserID, c.Provider, c.Email, c.Enabled, c.TokenJSON,
		c.LastPolled, c.PollInterval, c.HistoryID, c.CreatedAt, c.UpdatedAt,
	)

	return err
}

// GetByID returns a connector by ID
func (s *ConnectorStore) GetByID(id core.ConnectorID) (*core.Connector, error) {
	row := s.db.conn.QueryRow(`SELECT `+connectorColumns+` FROM connectors WHERE id = ?`, id)

	c, err := scanConnector(row)
	if err == sql.ErrNoRows {
		return nil, core.ErrConnectorNotFound
	}
	return c, err
}

// FindByEmail returns the enabled connector for an address and provider.
// Used to resolve inbound push notifications to their owner.
func (s *ConnectorStore) FindByEmail(email string, provider core.Provider) (*core.Connector, error) {
	row := s.db.conn.QueryRow(`
		SELECT `+connectorColumns+` FROM connectors
		WHERE email = ? AND provider = ? AND enabled = TRUE
	`, email, provider)

	c, err := scanConnector(row)
	if err == sql.ErrNoRows {
		return nil, core.ErrConnectorNotFound
	}
	return c, err
}

// ListByUser returns a user's connectors
func (s *ConnectorStore) ListByUser(userID core.UserID) ([]*core.Connector, error) {
	rows, err := s.db.conn.Query(`
		SELECT `+connectorColumns+` FROM connectors WHERE user_id = ? ORDER BY created_at ASC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanConnectors(rows)
}

// ListEnabled returns all enabled connectors, for the polling pass
func (s *ConnectorStore) ListEnabled() ([]*core.Connector, error) {
	rows, err := s.db.conn.Query(`
		SELECT ` + connectorColumns + ` FROM connectors WHERE enabled = TRUE ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanConnectors(rows)
}

// SetEnabled toggles a connector
func (s *ConnectorStore) SetEnabled(id core.ConnectorID, enabled bool) error {
	result, err := s.db.conn.Exec(
		"UPDATE connectors SET enabled = ?, updated_at = ? WHERE id = ?",
		enabled, time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return core.ErrConnectorNotFound
	}

	return nil
}

// MarkPolled records a completed poll and advances the gmail history cursor
func (s *ConnectorStore) MarkPolled(id core.ConnectorID, at time.Time, historyID uint64) error {
	_, err := s.db.conn.Exec(`
		UPDATE connectors SET last_polled = ?, history_id = ?, updated_at = ? WHERE id = ?
	`, at.UTC(), historyID, time.Now().UTC(), id)
	return err
}

// SaveToken replaces a connector's serialized OAuth token
func (s *ConnectorStore) SaveToken(id core.ConnectorID, tokenJSON string) error {
	_, err := s.db.conn.Exec(
		"UPDATE connectors SET token_json = ?, updated_at = ? WHERE id = ?",
		tokenJSON, time.Now().UTC(), id,
	)
	return err
}

// OwnerOf returns the owning user of a connector
func (s *ConnectorStore) OwnerOf(id string) (core.UserID, error) {
	var userID core.UserID
	err := s.db.conn.QueryRow("SELECT user_id FROM connectors WHERE id = ?", id).Scan(&userID)

	if err == sql.ErrNoRows {
		return "", core.ErrConnectorNotFound
	}
	return userID, err
}

func scanConnector(row scanner) (*core.Connector, error) {
	c := &core.Connector{}
	var lastPolled sql.NullTime

	err := row.Scan(
		&c.ID, &c.UserID, &c.Provider, &c.Email, &c.Enabled, &c.TokenJSON,
		&lastPolled, &c.PollInterval, &c.HistoryID, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if lastPolled.Valid {
		t := lastPolled.Time
		c.LastPolled = &t
	}

	return c, nil
}

func scanConnectors(rows *sql.Rows) ([]*core.Connector, error) {
	var connectors []*core.Connector
	for rows.Next() {
		c, err := scanConnector(rows)
		if err != nil {
			return nil, err
		}
		connectors = append(connectors, c)
	}
	return connectors, rows.Err()
}
