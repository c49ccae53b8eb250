// Package storage provides persistence for EventFlow.
package storage

import (
	"database/sql"
	"time"

	"github.com/eventflow/eventflow/internal/core"
)

// UserStore handles user and settings persistence
type UserStore struct {
	db *DB
}

// NewUserStore creates a new user store
func NewUserStore(db *DB) *UserStore {
	return &UserStore{db: db}
}

// Create creates a new user
func (s *UserStore) Create(user *core.User) error {
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	_, err := s.db.conn.Exec(`
		INSERT INTO users (id, email, name, api_token, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, user.ID, user.Email, user.Name, user.APIToken, user.CreatedAt, user.UpdatedAt)

	return err
}

// GetByID returns a user by ID
func (s *UserStore) GetByID(id core.UserID) (*core.User, error) {
	return s.getUser("id = ?", string(id))
}

// GetByEmail returns a user by email address
func (s *UserStore) GetByEmail(email string) (*core.User, error) {
	return s.getUser("email = ?", email)
}

// GetByToken returns the user owning an API token
func (s *UserStore) GetByToken(token string) (*core.User, error) {
	return s.getUser("api_token = ?", token)
}

func (s *UserStore) getUser(where string, arg interface{}) (*core.User, error) {
	user := &core.User{}
	err := s.db.conn.QueryRow(`
		SELECT id, email, name, api_token, created_at, updated_at
		FROM users WHERE `+where,
		arg,
	).Scan(&user.ID, &user.Email, &user.Name, &user.APIToken, &user.CreatedAt, &user.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, core.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}

	return user, nil
}

// GetSettings returns a user's settings, falling back to defaults when the
// user never saved any. The defaults are not persisted by a read.
func (s *UserStore) GetSettings(userID core.UserID) (*core.UserSettings, error) {
	settings := &core.UserSettings{UserID: userID}
	err := s.db.conn.QueryRow(`
		SELECT timezone, default_reminder, auto_approve, confidence_min, email_notifications, updated_at
		FROM user_settings WHERE user_id = ?
	`, userID).Scan(
		&settings.Timezone, &settings.DefaultReminder, &settings.AutoApprove,
		&settings.ConfidenceMin, &settings.EmailNotifications, &settings.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return core.DefaultSettings(userID), nil
	}
	if err != nil {
		return nil, err
	}

	return settings, nil
}

// SaveSettings creates or replaces a user's settings
func (s *UserStore) SaveSettings(settings *core.UserSettings) error {
	settings.UpdatedAt = time.Now().UTC()

	_, err := s.db.conn.Exec(`
		INSERT INTO user_settings (user_id, timezone, default_reminder, auto_approve, confidence_min, email_notifications, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			timezone = excluded.timezone,
			default_reminder = excluded.default_reminder,
			auto_approve = excluded.auto_approve,
			confidence_min = excluded.confidence_min,
			email_notifications = excluded.email_notifications,
			updated_at = excluded.updated_at
	`,
		settings.UserID, settings.Timezone, settings.DefaultReminder,
		settings.AutoApprove, settings.ConfidenceMin, settings.EmailNotifications,
		settings.UpdatedAt,
	)

	return err
}

// AutoApproveUser pairs a user with their resolved settings for the sweep.
type AutoApproveUser struct {
	User     *core.User
	Settings *core.UserSettings
}

// ListAutoApprove returns every user whose settings enable auto-approve.
func (s *UserStore) ListAutoApprove() ([]AutoApproveUser, error) {
	rows, err := s.db.conn.Query(`
		SELECT u.id, u.email, u.name, u.api_token, u.created_at, u.updated_at,
		       s.timezone, s.default_reminder, s.auto_approve, s.confidence_min, s.email_notifications, s.updated_at
		FROM users u
		JOIN user_settings s ON s.user_id = u.id
		WHERE s.auto_approve = TRUE
		ORDER BY u.created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []AutoApproveUser
	for rows.Next() {
		user := &core.User{}
		settings := &core.UserSettings{}

		err := rows.Scan(
			&user.ID, &user.Email, &user.Name, &user.APIToken, &user.CreatedAt, &user.UpdatedAt,
			&settings.Timezone, &settings.DefaultReminder, &settings.AutoApprove,
			&settings.ConfidenceMin, &settings.EmailNotifications, &settings.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		settings.UserID = user.ID

		result = append(result, AutoApproveUser{User: user, Settings: settings})
	}

	return result, rows.Err()
}

// OwnerOf returns the user itself; users own themselves. Included so UserStore
// satisfies the same ownership capability as the other stores.
func (s *UserStore) OwnerOf(id string) (core.UserID, error) {
	user, err := s.GetByID(core.UserID(id))
	if err != nil {
		return "", err
	}
	return user.ID, nil
}
