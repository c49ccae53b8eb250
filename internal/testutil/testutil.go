// Package testutil provides shared testing utilities for EventFlow.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/eventflow/eventflow/internal/core"
	"github.com/eventflow/eventflow/internal/storage"
)

// TestDB creates an in-memory SQLite database for testing.
// The database is migrated and automatically closed when the test completes.
func TestDB(t *testing.T) *storage.DB {
	t.Helper()

	db, err := storage.Open(storage.Config{InMemory: true})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate test database: %v", err)
	}

	return db
}

// TestContext returns a context with a timeout for tests.
// The context is automatically cancelled when the test completes.
func TestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// TestUser inserts a user row and returns it. Suggestions, events and
// connectors all have foreign keys to users, so most tests need one.
func TestUser(t *testing.T, db *storage.DB, email string) *core.User {
	t.Helper()

	user := &core.User{
		ID:       core.UserID(uuid.New().String()),
		Email:    email,
		Name:     "Test User",
		APIToken: "token-" + uuid.New().String(),
	}

	if err := storage.NewUserStore(db).Create(user); err != nil {
		t.Fatalf("create test user: %v", err)
	}

	return user
}
