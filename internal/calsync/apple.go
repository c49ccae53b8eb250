package calsync

import (
	"context"
	"fmt"

	"github.com/eventflow/eventflow/internal/core"
	"github.com/eventflow/eventflow/internal/email"
	"github.com/eventflow/eventflow/internal/logging"
	"github.com/eventflow/eventflow/internal/storage"
)

// AppleSyncer delivers events to Apple Calendar by mailing the user an ICS
// file. There is no server-side API for Apple Calendar without CalDAV
// credentials, so mail import is the pragmatic route.
type AppleSyncer struct {
	sender *email.Sender
	users  *storage.UserStore
	events *storage.EventStore
}

// NewAppleSyncer creates the ICS-by-mail syncer
func NewAppleSyncer(sender *email.Sender, users *storage.UserStore, events *storage.EventStore) *AppleSyncer {
	return &AppleSyncer{sender: sender, users: users, events: events}
}

// Provider implements Syncer
func (a *AppleSyncer) Provider() core.Provider {
	return core.ProviderAppleCalendar
}

// Sync mails the event as an ICS attachment to the user's address
func (a *AppleSyncer) Sync(ctx context.Context, ev *core.Event) error {
	if !a.sender.IsConfigured() {
		return core.ErrNotConfigured
	}

	user, err := a.users.GetByID(ev.UserID)
	if err != nil {
		return fmt.Errorf("%w: load user: %v", core.ErrSyncFailed, err)
	}

	ics, err := BuildICS(ev)
	if err != nil {
		return fmt.Errorf("%w: build ICS: %v", core.ErrSyncFailed, err)
	}

	if err := a.sender.SendInvite(ctx, user.Email, ev, ics); err != nil {
		return fmt.Errorf("%w: send invite: %v", core.ErrSyncFailed, err)
	}

	// The ICS UID doubles as the external reference.
	uid := string(ev.ID) + "@eventflow"
	if err := a.events.SetExternalID(ev.ID, core.ProviderAppleCalendar, uid); err != nil {
		logging.WithField("event_id", string(ev.ID)).Warn("record apple event id: %v", err)
	}

	return nil
}
