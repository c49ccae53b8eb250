// Package calsync pushes approved events out to external calendars.
// Sync is always best-effort: the event row is the source of truth and a
// provider outage must never fail an approval.
package calsync

import (
	"context"
	"errors"

	"github.com/eventflow/eventflow/internal/core"
	"github.com/eventflow/eventflow/internal/logging"
)

// Syncer pushes one event to one provider
type Syncer interface {
	Provider() core.Provider
	Sync(ctx context.Context, ev *core.Event) error
}

// Dispatcher fans an event out to every registered provider
type Dispatcher struct {
	syncers []Syncer
}

// NewDispatcher creates a dispatcher over the given syncers
func NewDispatcher(syncers ...Syncer) *Dispatcher {
	return &Dispatcher{syncers: syncers}
}

// Register adds a syncer
func (d *Dispatcher) Register(s Syncer) {
	d.syncers = append(d.syncers, s)
}

// SyncEvent pushes the event to all providers. Failures are logged per
// provider and swallowed; a syncer with nothing configured for the user is
// expected to return core.ErrNotConfigured, which is not even worth a WARN.
func (d *Dispatcher) SyncEvent(ctx context.Context, ev *core.Event) {
	for _, s := range d.syncers {
		err := s.Sync(ctx, ev)
		if err == nil {
			continue
		}

		log := logging.WithFields(map[string]interface{}{
			"provider": string(s.Provider()),
			"event_id": string(ev.ID),
		})
		if errors.Is(err, core.ErrNotConfigured) {
			log.Debug("provider not configured, skipping sync")
		} else {
			log.Warn("calendar sync failed: %v", err)
		}
	}
}
