package calsync

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/eventflow/eventflow/internal/core"
	"github.com/eventflow/eventflow/internal/logging"
	"github.com/eventflow/eventflow/internal/storage"
)

// GoogleConfig holds the OAuth client credentials for Google Calendar
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// GoogleSyncer inserts events into the user's primary Google calendar
type GoogleSyncer struct {
	oauth      *oauth2.Config
	connectors *storage.ConnectorStore
	events     *storage.EventStore
}

// NewGoogleSyncer creates a Google Calendar syncer
func NewGoogleSyncer(cfg GoogleConfig, connectors *storage.ConnectorStore, events *storage.EventStore) *GoogleSyncer {
	return &GoogleSyncer{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{calendar.CalendarEventsScope},
			Endpoint:     google.Endpoint,
		},
		connectors: connectors,
		events:     events,
	}
}

// Provider implements Syncer
func (g *GoogleSyncer) Provider() core.Provider {
	return core.ProviderGoogleCalendar
}

// Sync inserts the event and records the returned Google event ID. Users
// without an enabled calendar connector get core.ErrNotConfigured.
func (g *GoogleSyncer) Sync(ctx context.Context, ev *core.Event) error {
	if g.oauth.ClientID == "" {
		return core.ErrNotConfigured
	}

	conn, err := g.calendarConnector(ev.UserID)
	if err != nil {
		return err
	}

	token := &oauth2.Token{}
	if err := json.Unmarshal([]byte(conn.TokenJSON), token); err != nil {
		return fmt.Errorf("%w: decode connector token: %v", core.ErrSyncFailed, err)
	}

	svc, err := calendar.NewService(ctx, option.WithTokenSource(g.oauth.TokenSource(ctx, token)))
	if err != nil {
		return fmt.Errorf("%w: create calendar service: %v", core.ErrSyncFailed, err)
	}

	created, err := svc.Events.Insert("primary", g.toGoogle(ev)).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("%w: insert event: %v", core.ErrSyncFailed, err)
	}

	if err := g.events.SetExternalID(ev.ID, core.ProviderGoogleCalendar, created.Id); err != nil {
		// The remote event exists either way; losing the back-reference is
		// worth a warning, not a failed sync.
		logging.WithField("event_id", string(ev.ID)).Warn("record google event id: %v", err)
	}

	return nil
}

func (g *GoogleSyncer) calendarConnector(userID core.UserID) (*core.Connector, error) {
	conns, err := g.connectors.ListByUser(userID)
	if err != nil {
		return nil, fmt.Errorf("%w: list connectors: %v", core.ErrSyncFailed, err)
	}
	for _, c := range conns {
		if c.Provider == core.ProviderGoogleCalendar && c.Enabled {
			return c, nil
		}
	}
	return nil, core.ErrNotConfigured
}

func (g *GoogleSyncer) toGoogle(ev *core.Event) *calendar.Event {
	end := ev.Start.Add(30 * time.Minute)
	if ev.End != nil {
		end = *ev.End
	}

	out := &calendar.Event{
		Summary:     ev.Title,
		Description: ev.Description,
		Location:    ev.Location,
		Start:       &calendar.EventDateTime{DateTime: ev.Start.Format(time.RFC3339)},
		End:         &calendar.EventDateTime{DateTime: end.Format(time.RFC3339)},
	}

	if ev.Recurrence != "" {
		out.Recurrence = []string{"RRULE:" + ev.Recurrence}
	}

	if len(ev.Attendees) > 0 {
		attendees := make([]*calendar.EventAttendee, 0, len(ev.Attendees))
		for _, email := range ev.Attendees {
			attendees = append(attendees, &calendar.EventAttendee{Email: email})
		}
		out.Attendees = attendees
	}

	if len(ev.Reminders) > 0 {
		overrides := make([]*calendar.EventReminder, 0, len(ev.Reminders))
		for _, minutes := range ev.Reminders {
			overrides = append(overrides, &calendar.EventReminder{
				Method:  "popup",
				Minutes: int64(minutes),
			})
		}
		out.Reminders = &calendar.EventReminders{UseDefault: false, Overrides: overrides}
	}

	return out
}
