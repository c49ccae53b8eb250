// Package connectors drives suggestion ingestion from linked mailboxes, by
// periodic polling and by Gmail push notifications.
package connectors

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/eventflow/eventflow/internal/audit"
	"github.com/eventflow/eventflow/internal/auth"
	"github.com/eventflow/eventflow/internal/connectors/gmail"
	"github.com/eventflow/eventflow/internal/core"
	"github.com/eventflow/eventflow/internal/ingest"
	"github.com/eventflow/eventflow/internal/logging"
	"github.com/eventflow/eventflow/internal/ratelimit"
	"github.com/eventflow/eventflow/internal/storage"
)

// maxMessagesPerPoll bounds one incremental fetch
const maxMessagesPerPoll = 25

// MailClient is the slice of the Gmail client the service uses, split out so
// tests can substitute a fake mailbox.
type MailClient interface {
	Profile(ctx context.Context) (string, uint64, error)
	MessagesSince(ctx context.Context, historyID uint64, maxResults int64) ([]gmail.MessageSummary, uint64, error)
	GetMessage(ctx context.Context, messageID string) (*gmail.Message, error)
}

// ClientFactory builds a mail client from a connector's stored token
type ClientFactory func(ctx context.Context, tokenJSON string) (MailClient, error)

// GmailFactory is the production factory
func GmailFactory(clientID, clientSecret, redirectURL string) ClientFactory {
	cfg := gmail.OAuthConfig(clientID, clientSecret, redirectURL)
	return func(ctx context.Context, tokenJSON string) (MailClient, error) {
		return gmail.NewClient(ctx, cfg, tokenJSON)
	}
}

// PollResult summarizes one poll pass
type PollResult struct {
	ConnectorsPolled   int `json:"connectors_polled"`
	MessagesIngested   int `json:"messages_ingested"`
	SuggestionsCreated int `json:"suggestions_created"`
}

// Service owns connector CRUD and the two ingestion paths
type Service struct {
	connectors *storage.ConnectorStore
	adapter    *ingest.Adapter
	audit      *audit.Log
	limiter    *ratelimit.Limiter // optional, per-connector poll budget
	newClient  ClientFactory
	now        func() time.Time
}

// NewService creates the connector service. limiter may be nil.
func NewService(connectors *storage.ConnectorStore, adapter *ingest.Adapter, auditLog *audit.Log, limiter *ratelimit.Limiter, factory ClientFactory) *Service {
	return &Service{
		connectors: connectors,
		adapter:    adapter,
		audit:      auditLog,
		limiter:    limiter,
		newClient:  factory,
		now:        time.Now,
	}
}

// SetClock overrides the time source, for tests
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Link registers a mailbox connector for a user
func (s *Service) Link(ctx context.Context, actor auth.Actor, provider core.Provider, address, tokenJSON string) (*core.Connector, error) {
	if address == "" {
		return nil, fmt.Errorf("%w: email", core.ErrMissingRequired)
	}
	switch provider {
	case core.ProviderGmail, core.ProviderGoogleCalendar, core.ProviderAppleCalendar:
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", core.ErrValidation, provider)
	}

	conn := &core.Connector{
		ID:        core.ConnectorID(uuid.New().String()),
		UserID:    actor.UserID,
		Provider:  provider,
		Email:     address,
		Enabled:   true,
		TokenJSON: tokenJSON,
	}
	if err := s.connectors.Create(conn); err != nil {
		return nil, err
	}
	return conn, nil
}

// List returns the actor's connectors
func (s *Service) List(ctx context.Context, actor auth.Actor) ([]*core.Connector, error) {
	return s.connectors.ListByUser(actor.UserID)
}

// SetEnabled toggles a connector; foreign connectors look missing
func (s *Service) SetEnabled(ctx context.Context, actor auth.Actor, id core.ConnectorID, enabled bool) error {
	if err := auth.RequireOwner(actor, s.connectors, string(id), core.ErrConnectorNotFound); err != nil {
		return err
	}
	return s.connectors.SetEnabled(id, enabled)
}

// Poll runs one pass over every enabled Gmail connector that is due. Failures
// are isolated per connector.
func (s *Service) Poll(ctx context.Context) (PollResult, error) {
	var result PollResult

	conns, err := s.connectors.ListEnabled()
	if err != nil {
		return result, err
	}

	for _, conn := range conns {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		if conn.Provider != core.ProviderGmail || !s.due(conn) {
			continue
		}

		ingested, created, err := s.pollConnector(ctx, conn)
		if err != nil {
			logging.WithField("connector_id", string(conn.ID)).Warn("poll failed: %v", err)
			continue
		}

		result.ConnectorsPolled++
		result.MessagesIngested += ingested
		result.SuggestionsCreated += created
	}

	return result, nil
}

// HandlePush processes a Gmail push notification. The payload carries only
// the mailbox address and a history cursor; the actual messages still come
// from the history API.
func (s *Service) HandlePush(ctx context.Context, emailAddress string, historyID uint64) (PollResult, error) {
	var result PollResult

	conn, err := s.connectors.FindByEmail(emailAddress, core.ProviderGmail)
	if err != nil {
		return result, err
	}

	ingested, created, err := s.fetchAndIngest(ctx, conn, historyID)
	if err != nil {
		return result, err
	}

	result.ConnectorsPolled = 1
	result.MessagesIngested = ingested
	result.SuggestionsCreated = created
	return result, nil
}

func (s *Service) due(conn *core.Connector) bool {
	if conn.LastPolled == nil {
		return true
	}
	interval := time.Duration(conn.PollInterval) * time.Second
	return s.now().Sub(*conn.LastPolled) >= interval
}

func (s *Service) pollConnector(ctx context.Context, conn *core.Connector) (int, int, error) {
	if s.limiter != nil {
		if err := s.limiter.Allow(string(conn.ID)); err != nil {
			return 0, 0, err
		}
	}
	return s.fetchAndIngest(ctx, conn, 0)
}

// fetchAndIngest pulls new messages after the connector's stored cursor and
// runs them through the ingestion pipeline. pushCursor, when nonzero, is the
// cursor reported by a push notification and becomes the new stored cursor
// if the history call returns none.
func (s *Service) fetchAndIngest(ctx context.Context, conn *core.Connector, pushCursor uint64) (int, int, error) {
	client, err := s.newClient(ctx, conn.TokenJSON)
	if err != nil {
		return 0, 0, fmt.Errorf("create mail client: %w", err)
	}

	// First contact: record the current cursor and ingest nothing. Only
	// mail that arrives after linking becomes suggestions.
	if conn.HistoryID == 0 {
		_, cursor, err := client.Profile(ctx)
		if err != nil {
			return 0, 0, err
		}
		return 0, 0, s.connectors.MarkPolled(conn.ID, s.now(), cursor)
	}

	summaries, newCursor, err := client.MessagesSince(ctx, conn.HistoryID, maxMessagesPerPoll)
	if err != nil {
		return 0, 0, err
	}
	if newCursor == 0 {
		newCursor = pushCursor
	}
	if newCursor == 0 {
		newCursor = conn.HistoryID
	}

	actor := auth.SystemActor(conn.UserID)
	ingested, created := 0, 0

	for _, summary := range summaries {
		if ctx.Err() != nil {
			return ingested, created, ctx.Err()
		}

		msg, err := client.GetMessage(ctx, summary.ID)
		if err != nil {
			logging.WithFields(map[string]interface{}{
				"connector_id": string(conn.ID),
				"message_id":   summary.ID,
			}).Warn("fetch message failed: %v", err)
			continue
		}

		out, err := s.adapter.Ingest(ctx, actor, ingest.Input{
			Text:      msg.Body,
			Source:    core.SourceGmail,
			Subject:   msg.Subject,
			From:      msg.From,
			Locale:    msg.Locale,
			MessageID: msg.ID,
		})
		if err != nil {
			logging.WithFields(map[string]interface{}{
				"connector_id": string(conn.ID),
				"message_id":   summary.ID,
			}).Warn("ingest message failed: %v", err)
			continue
		}

		ingested++
		if out.Suggestion != nil {
			created++
		}
	}

	if err := s.connectors.MarkPolled(conn.ID, s.now(), newCursor); err != nil {
		return ingested, created, err
	}

	s.audit.Record(audit.ActionConnectorPolled, "connector", string(conn.ID), conn.UserID, audit.ActorSystem, map[string]interface{}{
		"messages":    ingested,
		"suggestions": created,
	})

	return ingested, created, nil
}
