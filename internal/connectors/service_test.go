package connectors

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/eventflow/eventflow/internal/audit"
	"github.com/eventflow/eventflow/internal/auth"
	"github.com/eventflow/eventflow/internal/connectors/gmail"
	"github.com/eventflow/eventflow/internal/core"
	"github.com/eventflow/eventflow/internal/extract"
	"github.com/eventflow/eventflow/internal/ingest"
	"github.com/eventflow/eventflow/internal/storage"
	"github.com/eventflow/eventflow/internal/suggest"
	"github.com/eventflow/eventflow/internal/testutil"
)

// fakeMailbox serves canned messages from memory
type fakeMailbox struct {
	address  string
	cursor   uint64
	messages map[string]*gmail.Message
	pending  []gmail.MessageSummary
}

func (f *fakeMailbox) Profile(ctx context.Context) (string, uint64, error) {
	return f.address, f.cursor, nil
}

func (f *fakeMailbox) MessagesSince(ctx context.Context, historyID uint64, max int64) ([]gmail.MessageSummary, uint64, error) {
	return f.pending, f.cursor, nil
}

func (f *fakeMailbox) GetMessage(ctx context.Context, id string) (*gmail.Message, error) {
	msg, ok := f.messages[id]
	if !ok {
		return nil, errors.New("no such message")
	}
	return msg, nil
}

// stubExtractor always finds a confident future event
type stubExtractor struct{}

func (stubExtractor) Extract(ctx context.Context, req extract.Request) (*extract.Result, error) {
	start := time.Now().UTC().Add(14 * 24 * time.Hour)
	return &extract.Result{
		Title:      "Extracted meeting",
		Start:      &start,
		Confidence: 0.9,
	}, nil
}

type testEnv struct {
	svc         *Service
	mailbox     *fakeMailbox
	connectors  *storage.ConnectorStore
	suggestions *storage.SuggestionStore
	user        *core.User
	actor       auth.Actor
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := testutil.TestDB(t)
	user := testutil.TestUser(t, db, "mailbox@example.com")

	users := storage.NewUserStore(db)
	suggestions := storage.NewSuggestionStore(db)
	events := storage.NewEventStore(db)
	connStore := storage.NewConnectorStore(db)
	auditLog := audit.NewLog(db)

	sgSvc := suggest.NewService(suggestions, events, users, auditLog, nil, nil)
	adapter := ingest.NewAdapter(stubExtractor{}, sgSvc, users, nil)

	mailbox := &fakeMailbox{
		address:  "mailbox@example.com",
		cursor:   100,
		messages: map[string]*gmail.Message{},
	}
	factory := func(ctx context.Context, tokenJSON string) (MailClient, error) {
		return mailbox, nil
	}

	return &testEnv{
		svc:         NewService(connStore, adapter, auditLog, nil, factory),
		mailbox:     mailbox,
		connectors:  connStore,
		suggestions: suggestions,
		user:        user,
		actor:       auth.UserActor(user.ID),
	}
}

func (e *testEnv) linked(t *testing.T) *core.Connector {
	t.Helper()
	conn, err := e.svc.Link(context.Background(), e.actor, core.ProviderGmail, "mailbox@example.com", `{"access_token":"x"}`)
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	return conn
}

func (e *testEnv) addMail(id, subject, body string) {
	e.mailbox.messages[id] = &gmail.Message{
		ID:      id,
		From:    "sender@example.com",
		Subject: subject,
		Body:    body,
		Date:    time.Now(),
	}
	e.mailbox.pending = append(e.mailbox.pending, gmail.MessageSummary{ID: id})
}

func TestLinkValidation(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	if _, err := e.svc.Link(ctx, e.actor, core.ProviderGmail, "", "{}"); !errors.Is(err, core.ErrMissingRequired) {
		t.Errorf("missing email: err = %v", err)
	}
	if _, err := e.svc.Link(ctx, e.actor, core.Provider("FAX"), "a@b.com", "{}"); !errors.Is(err, core.ErrValidation) {
		t.Errorf("bad provider: err = %v", err)
	}
}

func TestFirstPollRecordsBaseline(t *testing.T) {
	e := newTestEnv(t)
	conn := e.linked(t)

	// Mail that existed before linking must not become a suggestion.
	e.addMail("old-1", "Old meeting", "meeting yesterday")

	result, err := e.svc.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if result.MessagesIngested != 0 {
		t.Errorf("ingested = %d, want 0 on baseline poll", result.MessagesIngested)
	}

	stored, err := e.connectors.GetByID(conn.ID)
	if err != nil {
		t.Fatalf("get connector: %v", err)
	}
	if stored.HistoryID != 100 {
		t.Errorf("history id = %d, want baseline 100", stored.HistoryID)
	}
	if stored.LastPolled == nil {
		t.Error("last_polled not set")
	}
}

func TestPollIngestsNewMail(t *testing.T) {
	e := newTestEnv(t)
	conn := e.linked(t)

	// Baseline first.
	if _, err := e.svc.Poll(context.Background()); err != nil {
		t.Fatalf("baseline poll: %v", err)
	}

	e.addMail("new-1", "Team sync", "sync next friday at 10:00 am")
	e.mailbox.cursor = 200

	// Second poll is gated by the poll interval; fast-forward the clock.
	e.svc.SetClock(func() time.Time { return time.Now().Add(10 * time.Minute) })

	result, err := e.svc.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if result.ConnectorsPolled != 1 || result.MessagesIngested != 1 || result.SuggestionsCreated != 1 {
		t.Errorf("result = %+v, want 1/1/1", result)
	}

	stored, _ := e.connectors.GetByID(conn.ID)
	if stored.HistoryID != 200 {
		t.Errorf("history id = %d, want advanced to 200", stored.HistoryID)
	}

	sgs, err := e.suggestions.ListByUser(e.user.ID, core.StatusPending, 0)
	if err != nil {
		t.Fatalf("list suggestions: %v", err)
	}
	if len(sgs) != 1 {
		t.Fatalf("suggestions = %d, want 1", len(sgs))
	}
	if sgs[0].Source != core.SourceGmail {
		t.Errorf("source = %v", sgs[0].Source)
	}
	if sgs[0].SourceMeta == nil || sgs[0].SourceMeta.MessageID != "new-1" {
		t.Errorf("source meta = %+v, want message id new-1", sgs[0].SourceMeta)
	}
}

func TestPollRespectsInterval(t *testing.T) {
	e := newTestEnv(t)
	e.linked(t)

	if _, err := e.svc.Poll(context.Background()); err != nil {
		t.Fatalf("baseline poll: %v", err)
	}

	e.addMail("new-1", "Sync", "friday 10:00 am sync")

	// Immediately after the baseline, the connector is not due yet.
	result, err := e.svc.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if result.ConnectorsPolled != 0 {
		t.Errorf("polled = %d, want 0 inside interval", result.ConnectorsPolled)
	}
}

func TestPollSkipsDisabledConnector(t *testing.T) {
	e := newTestEnv(t)
	conn := e.linked(t)

	if err := e.svc.SetEnabled(context.Background(), e.actor, conn.ID, false); err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}

	result, err := e.svc.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if result.ConnectorsPolled != 0 {
		t.Errorf("polled = %d, want 0", result.ConnectorsPolled)
	}
}

func TestSetEnabledForeignConnector(t *testing.T) {
	e := newTestEnv(t)
	conn := e.linked(t)

	other := auth.UserActor(core.UserID("intruder"))
	err := e.svc.SetEnabled(context.Background(), other, conn.ID, false)
	if !errors.Is(err, core.ErrConnectorNotFound) {
		t.Errorf("err = %v, want ErrConnectorNotFound", err)
	}
}

func TestHandlePush(t *testing.T) {
	e := newTestEnv(t)
	e.linked(t)

	if _, err := e.svc.Poll(context.Background()); err != nil {
		t.Fatalf("baseline poll: %v", err)
	}

	e.addMail("pushed-1", "Exam notice", "vizsga kedd 10:00 óra")
	e.mailbox.cursor = 300

	result, err := e.svc.HandlePush(context.Background(), "mailbox@example.com", 300)
	if err != nil {
		t.Fatalf("HandlePush: %v", err)
	}
	if result.MessagesIngested != 1 {
		t.Errorf("ingested = %d, want 1", result.MessagesIngested)
	}
}

func TestHandlePushUnknownMailbox(t *testing.T) {
	e := newTestEnv(t)

	_, err := e.svc.HandlePush(context.Background(), "stranger@example.com", 42)
	if !errors.Is(err, core.ErrConnectorNotFound) {
		t.Errorf("err = %v, want ErrConnectorNotFound", err)
	}
}
