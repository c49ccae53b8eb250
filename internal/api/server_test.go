package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/eventflow/eventflow/internal/audit"
	"github.com/eventflow/eventflow/internal/autoapprove"
	"github.com/eventflow/eventflow/internal/connectors"
	"github.com/eventflow/eventflow/internal/core"
	"github.com/eventflow/eventflow/internal/events"
	"github.com/eventflow/eventflow/internal/extract"
	"github.com/eventflow/eventflow/internal/ingest"
	"github.com/eventflow/eventflow/internal/ratelimit"
	"github.com/eventflow/eventflow/internal/storage"
	"github.com/eventflow/eventflow/internal/suggest"
	"github.com/eventflow/eventflow/internal/testutil"
)

// fakeExtractor returns a confident suggestion one week out for any text.
type fakeExtractor struct{}

func (fakeExtractor) Extract(ctx context.Context, req extract.Request) (*extract.Result, error) {
	start := time.Now().AddDate(0, 0, 7).Truncate(time.Hour)
	return &extract.Result{
		Title:      "Team meeting",
		Start:      &start,
		Confidence: 0.9,
		Source:     req.Source,
		SourceMeta: req.SourceMeta,
	}, nil
}

// testServer wires the full stack against an in-memory database
func testServer(t *testing.T) (*Server, *core.User) {
	t.Helper()

	db := testutil.TestDB(t)
	users := storage.NewUserStore(db)
	suggestionStore := storage.NewSuggestionStore(db)
	eventStore := storage.NewEventStore(db)
	connectorStore := storage.NewConnectorStore(db)
	auditLog := audit.NewLog(db)
	limiters := ratelimit.NewLimiters()

	suggestions := suggest.NewService(suggestionStore, eventStore, users, auditLog, nil, nil)
	eventSvc := events.NewService(eventStore, users, auditLog, nil)
	adapter := ingest.NewAdapter(fakeExtractor{}, suggestions, users, limiters.Extraction)
	sweeper := autoapprove.NewSweeper(users, suggestionStore, suggestions, nil)
	connectorSvc := connectors.NewService(connectorStore, adapter, auditLog, limiters.Poll,
		func(ctx context.Context, tokenJSON string) (connectors.MailClient, error) {
			return nil, fmt.Errorf("no mail client in tests")
		})

	srv := New(Config{
		Port:        0,
		Users:       users,
		Suggestions: suggestions,
		Events:      eventSvc,
		Connectors:  connectorSvc,
		Ingest:      adapter,
		Sweeper:     sweeper,
		AuditLog:    auditLog,
		Limiters:    limiters,
	})

	user := testutil.TestUser(t, db, "api@example.com")
	return srv, user
}

// request runs one request through the full router, middleware included
func request(t *testing.T, srv *Server, token, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Buffer
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewBuffer(raw)
	} else {
		reader = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rr := httptest.NewRecorder()
	srv.router.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, into interface{}) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), into); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
}

func TestAPI_RequiresAuth(t *testing.T) {
	srv, _ := testServer(t)

	rr := request(t, srv, "", "GET", "/api/v1/suggestions", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", rr.Code)
	}

	rr = request(t, srv, "not-a-real-token", "GET", "/api/v1/suggestions", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401 for bad token, got %d", rr.Code)
	}
}

func TestAPI_HealthIsPublic(t *testing.T) {
	srv, _ := testServer(t)

	rr := request(t, srv, "", "GET", "/health", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}
}

func TestAPI_QuickAddApproveFlow(t *testing.T) {
	srv, user := testServer(t)

	rr := request(t, srv, user.APIToken, "POST", "/api/v1/quick-add",
		map[string]string{"text": "Team meeting next week at 10am"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("quick-add: expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}

	var outcome struct {
		Suggestion *core.Suggestion `json:"suggestion"`
		Discarded  bool             `json:"discarded"`
	}
	decode(t, rr, &outcome)
	if outcome.Discarded || outcome.Suggestion == nil {
		t.Fatalf("expected a created suggestion, got %+v", outcome)
	}

	path := "/api/v1/suggestions/" + string(outcome.Suggestion.ID) + "/approve"
	rr = request(t, srv, user.APIToken, "POST", path, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("approve: expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var event core.Event
	decode(t, rr, &event)
	if event.Title != "Team meeting" {
		t.Errorf("expected event title carried over, got %q", event.Title)
	}

	// Approving again must conflict, not duplicate
	rr = request(t, srv, user.APIToken, "POST", path, nil)
	if rr.Code != http.StatusConflict {
		t.Errorf("second approve: expected status 409, got %d", rr.Code)
	}
}

func TestAPI_GetSuggestionNotFound(t *testing.T) {
	srv, user := testServer(t)

	rr := request(t, srv, user.APIToken, "GET", "/api/v1/suggestions/no-such-id", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", rr.Code)
	}
}

func TestAPI_SnoozeRejectsPastTime(t *testing.T) {
	srv, user := testServer(t)

	rr := request(t, srv, user.APIToken, "POST", "/api/v1/quick-add",
		map[string]string{"text": "Team meeting"})
	var outcome struct {
		Suggestion *core.Suggestion `json:"suggestion"`
	}
	decode(t, rr, &outcome)

	path := "/api/v1/suggestions/" + string(outcome.Suggestion.ID) + "/snooze"
	rr = request(t, srv, user.APIToken, "POST", path,
		map[string]interface{}{"until": time.Now().Add(-time.Hour)})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestAPI_EventLifecycle(t *testing.T) {
	srv, user := testServer(t)

	start := time.Now().Add(48 * time.Hour).Truncate(time.Second)
	rr := request(t, srv, user.APIToken, "POST", "/api/v1/events", map[string]interface{}{
		"title": "Dentist",
		"start": start,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var event core.Event
	decode(t, rr, &event)

	rr = request(t, srv, user.APIToken, "GET", "/api/v1/events/"+string(event.ID), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("get: expected status 200, got %d", rr.Code)
	}

	rr = request(t, srv, user.APIToken, "PUT", "/api/v1/events/"+string(event.ID),
		map[string]string{"title": "Dentist (moved)"})
	if rr.Code != http.StatusOK {
		t.Fatalf("update: expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var updated core.Event
	decode(t, rr, &updated)
	if updated.Title != "Dentist (moved)" {
		t.Errorf("expected updated title, got %q", updated.Title)
	}

	rr = request(t, srv, user.APIToken, "DELETE", "/api/v1/events/"+string(event.ID), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("delete: expected status 200, got %d", rr.Code)
	}

	rr = request(t, srv, user.APIToken, "GET", "/api/v1/events/"+string(event.ID), nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("get after delete: expected status 404, got %d", rr.Code)
	}
}

func TestAPI_EventCreateMissingTitle(t *testing.T) {
	srv, user := testServer(t)

	rr := request(t, srv, user.APIToken, "POST", "/api/v1/events", map[string]interface{}{
		"start": time.Now().Add(time.Hour),
	})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rr.Code)
	}
}

func TestAPI_EventICSDownload(t *testing.T) {
	srv, user := testServer(t)

	rr := request(t, srv, user.APIToken, "POST", "/api/v1/events", map[string]interface{}{
		"title": "Exam",
		"start": time.Now().Add(72 * time.Hour),
	})
	var event core.Event
	decode(t, rr, &event)

	rr = request(t, srv, user.APIToken, "GET", "/api/v1/events/"+string(event.ID)+"/ics", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "text/calendar; charset=utf-8" {
		t.Errorf("unexpected content type %q", ct)
	}
	if !bytes.Contains(rr.Body.Bytes(), []byte("BEGIN:VCALENDAR")) {
		t.Errorf("response is not an ICS document: %s", rr.Body.String())
	}
}

func TestAPI_SettingsRoundTrip(t *testing.T) {
	srv, user := testServer(t)

	rr := request(t, srv, user.APIToken, "GET", "/api/v1/settings", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var settings core.UserSettings
	decode(t, rr, &settings)
	if settings.ConfidenceMin != 0.7 {
		t.Errorf("expected default confidence_min 0.7, got %v", settings.ConfidenceMin)
	}

	rr = request(t, srv, user.APIToken, "PUT", "/api/v1/settings", map[string]interface{}{
		"auto_approve":   true,
		"confidence_min": 0.5,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("update: expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = request(t, srv, user.APIToken, "GET", "/api/v1/settings", nil)
	decode(t, rr, &settings)
	if !settings.AutoApprove || settings.ConfidenceMin != 0.5 {
		t.Errorf("settings not persisted: %+v", settings)
	}
}

func TestAPI_SettingsValidation(t *testing.T) {
	srv, user := testServer(t)

	rr := request(t, srv, user.APIToken, "PUT", "/api/v1/settings",
		map[string]interface{}{"confidence_min": 1.5})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status 400 for out-of-range threshold, got %d", rr.Code)
	}

	rr = request(t, srv, user.APIToken, "PUT", "/api/v1/settings",
		map[string]interface{}{"timezone": "Not/AZone"})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status 400 for unknown timezone, got %d", rr.Code)
	}
}

func TestAPI_AutoApproveRun(t *testing.T) {
	srv, user := testServer(t)

	rr := request(t, srv, user.APIToken, "PUT", "/api/v1/settings",
		map[string]interface{}{"auto_approve": true})
	if rr.Code != http.StatusOK {
		t.Fatalf("opt in: expected status 200, got %d", rr.Code)
	}

	rr = request(t, srv, user.APIToken, "POST", "/api/v1/quick-add",
		map[string]string{"text": "Team sync"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("quick-add: expected status 201, got %d", rr.Code)
	}

	rr = request(t, srv, user.APIToken, "POST", "/api/v1/autoapprove/run", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var result autoapprove.Result
	decode(t, rr, &result)
	if result.TotalApproved != 1 {
		t.Errorf("expected 1 approval, got %+v", result)
	}
}

func TestAPI_GmailPushUnknownMailbox(t *testing.T) {
	srv, _ := testServer(t)

	payload, _ := json.Marshal(map[string]interface{}{
		"emailAddress": "nobody@example.com",
		"historyId":    42,
	})
	body := map[string]interface{}{
		"message": map[string]string{
			"data": base64.StdEncoding.EncodeToString(payload),
		},
	}

	rr := request(t, srv, "", "POST", "/push/gmail", body)
	if rr.Code != http.StatusNoContent {
		t.Errorf("expected status 204 for unlinked mailbox, got %d", rr.Code)
	}
}

func TestAPI_GmailPushBadPayload(t *testing.T) {
	srv, _ := testServer(t)

	rr := request(t, srv, "", "POST", "/push/gmail",
		map[string]interface{}{"message": map[string]string{"data": "!!not-base64!!"}})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rr.Code)
	}
}

func TestParseHistoryID(t *testing.T) {
	cases := []struct {
		raw  string
		want uint64
	}{
		{`12345`, 12345},
		{`"12345"`, 12345},
		{``, 0},
		{`"garbage"`, 0},
	}
	for _, tc := range cases {
		if got := parseHistoryID(json.RawMessage(tc.raw)); got != tc.want {
			t.Errorf("parseHistoryID(%q) = %d, want %d", tc.raw, got, tc.want)
		}
	}
}

func TestAPI_RateLimit(t *testing.T) {
	srv, user := testServer(t)
	srv.limiters.API = ratelimit.New(ratelimit.Config{
		MaxRequests: 2,
		Window:      time.Minute,
		KeyPrefix:   "api",
	})

	for i := 0; i < 2; i++ {
		rr := request(t, srv, user.APIToken, "GET", "/api/v1/suggestions", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("request %d: expected status 200, got %d", i, rr.Code)
		}
	}

	rr := request(t, srv, user.APIToken, "GET", "/api/v1/suggestions", nil)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header on 429")
	}
}

func TestHub_BroadcastWithoutClients(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Close()

	// Must not panic or block
	hub.Broadcast("user-1", "suggestion.created", map[string]string{"id": "x"})
}
