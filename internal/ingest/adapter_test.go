package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/eventflow/eventflow/internal/audit"
	"github.com/eventflow/eventflow/internal/auth"
	"github.com/eventflow/eventflow/internal/core"
	"github.com/eventflow/eventflow/internal/extract"
	"github.com/eventflow/eventflow/internal/ratelimit"
	"github.com/eventflow/eventflow/internal/storage"
	"github.com/eventflow/eventflow/internal/suggest"
	"github.com/eventflow/eventflow/internal/testutil"
)

// fakeExtractor returns a canned result without any HTTP
type fakeExtractor struct {
	result *extract.Result
	err    error
	calls  int
}

func (f *fakeExtractor) Extract(ctx context.Context, req extract.Request) (*extract.Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	// Copy so per-test mutation by the pipeline cannot leak between calls.
	r := *f.result
	return &r, nil
}

type harness struct {
	adapter *Adapter
	fake    *fakeExtractor
	users   *storage.UserStore
	user    *core.User
	actor   auth.Actor
}

func newHarness(t *testing.T, result *extract.Result) *harness {
	t.Helper()

	db := testutil.TestDB(t)
	user := testutil.TestUser(t, db, "ingest@example.com")

	users := storage.NewUserStore(db)
	suggestions := storage.NewSuggestionStore(db)
	events := storage.NewEventStore(db)
	svc := suggest.NewService(suggestions, events, users, audit.NewLog(db), nil, nil)

	fake := &fakeExtractor{result: result}
	return &harness{
		adapter: NewAdapter(fake, svc, users, nil),
		fake:    fake,
		users:   users,
		user:    user,
		actor:   auth.UserActor(user.ID),
	}
}

func futureTime(t *testing.T) time.Time {
	t.Helper()
	return time.Now().UTC().Add(30 * 24 * time.Hour).Truncate(time.Second)
}

func TestIngestCreatesSuggestion(t *testing.T) {
	start := futureTime(t)
	h := newHarness(t, &extract.Result{
		Title:      "Team planning",
		Start:      &start,
		Confidence: 0.8,
	})

	out, err := h.adapter.Ingest(context.Background(), h.actor, Input{
		Text:   "Planning session next month",
		Source: core.SourceGmail,
		From:   "boss@example.com",
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	if out.Discarded || out.Suggestion == nil {
		t.Fatalf("outcome = %+v, want created suggestion", out)
	}
	if out.Suggestion.Status != core.StatusPending {
		t.Errorf("status = %v, want PENDING", out.Suggestion.Status)
	}
	if out.Suggestion.RawText != "Planning session next month" {
		t.Errorf("raw text = %q", out.Suggestion.RawText)
	}
	// Default duration fills the missing end.
	if out.Suggestion.End == nil || !out.Suggestion.End.Equal(start.Add(30*time.Minute)) {
		t.Errorf("end = %v, want start+30m", out.Suggestion.End)
	}
}

func TestIngestStoresUntitledFallback(t *testing.T) {
	start := futureTime(t)
	h := newHarness(t, &extract.Result{Start: &start, Confidence: 0.8})

	// No extracted title and no subject to derive one from.
	out, err := h.adapter.Ingest(context.Background(), h.actor, Input{
		Text:   "see you at 10",
		Source: core.SourceGmail,
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if out.Suggestion == nil || out.Suggestion.Title != "Untitled" {
		t.Fatalf("suggestion = %+v, want title %q", out.Suggestion, "Untitled")
	}
}

func TestIngestDiscardsSubThreshold(t *testing.T) {
	// No title, no start, nothing in the text: scores 0.35, below the 0.7
	// default threshold.
	h := newHarness(t, &extract.Result{})

	out, err := h.adapter.Ingest(context.Background(), h.actor, Input{
		Text:   "nothing eventish here",
		Source: core.SourceGmail,
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	if !out.Discarded || out.Suggestion != nil {
		t.Errorf("outcome = %+v, want discarded", out)
	}
	if out.Confidence >= 0.7 {
		t.Errorf("confidence = %v, want sub-threshold", out.Confidence)
	}
}

func TestIngestShiftsPastStartForward(t *testing.T) {
	past := time.Date(2025, 6, 5, 14, 0, 0, 0, time.UTC)
	end := past.Add(time.Hour)
	h := newHarness(t, &extract.Result{
		Title:      "Conference keynote",
		Start:      &past,
		End:        &end,
		Confidence: 0.9,
	})

	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	h.adapter.SetClock(func() time.Time { return now })

	out, err := h.adapter.Ingest(context.Background(), h.actor, Input{
		Text:   "Keynote on June 5 at 2pm",
		Source: core.SourceGmail,
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if out.Suggestion == nil {
		t.Fatalf("outcome = %+v, want suggestion", out)
	}

	wantStart := time.Date(2026, 6, 5, 14, 0, 0, 0, time.UTC)
	if !out.Suggestion.Start.Equal(wantStart) {
		t.Errorf("start = %v, want shifted %v", out.Suggestion.Start, wantStart)
	}
	if !out.Suggestion.End.Equal(wantStart.Add(time.Hour)) {
		t.Errorf("end = %v, want duration preserved", out.Suggestion.End)
	}
}

func TestIngestValidatesInput(t *testing.T) {
	h := newHarness(t, &extract.Result{})
	ctx := context.Background()

	if _, err := h.adapter.Ingest(ctx, h.actor, Input{Source: core.SourceGmail}); !errors.Is(err, core.ErrMissingRequired) {
		t.Errorf("empty text: err = %v, want ErrMissingRequired", err)
	}
	if _, err := h.adapter.Ingest(ctx, h.actor, Input{Text: "   "}); !errors.Is(err, core.ErrMissingRequired) {
		t.Errorf("blank text: err = %v, want ErrMissingRequired", err)
	}
}

func TestIngestPropagatesExtractionFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.fake.err = core.ErrExtraction

	_, err := h.adapter.Ingest(context.Background(), h.actor, Input{
		Text:   "something",
		Source: core.SourceGmail,
	})
	if !errors.Is(err, core.ErrExtraction) {
		t.Errorf("err = %v, want ErrExtraction", err)
	}
}

func TestIngestRateLimited(t *testing.T) {
	start := futureTime(t)
	h := newHarness(t, &extract.Result{Title: "Busy", Start: &start, Confidence: 0.9})

	limiter := ratelimit.New(ratelimit.Config{MaxRequests: 2, Window: time.Minute, KeyPrefix: "extract"})
	h.adapter.limiter = limiter

	ctx := context.Background()
	in := Input{Text: "meeting tomorrow", Source: core.SourceQuickAdd}

	for i := 0; i < 2; i++ {
		if _, err := h.adapter.Ingest(ctx, h.actor, in); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}

	_, err := h.adapter.Ingest(ctx, h.actor, in)
	rle, ok := core.IsRateLimited(err)
	if !ok {
		t.Fatalf("err = %v, want RateLimitError", err)
	}
	if rle.RetryAfter <= 0 {
		t.Errorf("RetryAfter = %v, want positive", rle.RetryAfter)
	}
	// The extractor was never hit for the rejected request.
	if h.fake.calls != 2 {
		t.Errorf("extractor calls = %d, want 2", h.fake.calls)
	}
}

func TestQuickAddThresholdGated(t *testing.T) {
	h := newHarness(t, &extract.Result{Confidence: 0.4})

	// Raise the bar explicitly.
	settings := core.DefaultSettings(h.user.ID)
	settings.ConfidenceMin = 0.9
	if err := h.users.SaveSettings(settings); err != nil {
		t.Fatalf("save settings: %v", err)
	}

	out, err := h.adapter.QuickAdd(context.Background(), h.actor, "lunch friday 12:00")
	if err != nil {
		t.Fatalf("QuickAdd: %v", err)
	}
	if !out.Discarded {
		t.Errorf("outcome = %+v, want discarded under 0.9 threshold", out)
	}
}
