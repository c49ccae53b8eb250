package extract

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/eventflow/eventflow/internal/core"
)

func testClient(url string) *Client {
	cfg := DefaultConfig(url, "test-key")
	cfg.BackoffBase = time.Millisecond
	return NewClient(cfg)
}

func TestExtractSuccess(t *testing.T) {
	start := time.Date(2026, 9, 15, 10, 0, 0, 0, time.UTC)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/extract" {
			t.Errorf("path = %s, want /extract", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}

		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Text == "" {
			t.Error("request text is empty")
		}

		json.NewEncoder(w).Encode(Result{
			Title:      "Team standup",
			Start:      &start,
			Confidence: 0.8,
		})
	}))
	defer srv.Close()

	result, err := testClient(srv.URL).Extract(context.Background(), Request{
		Text:     "Standup tomorrow at 10am",
		Source:   core.SourceGmail,
		Timezone: "UTC",
	})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if result.Title != "Team standup" {
		t.Errorf("title = %q", result.Title)
	}
	if result.Start == nil || !result.Start.Equal(start) {
		t.Errorf("start = %v, want %v", result.Start, start)
	}
}

func TestExtractRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(Result{Title: "Recovered"})
	}))
	defer srv.Close()

	result, err := testClient(srv.URL).Extract(context.Background(), Request{Text: "x"})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if result.Title != "Recovered" {
		t.Errorf("title = %q", result.Title)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
}

func TestExtractExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Extract(context.Background(), Request{Text: "x"})
	if !errors.Is(err, core.ErrExtraction) {
		t.Fatalf("err = %v, want ErrExtraction", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
}

func TestExtractContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := DefaultConfig(srv.URL, "")
	cfg.BackoffBase = time.Minute
	client := NewClient(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := client.Extract(ctx, Request{Text: "x"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
