// Package ingest turns raw text from any entry point (quick-add, Gmail push,
// connector polls) into suggestions. All entry points run the same pipeline:
// rate limit, extract, score, fill defaults, repair past dates, gate on the
// user's confidence threshold.
package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/eventflow/eventflow/internal/auth"
	"github.com/eventflow/eventflow/internal/confidence"
	"github.com/eventflow/eventflow/internal/core"
	"github.com/eventflow/eventflow/internal/extract"
	"github.com/eventflow/eventflow/internal/logging"
	"github.com/eventflow/eventflow/internal/ratelimit"
	"github.com/eventflow/eventflow/internal/storage"
	"github.com/eventflow/eventflow/internal/suggest"
)

// Extractor is the extraction client surface the adapter needs
type Extractor interface {
	Extract(ctx context.Context, req extract.Request) (*extract.Result, error)
}

// Adapter is the shared ingestion pipeline
type Adapter struct {
	extractor   Extractor
	suggestions *suggest.Service
	users       *storage.UserStore
	limiter     *ratelimit.Limiter // optional, keyed by user
	now         func() time.Time
}

// NewAdapter creates the pipeline. limiter may be nil.
func NewAdapter(extractor Extractor, suggestions *suggest.Service, users *storage.UserStore, limiter *ratelimit.Limiter) *Adapter {
	return &Adapter{
		extractor:   extractor,
		suggestions: suggestions,
		users:       users,
		limiter:     limiter,
		now:         time.Now,
	}
}

// SetClock overrides the time source, for tests
func (a *Adapter) SetClock(now func() time.Time) {
	a.now = now
}

// Input is one piece of raw text plus its provenance
type Input struct {
	Text      string
	Source    core.Source
	Subject   string
	From      string
	Locale    string
	MessageID string
	URL       string
}

// Outcome reports what the pipeline did. Suggestion is nil when the result
// scored below the user's threshold and was discarded.
type Outcome struct {
	Suggestion *core.Suggestion `json:"suggestion,omitempty"`
	Confidence float64          `json:"confidence"`
	Discarded  bool             `json:"discarded"`
}

// QuickAdd ingests user-typed text
func (a *Adapter) QuickAdd(ctx context.Context, actor auth.Actor, text string) (*Outcome, error) {
	return a.Ingest(ctx, actor, Input{Text: text, Source: core.SourceQuickAdd})
}

// Ingest runs the full pipeline for one input
func (a *Adapter) Ingest(ctx context.Context, actor auth.Actor, in Input) (*Outcome, error) {
	if strings.TrimSpace(in.Text) == "" {
		return nil, fmt.Errorf("%w: text", core.ErrMissingRequired)
	}
	if in.Source == "" {
		return nil, fmt.Errorf("%w: source", core.ErrMissingRequired)
	}

	if a.limiter != nil {
		if err := a.limiter.Allow(string(actor.UserID)); err != nil {
			return nil, err
		}
	}

	settings, err := a.users.GetSettings(actor.UserID)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	meta := &core.SourceMeta{
		MessageID: in.MessageID,
		Subject:   in.Subject,
		From:      in.From,
		Locale:    in.Locale,
		URL:       in.URL,
	}

	result, err := a.extractor.Extract(ctx, extract.Request{
		Text:       in.Text,
		Source:     in.Source,
		SourceMeta: meta,
		Locale:     in.Locale,
		Timezone:   settings.Timezone,
	})
	if err != nil {
		return nil, err
	}

	msg := confidence.Message{Subject: in.Subject, From: in.From, Body: in.Text}
	score := confidence.Score(result, msg)
	confidence.ApplyDefaults(result, msg)
	a.repairPastStart(result)
	// Stored suggestions always carry a title.
	if result.Title == "" {
		result.Title = "Untitled"
	}

	if score < settings.ConfidenceMin {
		logging.WithFields(map[string]interface{}{
			"user_id":    string(actor.UserID),
			"source":     string(in.Source),
			"confidence": score,
			"threshold":  settings.ConfidenceMin,
		}).Debug("discarding sub-threshold extraction")
		return &Outcome{Confidence: score, Discarded: true}, nil
	}

	sg, err := a.suggestions.Create(ctx, actor, suggest.CreateInput{
		Title:       result.Title,
		Description: result.Description,
		Start:       result.Start,
		End:         result.End,
		Timezone:    result.Timezone,
		Location:    result.Location,
		Attendees:   result.Attendees,
		Reminders:   result.Reminders,
		Recurrence:  result.Recurrence,
		Confidence:  score,
		RawText:     in.Text,
		Source:      in.Source,
		SourceMeta:  meta,
	})
	if err != nil {
		return nil, err
	}

	return &Outcome{Suggestion: sg, Confidence: score}, nil
}

// repairPastStart shifts a start in the past exactly one year forward, same
// month, day and time. Extractors resolve "June 5" against the wrong year
// when the email predates the event; next year is the likeliest intent.
func (a *Adapter) repairPastStart(r *extract.Result) {
	if r.Start == nil || !r.Start.Before(a.now()) {
		return
	}

	start := r.Start.AddDate(1, 0, 0)
	r.Start = &start

	if r.End != nil {
		end := r.End.AddDate(1, 0, 0)
		r.End = &end
	}
}
