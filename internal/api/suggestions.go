package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/eventflow/eventflow/internal/core"
	"github.com/eventflow/eventflow/internal/ingest"
	"github.com/eventflow/eventflow/internal/suggest"
)

func (s *Server) handleListSuggestions(w http.ResponseWriter, r *http.Request) {
	status := core.SuggestionStatus(r.URL.Query().Get("status"))
	limit := queryInt(r, "limit", 50)

	suggestions, err := s.suggestions.List(r.Context(), s.actor(r), status, limit)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, suggestions)
}

func (s *Server) handleGetSuggestion(w http.ResponseWriter, r *http.Request) {
	id := core.SuggestionID(chi.URLParam(r, "suggestionID"))

	sg, err := s.suggestions.Get(r.Context(), s.actor(r), id)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, sg)
}

func (s *Server) handleSuggestionCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := s.suggestions.Counts(r.Context(), s.actor(r))
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, counts)
}

func (s *Server) handleCreateSuggestion(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Title       string      `json:"title"`
		Description string      `json:"description"`
		Start       *time.Time  `json:"start"`
		End         *time.Time  `json:"end"`
		Timezone    string      `json:"timezone"`
		Location    string      `json:"location"`
		Attendees   []string    `json:"attendees"`
		Reminders   []int       `json:"reminders"`
		Recurrence  string      `json:"recurrence"`
		Confidence  float64     `json:"confidence"`
		RawText     string      `json:"raw_text"`
		Source      core.Source `json:"source"`
	}

	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	sg, err := s.suggestions.Create(r.Context(), s.actor(r), suggest.CreateInput{
		Title:       input.Title,
		Description: input.Description,
		Start:       input.Start,
		End:         input.End,
		Timezone:    input.Timezone,
		Location:    input.Location,
		Attendees:   input.Attendees,
		Reminders:   input.Reminders,
		Recurrence:  input.Recurrence,
		Confidence:  input.Confidence,
		RawText:     input.RawText,
		Source:      input.Source,
	})
	if err != nil {
		s.respondServiceError(w, err)
		return
	}

	s.respondJSON(w, http.StatusCreated, sg)
}

func (s *Server) handleApproveSuggestion(w http.ResponseWriter, r *http.Request) {
	id := core.SuggestionID(chi.URLParam(r, "suggestionID"))

	event, err := s.suggestions.Approve(r.Context(), s.actor(r), id)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, event)
}

func (s *Server) handleRejectSuggestion(w http.ResponseWriter, r *http.Request) {
	id := core.SuggestionID(chi.URLParam(r, "suggestionID"))

	if err := s.suggestions.Reject(r.Context(), s.actor(r), id); err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
}

func (s *Server) handleSnoozeSuggestion(w http.ResponseWriter, r *http.Request) {
	id := core.SuggestionID(chi.URLParam(r, "suggestionID"))

	var input struct {
		Until time.Time `json:"until"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	if err := s.suggestions.Snooze(r.Context(), s.actor(r), id, input.Until); err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "snoozed"})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Text      string      `json:"text"`
		Source    core.Source `json:"source"`
		Subject   string      `json:"subject"`
		From      string      `json:"from"`
		Locale    string      `json:"locale"`
		MessageID string      `json:"message_id"`
		URL       string      `json:"url"`
	}

	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	outcome, err := s.ingest.Ingest(r.Context(), s.actor(r), ingest.Input{
		Text:      input.Text,
		Source:    input.Source,
		Subject:   input.Subject,
		From:      input.From,
		Locale:    input.Locale,
		MessageID: input.MessageID,
		URL:       input.URL,
	})
	if err != nil {
		s.respondServiceError(w, err)
		return
	}

	status := http.StatusCreated
	if outcome.Discarded {
		status = http.StatusOK
	}
	s.respondJSON(w, status, outcome)
}

func (s *Server) handleQuickAdd(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	outcome, err := s.ingest.QuickAdd(r.Context(), s.actor(r), input.Text)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}

	status := http.StatusCreated
	if outcome.Discarded {
		status = http.StatusOK
	}
	s.respondJSON(w, status, outcome)
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
