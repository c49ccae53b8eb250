package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/eventflow/eventflow/internal/core"
	"github.com/eventflow/eventflow/internal/events"
)

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	from := queryTime(r, "from")
	to := queryTime(r, "to")

	list, err := s.events.List(r.Context(), s.actor(r), from, to, limit)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, list)
}

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Title       string     `json:"title"`
		Description string     `json:"description"`
		Start       time.Time  `json:"start"`
		End         *time.Time `json:"end"`
		Timezone    string     `json:"timezone"`
		Location    string     `json:"location"`
		Attendees   []string   `json:"attendees"`
		Reminders   []int      `json:"reminders"`
		Recurrence  string     `json:"recurrence"`
	}

	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	event, err := s.events.Create(r.Context(), s.actor(r), events.CreateInput{
		Title:       input.Title,
		Description: input.Description,
		Start:       input.Start,
		End:         input.End,
		Timezone:    input.Timezone,
		Location:    input.Location,
		Attendees:   input.Attendees,
		Reminders:   input.Reminders,
		Recurrence:  input.Recurrence,
	})
	if err != nil {
		s.respondServiceError(w, err)
		return
	}

	s.respondJSON(w, http.StatusCreated, event)
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	id := core.EventID(chi.URLParam(r, "eventID"))

	event, err := s.events.Get(r.Context(), s.actor(r), id)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, event)
}

func (s *Server) handleUpdateEvent(w http.ResponseWriter, r *http.Request) {
	id := core.EventID(chi.URLParam(r, "eventID"))

	var input struct {
		Title       *string    `json:"title"`
		Description *string    `json:"description"`
		Start       *time.Time `json:"start"`
		End         *time.Time `json:"end"`
		Timezone    *string    `json:"timezone"`
		Location    *string    `json:"location"`
		Recurrence  *string    `json:"recurrence"`
	}

	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	event, err := s.events.Update(r.Context(), s.actor(r), id, events.UpdateInput{
		Title:       input.Title,
		Description: input.Description,
		Start:       input.Start,
		End:         input.End,
		Timezone:    input.Timezone,
		Location:    input.Location,
		Recurrence:  input.Recurrence,
	})
	if err != nil {
		s.respondServiceError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, event)
}

func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	id := core.EventID(chi.URLParam(r, "eventID"))

	if err := s.events.Delete(r.Context(), s.actor(r), id); err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleEventICS(w http.ResponseWriter, r *http.Request) {
	id := core.EventID(chi.URLParam(r, "eventID"))

	ics, err := s.events.ICS(r.Context(), s.actor(r), id)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.ics", id))
	w.WriteHeader(http.StatusOK)
	w.Write(ics)
}

func queryTime(r *http.Request, key string) *time.Time {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil
	}
	return &t
}
