package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/eventflow/eventflow/internal/audit"
)

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.users.GetSettings(s.actor(r).UserID)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, settings)
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	actor := s.actor(r)

	var input struct {
		Timezone           *string  `json:"timezone"`
		DefaultReminder    *int     `json:"default_reminder"`
		AutoApprove        *bool    `json:"auto_approve"`
		ConfidenceMin      *float64 `json:"confidence_min"`
		EmailNotifications *bool    `json:"email_notifications"`
	}

	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	settings, err := s.users.GetSettings(actor.UserID)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}

	if input.Timezone != nil {
		if _, err := time.LoadLocation(*input.Timezone); err != nil {
			s.respondError(w, http.StatusBadRequest, "unknown timezone")
			return
		}
		settings.Timezone = *input.Timezone
	}
	if input.DefaultReminder != nil {
		if *input.DefaultReminder < 0 {
			s.respondError(w, http.StatusBadRequest, "default_reminder must not be negative")
			return
		}
		settings.DefaultReminder = *input.DefaultReminder
	}
	if input.AutoApprove != nil {
		settings.AutoApprove = *input.AutoApprove
	}
	if input.ConfidenceMin != nil {
		if *input.ConfidenceMin < 0 || *input.ConfidenceMin > 1 {
			s.respondError(w, http.StatusBadRequest, "confidence_min must be between 0 and 1")
			return
		}
		settings.ConfidenceMin = *input.ConfidenceMin
	}
	if input.EmailNotifications != nil {
		settings.EmailNotifications = *input.EmailNotifications
	}

	if err := s.users.SaveSettings(settings); err != nil {
		s.respondServiceError(w, err)
		return
	}

	if s.auditLog != nil {
		s.auditLog.Record(audit.ActionSettingsUpdated, "settings", string(actor.UserID), actor.UserID, actor.Name(), map[string]interface{}{
			"auto_approve":   settings.AutoApprove,
			"confidence_min": settings.ConfidenceMin,
		})
	}

	s.respondJSON(w, http.StatusOK, settings)
}
