package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/eventflow/eventflow/internal/core"
	"github.com/eventflow/eventflow/internal/logging"
)

func (s *Server) handleListConnectors(w http.ResponseWriter, r *http.Request) {
	list, err := s.connectors.List(r.Context(), s.actor(r))
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, list)
}

func (s *Server) handleLinkConnector(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Provider  core.Provider `json:"provider"`
		Email     string        `json:"email"`
		TokenJSON string        `json:"token_json"`
	}

	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	conn, err := s.connectors.Link(r.Context(), s.actor(r), input.Provider, input.Email, input.TokenJSON)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}

	s.respondJSON(w, http.StatusCreated, conn)
}

func (s *Server) handleUpdateConnector(w http.ResponseWriter, r *http.Request) {
	id := core.ConnectorID(chi.URLParam(r, "connectorID"))

	var input struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if input.Enabled == nil {
		s.respondError(w, http.StatusBadRequest, "enabled is required")
		return
	}

	if err := s.connectors.SetEnabled(r.Context(), s.actor(r), id, *input.Enabled); err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]bool{"enabled": *input.Enabled})
}

func (s *Server) handlePollConnectors(w http.ResponseWriter, r *http.Request) {
	result, err := s.connectors.Poll(r.Context())
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleRunAutoApprove(w http.ResponseWriter, r *http.Request) {
	result, err := s.sweeper.Run(r.Context())
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

// handleGmailPush accepts Pub/Sub push envelopes from Gmail watch
// notifications. Always acknowledges with 2xx so the broker does not retry
// forever; the mailbox state is re-read on the next poll regardless.
func (s *Server) handleGmailPush(w http.ResponseWriter, r *http.Request) {
	var envelope struct {
		Message struct {
			Data string `json:"data"`
		} `json:"message"`
	}

	if err := json.NewDecoder(r.Body).Decode(&envelope); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	raw, err := base64.StdEncoding.DecodeString(envelope.Message.Data)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid message data")
		return
	}

	var payload struct {
		EmailAddress string          `json:"emailAddress"`
		HistoryID    json.RawMessage `json:"historyId"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil || payload.EmailAddress == "" {
		s.respondError(w, http.StatusBadRequest, "invalid notification payload")
		return
	}

	result, err := s.connectors.HandlePush(r.Context(), payload.EmailAddress, parseHistoryID(payload.HistoryID))
	if err != nil {
		if errors.Is(err, core.ErrConnectorNotFound) {
			// Stale watch for a mailbox no longer linked. Ack and move on.
			w.WriteHeader(http.StatusNoContent)
			return
		}
		logging.WithField("email", payload.EmailAddress).Error("push ingestion failed: %v", err)
		w.WriteHeader(http.StatusNoContent)
		return
	}

	s.respondJSON(w, http.StatusOK, result)
}

// parseHistoryID tolerates both string and number encodings, which Gmail
// has shipped at different times.
func parseHistoryID(raw json.RawMessage) uint64 {
	if len(raw) == 0 {
		return 0
	}
	var asNumber uint64
	if err := json.Unmarshal(raw, &asNumber); err == nil {
		return asNumber
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		n, _ := strconv.ParseUint(asString, 10, 64)
		return n
	}
	return 0
}
