// Package api provides the HTTP API server for EventFlow.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/eventflow/eventflow/internal/audit"
	"github.com/eventflow/eventflow/internal/autoapprove"
	"github.com/eventflow/eventflow/internal/connectors"
	"github.com/eventflow/eventflow/internal/core"
	"github.com/eventflow/eventflow/internal/events"
	"github.com/eventflow/eventflow/internal/ingest"
	"github.com/eventflow/eventflow/internal/ratelimit"
	"github.com/eventflow/eventflow/internal/storage"
	"github.com/eventflow/eventflow/internal/suggest"
)

// Server is the HTTP API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server

	users       *storage.UserStore
	suggestions *suggest.Service
	events      *events.Service
	connectors  *connectors.Service
	ingest      *ingest.Adapter
	sweeper     *autoapprove.Sweeper
	auditLog    *audit.Log
	limiters    *ratelimit.Limiters

	wsHub *Hub
}

// Config for the server
type Config struct {
	Port        int
	Users       *storage.UserStore
	Suggestions *suggest.Service
	Events      *events.Service
	Connectors  *connectors.Service
	Ingest      *ingest.Adapter
	Sweeper     *autoapprove.Sweeper
	AuditLog    *audit.Log
	Limiters    *ratelimit.Limiters
	Hub         *Hub
}

// New creates a new API server
func New(cfg Config) *Server {
	limiters := cfg.Limiters
	if limiters == nil {
		limiters = ratelimit.NewLimiters()
	}

	hub := cfg.Hub
	if hub == nil {
		hub = NewHub()
	}

	s := &Server{
		users:       cfg.Users,
		suggestions: cfg.Suggestions,
		events:      cfg.Events,
		connectors:  cfg.Connectors,
		ingest:      cfg.Ingest,
		sweeper:     cfg.Sweeper,
		auditLog:    cfg.AuditLog,
		limiters:    limiters,
		wsHub:       hub,
	}

	s.setupRouter()

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: s.router,
	}

	return s
}

// Hub returns the server's WebSocket hub so it can be wired as the
// suggestion broadcaster.
func (s *Server) Hub() *Hub {
	return s.wsHub
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health
	r.Get("/health", s.handleHealth)

	// Mail provider push notifications. No bearer auth; the payload is
	// only a wake-up signal and the mailbox must already be linked.
	r.Post("/push/gmail", s.handleGmailPush)

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.withAuth)
		r.Use(s.withRateLimit)

		// Suggestions
		r.Get("/suggestions", s.handleListSuggestions)
		r.Post("/suggestions", s.handleCreateSuggestion)
		r.Get("/suggestions/counts", s.handleSuggestionCounts)
		r.Get("/suggestions/{suggestionID}", s.handleGetSuggestion)
		r.Post("/suggestions/{suggestionID}/approve", s.handleApproveSuggestion)
		r.Post("/suggestions/{suggestionID}/reject", s.handleRejectSuggestion)
		r.Post("/suggestions/{suggestionID}/snooze", s.handleSnoozeSuggestion)

		// Ingestion
		r.Post("/ingest", s.handleIngest)
		r.Post("/quick-add", s.handleQuickAdd)

		// Events
		r.Get("/events", s.handleListEvents)
		r.Post("/events", s.handleCreateEvent)
		r.Get("/events/{eventID}", s.handleGetEvent)
		r.Put("/events/{eventID}", s.handleUpdateEvent)
		r.Delete("/events/{eventID}", s.handleDeleteEvent)
		r.Get("/events/{eventID}/ics", s.handleEventICS)

		// Settings
		r.Get("/settings", s.handleGetSettings)
		r.Put("/settings", s.handleUpdateSettings)

		// Connectors
		r.Get("/connectors", s.handleListConnectors)
		r.Post("/connectors", s.handleLinkConnector)
		r.Put("/connectors/{connectorID}", s.handleUpdateConnector)
		r.Post("/connectors/poll", s.handlePollConnectors)

		// Auto-approve
		r.Post("/autoapprove/run", s.handleRunAutoApprove)
	})

	// WebSocket
	r.Get("/ws", s.handleWebSocket)

	s.router = r
}

// Start starts the HTTP server (blocking)
func (s *Server) Start() error {
	// Start WebSocket hub
	go s.wsHub.Run()

	fmt.Printf("API server starting on http://localhost%s\n", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	s.wsHub.Close()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Response helpers ---

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

// respondServiceError maps domain errors onto HTTP statuses.
func (s *Server) respondServiceError(w http.ResponseWriter, err error) {
	if rle, ok := core.IsRateLimited(err); ok {
		seconds := int(rle.RetryAfter.Seconds()) + 1
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
		s.respondError(w, http.StatusTooManyRequests, err.Error())
		return
	}

	switch {
	case errors.Is(err, core.ErrUserNotFound),
		errors.Is(err, core.ErrSuggestionNotFound),
		errors.Is(err, core.ErrEventNotFound),
		errors.Is(err, core.ErrConnectorNotFound):
		s.respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, core.ErrValidation),
		errors.Is(err, core.ErrMissingRequired):
		s.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, core.ErrInvalidState):
		s.respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, core.ErrForbidden):
		s.respondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, core.ErrExtraction):
		s.respondError(w, http.StatusBadGateway, err.Error())
	default:
		s.respondError(w, http.StatusInternalServerError, err.Error())
	}
}
