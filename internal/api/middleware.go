package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/eventflow/eventflow/internal/auth"
	"github.com/eventflow/eventflow/internal/core"
)

type contextKey string

const actorContextKey contextKey = "actor"

// withAuth resolves the bearer token to a user and stores the acting
// identity on the request context. Unknown tokens get a 401.
func (s *Server) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			s.respondError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		user, err := s.users.GetByToken(token)
		if err != nil {
			s.respondError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), actorContextKey, auth.UserActor(user.ID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// withRateLimit applies the per-user API quota. Runs after withAuth so the
// key is the user, not the peer address.
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := s.actor(r)
		if err := s.limiters.API.Allow(string(actor.UserID)); err != nil {
			if rle, ok := core.IsRateLimited(err); ok {
				seconds := int(rle.RetryAfter.Seconds()) + 1
				w.Header().Set("Retry-After", strconv.Itoa(seconds))
			}
			s.respondError(w, http.StatusTooManyRequests, err.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// actor returns the acting identity placed on the context by withAuth.
func (s *Server) actor(r *http.Request) auth.Actor {
	actor, _ := r.Context().Value(actorContextKey).(auth.Actor)
	return actor
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	// WebSocket clients cannot set headers from browsers, so the token may
	// ride in the query string instead.
	return r.URL.Query().Get("token")
}
