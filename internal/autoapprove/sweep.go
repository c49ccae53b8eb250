// Package autoapprove promotes high-confidence pending suggestions for users
// who opted in. The sweep runs on a schedule and reuses the same promotion
// path as a manual approval, so the single-winner guarantee holds even if a
// user clicks approve while the sweep is running.
package autoapprove

import (
	"context"
	"errors"
	"time"

	"github.com/eventflow/eventflow/internal/auth"
	"github.com/eventflow/eventflow/internal/core"
	"github.com/eventflow/eventflow/internal/email"
	"github.com/eventflow/eventflow/internal/logging"
	"github.com/eventflow/eventflow/internal/storage"
	"github.com/eventflow/eventflow/internal/suggest"
)

// MaxPerUserPerRun caps how many suggestions one sweep run promotes for a
// single user. The rest wait for the next run.
const MaxPerUserPerRun = 10

const fallbackConfidenceMin = 0.7

// Result summarizes one sweep run
type Result struct {
	TotalApproved  int `json:"total_approved"`
	UsersProcessed int `json:"users_processed"`
}

// Sweeper runs the auto-approve pass
type Sweeper struct {
	users       *storage.UserStore
	suggestions *storage.SuggestionStore
	approver    *suggest.Service
	mail        *email.Sender // optional
	now         func() time.Time
}

// NewSweeper creates a sweeper. mail may be nil.
func NewSweeper(users *storage.UserStore, suggestions *storage.SuggestionStore, approver *suggest.Service, mail *email.Sender) *Sweeper {
	return &Sweeper{
		users:       users,
		suggestions: suggestions,
		approver:    approver,
		mail:        mail,
		now:         time.Now,
	}
}

// SetClock overrides the time source, for tests
func (s *Sweeper) SetClock(now func() time.Time) {
	s.now = now
}

// Run executes one sweep over every auto-approve user. Only the initial user
// query is fatal; anything that goes wrong for one user or one suggestion is
// logged and the sweep moves on.
func (s *Sweeper) Run(ctx context.Context) (Result, error) {
	var result Result

	candidates, err := s.users.ListAutoApprove()
	if err != nil {
		return result, err
	}

	for _, c := range candidates {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		// Every candidate counts as processed, even when its sweep fails.
		result.UsersProcessed++

		approved, err := s.sweepUser(ctx, c)
		if err != nil {
			logging.WithField("user_id", string(c.User.ID)).Warn("sweep user failed: %v", err)
			continue
		}

		result.TotalApproved += approved
	}

	logging.WithFields(map[string]interface{}{
		"users":    result.UsersProcessed,
		"approved": result.TotalApproved,
	}).Info("auto-approve sweep complete")

	return result, nil
}

func (s *Sweeper) sweepUser(ctx context.Context, c storage.AutoApproveUser) (int, error) {
	userID := c.User.ID

	if _, err := s.suggestions.ReleaseSnoozed(userID, s.now()); err != nil {
		return 0, err
	}

	threshold := c.Settings.ConfidenceMin
	if threshold <= 0 {
		threshold = fallbackConfidenceMin
	}

	eligible, err := s.suggestions.ListEligible(userID, threshold, MaxPerUserPerRun)
	if err != nil {
		return 0, err
	}

	actor := auth.SystemActor(userID)
	approved := 0

	for _, sg := range eligible {
		if ctx.Err() != nil {
			return approved, ctx.Err()
		}

		if _, err := s.approver.Approve(ctx, actor, sg.ID); err != nil {
			// Losing to a concurrent manual approval is normal traffic.
			if !errors.Is(err, core.ErrInvalidState) {
				logging.WithFields(map[string]interface{}{
					"user_id":       string(userID),
					"suggestion_id": string(sg.ID),
				}).Warn("auto-approve failed: %v", err)
			}
			continue
		}
		approved++

		if s.mail != nil && c.Settings.EmailNotifications {
			s.mail.SendSuggestionNotification(ctx, c.User.Email, sg)
		}
	}

	return approved, nil
}
