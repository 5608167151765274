package conquest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/r3e-forge/conquest/internal/apierr"
)

// EvaluateEndConditions inspects the active session and decides whether
// it should auto-complete: enemy at zero health ends it with
// ENEMY_DEFEATED, a passed deadline with TIME_EXPIRED. Returns the ended
// session, or nil when no transition fired. Evaluating with no active
// session is a no-op.
func (s *Service) EvaluateEndConditions(ctx context.Context) (*GameSession, error) {
	session, err := s.store.GetActiveSession(ctx)
	if err != nil {
		if errors.Is(err, ErrNoActiveSession) {
			return nil, nil
		}
		return nil, fmt.Errorf("get active session: %w", err)
	}

	enemy, err := s.store.GetEnemy(ctx, session.EnemyID)
	if err != nil {
		return nil, fmt.Errorf("get enemy: %w", err)
	}

	var win WinCondition
	switch {
	case enemy.CurrentHealth <= 0:
		win = WinEnemyDefeated
	case !time.Now().UTC().Before(session.ScheduledEnd):
		win = WinTimeExpired
	default:
		return nil, nil
	}

	ended, err := s.EndSession(ctx, win)
	if err != nil {
		// A concurrent attack or evaluation may have completed the
		// session between the read and the transition.
		var ae *apierr.Error
		if errors.As(err, &ae) && ae.Code == apierr.CodeNoActiveSession {
			return nil, nil
		}
		return nil, err
	}
	return &ended, nil
}

// StartExpirySweep runs EvaluateEndConditions on the given cron schedule
// so sessions expire even with no incoming attacks. The returned cron is
// already started; callers stop it on shutdown.
func (s *Service) StartExpirySweep(schedule string) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		ended, err := s.EvaluateEndConditions(ctx)
		if err != nil {
			s.log.WithError(err).Warn("expiry sweep failed")
			return
		}
		if ended != nil {
			s.log.WithField("session_id", ended.ID).
				WithField("win_condition", ended.WinCondition).
				Info("session auto-completed by sweep")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("schedule expiry sweep: %w", err)
	}
	c.Start()
	return c, nil
}
