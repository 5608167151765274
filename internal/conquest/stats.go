package conquest

import (
	"context"
	"errors"
	"fmt"

	"github.com/r3e-forge/conquest/internal/apierr"
)

// GetUserStats derives one user's session statistics from the battle log.
func (s *Service) GetUserStats(ctx context.Context, sessionID, userID string) (UserStats, error) {
	if sessionID == "" || userID == "" {
		return UserStats{}, apierr.InvalidRequest("session_id and user_id required")
	}
	stats, err := s.store.GetUserStats(ctx, sessionID, userID)
	if err != nil {
		return UserStats{}, fmt.Errorf("get user stats: %w", err)
	}
	return stats, nil
}

// GetLeaderboard returns the session leaderboard ranked by total power
// dealt, then wins. Served from the read-through cache when configured;
// the battle log is append-only so short staleness is harmless.
func (s *Service) GetLeaderboard(ctx context.Context, sessionID string, limit, offset int) ([]LeaderboardEntry, error) {
	if sessionID == "" {
		return nil, apierr.InvalidRequest("session_id required")
	}
	if limit <= 0 || limit > 100 {
		limit = 25
	}
	if offset < 0 {
		offset = 0
	}

	if s.lbCache != nil {
		if entries, ok := s.lbCache.Get(ctx, sessionID, limit, offset); ok {
			return entries, nil
		}
	}

	entries, err := s.store.GetLeaderboard(ctx, sessionID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("get leaderboard: %w", err)
	}

	if s.lbCache != nil {
		s.lbCache.Set(ctx, sessionID, limit, offset, entries)
	}
	return entries, nil
}

// ReconcileSession recomputes a session's counters from the authoritative
// battle log and overwrites any drifted totals. The enemy's counters and
// health are repaired too while the enemy still belongs to the session.
// Safe to run at any time; the log is append-only.
func (s *Service) ReconcileSession(ctx context.Context, sessionID string) (SessionAggregate, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return SessionAggregate{}, apierr.NotFound("session", sessionID)
		}
		return SessionAggregate{}, fmt.Errorf("get session: %w", err)
	}

	agg, err := s.store.AggregateSession(ctx, sessionID)
	if err != nil {
		return SessionAggregate{}, fmt.Errorf("aggregate session: %w", err)
	}

	if err := s.store.SetSessionTotals(ctx, sessionID, agg); err != nil {
		return SessionAggregate{}, fmt.Errorf("set session totals: %w", err)
	}

	enemy, err := s.store.GetEnemy(ctx, session.EnemyID)
	if err == nil && enemy.SessionID == sessionID {
		health := enemy.MaxHealth - agg.TotalDamage
		if health < 0 {
			health = 0
		}
		if err := s.store.SetEnemyTotals(ctx, enemy.ID, health, agg.TotalDamage, agg.TotalPower); err != nil {
			return SessionAggregate{}, fmt.Errorf("set enemy totals: %w", err)
		}
	}

	s.log.WithField("session_id", sessionID).
		WithField("battles", agg.BattleCount).
		WithField("damage", agg.TotalDamage).
		WithField("power", agg.TotalPower).
		WithField("participants", agg.ParticipantCount).
		Info("session reconciled from battle log")

	return agg, nil
}
