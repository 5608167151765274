package conquest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// PostgresStore implements Store on PostgreSQL. The single-active-session
// invariant is enforced by a partial unique index on game_sessions
// (WHERE is_active); counters use atomic SQL increments with health
// clamped by GREATEST, so concurrent attackers never lose updates.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore creates a PostgreSQL-backed store.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// Enemy operations

func (s *PostgresStore) CreateEnemy(ctx context.Context, enemy Enemy) (Enemy, error) {
	enemy.ID = uuid.NewString()
	now := time.Now().UTC()
	enemy.CreatedAt = now
	enemy.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO enemies (id, name, description, difficulty, type, max_health, current_health,
			defeated, total_damage_received, total_power_received, session_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, enemy.ID, enemy.Name, enemy.Description, enemy.Difficulty, enemy.Type, enemy.MaxHealth,
		enemy.CurrentHealth, enemy.Defeated, enemy.TotalDamageReceived, enemy.TotalPowerReceived,
		enemy.SessionID, enemy.CreatedAt, enemy.UpdatedAt)
	if err != nil {
		return Enemy{}, err
	}
	return enemy, nil
}

func (s *PostgresStore) GetEnemy(ctx context.Context, enemyID string) (Enemy, error) {
	var enemy Enemy
	err := s.db.GetContext(ctx, &enemy, `SELECT * FROM enemies WHERE id = $1`, enemyID)
	if errors.Is(err, sql.ErrNoRows) {
		return Enemy{}, ErrEnemyNotFound
	}
	return enemy, err
}

func (s *PostgresStore) ListEnemies(ctx context.Context, limit int) ([]Enemy, error) {
	enemies := []Enemy{}
	err := s.db.SelectContext(ctx, &enemies, `
		SELECT * FROM enemies ORDER BY created_at DESC LIMIT $1
	`, limit)
	return enemies, err
}

func (s *PostgresStore) ResetEnemy(ctx context.Context, enemyID, sessionID string) (Enemy, error) {
	var enemy Enemy
	err := s.db.GetContext(ctx, &enemy, `
		UPDATE enemies
		SET current_health = max_health, defeated = FALSE,
			total_damage_received = 0, total_power_received = 0,
			session_id = $2, updated_at = $3
		WHERE id = $1
		RETURNING *
	`, enemyID, sessionID, time.Now().UTC())
	if errors.Is(err, sql.ErrNoRows) {
		return Enemy{}, ErrEnemyNotFound
	}
	return enemy, err
}

func (s *PostgresStore) MarkEnemyDefeated(ctx context.Context, enemyID string) (Enemy, error) {
	var enemy Enemy
	err := s.db.GetContext(ctx, &enemy, `
		UPDATE enemies SET defeated = TRUE, updated_at = $2 WHERE id = $1 RETURNING *
	`, enemyID, time.Now().UTC())
	if errors.Is(err, sql.ErrNoRows) {
		return Enemy{}, ErrEnemyNotFound
	}
	return enemy, err
}

// Session operations

func (s *PostgresStore) CreateSession(ctx context.Context, session GameSession) (GameSession, error) {
	session.ID = uuid.NewString()
	now := time.Now().UTC()
	session.CreatedAt = now
	session.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO game_sessions (id, enemy_id, status, start_time, scheduled_end, end_time,
			total_damage, total_power, participant_count, battle_count, win_condition,
			is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, session.ID, session.EnemyID, session.Status, session.StartTime, session.ScheduledEnd,
		session.EndTime, session.TotalDamage, session.TotalPower, session.ParticipantCount,
		session.BattleCount, session.WinCondition, session.IsActive, session.CreatedAt, session.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return GameSession{}, ErrSessionActive
		}
		return GameSession{}, err
	}
	return session, nil
}

func (s *PostgresStore) GetSession(ctx context.Context, sessionID string) (GameSession, error) {
	var session GameSession
	err := s.db.GetContext(ctx, &session, `SELECT * FROM game_sessions WHERE id = $1`, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return GameSession{}, ErrSessionNotFound
	}
	return session, err
}

func (s *PostgresStore) GetActiveSession(ctx context.Context) (GameSession, error) {
	var session GameSession
	err := s.db.GetContext(ctx, &session, `SELECT * FROM game_sessions WHERE is_active LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return GameSession{}, ErrNoActiveSession
	}
	return session, err
}

func (s *PostgresStore) CompleteSession(ctx context.Context, sessionID string, win WinCondition, endTime time.Time) (GameSession, error) {
	var session GameSession
	err := s.db.GetContext(ctx, &session, `
		UPDATE game_sessions
		SET status = $2, win_condition = $3, end_time = $4, is_active = FALSE, updated_at = $5
		WHERE id = $1
		RETURNING *
	`, sessionID, SessionCompleted, win, endTime, time.Now().UTC())
	if errors.Is(err, sql.ErrNoRows) {
		return GameSession{}, ErrSessionNotFound
	}
	return session, err
}

func (s *PostgresStore) ListSessions(ctx context.Context, limit int) ([]GameSession, error) {
	sessions := []GameSession{}
	err := s.db.SelectContext(ctx, &sessions, `
		SELECT * FROM game_sessions ORDER BY created_at DESC LIMIT $1
	`, limit)
	return sessions, err
}

// Battle log

func (s *PostgresStore) CreateBattleResults(ctx context.Context, results []BattleResult) ([]BattleResult, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	created := make([]BattleResult, 0, len(results))
	for _, r := range results {
		r.ID = uuid.NewString()
		if r.CreatedAt.IsZero() {
			r.CreatedAt = time.Now().UTC()
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO battle_results (id, character_id, character_name, character_type,
				character_power, user_id, enemy_id, session_id, power_dealt, success, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`, r.ID, r.CharacterID, r.CharacterName, r.CharacterType, r.CharacterPower,
			r.UserID, r.EnemyID, r.SessionID, r.PowerDealt, r.Success, r.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("insert battle result: %w", err)
		}
		created = append(created, r)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return created, nil
}

func (s *PostgresStore) ListBattleResults(ctx context.Context, sessionID string, limit int) ([]BattleResult, error) {
	battles := []BattleResult{}
	err := s.db.SelectContext(ctx, &battles, `
		SELECT * FROM battle_results WHERE session_id = $1 ORDER BY created_at LIMIT $2
	`, sessionID, limit)
	return battles, err
}

func (s *PostgresStore) ApplyAttackTotals(ctx context.Context, sessionID, enemyID, userID string, totals AttackTotals) (Enemy, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return Enemy{}, err
	}
	defer tx.Rollback()

	var enemy Enemy
	err = tx.GetContext(ctx, &enemy, `
		UPDATE enemies
		SET current_health = GREATEST(current_health - $2, 0),
			total_damage_received = total_damage_received + $2,
			total_power_received = total_power_received + $3,
			updated_at = $4
		WHERE id = $1
		RETURNING *
	`, enemyID, totals.Damage, totals.Power, time.Now().UTC())
	if errors.Is(err, sql.ErrNoRows) {
		return Enemy{}, ErrEnemyNotFound
	}
	if err != nil {
		return Enemy{}, fmt.Errorf("update enemy: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO session_participants (session_id, user_id)
		VALUES ($1, $2) ON CONFLICT DO NOTHING
	`, sessionID, userID)
	if err != nil {
		return Enemy{}, fmt.Errorf("record participant: %w", err)
	}
	newParticipants, _ := res.RowsAffected()

	_, err = tx.ExecContext(ctx, `
		UPDATE game_sessions
		SET total_damage = total_damage + $2,
			total_power = total_power + $3,
			battle_count = battle_count + $4,
			participant_count = participant_count + $5,
			updated_at = $6
		WHERE id = $1
	`, sessionID, totals.Damage, totals.Power, totals.Battles, newParticipants, time.Now().UTC())
	if err != nil {
		return Enemy{}, fmt.Errorf("update session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Enemy{}, err
	}
	return enemy, nil
}

// Payment receipts

func (s *PostgresStore) CreatePaymentReceipt(ctx context.Context, receipt PaymentReceipt) (PaymentReceipt, error) {
	receipt.ID = uuid.NewString()
	receipt.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payment_receipts (id, tx_hash, user_id, session_id, mode, amount, response, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, receipt.ID, receipt.TxHash, receipt.UserID, receipt.SessionID, receipt.Mode,
		receipt.Amount, receipt.Response, receipt.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return PaymentReceipt{}, ErrDuplicateReceipt
		}
		return PaymentReceipt{}, err
	}
	return receipt, nil
}

func (s *PostgresStore) GetPaymentReceipt(ctx context.Context, txHash string) (PaymentReceipt, error) {
	var receipt PaymentReceipt
	err := s.db.GetContext(ctx, &receipt, `SELECT * FROM payment_receipts WHERE tx_hash = $1`, txHash)
	if errors.Is(err, sql.ErrNoRows) {
		return PaymentReceipt{}, ErrReceiptNotFound
	}
	return receipt, err
}

// Aggregates

func (s *PostgresStore) GetUserStats(ctx context.Context, sessionID, userID string) (UserStats, error) {
	stats := UserStats{UserID: userID}
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE success),
			COALESCE(SUM(power_dealt), 0)
		FROM battle_results
		WHERE session_id = $1 AND user_id = $2
	`, sessionID, userID).Scan(&stats.Battles, &stats.Wins, &stats.TotalPowerDealt)
	if err != nil {
		return UserStats{}, err
	}
	if stats.Battles > 0 {
		stats.WinRate = float64(stats.Wins) / float64(stats.Battles)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT character_id, character_name, COALESCE(SUM(power_dealt), 0) AS power
		FROM battle_results
		WHERE session_id = $1 AND user_id = $2
		GROUP BY character_id, character_name
		ORDER BY power DESC
		LIMIT 1
	`, sessionID, userID).Scan(&stats.BestCharacterID, &stats.BestCharacterName, &stats.BestCharacterPower)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return UserStats{}, err
	}
	return stats, nil
}

func (s *PostgresStore) GetLeaderboard(ctx context.Context, sessionID string, limit, offset int) ([]LeaderboardEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id,
			COALESCE(SUM(power_dealt), 0) AS total_power,
			COUNT(*) FILTER (WHERE success) AS wins,
			MAX(created_at) AS last_battle
		FROM battle_results
		WHERE session_id = $1
		GROUP BY user_id
		ORDER BY total_power DESC, wins DESC
		LIMIT $2 OFFSET $3
	`, sessionID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []LeaderboardEntry{}
	for rows.Next() {
		var e LeaderboardEntry
		if err := rows.Scan(&e.UserID, &e.TotalPowerDealt, &e.Wins, &e.LastBattleAt); err != nil {
			return nil, err
		}
		e.Rank = offset + len(entries) + 1
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Attach each user's most recent character name.
	names, err := s.latestCharacterNames(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		entries[i].CharacterName = names[entries[i].UserID]
	}
	return entries, nil
}

func (s *PostgresStore) latestCharacterNames(ctx context.Context, sessionID string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT ON (user_id) user_id, character_name
		FROM battle_results
		WHERE session_id = $1
		ORDER BY user_id, created_at DESC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	names := make(map[string]string)
	for rows.Next() {
		var userID, name string
		if err := rows.Scan(&userID, &name); err != nil {
			return nil, err
		}
		names[userID] = name
	}
	return names, rows.Err()
}

func (s *PostgresStore) AggregateSession(ctx context.Context, sessionID string) (SessionAggregate, error) {
	var agg SessionAggregate
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE success),
			COALESCE(SUM(power_dealt), 0),
			COUNT(DISTINCT user_id)
		FROM battle_results
		WHERE session_id = $1
	`, sessionID).Scan(&agg.BattleCount, &agg.TotalDamage, &agg.TotalPower, &agg.ParticipantCount)
	return agg, err
}

func (s *PostgresStore) SetSessionTotals(ctx context.Context, sessionID string, agg SessionAggregate) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE game_sessions
		SET total_damage = $2, total_power = $3, battle_count = $4,
			participant_count = $5, updated_at = $6
		WHERE id = $1
	`, sessionID, agg.TotalDamage, agg.TotalPower, agg.BattleCount,
		agg.ParticipantCount, time.Now().UTC())
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *PostgresStore) SetEnemyTotals(ctx context.Context, enemyID string, health, damage, power int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE enemies
		SET current_health = GREATEST($2, 0), total_damage_received = $3,
			total_power_received = $4, updated_at = $5
		WHERE id = $1
	`, enemyID, health, damage, power, time.Now().UTC())
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrEnemyNotFound
	}
	return nil
}
