// Package conquest implements the shared-boss encounter core: session
// lifecycle, payment-gated combat resolution, end-condition evaluation,
// and battle statistics.
package conquest

import "time"

// Difficulty is the enemy difficulty tier.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "EASY"
	DifficultyMedium Difficulty = "MEDIUM"
	DifficultyHard   Difficulty = "HARD"
)

// WinProbability returns the per-character success probability for the tier.
func (d Difficulty) WinProbability() float64 {
	switch d {
	case DifficultyEasy:
		return 0.7
	case DifficultyHard:
		return 0.3
	default:
		return 0.5
	}
}

// SessionStatus is the lifecycle state of a game session.
type SessionStatus string

const (
	SessionPending   SessionStatus = "PENDING"
	SessionActive    SessionStatus = "ACTIVE"
	SessionCompleted SessionStatus = "COMPLETED"
	SessionCancelled SessionStatus = "CANCELLED"
)

// WinCondition is the reason a session ended.
type WinCondition string

const (
	WinEnemyDefeated WinCondition = "ENEMY_DEFEATED"
	WinTimeExpired   WinCondition = "TIME_EXPIRED"
	WinManualEnd     WinCondition = "MANUAL_END"
)

// AttackMode selects the cost contract for an attack.
type AttackMode string

const (
	AttackModeSimple AttackMode = "SIMPLE"
	AttackModeBulk   AttackMode = "BULK"
)

// MaxCharactersPerAttack bounds the roster size of one attack call.
const MaxCharactersPerAttack = 20

// DefaultCharacterPower is used when a character carries neither a power
// nor a secondary score.
const DefaultCharacterPower = 10

// Enemy is the shared boss entity. Health never goes below zero; it is
// clamped at the store layer.
type Enemy struct {
	ID                  string    `json:"id" db:"id"`
	Name                string    `json:"name" db:"name"`
	Description         string    `json:"description" db:"description"`
	Difficulty          Difficulty `json:"difficulty" db:"difficulty"`
	Type                string    `json:"type" db:"type"`
	MaxHealth           int64     `json:"max_health" db:"max_health"`
	CurrentHealth       int64     `json:"current_health" db:"current_health"`
	Defeated            bool      `json:"defeated" db:"defeated"`
	TotalDamageReceived int64     `json:"total_damage_received" db:"total_damage_received"`
	TotalPowerReceived  int64     `json:"total_power_received" db:"total_power_received"`
	SessionID           string    `json:"session_id,omitempty" db:"session_id"`
	CreatedAt           time.Time `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time `json:"updated_at" db:"updated_at"`
}

// GameSession is a time-boxed encounter against one enemy. At most one
// session may be active at any time; the store enforces the invariant.
type GameSession struct {
	ID               string        `json:"id" db:"id"`
	EnemyID          string        `json:"enemy_id" db:"enemy_id"`
	Status           SessionStatus `json:"status" db:"status"`
	StartTime        time.Time     `json:"start_time" db:"start_time"`
	ScheduledEnd     time.Time     `json:"scheduled_end" db:"scheduled_end"`
	EndTime          time.Time     `json:"end_time,omitempty" db:"end_time"`
	TotalDamage      int64         `json:"total_damage" db:"total_damage"`
	TotalPower       int64         `json:"total_power" db:"total_power"`
	ParticipantCount int64         `json:"participant_count" db:"participant_count"`
	BattleCount      int64         `json:"battle_count" db:"battle_count"`
	WinCondition     WinCondition  `json:"win_condition,omitempty" db:"win_condition"`
	IsActive         bool          `json:"is_active" db:"is_active"`
	CreatedAt        time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at" db:"updated_at"`
}

// BattleResult is the immutable record of one character's attack attempt.
// Misses are recorded too; the append-only log is authoritative for all
// derived statistics and for counter reconciliation.
type BattleResult struct {
	ID             string    `json:"id" db:"id"`
	CharacterID    string    `json:"character_id" db:"character_id"`
	CharacterName  string    `json:"character_name" db:"character_name"`
	CharacterType  string    `json:"character_type" db:"character_type"`
	CharacterPower int64     `json:"character_power" db:"character_power"`
	UserID         string    `json:"user_id" db:"user_id"`
	EnemyID        string    `json:"enemy_id" db:"enemy_id"`
	SessionID      string    `json:"session_id" db:"session_id"`
	PowerDealt     int64     `json:"power_dealt" db:"power_dealt"`
	Success        bool      `json:"success" db:"success"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// PaymentReceipt records one settled payment instruction and the attack
// response it unlocked. The transaction hash is unique: replaying an
// already-settled instruction returns the recorded response instead of
// resolving combat again.
type PaymentReceipt struct {
	ID        string    `json:"id" db:"id"`
	TxHash    string    `json:"tx_hash" db:"tx_hash"`
	UserID    string    `json:"user_id" db:"user_id"`
	SessionID string    `json:"session_id" db:"session_id"`
	Mode      AttackMode `json:"mode" db:"mode"`
	Amount    int64     `json:"amount" db:"amount"`
	Response  []byte    `json:"-" db:"response"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// CharacterRef identifies one attacking character and the attributes the
// resolver needs. Power may be absent; resolution falls back to the
// secondary score, then to DefaultCharacterPower.
type CharacterRef struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Type  string `json:"type"`
	Power int64  `json:"power"`
	Score int64  `json:"score"`
}

// CombatPower resolves the character's effective power.
func (c CharacterRef) CombatPower() int64 {
	if c.Power > 0 {
		return c.Power
	}
	if c.Score > 0 {
		return c.Score
	}
	return DefaultCharacterPower
}

// BattleOutcome is the per-character result returned to the caller.
type BattleOutcome struct {
	CharacterID string `json:"character_id"`
	Name        string `json:"name"`
	Power       int64  `json:"power"`
	Success     bool   `json:"success"`
	PowerDealt  int64  `json:"power_dealt"`
}

// AttackTotals is the accumulated effect of one attack call, applied to
// the enemy and session via atomic store increments.
type AttackTotals struct {
	Damage  int64
	Power   int64
	Battles int64
}

// UserStats is the per-user view over the battle log for one session.
type UserStats struct {
	UserID             string  `json:"user_id"`
	Battles            int64   `json:"battles"`
	Wins               int64   `json:"wins"`
	WinRate            float64 `json:"win_rate"`
	TotalPowerDealt    int64   `json:"total_power_dealt"`
	BestCharacterID    string  `json:"best_character_id,omitempty"`
	BestCharacterName  string  `json:"best_character_name,omitempty"`
	BestCharacterPower int64   `json:"best_character_power"`
}

// LeaderboardEntry is one ranked row of the global leaderboard.
type LeaderboardEntry struct {
	Rank            int       `json:"rank"`
	UserID          string    `json:"user_id"`
	TotalPowerDealt int64     `json:"total_power_dealt"`
	Wins            int64     `json:"wins"`
	CharacterName   string    `json:"character_name,omitempty"`
	LastBattleAt    time.Time `json:"last_battle_at"`
}

// SessionAggregate is the battle log rolled up for reconciliation.
type SessionAggregate struct {
	TotalDamage      int64
	TotalPower       int64
	BattleCount      int64
	ParticipantCount int64
}
