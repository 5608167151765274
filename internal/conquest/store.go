package conquest

import (
	"context"
	"errors"
	"time"
)

// Store errors shared by all implementations.
var (
	ErrNoActiveSession  = errors.New("no active session")
	ErrSessionActive    = errors.New("an active session already exists")
	ErrEnemyNotFound    = errors.New("enemy not found")
	ErrSessionNotFound  = errors.New("session not found")
	ErrReceiptNotFound  = errors.New("payment receipt not found")
	ErrDuplicateReceipt = errors.New("payment receipt already exists")
)

// Store defines the persistence interface for conquest data.
//
// Implementations must guarantee two properties that the service relies
// on: at most one session row may have is_active = true at any time
// (CreateSession fails with ErrSessionActive otherwise), and all counter
// updates in ApplyAttackTotals are atomic increments with enemy health
// clamped at zero.
type Store interface {
	// Enemy operations
	CreateEnemy(ctx context.Context, enemy Enemy) (Enemy, error)
	GetEnemy(ctx context.Context, enemyID string) (Enemy, error)
	ListEnemies(ctx context.Context, limit int) ([]Enemy, error)
	// ResetEnemy restores health to max, clears the defeat flag and
	// cumulative counters, and links the enemy to the session.
	ResetEnemy(ctx context.Context, enemyID, sessionID string) (Enemy, error)
	MarkEnemyDefeated(ctx context.Context, enemyID string) (Enemy, error)

	// Session operations
	CreateSession(ctx context.Context, session GameSession) (GameSession, error)
	GetSession(ctx context.Context, sessionID string) (GameSession, error)
	GetActiveSession(ctx context.Context) (GameSession, error)
	CompleteSession(ctx context.Context, sessionID string, win WinCondition, endTime time.Time) (GameSession, error)
	ListSessions(ctx context.Context, limit int) ([]GameSession, error)

	// Battle log
	CreateBattleResults(ctx context.Context, results []BattleResult) ([]BattleResult, error)
	ListBattleResults(ctx context.Context, sessionID string, limit int) ([]BattleResult, error)

	// ApplyAttackTotals applies one attack call's accumulated effect:
	// enemy health decrement (clamped at zero), enemy/session counter
	// increments, and participant membership deduplicated by user.
	// Returns the updated enemy.
	ApplyAttackTotals(ctx context.Context, sessionID, enemyID, userID string, totals AttackTotals) (Enemy, error)

	// Payment receipts
	CreatePaymentReceipt(ctx context.Context, receipt PaymentReceipt) (PaymentReceipt, error)
	GetPaymentReceipt(ctx context.Context, txHash string) (PaymentReceipt, error)

	// Aggregates over the battle log
	GetUserStats(ctx context.Context, sessionID, userID string) (UserStats, error)
	GetLeaderboard(ctx context.Context, sessionID string, limit, offset int) ([]LeaderboardEntry, error)
	AggregateSession(ctx context.Context, sessionID string) (SessionAggregate, error)

	// Reconciliation writes: overwrite counters from the aggregate.
	SetSessionTotals(ctx context.Context, sessionID string, agg SessionAggregate) error
	SetEnemyTotals(ctx context.Context, enemyID string, health, damage, power int64) error
}

// PaymentStatus is the terminal classification of a payment verification.
type PaymentStatus string

const (
	// PaymentConfirmed: the instruction settled on the ledger.
	PaymentConfirmed PaymentStatus = "CONFIRMED"
	// PaymentRejected: the instruction failed validation before
	// submission, or the ledger rejected it. No funds moved, or the
	// ledger reported a definitive failure.
	PaymentRejected PaymentStatus = "REJECTED"
	// PaymentUnknown: submission happened but settlement could not be
	// confirmed in time. The caller must re-check by transaction hash
	// before retrying.
	PaymentUnknown PaymentStatus = "UNKNOWN"
)

// PaymentRequest carries a serialized signed payment instruction to verify.
type PaymentRequest struct {
	Instruction []byte
	Payer       string
	Mode        AttackMode
}

// PaymentResult is the verifier's terminal answer.
type PaymentResult struct {
	Valid  bool
	Status PaymentStatus
	TxHash string
	Amount int64
	Reason string
}

// PaymentVerifier validates and settles a payment instruction before any
// combat effect is applied.
type PaymentVerifier interface {
	// Reference decodes the instruction far enough to return its
	// transaction hash without submitting anything.
	Reference(instruction []byte) (string, error)
	// Verify runs the full check-and-settle flow.
	Verify(ctx context.Context, req PaymentRequest) (PaymentResult, error)
}

// CharacterResolver turns the character identities named in an attack
// into their combat attributes. Clients submit identities only; power is
// never taken from the wire.
type CharacterResolver interface {
	Resolve(ctx context.Context, userID string, ids []string) ([]CharacterRef, error)
}
