package conquest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/r3e-forge/conquest/internal/apierr"
	"github.com/r3e-forge/conquest/internal/metrics"
	"github.com/r3e-forge/conquest/pkg/logger"
)

// Service orchestrates the conquest encounter: session lifecycle,
// payment-gated attacks, end-condition evaluation, and statistics.
type Service struct {
	store      Store
	verifier   PaymentVerifier
	characters CharacterResolver
	log        *logger.Logger
	metrics    *metrics.Metrics
	lbCache    *LeaderboardCache
	rollFn     func() float64
}

// New constructs the conquest service.
func New(store Store, verifier PaymentVerifier, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("conquest")
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &Service{
		store:    store,
		verifier: verifier,
		log:      log,
		rollFn:   rng.Float64,
	}
}

// WithMetrics attaches Prometheus instrumentation.
func (s *Service) WithMetrics(m *metrics.Metrics) { s.metrics = m }

// WithCharacterResolver attaches the roster lookup used to resolve the
// character identities named in an attack. Without one, every identity
// fights at the default power.
func (s *Service) WithCharacterResolver(r CharacterResolver) { s.characters = r }

// WithLeaderboardCache attaches a read-through leaderboard cache.
func (s *Service) WithLeaderboardCache(c *LeaderboardCache) { s.lbCache = c }

// WithRoller overrides the success draw source. Tests use this to force
// deterministic combat outcomes.
func (s *Service) WithRoller(fn func() float64) { s.rollFn = fn }

// =============================================================================
// Session Lifecycle
// =============================================================================

// SessionView is the authoritative "current encounter" read: the single
// active session joined with its enemy.
type SessionView struct {
	Session GameSession `json:"session"`
	Enemy   Enemy       `json:"enemy"`
}

// GetActiveSession returns the active session joined with its enemy.
func (s *Service) GetActiveSession(ctx context.Context) (SessionView, error) {
	session, err := s.store.GetActiveSession(ctx)
	if err != nil {
		if errors.Is(err, ErrNoActiveSession) {
			return SessionView{}, apierr.NoActiveSession()
		}
		return SessionView{}, fmt.Errorf("get active session: %w", err)
	}

	enemy, err := s.store.GetEnemy(ctx, session.EnemyID)
	if err != nil {
		return SessionView{}, fmt.Errorf("get session enemy: %w", err)
	}

	return SessionView{Session: session, Enemy: enemy}, nil
}

// StartSession creates a new active session for the enemy, resetting the
// enemy's health and counters. Rejected if any session is already active.
// A zero startTime means now.
func (s *Service) StartSession(ctx context.Context, enemyID string, duration time.Duration, startTime time.Time) (GameSession, error) {
	if enemyID == "" {
		return GameSession{}, apierr.InvalidRequest("enemy_id required")
	}
	if duration <= 0 {
		return GameSession{}, apierr.InvalidRequest("duration must be positive")
	}
	if startTime.IsZero() {
		startTime = time.Now().UTC()
	}

	if _, err := s.store.GetEnemy(ctx, enemyID); err != nil {
		if errors.Is(err, ErrEnemyNotFound) {
			return GameSession{}, apierr.NotFound("enemy", enemyID)
		}
		return GameSession{}, fmt.Errorf("get enemy: %w", err)
	}

	session := GameSession{
		EnemyID:      enemyID,
		Status:       SessionActive,
		StartTime:    startTime,
		ScheduledEnd: startTime.Add(duration),
		IsActive:     true,
	}

	created, err := s.store.CreateSession(ctx, session)
	if err != nil {
		if errors.Is(err, ErrSessionActive) {
			activeID := ""
			if active, aerr := s.store.GetActiveSession(ctx); aerr == nil {
				activeID = active.ID
			}
			return GameSession{}, apierr.SessionAlreadyActive(activeID)
		}
		return GameSession{}, fmt.Errorf("create session: %w", err)
	}

	if _, err := s.store.ResetEnemy(ctx, enemyID, created.ID); err != nil {
		return GameSession{}, fmt.Errorf("reset enemy: %w", err)
	}

	s.log.WithField("session_id", created.ID).
		WithField("enemy_id", enemyID).
		WithField("scheduled_end", created.ScheduledEnd).
		Info("session started")

	return created, nil
}

// EndSession completes the active session with the given win condition.
// The enemy is marked defeated only for ENEMY_DEFEATED.
func (s *Service) EndSession(ctx context.Context, win WinCondition) (GameSession, error) {
	session, err := s.store.GetActiveSession(ctx)
	if err != nil {
		if errors.Is(err, ErrNoActiveSession) {
			return GameSession{}, apierr.NoActiveSession()
		}
		return GameSession{}, fmt.Errorf("get active session: %w", err)
	}

	ended, err := s.store.CompleteSession(ctx, session.ID, win, time.Now().UTC())
	if err != nil {
		return GameSession{}, fmt.Errorf("complete session: %w", err)
	}

	if win == WinEnemyDefeated {
		if _, err := s.store.MarkEnemyDefeated(ctx, session.EnemyID); err != nil {
			s.log.WithError(err).WithField("enemy_id", session.EnemyID).
				Warn("failed to mark enemy defeated")
		}
	}

	if s.metrics != nil {
		s.metrics.RecordSessionEnded(string(win))
	}
	s.log.WithField("session_id", ended.ID).
		WithField("win_condition", win).
		Info("session ended")

	return ended, nil
}

// GetSession retrieves one session by ID.
func (s *Service) GetSession(ctx context.Context, sessionID string) (GameSession, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return GameSession{}, apierr.NotFound("session", sessionID)
		}
		return GameSession{}, err
	}
	return session, nil
}

// ListSessions lists recent sessions, newest first.
func (s *Service) ListSessions(ctx context.Context, limit int) ([]GameSession, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListSessions(ctx, limit)
}

// =============================================================================
// Enemy administration (thin pass-through surface)
// =============================================================================

// CreateEnemy registers a new enemy record.
func (s *Service) CreateEnemy(ctx context.Context, enemy Enemy) (Enemy, error) {
	if enemy.Name == "" {
		return Enemy{}, apierr.InvalidRequest("name required")
	}
	if enemy.MaxHealth <= 0 {
		return Enemy{}, apierr.InvalidRequest("max_health must be positive")
	}
	switch enemy.Difficulty {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
	case "":
		enemy.Difficulty = DifficultyMedium
	default:
		return Enemy{}, apierr.InvalidRequest("unknown difficulty: " + string(enemy.Difficulty))
	}
	enemy.CurrentHealth = enemy.MaxHealth
	enemy.Defeated = false

	created, err := s.store.CreateEnemy(ctx, enemy)
	if err != nil {
		return Enemy{}, fmt.Errorf("create enemy: %w", err)
	}

	s.log.WithField("enemy_id", created.ID).
		WithField("difficulty", created.Difficulty).
		Info("enemy created")
	return created, nil
}

// GetEnemy retrieves one enemy by ID.
func (s *Service) GetEnemy(ctx context.Context, enemyID string) (Enemy, error) {
	enemy, err := s.store.GetEnemy(ctx, enemyID)
	if err != nil {
		if errors.Is(err, ErrEnemyNotFound) {
			return Enemy{}, apierr.NotFound("enemy", enemyID)
		}
		return Enemy{}, err
	}
	return enemy, nil
}

// ListEnemies lists enemy records.
func (s *Service) ListEnemies(ctx context.Context, limit int) ([]Enemy, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListEnemies(ctx, limit)
}

// =============================================================================
// Attack
// =============================================================================

// AttackRequest is one payment-gated attack call.
type AttackRequest struct {
	EnemyID      string     `json:"enemy_id"`
	UserID       string     `json:"-"`
	CharacterIDs []string   `json:"character_identities"`
	Mode         AttackMode `json:"attack_mode"`
	Instruction  []byte     `json:"signed_payment_instruction"`
}

// AttackResponse is the resolved outcome of one attack call.
type AttackResponse struct {
	Enemy            Enemy           `json:"enemy"`
	BattleOutcomes   []BattleOutcome `json:"battle_outcomes"`
	CombatLog        []string        `json:"combat_log"`
	TotalPowerDealt  int64           `json:"total_power_dealt"`
	TotalDamageDealt int64           `json:"total_damage_dealt"`
	GameEnded        bool            `json:"game_ended"`
	PaymentTxHash    string          `json:"payment_tx_hash"`
	Replayed         bool            `json:"replayed,omitempty"`
}

// Attack admits one payment-gated attack against the active session's
// enemy. Admission checks run before payment settlement; any mismatch
// rejects with no funds moved. After settlement the combat resolver
// persists one BattleResult per character and applies the accumulated
// totals to the enemy and session.
func (s *Service) Attack(ctx context.Context, req AttackRequest) (*AttackResponse, error) {
	if err := validateAttackRequest(req); err != nil {
		return nil, err
	}

	// Idempotent replay runs before any admission check: an instruction
	// that already settled and resolved returns its recorded outcome even
	// when that outcome ended the session.
	txHash, err := s.verifier.Reference(req.Instruction)
	if err != nil {
		s.recordAttack("rejected")
		return nil, apierr.PaymentInvalid("malformed payment instruction: " + err.Error())
	}
	if receipt, rerr := s.store.GetPaymentReceipt(ctx, txHash); rerr == nil {
		var replay AttackResponse
		if uerr := json.Unmarshal(receipt.Response, &replay); uerr == nil {
			replay.Replayed = true
			s.log.WithField("tx_hash", txHash).
				WithField("user_id", req.UserID).
				Info("attack replayed from payment receipt")
			s.recordAttack("replayed")
			return &replay, nil
		}
	}

	session, err := s.store.GetActiveSession(ctx)
	if err != nil {
		if errors.Is(err, ErrNoActiveSession) {
			s.recordAttack("rejected")
			return nil, apierr.NoActiveSession()
		}
		return nil, fmt.Errorf("get active session: %w", err)
	}
	if session.EnemyID != req.EnemyID {
		s.recordAttack("rejected")
		return nil, apierr.EnemyMismatch(req.EnemyID)
	}

	enemy, err := s.store.GetEnemy(ctx, session.EnemyID)
	if err != nil {
		return nil, fmt.Errorf("get enemy: %w", err)
	}
	if enemy.Defeated || enemy.CurrentHealth <= 0 {
		s.recordAttack("rejected")
		return nil, apierr.EnemyDefeated(enemy.ID)
	}

	chars, err := s.resolveCharacters(ctx, req.UserID, req.CharacterIDs)
	if err != nil {
		s.recordAttack("error")
		return nil, fmt.Errorf("resolve characters: %w", err)
	}

	payment, err := s.verifier.Verify(ctx, PaymentRequest{
		Instruction: req.Instruction,
		Payer:       req.UserID,
		Mode:        req.Mode,
	})
	if s.metrics != nil && payment.Status != "" {
		s.metrics.RecordPayment(string(payment.Status))
	}
	switch payment.Status {
	case PaymentConfirmed:
	case PaymentUnknown:
		s.recordAttack("payment_unknown")
		return nil, apierr.PaymentUnknown(payment.TxHash, err)
	case PaymentRejected:
		s.recordAttack("rejected")
		return nil, apierr.PaymentInvalid(payment.Reason)
	default:
		// The verifier never reached the ledger; nothing was submitted.
		s.recordAttack("error")
		return nil, apierr.LedgerUnavailable(err)
	}

	outcomes, results, totals, combatLog := s.resolveBattle(session, enemy, req.UserID, chars)

	if _, err := s.store.CreateBattleResults(ctx, results); err != nil {
		return nil, fmt.Errorf("write battle results: %w", err)
	}
	if s.metrics != nil {
		s.metrics.RecordBattleResults(len(results))
	}

	updated, err := s.store.ApplyAttackTotals(ctx, session.ID, enemy.ID, req.UserID, totals)
	if err != nil {
		return nil, fmt.Errorf("apply attack totals: %w", err)
	}
	if s.metrics != nil {
		s.metrics.SetEnemyHealth(updated.ID, updated.CurrentHealth)
	}

	gameEnded := updated.CurrentHealth <= 0
	if gameEnded {
		if _, err := s.EndSession(ctx, WinEnemyDefeated); err != nil {
			// A concurrent attack may have ended the session already.
			var ae *apierr.Error
			if !errors.As(err, &ae) || ae.Code != apierr.CodeNoActiveSession {
				s.log.WithError(err).Warn("failed to end session after defeat")
			}
		}
		if refreshed, gerr := s.store.GetEnemy(ctx, updated.ID); gerr == nil {
			updated = refreshed
		}
		combatLog = append(combatLog, fmt.Sprintf("%s has been defeated!", updated.Name))
	}

	resp := &AttackResponse{
		Enemy:            updated,
		BattleOutcomes:   outcomes,
		CombatLog:        combatLog,
		TotalPowerDealt:  totals.Power,
		TotalDamageDealt: totals.Damage,
		GameEnded:        gameEnded,
		PaymentTxHash:    payment.TxHash,
	}

	s.writeReceipt(ctx, payment, session.ID, req, resp)

	s.log.WithField("session_id", session.ID).
		WithField("user_id", req.UserID).
		WithField("characters", len(req.CharacterIDs)).
		WithField("damage", totals.Damage).
		WithField("power", totals.Power).
		WithField("game_ended", gameEnded).
		Info("attack resolved")
	s.recordAttack("resolved")

	return resp, nil
}

// writeReceipt records the settled payment and its response for replay.
// Failure here is logged, not surfaced: the battle log already holds the
// authoritative outcome.
func (s *Service) writeReceipt(ctx context.Context, payment PaymentResult, sessionID string, req AttackRequest, resp *AttackResponse) {
	body, err := json.Marshal(resp)
	if err != nil {
		s.log.WithError(err).Warn("failed to encode attack response for receipt")
		return
	}
	_, err = s.store.CreatePaymentReceipt(ctx, PaymentReceipt{
		TxHash:    payment.TxHash,
		UserID:    req.UserID,
		SessionID: sessionID,
		Mode:      req.Mode,
		Amount:    payment.Amount,
		Response:  body,
	})
	if err != nil && !errors.Is(err, ErrDuplicateReceipt) {
		s.log.WithError(err).WithField("tx_hash", payment.TxHash).
			Warn("failed to write payment receipt")
	}
}

// resolveCharacters looks up the submitted identities. With no resolver
// configured every identity fights at the default power.
func (s *Service) resolveCharacters(ctx context.Context, userID string, ids []string) ([]CharacterRef, error) {
	if s.characters != nil {
		return s.characters.Resolve(ctx, userID, ids)
	}
	chars := make([]CharacterRef, len(ids))
	for i, id := range ids {
		chars[i] = CharacterRef{ID: id}
	}
	return chars, nil
}

func (s *Service) recordAttack(result string) {
	if s.metrics != nil {
		s.metrics.RecordAttack(result)
	}
}

func validateAttackRequest(req AttackRequest) error {
	if req.EnemyID == "" {
		return apierr.InvalidRequest("enemy_id required")
	}
	if req.UserID == "" {
		return apierr.InvalidRequest("wallet identity required")
	}
	if len(req.CharacterIDs) == 0 {
		return apierr.InvalidRequest("at least one character required")
	}
	if len(req.CharacterIDs) > MaxCharactersPerAttack {
		return apierr.InvalidRequest(fmt.Sprintf("at most %d characters per attack", MaxCharactersPerAttack))
	}
	for _, id := range req.CharacterIDs {
		if id == "" {
			return apierr.InvalidRequest("character id required")
		}
	}
	switch req.Mode {
	case AttackModeSimple, AttackModeBulk:
	default:
		return apierr.InvalidRequest("attack_mode must be SIMPLE or BULK")
	}
	if len(req.Instruction) == 0 {
		return apierr.InvalidRequest("signed payment instruction required")
	}
	return nil
}
