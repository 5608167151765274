package conquest

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore provides an in-memory implementation of Store. It serves
// tests and local development; a single mutex gives it the serialization
// the Postgres store gets from constraints and transactions.
type MemoryStore struct {
	mu           sync.RWMutex
	enemies      map[string]Enemy
	sessions     map[string]GameSession
	battles      []BattleResult
	receipts     map[string]PaymentReceipt
	participants map[string]map[string]struct{}
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		enemies:      make(map[string]Enemy),
		sessions:     make(map[string]GameSession),
		receipts:     make(map[string]PaymentReceipt),
		participants: make(map[string]map[string]struct{}),
	}
}

// Enemy operations

func (s *MemoryStore) CreateEnemy(ctx context.Context, enemy Enemy) (Enemy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	enemy.ID = uuid.NewString()
	now := time.Now().UTC()
	enemy.CreatedAt = now
	enemy.UpdatedAt = now
	s.enemies[enemy.ID] = enemy
	return enemy, nil
}

func (s *MemoryStore) GetEnemy(ctx context.Context, enemyID string) (Enemy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	enemy, ok := s.enemies[enemyID]
	if !ok {
		return Enemy{}, ErrEnemyNotFound
	}
	return enemy, nil
}

func (s *MemoryStore) ListEnemies(ctx context.Context, limit int) ([]Enemy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Enemy, 0, len(s.enemies))
	for _, e := range s.enemies {
		result = append(result, e)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *MemoryStore) ResetEnemy(ctx context.Context, enemyID, sessionID string) (Enemy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	enemy, ok := s.enemies[enemyID]
	if !ok {
		return Enemy{}, ErrEnemyNotFound
	}
	enemy.CurrentHealth = enemy.MaxHealth
	enemy.Defeated = false
	enemy.TotalDamageReceived = 0
	enemy.TotalPowerReceived = 0
	enemy.SessionID = sessionID
	enemy.UpdatedAt = time.Now().UTC()
	s.enemies[enemyID] = enemy
	return enemy, nil
}

func (s *MemoryStore) MarkEnemyDefeated(ctx context.Context, enemyID string) (Enemy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	enemy, ok := s.enemies[enemyID]
	if !ok {
		return Enemy{}, ErrEnemyNotFound
	}
	enemy.Defeated = true
	enemy.UpdatedAt = time.Now().UTC()
	s.enemies[enemyID] = enemy
	return enemy, nil
}

// Session operations

func (s *MemoryStore) CreateSession(ctx context.Context, session GameSession) (GameSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if session.IsActive {
		for _, existing := range s.sessions {
			if existing.IsActive {
				return GameSession{}, ErrSessionActive
			}
		}
	}

	session.ID = uuid.NewString()
	now := time.Now().UTC()
	session.CreatedAt = now
	session.UpdatedAt = now
	s.sessions[session.ID] = session
	s.participants[session.ID] = make(map[string]struct{})
	return session, nil
}

func (s *MemoryStore) GetSession(ctx context.Context, sessionID string) (GameSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return GameSession{}, ErrSessionNotFound
	}
	return session, nil
}

func (s *MemoryStore) GetActiveSession(ctx context.Context) (GameSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, session := range s.sessions {
		if session.IsActive {
			return session, nil
		}
	}
	return GameSession{}, ErrNoActiveSession
}

func (s *MemoryStore) CompleteSession(ctx context.Context, sessionID string, win WinCondition, endTime time.Time) (GameSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return GameSession{}, ErrSessionNotFound
	}
	session.Status = SessionCompleted
	session.WinCondition = win
	session.EndTime = endTime
	session.IsActive = false
	session.UpdatedAt = time.Now().UTC()
	s.sessions[sessionID] = session
	return session, nil
}

func (s *MemoryStore) ListSessions(ctx context.Context, limit int) ([]GameSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]GameSession, 0, len(s.sessions))
	for _, session := range s.sessions {
		result = append(result, session)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Battle log

func (s *MemoryStore) CreateBattleResults(ctx context.Context, results []BattleResult) ([]BattleResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	created := make([]BattleResult, 0, len(results))
	for _, r := range results {
		r.ID = uuid.NewString()
		if r.CreatedAt.IsZero() {
			r.CreatedAt = time.Now().UTC()
		}
		s.battles = append(s.battles, r)
		created = append(created, r)
	}
	return created, nil
}

func (s *MemoryStore) ListBattleResults(ctx context.Context, sessionID string, limit int) ([]BattleResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []BattleResult
	for _, b := range s.battles {
		if b.SessionID == sessionID {
			result = append(result, b)
		}
	}
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *MemoryStore) ApplyAttackTotals(ctx context.Context, sessionID, enemyID, userID string, totals AttackTotals) (Enemy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	enemy, ok := s.enemies[enemyID]
	if !ok {
		return Enemy{}, ErrEnemyNotFound
	}
	session, ok := s.sessions[sessionID]
	if !ok {
		return Enemy{}, ErrSessionNotFound
	}

	enemy.CurrentHealth -= totals.Damage
	if enemy.CurrentHealth < 0 {
		enemy.CurrentHealth = 0
	}
	enemy.TotalDamageReceived += totals.Damage
	enemy.TotalPowerReceived += totals.Power
	enemy.UpdatedAt = time.Now().UTC()
	s.enemies[enemyID] = enemy

	session.TotalDamage += totals.Damage
	session.TotalPower += totals.Power
	session.BattleCount += totals.Battles
	if _, seen := s.participants[sessionID][userID]; !seen {
		s.participants[sessionID][userID] = struct{}{}
		session.ParticipantCount++
	}
	session.UpdatedAt = enemy.UpdatedAt
	s.sessions[sessionID] = session

	return enemy, nil
}

// Payment receipts

func (s *MemoryStore) CreatePaymentReceipt(ctx context.Context, receipt PaymentReceipt) (PaymentReceipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.receipts[receipt.TxHash]; exists {
		return PaymentReceipt{}, ErrDuplicateReceipt
	}
	receipt.ID = uuid.NewString()
	receipt.CreatedAt = time.Now().UTC()
	s.receipts[receipt.TxHash] = receipt
	return receipt, nil
}

func (s *MemoryStore) GetPaymentReceipt(ctx context.Context, txHash string) (PaymentReceipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	receipt, ok := s.receipts[txHash]
	if !ok {
		return PaymentReceipt{}, ErrReceiptNotFound
	}
	return receipt, nil
}

// Aggregates

func (s *MemoryStore) GetUserStats(ctx context.Context, sessionID, userID string) (UserStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := UserStats{UserID: userID}
	powerByCharacter := make(map[string]int64)
	nameByCharacter := make(map[string]string)

	for _, b := range s.battles {
		if b.SessionID != sessionID || b.UserID != userID {
			continue
		}
		stats.Battles++
		if b.Success {
			stats.Wins++
		}
		stats.TotalPowerDealt += b.PowerDealt
		powerByCharacter[b.CharacterID] += b.PowerDealt
		nameByCharacter[b.CharacterID] = b.CharacterName
	}

	if stats.Battles > 0 {
		stats.WinRate = float64(stats.Wins) / float64(stats.Battles)
	}
	for id, power := range powerByCharacter {
		if power > stats.BestCharacterPower || stats.BestCharacterID == "" {
			stats.BestCharacterID = id
			stats.BestCharacterName = nameByCharacter[id]
			stats.BestCharacterPower = power
		}
	}
	return stats, nil
}

func (s *MemoryStore) GetLeaderboard(ctx context.Context, sessionID string, limit, offset int) ([]LeaderboardEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type row struct {
		power, wins int64
		lastAt      time.Time
		name        string
	}
	rows := make(map[string]*row)

	for _, b := range s.battles {
		if b.SessionID != sessionID {
			continue
		}
		r, ok := rows[b.UserID]
		if !ok {
			r = &row{}
			rows[b.UserID] = r
		}
		r.power += b.PowerDealt
		if b.Success {
			r.wins++
		}
		if !b.CreatedAt.Before(r.lastAt) {
			r.lastAt = b.CreatedAt
			r.name = b.CharacterName
		}
	}

	entries := make([]LeaderboardEntry, 0, len(rows))
	for userID, r := range rows {
		entries = append(entries, LeaderboardEntry{
			UserID:          userID,
			TotalPowerDealt: r.power,
			Wins:            r.wins,
			CharacterName:   r.name,
			LastBattleAt:    r.lastAt,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].TotalPowerDealt != entries[j].TotalPowerDealt {
			return entries[i].TotalPowerDealt > entries[j].TotalPowerDealt
		}
		return entries[i].Wins > entries[j].Wins
	})

	if offset >= len(entries) {
		return []LeaderboardEntry{}, nil
	}
	entries = entries[offset:]
	if len(entries) > limit {
		entries = entries[:limit]
	}
	for i := range entries {
		entries[i].Rank = offset + i + 1
	}
	return entries, nil
}

func (s *MemoryStore) AggregateSession(ctx context.Context, sessionID string) (SessionAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var agg SessionAggregate
	users := make(map[string]struct{})
	for _, b := range s.battles {
		if b.SessionID != sessionID {
			continue
		}
		agg.BattleCount++
		agg.TotalPower += b.PowerDealt
		if b.Success {
			agg.TotalDamage++
		}
		users[b.UserID] = struct{}{}
	}
	agg.ParticipantCount = int64(len(users))
	return agg, nil
}

func (s *MemoryStore) SetSessionTotals(ctx context.Context, sessionID string, agg SessionAggregate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	session.TotalDamage = agg.TotalDamage
	session.TotalPower = agg.TotalPower
	session.BattleCount = agg.BattleCount
	session.ParticipantCount = agg.ParticipantCount
	session.UpdatedAt = time.Now().UTC()
	s.sessions[sessionID] = session
	return nil
}

func (s *MemoryStore) SetEnemyTotals(ctx context.Context, enemyID string, health, damage, power int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	enemy, ok := s.enemies[enemyID]
	if !ok {
		return ErrEnemyNotFound
	}
	enemy.CurrentHealth = health
	enemy.TotalDamageReceived = damage
	enemy.TotalPowerReceived = power
	enemy.UpdatedAt = time.Now().UTC()
	s.enemies[enemyID] = enemy
	return nil
}

// MockVerifier is a PaymentVerifier for tests: it confirms every
// instruction, keyed by a hash of the instruction bytes, unless told to
// answer otherwise.
type MockVerifier struct {
	mu          sync.Mutex
	Status      PaymentStatus
	Reason      string
	Err         error
	VerifyCalls int
}

// NewMockVerifier creates a verifier that confirms everything.
func NewMockVerifier() *MockVerifier {
	return &MockVerifier{Status: PaymentConfirmed}
}

func (m *MockVerifier) Reference(instruction []byte) (string, error) {
	if len(instruction) == 0 {
		return "", errors.New("empty instruction")
	}
	return "mock-" + string(instruction), nil
}

func (m *MockVerifier) Verify(ctx context.Context, req PaymentRequest) (PaymentResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.VerifyCalls++

	if m.Err != nil {
		return PaymentResult{}, m.Err
	}
	txHash, _ := m.Reference(req.Instruction)
	switch m.Status {
	case PaymentConfirmed:
		return PaymentResult{Valid: true, Status: PaymentConfirmed, TxHash: txHash}, nil
	case PaymentUnknown:
		return PaymentResult{Status: PaymentUnknown, TxHash: txHash, Reason: m.Reason}, context.DeadlineExceeded
	default:
		return PaymentResult{Status: PaymentRejected, Reason: m.Reason}, nil
	}
}

// MockCharacterResolver is a CharacterResolver for tests: identities in
// the roster resolve to their registered attributes, everything else to a
// default-power ref.
type MockCharacterResolver struct {
	mu     sync.Mutex
	Roster map[string]CharacterRef
	Err    error
}

// NewMockCharacterResolver creates a resolver with an empty roster.
func NewMockCharacterResolver() *MockCharacterResolver {
	return &MockCharacterResolver{Roster: make(map[string]CharacterRef)}
}

// Add registers a character under its ID.
func (m *MockCharacterResolver) Add(c CharacterRef) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Roster[c.ID] = c
}

func (m *MockCharacterResolver) Resolve(ctx context.Context, userID string, ids []string) ([]CharacterRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	chars := make([]CharacterRef, 0, len(ids))
	for _, id := range ids {
		c, ok := m.Roster[id]
		if !ok {
			c = CharacterRef{ID: id}
		}
		c.ID = id
		chars = append(chars, c)
	}
	return chars, nil
}
