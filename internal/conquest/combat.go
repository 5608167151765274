package conquest

import (
	"fmt"
	"time"
)

// resolveBattle computes the outcome of one attack call. Each character
// rolls an independent success draw against the enemy's difficulty
// threshold. Every character produces exactly one BattleResult, miss or
// hit; a hit deals one damage point and contributes its full power to
// the power totals.
func (s *Service) resolveBattle(session GameSession, enemy Enemy, userID string, chars []CharacterRef) ([]BattleOutcome, []BattleResult, AttackTotals, []string) {
	threshold := enemy.Difficulty.WinProbability()
	now := time.Now().UTC()

	outcomes := make([]BattleOutcome, 0, len(chars))
	results := make([]BattleResult, 0, len(chars))
	combatLog := make([]string, 0, len(chars))
	var totals AttackTotals

	for _, c := range chars {
		power := c.CombatPower()
		name := c.Name
		if name == "" {
			name = c.ID
		}
		success := s.rollFn() < threshold

		var dealt int64
		if success {
			dealt = power
			totals.Damage++
			totals.Power += power
			combatLog = append(combatLog, fmt.Sprintf("%s hits %s for %d power!", name, enemy.Name, power))
		} else {
			combatLog = append(combatLog, fmt.Sprintf("%s misses %s.", name, enemy.Name))
		}
		totals.Battles++

		outcomes = append(outcomes, BattleOutcome{
			CharacterID: c.ID,
			Name:        name,
			Power:       power,
			Success:     success,
			PowerDealt:  dealt,
		})
		results = append(results, BattleResult{
			CharacterID:    c.ID,
			CharacterName:  name,
			CharacterType:  c.Type,
			CharacterPower: power,
			UserID:         userID,
			EnemyID:        enemy.ID,
			SessionID:      session.ID,
			PowerDealt:     dealt,
			Success:        success,
			CreatedAt:      now,
		})
	}

	return outcomes, results, totals, combatLog
}
