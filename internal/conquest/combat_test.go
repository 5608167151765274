package conquest

import (
	"strings"
	"testing"

	"github.com/r3e-forge/conquest/pkg/logger"
)

func TestCombatPowerFallback(t *testing.T) {
	cases := []struct {
		name string
		c    CharacterRef
		want int64
	}{
		{"explicit power", CharacterRef{Power: 75, Score: 40}, 75},
		{"score fallback", CharacterRef{Score: 40}, 40},
		{"default fallback", CharacterRef{}, DefaultCharacterPower},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.c.CombatPower(); got != tc.want {
				t.Errorf("CombatPower() = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestWinProbabilityByDifficulty(t *testing.T) {
	if got := DifficultyEasy.WinProbability(); got != 0.7 {
		t.Errorf("EASY = %v, want 0.7", got)
	}
	if got := DifficultyMedium.WinProbability(); got != 0.5 {
		t.Errorf("MEDIUM = %v, want 0.5", got)
	}
	if got := DifficultyHard.WinProbability(); got != 0.3 {
		t.Errorf("HARD = %v, want 0.3", got)
	}
}

func TestResolveBattle_EveryCharacterRecorded(t *testing.T) {
	svc := New(NewMemoryStore(), NewMockVerifier(), logger.NewDefault("combat-test"))

	// Alternate hit and miss: EASY threshold is 0.7.
	rolls := []float64{0.1, 0.9, 0.1, 0.9}
	i := 0
	svc.WithRoller(func() float64 {
		r := rolls[i%len(rolls)]
		i++
		return r
	})

	session := GameSession{ID: "sess-1"}
	enemy := Enemy{ID: "enemy-1", Name: "Kraken", Difficulty: DifficultyEasy}
	chars := []CharacterRef{
		{ID: "c1", Name: "Aria", Power: 30},
		{ID: "c2", Name: "Borin", Power: 20},
		{ID: "c3", Name: "Cale", Score: 15},
		{ID: "c4", Name: "Dara"},
	}

	outcomes, results, totals, combatLog := svc.resolveBattle(session, enemy, "player-1", chars)

	if len(outcomes) != 4 || len(results) != 4 || len(combatLog) != 4 {
		t.Fatalf("every character needs an outcome, a result, and a log line: %d/%d/%d",
			len(outcomes), len(results), len(combatLog))
	}
	if totals.Battles != 4 {
		t.Errorf("expected 4 battles, got %d", totals.Battles)
	}

	// Hits: c1 (30) and c3 (15 via score). Misses: c2, c4.
	if totals.Damage != 2 {
		t.Errorf("expected 2 damage, got %d", totals.Damage)
	}
	if totals.Power != 45 {
		t.Errorf("expected 45 power, got %d", totals.Power)
	}

	if !outcomes[0].Success || outcomes[0].PowerDealt != 30 {
		t.Errorf("c1 should hit for 30: %+v", outcomes[0])
	}
	if outcomes[1].Success || outcomes[1].PowerDealt != 0 {
		t.Errorf("c2 should miss: %+v", outcomes[1])
	}
	if !outcomes[2].Success || outcomes[2].PowerDealt != 15 {
		t.Errorf("c3 should hit for its score: %+v", outcomes[2])
	}
	if outcomes[3].Success {
		t.Errorf("c4 should miss: %+v", outcomes[3])
	}

	// Misses are persisted too.
	for idx, r := range results {
		if r.SessionID != "sess-1" || r.EnemyID != "enemy-1" || r.UserID != "player-1" {
			t.Errorf("result %d mislabeled: %+v", idx, r)
		}
	}
	if results[1].Success {
		t.Error("miss must be persisted with success=false")
	}

	if !strings.Contains(combatLog[0], "hits Kraken for 30 power") {
		t.Errorf("unexpected hit line: %q", combatLog[0])
	}
	if !strings.Contains(combatLog[1], "misses Kraken") {
		t.Errorf("unexpected miss line: %q", combatLog[1])
	}
}

func TestResolveBattle_ThresholdBoundaries(t *testing.T) {
	svc := New(NewMemoryStore(), NewMockVerifier(), logger.NewDefault("combat-test"))

	cases := []struct {
		difficulty Difficulty
		roll       float64
		hit        bool
	}{
		{DifficultyEasy, 0.69, true},
		{DifficultyEasy, 0.70, false},
		{DifficultyMedium, 0.49, true},
		{DifficultyMedium, 0.50, false},
		{DifficultyHard, 0.29, true},
		{DifficultyHard, 0.30, false},
	}

	for _, tc := range cases {
		svc.WithRoller(func() float64 { return tc.roll })
		outcomes, _, _, _ := svc.resolveBattle(
			GameSession{ID: "s"},
			Enemy{ID: "e", Name: "Target", Difficulty: tc.difficulty},
			"p",
			[]CharacterRef{{ID: "c", Power: 1}},
		)
		if outcomes[0].Success != tc.hit {
			t.Errorf("%s roll %.2f: success=%v, want %v",
				tc.difficulty, tc.roll, outcomes[0].Success, tc.hit)
		}
	}
}
