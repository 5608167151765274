package conquest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/r3e-forge/conquest/pkg/logger"
)

// seedBattles registers one character per entry, starts a session, and
// runs one attack per entry.
func seedBattles(t *testing.T, svc *Service, roster *MockCharacterResolver, enemyID string, attacks []struct {
	user  string
	name  string
	power int64
}) string {
	t.Helper()
	ctx := context.Background()

	session, err := svc.StartSession(ctx, enemyID, time.Hour, time.Time{})
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	for i, a := range attacks {
		roster.Add(CharacterRef{ID: "c-" + a.user, Name: a.name, Power: a.power})
		_, err := svc.Attack(ctx, AttackRequest{
			EnemyID:      enemyID,
			UserID:       a.user,
			CharacterIDs: []string{"c-" + a.user},
			Mode:         AttackModeSimple,
			Instruction:  []byte(fmt.Sprintf("ix-%d", i)),
		})
		if err != nil {
			t.Fatalf("Attack %d failed: %v", i, err)
		}
	}
	return session.ID
}

func TestLeaderboardRanking(t *testing.T) {
	ctx := context.Background()
	svc, _, _, roster := newTestService(t)
	svc.WithRoller(func() float64 { return 0.0 })

	enemy := mustCreateEnemy(t, svc, DifficultyEasy, 100000)
	sessionID := seedBattles(t, svc, roster, enemy.ID, []struct {
		user  string
		name  string
		power int64
	}{
		{"walletB", "Borin", 200},
		{"walletA", "Aria", 300},
		{"walletC", "Cale", 100},
	})

	entries, err := svc.GetLeaderboard(ctx, sessionID, 10, 0)
	if err != nil {
		t.Fatalf("GetLeaderboard failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}

	wantOrder := []struct {
		user  string
		power int64
	}{
		{"walletA", 300}, {"walletB", 200}, {"walletC", 100},
	}
	for i, want := range wantOrder {
		e := entries[i]
		if e.UserID != want.user {
			t.Errorf("rank %d: got %s, want %s", i+1, e.UserID, want.user)
		}
		if e.TotalPowerDealt != want.power {
			t.Errorf("rank %d: power %d, want %d", i+1, e.TotalPowerDealt, want.power)
		}
		if e.Rank != i+1 {
			t.Errorf("rank field %d, want %d", e.Rank, i+1)
		}
		if e.Wins != 1 {
			t.Errorf("rank %d: wins %d, want 1", i+1, e.Wins)
		}
		if e.CharacterName == "" {
			t.Errorf("rank %d: missing representative character", i+1)
		}
		if e.LastBattleAt.IsZero() {
			t.Errorf("rank %d: missing last battle time", i+1)
		}
	}
}

func TestLeaderboardPagination(t *testing.T) {
	ctx := context.Background()
	svc, _, _, roster := newTestService(t)
	svc.WithRoller(func() float64 { return 0.0 })

	enemy := mustCreateEnemy(t, svc, DifficultyEasy, 100000)
	sessionID := seedBattles(t, svc, roster, enemy.ID, []struct {
		user  string
		name  string
		power int64
	}{
		{"w1", "A", 400}, {"w2", "B", 300}, {"w3", "C", 200}, {"w4", "D", 100},
	})

	page, err := svc.GetLeaderboard(ctx, sessionID, 2, 2)
	if err != nil {
		t.Fatalf("GetLeaderboard failed: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(page))
	}
	if page[0].UserID != "w3" || page[0].Rank != 3 {
		t.Errorf("offset must shift ranks: got %s rank %d", page[0].UserID, page[0].Rank)
	}
	if page[1].UserID != "w4" || page[1].Rank != 4 {
		t.Errorf("got %s rank %d, want w4 rank 4", page[1].UserID, page[1].Rank)
	}
}

func TestUserStats(t *testing.T) {
	ctx := context.Background()
	svc, _, _, roster := newTestService(t)
	roster.Add(CharacterRef{ID: "hero", Name: "Hero", Power: 120})
	roster.Add(CharacterRef{ID: "squire", Name: "Squire", Power: 80})

	enemy := mustCreateEnemy(t, svc, DifficultyEasy, 100000)
	session, err := svc.StartSession(ctx, enemy.ID, time.Hour, time.Time{})
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	// First attack hits, second misses.
	rolls := []float64{0.0, 0.99}
	i := 0
	svc.WithRoller(func() float64 {
		r := rolls[i%len(rolls)]
		i++
		return r
	})

	for n, id := range []string{"hero", "squire"} {
		_, err := svc.Attack(ctx, AttackRequest{
			EnemyID:      enemy.ID,
			UserID:       "player-1",
			CharacterIDs: []string{id},
			Mode:         AttackModeSimple,
			Instruction:  []byte(fmt.Sprintf("ix-%d", n)),
		})
		if err != nil {
			t.Fatalf("Attack failed: %v", err)
		}
	}

	stats, err := svc.GetUserStats(ctx, session.ID, "player-1")
	if err != nil {
		t.Fatalf("GetUserStats failed: %v", err)
	}
	if stats.Battles != 2 {
		t.Errorf("expected 2 battles, got %d", stats.Battles)
	}
	if stats.Wins != 1 {
		t.Errorf("expected 1 win, got %d", stats.Wins)
	}
	if stats.WinRate != 0.5 {
		t.Errorf("expected win rate 0.5, got %v", stats.WinRate)
	}
	if stats.TotalPowerDealt != 120 {
		t.Errorf("expected 120 power dealt, got %d", stats.TotalPowerDealt)
	}
	if stats.BestCharacterID != "hero" {
		t.Errorf("expected best character hero, got %s", stats.BestCharacterID)
	}

	// A user with no battles gets an empty, not missing, answer.
	empty, err := svc.GetUserStats(ctx, session.ID, "stranger")
	if err != nil {
		t.Fatalf("GetUserStats for stranger failed: %v", err)
	}
	if empty.Battles != 0 || empty.Wins != 0 {
		t.Errorf("stranger should have zero stats: %+v", empty)
	}
}

func TestParticipantDeduplication(t *testing.T) {
	ctx := context.Background()
	svc, store, _, roster := newTestService(t)
	svc.WithRoller(func() float64 { return 0.0 })

	enemy := mustCreateEnemy(t, svc, DifficultyEasy, 100000)
	sessionID := seedBattles(t, svc, roster, enemy.ID, []struct {
		user  string
		name  string
		power int64
	}{
		{"walletA", "Aria", 10},
		{"walletA", "Aria", 10},
		{"walletA", "Aria", 10},
		{"walletB", "Borin", 10},
	})

	session, err := store.GetSession(ctx, sessionID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if session.ParticipantCount != 2 {
		t.Errorf("repeat attackers must count once: got %d participants", session.ParticipantCount)
	}
	if session.BattleCount != 4 {
		t.Errorf("expected 4 battles, got %d", session.BattleCount)
	}
}

func TestReconcileSessionRepairsDrift(t *testing.T) {
	ctx := context.Background()
	svc, store, _, roster := newTestService(t)
	svc.WithRoller(func() float64 { return 0.0 })

	enemy := mustCreateEnemy(t, svc, DifficultyEasy, 1000)
	sessionID := seedBattles(t, svc, roster, enemy.ID, []struct {
		user  string
		name  string
		power int64
	}{
		{"walletA", "Aria", 60},
		{"walletB", "Borin", 40},
	})

	// Corrupt the denormalized counters.
	if err := store.SetSessionTotals(ctx, sessionID, SessionAggregate{
		TotalDamage: 999, TotalPower: 999, BattleCount: 999, ParticipantCount: 999,
	}); err != nil {
		t.Fatalf("SetSessionTotals failed: %v", err)
	}
	if err := store.SetEnemyTotals(ctx, enemy.ID, 1, 999, 999); err != nil {
		t.Fatalf("SetEnemyTotals failed: %v", err)
	}

	agg, err := svc.ReconcileSession(ctx, sessionID)
	if err != nil {
		t.Fatalf("ReconcileSession failed: %v", err)
	}
	if agg.TotalDamage != 2 || agg.TotalPower != 100 || agg.BattleCount != 2 || agg.ParticipantCount != 2 {
		t.Errorf("aggregate mismatch: %+v", agg)
	}

	session, _ := store.GetSession(ctx, sessionID)
	if session.TotalDamage != 2 || session.TotalPower != 100 {
		t.Errorf("session counters not repaired: %+v", session)
	}

	fixed, _ := store.GetEnemy(ctx, enemy.ID)
	if fixed.CurrentHealth != 998 {
		t.Errorf("enemy health not repaired: %d", fixed.CurrentHealth)
	}
	if fixed.TotalDamageReceived != 2 || fixed.TotalPowerReceived != 100 {
		t.Errorf("enemy counters not repaired: %+v", fixed)
	}
}

func TestLeaderboardValidation(t *testing.T) {
	svc := New(NewMemoryStore(), NewMockVerifier(), logger.NewDefault("stats-test"))
	if _, err := svc.GetLeaderboard(context.Background(), "", 10, 0); err == nil {
		t.Error("empty session_id should be rejected")
	}
	if _, err := svc.GetUserStats(context.Background(), "s", ""); err == nil {
		t.Error("empty user_id should be rejected")
	}
}
