package conquest

import (
	"context"
	"testing"
	"time"
)

func TestEvaluateEndConditions_NoActiveSession(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	ended, err := svc.EvaluateEndConditions(context.Background())
	if err != nil {
		t.Fatalf("EvaluateEndConditions failed: %v", err)
	}
	if ended != nil {
		t.Errorf("no session means no transition, got %+v", ended)
	}
}

func TestEvaluateEndConditions_NoOpWhileRunning(t *testing.T) {
	ctx := context.Background()
	svc, store, _, _ := newTestService(t)

	enemy := mustCreateEnemy(t, svc, DifficultyEasy, 1000)
	session, err := svc.StartSession(ctx, enemy.ID, time.Hour, time.Time{})
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	ended, err := svc.EvaluateEndConditions(ctx)
	if err != nil {
		t.Fatalf("EvaluateEndConditions failed: %v", err)
	}
	if ended != nil {
		t.Errorf("healthy running session must not be ended: %+v", ended)
	}

	still, _ := store.GetSession(ctx, session.ID)
	if !still.IsActive {
		t.Error("session should still be active")
	}
}

func TestEvaluateEndConditions_TimeExpired(t *testing.T) {
	ctx := context.Background()
	svc, store, _, _ := newTestService(t)

	enemy := mustCreateEnemy(t, svc, DifficultyEasy, 1000)
	// Session whose whole window is already in the past.
	start := time.Now().UTC().Add(-2 * time.Hour)
	session, err := svc.StartSession(ctx, enemy.ID, time.Hour, start)
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	ended, err := svc.EvaluateEndConditions(ctx)
	if err != nil {
		t.Fatalf("EvaluateEndConditions failed: %v", err)
	}
	if ended == nil {
		t.Fatal("expired session should have been ended")
	}
	if ended.ID != session.ID {
		t.Errorf("ended the wrong session: %s", ended.ID)
	}
	if ended.WinCondition != WinTimeExpired {
		t.Errorf("expected %s, got %s", WinTimeExpired, ended.WinCondition)
	}

	// Expiry does not defeat the enemy.
	fresh, _ := store.GetEnemy(ctx, enemy.ID)
	if fresh.Defeated {
		t.Error("time expiry must not mark the enemy defeated")
	}

	// Idempotent: a second sweep finds nothing to do.
	again, err := svc.EvaluateEndConditions(ctx)
	if err != nil {
		t.Fatalf("second EvaluateEndConditions failed: %v", err)
	}
	if again != nil {
		t.Errorf("completed session must not transition twice: %+v", again)
	}
}

func TestEvaluateEndConditions_EnemyDefeated(t *testing.T) {
	ctx := context.Background()
	svc, store, _, _ := newTestService(t)

	enemy := mustCreateEnemy(t, svc, DifficultyEasy, 10)
	if _, err := svc.StartSession(ctx, enemy.ID, time.Hour, time.Time{}); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	// Drive health to zero behind the service's back, as if a competing
	// instance had landed the killing blow without completing the session.
	if err := store.SetEnemyTotals(ctx, enemy.ID, 0, 10, 100); err != nil {
		t.Fatalf("SetEnemyTotals failed: %v", err)
	}

	ended, err := svc.EvaluateEndConditions(ctx)
	if err != nil {
		t.Fatalf("EvaluateEndConditions failed: %v", err)
	}
	if ended == nil {
		t.Fatal("zero-health session should have been ended")
	}
	if ended.WinCondition != WinEnemyDefeated {
		t.Errorf("expected %s, got %s", WinEnemyDefeated, ended.WinCondition)
	}

	fresh, _ := store.GetEnemy(ctx, enemy.ID)
	if !fresh.Defeated {
		t.Error("defeat transition must mark the enemy defeated")
	}
}

func TestStartExpirySweep_BadSchedule(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	if _, err := svc.StartExpirySweep("not a schedule"); err == nil {
		t.Error("invalid cron expression should be rejected")
	}
}
