package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r3e-forge/conquest/internal/conquest"
	"github.com/r3e-forge/conquest/internal/middleware"
	"github.com/r3e-forge/conquest/pkg/logger"
)

const testWallet = "NTestWallet11111111111111111111111"

func newTestServer(t *testing.T) (*Server, *conquest.Service, *conquest.MockCharacterResolver) {
	t.Helper()
	store := conquest.NewMemoryStore()
	log := logger.NewDefault("server-test")
	svc := conquest.New(store, conquest.NewMockVerifier(), log)
	roster := conquest.NewMockCharacterResolver()
	svc.WithCharacterResolver(roster)
	srv := New(Config{Addr: ":0"}, svc, log, nil, nil)
	return srv, svc, roster
}

func doJSON(t *testing.T, srv *Server, method, path string, body interface{}, wallet string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if wallet != "" {
		req.Header.Set(middleware.WalletHeader, wallet)
	}
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func seedEnemy(t *testing.T, srv *Server) conquest.Enemy {
	t.Helper()
	rec := doJSON(t, srv, http.MethodPost, "/api/v1/enemies", map[string]interface{}{
		"name":       "World Eater",
		"difficulty": "EASY",
		"max_health": 1000,
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var enemy conquest.Enemy
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &enemy))
	return enemy
}

func startSession(t *testing.T, srv *Server, enemyID string) conquest.GameSession {
	t.Helper()
	rec := doJSON(t, srv, http.MethodPost, "/api/v1/sessions", map[string]interface{}{
		"enemy_id":         enemyID,
		"duration_minutes": 60,
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var session conquest.GameSession
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))
	return session
}

func TestHealth(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	srv, _, _ := newTestServer(t)
	enemy := seedEnemy(t, srv)

	// No session yet.
	rec := doJSON(t, srv, http.MethodGet, "/api/v1/session", nil, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	session := startSession(t, srv, enemy.ID)
	assert.True(t, session.IsActive)
	assert.Equal(t, conquest.SessionActive, session.Status)
	assert.Equal(t, time.Hour, session.ScheduledEnd.Sub(session.StartTime))

	// A second start must be refused while one is active.
	rec = doJSON(t, srv, http.MethodPost, "/api/v1/sessions", map[string]interface{}{
		"enemy_id":         enemy.ID,
		"duration_minutes": 60,
	}, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Active view joins the enemy.
	rec = doJSON(t, srv, http.MethodGet, "/api/v1/session", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var view conquest.SessionView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, session.ID, view.Session.ID)
	assert.Equal(t, enemy.ID, view.Enemy.ID)
	assert.Equal(t, int64(1000), view.Enemy.CurrentHealth)

	// Manual end.
	rec = doJSON(t, srv, http.MethodPost, "/api/v1/sessions/end", map[string]interface{}{}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var ended conquest.GameSession
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ended))
	assert.Equal(t, conquest.SessionCompleted, ended.Status)
	assert.Equal(t, conquest.WinManualEnd, ended.WinCondition)
	assert.False(t, ended.IsActive)

	// Ending again conflicts: nothing active.
	rec = doJSON(t, srv, http.MethodPost, "/api/v1/sessions/end", map[string]interface{}{}, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAttackOverHTTP(t *testing.T) {
	srv, svc, roster := newTestServer(t)
	svc.WithRoller(func() float64 { return 0.0 }) // every swing lands
	roster.Add(conquest.CharacterRef{ID: "c1", Name: "Valkyrie", Power: 50})
	enemy := seedEnemy(t, srv)
	startSession(t, srv, enemy.ID)

	body := map[string]interface{}{
		"enemy_id":                   enemy.ID,
		"character_identities":       []string{"c1"},
		"attack_mode":                "SIMPLE",
		"signed_payment_instruction": []byte(`{"any":"instruction"}`),
	}

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/attack", body, testWallet)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp conquest.AttackResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(999), resp.Enemy.CurrentHealth)
	assert.Equal(t, int64(50), resp.TotalPowerDealt)
	assert.Equal(t, int64(1), resp.TotalDamageDealt)
	assert.False(t, resp.GameEnded)
	assert.Len(t, resp.BattleOutcomes, 1)
	assert.NotEmpty(t, resp.PaymentTxHash)

	// Same instruction again replays the recorded outcome.
	rec = doJSON(t, srv, http.MethodPost, "/api/v1/attack", body, testWallet)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Replayed)
	assert.Equal(t, int64(999), resp.Enemy.CurrentHealth)
}

func TestAttackPowerComesFromRoster(t *testing.T) {
	srv, svc, roster := newTestServer(t)
	svc.WithRoller(func() float64 { return 0.0 })
	roster.Add(conquest.CharacterRef{ID: "c1", Name: "Valkyrie", Power: 50})
	enemy := seedEnemy(t, srv)
	startSession(t, srv, enemy.ID)

	// A power field on the wire carries no weight: the roster decides.
	rec := doJSON(t, srv, http.MethodPost, "/api/v1/attack", map[string]interface{}{
		"enemy_id":                   enemy.ID,
		"character_identities":       []string{"c1"},
		"power":                      999999,
		"attack_mode":                "SIMPLE",
		"signed_payment_instruction": []byte("ix-forged"),
	}, testWallet)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp conquest.AttackResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(50), resp.TotalPowerDealt)
}

func TestAttackRequiresWallet(t *testing.T) {
	srv, _, _ := newTestServer(t)
	enemy := seedEnemy(t, srv)
	startSession(t, srv, enemy.ID)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/attack", map[string]interface{}{
		"enemy_id":                   enemy.ID,
		"character_identities":       []string{"c1"},
		"attack_mode":                "SIMPLE",
		"signed_payment_instruction": []byte("x"),
	}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAttackWithoutActiveSession(t *testing.T) {
	srv, _, _ := newTestServer(t)
	enemy := seedEnemy(t, srv)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/attack", map[string]interface{}{
		"enemy_id":                   enemy.ID,
		"character_identities":       []string{"c1"},
		"attack_mode":                "SIMPLE",
		"signed_payment_instruction": []byte("x"),
	}, testWallet)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestLeaderboardAndStatsOverHTTP(t *testing.T) {
	srv, svc, roster := newTestServer(t)
	svc.WithRoller(func() float64 { return 0.0 })
	enemy := seedEnemy(t, srv)
	session := startSession(t, srv, enemy.ID)

	attack := func(wallet string, power int64, instruction string) {
		roster.Add(conquest.CharacterRef{ID: "c-" + wallet, Name: "Hero of " + wallet, Power: power})
		rec := doJSON(t, srv, http.MethodPost, "/api/v1/attack", map[string]interface{}{
			"enemy_id":                   enemy.ID,
			"character_identities":       []string{"c-" + wallet},
			"attack_mode":                "SIMPLE",
			"signed_payment_instruction": []byte(instruction),
		}, wallet)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	attack("walletA", 300, "ixA")
	attack("walletB", 200, "ixB")

	rec := doJSON(t, srv, http.MethodGet, "/api/v1/leaderboard", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var board struct {
		SessionID   string                      `json:"session_id"`
		Leaderboard []conquest.LeaderboardEntry `json:"leaderboard"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &board))
	assert.Equal(t, session.ID, board.SessionID)
	require.Len(t, board.Leaderboard, 2)
	assert.Equal(t, "walletA", board.Leaderboard[0].UserID)
	assert.Equal(t, 1, board.Leaderboard[0].Rank)
	assert.Equal(t, int64(300), board.Leaderboard[0].TotalPowerDealt)

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/users/walletB/stats", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats conquest.UserStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, int64(1), stats.Battles)
	assert.Equal(t, int64(1), stats.Wins)
	assert.Equal(t, int64(200), stats.TotalPowerDealt)
}

func TestStartSessionValidation(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/sessions", map[string]interface{}{
		"enemy_id":         "does-not-exist",
		"duration_minutes": 1,
	}, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/sessions", map[string]interface{}{
		"enemy_id":         "x",
		"duration_minutes": 1,
		"start_time":       "not-a-time",
	}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReconcileOverHTTP(t *testing.T) {
	srv, svc, roster := newTestServer(t)
	svc.WithRoller(func() float64 { return 0.0 })
	roster.Add(conquest.CharacterRef{ID: "c1", Power: 40})
	enemy := seedEnemy(t, srv)
	session := startSession(t, srv, enemy.ID)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/attack", map[string]interface{}{
		"enemy_id":                   enemy.ID,
		"character_identities":       []string{"c1"},
		"attack_mode":                "SIMPLE",
		"signed_payment_instruction": []byte("ix1"),
	}, testWallet)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/sessions/"+session.ID+"/reconcile", map[string]interface{}{}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var agg map[string]int64
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &agg))
	assert.Equal(t, int64(1), agg["battle_count"])
	assert.Equal(t, int64(40), agg["total_power"])
	assert.Equal(t, int64(1), agg["participant_count"])
}

func TestRateLimitAppliesToAPI(t *testing.T) {
	store := conquest.NewMemoryStore()
	log := logger.NewDefault("server-test")
	svc := conquest.New(store, conquest.NewMockVerifier(), log)
	limiter := middleware.NewRateLimiter(1, 1, log)
	srv := New(Config{Addr: ":0"}, svc, log, nil, limiter)

	first := doJSON(t, srv, http.MethodGet, "/api/v1/enemies", nil, testWallet)
	assert.Equal(t, http.StatusOK, first.Code)

	var limited bool
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		rec := doJSON(t, srv, http.MethodGet, "/api/v1/enemies", nil, testWallet)
		if rec.Code == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	assert.True(t, limited, "burst above the limit should be throttled")
}
