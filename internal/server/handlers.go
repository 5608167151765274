package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/r3e-forge/conquest/internal/apierr"
	"github.com/r3e-forge/conquest/internal/conquest"
	"github.com/r3e-forge/conquest/internal/httputil"
	"github.com/r3e-forge/conquest/internal/middleware"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAttack(w http.ResponseWriter, r *http.Request) {
	wallet := r.Header.Get(middleware.WalletHeader)
	if wallet == "" {
		httputil.WriteError(w, apierr.InvalidRequest("missing "+middleware.WalletHeader+" header"))
		return
	}

	var req conquest.AttackRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	req.UserID = wallet

	resp, err := s.svc.Attack(r.Context(), req)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) handleActiveSession(w http.ResponseWriter, r *http.Request) {
	view, err := s.svc.GetActiveSession(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		EnemyID         string `json:"enemy_id"`
		DurationMinutes int64  `json:"duration_minutes"`
		StartTime       string `json:"start_time,omitempty"`
	}
	if !httputil.DecodeJSON(w, r, &payload) {
		return
	}

	var startTime time.Time
	if payload.StartTime != "" {
		parsed, err := time.Parse(time.RFC3339, payload.StartTime)
		if err != nil {
			httputil.WriteError(w, apierr.InvalidRequest("start_time must be RFC 3339"))
			return
		}
		startTime = parsed
	}

	session, err := s.svc.StartSession(r.Context(), payload.EnemyID,
		time.Duration(payload.DurationMinutes)*time.Minute, startTime)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, session)
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		WinCondition string `json:"win_condition,omitempty"`
	}
	if !httputil.DecodeJSON(w, r, &payload) {
		return
	}

	win := conquest.WinManualEnd
	switch payload.WinCondition {
	case "", string(conquest.WinManualEnd):
	case string(conquest.WinEnemyDefeated):
		win = conquest.WinEnemyDefeated
	case string(conquest.WinTimeExpired):
		win = conquest.WinTimeExpired
	default:
		httputil.WriteError(w, apierr.InvalidRequest("unknown win_condition "+payload.WinCondition))
		return
	}

	session, err := s.svc.EndSession(r.Context(), win)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, session)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 25)
	sessions, err := s.svc.ListSessions(r.Context(), limit)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.svc.GetSession(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, session)
}

func (s *Server) handleReconcileSession(w http.ResponseWriter, r *http.Request) {
	agg, err := s.svc.ReconcileSession(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]int64{
		"total_damage":      agg.TotalDamage,
		"total_power":       agg.TotalPower,
		"battle_count":      agg.BattleCount,
		"participant_count": agg.ParticipantCount,
	})
}

func (s *Server) handleCreateEnemy(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Difficulty  string `json:"difficulty"`
		Type        string `json:"type"`
		MaxHealth   int64  `json:"max_health"`
	}
	if !httputil.DecodeJSON(w, r, &payload) {
		return
	}

	enemy, err := s.svc.CreateEnemy(r.Context(), conquest.Enemy{
		Name:        payload.Name,
		Description: payload.Description,
		Difficulty:  conquest.Difficulty(payload.Difficulty),
		Type:        payload.Type,
		MaxHealth:   payload.MaxHealth,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, enemy)
}

func (s *Server) handleListEnemies(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 25)
	enemies, err := s.svc.ListEnemies(r.Context(), limit)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, enemies)
}

func (s *Server) handleGetEnemy(w http.ResponseWriter, r *http.Request) {
	enemy, err := s.svc.GetEnemy(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, enemy)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := s.resolveSessionID(w, r)
	if !ok {
		return
	}
	limit := queryInt(r, "limit", 0)
	offset := queryInt(r, "offset", 0)

	entries, err := s.svc.GetLeaderboard(r.Context(), sessionID, limit, offset)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"session_id":  sessionID,
		"leaderboard": entries,
	})
}

func (s *Server) handleUserStats(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := s.resolveSessionID(w, r)
	if !ok {
		return
	}

	stats, err := s.svc.GetUserStats(r.Context(), sessionID, mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}

// resolveSessionID picks the session_id query parameter, falling back to
// the active session. A false return means the error is already written.
func (s *Server) resolveSessionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	if id := r.URL.Query().Get("session_id"); id != "" {
		return id, true
	}
	view, err := s.svc.GetActiveSession(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return "", false
	}
	return view.Session.ID, true
}

func queryInt(r *http.Request, name string, fallback int) int {
	value := r.URL.Query().Get(name)
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
