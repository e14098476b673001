package api

import (
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"

	"soundbite/internal/notifications"
	"soundbite/internal/store"
)

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stats, err := s.store.EpisodeStats(ctx)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	episodes := make(map[string]int, len(stats))
	for status, count := range stats {
		episodes[string(status)] = count
	}

	resp := StatusResponse{
		Running:   true,
		PID:       os.Getpid(),
		StorePath: s.store.Path(),
		Episodes:  episodes,
	}
	if s.tracker != nil {
		for _, reg := range s.tracker.AllRegistrations() {
			resp.ActiveRuns = append(resp.ActiveRuns, ActiveRun{
				EpisodeID: reg.EpisodeID,
				Scope:     reg.Scope,
				RunID:     reg.RunID,
				PID:       reg.PID,
			})
		}
	}
	if s.ledger != nil {
		snapshot, err := s.ledger.Snapshot(ctx)
		if err != nil {
			s.logger.Warn("budget snapshot failed", slog.Any("error", err))
		} else {
			resp.Budget = &BudgetView{
				Period:    snapshot.Period,
				Limit:     snapshot.Limit,
				Used:      snapshot.Used,
				Remaining: snapshot.Remaining(),
			}
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, _ := strconv.Atoi(query.Get("limit"))
	entries, err := s.store.ListAudit(r.Context(), store.AuditFilter{
		ResourceType: query.Get("resource_type"),
		ResourceID:   query.Get("resource_id"),
		Action:       query.Get("action"),
		Limit:        limit,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	views := make([]AuditView, 0, len(entries))
	for _, rec := range entries {
		views = append(views, fromAudit(rec))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"entries": views})
}

func (s *Server) handleTestNotify(w http.ResponseWriter, r *http.Request) {
	if strings.TrimSpace(s.cfg.Notifications.NtfyTopic) == "" {
		s.writeJSON(w, http.StatusOK, map[string]any{"sent": false, "message": "ntfy topic not configured"})
		return
	}
	notifier := notifications.NewService(s.cfg)
	if err := notifier.TestNotification(r.Context()); err != nil {
		s.logger.Warn("test notification failed", slog.Any("error", err))
		s.writeJSON(w, http.StatusBadGateway, map[string]any{"sent": false, "message": "failed to send notification"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"sent": true, "message": "test notification sent"})
}
