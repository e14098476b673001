// Package api exposes the daemon's HTTP control surface. The CLI is its only
// intended client: everything is JSON over a loopback bind, optionally guarded
// by a bearer token.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"soundbite/internal/budget"
	"soundbite/internal/config"
	"soundbite/internal/proctrack"
	"soundbite/internal/review"
	"soundbite/internal/runner"
	"soundbite/internal/services"
	"soundbite/internal/store"
)

// Server serves the daemon control API.
type Server struct {
	cfg     *config.Config
	store   *store.Store
	runner  *runner.Runner
	review  *review.Service
	tracker *proctrack.Tracker
	ledger  budget.Ledger
	logger  *slog.Logger

	listener net.Listener
	server   *http.Server
}

// NewServer wires the control API. Review defaults to a service over the
// same store when nil.
func NewServer(cfg *config.Config, st *store.Store, run *runner.Runner, rev *review.Service, tracker *proctrack.Tracker, ledger budget.Ledger, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if rev == nil {
		rev = review.NewService(cfg, st, logger)
	}
	s := &Server{
		cfg:     cfg,
		store:   st,
		runner:  run,
		review:  rev,
		tracker: tracker,
		ledger:  ledger,
		logger:  logger.With(slog.String("component", "api-server")),
	}
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler builds the routed, authenticated handler. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/audit", s.handleAudit)
	mux.HandleFunc("POST /api/notify/test", s.handleTestNotify)

	mux.HandleFunc("POST /api/episodes", s.handleCreateEpisode)
	mux.HandleFunc("GET /api/episodes", s.handleListEpisodes)
	mux.HandleFunc("PUT /api/episodes/{episode}/transcript", s.handleUploadTranscript)

	mux.HandleFunc("GET /api/episodes/{episode}/keywords", s.handleListKeywords)
	mux.HandleFunc("PUT /api/episodes/{episode}/keywords", s.handleUpsertKeyword)

	mux.HandleFunc("POST /api/pipeline/{episode}/start", s.handleStart)
	mux.HandleFunc("GET /api/pipeline/{episode}", s.handlePipelineState)
	mux.HandleFunc("POST /api/pipeline/{episode}/kill", s.handleKill)
	mux.HandleFunc("POST /api/pipeline/reset-stuck", s.handleResetStuck)
	mux.HandleFunc("POST /api/pipeline/{episode}/estimate", s.handleEstimate)

	mux.HandleFunc("POST /api/drafts/{draft}/approve", s.handleApprove)
	mux.HandleFunc("POST /api/drafts/{draft}/reject", s.handleReject)
	mux.HandleFunc("POST /api/drafts/{draft}/true-reject", s.handleTrueReject)
	mux.HandleFunc("POST /api/drafts/{draft}/schedule", s.handleSchedule)

	return s.withAuth(mux)
}

// Start begins serving on the configured bind address.
func (s *Server) Start(ctx context.Context) error {
	bind := strings.TrimSpace(s.cfg.Paths.APIBind)
	if bind == "" {
		return services.Wrap(services.ErrConfiguration, "api-server", "start", "api bind address is empty", nil)
	}
	listener, err := net.Listen("tcp", bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", slog.Any("error", err))
		}
	}()
	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	s.logger.Info("api server listening", slog.String("address", listener.Addr().String()))
	return nil
}

// Addr returns the bound address, empty before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down, allowing in-flight requests a short grace.
func (s *Server) Stop() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *Server) withAuth(next http.Handler) http.Handler {
	token := strings.TrimSpace(s.cfg.Paths.APIToken)
	if token == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		supplied := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(supplied), []byte(token)) != 1 {
			s.writeError(w, http.StatusUnauthorized, "missing or invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", slog.Any("error", err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// audit records an operator action. The trail is informational; a write
// failure is logged and never fails the request it describes.
func (s *Server) audit(ctx context.Context, action, resourceType string, resourceID int64, payload string) {
	if err := s.store.AppendAudit(ctx, action, resourceType, strconv.FormatInt(resourceID, 10), payload); err != nil {
		s.logger.Warn("failed to append audit entry",
			slog.String("action", action), slog.Any("error", err))
	}
}

// writeServiceError maps the error taxonomy onto HTTP statuses.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, services.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, runner.ErrAlreadyRunning), errors.Is(err, store.ErrDraftConflict):
		status = http.StatusConflict
	case errors.Is(err, services.ErrValidation):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, services.ErrBudget):
		status = http.StatusTooManyRequests
	case errors.Is(err, services.ErrConfiguration):
		status = http.StatusInternalServerError
	}
	s.writeError(w, status, err.Error())
}

// decodeBody parses a JSON request body. An empty body leaves dst zeroed,
// which suits endpoints where every field is optional.
func decodeBody(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}
