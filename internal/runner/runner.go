// Package runner drives pipeline runs through the stage graph: cache checks,
// budget planning, worker invocation, retries, and the run and episode state
// machines.
package runner

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"soundbite/internal/budget"
	"soundbite/internal/config"
	"soundbite/internal/executor"
	"soundbite/internal/logging"
	"soundbite/internal/notifications"
	"soundbite/internal/pipeline"
	"soundbite/internal/proctrack"
	"soundbite/internal/services"
	"soundbite/internal/store"
)

// ErrAlreadyRunning indicates an episode already has a live run.
var ErrAlreadyRunning = errors.New("runner: episode already has a live run")

// StartOptions tune one run.
type StartOptions struct {
	// Force bypasses cache checks and re-runs every stage.
	Force bool

	// FromStage resumes the graph at a later stage instead of the beginning.
	FromStage string

	// SkipRespond declines draft generation for this run; the respond stage
	// completes without invoking its worker.
	SkipRespond bool

	// TargetResults sizes the discovery budget. Zero uses the per-keyword
	// ceiling from configuration.
	TargetResults int64
}

// Runner owns run execution for a daemon. Construct one and inject it; run
// goroutines are tracked and drained by Stop.
type Runner struct {
	cfg      *config.Config
	store    *store.Store
	tracker  *proctrack.Tracker
	invoker  executor.Invoker
	ledger   budget.Ledger
	planner  *budget.Planner
	notifier notifications.Service
	logger   *slog.Logger

	mu      sync.Mutex
	live    map[int64]bool
	wg      sync.WaitGroup
	baseCtx context.Context
	cancel  context.CancelFunc
}

// New constructs a Runner. notifier may be nil; a noop service is assumed
// when notifications are not wanted.
func New(cfg *config.Config, st *store.Store, tracker *proctrack.Tracker, invoker executor.Invoker, ledger budget.Ledger, notifier notifications.Service, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = logging.NewNop()
	}
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}
	baseCtx, cancel := context.WithCancel(context.Background())
	return &Runner{
		cfg:      cfg,
		store:    st,
		tracker:  tracker,
		invoker:  invoker,
		ledger:   ledger,
		planner:  budget.NewPlanner(cfg.Budget.SafeFraction, int64(cfg.Budget.CallsPerKeyword), int64(cfg.Budget.ResultsPerCall)),
		notifier: notifier,
		logger:   logger.With(logging.String(logging.FieldComponent, "runner")),
		live:     make(map[int64]bool),
		baseCtx:  baseCtx,
		cancel:   cancel,
	}
}

// Stop cancels in-flight runs and waits for their goroutines to drain.
func (r *Runner) Stop() {
	r.cancel()
	r.wg.Wait()
}

// Start validates preconditions, creates the run record, and launches the
// execution goroutine. At most one live run per episode: a second Start
// returns ErrAlreadyRunning until the first finishes.
func (r *Runner) Start(ctx context.Context, episodeID int64, opts StartOptions) (*store.Run, error) {
	episode, err := r.store.GetEpisode(ctx, episodeID)
	if err != nil {
		return nil, err
	}

	graph, err := pipeline.NewGraph(episode.Variant)
	if err != nil {
		return nil, err
	}
	stages := graph.Stages()
	if opts.FromStage != "" {
		if stages, err = graph.StagesFrom(opts.FromStage); err != nil {
			return nil, err
		}
	}

	fingerprints, err := r.store.Fingerprints(ctx, episodeID)
	if err != nil {
		return nil, err
	}
	if _, ok := fingerprints[pipeline.ArtifactTranscript]; !ok {
		return nil, services.Wrap(services.ErrValidation, "runner", "start",
			"episode has no transcript; upload one before starting a run", nil)
	}

	r.mu.Lock()
	if r.live[episodeID] || r.tracker.IsRunning(episodeID) {
		r.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	if episode.Status == store.EpisodeProcessing {
		// A processing episode with no live worker is a stuck run; it must
		// be reset explicitly rather than silently replaced.
		r.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	r.live[episodeID] = true
	r.mu.Unlock()

	release := func() {
		r.mu.Lock()
		delete(r.live, episodeID)
		r.mu.Unlock()
	}

	runID := uuid.NewString()
	run, err := r.store.CreateRun(ctx, runID, episodeID, "")
	if err != nil {
		release()
		return nil, err
	}
	if err := r.store.SetEpisodeStatus(ctx, episodeID, store.EpisodeProcessing); err != nil {
		release()
		return nil, err
	}
	if err := r.store.AppendAudit(ctx, "run_started", "run", runID, ""); err != nil {
		r.logger.Warn("audit append failed", logging.Error(err))
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer release()
		r.execute(r.baseCtx, episode, run, stages, opts)
	}()
	return run, nil
}

// IsLive reports whether the runner currently owns a run for the episode.
func (r *Runner) IsLive(episodeID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.live[episodeID]
}

// runContext derives the context every stage of a run logs under.
func runContext(ctx context.Context, episodeID int64, runID string) context.Context {
	ctx = services.WithEpisodeID(ctx, episodeID)
	ctx = services.WithRunID(ctx, runID)
	return services.WithRequestID(ctx, uuid.NewString())
}
