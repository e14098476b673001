// Package proctrack keeps an in-memory registry of the worker processes a
// daemon has launched, keyed by episode, scope, and run. Registrations are
// never persisted; after a daemon restart the registry starts empty and the
// stuck-run reconciler picks up the pieces.
package proctrack

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"soundbite/internal/logging"
)

// ScopePipeline marks a registration covering a whole run rather than one
// stage worker.
const ScopePipeline = "pipeline"

// Registration identifies one tracked process.
type Registration struct {
	EpisodeID int64
	Scope     string // stage name, or ScopePipeline
	RunID     string
	PID       int
	StartedAt time.Time
}

type regKey struct {
	episodeID int64
	scope     string
	runID     string
}

// KillFailure reports a process that survived both signals.
type KillFailure struct {
	PID   int
	Scope string
	Err   error
}

// KillResult summarizes a KillForEpisode sweep.
type KillResult struct {
	Killed int
	Failed []KillFailure
}

// Tracker is a mutex-guarded registry. Construct one per daemon and inject
// it; there is no package-level instance.
type Tracker struct {
	mu     sync.Mutex
	procs  map[regKey]Registration
	logger *slog.Logger
}

// New returns an empty tracker.
func New(logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Tracker{
		procs:  make(map[regKey]Registration),
		logger: logger.With(logging.String(logging.FieldComponent, "proctrack")),
	}
}

// Register records a process. Registering the same key twice overwrites the
// earlier entry, which keeps retries from leaking registrations.
func (t *Tracker) Register(reg Registration) {
	if reg.PID <= 0 {
		return
	}
	if reg.StartedAt.IsZero() {
		reg.StartedAt = time.Now()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.procs[regKey{reg.EpisodeID, reg.Scope, reg.RunID}] = reg
}

// Unregister removes a registration. Missing keys are ignored so confirmed
// exits can unregister without coordination.
func (t *Tracker) Unregister(episodeID int64, scope, runID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.procs, regKey{episodeID, scope, runID})
}

// IsRunning reports whether any live process is registered for the episode.
// Entries whose process has already exited are pruned as a side effect.
func (t *Tracker) IsRunning(episodeID int64) bool {
	return len(t.live(episodeID, "")) > 0
}

// IsStageRunning reports whether a live process is registered for one stage.
func (t *Tracker) IsStageRunning(episodeID int64, stage string) bool {
	return len(t.live(episodeID, stage)) > 0
}

// Registrations returns the live registrations for an episode.
func (t *Tracker) Registrations(episodeID int64) []Registration {
	return t.live(episodeID, "")
}

// AllRegistrations returns the live registrations across every episode,
// pruning entries whose process has exited. The daemon status surface uses
// this to report what is running right now.
func (t *Tracker) AllRegistrations() []Registration {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Registration
	for key, reg := range t.procs {
		if !pidAlive(reg.PID) {
			delete(t.procs, key)
			continue
		}
		out = append(out, reg)
	}
	return out
}

func (t *Tracker) live(episodeID int64, scope string) []Registration {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Registration
	for key, reg := range t.procs {
		if key.episodeID != episodeID {
			continue
		}
		if scope != "" && key.scope != scope {
			continue
		}
		if !pidAlive(reg.PID) {
			delete(t.procs, key)
			continue
		}
		out = append(out, reg)
	}
	return out
}

// KillForEpisode terminates every registered process for the episode:
// SIGTERM first, then SIGKILL for anything still alive after the grace
// window. Processes that already exited count as killed.
func (t *Tracker) KillForEpisode(episodeID int64, grace time.Duration) KillResult {
	t.mu.Lock()
	var targets []Registration
	for key, reg := range t.procs {
		if key.episodeID == episodeID {
			targets = append(targets, reg)
		}
	}
	t.mu.Unlock()

	var result KillResult
	for _, reg := range targets {
		err := t.killOne(reg, grace)
		if err != nil {
			result.Failed = append(result.Failed, KillFailure{PID: reg.PID, Scope: reg.Scope, Err: err})
			continue
		}
		result.Killed++
		t.Unregister(reg.EpisodeID, reg.Scope, reg.RunID)
	}
	return result
}

func (t *Tracker) killOne(reg Registration, grace time.Duration) error {
	log := t.logger.With(
		logging.Int64(logging.FieldEpisodeID, reg.EpisodeID),
		logging.String(logging.FieldStage, reg.Scope),
		logging.Int("pid", reg.PID),
	)

	if err := unix.Kill(reg.PID, unix.SIGTERM); err != nil {
		if errors.Is(err, unix.ESRCH) {
			log.Debug("process already exited before SIGTERM")
			return nil
		}
		return fmt.Errorf("signal SIGTERM: %w", err)
	}
	log.Info("sent SIGTERM, waiting for exit", logging.Duration("grace", grace))

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if !pidAlive(reg.PID) {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}

	if err := unix.Kill(reg.PID, unix.SIGKILL); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return nil
		}
		return fmt.Errorf("signal SIGKILL: %w", err)
	}
	log.Warn("grace window elapsed, sent SIGKILL")

	// SIGKILL cannot be refused; give the kernel a moment to reap.
	for i := 0; i < 20; i++ {
		if !pidAlive(reg.PID) {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("process %d still alive after SIGKILL", reg.PID)
}

// pidAlive probes a pid with signal 0. An EPERM answer still means the
// process exists.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	if err == nil {
		return true
	}
	return errors.Is(err, unix.EPERM)
}
