// Package daemon assembles the long-running process: store, process tracker,
// run controller, publish dispatcher, and the HTTP control API. A file lock
// enforces single-instance execution per data directory.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"soundbite/internal/api"
	"soundbite/internal/budget"
	"soundbite/internal/config"
	"soundbite/internal/executor"
	"soundbite/internal/notifications"
	"soundbite/internal/proctrack"
	"soundbite/internal/publisher"
	"soundbite/internal/review"
	"soundbite/internal/runner"
	"soundbite/internal/store"
)

// Daemon owns the background services and enforces single-instance execution.
type Daemon struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *store.Store
	tracker   *proctrack.Tracker
	runner    *runner.Runner
	publisher *publisher.Dispatcher
	apiServer *api.Server

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
}

// New constructs a daemon with all services wired but not started.
func New(cfg *config.Config, st *store.Store, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || st == nil {
		return nil, errors.New("daemon requires config and store")
	}
	if logger == nil {
		logger = slog.Default()
	}

	tracker := proctrack.New(logger)
	invoker := executor.New(cfg, tracker, logger)
	ledger := newLedger(cfg, st)
	notifier := notifications.NewService(cfg)
	run := runner.New(cfg, st, tracker, invoker, ledger, notifier, logger)
	rev := review.NewService(cfg, st, logger)
	dispatcher := publisher.New(cfg, st, nil, notifier, logger)
	server := api.NewServer(cfg, st, run, rev, tracker, ledger, logger)

	lockPath := filepath.Join(cfg.Paths.DataDir, "soundbited.lock")
	return &Daemon{
		cfg:       cfg,
		logger:    logger,
		store:     st,
		tracker:   tracker,
		runner:    run,
		publisher: dispatcher,
		apiServer: server,
		lockPath:  lockPath,
		lock:      flock.New(lockPath),
	}, nil
}

// newLedger picks the quota ledger: a remote HTTP ledger when configured,
// otherwise the local store-backed one. Either way snapshot reads are cached.
func newLedger(cfg *config.Config, st *store.Store) budget.Ledger {
	var base budget.Ledger
	if cfg.Budget.LedgerURL != "" {
		base = budget.NewHTTPLedger(cfg.Budget.LedgerURL, cfg.Budget.LedgerToken, 0)
	} else {
		base = budget.NewStoreLedger(st, cfg.Budget.PeriodLimit)
	}
	ttl := time.Duration(cfg.Budget.SnapshotTTLSeconds) * time.Second
	if ttl <= 0 {
		return base
	}
	return budget.NewCachedLedger(base, ttl)
}

// Start acquires the instance lock and brings every service up.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another soundbite daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if err := d.apiServer.Start(runCtx); err != nil {
		d.releaseLock()
		cancel()
		d.cancel = nil
		return fmt.Errorf("start api server: %w", err)
	}
	if err := d.publisher.Start(runCtx); err != nil {
		d.apiServer.Stop()
		d.releaseLock()
		cancel()
		d.cancel = nil
		return fmt.Errorf("start publisher: %w", err)
	}

	d.running.Store(true)
	d.logger.Info("soundbite daemon started",
		slog.String("lock", d.lockPath),
		slog.String("api", d.apiServer.Addr()))
	return nil
}

// Stop halts services in reverse dependency order and releases the lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.apiServer.Stop()
	d.publisher.Stop()
	d.runner.Stop()
	d.releaseLock()
	d.running.Store(false)
	d.logger.Info("soundbite daemon stopped")
}

// Close stops the daemon and closes the store.
func (d *Daemon) Close() error {
	d.Stop()
	return d.store.Close()
}

// APIAddr returns the bound control API address, empty before Start.
func (d *Daemon) APIAddr() string {
	return d.apiServer.Addr()
}

// Running reports whether Start has succeeded and Stop has not been called.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

func (d *Daemon) releaseLock() {
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", slog.Any("error", err))
	}
}
