// Package daemon assembles the processing services and enforces
// single-instance execution.
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

	"scribeline/internal/api"
	"scribeline/internal/audit"
	"scribeline/internal/config"
	"scribeline/internal/crypt"
	"scribeline/internal/logging"
	"scribeline/internal/pipeline"
	"scribeline/internal/preflight"
	"scribeline/internal/stagefn"
	"scribeline/internal/store"
)

// Daemon owns the store, key manager, audit log, scheduler, and API
// server lifecycles.
type Daemon struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *store.Store
	crypto    *crypt.Manager
	audit     *audit.Log
	scheduler *pipeline.Scheduler
	api       *api.Server

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	APIAddr      string
	Health       store.HealthSummary
	DatabasePath string
	LockFilePath string
	LastError    string
}

// New constructs a daemon with initialized dependencies. The master
// key is loaded from the environment here, before any other component
// touches key material.
func New(cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires configuration")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	st, err := store.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	master, err := crypt.LoadMasterKey(cfg)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("load master key: %w", err)
	}
	crypto, err := crypt.NewManager(st, master)
	if err != nil {
		crypt.Zero(master)
		_ = st.Close()
		return nil, fmt.Errorf("init key manager: %w", err)
	}

	auditLog, err := audit.NewLog(st.DB())
	if err != nil {
		crypto.Close()
		_ = st.Close()
		return nil, fmt.Errorf("open audit log: %w", err)
	}

	scheduler := pipeline.NewScheduler(cfg, st, crypto, auditLog, stagefn.NewRegistry(cfg), logger)
	apiServer := api.NewServer(cfg, st, crypto, auditLog, scheduler, logger)

	lockPath := filepath.Join(cfg.Paths.DataDir, "scribelined.lock")
	return &Daemon{
		cfg:       cfg,
		logger:    logging.NewComponentLogger(logger, "daemon"),
		store:     st,
		crypto:    crypto,
		audit:     auditLog,
		scheduler: scheduler,
		api:       apiServer,
		lockPath:  lockPath,
		lock:      flock.New(lockPath),
	}, nil
}

// Start acquires the instance lock, starts the scheduler, and begins
// serving the API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another scribeline daemon instance is already running")
	}

	// Degraded prerequisites are reported but not fatal: the store and
	// key manager already came up, and missing stage binaries surface as
	// transient stage failures with retry.
	for _, result := range preflight.RunAll(d.cfg) {
		if result.Passed {
			continue
		}
		d.logger.Warn("preflight check failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
		)
	}

	if err := d.scheduler.Start(ctx); err != nil {
		_ = d.lock.Unlock()
		return fmt.Errorf("start scheduler: %w", err)
	}
	if err := d.api.Start(); err != nil {
		d.scheduler.Stop()
		_ = d.lock.Unlock()
		return fmt.Errorf("start api: %w", err)
	}

	d.running.Store(true)
	d.logger.Info("scribeline daemon started",
		logging.String("lock", d.lockPath),
		logging.String("api", d.api.Addr()),
	)
	return nil
}

// Stop drains the API, halts the scheduler, and releases the lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := d.api.Shutdown(shutdownCtx); err != nil {
		d.logger.Warn("api shutdown incomplete", logging.Error(err))
	}
	cancel()

	d.scheduler.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("scribeline daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	d.crypto.Close()
	return d.store.Close()
}

// Scheduler exposes the pipeline scheduler for submission paths.
func (d *Daemon) Scheduler() *pipeline.Scheduler {
	return d.scheduler
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	health, err := d.store.Health(ctx)
	status := Status{
		Running:      d.running.Load(),
		APIAddr:      d.api.Addr(),
		Health:       health,
		DatabasePath: d.cfg.DatabasePath(),
		LockFilePath: d.lockPath,
	}
	if err != nil {
		status.LastError = err.Error()
	} else if lastErr := d.scheduler.LastError(); lastErr != nil {
		status.LastError = lastErr.Error()
	}
	return status
}
