package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"scribeline/internal/audit"
	"scribeline/internal/config"
	"scribeline/internal/crypt"
	"scribeline/internal/logging"
	"scribeline/internal/notifications"
	"scribeline/internal/services"
	"scribeline/internal/stage"
	"scribeline/internal/store"
)

type task struct {
	appt *store.Appointment
	def  stage.Definition
}

// Scheduler drives appointments through the pipeline using registered
// stage functions.
type Scheduler struct {
	cfg      *config.Config
	store    *store.Store
	crypto   *crypt.Manager
	audit    *audit.Log
	exec     *stage.Executor
	defs     []stage.Definition
	notifier notifications.Service
	logger   *slog.Logger

	work chan task
	wake chan struct{}

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	lastErr error
}

// NewScheduler constructs a scheduler over the shared store, key
// manager, and audit log, with the supplied stage implementations.
func NewScheduler(cfg *config.Config, st *store.Store, crypto *crypt.Manager, auditLog *audit.Log, fns stage.Registry, logger *slog.Logger) *Scheduler {
	logger = logging.NewComponentLogger(logger, "pipeline")
	depth := cfg.Pipeline.QueueDepth
	if depth < 1 {
		depth = 1
	}
	return &Scheduler{
		cfg:      cfg,
		store:    st,
		crypto:   crypto,
		audit:    auditLog,
		exec:     stage.NewExecutor(st, crypto, fns, cfg.Paths.ArtifactDir, logger),
		defs:     stage.Definitions(cfg),
		notifier: notifications.NewService(cfg),
		logger:   logger,
		work:     make(chan task, depth),
		wake:     make(chan struct{}, 1),
	}
}

// Start verifies the audit chain, recovers interrupted work, and begins
// background processing. A broken audit chain is fatal: the daemon must
// not process appointments on top of tampered history.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("scheduler already running")
	}

	verified, err := s.audit.Verify(ctx)
	if err != nil {
		s.mu.Unlock()
		if notifyErr := s.notifier.NotifyAuditAlert(ctx, err.Error()); notifyErr != nil {
			s.logger.Debug("audit alert delivery failed", logging.Error(notifyErr))
		}
		return fmt.Errorf("audit chain verification failed: %w", err)
	}
	s.logger.Info("audit chain verified", logging.Int64("events", verified))

	rolled, err := s.store.RollbackProcessing(ctx)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("rollback interrupted work: %w", err)
	}
	if rolled > 0 {
		s.logger.Info("rolled back interrupted stages",
			logging.Int64("appointments", rolled),
			logging.String(logging.FieldEventType, "startup_rollback"),
		)
	}

	pending := 0
	for _, err := range s.store.ListPending(ctx) {
		if err != nil {
			s.mu.Unlock()
			return fmt.Errorf("list pending work: %w", err)
		}
		pending++
	}
	s.logger.Info("scheduler starting",
		logging.Int("pending", pending),
		logging.Int("workers", s.cfg.Pipeline.Workers),
	)

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true

	workers := s.cfg.Pipeline.Workers
	if workers < 1 {
		workers = 1
	}
	s.wg.Add(workers + 1)
	s.mu.Unlock()

	go s.dispatch(runCtx)
	for i := 0; i < workers; i++ {
		go s.worker(runCtx)
	}
	return nil
}

// Stop halts background processing and waits for in-flight stages to
// unwind. Cancelled stages leave their appointment at its last
// committed state.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.running = false
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

// Running reports whether background processing is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// LastError returns the most recent processing error, if any.
func (s *Scheduler) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Nudge wakes the dispatcher ahead of its poll interval.
func (s *Scheduler) Nudge() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) dispatch(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		appt, err := s.store.NextReady(ctx, time.Now().UTC())
		if err != nil {
			s.setLastError(err)
			s.logger.Error("failed to fetch next appointment",
				logging.Error(err),
				logging.String(logging.FieldEventType, "dispatch_fetch_failed"),
			)
			s.sleep(ctx, time.Duration(s.cfg.Pipeline.ErrorRetryIntervalSeconds)*time.Second)
			continue
		}
		if appt == nil {
			s.waitForWork(ctx)
			continue
		}

		def, ok := stage.ForStatus(s.defs, appt.Status)
		if !ok {
			s.logger.Error("no stage starts from status",
				logging.String(logging.FieldAppointmentID, appt.ID),
				logging.String("status", string(appt.Status)),
			)
			s.sleep(ctx, time.Duration(s.cfg.Pipeline.ErrorRetryIntervalSeconds)*time.Second)
			continue
		}

		if err := s.store.Claim(ctx, appt.ID, def.From, def.Processing); err != nil {
			// A conflicting claim means someone else moved the
			// appointment; the next poll re-reads current state.
			if kind := services.Classify(err); kind == services.KindConflict || kind == services.KindNotFound {
				continue
			}
			s.setLastError(err)
			s.logger.Error("failed to claim appointment", logging.Error(err))
			s.sleep(ctx, time.Duration(s.cfg.Pipeline.ErrorRetryIntervalSeconds)*time.Second)
			continue
		}
		appt.Status = def.Processing

		select {
		case <-ctx.Done():
			return
		case s.work <- task{appt: appt, def: def}:
		}
	}
}

func (s *Scheduler) worker(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case tk := <-s.work:
			s.process(ctx, tk)
		}
	}
}

func (s *Scheduler) process(ctx context.Context, tk task) {
	appt, def := tk.appt, tk.def
	logger := s.logger.With(
		logging.String(logging.FieldAppointmentID, appt.ID),
		logging.String(logging.FieldStage, string(def.Kind)),
	)

	err := s.exec.Run(ctx, appt, def)
	if err == nil {
		if auditErr := s.audit.Append(ctx, audit.ActionStateChange, appt.ID,
			fmt.Sprintf("%s -> %s", def.From, def.Done)); auditErr != nil {
			s.fatal(auditErr)
			return
		}
		if def.Done == store.StatusCompleted {
			logger.Info("appointment completed",
				logging.String(logging.FieldEventType, "appointment_completed"),
			)
			if notifyErr := s.notifier.NotifyAppointmentCompleted(ctx, appt.ID); notifyErr != nil {
				logger.Debug("completion alert delivery failed", logging.Error(notifyErr))
			}
		}
		s.Nudge()
		return
	}

	// A cancelled stage is not a failure: startup rollback resumes it.
	if ctx.Err() != nil {
		return
	}

	kind := services.Classify(err)
	switch kind {
	case services.KindTransient:
		s.retry(ctx, logger, appt, def, err)
	case services.KindConflict:
		logger.Warn("stage lost a state race", logging.Error(err))
	default:
		s.fail(ctx, logger, appt, def, err, kind)
	}
}

func (s *Scheduler) retry(ctx context.Context, logger *slog.Logger, appt *store.Appointment, def stage.Definition, stageErr error) {
	attempt := appt.Attempt + 1
	maxAttempts := s.cfg.Pipeline.MaxAttempts
	reason := services.Message(stageErr)

	if auditErr := s.audit.Append(ctx, audit.ActionRetryScheduled, appt.ID,
		fmt.Sprintf("stage %s attempt %d/%d: %s", def.Kind, attempt, maxAttempts, reason)); auditErr != nil {
		s.fatal(auditErr)
		return
	}

	if attempt >= maxAttempts {
		if err := s.store.MarkFailed(ctx, appt.ID, reason); err != nil {
			s.setLastError(err)
			logger.Error("failed to mark appointment failed", logging.Error(err))
			return
		}
		if auditErr := s.audit.Append(ctx, audit.ActionAppointmentFailed, appt.ID,
			fmt.Sprintf("stage %s exhausted %d attempts: %s", def.Kind, maxAttempts, reason)); auditErr != nil {
			s.fatal(auditErr)
			return
		}
		logger.Error("appointment failed after exhausted retries",
			logging.Error(stageErr),
			logging.Int(logging.FieldAttempt, attempt),
			logging.String(logging.FieldEventType, "appointment_failed"),
		)
		if notifyErr := s.notifier.NotifyAppointmentFailed(ctx, appt.ID, reason); notifyErr != nil {
			logger.Debug("failure alert delivery failed", logging.Error(notifyErr))
		}
		return
	}

	delay := backoffDelay(
		time.Duration(s.cfg.Pipeline.RetryBackoffSeconds)*time.Second,
		time.Duration(s.cfg.Pipeline.RetryBackoffMaxSeconds)*time.Second,
		attempt,
	)
	nextAttempt := time.Now().UTC().Add(delay)
	if err := s.store.SetRetry(ctx, appt.ID, def.Processing, def.From, attempt, nextAttempt, reason); err != nil {
		s.setLastError(err)
		logger.Error("failed to persist retry state", logging.Error(err))
		return
	}
	logger.Warn("stage failed; retry scheduled",
		logging.Error(stageErr),
		logging.Int(logging.FieldAttempt, attempt),
		logging.Duration("backoff", delay),
		logging.String(logging.FieldEventType, "retry_scheduled"),
	)
}

func (s *Scheduler) fail(ctx context.Context, logger *slog.Logger, appt *store.Appointment, def stage.Definition, stageErr error, kind services.Kind) {
	reason := services.Message(stageErr)

	if auditErr := s.audit.Append(ctx, audit.ActionStageFailed, appt.ID,
		fmt.Sprintf("stage %s %s failure: %s", def.Kind, kind, reason)); auditErr != nil {
		s.fatal(auditErr)
		return
	}
	if err := s.store.MarkFailed(ctx, appt.ID, reason); err != nil {
		s.setLastError(err)
		logger.Error("failed to mark appointment failed", logging.Error(err))
		return
	}
	if auditErr := s.audit.Append(ctx, audit.ActionAppointmentFailed, appt.ID,
		fmt.Sprintf("stage %s: %s", def.Kind, reason)); auditErr != nil {
		s.fatal(auditErr)
		return
	}
	logger.Error("appointment failed",
		logging.Error(stageErr),
		logging.String(logging.FieldErrorKind, string(kind)),
		logging.String(logging.FieldEventType, "appointment_failed"),
	)
	if notifyErr := s.notifier.NotifyAppointmentFailed(ctx, appt.ID, reason); notifyErr != nil {
		logger.Debug("failure alert delivery failed", logging.Error(notifyErr))
	}
}

// fatal records an unrecoverable error and halts processing. Losing an
// audit append means the chain no longer reflects reality, so the
// scheduler stops rather than continue unaudited.
func (s *Scheduler) fatal(err error) {
	s.logger.Error("halting: audit append failed", logging.Error(err))
	s.mu.Lock()
	s.lastErr = err
	cancel := s.cancel
	s.running = false
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *Scheduler) setLastError(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

func (s *Scheduler) waitForWork(ctx context.Context) {
	poll := time.Duration(s.cfg.Pipeline.PollIntervalSeconds) * time.Second
	if poll <= 0 {
		poll = time.Second
	}
	select {
	case <-ctx.Done():
	case <-s.wake:
	case <-time.After(poll):
	}
}

func (s *Scheduler) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		d = time.Second
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
