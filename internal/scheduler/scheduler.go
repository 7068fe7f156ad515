// Package scheduler runs alert reconciliation periodically and on demand.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/t77yq/resale-alerts/internal/alerting"
)

// Reconciler performs one reconciliation pass
type Reconciler interface {
	GenerateAll(ctx context.Context) (*alerting.Summary, error)
}

// Run describes a finished reconciliation pass
type Run struct {
	Trigger    string
	StartedAt  time.Time
	FinishedAt time.Time
	Summary    *alerting.Summary
	Err        error
}

// Scheduler invokes the reconciler on start, on a fixed interval and on manual request.
// Runs never overlap: timer ticks are skipped while a run is in flight and manual
// triggers wait for it.
type Scheduler struct {
	logger     *zap.Logger
	reconciler Reconciler
	interval   time.Duration

	mu      sync.Mutex
	cron    *cron.Cron
	baseCtx context.Context
	running bool
	manual  sync.WaitGroup

	// guard serializes reconciliation passes
	guard sync.Mutex

	lastMu sync.RWMutex
	last   *Run
}

// New creates a scheduler. A non-positive interval falls back to DefaultInterval.
func New(reconciler Reconciler, interval time.Duration, logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		logger:     logger.Named("scheduler"),
		reconciler: reconciler,
		interval:   interval,
	}
}

// Start fires a reconciliation immediately and then every interval.
// Runs are not bound to ctx cancellation; use Stop to halt the scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrAlreadyRunning
	}

	s.baseCtx = context.WithoutCancel(ctx)
	s.cron = newCron(s.logger)
	s.cron.Schedule(&intervalSchedule{interval: s.interval}, cron.FuncJob(s.tick))
	s.cron.Start()
	s.running = true

	s.logger.Info("Scheduler started", zap.Duration("interval", s.interval))
	return nil
}

// Stop halts future ticks and waits for any in-flight run to complete
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	c := s.cron
	s.mu.Unlock()

	<-c.Stop().Done()
	s.manual.Wait()

	s.logger.Info("Scheduler stopped")
}

// Running reports whether the scheduler has been started and not stopped
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// TriggerNow runs a reconciliation pass right away, waiting for any in-flight pass first.
// The pass completes even if ctx is cancelled meanwhile.
func (s *Scheduler) TriggerNow(ctx context.Context) (*alerting.Summary, error) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil, ErrNotRunning
	}
	s.manual.Add(1)
	s.mu.Unlock()
	defer s.manual.Done()

	s.guard.Lock()
	defer s.guard.Unlock()

	run := s.run(context.WithoutCancel(ctx), triggerManual)
	return run.Summary, run.Err
}

// LastRun returns the most recent finished pass, or nil before the first one
func (s *Scheduler) LastRun() *Run {
	s.lastMu.RLock()
	defer s.lastMu.RUnlock()
	return s.last
}

// LastSummary returns the summary and error of the most recent finished pass
func (s *Scheduler) LastSummary() (*alerting.Summary, error) {
	last := s.LastRun()
	if last == nil {
		return nil, nil
	}
	return last.Summary, last.Err
}

func (s *Scheduler) tick() {
	if !s.guard.TryLock() {
		s.logger.Info("Reconciliation already in progress, skipping tick")
		return
	}
	defer s.guard.Unlock()

	s.mu.Lock()
	ctx := s.baseCtx
	s.mu.Unlock()

	s.run(ctx, triggerTick)
}

// run must be called with guard held
func (s *Scheduler) run(ctx context.Context, trigger string) *Run {
	run := &Run{Trigger: trigger, StartedAt: time.Now()}
	run.Summary, run.Err = s.reconciler.GenerateAll(ctx)
	run.FinishedAt = time.Now()

	fields := []zap.Field{
		zap.String("trigger", trigger),
		zap.Duration("duration", run.FinishedAt.Sub(run.StartedAt)),
	}
	if run.Summary != nil {
		fields = append(fields,
			zap.Int("created", run.Summary.Count(alerting.OutcomeCreated)),
			zap.Int("failed", run.Summary.Count(alerting.OutcomeFailed)))
	}
	if run.Err != nil {
		// The next tick retries.
		s.logger.Error("Reconciliation failed", append(fields, zap.Error(run.Err))...)
	} else {
		s.logger.Info("Reconciliation completed", fields...)
	}

	s.lastMu.Lock()
	s.last = run
	s.lastMu.Unlock()
	return run
}
