// Package cron provides scheduled background jobs using robfig/cron.
package cron

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/FACorreiaa/billing-ingest/internal/domain/ingest/service"
)

// BatchRunner sweeps the report inbox once
type BatchRunner interface {
	Run(ctx context.Context) (*service.BatchResult, error)
}

// BatchObserver receives the duration of every sweep
type BatchObserver interface {
	ObserveBatch(d time.Duration)
}

// Scheduler manages background scheduled jobs using robfig/cron.
type Scheduler struct {
	cron     *cron.Cron
	spec     string
	runner   BatchRunner
	observer BatchObserver
	timeout  time.Duration
	logger   *slog.Logger
}

// NewScheduler creates a scheduler that sweeps the inbox on spec, a standard
// 5-field cron expression. A sweep still running when the next one is due
// makes the next one skip.
func NewScheduler(spec string, runner BatchRunner, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	cronLogger := cron.VerbosePrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))
	c := cron.New(
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)

	return &Scheduler{
		cron:    c,
		spec:    spec,
		runner:  runner,
		timeout: time.Hour,
		logger:  logger,
	}
}

// WithObserver adds sweep duration reporting
func (s *Scheduler) WithObserver(o BatchObserver) *Scheduler {
	s.observer = o
	return s
}

// WithTimeout bounds each sweep
func (s *Scheduler) WithTimeout(d time.Duration) *Scheduler {
	if d > 0 {
		s.timeout = d
	}
	return s
}

// Start begins scheduled jobs.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.spec, s.sweepInbox); err != nil {
		return err
	}

	s.cron.Start()
	s.logger.Info("cron scheduler started",
		slog.String("spec", s.spec),
		slog.Int("jobs", len(s.cron.Entries())),
	)
	return nil
}

// Stop gracefully stops all scheduled jobs. The returned context is done
// when a running sweep has finished.
func (s *Scheduler) Stop() context.Context {
	s.logger.Info("cron scheduler stopping")
	return s.cron.Stop()
}

// RunNow triggers a sweep outside the schedule.
func (s *Scheduler) RunNow() {
	go s.sweepInbox()
}

func (s *Scheduler) sweepInbox() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	s.logger.Info("starting inbox sweep")
	start := time.Now()

	result, err := s.runner.Run(ctx)
	if s.observer != nil {
		s.observer.ObserveBatch(time.Since(start))
	}
	if err != nil {
		s.logger.Error("inbox sweep failed", slog.Any("error", err))
		return
	}

	s.logger.Info("inbox sweep completed",
		slog.Int("files", result.Totals.Files),
		slog.Int("imported", result.Totals.Imported),
		slog.Int("partial", result.Totals.Partial),
		slog.Int("fatal", result.Totals.Fatal),
		slog.Duration("took", result.Took),
	)
}
