package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"supplier-core/internal/messaging"
	"supplier-core/internal/observability/metrics"
	settlementapp "supplier-core/internal/settlement/application"
)

// Step names used in logs and metrics.
const (
	StepPull     = "pull"
	StepInbox    = "inbox"
	StepOutbox   = "outbox"
	StepComplete = "complete_due"
	StepSettle   = "settle"
)

// RemotePuller fetches messages from the remote queue into the inbox.
type RemotePuller interface {
	Pull(ctx context.Context, limit int) (int, error)
}

// InboxDrainer routes pending inbox messages.
type InboxDrainer interface {
	Drain(ctx context.Context, limit int) (messaging.DrainStats, error)
}

// OutboxSender delivers due outbox messages.
type OutboxSender interface {
	Dispatch(ctx context.Context, limit int) (messaging.DispatchStats, error)
}

// ProcessCompleter completes processes whose effective date passed.
type ProcessCompleter interface {
	CompleteDue(ctx context.Context, limit int) (int, error)
}

// Settler settles unsettled time series.
type Settler interface {
	Settle(ctx context.Context, limit int) (settlementapp.Result, error)
}

// Steps are the collaborators of one pass. A nil step is skipped.
type Steps struct {
	Puller    RemotePuller
	Inbox     InboxDrainer
	Outbox    OutboxSender
	Processes ProcessCompleter
	Settler   Settler
}

// Config tunes the loop. A zero per-step limit falls back to BatchSize.
type Config struct {
	Interval        time.Duration
	BatchSize       int
	PullLimit       int
	InboxBatch      int
	OutboxBatch     int
	SettlementBatch int
}

func (c Config) limit(n int) int {
	if n > 0 {
		return n
	}
	return c.BatchSize
}

// PassReport summarizes one pass.
type PassReport struct {
	Pulled     int
	Inbox      messaging.DrainStats
	Outbox     messaging.DispatchStats
	Completed  int
	Settlement settlementapp.Result
	Errors     map[string]error
}

// Scheduler runs the background pass on a fixed interval.
type Scheduler struct {
	steps  Steps
	cfg    Config
	logger *zap.Logger
	mu     sync.Mutex
}

// New constructs a scheduler.
func New(steps Steps, cfg Config, logger *zap.Logger) (*Scheduler, error) {
	if cfg.Interval <= 0 {
		return nil, errors.New("scheduler: interval must be positive")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{steps: steps, cfg: cfg, logger: logger}, nil
}

// Run executes a pass immediately and then on every tick until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started", zap.Duration("interval", s.cfg.Interval), zap.Int("batch_size", s.cfg.BatchSize))
	s.RunOnce(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return nil
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce executes one pass. Steps run in order; a failing step is logged
// and the pass continues with the next one. Overlapping passes are skipped.
func (s *Scheduler) RunOnce(ctx context.Context) PassReport {
	report := PassReport{Errors: map[string]error{}}
	if !s.mu.TryLock() {
		s.logger.Debug("scheduler pass already running")
		return report
	}
	defer s.mu.Unlock()

	start := time.Now()
	if s.steps.Puller != nil {
		n, err := s.steps.Puller.Pull(ctx, s.cfg.limit(s.cfg.PullLimit))
		report.Pulled = n
		s.record(&report, StepPull, err)
	}
	if s.steps.Inbox != nil {
		stats, err := s.steps.Inbox.Drain(ctx, s.cfg.limit(s.cfg.InboxBatch))
		report.Inbox = stats
		s.record(&report, StepInbox, err)
	}
	if s.steps.Outbox != nil {
		stats, err := s.steps.Outbox.Dispatch(ctx, s.cfg.limit(s.cfg.OutboxBatch))
		report.Outbox = stats
		s.record(&report, StepOutbox, err)
	}
	if s.steps.Processes != nil {
		n, err := s.steps.Processes.CompleteDue(ctx, s.cfg.BatchSize)
		report.Completed = n
		s.record(&report, StepComplete, err)
	}
	if s.steps.Settler != nil {
		res, err := s.steps.Settler.Settle(ctx, s.cfg.limit(s.cfg.SettlementBatch))
		report.Settlement = res
		s.record(&report, StepSettle, err)
	}

	s.logger.Info("scheduler pass",
		zap.Int("pulled", report.Pulled),
		zap.Int("inbox_processed", report.Inbox.Processed),
		zap.Int("inbox_parked", report.Inbox.Parked),
		zap.Int("outbox_accepted", report.Outbox.Accepted),
		zap.Int("outbox_rejected", report.Outbox.Rejected),
		zap.Int("outbox_transient", report.Outbox.Transient),
		zap.Int("processes_completed", report.Completed),
		zap.Int("settled", report.Settlement.Settled),
		zap.Int("corrections", report.Settlement.Corrections),
		zap.Int("settle_failed", report.Settlement.Failed),
		zap.Int("errors", len(report.Errors)),
		zap.Duration("duration", time.Since(start)),
	)
	return report
}

func (s *Scheduler) record(report *PassReport, step string, err error) {
	if err == nil {
		metrics.IncSchedulerStep(step, metrics.ResultSuccess)
		return
	}
	metrics.IncSchedulerStep(step, metrics.ResultError)
	report.Errors[step] = err
	s.logger.Error("scheduler step failed", zap.String("step", step), zap.Error(err))
}
