// Package scheduler enqueues the recurring dispatch and automation jobs.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/courier/pkg/contracts"
	"github.com/dukex/courier/pkg/observability"
	"github.com/dukex/courier/pkg/queue"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

const DefaultInterval = time.Minute

// Enqueuer is the part of the queue the scheduler produces into.
type Enqueuer interface {
	Enqueue(ctx context.Context, cmd contracts.Command) (*queue.Job, error)
}

// Snapshot is the health view of the scheduler.
type Snapshot struct {
	Interval            string     `json:"interval"`
	Started             bool       `json:"started"`
	Running             bool       `json:"running"`
	Runs                int64      `json:"runs"`
	Skipped             int64      `json:"skipped"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	LastRunAt           *time.Time `json:"lastRunAt,omitempty"`
	LastSuccessAt       *time.Time `json:"lastSuccessAt,omitempty"`
	LastFailureAt       *time.Time `json:"lastFailureAt,omitempty"`
	LastError           string     `json:"lastError,omitempty"`
	NextRunAt           *time.Time `json:"nextRunAt,omitempty"`
}

// TickResult lists the jobs produced by one tick.
type TickResult struct {
	Jobs []*queue.Job
}

type Scheduler struct {
	enqueuer  Enqueuer
	interval  time.Duration
	batchSize int
	dryRun    bool
	metrics   *observability.Metrics
	now       func() time.Time
	logger    *slog.Logger

	cron    *cron.Cron
	entryID cron.EntryID

	mu       sync.Mutex
	snapshot Snapshot
}

type Option func(*Scheduler)

func WithInterval(interval time.Duration) Option {
	return func(s *Scheduler) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

// WithBatchSize sets the batchSize of produced dispatch commands.
func WithBatchSize(size int) Option {
	return func(s *Scheduler) {
		s.batchSize = size
	}
}

// WithDryRun marks every produced command as a dry run.
func WithDryRun(dryRun bool) Option {
	return func(s *Scheduler) {
		s.dryRun = dryRun
	}
}

func WithMetrics(metrics *observability.Metrics) Option {
	return func(s *Scheduler) {
		s.metrics = metrics
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

func New(enqueuer Enqueuer, logger *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		enqueuer:  enqueuer,
		interval:  DefaultInterval,
		batchSize: contracts.DefaultBatchSize,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger.With("module", "scheduler"),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.snapshot.Interval = s.interval.String()

	return s
}

// Start registers the tick on a cron runner. A tick still running when the
// next one fires is skipped, and a panicking tick does not stop the timer.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return errors.New("scheduler already started")
	}

	cronLogger := &cronLogger{logger: s.logger, onSkip: s.skipped}

	s.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cronLogger),
		cron.Recover(cronLogger),
	))

	id, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.interval), func() {
		_, _ = s.Tick(ctx)
	})
	if err != nil {
		s.cron = nil

		return fmt.Errorf("failed to add scheduler tick: %w", err)
	}

	s.entryID = id
	s.snapshot.Started = true
	s.cron.Start()

	s.logger.InfoContext(ctx, "Scheduler started", "interval", s.interval.String())

	return nil
}

// Stop halts the timer and waits for a running tick to finish.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	runner := s.cron
	s.cron = nil
	s.snapshot.Started = false
	s.mu.Unlock()

	if runner == nil {
		return
	}

	<-runner.Stop().Done()
	s.logger.InfoContext(ctx, "Scheduler stopped")
}

// Tick enqueues one dispatch job and one scheduler job, each with a fresh
// run id. A failed enqueue is logged and reported but never panics, so the
// next tick runs independently.
func (s *Scheduler) Tick(ctx context.Context) (TickResult, error) {
	now := s.now()
	s.begin(now)

	dispatch := &contracts.DispatchRunCommand{
		Envelope:  contracts.Envelope{ContractVersion: contracts.ContractVersion, RunID: uuid.NewString()},
		NowISO:    &now,
		BatchSize: s.batchSize,
		DryRun:    s.dryRun,
	}
	automation := &contracts.SchedulerRunCommand{
		Envelope:  contracts.Envelope{ContractVersion: contracts.ContractVersion, RunID: uuid.NewString()},
		TriggerAt: &now,
		DryRun:    s.dryRun,
	}

	var (
		result TickResult
		errs   []error
	)

	for _, cmd := range []contracts.Command{dispatch, automation} {
		job, err := s.enqueuer.Enqueue(ctx, cmd)
		if err != nil {
			s.logger.ErrorContext(ctx, "Failed to enqueue job", "job_name", cmd.Kind(), "run_id", cmd.Meta().RunID, "error", err)
			errs = append(errs, fmt.Errorf("failed to enqueue %s job: %w", cmd.Kind(), err))

			continue
		}

		s.logger.DebugContext(ctx, "Job enqueued", "job_name", job.Name, "job_id", job.ID, "run_id", cmd.Meta().RunID)
		result.Jobs = append(result.Jobs, job)
	}

	err := errors.Join(errs...)
	s.finish(now, err)

	return result, err
}

func (s *Scheduler) begin(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshot.Running = true
	s.snapshot.Runs++
	s.snapshot.LastRunAt = &now
}

func (s *Scheduler) finish(now time.Time, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshot.Running = false

	if err != nil {
		s.snapshot.ConsecutiveFailures++
		s.snapshot.LastFailureAt = &now
		s.snapshot.LastError = err.Error()
		s.metrics.SchedulerTick("failed")

		return
	}

	s.snapshot.ConsecutiveFailures = 0
	s.snapshot.LastSuccessAt = &now
	s.snapshot.LastError = ""
	s.metrics.SchedulerTick("enqueued")
}

func (s *Scheduler) skipped() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshot.Skipped++
	s.metrics.SchedulerTick("skipped")
}

func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.snapshot

	if s.cron != nil {
		next := s.cron.Entry(s.entryID).Next
		if !next.IsZero() {
			snapshot.NextRunAt = &next
		}
	}

	return snapshot
}

// cronLogger adapts slog to cron.Logger and counts skipped ticks.
type cronLogger struct {
	logger *slog.Logger
	onSkip func()
}

func (l *cronLogger) Info(msg string, keysAndValues ...any) {
	if msg == "skip" {
		l.onSkip()
		l.logger.Warn("Scheduler tick skipped, previous tick still running")

		return
	}

	l.logger.Debug(msg, keysAndValues...)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
