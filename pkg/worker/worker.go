// Package worker consumes queued jobs one at a time, retrying failed runs with
// exponential backoff and dead-lettering jobs that cannot succeed.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/courier/pkg/contracts"
	"github.com/dukex/courier/pkg/eventbus"
	"github.com/dukex/courier/pkg/events"
	"github.com/dukex/courier/pkg/models"
	"github.com/dukex/courier/pkg/observability"
	"github.com/dukex/courier/pkg/queue"
)

const (
	DefaultPollTimeout = 5 * time.Second

	OutcomeCompleted  = "completed"
	OutcomeRetry      = "retry"
	OutcomeDeadLetter = "dead_letter"
)

// Handler executes one validated command.
//
// A returned error is a failed run and goes through the retry policy unless
// contracts.IsRetryable says otherwise. A negative Ack with a nil error is a
// final business outcome and is not retried.
type Handler interface {
	Handle(ctx context.Context, cmd contracts.Command) (contracts.Ack, error)
}

type HandlerFunc func(ctx context.Context, cmd contracts.Command) (contracts.Ack, error)

func (f HandlerFunc) Handle(ctx context.Context, cmd contracts.Command) (contracts.Ack, error) {
	return f(ctx, cmd)
}

// Sleeper waits between attempts. It returns early with the context error.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type Worker struct {
	id          string
	queue       queue.Queue
	handlers    map[contracts.Kind]Handler
	policy      queue.RetryPolicy
	recorder    *observability.Recorder
	metrics     *observability.Metrics
	publisher   eventbus.EventPublisher
	sleep       Sleeper
	pollTimeout time.Duration
	now         func() time.Time
	logger      *slog.Logger
}

type Option func(*Worker)

func WithRetryPolicy(policy queue.RetryPolicy) Option {
	return func(w *Worker) {
		w.policy = policy
	}
}

func WithMetrics(metrics *observability.Metrics) Option {
	return func(w *Worker) {
		w.metrics = metrics
	}
}

func WithPublisher(publisher eventbus.EventPublisher) Option {
	return func(w *Worker) {
		w.publisher = publisher
	}
}

func WithSleeper(sleep Sleeper) Option {
	return func(w *Worker) {
		w.sleep = sleep
	}
}

func WithPollTimeout(timeout time.Duration) Option {
	return func(w *Worker) {
		if timeout > 0 {
			w.pollTimeout = timeout
		}
	}
}

func New(id string, q queue.Queue, recorder *observability.Recorder, logger *slog.Logger, opts ...Option) *Worker {
	w := &Worker{
		id:          id,
		queue:       q,
		handlers:    make(map[contracts.Kind]Handler),
		policy:      queue.DefaultRetryPolicy(),
		recorder:    recorder,
		publisher:   eventbus.Discard{},
		sleep:       sleepContext,
		pollTimeout: DefaultPollTimeout,
		now:         func() time.Time { return time.Now().UTC() },
		logger:      logger.With("module", "worker", "worker_id", id),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Register binds the handler of a job name. Registering twice replaces the handler.
func (w *Worker) Register(kind contracts.Kind, handler Handler) {
	w.handlers[kind] = handler
}

// Run recovers jobs orphaned by a previous process and then processes jobs
// until ctx is cancelled or the queue is closed.
func (w *Worker) Run(ctx context.Context) error {
	recovered, err := w.queue.Recover(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover active jobs: %w", err)
	}

	if recovered > 0 {
		w.logger.WarnContext(ctx, "Recovered jobs left active by a previous worker", "count", recovered)
	}

	w.logger.InfoContext(ctx, "Worker started", "max_attempts", w.policy.MaxAttempts, "backoff", w.policy.Base)

	for {
		if ctx.Err() != nil {
			w.logger.InfoContext(ctx, "Worker stopped")

			return nil
		}

		job, err := w.queue.Reserve(ctx, w.pollTimeout)

		switch {
		case errors.Is(err, queue.ErrEmpty):
			continue
		case errors.Is(err, queue.ErrClosed), errors.Is(err, context.Canceled):
			w.logger.InfoContext(ctx, "Worker stopped")

			return nil
		case err != nil:
			w.logger.ErrorContext(ctx, "Failed to reserve job", "error", err)

			if w.sleep(ctx, time.Second) != nil {
				return nil
			}

			continue
		}

		_, err = w.Process(ctx, job)
		if errors.Is(err, context.Canceled) {
			w.logger.InfoContext(ctx, "Worker stopped while a job was active", "job_id", job.ID)

			return nil
		}
	}
}

// Process runs job to completion, including every retry, and settles it in
// the queue. The returned Ack describes the final outcome; the error is
// non-nil only when the job did not complete.
func (w *Worker) Process(ctx context.Context, job *queue.Job) (contracts.Ack, error) {
	started := w.now()
	logger := w.logger.With("job_id", job.ID, "job_name", job.Name)

	cmd, err := job.Command()
	if err == nil {
		err = contracts.Validate(cmd)
	}

	if err != nil {
		logger.WarnContext(ctx, "Rejected invalid job payload", "error", err)

		runID, threadID := traceIDs(job, cmd)

		return w.deadLetter(ctx, job, w.recorder.Run(runID, threadID, string(job.Name)), 1, err, started)
	}

	meta := cmd.Meta()
	run := w.recorder.Run(meta.RunID, meta.ThreadID, string(job.Name))

	handler, ok := w.handlers[job.Name]
	if !ok {
		err := &contracts.Error{
			Op:      "worker.process",
			Code:    contracts.CodeValidation,
			Message: "no handler registered for job " + string(job.Name),
		}

		return w.deadLetter(ctx, job, run, 1, err, started)
	}

	delays := w.policy.Delays()

	for attempt := 1; ; attempt++ {
		job.Attempts = attempt

		ack, err := handler.Handle(ctx, cmd)
		if err == nil {
			return w.complete(ctx, job, run, ack, started)
		}

		job.LastError = err.Error()
		job.UpdatedAt = w.now()

		w.publish(ctx, meta.RunID, events.RunFailed{
			BaseEvent: events.NewBaseEvent(events.RunFailedEvent, meta.RunID, meta.ThreadID, w.id),
			Graph:     string(job.Name),
			JobID:     job.ID,
			Attempt:   attempt,
			Code:      string(contracts.CodeOf(err)),
			Error:     err.Error(),
			Retryable: contracts.IsRetryable(err),
		})

		if !contracts.IsRetryable(err) {
			return w.deadLetter(ctx, job, run, attempt, err, started)
		}

		if attempt > len(delays) {
			exhausted := &contracts.Error{
				Op:      "worker.process",
				Code:    contracts.CodeJobExhausted,
				Message: fmt.Sprintf("job %s failed %d times", job.Name, attempt),
				Err:     err,
			}

			return w.deadLetter(ctx, job, run, attempt, exhausted, started)
		}

		delay := delays[attempt-1]
		run.Warn(ctx, "worker", "Job attempt failed, retrying", map[string]any{
			"job_id":  job.ID,
			"attempt": attempt,
			"delay":   delay.String(),
			"error":   err.Error(),
		})
		w.metrics.ObserveJob(string(job.Name), OutcomeRetry, w.now().Sub(started))

		updateErr := w.queue.Update(ctx, job)
		if updateErr != nil {
			logger.WarnContext(ctx, "Failed to store job attempt", "error", updateErr)
		}

		sleepErr := w.sleep(ctx, delay)
		if sleepErr != nil {
			return contracts.Failure(meta.RunID, meta.ThreadID, err), sleepErr
		}
	}
}

func (w *Worker) complete(ctx context.Context, job *queue.Job, run *observability.RunLog, ack contracts.Ack, started time.Time) (contracts.Ack, error) {
	elapsed := w.now().Sub(started)

	err := w.queue.Complete(ctx, job)
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to complete job", "job_id", job.ID, "error", err)
	}

	w.metrics.ObserveJob(string(job.Name), OutcomeCompleted, elapsed)

	run.Info(ctx, "worker", "Job completed", map[string]any{
		"job_id":   job.ID,
		"attempts": job.Attempts,
		"ok":       ack.OK,
	})

	w.publish(ctx, run.RunID(), events.RunCompleted{
		BaseEvent: events.NewBaseEvent(events.RunCompletedEvent, run.RunID(), run.ThreadID(), w.id),
		Graph:     string(job.Name),
		JobID:     job.ID,
		Attempts:  job.Attempts,
		Duration:  elapsed,
		Data:      ack.Data,
	})

	return ack, nil
}

func (w *Worker) deadLetter(ctx context.Context, job *queue.Job, run *observability.RunLog, attempts int, cause error, started time.Time) (contracts.Ack, error) {
	job.Attempts = attempts
	job.LastError = cause.Error()

	code := contracts.CodeOf(cause)

	err := run.DeadLetter(ctx, &models.DeadLetterRecord{
		SourceNode:   "worker",
		JobID:        job.ID,
		ErrorCode:    string(code),
		ErrorMessage: cause.Error(),
		Attempts:     attempts,
		Retryable:    false,
		Payload:      job.Payload,
		CreatedAt:    w.now(),
	})
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to store dead letter", "job_id", job.ID, "error", err)
	}

	err = w.queue.Fail(ctx, job)
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to move job to dead letter list", "job_id", job.ID, "error", err)
	}

	w.metrics.ObserveJob(string(job.Name), OutcomeDeadLetter, w.now().Sub(started))

	w.publish(ctx, run.RunID(), events.JobDeadLettered{
		BaseEvent: events.NewBaseEvent(events.JobDeadLetteredEvent, run.RunID(), run.ThreadID(), w.id),
		Graph:     string(job.Name),
		JobID:     job.ID,
		Code:      string(code),
		Error:     cause.Error(),
		Attempts:  attempts,
	})

	return contracts.Failure(run.RunID(), run.ThreadID(), cause), cause
}

// traceIDs finds the run and thread ids of a job whose payload was rejected:
// from the decoded command, then from the raw envelope, and finally the job id.
func traceIDs(job *queue.Job, cmd contracts.Command) (string, string) {
	var envelope contracts.Envelope

	if cmd != nil {
		envelope = *cmd.Meta()
	} else {
		_ = json.Unmarshal(job.Payload, &envelope)
	}

	if envelope.RunID == "" {
		envelope.RunID = job.ID
	}

	return envelope.RunID, envelope.ThreadID
}

func (w *Worker) publish(ctx context.Context, key string, event eventbus.Event) {
	err := w.publisher.Publish(ctx, key, event)
	if err != nil {
		w.logger.WarnContext(ctx, "Failed to publish lifecycle event", "event_type", event.GetType(), "error", err)
	}
}
