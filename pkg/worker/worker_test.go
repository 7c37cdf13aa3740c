package worker_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dukex/courier/pkg/contracts"
	"github.com/dukex/courier/pkg/eventbus"
	"github.com/dukex/courier/pkg/events"
	"github.com/dukex/courier/pkg/observability"
	persistencememory "github.com/dukex/courier/pkg/persistence/memory"
	"github.com/dukex/courier/pkg/queue"
	queuememory "github.com/dukex/courier/pkg/queue/memory"
	"github.com/dukex/courier/pkg/worker"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, event eventbus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, event)

	return nil
}

func (p *recordingPublisher) types() []events.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()

	types := make([]events.EventType, 0, len(p.events))
	for _, event := range p.events {
		types = append(types, event.GetType())
	}

	return types
}

type fixture struct {
	worker    *worker.Worker
	queue     *queuememory.Queue
	store     *persistencememory.Persistence
	publisher *recordingPublisher
	delays    []time.Duration
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fixture{
		queue:     queuememory.NewQueue(logger),
		store:     persistencememory.NewPersistence(),
		publisher: &recordingPublisher{},
	}

	recorder := observability.NewRecorder(logger, f.store.RunLogs(), f.store.DeadLetters())
	f.worker = worker.New("worker-test", f.queue, recorder, logger,
		worker.WithPublisher(f.publisher),
		worker.WithPollTimeout(20*time.Millisecond),
		worker.WithSleeper(func(_ context.Context, d time.Duration) error {
			f.delays = append(f.delays, d)

			return nil
		}),
	)

	return f
}

func (f *fixture) reserve(t *testing.T, runID string) *queue.Job {
	t.Helper()

	_, err := f.queue.Enqueue(context.Background(), &contracts.DispatchRunCommand{
		Envelope: contracts.Envelope{ContractVersion: contracts.ContractVersion, RunID: runID},
	})
	require.NoError(t, err)

	job, err := f.queue.Reserve(context.Background(), time.Second)
	require.NoError(t, err)

	return job
}

func TestWorker_AlwaysFailingJobIsDeadLettered(t *testing.T) {
	f := newFixture(t)
	runID := uuid.NewString()
	calls := 0

	f.worker.Register(contracts.KindDispatch, worker.HandlerFunc(func(context.Context, contracts.Command) (contracts.Ack, error) {
		calls++

		return contracts.Ack{}, errors.New("database is unreachable")
	}))

	ack, err := f.worker.Process(context.Background(), f.reserve(t, runID))
	require.ErrorIs(t, err, contracts.ErrJobExhausted)

	assert.Equal(t, queue.DefaultMaxAttempts, calls)
	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second}, f.delays)
	assert.False(t, ack.OK)
	assert.Equal(t, contracts.CodeJobExhausted, ack.Error.Code)
	assert.False(t, ack.Error.Retryable)

	records, err := f.store.DeadLetters().ByRun(context.Background(), runID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, string(contracts.CodeJobExhausted), records[0].ErrorCode)
	assert.Equal(t, 3, records[0].Attempts)
	assert.False(t, records[0].Retryable)
	assert.Equal(t, "dispatch", records[0].GraphName)

	stats, err := f.queue.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Dead)
	assert.Equal(t, int64(0), stats.Active)

	assert.Equal(t, []events.EventType{
		events.RunFailedEvent,
		events.RunFailedEvent,
		events.RunFailedEvent,
		events.JobDeadLetteredEvent,
	}, f.publisher.types())
}

func TestWorker_ValidationErrorIsNotRetried(t *testing.T) {
	f := newFixture(t)
	runID := uuid.NewString()
	calls := 0

	f.worker.Register(contracts.KindDispatch, worker.HandlerFunc(func(context.Context, contracts.Command) (contracts.Ack, error) {
		calls++

		return contracts.Ack{}, &contracts.SchemaError{Field: "batchSize", Reason: "lte", Message: "too large"}
	}))

	ack, err := f.worker.Process(context.Background(), f.reserve(t, runID))
	require.Error(t, err)
	assert.True(t, contracts.IsValidationError(err))

	assert.Equal(t, 1, calls)
	assert.Empty(t, f.delays)
	assert.Equal(t, contracts.CodeValidation, ack.Error.Code)

	records, err := f.store.DeadLetters().ByRun(context.Background(), runID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, string(contracts.CodeValidation), records[0].ErrorCode)
	assert.Equal(t, 1, records[0].Attempts)
}

func TestWorker_RetryThenSuccess(t *testing.T) {
	f := newFixture(t)
	runID := uuid.NewString()
	calls := 0

	f.worker.Register(contracts.KindDispatch, worker.HandlerFunc(func(_ context.Context, cmd contracts.Command) (contracts.Ack, error) {
		calls++
		if calls == 1 {
			return contracts.Ack{}, errors.New("timeout")
		}

		return contracts.Success(cmd.Meta().RunID, "", "dispatch_pass_completed", nil), nil
	}))

	ack, err := f.worker.Process(context.Background(), f.reserve(t, runID))
	require.NoError(t, err)

	assert.True(t, ack.OK)
	assert.Equal(t, 2, calls)
	assert.Equal(t, []time.Duration{5 * time.Second}, f.delays)

	stats, err := f.queue.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Completed)
	assert.Equal(t, int64(0), stats.Dead)

	logs, err := f.store.RunLogs().ByRun(context.Background(), runID)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "Job attempt failed, retrying", logs[0].Message)
	assert.Equal(t, "Job completed", logs[1].Message)

	assert.Equal(t, []events.EventType{events.RunFailedEvent, events.RunCompletedEvent}, f.publisher.types())
}

func TestWorker_InvalidPayloadIsDeadLettered(t *testing.T) {
	f := newFixture(t)
	calls := 0

	f.worker.Register(contracts.KindDispatch, worker.HandlerFunc(func(context.Context, contracts.Command) (contracts.Ack, error) {
		calls++

		return contracts.Ack{OK: true}, nil
	}))

	job := &queue.Job{
		ID:      "job-bad",
		Name:    contracts.KindDispatch,
		Payload: []byte(`{"contractVersion":"v2"}`),
	}

	ack, err := f.worker.Process(context.Background(), job)
	require.Error(t, err)
	assert.True(t, contracts.IsInvalidContractVersion(err))
	assert.Equal(t, 0, calls)
	assert.False(t, ack.OK)
}

func TestWorker_RejectedPayloadKeepsRunID(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		runID   string
	}{
		{
			name:    "run id from the envelope",
			payload: `{"contractVersion":"v2","runId":"4a1f6f1e-9f6b-4b8e-8d0e-2f4a7c7d9b10"}`,
			runID:   "4a1f6f1e-9f6b-4b8e-8d0e-2f4a7c7d9b10",
		},
		{
			name:    "job id when the payload is not json",
			payload: `not json`,
			runID:   "job-garbled",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			job := &queue.Job{ID: "job-garbled", Name: contracts.KindDispatch, Payload: []byte(tt.payload)}

			ack, err := f.worker.Process(context.Background(), job)
			require.Error(t, err)
			assert.Equal(t, tt.runID, ack.RunID)

			records, err := f.store.DeadLetters().ByRun(context.Background(), tt.runID)
			require.NoError(t, err)
			require.Len(t, records, 1)
			assert.Equal(t, "job-garbled", records[0].JobID)
		})
	}
}

func TestWorker_MissingHandler(t *testing.T) {
	f := newFixture(t)

	ack, err := f.worker.Process(context.Background(), f.reserve(t, uuid.NewString()))
	require.Error(t, err)
	assert.Equal(t, contracts.CodeValidation, ack.Error.Code)
	assert.Empty(t, f.delays)
}

func TestWorker_RunProcessesJobsUntilCancelled(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	processed := make(chan string, 2)

	f.worker.Register(contracts.KindDispatch, worker.HandlerFunc(func(_ context.Context, cmd contracts.Command) (contracts.Ack, error) {
		processed <- cmd.Meta().RunID

		return contracts.Success(cmd.Meta().RunID, "", "ok", nil), nil
	}))

	first, second := uuid.NewString(), uuid.NewString()
	for _, runID := range []string{first, second} {
		_, err := f.queue.Enqueue(ctx, &contracts.DispatchRunCommand{Envelope: contracts.Envelope{RunID: runID}})
		require.NoError(t, err)
	}

	done := make(chan error, 1)

	go func() {
		done <- f.worker.Run(ctx)
	}()

	assert.Equal(t, first, <-processed)
	assert.Equal(t, second, <-processed)

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}

	stats, err := f.queue.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Completed)
}
