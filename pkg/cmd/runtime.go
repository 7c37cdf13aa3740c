// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/courier/pkg/automation"
	"github.com/dukex/courier/pkg/checkpoint"
	"github.com/dukex/courier/pkg/config"
	"github.com/dukex/courier/pkg/contracts"
	"github.com/dukex/courier/pkg/dispatch"
	"github.com/dukex/courier/pkg/eventbus"
	"github.com/dukex/courier/pkg/funnel"
	"github.com/dukex/courier/pkg/gateway"
	"github.com/dukex/courier/pkg/observability"
	"github.com/dukex/courier/pkg/orchestration"
	"github.com/dukex/courier/pkg/persistence"
	"github.com/dukex/courier/pkg/queue"
	"github.com/dukex/courier/pkg/scheduler"
	"github.com/dukex/courier/pkg/worker"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Runtime holds every collaborator a courier process needs.
type Runtime struct {
	Config      config.Config
	WorkerID    string
	Persistence persistence.Persistence
	Queue       queue.Queue
	Checkpoints *checkpoint.Resolver
	EventBus    eventbus.EventBus
	Registry    *prometheus.Registry
	Metrics     *observability.Metrics
	Recorder    *observability.Recorder
	Gateway     gateway.Gateway
	Dispatch    *dispatch.Pipeline
	Automation  *automation.Scheduler
	Funnel      *funnel.Runner
	SLO         *observability.SLOService
	Deletes     *orchestration.Executor

	logger *slog.Logger
}

// NewRuntime opens storage, queue and event bus and builds the graph
// handlers. The gateway settings are required unless cfg.DryRun is set.
func NewRuntime(ctx context.Context, cfg config.Config, serviceName string, logger *slog.Logger) (*Runtime, error) {
	if !cfg.DryRun {
		err := cfg.ValidateGateway()
		if err != nil {
			return nil, fmt.Errorf("invalid gateway configuration: %w", err)
		}
	}

	workerID := cfg.WorkerID
	if workerID == "" {
		workerID = "worker-" + uuid.New().String()[:8]
	}

	r := &Runtime{
		Config:   cfg,
		WorkerID: workerID,
		Registry: prometheus.NewRegistry(),
		logger:   logger,
	}

	r.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	r.Metrics = observability.NewMetrics(r.Registry)

	var err error

	r.Persistence, err = NewPersistence(ctx, logger, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	r.Queue, err = NewQueue(ctx, logger, cfg.RedisURL, cfg.QueueName)
	if err != nil {
		r.Close(ctx)

		return nil, err
	}

	r.EventBus, err = NewEventBus(cfg.EventBus, cfg.KafkaBrokers, serviceName, logger)
	if err != nil {
		r.Close(ctx)

		return nil, err
	}

	r.Checkpoints = NewCheckpointResolver(logger, cfg.CheckpointMode, cfg.DatabaseURL)
	r.Recorder = observability.NewRecorder(logger, r.Persistence.RunLogs(), r.Persistence.DeadLetters())
	r.Gateway = NewGateway(cfg.Evolution, logger)

	r.Dispatch = dispatch.NewPipeline(r.Persistence.ScheduledMessages(), r.Gateway, r.Checkpoints, r.Recorder, logger,
		dispatch.WithMetrics(r.Metrics),
		dispatch.WithPublisher(r.EventBus),
		dispatch.WithWorkerID(workerID),
	)

	r.Automation, err = automation.NewScheduler(r.Persistence, r.Recorder, logger)
	if err != nil {
		r.Close(ctx)

		return nil, fmt.Errorf("failed to build automation scheduler: %w", err)
	}

	r.Funnel = funnel.NewRunner(r.Gateway, r.Checkpoints, r.Recorder, logger, funnel.WithMetrics(r.Metrics))
	r.SLO = observability.NewSLOService(r.Persistence, cfg.SLO)
	r.Deletes = orchestration.NewExecutor(r.Persistence.ChatMessages(), r.Gateway, logger)

	return r, nil
}

// NewWorker returns a worker serving every job kind.
func (r *Runtime) NewWorker() *worker.Worker {
	w := worker.New(r.WorkerID, r.Queue, r.Recorder, r.logger,
		worker.WithRetryPolicy(r.Config.Retry),
		worker.WithMetrics(r.Metrics),
		worker.WithPublisher(r.EventBus),
	)

	w.Register(contracts.KindDispatch, r.Dispatch)
	w.Register(contracts.KindScheduler, r.Automation)
	w.Register(contracts.KindFunnel, r.Funnel)

	return w
}

func (r *Runtime) NewScheduler() *scheduler.Scheduler {
	return scheduler.New(r.Queue, r.logger,
		scheduler.WithInterval(r.Config.SchedulerInterval),
		scheduler.WithBatchSize(r.Config.BatchSize),
		scheduler.WithDryRun(r.Config.DryRun),
		scheduler.WithMetrics(r.Metrics),
	)
}

// DryRun runs the automation and dispatch graphs under one run id without
// side effects.
func (r *Runtime) DryRun(ctx context.Context) contracts.DryRunReport {
	runID := uuid.NewString()
	now := time.Now().UTC()

	schedulerAck, err := r.Automation.Run(ctx, &contracts.SchedulerRunCommand{
		Envelope:  contracts.Envelope{ContractVersion: contracts.ContractVersion, RunID: runID},
		TriggerAt: &now,
		DryRun:    true,
	})
	if err != nil {
		r.logger.WarnContext(ctx, "Dry run of automation scheduler failed", "run_id", runID, "error", err)
	}

	dispatchAck, err := r.Dispatch.Run(ctx, &contracts.DispatchRunCommand{
		Envelope:  contracts.Envelope{ContractVersion: contracts.ContractVersion, RunID: runID},
		NowISO:    &now,
		BatchSize: r.Config.BatchSize,
		DryRun:    true,
	})
	if err != nil {
		r.logger.WarnContext(ctx, "Dry run of dispatch failed", "run_id", runID, "error", err)
	}

	return contracts.DryRunReport{
		OK:        schedulerAck.OK && dispatchAck.OK,
		RunID:     runID,
		Scheduler: schedulerAck,
		Dispatch:  dispatchAck,
	}
}

// Close releases whatever was opened. It is safe on a partially built runtime.
func (r *Runtime) Close(ctx context.Context) {
	var errs []error

	if r.EventBus != nil {
		errs = append(errs, r.EventBus.Close())
	}

	if r.Queue != nil {
		errs = append(errs, r.Queue.Close())
	}

	if r.Checkpoints != nil {
		errs = append(errs, r.Checkpoints.Close())
	}

	if r.Persistence != nil {
		errs = append(errs, r.Persistence.Close(ctx))
	}

	err := errors.Join(errs...)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to close runtime", "error", err)
	}
}
