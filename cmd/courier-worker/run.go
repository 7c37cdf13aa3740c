package main

import (
	"context"
	"fmt"

	"github.com/dukex/courier/pkg/cmd"
	"github.com/dukex/courier/pkg/config"
	"github.com/dukex/courier/pkg/log"
	"github.com/dukex/courier/pkg/otelhelper"
	"github.com/urfave/cli/v3"
)

func NewRunCommand() *cli.Command {
	return &cli.Command{
		Name:    "run",
		Aliases: []string{"r"},
		Usage:   "Start the worker loop, the scheduler and the HTTP server",
		Flags:   config.Flags(),
		Action: func(ctx context.Context, command *cli.Command) error {
			cfg, err := config.FromCommand(command)
			if err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			log.Setup(cfg.LogLevel, cfg.LogFormat)

			logger := log.WithModule("courier-worker")

			shutdownTracer, err := otelhelper.Setup(ctx, "courier-worker")
			if err != nil {
				return fmt.Errorf("failed to initialize tracer: %w", err)
			}
			defer func() {
				err := shutdownTracer(context.WithoutCancel(ctx))
				if err != nil {
					logger.ErrorContext(ctx, "Failed to shutdown tracer provider", "error", err)
				}
			}()

			runtime, err := cmd.NewRuntime(ctx, cfg, "courier-worker", logger)
			if err != nil {
				return err
			}
			defer runtime.Close(context.WithoutCancel(ctx))

			logger = logger.With("worker_id", runtime.WorkerID)
			logger.InfoContext(ctx, "Initializing courier worker",
				"queue", cfg.QueueName, "checkpoint_mode", cfg.CheckpointMode, "event_bus", cfg.EventBus)

			manager := NewWorkerManager(runtime, logger)

			return manager.Start(ctx)
		},
	}
}
