package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dukex/courier/pkg/cmd"
	"github.com/dukex/courier/pkg/config"
	"github.com/dukex/courier/pkg/log"
	"github.com/dukex/courier/pkg/otelhelper"
	cli "github.com/urfave/cli/v3"
)

func main() {
	command := &cli.Command{
		Name:                  "courier-api",
		Usage:                 "Serve the automation HTTP surface and follow worker events",
		EnableShellCompletion: true,
		Flags:                 config.Flags(),
		Action: func(ctx context.Context, command *cli.Command) error {
			cfg, err := config.FromCommand(command)
			if err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			log.Setup(cfg.LogLevel, cfg.LogFormat)

			logger := log.WithModule("api")

			logger.InfoContext(ctx, "Initializing courier API")

			shutdownTracer, err := otelhelper.Setup(ctx, "courier-api")
			if err != nil {
				return fmt.Errorf("failed to initialize tracer: %w", err)
			}
			defer func() {
				err := shutdownTracer(context.WithoutCancel(ctx))
				if err != nil {
					logger.ErrorContext(ctx, "Failed to shutdown tracer provider", "error", err)
				}
			}()

			runtime, err := cmd.NewRuntime(ctx, cfg, "courier-api", logger)
			if err != nil {
				return err
			}
			defer runtime.Close(context.WithoutCancel(ctx))

			err = cmd.RegisterEventLog(runtime.EventBus, logger)
			if err != nil {
				return err
			}

			err = runtime.EventBus.Subscribe(ctx)
			if err != nil {
				logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

				return err
			}

			api := NewAPI(logger, runtime.WebDependencies(nil))

			err = api.Start(cfg.Port)
			if err != nil {
				logger.ErrorContext(ctx, "Failed to start API server", "error", err)
			}

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
