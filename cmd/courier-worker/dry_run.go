package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/dukex/courier/pkg/cmd"
	"github.com/dukex/courier/pkg/config"
	"github.com/dukex/courier/pkg/log"
	"github.com/urfave/cli/v3"
)

var errDryRunFailed = errors.New("dry run reported a failure")

func NewDryRunCommand() *cli.Command {
	return &cli.Command{
		Name:  "dry-run",
		Usage: "Run the automation and dispatch graphs once without sending or writing",
		Flags: config.Flags(),
		Action: func(ctx context.Context, command *cli.Command) error {
			cfg, err := config.FromCommand(command)
			if err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			cfg.DryRun = true

			log.Setup(cfg.LogLevel, cfg.LogFormat)

			logger := log.WithModule("courier-dry-run")

			runtime, err := cmd.NewRuntime(ctx, cfg, "courier-dry-run", logger)
			if err != nil {
				return err
			}
			defer runtime.Close(ctx)

			report := runtime.DryRun(ctx)

			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")

			err = encoder.Encode(report)
			if err != nil {
				return fmt.Errorf("failed to write report: %w", err)
			}

			if !report.OK {
				return errDryRunFailed
			}

			return nil
		},
	}
}
