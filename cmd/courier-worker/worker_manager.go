package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dukex/courier/pkg/cmd"
	"github.com/dukex/courier/pkg/config"
	"github.com/dukex/courier/pkg/scheduler"
	"github.com/dukex/courier/pkg/web"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

const shutdownTimeout = 30 * time.Second

// WorkerManager runs the worker loop, the scheduler cron and the HTTP server
// of one process until a termination signal arrives.
type WorkerManager struct {
	runtime *cmd.Runtime
	logger  *slog.Logger
}

func NewWorkerManager(runtime *cmd.Runtime, logger *slog.Logger) *WorkerManager {
	return &WorkerManager{
		runtime: runtime,
		logger:  logger,
	}
}

func (m *WorkerManager) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// The in-process bus only reaches subscribers in this process.
	if m.runtime.Config.EventBus == config.DefaultEventBus {
		err := cmd.RegisterEventLog(m.runtime.EventBus, m.logger)
		if err != nil {
			return err
		}

		err = m.runtime.EventBus.Subscribe(ctx)
		if err != nil {
			m.logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

			return err
		}
	}

	sched := m.runtime.NewScheduler()

	err := sched.Start(ctx)
	if err != nil {
		return err
	}

	errs := make(chan error, 2)

	go func() {
		errs <- m.runtime.NewWorker().Run(ctx)
	}()

	app := m.App(sched)

	go func() {
		err := app.Listen(":"+strconv.Itoa(m.runtime.Config.Port))
		if err != nil {
			errs <- err
		}
	}()

	m.logger.InfoContext(ctx, "Worker started successfully", "port", m.runtime.Config.Port)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var runErr error

	select {
	case <-sigChan:
		m.logger.InfoContext(ctx, "Shutting down worker...")
	case runErr = <-errs:
		if runErr != nil {
			m.logger.ErrorContext(ctx, "Worker stopped unexpectedly", "error", runErr)
		}
	}

	cancel()
	sched.Stop(context.WithoutCancel(ctx))

	err = app.ShutdownWithTimeout(shutdownTimeout)
	if err != nil {
		m.logger.ErrorContext(ctx, "Failed to shutdown HTTP server", "error", err)
	}

	if errors.Is(runErr, context.Canceled) {
		return nil
	}

	return runErr
}

func (m *WorkerManager) App(sched *scheduler.Scheduler) *fiber.App {
	app := fiber.New()
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())

	web.NewAPIHandlers(m.runtime.WebDependencies(sched), m.logger).RegisterRoutes(app)

	return app
}
