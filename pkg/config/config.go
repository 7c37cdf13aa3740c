// Package config builds the runtime configuration of the courier binaries
// from command line flags and their environment variables.
package config

import (
	"time"

	"github.com/dukex/courier/pkg/checkpoint"
	"github.com/dukex/courier/pkg/contracts"
	"github.com/dukex/courier/pkg/gateway"
	"github.com/dukex/courier/pkg/observability"
	"github.com/dukex/courier/pkg/queue"
	"github.com/urfave/cli/v3"
)

const (
	DefaultQueueName         = "automation-jobs"
	DefaultPort              = 9091
	DefaultSchedulerInterval = time.Minute
	DefaultEventBus          = "gochannel"
)

type Config struct {
	DatabaseURL       string
	CheckpointMode    checkpoint.Mode `validate:"oneof=auto memory postgres"`
	RedisURL          string          `validate:"omitempty,url"`
	QueueName         string          `validate:"required"`
	BatchSize         int             `validate:"gte=1,lte=200"`
	Retry             queue.RetryPolicy
	SLO               observability.SLOTargets
	SchedulerInterval time.Duration `validate:"gte=1s"`
	DryRun            bool
	WorkerID          string
	Port              int      `validate:"gte=1,lte=65535"`
	LogLevel          string   `validate:"oneof=debug info warn error"`
	LogFormat         string   `validate:"oneof=text json"`
	EventBus          string   `validate:"oneof=gochannel kafka"`
	KafkaBrokers      []string `validate:"required_if=EventBus kafka"`

	// Evolution is validated when a gateway is built, dry runs never call it.
	Evolution gateway.EvolutionConfig `validate:"-"`
}

// Flags returns every flag the binaries understand, each bound to its
// environment variable.
func Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "PostgreSQL connection URL (empty keeps everything in memory)",
			Sources: cli.EnvVars("DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "checkpoint-mode",
			Usage:   "Checkpoint storage (auto, memory, postgres)",
			Value:   string(checkpoint.ModeAuto),
			Sources: cli.EnvVars("CHECKPOINT_MODE"),
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "Redis URL for the job queue (empty uses an in-process queue)",
			Sources: cli.EnvVars("REDIS_URL"),
		},
		&cli.StringFlag{
			Name:    "queue-name",
			Usage:   "Job queue name",
			Value:   DefaultQueueName,
			Sources: cli.EnvVars("QUEUE_NAME"),
		},
		&cli.IntFlag{
			Name:    "batch-size",
			Usage:   "Scheduled messages claimed per dispatch pass",
			Value:   contracts.DefaultBatchSize,
			Sources: cli.EnvVars("DISPATCH_BATCH_SIZE"),
		},
		&cli.IntFlag{
			Name:    "job-attempts",
			Usage:   "Attempts per job before it is dead-lettered",
			Value:   queue.DefaultMaxAttempts,
			Sources: cli.EnvVars("JOB_ATTEMPTS"),
		},
		&cli.DurationFlag{
			Name:    "job-backoff",
			Usage:   "Delay before the first retry, doubled on each following retry",
			Value:   queue.DefaultBackoff,
			Sources: cli.EnvVars("JOB_BACKOFF"),
		},
		&cli.Float64Flag{
			Name:    "slo-success-rate-min",
			Usage:   "Minimum 24h success rate in percent",
			Value:   observability.DefaultSLOTargets().SuccessRateMin,
			Sources: cli.EnvVars("SLO_SUCCESS_RATE_MIN"),
		},
		&cli.IntFlag{
			Name:    "slo-dead-letter-max",
			Usage:   "Maximum dead letters in 24h",
			Value:   observability.DefaultSLOTargets().DeadLetterMax,
			Sources: cli.EnvVars("SLO_DEAD_LETTER_MAX"),
		},
		&cli.DurationFlag{
			Name:    "scheduler-interval",
			Usage:   "Interval between scheduler ticks",
			Value:   DefaultSchedulerInterval,
			Sources: cli.EnvVars("SCHEDULER_INTERVAL"),
		},
		&cli.BoolFlag{
			Name:    "dry-run",
			Usage:   "Simulate dispatch and automation passes without side effects",
			Sources: cli.EnvVars("WORKER_DRY_RUN"),
		},
		&cli.StringFlag{
			Name:    "worker-id",
			Aliases: []string{"id"},
			Usage:   "Custom worker ID (auto-generated if not provided)",
			Sources: cli.EnvVars("WORKER_ID"),
		},
		&cli.IntFlag{
			Name:    "port",
			Aliases: []string{"p"},
			Usage:   "HTTP port",
			Value:   DefaultPort,
			Sources: cli.EnvVars("PORT"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "info",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "Log output format (text, json)",
			Value:   "text",
			Sources: cli.EnvVars("LOG_FORMAT"),
		},
		&cli.StringFlag{
			Name:    "event-bus",
			Usage:   "Event bus type (gochannel, kafka)",
			Value:   DefaultEventBus,
			Sources: cli.EnvVars("EVENT_BUS_TYPE"),
		},
		&cli.StringSliceFlag{
			Name:    "kafka-brokers",
			Usage:   "Kafka brokers for the event bus",
			Sources: cli.EnvVars("KAFKA_BROKERS"),
		},
		&cli.StringFlag{
			Name:    "evolution-api-url",
			Usage:   "Evolution API base URL",
			Sources: cli.EnvVars("EVOLUTION_API_URL"),
		},
		&cli.StringFlag{
			Name:    "evolution-instance",
			Usage:   "Evolution API instance name",
			Sources: cli.EnvVars("EVOLUTION_INSTANCE"),
		},
		&cli.StringFlag{
			Name:    "evolution-api-key",
			Usage:   "Evolution API key",
			Sources: cli.EnvVars("EVOLUTION_API_KEY"),
		},
		&cli.DurationFlag{
			Name:    "gateway-timeout",
			Usage:   "Timeout of a single gateway request",
			Value:   30 * time.Second,
			Sources: cli.EnvVars("GATEWAY_TIMEOUT"),
		},
	}
}

// FromCommand reads and validates the configuration of command.
func FromCommand(command *cli.Command) (Config, error) {
	mode, err := checkpoint.ParseMode(command.String("checkpoint-mode"))
	if err != nil {
		return Config{}, &contracts.SchemaError{Field: "checkpoint-mode", Reason: "oneof", Message: err.Error()}
	}

	cfg := Config{
		DatabaseURL:    command.String("database-url"),
		CheckpointMode: mode,
		RedisURL:       command.String("redis-url"),
		QueueName:      command.String("queue-name"),
		BatchSize:      command.Int("batch-size"),
		Retry: queue.RetryPolicy{
			MaxAttempts: command.Int("job-attempts"),
			Base:        command.Duration("job-backoff"),
		},
		SLO: observability.SLOTargets{
			SuccessRateMin: command.Float64("slo-success-rate-min"),
			DeadLetterMax:  command.Int("slo-dead-letter-max"),
		},
		SchedulerInterval: command.Duration("scheduler-interval"),
		DryRun:            command.Bool("dry-run"),
		WorkerID:          command.String("worker-id"),
		Port:              command.Int("port"),
		LogLevel:          command.String("log-level"),
		LogFormat:         command.String("log-format"),
		EventBus:          command.String("event-bus"),
		KafkaBrokers:      command.StringSlice("kafka-brokers"),
		Evolution: gateway.EvolutionConfig{
			BaseURL:  command.String("evolution-api-url"),
			Instance: command.String("evolution-instance"),
			APIKey:   command.String("evolution-api-key"),
			Timeout:  command.Duration("gateway-timeout"),
		},
	}

	if len(cfg.KafkaBrokers) == 0 {
		cfg.KafkaBrokers = nil
	}

	err = cfg.Validate()
	if err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) Validate() error {
	return contracts.ValidateStruct(c)
}

// ValidateGateway checks the settings needed to reach the messaging gateway.
func (c Config) ValidateGateway() error {
	return contracts.ValidateStruct(c.Evolution)
}
