// Package postgresql provides PostgreSQL persistence for scheduled messages,
// run logs, dead letters, automation triggers and graph checkpoints.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/dukex/courier/pkg/persistence"
	"github.com/dukex/courier/pkg/persistence/sqlbase"
	_ "github.com/lib/pq"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db              *sql.DB
	logger          *slog.Logger
	scheduledRepo   *ScheduledMessageRepository
	runLogRepo      *RunLogRepository
	deadLetterRepo  *DeadLetterRepository
	triggerRepo     *TriggerRepository
	chatMessageRepo *ChatMessageRepository
}

// NewPersistence creates a new PostgreSQL persistence layer.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := open(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	// Run migrations on initialization
	err = sqlbase.NewMigrationManager(logger, database, migrations()).RunMigrations(ctx)
	if err != nil {
		_ = database.Close()

		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return NewPersistenceFromDB(logger, database), nil
}

// NewPersistenceFromDB wraps an already migrated database handle.
func NewPersistenceFromDB(logger *slog.Logger, database *sql.DB) *Persistence {
	return &Persistence{
		db:              database,
		logger:          logger,
		scheduledRepo:   NewScheduledMessageRepository(database, logger),
		runLogRepo:      NewRunLogRepository(database, logger),
		deadLetterRepo:  NewDeadLetterRepository(database, logger),
		triggerRepo:     NewTriggerRepository(database, logger),
		chatMessageRepo: NewChatMessageRepository(database, logger),
	}
}

func open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		_ = database.Close()

		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return database, nil
}

// Close closes the database connection.
func (p *Persistence) Close(ctx context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

func (p *Persistence) ScheduledMessages() persistence.ScheduledMessageRepository {
	return p.scheduledRepo
}

func (p *Persistence) RunLogs() persistence.RunLogRepository {
	return p.runLogRepo
}

func (p *Persistence) DeadLetters() persistence.DeadLetterRepository {
	return p.deadLetterRepo
}

func (p *Persistence) Triggers() persistence.TriggerRepository {
	return p.triggerRepo
}

func (p *Persistence) ChatMessages() persistence.ChatMessageRepository {
	return p.chatMessageRepo
}
