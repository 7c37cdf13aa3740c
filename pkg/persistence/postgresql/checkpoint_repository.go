package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/courier/pkg/engine"
	"github.com/dukex/courier/pkg/persistence/sqlbase"
)

// CheckpointRepository is an append-only engine.Saver over graph_checkpoints.
type CheckpointRepository struct {
	db     *sql.DB
	logger *slog.Logger
	owned  bool
}

func NewCheckpointRepository(db *sql.DB, logger *slog.Logger) *CheckpointRepository {
	return &CheckpointRepository{db: db, logger: logger}
}

// OpenCheckpointRepository connects to databaseURL with its own pool and
// ensures the checkpoint schema exists.
func OpenCheckpointRepository(ctx context.Context, logger *slog.Logger, databaseURL string) (*CheckpointRepository, error) {
	database, err := open(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	err = sqlbase.NewMigrationManager(logger, database, migrations()).RunMigrations(ctx)
	if err != nil {
		_ = database.Close()

		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &CheckpointRepository{db: database, logger: logger, owned: true}, nil
}

func (r *CheckpointRepository) Get(ctx context.Context, threadID string) (*engine.Checkpoint, error) {
	query := `
		SELECT thread_id, graph, COALESCE(run_id, ''), step, node, next, state, created_at
		FROM graph_checkpoints
		WHERE thread_id = $1
		ORDER BY id DESC
		LIMIT 1`

	var (
		checkpoint engine.Checkpoint
		state      []byte
	)

	err := r.db.QueryRowContext(ctx, query, threadID).Scan(
		&checkpoint.ThreadID,
		&checkpoint.Graph,
		&checkpoint.RunID,
		&checkpoint.Step,
		&checkpoint.Node,
		&checkpoint.Next,
		&state,
		&checkpoint.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.ErrCheckpointNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	checkpoint.State = state

	return &checkpoint, nil
}

func (r *CheckpointRepository) Put(ctx context.Context, checkpoint engine.Checkpoint) error {
	query := `
		INSERT INTO graph_checkpoints (thread_id, graph, run_id, step, node, next, state, created_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8)`

	_, err := r.db.ExecContext(ctx, query,
		checkpoint.ThreadID,
		checkpoint.Graph,
		checkpoint.RunID,
		checkpoint.Step,
		checkpoint.Node,
		checkpoint.Next,
		[]byte(checkpoint.State),
		checkpoint.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}

	return nil
}

// Close releases the pool when the repository opened it.
func (r *CheckpointRepository) Close() error {
	if !r.owned {
		return nil
	}

	return r.db.Close()
}
