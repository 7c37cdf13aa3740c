package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/courier/pkg/models"
)

// RunLogRepository stores structured run events in worker_run_logs.
type RunLogRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewRunLogRepository(db *sql.DB, logger *slog.Logger) *RunLogRepository {
	return &RunLogRepository{db: db, logger: logger}
}

func (r *RunLogRepository) Append(ctx context.Context, entry *models.RunLogEntry) error {
	metadataJSON, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal run log metadata: %w", err)
	}

	if entry.Metadata == nil {
		metadataJSON = []byte("{}")
	}

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO worker_run_logs (run_id, thread_id, graph_name, node_name, level, message, metadata, created_at)
		VALUES ($1, NULLIF($2, ''), $3, NULLIF($4, ''), $5, $6, $7, $8)
		RETURNING id`

	err = r.db.QueryRowContext(ctx, query,
		entry.RunID,
		entry.ThreadID,
		entry.GraphName,
		entry.NodeName,
		entry.Level,
		entry.Message,
		metadataJSON,
		entry.CreatedAt,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("failed to append run log: %w", err)
	}

	return nil
}

func (r *RunLogRepository) ByRun(ctx context.Context, runID string) ([]*models.RunLogEntry, error) {
	query := `
		SELECT id, run_id, COALESCE(thread_id, ''), graph_name, COALESCE(node_name, ''), level, message, metadata, created_at
		FROM worker_run_logs
		WHERE run_id = $1
		ORDER BY id ASC`

	rows, err := r.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query run logs: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var entries []*models.RunLogEntry

	for rows.Next() {
		var (
			entry        models.RunLogEntry
			metadataJSON []byte
		)

		err := rows.Scan(
			&entry.ID,
			&entry.RunID,
			&entry.ThreadID,
			&entry.GraphName,
			&entry.NodeName,
			&entry.Level,
			&entry.Message,
			&metadataJSON,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run log: %w", err)
		}

		if len(metadataJSON) > 0 {
			err = json.Unmarshal(metadataJSON, &entry.Metadata)
			if err != nil {
				return nil, fmt.Errorf("failed to unmarshal run log metadata: %w", err)
			}
		}

		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}
