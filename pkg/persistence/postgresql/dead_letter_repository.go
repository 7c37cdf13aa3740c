package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/courier/pkg/models"
)

// DeadLetterRepository stores terminal failures.
type DeadLetterRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewDeadLetterRepository(db *sql.DB, logger *slog.Logger) *DeadLetterRepository {
	return &DeadLetterRepository{db: db, logger: logger}
}

func (r *DeadLetterRepository) Insert(ctx context.Context, record *models.DeadLetterRecord) error {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	var payload any
	if len(record.Payload) > 0 {
		payload = []byte(record.Payload)
	}

	query := `
		INSERT INTO dead_letters (
			run_id, thread_id, graph_name, source_node, job_id, scheduled_message_id,
			error_code, error_message, attempts, retryable, payload, created_at
		)
		VALUES ($1, NULLIF($2, ''), $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`

	err := r.db.QueryRowContext(ctx, query,
		record.RunID,
		record.ThreadID,
		record.GraphName,
		record.SourceNode,
		record.JobID,
		record.ScheduledMessageID,
		record.ErrorCode,
		record.ErrorMessage,
		record.Attempts,
		record.Retryable,
		payload,
		record.CreatedAt,
	).Scan(&record.ID)
	if err != nil {
		return fmt.Errorf("failed to insert dead letter: %w", err)
	}

	return nil
}

func (r *DeadLetterRepository) ByRun(ctx context.Context, runID string) ([]*models.DeadLetterRecord, error) {
	query := `
		SELECT id, run_id, COALESCE(thread_id, ''), graph_name, COALESCE(source_node, ''), COALESCE(job_id, ''),
			scheduled_message_id, error_code, error_message, attempts, retryable, payload, created_at
		FROM dead_letters
		WHERE run_id = $1
		ORDER BY id ASC`

	rows, err := r.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query dead letters: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var records []*models.DeadLetterRecord

	for rows.Next() {
		var (
			record             models.DeadLetterRecord
			scheduledMessageID sql.NullInt64
			payload            []byte
		)

		err := rows.Scan(
			&record.ID,
			&record.RunID,
			&record.ThreadID,
			&record.GraphName,
			&record.SourceNode,
			&record.JobID,
			&scheduledMessageID,
			&record.ErrorCode,
			&record.ErrorMessage,
			&record.Attempts,
			&record.Retryable,
			&payload,
			&record.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dead letter: %w", err)
		}

		if scheduledMessageID.Valid {
			record.ScheduledMessageID = &scheduledMessageID.Int64
		}

		record.Payload = payload
		records = append(records, &record)
	}

	return records, rows.Err()
}

func (r *DeadLetterRepository) CountSince(ctx context.Context, since time.Time) (int, error) {
	var count int

	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dead_letters WHERE created_at >= $1`, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count dead letters: %w", err)
	}

	return count, nil
}
