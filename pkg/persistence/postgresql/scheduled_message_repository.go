package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/courier/pkg/models"
	"github.com/dukex/courier/pkg/persistence"
)

const scheduledMessageColumns = `
	id, chat_id, phone, title, content, scheduled_for, status, automation_rule_id,
	run_id, idempotency_key, retry_count, last_error, next_retry_at,
	external_message_id, sent_at, created_at, updated_at`

// ScheduledMessageRepository handles scheduled message database operations.
type ScheduledMessageRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewScheduledMessageRepository creates a new scheduled message repository.
func NewScheduledMessageRepository(db *sql.DB, logger *slog.Logger) *ScheduledMessageRepository {
	return &ScheduledMessageRepository{db: db, logger: logger}
}

// ListDue returns due items without claiming them.
func (r *ScheduledMessageRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.ScheduledMessage, error) {
	query := `SELECT ` + scheduledMessageColumns + `
		FROM scheduled_messages
		WHERE (status = 'pending' AND scheduled_for <= $1)
			OR (status = 'failed' AND next_retry_at IS NOT NULL AND next_retry_at <= $1)
			OR (status = 'sending' AND updated_at <= $2)
		ORDER BY scheduled_for ASC, id ASC
		LIMIT $3`

	rows, err := r.db.QueryContext(ctx, query, now, now.Add(-persistence.StaleSendingAfter), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due scheduled messages: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var items []*models.ScheduledMessage

	for rows.Next() {
		item, err := scanScheduledMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan scheduled message: %w", err)
		}

		items = append(items, item)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("failed to iterate scheduled messages: %w", err)
	}

	return items, nil
}

// MarkSending moves an item to sending only if it is still claimable.
func (r *ScheduledMessageRepository) MarkSending(ctx context.Context, id int64, runID string, now time.Time) (bool, error) {
	query := `
		UPDATE scheduled_messages
		SET status = 'sending', run_id = $2, updated_at = $3
		WHERE id = $1
			AND (status IN ('pending', 'failed') OR (status = 'sending' AND updated_at <= $4))`

	result, err := r.db.ExecContext(ctx, query, id, runID, now, now.Add(-persistence.StaleSendingAfter))
	if err != nil {
		return false, persistence.NewScheduledMessageError("MarkSending", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, persistence.NewScheduledMessageError("MarkSending", id, err)
	}

	return affected == 1, nil
}

func (r *ScheduledMessageRepository) MarkSent(ctx context.Context, id int64, runID, externalMessageID string, now time.Time) error {
	query := `
		UPDATE scheduled_messages
		SET status = 'sent', run_id = $2, external_message_id = NULLIF($3, ''),
			sent_at = $4, updated_at = $4, last_error = NULL, next_retry_at = NULL
		WHERE id = $1`

	return r.execOne(ctx, "MarkSent", id, query, id, runID, externalMessageID, now)
}

func (r *ScheduledMessageRepository) MarkFailed(ctx context.Context, id int64, failure models.DispatchFailure) error {
	query := `
		UPDATE scheduled_messages
		SET status = 'failed', run_id = $2, last_error = $3, retry_count = $4, next_retry_at = $5,
			external_message_id = COALESCE(NULLIF($6, ''), external_message_id), updated_at = $7
		WHERE id = $1`

	return r.execOne(ctx, "MarkFailed", id, query,
		id,
		failure.RunID,
		failure.Error,
		failure.RetryCount,
		nullTime(failure.NextRetryAt),
		failure.ExternalMessageID,
		failure.At,
	)
}

// Schedule inserts msg, ignoring duplicates of its idempotency key.
func (r *ScheduledMessageRepository) Schedule(ctx context.Context, msg *models.ScheduledMessage) (bool, error) {
	contentJSON, err := json.Marshal(msg.Content)
	if err != nil {
		return false, fmt.Errorf("failed to marshal content: %w", err)
	}

	now := time.Now().UTC()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}

	msg.UpdatedAt = msg.CreatedAt

	if msg.Status == "" {
		msg.Status = models.ScheduledMessagePending
	}

	query := `
		INSERT INTO scheduled_messages (
			chat_id, phone, title, content, scheduled_for, status, automation_rule_id,
			run_id, idempotency_key, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''), $10, $11)
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING id`

	err = r.db.QueryRowContext(ctx, query,
		msg.ChatID,
		msg.Phone,
		msg.Title,
		contentJSON,
		msg.ScheduledFor,
		msg.Status,
		msg.AutomationRuleID,
		msg.RunID,
		msg.IdempotencyKey,
		msg.CreatedAt,
		msg.UpdatedAt,
	).Scan(&msg.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("failed to schedule message: %w", err)
	}

	return true, nil
}

func (r *ScheduledMessageRepository) ByID(ctx context.Context, id int64) (*models.ScheduledMessage, error) {
	query := `SELECT ` + scheduledMessageColumns + ` FROM scheduled_messages WHERE id = $1`

	item, err := scanScheduledMessage(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewScheduledMessageError("ByID", id, persistence.ErrScheduledMessageNotFound)
	}

	if err != nil {
		return nil, persistence.NewScheduledMessageError("ByID", id, err)
	}

	return item, nil
}

// CountOutcomes counts sent items by sent_at and failed items by updated_at.
func (r *ScheduledMessageRepository) CountOutcomes(ctx context.Context, since time.Time) (int, int, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'sent' AND sent_at >= $1),
			COUNT(*) FILTER (WHERE status = 'failed' AND updated_at >= $1)
		FROM scheduled_messages`

	var sent, failed int

	err := r.db.QueryRowContext(ctx, query, since).Scan(&sent, &failed)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count dispatch outcomes: %w", err)
	}

	return sent, failed, nil
}

func (r *ScheduledMessageRepository) execOne(ctx context.Context, op string, id int64, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return persistence.NewScheduledMessageError(op, id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewScheduledMessageError(op, id, err)
	}

	if affected == 0 {
		return persistence.NewScheduledMessageError(op, id, persistence.ErrScheduledMessageNotFound)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanScheduledMessage(row rowScanner) (*models.ScheduledMessage, error) {
	var (
		item              models.ScheduledMessage
		contentJSON       []byte
		automationRuleID  sql.NullInt64
		runID             sql.NullString
		idempotencyKey    sql.NullString
		lastError         sql.NullString
		nextRetryAt       sql.NullTime
		externalMessageID sql.NullString
		sentAt            sql.NullTime
	)

	err := row.Scan(
		&item.ID,
		&item.ChatID,
		&item.Phone,
		&item.Title,
		&contentJSON,
		&item.ScheduledFor,
		&item.Status,
		&automationRuleID,
		&runID,
		&idempotencyKey,
		&item.RetryCount,
		&lastError,
		&nextRetryAt,
		&externalMessageID,
		&sentAt,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(contentJSON) > 0 {
		err = json.Unmarshal(contentJSON, &item.Content)
		if err != nil {
			// Legacy rows store raw text instead of a payload object.
			item.Content = models.MessageContent{Type: "text", Content: string(contentJSON)}
		}
	}

	if automationRuleID.Valid {
		item.AutomationRuleID = &automationRuleID.Int64
	}

	item.RunID = runID.String
	item.IdempotencyKey = idempotencyKey.String
	item.LastError = lastError.String
	item.ExternalMessageID = externalMessageID.String
	item.NextRetryAt = timePtr(nextRetryAt)
	item.SentAt = timePtr(sentAt)

	return &item, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}

	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}

	value := t.Time

	return &value
}
