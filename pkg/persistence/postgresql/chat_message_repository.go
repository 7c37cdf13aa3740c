package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/courier/pkg/models"
	"github.com/dukex/courier/pkg/persistence"
)

type ChatMessageRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewChatMessageRepository(db *sql.DB, logger *slog.Logger) *ChatMessageRepository {
	return &ChatMessageRepository{db: db, logger: logger}
}

func (r *ChatMessageRepository) ByID(ctx context.Context, id int64) (*models.ChatMessage, error) {
	var (
		message    models.ChatMessage
		externalID sql.NullString
		revokedAt  sql.NullTime
	)

	err := r.db.QueryRowContext(ctx,
		`SELECT id, chat_id, external_message_id, revoked_at FROM chat_messages WHERE id = $1`, id,
	).Scan(&message.ID, &message.ChatID, &externalID, &revokedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("chat message %d: %w", id, persistence.ErrChatMessageNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get chat message %d: %w", id, err)
	}

	message.ExternalMessageID = externalID.String
	message.RevokedAt = timePtr(revokedAt)

	return &message, nil
}

// MarkRevoked tombstones a message. Revoking twice keeps the first timestamp.
func (r *ChatMessageRepository) MarkRevoked(ctx context.Context, id int64, now time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE chat_messages SET revoked_at = COALESCE(revoked_at, $2) WHERE id = $1`, id, now)

	return expectRow(result, err, id, "revoke")
}

func (r *ChatMessageRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM chat_messages WHERE id = $1`, id)

	return expectRow(result, err, id, "delete")
}

func expectRow(result sql.Result, err error, id int64, op string) error {
	if err != nil {
		return fmt.Errorf("failed to %s chat message %d: %w", op, id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to %s chat message %d: %w", op, id, err)
	}

	if affected == 0 {
		return fmt.Errorf("chat message %d: %w", id, persistence.ErrChatMessageNotFound)
	}

	return nil
}
