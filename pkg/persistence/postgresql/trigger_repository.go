package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/courier/pkg/models"
	"github.com/dukex/courier/pkg/persistence"
)

// TriggerRepository handles automation trigger database operations.
type TriggerRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewTriggerRepository(db *sql.DB, logger *slog.Logger) *TriggerRepository {
	return &TriggerRepository{db: db, logger: logger}
}

func (r *TriggerRepository) Save(ctx context.Context, trigger *models.SequenceTrigger) error {
	sequenceJSON, err := json.Marshal(trigger.Sequence)
	if err != nil {
		return fmt.Errorf("failed to marshal sequence: %w", err)
	}

	variablesJSON, err := json.Marshal(trigger.Variables)
	if err != nil {
		return fmt.Errorf("failed to marshal variables: %w", err)
	}

	if trigger.CreatedAt.IsZero() {
		trigger.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO automation_triggers (rule_id, rule_name, chat_id, phone, due_at, sequence, variables, processed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`

	err = r.db.QueryRowContext(ctx, query,
		trigger.RuleID,
		trigger.RuleName,
		trigger.ChatID,
		trigger.Phone,
		trigger.DueAt,
		sequenceJSON,
		variablesJSON,
		nullTime(trigger.ProcessedAt),
		trigger.CreatedAt,
	).Scan(&trigger.ID)
	if err != nil {
		return fmt.Errorf("failed to save automation trigger: %w", err)
	}

	return nil
}

func (r *TriggerRepository) Due(ctx context.Context, now time.Time, limit int) ([]*models.SequenceTrigger, error) {
	query := `
		SELECT id, rule_id, rule_name, chat_id, phone, due_at, sequence, variables, created_at
		FROM automation_triggers
		WHERE processed_at IS NULL AND due_at <= $1
		ORDER BY due_at ASC, id ASC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due automation triggers: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var triggers []*models.SequenceTrigger

	for rows.Next() {
		var (
			trigger       models.SequenceTrigger
			sequenceJSON  []byte
			variablesJSON []byte
		)

		err := rows.Scan(
			&trigger.ID,
			&trigger.RuleID,
			&trigger.RuleName,
			&trigger.ChatID,
			&trigger.Phone,
			&trigger.DueAt,
			&sequenceJSON,
			&variablesJSON,
			&trigger.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan automation trigger: %w", err)
		}

		err = json.Unmarshal(sequenceJSON, &trigger.Sequence)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal sequence of trigger %d: %w", trigger.ID, err)
		}

		if len(variablesJSON) > 0 {
			err = json.Unmarshal(variablesJSON, &trigger.Variables)
			if err != nil {
				return nil, fmt.Errorf("failed to unmarshal variables of trigger %d: %w", trigger.ID, err)
			}
		}

		triggers = append(triggers, &trigger)
	}

	return triggers, rows.Err()
}

func (r *TriggerRepository) MarkProcessed(ctx context.Context, id int64, now time.Time) error {
	result, err := r.db.ExecContext(ctx, `UPDATE automation_triggers SET processed_at = $2 WHERE id = $1`, id, now)
	if err != nil {
		return fmt.Errorf("failed to mark automation trigger %d processed: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to mark automation trigger %d processed: %w", id, err)
	}

	if affected == 0 {
		return fmt.Errorf("automation trigger %d: %w", id, persistence.ErrTriggerNotFound)
	}

	return nil
}
