// Package persistence provides the storage abstraction for scheduled messages,
// run logs, dead letters and automation triggers.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/courier/pkg/models"
)

// StaleSendingAfter is how long an item may stay in sending before a later
// dispatch pass may claim it again.
const StaleSendingAfter = 15 * time.Minute

type Persistence interface {
	ScheduledMessages() ScheduledMessageRepository
	RunLogs() RunLogRepository
	DeadLetters() DeadLetterRepository
	Triggers() TriggerRepository
	ChatMessages() ChatMessageRepository
	HealthCheck(ctx context.Context) error

	Close(ctx context.Context) error
}

// ScheduledMessageRepository is mutated only by the dispatch pipeline and the
// automation scheduler.
type ScheduledMessageRepository interface {
	// ListDue returns at most limit items that are pending and due, failed with
	// an elapsed retry window, or stuck in sending. It never mutates.
	ListDue(ctx context.Context, now time.Time, limit int) ([]*models.ScheduledMessage, error)
	// MarkSending claims an item. It reports false when another pass already moved it.
	MarkSending(ctx context.Context, id int64, runID string, now time.Time) (bool, error)
	MarkSent(ctx context.Context, id int64, runID, externalMessageID string, now time.Time) error
	MarkFailed(ctx context.Context, id int64, failure models.DispatchFailure) error
	// Schedule inserts msg unless its idempotency key exists. It reports whether a row was created.
	Schedule(ctx context.Context, msg *models.ScheduledMessage) (bool, error)
	ByID(ctx context.Context, id int64) (*models.ScheduledMessage, error)
	// CountOutcomes counts items sent and failed since the given instant.
	CountOutcomes(ctx context.Context, since time.Time) (sent int, failed int, err error)
}

type RunLogRepository interface {
	Append(ctx context.Context, entry *models.RunLogEntry) error
	ByRun(ctx context.Context, runID string) ([]*models.RunLogEntry, error)
}

type DeadLetterRepository interface {
	Insert(ctx context.Context, record *models.DeadLetterRecord) error
	ByRun(ctx context.Context, runID string) ([]*models.DeadLetterRecord, error)
	CountSince(ctx context.Context, since time.Time) (int, error)
}

type TriggerRepository interface {
	Save(ctx context.Context, trigger *models.SequenceTrigger) error
	// Due returns unprocessed triggers whose due time has elapsed, oldest first.
	Due(ctx context.Context, now time.Time, limit int) ([]*models.SequenceTrigger, error)
	MarkProcessed(ctx context.Context, id int64, now time.Time) error
}

// ChatMessageRepository applies the local effects of a message deletion.
type ChatMessageRepository interface {
	ByID(ctx context.Context, id int64) (*models.ChatMessage, error)
	MarkRevoked(ctx context.Context, id int64, now time.Time) error
	Delete(ctx context.Context, id int64) error
}
