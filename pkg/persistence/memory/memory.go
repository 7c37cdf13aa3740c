// Package memory provides an in-process persistence implementation used by
// dry runs, local development and tests.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/dukex/courier/pkg/models"
	"github.com/dukex/courier/pkg/persistence"
)

// Persistence keeps every record in maps guarded by one mutex.
type Persistence struct {
	mu sync.Mutex

	nextID       int64
	scheduled    map[int64]*models.ScheduledMessage
	idempotency  map[string]int64
	runLogs      []*models.RunLogEntry
	deadLetters  []*models.DeadLetterRecord
	triggers     map[int64]*models.SequenceTrigger
	chatMessages map[int64]*models.ChatMessage
}

func NewPersistence() *Persistence {
	return &Persistence{
		scheduled:    make(map[int64]*models.ScheduledMessage),
		idempotency:  make(map[string]int64),
		triggers:     make(map[int64]*models.SequenceTrigger),
		chatMessages: make(map[int64]*models.ChatMessage),
	}
}

func (p *Persistence) Close(_ context.Context) error {
	return nil
}

func (p *Persistence) HealthCheck(_ context.Context) error {
	return nil
}

func (p *Persistence) ScheduledMessages() persistence.ScheduledMessageRepository {
	return &scheduledMessages{p}
}

func (p *Persistence) RunLogs() persistence.RunLogRepository {
	return &runLogs{p}
}

func (p *Persistence) DeadLetters() persistence.DeadLetterRepository {
	return &deadLetters{p}
}

func (p *Persistence) Triggers() persistence.TriggerRepository {
	return &triggers{p}
}

func (p *Persistence) ChatMessages() persistence.ChatMessageRepository {
	return &chatMessages{p}
}

// AddChatMessage stores a chat record and assigns its ID when unset.
func (p *Persistence) AddChatMessage(message models.ChatMessage) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	if message.ID == 0 {
		message.ID = p.id()
	}

	p.chatMessages[message.ID] = &message

	return message.ID
}

// id must be called with mu held.
func (p *Persistence) id() int64 {
	p.nextID++

	return p.nextID
}

type scheduledMessages struct {
	p *Persistence
}

func claimable(item *models.ScheduledMessage, now time.Time) bool {
	switch item.Status {
	case models.ScheduledMessagePending:
		return !item.ScheduledFor.After(now)
	case models.ScheduledMessageFailed:
		return item.NextRetryAt != nil && !item.NextRetryAt.After(now)
	case models.ScheduledMessageSending:
		return !item.UpdatedAt.After(now.Add(-persistence.StaleSendingAfter))
	default:
		return false
	}
}

func (r *scheduledMessages) ListDue(_ context.Context, now time.Time, limit int) ([]*models.ScheduledMessage, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	var due []*models.ScheduledMessage

	for _, item := range r.p.scheduled {
		if claimable(item, now) {
			copied := *item
			due = append(due, &copied)
		}
	}

	sort.Slice(due, func(i, j int) bool {
		if due[i].ScheduledFor.Equal(due[j].ScheduledFor) {
			return due[i].ID < due[j].ID
		}

		return due[i].ScheduledFor.Before(due[j].ScheduledFor)
	})

	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	return due, nil
}

func (r *scheduledMessages) MarkSending(_ context.Context, id int64, runID string, now time.Time) (bool, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	item, ok := r.p.scheduled[id]
	if !ok {
		return false, nil
	}

	switch item.Status {
	case models.ScheduledMessagePending, models.ScheduledMessageFailed:
	case models.ScheduledMessageSending:
		if item.UpdatedAt.After(now.Add(-persistence.StaleSendingAfter)) {
			return false, nil
		}
	default:
		return false, nil
	}

	item.Status = models.ScheduledMessageSending
	item.RunID = runID
	item.UpdatedAt = now

	return true, nil
}

func (r *scheduledMessages) MarkSent(_ context.Context, id int64, runID, externalMessageID string, now time.Time) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	item, ok := r.p.scheduled[id]
	if !ok {
		return persistence.NewScheduledMessageError("MarkSent", id, persistence.ErrScheduledMessageNotFound)
	}

	sentAt := now
	item.Status = models.ScheduledMessageSent
	item.RunID = runID
	item.ExternalMessageID = externalMessageID
	item.SentAt = &sentAt
	item.UpdatedAt = now
	item.LastError = ""
	item.NextRetryAt = nil

	return nil
}

func (r *scheduledMessages) MarkFailed(_ context.Context, id int64, failure models.DispatchFailure) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	item, ok := r.p.scheduled[id]
	if !ok {
		return persistence.NewScheduledMessageError("MarkFailed", id, persistence.ErrScheduledMessageNotFound)
	}

	item.Status = models.ScheduledMessageFailed
	item.RunID = failure.RunID
	item.LastError = failure.Error
	item.RetryCount = failure.RetryCount
	item.NextRetryAt = failure.NextRetryAt
	item.UpdatedAt = failure.At

	if failure.ExternalMessageID != "" {
		item.ExternalMessageID = failure.ExternalMessageID
	}

	return nil
}

func (r *scheduledMessages) Schedule(_ context.Context, msg *models.ScheduledMessage) (bool, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if msg.IdempotencyKey != "" {
		if _, exists := r.p.idempotency[msg.IdempotencyKey]; exists {
			return false, nil
		}
	}

	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	if msg.UpdatedAt.IsZero() {
		msg.UpdatedAt = msg.CreatedAt
	}

	if msg.Status == "" {
		msg.Status = models.ScheduledMessagePending
	}

	msg.ID = r.p.id()

	stored := *msg
	r.p.scheduled[msg.ID] = &stored

	if msg.IdempotencyKey != "" {
		r.p.idempotency[msg.IdempotencyKey] = msg.ID
	}

	return true, nil
}

func (r *scheduledMessages) ByID(_ context.Context, id int64) (*models.ScheduledMessage, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	item, ok := r.p.scheduled[id]
	if !ok {
		return nil, persistence.NewScheduledMessageError("ByID", id, persistence.ErrScheduledMessageNotFound)
	}

	copied := *item

	return &copied, nil
}

func (r *scheduledMessages) CountOutcomes(_ context.Context, since time.Time) (int, int, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	var sent, failed int

	for _, item := range r.p.scheduled {
		switch {
		case item.Status == models.ScheduledMessageSent && item.SentAt != nil && !item.SentAt.Before(since):
			sent++
		case item.Status == models.ScheduledMessageFailed && !item.UpdatedAt.Before(since):
			failed++
		}
	}

	return sent, failed, nil
}

type runLogs struct {
	p *Persistence
}

func (r *runLogs) Append(_ context.Context, entry *models.RunLogEntry) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	entry.ID = r.p.id()
	copied := *entry
	r.p.runLogs = append(r.p.runLogs, &copied)

	return nil
}

func (r *runLogs) ByRun(_ context.Context, runID string) ([]*models.RunLogEntry, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	var entries []*models.RunLogEntry

	for _, entry := range r.p.runLogs {
		if entry.RunID == runID {
			copied := *entry
			entries = append(entries, &copied)
		}
	}

	return entries, nil
}

type deadLetters struct {
	p *Persistence
}

func (r *deadLetters) Insert(_ context.Context, record *models.DeadLetterRecord) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	record.ID = r.p.id()
	copied := *record
	copied.Payload = append(json.RawMessage(nil), record.Payload...)
	r.p.deadLetters = append(r.p.deadLetters, &copied)

	return nil
}

func (r *deadLetters) ByRun(_ context.Context, runID string) ([]*models.DeadLetterRecord, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	var records []*models.DeadLetterRecord

	for _, record := range r.p.deadLetters {
		if record.RunID == runID {
			copied := *record
			records = append(records, &copied)
		}
	}

	return records, nil
}

func (r *deadLetters) CountSince(_ context.Context, since time.Time) (int, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	count := 0

	for _, record := range r.p.deadLetters {
		if !record.CreatedAt.Before(since) {
			count++
		}
	}

	return count, nil
}

type triggers struct {
	p *Persistence
}

func (r *triggers) Save(_ context.Context, trigger *models.SequenceTrigger) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if trigger.CreatedAt.IsZero() {
		trigger.CreatedAt = time.Now().UTC()
	}

	if trigger.ID == 0 {
		trigger.ID = r.p.id()
	}

	copied := *trigger
	r.p.triggers[trigger.ID] = &copied

	return nil
}

func (r *triggers) Due(_ context.Context, now time.Time, limit int) ([]*models.SequenceTrigger, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	var due []*models.SequenceTrigger

	for _, trigger := range r.p.triggers {
		if trigger.ProcessedAt == nil && !trigger.DueAt.After(now) {
			copied := *trigger
			due = append(due, &copied)
		}
	}

	sort.Slice(due, func(i, j int) bool {
		if due[i].DueAt.Equal(due[j].DueAt) {
			return due[i].ID < due[j].ID
		}

		return due[i].DueAt.Before(due[j].DueAt)
	})

	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	return due, nil
}

func (r *triggers) MarkProcessed(_ context.Context, id int64, now time.Time) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	trigger, ok := r.p.triggers[id]
	if !ok {
		return persistence.ErrTriggerNotFound
	}

	processedAt := now
	trigger.ProcessedAt = &processedAt

	return nil
}

type chatMessages struct {
	p *Persistence
}

func (r *chatMessages) ByID(_ context.Context, id int64) (*models.ChatMessage, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	message, ok := r.p.chatMessages[id]
	if !ok {
		return nil, persistence.ErrChatMessageNotFound
	}

	copied := *message

	return &copied, nil
}

func (r *chatMessages) MarkRevoked(_ context.Context, id int64, now time.Time) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	message, ok := r.p.chatMessages[id]
	if !ok {
		return persistence.ErrChatMessageNotFound
	}

	if message.RevokedAt == nil {
		revokedAt := now
		message.RevokedAt = &revokedAt
	}

	return nil
}

func (r *chatMessages) Delete(_ context.Context, id int64) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if _, ok := r.p.chatMessages[id]; !ok {
		return persistence.ErrChatMessageNotFound
	}

	delete(r.p.chatMessages, id)

	return nil
}
