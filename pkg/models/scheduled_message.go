// Package models defines the entities shared by the dispatch, automation and observability layers.
package models

import "time"

type ScheduledMessageStatus string

const (
	ScheduledMessagePending ScheduledMessageStatus = "pending"
	ScheduledMessageSending ScheduledMessageStatus = "sending"
	ScheduledMessageSent    ScheduledMessageStatus = "sent"
	ScheduledMessageFailed  ScheduledMessageStatus = "failed"
)

// MaxDispatchRetries is the number of failed sends after which an item is dead-lettered.
const MaxDispatchRetries = 3

// MessageContent is the channel specific payload of a scheduled message.
type MessageContent struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	Caption string `json:"caption,omitempty"`
}

type ScheduledMessage struct {
	ID                int64                  `json:"id"`
	ChatID            int64                  `json:"chat_id"`
	Phone             string                 `json:"phone"`
	Title             string                 `json:"title"`
	Content           MessageContent         `json:"content"`
	ScheduledFor      time.Time              `json:"scheduled_for"`
	Status            ScheduledMessageStatus `json:"status"`
	AutomationRuleID  *int64                 `json:"automation_rule_id,omitempty"`
	RunID             string                 `json:"run_id,omitempty"`
	IdempotencyKey    string                 `json:"idempotency_key,omitempty"`
	RetryCount        int                    `json:"retry_count"`
	LastError         string                 `json:"last_error,omitempty"`
	NextRetryAt       *time.Time             `json:"next_retry_at,omitempty"`
	ExternalMessageID string                 `json:"external_message_id,omitempty"`
	SentAt            *time.Time             `json:"sent_at,omitempty"`
	CreatedAt         time.Time              `json:"created_at"`
	UpdatedAt         time.Time              `json:"updated_at"`
}

// DispatchFailure describes a failed send to be recorded on a scheduled message.
type DispatchFailure struct {
	RunID             string
	Error             string
	RetryCount        int
	NextRetryAt       *time.Time
	ExternalMessageID string
	At                time.Time
}

// RetryWindow computes when an item that has failed retryCount times becomes due again.
// It returns nil once the item has exhausted MaxDispatchRetries.
func RetryWindow(retryCount int, now time.Time) *time.Time {
	if retryCount >= MaxDispatchRetries {
		return nil
	}

	next := now.Add(time.Duration(1<<retryCount) * time.Minute)

	return &next
}
