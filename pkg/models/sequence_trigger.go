package models

import "time"

// DefaultSequenceGap is applied between sequence messages that carry no delay.
const DefaultSequenceGap = 2 * time.Second

// SequenceMessage is one message of an automation sequence. Delay is in seconds.
type SequenceMessage struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	Caption string `json:"caption,omitempty"`
	Delay   int    `json:"delay,omitempty"`
}

// SequenceTrigger is a due automation: a rule matched a chat and its message
// sequence must be expanded into scheduled messages.
type SequenceTrigger struct {
	ID          int64             `json:"id"`
	RuleID      int64             `json:"rule_id"`
	RuleName    string            `json:"rule_name"`
	ChatID      int64             `json:"chat_id"`
	Phone       string            `json:"phone"`
	DueAt       time.Time         `json:"due_at"`
	Sequence    []SequenceMessage `json:"sequence"`
	Variables   map[string]string `json:"variables,omitempty"`
	ProcessedAt *time.Time        `json:"processed_at,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}
