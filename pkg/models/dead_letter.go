package models

import (
	"encoding/json"
	"time"
)

// DeadLetterRecord is the terminal record of a job or scheduled message that
// exhausted its retries.
type DeadLetterRecord struct {
	ID                 int64           `json:"id,omitempty"`
	RunID              string          `json:"run_id"`
	ThreadID           string          `json:"thread_id,omitempty"`
	GraphName          string          `json:"graph_name"`
	SourceNode         string          `json:"source_node,omitempty"`
	JobID              string          `json:"job_id,omitempty"`
	ScheduledMessageID *int64          `json:"scheduled_message_id,omitempty"`
	ErrorCode          string          `json:"error_code"`
	ErrorMessage       string          `json:"error_message"`
	Attempts           int             `json:"attempts"`
	Retryable          bool            `json:"retryable"`
	Payload            json.RawMessage `json:"payload,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
}
