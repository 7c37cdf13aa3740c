package models

import "time"

type LogLevel string

const (
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// RunLogEntry is one structured event emitted during a graph run.
type RunLogEntry struct {
	ID        int64          `json:"id,omitempty"`
	RunID     string         `json:"run_id"`
	ThreadID  string         `json:"thread_id,omitempty"`
	GraphName string         `json:"graph_name"`
	NodeName  string         `json:"node_name,omitempty"`
	Level     LogLevel       `json:"level"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
