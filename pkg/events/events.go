// Package events defines the lifecycle notifications published by the worker.
package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

// Topic carries every courier lifecycle event.
const Topic = "courier.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	RunCompletedEvent      EventType = "run.completed"
	RunFailedEvent         EventType = "run.failed"
	JobDeadLetteredEvent   EventType = "job.dead_lettered"
	MessageDispatchedEvent EventType = "message.dispatched"
)

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	RunID     string         `json:"run_id"`
	ThreadID  string         `json:"thread_id,omitempty"`
	WorkerID  string         `json:"worker_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, runID, threadID, workerID string) BaseEvent {
	return BaseEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		RunID:     runID,
		ThreadID:  threadID,
		WorkerID:  workerID,
	}
}

// RunCompleted is published when a job handler acknowledged successfully.
type RunCompleted struct {
	BaseEvent

	Graph    string         `json:"graph"`
	JobID    string         `json:"job_id"`
	Attempts int            `json:"attempts"`
	Duration time.Duration  `json:"duration"`
	Data     map[string]any `json:"data,omitempty"`
}

func (e RunCompleted) GetType() EventType {
	return RunCompletedEvent
}

// RunFailed is published for every failed attempt, retryable or not.
type RunFailed struct {
	BaseEvent

	Graph     string `json:"graph"`
	JobID     string `json:"job_id"`
	Attempt   int    `json:"attempt"`
	Code      string `json:"code"`
	Error     string `json:"error"`
	Retryable bool   `json:"retryable"`
}

func (e RunFailed) GetType() EventType {
	return RunFailedEvent
}

type JobDeadLettered struct {
	BaseEvent

	Graph    string `json:"graph"`
	JobID    string `json:"job_id,omitempty"`
	Code     string `json:"code"`
	Error    string `json:"error"`
	Attempts int    `json:"attempts"`
}

func (e JobDeadLettered) GetType() EventType {
	return JobDeadLetteredEvent
}

// MessageDispatched reports the terminal status of one scheduled message in a dispatch pass.
type MessageDispatched struct {
	BaseEvent

	ScheduledMessageID int64  `json:"scheduled_message_id"`
	ChatID             int64  `json:"chat_id"`
	Status             string `json:"status"`
	ExternalMessageID  string `json:"external_message_id,omitempty"`
	Error              string `json:"error,omitempty"`
}

func (e MessageDispatched) GetType() EventType {
	return MessageDispatchedEvent
}
