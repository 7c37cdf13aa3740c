// Package queue defines the durable job queue consumed by the worker.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dukex/courier/pkg/contracts"
	"github.com/google/uuid"
)

// DefaultDeadLimit is how many dead-lettered jobs a queue keeps. Older ones
// are dropped; their durable record lives in the dead-letter repository.
const DefaultDeadLimit = 1000

var (
	// ErrEmpty is returned by Reserve when no job arrived before the timeout.
	ErrEmpty = errors.New("queue is empty")

	ErrClosed = errors.New("queue is closed")

	ErrJobNotFound = errors.New("job not found")
)

// Job is a queued command tagged by its kind.
type Job struct {
	ID         string          `json:"id"`
	Name       contracts.Kind  `json:"name"`
	Payload    json.RawMessage `json:"payload"`
	Attempts   int             `json:"attempts"`
	LastError  string          `json:"lastError,omitempty"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// NewJob validates cmd and wraps it into a job ready to be stored.
func NewJob(cmd contracts.Command, now time.Time) (*Job, error) {
	err := contracts.Validate(cmd)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s command: %w", cmd.Kind(), err)
	}

	return &Job{
		ID:         uuid.NewString(),
		Name:       cmd.Kind(),
		Payload:    payload,
		EnqueuedAt: now,
		UpdatedAt:  now,
	}, nil
}

// Command decodes the payload into the command type named by the job. The
// result is not validated.
func (j *Job) Command() (contracts.Command, error) {
	cmd, err := contracts.NewCommand(j.Name)
	if err != nil {
		return nil, err
	}

	err = json.Unmarshal(j.Payload, cmd)
	if err != nil {
		return nil, &contracts.SchemaError{Field: "payload", Reason: "invalid_json", Message: err.Error()}
	}

	return cmd, nil
}

// Stats is a point-in-time view of the queue.
type Stats struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Dead      int64 `json:"dead"`
	Completed int64 `json:"completed"`
}

// Queue stores jobs between producers and the worker.
//
// A job moves waiting -> active on Reserve, and active -> removed on Complete
// or active -> dead on Fail. Recover moves jobs left active by a crashed
// worker back to waiting.
type Queue interface {
	// Enqueue validates cmd before anything is stored.
	Enqueue(ctx context.Context, cmd contracts.Command) (*Job, error)
	// Reserve blocks up to timeout for the next job. It returns ErrEmpty on timeout.
	Reserve(ctx context.Context, timeout time.Duration) (*Job, error)
	// Update stores the attempt bookkeeping of an active job.
	Update(ctx context.Context, job *Job) error
	Complete(ctx context.Context, job *Job) error
	Fail(ctx context.Context, job *Job) error
	Recover(ctx context.Context) (int, error)
	Stats(ctx context.Context) (Stats, error)
	Close() error
}
