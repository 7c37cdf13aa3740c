// Package web provides the HTTP trigger boundary of the courier worker.
package web

import (
	"github.com/dukex/courier/pkg/checkpoint"
	"github.com/dukex/courier/pkg/contracts"
	"github.com/dukex/courier/pkg/queue"
	"github.com/dukex/courier/pkg/scheduler"
)

// EnqueueResponse acknowledges a command accepted onto the job queue.
type EnqueueResponse struct {
	OK              bool           `json:"ok"`
	ContractVersion string         `json:"contractVersion"`
	RunID           string         `json:"runId"`
	JobID           string         `json:"jobId"`
	Name            contracts.Kind `json:"name"`
}

// HealthResponse is the worker health view.
type HealthResponse struct {
	OK          bool                `json:"ok"`
	Persistence string              `json:"persistence"`
	Checkpoint  checkpoint.Health   `json:"checkpoint"`
	Queue       *queue.Stats        `json:"queue,omitempty"`
	QueueError  string              `json:"queueError,omitempty"`
	Scheduler   *scheduler.Snapshot `json:"scheduler,omitempty"`
}
