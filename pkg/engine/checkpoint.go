package engine

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Checkpoint is the state of a thread after a node completed.
type Checkpoint struct {
	ThreadID  string          `json:"thread_id"`
	Graph     string          `json:"graph"`
	RunID     string          `json:"run_id,omitempty"`
	Step      int             `json:"step"`
	Node      string          `json:"node"`
	Next      string          `json:"next"`
	State     json.RawMessage `json:"state"`
	CreatedAt time.Time       `json:"created_at"`
}

// Terminal reports whether the checkpointed run reached End.
func (c *Checkpoint) Terminal() bool {
	return c.Next == End
}

// Saver stores checkpoints per thread. Get returns the latest checkpoint or
// ErrCheckpointNotFound.
type Saver interface {
	Get(ctx context.Context, threadID string) (*Checkpoint, error)
	Put(ctx context.Context, checkpoint Checkpoint) error
}

// SaverSource yields the saver a graph is compiled with.
type SaverSource interface {
	Saver(ctx context.Context) (Saver, error)
}

// MemorySaver keeps checkpoints in process memory.
type MemorySaver struct {
	mu      sync.RWMutex
	threads map[string][]Checkpoint
}

func NewMemorySaver() *MemorySaver {
	return &MemorySaver{threads: make(map[string][]Checkpoint)}
}

func (m *MemorySaver) Get(_ context.Context, threadID string) (*Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	history := m.threads[threadID]
	if len(history) == 0 {
		return nil, ErrCheckpointNotFound
	}

	latest := history[len(history)-1]

	return &latest, nil
}

func (m *MemorySaver) Put(_ context.Context, checkpoint Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	checkpoint.State = append(json.RawMessage(nil), checkpoint.State...)
	m.threads[checkpoint.ThreadID] = append(m.threads[checkpoint.ThreadID], checkpoint)

	return nil
}

// History returns every checkpoint written for threadID, oldest first.
func (m *MemorySaver) History(threadID string) []Checkpoint {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]Checkpoint(nil), m.threads[threadID]...)
}
