// Package memory provides an in-process queue for single binary deployments
// and tests. Jobs do not survive a restart.
package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/courier/pkg/contracts"
	"github.com/dukex/courier/pkg/queue"
)

type Queue struct {
	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	jobs      map[string]*queue.Job
	waiting   []string
	active    []string
	dead      []string
	completed int64
	closed    bool
	notify    chan struct{}
	deadLimit int
}

type Option func(*Queue)

// WithDeadLimit caps how many dead jobs are kept.
func WithDeadLimit(limit int) Option {
	return func(q *Queue) {
		if limit > 0 {
			q.deadLimit = limit
		}
	}
}

func NewQueue(logger *slog.Logger, opts ...Option) *Queue {
	q := &Queue{
		logger:    logger.With("module", "memory_queue"),
		now:       time.Now,
		jobs:      make(map[string]*queue.Job),
		notify:    make(chan struct{}, 1),
		deadLimit: queue.DefaultDeadLimit,
	}

	for _, opt := range opts {
		opt(q)
	}

	return q
}

func (q *Queue) Enqueue(ctx context.Context, cmd contracts.Command) (*queue.Job, error) {
	job, err := queue.NewJob(cmd, q.now().UTC())
	if err != nil {
		return nil, err
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()

		return nil, queue.ErrClosed
	}

	stored := *job
	q.jobs[job.ID] = &stored
	q.waiting = append(q.waiting, job.ID)
	q.mu.Unlock()

	q.signal()

	q.logger.DebugContext(ctx, "Job enqueued", "job_id", job.ID, "job_name", job.Name)

	return job, nil
}

func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *Queue) Reserve(ctx context.Context, timeout time.Duration) (*queue.Job, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		job, err := q.pop()
		if err != nil || job != nil {
			return job, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, queue.ErrEmpty
		case <-q.notify:
		}
	}
}

func (q *Queue) pop() (*queue.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, queue.ErrClosed
	}

	if len(q.waiting) == 0 {
		return nil, nil
	}

	id := q.waiting[0]
	q.waiting = q.waiting[1:]
	q.active = append(q.active, id)

	job := *q.jobs[id]

	return &job, nil
}

func (q *Queue) Update(_ context.Context, job *queue.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.jobs[job.ID]; !ok {
		return queue.ErrJobNotFound
	}

	stored := *job
	stored.UpdatedAt = q.now().UTC()
	q.jobs[job.ID] = &stored

	return nil
}

func (q *Queue) Complete(_ context.Context, job *queue.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !remove(&q.active, job.ID) {
		return queue.ErrJobNotFound
	}

	delete(q.jobs, job.ID)
	q.completed++

	return nil
}

func (q *Queue) Fail(_ context.Context, job *queue.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !remove(&q.active, job.ID) {
		return queue.ErrJobNotFound
	}

	stored := *job
	stored.UpdatedAt = q.now().UTC()
	q.jobs[job.ID] = &stored
	q.dead = append(q.dead, job.ID)

	if overflow := len(q.dead) - q.deadLimit; overflow > 0 {
		for _, id := range q.dead[:overflow] {
			delete(q.jobs, id)
		}

		q.dead = q.dead[overflow:]
	}

	return nil
}

func (q *Queue) Recover(ctx context.Context) (int, error) {
	q.mu.Lock()
	recovered := len(q.active)
	q.waiting = append(q.active, q.waiting...)
	q.active = nil
	q.mu.Unlock()

	if recovered > 0 {
		q.logger.InfoContext(ctx, "Recovered active jobs", "count", recovered)
		q.signal()
	}

	return recovered, nil
}

func (q *Queue) Stats(_ context.Context) (queue.Stats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	return queue.Stats{
		Waiting:   int64(len(q.waiting)),
		Active:    int64(len(q.active)),
		Dead:      int64(len(q.dead)),
		Completed: q.completed,
	}, nil
}

// Dead returns the jobs moved to the dead list, oldest first.
func (q *Queue) Dead() []*queue.Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	jobs := make([]*queue.Job, 0, len(q.dead))
	for _, id := range q.dead {
		job := *q.jobs[id]
		jobs = append(jobs, &job)
	}

	return jobs
}

func (q *Queue) Close() error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	q.signal()

	return nil
}

func remove(ids *[]string, id string) bool {
	for i, candidate := range *ids {
		if candidate == id {
			*ids = append((*ids)[:i], (*ids)[i+1:]...)

			return true
		}
	}

	return false
}
