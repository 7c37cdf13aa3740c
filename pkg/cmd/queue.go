package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/courier/pkg/queue"
	"github.com/dukex/courier/pkg/queue/memory"
	"github.com/dukex/courier/pkg/queue/redis"
)

// NewQueue connects the Redis queue, or an in-process one when redisURL is empty.
func NewQueue(ctx context.Context, logger *slog.Logger, redisURL, name string) (queue.Queue, error) {
	if redisURL == "" {
		logger.WarnContext(ctx, "REDIS_URL is not set, jobs are queued in process and lost on restart")

		return memory.NewQueue(logger), nil
	}

	q, err := redis.Open(ctx, redisURL, name, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open job queue: %w", err)
	}

	return q, nil
}
