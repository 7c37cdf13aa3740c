package cmd

import (
	"context"
	"log/slog"

	"github.com/dukex/courier/pkg/eventbus"
	"github.com/dukex/courier/pkg/events"
)

// RegisterEventLog attaches handlers that log the run lifecycle events
// published by workers.
func RegisterEventLog(bus eventbus.EventBus, logger *slog.Logger) error {
	logger = logger.With("module", "events")

	handlers := map[events.EventType]eventbus.EventHandler{
		events.RunCompletedEvent: func(ctx context.Context, event any) error {
			e, ok := event.(*events.RunCompleted)
			if !ok {
				return nil
			}

			logger.InfoContext(ctx, "Run completed",
				"run_id", e.RunID, "graph", e.Graph, "job_id", e.JobID,
				"attempts", e.Attempts, "duration", e.Duration)

			return nil
		},
		events.RunFailedEvent: func(ctx context.Context, event any) error {
			e, ok := event.(*events.RunFailed)
			if !ok {
				return nil
			}

			logger.WarnContext(ctx, "Run attempt failed",
				"run_id", e.RunID, "graph", e.Graph, "job_id", e.JobID,
				"attempt", e.Attempt, "code", e.Code, "retryable", e.Retryable, "error", e.Error)

			return nil
		},
		events.JobDeadLetteredEvent: func(ctx context.Context, event any) error {
			e, ok := event.(*events.JobDeadLettered)
			if !ok {
				return nil
			}

			logger.ErrorContext(ctx, "Job dead-lettered",
				"run_id", e.RunID, "graph", e.Graph, "job_id", e.JobID,
				"attempts", e.Attempts, "code", e.Code, "error", e.Error)

			return nil
		},
		events.MessageDispatchedEvent: func(ctx context.Context, event any) error {
			e, ok := event.(*events.MessageDispatched)
			if !ok {
				return nil
			}

			logger.DebugContext(ctx, "Message dispatched",
				"run_id", e.RunID, "scheduled_message_id", e.ScheduledMessageID,
				"chat_id", e.ChatID, "status", e.Status)

			return nil
		},
	}

	for eventType, handler := range handlers {
		err := bus.Handle(eventType, handler)
		if err != nil {
			return err
		}
	}

	return nil
}
