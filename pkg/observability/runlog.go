// Package observability records run events and dead letters, and derives the
// rolling delivery SLO from them.
package observability

import (
	"context"
	"log/slog"

	"github.com/dukex/courier/pkg/models"
	"github.com/dukex/courier/pkg/persistence"
)

// Recorder writes run events to slog and, when durable, to the run-log and
// dead-letter repositories.
type Recorder struct {
	logger      *slog.Logger
	runLogs     persistence.RunLogRepository
	deadLetters persistence.DeadLetterRepository
}

func NewRecorder(logger *slog.Logger, runLogs persistence.RunLogRepository, deadLetters persistence.DeadLetterRepository) *Recorder {
	return &Recorder{
		logger:      logger.With("module", "run_recorder"),
		runLogs:     runLogs,
		deadLetters: deadLetters,
	}
}

// Ephemeral returns a recorder that only logs. Dry runs use it.
func (r *Recorder) Ephemeral() *Recorder {
	return &Recorder{logger: r.logger}
}

func (r *Recorder) Durable() bool {
	return r.runLogs != nil
}

// Run scopes the recorder to one graph execution.
func (r *Recorder) Run(runID, threadID, graph string) *RunLog {
	return &RunLog{
		recorder: r,
		runID:    runID,
		threadID: threadID,
		graph:    graph,
		logger:   r.logger.With("run_id", runID, "thread_id", threadID, "graph", graph),
	}
}

// RunLog is a Recorder bound to a run.
type RunLog struct {
	recorder *Recorder
	runID    string
	threadID string
	graph    string
	logger   *slog.Logger
}

func (l *RunLog) RunID() string {
	return l.runID
}

func (l *RunLog) ThreadID() string {
	return l.threadID
}

func (l *RunLog) Info(ctx context.Context, node, message string, metadata map[string]any) {
	l.write(ctx, models.LogLevelInfo, node, message, metadata)
}

func (l *RunLog) Warn(ctx context.Context, node, message string, metadata map[string]any) {
	l.write(ctx, models.LogLevelWarn, node, message, metadata)
}

func (l *RunLog) Error(ctx context.Context, node, message string, metadata map[string]any) {
	l.write(ctx, models.LogLevelError, node, message, metadata)
}

func (l *RunLog) write(ctx context.Context, level models.LogLevel, node, message string, metadata map[string]any) {
	attrs := make([]any, 0, 2+2*len(metadata))
	attrs = append(attrs, "node", node)

	for key, value := range metadata {
		attrs = append(attrs, key, value)
	}

	switch level {
	case models.LogLevelError:
		l.logger.ErrorContext(ctx, message, attrs...)
	case models.LogLevelWarn:
		l.logger.WarnContext(ctx, message, attrs...)
	default:
		l.logger.InfoContext(ctx, message, attrs...)
	}

	if l.recorder.runLogs == nil {
		return
	}

	err := l.recorder.runLogs.Append(ctx, &models.RunLogEntry{
		RunID:     l.runID,
		ThreadID:  l.threadID,
		GraphName: l.graph,
		NodeName:  node,
		Level:     level,
		Message:   message,
		Metadata:  metadata,
	})
	if err != nil {
		// Run logs are best effort.
		l.logger.WarnContext(ctx, "Failed to append run log", "error", err)
	}
}

// DeadLetter stores record under this run and logs it at error level with
// its retryability.
func (l *RunLog) DeadLetter(ctx context.Context, record *models.DeadLetterRecord) error {
	record.RunID = l.runID
	record.ThreadID = l.threadID
	record.GraphName = l.graph

	l.logger.ErrorContext(ctx, "Dead letter recorded",
		"node", record.SourceNode,
		"error_code", record.ErrorCode,
		"error", record.ErrorMessage,
		"attempts", record.Attempts,
		"retryable", record.Retryable,
	)

	if l.recorder.deadLetters == nil {
		return nil
	}

	return l.recorder.deadLetters.Insert(ctx, record)
}
