// Package automation expands due sequence triggers into scheduled messages.
package automation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/courier/pkg/contracts"
	"github.com/dukex/courier/pkg/engine"
	"github.com/dukex/courier/pkg/models"
	"github.com/dukex/courier/pkg/observability"
	"github.com/dukex/courier/pkg/persistence"
	"github.com/dukex/courier/pkg/template"
	"github.com/google/uuid"
)

const (
	GraphName = "automation_scheduler"

	NodeLoadTriggers     = "load_triggers"
	NodeExpandAndEnqueue = "expand_and_enqueue"

	// DefaultTriggerLimit bounds how many triggers one pass expands.
	DefaultTriggerLimit = 100

	isoMillis = "2006-01-02T15:04:05.000Z"
)

type State struct {
	RunID          string                    `json:"runId"`
	DryRun         bool                      `json:"dryRun"`
	Now            time.Time                 `json:"now"`
	Triggers       []*models.SequenceTrigger `json:"triggers"`
	CreatedCount   int                       `json:"createdCount"`
	DuplicateCount int                       `json:"duplicateCount"`
}

type Scheduler struct {
	messages persistence.ScheduledMessageRepository
	triggers persistence.TriggerRepository
	recorder *observability.Recorder
	limit    int
	now      func() time.Time
	logger   *slog.Logger

	runnable *engine.Runnable[State]
}

type Option func(*Scheduler)

func WithTriggerLimit(limit int) Option {
	return func(s *Scheduler) {
		if limit > 0 {
			s.limit = limit
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// NewScheduler builds the graph once. It checkpoints to process memory only
// since a lost pass is simply repeated on the next tick.
func NewScheduler(p persistence.Persistence, recorder *observability.Recorder, logger *slog.Logger, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		messages: p.ScheduledMessages(),
		triggers: p.Triggers(),
		recorder: recorder,
		limit:    DefaultTriggerLimit,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger.With("module", "automation"),
	}

	for _, opt := range opts {
		opt(s)
	}

	runnable, err := engine.NewGraph[State](GraphName).
		AddNode(NodeLoadTriggers, s.loadTriggers).
		AddNode(NodeExpandAndEnqueue, s.expandAndEnqueue).
		AddEdge(engine.Start, NodeLoadTriggers).
		AddEdge(NodeLoadTriggers, NodeExpandAndEnqueue).
		AddEdge(NodeExpandAndEnqueue, engine.End).
		Compile(engine.NewMemorySaver(), engine.WithLogger(s.logger))
	if err != nil {
		return nil, err
	}

	s.runnable = runnable

	return s, nil
}

func (s *Scheduler) Handle(ctx context.Context, cmd contracts.Command) (contracts.Ack, error) {
	schedulerCmd, ok := cmd.(*contracts.SchedulerRunCommand)
	if !ok {
		return contracts.Ack{}, &contracts.SchemaError{Field: "name", Reason: "unknown_kind", Message: "expected a scheduler command"}
	}

	return s.Run(ctx, schedulerCmd)
}

func (s *Scheduler) Run(ctx context.Context, cmd *contracts.SchedulerRunCommand) (contracts.Ack, error) {
	err := contracts.Validate(cmd)
	if err != nil {
		return contracts.Failure(cmd.RunID, cmd.ThreadID, err), err
	}

	runID := cmd.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	now := s.now()
	if cmd.TriggerAt != nil {
		now = cmd.TriggerAt.UTC()
	}

	threadID := cmd.ThreadID
	if threadID == "" {
		threadID = "scheduler-" + s.now().Format(time.DateOnly)
	}

	ctx = withRun(ctx, s.recorderFor(cmd.DryRun).Run(runID, threadID, GraphName))

	invoke := engine.InvokeConfig{ThreadID: threadID, RunID: runID}
	if cmd.DryRun {
		invoke.ThreadID = ""
	}

	final, err := s.runnable.Invoke(ctx, State{RunID: runID, DryRun: cmd.DryRun, Now: now}, invoke)
	if err != nil {
		return contracts.Failure(runID, threadID, err), err
	}

	return contracts.Success(runID, threadID, "scheduler_graph_executed", map[string]any{
		"createdCount":   final.CreatedCount,
		"duplicateCount": final.DuplicateCount,
		"triggerCount":   len(final.Triggers),
		"dryRun":         cmd.DryRun,
	}), nil
}

func (s *Scheduler) recorderFor(dryRun bool) *observability.Recorder {
	if dryRun {
		return s.recorder.Ephemeral()
	}

	return s.recorder
}

func (s *Scheduler) loadTriggers(ctx context.Context, state State) (State, error) {
	triggers, err := s.triggers.Due(ctx, state.Now, s.limit)
	if err != nil {
		return state, fmt.Errorf("failed to load due triggers: %w", err)
	}

	state.Triggers = triggers

	runFrom(ctx).Info(ctx, NodeLoadTriggers, "triggers_loaded", map[string]any{
		"triggerCount": len(triggers),
		"limit":        s.limit,
	})

	return state, nil
}

func (s *Scheduler) expandAndEnqueue(ctx context.Context, state State) (State, error) {
	run := runFrom(ctx)

	for _, trigger := range state.Triggers {
		base := trigger.DueAt
		if base.IsZero() {
			base = state.Now
		}

		messages := Expand(trigger, base, state.RunID)

		created, duplicates := 0, 0

		for _, msg := range messages {
			if state.DryRun {
				created++

				continue
			}

			inserted, err := s.messages.Schedule(ctx, msg)
			if err != nil {
				return state, fmt.Errorf("failed to schedule message for trigger %d: %w", trigger.ID, err)
			}

			if inserted {
				created++
			} else {
				duplicates++
			}
		}

		if !state.DryRun {
			err := s.triggers.MarkProcessed(ctx, trigger.ID, s.now())
			if err != nil {
				return state, fmt.Errorf("failed to mark trigger %d processed: %w", trigger.ID, err)
			}
		}

		metadata := map[string]any{
			"triggerId":      trigger.ID,
			"ruleId":         trigger.RuleID,
			"chatId":         trigger.ChatID,
			"createdCount":   created,
			"duplicateCount": duplicates,
		}

		if missing := missingVariables(trigger); len(missing) > 0 {
			metadata["missingVariables"] = missing
			run.Warn(ctx, NodeExpandAndEnqueue, "sequence_enqueued_with_missing_variables", metadata)
		} else {
			run.Info(ctx, NodeExpandAndEnqueue, "sequence_enqueued", metadata)
		}

		state.CreatedCount += created
		state.DuplicateCount += duplicates
	}

	return state, nil
}

// Expand turns the trigger's sequence into scheduled messages. The first
// message is due at base and each following one after the sum of the delays of the messages before it, with
// models.DefaultSequenceGap standing in for a missing delay.
func Expand(trigger *models.SequenceTrigger, base time.Time, runID string) []*models.ScheduledMessage {
	messages := make([]*models.ScheduledMessage, 0, len(trigger.Sequence))
	offset := time.Duration(0)
	ruleID := trigger.RuleID

	for index, step := range trigger.Sequence {
		scheduledFor := base.Add(offset).UTC()

		content, caption := step.Content, step.Caption
		if step.Type == "text" {
			content = template.Render(content, trigger.Variables)
		} else if caption != "" {
			caption = template.Render(caption, trigger.Variables)
		}

		messages = append(messages, &models.ScheduledMessage{
			ChatID: trigger.ChatID,
			Phone:  trigger.Phone,
			Title:  "Automation: " + trigger.RuleName,
			Content: models.MessageContent{
				Type:    step.Type,
				Content: content,
				Caption: caption,
			},
			ScheduledFor:     scheduledFor,
			Status:           models.ScheduledMessagePending,
			AutomationRuleID: &ruleID,
			RunID:            runID,
			IdempotencyKey:   fmt.Sprintf("%d:%d:%s:%d", trigger.RuleID, trigger.ChatID, scheduledFor.Format(isoMillis), index),
		})

		if step.Delay > 0 {
			offset += time.Duration(step.Delay) * time.Second
		} else {
			offset += models.DefaultSequenceGap
		}
	}

	return messages
}

func missingVariables(trigger *models.SequenceTrigger) []string {
	var missing []string

	for _, step := range trigger.Sequence {
		if step.Type == "text" {
			missing = append(missing, template.Missing(step.Content, trigger.Variables)...)
		}

		missing = append(missing, template.Missing(step.Caption, trigger.Variables)...)
	}

	return missing
}

type runKey struct{}

func withRun(ctx context.Context, run *observability.RunLog) context.Context {
	return context.WithValue(ctx, runKey{}, run)
}

func runFrom(ctx context.Context) *observability.RunLog {
	return ctx.Value(runKey{}).(*observability.RunLog)
}
