// Package funnel sends an ordered sequence of messages to one recipient,
// checkpointing after every step.
package funnel

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/courier/pkg/contracts"
	"github.com/dukex/courier/pkg/engine"
	"github.com/dukex/courier/pkg/gateway"
	"github.com/dukex/courier/pkg/observability"
	"github.com/google/uuid"
)

const (
	GraphName       = "chat_funnel"
	NodeExecuteStep = "execute_step"

	StepCompleted = "completed"
	StepFailed    = "failed"
)

// Messenger is the gateway surface a funnel needs.
type Messenger interface {
	gateway.Sender
	gateway.Presencer
}

// StepResult records what happened to one step.
type StepResult struct {
	Index             int                `json:"index"`
	Type              contracts.StepType `json:"type"`
	Status            string             `json:"status"`
	ExternalMessageID string             `json:"externalMessageId,omitempty"`
	Error             string             `json:"error,omitempty"`
}

type State struct {
	RunID     string                 `json:"runId"`
	ThreadID  string                 `json:"threadId"`
	ChatID    int64                  `json:"chatId"`
	Phone     string                 `json:"phone"`
	Title     string                 `json:"title"`
	Steps     []contracts.FunnelStep `json:"steps"`
	StepIndex int                    `json:"stepIndex"`
	Results   []StepResult           `json:"results"`
	Halted    bool                   `json:"halted"`
}

// Completed counts the steps that finished successfully.
func (s State) Completed() int {
	completed := 0

	for _, result := range s.Results {
		if result.Status == StepCompleted {
			completed++
		}
	}

	return completed
}

type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type Runner struct {
	messenger Messenger
	savers    engine.SaverSource
	recorder  *observability.Recorder
	metrics   *observability.Metrics
	sleep     Sleeper
	logger    *slog.Logger
}

type Option func(*Runner)

func WithSleeper(sleep Sleeper) Option {
	return func(r *Runner) {
		r.sleep = sleep
	}
}

func WithMetrics(metrics *observability.Metrics) Option {
	return func(r *Runner) {
		r.metrics = metrics
	}
}

func NewRunner(messenger Messenger, savers engine.SaverSource, recorder *observability.Recorder, logger *slog.Logger, opts ...Option) *Runner {
	r := &Runner{
		messenger: messenger,
		savers:    savers,
		recorder:  recorder,
		sleep:     sleepContext,
		logger:    logger.With("module", "funnel"),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

func (r *Runner) Handle(ctx context.Context, cmd contracts.Command) (contracts.Ack, error) {
	funnelCmd, ok := cmd.(*contracts.FunnelRunCommand)
	if !ok {
		return contracts.Ack{}, &contracts.SchemaError{Field: "name", Reason: "unknown_kind", Message: "expected a funnel command"}
	}

	return r.Run(ctx, funnelCmd)
}

// Run executes the funnel. A failed step halts the sequence and yields a
// negative Ack listing what completed; it is not returned as an error, so the
// worker does not resend the steps that were already delivered. Errors are
// returned only when the run itself broke and may resume from its checkpoint.
func (r *Runner) Run(ctx context.Context, cmd *contracts.FunnelRunCommand) (contracts.Ack, error) {
	err := contracts.Validate(cmd)
	if err != nil {
		return contracts.Failure(cmd.RunID, cmd.ThreadID, err), err
	}

	runID := cmd.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	threadID := cmd.ThreadID
	if threadID == "" {
		threadID = fmt.Sprintf("chat-%d-funnel-%s", cmd.ChatID, runID)
	}

	saver, err := r.savers.Saver(ctx)
	if err != nil {
		return contracts.Failure(runID, threadID, err), err
	}

	run := r.recorder.Run(runID, threadID, GraphName)

	runnable, err := engine.NewGraph[State](GraphName).
		AddNode(NodeExecuteStep, func(ctx context.Context, s State) (State, error) {
			return r.executeStep(ctx, run, s)
		}).
		AddEdge(engine.Start, NodeExecuteStep).
		AddConditionalEdge(NodeExecuteStep, next, NodeExecuteStep, engine.End).
		Compile(saver, engine.WithLogger(r.logger), engine.WithMaxSteps(contracts.MaxFunnelSteps+1))
	if err != nil {
		return contracts.Failure(runID, threadID, err), err
	}

	final, err := runnable.Invoke(ctx, State{
		RunID:    runID,
		ThreadID: threadID,
		ChatID:   cmd.ChatID,
		Phone:    cmd.Phone,
		Title:    cmd.Title,
		Steps:    cmd.Steps,
	}, engine.InvokeConfig{ThreadID: threadID, RunID: runID})
	if err != nil {
		return contracts.Failure(runID, threadID, err), err
	}

	data := map[string]any{
		"completedSteps": final.Completed(),
		"totalSteps":     len(final.Steps),
		"title":          final.Title,
		"steps":          final.Results,
	}

	if !final.Halted {
		return contracts.Success(runID, threadID, "chat_funnel_graph_executed", data), nil
	}

	failed := final.Results[len(final.Results)-1]
	data["failedStep"] = failed.Index

	ack := contracts.Failure(runID, threadID, &contracts.Error{
		Op:      NodeExecuteStep,
		Code:    contracts.CodeFunnelStepFailed,
		Message: failed.Error,
	})
	ack.Message = "chat_funnel_graph_halted"
	ack.Data = data

	return ack, nil
}

func next(s State) string {
	if s.Halted || s.StepIndex >= len(s.Steps) {
		return engine.End
	}

	return NodeExecuteStep
}

func (r *Runner) executeStep(ctx context.Context, run *observability.RunLog, s State) (State, error) {
	if s.StepIndex >= len(s.Steps) {
		return s, nil
	}

	step := s.Steps[s.StepIndex]
	delay := time.Duration(max(step.Delay, 0)) * time.Second
	result := StepResult{Index: s.StepIndex, Type: step.Type}

	if step.Type == contracts.StepWait {
		err := r.sleep(ctx, delay)
		if err != nil {
			return s, err
		}

		result.Status = StepCompleted
		run.Info(ctx, NodeExecuteStep, "wait_step_done", map[string]any{
			"stepIndex": s.StepIndex,
			"delaySec":  step.Delay,
		})
		r.metrics.FunnelStep("waited")

		return advance(s, result), nil
	}

	presence := gateway.PresenceComposing
	if step.Type == contracts.StepAudio {
		presence = gateway.PresenceRecording
	}

	err := r.messenger.SetPresence(ctx, s.Phone, presence, max(delay, time.Second))
	if err != nil {
		r.logger.WarnContext(ctx, "Failed to set presence", "run_id", s.RunID, "step_index", s.StepIndex, "error", err)
	}

	err = r.sleep(ctx, delay)
	if err != nil {
		return s, err
	}

	res, err := r.messenger.Send(ctx, gateway.SendRequest{
		Phone:   s.Phone,
		Type:    gateway.MessageType(step.Type),
		Content: step.Content,
	})
	if err != nil {
		r.logger.WarnContext(ctx, "Gateway call failed", "run_id", s.RunID, "step_index", s.StepIndex, "error", err)

		res = gateway.SendResult{Status: 0}
	}

	if !res.OK {
		result.Status = StepFailed
		result.Error = fmt.Sprintf("funnel_send_failed_%d", res.Status)

		run.Error(ctx, NodeExecuteStep, "step_failed", map[string]any{
			"stepIndex": s.StepIndex,
			"stepType":  step.Type,
			"status":    res.Status,
			"remaining": len(s.Steps) - s.StepIndex - 1,
		})
		r.metrics.FunnelStep(StepFailed)

		s.Results = append(s.Results, result)
		s.Halted = true

		return s, nil
	}

	result.Status = StepCompleted
	result.ExternalMessageID = res.ExternalMessageID

	run.Info(ctx, NodeExecuteStep, "step_sent", map[string]any{
		"stepIndex": s.StepIndex,
		"stepType":  step.Type,
		"wppId":     res.ExternalMessageID,
	})
	r.metrics.FunnelStep("sent")

	return advance(s, result), nil
}

func advance(s State, result StepResult) State {
	s.Results = append(s.Results, result)
	s.StepIndex++

	return s
}
