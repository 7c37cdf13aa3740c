// Package dispatch sends due scheduled messages through the gateway and
// records their terminal status.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukex/courier/pkg/contracts"
	"github.com/dukex/courier/pkg/engine"
	"github.com/dukex/courier/pkg/eventbus"
	"github.com/dukex/courier/pkg/events"
	"github.com/dukex/courier/pkg/gateway"
	"github.com/dukex/courier/pkg/models"
	"github.com/dukex/courier/pkg/observability"
	"github.com/dukex/courier/pkg/persistence"
	"github.com/google/uuid"
)

const (
	GraphName = "scheduled_dispatch"

	NodeClaimPending  = "claim_pending"
	NodeDispatchBatch = "dispatch_batch"

	ErrChatDataMissing = "chat_data_missing"
)

// State is checkpointed between the claim and dispatch nodes.
type State struct {
	RunID     string                     `json:"runId"`
	ThreadID  string                     `json:"threadId"`
	WorkerID  string                     `json:"workerId"`
	BatchSize int                        `json:"batchSize"`
	DryRun    bool                       `json:"dryRun"`
	Now       time.Time                  `json:"now"`
	Claimed   []*models.ScheduledMessage `json:"claimed"`
	Results   []ItemResult               `json:"results"`
}

// ItemResult is the outcome of one claimed message.
type ItemResult struct {
	ScheduledMessageID int64                         `json:"scheduledMessageId"`
	Status             models.ScheduledMessageStatus `json:"status"`
	ExternalMessageID  string                        `json:"externalMessageId,omitempty"`
	Error              string                        `json:"error,omitempty"`
	DeadLettered       bool                          `json:"deadLettered,omitempty"`
	Skipped            bool                          `json:"skipped,omitempty"`
}

// Counts summarizes the results of a pass.
func (s State) Counts() (sent, failed, deadLetter int) {
	for _, result := range s.Results {
		switch {
		case result.Skipped:
		case result.Status == models.ScheduledMessageSent:
			sent++
		default:
			failed++
		}

		if result.DeadLettered {
			deadLetter++
		}
	}

	return sent, failed, deadLetter
}

type Pipeline struct {
	messages  persistence.ScheduledMessageRepository
	sender    gateway.Sender
	savers    engine.SaverSource
	recorder  *observability.Recorder
	metrics   *observability.Metrics
	publisher eventbus.EventPublisher
	workerID  string
	now       func() time.Time
	logger    *slog.Logger
}

type Option func(*Pipeline)

func WithMetrics(metrics *observability.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = metrics
	}
}

func WithPublisher(publisher eventbus.EventPublisher) Option {
	return func(p *Pipeline) {
		p.publisher = publisher
	}
}

func WithWorkerID(id string) Option {
	return func(p *Pipeline) {
		if id != "" {
			p.workerID = id
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

func NewPipeline(
	messages persistence.ScheduledMessageRepository,
	sender gateway.Sender,
	savers engine.SaverSource,
	recorder *observability.Recorder,
	logger *slog.Logger,
	opts ...Option,
) *Pipeline {
	p := &Pipeline{
		messages:  messages,
		sender:    sender,
		savers:    savers,
		recorder:  recorder,
		publisher: eventbus.Discard{},
		workerID:  "courier-dispatch",
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger.With("module", "dispatch"),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Handle lets the pipeline serve dispatch jobs.
func (p *Pipeline) Handle(ctx context.Context, cmd contracts.Command) (contracts.Ack, error) {
	dispatchCmd, ok := cmd.(*contracts.DispatchRunCommand)
	if !ok {
		return contracts.Ack{}, &contracts.SchemaError{Field: "name", Reason: "unknown_kind", Message: "expected a dispatch command"}
	}

	return p.Run(ctx, dispatchCmd)
}

// Run executes one dispatch pass. Dry runs read due items but neither claim,
// send, checkpoint nor persist anything.
func (p *Pipeline) Run(ctx context.Context, cmd *contracts.DispatchRunCommand) (contracts.Ack, error) {
	err := contracts.Validate(cmd)
	if err != nil {
		return contracts.Failure(cmd.RunID, cmd.ThreadID, err), err
	}

	now := p.now()
	if cmd.NowISO != nil {
		now = cmd.NowISO.UTC()
	}

	runID := cmd.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	threadID := cmd.ThreadID
	if threadID == "" {
		threadID = fmt.Sprintf("dispatch-%s-%s", p.now().Format(time.DateOnly), p.workerID)
	}

	recorder := p.recorder
	invoke := engine.InvokeConfig{ThreadID: threadID, RunID: runID}

	var saver engine.Saver

	if cmd.DryRun {
		recorder = recorder.Ephemeral()
		invoke.ThreadID = ""
	} else {
		saver, err = p.savers.Saver(ctx)
		if err != nil {
			return contracts.Failure(runID, threadID, err), err
		}
	}

	run := recorder.Run(runID, threadID, GraphName)

	runnable, err := p.compile(saver, run)
	if err != nil {
		return contracts.Failure(runID, threadID, err), err
	}

	final, err := runnable.Invoke(ctx, State{
		RunID:     runID,
		ThreadID:  threadID,
		WorkerID:  p.workerID,
		BatchSize: cmd.BatchSize,
		DryRun:    cmd.DryRun,
		Now:       now,
	}, invoke)
	if err != nil {
		run.Error(ctx, "", "dispatch_graph_failed", map[string]any{"error": err.Error()})

		return contracts.Failure(runID, threadID, err), err
	}

	sent, failed, deadLetter := final.Counts()

	return contracts.Success(runID, threadID, "dispatch_graph_executed", map[string]any{
		"sentCount":       sent,
		"failedCount":     failed,
		"deadLetterCount": deadLetter,
		"claimedCount":    len(final.Claimed),
		"dryRun":          cmd.DryRun,
	}), nil
}

func (p *Pipeline) compile(saver engine.Saver, run *observability.RunLog) (*engine.Runnable[State], error) {
	return engine.NewGraph[State](GraphName).
		AddNode(NodeClaimPending, func(ctx context.Context, s State) (State, error) {
			return p.claimPending(ctx, run, s)
		}).
		AddNode(NodeDispatchBatch, func(ctx context.Context, s State) (State, error) {
			return p.dispatchBatch(ctx, run, s)
		}).
		AddEdge(engine.Start, NodeClaimPending).
		AddEdge(NodeClaimPending, NodeDispatchBatch).
		AddEdge(NodeDispatchBatch, engine.End).
		Compile(saver, engine.WithLogger(p.logger))
}

func (p *Pipeline) claimPending(ctx context.Context, run *observability.RunLog, s State) (State, error) {
	due, err := p.messages.ListDue(ctx, s.Now, s.BatchSize)
	if err != nil {
		return s, fmt.Errorf("failed to list due messages: %w", err)
	}

	claimed := make([]*models.ScheduledMessage, 0, len(due))

	for _, item := range due {
		if s.DryRun {
			claimed = append(claimed, item)

			continue
		}

		ok, err := p.messages.MarkSending(ctx, item.ID, s.RunID, s.Now)
		if err != nil {
			return s, fmt.Errorf("failed to claim scheduled message %d: %w", item.ID, err)
		}

		if ok {
			claimed = append(claimed, item)
		}
	}

	s.Claimed = claimed

	run.Info(ctx, NodeClaimPending, "claimed_messages", map[string]any{
		"claimedCount": len(claimed),
		"dueCount":     len(due),
		"batchSize":    s.BatchSize,
	})

	return s, nil
}

func (p *Pipeline) dispatchBatch(ctx context.Context, run *observability.RunLog, s State) (State, error) {
	results := make([]ItemResult, 0, len(s.Claimed))

	for _, item := range s.Claimed {
		result, err := p.dispatchOne(ctx, run, s, item)
		if err != nil {
			return s, err
		}

		results = append(results, result)
		p.metrics.Dispatched(outcomeLabel(result))

		if !s.DryRun && !result.Skipped {
			p.publish(ctx, s, item, result)
		}
	}

	s.Results = results

	return s, nil
}

func (p *Pipeline) dispatchOne(ctx context.Context, run *observability.RunLog, s State, item *models.ScheduledMessage) (ItemResult, error) {
	result := ItemResult{ScheduledMessageID: item.ID}

	if item.Phone == "" || item.ChatID == 0 {
		if s.DryRun {
			result.Status = models.ScheduledMessageFailed
			result.Error = ErrChatDataMissing

			return result, nil
		}

		return p.fail(ctx, run, s, item, failure{code: contracts.CodeValidation, message: ErrChatDataMissing, terminal: true})
	}

	req := gateway.SendRequest{
		Phone:   item.Phone,
		Type:    messageType(item.Content.Type),
		Content: item.Content.Content,
		Caption: item.Content.Caption,
	}

	if s.DryRun {
		result.Status = models.ScheduledMessageSent

		return result, nil
	}

	settled, err := p.alreadySettled(ctx, s, item)
	if err != nil {
		return result, err
	}

	if settled {
		result.Skipped = true

		return result, nil
	}

	res, err := p.sender.Send(ctx, req)
	if err != nil {
		p.logger.WarnContext(ctx, "Gateway call failed", "scheduled_message_id", item.ID, "error", err)

		details, _ := json.Marshal(err.Error())
		res = gateway.SendResult{Status: 0, Details: details}
	}

	if !res.OK {
		return p.fail(ctx, run, s, item, failure{
			message:   gateway.FailureCode(res.Status),
			retryable: gateway.Transient(res.Status),
			response:  res.Details,
		})
	}

	err = p.messages.MarkSent(ctx, item.ID, s.RunID, res.ExternalMessageID, p.now())
	if err != nil {
		p.logger.ErrorContext(ctx, "Message sent but status could not be stored", "scheduled_message_id", item.ID, "error", err)

		return p.fail(ctx, run, s, item, failure{
			code:       contracts.CodeStatusPersistFailed,
			message:    fmt.Sprintf("%s: %v", contracts.CodeStatusPersistFailed, err),
			retryable:  true,
			externalID: res.ExternalMessageID,
		})
	}

	run.Info(ctx, NodeDispatchBatch, "message_sent", map[string]any{
		"scheduledMessageId": item.ID,
		"externalMessageId":  res.ExternalMessageID,
	})

	result.Status = models.ScheduledMessageSent
	result.ExternalMessageID = res.ExternalMessageID

	return result, nil
}

// alreadySettled reports whether a resumed pass already handled item.
func (p *Pipeline) alreadySettled(ctx context.Context, s State, item *models.ScheduledMessage) (bool, error) {
	current, err := p.messages.ByID(ctx, item.ID)
	if errors.Is(err, persistence.ErrScheduledMessageNotFound) {
		return true, nil
	}

	if err != nil {
		return false, fmt.Errorf("failed to reload scheduled message %d: %w", item.ID, err)
	}

	return current.Status != models.ScheduledMessageSending || current.RunID != s.RunID, nil
}

type failure struct {
	code       contracts.Code
	message    string
	retryable  bool
	terminal   bool
	externalID string
	response   json.RawMessage
}

func (p *Pipeline) fail(ctx context.Context, run *observability.RunLog, s State, item *models.ScheduledMessage, f failure) (ItemResult, error) {
	now := p.now()
	retryCount := item.RetryCount + 1

	var next *time.Time
	if !f.terminal {
		next = models.RetryWindow(retryCount, now)
	}

	err := p.messages.MarkFailed(ctx, item.ID, models.DispatchFailure{
		RunID:             s.RunID,
		Error:             f.message,
		RetryCount:        retryCount,
		NextRetryAt:       next,
		ExternalMessageID: f.externalID,
		At:                now,
	})
	if err != nil {
		return ItemResult{}, fmt.Errorf("failed to mark scheduled message %d as failed: %w", item.ID, err)
	}

	result := ItemResult{
		ScheduledMessageID: item.ID,
		Status:             models.ScheduledMessageFailed,
		ExternalMessageID:  f.externalID,
		Error:              f.message,
	}

	if next != nil {
		run.Warn(ctx, NodeDispatchBatch, "message_failed", map[string]any{
			"scheduledMessageId": item.ID,
			"retryCount":         retryCount,
			"nextRetryAt":        next.Format(time.RFC3339),
			"error":              f.message,
		})

		return result, nil
	}

	payload, _ := json.Marshal(map[string]any{"item": item, "response": f.response})

	code := f.code
	if code == "" {
		code = contracts.CodeGatewaySendFailed
	}

	itemID := item.ID

	err = run.DeadLetter(ctx, &models.DeadLetterRecord{
		SourceNode:         NodeDispatchBatch,
		ScheduledMessageID: &itemID,
		ErrorCode:          string(code),
		ErrorMessage:       f.message,
		Attempts:           retryCount,
		Retryable:          f.retryable && !f.terminal,
		Payload:            payload,
		CreatedAt:          now,
	})
	if err != nil {
		return ItemResult{}, fmt.Errorf("failed to dead-letter scheduled message %d: %w", item.ID, err)
	}

	result.DeadLettered = true

	return result, nil
}

func (p *Pipeline) publish(ctx context.Context, s State, item *models.ScheduledMessage, result ItemResult) {
	err := p.publisher.Publish(ctx, s.RunID, events.MessageDispatched{
		BaseEvent:          events.NewBaseEvent(events.MessageDispatchedEvent, s.RunID, s.ThreadID, s.WorkerID),
		ScheduledMessageID: item.ID,
		ChatID:             item.ChatID,
		Status:             outcomeLabel(result),
		ExternalMessageID:  result.ExternalMessageID,
		Error:              result.Error,
	})
	if err != nil {
		p.logger.WarnContext(ctx, "Failed to publish dispatch event", "scheduled_message_id", item.ID, "error", err)
	}
}

func outcomeLabel(result ItemResult) string {
	switch {
	case result.Skipped:
		return "skipped"
	case result.DeadLettered:
		return "dead_letter"
	default:
		return string(result.Status)
	}
}

// messageType maps stored content types to gateway types, defaulting to text.
func messageType(raw string) gateway.MessageType {
	switch t := gateway.MessageType(strings.ToLower(strings.TrimSpace(raw))); t {
	case gateway.MessageText, gateway.MessageAudio, gateway.MessageImage, gateway.MessageVideo, gateway.MessageDocument:
		return t
	default:
		return gateway.MessageText
	}
}
