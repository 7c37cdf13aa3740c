// Package orchestration decides and applies the effects of deleting a chat
// message across the gateway, the local record and the UI tombstone.
package orchestration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukex/courier/pkg/contracts"
	"github.com/dukex/courier/pkg/gateway"
	"github.com/dukex/courier/pkg/persistence"
)

type Target string

const (
	// TargetSystem removes the message from the local store only.
	TargetSystem Target = "system"
	// TargetEveryone retracts the message for every participant.
	TargetEveryone Target = "everyone"
)

// Decision is the action plan for one delete request.
type Decision struct {
	ShouldCallGateway   bool `json:"shouldCallGateway"`
	ShouldMarkRevoked   bool `json:"shouldMarkRevoked"`
	ShouldDeleteRecord  bool `json:"shouldDeleteRecord"`
	SkippedNoExternalID bool `json:"skippedNoExternalId"`
}

// Decide computes which effects a delete of target needs. A blank
// externalID cannot be retracted remotely. Unknown targets yield no effects.
func Decide(target Target, externalID string) Decision {
	switch target {
	case TargetSystem:
		return Decision{ShouldDeleteRecord: true}
	case TargetEveryone:
		if strings.TrimSpace(externalID) == "" {
			return Decision{ShouldMarkRevoked: true, SkippedNoExternalID: true}
		}

		return Decision{ShouldCallGateway: true, ShouldMarkRevoked: true}
	default:
		return Decision{}
	}
}

// Request asks to delete the local message MessageID. ExternalID falls back
// to the one stored on the record when empty.
type Request struct {
	MessageID  int64  `json:"messageId"  validate:"gt=0"`
	ExternalID string `json:"externalId"`
	Target     Target `json:"target"     validate:"oneof=system everyone"`
}

// Result reports the decision and which effects were applied.
type Result struct {
	Decision

	MessageID    int64  `json:"messageId"`
	Retracted    bool   `json:"retracted"`
	RetractError string `json:"retractError,omitempty"`
	Revoked      bool   `json:"revoked"`
	Deleted      bool   `json:"deleted"`
}

type Executor struct {
	messages  persistence.ChatMessageRepository
	retractor gateway.Retractor
	now       func() time.Time
	logger    *slog.Logger
}

type Option func(*Executor)

func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		e.now = now
	}
}

func NewExecutor(messages persistence.ChatMessageRepository, retractor gateway.Retractor, logger *slog.Logger, opts ...Option) *Executor {
	e := &Executor{
		messages:  messages,
		retractor: retractor,
		now:       time.Now,
		logger:    logger.With("module", "delete_orchestration"),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Execute applies the decision for req. A failed gateway retraction is
// reported in the result but does not stop the local tombstone.
func (e *Executor) Execute(ctx context.Context, req Request) (Result, error) {
	err := contracts.ValidateStruct(req)
	if err != nil {
		return Result{}, err
	}

	logger := e.logger.With("message_id", req.MessageID, "target", req.Target)

	externalID := strings.TrimSpace(req.ExternalID)
	if externalID == "" && req.Target == TargetEveryone {
		record, err := e.messages.ByID(ctx, req.MessageID)
		if err != nil {
			return Result{}, fmt.Errorf("failed to load chat message %d: %w", req.MessageID, err)
		}

		externalID = record.ExternalMessageID
	}

	result := Result{Decision: Decide(req.Target, externalID), MessageID: req.MessageID}

	if result.SkippedNoExternalID {
		logger.WarnContext(ctx, "Message has no external id, revoking locally only")
	}

	if result.ShouldCallGateway {
		err := e.retractor.Retract(ctx, externalID)
		if err != nil {
			logger.WarnContext(ctx, "Failed to retract message on gateway", "external_id", externalID, "error", err)
			result.RetractError = err.Error()
		} else {
			result.Retracted = true
		}
	}

	if result.ShouldMarkRevoked {
		err := e.messages.MarkRevoked(ctx, req.MessageID, e.now().UTC())
		if err != nil {
			return result, fmt.Errorf("failed to revoke chat message %d: %w", req.MessageID, err)
		}

		result.Revoked = true
	}

	if result.ShouldDeleteRecord {
		err := e.messages.Delete(ctx, req.MessageID)
		if err != nil && !errors.Is(err, persistence.ErrChatMessageNotFound) {
			return result, fmt.Errorf("failed to delete chat message %d: %w", req.MessageID, err)
		}

		result.Deleted = err == nil
	}

	logger.InfoContext(ctx, "Message delete applied",
		"retracted", result.Retracted,
		"revoked", result.Revoked,
		"deleted", result.Deleted,
	)

	return result, nil
}
