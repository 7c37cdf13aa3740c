package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrScheduledMessageNotFound indicates a scheduled message was not found by the given identifier.
	ErrScheduledMessageNotFound = errors.New("scheduled message not found")

	// ErrChatMessageNotFound indicates a chat message was not found by the given identifier.
	ErrChatMessageNotFound = errors.New("chat message not found")

	// ErrTriggerNotFound indicates an automation trigger was not found by the given identifier.
	ErrTriggerNotFound = errors.New("automation trigger not found")
)

// ScheduledMessageError wraps scheduled message errors with additional context.
type ScheduledMessageError struct {
	Op        string // Operation being performed (e.g., "MarkSent", "MarkFailed")
	MessageID int64
	Err       error
}

func (e *ScheduledMessageError) Error() string {
	return fmt.Sprintf("%s operation failed for scheduled message %d: %v", e.Op, e.MessageID, e.Err)
}

func (e *ScheduledMessageError) Unwrap() error {
	return e.Err
}

func (e *ScheduledMessageError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewScheduledMessageError creates a new scheduled message error with context.
func NewScheduledMessageError(op string, id int64, err error) *ScheduledMessageError {
	return &ScheduledMessageError{
		Op:        op,
		MessageID: id,
		Err:       err,
	}
}

// IsScheduledMessageNotFound checks if an error indicates a scheduled message was not found.
func IsScheduledMessageNotFound(err error) bool {
	return errors.Is(err, ErrScheduledMessageNotFound)
}

// IsChatMessageNotFound checks if an error indicates a chat message was not found.
func IsChatMessageNotFound(err error) bool {
	return errors.Is(err, ErrChatMessageNotFound)
}
