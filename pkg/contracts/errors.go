package contracts

import (
	"errors"
	"fmt"
)

// Code is a stable, machine readable failure kind carried in acknowledgements.
type Code string

const (
	CodeValidation             Code = "VALIDATION_ERROR"
	CodeInvalidContractVersion Code = "INVALID_CONTRACT_VERSION"
	CodeCheckpointUnavailable  Code = "CHECKPOINT_BACKEND_UNAVAILABLE"
	CodeGatewaySendFailed      Code = "GATEWAY_SEND_FAILED"
	CodeJobExhausted           Code = "JOB_EXHAUSTED"
	CodeFunnelStepFailed       Code = "FUNNEL_STEP_FAILED"
	CodeStatusPersistFailed    Code = "STATUS_PERSIST_FAILED"
	CodeExecutionFailed        Code = "EXECUTION_FAILED"
)

var (
	// ErrValidation indicates a command failed schema validation.
	ErrValidation = errors.New("validation error")

	// ErrInvalidContractVersion indicates the command targets an unsupported contract version.
	ErrInvalidContractVersion = errors.New("invalid contract version")

	// ErrCheckpointUnavailable indicates the durable checkpoint backend could not be set up.
	ErrCheckpointUnavailable = errors.New("checkpoint backend unavailable")

	// ErrGatewaySendFailed indicates the messaging gateway rejected or failed a send.
	ErrGatewaySendFailed = errors.New("gateway send failed")

	// ErrJobExhausted indicates every retry attempt of a job was consumed.
	ErrJobExhausted = errors.New("job exhausted")

	// ErrFunnelStepFailed indicates a funnel step failed and the sequence halted.
	ErrFunnelStepFailed = errors.New("funnel step failed")

	// ErrStatusPersistFailed indicates a send succeeded but its status could not be stored.
	ErrStatusPersistFailed = errors.New("status persist failed")
)

var sentinels = map[Code]error{
	CodeValidation:             ErrValidation,
	CodeInvalidContractVersion: ErrInvalidContractVersion,
	CodeCheckpointUnavailable:  ErrCheckpointUnavailable,
	CodeGatewaySendFailed:      ErrGatewaySendFailed,
	CodeJobExhausted:           ErrJobExhausted,
	CodeFunnelStepFailed:       ErrFunnelStepFailed,
	CodeStatusPersistFailed:    ErrStatusPersistFailed,
}

// Error wraps an execution failure with its taxonomy code and retry hint.
type Error struct {
	Op        string // Operation being performed (e.g., "dispatch_batch", "resolve")
	Code      Code
	Message   string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Code)
	}

	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, msg, e.Err)
	}

	return fmt.Sprintf("%s: %s", e.Op, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error's code as well as the wrapped error.
func (e *Error) Is(target error) bool {
	if sentinel, ok := sentinels[e.Code]; ok && sentinel == target {
		return true
	}

	return errors.Is(e.Err, target)
}

// NewError creates a coded error.
func NewError(op string, code Code, retryable bool, err error) *Error {
	return &Error{
		Op:        op,
		Code:      code,
		Retryable: retryable,
		Err:       err,
	}
}

// SchemaError names the command field that failed validation.
type SchemaError struct {
	Field   string
	Reason  string
	Message string
}

func (e *SchemaError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", CodeValidation, e.Message)
	}

	return fmt.Sprintf("%s: %s: %s", CodeValidation, e.Field, e.Message)
}

func (e *SchemaError) Is(target error) bool {
	if target == ErrValidation {
		return true
	}

	return target == ErrInvalidContractVersion && e.Reason == string(CodeInvalidContractVersion)
}

// IsValidationError checks if an error was produced by command validation.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsInvalidContractVersion checks if an error was caused by a contract version mismatch.
func IsInvalidContractVersion(err error) bool {
	return errors.Is(err, ErrInvalidContractVersion)
}

// CodeOf returns the taxonomy code of err.
func CodeOf(err error) Code {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}

	if IsValidationError(err) {
		return CodeValidation
	}

	for code, sentinel := range sentinels {
		if errors.Is(err, sentinel) {
			return code
		}
	}

	return CodeExecutionFailed
}

// IsRetryable reports whether re-running the failed operation can succeed.
// Unclassified errors are treated as transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var coded *Error
	if errors.As(err, &coded) {
		return coded.Retryable
	}

	switch {
	case IsValidationError(err), errors.Is(err, ErrCheckpointUnavailable), errors.Is(err, ErrJobExhausted):
		return false
	default:
		return true
	}
}
