package contracts

import "errors"

// Ack is the acknowledgement envelope every graph invocation returns.
type Ack struct {
	OK              bool           `json:"ok"`
	ContractVersion string         `json:"contractVersion"`
	RunID           string         `json:"runId,omitempty"`
	ThreadID        string         `json:"threadId,omitempty"`
	Message         string         `json:"message,omitempty"`
	Data            map[string]any `json:"data,omitempty"`
	Error           *AckError      `json:"error,omitempty"`
}

type AckError struct {
	Code      Code   `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// Success builds a positive acknowledgement.
func Success(runID, threadID, message string, data map[string]any) Ack {
	return Ack{
		OK:              true,
		ContractVersion: ContractVersion,
		RunID:           runID,
		ThreadID:        threadID,
		Message:         message,
		Data:            data,
	}
}

// Failure builds a negative acknowledgement classifying err.
func Failure(runID, threadID string, err error) Ack {
	ack := Ack{
		OK:              false,
		ContractVersion: ContractVersion,
		RunID:           runID,
		ThreadID:        threadID,
		Error: &AckError{
			Code:      CodeOf(err),
			Message:   errorMessage(err),
			Retryable: IsRetryable(err),
		},
	}

	return ack
}

func errorMessage(err error) string {
	var schemaErr *SchemaError
	if errors.As(err, &schemaErr) {
		return schemaErr.Error()
	}

	var coded *Error
	if errors.As(err, &coded) && coded.Message != "" {
		return coded.Message
	}

	return err.Error()
}

// DryRunReport combines the acknowledgements of one dry run of the
// automation and dispatch graphs.
type DryRunReport struct {
	OK        bool   `json:"ok"`
	RunID     string `json:"runId"`
	Scheduler Ack    `json:"scheduler"`
	Dispatch  Ack    `json:"dispatch"`
}
