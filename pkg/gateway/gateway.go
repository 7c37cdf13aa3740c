// Package gateway defines the outbound messaging capability and its
// Evolution API adapter.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

type MessageType string

const (
	MessageText     MessageType = "text"
	MessageAudio    MessageType = "audio"
	MessageImage    MessageType = "image"
	MessageVideo    MessageType = "video"
	MessageDocument MessageType = "document"
)

type Presence string

const (
	PresenceComposing Presence = "composing"
	PresenceRecording Presence = "recording"
)

// SendRequest is one outbound message. Content holds the text for text
// messages and the media URL otherwise.
type SendRequest struct {
	Phone   string
	Type    MessageType
	Content string
	Caption string
	Quoted  *Quoted
}

// Quoted is the earlier message a send replies to.
type Quoted struct {
	ID     string
	Text   string
	FromMe bool
}

// SendResult reports what the gateway answered. OK is false for any non-2xx
// status; Status is 0 when no response was received.
type SendResult struct {
	OK                bool
	Status            int
	ExternalMessageID string
	Details           json.RawMessage
}

type Sender interface {
	Send(ctx context.Context, req SendRequest) (SendResult, error)
}

type Presencer interface {
	SetPresence(ctx context.Context, phone string, presence Presence, duration time.Duration) error
}

// Retractor deletes a delivered message for every participant.
type Retractor interface {
	Retract(ctx context.Context, externalMessageID string) error
}

type Gateway interface {
	Sender
	Presencer
	Retractor
}

// StatusError is returned when the gateway answers with a non-2xx status.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: gateway returned HTTP %d: %s", e.Op, e.Status, e.Body)
}

// Transient reports whether a send that failed with status may succeed later.
// Status 0 stands for a request that never got an answer.
func Transient(status int) bool {
	return status == 0 || status >= http.StatusInternalServerError || status == http.StatusTooManyRequests
}

// FailureCode names a failed send for logs and item records.
func FailureCode(status int) string {
	return fmt.Sprintf("evolution_send_failed_%d", status)
}
