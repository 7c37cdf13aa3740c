// Package contracts defines the versioned command and acknowledgement schemas
// exchanged at every boundary of the orchestration core.
package contracts

import (
	"time"
)

// ContractVersion is the only command version accepted by this build.
const ContractVersion = "v1"

const (
	DefaultBatchSize = 25
	MaxBatchSize     = 200
	MaxFunnelSteps   = 100
)

// Kind tags a command and the job that carries it.
type Kind string

const (
	KindDispatch  Kind = "dispatch"
	KindScheduler Kind = "scheduler"
	KindFunnel    Kind = "funnel"
)

func (k Kind) Valid() bool {
	switch k {
	case KindDispatch, KindScheduler, KindFunnel:
		return true
	default:
		return false
	}
}

// Command is the closed set of validated intents the worker can execute.
type Command interface {
	Kind() Kind
	Meta() *Envelope
	applyDefaults()
}

// Envelope carries the fields shared by every command.
type Envelope struct {
	ContractVersion string `json:"contractVersion"`
	RunID           string `json:"runId,omitempty"    validate:"omitempty,uuid"`
	ThreadID        string `json:"threadId,omitempty" validate:"omitempty,max=255"`
}

func (e *Envelope) Meta() *Envelope {
	return e
}

// SchedulerRunCommand asks for a pass over due automation triggers.
type SchedulerRunCommand struct {
	Envelope

	TriggerAt *time.Time `json:"triggerAt,omitempty"`
	DryRun    bool       `json:"dryRun"`
}

func (*SchedulerRunCommand) Kind() Kind { return KindScheduler }

func (c *SchedulerRunCommand) applyDefaults() {}

// DispatchRunCommand asks for a pass over due scheduled messages.
type DispatchRunCommand struct {
	Envelope

	NowISO    *time.Time `json:"nowIso,omitempty"`
	BatchSize int        `json:"batchSize" validate:"gte=1,lte=200"`
	DryRun    bool       `json:"dryRun"`
}

func (*DispatchRunCommand) Kind() Kind { return KindDispatch }

func (c *DispatchRunCommand) applyDefaults() {
	if c.BatchSize == 0 {
		c.BatchSize = DefaultBatchSize
	}
}

// StepType enumerates funnel step kinds.
type StepType string

const (
	StepText     StepType = "text"
	StepAudio    StepType = "audio"
	StepImage    StepType = "image"
	StepDocument StepType = "document"
	StepVideo    StepType = "video"
	StepWait     StepType = "wait"
)

// FunnelStep is one ordered element of a funnel. Delay is in seconds.
type FunnelStep struct {
	Type    StepType `json:"type"              validate:"required,oneof=text audio image document video wait"`
	Content string   `json:"content,omitempty"`
	Delay   int      `json:"delay,omitempty"   validate:"gte=0,lte=86400"`
}

// FunnelRunCommand asks for a sequential multi-step send to one recipient.
type FunnelRunCommand struct {
	Envelope

	ChatID      int64        `json:"chatId"      validate:"gt=0"`
	Phone       string       `json:"phone"       validate:"min=8,max=32"`
	Title       string       `json:"title"       validate:"required,min=1"`
	Steps       []FunnelStep `json:"steps"       validate:"required,min=1,max=100,dive"`
	InitiatedBy string       `json:"initiatedBy" validate:"oneof=ui api system"`
}

func (*FunnelRunCommand) Kind() Kind { return KindFunnel }

func (c *FunnelRunCommand) applyDefaults() {
	if c.InitiatedBy == "" {
		c.InitiatedBy = "ui"
	}
}

// ReplyTo references the message a send is quoting.
type ReplyTo struct {
	WppID       string `json:"wppId"                 validate:"required"`
	Sender      string `json:"sender,omitempty"`
	MessageType string `json:"message_type,omitempty"`
	QuotedText  string `json:"quotedText,omitempty"`
	RemoteJID   string `json:"remoteJid,omitempty"`
	FromMe      bool   `json:"fromMe,omitempty"`
}

// SendCommand is a single outbound message request.
type SendCommand struct {
	Envelope

	ChatID      int64    `json:"chatId"                validate:"gt=0"`
	Phone       string   `json:"phone"                 validate:"min=8,max=32"`
	Type        StepType `json:"type"                  validate:"oneof=text audio image video document"`
	Message     string   `json:"message,omitempty"`
	MediaURL    string   `json:"mediaUrl,omitempty"    validate:"omitempty,url"`
	DBMessageID int64    `json:"dbMessageId,omitempty" validate:"gte=0"`
	ReplyTo     *ReplyTo `json:"replyTo,omitempty"`
}

func (c *SendCommand) applyDefaults() {
	if c.Type == "" {
		c.Type = StepText
	}
}

// NewCommand returns an empty command of the given kind.
func NewCommand(kind Kind) (Command, error) {
	switch kind {
	case KindDispatch:
		return &DispatchRunCommand{}, nil
	case KindScheduler:
		return &SchedulerRunCommand{}, nil
	case KindFunnel:
		return &FunnelRunCommand{}, nil
	default:
		return nil, &SchemaError{Field: "name", Reason: "unknown_kind", Message: "unknown command kind " + string(kind)}
	}
}
