// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/dukex/courier/pkg/contracts"
	"github.com/dukex/courier/pkg/engine"
	"github.com/dukex/courier/pkg/models"
	"github.com/google/uuid"
)

// QuietLogger discards every record.
func QuietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// StaticSaver always resolves to Store, or to Err when set.
type StaticSaver struct {
	Store engine.Saver
	Err   error
}

func (s StaticSaver) Saver(_ context.Context) (engine.Saver, error) {
	return s.Store, s.Err
}

// CreateTestScheduledMessage creates a pending, already due text message that can be overridden.
func CreateTestScheduledMessage(overrides ...func(*models.ScheduledMessage)) *models.ScheduledMessage {
	now := time.Now().UTC()
	msg := &models.ScheduledMessage{
		ChatID: 42,
		Phone:  "5511999990000",
		Title:  "Lembrete: consulta",
		Content: models.MessageContent{
			Type:    "text",
			Content: "Olá, sua consulta é amanhã.",
		},
		ScheduledFor:   now.Add(-time.Minute),
		Status:         models.ScheduledMessagePending,
		IdempotencyKey: uuid.NewString(),
		CreatedAt:      now.Add(-time.Hour),
		UpdatedAt:      now.Add(-time.Hour),
	}

	for _, override := range overrides {
		override(msg)
	}

	return msg
}

// WithContent sets the channel payload of the message.
func WithContent(kind, content, caption string) func(*models.ScheduledMessage) {
	return func(m *models.ScheduledMessage) {
		m.Content = models.MessageContent{Type: kind, Content: content, Caption: caption}
	}
}

func WithRetryCount(count int) func(*models.ScheduledMessage) {
	return func(m *models.ScheduledMessage) {
		m.RetryCount = count
	}
}

func WithScheduledFor(at time.Time) func(*models.ScheduledMessage) {
	return func(m *models.ScheduledMessage) {
		m.ScheduledFor = at
	}
}

// WithoutChat clears the recipient so the message cannot be sent.
func WithoutChat() func(*models.ScheduledMessage) {
	return func(m *models.ScheduledMessage) {
		m.Phone = ""
	}
}

// CreateTestTrigger creates a due sequence trigger with two messages.
func CreateTestTrigger(overrides ...func(*models.SequenceTrigger)) *models.SequenceTrigger {
	trigger := &models.SequenceTrigger{
		RuleID:   7,
		RuleName: "Lembrete de consulta",
		ChatID:   42,
		Phone:    "5511999990000",
		DueAt:    time.Now().UTC().Add(-time.Minute),
		Sequence: []models.SequenceMessage{
			{Type: "text", Content: "Olá {nome_paciente}, sua consulta é {data_consulta}.", Delay: 5},
			{Type: "image", Content: "https://cdn.example.com/mapa.png", Caption: "Como chegar, {nome_paciente}"},
		},
		Variables: map[string]string{
			"nome_paciente": "Alice",
			"data_consulta": "10/03/2026",
		},
	}

	for _, override := range overrides {
		override(trigger)
	}

	return trigger
}

// CreateFunnelCommand creates a valid funnel command with the given steps.
func CreateFunnelCommand(steps ...contracts.FunnelStep) *contracts.FunnelRunCommand {
	return &contracts.FunnelRunCommand{
		Envelope:    contracts.Envelope{ContractVersion: contracts.ContractVersion, RunID: uuid.NewString()},
		ChatID:      42,
		Phone:       "5511999990000",
		Title:       "Boas-vindas",
		Steps:       steps,
		InitiatedBy: "api",
	}
}
