// Package eventbus publishes and consumes courier lifecycle events.
package eventbus

import (
	"context"

	"github.com/dukex/courier/pkg/events"
)

type Event interface {
	GetType() events.EventType
}

type EventPublisher interface {
	Publish(ctx context.Context, key string, event Event) error
}

type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

type EventHandler func(ctx context.Context, event any) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}

// Discard drops every event. It is used when no bus is configured.
type Discard struct{}

func (Discard) Publish(context.Context, string, Event) error { return nil }

func (Discard) Handle(events.EventType, EventHandler) error { return nil }

func (Discard) Subscribe(context.Context) error { return nil }

func (Discard) Close() error { return nil }

func (Discard) GenerateID() string { return "" }
