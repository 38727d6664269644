// Package eventbus provides event-driven communication between the
// execution engine and the event-delivery gateway.
package eventbus

import (
	"context"

	"github.com/navio-ai/navio/pkg/events"
)

type Event interface {
	GetType() events.EventType
	EventTopic() string
}

type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler)
	Subscribe(ctx context.Context) error
}

type EventHandler func(ctx context.Context, event any) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}
