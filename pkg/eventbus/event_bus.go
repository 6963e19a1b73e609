// Package eventbus provides event-driven communication between review pipelines,
// workers and operator tooling.
package eventbus

import (
	"context"

	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/events"
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

// Nop discards every event. Used when a pipeline runs without a bus.
type Nop struct{}

func (Nop) Publish(context.Context, string, Event) error {
	return nil
}
