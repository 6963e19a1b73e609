// Package mocks provides testify mocks of the review worker's ports.
package mocks

import (
	"context"
	"sync"

	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/eventbus"
	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/events"
	"github.com/stretchr/testify/mock"
)

// MockEventBus is a mock implementation of eventbus.EventBus interface.
type MockEventBus struct {
	mock.Mock
	sync.Mutex
}

func (m *MockEventBus) Publish(ctx context.Context, key string, event eventbus.Event) error {
	args := m.Called(ctx, key, event)

	return args.Error(0)
}

func (m *MockEventBus) Handle(eventType events.EventType, handler eventbus.EventHandler) error {
	args := m.Called(eventType, handler)

	return args.Error(0)
}

func (m *MockEventBus) Subscribe(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockEventBus) Close() error {
	args := m.Called()

	return args.Error(0)
}

func (m *MockEventBus) GenerateID() string {
	args := m.Called()

	return args.String(0)
}

// Published returns the events passed to Publish so far, in call order.
func (m *MockEventBus) Published() []eventbus.Event {
	m.Lock()
	defer m.Unlock()

	var published []eventbus.Event

	for _, call := range m.Calls {
		if call.Method != "Publish" {
			continue
		}

		if event, ok := call.Arguments.Get(2).(eventbus.Event); ok {
			published = append(published, event)
		}
	}

	return published
}
