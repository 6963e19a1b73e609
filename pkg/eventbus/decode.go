package eventbus

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/events"
)

var ErrUnknownEventType = errors.New("unknown event type")

// eventFactories maps every known event type to a constructor of its payload.
var eventFactories = map[events.EventType]func() any{
	events.StageStartedEvent:            func() any { return &events.StageStarted{} },
	events.StageCompletedEvent:          func() any { return &events.StageCompleted{} },
	events.StageFailedEvent:             func() any { return &events.StageFailed{} },
	events.StageWarningEvent:            func() any { return &events.StageWarning{} },
	events.EscalatedEvent:               func() any { return &events.Escalated{} },
	events.HumanDecidedEvent:            func() any { return &events.HumanDecided{} },
	events.DecisionQueuedEvent:          func() any { return &events.DecisionQueued{} },
	events.RetryScheduledEvent:          func() any { return &events.RetryScheduled{} },
	events.RetryIgnoredEvent:            func() any { return &events.RetryIgnored{} },
	events.JudgeConfigUpdatedEvent:      func() any { return &events.JudgeConfigUpdated{} },
	events.PipelineStartedEvent:         func() any { return &events.PipelineStarted{} },
	events.PipelineFinishedEvent:        func() any { return &events.PipelineFinished{} },
	events.PersistenceFailedEvent:       func() any { return &events.PersistenceFailed{} },
	events.LedgerRelayEvent:             func() any { return &events.LedgerRelay{} },
	events.StartReviewSignalEvent:       func() any { return &events.StartReviewSignal{} },
	events.RetryStageSignalEvent:        func() any { return &events.RetryStageSignal{} },
	events.HumanDecisionSignalEvent:     func() any { return &events.HumanDecisionSignal{} },
	events.UpdateJudgeConfigSignalEvent: func() any { return &events.UpdateJudgeConfigSignal{} },
}

// DecodeEvent unmarshals payload into the event struct registered for eventType.
func DecodeEvent(eventType events.EventType, payload []byte) (any, error) {
	factory, known := eventFactories[eventType]
	if !known {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, eventType)
	}

	event := factory()

	if err := json.Unmarshal(payload, event); err != nil {
		return nil, fmt.Errorf("decode %s: %w", eventType, err)
	}

	return event, nil
}
