package services

import (
	"context"
	"fmt"

	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/eventbus"
	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/events"
)

// HandleSignals registers the manager as the consumer of review signals on the bus.
// Signals that can never succeed are acknowledged and logged so they are not redelivered.
func (m *Manager) HandleSignals(bus eventbus.EventSubscriber) error {
	handlers := map[events.EventType]eventbus.EventHandler{
		events.StartReviewSignalEvent:       m.handleStartSignal,
		events.RetryStageSignalEvent:        m.handleRetrySignal,
		events.HumanDecisionSignalEvent:     m.handleDecisionSignal,
		events.UpdateJudgeConfigSignalEvent: m.handleJudgeConfigSignal,
	}

	for eventType, handler := range handlers {
		if err := bus.Handle(eventType, handler); err != nil {
			return fmt.Errorf("failed to register handler for %s: %w", eventType, err)
		}
	}

	return nil
}

func (m *Manager) handleStartSignal(ctx context.Context, event any) error {
	signal, ok := event.(*events.StartReviewSignal)
	if !ok {
		return fmt.Errorf("unexpected event type %T", event)
	}

	_, err := m.Start(ctx, signal.Input)

	return m.settle(ctx, signal.GetType(), signal.Input.SubmissionID, err)
}

func (m *Manager) handleRetrySignal(ctx context.Context, event any) error {
	signal, ok := event.(*events.RetryStageSignal)
	if !ok {
		return fmt.Errorf("unexpected event type %T", event)
	}

	err := m.RetryStage(ctx, signal.SubmissionID, signal.Stage, signal.Reason)

	return m.settle(ctx, signal.GetType(), signal.SubmissionID, err)
}

func (m *Manager) handleDecisionSignal(ctx context.Context, event any) error {
	signal, ok := event.(*events.HumanDecisionSignal)
	if !ok {
		return fmt.Errorf("unexpected event type %T", event)
	}

	err := m.HumanDecision(ctx, signal.SubmissionID, signal.Decision, signal.Notes)

	return m.settle(ctx, signal.GetType(), signal.SubmissionID, err)
}

func (m *Manager) handleJudgeConfigSignal(ctx context.Context, event any) error {
	signal, ok := event.(*events.UpdateJudgeConfigSignal)
	if !ok {
		return fmt.Errorf("unexpected event type %T", event)
	}

	err := m.UpdateJudgeConfig(ctx, signal.SubmissionID, signal.Config)

	return m.settle(ctx, signal.GetType(), signal.SubmissionID, err)
}

// settle decides whether a failed signal is acknowledged or left for redelivery.
func (m *Manager) settle(ctx context.Context, eventType events.EventType, submissionID string, err error) error {
	switch {
	case err == nil:
		return nil
	case IsValidationError(err), IsNotFoundError(err), IsConflictError(err):
		m.logger.WarnContext(ctx, "Dropping review signal",
			"event_type", eventType, "submission_id", submissionID, "error", err)

		return nil
	default:
		m.logger.ErrorContext(ctx, "Failed to handle review signal",
			"event_type", eventType, "submission_id", submissionID, "error", err)

		return err
	}
}
