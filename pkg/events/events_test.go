package events

import (
	"encoding/json"
	"testing"

	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBaseEvent(t *testing.T) {
	event := NewBaseEvent(EscalatedEvent, "sub-1")

	assert.NotEmpty(t, event.ID)
	assert.Equal(t, EscalatedEvent, event.Type)
	assert.Equal(t, "review-pipeline-sub-1", event.WorkflowID)
	assert.Equal(t, "sub-1", event.SubmissionID)
	assert.False(t, event.Timestamp.IsZero())
	assert.NotNil(t, event.Metadata)

	assert.NotEqual(t, event.ID, NewBaseEvent(EscalatedEvent, "sub-1").ID)
}

func TestStageFailed_JSONSerialization(t *testing.T) {
	original := StageFailed{
		BaseEvent:  NewBaseEvent(StageFailedEvent, "sub-1"),
		Stage:      models.StageSecurity,
		Attempt:    2,
		Error:      "sandbox timed out",
		DurationMs: 1500,
	}

	jsonData, err := json.Marshal(original)
	require.NoError(t, err)
	assert.Contains(t, string(jsonData), `"stage":"security"`)
	assert.Contains(t, string(jsonData), `"submission_id":"sub-1"`)

	var deserialized StageFailed

	require.NoError(t, json.Unmarshal(jsonData, &deserialized))
	assert.Equal(t, original.Stage, deserialized.Stage)
	assert.Equal(t, original.Attempt, deserialized.Attempt)
	assert.Equal(t, original.Error, deserialized.Error)
	assert.Equal(t, StageFailedEvent, deserialized.GetType())
}

func TestGetType(t *testing.T) {
	tests := []struct {
		event    interface{ GetType() EventType }
		expected EventType
	}{
		{StageStarted{}, StageStartedEvent},
		{StageCompleted{}, StageCompletedEvent},
		{StageWarning{}, StageWarningEvent},
		{HumanDecided{}, HumanDecidedEvent},
		{DecisionQueued{}, DecisionQueuedEvent},
		{RetryScheduled{}, RetryScheduledEvent},
		{RetryIgnored{}, RetryIgnoredEvent},
		{JudgeConfigUpdated{}, JudgeConfigUpdatedEvent},
		{PipelineStarted{}, PipelineStartedEvent},
		{PipelineFinished{}, PipelineFinishedEvent},
		{PersistenceFailed{}, PersistenceFailedEvent},
		{LedgerRelay{}, LedgerRelayEvent},
		{StartReviewSignal{}, StartReviewSignalEvent},
		{RetryStageSignal{}, RetryStageSignalEvent},
		{HumanDecisionSignal{}, HumanDecisionSignalEvent},
		{UpdateJudgeConfigSignal{}, UpdateJudgeConfigSignalEvent},
	}

	for _, tt := range tests {
		t.Run(string(tt.expected), func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.event.GetType())
		})
	}
}
