// Package events defines event types and structures for review pipeline lifecycle notifications
// and the signals delivered to running pipelines.
package events

import (
	"time"

	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Topic carries every review event and signal.
const Topic = "agentstore.review.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Stage lifecycle events.
	StageStartedEvent   EventType = "review.stage.started"
	StageCompletedEvent EventType = "review.stage.completed"
	StageFailedEvent    EventType = "review.stage.failed"
	StageWarningEvent   EventType = "review.stage.warning"

	// Human escalation events.
	EscalatedEvent      EventType = "review.human.escalated"
	HumanDecidedEvent   EventType = "review.human.decided"
	DecisionQueuedEvent EventType = "review.human.decision_queued"

	// Signal bookkeeping events.
	RetryScheduledEvent     EventType = "review.retry.scheduled"
	RetryIgnoredEvent       EventType = "review.retry.ignored"
	JudgeConfigUpdatedEvent EventType = "review.judge_config.updated"

	// Pipeline events.
	PipelineStartedEvent   EventType = "review.pipeline.started"
	PipelineFinishedEvent  EventType = "review.pipeline.finished"
	PersistenceFailedEvent EventType = "review.persistence.failed"
	LedgerRelayEvent       EventType = "review.ledger.relay"
)

type BaseEvent struct {
	ID           string         `json:"id"`
	Type         EventType      `json:"type"`
	Timestamp    time.Time      `json:"timestamp"`
	WorkflowID   string         `json:"workflow_id"`
	SubmissionID string         `json:"submission_id"`
	WorkerID     string         `json:"worker_id,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, submissionID string) BaseEvent {
	return BaseEvent{
		ID:           uuid.New().String(),
		Type:         eventType,
		Timestamp:    time.Now().UTC(),
		WorkflowID:   models.WorkflowID(submissionID),
		SubmissionID: submissionID,
		Metadata:     make(map[string]any),
	}
}

type StageStarted struct {
	BaseEvent

	Stage   models.StageName `json:"stage"`
	Attempt int              `json:"attempt"`
}

func (e StageStarted) GetType() EventType {
	return StageStartedEvent
}

type StageCompleted struct {
	BaseEvent

	Stage      models.StageName `json:"stage"`
	Attempt    int              `json:"attempt"`
	Message    string           `json:"message,omitempty"`
	DurationMs int64            `json:"duration_ms"`
}

func (e StageCompleted) GetType() EventType {
	return StageCompletedEvent
}

type StageFailed struct {
	BaseEvent

	Stage      models.StageName `json:"stage"`
	Attempt    int              `json:"attempt"`
	Error      string           `json:"error"`
	DurationMs int64            `json:"duration_ms"`
}

func (e StageFailed) GetType() EventType {
	return StageFailedEvent
}

type StageWarning struct {
	BaseEvent

	Stage   models.StageName `json:"stage"`
	Warning string           `json:"warning"`
}

func (e StageWarning) GetType() EventType {
	return StageWarningEvent
}

type Escalated struct {
	BaseEvent

	Source models.StageName `json:"source"`
	Reason string           `json:"reason"`
	Notes  []string         `json:"notes,omitempty"`
}

func (e Escalated) GetType() EventType {
	return EscalatedEvent
}

type HumanDecided struct {
	BaseEvent

	Source   models.StageName     `json:"source"`
	Decision models.HumanDecision `json:"decision"`
	Notes    string               `json:"notes,omitempty"`
}

func (e HumanDecided) GetType() EventType {
	return HumanDecidedEvent
}

type DecisionQueued struct {
	BaseEvent

	Decision models.HumanDecision `json:"decision"`
	Pending  int                  `json:"pending"`
}

func (e DecisionQueued) GetType() EventType {
	return DecisionQueuedEvent
}

type RetryScheduled struct {
	BaseEvent

	Stage  models.StageName `json:"stage"`
	Reason string           `json:"reason,omitempty"`
}

func (e RetryScheduled) GetType() EventType {
	return RetryScheduledEvent
}

type RetryIgnored struct {
	BaseEvent

	Stage        models.StageName `json:"stage"`
	CurrentStage models.StageName `json:"current_stage,omitempty"`
	Reason       string           `json:"reason,omitempty"`
}

func (e RetryIgnored) GetType() EventType {
	return RetryIgnoredEvent
}

type JudgeConfigUpdated struct {
	BaseEvent

	Config *models.JudgeLLMConfig `json:"config"`
}

func (e JudgeConfigUpdated) GetType() EventType {
	return JudgeConfigUpdatedEvent
}

type PipelineStarted struct {
	BaseEvent

	AgentID         string `json:"agent_id,omitempty"`
	AgentRevisionID string `json:"agent_revision_id,omitempty"`
	Resumed         bool   `json:"resumed"`
}

func (e PipelineStarted) GetType() EventType {
	return PipelineStartedEvent
}

type PipelineFinished struct {
	BaseEvent

	TerminalState models.TerminalState        `json:"terminal_state"`
	TrustScore    *models.TrustScoreBreakdown `json:"trust_score,omitempty"`
	Reason        string                      `json:"reason,omitempty"`
}

func (e PipelineFinished) GetType() EventType {
	return PipelineFinishedEvent
}

type PersistenceFailed struct {
	BaseEvent

	Seq   int64  `json:"seq"`
	Error string `json:"error"`
}

func (e PersistenceFailed) GetType() EventType {
	return PersistenceFailedEvent
}

type LedgerRelay struct {
	BaseEvent

	Stage    models.StageName `json:"stage,omitempty"`
	Outcome  string           `json:"outcome"`
	Endpoint string           `json:"endpoint"`
	Attempts int              `json:"attempts"`
	Error    string           `json:"error,omitempty"`
}

func (e LedgerRelay) GetType() EventType {
	return LedgerRelayEvent
}
