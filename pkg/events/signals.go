package events

import "github.com/Naoya-Yasuda/agent-store-sub000/pkg/models"

// Signals delivered to pipelines over the event bus.
const (
	StartReviewSignalEvent       EventType = "review.signal.start"
	RetryStageSignalEvent        EventType = "review.signal.retry_stage"
	HumanDecisionSignalEvent     EventType = "review.signal.human_decision"
	UpdateJudgeConfigSignalEvent EventType = "review.signal.judge_config"
)

type StartReviewSignal struct {
	BaseEvent

	Input models.PipelineInput `json:"input"`
}

func (s StartReviewSignal) GetType() EventType {
	return StartReviewSignalEvent
}

type RetryStageSignal struct {
	BaseEvent

	Stage  models.StageName `json:"stage"`
	Reason string           `json:"reason,omitempty"`
}

func (s RetryStageSignal) GetType() EventType {
	return RetryStageSignalEvent
}

type HumanDecisionSignal struct {
	BaseEvent

	Decision models.HumanDecision `json:"decision"`
	Notes    string               `json:"notes,omitempty"`
}

func (s HumanDecisionSignal) GetType() EventType {
	return HumanDecisionSignalEvent
}

type UpdateJudgeConfigSignal struct {
	BaseEvent

	Config models.JudgeLLMConfig `json:"config"`
}

func (s UpdateJudgeConfigSignal) GetType() EventType {
	return UpdateJudgeConfigSignalEvent
}
