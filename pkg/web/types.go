package web

import "github.com/Naoya-Yasuda/agent-store-sub000/pkg/models"

// StartReviewRequest represents the request body for starting a review pipeline.
type StartReviewRequest struct {
	SubmissionID    string                 `json:"submissionId"              validate:"required"`
	AgentID         string                 `json:"agentId,omitempty"`
	AgentRevisionID string                 `json:"agentRevisionId,omitempty"`
	PromptVersion   string                 `json:"promptVersion"`
	AgentCardPath   string                 `json:"agentCardPath,omitempty"`
	Relay           *models.RelayTarget    `json:"relay,omitempty"`
	LLMJudgeConfig  *models.JudgeLLMConfig `json:"llmJudgeConfig,omitempty"`
	RunMetadata     *models.RunMetadata    `json:"runMetadata,omitempty"`
}

func (r StartReviewRequest) input() models.PipelineInput {
	return models.PipelineInput{
		Submission: models.Submission{
			SubmissionID:    r.SubmissionID,
			AgentID:         r.AgentID,
			AgentRevisionID: r.AgentRevisionID,
		},
		PromptVersion:  r.PromptVersion,
		AgentCardPath:  r.AgentCardPath,
		Relay:          r.Relay,
		LLMJudgeConfig: r.LLMJudgeConfig,
		RunMetadata:    r.RunMetadata,
	}
}

// RetryStageRequest represents the request body for the retry-stage signal.
type RetryStageRequest struct {
	Stage  string `json:"stage"            validate:"required"`
	Reason string `json:"reason,omitempty"`
}

// HumanDecisionRequest represents the request body for the human-decision signal.
type HumanDecisionRequest struct {
	Decision string `json:"decision"        validate:"required,oneof=approved rejected"`
	Notes    string `json:"notes,omitempty"`
}

// SignalResponse acknowledges a signal. Signals are applied asynchronously by the pipeline.
type SignalResponse struct {
	SubmissionID string `json:"submissionId"`
	Signal       string `json:"signal"`
	Accepted     bool   `json:"accepted"`
}
