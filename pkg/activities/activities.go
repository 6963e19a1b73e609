// Package activities defines the stage work the review pipeline delegates to external evaluators.
package activities

import (
	"context"
	"time"

	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/models"
)

// StageInput is passed to every stage activity.
type StageInput struct {
	WorkflowID      string
	RunID           string
	SubmissionID    string
	AgentID         string
	AgentRevisionID string
	PromptVersion   string
	AgentCardPath   string
	Attempt         int
	JudgeConfig     *models.JudgeLLMConfig
}

// PrecheckResult is the outcome of structural validation and identity resolution.
type PrecheckResult struct {
	Passed          bool           `json:"passed"`
	AgentID         string         `json:"agentId,omitempty"`
	AgentRevisionID string         `json:"agentRevisionId,omitempty"`
	Warnings        []string       `json:"warnings,omitempty"`
	FailReasons     []string       `json:"failReasons,omitempty"`
	Summary         map[string]any `json:"summary,omitempty"`
}

// GateResult is the outcome of the security and functional evaluators.
type GateResult struct {
	Passed      bool           `json:"passed"`
	Score       float64        `json:"score"`
	Summary     map[string]any `json:"summary,omitempty"`
	FailReasons []string       `json:"failReasons,omitempty"`
	SummaryPath string         `json:"summaryPath,omitempty"`
	ReportPath  string         `json:"reportPath,omitempty"`
}

// JudgeResult is the outcome of the multi-rater judge.
type JudgeResult struct {
	Verdict     models.JudgeVerdict `json:"verdict"`
	Score       float64             `json:"score"`
	Reasons     []string            `json:"reasons,omitempty"`
	Summary     map[string]any      `json:"summary,omitempty"`
	SummaryPath string              `json:"summaryPath,omitempty"`
	ReportPath  string              `json:"reportPath,omitempty"`
}

// PublishInput carries what the publish stage needs to finalize a submission.
type PublishInput struct {
	StageInput

	TrustScore    *models.TrustScoreBreakdown
	HumanDecision models.HumanDecision
}

// PublishResult is the outcome of the publish stage.
type PublishResult struct {
	PublishedAt time.Time `json:"publishedAt"`
	SummaryPath string    `json:"summaryPath,omitempty"`
}

// TimelineEvent is one entry of the artifact timeline kept in metadata.json.
type TimelineEvent struct {
	AgentRevisionID string           `json:"-"`
	SubmissionID    string           `json:"submissionId"`
	Stage           models.StageName `json:"stage,omitempty"`
	Event           string           `json:"event"`
	Data            map[string]any   `json:"data,omitempty"`
	At              time.Time        `json:"at"`
}

// Activities is the set of external collaborators invoked by the pipeline.
// Any returned error is treated as a failed stage.
type Activities interface {
	Precheck(ctx context.Context, in StageInput) (*PrecheckResult, error)
	Security(ctx context.Context, in StageInput) (*GateResult, error)
	Functional(ctx context.Context, in StageInput) (*GateResult, error)
	Judge(ctx context.Context, in StageInput) (*JudgeResult, error)
	Publish(ctx context.Context, in PublishInput) (*PublishResult, error)
	RecordEvent(ctx context.Context, event TimelineEvent) error
}
