package models

import "time"

// PipelineInput is the immutable input of one review pipeline run.
type PipelineInput struct {
	Submission

	PromptVersion  string          `json:"promptVersion"`
	AgentCardPath  string          `json:"agentCardPath,omitempty"`
	Relay          *RelayTarget    `json:"relay,omitempty"          validate:"omitempty"`
	LLMJudgeConfig *JudgeLLMConfig `json:"llmJudgeConfig,omitempty" validate:"omitempty"`
	RunMetadata    *RunMetadata    `json:"runMetadata,omitempty"`
}

// Escalation is a pending human review request.
type Escalation struct {
	Source StageName `json:"source"`
	Reason string    `json:"reason"`
	Notes  []string  `json:"notes,omitempty"`
}

// HumanDecisionSignal is a human decision delivered to a pipeline.
type HumanDecisionSignal struct {
	Decision HumanDecision `json:"decision"`
	Notes    string        `json:"notes,omitempty"`
}

// StageScore is the normalised outcome of a scored stage, kept for trust score recomputation.
type StageScore struct {
	Ratio    float64  `json:"ratio"`
	Passed   bool     `json:"passed"`
	Summary  string   `json:"summary,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// PipelineSnapshot is the durable image of one pipeline instance.
// Loading it reconstructs the exact in-memory state of the control loop.
type PipelineSnapshot struct {
	WorkflowID  string                   `json:"workflowId"`
	Input       PipelineInput            `json:"input"`
	Progress    *WorkflowProgress        `json:"progress"`
	Cursor      StageName                `json:"cursor"`
	Escalation  *Escalation              `json:"escalation,omitempty"`
	Decisions   []HumanDecisionSignal    `json:"decisions,omitempty"`
	JudgeConfig *JudgeLLMConfig          `json:"judgeConfig,omitempty"`
	Scores      map[StageName]StageScore `json:"scores,omitempty"`
	Seq         int64                    `json:"seq"`
	UpdatedAt   time.Time                `json:"updatedAt"`
}

// IsFinished reports whether the snapshot belongs to a pipeline that reached a terminal state.
func (s *PipelineSnapshot) IsFinished() bool {
	return s.Progress != nil && s.Progress.IsFinished()
}

// JournalKind classifies a journal record.
type JournalKind string

const (
	JournalStageStarted     JournalKind = "stage_started"
	JournalStageCompleted   JournalKind = "stage_completed"
	JournalStageFailed      JournalKind = "stage_failed"
	JournalStageSkipped     JournalKind = "stage_skipped"
	JournalStageWarning     JournalKind = "stage_warning"
	JournalEscalated        JournalKind = "escalated"
	JournalHumanDecision    JournalKind = "human_decision"
	JournalDecisionBuffered JournalKind = "decision_buffered"
	JournalRetryScheduled   JournalKind = "retry_scheduled"
	JournalRetryIgnored     JournalKind = "retry_ignored"
	JournalJudgeConfig      JournalKind = "judge_config_updated"
	JournalTrustScore       JournalKind = "trust_score"
	JournalLedgerRecorded   JournalKind = "ledger_recorded"
	JournalTerminal         JournalKind = "terminal"
)

// JournalRecord is one append-only entry of the pipeline's write-ahead journal.
type JournalRecord struct {
	SubmissionID string         `json:"submissionId"`
	Seq          int64          `json:"seq"`
	Kind         JournalKind    `json:"kind"`
	Stage        StageName      `json:"stage,omitempty"`
	Detail       map[string]any `json:"detail,omitempty"`
	At           time.Time      `json:"at"`
}
