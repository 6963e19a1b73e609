package models

// TerminalState is the pipeline-level outcome.
type TerminalState string

const (
	TerminalStateRunning   TerminalState = "running"
	TerminalStatePublished TerminalState = "published"
	TerminalStateRejected  TerminalState = "rejected"
)

// WorkflowProgress is the full queryable snapshot of one review pipeline.
type WorkflowProgress struct {
	SubmissionID    string                       `json:"submissionId"`
	TerminalState   TerminalState                `json:"terminalState"`
	Stages          map[StageName]*StageProgress `json:"stages"`
	TrustScore      *TrustScoreBreakdown         `json:"trustScore,omitempty"`
	AgentID         string                       `json:"agentId"`
	AgentRevisionID string                       `json:"agentRevisionId"`
	LLMJudgeConfig  *JudgeLLMConfig              `json:"llmJudgeConfig,omitempty"`
	RunMetadata     *RunMetadata                 `json:"runMetadata,omitempty"`
}

// NewWorkflowProgress returns the initial progress: every stage pending, terminal state running.
func NewWorkflowProgress(submission Submission) *WorkflowProgress {
	stages := make(map[StageName]*StageProgress, len(stageOrder))
	for _, stage := range stageOrder {
		stages[stage] = NewStageProgress()
	}

	return &WorkflowProgress{
		SubmissionID:    submission.SubmissionID,
		TerminalState:   TerminalStateRunning,
		Stages:          stages,
		AgentID:         submission.AgentID,
		AgentRevisionID: submission.AgentRevisionID,
	}
}

// Stage returns the progress of the named stage, creating it when absent.
func (w *WorkflowProgress) Stage(name StageName) *StageProgress {
	if w.Stages == nil {
		w.Stages = make(map[StageName]*StageProgress)
	}

	stage, ok := w.Stages[name]
	if !ok {
		stage = NewStageProgress()
		w.Stages[name] = stage
	}

	return stage
}

// IsFinished reports whether the pipeline has left the running state.
func (w *WorkflowProgress) IsFinished() bool {
	return w.TerminalState != TerminalStateRunning
}

// RunningStages lists the stages currently marked running.
func (w *WorkflowProgress) RunningStages() []StageName {
	var running []StageName

	for _, stage := range stageOrder {
		if p, ok := w.Stages[stage]; ok && p.Status == StageStatusRunning {
			running = append(running, stage)
		}
	}

	return running
}

// Clone returns a deep copy safe to hand to readers.
func (w *WorkflowProgress) Clone() *WorkflowProgress {
	if w == nil {
		return nil
	}

	clone := *w

	clone.Stages = make(map[StageName]*StageProgress, len(w.Stages))
	for name, stage := range w.Stages {
		clone.Stages[name] = stage.Clone()
	}

	if w.TrustScore != nil {
		score := *w.TrustScore
		clone.TrustScore = &score
	}

	if w.LLMJudgeConfig != nil {
		cfg := *w.LLMJudgeConfig
		clone.LLMJudgeConfig = &cfg
	}

	if w.RunMetadata != nil {
		meta := *w.RunMetadata
		clone.RunMetadata = &meta
	}

	return &clone
}
