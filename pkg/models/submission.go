package models

// Submission identifies the agent registration under review.
type Submission struct {
	SubmissionID    string `json:"submissionId"              validate:"required"`
	AgentID         string `json:"agentId,omitempty"`
	AgentRevisionID string `json:"agentRevisionId,omitempty"`
}

// WorkflowID returns the durable identifier of the review pipeline for a submission.
func WorkflowID(submissionID string) string {
	return "review-pipeline-" + submissionID
}

// RelayTarget is the remote ledger collector a pipeline relays entries to.
type RelayTarget struct {
	Endpoint string `json:"endpoint"        validate:"required,url"`
	Token    string `json:"token,omitempty"`
}

// RunMetadata carries external telemetry identifiers for the review run.
type RunMetadata struct {
	RunID   string `json:"runId,omitempty"`
	Project string `json:"project,omitempty"`
	Entity  string `json:"entity,omitempty"`
	URL     string `json:"url,omitempty"`
}
