package models

// AutoDecision is the advisory decision derived from the trust score total.
type AutoDecision string

const (
	AutoDecisionApproved    AutoDecision = "auto_approved"
	AutoDecisionRejected    AutoDecision = "auto_rejected"
	AutoDecisionHumanReview AutoDecision = "requires_human_review"
)

// TrustScoreBreakdown is the weighted trust score of a submission.
type TrustScoreBreakdown struct {
	Security       int                 `json:"security"`
	Functional     int                 `json:"functional"`
	Judge          int                 `json:"judge"`
	Implementation int                 `json:"implementation"`
	Total          int                 `json:"total"`
	AutoDecision   AutoDecision        `json:"autoDecision"`
	Reasoning      TrustScoreReasoning `json:"reasoning"`
}

type TrustScoreReasoning struct {
	Security       string `json:"security,omitempty"`
	Functional     string `json:"functional,omitempty"`
	Judge          string `json:"judge,omitempty"`
	Implementation string `json:"implementation,omitempty"`
}
