package models

import "fmt"

// HumanDecision is the outcome of a human review.
type HumanDecision string

const (
	HumanDecisionApproved HumanDecision = "approved"
	HumanDecisionRejected HumanDecision = "rejected"
)

func ParseHumanDecision(raw string) (HumanDecision, error) {
	switch HumanDecision(raw) {
	case HumanDecisionApproved, HumanDecisionRejected:
		return HumanDecision(raw), nil
	default:
		return "", fmt.Errorf("invalid human decision %q", raw)
	}
}

// JudgeVerdict is the multi-rater judge outcome.
type JudgeVerdict string

const (
	JudgeVerdictApprove JudgeVerdict = "approve"
	JudgeVerdictReject  JudgeVerdict = "reject"
	JudgeVerdictManual  JudgeVerdict = "manual"
)

// Escalation reasons recorded on the human stage.
const (
	ReasonSecurityGateFailure   = "security_gate_failure"
	ReasonFunctionalGateFailure = "functional_gate_failure"
	ReasonJudgeManualReview     = "judge_manual_review"
	ReasonJudgeFailure          = "judge_failure"
)
