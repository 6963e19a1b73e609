package activities

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"

	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/models"
)

// Precheck validates that the submission is processable and resolves the agent identity.
// Structural problems are reported as a failed result, not an error.
func (a *CommandActivities) Precheck(ctx context.Context, in StageInput) (*PrecheckResult, error) {
	result := &PrecheckResult{
		AgentID:         in.AgentID,
		AgentRevisionID: in.AgentRevisionID,
		Summary:         map[string]any{"submissionId": in.SubmissionID},
	}

	if in.SubmissionID == "" {
		result.FailReasons = append(result.FailReasons, "submission_id_missing")
	}

	if in.AgentCardPath != "" {
		a.checkAgentCard(in.AgentCardPath, result)
	}

	if result.AgentID == "" {
		result.FailReasons = append(result.FailReasons, "agent_id_unresolved")
	}

	if result.AgentRevisionID == "" && in.SubmissionID != "" {
		result.AgentRevisionID = in.SubmissionID
		result.Warnings = append(result.Warnings, "agent_revision_defaulted_to_submission")
	}

	result.Passed = len(result.FailReasons) == 0
	result.Summary["agentId"] = result.AgentID
	result.Summary["agentRevisionId"] = result.AgentRevisionID

	if result.Passed {
		dir, err := a.stageDir(result.AgentRevisionID, models.StagePrecheck)
		if err != nil {
			return nil, err
		}

		if err := writeJSON(summaryPath(dir, models.StagePrecheck), result); err != nil {
			return nil, err
		}
	}

	a.logger.InfoContext(ctx, "Precheck finished",
		"submission_id", in.SubmissionID,
		"passed", result.Passed,
		"warnings", len(result.Warnings),
	)

	return result, nil
}

func (a *CommandActivities) checkAgentCard(path string, result *PrecheckResult) {
	card, err := readJSON(filepath.Clean(path))
	if errors.Is(err, fs.ErrNotExist) {
		result.FailReasons = append(result.FailReasons, "agent_card_missing")

		return
	}

	if err != nil {
		result.FailReasons = append(result.FailReasons, "agent_card_unreadable")

		return
	}

	if err := validateDocument(schemaAgentCard, card); err != nil {
		result.FailReasons = append(result.FailReasons, "agent_card_invalid")
		result.Summary["agentCardErrors"] = err.Error()

		return
	}

	if id := stringField(card, "id"); result.AgentID == "" && id != "" {
		result.AgentID = id
	}

	if version := stringField(card, "version"); version != "" {
		result.Summary["agentVersion"] = version
	}

	if stringField(card, "description") == "" {
		result.Warnings = append(result.Warnings, "agent_card_missing_description")
	}

	if _, ok := card["skills"]; !ok {
		result.Warnings = append(result.Warnings, "agent_card_missing_skills")
	}

	result.Summary["agentName"] = stringField(card, "name")
}
