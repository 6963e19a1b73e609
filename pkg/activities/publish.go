package activities

import (
	"context"
	"fmt"

	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/models"
)

// Publish records the publication summary and runs the publish hook when one is configured.
func (a *CommandActivities) Publish(ctx context.Context, in PublishInput) (*PublishResult, error) {
	if evaluator, ok := a.config.Evaluators[models.StagePublish]; ok && len(evaluator.Command) > 0 {
		if _, _, err := a.evaluate(ctx, models.StagePublish, in.StageInput, nil); err != nil {
			return nil, err
		}
	}

	dir, err := a.stageDir(in.AgentRevisionID, models.StagePublish)
	if err != nil {
		return nil, err
	}

	publishedAt := a.now().UTC()
	path := summaryPath(dir, models.StagePublish)

	summary := map[string]any{
		"submissionId":    in.SubmissionID,
		"agentId":         in.AgentID,
		"agentRevisionId": in.AgentRevisionID,
		"publishedAt":     publishedAt,
		"trustScore":      in.TrustScore,
	}

	if in.HumanDecision != "" {
		summary["humanDecision"] = in.HumanDecision
	}

	if err := writeJSON(path, summary); err != nil {
		return nil, fmt.Errorf("write publish summary: %w", err)
	}

	a.logger.InfoContext(ctx, "Submission published", "submission_id", in.SubmissionID, "path", path)

	return &PublishResult{PublishedAt: publishedAt, SummaryPath: path}, nil
}
