package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/activities"
	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/models"
)

// runPrecheck validates the submission and resolves its identity. Any failure is fatal.
func (p *Pipeline) runPrecheck(ctx context.Context) error {
	res, err := runStageWithRetry(ctx, p, models.StagePrecheck, p.deps.Activities.Precheck)
	if IsSuspended(err) {
		return err
	}

	if err == nil && res == nil {
		err = errNoResult
	}

	if err != nil {
		p.failStage(ctx, models.StagePrecheck, err.Error(), nil)
		p.recordScore(ctx, models.StagePrecheck, models.StageScore{Summary: err.Error()})
		p.finish(ctx, models.TerminalStateRejected, "precheck_failed")

		return nil
	}

	for _, warning := range res.Warnings {
		p.addWarning(ctx, models.StagePrecheck, warning)
	}

	if !res.Passed {
		message := "precheck failed"
		if len(res.FailReasons) > 0 {
			message += ": " + strings.Join(res.FailReasons, ", ")
		}

		p.failStage(ctx, models.StagePrecheck, message, func(progress *models.StageProgress) {
			progress.SetDetail("failReasons", res.FailReasons)
		})
		p.recordScore(ctx, models.StagePrecheck, models.StageScore{
			Summary:  strings.Join(res.FailReasons, ", "),
			Warnings: res.Warnings,
		})
		p.finish(ctx, models.TerminalStateRejected, "precheck_failed")

		return nil
	}

	p.completeStage(ctx, models.StagePrecheck, "submission accepted", func(progress *models.StageProgress) {
		if res.AgentID != "" {
			p.state.Progress.AgentID = res.AgentID
		}

		if res.AgentRevisionID != "" {
			p.state.Progress.AgentRevisionID = res.AgentRevisionID
		}

		progress.SetDetail("agentId", p.state.Progress.AgentID)
		progress.SetDetail("agentRevisionId", p.state.Progress.AgentRevisionID)

		if res.Summary != nil {
			progress.SetDetail("summary", res.Summary)
		}

		p.state.Cursor = models.StageSecurity
	})

	p.recordScore(ctx, models.StagePrecheck, models.StageScore{Ratio: 1, Passed: true, Warnings: res.Warnings})

	return nil
}

// runGate runs the security or functional evaluator. Failures escalate to a human.
func (p *Pipeline) runGate(ctx context.Context, stage models.StageName) error {
	fn := p.deps.Activities.Security
	reason := models.ReasonSecurityGateFailure

	if stage == models.StageFunctional {
		fn = p.deps.Activities.Functional
		reason = models.ReasonFunctionalGateFailure
	}

	res, err := runStageWithRetry(ctx, p, stage, fn)
	if IsSuspended(err) {
		return err
	}

	if err == nil && res == nil {
		err = errNoResult
	}

	if err != nil {
		p.failStage(ctx, stage, err.Error(), nil)
		p.recordScore(ctx, stage, models.StageScore{Summary: err.Error()})
		p.escalate(ctx, stage, reason, []string{err.Error()})

		return nil
	}

	gateDetails := func(progress *models.StageProgress) {
		progress.SetDetail("score", res.Score)
		progress.SetDetail("passed", res.Passed)

		if res.Summary != nil {
			progress.SetDetail("summary", res.Summary)
		}

		if len(res.FailReasons) > 0 {
			progress.SetDetail("failReasons", res.FailReasons)
		}

		if res.SummaryPath != "" {
			progress.SetDetail("summaryPath", res.SummaryPath)
		}

		if res.ReportPath != "" {
			progress.SetDetail("reportPath", res.ReportPath)
		}
	}

	score := models.StageScore{
		Ratio:   res.Score,
		Passed:  res.Passed,
		Summary: strings.Join(res.FailReasons, ", "),
	}

	if res.Passed {
		p.completeStage(ctx, stage, fmt.Sprintf("%s gate passed", stage), func(progress *models.StageProgress) {
			gateDetails(progress)
			p.state.Cursor = nextStage(stage)
		})
		p.recordLedger(ctx, stage, res, res.SummaryPath)
		p.recordScore(ctx, stage, score)

		return nil
	}

	message := fmt.Sprintf("%s gate failed", stage)
	if len(res.FailReasons) > 0 {
		message += ": " + strings.Join(res.FailReasons, ", ")
	}

	p.failStage(ctx, stage, message, gateDetails)
	p.recordLedger(ctx, stage, res, res.SummaryPath)
	p.recordScore(ctx, stage, score)
	p.escalate(ctx, stage, reason, res.FailReasons)

	return nil
}

// runJudge runs the multi-rater judge: approve continues, reject is fatal, manual escalates.
func (p *Pipeline) runJudge(ctx context.Context) error {
	res, err := runStageWithRetry(ctx, p, models.StageJudge, p.deps.Activities.Judge)
	if IsSuspended(err) {
		return err
	}

	if err == nil && res == nil {
		err = errNoResult
	}

	if err != nil {
		p.failStage(ctx, models.StageJudge, err.Error(), nil)
		p.recordScore(ctx, models.StageJudge, models.StageScore{Summary: err.Error()})
		p.escalate(ctx, models.StageJudge, models.ReasonJudgeFailure, []string{err.Error()})

		return nil
	}

	judgeDetails := func(progress *models.StageProgress) {
		progress.SetDetail("verdict", string(res.Verdict))
		progress.SetDetail("score", res.Score)

		if len(res.Reasons) > 0 {
			progress.SetDetail("reasons", res.Reasons)
		}

		if res.Summary != nil {
			progress.SetDetail("summary", res.Summary)
		}

		if res.SummaryPath != "" {
			progress.SetDetail("summaryPath", res.SummaryPath)
		}

		if res.ReportPath != "" {
			progress.SetDetail("reportPath", res.ReportPath)
		}

		if p.state.JudgeConfig != nil {
			progress.SetDetail("llmJudgeConfig", *p.state.JudgeConfig)
		}
	}

	score := models.StageScore{
		Ratio:   res.Score,
		Passed:  res.Verdict == models.JudgeVerdictApprove,
		Summary: string(res.Verdict),
	}

	switch res.Verdict {
	case models.JudgeVerdictApprove:
		p.completeStage(ctx, models.StageJudge, "judge approved", func(progress *models.StageProgress) {
			judgeDetails(progress)
			p.state.Cursor = models.StagePublish
		})
		p.recordLedger(ctx, models.StageJudge, res, res.SummaryPath)
		p.recordScore(ctx, models.StageJudge, score)
	case models.JudgeVerdictReject:
		p.failStage(ctx, models.StageJudge, "judge rejected", judgeDetails)
		p.recordLedger(ctx, models.StageJudge, res, res.SummaryPath)
		p.recordScore(ctx, models.StageJudge, score)
		p.finish(ctx, models.TerminalStateRejected, "judge_rejected")
	case models.JudgeVerdictManual:
		p.completeStage(ctx, models.StageJudge, "manual review requested", judgeDetails)
		p.recordLedger(ctx, models.StageJudge, res, res.SummaryPath)
		p.recordScore(ctx, models.StageJudge, score)
		p.escalate(ctx, models.StageJudge, models.ReasonJudgeManualReview, res.Reasons)
	default:
		message := fmt.Sprintf("judge returned unknown verdict %q", res.Verdict)

		p.failStage(ctx, models.StageJudge, message, judgeDetails)
		p.recordScore(ctx, models.StageJudge, models.StageScore{Summary: message})
		p.escalate(ctx, models.StageJudge, models.ReasonJudgeFailure, []string{message})
	}

	return nil
}

// runPublish finalizes the submission. Failure is fatal.
func (p *Pipeline) runPublish(ctx context.Context) error {
	var trustScore *models.TrustScoreBreakdown
	if p.state.Progress.TrustScore != nil {
		score := *p.state.Progress.TrustScore
		trustScore = &score
	}

	decision := p.lastHumanDecision()

	publish := func(ctx context.Context, in activities.StageInput) (*activities.PublishResult, error) {
		return p.deps.Activities.Publish(ctx, activities.PublishInput{
			StageInput:    in,
			TrustScore:    trustScore,
			HumanDecision: decision,
		})
	}

	res, err := runStageWithRetry(ctx, p, models.StagePublish, publish)
	if IsSuspended(err) {
		return err
	}

	if err == nil && res == nil {
		err = errNoResult
	}

	if err != nil {
		p.failStage(ctx, models.StagePublish, err.Error(), nil)
		p.finish(ctx, models.TerminalStateRejected, "publish_failed")

		return nil
	}

	p.completeStage(ctx, models.StagePublish, "submission published", func(progress *models.StageProgress) {
		progress.SetDetail("publishedAt", res.PublishedAt.UTC().Format(time.RFC3339Nano))

		if res.SummaryPath != "" {
			progress.SetDetail("summaryPath", res.SummaryPath)
		}
	})
	p.finish(ctx, models.TerminalStatePublished, "published")

	return nil
}

func (p *Pipeline) lastHumanDecision() models.HumanDecision {
	human := p.state.Progress.Stage(models.StageHuman)
	if human.Status != models.StageStatusCompleted {
		return ""
	}

	decision, _ := human.Details["decision"].(string)

	return models.HumanDecision(decision)
}
