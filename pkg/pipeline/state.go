package pipeline

import (
	"context"
	"slices"

	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/activities"
	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/eventbus"
	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/events"
	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/models"
	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/trustscore"
)

// commit applies one mutation under a new sequence number. The journal record and the
// snapshot are written before the new progress is published to readers.
func (p *Pipeline) commit(ctx context.Context, kind models.JournalKind, stage models.StageName, detail map[string]any, apply func(seq int64)) {
	p.state.Seq++
	seq := p.state.Seq

	if apply != nil {
		apply(seq)
	}

	now := p.now().UTC()
	p.state.UpdatedAt = now

	p.persist(ctx, models.JournalRecord{
		SubmissionID: p.state.Input.SubmissionID,
		Seq:          seq,
		Kind:         kind,
		Stage:        stage,
		Detail:       detail,
		At:           now,
	})

	p.progress.Store(p.state.Progress.Clone())
}

func (p *Pipeline) persist(ctx context.Context, record models.JournalRecord) {
	if p.deps.Persistence == nil {
		return
	}

	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.persistTimeout)
	defer cancel()

	err := p.deps.Persistence.AppendJournal(persistCtx, record)
	if err != nil {
		p.persistenceFailed(ctx, record.Seq, err)
	}

	err = p.deps.Persistence.SaveSnapshot(persistCtx, p.state)
	if err != nil {
		p.persistenceFailed(ctx, record.Seq, err)
	}
}

func (p *Pipeline) saveSnapshot(ctx context.Context) {
	if p.deps.Persistence == nil {
		return
	}

	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.persistTimeout)
	defer cancel()

	err := p.deps.Persistence.SaveSnapshot(persistCtx, p.state)
	if err != nil {
		p.persistenceFailed(ctx, p.state.Seq, err)
	}
}

func (p *Pipeline) persistenceFailed(ctx context.Context, seq int64, err error) {
	p.logger.ErrorContext(ctx, "Failed to persist pipeline state", "seq", seq, "error", err)

	p.emit(ctx, events.PersistenceFailed{
		BaseEvent: p.baseEvent(events.PersistenceFailedEvent),
		Seq:       seq,
		Error:     err.Error(),
	})
}

func (p *Pipeline) baseEvent(eventType events.EventType) events.BaseEvent {
	base := events.NewBaseEvent(eventType, p.state.Input.SubmissionID)
	base.WorkflowID = p.state.WorkflowID
	base.WorkerID = p.workerID
	base.Metadata["seq"] = p.state.Seq

	return base
}

func (p *Pipeline) emit(ctx context.Context, event eventbus.Event) {
	if p.deps.Events == nil {
		return
	}

	err := p.deps.Events.Publish(context.WithoutCancel(ctx), p.state.Input.SubmissionID, event)
	if err != nil {
		p.logger.WarnContext(ctx, "Failed to publish pipeline event", "event_type", event.GetType(), "error", err)
	}
}

// timeline appends an audit event to the artifact timeline. Failures become stage warnings.
func (p *Pipeline) timeline(ctx context.Context, stage models.StageName, name string, data map[string]any) {
	err := p.deps.Activities.RecordEvent(context.WithoutCancel(ctx), activities.TimelineEvent{
		AgentRevisionID: p.revisionID(),
		SubmissionID:    p.state.Input.SubmissionID,
		Stage:           stage,
		Event:           name,
		Data:            data,
		At:              p.now().UTC(),
	})
	if err == nil {
		return
	}

	p.logger.WarnContext(ctx, "Failed to record timeline event", "stage", stage, "event", name, "error", err)

	if stage != "" {
		p.addWarning(ctx, stage, "timeline_write_failed: "+err.Error())
	}
}

func (p *Pipeline) revisionID() string {
	if p.state.Progress.AgentRevisionID != "" {
		return p.state.Progress.AgentRevisionID
	}

	return p.state.Input.SubmissionID
}

// updateStage mutates one stage and stamps it with the commit sequence.
func (p *Pipeline) updateStage(ctx context.Context, kind models.JournalKind, stage models.StageName, detail map[string]any, mutate func(progress *models.StageProgress)) {
	p.commit(ctx, kind, stage, detail, func(seq int64) {
		progress := p.state.Progress.Stage(stage)
		mutate(progress)
		progress.LastUpdatedSeq = seq
	})
}

// addWarning appends a warning to the stage unless the same warning is already recorded.
func (p *Pipeline) addWarning(ctx context.Context, stage models.StageName, warning string) {
	if slices.Contains(p.state.Progress.Stage(stage).Warnings, warning) {
		return
	}

	p.logger.WarnContext(ctx, "Stage warning", "stage", stage, "warning", warning)

	p.updateStage(ctx, models.JournalStageWarning, stage, map[string]any{"warning": warning}, func(progress *models.StageProgress) {
		progress.Warnings = append(progress.Warnings, warning)
	})

	p.emit(ctx, events.StageWarning{
		BaseEvent: p.baseEvent(events.StageWarningEvent),
		Stage:     stage,
		Warning:   warning,
	})
}

func (p *Pipeline) beginAttempt(ctx context.Context, stage models.StageName) int {
	attempt := p.state.Progress.Stage(stage).Attempts + 1

	p.updateStage(ctx, models.JournalStageStarted, stage, map[string]any{"attempt": attempt}, func(progress *models.StageProgress) {
		progress.Status = models.StageStatusRunning
		progress.Attempts = attempt
		progress.Message = ""
		p.state.Cursor = stage
	})

	p.attemptStarted = p.now()

	p.logger.InfoContext(ctx, "Stage started", "stage", stage, "attempt", attempt)
	p.timeline(ctx, stage, "stage_started", map[string]any{"attempt": attempt})

	p.emit(ctx, events.StageStarted{
		BaseEvent: p.baseEvent(events.StageStartedEvent),
		Stage:     stage,
		Attempt:   attempt,
	})

	return attempt
}

// completeStage marks the stage completed. mutate may add details and move the cursor.
func (p *Pipeline) completeStage(ctx context.Context, stage models.StageName, message string, mutate func(progress *models.StageProgress)) {
	p.updateStage(ctx, models.JournalStageCompleted, stage, map[string]any{"message": message}, func(progress *models.StageProgress) {
		progress.Status = models.StageStatusCompleted
		progress.Message = message

		if mutate != nil {
			mutate(progress)
		}
	})

	progress := p.state.Progress.Stage(stage)
	duration := p.now().Sub(p.attemptStarted)

	p.logger.InfoContext(ctx, "Stage completed", "stage", stage, "attempt", progress.Attempts, "duration", duration)
	p.timeline(ctx, stage, "stage_completed", map[string]any{"attempt": progress.Attempts, "message": message})

	p.emit(ctx, events.StageCompleted{
		BaseEvent:  p.baseEvent(events.StageCompletedEvent),
		Stage:      stage,
		Attempt:    progress.Attempts,
		Message:    message,
		DurationMs: duration.Milliseconds(),
	})
}

// failStage marks the stage failed. Whether that is fatal is decided by the caller.
func (p *Pipeline) failStage(ctx context.Context, stage models.StageName, message string, mutate func(progress *models.StageProgress)) {
	p.updateStage(ctx, models.JournalStageFailed, stage, map[string]any{"message": message}, func(progress *models.StageProgress) {
		progress.Status = models.StageStatusFailed
		progress.Message = message

		if mutate != nil {
			mutate(progress)
		}
	})

	progress := p.state.Progress.Stage(stage)
	duration := p.now().Sub(p.attemptStarted)

	p.logger.WarnContext(ctx, "Stage failed", "stage", stage, "attempt", progress.Attempts, "message", message)
	p.timeline(ctx, stage, "stage_failed", map[string]any{"attempt": progress.Attempts, "message": message})

	p.emit(ctx, events.StageFailed{
		BaseEvent:  p.baseEvent(events.StageFailedEvent),
		Stage:      stage,
		Attempt:    progress.Attempts,
		Error:      message,
		DurationMs: duration.Milliseconds(),
	})
}

// finish sets the terminal state. It never overwrites an earlier terminal state.
func (p *Pipeline) finish(ctx context.Context, state models.TerminalState, reason string) {
	if p.state.Progress.IsFinished() {
		return
	}

	p.terminalReason = reason

	p.commit(ctx, models.JournalTerminal, "", map[string]any{
		"terminalState": string(state),
		"reason":        reason,
	}, func(int64) {
		p.state.Progress.TerminalState = state
	})
}

// recordScore stores a stage outcome and recomputes the trust score from scratch.
func (p *Pipeline) recordScore(ctx context.Context, stage models.StageName, score models.StageScore) {
	scores := make(map[models.StageName]models.StageScore, len(p.state.Scores)+1)
	for name, existing := range p.state.Scores {
		scores[name] = existing
	}

	scores[stage] = score
	breakdown := trustscore.Compute(trustscore.FromScores(scores))

	p.commit(ctx, models.JournalTrustScore, stage, map[string]any{
		"total":        breakdown.Total,
		"autoDecision": string(breakdown.AutoDecision),
	}, func(int64) {
		p.state.Scores = scores
		p.state.Progress.TrustScore = &breakdown
	})
}

func (p *Pipeline) stageInput(attempt int) activities.StageInput {
	in := activities.StageInput{
		WorkflowID:      p.state.WorkflowID,
		RunID:           p.runID,
		SubmissionID:    p.state.Input.SubmissionID,
		AgentID:         p.state.Progress.AgentID,
		AgentRevisionID: p.state.Progress.AgentRevisionID,
		PromptVersion:   p.state.Input.PromptVersion,
		AgentCardPath:   p.state.Input.AgentCardPath,
		Attempt:         attempt,
	}

	if p.state.JudgeConfig != nil {
		config := *p.state.JudgeConfig
		in.JudgeConfig = &config
	}

	return in
}

// nextStage returns the stage that follows stage, skipping the human escalation target.
func nextStage(stage models.StageName) models.StageName {
	order := models.StageOrder()

	for i := stage.Index() + 1; i < len(order); i++ {
		if order[i] != models.StageHuman {
			return order[i]
		}
	}

	return ""
}
