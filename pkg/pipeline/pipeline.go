// Package pipeline implements the review pipeline orchestrator: a durable, signal-driven
// state machine that sequences the review stages of one submission.
//
// Each pipeline owns a single control loop. Stage activities run on their own goroutine
// while the loop keeps draining the signal queue; every state mutation is journaled and
// snapshotted before it becomes visible to Progress.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"runtime/debug"
	"slices"
	"sync/atomic"
	"time"

	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/events"
	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/models"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
)

const tracerName = "github.com/Naoya-Yasuda/agent-store-sub000/pkg/pipeline"

// Pipeline is one review pipeline instance.
type Pipeline struct {
	deps           Deps
	logger         *slog.Logger
	now            func() time.Time
	runID          string
	workerID       string
	persistTimeout time.Duration

	// Owned by the control loop.
	state          *models.PipelineSnapshot
	active         models.StageName
	pendingRetry   map[models.StageName]string
	attemptStarted time.Time
	terminalReason string
	resumed        bool

	progress atomic.Pointer[models.WorkflowProgress]
	commands chan command
	started  atomic.Bool
	done     chan struct{}
}

// New creates a pipeline for a fresh submission. Nothing runs until Run is called.
func New(input models.PipelineInput, deps Deps, opts ...Option) (*Pipeline, error) {
	if err := validate.Struct(input); err != nil {
		return nil, fmt.Errorf("invalid pipeline input: %w", err)
	}

	progress := models.NewWorkflowProgress(input.Submission)

	if input.LLMJudgeConfig != nil {
		config := *input.LLMJudgeConfig
		progress.LLMJudgeConfig = &config
	}

	if input.RunMetadata != nil {
		metadata := *input.RunMetadata
		progress.RunMetadata = &metadata
	}

	state := &models.PipelineSnapshot{
		WorkflowID: models.WorkflowID(input.SubmissionID),
		Input:      input,
		Progress:   progress,
		Cursor:     models.StagePrecheck,
		Scores:     map[models.StageName]models.StageScore{},
	}

	if input.LLMJudgeConfig != nil {
		config := *input.LLMJudgeConfig
		state.JudgeConfig = &config
	}

	return newPipeline(state, deps, false, opts)
}

// Restore rebuilds a pipeline from its last persisted snapshot. Run resumes it: a pending
// escalation is awaited again, otherwise the cursor stage is executed with a new attempt.
func Restore(snapshot *models.PipelineSnapshot, deps Deps, opts ...Option) (*Pipeline, error) {
	if snapshot == nil || snapshot.Progress == nil {
		return nil, fmt.Errorf("cannot restore pipeline: snapshot has no progress")
	}

	if snapshot.IsFinished() {
		return nil, ErrPipelineFinished
	}

	if !snapshot.Cursor.Valid() {
		return nil, fmt.Errorf("cannot restore pipeline: %w: cursor %q", models.ErrInvalidStage, snapshot.Cursor)
	}

	return newPipeline(cloneSnapshot(snapshot), deps, true, opts)
}

func newPipeline(state *models.PipelineSnapshot, deps Deps, resumed bool, opts []Option) (*Pipeline, error) {
	if deps.Activities == nil {
		return nil, ErrMissingActivities
	}

	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	if deps.Tracer == nil {
		deps.Tracer = otel.Tracer(tracerName)
	}

	p := &Pipeline{
		deps:           deps,
		now:            time.Now,
		persistTimeout: defaultPersistTimeout,
		state:          state,
		pendingRetry:   map[models.StageName]string{},
		resumed:        resumed,
		commands:       make(chan command, defaultCommandBuffer),
		done:           make(chan struct{}),
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.runID == "" {
		p.runID = uuid.NewString()
		if state.Input.RunMetadata != nil && state.Input.RunMetadata.RunID != "" {
			p.runID = state.Input.RunMetadata.RunID
		}
	}

	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = p.now().UTC()
	}

	p.logger = deps.Logger.With(
		"module", "review_pipeline",
		"submission_id", state.Input.SubmissionID,
		"workflow_id", state.WorkflowID,
	)

	p.progress.Store(state.Progress.Clone())

	return p, nil
}

// SubmissionID returns the submission reviewed by this pipeline.
func (p *Pipeline) SubmissionID() string {
	return p.state.Input.SubmissionID
}

// Input returns the immutable input the pipeline was started with.
func (p *Pipeline) Input() models.PipelineInput {
	return p.state.Input
}

// WorkflowID returns the durable workflow identifier of this pipeline.
func (p *Pipeline) WorkflowID() string {
	return p.state.WorkflowID
}

// Progress returns a consistent copy of the current progress. It never blocks.
func (p *Pipeline) Progress() *models.WorkflowProgress {
	return p.progress.Load().Clone()
}

// Done is closed when Run returns, whether the pipeline finished or was suspended.
func (p *Pipeline) Done() <-chan struct{} {
	return p.done
}

// Run drives the pipeline until it reaches a terminal state or ctx ends.
// It returns nil on a terminal state and a suspension error (see IsSuspended) otherwise.
func (p *Pipeline) Run(ctx context.Context) (err error) {
	if !p.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(p.done)

	if p.state.Progress.IsFinished() {
		return ErrPipelineFinished
	}

	p.logger.InfoContext(ctx, "Starting review pipeline", "resumed", p.resumed, "cursor", p.state.Cursor, "seq", p.state.Seq)

	if p.state.Seq == 0 {
		p.saveSnapshot(ctx)
	}

	p.emit(ctx, events.PipelineStarted{
		BaseEvent:       p.baseEvent(events.PipelineStartedEvent),
		AgentID:         p.state.Progress.AgentID,
		AgentRevisionID: p.state.Progress.AgentRevisionID,
		Resumed:         p.resumed,
	})

	defer func() {
		if r := recover(); r != nil {
			p.logger.ErrorContext(ctx, "Review pipeline panicked", "panic", r, "stack", string(debug.Stack()))

			err = fmt.Errorf("review pipeline panicked: %v", r)
			p.abort(ctx, err)
		}

		if p.state.Progress.IsFinished() {
			p.cleanup(ctx)
		}
	}()

	err = p.loop(ctx)
	if err != nil && !IsSuspended(err) {
		p.abort(ctx, err)
	}

	return err
}

func (p *Pipeline) loop(ctx context.Context) error {
	for !p.state.Progress.IsFinished() {
		if ctx.Err() != nil {
			return p.suspended(ctx)
		}

		if p.state.Escalation != nil {
			err := p.awaitHumanDecision(ctx)
			if err != nil {
				return err
			}

			continue
		}

		var err error

		switch p.state.Cursor {
		case models.StagePrecheck:
			err = p.runPrecheck(ctx)
		case models.StageSecurity, models.StageFunctional:
			err = p.runGate(ctx, p.state.Cursor)
		case models.StageJudge:
			err = p.runJudge(ctx)
		case models.StagePublish:
			err = p.runPublish(ctx)
		default:
			err = fmt.Errorf("%w: cursor %q has no pending escalation", models.ErrInvalidStage, p.state.Cursor)
		}

		if err != nil {
			return err
		}
	}

	return nil
}

// cleanup runs once the pipeline is terminal: every stage never reached is skipped.
func (p *Pipeline) cleanup(ctx context.Context) {
	var skipped []models.StageName

	for _, stage := range models.StageOrder() {
		if p.state.Progress.Stage(stage).Status == models.StageStatusPending {
			skipped = append(skipped, stage)
		}
	}

	if len(skipped) > 0 {
		names := make([]string, 0, len(skipped))
		for _, stage := range skipped {
			names = append(names, string(stage))
		}

		p.commit(ctx, models.JournalStageSkipped, "", map[string]any{"stages": names}, func(seq int64) {
			for _, stage := range skipped {
				progress := p.state.Progress.Stage(stage)
				progress.Status = models.StageStatusSkipped
				progress.LastUpdatedSeq = seq
			}
		})
	}

	p.logger.InfoContext(ctx, "Review pipeline finished",
		"terminal_state", p.state.Progress.TerminalState,
		"reason", p.terminalReason,
		"skipped", skipped,
	)

	p.timeline(ctx, "", "pipeline_finished", map[string]any{
		"terminalState": string(p.state.Progress.TerminalState),
		"reason":        p.terminalReason,
	})

	var trustScore *models.TrustScoreBreakdown
	if p.state.Progress.TrustScore != nil {
		score := *p.state.Progress.TrustScore
		trustScore = &score
	}

	p.emit(ctx, events.PipelineFinished{
		BaseEvent:     p.baseEvent(events.PipelineFinishedEvent),
		TerminalState: p.state.Progress.TerminalState,
		TrustScore:    trustScore,
		Reason:        p.terminalReason,
	})
}

// abort fails whatever is running and rejects the pipeline after an internal error.
func (p *Pipeline) abort(ctx context.Context, cause error) {
	if p.state.Progress.IsFinished() {
		return
	}

	for _, stage := range p.state.Progress.RunningStages() {
		p.failStage(ctx, stage, cause.Error(), nil)
	}

	p.finish(ctx, models.TerminalStateRejected, "internal_error")
}

func (p *Pipeline) suspended(ctx context.Context) error {
	p.logger.InfoContext(ctx, "Review pipeline suspended", "cursor", p.state.Cursor, "seq", p.state.Seq)

	return fmt.Errorf("%w: %w", errSuspended, context.Cause(ctx))
}

func cloneSnapshot(snapshot *models.PipelineSnapshot) *models.PipelineSnapshot {
	clone := *snapshot
	clone.Progress = snapshot.Progress.Clone()
	clone.Decisions = slices.Clone(snapshot.Decisions)
	clone.Scores = maps.Clone(snapshot.Scores)

	if clone.Scores == nil {
		clone.Scores = map[models.StageName]models.StageScore{}
	}

	if snapshot.Escalation != nil {
		escalation := *snapshot.Escalation
		escalation.Notes = slices.Clone(snapshot.Escalation.Notes)
		clone.Escalation = &escalation
	}

	if snapshot.JudgeConfig != nil {
		config := *snapshot.JudgeConfig
		clone.JudgeConfig = &config
	}

	return &clone
}
