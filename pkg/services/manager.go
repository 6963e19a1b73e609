package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/models"
	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/persistence"
	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/pipeline"
	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/resolver"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Manager runs one review pipeline per submission and routes queries and signals to it.
// Pipelines run on the manager's own context: Shutdown suspends them, Recover resumes
// them after a restart.
type Manager struct {
	logger   *slog.Logger
	deps     pipeline.Deps
	resolver *resolver.Resolver
	options  []pipeline.Option
	relay    *models.RelayTarget

	ctx    context.Context
	cancel context.CancelCauseFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	stopped   bool
	pipelines map[string]*pipeline.Pipeline
}

// NewManager creates a review manager. deps.Persistence is where finished pipelines
// are looked up and where Recover finds interrupted ones.
func NewManager(logger *slog.Logger, deps pipeline.Deps, ledgerResolver *resolver.Resolver, opts ...pipeline.Option) *Manager {
	logger = logger.With("module", "review_manager")

	if deps.Logger == nil {
		deps.Logger = logger
	}

	ctx, cancel := context.WithCancelCause(context.Background())

	return &Manager{
		logger:    logger,
		deps:      deps,
		resolver:  ledgerResolver,
		options:   opts,
		ctx:       ctx,
		cancel:    cancel,
		pipelines: make(map[string]*pipeline.Pipeline),
	}
}

// SetDefaultRelay sets the ledger relay used by submissions started without one.
func (m *Manager) SetDefaultRelay(target *models.RelayTarget) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.relay = target
}

// HealthCheck checks the health of the persistence layer.
func (m *Manager) HealthCheck(ctx context.Context) (string, bool) {
	if m.deps.Persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := m.deps.Persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// Start launches the review pipeline of a new submission and returns its initial progress.
func (m *Manager) Start(ctx context.Context, input models.PipelineInput) (*models.WorkflowProgress, error) {
	const op = "start"

	if err := persistence.ValidateSubmissionID(input.SubmissionID); err != nil {
		return nil, newError(op, input.SubmissionID, fmt.Errorf("%w: %w", ErrInvalidRequest, err))
	}

	if err := validate.Struct(input); err != nil {
		return nil, newError(op, input.SubmissionID, fmt.Errorf("%w: %w", ErrInvalidRequest, err))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return nil, newError(op, input.SubmissionID, ErrManagerStopped)
	}

	if _, exists := m.pipelines[input.SubmissionID]; exists {
		return nil, newError(op, input.SubmissionID, ErrPipelineExists)
	}

	if m.deps.Persistence != nil {
		_, err := m.deps.Persistence.SnapshotByID(ctx, input.SubmissionID)

		switch {
		case err == nil:
			return nil, newError(op, input.SubmissionID, ErrPipelineExists)
		case !persistence.IsSnapshotNotFound(err):
			return nil, newError(op, input.SubmissionID, err)
		}
	}

	if input.Relay == nil && m.relay != nil {
		relay := *m.relay
		input.Relay = &relay
	}

	p, err := pipeline.New(input, m.deps, m.options...)
	if err != nil {
		return nil, newError(op, input.SubmissionID, err)
	}

	m.launch(p)

	m.logger.InfoContext(ctx, "Review pipeline started",
		"submission_id", input.SubmissionID, "workflow_id", p.WorkflowID())

	return p.Progress(), nil
}

// Recover restores every interrupted pipeline found in the store and resumes it.
// It returns how many pipelines were resumed.
func (m *Manager) Recover(ctx context.Context) (int, error) {
	if m.deps.Persistence == nil {
		return 0, nil
	}

	snapshots, err := m.deps.Persistence.ActiveSnapshots(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list active pipelines: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var (
		recovered int
		errs      []error
	)

	for _, snapshot := range snapshots {
		submissionID := snapshot.Input.SubmissionID

		if _, running := m.pipelines[submissionID]; running {
			continue
		}

		p, err := pipeline.Restore(snapshot, m.deps, m.options...)
		if err != nil {
			m.logger.ErrorContext(ctx, "Failed to restore review pipeline", "submission_id", submissionID, "error", err)
			errs = append(errs, newError("recover", submissionID, err))

			continue
		}

		m.launch(p)
		recovered++

		m.logger.InfoContext(ctx, "Review pipeline resumed",
			"submission_id", submissionID, "cursor", snapshot.Cursor, "seq", snapshot.Seq)
	}

	return recovered, errors.Join(errs...)
}

// launch runs p on the manager context. Callers hold m.mu.
func (m *Manager) launch(p *pipeline.Pipeline) {
	submissionID := p.SubmissionID()
	m.pipelines[submissionID] = p

	m.wg.Add(1)

	go func() {
		defer m.wg.Done()

		err := p.Run(m.ctx)

		switch {
		case err == nil:
			m.logger.Info("Review pipeline finished",
				"submission_id", submissionID, "terminal_state", p.Progress().TerminalState)
		case pipeline.IsSuspended(err):
			m.logger.Info("Review pipeline suspended", "submission_id", submissionID, "cause", err)
		default:
			m.logger.Error("Review pipeline stopped", "submission_id", submissionID, "error", err)
		}

		m.mu.Lock()
		if m.pipelines[submissionID] == p {
			delete(m.pipelines, submissionID)
		}
		m.mu.Unlock()
	}()
}

// Running returns the submission ids of the pipelines currently loaded.
func (m *Manager) Running() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.pipelines))
	for id := range m.pipelines {
		ids = append(ids, id)
	}

	slices.Sort(ids)

	return ids
}

// Shutdown suspends every running pipeline and waits for their control loops to return.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()

	m.cancel(ErrManagerStopped)

	done := make(chan struct{})

	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.InfoContext(ctx, "Review manager stopped")

		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for pipelines to suspend: %w", ctx.Err())
	}
}

// Progress returns the progress of a submission's pipeline. Pipelines that are no longer
// loaded answer from the store.
func (m *Manager) Progress(ctx context.Context, submissionID string) (*models.WorkflowProgress, error) {
	if p, ok := m.lookup(submissionID); ok {
		return p.Progress(), nil
	}

	snapshot, err := m.snapshot(ctx, "progress", submissionID)
	if err != nil {
		return nil, err
	}

	return snapshot.Progress, nil
}

// RetryStage asks the pipeline to re-run stage once its in-flight attempt completes.
func (m *Manager) RetryStage(ctx context.Context, submissionID string, stage models.StageName, reason string) error {
	if !stage.Valid() {
		return newError("retry_stage", submissionID, fmt.Errorf("%w: %q", ErrInvalidStage, stage))
	}

	return m.signal(ctx, "retry_stage", submissionID, func(p *pipeline.Pipeline) error {
		return p.SignalRetryStage(ctx, stage, reason)
	})
}

// HumanDecision delivers a reviewer decision to the pipeline.
func (m *Manager) HumanDecision(ctx context.Context, submissionID string, decision models.HumanDecision, notes string) error {
	return m.signal(ctx, "human_decision", submissionID, func(p *pipeline.Pipeline) error {
		return p.SignalHumanDecision(ctx, decision, notes)
	})
}

// UpdateJudgeConfig overrides the judge LLM configuration of the pipeline.
func (m *Manager) UpdateJudgeConfig(ctx context.Context, submissionID string, config models.JudgeLLMConfig) error {
	return m.signal(ctx, "update_judge_config", submissionID, func(p *pipeline.Pipeline) error {
		return p.SignalUpdateJudgeConfig(ctx, config)
	})
}

func (m *Manager) signal(ctx context.Context, op, submissionID string, send func(*pipeline.Pipeline) error) error {
	p, ok := m.lookup(submissionID)
	if !ok {
		snapshot, err := m.snapshot(ctx, op, submissionID)
		if err != nil {
			return err
		}

		if snapshot.IsFinished() {
			return newError(op, submissionID, ErrPipelineFinished)
		}

		if m.ctx.Err() != nil {
			return newError(op, submissionID, ErrManagerStopped)
		}

		// Persisted but not loaded: it is resumed by Recover.
		return newError(op, submissionID, ErrPipelineNotFound)
	}

	err := send(p)

	switch {
	case err == nil:
		m.logger.DebugContext(ctx, "Signal delivered", "op", op, "submission_id", submissionID)

		return nil
	case errors.Is(err, pipeline.ErrPipelineFinished):
		return newError(op, submissionID, ErrPipelineFinished)
	case errors.Is(err, pipeline.ErrPipelineStopped) && p.Progress().IsFinished():
		return newError(op, submissionID, ErrPipelineFinished)
	case errors.Is(err, pipeline.ErrInvalidSignal):
		return newError(op, submissionID, fmt.Errorf("%w: %w", ErrInvalidRequest, err))
	default:
		return newError(op, submissionID, err)
	}
}

func (m *Manager) lookup(submissionID string) (*pipeline.Pipeline, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pipelines[submissionID]

	return p, ok
}

func (m *Manager) snapshot(ctx context.Context, op, submissionID string) (*models.PipelineSnapshot, error) {
	if m.deps.Persistence == nil {
		return nil, newError(op, submissionID, ErrPipelineNotFound)
	}

	snapshot, err := m.deps.Persistence.SnapshotByID(ctx, submissionID)

	switch {
	case persistence.IsSnapshotNotFound(err), errors.Is(err, persistence.ErrInvalidSubmissionID):
		return nil, newError(op, submissionID, ErrPipelineNotFound)
	case err != nil:
		return nil, newError(op, submissionID, err)
	}

	return snapshot, nil
}
