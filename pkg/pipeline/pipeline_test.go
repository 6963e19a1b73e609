package pipeline_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/activities"
	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/events"
	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/ledger"
	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/models"
	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RequiresSubmissionID(t *testing.T) {
	h := newHarness(t)

	_, err := pipeline.New(testInput(""), h.deps)
	assert.Error(t, err)
}

func TestNew_RequiresActivities(t *testing.T) {
	_, err := pipeline.New(testInput("sub-1"), pipeline.Deps{})
	assert.ErrorIs(t, err, pipeline.ErrMissingActivities)
}

func TestNew_InitialProgress(t *testing.T) {
	h := newHarness(t)
	p := h.newPipeline(t, testInput("sub-1"))

	progress := p.Progress()
	assert.Equal(t, models.TerminalStateRunning, progress.TerminalState)
	assert.Equal(t, "review-pipeline-sub-1", p.WorkflowID())

	for _, stage := range models.StageOrder() {
		assert.Equal(t, models.StageStatusPending, progress.Stages[stage].Status, stage)
		assert.Equal(t, 0, progress.Stages[stage].Attempts, stage)
	}
}

func TestPipeline_HappyPath(t *testing.T) {
	h := newHarness(t)
	p := h.newPipeline(t, testInput("sub-1"))

	runToEnd(t, p)

	progress := p.Progress()
	assert.Equal(t, models.TerminalStatePublished, progress.TerminalState)
	assert.Equal(t, "agent-1", progress.AgentID)
	assert.Equal(t, "rev-1", progress.AgentRevisionID)

	for _, stage := range []models.StageName{models.StagePrecheck, models.StageSecurity, models.StageFunctional, models.StageJudge, models.StagePublish} {
		assert.Equal(t, models.StageStatusCompleted, progress.Stages[stage].Status, stage)
		assert.Equal(t, 1, progress.Stages[stage].Attempts, stage)
	}

	assert.Equal(t, models.StageStatusSkipped, progress.Stages[models.StageHuman].Status)
	assert.Empty(t, h.fake.violations)

	// Stages are stamped in execution order.
	var last int64
	for _, stage := range []models.StageName{models.StagePrecheck, models.StageSecurity, models.StageFunctional, models.StageJudge, models.StagePublish} {
		assert.Greater(t, progress.Stages[stage].LastUpdatedSeq, last, stage)
		last = progress.Stages[stage].LastUpdatedSeq
	}

	require.NotNil(t, progress.TrustScore)
	assert.Equal(t, 30, progress.TrustScore.Security)
	assert.Equal(t, 36, progress.TrustScore.Functional)
	assert.Equal(t, 16, progress.TrustScore.Judge)
	assert.Equal(t, 10, progress.TrustScore.Implementation)
	assert.Equal(t, 92, progress.TrustScore.Total)
	assert.Equal(t, models.AutoDecisionApproved, progress.TrustScore.AutoDecision)

	require.Len(t, h.fake.published, 1)
	assert.Equal(t, 92, h.fake.published[0].TrustScore.Total)
	assert.Empty(t, h.fake.published[0].HumanDecision)

	types := h.bus.types()
	require.NotEmpty(t, types)
	assert.Equal(t, events.PipelineStartedEvent, types[0])
	assert.Equal(t, events.PipelineFinishedEvent, types[len(types)-1])
	assert.NotEmpty(t, h.fake.timeline)
}

func TestPipeline_RecordsVerifiableLedgerEntries(t *testing.T) {
	h := newHarness(t)
	gate := &activities.GateResult{Passed: true, Score: 1, Summary: map[string]any{"b": 2, "a": 1}}
	h.fake.security = func(context.Context, activities.StageInput) (*activities.GateResult, error) {
		return gate, nil
	}

	p := h.newPipeline(t, testInput("sub-1"))
	runToEnd(t, p)

	for _, stage := range []models.StageName{models.StageSecurity, models.StageFunctional, models.StageJudge} {
		pointer, ok := p.Progress().Stages[stage].Details["ledger"].(models.LedgerPointer)
		require.True(t, ok, stage)
		assert.FileExists(t, pointer.EntryPath)
		assert.Len(t, pointer.Digest, 64)
	}

	pointer := p.Progress().Stages[models.StageSecurity].Details["ledger"].(models.LedgerPointer)
	require.NoError(t, ledger.Verify(pointer.EntryPath, models.StageSecurity, gate))

	entry, err := ledger.LoadEntry(pointer.EntryPath)
	require.NoError(t, err)
	assert.Equal(t, "review-pipeline-sub-1", entry.WorkflowID)
	assert.Equal(t, "agent-store-test", entry.Namespace)
}

func TestPipeline_PersistsJournalAndSnapshot(t *testing.T) {
	h := newHarness(t)
	p := h.newPipeline(t, testInput("sub-1"))

	runToEnd(t, p)

	snapshot, err := h.store.SnapshotByID(t.Context(), "sub-1")
	require.NoError(t, err)
	assert.True(t, snapshot.IsFinished())
	assert.Nil(t, snapshot.Escalation)

	for stage, progress := range p.Progress().Stages {
		assert.Equal(t, progress.Status, snapshot.Progress.Stages[stage].Status, stage)
		assert.Equal(t, progress.Attempts, snapshot.Progress.Stages[stage].Attempts, stage)
		assert.Equal(t, progress.LastUpdatedSeq, snapshot.Progress.Stages[stage].LastUpdatedSeq, stage)
	}

	journal, err := h.store.Journal(t.Context(), "sub-1")
	require.NoError(t, err)
	require.NotEmpty(t, journal)

	for i, record := range journal {
		assert.Equal(t, int64(i+1), record.Seq)
	}

	assert.Equal(t, snapshot.Seq, journal[len(journal)-1].Seq)

	active, err := h.store.ActiveSnapshots(t.Context())
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestPipeline_SecurityFailureEscalatesAndApprovalResumes(t *testing.T) {
	h := newHarness(t)
	h.fake.security = failGate("prompt_injection_detected")

	p := h.newPipeline(t, testInput("sub-1"))
	result := start(t.Context(), p)

	waitForStatus(t, p, models.StageHuman, models.StageStatusRunning)

	progress := p.Progress()
	human := progress.Stages[models.StageHuman]
	assert.Equal(t, models.ReasonSecurityGateFailure, human.Details["reason"])
	assert.Equal(t, string(models.StageSecurity), human.Details["source"])
	assert.Equal(t, []string{"prompt_injection_detected"}, human.Details["notes"])
	assert.Equal(t, models.StageStatusFailed, progress.Stages[models.StageSecurity].Status)
	assert.Equal(t, models.StageStatusPending, progress.Stages[models.StageFunctional].Status)
	assert.Equal(t, 0, h.fake.callCount(models.StageFunctional))

	require.NoError(t, p.SignalHumanDecision(t.Context(), models.HumanDecisionApproved, "false positive"))
	require.NoError(t, waitResult(t, result))

	progress = p.Progress()
	assert.Equal(t, models.TerminalStatePublished, progress.TerminalState)
	assert.Equal(t, models.StageStatusCompleted, progress.Stages[models.StageHuman].Status)
	assert.Equal(t, "approved", progress.Stages[models.StageHuman].Details["decision"])
	assert.Equal(t, 1, progress.Stages[models.StageSecurity].Attempts)
	assert.Equal(t, 1, progress.Stages[models.StageFunctional].Attempts)
	assert.Equal(t, models.HumanDecisionApproved, h.fake.published[0].HumanDecision)
	assert.Empty(t, h.fake.violations)
}

func TestPipeline_SecurityFailureRejectedByHuman(t *testing.T) {
	h := newHarness(t)
	h.fake.security = failGate("prompt_injection_detected")

	p := h.newPipeline(t, testInput("sub-1"))
	result := start(t.Context(), p)

	waitForStatus(t, p, models.StageHuman, models.StageStatusRunning)
	require.NoError(t, p.SignalHumanDecision(t.Context(), models.HumanDecisionRejected, ""))
	require.NoError(t, waitResult(t, result))

	progress := p.Progress()
	assert.Equal(t, models.TerminalStateRejected, progress.TerminalState)
	assert.Equal(t, models.StageStatusCompleted, progress.Stages[models.StagePrecheck].Status)
	assert.Equal(t, models.StageStatusFailed, progress.Stages[models.StageSecurity].Status)
	assert.Equal(t, models.StageStatusCompleted, progress.Stages[models.StageHuman].Status)

	for _, stage := range []models.StageName{models.StageFunctional, models.StageJudge, models.StagePublish} {
		assert.Equal(t, models.StageStatusSkipped, progress.Stages[stage].Status, stage)
		assert.Equal(t, 0, h.fake.callCount(stage), stage)
	}
}

func TestPipeline_FunctionalErrorEscalates(t *testing.T) {
	h := newHarness(t)
	h.fake.functional = func(context.Context, activities.StageInput) (*activities.GateResult, error) {
		return nil, errors.New("evaluator timed out")
	}

	p := h.newPipeline(t, testInput("sub-1"))
	result := start(t.Context(), p)

	waitForStatus(t, p, models.StageHuman, models.StageStatusRunning)

	progress := p.Progress()
	assert.Equal(t, models.ReasonFunctionalGateFailure, progress.Stages[models.StageHuman].Details["reason"])
	assert.Contains(t, progress.Stages[models.StageFunctional].Message, "evaluator timed out")

	require.NoError(t, p.SignalHumanDecision(t.Context(), models.HumanDecisionApproved, ""))
	require.NoError(t, waitResult(t, result))
	assert.Equal(t, models.TerminalStatePublished, p.Progress().TerminalState)
}

func TestPipeline_JudgeManualEscalatesAndResumesAtPublish(t *testing.T) {
	h := newHarness(t)
	h.fake.judge = judgeWith(models.JudgeVerdictManual, 0.67)

	p := h.newPipeline(t, testInput("sub-1"))
	result := start(t.Context(), p)

	waitForStatus(t, p, models.StageHuman, models.StageStatusRunning)

	human := p.Progress().Stages[models.StageHuman]
	assert.Equal(t, models.ReasonJudgeManualReview, human.Details["reason"])
	assert.Equal(t, string(models.StageJudge), human.Details["source"])
	assert.Equal(t, "manual", p.Progress().Stages[models.StageJudge].Details["verdict"])

	require.NoError(t, p.SignalHumanDecision(t.Context(), models.HumanDecisionApproved, ""))
	require.NoError(t, waitResult(t, result))

	progress := p.Progress()
	assert.Equal(t, models.TerminalStatePublished, progress.TerminalState)
	assert.Equal(t, 1, progress.Stages[models.StageJudge].Attempts)
	assert.Equal(t, 1, h.fake.callCount(models.StageJudge))
	assert.Equal(t, models.StageStatusCompleted, progress.Stages[models.StagePublish].Status)
}

func TestPipeline_JudgeRejectIsFatal(t *testing.T) {
	h := newHarness(t)
	h.fake.judge = judgeWith(models.JudgeVerdictReject, 0.1)

	p := h.newPipeline(t, testInput("sub-1"))
	runToEnd(t, p)

	progress := p.Progress()
	assert.Equal(t, models.TerminalStateRejected, progress.TerminalState)
	assert.Equal(t, models.StageStatusFailed, progress.Stages[models.StageJudge].Status)
	assert.Equal(t, models.StageStatusSkipped, progress.Stages[models.StageHuman].Status)
	assert.Equal(t, models.StageStatusSkipped, progress.Stages[models.StagePublish].Status)
}

func TestPipeline_PrecheckFailureIsFatal(t *testing.T) {
	tests := []struct {
		name     string
		precheck precheckFunc
	}{
		{
			name: "rejected submission",
			precheck: func(context.Context, activities.StageInput) (*activities.PrecheckResult, error) {
				return &activities.PrecheckResult{Passed: false, FailReasons: []string{"agent_card_missing"}}, nil
			},
		},
		{
			name: "activity error",
			precheck: func(context.Context, activities.StageInput) (*activities.PrecheckResult, error) {
				return nil, errors.New("card store unavailable")
			},
		},
		{
			name: "activity panic",
			precheck: func(context.Context, activities.StageInput) (*activities.PrecheckResult, error) {
				panic("boom")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.fake.precheck = tt.precheck

			p := h.newPipeline(t, testInput("sub-1"))
			runToEnd(t, p)

			progress := p.Progress()
			assert.Equal(t, models.TerminalStateRejected, progress.TerminalState)
			assert.Equal(t, models.StageStatusFailed, progress.Stages[models.StagePrecheck].Status)
			assert.NotEmpty(t, progress.Stages[models.StagePrecheck].Message)

			for _, stage := range models.StageOrder()[1:] {
				assert.Equal(t, models.StageStatusSkipped, progress.Stages[stage].Status, stage)
			}
		})
	}
}

func TestPipeline_PublishFailureIsFatal(t *testing.T) {
	h := newHarness(t)
	h.fake.publish = func(context.Context, activities.PublishInput) (*activities.PublishResult, error) {
		return nil, errors.New("catalog unavailable")
	}

	p := h.newPipeline(t, testInput("sub-1"))
	runToEnd(t, p)

	progress := p.Progress()
	assert.Equal(t, models.TerminalStateRejected, progress.TerminalState)
	assert.Equal(t, models.StageStatusFailed, progress.Stages[models.StagePublish].Status)
	assert.Equal(t, models.StageStatusSkipped, progress.Stages[models.StageHuman].Status)
}

func TestPipeline_ActivityPanicEscalates(t *testing.T) {
	h := newHarness(t)
	h.fake.security = func(context.Context, activities.StageInput) (*activities.GateResult, error) {
		panic("scanner crashed")
	}

	p := h.newPipeline(t, testInput("sub-1"))
	result := start(t.Context(), p)

	waitForStatus(t, p, models.StageHuman, models.StageStatusRunning)
	assert.Contains(t, p.Progress().Stages[models.StageSecurity].Message, "scanner crashed")

	require.NoError(t, p.SignalHumanDecision(t.Context(), models.HumanDecisionRejected, ""))
	require.NoError(t, waitResult(t, result))
	assert.Equal(t, models.TerminalStateRejected, p.Progress().TerminalState)
}

func TestPipeline_LedgerWriteFailureIsAWarning(t *testing.T) {
	h := newHarness(t)

	blocked := h.ledgerDir + "/blocked"
	require.NoError(t, os.WriteFile(blocked, []byte("not a directory"), 0600))

	publisher := ledger.NewPublisher(h.deps.Logger)
	h.deps.Recorder = ledger.NewRecorder(publisher, "agent-store-test", blocked)

	p := h.newPipeline(t, testInput("sub-1"))
	runToEnd(t, p)

	progress := p.Progress()
	assert.Equal(t, models.TerminalStatePublished, progress.TerminalState)

	warnings := progress.Stages[models.StageSecurity].Warnings
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "ledger_write_failed")
}

func TestPipeline_SignalsAfterFinish(t *testing.T) {
	h := newHarness(t)
	p := h.newPipeline(t, testInput("sub-1"))

	runToEnd(t, p)

	err := p.SignalRetryStage(t.Context(), models.StageSecurity, "late")
	assert.ErrorIs(t, err, pipeline.ErrPipelineFinished)

	err = p.SignalHumanDecision(t.Context(), models.HumanDecisionApproved, "")
	assert.ErrorIs(t, err, pipeline.ErrPipelineFinished)

	assert.ErrorIs(t, p.Run(t.Context()), pipeline.ErrAlreadyRunning)

	select {
	case <-p.Done():
	default:
		t.Fatal("done channel should be closed")
	}
}

func TestPipeline_InvalidSignals(t *testing.T) {
	h := newHarness(t)
	p := h.newPipeline(t, testInput("sub-1"))

	err := p.SignalRetryStage(t.Context(), models.StageName("deploy"), "")
	require.ErrorIs(t, err, pipeline.ErrInvalidSignal)
	assert.ErrorIs(t, err, models.ErrInvalidStage)

	err = p.SignalHumanDecision(t.Context(), models.HumanDecision("maybe"), "")
	assert.ErrorIs(t, err, pipeline.ErrInvalidSignal)

	err = p.SignalUpdateJudgeConfig(t.Context(), models.JudgeLLMConfig{Enabled: true})
	assert.ErrorIs(t, err, pipeline.ErrInvalidSignal)
}
