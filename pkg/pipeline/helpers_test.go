package pipeline_test

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/activities"
	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/eventbus"
	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/events"
	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/ledger"
	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/models"
	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/persistence/file"
	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/pipeline"
	"github.com/stretchr/testify/require"
)

type (
	precheckFunc func(ctx context.Context, in activities.StageInput) (*activities.PrecheckResult, error)
	gateFunc     func(ctx context.Context, in activities.StageInput) (*activities.GateResult, error)
	judgeFunc    func(ctx context.Context, in activities.StageInput) (*activities.JudgeResult, error)
	publishFunc  func(ctx context.Context, in activities.PublishInput) (*activities.PublishResult, error)
)

// fakeActivities records every call and checks that the calling stage is the only one running.
type fakeActivities struct {
	precheck   precheckFunc
	security   gateFunc
	functional gateFunc
	judge      judgeFunc
	publish    publishFunc

	mu         sync.Mutex
	pipeline   *pipeline.Pipeline
	calls      map[models.StageName]int
	inputs     map[models.StageName][]activities.StageInput
	published  []activities.PublishInput
	timeline   []activities.TimelineEvent
	violations []string
}

func passGate(score float64) gateFunc {
	return func(context.Context, activities.StageInput) (*activities.GateResult, error) {
		return &activities.GateResult{Passed: true, Score: score, Summary: map[string]any{"checks": 3}}, nil
	}
}

func failGate(reasons ...string) gateFunc {
	return func(context.Context, activities.StageInput) (*activities.GateResult, error) {
		return &activities.GateResult{Passed: false, Score: 0.2, FailReasons: reasons}, nil
	}
}

func judgeWith(verdict models.JudgeVerdict, score float64) judgeFunc {
	return func(context.Context, activities.StageInput) (*activities.JudgeResult, error) {
		return &activities.JudgeResult{Verdict: verdict, Score: score, Reasons: []string{"rater consensus"}}, nil
	}
}

func newFakeActivities() *fakeActivities {
	return &fakeActivities{
		precheck: func(context.Context, activities.StageInput) (*activities.PrecheckResult, error) {
			return &activities.PrecheckResult{Passed: true, AgentID: "agent-1", AgentRevisionID: "rev-1"}, nil
		},
		security:   passGate(1),
		functional: passGate(0.9),
		judge:      judgeWith(models.JudgeVerdictApprove, 0.8),
		publish: func(context.Context, activities.PublishInput) (*activities.PublishResult, error) {
			return &activities.PublishResult{PublishedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}, nil
		},
		calls:  map[models.StageName]int{},
		inputs: map[models.StageName][]activities.StageInput{},
	}
}

func (f *fakeActivities) record(stage models.StageName, in activities.StageInput) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls[stage]++
	f.inputs[stage] = append(f.inputs[stage], in)

	if f.pipeline == nil {
		return
	}

	running := f.pipeline.Progress().RunningStages()
	if !slices.Equal(running, []models.StageName{stage}) {
		f.violations = append(f.violations, fmt.Sprintf("%s ran while %v were running", stage, running))
	}
}

func (f *fakeActivities) callCount(stage models.StageName) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls[stage]
}

func (f *fakeActivities) lastInput(stage models.StageName) activities.StageInput {
	f.mu.Lock()
	defer f.mu.Unlock()

	inputs := f.inputs[stage]

	return inputs[len(inputs)-1]
}

func (f *fakeActivities) Precheck(ctx context.Context, in activities.StageInput) (*activities.PrecheckResult, error) {
	f.record(models.StagePrecheck, in)

	return f.precheck(ctx, in)
}

func (f *fakeActivities) Security(ctx context.Context, in activities.StageInput) (*activities.GateResult, error) {
	f.record(models.StageSecurity, in)

	return f.security(ctx, in)
}

func (f *fakeActivities) Functional(ctx context.Context, in activities.StageInput) (*activities.GateResult, error) {
	f.record(models.StageFunctional, in)

	return f.functional(ctx, in)
}

func (f *fakeActivities) Judge(ctx context.Context, in activities.StageInput) (*activities.JudgeResult, error) {
	f.record(models.StageJudge, in)

	return f.judge(ctx, in)
}

func (f *fakeActivities) Publish(ctx context.Context, in activities.PublishInput) (*activities.PublishResult, error) {
	f.record(models.StagePublish, in.StageInput)

	f.mu.Lock()
	f.published = append(f.published, in)
	f.mu.Unlock()

	return f.publish(ctx, in)
}

func (f *fakeActivities) RecordEvent(_ context.Context, event activities.TimelineEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.timeline = append(f.timeline, event)

	return nil
}

type recordingBus struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (b *recordingBus) Publish(_ context.Context, _ string, event eventbus.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events = append(b.events, event)

	return nil
}

func (b *recordingBus) types() []events.EventType {
	b.mu.Lock()
	defer b.mu.Unlock()

	types := make([]events.EventType, 0, len(b.events))
	for _, event := range b.events {
		types = append(types, event.GetType())
	}

	return types
}

type harness struct {
	fake      *fakeActivities
	store     *file.Persistence
	bus       *recordingBus
	ledgerDir string
	deps      pipeline.Deps
}

func newHarness(t *testing.T, publisherOpts ...ledger.Option) *harness {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	ledgerDir := t.TempDir()

	publisherOpts = append([]ledger.Option{ledger.WithBackoff(time.Millisecond, nil)}, publisherOpts...)
	recorder := ledger.NewRecorder(ledger.NewPublisher(logger, publisherOpts...), "agent-store-test", ledgerDir)

	h := &harness{
		fake:      newFakeActivities(),
		store:     file.NewPersistence(t.TempDir()),
		bus:       &recordingBus{},
		ledgerDir: ledgerDir,
	}

	h.deps = pipeline.Deps{
		Activities:  h.fake,
		Persistence: h.store,
		Recorder:    recorder,
		Events:      h.bus,
		Logger:      logger,
	}

	return h
}

func testInput(submissionID string) models.PipelineInput {
	return models.PipelineInput{
		Submission:    models.Submission{SubmissionID: submissionID},
		PromptVersion: "v1",
	}
}

func (h *harness) newPipeline(t *testing.T, input models.PipelineInput, opts ...pipeline.Option) *pipeline.Pipeline {
	t.Helper()

	p, err := pipeline.New(input, h.deps, opts...)
	require.NoError(t, err)

	h.fake.pipeline = p

	return p
}

func start(ctx context.Context, p *pipeline.Pipeline) <-chan error {
	result := make(chan error, 1)

	go func() {
		result <- p.Run(ctx)
	}()

	return result
}

func waitResult(t *testing.T, result <-chan error) error {
	t.Helper()

	select {
	case err := <-result:
		return err
	case <-time.After(10 * time.Second):
		t.Fatal("pipeline did not return in time")

		return nil
	}
}

func runToEnd(t *testing.T, p *pipeline.Pipeline) {
	t.Helper()

	require.NoError(t, waitResult(t, start(t.Context(), p)))
}

func waitForStatus(t *testing.T, p *pipeline.Pipeline, stage models.StageName, status models.StageStatus) {
	t.Helper()

	require.Eventually(t, func() bool {
		return p.Progress().Stages[stage].Status == status
	}, 5*time.Second, 5*time.Millisecond, "stage %s never reached %s", stage, status)
}
