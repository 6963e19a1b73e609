package activities

import (
	"context"
	"encoding/json"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// evaluatorScript writes a shell evaluator that records its arguments and emits summary.
func evaluatorScript(t *testing.T, summary string, extra string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "evaluator.sh")
	script := "#!/bin/sh\n" +
		"echo \"$@\" > \"$REVIEW_OUTPUT_DIR/args.txt\"\n" +
		extra +
		"cat > \"$REVIEW_OUTPUT_DIR/${REVIEW_STAGE}_summary.json\" <<'JSON'\n" + summary + "\nJSON\n"

	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))

	return path
}

func newActivities(t *testing.T, evaluators map[models.StageName]CommandSpec) (*CommandActivities, string) {
	t.Helper()

	root := t.TempDir()

	return NewCommandActivities(testLogger(), Config{ArtifactRoot: root, Evaluators: evaluators}), root
}

func stageInput() StageInput {
	return StageInput{
		SubmissionID:    "sub-1",
		AgentID:         "agent-1",
		AgentRevisionID: "rev-1",
		PromptVersion:   "v1",
		Attempt:         1,
	}
}

func TestSecurity_Passed(t *testing.T) {
	script := evaluatorScript(t, `{"passed": true, "score": 0.95, "summary": {"critical": 0}}`, "")
	a, root := newActivities(t, map[models.StageName]CommandSpec{
		models.StageSecurity: {Command: []string{script}, Timeout: 5 * time.Second},
	})

	result, err := a.Security(context.Background(), stageInput())
	require.NoError(t, err)

	assert.True(t, result.Passed)
	assert.InDelta(t, 0.95, result.Score, 1e-9)
	assert.Equal(t, map[string]any{"critical": float64(0)}, result.Summary)
	assert.Equal(t, filepath.Join(root, "rev-1", "security", "security_summary.json"), result.SummaryPath)

	args, err := os.ReadFile(filepath.Join(root, "rev-1", "security", "args.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(args), "--submission-id sub-1")
	assert.Contains(t, string(args), "--output-dir "+filepath.Join(root, "rev-1", "security"))
}

func TestFunctional_FailedWithReasons(t *testing.T) {
	script := evaluatorScript(t, `{"passed": false, "score": 0.4, "failReasons": ["accuracy_below_threshold"]}`, "")
	a, _ := newActivities(t, map[models.StageName]CommandSpec{
		models.StageFunctional: {Command: []string{script}},
	})

	result, err := a.Functional(context.Background(), stageInput())
	require.NoError(t, err)

	assert.False(t, result.Passed)
	assert.Equal(t, []string{"accuracy_below_threshold"}, result.FailReasons)
}

func TestGate_PassedWithoutScoreCountsAsFull(t *testing.T) {
	script := evaluatorScript(t, `{"passed": true}`, "")
	a, _ := newActivities(t, map[models.StageName]CommandSpec{
		models.StageSecurity: {Command: []string{script}},
	})

	result, err := a.Security(context.Background(), stageInput())
	require.NoError(t, err)
	assert.InDelta(t, 1.0, result.Score, 1e-9)
}

func TestJudge_PassesLLMConfigFlags(t *testing.T) {
	script := evaluatorScript(t, `{"verdict": "manual", "score": 0.67, "reasons": ["borderline"]}`, "")
	a, root := newActivities(t, map[models.StageName]CommandSpec{
		models.StageJudge: {Command: []string{script}},
	})

	in := stageInput()
	in.JudgeConfig = &models.JudgeLLMConfig{Enabled: true, Provider: "openai", Model: "gpt-4o"}

	result, err := a.Judge(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, models.JudgeVerdictManual, result.Verdict)
	assert.InDelta(t, 0.67, result.Score, 1e-9)
	assert.Equal(t, []string{"borderline"}, result.Reasons)

	args, err := os.ReadFile(filepath.Join(root, "rev-1", "judge", "args.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(args), "--judge-llm-enabled --judge-llm-provider openai --judge-llm-model gpt-4o")
}

func TestJudge_RejectsInvalidSummary(t *testing.T) {
	script := evaluatorScript(t, `{"verdict": "maybe", "score": 0.5}`, "")
	a, _ := newActivities(t, map[models.StageName]CommandSpec{
		models.StageJudge: {Command: []string{script}},
	})

	_, err := a.Judge(context.Background(), stageInput())
	require.ErrorIs(t, err, ErrInvalidSummary)
}

func TestEvaluator_NonZeroExit(t *testing.T) {
	script := evaluatorScript(t, `{}`, "echo boom >&2\nexit 3\n")
	a, _ := newActivities(t, map[models.StageName]CommandSpec{
		models.StageSecurity: {Command: []string{script}},
	})

	_, err := a.Security(context.Background(), stageInput())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestEvaluator_Timeout(t *testing.T) {
	script := evaluatorScript(t, `{"passed": true}`, "exec sleep 5\n")
	a, _ := newActivities(t, map[models.StageName]CommandSpec{
		models.StageSecurity: {Command: []string{script}, Timeout: 100 * time.Millisecond},
	})

	_, err := a.Security(context.Background(), stageInput())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}

func TestEvaluator_NotConfigured(t *testing.T) {
	a, _ := newActivities(t, nil)

	_, err := a.Functional(context.Background(), stageInput())
	require.ErrorIs(t, err, ErrNoEvaluator)
}

func TestEvaluator_RejectsUnsafeRevision(t *testing.T) {
	script := evaluatorScript(t, `{"passed": true}`, "")
	a, _ := newActivities(t, map[models.StageName]CommandSpec{
		models.StageSecurity: {Command: []string{script}},
	})

	in := stageInput()
	in.AgentRevisionID = "../../etc"

	_, err := a.Security(context.Background(), in)
	require.Error(t, err)
}

func TestPrecheck_ResolvesIdentityFromAgentCard(t *testing.T) {
	a, root := newActivities(t, nil)

	card := filepath.Join(t.TempDir(), "agent-card.json")
	require.NoError(t, os.WriteFile(card, []byte(`{"id": "agent-9", "name": "Helper", "version": "rev-9"}`), 0o600))

	result, err := a.Precheck(context.Background(), StageInput{SubmissionID: "sub-1", AgentCardPath: card})
	require.NoError(t, err)

	assert.True(t, result.Passed)
	assert.Equal(t, "agent-9", result.AgentID)
	assert.Equal(t, "sub-1", result.AgentRevisionID)
	assert.Equal(t, "rev-9", result.Summary["agentVersion"])
	assert.ElementsMatch(t, []string{
		"agent_card_missing_description",
		"agent_card_missing_skills",
		"agent_revision_defaulted_to_submission",
	}, result.Warnings)
	assert.FileExists(t, filepath.Join(root, "sub-1", "precheck", "precheck_summary.json"))
	assert.NoDirExists(t, filepath.Join(root, "rev-9"))
}

func TestPrecheck_SameCardVersionKeepsSubmissionsApart(t *testing.T) {
	script := evaluatorScript(t, `{"passed": false, "score": 0.1, "failReasons": ["prompt_injection_detected"]}`, "")
	silent := filepath.Join(t.TempDir(), "silent.sh")
	require.NoError(t, os.WriteFile(silent, []byte("#!/bin/sh\nexit 0\n"), 0o755))

	root := t.TempDir()
	first := NewCommandActivities(testLogger(), Config{ArtifactRoot: root, Evaluators: map[models.StageName]CommandSpec{
		models.StageSecurity: {Command: []string{script}},
	}})
	second := NewCommandActivities(testLogger(), Config{ArtifactRoot: root, Evaluators: map[models.StageName]CommandSpec{
		models.StageSecurity: {Command: []string{silent}},
	}})

	cards := t.TempDir()
	cardA := filepath.Join(cards, "a.json")
	cardB := filepath.Join(cards, "b.json")
	require.NoError(t, os.WriteFile(cardA, []byte(`{"id": "agent-a", "name": "A", "version": "1.0.0"}`), 0o600))
	require.NoError(t, os.WriteFile(cardB, []byte(`{"id": "agent-b", "name": "B", "version": "1.0.0"}`), 0o600))

	resultA, err := first.Precheck(context.Background(), StageInput{SubmissionID: "sub-a", AgentCardPath: cardA})
	require.NoError(t, err)
	resultB, err := second.Precheck(context.Background(), StageInput{SubmissionID: "sub-b", AgentCardPath: cardB})
	require.NoError(t, err)

	assert.Equal(t, "sub-a", resultA.AgentRevisionID)
	assert.Equal(t, "sub-b", resultB.AgentRevisionID)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)

	var dirs []string
	for _, entry := range entries {
		dirs = append(dirs, entry.Name())
	}

	assert.ElementsMatch(t, []string{"sub-a", "sub-b"}, dirs)

	gate, err := first.Security(context.Background(), StageInput{SubmissionID: "sub-a", AgentID: resultA.AgentID, AgentRevisionID: resultA.AgentRevisionID})
	require.NoError(t, err)
	assert.Equal(t, []string{"prompt_injection_detected"}, gate.FailReasons)

	_, err = second.Security(context.Background(), StageInput{SubmissionID: "sub-b", AgentID: resultB.AgentID, AgentRevisionID: resultB.AgentRevisionID})
	require.ErrorIs(t, err, fs.ErrNotExist)
}

func TestEvaluator_RetryDoesNotReadPreviousSummary(t *testing.T) {
	script := evaluatorScript(t, `{"passed": true, "score": 0.9}`, "")
	silent := filepath.Join(t.TempDir(), "silent.sh")
	require.NoError(t, os.WriteFile(silent, []byte("#!/bin/sh\nexit 0\n"), 0o755))

	root := t.TempDir()
	writes := NewCommandActivities(testLogger(), Config{ArtifactRoot: root, Evaluators: map[models.StageName]CommandSpec{
		models.StageFunctional: {Command: []string{script}},
	}})
	skips := NewCommandActivities(testLogger(), Config{ArtifactRoot: root, Evaluators: map[models.StageName]CommandSpec{
		models.StageFunctional: {Command: []string{silent}},
	}})

	in := stageInput()

	result, err := writes.Functional(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, result.Passed)

	in.Attempt = 2

	_, err = skips.Functional(context.Background(), in)
	require.ErrorIs(t, err, fs.ErrNotExist)
	assert.ErrorContains(t, err, "functional evaluator summary")
	assert.NoFileExists(t, filepath.Join(root, "rev-1", "functional", "functional_summary.json"))
}

func TestPrecheck_Failures(t *testing.T) {
	a, _ := newActivities(t, nil)

	invalidCard := filepath.Join(t.TempDir(), "card.json")
	require.NoError(t, os.WriteFile(invalidCard, []byte(`{"name": ""}`), 0o600))

	tests := []struct {
		name   string
		in     StageInput
		reason string
	}{
		{name: "no agent id", in: StageInput{SubmissionID: "sub-1"}, reason: "agent_id_unresolved"},
		{name: "missing card", in: StageInput{SubmissionID: "sub-1", AgentID: "a", AgentCardPath: "/nonexistent/card.json"}, reason: "agent_card_missing"},
		{name: "invalid card", in: StageInput{SubmissionID: "sub-1", AgentID: "a", AgentCardPath: invalidCard}, reason: "agent_card_invalid"},
		{name: "no submission", in: StageInput{AgentID: "a", AgentRevisionID: "r"}, reason: "submission_id_missing"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := a.Precheck(context.Background(), tt.in)
			require.NoError(t, err)
			assert.False(t, result.Passed)
			assert.Contains(t, result.FailReasons, tt.reason)
		})
	}
}

func TestPrecheck_DefaultsRevision(t *testing.T) {
	a, _ := newActivities(t, nil)

	result, err := a.Precheck(context.Background(), StageInput{SubmissionID: "sub-1", AgentID: "agent-1"})
	require.NoError(t, err)

	assert.True(t, result.Passed)
	assert.Equal(t, "sub-1", result.AgentRevisionID)
	assert.Contains(t, result.Warnings, "agent_revision_defaulted_to_submission")
}

func TestPublish_WritesSummary(t *testing.T) {
	a, root := newActivities(t, nil)

	result, err := a.Publish(context.Background(), PublishInput{
		StageInput: stageInput(),
		TrustScore: &models.TrustScoreBreakdown{Total: 88, AutoDecision: models.AutoDecisionApproved},
	})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(root, "rev-1", "publish", "publish_summary.json"), result.SummaryPath)

	data, err := os.ReadFile(result.SummaryPath)
	require.NoError(t, err)

	var summary map[string]any
	require.NoError(t, json.Unmarshal(data, &summary))
	assert.Equal(t, "sub-1", summary["submissionId"])
	assert.InDelta(t, 88, summary["trustScore"].(map[string]any)["total"], 1e-9)
}

func TestRecordEvent_AppendsTimeline(t *testing.T) {
	a, root := newActivities(t, nil)
	ctx := context.Background()

	require.NoError(t, a.RecordEvent(ctx, TimelineEvent{AgentRevisionID: "rev-1", SubmissionID: "sub-1", Stage: models.StageSecurity, Event: "stage_started"}))
	require.NoError(t, a.RecordEvent(ctx, TimelineEvent{AgentRevisionID: "rev-1", SubmissionID: "sub-1", Stage: models.StageSecurity, Event: "stage_completed"}))

	timeline, err := a.ReadTimeline("rev-1")
	require.NoError(t, err)
	require.Len(t, timeline, 2)
	assert.Equal(t, "stage_completed", timeline[1].(map[string]any)["event"])

	data, err := os.ReadFile(filepath.Join(root, "rev-1", "metadata.json"))
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "stage_started"))
}
