package activities

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/models"
)

const (
	defaultTimeout = 10 * time.Minute
	maxStderrBytes = 4096
)

// ErrNoEvaluator is returned when a stage has no evaluator command configured.
var ErrNoEvaluator = errors.New("no evaluator configured")

// CommandSpec is an external evaluator invocation.
type CommandSpec struct {
	Command []string
	Timeout time.Duration
}

// Config configures CommandActivities.
type Config struct {
	ArtifactRoot string
	Evaluators   map[models.StageName]CommandSpec
}

// CommandActivities runs each stage as an external program that writes
// <stage>_summary.json into <artifactRoot>/<revisionId>/<stage>/.
type CommandActivities struct {
	logger *slog.Logger
	config Config
	now    func() time.Time

	metadataMu sync.Mutex
}

func NewCommandActivities(logger *slog.Logger, config Config) *CommandActivities {
	return &CommandActivities{
		logger: logger.With("module", "stage_activities"),
		config: config,
		now:    time.Now,
	}
}

func (a *CommandActivities) Security(ctx context.Context, in StageInput) (*GateResult, error) {
	return a.runGate(ctx, models.StageSecurity, in)
}

func (a *CommandActivities) Functional(ctx context.Context, in StageInput) (*GateResult, error) {
	return a.runGate(ctx, models.StageFunctional, in)
}

func (a *CommandActivities) Judge(ctx context.Context, in StageInput) (*JudgeResult, error) {
	dir, doc, err := a.evaluate(ctx, models.StageJudge, in, in.JudgeConfig.Args())
	if err != nil {
		return nil, err
	}

	if err := validateDocument(schemaJudgeSummary, doc); err != nil {
		return nil, err
	}

	result := &JudgeResult{
		Verdict:     models.JudgeVerdict(stringField(doc, "verdict")),
		Score:       floatField(doc, "score"),
		Reasons:     stringSlice(doc["reasons"]),
		Summary:     objectField(doc, "summary"),
		SummaryPath: summaryPath(dir, models.StageJudge),
		ReportPath:  stringField(doc, "reportPath"),
	}

	return result, nil
}

func (a *CommandActivities) runGate(ctx context.Context, stage models.StageName, in StageInput) (*GateResult, error) {
	dir, doc, err := a.evaluate(ctx, stage, in, nil)
	if err != nil {
		return nil, err
	}

	if err := validateDocument(schemaGateSummary, doc); err != nil {
		return nil, err
	}

	passed, _ := doc["passed"].(bool)

	score := floatField(doc, "score")
	if _, ok := doc["score"]; !ok && passed {
		score = 1
	}

	return &GateResult{
		Passed:      passed,
		Score:       score,
		Summary:     objectField(doc, "summary"),
		FailReasons: stringSlice(doc["failReasons"]),
		SummaryPath: summaryPath(dir, stage),
		ReportPath:  stringField(doc, "reportPath"),
	}, nil
}

// evaluate runs the stage evaluator and returns its stage directory and decoded summary.
func (a *CommandActivities) evaluate(ctx context.Context, stage models.StageName, in StageInput, extra []string) (string, map[string]any, error) {
	evaluator, ok := a.config.Evaluators[stage]
	if !ok || len(evaluator.Command) == 0 {
		return "", nil, fmt.Errorf("%w for stage %s", ErrNoEvaluator, stage)
	}

	dir, err := a.stageDir(in.AgentRevisionID, stage)
	if err != nil {
		return "", nil, err
	}

	timeout := evaluator.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append([]string{}, evaluator.Command[1:]...)
	args = append(args,
		"--submission-id", in.SubmissionID,
		"--agent-id", in.AgentID,
		"--agent-revision-id", in.AgentRevisionID,
		"--prompt-version", in.PromptVersion,
		"--output-dir", dir,
	)
	args = append(args, extra...)

	cmd := exec.CommandContext(runCtx, evaluator.Command[0], args...)
	cmd.Env = append(os.Environ(),
		"REVIEW_STAGE="+string(stage),
		"REVIEW_OUTPUT_DIR="+dir,
		"REVIEW_SUBMISSION_ID="+in.SubmissionID,
		"REVIEW_ATTEMPT="+strconv.Itoa(in.Attempt),
	)

	cmd.WaitDelay = time.Second

	var stderr bytes.Buffer
	cmd.Stderr = &limitedWriter{buf: &stderr, limit: maxStderrBytes}

	logger := a.logger.With("stage", stage, "submission_id", in.SubmissionID, "attempt", in.Attempt)
	logger.InfoContext(ctx, "Running evaluator", "command", evaluator.Command[0], "timeout", timeout)

	// A summary left by an earlier attempt must not be read back as this attempt's result.
	if err := os.Remove(summaryPath(dir, stage)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", nil, fmt.Errorf("clear %s summary: %w", stage, err)
	}

	start := time.Now()
	err = cmd.Run()

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return "", nil, fmt.Errorf("%s evaluator timed out after %s", stage, timeout)
	}

	if err != nil {
		return "", nil, fmt.Errorf("%s evaluator failed: %w: %s", stage, err, strings.TrimSpace(stderr.String()))
	}

	logger.InfoContext(ctx, "Evaluator finished", "duration", time.Since(start))

	doc, err := readJSON(summaryPath(dir, stage))
	if err != nil {
		return "", nil, fmt.Errorf("%s evaluator summary: %w", stage, err)
	}

	return dir, doc, nil
}

func (a *CommandActivities) stageDir(revisionID string, stage models.StageName) (string, error) {
	if err := validRevision(revisionID); err != nil {
		return "", err
	}

	dir := filepath.Join(a.config.ArtifactRoot, revisionID, string(stage))

	err := os.MkdirAll(dir, 0o755)
	if err != nil {
		return "", fmt.Errorf("create stage directory: %w", err)
	}

	return dir, nil
}

func validRevision(revisionID string) error {
	if revisionID == "" || revisionID == "." || revisionID == ".." || strings.ContainsAny(revisionID, `/\`) {
		return fmt.Errorf("invalid agent revision id %q", revisionID)
	}

	return nil
}

func summaryPath(dir string, stage models.StageName) string {
	return filepath.Join(dir, string(stage)+"_summary.json")
}

func readJSON(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var doc map[string]any

	err = json.Unmarshal(data, &doc)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	return doc, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	tmp := path + ".tmp"

	err = os.WriteFile(tmp, data, 0o644)
	if err != nil {
		return err
	}

	return os.Rename(tmp, path)
}

func stringField(doc map[string]any, key string) string {
	s, _ := doc[key].(string)

	return s
}

func floatField(doc map[string]any, key string) float64 {
	f, _ := doc[key].(float64)

	return f
}

func objectField(doc map[string]any, key string) map[string]any {
	m, _ := doc[key].(map[string]any)

	return m
}

func stringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}

	out := make([]string, 0, len(items))

	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}

	return out
}

type limitedWriter struct {
	buf   *bytes.Buffer
	limit int
}

func (w *limitedWriter) Write(p []byte) (int, error) {
	if remaining := w.limit - w.buf.Len(); remaining > 0 {
		if len(p) > remaining {
			w.buf.Write(p[:remaining])
		} else {
			w.buf.Write(p)
		}
	}

	return len(p), nil
}
