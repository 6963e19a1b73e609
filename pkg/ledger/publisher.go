// Package ledger writes tamper-evident audit records of stage outputs and relays them
// to a remote collector.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/models"
)

const (
	// DefaultOutputDir is used when no output directory is configured.
	DefaultOutputDir = "./audit-ledger"

	defaultMaxAttempts = 3
	defaultBaseDelay   = time.Second
)

// Options controls where a single entry is written and relayed.
type Options struct {
	OutputDir    string
	HTTPEndpoint string
	HTTPToken    string
}

// Result is the outcome of publishing one entry.
// HTTPPosted is nil when no relay endpoint was configured.
type Result struct {
	EntryPath    string `json:"entryPath"`
	HTTPPosted   *bool  `json:"httpPosted,omitempty"`
	HTTPAttempts int    `json:"httpAttempts"`
	HTTPError    string `json:"httpError,omitempty"`
	Retried      bool   `json:"retried"`
}

// RelaySucceededAfterRetry reports whether the relay recovered after at least one failed attempt.
func (r *Result) RelaySucceededAfterRetry() bool {
	return r.HTTPPosted != nil && *r.HTTPPosted && r.Retried
}

// RelayFailed reports whether a configured relay did not deliver the entry.
func (r *Result) RelayFailed() bool {
	return r.HTTPPosted != nil && !*r.HTTPPosted
}

// Publisher writes ledger entries to disk and relays them to an optional HTTP collector.
type Publisher struct {
	logger      *slog.Logger
	client      *http.Client
	notifier    Notifier
	maxAttempts int
	baseDelay   time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
	now         func() time.Time
}

type Option func(*Publisher)

func WithHTTPClient(client *http.Client) Option {
	return func(p *Publisher) {
		p.client = client
	}
}

func WithNotifier(notifier Notifier) Option {
	return func(p *Publisher) {
		p.notifier = notifier
	}
}

// WithBackoff overrides the relay backoff base delay and sleeper.
func WithBackoff(base time.Duration, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Publisher) {
		p.baseDelay = base
		if sleep != nil {
			p.sleep = sleep
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Publisher) {
		p.now = now
	}
}

// NewPublisher creates a ledger publisher.
func NewPublisher(logger *slog.Logger, opts ...Option) *Publisher {
	p := &Publisher{
		logger:      logger.With("module", "audit_ledger"),
		client:      &http.Client{Timeout: 10 * time.Second},
		maxAttempts: defaultMaxAttempts,
		baseDelay:   defaultBaseDelay,
		sleep:       sleepContext,
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Publish writes the entry locally and then, if an endpoint is configured, relays it.
// Only a local write failure is returned as an error; relay problems are reported in Result.
func (p *Publisher) Publish(ctx context.Context, entry models.LedgerEntry, opts Options) (*Result, error) {
	if err := validateEntry(entry); err != nil {
		return nil, err
	}

	path, err := p.writeLocal(entry, opts.OutputDir)
	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to write ledger entry", "workflow_id", entry.WorkflowID, "error", err)

		return nil, err
	}

	p.logger.DebugContext(ctx, "Ledger entry written", "workflow_id", entry.WorkflowID, "path", path)

	result := &Result{EntryPath: path}

	if opts.HTTPEndpoint == "" {
		return result, nil
	}

	p.relay(ctx, entry, opts, result)

	return result, nil
}

func (p *Publisher) writeLocal(entry models.LedgerEntry, outputDir string) (string, error) {
	if outputDir == "" {
		outputDir = DefaultOutputDir
	}

	dir := filepath.Join(outputDir, entry.WorkflowID)

	err := os.MkdirAll(dir, 0o755)
	if err != nil {
		return "", fmt.Errorf("%w: create directory: %w", ErrLocalWrite, err)
	}

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return "", fmt.Errorf("%w: encode entry: %w", ErrLocalWrite, err)
	}

	runID := "latest"
	if entry.RunID != nil && *entry.RunID != "" {
		runID = *entry.RunID
	}

	base := fmt.Sprintf("%s-%s-%d", entry.WorkflowID, runID, p.now().UnixMilli())

	for suffix := 0; ; suffix++ {
		name := base + ".json"
		if suffix > 0 {
			name = fmt.Sprintf("%s-%d.json", base, suffix)
		}

		path := filepath.Join(dir, name)

		file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}

		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrLocalWrite, err)
		}

		_, err = file.Write(data)
		if syncErr := file.Sync(); err == nil {
			err = syncErr
		}

		if closeErr := file.Close(); err == nil {
			err = closeErr
		}

		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrLocalWrite, err)
		}

		return path, nil
	}
}

func validateEntry(entry models.LedgerEntry) error {
	if entry.WorkflowID == "" {
		return fmt.Errorf("%w: workflow id is required", ErrInvalidEntry)
	}

	if strings.ContainsAny(entry.WorkflowID, `/\`) || strings.Contains(entry.WorkflowID, "..") {
		return fmt.Errorf("%w: workflow id %q is not a valid directory name", ErrInvalidEntry, entry.WorkflowID)
	}

	if entry.RunID != nil && strings.ContainsAny(*entry.RunID, `/\`) {
		return fmt.Errorf("%w: run id %q is not a valid file name", ErrInvalidEntry, *entry.RunID)
	}

	if entry.HistoryDigestSha256 == "" {
		return fmt.Errorf("%w: digest is required", ErrInvalidEntry)
	}

	return nil
}

// LoadEntry reads a ledger entry written by Publish.
func LoadEntry(path string) (*models.LedgerEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ledger entry: %w", err)
	}

	var entry models.LedgerEntry

	err = json.Unmarshal(data, &entry)
	if err != nil {
		return nil, fmt.Errorf("decode ledger entry %s: %w", path, err)
	}

	return &entry, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
