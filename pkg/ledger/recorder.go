package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/canonical"
	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/models"
)

// RecordInput is one stage artifact to be recorded in the ledger.
type RecordInput struct {
	WorkflowID string
	RunID      string
	Stage      models.StageName
	Payload    any
	SourceFile string
	Relay      *models.RelayTarget
}

// Record is a published ledger entry together with its relay outcome.
type Record struct {
	Entry  models.LedgerEntry
	Result *Result
}

// Pointer returns what a stage keeps about this record for later resolution.
func (r *Record) Pointer() models.LedgerPointer {
	return models.LedgerPointer{
		EntryPath:    r.Result.EntryPath,
		Digest:       r.Entry.HistoryDigestSha256,
		SourceFile:   r.Entry.SourceFile,
		HTTPPosted:   r.Result.HTTPPosted,
		HTTPAttempts: r.Result.HTTPAttempts,
		HTTPError:    r.Result.HTTPError,
	}
}

// Recorder digests stage payloads and publishes ledger entries for them.
type Recorder struct {
	publisher *Publisher
	namespace string
	outputDir string
	now       func() time.Time
}

func NewRecorder(publisher *Publisher, namespace, outputDir string) *Recorder {
	return &Recorder{
		publisher: publisher,
		namespace: namespace,
		outputDir: outputDir,
		now:       time.Now,
	}
}

// Record digests the canonical form of the stage payload and publishes the resulting entry.
func (r *Recorder) Record(ctx context.Context, in RecordInput) (*Record, error) {
	digest, err := canonical.Digest(StagePayload(in.Stage, in.Payload))
	if err != nil {
		return nil, fmt.Errorf("digest %s payload: %w", in.Stage, err)
	}

	var runID *string
	if in.RunID != "" {
		runID = &in.RunID
	}

	entry := models.LedgerEntry{
		WorkflowID:          in.WorkflowID,
		RunID:               runID,
		Namespace:           r.namespace,
		HistoryDigestSha256: digest,
		ExportedAt:          r.now().UTC().Format(time.RFC3339Nano),
		SourceFile:          in.SourceFile,
	}

	opts := Options{OutputDir: r.outputDir}
	if in.Relay != nil {
		opts.HTTPEndpoint = in.Relay.Endpoint
		opts.HTTPToken = in.Relay.Token
	}

	result, err := r.publisher.Publish(ctx, entry, opts)
	if err != nil {
		return nil, err
	}

	return &Record{Entry: entry, Result: result}, nil
}

// StagePayload is the document digested for a stage artifact.
func StagePayload(stage models.StageName, payload any) map[string]any {
	return map[string]any{
		"stage":   string(stage),
		"payload": payload,
	}
}

// Verify re-digests the stage payload and compares it with the entry stored at entryPath.
func Verify(entryPath string, stage models.StageName, payload any) error {
	entry, err := LoadEntry(entryPath)
	if err != nil {
		return err
	}

	digest, err := canonical.Digest(StagePayload(stage, payload))
	if err != nil {
		return fmt.Errorf("digest payload: %w", err)
	}

	if digest != entry.HistoryDigestSha256 {
		return fmt.Errorf("%w: recorded %s, computed %s", ErrDigestMismatch, entry.HistoryDigestSha256, digest)
	}

	return nil
}
