package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/models"
	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/resolver"
)

// ResolveLedger resolves the ledger entry recorded by stage into a readable artifact.
// A missing or unreachable artifact is a Resolution, not an error.
func (m *Manager) ResolveLedger(ctx context.Context, submissionID string, stage models.StageName, allowRemote bool) (*resolver.Resolution, error) {
	const op = "resolve_ledger"

	pointer, progress, err := m.ledgerPointer(ctx, op, submissionID, stage)
	if err != nil {
		return nil, err
	}

	res := m.resolver.Resolve(ctx, resolver.Request{
		Pointer:     pointer.EntryPath,
		SourceFile:  pointer.SourceFile,
		RevisionID:  progress.AgentRevisionID,
		AllowRemote: allowRemote,
	})

	m.logger.DebugContext(ctx, "Ledger entry resolved",
		"submission_id", submissionID, "stage", stage, "status", res.Status, "missing_reason", res.MissingReason)

	return res, nil
}

// OpenLedger opens a resolved ledger artifact for reading.
func (m *Manager) OpenLedger(res *resolver.Resolution) (io.ReadCloser, error) {
	return m.resolver.Open(res)
}

// ProbeLedger checks the reachability of the remote copy of a stage's ledger entry:
// the entry itself when it was recorded as a URL, otherwise the relay collector.
func (m *Manager) ProbeLedger(ctx context.Context, submissionID string, stage models.StageName) (*resolver.ProbeResult, error) {
	const op = "probe_ledger"

	pointer, _, err := m.ledgerPointer(ctx, op, submissionID, stage)
	if err != nil {
		return nil, err
	}

	target := pointer.EntryPath
	if !isRemote(target) {
		target = ""

		relay, err := m.relayTarget(ctx, op, submissionID)
		if err != nil {
			return nil, err
		}

		if relay != nil {
			target = relay.Endpoint
		}
	}

	if target == "" {
		return nil, newError(op, submissionID, ErrLedgerNotRemote)
	}

	return m.resolver.Probe(ctx, target), nil
}

func (m *Manager) ledgerPointer(ctx context.Context, op, submissionID string, stage models.StageName) (models.LedgerPointer, *models.WorkflowProgress, error) {
	if !stage.Valid() {
		return models.LedgerPointer{}, nil, newError(op, submissionID, fmt.Errorf("%w: %q", ErrInvalidStage, stage))
	}

	progress, err := m.Progress(ctx, submissionID)
	if err != nil {
		return models.LedgerPointer{}, nil, err
	}

	stageProgress, ok := progress.Stages[stage]
	if !ok {
		return models.LedgerPointer{}, nil, newError(op, submissionID, ErrLedgerNotRecorded)
	}

	pointer, ok := decodePointer(stageProgress.Details["ledger"])
	if !ok {
		return models.LedgerPointer{}, nil, newError(op, submissionID, ErrLedgerNotRecorded)
	}

	return pointer, progress, nil
}

func (m *Manager) relayTarget(ctx context.Context, op, submissionID string) (*models.RelayTarget, error) {
	if p, ok := m.lookup(submissionID); ok {
		return p.Input().Relay, nil
	}

	snapshot, err := m.snapshot(ctx, op, submissionID)
	if err != nil {
		return nil, err
	}

	return snapshot.Input.Relay, nil
}

// decodePointer reads a ledger pointer from stage details, in memory or after a JSON round trip.
func decodePointer(raw any) (models.LedgerPointer, bool) {
	switch v := raw.(type) {
	case models.LedgerPointer:
		return v, v.EntryPath != ""
	case *models.LedgerPointer:
		if v == nil {
			return models.LedgerPointer{}, false
		}

		return *v, v.EntryPath != ""
	case map[string]any:
		data, err := json.Marshal(v)
		if err != nil {
			return models.LedgerPointer{}, false
		}

		var pointer models.LedgerPointer
		if err := json.Unmarshal(data, &pointer); err != nil {
			return models.LedgerPointer{}, false
		}

		return pointer, pointer.EntryPath != ""
	default:
		return models.LedgerPointer{}, false
	}
}

func isRemote(pointer string) bool {
	return strings.HasPrefix(pointer, "http://") || strings.HasPrefix(pointer, "https://")
}
