package pipeline

import (
	"context"
	"fmt"

	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/events"
	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/ledger"
	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/models"
)

// recordLedger writes the stage artifact to the audit ledger. Ledger problems never fail
// the stage; they are recorded as warnings on it.
func (p *Pipeline) recordLedger(ctx context.Context, stage models.StageName, payload any, sourceFile string) {
	if p.deps.Recorder == nil {
		return
	}

	record, err := p.deps.Recorder.Record(ctx, ledger.RecordInput{
		WorkflowID: p.state.WorkflowID,
		RunID:      p.runID,
		Stage:      stage,
		Payload:    payload,
		SourceFile: sourceFile,
		Relay:      p.state.Input.Relay,
	})
	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to record ledger entry", "stage", stage, "error", err)
		p.addWarning(ctx, stage, "ledger_write_failed: "+err.Error())

		return
	}

	pointer := record.Pointer()

	p.updateStage(ctx, models.JournalLedgerRecorded, stage, map[string]any{
		"entryPath": pointer.EntryPath,
		"digest":    pointer.Digest,
	}, func(progress *models.StageProgress) {
		progress.SetDetail("ledger", pointer)
	})

	result := record.Result

	switch {
	case result.RelaySucceededAfterRetry():
		p.addWarning(ctx, stage, fmt.Sprintf("ledger_relay_recovered: posted after %d attempts", result.HTTPAttempts))
		p.emitRelay(ctx, stage, "retry_succeeded", result)
	case result.RelayFailed():
		p.addWarning(ctx, stage, fmt.Sprintf("ledger_relay_failed: %s (%d attempts)", result.HTTPError, result.HTTPAttempts))
		p.emitRelay(ctx, stage, "failed", result)
	}
}

func (p *Pipeline) emitRelay(ctx context.Context, stage models.StageName, outcome string, result *ledger.Result) {
	endpoint := ""
	if p.state.Input.Relay != nil {
		endpoint = p.state.Input.Relay.Endpoint
	}

	p.emit(ctx, events.LedgerRelay{
		BaseEvent: p.baseEvent(events.LedgerRelayEvent),
		Stage:     stage,
		Outcome:   outcome,
		Endpoint:  endpoint,
		Attempts:  result.HTTPAttempts,
		Error:     result.HTTPError,
	})
}
