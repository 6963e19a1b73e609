package pipeline

import (
	"context"
	"slices"

	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/events"
	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/models"
)

// escalate hands the pipeline to a human reviewer on behalf of source.
func (p *Pipeline) escalate(ctx context.Context, source models.StageName, reason string, notes []string) {
	notes = slices.Clone(notes)

	p.updateStage(ctx, models.JournalEscalated, models.StageHuman, map[string]any{
		"source": string(source),
		"reason": reason,
		"notes":  notes,
	}, func(progress *models.StageProgress) {
		progress.Status = models.StageStatusRunning
		progress.Attempts++
		progress.Message = "awaiting human decision"

		delete(progress.Details, "decision")
		delete(progress.Details, "decisionNotes")

		progress.SetDetail("reason", reason)
		progress.SetDetail("source", string(source))
		progress.SetDetail("notes", notes)

		p.state.Escalation = &models.Escalation{Source: source, Reason: reason, Notes: notes}
		p.state.Cursor = models.StageHuman
	})

	p.logger.InfoContext(ctx, "Escalated to human review", "source", source, "reason", reason, "notes", notes)
	p.timeline(ctx, models.StageHuman, "escalated", map[string]any{"source": string(source), "reason": reason})

	p.emit(ctx, events.Escalated{
		BaseEvent: p.baseEvent(events.EscalatedEvent),
		Source:    source,
		Reason:    reason,
		Notes:     notes,
	})
}

// awaitHumanDecision blocks on the signal queue until a decision is available, then applies it.
// Decisions buffered before the escalation are consumed first, one per escalation.
func (p *Pipeline) awaitHumanDecision(ctx context.Context) error {
	if len(p.state.Decisions) == 0 {
		p.logger.InfoContext(ctx, "Waiting for human decision",
			"source", p.state.Escalation.Source, "reason", p.state.Escalation.Reason)
	}

	for len(p.state.Decisions) == 0 {
		select {
		case cmd := <-p.commands:
			p.handle(ctx, cmd)
		case <-ctx.Done():
			return p.suspended(ctx)
		}
	}

	p.resolveEscalation(ctx)

	return nil
}

func (p *Pipeline) resolveEscalation(ctx context.Context) {
	signal := p.state.Decisions[0]
	escalation := *p.state.Escalation
	approved := signal.Decision == models.HumanDecisionApproved

	message := "rejected by reviewer"
	if approved {
		message = "approved by reviewer"
	}

	p.updateStage(ctx, models.JournalHumanDecision, models.StageHuman, map[string]any{
		"source":   string(escalation.Source),
		"decision": string(signal.Decision),
		"notes":    signal.Notes,
	}, func(progress *models.StageProgress) {
		progress.Status = models.StageStatusCompleted
		progress.Message = message
		progress.SetDetail("decision", string(signal.Decision))

		if signal.Notes != "" {
			progress.SetDetail("decisionNotes", signal.Notes)
		}

		p.state.Decisions = slices.Clone(p.state.Decisions[1:])
		p.state.Escalation = nil

		if approved {
			p.state.Cursor = nextStage(escalation.Source)
		}
	})

	p.logger.InfoContext(ctx, "Human decision applied", "source", escalation.Source, "decision", signal.Decision)
	p.timeline(ctx, models.StageHuman, "human_decision", map[string]any{
		"source":   string(escalation.Source),
		"decision": string(signal.Decision),
	})

	p.emit(ctx, events.HumanDecided{
		BaseEvent: p.baseEvent(events.HumanDecidedEvent),
		Source:    escalation.Source,
		Decision:  signal.Decision,
		Notes:     signal.Notes,
	})

	if !approved {
		p.finish(ctx, models.TerminalStateRejected, "human_rejected")
	}
}
