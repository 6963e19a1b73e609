package pipeline

import (
	"context"
	"fmt"

	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/events"
	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/models"
	"github.com/go-playground/validator/v10"
)

type commandKind int

const (
	commandRetryStage commandKind = iota + 1
	commandHumanDecision
	commandJudgeConfig
)

// command is a signal queued for the control loop.
type command struct {
	kind     commandKind
	stage    models.StageName
	reason   string
	decision models.HumanDecision
	notes    string
	config   *models.JudgeLLMConfig
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// SignalRetryStage asks the pipeline to re-run stage once its in-flight attempt completes.
// The request only takes effect against the stage that is running or has just completed.
func (p *Pipeline) SignalRetryStage(ctx context.Context, stage models.StageName, reason string) error {
	if !stage.Valid() {
		return fmt.Errorf("%w: %w: %q", ErrInvalidSignal, models.ErrInvalidStage, stage)
	}

	return p.send(ctx, command{kind: commandRetryStage, stage: stage, reason: reason})
}

// SignalHumanDecision fulfils the pending escalation, or is buffered until one is raised.
func (p *Pipeline) SignalHumanDecision(ctx context.Context, decision models.HumanDecision, notes string) error {
	if _, err := models.ParseHumanDecision(string(decision)); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSignal, err)
	}

	return p.send(ctx, command{kind: commandHumanDecision, decision: decision, notes: notes})
}

// SignalUpdateJudgeConfig overrides the judge LLM configuration for the next judge execution.
func (p *Pipeline) SignalUpdateJudgeConfig(ctx context.Context, config models.JudgeLLMConfig) error {
	if err := validate.Struct(config); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSignal, err)
	}

	return p.send(ctx, command{kind: commandJudgeConfig, config: &config})
}

func (p *Pipeline) send(ctx context.Context, cmd command) error {
	if p.Progress().IsFinished() {
		return ErrPipelineFinished
	}

	select {
	case <-p.done:
		return ErrPipelineStopped
	default:
	}

	select {
	case p.commands <- cmd:
		return nil
	case <-p.done:
		return ErrPipelineStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// drainCommands handles every queued command without blocking.
func (p *Pipeline) drainCommands(ctx context.Context) {
	for {
		select {
		case cmd := <-p.commands:
			p.handle(ctx, cmd)
		default:
			return
		}
	}
}

// handle applies one signal. It runs only on the control loop.
func (p *Pipeline) handle(ctx context.Context, cmd command) {
	switch cmd.kind {
	case commandRetryStage:
		p.handleRetry(ctx, cmd)
	case commandHumanDecision:
		p.handleDecision(ctx, cmd)
	case commandJudgeConfig:
		p.handleJudgeConfig(ctx, cmd)
	}
}

func (p *Pipeline) handleRetry(ctx context.Context, cmd command) {
	if p.active == "" || cmd.stage != p.active {
		p.logger.WarnContext(ctx, "Ignoring retry for a stage that is not running",
			"stage", cmd.stage, "current_stage", p.active, "reason", cmd.reason)

		p.commit(ctx, models.JournalRetryIgnored, cmd.stage, map[string]any{
			"reason":       cmd.reason,
			"currentStage": string(p.active),
		}, nil)

		event := events.RetryIgnored{
			BaseEvent:    p.baseEvent(events.RetryIgnoredEvent),
			Stage:        cmd.stage,
			CurrentStage: p.active,
			Reason:       cmd.reason,
		}
		p.emit(ctx, event)

		return
	}

	p.pendingRetry[cmd.stage] = cmd.reason

	p.logger.InfoContext(ctx, "Retry scheduled", "stage", cmd.stage, "reason", cmd.reason)

	p.commit(ctx, models.JournalRetryScheduled, cmd.stage, map[string]any{"reason": cmd.reason}, func(seq int64) {
		stage := p.state.Progress.Stage(cmd.stage)
		stage.SetDetail("retryReason", cmd.reason)
		stage.LastUpdatedSeq = seq
	})

	p.emit(ctx, events.RetryScheduled{
		BaseEvent: p.baseEvent(events.RetryScheduledEvent),
		Stage:     cmd.stage,
		Reason:    cmd.reason,
	})
}

func (p *Pipeline) handleDecision(ctx context.Context, cmd command) {
	signal := models.HumanDecisionSignal{Decision: cmd.decision, Notes: cmd.notes}

	p.commit(ctx, models.JournalDecisionBuffered, models.StageHuman, map[string]any{
		"decision": string(cmd.decision),
		"notes":    cmd.notes,
	}, func(int64) {
		p.state.Decisions = append(p.state.Decisions, signal)
	})

	if p.state.Escalation != nil {
		return
	}

	p.logger.WarnContext(ctx, "Human decision received without a pending escalation, buffering",
		"decision", cmd.decision, "pending", len(p.state.Decisions))

	p.emit(ctx, events.DecisionQueued{
		BaseEvent: p.baseEvent(events.DecisionQueuedEvent),
		Decision:  cmd.decision,
		Pending:   len(p.state.Decisions),
	})
}

func (p *Pipeline) handleJudgeConfig(ctx context.Context, cmd command) {
	config := *cmd.config

	p.logger.InfoContext(ctx, "Judge LLM configuration updated",
		"enabled", config.Enabled, "provider", config.Provider, "model", config.Model)

	p.commit(ctx, models.JournalJudgeConfig, models.StageJudge, map[string]any{"config": config}, func(seq int64) {
		p.state.JudgeConfig = &config

		progressConfig := config
		p.state.Progress.LLMJudgeConfig = &progressConfig

		judge := p.state.Progress.Stage(models.StageJudge)
		judge.SetDetail("llmOverride", config)
		judge.LastUpdatedSeq = seq
	})

	p.timeline(ctx, models.StageJudge, "judge_config_updated", map[string]any{"config": config})

	p.emit(ctx, events.JudgeConfigUpdated{
		BaseEvent: p.baseEvent(events.JudgeConfigUpdatedEvent),
		Config:    &config,
	})
}
