package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/activities"
	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/models"
	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/otelhelper"
	"go.opentelemetry.io/otel/attribute"
)

var errNoResult = errors.New("activity returned no result")

type activityFunc[T any] func(ctx context.Context, in activities.StageInput) (T, error)

// runStageWithRetry executes one stage. Signals are handled while the activity runs and once
// more after it returns; a retry requested for this stage in that window discards the result
// and runs the activity again with the next attempt number.
// The returned error is either a suspension (see IsSuspended) or a *StageError.
func runStageWithRetry[T any](ctx context.Context, p *Pipeline, stage models.StageName, fn activityFunc[T]) (T, error) {
	var zero T

	p.active = stage
	defer func() { p.active = "" }()

	for {
		attempt := p.beginAttempt(ctx, stage)

		value, err := awaitActivity(ctx, p, stage, attempt, fn)
		if ctx.Err() != nil {
			return zero, p.suspended(ctx)
		}

		p.drainCommands(ctx)

		if reason, ok := p.pendingRetry[stage]; ok {
			delete(p.pendingRetry, stage)

			p.logger.InfoContext(ctx, "Re-running stage on retry request", "stage", stage, "attempt", attempt, "reason", reason)

			continue
		}

		if err != nil {
			return zero, &StageError{Stage: stage, Attempt: attempt, Err: err}
		}

		return value, nil
	}
}

// awaitActivity runs fn on its own goroutine and serves the signal queue until it returns.
// Panics inside the activity are converted into errors.
func awaitActivity[T any](ctx context.Context, p *Pipeline, stage models.StageName, attempt int, fn activityFunc[T]) (T, error) {
	type outcome struct {
		value T
		err   error
	}

	var zero T

	spanCtx, span := otelhelper.StartSpan(ctx, p.deps.Tracer, "review.stage."+string(stage),
		attribute.String(otelhelper.SubmissionIDKey, p.state.Input.SubmissionID),
		attribute.String(otelhelper.WorkflowIDKey, p.state.WorkflowID),
		attribute.String(otelhelper.StageKey, string(stage)),
		attribute.Int(otelhelper.AttemptKey, attempt),
	)
	defer span.End()

	in := p.stageInput(attempt)
	results := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				results <- outcome{err: fmt.Errorf("%w: %v", ErrActivityPanic, r)}
			}
		}()

		value, err := fn(spanCtx, in)
		results <- outcome{value: value, err: err}
	}()

	for {
		select {
		case res := <-results:
			if res.err != nil {
				otelhelper.SetError(span, res.err, attribute.String(otelhelper.StageKey, string(stage)))
			}

			return res.value, res.err
		case cmd := <-p.commands:
			p.handle(ctx, cmd)
		case <-ctx.Done():
			otelhelper.SetError(span, ctx.Err())

			return zero, ctx.Err()
		}
	}
}
