package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"time"

	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/models"
)

var retryableStatuses = []int{
	http.StatusTooManyRequests,
	http.StatusInternalServerError,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
}

// IsRetryableStatus reports whether a relay response status may be retried.
func IsRetryableStatus(code int) bool {
	return slices.Contains(retryableStatuses, code)
}

func (p *Publisher) relay(ctx context.Context, entry models.LedgerEntry, opts Options, result *Result) {
	logger := p.logger.With("workflow_id", entry.WorkflowID, "endpoint", opts.HTTPEndpoint)

	body, err := json.Marshal(entry)
	if err != nil {
		posted := false
		result.HTTPPosted = &posted
		result.HTTPError = err.Error()

		return
	}

	var lastErr error

	posted := false

	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		result.HTTPAttempts = attempt

		retryable, err := p.post(ctx, opts, body)
		if err == nil {
			posted = true
			lastErr = nil

			break
		}

		lastErr = err

		logger.WarnContext(ctx, "Ledger relay attempt failed", "attempt", attempt, "error", err)

		if !retryable || attempt == p.maxAttempts {
			break
		}

		delay := p.baseDelay * time.Duration(1<<(attempt-1))
		if sleepErr := p.sleep(ctx, delay); sleepErr != nil {
			lastErr = sleepErr

			break
		}
	}

	result.HTTPPosted = &posted
	result.Retried = result.HTTPAttempts > 1

	if lastErr != nil {
		result.HTTPError = lastErr.Error()
	}

	event := RelayEvent{
		WorkflowID: entry.WorkflowID,
		Endpoint:   opts.HTTPEndpoint,
		Attempts:   result.HTTPAttempts,
		Error:      result.HTTPError,
	}

	switch {
	case result.RelaySucceededAfterRetry():
		logger.InfoContext(ctx, "Ledger relay succeeded after retry", "attempts", result.HTTPAttempts)
		event.Type = RelayRetrySucceeded
		p.notify(ctx, event)
	case !posted:
		logger.ErrorContext(ctx, "Ledger relay failed", "attempts", result.HTTPAttempts, "error", result.HTTPError)
		event.Type = RelayFailed
		p.notify(ctx, event)
	}
}

// post sends one relay request. The boolean reports whether a failure may be retried.
func (p *Publisher) post(ctx context.Context, opts Options, body []byte) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, opts.HTTPEndpoint, bytes.NewReader(body))
	if err != nil {
		return false, &RelayError{Endpoint: opts.HTTPEndpoint, Err: err}
	}

	req.Header.Set("Content-Type", "application/json")

	if opts.HTTPToken != "" {
		req.Header.Set("Authorization", "Bearer "+opts.HTTPToken)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return false, &RelayError{Endpoint: opts.HTTPEndpoint, Err: err}
		}

		return true, &RelayError{Endpoint: opts.HTTPEndpoint, Err: err}
	}

	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return false, nil
	}

	return IsRetryableStatus(resp.StatusCode), &RelayError{
		Endpoint:   opts.HTTPEndpoint,
		StatusCode: resp.StatusCode,
		Err:        fmt.Errorf("status %d", resp.StatusCode),
	}
}

func (p *Publisher) notify(ctx context.Context, event RelayEvent) {
	if p.notifier == nil {
		return
	}

	p.notifier.RelayOutcome(ctx, event)
}
