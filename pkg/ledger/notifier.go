package ledger

import "context"

// RelayEventType names a relay outcome worth announcing.
type RelayEventType string

const (
	RelayRetrySucceeded RelayEventType = "ledger.relay.retry_succeeded"
	RelayFailed         RelayEventType = "ledger.relay.failed"
)

// RelayEvent describes the outcome of a relay that needed attention.
type RelayEvent struct {
	Type       RelayEventType `json:"type"`
	WorkflowID string         `json:"workflow_id"`
	Endpoint   string         `json:"endpoint"`
	Attempts   int            `json:"attempts"`
	Error      string         `json:"error,omitempty"`
}

// Notifier receives relay outcomes. Implementations must not block for long.
type Notifier interface {
	RelayOutcome(ctx context.Context, event RelayEvent)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, event RelayEvent)

func (f NotifierFunc) RelayOutcome(ctx context.Context, event RelayEvent) {
	f(ctx, event)
}
