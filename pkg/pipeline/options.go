package pipeline

import (
	"log/slog"
	"time"

	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/activities"
	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/eventbus"
	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/ledger"
	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/persistence"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultCommandBuffer  = 64
	defaultPersistTimeout = 10 * time.Second
)

// Deps are the collaborators injected into a pipeline. Only Activities is required.
type Deps struct {
	Activities  activities.Activities
	Persistence persistence.Persistence
	Recorder    *ledger.Recorder
	Events      eventbus.EventPublisher
	Tracer      trace.Tracer
	Logger      *slog.Logger
}

type Option func(*Pipeline)

// WithClock overrides the time source used for journal records and snapshots.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

// WithRunID sets the run identifier recorded in ledger entries.
func WithRunID(runID string) Option {
	return func(p *Pipeline) {
		p.runID = runID
	}
}

// WithWorkerID tags published events with the worker running the pipeline.
func WithWorkerID(workerID string) Option {
	return func(p *Pipeline) {
		p.workerID = workerID
	}
}

// WithCommandBuffer sets how many signals may queue before senders block.
func WithCommandBuffer(size int) Option {
	return func(p *Pipeline) {
		if size > 0 {
			p.commands = make(chan command, size)
		}
	}
}

func WithPersistTimeout(timeout time.Duration) Option {
	return func(p *Pipeline) {
		p.persistTimeout = timeout
	}
}
