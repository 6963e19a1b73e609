package eventbus

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/channels/gochannel"
	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/events"
	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/models"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func newTestBus(t *testing.T) EventBus {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	pub, sub, err := gochannel.CreateTestChannel(watermill.NewSlogLogger(logger))
	require.NoError(t, err)

	bus := NewWatermillEventBus(pub, sub, WithLogger(logger))
	t.Cleanup(func() { _ = bus.Close() })

	return bus
}

func TestWatermillEventBus_DeliversTypedEvents(t *testing.T) {
	bus := newTestBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan *events.RetryStageSignal, 1)

	require.NoError(t, bus.Handle(events.RetryStageSignalEvent, func(_ context.Context, event any) error {
		received <- event.(*events.RetryStageSignal)

		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx))

	signal := events.RetryStageSignal{
		BaseEvent: events.NewBaseEvent(events.RetryStageSignalEvent, "sub-1"),
		Stage:     models.StageFunctional,
		Reason:    "flaky_network",
	}
	require.NoError(t, bus.Publish(ctx, "sub-1", signal))

	select {
	case got := <-received:
		assert.Equal(t, models.StageFunctional, got.Stage)
		assert.Equal(t, "flaky_network", got.Reason)
		assert.Equal(t, "sub-1", got.SubmissionID)
		assert.Equal(t, "review-pipeline-sub-1", got.WorkflowID)
	case <-time.After(5 * time.Second):
		t.Fatal("signal not delivered")
	}
}

func TestWatermillEventBus_AcksUnhandledEvents(t *testing.T) {
	bus := newTestBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan struct{}, 1)

	require.NoError(t, bus.Handle(events.PipelineFinishedEvent, func(context.Context, any) error {
		received <- struct{}{}

		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx))

	require.NoError(t, bus.Publish(ctx, "sub-1", events.StageStarted{
		BaseEvent: events.NewBaseEvent(events.StageStartedEvent, "sub-1"),
		Stage:     models.StagePrecheck,
		Attempt:   1,
	}))
	require.NoError(t, bus.Publish(ctx, "sub-1", events.PipelineFinished{
		BaseEvent:     events.NewBaseEvent(events.PipelineFinishedEvent, "sub-1"),
		TerminalState: models.TerminalStatePublished,
	}))

	select {
	case <-received:
	case <-time.After(5 * time.Second):
		t.Fatal("finished event not delivered after unhandled event")
	}
}

func TestWatermillEventBus_DropsUndecodableEvents(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	pub, sub, err := gochannel.CreateTestChannel(watermill.NewSlogLogger(logger))
	require.NoError(t, err)

	bus := NewWatermillEventBus(pub, sub, WithLogger(logger))
	t.Cleanup(func() { _ = bus.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan string, 2)

	require.NoError(t, bus.Handle(events.HumanDecisionSignalEvent, func(_ context.Context, event any) error {
		received <- event.(*events.HumanDecisionSignal).Notes

		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx))

	garbage := message.NewMessage(watermill.NewUUID(), []byte("{not json"))
	garbage.Metadata.Set(events.EventTypeMetadataKey, string(events.HumanDecisionSignalEvent))
	require.NoError(t, pub.Publish(events.Topic, garbage))

	require.NoError(t, bus.Publish(ctx, "sub-1", events.HumanDecisionSignal{
		BaseEvent: events.NewBaseEvent(events.HumanDecisionSignalEvent, "sub-1"),
		Decision:  models.HumanDecisionApproved,
		Notes:     "valid",
	}))

	select {
	case notes := <-received:
		assert.Equal(t, "valid", notes)
	case <-time.After(5 * time.Second):
		t.Fatal("valid event not delivered after undecodable one")
	}
}

func TestWatermillEventBus_RedeliversOnHandlerError(t *testing.T) {
	bus := newTestBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	attempts := make(chan int, 2)
	calls := 0

	require.NoError(t, bus.Handle(events.RetryStageSignalEvent, func(context.Context, any) error {
		calls++
		attempts <- calls

		if calls == 1 {
			return assert.AnError
		}

		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx))

	require.NoError(t, bus.Publish(ctx, "sub-1", events.RetryStageSignal{
		BaseEvent: events.NewBaseEvent(events.RetryStageSignalEvent, "sub-1"),
		Stage:     models.StageJudge,
	}))

	for want := 1; want <= 2; want++ {
		select {
		case got := <-attempts:
			assert.Equal(t, want, got)
		case <-time.After(5 * time.Second):
			t.Fatalf("attempt %d not delivered", want)
		}
	}
}

func TestWatermillEventBus_PropagatesTraceContext(t *testing.T) {
	previous := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(previous) })

	bus := newTestBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	traceIDs := make(chan trace.TraceID, 1)

	require.NoError(t, bus.Handle(events.PipelineFinishedEvent, func(handlerCtx context.Context, _ any) error {
		traceIDs <- trace.SpanContextFromContext(handlerCtx).TraceID()

		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx))

	traceID := trace.TraceID{0x4b, 0xf9, 0x2f, 0x35, 0x77, 0xb3, 0x4d, 0xa6, 0xa3, 0xce, 0x92, 0x9d, 0x0e, 0x0e, 0x47, 0x36}
	parent := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     trace.SpanID{0x00, 0xf0, 0x67, 0xaa, 0x0b, 0xa9, 0x02, 0xb7},
		TraceFlags: trace.FlagsSampled,
	})

	require.NoError(t, bus.Publish(trace.ContextWithSpanContext(ctx, parent), "sub-1", events.PipelineFinished{
		BaseEvent:     events.NewBaseEvent(events.PipelineFinishedEvent, "sub-1"),
		TerminalState: models.TerminalStatePublished,
	}))

	select {
	case got := <-traceIDs:
		assert.Equal(t, traceID, got)
	case <-time.After(5 * time.Second):
		t.Fatal("finished event not delivered")
	}
}

func TestNop(t *testing.T) {
	assert.NoError(t, Nop{}.Publish(context.Background(), "k", events.StageStarted{}))
}
