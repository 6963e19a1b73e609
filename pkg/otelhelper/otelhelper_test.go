package otelhelper

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestStartSpanAndSetError(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	t.Cleanup(func() {
		_ = provider.Shutdown(context.Background())
	})

	tracer := provider.Tracer("test")

	_, span := StartSpan(t.Context(), tracer, "review.stage.security",
		attribute.String(StageKey, "security"),
		attribute.Int(AttemptKey, 2),
	)
	SetError(span, errors.New("scanner crashed"), attribute.String(StageKey, "security"))
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)

	got := ended[0]
	assert.Equal(t, "review.stage.security", got.Name())
	assert.Equal(t, codes.Error, got.Status().Code)
	assert.Equal(t, "scanner crashed", got.Status().Description)
	assert.Contains(t, got.Attributes(), attribute.Int(AttemptKey, 2))
	assert.Contains(t, got.Attributes(), attribute.String("error.type", "*errors.errorString"))

	var names []string
	for _, event := range got.Events() {
		names = append(names, event.Name)
	}

	assert.Contains(t, names, "exception")
	assert.Contains(t, names, "error_occurred")
}

func TestSetError_NilLeavesSpanUnset(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	t.Cleanup(func() {
		_ = provider.Shutdown(context.Background())
	})

	_, span := StartSpan(t.Context(), provider.Tracer("test"), "review.consumer consume")
	SetError(span, nil)
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, codes.Unset, ended[0].Status().Code)
	assert.Empty(t, ended[0].Events())
}
