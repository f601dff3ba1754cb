package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orchestra/internal/config"
)

func TestNew_DisabledReturnsNilWithoutError(t *testing.T) {
	tel, err := New(context.Background(), config.TelemetryConfig{Enabled: false})
	require.NoError(t, err)
	assert.Nil(t, tel)
}

func TestNilTelemetry_MethodsAreSafeNoOps(t *testing.T) {
	var tel *Telemetry

	assert.NoError(t, tel.Shutdown(context.Background()))

	ctx := tel.StartExecutionSpan(context.Background(), "exec-1", "demo")
	assert.NotNil(t, ctx)

	tel.EndExecutionSpan(ctx, "exec-1", "demo", "SUCCESS", time.Second, nil)
	tel.EndExecutionSpan(ctx, "exec-1", "demo", "ERROR", time.Second, errors.New("boom"))

	taskCtx := tel.StartTaskSpan(ctx, "exec-1", "task-1", "fetch")
	assert.NotNil(t, taskCtx)

	tel.EndTaskSpan("task-1", "fetch", "SUCCESS", time.Second, nil)
}

func TestEventTraceCarrier_GetSetRoundTrip(t *testing.T) {
	carrier := NewEventTraceCarrier(nil)
	carrier.Set("traceparent", "00-abc-def-01")

	assert.Equal(t, "00-abc-def-01", carrier.Get("traceparent"))
	assert.Equal(t, []string{"traceparent"}, carrier.Keys())
	assert.Equal(t, map[string]string{"traceparent": "00-abc-def-01"}, carrier.Headers())
}

func TestEventTraceCarrier_NilHeadersInitialized(t *testing.T) {
	carrier := NewEventTraceCarrier(nil)
	assert.Empty(t, carrier.Keys())
	carrier.Set("a", "b")
	assert.Equal(t, "b", carrier.Get("a"))
}

func TestInjectExtractTraceContext_RoundTrip(t *testing.T) {
	carrier := NewEventTraceCarrier(nil)
	InjectTraceContext(context.Background(), carrier)
	out := ExtractTraceContext(context.Background(), carrier)
	assert.NotNil(t, out)
}
