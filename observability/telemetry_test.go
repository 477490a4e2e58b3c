package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edge-robotics/command-core/config"
)

func TestNewTelemetryProvider_NilConfigProducesUsableNoopProvider(t *testing.T) {
	tp, err := NewTelemetryProvider(nil)
	require.NoError(t, err)
	assert.NotNil(t, tp.GetTracer())
	assert.NotNil(t, tp.GetMeter())
}

func TestNewTelemetryProvider_DisabledConfigSkipsExporterInit(t *testing.T) {
	tp, err := NewTelemetryProvider(&config.TelemetryConfig{Enabled: false})
	require.NoError(t, err)
	assert.NotNil(t, tp.GetTracer())
	assert.Nil(t, tp.traceProvider)
}

func TestTraceOperation_ReturnsSpanEvenWhenDisabled(t *testing.T) {
	tp, err := NewTelemetryProvider(&config.TelemetryConfig{Enabled: false})
	require.NoError(t, err)

	ctx, span := tp.TraceOperation(context.Background(), "test.op")
	assert.NotNil(t, ctx)
	assert.NotNil(t, span)
	span.End()
}

func TestTraceDispatch_ReturnsUsableSpan(t *testing.T) {
	tp, err := NewTelemetryProvider(&config.TelemetryConfig{Enabled: false})
	require.NoError(t, err)

	ctx, span := tp.TraceDispatch(context.Background(), "cmd-1", "robot-1", 3)
	assert.NotNil(t, ctx)
	assert.NotNil(t, span)
	span.End()
}

func TestTraceEnqueue_ReturnsUsableSpan(t *testing.T) {
	tp, err := NewTelemetryProvider(&config.TelemetryConfig{Enabled: false})
	require.NoError(t, err)

	ctx, span := tp.TraceEnqueue(context.Background(), "cmd-1", "memory")
	assert.NotNil(t, ctx)
	assert.NotNil(t, span)
	span.End()
}

func TestRecordDispatched_NoopWhenMetricsUninitialized(t *testing.T) {
	tp, err := NewTelemetryProvider(&config.TelemetryConfig{Enabled: false})
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		tp.RecordDispatched(context.Background(), "robot-1", 10*time.Millisecond)
	})
}

func TestRecordFailed_NoopWhenMetricsUninitialized(t *testing.T) {
	tp, err := NewTelemetryProvider(&config.TelemetryConfig{Enabled: false})
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		tp.RecordFailed(context.Background(), "robot-1", 10*time.Millisecond, "dispatch_error")
	})
}

func TestRecordEnqueued_NoopWhenMetricsUninitialized(t *testing.T) {
	tp, err := NewTelemetryProvider(&config.TelemetryConfig{Enabled: false})
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		tp.RecordEnqueued(context.Background(), "memory")
	})
}

func TestUpdateQueueDepth_NoopWhenMetricsUninitialized(t *testing.T) {
	tp, err := NewTelemetryProvider(&config.TelemetryConfig{Enabled: false})
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		tp.UpdateQueueDepth(context.Background(), "memory", 5)
	})
}

func TestSetSpanError_NilSpanIsNoop(t *testing.T) {
	tp, err := NewTelemetryProvider(&config.TelemetryConfig{Enabled: false})
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		tp.SetSpanError(nil, errors.New("boom"))
	})
}

func TestSetSpanSuccess_NilSpanIsNoop(t *testing.T) {
	tp, err := NewTelemetryProvider(&config.TelemetryConfig{Enabled: false})
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		tp.SetSpanSuccess(nil)
	})
}

func TestShutdown_NoopWhenTracingNeverInitialized(t *testing.T) {
	tp, err := NewTelemetryProvider(&config.TelemetryConfig{Enabled: false})
	require.NoError(t, err)

	assert.NoError(t, tp.Shutdown(context.Background()))
}
