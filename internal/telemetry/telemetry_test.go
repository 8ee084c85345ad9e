package telemetry_test

import (
	"context"
	"testing"
	"time"

	"github.com/DevJayantaGhosh/sherlock/internal/telemetry"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestMetrics(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	reader := sdkmetric.NewManualReader()
	mp := telemetry.NewMeterProvider(telemetry.NewResource("sherlock", "test"), reader)
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := telemetry.NewMetrics(mp, func() int { return 2 })
	require.NoError(t, err)

	m.SessionStarted(ctx, "sast")
	m.SessionFinished(ctx, "sast", telemetry.OutcomeSucceeded, time.Second)
	m.ObserveClone(ctx, telemetry.OutcomeFailed, time.Second)
	m.IncCloneCacheHit(ctx)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	names := map[string]metricdata.Aggregation{}
	for _, m := range rm.ScopeMetrics[0].Metrics {
		names[m.Name] = m.Data
	}
	require.Contains(t, names, "sessions_started_total")
	require.Contains(t, names, "sessions_finished_total")
	require.Contains(t, names, "session_duration_seconds")
	require.Contains(t, names, "clone_duration_seconds")
	require.Contains(t, names, "clone_cache_hits_total")

	active, ok := names["active_processes"].(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, active.DataPoints, 1)
	require.EqualValues(t, 2, active.DataPoints[0].Value)
}

func TestNoop(t *testing.T) {
	t.Parallel()
	m := telemetry.Noop()
	m.SessionStarted(t.Context(), "clone")
	_, span := telemetry.NoopTracer().Start(t.Context(), "x")
	span.End()
}
