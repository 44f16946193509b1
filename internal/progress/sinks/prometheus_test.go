package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/urban-physiology/glossarizer/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures counters and histograms are incremented from events.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	passID := progress.UUIDToBytes(uuid.New())
	batch := []progress.Event{
		{PassID: passID, TS: time.Now(), Stage: progress.StagePassStart, Portal: "chicago"},
		{
			PassID:   passID,
			TS:       time.Now().Add(10 * time.Second),
			Stage:    progress.StageResourceDone,
			Portal:   "chicago",
			Resource: "abcd-1234",
			Outcome:  progress.OutcomeFetched,
			Bytes:    1024,
			Dur:      200 * time.Millisecond,
		},
		{
			PassID: passID,
			TS:     time.Now().Add(15 * time.Second),
			Stage:  progress.StagePassDone,
			Portal: "chicago",
			Dur:    15 * time.Second,
		},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.passesStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.passesCompleted.WithLabelValues("success")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.passesCompleted.WithLabelValues("error")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.passesRunning))

	require.InDelta(
		t,
		1.0,
		testutil.ToFloat64(sink.resourcesProcessed.WithLabelValues("chicago", string(progress.OutcomeFetched))),
		1e-9,
	)
	require.InDelta(t, 1024.0, testutil.ToFloat64(sink.descriptorBytes.WithLabelValues("chicago")), 1e-9)
	require.Equal(t, 1, testutil.CollectAndCount(sink.resourceDuration, "glossarizer_resource_duration_seconds"))
}

// TestPrometheusSinkTracksRunningPasses checks the running gauge pairs starts with completions.
func TestPrometheusSinkTracksRunningPasses(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	first := progress.UUIDToBytes(uuid.New())
	second := progress.UUIDToBytes(uuid.New())
	now := time.Now()

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{PassID: first, TS: now, Stage: progress.StagePassStart, Portal: "chicago"},
		{PassID: second, TS: now, Stage: progress.StagePassStart, Portal: "austin"},
	}))
	require.Equal(t, 2.0, testutil.ToFloat64(sink.passesRunning))

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{PassID: first, TS: now.Add(time.Minute), Stage: progress.StagePassError, Portal: "chicago", Dur: time.Minute},
	}))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.passesRunning))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.passesCompleted.WithLabelValues("error")))
}
