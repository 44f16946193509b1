package sinks

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/urban-physiology/glossarizer/internal/progress"
)

// TestStatusSinkTracksPassLifecycle verifies the board reflects start,
// resource deltas, and completion for a single pass.
func TestStatusSinkTracksPassLifecycle(t *testing.T) {
	t.Parallel()

	sink := NewStatusSink(10)
	passID := uuid.New()
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	batch := []progress.Event{
		{PassID: progress.UUIDToBytes(passID), TS: started, Stage: progress.StagePassStart, Portal: "chicago"},
		{
			PassID:   progress.UUIDToBytes(passID),
			TS:       started.Add(time.Second),
			Stage:    progress.StageResourceDone,
			Portal:   "chicago",
			Resource: "abcd-1234",
			Outcome:  progress.OutcomeFetched,
			Bytes:    100,
		},
		{
			PassID:   progress.UUIDToBytes(passID),
			TS:       started.Add(2 * time.Second),
			Stage:    progress.StageResourceDone,
			Portal:   "chicago",
			Resource: "efgh-5678",
			Outcome:  progress.OutcomeFailed,
			Note:     "unreachable",
		},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	snapshot := sink.Snapshot()
	require.Len(t, snapshot, 1)
	require.Equal(t, "chicago", snapshot[0].Portal)
	require.True(t, snapshot[0].Running())
	require.Equal(t, int64(1), snapshot[0].Outcomes[string(progress.OutcomeFetched)])
	require.Equal(t, int64(1), snapshot[0].Outcomes[string(progress.OutcomeFailed)])
	require.Equal(t, int64(100), snapshot[0].Bytes)

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{
			PassID: progress.UUIDToBytes(passID),
			TS:     started.Add(time.Minute),
			Stage:  progress.StagePassDone,
			Portal: "chicago",
			Dur:    time.Minute,
		},
	}))

	snapshot = sink.Snapshot()
	require.Len(t, snapshot, 1)
	require.False(t, snapshot[0].Running())
	require.Equal(t, "success", snapshot[0].Result)
	require.Equal(t, started.Add(time.Minute), snapshot[0].Finished)
}

// TestStatusSinkSnapshotOrder ensures newest passes come first.
func TestStatusSinkSnapshotOrder(t *testing.T) {
	t.Parallel()

	sink := NewStatusSink(10)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		evt := progress.Event{
			PassID: progress.UUIDToBytes(uuid.New()),
			TS:     base.Add(time.Duration(i) * time.Minute),
			Stage:  progress.StagePassStart,
			Portal: fmt.Sprintf("portal-%d", i),
		}
		require.NoError(t, sink.Consume(context.Background(), []progress.Event{evt}))
	}

	snapshot := sink.Snapshot()
	require.Len(t, snapshot, 3)
	require.Equal(t, "portal-2", snapshot[0].Portal)
	require.Equal(t, "portal-0", snapshot[2].Portal)
}

// TestStatusSinkPrunesFinishedPasses checks capacity eviction spares running passes.
func TestStatusSinkPrunesFinishedPasses(t *testing.T) {
	t.Parallel()

	sink := NewStatusSink(2)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	runningID := uuid.New()
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{PassID: progress.UUIDToBytes(runningID), TS: base, Stage: progress.StagePassStart, Portal: "running"},
	}))

	for i := 0; i < 3; i++ {
		id := uuid.New()
		ts := base.Add(time.Duration(i+1) * time.Minute)
		require.NoError(t, sink.Consume(context.Background(), []progress.Event{
			{PassID: progress.UUIDToBytes(id), TS: ts, Stage: progress.StagePassStart, Portal: fmt.Sprintf("done-%d", i)},
			{PassID: progress.UUIDToBytes(id), TS: ts.Add(time.Second), Stage: progress.StagePassDone, Portal: fmt.Sprintf("done-%d", i)},
		}))
	}

	snapshot := sink.Snapshot()
	require.LessOrEqual(t, len(snapshot), 3)
	var foundRunning bool
	for _, status := range snapshot {
		if status.Portal == "running" {
			foundRunning = true
		}
	}
	require.True(t, foundRunning, "running pass must survive pruning")
}
