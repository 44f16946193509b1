package sqlite

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/urban-physiology/glossarizer/internal/glossary"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.db")
	store, err := NewStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, path
}

func TestStore_RoundTrip_SurvivesReopen(t *testing.T) {
	t.Parallel()

	store, path := newTestStore(t)
	ctx := context.Background()

	entry := glossary.StateEntry{
		Portal:      "chicago",
		ResourceID:  "abcd-1234",
		Hash:        "deadbeef",
		Signal:      "2024-05-01T00:00:00Z",
		LastSuccess: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Failures:    0,
		Descriptor:  json.RawMessage(`{"id":"abcd-1234","name":"Street Trees"}`),
		UpdatedAt:   time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, store.Put(ctx, entry))
	require.NoError(t, store.Put(ctx, glossary.StateEntry{
		Portal:     "chicago",
		ResourceID: "efgh-5678",
		Failures:   2,
		LastError:  "unreachable",
		UpdatedAt:  time.Date(2024, 5, 1, 12, 5, 0, 0, time.UTC),
	}))
	require.NoError(t, store.RecordPass(ctx, glossary.PassRecord{
		PassID:   "pass-1",
		Portal:   "chicago",
		Started:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Finished: time.Date(2024, 5, 1, 12, 10, 0, 0, time.UTC),
		Emitted:  2,
		Failed:   1,
		Issues: []glossary.PassIssue{
			{ResourceID: "efgh-5678", Kind: "unreachable", Detail: "connect timeout"},
		},
	}))
	require.NoError(t, store.Close())

	// A fresh handle on the same file sees everything the first one wrote.
	reopened, err := NewStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(ctx, "chicago", "abcd-1234")
	require.NoError(t, err)
	require.Equal(t, "chicago", got.Portal)
	require.Equal(t, "abcd-1234", got.ResourceID)
	require.Equal(t, "deadbeef", got.Hash)
	require.Equal(t, "2024-05-01T00:00:00Z", got.Signal)
	require.Equal(t, 0, got.Failures)
	require.JSONEq(t, string(entry.Descriptor), string(got.Descriptor))
	require.WithinDuration(t, entry.LastSuccess, got.LastSuccess, time.Second)
	require.WithinDuration(t, entry.UpdatedAt, got.UpdatedAt, time.Second)

	entries, err := reopened.Iterate(ctx, "chicago")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "abcd-1234", entries[0].ResourceID)
	require.Equal(t, "efgh-5678", entries[1].ResourceID)
	require.True(t, entries[1].LastSuccess.IsZero())
	require.Nil(t, entries[1].Descriptor)

	passes, err := reopened.ListPasses(ctx, "chicago", 10)
	require.NoError(t, err)
	require.Len(t, passes, 1)
	require.Equal(t, "pass-1", passes[0].PassID)
	require.Equal(t, 2, passes[0].Emitted)
	require.Len(t, passes[0].Issues, 1)
	require.Equal(t, "connect timeout", passes[0].Issues[0].Detail)
}

func TestStore_Get_NotFound(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	_, err := store.Get(context.Background(), "chicago", "missing")
	require.ErrorIs(t, err, glossary.ErrNotFound)
}

func TestStore_Put_Upserts(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	ctx := context.Background()

	entry := glossary.StateEntry{Portal: "chicago", ResourceID: "abcd-1234", Hash: "v1"}
	require.NoError(t, store.Put(ctx, entry))
	entry.Hash = "v2"
	entry.Failures = 1
	entry.LastError = "rate limited"
	require.NoError(t, store.Put(ctx, entry))

	got, err := store.Get(ctx, "chicago", "abcd-1234")
	require.NoError(t, err)
	require.Equal(t, "v2", got.Hash)
	require.Equal(t, 1, got.Failures)
	require.Equal(t, "rate limited", got.LastError)

	entries, err := store.Iterate(ctx, "chicago")
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestStore_Put_RequiresKey(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	require.Error(t, store.Put(context.Background(), glossary.StateEntry{Portal: "chicago"}))
	require.Error(t, store.Put(context.Background(), glossary.StateEntry{ResourceID: "abcd"}))
}

func TestStore_Iterate_PartitionsByPortal(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, glossary.StateEntry{Portal: "chicago", ResourceID: "a-1"}))
	require.NoError(t, store.Put(ctx, glossary.StateEntry{Portal: "portland", ResourceID: "b-2"}))

	entries, err := store.Iterate(ctx, "portland")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "b-2", entries[0].ResourceID)

	entries, err = store.Iterate(ctx, "boston")
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestStore_ListPasses_NewestFirstWithLimit(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"pass-a", "pass-b", "pass-c"} {
		require.NoError(t, store.RecordPass(ctx, glossary.PassRecord{
			PassID:   id,
			Portal:   "chicago",
			Started:  base.Add(time.Duration(i) * time.Hour),
			Finished: base.Add(time.Duration(i)*time.Hour + time.Minute),
		}))
	}

	recs, err := store.ListPasses(ctx, "chicago", 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, "pass-c", recs[0].PassID)
	require.Equal(t, "pass-b", recs[1].PassID)

	all, err := store.ListPasses(ctx, "chicago", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
}

func TestStore_RecordPass_IdempotentPerPassID(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	ctx := context.Background()
	rec := glossary.PassRecord{PassID: "pass-1", Portal: "chicago", Emitted: 5}
	require.NoError(t, store.RecordPass(ctx, rec))
	require.NoError(t, store.RecordPass(ctx, rec))

	recs, err := store.ListPasses(ctx, "chicago", 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)

	require.Error(t, store.RecordPass(ctx, glossary.PassRecord{Portal: "chicago"}))
}

func TestNewStore_CreatesParentDirectory(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "dir", "state.db")
	store, err := NewStore(path)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Put(context.Background(), glossary.StateEntry{Portal: "chicago", ResourceID: "a-1"}))
	_, err = os.Stat(path)
	require.NoError(t, err)

	_, err = NewStore("")
	require.Error(t, err)
}
