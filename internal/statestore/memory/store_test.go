package memory

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/urban-physiology/glossarizer/internal/glossary"
)

func TestStore_GetPut_RoundTrip(t *testing.T) {
	t.Parallel()

	store := NewStore()
	ctx := context.Background()

	_, err := store.Get(ctx, "chicago", "abcd-1234")
	require.ErrorIs(t, err, glossary.ErrNotFound)

	entry := glossary.StateEntry{
		Portal:      "chicago",
		ResourceID:  "abcd-1234",
		Hash:        "deadbeef",
		Signal:      "2024-05-01T00:00:00Z",
		LastSuccess: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Descriptor:  json.RawMessage(`{"id":"abcd-1234"}`),
		UpdatedAt:   time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, store.Put(ctx, entry))

	got, err := store.Get(ctx, "chicago", "abcd-1234")
	require.NoError(t, err)
	require.Equal(t, entry, got)

	// Replacing the entry for the same key wins outright.
	entry.Failures = 2
	entry.LastError = "unreachable"
	require.NoError(t, store.Put(ctx, entry))
	got, err = store.Get(ctx, "chicago", "abcd-1234")
	require.NoError(t, err)
	require.Equal(t, 2, got.Failures)
	require.Equal(t, "unreachable", got.LastError)
}

func TestStore_Put_RequiresKey(t *testing.T) {
	t.Parallel()

	store := NewStore()
	require.Error(t, store.Put(context.Background(), glossary.StateEntry{Portal: "chicago"}))
	require.Error(t, store.Put(context.Background(), glossary.StateEntry{ResourceID: "abcd"}))
}

func TestStore_Get_ReturnsCopy(t *testing.T) {
	t.Parallel()

	store := NewStore()
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, glossary.StateEntry{
		Portal:     "chicago",
		ResourceID: "abcd-1234",
		Descriptor: json.RawMessage(`{"name":"original"}`),
	}))

	got, err := store.Get(ctx, "chicago", "abcd-1234")
	require.NoError(t, err)
	copy(got.Descriptor, []byte(`{"name":"mutated!"}`))

	again, err := store.Get(ctx, "chicago", "abcd-1234")
	require.NoError(t, err)
	require.JSONEq(t, `{"name":"original"}`, string(again.Descriptor))
}

func TestStore_Iterate_SortsAndPartitions(t *testing.T) {
	t.Parallel()

	store := NewStore()
	ctx := context.Background()
	for _, id := range []string{"c-3", "a-1", "b-2"} {
		require.NoError(t, store.Put(ctx, glossary.StateEntry{Portal: "chicago", ResourceID: id}))
	}
	require.NoError(t, store.Put(ctx, glossary.StateEntry{Portal: "portland", ResourceID: "z-9"}))

	entries, err := store.Iterate(ctx, "chicago")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, "a-1", entries[0].ResourceID)
	require.Equal(t, "b-2", entries[1].ResourceID)
	require.Equal(t, "c-3", entries[2].ResourceID)

	entries, err = store.Iterate(ctx, "unknown")
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestStore_ListPasses_NewestFirst(t *testing.T) {
	t.Parallel()

	store := NewStore()
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, store.RecordPass(ctx, glossary.PassRecord{
			PassID:  string(rune('a' + i)),
			Portal:  "chicago",
			Started: base.Add(time.Duration(i) * time.Hour),
			Emitted: i,
		}))
	}

	recs, err := store.ListPasses(ctx, "chicago", 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, "c", recs[0].PassID)
	require.Equal(t, "b", recs[1].PassID)

	all, err := store.ListPasses(ctx, "chicago", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)

	require.Error(t, store.RecordPass(ctx, glossary.PassRecord{PassID: "x"}))
}

func TestStore_ListPasses_CopiesIssues(t *testing.T) {
	t.Parallel()

	store := NewStore()
	ctx := context.Background()
	require.NoError(t, store.RecordPass(ctx, glossary.PassRecord{
		PassID: "p-1",
		Portal: "chicago",
		Issues: []glossary.PassIssue{{ResourceID: "abcd", Kind: "malformed", Detail: "bad payload"}},
	}))

	recs, err := store.ListPasses(ctx, "chicago", 0)
	require.NoError(t, err)
	recs[0].Issues[0].Detail = "mutated"

	again, err := store.ListPasses(ctx, "chicago", 0)
	require.NoError(t, err)
	require.Equal(t, "bad payload", again[0].Issues[0].Detail)
}
