package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/urban-physiology/glossarizer/internal/glossary"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewStoreWithPool(mock, "", "")
	require.NoError(t, err)
	return store, mock
}

func TestNewStoreWithPool_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewStoreWithPool(nil, "", "")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewStoreWithPool(mock, "crawl state; DROP TABLE", "")
	require.Error(t, err)

	store, err := NewStoreWithPool(mock, "", "")
	require.NoError(t, err)
	require.Equal(t, "crawl_state", store.stateTable)
	require.Equal(t, "pass_log", store.passTable)
}

func TestStore_EnsureSchema_CreatesTables(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS crawl_state").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS pass_log").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS pass_log_portal_started").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Put_UpsertsRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()

	entry := glossary.StateEntry{
		Portal:      "chicago",
		ResourceID:  "abcd-1234",
		Hash:        "deadbeef",
		Signal:      "2024-05-01T00:00:00Z",
		LastSuccess: now,
		Failures:    0,
		Descriptor:  json.RawMessage(`{"id":"abcd-1234"}`),
		UpdatedAt:   now,
	}

	mock.ExpectExec("INSERT INTO crawl_state").
		WithArgs(
			entry.Portal,
			entry.ResourceID,
			entry.Hash,
			entry.Signal,
			&now,
			entry.Failures,
			entry.LastError,
			[]byte(entry.Descriptor),
			entry.UpdatedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Put(context.Background(), entry))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Put_NullsZeroLastSuccess(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()

	entry := glossary.StateEntry{
		Portal:     "chicago",
		ResourceID: "abcd-1234",
		Failures:   3,
		LastError:  "unreachable",
		UpdatedAt:  now,
	}

	mock.ExpectExec("INSERT INTO crawl_state").
		WithArgs(
			entry.Portal,
			entry.ResourceID,
			"",
			"",
			(*time.Time)(nil),
			entry.Failures,
			entry.LastError,
			[]byte(nil),
			entry.UpdatedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Put(context.Background(), entry))
	require.NoError(t, mock.ExpectationsWereMet())

	require.Error(t, store.Put(context.Background(), glossary.StateEntry{Portal: "chicago"}))
}

func TestStore_Get_ReturnsEntry(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	lastSuccess := time.Unix(1700000000, 0).UTC()
	updated := time.Unix(1700003600, 0).UTC()

	rows := pgxmock.NewRows([]string{
		"portal", "resource_id", "hash", "signal", "last_success",
		"failures", "last_error", "descriptor", "updated_at",
	}).AddRow(
		"chicago", "abcd-1234", "deadbeef", "sig-1", &lastSuccess,
		2, "rate limited", []byte(`{"id":"abcd-1234"}`), updated,
	)
	mock.ExpectQuery("SELECT (.+) FROM crawl_state").
		WithArgs("chicago", "abcd-1234").
		WillReturnRows(rows)

	entry, err := store.Get(context.Background(), "chicago", "abcd-1234")
	require.NoError(t, err)
	require.Equal(t, "chicago", entry.Portal)
	require.Equal(t, "abcd-1234", entry.ResourceID)
	require.Equal(t, "deadbeef", entry.Hash)
	require.Equal(t, "sig-1", entry.Signal)
	require.Equal(t, lastSuccess, entry.LastSuccess)
	require.Equal(t, 2, entry.Failures)
	require.Equal(t, "rate limited", entry.LastError)
	require.JSONEq(t, `{"id":"abcd-1234"}`, string(entry.Descriptor))
	require.Equal(t, updated, entry.UpdatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Get_MapsNoRowsToNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT (.+) FROM crawl_state").
		WithArgs("chicago", "missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.Get(context.Background(), "chicago", "missing")
	require.ErrorIs(t, err, glossary.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Iterate_ScansAllRows(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	updated := time.Unix(1700000000, 0).UTC()

	rows := pgxmock.NewRows([]string{
		"portal", "resource_id", "hash", "signal", "last_success",
		"failures", "last_error", "descriptor", "updated_at",
	}).
		AddRow("chicago", "a-1", "h1", "", (*time.Time)(nil), 0, "", []byte(nil), updated).
		AddRow("chicago", "b-2", "h2", "", &updated, 1, "unreachable", []byte(`{"id":"b-2"}`), updated)
	mock.ExpectQuery("SELECT (.+) FROM crawl_state").
		WithArgs("chicago").
		WillReturnRows(rows)

	entries, err := store.Iterate(context.Background(), "chicago")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "a-1", entries[0].ResourceID)
	require.True(t, entries[0].LastSuccess.IsZero())
	require.Nil(t, entries[0].Descriptor)
	require.Equal(t, "b-2", entries[1].ResourceID)
	require.Equal(t, updated, entries[1].LastSuccess)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_RecordPass_InsertsRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	started := time.Unix(1700000000, 0).UTC()
	finished := started.Add(10 * time.Minute)

	rec := glossary.PassRecord{
		PassID:   "pass-1",
		Portal:   "chicago",
		Started:  started,
		Finished: finished,
		Emitted:  12,
		Cached:   3,
		Degraded: 1,
		Failed:   2,
		Issues: []glossary.PassIssue{
			{ResourceID: "a-1", Kind: "malformed", Detail: "bad payload", Occurred: started},
		},
		ErrorText: "",
	}
	issuesJSON, err := json.Marshal(rec.Issues)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO pass_log").
		WithArgs(
			rec.PassID,
			rec.Portal,
			rec.Started,
			rec.Finished,
			rec.Emitted,
			rec.Cached,
			rec.Degraded,
			rec.Failed,
			issuesJSON,
			rec.ErrorText,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.RecordPass(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())

	require.Error(t, store.RecordPass(context.Background(), glossary.PassRecord{Portal: "chicago"}))
}

func TestStore_ListPasses_AppliesLimit(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	started := time.Unix(1700000000, 0).UTC()

	rows := pgxmock.NewRows([]string{
		"pass_id", "portal", "started_at", "finished_at", "emitted",
		"cached", "degraded", "failed", "issues", "error_text",
	}).AddRow(
		"pass-2", "chicago", started.Add(time.Hour), started.Add(time.Hour+time.Minute), 4,
		1, 0, 0, []byte(`[{"resource_id":"a-1","kind":"unreachable","detail":"timeout","occurred_at":"2023-11-14T22:13:20Z"}]`), "",
	)
	mock.ExpectQuery("SELECT (.+) FROM pass_log").
		WithArgs("chicago", 5).
		WillReturnRows(rows)

	recs, err := store.ListPasses(context.Background(), "chicago", 5)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, "pass-2", recs[0].PassID)
	require.Equal(t, 4, recs[0].Emitted)
	require.Len(t, recs[0].Issues, 1)
	require.Equal(t, "timeout", recs[0].Issues[0].Detail)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ListPasses_NoLimitReturnsAll(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	started := time.Unix(1700000000, 0).UTC()

	rows := pgxmock.NewRows([]string{
		"pass_id", "portal", "started_at", "finished_at", "emitted",
		"cached", "degraded", "failed", "issues", "error_text",
	}).
		AddRow("pass-2", "chicago", started.Add(time.Hour), started.Add(2*time.Hour), 1, 0, 0, 0, []byte(nil), "").
		AddRow("pass-1", "chicago", started, started.Add(time.Minute), 2, 0, 0, 1, []byte(nil), "listing failed")
	mock.ExpectQuery("SELECT (.+) FROM pass_log").
		WithArgs("chicago").
		WillReturnRows(rows)

	recs, err := store.ListPasses(context.Background(), "chicago", 0)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, "pass-2", recs[0].PassID)
	require.Equal(t, "listing failed", recs[1].ErrorText)
	require.Nil(t, recs[0].Issues)
	require.NoError(t, mock.ExpectationsWereMet())
}
