package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/board-archiver/internal/store"
)

func TestAppendEventsInsertsRows(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ts, err := NewThreadStoreWithPool(mock, "thread_events", "thread_status")
	require.NoError(t, err)

	runID := uuid.New()
	now := time.Unix(1700000000, 0).UTC()
	next := now.Add(20 * time.Second)
	events := []store.ThreadEvent{
		{RunID: runID, Board: "g", ThreadID: 100, Kind: "image_dl", Filename: "1.png", OccurredAt: now},
		{RunID: runID, Board: "g", ThreadID: 100, Kind: "thread_dl", NextDownload: &next, Replies: 3, OccurredAt: now},
	}

	first := "1.png"
	mock.ExpectExec("INSERT INTO thread_events").
		WithArgs(runID, "g", int64(100), "image_dl", &first, (*time.Time)(nil), 0, (*string)(nil), now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO thread_events").
		WithArgs(runID, "g", int64(100), "thread_dl", (*string)(nil), &next, 3, (*string)(nil), now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, ts.AppendEvents(context.Background(), events))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendEventsStopsOnError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ts, err := NewThreadStoreWithPool(mock, "", "")
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO thread_events").
		WillReturnError(errors.New("connection reset"))

	err = ts.AppendEvents(context.Background(), []store.ThreadEvent{
		{RunID: uuid.New(), Board: "g", ThreadID: 1, Kind: "new_thread", OccurredAt: time.Now()},
		{RunID: uuid.New(), Board: "g", ThreadID: 2, Kind: "new_thread", OccurredAt: time.Now()},
	})
	require.ErrorContains(t, err, "insert thread event")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertStatus(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ts, err := NewThreadStoreWithPool(mock, "thread_events", "thread_status")
	require.NoError(t, err)

	status := store.ThreadStatus{
		RunID:            uuid.New(),
		Board:            "g",
		ThreadID:         100,
		Dir:              "archive/g/100",
		TotalFiles:       4,
		ImagesDownloaded: 2,
		ThumbsDownloaded: 4,
		Alive:            true,
		LastEvent:        "thumb_dl",
		UpdatedAt:        time.Unix(1700000000, 0).UTC(),
	}
	mock.ExpectExec(`(?s)INSERT INTO thread_status.*ON CONFLICT \(board, thread_id\) DO UPDATE`).
		WithArgs(status.Board, status.ThreadID, status.RunID, status.Dir, 4, 2, 4, true, "thumb_dl", status.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, ts.UpsertStatus(context.Background(), status))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestThreadStoreRejectsBadTables(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewThreadStoreWithPool(mock, "events; DROP TABLE x", "")
	require.ErrorContains(t, err, "invalid table name")

	_, err = NewThreadStoreWithPool(nil, "", "")
	require.Error(t, err)

	_, err = NewThreadStore(context.Background(), ThreadStoreConfig{})
	require.ErrorContains(t, err, "db.dsn")
}
