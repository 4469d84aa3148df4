package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ThreadEvent is one row of the status history.
type ThreadEvent struct {
	RunID    uuid.UUID
	Board    string
	ThreadID int64
	Kind     string
	// Filename is set for media downloads.
	Filename string
	// NextDownload is set when a poll rescheduled the thread.
	NextDownload *time.Time
	Replies      int
	Note         string
	OccurredAt   time.Time
}

// ThreadStatus is the latest known state of a thread.
type ThreadStatus struct {
	RunID            uuid.UUID
	Board            string
	ThreadID         int64
	Dir              string
	TotalFiles       int
	ImagesDownloaded int
	ThumbsDownloaded int
	Alive            bool
	LastEvent        string
	UpdatedAt        time.Time
}

// ThreadRepository persists thread status history.
type ThreadRepository interface {
	// AppendEvents inserts history rows in order.
	AppendEvents(ctx context.Context, events []ThreadEvent) error
	// UpsertStatus records the latest state of one thread, keyed by board
	// and thread id. Older updates must not overwrite newer ones.
	UpsertStatus(ctx context.Context, status ThreadStatus) error
}
