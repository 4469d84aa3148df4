package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/board-archiver/internal/progress"
	"github.com/JakeFAU/board-archiver/internal/store"
)

// StoreSink persists status history via a store.ThreadRepository. Every event
// becomes a history row; the status table only sees the newest state of each
// thread in the batch.
type StoreSink struct {
	repo   store.ThreadRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.ThreadRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume forwards the batch to the repository. It respects ctx deadlines and
// returns any repository errors wrapped.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil || len(batch) == 0 {
		return nil
	}
	events := make([]store.ThreadEvent, 0, len(batch))
	latest := make(map[threadKey]store.ThreadStatus)
	var order []threadKey

	for _, evt := range batch {
		events = append(events, store.ThreadEvent{
			RunID:        evt.RunUUID(),
			Board:        evt.Thread.Board,
			ThreadID:     evt.Thread.ThreadID,
			Kind:         string(evt.Kind),
			Filename:     evt.Filename,
			NextDownload: evt.NextDownload,
			Replies:      evt.Replies,
			Note:         evt.Note,
			OccurredAt:   evt.TS,
		})

		key := threadKey{board: evt.Thread.Board, id: evt.Thread.ThreadID}
		prev, seen := latest[key]
		if !seen {
			order = append(order, key)
		} else if evt.TS.Before(prev.UpdatedAt) {
			continue
		}
		latest[key] = store.ThreadStatus{
			RunID:            evt.RunUUID(),
			Board:            evt.Thread.Board,
			ThreadID:         evt.Thread.ThreadID,
			Dir:              evt.Thread.Dir,
			TotalFiles:       evt.Thread.TotalFiles,
			ImagesDownloaded: evt.Thread.ImagesDownloaded,
			ThumbsDownloaded: evt.Thread.ThumbsDownloaded,
			Alive:            evt.Thread.Alive,
			LastEvent:        string(evt.Kind),
			UpdatedAt:        evt.TS,
		}
	}

	if err := s.repo.AppendEvents(ctx, events); err != nil {
		return fmt.Errorf("append thread events: %w", err)
	}
	for _, key := range order {
		if err := s.repo.UpsertStatus(ctx, latest[key]); err != nil {
			return fmt.Errorf("upsert thread status: %w", err)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}

type threadKey struct {
	board string
	id    int64
}
