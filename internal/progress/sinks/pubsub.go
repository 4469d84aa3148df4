package sinks

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/board-archiver/internal/progress"
)

// Publisher is the subset of a message bus client the PubSubSink needs.
type Publisher interface {
	Publish(ctx context.Context, payload any, attrs map[string]string) (string, error)
}

// StatusMessage is the JSON body published for each event.
type StatusMessage struct {
	RunID            string     `json:"run_id"`
	TS               time.Time  `json:"ts"`
	Kind             string     `json:"kind"`
	Board            string     `json:"board"`
	ThreadID         int64      `json:"thread_id"`
	Filename         string     `json:"filename,omitempty"`
	NextDownload     *time.Time `json:"next_dl"`
	Replies          int        `json:"replies,omitempty"`
	TotalFiles       int        `json:"total_files"`
	ImagesDownloaded int        `json:"images_downloaded"`
	ThumbsDownloaded int        `json:"thumbs_downloaded"`
	Alive            bool       `json:"alive"`
}

// PubSubSink publishes one message per status event. Media download events
// are skipped unless IncludeDownloads is set, since they dominate volume.
type PubSubSink struct {
	pub              Publisher
	logger           *zap.Logger
	includeDownloads bool
}

// NewPubSubSink wires a publisher to the sink interface.
func NewPubSubSink(pub Publisher, includeDownloads bool, logger *zap.Logger) *PubSubSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PubSubSink{pub: pub, logger: logger, includeDownloads: includeDownloads}
}

// Consume publishes the batch. A failed publish does not stop the rest of the
// batch; all failures are joined into the returned error.
func (s *PubSubSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.pub == nil {
		return nil
	}
	var errs []error
	published := 0
	for _, evt := range batch {
		if !s.includeDownloads && (evt.Kind == progress.KindImageDownloaded || evt.Kind == progress.KindThumbDownloaded) {
			continue
		}
		attrs := map[string]string{
			"kind":      string(evt.Kind),
			"board":     evt.Thread.Board,
			"thread_id": strconv.FormatInt(evt.Thread.ThreadID, 10),
		}
		if _, err := s.pub.Publish(ctx, toMessage(evt), attrs); err != nil {
			errs = append(errs, fmt.Errorf("publish %s for %d: %w", evt.Kind, evt.Thread.ThreadID, err))
			continue
		}
		published++
	}
	s.logger.Debug("published status events", zap.Int("published", published), zap.Int("failed", len(errs)))
	return errors.Join(errs...)
}

// Close implements the Sink interface; it performs no action.
func (s *PubSubSink) Close(context.Context) error {
	return nil
}

func toMessage(evt progress.Event) StatusMessage {
	return StatusMessage{
		RunID:            evt.RunUUID().String(),
		TS:               evt.TS.UTC(),
		Kind:             string(evt.Kind),
		Board:            evt.Thread.Board,
		ThreadID:         evt.Thread.ThreadID,
		Filename:         evt.Filename,
		NextDownload:     evt.NextDownload,
		Replies:          evt.Replies,
		TotalFiles:       evt.Thread.TotalFiles,
		ImagesDownloaded: evt.Thread.ImagesDownloaded,
		ThumbsDownloaded: evt.Thread.ThumbsDownloaded,
		Alive:            evt.Thread.Alive,
	}
}
