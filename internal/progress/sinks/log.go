package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/board-archiver/internal/progress"
)

// LogSink writes every status event as a debug log line.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunUUID().String()),
			zap.String("kind", string(evt.Kind)),
			zap.String("board", evt.Thread.Board),
			zap.Int64("thread_id", evt.Thread.ThreadID),
			zap.Int("total_files", evt.Thread.TotalFiles),
			zap.Int("images_downloaded", evt.Thread.ImagesDownloaded),
			zap.Int("thumbs_downloaded", evt.Thread.ThumbsDownloaded),
			zap.Bool("alive", evt.Thread.Alive),
		}
		if evt.Filename != "" {
			fields = append(fields, zap.String("filename", evt.Filename))
		}
		if evt.NextDownload != nil {
			fields = append(fields, zap.Time("next_dl", *evt.NextDownload))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Debug("status event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
