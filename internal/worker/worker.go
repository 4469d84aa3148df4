// Package worker implements the loop that drains the work queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/board-archiver/internal/archiver"
	"github.com/JakeFAU/board-archiver/internal/logging"
	"github.com/JakeFAU/board-archiver/internal/metrics"
)

const defaultErrorBackoff = 500 * time.Millisecond

// Handler runs one dequeued item.
type Handler interface {
	Dispatch(ctx context.Context, item archiver.DownloadItem) error
}

// Config controls Worker behavior.
type Config struct {
	ID int
	// ErrorBackoff is the pause after a failed dequeue.
	ErrorBackoff time.Duration
}

// Worker consumes queue items and hands them to the handler.
type Worker struct {
	queue   archiver.Queue
	handler Handler
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Worker.
func New(queue archiver.Queue, handler Handler, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = defaultErrorBackoff
	}
	return &Worker{
		queue:   queue,
		handler: handler,
		cfg:     cfg,
		logger:  logger.With(zap.Int("worker", cfg.ID)),
	}
}

// Run blocks, consuming queue items until the context finishes or the queue
// is closed.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, archiver.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.cfg.ErrorBackoff):
			}
			continue
		}
		w.process(ctx, item)
	}
}

// process dispatches one item and always marks it done. A panicking handler
// costs the item, not the worker.
func (w *Worker) process(ctx context.Context, item archiver.DownloadItem) {
	defer w.queue.Done()
	defer metrics.WorkerBusy()()
	fields := append(logging.Thread(item.Board, item.ThreadID), zap.String("kind", string(item.Kind())))
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("dispatch panicked", append(fields, zap.Any("panic", r))...)
		}
	}()

	w.logger.Debug("dequeued item", fields...)
	if err := w.handler.Dispatch(ctx, item); err != nil {
		w.logger.Error("dispatch failed", append(fields, zap.Error(fmt.Errorf("item %s: %w", item.Kind(), err)))...)
	}
}
