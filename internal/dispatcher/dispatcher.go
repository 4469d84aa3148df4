// Package dispatcher manages worker fan-out over the work queue.
package dispatcher

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/board-archiver/internal/archiver"
	"github.com/JakeFAU/board-archiver/internal/worker"
)

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	workers []*worker.Worker
}

// New creates a Dispatcher over prebuilt workers.
func New(workers []*worker.Worker) *Dispatcher {
	return &Dispatcher{workers: workers}
}

// NewPool builds n workers sharing queue and handler.
func NewPool(queue archiver.Queue, handler worker.Handler, n int, cfg worker.Config, logger *zap.Logger) *Dispatcher {
	if n < 1 {
		n = 1
	}
	workers := make([]*worker.Worker, 0, n)
	for i := range n {
		wcfg := cfg
		wcfg.ID = i
		workers = append(workers, worker.New(queue, handler, wcfg, logger))
	}
	return New(workers)
}

// Size is the number of workers.
func (d *Dispatcher) Size() int { return len(d.workers) }

// Run starts all workers and blocks until every one has stopped, which
// happens when ctx ends or the queue is closed.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	wg.Wait()
}
