// Package memory provides the in-process work queue used by the archiver.
package memory

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/board-archiver/internal/archiver"
)

// ErrClosed is returned once the queue has been closed.
var ErrClosed = archiver.ErrQueueClosed

// Queue is an unbounded, time-aware queue. Dequeue hands out the earliest
// item whose ScheduledAt has passed; each item goes to exactly one caller.
type Queue struct {
	mu       sync.Mutex
	items    itemHeap
	seq      uint64
	inFlight int
	closed   bool

	wake   chan struct{}
	doneCh chan struct{}
	now    func() time.Time
}

// NewQueue builds an empty queue. A nil clock means wall time.
func NewQueue(clock archiver.Clock) *Queue {
	now := time.Now
	if clock != nil {
		now = clock.Now
	}
	return &Queue{
		wake:   make(chan struct{}, 1),
		doneCh: make(chan struct{}),
		now:    now,
	}
}

// Enqueue adds an item. It never blocks on capacity.
func (q *Queue) Enqueue(ctx context.Context, item archiver.DownloadItem) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("enqueue canceled: %w", err)
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.seq++
	heap.Push(&q.items, entry{item: item, seq: q.seq})
	q.mu.Unlock()
	q.signal()
	return nil
}

// Dequeue blocks until an item is ready, the context ends, or the queue is
// closed. The caller must call Done once it has finished with the item.
func (q *Queue) Dequeue(ctx context.Context) (archiver.DownloadItem, error) {
	for {
		item, wait, err := q.tryPop()
		if err != nil {
			return archiver.DownloadItem{}, err
		}
		if wait == 0 {
			return item, nil
		}

		var timer *time.Timer
		var timerC <-chan time.Time
		if wait > 0 {
			timer = time.NewTimer(wait)
			timerC = timer.C
		}
		select {
		case <-ctx.Done():
			stopTimer(timer)
			return archiver.DownloadItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
		case <-q.doneCh:
			stopTimer(timer)
		case <-q.wake:
			stopTimer(timer)
		case <-timerC:
		}
	}
}

// tryPop returns the ready head with wait 0, or how long to wait for the
// head (-1 when empty).
func (q *Queue) tryPop() (archiver.DownloadItem, time.Duration, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		if q.closed {
			return archiver.DownloadItem{}, 0, ErrClosed
		}
		return archiver.DownloadItem{}, -1, nil
	}
	head := q.items[0].item
	now := q.now()
	if !head.Ready(now) {
		if q.closed {
			return archiver.DownloadItem{}, 0, ErrClosed
		}
		return archiver.DownloadItem{}, head.ScheduledAt.Sub(now), nil
	}
	heap.Pop(&q.items)
	q.inFlight++
	if len(q.items) > 0 {
		// Another waiter may be sleeping on a later deadline.
		q.signalLocked()
	}
	return head, 0, nil
}

// Done releases one in-flight item.
func (q *Queue) Done() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.inFlight > 0 {
		q.inFlight--
	}
}

// Len returns the number of queued items, ready or not.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Idle reports that nothing is queued and nothing is being processed.
func (q *Queue) Idle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) == 0 && q.inFlight == 0
}

// Close wakes every waiter; queued items that are not yet ready are dropped.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.doneCh)
}

func (q *Queue) signal() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.signalLocked()
}

func (q *Queue) signalLocked() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

type entry struct {
	item archiver.DownloadItem
	seq  uint64
}

type itemHeap []entry

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	a, b := h[i].item.ScheduledAt, h[j].item.ScheduledAt
	if a.Equal(b) {
		return h[i].seq < h[j].seq
	}
	return a.Before(b)
}

func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x any) { *h = append(*h, x.(entry)) }

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}
