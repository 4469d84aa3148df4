package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/board-archiver/internal/progress"
)

// PrometheusSink exports archiver status as Prometheus metrics.
type PrometheusSink struct {
	events        *prometheus.CounterVec
	threadsActive prometheus.Gauge
	threadsEnded  *prometheus.CounterVec
	files         *prometheus.CounterVec
	polls         *prometheus.CounterVec
	replies       prometheus.Counter

	tracker *threadTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "archiver_status_events_total",
			Help: "Status events partitioned by kind.",
		}, []string{"kind"}),
		threadsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "archiver_threads_active",
			Help: "Threads currently tracked and alive.",
		}),
		threadsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "archiver_threads_ended_total",
			Help: "Threads that stopped being polled, partitioned by reason.",
		}, []string{"reason"}),
		files: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "archiver_files_downloaded_total",
			Help: "Media files written, partitioned by board and kind.",
		}, []string{"board", "kind"}),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "archiver_thread_polls_total",
			Help: "Completed thread polls, partitioned by whether new replies arrived.",
		}, []string{"result"}),
		replies: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "archiver_replies_seen_total",
			Help: "New replies observed across all polls.",
		}),
		tracker: newThreadTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.events,
		s.threadsActive,
		s.threadsEnded,
		s.files,
		s.polls,
		s.replies,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register status collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	s.events.WithLabelValues(string(evt.Kind)).Inc()
	id := evt.Thread.ThreadID
	switch evt.Kind {
	case progress.KindNewThread:
		if s.tracker.start(id) {
			s.threadsActive.Inc()
		}
	case progress.KindImageDownloaded:
		s.files.WithLabelValues(evt.Thread.Board, "image").Inc()
	case progress.KindThumbDownloaded:
		s.files.WithLabelValues(evt.Thread.Board, "thumbnail").Inc()
	case progress.KindArchived:
		s.end(id, "archived")
	case progress.Kind404:
		s.end(id, "404")
	case progress.KindThreadDownloaded:
		if evt.Replies > 0 {
			s.polls.WithLabelValues("new_replies").Inc()
			s.replies.Add(float64(evt.Replies))
		} else {
			s.polls.WithLabelValues("unchanged").Inc()
		}
		if !evt.Thread.Alive {
			s.end(id, "stopped")
		}
	}
}

func (s *PrometheusSink) end(id int64, reason string) {
	if s.tracker.complete(id) {
		s.threadsActive.Dec()
		s.threadsEnded.WithLabelValues(reason).Inc()
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type threadTracker struct {
	mu     sync.Mutex
	active map[int64]struct{}
}

func newThreadTracker() *threadTracker {
	return &threadTracker{active: make(map[int64]struct{})}
}

func (t *threadTracker) start(id int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.active[id]; ok {
		return false
	}
	t.active[id] = struct{}{}
	return true
}

func (t *threadTracker) complete(id int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.active[id]; !ok {
		return false
	}
	delete(t.active, id)
	return true
}
