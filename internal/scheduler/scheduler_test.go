package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/JakeFAU/board-archiver/internal/archiver"
	"github.com/JakeFAU/board-archiver/internal/progress"
)

func TestNewRequiresCollaborators(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.Error(t, err)

	h := newHarness(t, archiver.Options{})
	_, err = New(Config{
		Queue:        h.queue,
		BoardFactory: func(string, string) archiver.BoardSession { return h.session },
		Downloader:   h.dl,
		Store:        h.store,
	})
	require.ErrorContains(t, err, "thread check delay")
}

func TestAddThreadSeedScenario(t *testing.T) {
	t.Parallel()

	h := newHarness(t, archiver.Options{UseSSL: true})
	h.session.add(12345, &fakeThread{domain: "boards.4chan.org"})

	require.True(t, h.s.AddThread(context.Background(), "https://boards.4chan.org/g/thread/12345"))

	events := h.events.all()
	require.Len(t, events, 1)
	require.Equal(t, progress.KindNewThread, events[0].Kind)
	require.Equal(t, "g", events[0].Thread.Board)
	require.Equal(t, int64(12345), events[0].Thread.ThreadID)
	require.True(t, events[0].Thread.Alive)
	require.Equal(t, "g/12345", events[0].Thread.Dir)
	require.NoError(t, events[0].Validate())

	items := h.queue.take()
	require.Len(t, items, 1)
	require.Equal(t, archiver.DownloadItem{
		Board:       "g",
		ThreadID:    12345,
		ScheduledAt: testNow,
		Payload:     archiver.ThreadFetch{},
	}, items[0])
	require.Equal(t, []string{"g@boards.4chan.org"}, h.factored)
}

func TestAddThreadIsIdempotent(t *testing.T) {
	t.Parallel()

	h := newHarness(t, archiver.Options{UseSSL: true})
	h.session.add(12345, &fakeThread{})

	require.True(t, h.s.AddThread(context.Background(), "boards.4chan.org/g/thread/12345"))
	require.False(t, h.s.AddThread(context.Background(), "https://boards.4chan.org/g/thread/12345/"))

	_, err := h.s.Track(context.Background(), "https://boards.4chan.org/g/thread/12345")
	require.ErrorIs(t, err, archiver.ErrThreadTracked)

	require.Len(t, h.s.Threads(), 1)
	require.Len(t, h.events.ofKind(progress.KindNewThread), 1)
	require.Len(t, h.queue.take(), 1)
	require.Equal(t, 1, h.session.probeCount(12345), "tracked threads are not probed again")
}

func TestAddThreadProbeFailureLeavesRegistryUnchanged(t *testing.T) {
	t.Parallel()

	h := newHarness(t, archiver.Options{})
	before := len(h.s.Threads())

	ref, err := h.s.Track(context.Background(), "https://arch.example/g/thread/777")
	require.ErrorIs(t, err, archiver.ErrThreadNotFound)
	require.Equal(t, int64(777), ref.ThreadID)
	require.False(t, h.s.AddThread(context.Background(), "https://arch.example/g/thread/777"))

	h.session.probeErr = errors.New("connection refused")
	require.False(t, h.s.AddThread(context.Background(), "https://arch.example/g/thread/778"))

	require.Len(t, h.s.Threads(), before)
	require.Empty(t, h.events.all())
	require.Empty(t, h.queue.take())
}

func TestAddThreadRejectsMalformedURLs(t *testing.T) {
	t.Parallel()

	h := newHarness(t, archiver.Options{})
	h.session.existsByDefault = true
	for _, raw := range []string{
		"",
		"https://arch.example/g/",
		"https://arch.example/g/thread/abc",
		"https://arch.example/g/thread/1/extra",
		"ftp://arch.example/g/thread/1",
	} {
		_, err := h.s.Track(context.Background(), raw)
		require.ErrorIs(t, err, archiver.ErrInvalidURL, raw)
	}
	require.Empty(t, h.s.Threads())
	require.Empty(t, h.factored)
}

func TestAddThreadIdempotentProperty(t *testing.T) {
	t.Parallel()

	h := newHarness(t, archiver.Options{UseSSL: true})
	h.session.existsByDefault = true
	tracked := make(map[int64]bool)

	rapid.Check(t, func(rt *rapid.T) {
		board := rapid.StringMatching(`[a-z]{1,4}`).Draw(rt, "board")
		id := rapid.Int64Range(1, 1<<40).Draw(rt, "id")
		raw := fmt.Sprintf("https://boards.4chan.org/%s/thread/%d", board, id)

		ref, err := h.s.Track(context.Background(), raw)
		if tracked[id] {
			if !errors.Is(err, archiver.ErrThreadTracked) {
				rt.Fatalf("re-adding %d: %v", id, err)
			}
		} else if err != nil {
			rt.Fatalf("adding %s: %v", raw, err)
		}
		if ref.Board != board || ref.ThreadID != id {
			rt.Fatalf("parsed %+v from %s", ref, raw)
		}
		tracked[id] = true
		if h.s.AddThread(context.Background(), raw) {
			rt.Fatalf("second add of %s succeeded", raw)
		}

		created := 0
		for _, e := range h.events.ofKind(progress.KindNewThread) {
			if e.Thread.ThreadID == id {
				created++
			}
		}
		if created != 1 {
			rt.Fatalf("thread %d announced %d times", id, created)
		}
	})
	require.Len(t, h.s.Threads(), len(tracked))
}

func TestAddFromInfoConcurrentCreatorsYieldOneState(t *testing.T) {
	t.Parallel()

	h := newHarness(t, archiver.Options{})
	h.session.add(42, &fakeThread{})

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if h.s.AddFromInfo(context.Background(), "g", "arch.example", 42) {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), wins.Load())
	require.Len(t, h.events.ofKind(progress.KindNewThread), 1)
	require.Len(t, h.queue.take(), 1)
}

func TestAddFromInfoEnqueueFailureRetiresThread(t *testing.T) {
	t.Parallel()

	h := newHarness(t, archiver.Options{})
	h.session.add(5, &fakeThread{})
	h.queue.err = errors.New("queue closed")

	require.False(t, h.s.AddFromInfo(context.Background(), "g", "arch.example", 5))
	info := h.state(t, 5)
	require.False(t, info.Alive)
}
