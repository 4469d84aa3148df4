package registry

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/JakeFAU/board-archiver/internal/archiver"
)

func TestThreadsGetOrCreateOnce(t *testing.T) {
	t.Parallel()

	reg := NewThreads()
	var built atomic.Int32
	var created atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok := reg.GetOrCreate(42, func() archiver.ThreadState {
				built.Add(1)
				return archiver.ThreadState{Board: "g", Alive: true}
			})
			if ok {
				created.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), built.Load())
	require.Equal(t, int32(1), created.Load())
	require.Equal(t, 1, reg.Len())
	state, ok := reg.Get(42)
	require.True(t, ok)
	require.Equal(t, int64(42), state.ThreadID)
}

func TestThreadsUpdateIsGuarded(t *testing.T) {
	t.Parallel()

	reg := NewThreads()
	reg.GetOrCreate(7, func() archiver.ThreadState { return archiver.ThreadState{Alive: true} })

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reg.Update(7, func(s *archiver.ThreadState) { s.ImagesDownloaded++ })
		}()
	}
	wg.Wait()

	state, _ := reg.Get(7)
	require.Equal(t, 100, state.ImagesDownloaded)

	_, ok := reg.Update(8, func(*archiver.ThreadState) { t.Fatal("unexpected update of unknown thread") })
	require.False(t, ok)
}

func TestThreadsSnapshotSortedCopies(t *testing.T) {
	t.Parallel()

	reg := NewThreads()
	for _, id := range []int64{30, 10, 20} {
		reg.GetOrCreate(id, func() archiver.ThreadState { return archiver.ThreadState{Board: "a"} })
	}
	snap := reg.Snapshot()
	require.Len(t, snap, 3)
	require.Equal(t, []int64{10, 20, 30}, []int64{snap[0].ThreadID, snap[1].ThreadID, snap[2].ThreadID})
	require.True(t, reg.Has(20))
	require.False(t, reg.Has(40))
}

func TestThreadsNeverDuplicate(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(rt *rapid.T) {
		ids := rapid.SliceOf(rapid.Int64Range(1, 20)).Draw(rt, "ids")
		reg := NewThreads()
		unique := make(map[int64]struct{})
		for _, id := range ids {
			_, created := reg.GetOrCreate(id, func() archiver.ThreadState { return archiver.ThreadState{} })
			_, seen := unique[id]
			if created == seen {
				rt.Fatalf("id %d: created=%v but seen=%v", id, created, seen)
			}
			unique[id] = struct{}{}
		}
		if reg.Len() != len(unique) {
			rt.Fatalf("registry has %d entries, want %d", reg.Len(), len(unique))
		}
	})
}

func TestBoardsLazySingleSession(t *testing.T) {
	t.Parallel()

	reg := NewBoards()
	var built atomic.Int32
	factory := func() archiver.BoardSession {
		built.Add(1)
		return stubSession{}
	}

	var wg sync.WaitGroup
	boards := make([]*Board, 16)
	for i := range boards {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			boards[i], _ = reg.GetOrCreate("g", factory)
		}(i)
	}
	wg.Wait()

	require.Equal(t, int32(1), built.Load())
	for _, b := range boards {
		require.Same(t, boards[0], b)
	}
	other, created := reg.GetOrCreate("a", factory)
	require.True(t, created)
	require.NotSame(t, boards[0], other)
	require.Equal(t, 2, reg.Len())
	_, ok := reg.Get("v")
	require.False(t, ok)
}

type stubSession struct{}

func (stubSession) ThreadExists(context.Context, int64) (bool, error) { return true, nil }

func (stubSession) GetThread(context.Context, int64) (archiver.Thread, error) { return nil, nil }
