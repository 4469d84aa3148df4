package scheduler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/board-archiver/internal/archiver"
	"github.com/JakeFAU/board-archiver/internal/progress"
)

func imageItem() archiver.DownloadItem {
	return archiver.DownloadItem{
		Board: "g", ThreadID: 100, ScheduledAt: testNow,
		Payload: archiver.ImageFetch{Filename: "1.png", URL: firstAttachment().FileURL},
	}
}

func thumbItem() archiver.DownloadItem {
	return archiver.DownloadItem{
		Board: "g", ThreadID: 100, ScheduledAt: testNow,
		Payload: archiver.ThumbFetch{Filename: "1s.jpg", URL: firstAttachment().ThumbnailURL},
	}
}

func TestDispatchDownloadsFilesOnce(t *testing.T) {
	t.Parallel()

	h := newHarness(t, archiver.Options{})
	h.seed(t, 100, newThread())
	h.events.reset()

	require.NoError(t, h.s.Dispatch(context.Background(), imageItem()))
	require.NoError(t, h.s.Dispatch(context.Background(), thumbItem()))
	require.True(t, h.store.Exists("g/100/images/1.png"))
	require.True(t, h.store.Exists("g/100/thumbs/1s.jpg"))

	info := h.state(t, 100)
	require.Equal(t, 1, info.ImagesDownloaded)
	require.Equal(t, 1, info.ThumbsDownloaded)

	events := h.events.all()
	require.Len(t, events, 2)
	require.Equal(t, progress.KindImageDownloaded, events[0].Kind)
	require.Equal(t, "1.png", events[0].Filename)
	require.Equal(t, progress.KindThumbDownloaded, events[1].Kind)
	require.Equal(t, "1s.jpg", events[1].Filename)
	require.NoError(t, events[0].Validate())

	// Already on disk: nothing fetched, nothing counted.
	require.NoError(t, h.s.Dispatch(context.Background(), imageItem()))
	require.Equal(t, 2, h.dl.callCount())
	require.Equal(t, 1, h.state(t, 100).ImagesDownloaded)
	require.Len(t, h.events.all(), 2)
}

func TestDispatchHonorsSkipOptions(t *testing.T) {
	t.Parallel()

	t.Run("thumbs only", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, archiver.Options{ThumbsOnly: true})
		h.seed(t, 100, newThread())

		require.NoError(t, h.s.Dispatch(context.Background(), imageItem()))
		require.NoError(t, h.s.Dispatch(context.Background(), thumbItem()))
		require.False(t, h.store.Exists("g/100/images/1.png"))
		require.True(t, h.store.Exists("g/100/thumbs/1s.jpg"))
		require.Equal(t, 1, h.dl.callCount())
	})

	t.Run("skip thumbs", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, archiver.Options{SkipThumbs: true})
		h.seed(t, 100, newThread())

		require.NoError(t, h.s.Dispatch(context.Background(), imageItem()))
		require.NoError(t, h.s.Dispatch(context.Background(), thumbItem()))
		require.True(t, h.store.Exists("g/100/images/1.png"))
		require.False(t, h.store.Exists("g/100/thumbs/1s.jpg"))
		require.Zero(t, h.state(t, 100).ThumbsDownloaded)
	})
}

func TestDispatchSwallowsDownloadFailures(t *testing.T) {
	t.Parallel()

	h := newHarness(t, archiver.Options{})
	h.seed(t, 100, newThread())
	h.events.reset()
	h.dl.fail[firstAttachment().FileURL] = errors.New("status 502")

	require.NoError(t, h.s.Dispatch(context.Background(), imageItem()))
	require.Zero(t, h.state(t, 100).ImagesDownloaded)
	require.Empty(t, h.events.all())
	require.Empty(t, h.queue.take(), "failed files are not retried by the queue")

	delete(h.dl.fail, firstAttachment().FileURL)
	require.NoError(t, h.s.Dispatch(context.Background(), imageItem()))
	require.Equal(t, 1, h.state(t, 100).ImagesDownloaded)
}

func TestDispatchDropsFilesOfUnknownThreads(t *testing.T) {
	t.Parallel()

	h := newHarness(t, archiver.Options{})
	require.NoError(t, h.s.Dispatch(context.Background(), imageItem()))
	require.Zero(t, h.dl.callCount())
}

func TestDispatchRejectsUnknownPayload(t *testing.T) {
	t.Parallel()

	h := newHarness(t, archiver.Options{})
	require.Error(t, h.s.Dispatch(context.Background(), archiver.DownloadItem{Board: "g", ThreadID: 1}))
}
