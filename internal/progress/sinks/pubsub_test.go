package sinks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/board-archiver/internal/progress"
	"github.com/JakeFAU/board-archiver/internal/publisher/memory"
)

func TestPubSubSinkPublishesThreadEvents(t *testing.T) {
	t.Parallel()

	pub := memory.New()
	sink := NewPubSubSink(pub, false, nil)
	run := progress.UUIDToBytes(uuid.New())

	next := time.Now().Add(20 * time.Second)
	poll := testEvent(run, progress.KindThreadDownloaded, 7, true)
	poll.NextDownload = &next
	img := testEvent(run, progress.KindImageDownloaded, 7, true)
	img.Filename = "1.png"

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		testEvent(run, progress.KindNewThread, 7, true),
		img,
		poll,
	}))

	msgs := pub.Messages()
	require.Len(t, msgs, 2, "downloads are skipped by default")
	require.Equal(t, "new_thread", msgs[0].Attributes["kind"])
	require.Equal(t, "7", msgs[0].Attributes["thread_id"])

	body, ok := msgs[1].Payload.(StatusMessage)
	require.True(t, ok)
	require.Equal(t, "thread_dl", body.Kind)
	require.NotNil(t, body.NextDownload)
	require.Equal(t, uuid.UUID(run).String(), body.RunID)
}

func TestPubSubSinkIncludeDownloadsAndErrors(t *testing.T) {
	t.Parallel()

	pub := memory.New()
	sink := NewPubSubSink(pub, true, nil)
	run := progress.UUIDToBytes(uuid.New())
	thumb := testEvent(run, progress.KindThumbDownloaded, 7, true)
	thumb.Filename = "1s.jpg"

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{thumb}))
	require.Len(t, pub.Messages(), 1)

	pub.FailWith(errors.New("unavailable"))
	err := sink.Consume(context.Background(), []progress.Event{thumb, thumb})
	require.ErrorContains(t, err, "unavailable")
}
