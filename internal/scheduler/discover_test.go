package scheduler

import (
	"context"
	"strings"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/board-archiver/internal/archiver"
	"github.com/JakeFAU/board-archiver/internal/progress"
)

func parentWithChildren() *fakeThread {
	return &fakeThread{
		domain: "arch.example",
		posts: []archiver.Post{
			{Num: 100, HTMLComment: `continued in <a href="/g/thread/200#p200" class="quotelink">&gt;&gt;&gt;/g/200</a>`},
			{Num: 101, HTMLComment: `<a href="/g/thread/200">again</a> and <a href="/a/res/300">elsewhere</a>`},
			{Num: 102, HTMLComment: `<a href="/g/thread/400" class="backlink">&gt;&gt;400</a> <a href="/g/thread/100">self</a>`},
		},
	}
}

func TestChildThreadsAreAddedOnce(t *testing.T) {
	t.Parallel()

	h := newHarness(t, archiver.Options{FollowChildThreads: true})
	for _, id := range []int64{200, 300, 400} {
		h.session.add(id, &fakeThread{domain: "arch.example"})
	}
	parent := parentWithChildren()
	item := h.seed(t, 100, parent)

	require.NoError(t, h.s.Dispatch(context.Background(), item))

	var ids []int64
	for _, info := range h.s.Threads() {
		ids = append(ids, info.ThreadID)
	}
	require.Equal(t, []int64{100, 200}, ids, "other boards and backlinks are not followed")
	require.Len(t, h.events.ofKind(progress.KindNewThread), 2)

	queued := ofKind(h.queue.take(), archiver.KindThread)
	require.Len(t, queued, 2)
	require.Equal(t, int64(200), queued[0].ThreadID, "children are queued before the parent is rescheduled")
	require.Equal(t, testNow, queued[0].ScheduledAt)

	parent.script(threadStep{replies: 1, posts: []archiver.Post{{Num: 103, HTMLComment: `<a href="/g/thread/200">third mention</a>`}}})
	require.NoError(t, h.s.Dispatch(context.Background(), queued[1]))
	require.Len(t, h.s.Threads(), 2)
	require.Len(t, h.events.ofKind(progress.KindNewThread), 2)
	require.Equal(t, 1, h.session.probeCount(200))
}

func TestChildThreadsAcrossBoards(t *testing.T) {
	t.Parallel()

	h := newHarness(t, archiver.Options{FollowChildThreads: true, FollowToOtherBoards: true})
	for _, id := range []int64{200, 300} {
		h.session.add(id, &fakeThread{domain: "arch.example"})
	}
	item := h.seed(t, 100, parentWithChildren())

	require.NoError(t, h.s.Dispatch(context.Background(), item))

	require.Len(t, h.s.Threads(), 3)
	info := h.state(t, 300)
	require.Equal(t, "a", info.Board)
	require.Equal(t, "a/300", info.Dir)
	require.Contains(t, h.factored, "a@arch.example")
}

func TestChildThreadsIgnoredWhenFollowingIsOff(t *testing.T) {
	t.Parallel()

	h := newHarness(t, archiver.Options{})
	h.session.add(200, &fakeThread{domain: "arch.example"})
	item := h.seed(t, 100, parentWithChildren())

	require.NoError(t, h.s.Dispatch(context.Background(), item))
	require.Len(t, h.s.Threads(), 1)
}

func TestChildThreadThatDoesNotExistIsSkipped(t *testing.T) {
	t.Parallel()

	h := newHarness(t, archiver.Options{FollowChildThreads: true})
	item := h.seed(t, 100, parentWithChildren())

	require.NoError(t, h.s.Dispatch(context.Background(), item))
	require.Len(t, h.s.Threads(), 1)
	require.Equal(t, 1, h.session.probeCount(200))
}

func TestCleanComment(t *testing.T) {
	t.Parallel()

	in := `https://exa<wbr>mple.org/long<WBR/>path <a href="/g/thread/1#p2" class="backlink" data-post="2">&gt;&gt;2</a>tail`
	require.Equal(t, `https://example.org/longpath tail`, cleanComment(in))
}

func TestExternalLinksDeduplicatesInOrder(t *testing.T) {
	t.Parallel()

	links := externalLinks([]archiver.Post{
		{HTMLComment: "b https://b.example.com/ then https://a.example.com/x"},
		{},
		{HTMLComment: "again https://b.example.com/"},
	})
	require.Equal(t, []string{"https://b.example.com/", "https://a.example.com/x"}, links)
}

func TestSnapshotFormatting(t *testing.T) {
	t.Parallel()

	var doc map[string]any
	dec := json.NewDecoder(strings.NewReader(`{"b":1,"a":{"z":"x<y","c":[1.50,null]},"0":true}`))
	dec.UseNumber()
	require.NoError(t, dec.Decode(&doc))

	got, err := encodeSnapshot(doc)
	require.NoError(t, err)
	want := `{
    "0": true,
    "a": {
        "c": [
            1.50,
            null
        ],
        "z": "x<y"
    },
    "b": 1
}`
	require.Equal(t, want, string(got))

	var back map[string]any
	require.NoError(t, json.Unmarshal(got, &back))
	require.Len(t, back, 3)
	require.Contains(t, back, "a")
}
