package scheduler

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/board-archiver/internal/archiver"
	"github.com/JakeFAU/board-archiver/internal/clock/system"
	"github.com/JakeFAU/board-archiver/internal/progress"
	"github.com/JakeFAU/board-archiver/internal/storage/local"
)

var (
	testNow   = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	testDelay = 20 * time.Second
)

type fakeQueue struct {
	mu    sync.Mutex
	items []archiver.DownloadItem
	err   error
}

func (q *fakeQueue) Enqueue(_ context.Context, item archiver.DownloadItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.items = append(q.items, item)
	return nil
}

func (q *fakeQueue) Dequeue(context.Context) (archiver.DownloadItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return archiver.DownloadItem{}, errors.New("empty")
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, nil
}

func (q *fakeQueue) Done() {}

// take drains and returns everything queued so far.
func (q *fakeQueue) take() []archiver.DownloadItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}

func ofKind(items []archiver.DownloadItem, kind archiver.ItemKind) []archiver.DownloadItem {
	var out []archiver.DownloadItem
	for _, it := range items {
		if it.Kind() == kind {
			out = append(out, it)
		}
	}
	return out
}

type threadStep struct {
	replies  int
	posts    []archiver.Post
	files    []archiver.Attachment
	archived bool
	is404    bool
	err      error
}

type fakeThread struct {
	mu       sync.Mutex
	domain   string
	posts    []archiver.Post
	files    []archiver.Attachment
	doc      any
	archived bool
	is404    bool
	steps    []threadStep
}

func (f *fakeThread) script(steps ...threadStep) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.steps = append(f.steps, steps...)
}

func (f *fakeThread) Update(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.steps) == 0 {
		return 0, nil
	}
	step := f.steps[0]
	f.steps = f.steps[1:]
	if step.err != nil {
		return 0, step.err
	}
	f.posts = append(f.posts, step.posts...)
	f.files = append(f.files, step.files...)
	f.archived = step.archived
	f.is404 = step.is404
	return step.replies, nil
}

func (f *fakeThread) Archived() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.archived
}

func (f *fakeThread) Is404() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.is404
}

func (f *fakeThread) Domain() string { return f.domain }

func (f *fakeThread) Posts() []archiver.Post {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]archiver.Post(nil), f.posts...)
}

func (f *fakeThread) Files() []archiver.Attachment {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]archiver.Attachment(nil), f.files...)
}

func (f *fakeThread) JSON() any {
	if f.doc == nil {
		return map[string]any{"posts": len(f.Posts())}
	}
	return f.doc
}

// fakeSession serves every board. With existsByDefault, unknown ids pass the
// probe but cannot be fetched.
type fakeSession struct {
	mu              sync.Mutex
	threads         map[int64]*fakeThread
	probes          map[int64]int
	existsByDefault bool
	probeErr        error
	getErr          error
}

func newFakeSession() *fakeSession {
	return &fakeSession{threads: make(map[int64]*fakeThread), probes: make(map[int64]int)}
}

func (s *fakeSession) add(id int64, th *fakeThread) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threads[id] = th
}

func (s *fakeSession) remove(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.threads, id)
}

func (s *fakeSession) probeCount(id int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.probes[id]
}

func (s *fakeSession) ThreadExists(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.probes[id]++
	if s.probeErr != nil {
		return false, s.probeErr
	}
	_, ok := s.threads[id]
	return ok || s.existsByDefault, nil
}

func (s *fakeSession) GetThread(_ context.Context, id int64) (archiver.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	th, ok := s.threads[id]
	if !ok {
		return nil, archiver.ErrThreadNotFound
	}
	return th, nil
}

// countingStore counts writes per path and can be told to fail them.
type countingStore struct {
	*local.BlobStore

	mu     sync.Mutex
	puts   map[string]int
	putErr error
}

func (s *countingStore) PutObject(ctx context.Context, path, contentType string, data io.Reader) (string, error) {
	s.mu.Lock()
	s.puts[path]++
	err := s.putErr
	s.mu.Unlock()
	if err != nil {
		return "", err
	}
	return s.BlobStore.PutObject(ctx, path, contentType, data)
}

func (s *countingStore) writes(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts[path]
}

func (s *countingStore) totalWrites() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.puts {
		n += c
	}
	return n
}

func (s *countingStore) read(t *testing.T, path string) string {
	t.Helper()
	p, err := s.Resolve(path)
	require.NoError(t, err)
	b, err := os.ReadFile(p)
	require.NoError(t, err)
	return string(b)
}

type fakeDownloader struct {
	store *countingStore

	mu    sync.Mutex
	calls []string
	fail  map[string]error
}

func (d *fakeDownloader) Download(ctx context.Context, url, path string) error {
	d.mu.Lock()
	d.calls = append(d.calls, url)
	err := d.fail[url]
	d.mu.Unlock()
	if err != nil {
		return err
	}
	_, err = d.store.BlobStore.PutObject(ctx, path, "application/octet-stream", bytes.NewReader([]byte(url)))
	return err
}

func (d *fakeDownloader) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

type fakeMirror struct {
	store *countingStore

	mu   sync.Mutex
	reqs []archiver.MirrorRequest
	err  error
}

func (m *fakeMirror) MirrorPage(ctx context.Context, req archiver.MirrorRequest) error {
	m.mu.Lock()
	m.reqs = append(m.reqs, req)
	err := m.err
	m.mu.Unlock()
	if err != nil {
		return err
	}
	_, err = m.store.PutObject(ctx, req.ThreadDir+"/page.html", "text/html", bytes.NewReader([]byte("<html></html>")))
	return err
}

func (m *fakeMirror) requests() []archiver.MirrorRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]archiver.MirrorRequest(nil), m.reqs...)
}

type recorder struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recorder) Emit(evt progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recorder) all() []progress.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]progress.Event(nil), r.events...)
}

func (r *recorder) kinds() []progress.Kind {
	var out []progress.Kind
	for _, e := range r.all() {
		out = append(out, e.Kind)
	}
	return out
}

func (r *recorder) ofKind(kind progress.Kind) []progress.Event {
	var out []progress.Event
	for _, e := range r.all() {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

type harness struct {
	s        *Scheduler
	queue    *fakeQueue
	session  *fakeSession
	store    *countingStore
	dl       *fakeDownloader
	mirror   *fakeMirror
	events   *recorder
	clock    *system.Manual
	factored []string
}

func newHarness(t *testing.T, opts archiver.Options) *harness {
	t.Helper()
	if opts.ThreadCheckDelay == 0 {
		opts.ThreadCheckDelay = testDelay
	}
	blobs, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	h := &harness{
		queue:   &fakeQueue{},
		session: newFakeSession(),
		store:   &countingStore{BlobStore: blobs, puts: make(map[string]int)},
		events:  &recorder{},
		clock:   system.NewManual(testNow),
	}
	h.dl = &fakeDownloader{store: h.store, fail: make(map[string]error)}
	h.mirror = &fakeMirror{store: h.store}
	var mu sync.Mutex
	s, err := New(Config{
		Queue: h.queue,
		BoardFactory: func(board, domain string) archiver.BoardSession {
			mu.Lock()
			h.factored = append(h.factored, board+"@"+domain)
			mu.Unlock()
			return h.session
		},
		Downloader: h.dl,
		Store:      h.store,
		Mirror:     h.mirror,
		Emitter:    h.events,
		Clock:      h.clock,
		Options:    opts,
		RunID:      uuid.MustParse("01890a5d-ac96-774b-bcce-b302099a8057"),
	})
	require.NoError(t, err)
	h.s = s
	return h
}

// seed registers a thread and returns its first queued item.
func (h *harness) seed(t *testing.T, id int64, th *fakeThread) archiver.DownloadItem {
	t.Helper()
	h.session.add(id, th)
	require.True(t, h.s.AddFromInfo(context.Background(), "g", "arch.example", id))
	items := h.queue.take()
	require.Len(t, items, 1)
	return items[0]
}

// threadItem pulls the single rescheduled thread item out of items.
func threadItem(t *testing.T, items []archiver.DownloadItem) archiver.DownloadItem {
	t.Helper()
	threads := ofKind(items, archiver.KindThread)
	require.Len(t, threads, 1)
	return threads[0]
}

func (h *harness) state(t *testing.T, id int64) archiver.ThreadInfo {
	t.Helper()
	info, ok := h.s.Thread(id)
	require.True(t, ok)
	return info
}
