package fuuka

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/board-archiver/internal/archiver"
	collyfetcher "github.com/JakeFAU/board-archiver/internal/fetcher/colly"
)

const threadEndpoint = "/_/api/chan/thread/"

// Getter performs HTTP GETs.
type Getter interface {
	Get(ctx context.Context, url string) (collyfetcher.Response, error)
}

// Board is the session for one board on one FoolFuuka host.
type Board struct {
	name   string
	domain string
	scheme string
	getter Getter
	logger *zap.Logger
}

var _ archiver.BoardSession = (*Board)(nil)

// NewBoard builds a session for board on domain.
func NewBoard(getter Getter, scheme, domain, board string, logger *zap.Logger) *Board {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Board{name: board, domain: domain, scheme: scheme, getter: getter, logger: logger}
}

// Factory returns an archiver.BoardFactory producing FoolFuuka sessions.
func Factory(getter Getter, scheme string, logger *zap.Logger) archiver.BoardFactory {
	return func(board, domain string) archiver.BoardSession {
		return NewBoard(getter, scheme, domain, board, logger)
	}
}

// Name returns the board name.
func (b *Board) Name() string { return b.name }

// ThreadURL is the API endpoint for threadID.
func (b *Board) ThreadURL(threadID int64) string {
	q := url.Values{}
	q.Set("board", b.name)
	q.Set("num", strconv.FormatInt(threadID, 10))
	return fmt.Sprintf("%s://%s%s?%s", b.scheme, b.domain, threadEndpoint, q.Encode())
}

// ThreadExists probes the API. A 404 or an API error object means absent;
// transport failures are returned as errors.
func (b *Board) ThreadExists(ctx context.Context, threadID int64) (bool, error) {
	_, found, err := b.fetch(ctx, threadID)
	if err != nil {
		return false, err
	}
	return found, nil
}

// GetThread fetches the full thread.
func (b *Board) GetThread(ctx context.Context, threadID int64) (archiver.Thread, error) {
	snap, found, err := b.fetch(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: /%s/%d on %s", archiver.ErrThreadNotFound, b.name, threadID, b.domain)
	}
	t := &Thread{board: b, id: threadID, seen: make(map[postKey]struct{})}
	t.apply(snap)
	return t, nil
}

func (b *Board) fetch(ctx context.Context, threadID int64) (snapshot, bool, error) {
	endpoint := b.ThreadURL(threadID)
	resp, err := b.getter.Get(ctx, endpoint)
	if err != nil {
		if collyfetcher.IsNotFound(err) {
			return snapshot{}, false, nil
		}
		return snapshot{}, false, fmt.Errorf("fetch thread %d: %w", threadID, err)
	}
	snap, found, err := decodeThread(resp.Body, threadID)
	if err != nil {
		return snapshot{}, false, err
	}
	if !found {
		b.logger.Debug("thread endpoint reported no thread",
			zap.String("board", b.name), zap.Int64("thread_id", threadID))
	}
	return snap, found, nil
}

// Thread is a live FoolFuuka thread. It is safe for concurrent use.
type Thread struct {
	board *Board
	id    int64

	mu       sync.RWMutex
	snap     snapshot
	seen     map[postKey]struct{}
	is404    bool
	archived bool
}

var _ archiver.Thread = (*Thread)(nil)

// apply installs snap and returns how many of its posts were not seen before.
func (t *Thread) apply(snap snapshot) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	fresh := 0
	for _, k := range snap.keys {
		if _, ok := t.seen[k]; !ok {
			t.seen[k] = struct{}{}
			fresh++
		}
	}
	t.snap = snap
	t.archived = snap.archived
	return fresh
}

// Update re-fetches the thread and returns the number of new posts. A thread
// that disappeared is flagged Is404 and reports zero new posts.
func (t *Thread) Update(ctx context.Context) (int, error) {
	snap, found, err := t.board.fetch(ctx, t.id)
	if err != nil {
		return 0, err
	}
	if !found {
		t.mu.Lock()
		t.is404 = true
		t.mu.Unlock()
		return 0, nil
	}
	return t.apply(snap), nil
}

// Archived reports whether the archive marked the thread expired or locked.
func (t *Thread) Archived() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.archived
}

// Is404 reports whether the last Update found the thread gone.
func (t *Thread) Is404() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.is404
}

// Domain is the host the thread was read from.
func (t *Thread) Domain() string { return t.board.domain }

// Posts returns the opening post followed by replies in post order.
func (t *Thread) Posts() []archiver.Post {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]archiver.Post(nil), t.snap.posts...)
}

// Files returns every attachment in post order.
func (t *Thread) Files() []archiver.Attachment {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]archiver.Attachment(nil), t.snap.files...)
}

// JSON returns the decoded API document of the last successful fetch.
func (t *Thread) JSON() any {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snap.raw
}
