package archiver

import (
	"context"
	"io"
	"time"
)

// BoardSession talks to one board of the data source.
type BoardSession interface {
	// ThreadExists is a point-in-time probe, cheaper in intent than GetThread.
	ThreadExists(ctx context.Context, threadID int64) (bool, error)
	GetThread(ctx context.Context, threadID int64) (Thread, error)
}

// BoardFactory builds the session for a board the first time it is seen.
type BoardFactory func(board, domain string) BoardSession

// Thread is the live view of a remote thread.
type Thread interface {
	// Update refreshes the thread and returns how many posts are new since the
	// previous fetch. It sets Archived/Is404 as a side effect.
	Update(ctx context.Context) (int, error)
	Archived() bool
	Is404() bool
	Domain() string
	Posts() []Post
	Files() []Attachment
	// JSON returns the structured snapshot persisted next to the page.
	JSON() any
}

// Downloader is the file download primitive.
type Downloader interface {
	Download(ctx context.Context, url string, path string) error
}

// Queue is the time-aware work queue consumed by workers.
type Queue interface {
	Enqueue(ctx context.Context, item DownloadItem) error
	Dequeue(ctx context.Context) (DownloadItem, error)
	Done()
}

// FileStore persists thread artifacts under the archive root. Paths are
// relative to that root.
type FileStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
	Exists(path string) bool
	// Resolve maps a relative path to its location on disk.
	Resolve(path string) (string, error)
	// EnsureDir creates the directory and its parents.
	EnsureDir(path string) (string, error)
}

// PageMirror saves the rendered thread page and its assets.
type PageMirror interface {
	MirrorPage(ctx context.Context, req MirrorRequest) error
}

// MirrorRequest describes one page to mirror.
type MirrorRequest struct {
	PageURL   string
	Domain    string
	ThreadDir string
	ThreadID  int64
	HasFiles  bool
	SkipCSS   bool
	SkipJS    bool
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
