package archiver

import "time"

// ItemKind names the kind of work a DownloadItem carries.
type ItemKind string

// Supported item kinds.
const (
	KindThread    ItemKind = "thread"
	KindImage     ItemKind = "image"
	KindThumbnail ItemKind = "thumbnail"
)

// Payload is the kind-specific part of a DownloadItem. The set of
// implementations is closed: ThreadFetch, ImageFetch and ThumbFetch.
type Payload interface {
	Kind() ItemKind
	sealed()
}

// ThreadFetch polls a thread and runs the incremental update.
type ThreadFetch struct{}

// Kind implements Payload.
func (ThreadFetch) Kind() ItemKind { return KindThread }
func (ThreadFetch) sealed()        {}

// ImageFetch downloads one full-resolution attachment.
type ImageFetch struct {
	Filename string
	URL      string
}

// Kind implements Payload.
func (ImageFetch) Kind() ItemKind { return KindImage }
func (ImageFetch) sealed()        {}

// ThumbFetch downloads one attachment thumbnail.
type ThumbFetch struct {
	Filename string
	URL      string
}

// Kind implements Payload.
func (ThumbFetch) Kind() ItemKind { return KindThumbnail }
func (ThumbFetch) sealed()        {}

// DownloadItem is a unit of deferred work. Only ScheduledAt changes after
// construction.
type DownloadItem struct {
	Board       string
	ThreadID    int64
	ScheduledAt time.Time
	Payload     Payload
}

// Kind reports the payload kind.
func (i DownloadItem) Kind() ItemKind {
	if i.Payload == nil {
		return ""
	}
	return i.Payload.Kind()
}

// Ready reports whether the item may run at now.
func (i DownloadItem) Ready(now time.Time) bool {
	return !i.ScheduledAt.After(now)
}

// Delay pushes the item to now+d.
func (i *DownloadItem) Delay(now time.Time, d time.Duration) {
	i.ScheduledAt = now.Add(d)
}

// ThreadState tracks one archived thread. Handle is nil until the first full
// fetch succeeds. PendingPersist is set while the last write of the thread
// artifacts failed; FailedPolls counts consecutive transport failures.
type ThreadState struct {
	Board            string
	ThreadID         int64
	Dir              string
	TotalFiles       int
	ImagesDownloaded int
	ThumbsDownloaded int
	Alive            bool
	PendingPersist   bool
	FailedPolls      int
	Handle           Thread
}

// ThreadInfo is a handle-free copy of ThreadState handed to observers.
type ThreadInfo struct {
	Board            string `json:"board"`
	ThreadID         int64  `json:"thread_id"`
	Dir              string `json:"dir"`
	TotalFiles       int    `json:"total_files"`
	ImagesDownloaded int    `json:"images_downloaded"`
	ThumbsDownloaded int    `json:"thumbs_downloaded"`
	Alive            bool   `json:"alive"`
}

// Info returns the observer snapshot of the state.
func (s ThreadState) Info() ThreadInfo {
	return ThreadInfo{
		Board:            s.Board,
		ThreadID:         s.ThreadID,
		Dir:              s.Dir,
		TotalFiles:       s.TotalFiles,
		ImagesDownloaded: s.ImagesDownloaded,
		ThumbsDownloaded: s.ThumbsDownloaded,
		Alive:            s.Alive,
	}
}

// Post is one post of a thread, the opening post included.
type Post struct {
	Num         int64
	HTMLComment string
}

// Attachment is a full-resolution file plus its thumbnail.
type Attachment struct {
	FileURL      string
	ThumbnailURL string
}

// Options steer the scheduler.
type Options struct {
	UseSSL              bool
	Silent              bool
	ThumbsOnly          bool
	SkipThumbs          bool
	SkipCSS             bool
	SkipJS              bool
	FollowChildThreads  bool
	FollowToOtherBoards bool
	RunOnce             bool
	ThreadCheckDelay    time.Duration
}

// Scheme returns the URL scheme implied by UseSSL.
func (o Options) Scheme() string {
	if o.UseSSL {
		return "https"
	}
	return "http"
}
