package scheduler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/board-archiver/internal/archiver"
	"github.com/JakeFAU/board-archiver/internal/logging"
	"github.com/JakeFAU/board-archiver/internal/progress"
	"github.com/JakeFAU/board-archiver/internal/registry"
)

// processArchivedOnFirstFetch keeps persisting a thread whose very first
// fetch already reports it archived. Its item is still not rescheduled.
const processArchivedOnFirstFetch = true

// runOnceMaxFailedPolls bounds transport retries for a thread in run-once
// mode so the run can still drain.
const runOnceMaxFailedPolls = 3

const externalLinksFile = "external_links.txt"

// outcome is what a locked update cycle hands back to updateThread.
type outcome struct {
	// settled means the item was fully handled: terminal, or rescheduled
	// without new content.
	settled  bool
	domain   string
	children []childRef
	err      error
}

func (s *Scheduler) updateThread(ctx context.Context, item archiver.DownloadItem) error {
	state, ok := s.threads.Get(item.ThreadID)
	if !ok || !state.Alive {
		s.logger.Debug("dropping item for untracked or ended thread",
			logging.Thread(item.Board, item.ThreadID)...)
		return nil
	}
	s.emit(progress.Event{Kind: progress.KindThreadStartDownload, Thread: state.Info()})

	board, ok := s.boards.Get(item.Board)
	if !ok {
		s.logger.Warn("no board session for thread", logging.Thread(item.Board, item.ThreadID)...)
		return nil
	}

	board.Lock()
	out := s.cycle(ctx, board, item, state)
	board.Unlock()

	for _, child := range out.children {
		if !s.AddFromInfo(ctx, child.board, out.domain, child.threadID) {
			continue
		}
		s.logger.Info("child thread found and now being downloaded",
			append(logging.Thread(child.board, child.threadID),
				zap.Int64("parent_thread_id", item.ThreadID))...)
	}
	if out.settled {
		return out.err
	}

	s.reschedule(ctx, item)
	return out.err
}

// cycle runs under the board lock: fetch or update the thread, settle
// terminal and unchanged threads, and persist new content.
func (s *Scheduler) cycle(
	ctx context.Context,
	board *registry.Board,
	item archiver.DownloadItem,
	state archiver.ThreadState,
) outcome {
	var (
		handle  = state.Handle
		replies int
	)
	if handle == nil {
		th, err := board.Session.GetThread(ctx, item.ThreadID)
		if err != nil {
			if errors.Is(err, archiver.ErrThreadNotFound) {
				s.end(item, progress.Kind404, archiver.ErrThreadGone)
				return outcome{settled: true}
			}
			return s.pollFailed(ctx, item, err)
		}
		handle = th
		replies = len(th.Posts())
		files := len(th.Files())
		s.threads.Update(item.ThreadID, func(st *archiver.ThreadState) {
			st.Handle = th
			st.TotalFiles = files
		})
		if th.Archived() {
			s.end(item, progress.KindArchived, archiver.ErrThreadArchived)
			if !processArchivedOnFirstFetch {
				return outcome{settled: true}
			}
		}
	} else {
		n, err := handle.Update(ctx)
		if err != nil {
			return s.pollFailed(ctx, item, err)
		}
		replies = n
		// Update reports zero new posts for a thread that 404'd, so the
		// terminal checks must run before the unchanged check. A pending
		// write is retried before the thread settles.
		switch {
		case handle.Archived():
			s.end(item, progress.KindArchived, archiver.ErrThreadArchived)
			if !state.PendingPersist {
				return outcome{settled: true}
			}
		case handle.Is404():
			s.end(item, progress.Kind404, archiver.ErrThreadGone)
			if !state.PendingPersist {
				return outcome{settled: true}
			}
		case replies < 1 && !state.PendingPersist:
			s.reschedule(ctx, item)
			return outcome{settled: true}
		}
		files := len(handle.Files())
		s.threads.Update(item.ThreadID, func(st *archiver.ThreadState) { st.TotalFiles = files })
	}

	children, err := s.persist(ctx, item, handle, replies)
	s.threads.Update(item.ThreadID, func(st *archiver.ThreadState) {
		st.PendingPersist = err != nil
		st.FailedPolls = 0
	})
	return outcome{domain: handle.Domain(), children: children, err: err}
}

// pollFailed treats a failed fetch like an unchanged thread: the item waits
// one interval and tries again. In run-once mode a thread is only retired
// after runOnceMaxFailedPolls consecutive failures.
func (s *Scheduler) pollFailed(ctx context.Context, item archiver.DownloadItem, err error) outcome {
	state, _ := s.threads.Update(item.ThreadID, func(st *archiver.ThreadState) { st.FailedPolls++ })
	s.logger.Warn("thread poll failed",
		append(logging.Thread(item.Board, item.ThreadID),
			zap.Int("failed_polls", state.FailedPolls), zap.Error(err))...)
	s.requeue(ctx, item, s.opts.RunOnce && state.FailedPolls >= runOnceMaxFailedPolls)
	return outcome{settled: true}
}

// end marks the thread dead and reports why.
func (s *Scheduler) end(item archiver.DownloadItem, kind progress.Kind, reason error) {
	state, ok := s.threads.Update(item.ThreadID, func(st *archiver.ThreadState) { st.Alive = false })
	if !ok {
		return
	}
	msg := "thread has been archived"
	if kind == progress.Kind404 {
		msg = "thread 404'd"
	}
	s.logger.Info(msg, append(logging.Thread(item.Board, item.ThreadID), zap.Error(reason))...)
	s.emit(progress.Event{Kind: kind, Thread: state.Info(), Note: reason.Error()})
}

// reschedule re-enqueues a live thread one interval from now, or retires it
// in run-once mode, and reports the outcome as thread_dl.
func (s *Scheduler) reschedule(ctx context.Context, item archiver.DownloadItem) {
	s.requeue(ctx, item, s.opts.RunOnce)
}

func (s *Scheduler) requeue(ctx context.Context, item archiver.DownloadItem, retire bool) {
	var next *time.Time
	state, ok := s.threads.Update(item.ThreadID, func(st *archiver.ThreadState) {
		if retire {
			st.Alive = false
		}
	})
	if !ok {
		return
	}
	if state.Alive {
		item.Delay(s.clock.Now(), s.opts.ThreadCheckDelay)
		if err := s.queue.Enqueue(ctx, item); err != nil {
			s.logger.Warn("thread not rescheduled",
				append(logging.Thread(item.Board, item.ThreadID), zap.Error(err))...)
		} else {
			at := item.ScheduledAt
			next = &at
		}
	}
	s.emit(progress.Event{Kind: progress.KindThreadDownloaded, Thread: state.Info(), NextDownload: next})
}

// persist writes the thread artifacts and queues its media. Children found
// in the replies are returned, not added, so the caller can register them
// outside the board lock.
func (s *Scheduler) persist(
	ctx context.Context,
	item archiver.DownloadItem,
	th archiver.Thread,
	replies int,
) ([]childRef, error) {
	logFields := logging.Thread(item.Board, item.ThreadID)
	if !s.opts.Silent && replies > 0 {
		s.logger.Info("new replies", append(logFields, zap.Int("replies", replies))...)
	}

	dir := threadDir(item.Board, item.ThreadID)
	if _, err := s.store.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", archiver.ErrPersistence, dir, err)
	}

	posts := th.Posts()
	links := externalLinks(posts)
	var children []childRef
	if s.opts.FollowChildThreads {
		children = s.childThreads(posts, item)
	}

	var errs []error
	var buf bytes.Buffer
	for _, link := range links {
		buf.WriteString(link)
		buf.WriteByte('\n')
	}
	if err := s.put(ctx, path.Join(dir, externalLinksFile), "text/plain; charset=utf-8", buf.Bytes()); err != nil {
		errs = append(errs, err)
	}

	snapshot, err := encodeSnapshot(th.JSON())
	if err != nil {
		errs = append(errs, fmt.Errorf("%w: encode thread %d: %w", archiver.ErrPersistence, item.ThreadID, err))
	} else if err := s.put(ctx, path.Join(dir, strconv.FormatInt(item.ThreadID, 10)+".json"),
		"application/json", snapshot); err != nil {
		errs = append(errs, err)
	}

	files := th.Files()
	if s.mirror != nil {
		err := s.mirror.MirrorPage(ctx, archiver.MirrorRequest{
			PageURL:   archiver.ThreadPageURL(s.opts.Scheme(), th.Domain(), item.Board, item.ThreadID),
			Domain:    th.Domain(),
			ThreadDir: dir,
			ThreadID:  item.ThreadID,
			HasFiles:  len(files) > 0,
			SkipCSS:   s.opts.SkipCSS,
			SkipJS:    s.opts.SkipJS,
		})
		switch {
		case errors.Is(err, archiver.ErrPersistence):
			errs = append(errs, err)
		case err != nil:
			s.logger.Warn("thread page could not be mirrored", append(logFields, zap.Error(err))...)
		}
	}

	if err := s.queueFiles(ctx, item, files); err != nil {
		errs = append(errs, err)
	}
	return children, errors.Join(errs...)
}

func (s *Scheduler) put(ctx context.Context, name, contentType string, data []byte) error {
	if _, err := s.store.PutObject(ctx, name, contentType, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("%w: write %s: %w", archiver.ErrPersistence, name, err)
	}
	return nil
}

// queueFiles enqueues an image and a thumbnail item per attachment. Items
// for files already on disk are cheap no-ops at dispatch time.
func (s *Scheduler) queueFiles(ctx context.Context, item archiver.DownloadItem, files []archiver.Attachment) error {
	now := s.clock.Now()
	for _, f := range files {
		var payloads []archiver.Payload
		if f.FileURL != "" {
			payloads = append(payloads, archiver.ImageFetch{Filename: archiver.FileName(f.FileURL), URL: f.FileURL})
		}
		if f.ThumbnailURL != "" {
			payloads = append(payloads, archiver.ThumbFetch{
				Filename: archiver.FileName(f.ThumbnailURL),
				URL:      f.ThumbnailURL,
			})
		}
		for _, p := range payloads {
			err := s.queue.Enqueue(ctx, archiver.DownloadItem{
				Board:       item.Board,
				ThreadID:    item.ThreadID,
				ScheduledAt: now,
				Payload:     p,
			})
			if err != nil {
				return fmt.Errorf("queue %s for thread %d: %w", p.Kind(), item.ThreadID, err)
			}
		}
	}
	return nil
}
