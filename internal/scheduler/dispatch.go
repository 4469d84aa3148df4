package scheduler

import (
	"context"
	"fmt"
	"path"

	"go.uber.org/zap"

	"github.com/JakeFAU/board-archiver/internal/archiver"
	"github.com/JakeFAU/board-archiver/internal/logging"
	"github.com/JakeFAU/board-archiver/internal/progress"
)

const (
	imagesDir = "images"
	thumbsDir = "thumbs"
)

// Dispatch runs one dequeued item. Only persistence failures are returned;
// terminal thread states and failed file downloads are logged and reported
// as status events instead.
func (s *Scheduler) Dispatch(ctx context.Context, item archiver.DownloadItem) error {
	switch p := item.Payload.(type) {
	case archiver.ThreadFetch:
		return s.updateThread(ctx, item)
	case archiver.ImageFetch:
		if s.opts.ThumbsOnly {
			return nil
		}
		return s.fetchFile(ctx, item, fileJob{
			filename: p.Filename,
			url:      p.URL,
			dir:      imagesDir,
			kind:     progress.KindImageDownloaded,
		})
	case archiver.ThumbFetch:
		if s.opts.SkipThumbs {
			return nil
		}
		return s.fetchFile(ctx, item, fileJob{
			filename: p.Filename,
			url:      p.URL,
			dir:      thumbsDir,
			kind:     progress.KindThumbDownloaded,
		})
	default:
		return fmt.Errorf("dispatch: unsupported payload %T", item.Payload)
	}
}

type fileJob struct {
	filename string
	url      string
	dir      string
	kind     progress.Kind
}

func (s *Scheduler) fetchFile(ctx context.Context, item archiver.DownloadItem, job fileJob) error {
	if job.url == "" || !validFilename(job.filename) {
		return nil
	}
	if !s.threads.Has(item.ThreadID) {
		s.logger.Debug("file for untracked thread dropped", logging.Thread(item.Board, item.ThreadID)...)
		return nil
	}
	dir := path.Join(threadDir(item.Board, item.ThreadID), job.dir)
	target := path.Join(dir, job.filename)
	if s.store.Exists(target) {
		return nil
	}
	if _, err := s.store.EnsureDir(dir); err != nil {
		return fmt.Errorf("%w: %s: %w", archiver.ErrPersistence, dir, err)
	}
	if err := s.downloader.Download(ctx, job.url, target); err != nil {
		s.logger.Debug("file download failed",
			append(logging.Thread(item.Board, item.ThreadID),
				zap.String("url", job.url), zap.Error(err))...)
		return nil
	}

	state, ok := s.threads.Update(item.ThreadID, func(st *archiver.ThreadState) {
		if job.kind == progress.KindImageDownloaded {
			st.ImagesDownloaded++
		} else {
			st.ThumbsDownloaded++
		}
	})
	if !ok {
		return nil
	}
	s.emit(progress.Event{Kind: job.kind, Thread: state.Info(), Filename: job.filename})
	if !s.opts.Silent {
		msg := "image downloaded"
		if job.kind == progress.KindThumbDownloaded {
			msg = "thumbnail downloaded"
		}
		s.logger.Info(msg, append(logging.Thread(item.Board, item.ThreadID),
			zap.String("filename", job.filename))...)
	}
	return nil
}

func validFilename(name string) bool {
	return name != "" && name != "." && name != "/" && name != ".."
}
