package scheduler

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/board-archiver/internal/archiver"
	"github.com/JakeFAU/board-archiver/internal/clock/system"
	"github.com/JakeFAU/board-archiver/internal/logging"
	"github.com/JakeFAU/board-archiver/internal/progress"
	"github.com/JakeFAU/board-archiver/internal/registry"
)

const nonexistentReason = "either the thread already 404'd, the URL is incorrect, " +
	"or the archive is unreachable"

// Config wires a Scheduler. Queue, BoardFactory, Downloader and Store are
// required.
type Config struct {
	Queue        archiver.Queue
	BoardFactory archiver.BoardFactory
	Downloader   archiver.Downloader
	Store        archiver.FileStore
	// Mirror saves the HTML page; nil disables page mirroring.
	Mirror  archiver.PageMirror
	Emitter progress.Emitter
	Clock   archiver.Clock
	Options archiver.Options
	RunID   uuid.UUID
	Logger  *zap.Logger

	// Threads and Boards default to fresh registries.
	Threads *registry.Threads
	Boards  *registry.Boards
}

// Scheduler implements thread registration and item dispatch.
type Scheduler struct {
	queue      archiver.Queue
	factory    archiver.BoardFactory
	downloader archiver.Downloader
	store      archiver.FileStore
	mirror     archiver.PageMirror
	emitter    progress.Emitter
	clock      archiver.Clock
	opts       archiver.Options
	runID      [16]byte
	logger     *zap.Logger

	threads *registry.Threads
	boards  *registry.Boards
}

// New validates cfg and returns a Scheduler.
func New(cfg Config) (*Scheduler, error) {
	switch {
	case cfg.Queue == nil:
		return nil, errors.New("scheduler: queue is required")
	case cfg.BoardFactory == nil:
		return nil, errors.New("scheduler: board factory is required")
	case cfg.Downloader == nil:
		return nil, errors.New("scheduler: downloader is required")
	case cfg.Store == nil:
		return nil, errors.New("scheduler: file store is required")
	case cfg.Options.ThreadCheckDelay <= 0:
		return nil, errors.New("scheduler: thread check delay must be positive")
	}
	if cfg.Emitter == nil {
		cfg.Emitter = progress.Nop{}
	}
	if cfg.Clock == nil {
		cfg.Clock = system.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Threads == nil {
		cfg.Threads = registry.NewThreads()
	}
	if cfg.Boards == nil {
		cfg.Boards = registry.NewBoards()
	}
	if cfg.RunID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("scheduler: run id: %w", err)
		}
		cfg.RunID = id
	}
	return &Scheduler{
		queue:      cfg.Queue,
		factory:    cfg.BoardFactory,
		downloader: cfg.Downloader,
		store:      cfg.Store,
		mirror:     cfg.Mirror,
		emitter:    cfg.Emitter,
		clock:      cfg.Clock,
		opts:       cfg.Options,
		runID:      progress.UUIDToBytes(cfg.RunID),
		logger:     cfg.Logger,
		threads:    cfg.Threads,
		boards:     cfg.Boards,
	}, nil
}

// AddThread registers the thread behind rawURL and queues its first poll.
// It reports false for malformed URLs, threads already tracked and threads
// the archive does not know.
func (s *Scheduler) AddThread(ctx context.Context, rawURL string) bool {
	_, err := s.Track(ctx, rawURL)
	return err == nil
}

// Track is AddThread with the failure reason: archiver.ErrInvalidURL,
// archiver.ErrThreadTracked or archiver.ErrThreadNotFound.
func (s *Scheduler) Track(ctx context.Context, rawURL string) (archiver.ThreadRef, error) {
	ref, err := archiver.ParseThreadURL(rawURL, s.opts.UseSSL)
	if err != nil {
		s.logger.Warn("rejected thread url", zap.String("url", rawURL), zap.Error(err))
		return archiver.ThreadRef{}, err
	}
	if err := s.add(ctx, ref.Board, ref.Domain, ref.ThreadID); err != nil {
		return ref, err
	}
	return ref, nil
}

// AddFromInfo registers a thread by its parts. It is the dedup guard shared
// by seeds and discovered children.
func (s *Scheduler) AddFromInfo(ctx context.Context, board, domain string, threadID int64) bool {
	return s.add(ctx, board, domain, threadID) == nil
}

func (s *Scheduler) add(ctx context.Context, boardName, domain string, threadID int64) error {
	if s.threads.Has(threadID) {
		return fmt.Errorf("%w: %d", archiver.ErrThreadTracked, threadID)
	}

	board, _ := s.boards.GetOrCreate(boardName, func() archiver.BoardSession {
		return s.factory(boardName, domain)
	})

	board.Lock()
	exists, err := board.Session.ThreadExists(ctx, threadID)
	board.Unlock()
	if err != nil || !exists {
		fields := append(logging.Thread(boardName, threadID),
			zap.String("domain", domain),
			zap.String("reason", nonexistentReason))
		if err != nil {
			fields = append(fields, zap.Error(err))
		}
		s.logger.Info("thread does not exist", fields...)
		if err != nil {
			return fmt.Errorf("%w: /%s/%d: %w", archiver.ErrThreadNotFound, boardName, threadID, err)
		}
		return fmt.Errorf("%w: /%s/%d", archiver.ErrThreadNotFound, boardName, threadID)
	}

	state, created := s.threads.GetOrCreate(threadID, func() archiver.ThreadState {
		return archiver.ThreadState{
			Board: boardName,
			Dir:   threadDir(boardName, threadID),
			Alive: true,
		}
	})
	if !created {
		return fmt.Errorf("%w: %d", archiver.ErrThreadTracked, threadID)
	}
	s.emit(progress.Event{Kind: progress.KindNewThread, Thread: state.Info()})

	item := archiver.DownloadItem{
		Board:       boardName,
		ThreadID:    threadID,
		ScheduledAt: s.clock.Now(),
		Payload:     archiver.ThreadFetch{},
	}
	if err := s.queue.Enqueue(ctx, item); err != nil {
		s.threads.Update(threadID, func(st *archiver.ThreadState) { st.Alive = false })
		return fmt.Errorf("queue thread %d: %w", threadID, err)
	}
	return nil
}

// Threads lists every tracked thread ordered by id.
func (s *Scheduler) Threads() []archiver.ThreadInfo {
	return s.threads.Snapshot()
}

// Thread returns one tracked thread.
func (s *Scheduler) Thread(threadID int64) (archiver.ThreadInfo, bool) {
	state, ok := s.threads.Get(threadID)
	if !ok {
		return archiver.ThreadInfo{}, false
	}
	return state.Info(), true
}

func (s *Scheduler) emit(evt progress.Event) {
	evt.RunID = s.runID
	evt.TS = s.clock.Now()
	s.emitter.Emit(evt)
}

func threadDir(board string, threadID int64) string {
	return path.Join(board, strconv.FormatInt(threadID, 10))
}
