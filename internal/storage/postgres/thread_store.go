// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/board-archiver/internal/store"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const (
	defaultEventsTable = "thread_events"
	defaultStatusTable = "thread_status"
)

// ThreadStoreConfig controls the Postgres connection pool used for thread
// history rows.
type ThreadStoreConfig struct {
	DSN             string
	EventsTable     string
	StatusTable     string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// ThreadStore writes thread events and status rows into Postgres.
type ThreadStore struct {
	pool        execCloser
	eventsTable string
	statusTable string
}

var _ store.ThreadRepository = (*ThreadStore)(nil)

// NewThreadStore creates a Postgres-backed ThreadStore using the provided config.
func NewThreadStore(ctx context.Context, cfg ThreadStoreConfig) (*ThreadStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	events, status, err := tableNames(cfg.EventsTable, cfg.StatusTable)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &ThreadStore{pool: pool, eventsTable: events, statusTable: status}, nil
}

// NewThreadStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewThreadStoreWithPool(pool execCloser, eventsTable, statusTable string) (*ThreadStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	events, status, err := tableNames(eventsTable, statusTable)
	if err != nil {
		return nil, err
	}
	return &ThreadStore{pool: pool, eventsTable: events, statusTable: status}, nil
}

func tableNames(events, status string) (string, string, error) {
	if events == "" {
		events = defaultEventsTable
	}
	if status == "" {
		status = defaultStatusTable
	}
	for _, table := range []string{events, status} {
		if !validTableName.MatchString(table) {
			return "", "", fmt.Errorf("invalid table name %q", table)
		}
	}
	return events, status, nil
}

// Close releases the underlying pool resources.
func (s *ThreadStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// AppendEvents inserts one history row per event.
func (s *ThreadStore) AppendEvents(ctx context.Context, events []store.ThreadEvent) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("thread store is not configured")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	run_id,
	board,
	thread_id,
	kind,
	filename,
	next_download,
	replies,
	note,
	occurred_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9
)`, s.eventsTable)

	for _, evt := range events {
		if _, err := s.pool.Exec(ctx, query,
			evt.RunID,
			evt.Board,
			evt.ThreadID,
			evt.Kind,
			nullable(evt.Filename),
			evt.NextDownload,
			evt.Replies,
			nullable(evt.Note),
			evt.OccurredAt,
		); err != nil {
			return fmt.Errorf("insert thread event: %w", err)
		}
	}
	return nil
}

// UpsertStatus inserts or refreshes the latest state of a thread.
func (s *ThreadStore) UpsertStatus(ctx context.Context, status store.ThreadStatus) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("thread store is not configured")
	}
	query := fmt.Sprintf(`
INSERT INTO %[1]s (
	board,
	thread_id,
	run_id,
	dir,
	total_files,
	images_downloaded,
	thumbs_downloaded,
	alive,
	last_event,
	updated_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10
)
ON CONFLICT (board, thread_id) DO UPDATE SET
	run_id = EXCLUDED.run_id,
	dir = EXCLUDED.dir,
	total_files = EXCLUDED.total_files,
	images_downloaded = EXCLUDED.images_downloaded,
	thumbs_downloaded = EXCLUDED.thumbs_downloaded,
	alive = EXCLUDED.alive,
	last_event = EXCLUDED.last_event,
	updated_at = EXCLUDED.updated_at
WHERE %[1]s.updated_at <= EXCLUDED.updated_at`, s.statusTable)

	if _, err := s.pool.Exec(ctx, query,
		status.Board,
		status.ThreadID,
		status.RunID,
		status.Dir,
		status.TotalFiles,
		status.ImagesDownloaded,
		status.ThumbsDownloaded,
		status.Alive,
		status.LastEvent,
		status.UpdatedAt,
	); err != nil {
		return fmt.Errorf("upsert thread status: %w", err)
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
