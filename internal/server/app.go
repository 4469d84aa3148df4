// Package server builds the archiver's dependency graph and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/board-archiver/internal/api"
	"github.com/JakeFAU/board-archiver/internal/clock/system"
	"github.com/JakeFAU/board-archiver/internal/config"
	"github.com/JakeFAU/board-archiver/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/board-archiver/internal/fetcher/colly"
	"github.com/JakeFAU/board-archiver/internal/fuuka"
	"github.com/JakeFAU/board-archiver/internal/id/uuid"
	"github.com/JakeFAU/board-archiver/internal/metrics"
	"github.com/JakeFAU/board-archiver/internal/mirror"
	"github.com/JakeFAU/board-archiver/internal/policy/ratelimit"
	"github.com/JakeFAU/board-archiver/internal/progress"
	progresssinks "github.com/JakeFAU/board-archiver/internal/progress/sinks"
	gcppublisher "github.com/JakeFAU/board-archiver/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/board-archiver/internal/queue/memory"
	"github.com/JakeFAU/board-archiver/internal/scheduler"
	localstorage "github.com/JakeFAU/board-archiver/internal/storage/local"
	pgstore "github.com/JakeFAU/board-archiver/internal/storage/postgres"
	"github.com/JakeFAU/board-archiver/internal/worker"
)

const (
	idlePollInterval = 250 * time.Millisecond
	shutdownTimeout  = 10 * time.Second
)

// App contains the application's dependencies.
type App struct {
	cfg         config.Config
	logger      *zap.Logger
	queue       *queueMemory.Queue
	scheduler   *scheduler.Scheduler
	dispatch    *dispatcher.Dispatcher
	apiServer   *api.Server
	progressHub *progress.Hub
	publisher   *gcppublisher.Publisher
	threadStore *pgstore.ThreadStore
}

// Option customizes Build.
type Option func(*buildOptions)

type buildOptions struct {
	registerer prometheus.Registerer
	gatherer   prometheus.Gatherer
}

// WithRegistry registers status collectors on reg and serves it on /metrics
// instead of the default registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *buildOptions) {
		o.registerer = reg
		o.gatherer = reg
	}
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	bo := buildOptions{registerer: prometheus.DefaultRegisterer, gatherer: prometheus.DefaultGatherer}
	for _, opt := range opts {
		opt(&bo)
	}
	app := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies",
		zap.String("base_dir", cfg.Archiver.BaseDir),
		zap.Int("workers", cfg.Archiver.Workers),
		zap.Bool("run_once", cfg.Archiver.RunOnce),
	)

	metrics.Init()

	store, err := localstorage.New(localstorage.Config{BaseDir: cfg.Archiver.BaseDir})
	if err != nil {
		return nil, fmt.Errorf("local blob store init failed: %w", err)
	}

	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.HTTP.PerHostRPS,
		DefaultBurst: cfg.HTTP.PerHostBurst,
		OnWait:       metrics.ObserveRateLimitWait,
		Logger:       logger.Named("ratelimit"),
	})
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.HTTP.UserAgent,
		RespectRobots: cfg.HTTP.RespectRobots,
		Timeout:       cfg.HTTPTimeout(),
		Limiter:       limiter,
		Logger:        logger.Named("fetcher"),
	}, store)
	logger.Info("using colly fetcher",
		zap.String("user_agent", cfg.HTTP.UserAgent),
		zap.Float64("per_host_rps", cfg.HTTP.PerHostRPS),
	)

	emitter, err := app.setupProgress(ctx, bo.registerer)
	if err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}

	archiveOpts := cfg.Options()
	clock := system.New()
	runID, err := uuid.New().NewRunID()
	if err != nil {
		app.closeInfrastructure(ctx)
		return nil, fmt.Errorf("run id: %w", err)
	}

	pageMirror := mirror.New(mirror.Config{
		Getter:     fetcher,
		Downloader: fetcher,
		Store:      store,
		Scheme:     archiveOpts.Scheme(),
		Logger:     logger.Named("mirror"),
	})
	app.queue = queueMemory.NewQueue(clock)
	app.scheduler, err = scheduler.New(scheduler.Config{
		Queue:        app.queue,
		BoardFactory: fuuka.Factory(fetcher, archiveOpts.Scheme(), logger.Named("fuuka")),
		Downloader:   fetcher,
		Store:        store,
		Mirror:       pageMirror,
		Emitter:      emitter,
		Clock:        clock,
		Options:      archiveOpts,
		RunID:        runID,
		Logger:       logger.Named("scheduler"),
	})
	if err != nil {
		app.closeInfrastructure(ctx)
		return nil, fmt.Errorf("scheduler init failed: %w", err)
	}

	app.dispatch = dispatcher.NewPool(app.queue, app.scheduler, cfg.Archiver.Workers,
		worker.Config{}, logger.Named("worker"))

	if cfg.Server.Enabled {
		app.apiServer = api.NewServer(app.scheduler, api.Config{
			Gatherer: bo.gatherer,
			Logger:   logger.Named("api"),
		})
	}
	logger.Info("application built", zap.String("run_id", runID.String()))
	return app, nil
}

func (a *App) setupProgress(ctx context.Context, reg prometheus.Registerer) (progress.Emitter, error) {
	sinkList := []progress.Sink{progresssinks.NewLogSink(a.logger.Named("progress_log"))}

	promSink, err := progresssinks.NewPrometheusSink(reg)
	if err != nil {
		return nil, fmt.Errorf("prometheus sink init failed: %w", err)
	}
	sinkList = append(sinkList, promSink)

	if a.cfg.DB.DSN != "" {
		a.threadStore, err = pgstore.NewThreadStore(ctx, pgstore.ThreadStoreConfig{
			DSN:         a.cfg.DB.DSN,
			EventsTable: a.cfg.DB.Table,
			StatusTable: a.cfg.DB.StatusTable,
		})
		if err != nil {
			return nil, fmt.Errorf("thread store init failed: %w", err)
		}
		sinkList = append(sinkList, progresssinks.NewStoreSink(a.threadStore, a.logger.Named("progress_store")))
		a.logger.Info("thread store initialized", zap.String("table", a.cfg.DB.Table))
	} else {
		a.logger.Debug("no DSN specified, skipping thread store")
	}

	if a.cfg.PubSub.ProjectID != "" {
		a.publisher, err = gcppublisher.New(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.TopicName)
		if err != nil {
			return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		sinkList = append(sinkList, progresssinks.NewPubSubSink(a.publisher, false, a.logger.Named("progress_pubsub")))
		a.logger.Info("Pub/Sub publisher initialized",
			zap.String("project", a.cfg.PubSub.ProjectID),
			zap.String("topic", a.cfg.PubSub.TopicName),
		)
	}

	p := a.cfg.Progress
	hubCfg := progress.Config{
		BufferSize:     p.BufferSize,
		MaxBatchEvents: p.MaxBatchEvents,
		MaxBatchWait:   time.Duration(p.MaxBatchWaitMs) * time.Millisecond,
		SinkTimeout:    time.Duration(p.SinkTimeoutMs) * time.Millisecond,
		BaseContext:    context.WithoutCancel(ctx),
		Logger:         a.logger.Named("progress_hub"),
	}
	a.progressHub = progress.NewHub(hubCfg, sinkList...)
	a.logger.Info("progress hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
	)
	return a.progressHub, nil
}

// Run seeds the scheduler with urls and blocks until ctx is canceled or, in
// run-once mode, until the queue drains.
func (a *App) Run(ctx context.Context, urls []string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	a.logger.Info("application started", zap.Int("seeds", len(urls)))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("dispatcher started", zap.Int("workers", a.dispatch.Size()))
		a.dispatch.Run(gctx)
		return nil
	})

	var srv *http.Server
	if a.apiServer != nil {
		srv = &http.Server{
			Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
			Handler:           a.apiServer.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
	}

	added := 0
	for _, raw := range urls {
		if a.scheduler.AddThread(gctx, raw) {
			added++
		}
	}
	a.logger.Info("seed threads registered", zap.Int("added", added), zap.Int("given", len(urls)))

	if a.cfg.Archiver.RunOnce {
		g.Go(func() error {
			a.waitIdle(gctx)
			a.logger.Info("all threads downloaded once")
			cancel()
			return nil
		})
	}

	<-gctx.Done()
	a.logger.Info("shutdown initiated")
	a.queue.Close()

	shutdownCtx, stop := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer stop()
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown error", zap.Error(err))
		}
	}
	err := g.Wait()
	a.Close(shutdownCtx)
	return err
}

// waitIdle returns once the queue holds nothing and no item is in flight, or
// when ctx ends.
func (a *App) waitIdle(ctx context.Context) {
	ticker := time.NewTicker(idlePollInterval)
	defer ticker.Stop()
	for {
		if a.queue.Idle() {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Close releases infrastructure. It is safe to call once after Run returns.
func (a *App) Close(ctx context.Context) {
	if a.queue != nil {
		a.queue.Close()
	}
	a.closeInfrastructure(ctx)
	a.logger.Info("shutdown complete")
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
		a.progressHub = nil
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("pubsub publisher close failed", zap.Error(err))
		}
		a.publisher = nil
	}
	if a.threadStore != nil {
		a.threadStore.Close()
		a.threadStore = nil
	}
}
