// Package app initializes and holds long-lived scraper services, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-scraper/internal/catalog"
	"github.com/JakeFAU/catalog-scraper/internal/clock/system"
	"github.com/JakeFAU/catalog-scraper/internal/config"
	"github.com/JakeFAU/catalog-scraper/internal/extract"
	"github.com/JakeFAU/catalog-scraper/internal/fetcher/cache"
	collyfetcher "github.com/JakeFAU/catalog-scraper/internal/fetcher/colly"
	"github.com/JakeFAU/catalog-scraper/internal/fetcher/ratelimit"
	"github.com/JakeFAU/catalog-scraper/internal/fetcher/retry"
	"github.com/JakeFAU/catalog-scraper/internal/hash/sha256"
	"github.com/JakeFAU/catalog-scraper/internal/id/uuid"
	"github.com/JakeFAU/catalog-scraper/internal/logging"
	"github.com/JakeFAU/catalog-scraper/internal/metrics"
	"github.com/JakeFAU/catalog-scraper/internal/pipeline"
	memorypub "github.com/JakeFAU/catalog-scraper/internal/publisher/memory"
	pubsubpub "github.com/JakeFAU/catalog-scraper/internal/publisher/pubsub"
	"github.com/JakeFAU/catalog-scraper/internal/storage"
	"github.com/JakeFAU/catalog-scraper/internal/storage/gcs"
	"github.com/JakeFAU/catalog-scraper/internal/storage/local"
	memorystore "github.com/JakeFAU/catalog-scraper/internal/storage/memory"
	miniostore "github.com/JakeFAU/catalog-scraper/internal/storage/minio"
	"github.com/JakeFAU/catalog-scraper/internal/storage/postgres"
	"github.com/JakeFAU/catalog-scraper/internal/telemetry"
)

// App holds the shared services of one scraper process.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	fetcher   catalog.PageFetcher
	parser    *extract.Extractor
	writer    catalog.DatasetWriter
	publisher catalog.Publisher
	metrics   *metrics.Server

	closers []func() error
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Config returns the validated configuration the App was built from.
func (a *App) Config() config.Config { return a.cfg }

// Writer returns the dataset writer selected by storage.backend.
func (a *App) Writer() catalog.DatasetWriter { return a.writer }

// Publisher returns the run notifier, or nil when publishing is disabled.
func (a *App) Publisher() catalog.Publisher { return a.publisher }

// MetricsAddr returns the metrics listener address, or "" when disabled.
func (a *App) MetricsAddr() string {
	if a.metrics == nil {
		return ""
	}
	return a.metrics.Addr()
}

// New builds every service from cfg. It fails fast if any backend cannot be initialized,
// releasing whatever was already opened.
func New(ctx context.Context, cfg config.Config) (_ *App, err error) {
	logger, err := logging.New(logging.Options{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
	if err != nil {
		return nil, err
	}
	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	tp, err := telemetry.InitTracerProvider(ctx, telemetry.ServiceName)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error { return tp.Shutdown(context.Background()) })

	metrics.Init()
	if cfg.Metrics.ListenAddr != "" {
		srv, err := metrics.Start(cfg.Metrics.ListenAddr, logger)
		if err != nil {
			return nil, err
		}
		a.metrics = srv
		a.closers = append(a.closers, func() error { return srv.Shutdown(context.Background()) })
	}

	if a.fetcher, err = a.buildFetcher(); err != nil {
		return nil, err
	}
	if a.parser, err = extract.New(extract.Config{
		BaseURL:        cfg.Catalog.BaseURL,
		LanguageSuffix: cfg.Catalog.LanguageSuffix,
	}, logger); err != nil {
		return nil, fmt.Errorf("build extractor: %w", err)
	}
	if a.writer, err = a.buildWriter(ctx); err != nil {
		return nil, err
	}
	if a.publisher, err = a.buildPublisher(ctx); err != nil {
		return nil, err
	}

	logger.Info("application services initialized",
		zap.String("storage", cfg.Storage.Backend),
		zap.String("format", cfg.Storage.Format),
		zap.String("publish", cfg.Publish.Backend),
		zap.Bool("cache", cfg.Cache.Enabled),
	)
	return a, nil
}

func (a *App) buildFetcher() (catalog.PageFetcher, error) {
	var f catalog.PageFetcher = collyfetcher.New(collyfetcher.Config{
		UserAgent:     a.cfg.HTTP.UserAgent,
		RespectRobots: a.cfg.HTTP.RespectRobots,
		Timeout:       a.cfg.HTTP.Timeout,
	})
	f = ratelimit.New(f, ratelimit.Config{RPS: a.cfg.HTTP.RateLimitRPS, Burst: a.cfg.HTTP.RateBurst})
	f = retry.New(f, retry.NewFixedPolicy(a.cfg.HTTP.RetryCount, a.cfg.HTTP.RetryDelay), a.logger)
	if !a.cfg.Cache.Enabled {
		return f, nil
	}
	db, err := cache.Open(a.cfg.Cache.Dir)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, db.Close)
	return cache.New(f, db, a.cfg.Cache.TTL, system.New(), a.logger), nil
}

func (a *App) buildWriter(ctx context.Context) (catalog.DatasetWriter, error) {
	s := a.cfg.Storage
	if s.Backend == "postgres" {
		w, err := postgres.NewTableWriter(ctx, postgres.Config{
			DSN:         s.Postgres.DSN,
			MaxConns:    s.Postgres.MaxConns,
			TablePrefix: s.Postgres.TablePrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("init postgres storage: %w", err)
		}
		a.closers = append(a.closers, func() error { w.Close(); return nil })
		return w, nil
	}

	var blobs storage.BlobStore
	switch s.Backend {
	case "local":
		store, err := local.New(local.Config{BaseDir: s.Local.Dir})
		if err != nil {
			return nil, fmt.Errorf("init local storage: %w", err)
		}
		blobs = store
	case "memory":
		blobs = memorystore.NewBlobStore()
	case "gcs":
		store, err := gcs.Open(ctx, gcs.Config{Bucket: s.GCS.Bucket})
		if err != nil {
			return nil, fmt.Errorf("init gcs storage: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		blobs = store
	case "minio":
		store, err := miniostore.New(ctx, miniostore.Config{
			Endpoint:  s.MinIO.Endpoint,
			AccessKey: s.MinIO.AccessKey,
			SecretKey: s.MinIO.SecretKey,
			Bucket:    s.MinIO.Bucket,
			UseSSL:    s.MinIO.UseSSL,
			Region:    s.MinIO.Region,
		})
		if err != nil {
			return nil, fmt.Errorf("init minio storage: %w", err)
		}
		blobs = store
	default:
		return nil, fmt.Errorf("unknown storage backend %q", s.Backend)
	}
	return storage.NewBlobWriter(blobs, sha256.New(), storage.Config{
		Format:         storage.Format(s.Format),
		Prefix:         s.Prefix,
		PartitionByRun: s.PartitionByRun,
	})
}

func (a *App) buildPublisher(ctx context.Context) (catalog.Publisher, error) {
	switch a.cfg.Publish.Backend {
	case "none", "":
		return nil, nil
	case "memory":
		return memorypub.New(), nil
	case "pubsub":
		p, err := pubsubpub.Open(ctx, a.cfg.Publish.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("init pubsub: %w", err)
		}
		a.closers = append(a.closers, p.Close)
		return p, nil
	default:
		return nil, fmt.Errorf("unknown publish backend %q", a.cfg.Publish.Backend)
	}
}

// Pipeline builds a pipeline wired to the App's services.
func (a *App) Pipeline() (*pipeline.Pipeline, error) {
	workers, err := a.cfg.Workers()
	if err != nil {
		return nil, err
	}
	return pipeline.New(pipeline.Config{
		RootURL:     a.cfg.Catalog.RootURL,
		MaxWorkers:  workers,
		Executor:    pipeline.Executor(a.cfg.Pipeline.Executor),
		QueueDepth:  a.cfg.Pipeline.QueueDepth,
		LockTimeout: a.cfg.Pipeline.LockTimeout,
		Merge:       a.cfg.Pipeline.Merge,
		Datasets: pipeline.DatasetNames{
			StudyPrograms: a.cfg.Datasets.StudyPrograms,
			Curricula:     a.cfg.Datasets.Curricula,
			Courses:       a.cfg.Datasets.Courses,
			Result:        a.cfg.Datasets.Result,
		},
		Topic: a.cfg.Publish.Topic,
	}, pipeline.Deps{
		Fetcher:   a.fetcher,
		Parser:    a.parser,
		Validator: catalog.NewValidator(),
		Writer:    a.writer,
		Publisher: a.publisher,
		IDs:       uuid.New(),
		Clock:     system.New(),
		Logger:    a.logger,
	})
}

// Close releases services in reverse order of creation and flushes the logger.
func (a *App) Close() {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("error shutting down application services", zap.Error(err))
	}
	_ = a.logger.Sync()
}

// Runner returns the wired pipeline behind the pipeline.Runner interface.
func (a *App) Runner() (pipeline.Runner, error) {
	p, err := a.Pipeline()
	if err != nil {
		return nil, err
	}
	return p, nil
}
