// Package app assembles the glossarizer's long-lived services from one
// Config: state store, catalog outputs, progress hub, event publisher,
// headless pager, the pass facade, and the inspection API server. Build
// wires everything, Run serves the API until shutdown, Close releases
// whatever Build opened.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"path"
	"path/filepath"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/urban-physiology/glossarizer/internal/api"
	"github.com/urban-physiology/glossarizer/internal/catalog/gcs"
	"github.com/urban-physiology/glossarizer/internal/catalog/local"
	"github.com/urban-physiology/glossarizer/internal/config"
	"github.com/urban-physiology/glossarizer/internal/fetch"
	"github.com/urban-physiology/glossarizer/internal/glossarizer"
	"github.com/urban-physiology/glossarizer/internal/glossary"
	"github.com/urban-physiology/glossarizer/internal/headless"
	"github.com/urban-physiology/glossarizer/internal/logging"
	"github.com/urban-physiology/glossarizer/internal/progress"
	"github.com/urban-physiology/glossarizer/internal/progress/sinks"
	nooppub "github.com/urban-physiology/glossarizer/internal/publisher/noop"
	pubsubpub "github.com/urban-physiology/glossarizer/internal/publisher/pubsub"
	statemem "github.com/urban-physiology/glossarizer/internal/statestore/memory"
	pgstore "github.com/urban-physiology/glossarizer/internal/statestore/postgres"
	sqlitestore "github.com/urban-physiology/glossarizer/internal/statestore/sqlite"
)

const (
	// statusBoardSize bounds how many recent passes /v1/status reports.
	statusBoardSize = 64

	shutdownTimeout = 10 * time.Second
)

// App holds the shared services for one glossarizer process. Typed
// fields alongside the interface ones keep the closable backends
// reachable at shutdown.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	store  glossary.StateStore
	passes glossary.PassLog
	sqlite *sqlitestore.Store
	pg     *pgstore.Store

	publisher glossary.Publisher
	pubsub    *pubsubpub.Publisher

	pager     *headless.Pager
	gcsClient *storage.Client

	registry *prometheus.Registry
	status   *sinks.StatusSink
	hub      *progress.Hub

	gloss *glossarizer.Glossarizer
	api   *api.Server
}

// Build initializes every service the configuration calls for, failing
// fast on the first one that cannot start.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	a := &App{cfg: cfg, logger: logger}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if err := a.setupStore(ctx); err != nil {
		return nil, fmt.Errorf("state store init failed: %w", err)
	}
	if err := a.setupPublisher(ctx); err != nil {
		return nil, fmt.Errorf("publisher init failed: %w", err)
	}
	if err := a.setupPager(); err != nil {
		return nil, fmt.Errorf("headless pager init failed: %w", err)
	}
	if err := a.setupCatalog(ctx); err != nil {
		return nil, fmt.Errorf("catalog init failed: %w", err)
	}
	if err := a.setupProgress(ctx); err != nil {
		return nil, fmt.Errorf("progress hub init failed: %w", err)
	}
	if err := a.setupGlossarizer(); err != nil {
		return nil, fmt.Errorf("glossarizer init failed: %w", err)
	}

	a.api = api.NewServer(a.store, a.passes, a.status, a.registry, cfg, logger.Named("api"))

	logger.Info("services initialized",
		zap.String("store", cfg.Store.Backend),
		zap.String("catalog", cfg.Catalog.Kind),
		zap.Int("portals", len(cfg.Portals)),
	)
	return a, nil
}

func (a *App) setupStore(ctx context.Context) error {
	switch a.cfg.Store.Backend {
	case config.StoreMemory:
		a.logger.Info("using in-memory state store")
		st := statemem.NewStore()
		a.store, a.passes = st, st
	case config.StoreSQLite:
		a.logger.Info("using sqlite state store", zap.String("path", a.cfg.Store.Path))
		st, err := sqlitestore.NewStore(a.cfg.Store.Path)
		if err != nil {
			return err
		}
		a.sqlite = st
		a.store, a.passes = st, st
	case config.StorePostgres:
		a.logger.Info("using postgres state store",
			zap.String("state_table", a.cfg.Store.StateTable),
			zap.String("pass_table", a.cfg.Store.PassTable),
		)
		st, err := pgstore.NewStore(ctx, pgstore.Config{
			DSN:        a.cfg.Store.DSN,
			StateTable: a.cfg.Store.StateTable,
			PassTable:  a.cfg.Store.PassTable,
			MaxConns:   a.cfg.Store.MaxConns,
			MinConns:   a.cfg.Store.MinConns,
		})
		if err != nil {
			return err
		}
		a.pg = st
		a.store, a.passes = st, st
	default:
		return fmt.Errorf("unknown store backend %q", a.cfg.Store.Backend)
	}
	return nil
}

func (a *App) setupPublisher(ctx context.Context) error {
	if a.cfg.PubSub.ProjectID == "" || a.cfg.PubSub.Topic == "" {
		a.logger.Info("pass events disabled, using noop publisher")
		a.publisher = nooppub.NewPublisher()
		return nil
	}
	a.logger.Info("publishing pass events to pub/sub",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.Topic),
	)
	pub, err := pubsubpub.New(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.Topic)
	if err != nil {
		return err
	}
	a.pubsub = pub
	a.publisher = pub
	return nil
}

func (a *App) setupPager() error {
	if !a.cfg.Headless.Enabled {
		return nil
	}
	a.logger.Info("headless pager enabled",
		zap.Int("max_parallel", a.cfg.Headless.MaxParallel),
	)
	pager, err := headless.NewPager(headless.Config{
		MaxConcurrency: a.cfg.Headless.MaxParallel,
		Timeout:        a.cfg.Headless.NavTimeout(),
		UserAgent:      a.cfg.Crawl.UserAgent,
	}, a.logger.Named("headless"))
	if err != nil {
		return err
	}
	a.pager = pager
	return nil
}

func (a *App) setupCatalog(ctx context.Context) error {
	switch a.cfg.Catalog.Kind {
	case config.CatalogLocal:
		a.logger.Info("writing catalogs to local files", zap.String("dir", a.cfg.Catalog.Dir))
	case config.CatalogGCS:
		a.logger.Info("writing catalogs to gcs", zap.String("bucket", a.cfg.Catalog.Bucket))
		client, err := storage.NewClient(ctx)
		if err != nil {
			return err
		}
		a.gcsClient = client
	default:
		return fmt.Errorf("unknown catalog kind %q", a.cfg.Catalog.Kind)
	}
	return nil
}

func (a *App) setupProgress(ctx context.Context) error {
	promSink, err := sinks.NewPrometheusSink(a.registry)
	if err != nil {
		return err
	}
	a.status = sinks.NewStatusSink(statusBoardSize)
	a.hub = progress.NewHub(progress.Config{
		BaseContext: ctx,
		Logger:      a.logger.Named("progress"),
	}, sinks.NewLogSink(a.logger.Named("pass")), promSink, a.status)
	return nil
}

func (a *App) setupGlossarizer() error {
	opts := glossarizer.Options{
		Store:     a.store,
		PassLog:   a.passes,
		Events:    a.hub,
		Publisher: a.publisher,
		Fetch: fetch.Config{
			UserAgent:    a.cfg.Crawl.UserAgent,
			Timeout:      a.cfg.Timeout(),
			MaxBodyBytes: a.cfg.MaxBodyBytes(),
		},
		MaxConcurrent: a.cfg.Crawl.Concurrency,
		Logger:        a.logger.Named("glossarizer"),
	}
	// Assigning a nil *headless.Pager would make the interface non-nil
	// and defeat the pager presence checks downstream.
	if a.pager != nil {
		opts.Pager = a.pager
	}
	gl, err := glossarizer.New(opts)
	if err != nil {
		return err
	}
	a.gloss = gl
	return nil
}

// Logger returns the app's root logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Glossarizer returns the assembled pass facade.
func (a *App) Glossarizer() *glossarizer.Glossarizer {
	return a.gloss
}

// Store returns the shared crawl state store.
func (a *App) Store() glossary.StateStore {
	return a.store
}

// API returns the inspection server.
func (a *App) API() *api.Server {
	return a.api
}

// SinkFor builds per-portal catalog sinks for RunAll, one fresh staged
// sink per pass so settlement stays per portal.
func (a *App) SinkFor() glossarizer.SinkFor {
	return func(portal glossary.PortalConfig) (glossary.Sink, error) {
		switch a.cfg.Catalog.Kind {
		case config.CatalogGCS:
			object := path.Join(a.cfg.Catalog.Prefix, portal.ID+".jsonl")
			return gcs.NewSink(a.gcsClient, gcs.Config{
				Bucket: a.cfg.Catalog.Bucket,
				Object: object,
			}, a.logger.Named("catalog"))
		default:
			target := filepath.Join(a.cfg.Catalog.Dir, portal.ID+".jsonl")
			return local.NewSink(target, a.logger.Named("catalog"))
		}
	}
}

// Glossarize runs one pass over the named portals, or over every
// configured portal when ids is empty.
func (a *App) Glossarize(ctx context.Context, ids []string) ([]glossarizer.Result, error) {
	portals := a.cfg.Portals
	if len(ids) > 0 {
		portals = make([]glossary.PortalConfig, 0, len(ids))
		for _, id := range ids {
			p, ok := a.cfg.Portal(id)
			if !ok {
				return nil, fmt.Errorf("portal %q is not configured", id)
			}
			portals = append(portals, p)
		}
	}
	if len(portals) == 0 {
		return nil, fmt.Errorf("no portals configured")
	}
	return a.gloss.RunAll(ctx, portals, a.SinkFor()), nil
}

// Run serves the inspection API until the context is canceled or a
// SIGINT/SIGTERM arrives, then drains the server. The caller still owns
// Close.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("inspection api listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("inspection api failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("inspection api shutdown failed", zap.Error(err))
		return fmt.Errorf("inspection api shutdown: %w", err)
	}
	return nil
}

// Close releases every service Build opened. The context bounds work
// that flushes buffers, like the progress hub drain.
func (a *App) Close(ctx context.Context) {
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.pager != nil {
		if err := a.pager.Close(); err != nil {
			a.logger.Warn("headless pager close failed", zap.Error(err))
		}
	}
	if a.pubsub != nil {
		if err := a.pubsub.Close(); err != nil {
			a.logger.Warn("pub/sub publisher close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.sqlite != nil {
		if err := a.sqlite.Close(); err != nil {
			a.logger.Warn("sqlite store close failed", zap.Error(err))
		}
	}
	if a.pg != nil {
		a.pg.Close()
	}
	a.logger.Info("shutdown complete")
	_ = a.logger.Sync()
}
