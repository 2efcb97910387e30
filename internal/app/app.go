// Package app assembles the engine from configuration: storage, catalog,
// services, expiry scheduler, workers, event bus and HTTP router.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt-engine/internal/auth"
	"github.com/stemsi/exstem-attempt-engine/internal/catalog"
	"github.com/stemsi/exstem-attempt-engine/internal/config"
	"github.com/stemsi/exstem-attempt-engine/internal/events"
	"github.com/stemsi/exstem-attempt-engine/internal/handler"
	"github.com/stemsi/exstem-attempt-engine/internal/logger"
	"github.com/stemsi/exstem-attempt-engine/internal/middleware"
	"github.com/stemsi/exstem-attempt-engine/internal/router"
	"github.com/stemsi/exstem-attempt-engine/internal/scheduler"
	"github.com/stemsi/exstem-attempt-engine/internal/service"
	"github.com/stemsi/exstem-attempt-engine/internal/worker"
)

// shutdownTimeout bounds draining HTTP requests on shutdown.
const shutdownTimeout = 5 * time.Second

// App is a fully wired engine instance.
type App struct {
	cfg    *config.Config
	log    zerolog.Logger
	rdb    *redis.Client
	stores *Stores

	Catalog   *catalog.Cache
	Scheduler *scheduler.Scheduler
	Attempts  *service.AttemptService
	Ledger    *service.LedgerService
	Grading   *service.GradingService
	Integrity *service.IntegrityService
	Analytics *service.AnalyticsService
	Monitor   *service.MonitorService
	Router    *gin.Engine

	analyticsWorker *worker.AnalyticsWorker
	integrityWorker *worker.IntegrityWorker
	busPub          message.Publisher
	busSub          message.Subscriber
}

// Build wires an App over already-open connections.
func Build(cfg *config.Config, log zerolog.Logger, rdb *redis.Client, stores *Stores) (*App, error) {
	verifier, err := auth.NewVerifier(cfg)
	if err != nil {
		return nil, fmt.Errorf("identity provider: %w", err)
	}

	busPub, busSub, err := events.NewBus(cfg, logger.NewWatermillAdapter(log))
	if err != nil {
		return nil, fmt.Errorf("event bus: %w", err)
	}
	publisher := events.Multi{events.NewRedisPublisher(rdb)}
	if busPub != nil {
		publisher = append(publisher, events.NewBusPublisher(busPub, cfg.EventsTopicPrefix))
	}

	now := service.Clock(time.Now)
	cat := catalog.NewCache(stores.Source, rdb, log)
	sched := scheduler.New(cfg.ExpiryWorkers, log)

	analytics := service.NewAnalyticsService(cat, stores.Analytics, stores.Responses, stores.Grades, worker.NewAnalyticsQueue(rdb), log)
	grading := service.NewGradingService(stores.Attempts, stores.Responses, stores.Grades, cat, analytics, publisher, now, log)
	attempts := service.NewAttemptService(stores.Attempts, stores.Responses, cat, grading, analytics, sched, publisher, now, log)
	ledger := service.NewLedgerService(stores.Attempts, stores.Responses, cat, publisher, now, log)
	integrity := service.NewIntegrityService(attempts, stores.Integrity, worker.NewIntegrityQueue(rdb), rdb, publisher, now, log)
	monitor := service.NewMonitorService(stores.Attempts, stores.Analytics, cat)

	var limiter *middleware.RateLimiter
	if cfg.RateLimitPerMinute > 0 {
		limiter = middleware.NewRateLimiter(rdb, cfg.RateLimitPerMinute, time.Minute, log)
	}

	handlers := &router.Handlers{
		Attempt: handler.NewAttemptHandler(attempts, ledger, integrity, log),
		Grading: handler.NewGradingHandler(grading, attempts, log),
		Report:  handler.NewReportHandler(analytics, log),
		Monitor: handler.NewMonitorHandler(rdb, monitor, log),
		WS:      handler.NewWSHandler(rdb, attempts, ledger, integrity, log, cfg.AllowedOrigins),
		Catalog: handler.NewCatalogHandler(cat, log),
		System:  handler.NewSystemHandler(rdb, sched, log),
	}

	return &App{
		cfg:             cfg,
		log:             log,
		rdb:             rdb,
		stores:          stores,
		Catalog:         cat,
		Scheduler:       sched,
		Attempts:        attempts,
		Ledger:          ledger,
		Grading:         grading,
		Integrity:       integrity,
		Analytics:       analytics,
		Monitor:         monitor,
		Router:          router.SetupRouter(verifier, limiter, handlers, cfg, log),
		analyticsWorker: worker.NewAnalyticsWorker(stores.Analytics, rdb, cfg.AnalyticsBatchSize, log),
		integrityWorker: worker.NewIntegrityWorker(stores.Integrity, rdb, cfg.IntegrityBatchSize, log),
		busPub:          busPub,
		busSub:          busSub,
	}, nil
}

// Start prewarms the catalog, restores expiry timers and launches the
// background loops. They stop when ctx is cancelled; Wait blocks until
// they have.
func (a *App) Start(ctx context.Context, wg *sync.WaitGroup) error {
	// Load all published assessments into Redis BEFORE accepting traffic.
	if err := a.Catalog.Prewarm(ctx); err != nil {
		a.log.Warn().Err(err).Msg("Catalog prewarm failed")
	}

	// Attempts whose deadline passed while no instance was running expire here.
	if err := a.Scheduler.Rehydrate(ctx, a.stores.Attempts, a.Attempts); err != nil {
		return fmt.Errorf("rehydrate expiry timers: %w", err)
	}

	run := func(f func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f()
		}()
	}
	run(func() { a.Scheduler.Run(ctx, a.Attempts) })
	run(func() { a.Scheduler.RunSweeper(ctx, a.stores.Attempts, a.Attempts, a.cfg.SweepInterval) })
	run(func() { a.analyticsWorker.Start(ctx) })
	run(func() { a.integrityWorker.Start(ctx) })

	if a.busSub != nil {
		audit := events.NewAuditLog(a.busSub, a.log)
		bus := events.NewBusPublisher(a.busPub, a.cfg.EventsTopicPrefix)
		run(func() {
			if err := audit.Run(ctx, bus.Topic(events.TopicClosed), bus.Topic(events.TopicGraded)); err != nil {
				a.log.Error().Err(err).Msg("Event audit log failed")
			}
		})
	}
	return nil
}

// Serve runs the HTTP server until ctx is cancelled, then drains it.
func (a *App) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + a.cfg.ServerPort,
		Handler:           a.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info().Str("addr", srv.Addr).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// Close releases the bus and storage. Redis is owned by the caller.
func (a *App) Close() {
	if a.busPub != nil {
		if err := a.busPub.Close(); err != nil {
			a.log.Warn().Err(err).Msg("Event bus close failed")
		}
	}
	a.stores.Close()
}

// SweepOnce expires every overdue attempt now and reports how many timers a
// running instance would hold for the rest.
func (a *App) SweepOnce(ctx context.Context) (expired, pending int, err error) {
	return a.Scheduler.Sweep(ctx, a.stores.Attempts, a.Attempts)
}

// Source is the catalog's backing store.
func (a *App) Source() catalog.Source {
	return a.stores.Source
}
