package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/zhejian/url-shortener/shortener/internal/api"
	"github.com/zhejian/url-shortener/shortener/internal/config"
	"github.com/zhejian/url-shortener/shortener/internal/events"
	"github.com/zhejian/url-shortener/shortener/internal/infra"
	"github.com/zhejian/url-shortener/shortener/internal/locator"
	"github.com/zhejian/url-shortener/shortener/internal/maintenance"
	"github.com/zhejian/url-shortener/shortener/internal/middleware"
	"github.com/zhejian/url-shortener/shortener/internal/observability"
	"github.com/zhejian/url-shortener/shortener/internal/repository"
	"github.com/zhejian/url-shortener/shortener/internal/server"
	"github.com/zhejian/url-shortener/shortener/internal/service"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const sweepSchedule = "@every 5m"

func main() {
	// Load configuration from defaults, CONFIG_FILE and environment variables
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	obs, err := observability.Setup(ctx, observability.Config{
		ServiceName:  cfg.Observability.ServiceName,
		Environment:  cfg.Observability.Environment,
		OTLPEndpoint: cfg.Observability.OTLPEndpoint,
		LogFile:      cfg.Observability.LogFile,
	})
	if err != nil {
		log.Fatalf("Failed to setup observability: %v", err)
	}

	err = run(ctx, cfg, obs)
	if err != nil {
		obs.Logger.Error("server exited with error", zap.Error(err))
	} else {
		obs.Logger.Info("server exited gracefully")
	}
	obs.Shutdown(context.Background())
	if err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

func run(ctx context.Context, cfg *config.Config, obs *observability.Observability) error {
	logger := obs.Logger
	health := map[string]api.Pinger{}
	sinks := []events.Sink{
		events.NewLogSink(logger),
		events.NewMetricsSink(obs.Metrics),
	}

	// Click locations
	var loc locator.Locator
	switch cfg.Locator.Backend {
	case config.LocatorIPAPI:
		loc = locator.NewHTTPLocator(cfg.Locator.Endpoint, cfg.Locator.Timeout, logger)
	default:
		loc = locator.NewRandomLocator()
	}

	if cfg.Cache.Enabled() {
		rdb, err := infra.NewCacheClient(ctx, cfg.Cache.ConnectionString())
		if err != nil {
			return fmt.Errorf("connect to cache: %w", err)
		}
		defer rdb.Close()
		loc = locator.NewCachedLocator(loc, rdb, cfg.Cache.TTL, logger)
		health["cache"] = api.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
		logger.Info("location cache connected")
	}

	// Audit trail
	if cfg.Database.Enabled() {
		connString := cfg.Database.ConnectionString()
		if err := infra.RunMigrations(connString); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
		db, err := infra.NewPostgresPool(ctx, connString)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer db.Close()
		sinks = append(sinks, events.NewPostgresSink(db))
		health["database"] = api.PingFunc(db.Ping)
		logger.Info("audit database connected")
	}

	// Event fan-out
	if cfg.Broker.URL != "" {
		conn, err := infra.NewBrokerConnection(cfg.Broker.URL, cfg.Broker.Exchange)
		if err != nil {
			return fmt.Errorf("connect to broker: %w", err)
		}
		defer conn.Close()
		sink, err := events.NewAMQPSink(conn, cfg.Broker.Exchange, logger)
		if err != nil {
			return fmt.Errorf("open broker channel: %w", err)
		}
		defer sink.Close()
		sinks = append(sinks, sink)
		health["broker"] = api.PingFunc(brokerPing(conn))
		logger.Info("event broker connected", zap.String("exchange", cfg.Broker.Exchange))
	}

	notifier := events.NewNotifier(cfg.App.EventBufferSize, logger, sinks,
		events.WithDropHook(func(t events.Type) { obs.Metrics.EventDropped(string(t)) }))

	// Initialize stores, service and HTTP layer (dependency injection)
	registry := repository.NewRegistry()
	analytics := repository.NewAnalyticsStore()
	generator := service.NewShortCodeGenerator(
		cfg.App.ShortCodeLen, cfg.App.ShortCodeRetries, cfg.App.MinAliasLen, cfg.App.MaxAliasLen)
	shortener := service.NewShortenerService(registry, analytics, generator, loc,
		service.Settings{
			DefaultValidityMinutes: cfg.App.DefaultValidityMinutes,
			CreatorQuota:           cfg.App.CreatorQuota,
		},
		service.WithLogger(logger),
	)

	if err := obs.Metrics.ObserveURLs(func(ctx context.Context) (int, int) {
		snap := shortener.HealthSnapshot(ctx)
		return snap.TotalURLs, snap.ActiveURLs
	}); err != nil {
		return fmt.Errorf("register url gauges: %w", err)
	}

	var limiter *middleware.RateLimiter
	if cfg.RateLimit.RPS > 0 {
		limiter = middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst, "/health", "/metrics")
	}

	srv := server.NewServer(cfg, server.Deps{
		Shortener:      shortener,
		Events:         notifier,
		Health:         health,
		RateLimiter:    limiter,
		MetricsHandler: obs.MetricsHandler,
		Logger:         logger,
	})

	// Background jobs
	scheduler := maintenance.NewScheduler(logger)
	if cfg.Maintenance.Retention > 0 {
		scheduler.Add(maintenance.PurgeExpiredJob(cfg.Maintenance.Schedule, shortener, cfg.Maintenance.Retention, logger))
	}
	if limiter != nil {
		scheduler.Add(maintenance.SweepJob(sweepSchedule, limiter, logger))
	}

	// The notifier outlives the server so events from in-flight requests
	// are still delivered.
	notifierCtx, stopNotifier := context.WithCancel(context.Background())
	defer stopNotifier()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return notifier.Run(notifierCtx) })
	g.Go(func() error { return scheduler.Run(gctx) })
	g.Go(func() error {
		logger.Info("server starting",
			zap.String("addr", srv.Addr),
			zap.String("base_url", cfg.App.BaseURL))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")
		defer stopNotifier()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	if dropped := notifier.Dropped(); dropped > 0 {
		logger.Warn("events dropped during run", zap.Int64("dropped", dropped))
	}
	return err
}

func brokerPing(conn *amqp.Connection) func(context.Context) error {
	return func(context.Context) error {
		if conn.IsClosed() {
			return amqp.ErrClosed
		}
		return nil
	}
}
