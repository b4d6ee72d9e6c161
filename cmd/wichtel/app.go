package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	natsgo "github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/djlord-it/wichtel/internal/analytics"
	"github.com/djlord-it/wichtel/internal/api"
	"github.com/djlord-it/wichtel/internal/autostart"
	"github.com/djlord-it/wichtel/internal/circuitbreaker"
	"github.com/djlord-it/wichtel/internal/config"
	"github.com/djlord-it/wichtel/internal/coordinator"
	"github.com/djlord-it/wichtel/internal/domain"
	"github.com/djlord-it/wichtel/internal/leaderelection"
	"github.com/djlord-it/wichtel/internal/metrics"
	"github.com/djlord-it/wichtel/internal/notifier"
	"github.com/djlord-it/wichtel/internal/reconciler"
	"github.com/djlord-it/wichtel/internal/store/memory"
	"github.com/djlord-it/wichtel/internal/store/postgres"
	"github.com/djlord-it/wichtel/internal/transport/channel"
	natsbus "github.com/djlord-it/wichtel/internal/transport/nats"

	_ "github.com/lib/pq"
)

// appStore is satisfied by both the Postgres and the in-memory store.
type appStore interface {
	api.Store
	api.HealthChecker
	coordinator.Store
	notifier.Store
	reconciler.Store
	autostart.Store
}

// noticeBus carries DrawCompleted notices from the coordinator and the
// reconciler to the notifier.
type noticeBus interface {
	Emit(ctx context.Context, notice domain.DrawCompleted) error
	Channel() <-chan domain.DrawCompleted
	Close() error
}

// app owns every long-lived component of a wichtel process.
type app struct {
	cfg    config.Config
	logger *zap.Logger

	registry *prometheus.Registry
	metrics  metrics.Sink

	db       *sqlx.DB
	store    appStore
	natsConn *natsgo.Conn
	bus      noticeBus
	redis    *redis.Client

	coordinator *coordinator.Coordinator
	notifier    *notifier.Notifier
	reconciler  *reconciler.Reconciler
	sweeper     *autostart.Sweeper
	elector     *leaderelection.Elector

	handler http.Handler
}

// newApp connects to every configured backend and wires the components.
// On error everything opened so far is closed again.
func newApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
		metrics:  metrics.NewNoopSink(),
	}
	if err := a.wire(ctx); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger

	if cfg.MetricsEnabled {
		a.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		a.metrics = metrics.NewPrometheusSink(a.registry, logger)
		logger.Info("wichtel: metrics enabled", zap.String("path", cfg.MetricsPath), zap.Int("port", cfg.MetricsPort))
	}

	if err := a.openStore(ctx); err != nil {
		return err
	}
	if err := a.openBus(); err != nil {
		return err
	}

	a.coordinator = coordinator.New(a.store, a.bus, logger).
		WithMetrics(a.metrics).
		WithOutcomeCache(cfg.OutcomeCacheBytes).
		WithTimeouts(cfg.DrawTimeout, cfg.DrawPollInterval).
		WithTracerProvider(otel.GetTracerProvider())

	if cfg.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		a.coordinator.WithAnalytics(analytics.NewRedisSink(a.redis))
		logger.Info("wichtel: analytics enabled", zap.String("redis", cfg.RedisAddr))
	} else {
		logger.Info("wichtel: REDIS_ADDR not set; analytics disabled")
	}

	a.notifier = newNotifier(cfg, a.store, a.metrics, logger)

	if cfg.ReconcileEnabled {
		a.reconciler = reconciler.New(reconciler.Config{
			Interval:        cfg.ReconcileInterval,
			Threshold:       cfg.ReconcileThreshold,
			NotifyThreshold: cfg.ReconcileNotifyThreshold,
			BatchSize:       cfg.ReconcileBatchSize,
		}, a.store, a.bus, logger).WithMetrics(a.metrics)
	}
	if cfg.AutostartEnabled {
		sweeper, err := autostart.New(autostart.Config{
			Schedule:  cfg.AutostartSchedule,
			Timezone:  cfg.AutostartTimezone,
			BatchSize: cfg.AutostartBatchSize,
		}, a.store, a.coordinator, logger)
		if err != nil {
			return err
		}
		a.sweeper = sweeper.WithMetrics(a.metrics)
	}
	if a.db != nil {
		a.elector = leaderelection.New(a.db.DB, leaderelection.Config{
			LockKey:           cfg.LeaderLockKey,
			RetryInterval:     cfg.LeaderRetryInterval,
			HeartbeatInterval: cfg.LeaderHeartbeatInterval,
		}, logger).WithMetrics(a.metrics)
	}

	apiHandler := api.NewHandler(a.store, a.coordinator, logger).WithHealthChecker(a.store)
	if cfg.MetricsEnabled && cfg.MetricsPort == 0 {
		mux := http.NewServeMux()
		mux.Handle(cfg.MetricsPath, a.metricsHandler())
		mux.Handle("/", apiHandler)
		a.handler = mux
	} else {
		a.handler = apiHandler
	}
	return nil
}

func (a *app) openStore(ctx context.Context) error {
	if a.cfg.StorageDriver == config.DriverMemory {
		a.store = memory.New()
		a.logger.Warn("wichtel: using in-memory storage; all events are lost on restart")
		return nil
	}

	db, err := sqlx.Open("postgres", a.cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	a.db = db
	db.SetMaxOpenConns(a.cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(a.cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(a.cfg.DBConnMaxLifetime)
	db.SetConnMaxIdleTime(a.cfg.DBConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, a.cfg.DBOpTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	a.logger.Info("wichtel: db pool configured",
		zap.Int("max_open", a.cfg.DBMaxOpenConns),
		zap.Int("max_idle", a.cfg.DBMaxIdleConns),
		zap.Duration("max_lifetime", a.cfg.DBConnMaxLifetime),
		zap.Duration("max_idle_time", a.cfg.DBConnMaxIdleTime),
	)
	a.store = postgres.New(db, a.cfg.DBOpTimeout)
	return nil
}

func (a *app) openBus() error {
	if a.cfg.NotifyTransport != config.TransportNATS {
		a.bus = channel.NewEventBus(a.cfg.EventBusBufferSize, channel.WithMetrics(a.metrics))
		return nil
	}

	conn, err := natsgo.Connect(a.cfg.NATSURL,
		natsgo.Name("wichtel"),
		natsgo.MaxReconnects(-1),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			a.logger.Warn("wichtel: nats disconnected", zap.Error(err))
		}),
		natsgo.ReconnectHandler(func(c *natsgo.Conn) {
			a.logger.Info("wichtel: nats reconnected", zap.String("url", c.ConnectedUrlRedacted()))
		}),
	)
	if err != nil {
		return fmt.Errorf("connect to nats: %w", err)
	}
	a.natsConn = conn
	bus, err := natsbus.New(conn, a.cfg.NATSSubject, a.cfg.EventBusBufferSize,
		natsbus.WithLogger(a.logger), natsbus.WithMetrics(a.metrics))
	if err != nil {
		return err
	}
	a.bus = bus
	a.logger.Info("wichtel: nats transport enabled", zap.String("subject", a.cfg.NATSSubject))
	return nil
}

func newNotifier(cfg config.Config, store notifier.Store, sink metrics.Sink, logger *zap.Logger) *notifier.Notifier {
	endpoint := notifier.Endpoint{
		URL:     cfg.NotifyWebhookURL,
		Secret:  cfg.NotifyWebhookSecret,
		Timeout: cfg.NotifyTimeout,
	}
	return notifier.New(store, notifier.NewHTTPWebhookSender(), endpoint, logger).
		WithMetrics(sink).
		WithCircuitBreaker(circuitbreaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown)).
		WithDrainTimeout(cfg.NotifierDrainTimeout)
}

func (a *app) metricsHandler() http.Handler {
	return promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})
}

// duties are the singleton background loops. With Postgres they run only on
// the elected leader.
func (a *app) duties(ctx context.Context) {
	var wg sync.WaitGroup
	if a.reconciler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.reconciler.Run(ctx)
		}()
	}
	if a.sweeper != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.sweeper.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error("wichtel: autostart stopped", zap.Error(err))
			}
		}()
	}
	wg.Wait()
}

// run serves until ctx is cancelled and then shuts down in order: background
// duties first (no new draws or re-emits), then the HTTP server (no new
// starts), then the notifier, which drains buffered notices.
func (a *app) run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErr := make(chan error, 2)
	go func() {
		a.logger.Info("wichtel: http server listening", zap.String("addr", a.cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- fmt.Errorf("http server: %w", err)
		}
	}()

	var metricsServer *http.Server
	if a.cfg.MetricsEnabled && a.cfg.MetricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle(a.cfg.MetricsPath, a.metricsHandler())
		metricsServer = &http.Server{
			Addr:              fmt.Sprintf(":%d", a.cfg.MetricsPort),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			a.logger.Info("wichtel: metrics server listening", zap.String("addr", metricsServer.Addr))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	dutiesCtx, cancelDuties := context.WithCancel(context.Background())
	notifierCtx, cancelNotifier := context.WithCancel(context.Background())
	var dutiesWg, notifierWg sync.WaitGroup

	dutiesWg.Add(1)
	go func() {
		defer dutiesWg.Done()
		if a.elector != nil {
			a.elector.Run(dutiesCtx, a.duties)
		} else {
			a.duties(dutiesCtx)
		}
	}()

	notifierWg.Add(1)
	go func() {
		defer notifierWg.Done()
		a.notifier.Run(notifierCtx, a.bus.Channel())
	}()

	a.logger.Info("wichtel: started",
		zap.String("version", version),
		zap.String("storage", a.cfg.StorageDriver),
		zap.String("transport", a.cfg.NotifyTransport),
		zap.Bool("reconcile", a.reconciler != nil),
		zap.Bool("autostart", a.sweeper != nil),
	)

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("wichtel: shutting down")
	case runErr = <-serverErr:
		a.logger.Error("wichtel: server failed, shutting down", zap.Error(runErr))
	}

	cancelDuties()
	dutiesWg.Wait()
	a.logger.Info("wichtel: background duties stopped")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTPShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("wichtel: http server shutdown", zap.Error(err))
	}
	a.logger.Info("wichtel: http server stopped")

	cancelNotifier()
	notifierWg.Wait()
	a.logger.Info("wichtel: notifier stopped")

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("wichtel: metrics server shutdown", zap.Error(err))
		}
	}
	a.logger.Info("wichtel: stopped")
	return runErr
}

// close releases connections. It is safe on a partially built app.
func (a *app) close() {
	if a.bus != nil {
		if err := a.bus.Close(); err != nil {
			a.logger.Warn("wichtel: closing event bus", zap.Error(err))
		}
	}
	if a.natsConn != nil {
		a.natsConn.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("wichtel: closing redis", zap.Error(err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("wichtel: closing database", zap.Error(err))
		}
	}
}
