package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"golang.org/x/sync/errgroup"

	_ "github.com/lib/pq" // PostgreSQL driver

	"intake/internal/admission"
	"intake/internal/auth"
	"intake/internal/broker"
	"intake/internal/config"
	"intake/internal/constants"
	"intake/internal/idempotency"
	"intake/internal/ingest"
	"intake/internal/keystore"
	"intake/internal/logger"
	"intake/internal/peers"
	"intake/internal/slo"
	"intake/internal/storage"
	"intake/pkg/bootstrap"
	"intake/pkg/health"
	"intake/pkg/metrics"
	"intake/pkg/middleware"
	"intake/pkg/ratelimit"
	"intake/pkg/tracing"
)

type App struct {
	config      *config.Config
	logger      logger.Logger
	base        *bootstrap.Base
	dbConnector *bootstrap.DatabaseConnector
	conns       *bootstrap.Connections
	redis       redis.UniversalClient

	localStores      []*keystore.MemoryStore
	credentials      *auth.PeerCredentials
	credentialLoader auth.CredentialLoader
	nonces           *auth.NonceStore
	index            *idempotency.Service
	store            storage.Store
	deadLetters      *broker.DeadLetterPublisher
	queue            ingest.EventIngestionQueue
	recorder         *slo.Recorder
	detector         *slo.BurnDetector
	peers            *peers.Registry

	healthRegistry *health.CheckerRegistry
	ready          atomic.Bool
	router         *gin.Engine
	server         *http.Server
	tracerProvider *tracing.TracerProvider
	stopBackground context.CancelFunc
	shutdownOnce   sync.Once
	shutdownErr    error
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	return &App{
		config:      cfg,
		logger:      log,
		base:        bootstrap.NewBase(cfg, log),
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	tp, err := tracing.Init(a.config.Tracing, constants.ServiceName)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.RegisterIngestMetrics()
	metrics.RegisterBrokerMetrics()
	metrics.RegisterCircuitBreakerMetrics()
	metrics.RegisterPlatformMetrics()

	if err := a.initDatabases(ctx); err != nil {
		return fmt.Errorf("failed to initialize databases: %w", err)
	}

	if err := a.initPipeline(ctx); err != nil {
		return fmt.Errorf("failed to initialize pipeline: %w", err)
	}

	if err := a.initRouter(); err != nil {
		return fmt.Errorf("failed to initialize router: %w", err)
	}

	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.config.Server.Port),
		Handler:      a.router,
		ReadTimeout:  a.config.Server.ReadTimeout,
		WriteTimeout: a.config.Server.WriteTimeout,
	}
	return nil
}

func (a *App) initDatabases(ctx context.Context) error {
	conns, err := a.dbConnector.InitAll(ctx)
	if err != nil {
		return err
	}
	a.conns = conns
	if conns.Redis != nil {
		a.redis = conns.Redis
	}

	if a.config.Database.RunMigrations {
		if err := migrateBackends(ctx, a.config, conns, a.logger); err != nil {
			return err
		}
	}
	return nil
}

// keyStore returns the protection store for kind, wrapped in a circuit breaker when shared.
func (a *App) keyStore(kind, name string) (keystore.Store, error) {
	switch kind {
	case "", constants.StoreMemory:
		local := keystore.NewMemoryStore(constants.LocalSweepInterval)
		a.localStores = append(a.localStores, local)
		a.logger.Warnw("Using process-local store, protection does not span instances", "store", name)
		return local, nil
	case constants.StoreRedis:
		if a.redis == nil {
			return nil, fmt.Errorf("%s store %q requires a redis connection", name, kind)
		}
		return keystore.NewCircuitBreakerStore(keystore.NewRedisStore(a.redis), name, a.config.CircuitBreaker), nil
	default:
		return nil, fmt.Errorf("unsupported %s store: %s", name, kind)
	}
}

func (a *App) initPipeline(ctx context.Context) error {
	nonceKeys, err := a.keyStore(a.config.Auth.NonceStore, "nonce")
	if err != nil {
		return err
	}
	a.nonces = auth.NewNonceStore(nonceKeys)

	idempotencyKeys, err := a.keyStore(a.config.Idempotency.Store, "idempotency")
	if err != nil {
		return err
	}
	a.index = idempotency.NewService(idempotencyKeys, a.config.Idempotency, a.logger)

	store, err := storage.NewStore(a.config.Persistence, storage.Backends{
		Postgres: a.conns.Postgres,
		Mongo:    a.conns.MongoDatabase(a.config.Database.MongoDB),
	})
	if err != nil {
		return err
	}
	a.store = store

	deps := ingest.ProcessorDeps{
		Store:  store,
		Stats:  ingest.NewStats(a.config.SLO.SampleWindow),
		Logger: a.logger,
	}

	if a.base.BrokerEnabled() {
		if err := a.base.InitProducer(); err != nil {
			return err
		}
		a.deadLetters = broker.NewDeadLetterPublisher(a.base.Producer, a.config.Broker.Kafka.DLQTopic, a.logger)
		deps.DeadLetters = a.deadLetters
		a.logger.InfowCtx(ctx, "Dead-letter publisher initialized", "topic", a.deadLetters.Topic())
	} else {
		a.logger.WarnwCtx(ctx, "No broker configured, exhausted batches will only be logged")
	}

	a.recorder = slo.NewRecorder(a.config.SLO.SampleWindow)
	a.detector = slo.NewBurnDetector(a.config.SLO, a.logger)
	deps.Recorder = a.recorder

	var client redis.UniversalClient
	if a.redis != nil {
		client = a.redis
	}
	queue, err := ingest.NewQueue(a.config.Ingest, client, a.index, deps)
	if err != nil {
		return err
	}
	a.queue = queue
	a.recorder.SetDepthFunc(func() int {
		depthCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		depth, err := queue.Depth(depthCtx)
		if err != nil {
			return -1
		}
		return depth
	})

	a.peers = peers.NewRegistry(constants.DefaultHeartbeatInterval)

	a.healthRegistry = health.NewCheckerRegistry()
	a.healthRegistry.Register(health.NewCapabilityChecker("nonce_store", a.nonces, constants.ModeShared))
	a.healthRegistry.Register(health.NewCapabilityChecker("idempotency_index", a.index, constants.ModeShared))
	a.healthRegistry.Register(health.NewFuncChecker("queue", func(ctx context.Context) error {
		depth, err := a.queue.Depth(ctx)
		if err != nil {
			return err
		}
		if limit := a.config.Ingest.MaxQueueSize; limit > 0 && depth >= limit {
			return &health.DegradedError{Reason: fmt.Sprintf("queue at capacity (%d/%d)", depth, limit)}
		}
		return nil
	}))
	if a.conns.Postgres != nil {
		a.healthRegistry.Register(health.NewPostgreSQLChecker(a.conns.Postgres))
	}
	if a.redis != nil {
		a.healthRegistry.Register(health.NewRedisChecker(a.redis))
	}
	if a.conns.Mongo != nil {
		a.healthRegistry.Register(health.NewMongoDBChecker(a.conns.Mongo))
	}

	a.logger.InfowCtx(ctx, "Pipeline initialized",
		"queue", a.queue.Mode(),
		"store", a.store.Name(),
		"nonce_mode", a.nonces.Mode(),
		"idempotency_mode", a.index.Mode(),
	)
	return nil
}

func (a *App) initRouter() error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	if a.config.Tracing.Enabled {
		router.Use(tracing.GinMiddleware(constants.ServiceName))
	}
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.LoggerMiddleware(a.logger, "/health", "/ready", "/metrics"))
	router.Use(middleware.RecoveryMiddleware(a.logger))
	router.Use(slo.Middleware(a.recorder, a.config.SLO.ExcludedPaths))

	a.credentials = auth.NewPeerCredentials(a.config.Auth.PeerSecrets(), a.config.Auth.DefaultPeer)
	authenticator := auth.NewAuthenticator(
		a.credentials,
		a.nonces,
		a.config.Auth,
		a.logger,
	)

	admitter, err := a.admitter()
	if err != nil {
		return err
	}

	backgroundCtx, cancel := context.WithCancel(context.Background())
	a.stopBackground = cancel

	v1 := router.Group("/v1")
	authenticated := v1.Group("")
	if a.config.RateLimit.Enabled {
		rateLimitConfig := ratelimit.RateLimitConfig{
			RPS:             a.config.RateLimit.RPS,
			Burst:           a.config.RateLimit.Burst,
			CleanupInterval: a.config.RateLimit.CleanupInterval,
			MaxAge:          a.config.RateLimit.MaxAge,
		}
		authenticated.Use(ratelimit.RateLimitMiddleware(backgroundCtx, rateLimitConfig))
		a.logger.InfowCtx(backgroundCtx, "Rate limiting enabled", "rps", rateLimitConfig.RPS, "burst", rateLimitConfig.Burst)
	}
	authenticated.Use(auth.Middleware(authenticator, a.config.Server.MaxBodyBytes))
	public := v1.Group("")

	ingest.NewHandler(a.queue, admitter, a.logger).RegisterRoutes(authenticated, public)
	peers.NewHandler(a.peers, a.logger).RegisterRoutes(authenticated, public)
	slo.NewHandler(a.recorder, a.detector).RegisterRoutes(public)

	router.GET("/health", func(c *gin.Context) {
		h := a.healthRegistry.Check(c.Request.Context())
		statusCode := http.StatusOK
		if h.Status == health.StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		c.JSON(statusCode, h)
	})

	router.GET("/ready", func(c *gin.Context) {
		if !a.ready.Load() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready", "queue": a.queue.Mode()})
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	a.router = router
	return nil
}

// admitter returns nil when no admission rule is configured.
func (a *App) admitter() (ingest.Admitter, error) {
	evaluator, err := admission.NewEvaluator(a.config.Admission, a.logger)
	if err != nil {
		return nil, err
	}
	if evaluator == nil {
		return nil, nil
	}
	a.logger.Infow("Admission rule enabled", "expression", evaluator.Expression(), "on_error", a.config.Admission.OnError)
	return evaluator, nil
}

func (a *App) Run(ctx context.Context) error {
	if err := a.queue.Start(ctx); err != nil {
		a.Shutdown(context.Background())
		return fmt.Errorf("failed to start queue: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.InfowCtx(gctx, "Server listening", "port", a.config.Server.Port)
		a.ready.Store(true)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		a.detector.Run(gctx, a.recorder, a.config.SLO.EvaluateEvery)
		return nil
	})

	if a.credentialLoader != nil {
		signals := make(chan os.Signal, 1)
		signal.Notify(signals, syscall.SIGHUP)
		defer signal.Stop(signals)

		reloader := auth.NewCredentialReloader(a.credentials, a.credentialLoader, a.logger)
		g.Go(func() error {
			reloader.Watch(gctx, signals)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		return a.Shutdown(context.Background())
	})

	return g.Wait()
}

// Shutdown stops intake, drains the queue within the shutdown timeout and releases
// every backend. It is safe to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownOnce.Do(func() {
		a.shutdownErr = a.shutdown(ctx)
	})
	return a.shutdownErr
}

func (a *App) shutdown(ctx context.Context) error {
	a.ready.Store(false)
	a.logger.InfowCtx(ctx, "Shutting down server")

	timeout := a.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = constants.ShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var errs []error

	if a.server != nil {
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown error: %w", err))
		}
	}

	if a.queue != nil {
		if err := a.queue.Close(shutdownCtx); err != nil {
			var drainErr *ingest.DrainError
			if errors.As(err, &drainErr) {
				a.logger.ErrorwCtx(ctx, "Queue drain incomplete, events at risk",
					"events_at_risk", drainErr.AtRisk,
					"queue", a.queue.Mode(),
					"error", drainErr.Err,
				)
			}
			errs = append(errs, fmt.Errorf("queue close error: %w", err))
		}
	}

	if a.stopBackground != nil {
		a.stopBackground()
	}

	err := a.base.Shutdown(shutdownCtx, func(ctx context.Context) []error {
		var errs []error
		if a.store != nil {
			if err := a.store.Close(); err != nil {
				errs = append(errs, fmt.Errorf("store close error: %w", err))
			}
		}
		for _, s := range a.localStores {
			s.Close()
		}
		if a.tracerProvider != nil {
			if err := a.tracerProvider.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
			}
		}
		return append(errs, a.dbConnector.ShutdownDatabases(ctx, a.conns)...)
	})
	if err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}
