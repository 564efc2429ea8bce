package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/carebridge/pkg/api"
	"github.com/platinummonkey/carebridge/pkg/async"
	"github.com/platinummonkey/carebridge/pkg/audit"
	"github.com/platinummonkey/carebridge/pkg/auth"
	"github.com/platinummonkey/carebridge/pkg/authcache"
	"github.com/platinummonkey/carebridge/pkg/config"
	"github.com/platinummonkey/carebridge/pkg/database"
	"github.com/platinummonkey/carebridge/pkg/identity"
	"github.com/platinummonkey/carebridge/pkg/middleware"
	"github.com/platinummonkey/carebridge/pkg/observability"
	"github.com/platinummonkey/carebridge/pkg/provision"
	"github.com/platinummonkey/carebridge/pkg/rbac"
	"github.com/platinummonkey/carebridge/pkg/users"
	"github.com/platinummonkey/carebridge/pkg/webhooks"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

// staleRetryAge bounds how long an abandoned retry state is kept
const staleRetryAge = time.Hour

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).Component("carebridge")
	defer observability.FatalOnPanic(logger)
	async.SetLogger(logger)

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("CareBridge exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var cleanups []namedCleanup
	addCleanup := func(name string, fn observability.ShutdownFunc) {
		cleanups = append(cleanups, namedCleanup{name: name, fn: fn})
	}

	otelCfg := cfg.Observability.OTel()
	otelCfg.ServiceVersion = version
	providers, err := observability.InitOTel(ctx, otelCfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	addCleanup("opentelemetry", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, providers, logger)
	})

	var (
		registry *prometheus.Registry
		metrics  *observability.Metrics
	)
	if cfg.Observability.MetricsEnabled {
		registry = prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = observability.NewMetrics(registry)
	}

	// Stores
	var (
		userStore  users.Store
		auditStore audit.Store
		db         *database.DB
	)
	switch cfg.Database.Store {
	case config.StoreMemory:
		logger.Warn("Using in-memory stores; data is lost on restart")
		userStore = users.NewMemoryStore()
		auditStore = audit.NewMemoryStore()
	default:
		db, err = database.Open(database.Config{
			URL:      cfg.Database.URL,
			MaxConns: cfg.Database.MaxConns,
			MinConns: cfg.Database.MinConns,
			Timeout:  cfg.Database.Timeout,
		})
		if err != nil {
			return err
		}
		addCleanup("database", func(context.Context) error { return db.Close() })

		pg := users.NewPostgresStore(db)
		if err := pg.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("failed to prepare user schema: %w", err)
		}
		dbAudit := audit.NewDBStore(db)
		if err := dbAudit.EnsureTable(ctx); err != nil {
			return fmt.Errorf("failed to prepare audit table: %w", err)
		}
		userStore, auditStore = pg, dbAudit
		logger.Info("Connected to PostgreSQL")
	}

	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		redisClient, err = database.OpenRedis(ctx, database.RedisConfig{
			URL:      cfg.Redis.URL,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return err
		}
		addCleanup("redis", func(context.Context) error { return redisClient.Close() })
		logger.Info("Connected to Redis")
	}

	// Audit pipeline
	dispatcher := audit.NewDispatcher(
		audit.MultiSink{auditStore, audit.LogSink{Logger: logger.Component("audit")}},
		audit.DispatcherConfig{BufferSize: cfg.Audit.BufferSize},
		logger, metrics,
	)
	addCleanup("audit dispatcher", dispatcher.Close)

	retentionOpts := []audit.RetentionOption{audit.WithRetentionObservability(logger, metrics)}
	if cfg.Audit.ArchiveEnabled {
		archiver, err := audit.NewS3Archiver(ctx, audit.S3Config{
			Bucket:       cfg.Audit.ArchiveBucket,
			Prefix:       cfg.Audit.ArchivePrefix,
			Region:       cfg.Audit.S3Region,
			Endpoint:     cfg.Audit.S3Endpoint,
			AccessKey:    cfg.Audit.S3AccessKey,
			SecretKey:    cfg.Audit.S3SecretKey,
			UsePathStyle: cfg.Audit.S3UsePathStyle,
		})
		if err != nil {
			return err
		}
		retentionOpts = append(retentionOpts, audit.WithArchiver(archiver))
	}
	retention := audit.NewRetention(auditStore, dispatcher, retentionOpts...)

	// Identity and auth cache
	verifier, err := newVerifier(ctx, cfg.Identity)
	if err != nil {
		return err
	}
	profiles := identity.NewProfileClient(ctx, identity.ProfileClientConfig{
		BaseURL:      cfg.Identity.APIURL,
		SecretKey:    cfg.Identity.SecretKey,
		TokenURL:     cfg.Identity.TokenURL,
		ClientID:     cfg.Identity.ClientID,
		ClientSecret: cfg.Identity.ClientSecret,
	})

	cache := newAuthCache(cfg.AuthCache, redisClient)
	go authcache.NewSweeper(cache, cfg.AuthCache.SweepInterval, logger, metrics).Run(ctx)

	authn := auth.NewAuthenticator(verifier, cache, dispatcher, auth.WithObservability(logger, metrics))
	engine := provision.NewEngine(userStore, profiles, dispatcher,
		provision.WithValidation(cfg.Identity.ValidateSync),
		provision.WithObservability(logger, metrics),
	)

	// RBAC
	model, err := newModel(cfg.RBAC)
	if err != nil {
		return err
	}
	if cfg.RBAC.PolicyFile != "" && cfg.RBAC.WatchPolicy {
		watcher := rbac.NewPolicyWatcher(cfg.RBAC.PolicyFile, model, logger)
		go func() {
			defer observability.RecoverPanic(logger, "rbac policy watcher")
			if err := watcher.Run(ctx); err != nil {
				logger.WithError(err).Error("RBAC policy watcher stopped")
			}
		}()
	}
	guard := rbac.NewGuard(model, dispatcher, rbac.WithGuardObservability(logger, metrics))

	// Webhooks
	var retryStore webhooks.RetryStore = webhooks.NewMemoryRetryStore()
	if redisClient != nil {
		retryStore = webhooks.NewRedisRetryStore(redisClient, cfg.Webhook.ProcessedTTL)
	}
	policy := webhooks.NewRetryPolicy(webhooks.RetryConfig{
		MaxAttempts:       cfg.Webhook.MaxRetries,
		InitialDelay:      cfg.Webhook.RetryDelay,
		MaxDelay:          cfg.Webhook.MaxDelay,
		BackoffMultiplier: cfg.Webhook.BackoffMultiplier,
	})
	scheduler := webhooks.NewTimerScheduler(30 * time.Second)
	addCleanup("webhook scheduler", scheduler.Stop)

	coordinator := webhooks.NewCoordinator(retryStore, policy, scheduler, dispatcher,
		webhooks.WithProcessedSet(webhooks.CoordinatorConfig{ProcessedTTL: cfg.Webhook.ProcessedTTL}),
		webhooks.WithCoordinatorObservability(logger, metrics),
	)
	webhookVerifier, err := webhooks.NewVerifier(cfg.Webhook.Secret, cfg.Webhook.Tolerance)
	if err != nil {
		return fmt.Errorf("invalid webhook secret: %w", err)
	}
	webhookHandler := webhooks.NewIdentityHandler(webhookVerifier, coordinator, engine, dispatcher, logger)

	// Scheduled maintenance
	c := cron.New()
	if _, err := retention.Schedule(c, cfg.Audit.RetentionSchedule, cfg.Audit.RetentionDays); err != nil {
		return fmt.Errorf("failed to schedule audit retention: %w", err)
	}
	if _, err := c.AddFunc("@every 10m", func() {
		defer observability.RecoverPanic(logger, "webhook retry sweep")
		n, err := coordinator.SweepStale(context.Background(), staleRetryAge)
		if err != nil {
			logger.WithError(err).Warn("Stale webhook retry sweep failed")
			return
		}
		if n > 0 {
			logger.WithField("swept", n).Info("Swept stale webhook retries")
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule webhook sweep: %w", err)
	}
	c.Start()
	addCleanup("cron", func(ctx context.Context) error {
		select {
		case <-c.Stop().Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	// Rate limiting
	var limiter api.Limiter
	limitCfg := middleware.RateLimitConfig{RPS: cfg.RateLimit.RPS, Burst: cfg.RateLimit.Burst}
	if redisClient != nil {
		limiter = middleware.NewDistributedRateLimiter(redisClient, limitCfg, time.Minute, logger)
	} else {
		local := middleware.NewRateLimiter(limitCfg)
		go local.Run(ctx)
		limiter = local
	}

	health := observability.NewHealthChecker(nil, redisClient, version)
	if db != nil {
		health = observability.NewHealthChecker(db.DB, redisClient, version)
		if _, err := c.AddFunc("@every 30s", func() {
			stats := db.PoolStats()
			metrics.RecordDBPool(stats.InUse, stats.Idle)
		}); err != nil {
			return fmt.Errorf("failed to schedule pool metrics: %w", err)
		}
	}

	server := api.NewServer(api.Deps{
		Auth:     middleware.NewAuthMiddleware(authn, userStore, engine, dispatcher, middleware.WithAuthObservability(logger, metrics)),
		Users:    userStore,
		Engine:   engine,
		Guard:    guard,
		Recorder: dispatcher,
		Audit:    audit.NewHandlers(audit.NewService(auditStore), retention, dispatcher, cfg.Audit.RetentionDays),
		Webhooks: webhookHandler,
		Health:   health,
		Limiter:  limiter,
		Metrics:  metrics,
		Registry: registry,
		Logger:   logger,
	})

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	for _, cl := range cleanups {
		shutdown.RegisterShutdownFunc(cl.name, cl.fn)
	}
	shutdown.RegisterShutdownFunc("background tasks", func(context.Context) error {
		cancel()
		return nil
	})

	serverErr := make(chan error, 1)
	go func() {
		logger.WithField("addr", httpServer.Addr).Info("Starting CareBridge server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	waitCtx, stopWait := context.WithCancel(context.Background())
	defer stopWait()
	go func() {
		if err, ok := <-serverErr; ok && err != nil {
			logger.WithError(err).Error("HTTP server failed")
			stopWait()
		}
	}()

	return shutdown.WaitForShutdown(waitCtx)
}

type namedCleanup struct {
	name string
	fn   observability.ShutdownFunc
}

// newVerifier prefers a static JWT key and falls back to OIDC discovery
func newVerifier(ctx context.Context, cfg config.IdentityConfig) (identity.TokenVerifier, error) {
	if cfg.JWTPublicKey != "" || cfg.JWTHMACSecret != "" {
		v, err := identity.NewJWTVerifier(identity.JWTConfig{
			PublicKeyPEM:      cfg.JWTPublicKey,
			HMACSecret:        cfg.JWTHMACSecret,
			Issuer:            cfg.Issuer,
			AuthorizedParties: cfg.AuthorizedParties,
		})
		if err != nil {
			return nil, fmt.Errorf("invalid JWT verification key: %w", err)
		}
		return v, nil
	}
	v, err := identity.NewOIDCVerifier(ctx, cfg.OIDCIssuer, cfg.OIDCClientID)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC issuer: %w", err)
	}
	return v, nil
}

func newAuthCache(cfg config.AuthCacheConfig, client *redis.Client) authcache.Store {
	switch cfg.Backend {
	case config.CacheRedis:
		return authcache.NewRedisStore(client, cfg.TTL)
	case config.CacheLRU:
		return authcache.NewLRUStore(cfg.TTL, cfg.MaxEntries)
	default:
		return authcache.NewMemoryStore(cfg.TTL, cfg.MaxEntries)
	}
}

// newModel loads the policy file when one is configured, otherwise the
// built-in policy with the configured default decision
func newModel(cfg config.RBACConfig) (*rbac.Model, error) {
	if cfg.PolicyFile == "" {
		policy := rbac.DefaultPolicy()
		policy.DefaultDecision = rbac.Decision(cfg.DefaultDecision)
		return rbac.NewModel(policy)
	}
	policy, err := rbac.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		return nil, err
	}
	return rbac.NewModel(policy)
}
