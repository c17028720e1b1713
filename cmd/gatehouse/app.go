package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/platinummonkey/gatehouse/pkg/audit"
	"github.com/platinummonkey/gatehouse/pkg/bootstrap"
	"github.com/platinummonkey/gatehouse/pkg/config"
	"github.com/platinummonkey/gatehouse/pkg/httputil"
	"github.com/platinummonkey/gatehouse/pkg/middleware"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/rbac"
	"github.com/platinummonkey/gatehouse/pkg/rbac/permcache"
	"github.com/platinummonkey/gatehouse/pkg/storage/database"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// app holds every long-lived component of the service
type app struct {
	cfg      *config.Config
	log      logrus.FieldLogger
	conns    *database.ConnectionManager
	redis    *redis.Client
	registry *prometheus.Registry
	metrics  *observability.Metrics
	audit    audit.Logger
	manager  *rbac.Manager
	boot     *bootstrap.Bootstrapper
	limiter  middleware.Limiter
	closers  []io.Closer
}

// newApp connects to storage, migrates, and applies the bootstrap definition
func newApp(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (_ *app, err error) {
	a := &app{cfg: cfg, log: log}
	defer func() {
		if err != nil {
			_ = a.close()
		}
	}()

	a.conns, err = database.NewConnectionManager(ctx, database.ConnectionConfig{
		Driver:      cfg.Database.Driver,
		PrimaryDSN:  cfg.Database.DSN,
		ReplicaDSNs: cfg.Database.ReplicaDSNs,
		MaxConns:    cfg.Database.MaxOpenConns,
		MaxIdle:     cfg.Database.MaxIdleConns,
		Timeout:     cfg.Database.Timeout,
		MaxLifetime: cfg.Database.ConnMaxLifetime,
	}, log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.conns)

	opts := []rbac.StoreOption{
		rbac.WithLogger(log),
		rbac.WithReaderFunc(a.conns.Replica),
	}

	a.registry = prometheus.NewRegistry()
	if cfg.Observability.MetricsEnabled {
		a.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		a.metrics = observability.NewMetrics(a.registry)
		if err := a.metrics.RegisterDB(a.conns.Primary(), "primary"); err != nil {
			return nil, fmt.Errorf("failed to register database metrics: %w", err)
		}
		opts = append(opts, rbac.WithMetrics(a.metrics))
	}

	cache, err := a.newCache(ctx)
	if err != nil {
		return nil, err
	}
	if cache != nil {
		opts = append(opts, rbac.WithCache(cache))
	}

	if cfg.Server.RateLimitRequests > 0 {
		limits := middleware.RateLimitConfig{
			RequestsPerWindow: cfg.Server.RateLimitRequests,
			WindowDuration:    cfg.Server.RateLimitWindow,
			BurstSize:         cfg.Server.RateLimitBurst,
		}
		if a.redis != nil {
			a.limiter = middleware.NewDistributedRateLimiter(a.redis, limits, "")
		} else {
			a.limiter = middleware.NewRateLimiter(limits)
		}
	}

	a.audit = audit.NewLogrusLogger(log.WithField("component", "audit"))
	a.closers = append(a.closers, a.audit)

	a.manager = rbac.NewManager(a.conns.Primary(), a.audit, rbac.Config{
		ProtectAdminAPI: cfg.Server.ProtectAdminAPI,
	}, opts...)
	if err := a.manager.Initialize(ctx); err != nil {
		return nil, err
	}

	bootOpts := []bootstrap.Option{bootstrap.WithLogger(log)}
	if a.metrics != nil {
		bootOpts = append(bootOpts, bootstrap.WithRecorder(a.metrics))
	}
	a.boot = bootstrap.New(a.manager, cfg.Bootstrap.File, bootOpts...)
	if _, err := a.boot.Run(ctx, bootstrap.TriggerStartup); err != nil {
		return nil, fmt.Errorf("bootstrap failed: %w", err)
	}

	return a, nil
}

func (a *app) newCache(ctx context.Context) (rbac.PermissionCache, error) {
	cfg := a.cfg.Cache
	switch cfg.Backend {
	case config.CacheLRU:
		c := permcache.NewMemoryCache(cfg.Size, cfg.TTL)
		a.closers = append(a.closers, c)
		return c, nil
	case config.CacheRedis:
		c, err := permcache.NewRedisCache(ctx, permcache.RedisConfig{
			URL:        cfg.RedisURL,
			Password:   cfg.RedisPassword,
			DB:         cfg.RedisDB,
			MaxRetries: cfg.RedisMaxRetries,
			PoolSize:   cfg.RedisPoolSize,
			TTL:        cfg.TTL,
			KeyPrefix:  permcache.DefaultKeyPrefix,
		})
		if err != nil {
			return nil, err
		}
		a.redis = c.Client()
		a.closers = append(a.closers, c)
		return c, nil
	}
	return nil, nil
}

// apiHandler serves the admin API
func (a *app) apiHandler() http.Handler {
	router := mux.NewRouter()
	if a.metrics != nil {
		router.Use(observability.HTTPMetricsMiddleware(a.metrics))
	}
	a.manager.RegisterRoutes(router)

	middlewares := []func(http.Handler) http.Handler{
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(a.log),
		httputil.RecoveryMiddleware(a.log),
		httputil.MaxBytesMiddleware(a.cfg.Server.MaxBodyBytes),
		rbac.IdentityMiddleware(a.cfg.Server.UserHeader),
	}
	if a.limiter != nil {
		middlewares = append(middlewares, middleware.NewRateLimitMiddleware(a.limiter, a.log).Handler)
	}
	return otelhttp.NewHandler(httputil.Chain(middlewares...)(router), "gatehouse")
}

// opsHandler serves health probes and /metrics
func (a *app) opsHandler() http.Handler {
	ops := http.NewServeMux()
	checker := observability.NewHealthChecker(a.conns.Primary(), a.redis,
		observability.WithReplicas(a.conns.AllReplicas()...),
		observability.WithVersion(version),
	)
	observability.RegisterHealthRoutes(ops, checker)
	if a.metrics != nil {
		observability.RegisterMetricsEndpoint(ops, a.registry)
	}
	return ops
}

// close releases resources in reverse order of acquisition
func (a *app) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
