// Package observability provides logging, Prometheus metrics, OpenTelemetry
// tracing, health checks, and graceful shutdown for Gatehouse.
//
// # Logging
//
// Loggers are logrus loggers configured from the observability settings:
//
//	logger, err := observability.NewLogger("info", "json", os.Stdout)
//	ctx = observability.WithLogger(ctx, logger)
//	observability.FromContext(ctx).Info("role created")
//
// FromContext adds the request ID, the user ID, and the active trace and span
// IDs when they are present.
//
// # Metrics
//
// Metrics implements rbac.Recorder, so it can be handed straight to the
// manager:
//
//	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
//	manager := rbac.NewManager(db, auditLogger, cfg, rbac.WithMetrics(metrics))
//	router.Use(observability.HTTPMetricsMiddleware(metrics))
//
// HTTP requests are labeled by route template, never by raw path.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient, observability.WithVersion(version))
//	observability.RegisterHealthRoutes(mux, checker)
//
// A failed primary database makes the service unhealthy. Replica or Redis
// failures only degrade it.
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:        true,
//		ServiceName:    "gatehouse",
//		ServiceVersion: version,
//		Endpoint:       "otel-collector:4317",
//		Insecure:       true,
//		SampleRatio:    0.25,
//	}, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
//
// Sampling is parent based: only root traces are subject to SampleRatio.
package observability
