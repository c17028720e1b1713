package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/platinummonkey/gatehouse/pkg/config"
	"github.com/platinummonkey/gatehouse/pkg/middleware"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/sirupsen/logrus"
)

// run starts the API and ops servers and blocks until ctx is cancelled or
// SIGINT/SIGTERM arrives, then shuts everything down.
func run(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) error {
	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
		ExportInterval: cfg.Observability.OTelExportInterval,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		_ = observability.ShutdownOTel(ctx, providers, log)
		return err
	}

	apiServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      a.apiHandler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	opsServer := &http.Server{
		Addr:        cfg.Server.HealthAddr,
		Handler:     a.opsHandler(),
		ReadTimeout: cfg.Server.ReadTimeout,
	}

	bgCtx, stopBackground := context.WithCancel(ctx)
	shutdown := observability.NewShutdownManager(log, cfg.Server.ShutdownTimeout, apiServer, opsServer)
	shutdown.RegisterShutdownFunc(func(context.Context) error {
		stopBackground()
		return nil
	})
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, providers, log)
	})

	if cfg.Bootstrap.Watch {
		go func() {
			defer observability.RecoverPanic(log, "bootstrap watcher")
			if err := a.boot.Watch(bgCtx); err != nil {
				log.WithError(err).Error("bootstrap watcher stopped")
			}
		}()
	}
	if cfg.Bootstrap.Schedule != "" {
		c, err := a.boot.Schedule(bgCtx, cfg.Bootstrap.Schedule)
		if err != nil {
			stopBackground()
			_ = a.close()
			return err
		}
		shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
			select {
			case <-c.Stop().Done():
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}
	if limiter, ok := a.limiter.(*middleware.RateLimiter); ok {
		limiter.StartCleanup(bgCtx, log)
	}
	if len(cfg.Database.ReplicaDSNs) > 0 {
		a.conns.StartHealthCheckRoutine(bgCtx, 0)
	}

	serveErr := make(chan error, 2)
	for _, srv := range []*http.Server{apiServer, opsServer} {
		go func(srv *http.Server) {
			log.WithField("addr", srv.Addr).Info("listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- fmt.Errorf("server %s: %w", srv.Addr, err)
			}
		}(srv)
	}

	log.WithField("version", version).Info("gatehouse started")

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case err := <-serveErr:
			log.WithError(err).Error("server failed")
			cancel()
		case <-waitCtx.Done():
		}
	}()

	err = shutdown.WaitForShutdown(waitCtx)
	if closeErr := a.close(); closeErr != nil {
		err = errors.Join(err, closeErr)
	}
	return err
}
