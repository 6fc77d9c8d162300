package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"bwdash/pkg/bus"
	gos3 "bwdash/pkg/s3"
	"bwdash/pkg/telemetry"
	"bwdash/services/dashboard/internal/config"
	"bwdash/services/dashboard/internal/fanout"
	"bwdash/services/dashboard/internal/frontdoor"
	"bwdash/services/dashboard/internal/metrics"
	"bwdash/services/dashboard/internal/snapshot"
	"bwdash/services/dashboard/internal/updater"
)

const shutdownGrace = 10 * time.Second

func serve(ctx context.Context, cfg config.Config) error {
	shutdownTelemetry, middleware, logger, err := telemetry.Init(ctx, serviceName, telemetry.Options{
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		LogLevel:     cfg.Log.Level,
		LogFormat:    cfg.Log.Format,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("telemetry shutdown")
		}
	}()

	if err := cfg.CheckInstallDir(); err != nil {
		return err
	}

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return run(ctx, cfg, ln, logger, middleware)
}

// run wires the dashboard onto ln and serves until ctx ends. Shutdown stops
// the updater first, then drains in-flight requests. run owns ln.
func run(ctx context.Context, cfg config.Config, ln net.Listener, logger zerolog.Logger, middleware func(http.Handler) http.Handler) error {
	defer ln.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	fan, err := newFanout(cfg, logger)
	if err != nil {
		return err
	}
	defer closeFanout(fan, logger)

	store, err := newStore(cfg, logger, m, fan)
	if err != nil {
		return err
	}
	if err := store.EnsureDir(); err != nil {
		return err
	}

	if cfg.RefreshOnStartup() {
		logger.Info().Msg("generating initial stats")
		if _, err := store.Regenerate(ctx, snapshot.TriggerStartup); err != nil {
			logger.Warn().Err(err).Msg("initial stats generation failed")
		}
	}

	upd, err := updater.New(store, cfg.Refresh.Interval, logger)
	if err != nil {
		return err
	}
	upd.Start(ctx)
	defer upd.Stop()

	fd, err := frontdoor.New(frontdoor.Config{
		InstallDir:   cfg.Paths.InstallDir,
		StaleAfter:   cfg.Refresh.StaleAfter,
		StaticMaxAge: cfg.Static.MaxAge,
	}, store, logger, m)
	if err != nil {
		return err
	}

	server := &http.Server{
		Handler:           middleware(fd.Routes()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)

	var metricsServer *http.Server
	if cfg.Metrics.Addr != "" {
		metricsServer = &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           metrics.Handler(reg),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics: %w", err)
			}
		}()
		logger.Info().Str("addr", cfg.Metrics.Addr).Msg("metrics listening")
	}

	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()

	base := fmt.Sprintf("http://localhost:%d", cfg.HTTP.Port)
	if tcp, ok := ln.Addr().(*net.TCPAddr); ok {
		base = fmt.Sprintf("http://localhost:%d", tcp.Port)
	}
	logger.Info().
		Str("addr", ln.Addr().String()).
		Str("install_dir", cfg.Paths.InstallDir).
		Str("dashboard", base+"/").
		Msg("dashboard server started")
	logger.Info().
		Str("stats", base+"/api/stats").
		Str("health", base+"/api/health").
		Str("refresh", base+"/api/refresh").
		Msg("api endpoints")

	var runErr error
	select {
	case runErr = <-errCh:
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
	}

	upd.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("http shutdown")
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics shutdown")
		}
	}
	logger.Info().Msg("http server stopped")
	return runErr
}

func newStore(cfg config.Config, logger zerolog.Logger, m *metrics.Metrics, fan *fanout.Fanout) (*snapshot.Store, error) {
	opts := snapshot.Options{
		StatsFile:   cfg.Paths.StatsFile,
		Script:      cfg.Paths.GenerateScript,
		Interpreter: cfg.Generator.Interpreter,
		Timeout:     cfg.Generator.Timeout,
		Logger:      logger,
		Metrics:     m,
	}
	if fan.Len() > 0 {
		opts.Notifier = fan
	}
	return snapshot.NewStore(opts)
}

// newFanout returns nil when neither NATS nor the archive is configured.
func newFanout(cfg config.Config, logger zerolog.Logger) (*fanout.Fanout, error) {
	var sinks []fanout.Sink

	if cfg.NATS.URL != "" {
		b, err := bus.New(cfg.NATS.URL, nats.Name(serviceName))
		if err != nil {
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		sinks = append(sinks, fanout.NewEventSink(b, cfg.NATS.Subject))
	}

	if cfg.Archive.Bucket != "" {
		client, err := gos3.NewClientFromEnv()
		if err != nil {
			closeSinks(sinks, logger)
			return nil, fmt.Errorf("s3 client: %w", err)
		}
		archive, err := fanout.NewArchiveSink(client, cfg.Archive.Bucket, cfg.Archive.Prefix)
		if err != nil {
			closeSinks(sinks, logger)
			return nil, err
		}
		sinks = append(sinks, archive)
	}

	if len(sinks) == 0 {
		return nil, nil
	}
	return fanout.New(logger, 0, sinks...), nil
}

func closeSinks(sinks []fanout.Sink, logger zerolog.Logger) {
	closeFanout(fanout.New(logger, 0, sinks...), logger)
}

func closeFanout(fan *fanout.Fanout, logger zerolog.Logger) {
	if err := fan.Close(); err != nil {
		logger.Warn().Err(err).Msg("close fan-out")
	}
}
