package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/platinummonkey/tierbill/pkg/api"
	"github.com/platinummonkey/tierbill/pkg/app"
	"github.com/platinummonkey/tierbill/pkg/config"
	"github.com/platinummonkey/tierbill/pkg/observability"
)

func main() {
	// A missing .env is fine; the environment may already be populated.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		observability.NewLogger(observability.ErrorLevel, nil).WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg.Observability.LogLevel, nil).WithField("service", "billing-server")

	ctx := context.Background()
	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize OpenTelemetry")
		os.Exit(1)
	}

	infra, err := app.Connect(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to connect to backing services")
		os.Exit(1)
	}

	var (
		metrics  *observability.Metrics
		registry *prometheus.Registry
	)
	if cfg.Observability.MetricsEnabled {
		registry = prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = observability.NewMetrics(registry)
	}

	billingApp, err := app.New(cfg, infra, app.Options{Metrics: metrics, Logger: logger})
	if err != nil {
		logger.WithError(err).Error("Failed to assemble billing engine")
		infra.Close()
		os.Exit(1)
	}

	// The server runs jobs on demand only; cron lives in billing-scheduler.
	runner := billingApp.Runner(nil)

	apiCfg := api.Config{
		Location: billingApp.Location,
		Logger:   logger,
		Metrics:  metrics,
		Health:   observability.NewHealthChecker(infra.DB, infra.Redis, cfg.Observability.OTelServiceVersion),
	}
	if registry != nil {
		apiCfg.Gatherer = registry
	}
	server := api.NewServer(billingApp.APIDependencies(runner), apiCfg)

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	shutdown.Register(func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, otelProviders, logger)
	})
	shutdown.Register(func(ctx context.Context) error {
		return infra.Close()
	})

	if metrics != nil {
		stop := make(chan struct{})
		go reportDBStats(infra, metrics, stop)
		shutdown.Register(func(ctx context.Context) error {
			close(stop)
			return nil
		})
	}

	go func() {
		logger.Infof("Starting billing API on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("HTTP server failed")
			os.Exit(1)
		}
	}()

	if err := shutdown.WaitForSignal(); err != nil {
		logger.WithError(err).Error("Shutdown finished with errors")
		os.Exit(1)
	}
}

func reportDBStats(infra *app.Infra, metrics *observability.Metrics, stop <-chan struct{}) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			metrics.RecordDBStats(infra.DB.Stats())
		}
	}
}
