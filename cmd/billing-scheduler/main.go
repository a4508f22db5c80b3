package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/tierbill/pkg/app"
	"github.com/platinummonkey/tierbill/pkg/config"
	"github.com/platinummonkey/tierbill/pkg/jobs"
	"github.com/platinummonkey/tierbill/pkg/observability"
)

var (
	runOnce     = flag.Bool("run-once", false, "Run a single job and exit (requires --job)")
	jobName     = flag.String("job", "", "Job to run with --run-once: snapshot, invoicing, alerts, suspend, expire-coupons")
	metricsAddr = flag.String("metrics-addr", ":9102", "Address for the /metrics endpoint; empty disables it")
)

func main() {
	flag.Parse()
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	logger, logFile := setupLogger(cfg.Observability.LogLevelName, cfg.Observability.LogFormat, cfg.Observability.LogFile)
	defer logFile.Close()
	logger.Info("Starting billing scheduler")

	// Service packages log through the structured slog logger; job runs go
	// through logrus.
	svcLogger := observability.NewLogger(cfg.Observability.LogLevel, logger.Out).WithField("service", "billing-scheduler")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	infra, err := app.Connect(ctx, cfg, svcLogger)
	if err != nil {
		logger.Fatalf("Failed to connect to backing services: %v", err)
	}
	defer infra.Close()

	var (
		metrics  *observability.Metrics
		registry *prometheus.Registry
	)
	if cfg.Observability.MetricsEnabled {
		registry = prometheus.NewRegistry()
		metrics = observability.NewMetrics(registry)
	}

	billingApp, err := app.New(cfg, infra, app.Options{Metrics: metrics, Logger: svcLogger})
	if err != nil {
		logger.Fatalf("Failed to assemble billing engine: %v", err)
	}
	runner := billingApp.Runner(logger)

	if *runOnce {
		if *jobName == "" {
			logger.Fatalf("--run-once requires --job (one of %v)", jobs.Names())
		}
		result, err := runner.RunJobManually(ctx, *jobName)
		if err != nil {
			logger.Fatalf("Job failed: %v", err)
		}
		logger.WithFields(logrus.Fields(result.Summary)).Infof("Job %s completed", result.Job)
		return
	}

	if err := runner.Start(); err != nil {
		logger.Fatalf("Failed to start scheduler: %v", err)
	}
	for _, entry := range runner.Scheduled() {
		logger.Infof("Next %s run at %s (%s)", entry.Name, entry.Next.Format(time.RFC3339), entry.Schedule)
	}

	var metricsServer *http.Server
	if registry != nil && *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", observability.MetricsHandler(registry))
		metricsServer = &http.Server{Addr: *metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Errorf("Metrics server failed: %v", err)
			}
		}()
		logger.Infof("Serving metrics on %s", *metricsAddr)
	}

	// Wait for termination signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	logger.Info("Shutting down gracefully...")
	cancel()

	// Let running jobs finish
	<-runner.Stop().Done()

	if metricsServer != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warnf("Metrics server shutdown: %v", err)
		}
	}
	logger.Info("Scheduler stopped")
}
