package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bus-tracker/internal/api"
	"bus-tracker/internal/config"
	"bus-tracker/internal/logging"
	"bus-tracker/internal/metrics"
	"bus-tracker/internal/publisher"
	"bus-tracker/internal/sim"
	"bus-tracker/internal/tracker"
	"bus-tracker/internal/transit"
)

func main() {
	// Load configuration from .env and environment
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger := logging.NewStructuredLogger(os.Stdout, logging.ParseLevel(cfg.LogLevel))
	slog.SetDefault(logger)

	// Root context with cancellation on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		var cfgErr *transit.ConfigError
		if errors.As(err, &cfgErr) {
			logging.LogError(logger, "invalid catalog", err,
				slog.String("kind", cfgErr.Kind),
				slog.String("id", cfgErr.ID))
		} else {
			logging.LogError(logger, "tracker stopped", err)
		}
		cancel()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	cat, err := loadCatalog(ctx, cfg, logger)
	if err != nil {
		return err
	}

	fleet := tracker.New(tracker.Options{Jitter: jitterOption(cfg.JitterDegrees), Seed: cfg.RandomSeed})
	if err := fleet.Load(cat); err != nil {
		return err
	}
	logging.LogOperation(logger, "catalog loaded",
		slog.String("source", cfg.CatalogSource),
		slog.Int("routes", len(cat.Routes)),
		slog.Int("stops", len(cat.Stops)),
		slog.Int("vehicles", len(cat.Vehicles)))

	// Metrics setup. The nil interfaces below stay nil when metrics are off.
	var (
		mcol       *metrics.Collector
		simMetrics sim.Metrics
		pubMetrics publisher.PublisherMetrics
		apiMetrics api.HTTPMetrics
		hubMetrics api.StreamMetrics
	)
	if cfg.MetricsAddr != "" {
		mcol = metrics.NewCollector(cfg.TickInterval, fleet.Jitter())
		simMetrics, pubMetrics, apiMetrics, hubMetrics = mcol, mcol, mcol, mcol
		srv := mcol.Serve(cfg.MetricsAddr, logger)
		defer shutdownServer(srv, logger, "metrics")
	}

	// NATS is optional; without it the tracker only serves HTTP.
	var simPub sim.Publisher
	var pub *publisher.NATSPublisher
	if cfg.NATSURL != "" {
		pub, err = publisher.NewNATSPublisher(cfg.NATSURL, cfg.NATSSubjectPrefix, cfg.LogNATSSubjects, pubMetrics, logger)
		if err != nil {
			return err
		}
		defer pub.Close()
		simPub = pub
	}

	mgr := sim.NewManager(fleet, simPub, cfg.TickInterval, cfg.StaleAfter, simMetrics, logger)
	if pub != nil && cfg.NATSReportSubject != "" {
		if _, err := pub.SubscribeReports(cfg.NATSReportSubject, mgr.HandleReport); err != nil {
			return err
		}
	}

	hub := api.NewHub(fleet, logger, hubMetrics)
	mgr.Subscribe(hub)

	apiServer := api.NewServer(api.Options{
		Reader:       fleet,
		Stream:       hub,
		Logger:       logger,
		Metrics:      apiMetrics,
		RateLimitRPS: cfg.RateLimitRPS,
	})
	defer apiServer.Close()

	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http listening", slog.String("addr", cfg.HTTPAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	mgr.Start(ctx)

	// Block until cancelled or the listener fails
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			mgr.Stop()
			hub.Close()
			return err
		}
	}

	// Stop scheduling ticks first so no update races the shutdown
	mgr.Stop()
	hub.Close()
	shutdownServer(httpSrv, logger, "http")
	logger.Info("shutdown complete")
	return nil
}

// jitterOption maps the configured bound onto tracker.Options, where zero
// means the default and negative disables movement.
func jitterOption(degrees float64) float64 {
	if degrees == 0 {
		return -1
	}
	return degrees
}

func shutdownServer(srv *http.Server, logger *slog.Logger, name string) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown", slog.String("server", name), slog.String("error", err.Error()))
	}
}
