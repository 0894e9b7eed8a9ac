package main

import (
	"context"
	"fmt"
	"log/slog"

	"bus-tracker/internal/catalog"
	"bus-tracker/internal/config"
	"bus-tracker/internal/db"
	"bus-tracker/internal/logging"
	"bus-tracker/internal/transit"
)

// loadCatalog reads the configured source. Sources without a fleet of their
// own get vehicles seeded along each route.
func loadCatalog(ctx context.Context, cfg *config.Config, logger *slog.Logger) (transit.Catalog, error) {
	var (
		cat transit.Catalog
		err error
	)
	switch cfg.CatalogSource {
	case config.SourceBuiltin:
		cat, err = catalog.Builtin()
	case config.SourceFile:
		cat, err = catalog.LoadFile(cfg.CatalogPath)
	case config.SourceGTFS:
		cat, err = catalog.LoadGTFS(cfg.CatalogPath)
	case config.SourcePostgres:
		cat, err = loadFromPostgres(ctx, cfg, logger)
	default:
		return transit.Catalog{}, fmt.Errorf("unknown catalog source %q", cfg.CatalogSource)
	}
	if err != nil {
		return transit.Catalog{}, err
	}
	return catalog.SeedVehicles(cat, cfg.VehiclesPerRoute), nil
}

func loadFromPostgres(ctx context.Context, cfg *config.Config, logger *slog.Logger) (transit.Catalog, error) {
	conn, name, err := db.OpenForCity(ctx, cfg.DatabaseURL, cfg.City)
	if err != nil {
		return transit.Catalog{}, err
	}
	defer logging.SafeCloseWithLogging(conn, logger, "close catalog database")
	if name != "" {
		logger.Info("using city database", slog.String("database", name), slog.String("city", cfg.City))
	}
	return db.LoadCatalog(ctx, conn)
}
