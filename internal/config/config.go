package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Catalog sources.
const (
	SourceBuiltin  = "builtin"
	SourceFile     = "file"
	SourceGTFS     = "gtfs"
	SourcePostgres = "postgres"
)

type Config struct {
	CatalogSource    string
	CatalogPath      string
	VehiclesPerRoute int

	DatabaseURL string
	City        string

	TickInterval  time.Duration
	JitterDegrees float64
	RandomSeed    uint64
	StaleAfter    time.Duration

	NATSURL           string
	NATSSubjectPrefix string
	NATSReportSubject string
	LogNATSSubjects   bool

	HTTPAddr     string
	RateLimitRPS int
	MetricsAddr  string
	LogLevel     string
}

func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.CatalogSource = strings.ToLower(getenvDefault("CATALOG_SOURCE", SourceBuiltin))
	cfg.CatalogPath = os.Getenv("CATALOG_PATH")
	switch cfg.CatalogSource {
	case SourceBuiltin:
	case SourceFile, SourceGTFS:
		if cfg.CatalogPath == "" {
			return nil, fmt.Errorf("CATALOG_PATH must be set for CATALOG_SOURCE=%s", cfg.CatalogSource)
		}
	case SourcePostgres:
		dsn, err := databaseURL()
		if err != nil {
			return nil, err
		}
		cfg.DatabaseURL = dsn
		cfg.City = firstNonEmpty(os.Getenv("CITY"), os.Getenv("CITY_NAME"))
	default:
		return nil, fmt.Errorf("invalid CATALOG_SOURCE: %q", cfg.CatalogSource)
	}

	n, err := intEnv("VEHICLES_PER_ROUTE", 2, 0)
	if err != nil {
		return nil, err
	}
	cfg.VehiclesPerRoute = n

	ms, err := intEnv("TICK_INTERVAL_MS", 5000, 1)
	if err != nil {
		return nil, err
	}
	cfg.TickInterval = time.Duration(ms) * time.Millisecond

	if v := os.Getenv("JITTER_DEGREES"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f < 0 || f > 1 {
			return nil, fmt.Errorf("invalid JITTER_DEGREES: %q", v)
		}
		cfg.JitterDegrees = f
	} else {
		cfg.JitterDegrees = 0.001
	}

	if v := os.Getenv("RANDOM_SEED"); v != "" {
		seed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid RANDOM_SEED: %q", v)
		}
		cfg.RandomSeed = seed
	}

	sec, err := intEnv("STALE_AFTER_SEC", 60, 1)
	if err != nil {
		return nil, err
	}
	cfg.StaleAfter = time.Duration(sec) * time.Second

	// Empty NATS_URL disables publishing and report ingestion.
	cfg.NATSURL = os.Getenv("NATS_URL")
	cfg.NATSSubjectPrefix = getenvDefault("NATS_SUBJECT_PREFIX", "vehicles")
	cfg.NATSReportSubject = getenvDefault("NATS_REPORTS_SUBJECT", "reports.>")
	cfg.LogNATSSubjects = parseBool(os.Getenv("LOG_NATS_SUBJECTS"))

	cfg.HTTPAddr = getenvDefault("HTTP_ADDR", ":8080")
	rps, err := intEnv("RATE_LIMIT_RPS", 20, 0)
	if err != nil {
		return nil, err
	}
	cfg.RateLimitRPS = rps

	// Metrics listen address (e.g., ":9102"). Empty disables the metrics server.
	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")
	cfg.LogLevel = getenvDefault("LOG_LEVEL", "info")

	return cfg, nil
}

// databaseURL prefers DATABASE_URL / PG_DSN, else builds a DSN from PG* vars.
func databaseURL() (string, error) {
	if dsn := firstNonEmpty(os.Getenv("DATABASE_URL"), os.Getenv("PG_DSN")); dsn != "" {
		return dsn, nil
	}
	host := getenvDefault("PGHOST", "127.0.0.1")
	port := getenvDefault("PGPORT", "5432")
	user := getenvDefault("PGUSER", "postgres")
	pass := os.Getenv("PGPASSWORD")
	db := os.Getenv("PGDATABASE")
	// With CITY the base DB only serves to find the latest import.
	if db == "" && firstNonEmpty(os.Getenv("CITY"), os.Getenv("CITY_NAME")) != "" {
		db = "postgres"
	}
	if db == "" {
		return "", fmt.Errorf("PGDATABASE or DATABASE_URL must be set (set PGDATABASE=postgres when using CITY)")
	}
	sslmode := getenvDefault("PGSSLMODE", "disable")
	if pass != "" {
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", urlEscape(user), urlEscape(pass), host, port, db, sslmode), nil
	}
	return fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s", urlEscape(user), host, port, db, sslmode), nil
}

func intEnv(key string, def, min int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < min {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return n, nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	default:
		return false
	}
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func urlEscape(s string) string {
	r := strings.NewReplacer("@", "%40", ":", "%3A", "/", "%2F", "?", "%3F", "#", "%23")
	return r.Replace(s)
}
