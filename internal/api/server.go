// Package api serves the tracker over HTTP: JSON queries, a WebSocket live
// stream and a GTFS-Realtime vehicle positions feed.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"

	"bus-tracker/internal/tracker"
)

type HTTPMetrics interface {
	HTTPRequestInc(route string, code int)
}

type Options struct {
	Reader tracker.Reader
	// Stream serves /api/stream. Nil leaves the route unregistered.
	Stream       *Hub
	Logger       *slog.Logger
	Metrics      HTTPMetrics
	RateLimitRPS int
	Compression  CompressionConfig
	Now          func() time.Time
}

type Server struct {
	reader      tracker.Reader
	stream      *Hub
	logger      *slog.Logger
	metrics     HTTPMetrics
	limiter     *RateLimiter
	compression CompressionConfig
	now         func() time.Time
}

func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	compression := opts.Compression
	if compression == (CompressionConfig{}) {
		compression = DefaultCompressionConfig()
	}
	return &Server{
		reader:      opts.Reader,
		stream:      opts.Stream,
		logger:      logger,
		metrics:     opts.Metrics,
		limiter:     NewRateLimiter(opts.RateLimitRPS, time.Second),
		compression: compression,
		now:         now,
	}
}

// Handler returns the full middleware chain around the router.
func (s *Server) Handler() http.Handler {
	router := httprouter.New()
	router.NotFound = http.HandlerFunc(s.notFound)
	router.MethodNotAllowed = http.HandlerFunc(s.methodNotAllowed)

	s.handle(router, "/api/routes", s.routesHandler, true)
	s.handle(router, "/api/routes/:code/vehicles", s.routeVehiclesHandler, true)
	s.handle(router, "/api/vehicles", s.vehiclesHandler, true)
	s.handle(router, "/api/stops", s.stopsHandler, true)
	s.handle(router, "/api/stops/nearest", s.nearestStopHandler, true)
	s.handle(router, "/api/tickets", s.ticketsHandler, true)
	s.handle(router, "/gtfs-rt/vehicle-positions", s.vehiclePositionsHandler, true)
	s.handle(router, "/healthz", s.healthHandler, false)
	if s.stream != nil {
		// Hijacked connections must not sit behind the gzip writer.
		s.handle(router, "/api/stream", s.stream.ServeHTTP, false)
	}

	return NewRequestLoggingMiddleware(s.logger)(s.limiter.Middleware(router))
}

// Close releases the rate limiter state.
func (s *Server) Close() { s.limiter.Stop() }

func (s *Server) handle(router *httprouter.Router, path string, h http.HandlerFunc, compress bool) {
	var next http.Handler = h
	if compress {
		next = NewCompressionMiddleware(s.compression)(next)
	}
	router.Handler(http.MethodGet, path, s.count(path, next))
}

func (s *Server) count(route string, next http.Handler) http.Handler {
	if s.metrics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := newStatusRecorder(w)
		next.ServeHTTP(rec, r)
		s.metrics.HTTPRequestInc(route, rec.statusCode)
	})
}
