package metrics

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Report outcomes used as the "result" label of ReportsReceived.
const (
	ReportApplied        = "applied"
	ReportUnknownVehicle = "unknown_vehicle"
	ReportInvalid        = "invalid"
	ReportDecodeError    = "decode_error"
	ReportError          = "error"
)

type Collector struct {
	reg *prometheus.Registry

	Vehicles      prometheus.Gauge
	StaleVehicles prometheus.Gauge
	StreamClients prometheus.Gauge

	Ticks           prometheus.Counter
	ReportsReceived *prometheus.CounterVec // result label

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge

	HTTPRequests *prometheus.CounterVec // route, code labels

	TickDuration    prometheus.Histogram
	PublishDuration prometheus.Histogram

	TickInterval  prometheus.Gauge // seconds
	JitterDegrees prometheus.Gauge
}

func NewCollector(tickInterval time.Duration, jitter float64) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		Vehicles: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_vehicles",
			Help: "Number of vehicles in the fleet.",
		}),
		StaleVehicles: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_stale_vehicles",
			Help: "Number of reporting vehicles whose last report is too old.",
		}),
		StreamClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_stream_clients",
			Help: "Number of connected WebSocket stream clients.",
		}),
		Ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_ticks_total",
			Help: "Total ticks applied to the fleet.",
		}),
		ReportsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_reports_total",
			Help: "Position reports received, by result.",
		}, []string{"result"}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_http_requests_total",
			Help: "HTTP requests served, by route and status code.",
		}, []string{"route", "code"}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracker_tick_duration_seconds",
			Help:    "Duration of a full tick step.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 15),
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracker_publish_duration_seconds",
			Help:    "Duration to marshal and publish a NATS message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		TickInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_tick_interval_seconds",
			Help: "Tick interval in seconds.",
		}),
		JitterDegrees: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_jitter_degrees",
			Help: "Per-axis movement bound applied on each tick.",
		}),
	}

	reg.MustRegister(
		c.Vehicles, c.StaleVehicles, c.StreamClients,
		c.Ticks, c.ReportsReceived,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected,
		c.HTTPRequests, c.TickDuration, c.PublishDuration,
		c.TickInterval, c.JitterDegrees,
	)

	c.TickInterval.Set(tickInterval.Seconds())
	c.JitterDegrees.Set(jitter)

	return c
}

// Registry exposes the private registry, mainly for tests.
func (c *Collector) Registry() *prometheus.Registry { return c.reg }

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", slog.String("error", err.Error()))
		}
	}()
	logger.Info("metrics listening", slog.String("addr", addr))
	return srv
}

// The methods below let a *Collector satisfy the small metric interfaces
// declared by the sim, publisher and api packages.

func (c *Collector) TickObserve(d time.Duration, vehicles, stale int) {
	c.Ticks.Inc()
	c.TickDuration.Observe(d.Seconds())
	c.Vehicles.Set(float64(vehicles))
	c.StaleVehicles.Set(float64(stale))
}

func (c *Collector) ReportInc(result string) { c.ReportsReceived.WithLabelValues(result).Inc() }

func (c *Collector) NATSPublishedInc()              { c.NATSPublished.Inc() }
func (c *Collector) NATSPublishErrInc()             { c.NATSPublishErrs.Inc() }
func (c *Collector) PublishObserve(d time.Duration) { c.PublishDuration.Observe(d.Seconds()) }
func (c *Collector) NATSSetConnected(connected bool) {
	if connected {
		c.NATSConnected.Set(1)
	} else {
		c.NATSConnected.Set(0)
	}
}

func (c *Collector) StreamClientsSet(n int) { c.StreamClients.Set(float64(n)) }

func (c *Collector) HTTPRequestInc(route string, code int) {
	c.HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}
