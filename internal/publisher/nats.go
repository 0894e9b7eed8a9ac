package publisher

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"bus-tracker/internal/metrics"
	"bus-tracker/internal/transit"
)

var ErrEmptyReport = errors.New("report has no vehicle id")

type NATSPublisher struct {
	nc          *nats.Conn
	prefix      string
	logSubjects bool
	metrics     PublisherMetrics
	logger      *slog.Logger
}

type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	PublishObserve(d time.Duration)
	NATSSetConnected(connected bool)
	ReportInc(result string)
}

func NewNATSPublisher(url, prefix string, logSubjects bool, m PublisherMetrics, logger *slog.Logger) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("bus-tracker"),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			if err != nil {
				logger.Warn("nats disconnected", slog.String("error", err.Error()))
				return
			}
			logger.Warn("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			logger.Info("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			logger.Info("nats closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", url, err)
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	return &NATSPublisher{nc: nc, prefix: prefix, logSubjects: logSubjects, metrics: m, logger: logger}, nil
}

// Close drains pending publishes and subscriptions, then closes the connection.
func (p *NATSPublisher) Close() {
	if p.nc != nil {
		if err := p.nc.Drain(); err != nil {
			p.logger.Warn("nats drain", slog.String("error", err.Error()))
		}
		p.nc.Close()
	}
}

type PositionMessage struct {
	VehicleID  string    `json:"vehicleId"`
	RouteCode  string    `json:"routeCode"`
	Timestamp  time.Time `json:"timestamp"`
	Lat        float64   `json:"lat"`
	Lon        float64   `json:"lon"`
	Direction  string    `json:"direction,omitempty"`
	NextStop   string    `json:"nextStop"`
	ETAMinutes int       `json:"etaMinutes"`
	Stale      bool      `json:"stale"`
}

func NewPositionMessage(v transit.Vehicle, at time.Time) PositionMessage {
	return PositionMessage{
		VehicleID:  v.ID,
		RouteCode:  v.RouteCode,
		Timestamp:  at,
		Lat:        v.Position.Lat,
		Lon:        v.Position.Lon,
		Direction:  v.Direction,
		NextStop:   v.NextStop,
		ETAMinutes: v.ETAMinutes,
		Stale:      v.Stale,
	}
}

// Subject returns <prefix>.<route>.<vehicle> with every token sanitized.
func Subject(prefix, routeCode, vehicleID string) string {
	route := fmt.Sprintf("%s.%s", subjectToken(routeCode), subjectToken(vehicleID))
	if prefix == "" {
		return route
	}
	return prefix + "." + route
}

// PublishVehicles publishes one message per vehicle. It keeps going after a
// failed publish and returns the joined errors.
func (p *NATSPublisher) PublishVehicles(vs []transit.Vehicle, at time.Time) error {
	var errs []error
	for _, v := range vs {
		if err := p.publish(Subject(p.prefix, v.RouteCode, v.ID), NewPositionMessage(v, at)); err != nil {
			errs = append(errs, fmt.Errorf("vehicle %s: %w", v.ID, err))
		}
	}
	return errors.Join(errs...)
}

func (p *NATSPublisher) publish(subject string, msg PositionMessage) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if p.logSubjects {
		p.logger.Debug("nats publish", slog.String("subject", subject))
	}
	start := time.Now()
	err = p.nc.Publish(subject, b)
	if p.metrics != nil {
		p.metrics.PublishObserve(time.Since(start))
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	return err
}

// SubscribeReports decodes position reports arriving on subject and hands them
// to handle. Undecodable payloads are logged and dropped.
func (p *NATSPublisher) SubscribeReports(subject string, handle func(transit.PositionReport) error) (*nats.Subscription, error) {
	sub, err := p.nc.Subscribe(subject, func(msg *nats.Msg) {
		r, err := DecodeReport(msg.Subject, msg.Data)
		if err != nil {
			if p.metrics != nil {
				p.metrics.ReportInc(metrics.ReportDecodeError)
			}
			p.logger.Warn("dropping position report",
				slog.String("subject", msg.Subject),
				slog.String("error", err.Error()))
			return
		}
		// handle logs and counts its own failures
		_ = handle(r)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	p.logger.Info("subscribed to position reports", slog.String("subject", subject))
	return sub, nil
}

// DecodeReport parses a JSON position report. When the payload carries no
// vehicle id, the last token of the subject is used.
func DecodeReport(subject string, data []byte) (transit.PositionReport, error) {
	var r transit.PositionReport
	if err := json.Unmarshal(data, &r); err != nil {
		return transit.PositionReport{}, fmt.Errorf("decode report: %w", err)
	}
	if r.VehicleID == "" {
		if i := strings.LastIndexByte(subject, '.'); i >= 0 && i < len(subject)-1 {
			r.VehicleID = subject[i+1:]
		}
	}
	if r.VehicleID == "" {
		return transit.PositionReport{}, ErrEmptyReport
	}
	return r, nil
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or trailing '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
