package sim

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"bus-tracker/internal/metrics"
	"bus-tracker/internal/tracker"
	"bus-tracker/internal/transit"
)

// Fleet is the write side of the tracker the manager drives.
type Fleet interface {
	Tick()
	MarkStale(now time.Time, maxAge time.Duration) int
	ListVehicles() []transit.Vehicle
	ApplyReport(r transit.PositionReport) error
}

type Publisher interface {
	PublishVehicles(vs []transit.Vehicle, at time.Time) error
}

// Listener is notified with the fleet snapshot after every tick.
type Listener interface {
	VehiclesUpdated(vs []transit.Vehicle)
}

type Metrics interface {
	TickObserve(d time.Duration, vehicles, stale int)
	ReportInc(result string)
}

type Manager struct {
	fleet      Fleet
	pub        Publisher
	interval   time.Duration
	staleAfter time.Duration
	metrics    Metrics
	logger     *slog.Logger

	mu        sync.Mutex
	listeners []Listener

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager builds a manager. pub and metrics may be nil.
func NewManager(fleet Fleet, pub Publisher, interval, staleAfter time.Duration, met Metrics, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		fleet:      fleet,
		pub:        pub,
		interval:   interval,
		staleAfter: staleAfter,
		metrics:    met,
		logger:     logger,
	}
}

func (m *Manager) Subscribe(l Listener) {
	m.mu.Lock()
	m.listeners = append(m.listeners, l)
	m.mu.Unlock()
}

// Start runs Step every interval on a single goroutine until ctx is done or
// Stop is called. Calling Start twice is a no-op.
func (m *Manager) Start(parent context.Context) {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(parent)
	m.cancel = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		m.logger.Info("tick loop started", slog.Duration("interval", m.interval))
		for {
			select {
			case <-ctx.Done():
				m.logger.Info("tick loop stopped")
				return
			case now := <-ticker.C:
				m.Step(now)
			}
		}
	}()
}

// Stop cancels the tick loop and waits for the in-flight step to finish.
// The manager can be started again afterwards.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	m.wg.Wait()

	m.mu.Lock()
	m.cancel = nil
	m.mu.Unlock()
}

// Step applies one tick and fans the resulting snapshot out.
func (m *Manager) Step(now time.Time) {
	start := time.Now()
	m.fleet.Tick()
	stale := 0
	if m.staleAfter > 0 {
		stale = m.fleet.MarkStale(now, m.staleAfter)
	}
	vs := m.fleet.ListVehicles()
	if m.metrics != nil {
		m.metrics.TickObserve(time.Since(start), len(vs), stale)
	}

	if m.pub != nil {
		if err := m.pub.PublishVehicles(vs, now); err != nil {
			m.logger.Error("publish vehicles", slog.String("error", err.Error()))
		}
	}

	m.mu.Lock()
	listeners := make([]Listener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()
	for _, l := range listeners {
		l.VehiclesUpdated(vs)
	}
}

// HandleReport applies an authoritative position report, counting the outcome.
func (m *Manager) HandleReport(r transit.PositionReport) error {
	err := m.fleet.ApplyReport(r)
	result := metrics.ReportApplied
	switch {
	case err == nil:
	case errors.Is(err, tracker.ErrUnknownVehicle):
		result = metrics.ReportUnknownVehicle
	case errors.Is(err, tracker.ErrInvalidReport):
		result = metrics.ReportInvalid
	default:
		result = metrics.ReportError
	}
	if m.metrics != nil {
		m.metrics.ReportInc(result)
	}
	if err != nil {
		m.logger.Warn("position report rejected",
			slog.String("vehicle_id", r.VehicleID),
			slog.String("error", err.Error()))
	}
	return err
}
