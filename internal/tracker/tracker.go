// Package tracker owns the authoritative set of routes, stops and vehicles and
// serves the queries a map front-end renders from.
//
// All writes go through a single mutex and publish a fresh immutable state, so
// readers never observe a partially applied tick.
package tracker

import (
	"errors"
	"math"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"bus-tracker/internal/transit"
)

// DefaultJitter is the per-axis bound, in degrees, of the simulated movement.
const DefaultJitter = 0.001

var (
	ErrUnknownVehicle = errors.New("unknown vehicle")
	ErrInvalidReport  = errors.New("invalid position report")
)

// Reader is the read side a renderer needs.
type Reader interface {
	ListVehicles() []transit.Vehicle
	FindRoutes(query string) []transit.Route
	VehiclesForRoute(code string) []transit.Vehicle
	NearestStop(p transit.Point) (transit.Stop, bool)
	Routes() []transit.Route
	Stops() []transit.Stop
	Tickets() []transit.Ticket
}

type Options struct {
	// Jitter is the per-axis movement bound in degrees. Zero or a non-finite
	// value means DefaultJitter; negative disables movement.
	Jitter float64
	// Seed makes the jitter sequence reproducible. Zero seeds from the clock.
	Seed uint64
	// Now overrides the clock used for UpdatedAt stamps.
	Now func() time.Time
}

type FleetTracker struct {
	mu     sync.Mutex // serializes writers; guards rng
	rng    *rand.Rand
	jitter float64
	now    func() time.Time

	state atomic.Pointer[state]
}

// state is never mutated once stored.
type state struct {
	routes   []transit.Route
	codes    map[string]int
	stops    []transit.Stop
	tickets  []transit.Ticket
	vehicles []transit.Vehicle
	byID     map[string]int
	version  uint64
}

func New(opts Options) *FleetTracker {
	jitter := opts.Jitter
	switch {
	case jitter == 0 || math.IsNaN(jitter) || math.IsInf(jitter, 0):
		jitter = DefaultJitter
	case jitter < 0:
		jitter = 0
	}
	seed := opts.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	t := &FleetTracker{
		rng:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		jitter: jitter,
		now:    now,
	}
	t.state.Store(&state{codes: map[string]int{}, byID: map[string]int{}})
	return t
}

// Jitter returns the configured movement bound in degrees.
func (t *FleetTracker) Jitter() float64 { return t.jitter }

// Version increases with every write.
func (t *FleetTracker) Version() uint64 { return t.state.Load().version }

// Tick nudges every simulated vehicle by a bounded random offset on each axis
// and counts its ETA down, never below one minute. Vehicles fed by position
// reports keep their reported position.
func (t *FleetTracker) Tick() {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur := t.state.Load()
	next := cur.clone()
	now := t.now()
	for i := range next.vehicles {
		v := &next.vehicles[i]
		if !v.Tracked() {
			v.Position.Lat += t.offset()
			v.Position.Lon += t.offset()
		}
		v.ETAMinutes = max(1, v.ETAMinutes-1)
		v.UpdatedAt = now
	}
	t.store(next)
}

// offset draws uniformly from [-jitter, jitter]. Callers hold t.mu.
func (t *FleetTracker) offset() float64 {
	if t.jitter == 0 {
		return 0
	}
	return (t.rng.Float64()*2 - 1) * t.jitter
}

// ListVehicles returns a copy of the current fleet.
func (t *FleetTracker) ListVehicles() []transit.Vehicle {
	return slices.Clone(t.state.Load().vehicles)
}

// Vehicle returns the vehicle with the given id.
func (t *FleetTracker) Vehicle(id string) (transit.Vehicle, bool) {
	s := t.state.Load()
	i, ok := s.byID[id]
	if !ok {
		return transit.Vehicle{}, false
	}
	return s.vehicles[i], true
}

func (t *FleetTracker) Routes() []transit.Route {
	return cloneRoutes(t.state.Load().routes)
}

func (t *FleetTracker) Stops() []transit.Stop {
	return cloneStops(t.state.Load().stops)
}

// Tickets returns the fare products in catalog order.
func (t *FleetTracker) Tickets() []transit.Ticket {
	ts := t.state.Load().tickets
	return append(make([]transit.Ticket, 0, len(ts)), ts...)
}

// FindRoutes matches query case-insensitively against route names and codes.
// Surrounding whitespace is trimmed first, so an empty or all-blank query
// returns every route. Catalog order is preserved.
func (t *FleetTracker) FindRoutes(query string) []transit.Route {
	routes := t.state.Load().routes
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return cloneRoutes(routes)
	}
	out := make([]transit.Route, 0)
	for _, r := range routes {
		if strings.Contains(strings.ToLower(r.Name), q) || strings.Contains(strings.ToLower(r.Code), q) {
			out = append(out, cloneRoute(r))
		}
	}
	return out
}

// VehiclesForRoute returns the vehicles running the route code. Unknown codes
// yield an empty result.
func (t *FleetTracker) VehiclesForRoute(code string) []transit.Vehicle {
	out := make([]transit.Vehicle, 0)
	for _, v := range t.state.Load().vehicles {
		if v.RouteCode == code {
			out = append(out, v)
		}
	}
	return out
}

// NearestStop returns the stop closest to p. On ties the first loaded stop wins.
func (t *FleetTracker) NearestStop(p transit.Point) (transit.Stop, bool) {
	stops := t.state.Load().stops
	best := -1
	bestDist := 0.0
	for i, s := range stops {
		d := transit.DistanceMeters(p, s.Position)
		if best < 0 || d < bestDist {
			best, bestDist = i, d
		}
	}
	if best < 0 {
		return transit.Stop{}, false
	}
	return cloneStop(stops[best]), true
}

// ApplyReport moves a vehicle to an authoritative position and clears its stale flag.
func (t *FleetTracker) ApplyReport(r transit.PositionReport) error {
	if !r.Position.Valid() {
		return ErrInvalidReport
	}
	if r.ETAMinutes != nil && *r.ETAMinutes < 0 {
		return ErrInvalidReport
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	cur := t.state.Load()
	i, ok := cur.byID[r.VehicleID]
	if !ok {
		return ErrUnknownVehicle
	}
	next := cur.clone()
	v := &next.vehicles[i]
	at := r.At
	if at.IsZero() {
		at = t.now()
	}
	v.Position = r.Position
	if r.NextStop != "" {
		v.NextStop = r.NextStop
	}
	if r.ETAMinutes != nil {
		// a displayed countdown never reads zero
		v.ETAMinutes = max(1, *r.ETAMinutes)
	}
	v.LastReport = at
	v.UpdatedAt = at
	v.Stale = false
	t.store(next)
	return nil
}

// MarkStale flags reporting vehicles whose last report is older than maxAge and
// returns how many vehicles are stale afterwards.
func (t *FleetTracker) MarkStale(now time.Time, maxAge time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur := t.state.Load()
	var next *state
	count := 0
	for i, v := range cur.vehicles {
		stale := v.Tracked() && now.Sub(v.LastReport) > maxAge
		if stale {
			count++
		}
		if stale == v.Stale {
			continue
		}
		if next == nil {
			next = cur.clone()
		}
		next.vehicles[i].Stale = stale
	}
	if next != nil {
		t.store(next)
	}
	return count
}

// store publishes s. Callers hold t.mu.
func (t *FleetTracker) store(s *state) {
	s.version = t.state.Load().version + 1
	t.state.Store(s)
}

// clone copies the vehicle slice; the catalog and indexes are shared since
// they are never mutated after load.
func (s *state) clone() *state {
	return &state{
		routes:   s.routes,
		codes:    s.codes,
		stops:    s.stops,
		tickets:  s.tickets,
		vehicles: slices.Clone(s.vehicles),
		byID:     s.byID,
		version:  s.version,
	}
}

func cloneRoute(r transit.Route) transit.Route {
	r.Path = slices.Clone(r.Path)
	return r
}

func cloneRoutes(rs []transit.Route) []transit.Route {
	out := make([]transit.Route, len(rs))
	for i, r := range rs {
		out[i] = cloneRoute(r)
	}
	return out
}

func cloneStop(s transit.Stop) transit.Stop {
	s.Routes = slices.Clone(s.Routes)
	return s
}

func cloneStops(ss []transit.Stop) []transit.Stop {
	out := make([]transit.Stop, len(ss))
	for i, s := range ss {
		out[i] = cloneStop(s)
	}
	return out
}
