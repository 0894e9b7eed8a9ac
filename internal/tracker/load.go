package tracker

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/google/uuid"

	"bus-tracker/internal/transit"
)

// LoadRoutes replaces the route catalog. Stops and vehicles already loaded must
// still reference existing codes.
func (t *FleetTracker) LoadRoutes(routes []transit.Route) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur := t.state.Load()
	rs, codes, err := buildRoutes(routes)
	if err != nil {
		return err
	}
	if err := checkStops(cur.stops, codes); err != nil {
		return err
	}
	if _, err := checkVehicles(cur.vehicles, codes); err != nil {
		return err
	}
	next := cur.clone()
	next.routes, next.codes = rs, codes
	t.store(next)
	return nil
}

// LoadStops replaces the stop catalog.
func (t *FleetTracker) LoadStops(stops []transit.Stop) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur := t.state.Load()
	ss := prepareStops(stops)
	if err := checkStops(ss, cur.codes); err != nil {
		return err
	}
	next := cur.clone()
	next.stops = ss
	t.store(next)
	return nil
}

// LoadVehicles replaces the fleet.
func (t *FleetTracker) LoadVehicles(vehicles []transit.Vehicle) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur := t.state.Load()
	vs := prepareVehicles(vehicles)
	byID, err := checkVehicles(vs, cur.codes)
	if err != nil {
		return err
	}
	next := cur.clone()
	next.vehicles, next.byID = vs, byID
	t.store(next)
	return nil
}

// LoadTickets replaces the fare products.
func (t *FleetTracker) LoadTickets(tickets []transit.Ticket) error {
	ts, err := buildTickets(tickets)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	next := t.state.Load().clone()
	next.tickets = ts
	t.store(next)
	return nil
}

// Load replaces routes, stops, tickets and vehicles together. On error the
// tracker is left unchanged.
func (t *FleetTracker) Load(cat transit.Catalog) error {
	rs, codes, err := buildRoutes(cat.Routes)
	if err != nil {
		return err
	}
	ss := prepareStops(cat.Stops)
	if err := checkStops(ss, codes); err != nil {
		return err
	}
	vs := prepareVehicles(cat.Vehicles)
	byID, err := checkVehicles(vs, codes)
	if err != nil {
		return err
	}
	ts, err := buildTickets(cat.Tickets)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.store(&state{routes: rs, codes: codes, stops: ss, tickets: ts, vehicles: vs, byID: byID})
	return nil
}

func buildRoutes(routes []transit.Route) ([]transit.Route, map[string]int, error) {
	rs := make([]transit.Route, len(routes))
	codes := make(map[string]int, len(routes))
	for i, r := range routes {
		if r.Code == "" {
			return nil, nil, &transit.ConfigError{Kind: "route", ID: r.Name, Reason: "empty code"}
		}
		if _, dup := codes[r.Code]; dup {
			return nil, nil, &transit.ConfigError{Kind: "route", ID: r.Code, Reason: "duplicate code"}
		}
		if r.Fare < 0 || math.IsNaN(r.Fare) {
			return nil, nil, &transit.ConfigError{Kind: "route", ID: r.Code, Reason: fmt.Sprintf("invalid fare %v", r.Fare)}
		}
		for _, p := range r.Path {
			if !p.Valid() {
				return nil, nil, &transit.ConfigError{Kind: "route", ID: r.Code, Reason: fmt.Sprintf("invalid path point %v", p)}
			}
		}
		r = cloneRoute(r)
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		if r.Color == "" {
			r.Color = transit.DefaultColor
		}
		rs[i] = r
		codes[r.Code] = i
	}
	return rs, codes, nil
}

func prepareStops(stops []transit.Stop) []transit.Stop {
	ss := make([]transit.Stop, len(stops))
	for i, s := range stops {
		s = cloneStop(s)
		if s.ID == "" {
			s.ID = uuid.NewString()
		}
		ss[i] = s
	}
	return ss
}

func checkStops(stops []transit.Stop, codes map[string]int) error {
	for _, s := range stops {
		if !s.Position.Valid() {
			return &transit.ConfigError{Kind: "stop", ID: s.Name, Reason: "invalid position"}
		}
		for _, c := range s.Routes {
			if _, ok := codes[c]; !ok {
				return &transit.ConfigError{Kind: "stop", ID: s.Name, Reason: fmt.Sprintf("unknown route %q", c)}
			}
		}
	}
	return nil
}

func prepareVehicles(vehicles []transit.Vehicle) []transit.Vehicle {
	vs := slices.Clone(vehicles)
	for i := range vs {
		if vs[i].ID == "" {
			vs[i].ID = fmt.Sprintf("%s-%s", vs[i].RouteCode, uuid.NewString()[:5])
		}
	}
	return vs
}

func checkVehicles(vehicles []transit.Vehicle, codes map[string]int) (map[string]int, error) {
	byID := make(map[string]int, len(vehicles))
	for i, v := range vehicles {
		if _, ok := codes[v.RouteCode]; !ok {
			return nil, &transit.ConfigError{Kind: "vehicle", ID: v.ID, Reason: fmt.Sprintf("unknown route %q", v.RouteCode)}
		}
		if v.ETAMinutes < 0 {
			return nil, &transit.ConfigError{Kind: "vehicle", ID: v.ID, Reason: "negative ETA"}
		}
		if !v.Position.Valid() {
			return nil, &transit.ConfigError{Kind: "vehicle", ID: v.ID, Reason: "invalid position"}
		}
		if _, dup := byID[v.ID]; dup {
			return nil, &transit.ConfigError{Kind: "vehicle", ID: v.ID, Reason: "duplicate id"}
		}
		byID[v.ID] = i
	}
	return byID, nil
}

func buildTickets(tickets []transit.Ticket) ([]transit.Ticket, error) {
	ts := slices.Clone(tickets)
	names := make(map[string]bool, len(ts))
	for i, tk := range ts {
		if strings.TrimSpace(tk.Name) == "" {
			return nil, &transit.ConfigError{Kind: "ticket", ID: tk.ID, Reason: "empty name"}
		}
		if names[tk.Name] {
			return nil, &transit.ConfigError{Kind: "ticket", ID: tk.Name, Reason: "duplicate name"}
		}
		if tk.Price < 0 || math.IsNaN(tk.Price) || math.IsInf(tk.Price, 0) {
			return nil, &transit.ConfigError{Kind: "ticket", ID: tk.Name, Reason: fmt.Sprintf("invalid price %v", tk.Price)}
		}
		names[tk.Name] = true
		if tk.ID == "" {
			ts[i].ID = uuid.NewString()
		}
	}
	return ts, nil
}
