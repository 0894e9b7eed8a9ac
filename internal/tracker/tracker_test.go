package tracker

import (
	"encoding/json"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bus-tracker/internal/transit"
)

func lleidaRoutes() []transit.Route {
	return []transit.Route{
		{Name: "Línea 1 - Centro", Code: "L1", Fare: 1.40, Color: "blue"},
		{Name: "Línea 2 - Universitat", Code: "L2", Fare: 1.40, Color: "green"},
		{Name: "Línea 3 - Estació", Code: "L3", Fare: 1.35},
	}
}

func newLoaded(t *testing.T, vehicles ...transit.Vehicle) *FleetTracker {
	t.Helper()
	ft := New(Options{Seed: 42})
	require.NoError(t, ft.LoadRoutes(lleidaRoutes()))
	require.NoError(t, ft.LoadVehicles(vehicles))
	return ft
}

func TestTickScenario(t *testing.T) {
	start := transit.Point{Lat: 41.6176, Lon: 0.6200}
	ft := newLoaded(t, transit.Vehicle{ID: "v1", RouteCode: "L1", Position: start, ETAMinutes: 3})

	ft.Tick()

	v, ok := ft.Vehicle("v1")
	require.True(t, ok)
	assert.Equal(t, 2, v.ETAMinutes)
	assert.LessOrEqual(t, math.Abs(v.Position.Lat-start.Lat), 0.001+1e-12)
	assert.LessOrEqual(t, math.Abs(v.Position.Lon-start.Lon), 0.001+1e-12)
	assert.False(t, v.UpdatedAt.IsZero())
}

func TestTickETAFloor(t *testing.T) {
	ft := newLoaded(t,
		transit.Vehicle{ID: "a", RouteCode: "L1", ETAMinutes: 3},
		transit.Vehicle{ID: "b", RouteCode: "L2", ETAMinutes: 0},
		transit.Vehicle{ID: "c", RouteCode: "L2", ETAMinutes: 1},
	)
	for i := 0; i < 25; i++ {
		ft.Tick()
		for _, v := range ft.ListVehicles() {
			require.GreaterOrEqual(t, v.ETAMinutes, 1, "vehicle %s after tick %d", v.ID, i+1)
		}
	}
	for _, v := range ft.ListVehicles() {
		assert.Equal(t, 1, v.ETAMinutes)
	}
}

func TestTickJitterBound(t *testing.T) {
	ft := New(Options{Seed: 7, Jitter: 0.0005})
	require.NoError(t, ft.LoadRoutes(lleidaRoutes()))
	require.NoError(t, ft.LoadVehicles([]transit.Vehicle{
		{ID: "a", RouteCode: "L1", Position: transit.Point{Lat: 41.6180, Lon: 0.6195}, ETAMinutes: 3},
		{ID: "b", RouteCode: "L2", Position: transit.Point{Lat: 41.6165, Lon: 0.6210}, ETAMinutes: 5},
	}))
	assert.Equal(t, 0.0005, ft.Jitter())

	prev := ft.ListVehicles()
	moved := false
	for i := 0; i < 200; i++ {
		ft.Tick()
		cur := ft.ListVehicles()
		for j := range cur {
			dLat := math.Abs(cur[j].Position.Lat - prev[j].Position.Lat)
			dLon := math.Abs(cur[j].Position.Lon - prev[j].Position.Lon)
			require.LessOrEqual(t, dLat, 0.0005+1e-12)
			require.LessOrEqual(t, dLon, 0.0005+1e-12)
			if dLat > 0 || dLon > 0 {
				moved = true
			}
		}
		prev = cur
	}
	assert.True(t, moved)
}

func TestTickDisabledJitter(t *testing.T) {
	ft := New(Options{Jitter: -1})
	require.NoError(t, ft.LoadRoutes(lleidaRoutes()))
	p := transit.Point{Lat: 41.6, Lon: 0.6}
	require.NoError(t, ft.LoadVehicles([]transit.Vehicle{{ID: "a", RouteCode: "L1", Position: p, ETAMinutes: 4}}))

	ft.Tick()

	v, _ := ft.Vehicle("a")
	assert.Equal(t, p, v.Position)
	assert.Equal(t, 3, v.ETAMinutes)
}

func TestNonFiniteJitterFallsBackToDefault(t *testing.T) {
	for _, j := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		ft := New(Options{Seed: 3, Jitter: j})
		assert.Equal(t, DefaultJitter, ft.Jitter())

		require.NoError(t, ft.LoadRoutes(lleidaRoutes()))
		p := transit.Point{Lat: 41.6180, Lon: 0.6195}
		require.NoError(t, ft.LoadVehicles([]transit.Vehicle{{ID: "v1", RouteCode: "L1", Position: p, ETAMinutes: 3}}))
		ft.Tick()

		v, _ := ft.Vehicle("v1")
		require.True(t, v.Position.Valid())
		assert.LessOrEqual(t, math.Abs(v.Position.Lat-p.Lat), DefaultJitter+1e-12)
		assert.LessOrEqual(t, math.Abs(v.Position.Lon-p.Lon), DefaultJitter+1e-12)
		_, err := json.Marshal(ft.ListVehicles())
		assert.NoError(t, err)
	}
}

func TestTickIsReproducibleWithSeed(t *testing.T) {
	run := func() []transit.Vehicle {
		ft := New(Options{Seed: 99})
		require.NoError(t, ft.LoadRoutes(lleidaRoutes()))
		require.NoError(t, ft.LoadVehicles([]transit.Vehicle{{ID: "a", RouteCode: "L1", Position: transit.Point{Lat: 41.6, Lon: 0.6}, ETAMinutes: 4}}))
		ft.Tick()
		ft.Tick()
		return ft.ListVehicles()
	}
	assert.Equal(t, run()[0].Position, run()[0].Position)
}

func TestFindRoutes(t *testing.T) {
	ft := newLoaded(t)

	t.Run("empty query returns catalog order", func(t *testing.T) {
		routes := ft.FindRoutes("")
		require.Len(t, routes, 3)
		assert.Equal(t, "L1", routes[0].Code)
		assert.Equal(t, "L2", routes[1].Code)
		assert.Equal(t, "L3", routes[2].Code)
	})

	t.Run("blank query is trimmed to empty", func(t *testing.T) {
		assert.Len(t, ft.FindRoutes("   "), 3)
		routes := ft.FindRoutes("  l2 ")
		require.Len(t, routes, 1)
		assert.Equal(t, "L2", routes[0].Code)
	})

	t.Run("case insensitive code", func(t *testing.T) {
		lower := ft.FindRoutes("l1")
		upper := ft.FindRoutes("L1")
		require.Len(t, lower, 1)
		assert.Equal(t, upper, lower)
	})

	t.Run("matches name", func(t *testing.T) {
		routes := ft.FindRoutes("universitat")
		require.Len(t, routes, 1)
		assert.Equal(t, "L2", routes[0].Code)

		routes = ft.FindRoutes("línea")
		assert.Len(t, routes, 3)
	})

	t.Run("no match is empty", func(t *testing.T) {
		routes := ft.FindRoutes("tramvia")
		assert.NotNil(t, routes)
		assert.Empty(t, routes)
	})

	t.Run("default color", func(t *testing.T) {
		routes := ft.FindRoutes("L3")
		require.Len(t, routes, 1)
		assert.Equal(t, transit.DefaultColor, routes[0].Color)
		assert.NotEmpty(t, routes[0].ID)
	})
}

func TestVehiclesForRoute(t *testing.T) {
	ft := newLoaded(t,
		transit.Vehicle{ID: "a", RouteCode: "L1", ETAMinutes: 3},
		transit.Vehicle{ID: "b", RouteCode: "L2", ETAMinutes: 5},
		transit.Vehicle{ID: "c", RouteCode: "L1", ETAMinutes: 2},
	)

	vs := ft.VehiclesForRoute("L1")
	require.Len(t, vs, 2)
	assert.Equal(t, "a", vs[0].ID)
	assert.Equal(t, "c", vs[1].ID)

	missing := ft.VehiclesForRoute("L9")
	assert.NotNil(t, missing)
	assert.Empty(t, missing)
}

func TestNearestStop(t *testing.T) {
	t.Run("empty catalog", func(t *testing.T) {
		ft := New(Options{})
		_, ok := ft.NearestStop(transit.Point{Lat: 41.6, Lon: 0.6})
		assert.False(t, ok)
	})

	t.Run("closest wins", func(t *testing.T) {
		ft := newLoaded(t)
		require.NoError(t, ft.LoadStops([]transit.Stop{
			{Name: "Pl. Ricard Viñes", Position: transit.Point{Lat: 41.6180, Lon: 0.6195}, Routes: []string{"L1"}},
			{Name: "Hospital Arnau", Position: transit.Point{Lat: 41.6270, Lon: 0.6130}, Routes: []string{"L2"}},
		}))
		s, ok := ft.NearestStop(transit.Point{Lat: 41.6265, Lon: 0.6135})
		require.True(t, ok)
		assert.Equal(t, "Hospital Arnau", s.Name)
	})

	t.Run("tie goes to first inserted", func(t *testing.T) {
		ft := newLoaded(t)
		require.NoError(t, ft.LoadStops([]transit.Stop{
			{Name: "east", Position: transit.Point{Lat: 41.0, Lon: 0.5009765625}},
			{Name: "west", Position: transit.Point{Lat: 41.0, Lon: 0.4990234375}},
		}))
		s, ok := ft.NearestStop(transit.Point{Lat: 41.0, Lon: 0.5})
		require.True(t, ok)
		assert.Equal(t, "east", s.Name)
	})

	t.Run("exact duplicate position", func(t *testing.T) {
		ft := newLoaded(t)
		p := transit.Point{Lat: 41.61, Lon: 0.62}
		require.NoError(t, ft.LoadStops([]transit.Stop{
			{Name: "first", Position: p},
			{Name: "second", Position: p},
		}))
		s, ok := ft.NearestStop(transit.Point{Lat: 41.7, Lon: 0.7})
		require.True(t, ok)
		assert.Equal(t, "first", s.Name)
	})
}

func TestLoadRoutesRejectsDuplicateCode(t *testing.T) {
	ft := New(Options{})
	err := ft.LoadRoutes([]transit.Route{
		{Name: "Línea 1 - Centro", Code: "L1", Fare: 1.35},
		{Name: "Línea 1 bis", Code: "L1", Fare: 1.35},
	})
	require.Error(t, err)
	var cfgErr *transit.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "route", cfgErr.Kind)
	assert.True(t, errors.Is(err, transit.ErrInvalidCatalog))

	// nothing was loaded, so vehicles cannot reference L1 yet
	assert.Empty(t, ft.Routes())
	err = ft.LoadVehicles([]transit.Vehicle{{ID: "v1", RouteCode: "L1"}})
	assert.ErrorAs(t, err, &cfgErr)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		cat  transit.Catalog
	}{
		{"negative fare", transit.Catalog{Routes: []transit.Route{{Code: "L1", Fare: -1}}}},
		{"empty code", transit.Catalog{Routes: []transit.Route{{Name: "nameless"}}}},
		{"stop with unknown route", transit.Catalog{
			Routes: []transit.Route{{Code: "L1"}},
			Stops:  []transit.Stop{{Name: "Pl. Sant Joan", Routes: []string{"L4"}}},
		}},
		{"vehicle with unknown route", transit.Catalog{
			Routes:   []transit.Route{{Code: "L1"}},
			Vehicles: []transit.Vehicle{{ID: "v", RouteCode: "L2"}},
		}},
		{"negative eta", transit.Catalog{
			Routes:   []transit.Route{{Code: "L1"}},
			Vehicles: []transit.Vehicle{{ID: "v", RouteCode: "L1", ETAMinutes: -2}},
		}},
		{"duplicate vehicle", transit.Catalog{
			Routes:   []transit.Route{{Code: "L1"}},
			Vehicles: []transit.Vehicle{{ID: "v", RouteCode: "L1"}, {ID: "v", RouteCode: "L1"}},
		}},
		{"negative ticket price", transit.Catalog{
			Tickets: []transit.Ticket{{Name: "Billete Simple", Price: -1}},
		}},
		{"NaN ticket price", transit.Catalog{
			Tickets: []transit.Ticket{{Name: "Billete Simple", Price: math.NaN()}},
		}},
		{"unnamed ticket", transit.Catalog{
			Tickets: []transit.Ticket{{ID: "simple", Name: " ", Price: 1.35}},
		}},
		{"duplicate ticket", transit.Catalog{
			Tickets: []transit.Ticket{{Name: "Billete Día", Price: 4.2}, {Name: "Billete Día", Price: 4.2}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ft := New(Options{})
			before := ft.Version()
			err := ft.Load(tt.cat)
			var cfgErr *transit.ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, before, ft.Version())
		})
	}
}

func TestTickets(t *testing.T) {
	ft := New(Options{})
	assert.Empty(t, ft.Tickets())

	require.NoError(t, ft.LoadTickets([]transit.Ticket{
		{ID: "simple", Name: "Billete Simple", Price: 1.35},
		{Name: "Billete Semanal", Price: 12},
	}))
	ts := ft.Tickets()
	require.Len(t, ts, 2)
	assert.Equal(t, "simple", ts[0].ID)
	assert.NotEmpty(t, ts[1].ID)

	ts[0].Price = 99
	assert.Equal(t, 1.35, ft.Tickets()[0].Price, "callers get a copy")

	before := ft.Version()
	err := ft.LoadTickets([]transit.Ticket{{Name: "Billete Día", Price: math.Inf(1)}})
	var cfgErr *transit.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "ticket", cfgErr.Kind)
	assert.Equal(t, before, ft.Version())
	assert.Len(t, ft.Tickets(), 2)
}

func TestLoadRoutesKeepsReferencesConsistent(t *testing.T) {
	ft := newLoaded(t, transit.Vehicle{ID: "a", RouteCode: "L2"})
	err := ft.LoadRoutes([]transit.Route{{Code: "L1"}})
	var cfgErr *transit.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Len(t, ft.Routes(), 3)
}

func TestLoadGeneratesIDs(t *testing.T) {
	ft := New(Options{})
	require.NoError(t, ft.Load(transit.Catalog{
		Routes:   []transit.Route{{Code: "L1"}},
		Stops:    []transit.Stop{{Name: "Estació", Routes: []string{"L1"}}},
		Vehicles: []transit.Vehicle{{RouteCode: "L1", ETAMinutes: 2}},
	}))
	assert.NotEmpty(t, ft.Routes()[0].ID)
	assert.NotEmpty(t, ft.Stops()[0].ID)
	vs := ft.ListVehicles()
	require.Len(t, vs, 1)
	assert.Regexp(t, `^L1-[0-9a-f]{5}$`, vs[0].ID)
}

func TestQueriesReturnCopies(t *testing.T) {
	ft := newLoaded(t, transit.Vehicle{ID: "a", RouteCode: "L1", ETAMinutes: 3})
	require.NoError(t, ft.LoadStops([]transit.Stop{{Name: "Estació", Routes: []string{"L1"}}}))

	vs := ft.ListVehicles()
	vs[0].ETAMinutes = 99
	routes := ft.FindRoutes("")
	routes[0].Code = "XX"
	stops := ft.Stops()
	stops[0].Routes[0] = "XX"

	v, _ := ft.Vehicle("a")
	assert.Equal(t, 3, v.ETAMinutes)
	assert.Equal(t, "L1", ft.Routes()[0].Code)
	assert.Equal(t, "L1", ft.Stops()[0].Routes[0])
}

func TestApplyReport(t *testing.T) {
	reported := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	ft := newLoaded(t, transit.Vehicle{ID: "a", RouteCode: "L1", Position: transit.Point{Lat: 41.6, Lon: 0.6}, ETAMinutes: 6})

	eta := 4
	p := transit.Point{Lat: 41.6190, Lon: 0.6180}
	require.NoError(t, ft.ApplyReport(transit.PositionReport{VehicleID: "a", Position: p, NextStop: "Av. Catalunya", ETAMinutes: &eta, At: reported}))

	v, _ := ft.Vehicle("a")
	assert.Equal(t, p, v.Position)
	assert.Equal(t, "Av. Catalunya", v.NextStop)
	assert.Equal(t, 4, v.ETAMinutes)
	assert.Equal(t, reported, v.LastReport)

	// reported vehicles are not jittered
	ft.Tick()
	v, _ = ft.Vehicle("a")
	assert.Equal(t, p, v.Position)
	assert.Equal(t, 3, v.ETAMinutes)

	assert.ErrorIs(t, ft.ApplyReport(transit.PositionReport{VehicleID: "ghost", Position: p}), ErrUnknownVehicle)
	assert.ErrorIs(t, ft.ApplyReport(transit.PositionReport{VehicleID: "a", Position: transit.Point{Lat: 95}}), ErrInvalidReport)
	bad := -1
	assert.ErrorIs(t, ft.ApplyReport(transit.PositionReport{VehicleID: "a", Position: p, ETAMinutes: &bad}), ErrInvalidReport)

	zero := 0
	require.NoError(t, ft.ApplyReport(transit.PositionReport{VehicleID: "a", Position: p, ETAMinutes: &zero}))
	v, _ = ft.Vehicle("a")
	assert.Equal(t, 1, v.ETAMinutes)
}

func TestMarkStale(t *testing.T) {
	base := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	ft := newLoaded(t,
		transit.Vehicle{ID: "a", RouteCode: "L1", ETAMinutes: 3},
		transit.Vehicle{ID: "b", RouteCode: "L2", ETAMinutes: 3},
	)
	require.NoError(t, ft.ApplyReport(transit.PositionReport{VehicleID: "a", Position: transit.Point{Lat: 41.6, Lon: 0.6}, At: base}))

	assert.Equal(t, 0, ft.MarkStale(base.Add(30*time.Second), time.Minute))
	assert.Equal(t, 1, ft.MarkStale(base.Add(2*time.Minute), time.Minute))

	a, _ := ft.Vehicle("a")
	b, _ := ft.Vehicle("b")
	assert.True(t, a.Stale)
	assert.False(t, b.Stale, "simulated vehicles never go stale")

	require.NoError(t, ft.ApplyReport(transit.PositionReport{VehicleID: "a", Position: transit.Point{Lat: 41.6, Lon: 0.6}, At: base.Add(2 * time.Minute)}))
	a, _ = ft.Vehicle("a")
	assert.False(t, a.Stale)
}

func TestSnapshotsAreConsistentUnderConcurrentTicks(t *testing.T) {
	vehicles := make([]transit.Vehicle, 50)
	for i := range vehicles {
		vehicles[i] = transit.Vehicle{RouteCode: "L1", Position: transit.Point{Lat: 41.6, Lon: 0.6}, ETAMinutes: 30}
	}
	ft := newLoaded(t, vehicles...)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			ft.Tick()
		}
	}()
	for i := 0; i < 200; i++ {
		vs := ft.ListVehicles()
		for _, v := range vs[1:] {
			require.Equal(t, vs[0].ETAMinutes, v.ETAMinutes, "snapshot mixes pre- and post-tick state")
		}
	}
	wg.Wait()
}
