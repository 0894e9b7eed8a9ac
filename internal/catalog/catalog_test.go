package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jamespfennell/gtfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bus-tracker/internal/tracker"
	"bus-tracker/internal/transit"
)

func TestBuiltin(t *testing.T) {
	cat, err := Builtin()
	require.NoError(t, err)

	require.Len(t, cat.Routes, 4)
	assert.Equal(t, "L1", cat.Routes[0].Code)
	assert.Equal(t, "Línea 1 - Centro", cat.Routes[0].Name)
	assert.Equal(t, "blue", cat.Routes[0].Color)
	assert.Equal(t, 1.35, cat.Routes[0].Fare)
	assert.Equal(t, "orange", cat.Routes[3].Color)
	assert.Len(t, cat.Stops, 5)
	require.Len(t, cat.Vehicles, 4)
	assert.Equal(t, "L3", cat.Vehicles[2].RouteCode)
	assert.Equal(t, 2, cat.Vehicles[2].ETAMinutes)
	assert.Equal(t, "Av. Catalunya", cat.Vehicles[2].NextStop)
	assert.Equal(t, []transit.Ticket{
		{ID: "simple", Name: "Billete Simple", Price: 1.35},
		{ID: "dia", Name: "Billete Día", Price: 4.20},
		{ID: "semanal", Name: "Billete Semanal", Price: 12.00},
	}, cat.Tickets)

	ft := tracker.New(tracker.Options{})
	require.NoError(t, ft.Load(cat))
	assert.Equal(t, cat.Tickets, ft.Tickets())
}

func TestParseRejectsInvalidCatalogs(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"negative fare", "routes:\n  - {name: A, code: A, fare: -1}\n"},
		{"missing code", "routes:\n  - {name: A, fare: 1}\n"},
		{"no routes", "stops: []\n"},
		{"latitude out of range", "routes:\n  - {name: A, code: A}\nstops:\n  - {name: S, lat: 120, lon: 0, routes: [A]}\n"},
		{"negative eta", "routes:\n  - {name: A, code: A}\nvehicles:\n  - {route: A, lat: 1, lon: 1, eta: -3}\n"},
		{"negative ticket price", "routes:\n  - {name: A, code: A}\ntickets:\n  - {name: T, price: -1}\n"},
		{"unnamed ticket", "routes:\n  - {name: A, code: A}\ntickets:\n  - {price: 1.35}\n"},
		{"malformed yaml", "routes: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yml")
	data := `
routes:
  - {id: r1, name: "Línea 5 - Pardinyes", code: L5, fare: 1.40}
stops:
  - {id: s1, name: "Pardinyes", lat: 41.6290, lon: 0.6300, routes: [L5]}
vehicles:
  - {id: bus-7, route: L5, lat: 41.6285, lon: 0.6295, direction: Pardinyes, next_stop: Pardinyes, eta: 4}
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cat, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, cat.Routes, 1)
	assert.Equal(t, "r1", cat.Routes[0].ID)
	assert.Equal(t, []string{"L5"}, cat.Stops[0].Routes)
	assert.Equal(t, transit.Point{Lat: 41.6290, Lon: 0.6300}, cat.Stops[0].Position)
	assert.Equal(t, "bus-7", cat.Vehicles[0].ID)
	assert.Equal(t, 4, cat.Vehicles[0].ETAMinutes)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}

func TestFromStatic(t *testing.T) {
	lat1, lon1 := 41.6181, 0.6192
	lat2, lon2 := 41.6270, 0.6130
	routes := []gtfs.Route{
		{Id: "R1", ShortName: "L1", LongName: "Línea 1 - Centro", Color: "0000FF"},
		{Id: "R2", LongName: "Línea 2 - Universitat"},
	}
	stops := []gtfs.Stop{
		{Id: "S1", Name: "Pl. Ricard Viñes", Latitude: &lat1, Longitude: &lon1},
		{Id: "S2", Name: "Hospital Arnau", Latitude: &lat2, Longitude: &lon2},
		{Id: "S3", Name: "No coordinates"},
	}
	shape := &gtfs.Shape{ID: "sh1", Points: []gtfs.ShapePoint{
		{Latitude: lat1, Longitude: lon1},
		{Latitude: lat2, Longitude: lon2},
	}}
	static := &gtfs.Static{
		Routes: routes,
		Stops:  stops,
		Trips: []gtfs.ScheduledTrip{
			{ID: "T1", Route: &routes[0], Shape: shape, StopTimes: []gtfs.ScheduledStopTime{{Stop: &stops[0]}, {Stop: &stops[1]}}},
			{ID: "T2", Route: &routes[0], StopTimes: []gtfs.ScheduledStopTime{{Stop: &stops[0]}}},
			{ID: "T3", Route: &routes[1], StopTimes: []gtfs.ScheduledStopTime{{Stop: &stops[1]}}},
		},
	}

	cat := FromStatic(static)

	require.Len(t, cat.Routes, 2)
	assert.Equal(t, "L1", cat.Routes[0].Code)
	assert.Equal(t, "#0000FF", cat.Routes[0].Color)
	assert.Len(t, cat.Routes[0].Path, 2)
	assert.Equal(t, "R2", cat.Routes[1].Code, "falls back to the route id")
	assert.Empty(t, cat.Routes[1].Path)

	require.Len(t, cat.Stops, 2)
	assert.Equal(t, []string{"L1"}, cat.Stops[0].Routes)
	assert.Equal(t, []string{"L1", "R2"}, cat.Stops[1].Routes)
	assert.Empty(t, cat.Vehicles)

	ft := tracker.New(tracker.Options{})
	require.NoError(t, ft.Load(SeedVehicles(cat, 2)))
	assert.Len(t, ft.VehiclesForRoute("L1"), 2)
	assert.Empty(t, ft.VehiclesForRoute("R2"))
}

func TestFromStaticKeepsCodesUnique(t *testing.T) {
	static := &gtfs.Static{Routes: []gtfs.Route{
		{Id: "1", ShortName: "2"},
		{Id: "2", ShortName: "2"},
		{Id: "3", ShortName: "2"},
	}}

	cat := FromStatic(static)

	require.Len(t, cat.Routes, 3)
	assert.Equal(t, "2", cat.Routes[0].Code)
	assert.Equal(t, "2-2", cat.Routes[1].Code)
	assert.Equal(t, "3", cat.Routes[2].Code)

	ft := tracker.New(tracker.Options{})
	require.NoError(t, ft.Load(cat))
	assert.Len(t, ft.Routes(), 3)
}

func TestSeedVehicles(t *testing.T) {
	path := []transit.Point{{Lat: 41.6129, Lon: 0.6208}, {Lat: 41.6160, Lon: 0.6190}, {Lat: 41.6190, Lon: 0.6180}}
	cat := transit.Catalog{
		Routes: []transit.Route{{Code: "L3", Path: path}, {Code: "L9"}},
		Stops: []transit.Stop{
			{Name: "Av. Catalunya", Position: path[1], Routes: []string{"L3"}},
			{Name: "Elsewhere", Position: path[0], Routes: []string{"L9"}},
		},
	}

	seeded := SeedVehicles(cat, 3)

	require.Len(t, seeded.Vehicles, 3)
	for _, v := range seeded.Vehicles {
		assert.Equal(t, "L3", v.RouteCode)
		assert.Regexp(t, `^L3-[0-9a-f]{5}$`, v.ID)
		assert.Equal(t, "Av. Catalunya", v.NextStop)
		assert.GreaterOrEqual(t, v.ETAMinutes, 1)
		assert.True(t, v.Position.Lat >= path[0].Lat && v.Position.Lat <= path[2].Lat)
	}
	assert.Equal(t, path[0], seeded.Vehicles[0].Position)

	t.Run("existing fleet is kept", func(t *testing.T) {
		withFleet := cat
		withFleet.Vehicles = []transit.Vehicle{{ID: "x", RouteCode: "L3"}}
		assert.Len(t, SeedVehicles(withFleet, 3).Vehicles, 1)
	})
}
