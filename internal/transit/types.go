package transit

import (
	"fmt"
	"time"
)

// DefaultColor is the color tag used for routes that do not declare one.
const DefaultColor = "gray"

type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Valid reports whether p is a finite coordinate inside the WGS84 range.
func (p Point) Valid() bool {
	if p.Lat != p.Lat || p.Lon != p.Lon { // NaN
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180
}

// Bounds is a viewer map window.
type Bounds struct {
	EastLng  float64 `json:"east_lng"`
	NorthLat float64 `json:"north_lat"`
	SouthLat float64 `json:"south_lat"`
	WestLng  float64 `json:"west_lng"`
}

func (b Bounds) Contains(p Point) bool {
	latInside := b.SouthLat <= p.Lat && p.Lat <= b.NorthLat
	lngInside := b.WestLng <= p.Lon && p.Lon <= b.EastLng
	return latInside && lngInside
}

type Route struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Code  string  `json:"code"`
	Path  []Point `json:"path"`
	Fare  float64 `json:"fare"`
	Color string  `json:"color"`
}

type Stop struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Position Point    `json:"position"`
	Routes   []string `json:"routes"`
}

// Serves reports whether the stop is served by the route code.
func (s Stop) Serves(code string) bool {
	for _, c := range s.Routes {
		if c == code {
			return true
		}
	}
	return false
}

type Vehicle struct {
	ID         string    `json:"id"`
	RouteCode  string    `json:"routeCode"`
	Position   Point     `json:"position"`
	Direction  string    `json:"direction,omitempty"`
	NextStop   string    `json:"nextStop"`
	ETAMinutes int       `json:"etaMinutes"`
	LastReport time.Time `json:"lastReport,omitzero"`
	Stale      bool      `json:"stale"`
	UpdatedAt  time.Time `json:"updatedAt,omitzero"`
}

// Tracked reports whether the vehicle has ever sent an authoritative position report.
func (v Vehicle) Tracked() bool { return !v.LastReport.IsZero() }

// PositionReport is an authoritative position for one vehicle.
type PositionReport struct {
	VehicleID  string    `json:"vehicleId"`
	Position   Point     `json:"position"`
	NextStop   string    `json:"nextStop,omitempty"`
	ETAMinutes *int      `json:"etaMinutes,omitempty"`
	At         time.Time `json:"at"`
}

// Catalog is the static network plus the initial fleet, as produced by a source.
// Ticket is a fare product offered to riders. Prices are in euros.
type Ticket struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

type Catalog struct {
	Routes   []Route
	Stops    []Stop
	Vehicles []Vehicle
	Tickets  []Ticket
}

// UniqueCode picks a display code for a route that is not yet in used and
// records it. A blank or taken preferred code falls back to the route id,
// then to the id with a numeric suffix.
func UniqueCode(used map[string]bool, preferred, id string) string {
	code := preferred
	if code == "" || used[code] {
		code = id
	}
	for n := 2; used[code]; n++ {
		code = fmt.Sprintf("%s-%d", id, n)
	}
	used[code] = true
	return code
}
