package api

import (
	"github.com/twpayne/go-polyline"

	"bus-tracker/internal/transit"
)

type routeView struct {
	ID       string          `json:"id"`
	Code     string          `json:"code"`
	Name     string          `json:"name"`
	Fare     float64         `json:"fare"`
	Color    string          `json:"color"`
	Path     []transit.Point `json:"path"`
	Polyline string          `json:"polyline"`
}

func newRouteView(r transit.Route) routeView {
	color := r.Color
	if color == "" {
		color = transit.DefaultColor
	}
	path := r.Path
	if path == nil {
		path = []transit.Point{}
	}
	return routeView{
		ID:       r.ID,
		Code:     r.Code,
		Name:     r.Name,
		Fare:     r.Fare,
		Color:    color,
		Path:     path,
		Polyline: encodePath(r.Path),
	}
}

func newRouteViews(rs []transit.Route) []routeView {
	out := make([]routeView, 0, len(rs))
	for _, r := range rs {
		out = append(out, newRouteView(r))
	}
	return out
}

// encodePath renders a path as a Google encoded polyline, dropping
// consecutive duplicate points.
func encodePath(path []transit.Point) string {
	coords := make([][]float64, 0, len(path))
	for i, p := range path {
		if i > 0 && p == path[i-1] {
			continue
		}
		coords = append(coords, []float64{p.Lat, p.Lon})
	}
	if len(coords) == 0 {
		return ""
	}
	return string(polyline.EncodeCoords(coords))
}

func nonNilVehicles(vs []transit.Vehicle) []transit.Vehicle {
	if vs == nil {
		return []transit.Vehicle{}
	}
	return vs
}

func nonNilStops(ss []transit.Stop) []transit.Stop {
	if ss == nil {
		return []transit.Stop{}
	}
	return ss
}

func filterVehicles(vs []transit.Vehicle, b *transit.Bounds) []transit.Vehicle {
	if b == nil {
		return nonNilVehicles(vs)
	}
	out := make([]transit.Vehicle, 0, len(vs))
	for _, v := range vs {
		if b.Contains(v.Position) {
			out = append(out, v)
		}
	}
	return out
}
