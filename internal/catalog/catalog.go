// Package catalog loads the static network (routes, stops), the ticket
// products and the initial fleet from the supported sources.
package catalog

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"bus-tracker/internal/transit"
)

//go:embed lleida.yml
var builtin []byte

type File struct {
	Routes   []RouteSpec   `yaml:"routes" validate:"required,min=1,dive"`
	Stops    []StopSpec    `yaml:"stops" validate:"dive"`
	Vehicles []VehicleSpec `yaml:"vehicles" validate:"dive"`
	Tickets  []TicketSpec  `yaml:"tickets" validate:"dive"`
}

type PointSpec struct {
	Lat float64 `yaml:"lat" validate:"gte=-90,lte=90"`
	Lon float64 `yaml:"lon" validate:"gte=-180,lte=180"`
}

type RouteSpec struct {
	ID    string      `yaml:"id"`
	Name  string      `yaml:"name" validate:"required"`
	Code  string      `yaml:"code" validate:"required"`
	Color string      `yaml:"color"`
	Fare  float64     `yaml:"fare" validate:"gte=0"`
	Path  []PointSpec `yaml:"path" validate:"dive"`
}

type StopSpec struct {
	ID        string   `yaml:"id"`
	Name      string   `yaml:"name" validate:"required"`
	PointSpec `yaml:",inline"`
	Routes    []string `yaml:"routes" validate:"dive,required"`
}

type VehicleSpec struct {
	ID        string `yaml:"id"`
	Route     string `yaml:"route" validate:"required"`
	PointSpec `yaml:",inline"`
	Direction string `yaml:"direction"`
	NextStop  string `yaml:"next_stop"`
	ETA       int    `yaml:"eta" validate:"gte=0"`
}

type TicketSpec struct {
	ID    string  `yaml:"id"`
	Name  string  `yaml:"name" validate:"required"`
	Price float64 `yaml:"price" validate:"gte=0"`
}

// Builtin returns the embedded Lleida catalog.
func Builtin() (transit.Catalog, error) {
	return Parse(builtin)
}

// LoadFile reads a YAML catalog from path.
func LoadFile(path string) (transit.Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return transit.Catalog{}, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML catalog. Cross-references (codes, ids) are
// checked by the tracker at load time.
func Parse(data []byte) (transit.Catalog, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return transit.Catalog{}, fmt.Errorf("decode catalog: %w", err)
	}
	v := validator.New()
	if err := v.Struct(f); err != nil {
		return transit.Catalog{}, fmt.Errorf("validate catalog: %w", err)
	}
	return f.Catalog(), nil
}

func (f File) Catalog() transit.Catalog {
	cat := transit.Catalog{
		Routes:   make([]transit.Route, 0, len(f.Routes)),
		Stops:    make([]transit.Stop, 0, len(f.Stops)),
		Vehicles: make([]transit.Vehicle, 0, len(f.Vehicles)),
		Tickets:  make([]transit.Ticket, 0, len(f.Tickets)),
	}
	for _, r := range f.Routes {
		path := make([]transit.Point, len(r.Path))
		for i, p := range r.Path {
			path[i] = p.point()
		}
		cat.Routes = append(cat.Routes, transit.Route{
			ID:    r.ID,
			Name:  r.Name,
			Code:  r.Code,
			Path:  path,
			Fare:  r.Fare,
			Color: r.Color,
		})
	}
	for _, s := range f.Stops {
		cat.Stops = append(cat.Stops, transit.Stop{
			ID:       s.ID,
			Name:     s.Name,
			Position: s.point(),
			Routes:   append([]string(nil), s.Routes...),
		})
	}
	for _, v := range f.Vehicles {
		cat.Vehicles = append(cat.Vehicles, transit.Vehicle{
			ID:         v.ID,
			RouteCode:  v.Route,
			Position:   v.point(),
			Direction:  v.Direction,
			NextStop:   v.NextStop,
			ETAMinutes: v.ETA,
		})
	}
	for _, tk := range f.Tickets {
		cat.Tickets = append(cat.Tickets, transit.Ticket{ID: tk.ID, Name: tk.Name, Price: tk.Price})
	}
	return cat
}

func (p PointSpec) point() transit.Point { return transit.Point{Lat: p.Lat, Lon: p.Lon} }
