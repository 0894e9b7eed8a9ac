package catalog

import (
	"fmt"
	"os"

	"github.com/jamespfennell/gtfs"

	"bus-tracker/internal/transit"
)

// LoadGTFS parses a static GTFS zip. The result carries no vehicles; see SeedVehicles.
func LoadGTFS(path string) (transit.Catalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return transit.Catalog{}, fmt.Errorf("error reading local GTFS file: %w", err)
	}
	static, err := gtfs.ParseStatic(b, gtfs.ParseStaticOptions{})
	if err != nil {
		return transit.Catalog{}, fmt.Errorf("error parsing GTFS data: %w", err)
	}
	return FromStatic(static), nil
}

// FromStatic converts parsed GTFS. Route codes are short names, falling back to
// route ids; a route's path is the shape of its first trip that has one.
// GTFS fares are not parsed, so every fare is zero.
func FromStatic(static *gtfs.Static) transit.Catalog {
	codeByRouteID := make(map[string]string, len(static.Routes))
	used := make(map[string]bool, len(static.Routes))
	routes := make([]transit.Route, 0, len(static.Routes))
	index := make(map[string]int, len(static.Routes))
	for _, r := range static.Routes {
		code := transit.UniqueCode(used, r.ShortName, r.Id)
		codeByRouteID[r.Id] = code
		name := r.LongName
		if name == "" {
			name = r.ShortName
		}
		color := ""
		if r.Color != "" {
			color = "#" + r.Color
		}
		index[r.Id] = len(routes)
		routes = append(routes, transit.Route{ID: r.Id, Name: name, Code: code, Color: color})
	}

	served := make(map[string][]string)
	seen := make(map[[2]string]bool)
	for i := range static.Trips {
		trip := &static.Trips[i]
		if trip.Route == nil {
			continue
		}
		code, ok := codeByRouteID[trip.Route.Id]
		if !ok {
			continue
		}
		if ri := index[trip.Route.Id]; len(routes[ri].Path) == 0 && trip.Shape != nil {
			path := make([]transit.Point, 0, len(trip.Shape.Points))
			for _, p := range trip.Shape.Points {
				path = append(path, transit.Point{Lat: p.Latitude, Lon: p.Longitude})
			}
			routes[ri].Path = path
		}
		for _, st := range trip.StopTimes {
			if st.Stop == nil {
				continue
			}
			key := [2]string{st.Stop.Id, code}
			if seen[key] {
				continue
			}
			seen[key] = true
			served[st.Stop.Id] = append(served[st.Stop.Id], code)
		}
	}

	stops := make([]transit.Stop, 0, len(static.Stops))
	for _, s := range static.Stops {
		if s.Latitude == nil || s.Longitude == nil {
			continue
		}
		stops = append(stops, transit.Stop{
			ID:       s.Id,
			Name:     s.Name,
			Position: transit.Point{Lat: *s.Latitude, Lon: *s.Longitude},
			Routes:   served[s.Id],
		})
	}
	return transit.Catalog{Routes: routes, Stops: stops}
}
