package catalog

import (
	"fmt"
	"math"

	"github.com/google/uuid"

	"bus-tracker/internal/transit"
)

// metersPerMinute is the nominal urban bus speed used for seeded ETAs (18 km/h).
const metersPerMinute = 300.0

// SeedVehicles spreads perRoute vehicles evenly along each route path when the
// catalog carries no fleet of its own. Routes without a path get none.
func SeedVehicles(cat transit.Catalog, perRoute int) transit.Catalog {
	if len(cat.Vehicles) > 0 || perRoute <= 0 {
		return cat
	}
	for _, r := range cat.Routes {
		if len(r.Path) == 0 {
			continue
		}
		cum := transit.CumDistances(r.Path)
		total := cum[len(cum)-1]
		for i := 0; i < perRoute; i++ {
			along := total * float64(i) / float64(perRoute)
			pos, _ := transit.Interpolate(r.Path, cum, along)
			v := transit.Vehicle{
				ID:         fmt.Sprintf("%s-%s", r.Code, uuid.NewString()[:5]),
				RouteCode:  r.Code,
				Position:   pos,
				ETAMinutes: 1,
			}
			if s, d, ok := nearestServing(cat.Stops, r.Code, pos); ok {
				v.NextStop = s.Name
				v.ETAMinutes = max(1, int(math.Ceil(d/metersPerMinute)))
			}
			cat.Vehicles = append(cat.Vehicles, v)
		}
	}
	return cat
}

func nearestServing(stops []transit.Stop, code string, p transit.Point) (transit.Stop, float64, bool) {
	best := -1
	bestDist := 0.0
	for i, s := range stops {
		if !s.Serves(code) {
			continue
		}
		d := transit.DistanceMeters(p, s.Position)
		if best < 0 || d < bestDist {
			best, bestDist = i, d
		}
	}
	if best < 0 {
		return transit.Stop{}, 0, false
	}
	return stops[best], bestDist, true
}
