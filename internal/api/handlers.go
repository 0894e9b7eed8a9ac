package api

import (
	"math"
	"net/http"
	"net/url"
	"strconv"

	"github.com/julienschmidt/httprouter"

	"bus-tracker/internal/transit"
)

const maxQueryLength = 200

func (s *Server) routesHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query")
	if len(query) > maxQueryLength {
		s.validationErrorResponse(w, map[string][]string{
			"query": {"query too long (max 200 characters)"},
		})
		return
	}
	s.sendResponse(w, struct {
		Routes []routeView `json:"routes"`
	}{Routes: newRouteViews(s.reader.FindRoutes(query))})
}

func (s *Server) routeVehiclesHandler(w http.ResponseWriter, r *http.Request) {
	code := httprouter.ParamsFromContext(r.Context()).ByName("code")
	s.sendResponse(w, struct {
		RouteCode string            `json:"routeCode"`
		Vehicles  []transit.Vehicle `json:"vehicles"`
	}{RouteCode: code, Vehicles: nonNilVehicles(s.reader.VehiclesForRoute(code))})
}

func (s *Server) vehiclesHandler(w http.ResponseWriter, r *http.Request) {
	bounds, fieldErrors := parseBounds(r.URL.Query())
	if len(fieldErrors) > 0 {
		s.validationErrorResponse(w, fieldErrors)
		return
	}
	s.sendResponse(w, struct {
		Vehicles []transit.Vehicle `json:"vehicles"`
	}{Vehicles: filterVehicles(s.reader.ListVehicles(), bounds)})
}

func (s *Server) stopsHandler(w http.ResponseWriter, _ *http.Request) {
	s.sendResponse(w, struct {
		Stops []transit.Stop `json:"stops"`
	}{Stops: nonNilStops(s.reader.Stops())})
}

func (s *Server) ticketsHandler(w http.ResponseWriter, _ *http.Request) {
	s.sendResponse(w, struct {
		Tickets []transit.Ticket `json:"tickets"`
	}{Tickets: s.reader.Tickets()})
}

type nearestStopResponse struct {
	Stop           *transit.Stop `json:"stop"`
	DistanceMeters *float64      `json:"distanceMeters,omitempty"`
}

func (s *Server) nearestStopHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	fieldErrors := map[string][]string{}
	lat := parseCoordinate(q, "lat", 90, fieldErrors)
	lon := parseCoordinate(q, "lon", 180, fieldErrors)
	if len(fieldErrors) > 0 {
		s.validationErrorResponse(w, fieldErrors)
		return
	}

	p := transit.Point{Lat: lat, Lon: lon}
	stop, ok := s.reader.NearestStop(p)
	if !ok {
		s.sendResponse(w, nearestStopResponse{})
		return
	}
	d := transit.DistanceMeters(p, stop.Position)
	s.sendResponse(w, nearestStopResponse{Stop: &stop, DistanceMeters: &d})
}

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	s.sendResponse(w, struct {
		Status   string `json:"status"`
		Vehicles int    `json:"vehicles"`
		Routes   int    `json:"routes"`
	}{Status: "ok", Vehicles: len(s.reader.ListVehicles()), Routes: len(s.reader.Routes())})
}

// parseBounds reads an optional north/south/east/west window. All four must be
// present once any of them is.
func parseBounds(q url.Values) (*transit.Bounds, map[string][]string) {
	keys := []string{"north", "south", "east", "west"}
	present := 0
	for _, k := range keys {
		if q.Has(k) {
			present++
		}
	}
	if present == 0 {
		return nil, nil
	}

	fieldErrors := map[string][]string{}
	north := parseCoordinate(q, "north", 90, fieldErrors)
	south := parseCoordinate(q, "south", 90, fieldErrors)
	east := parseCoordinate(q, "east", 180, fieldErrors)
	west := parseCoordinate(q, "west", 180, fieldErrors)
	if len(fieldErrors) > 0 {
		return nil, fieldErrors
	}
	if south > north {
		return nil, map[string][]string{"south": {"south must not be greater than north"}}
	}
	return &transit.Bounds{NorthLat: north, SouthLat: south, EastLng: east, WestLng: west}, nil
}

func parseCoordinate(q url.Values, key string, limit float64, fieldErrors map[string][]string) float64 {
	raw := q.Get(key)
	if raw == "" {
		fieldErrors[key] = append(fieldErrors[key], key+" is required")
		return 0
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		fieldErrors[key] = append(fieldErrors[key], "invalid "+key)
		return 0
	}
	if v < -limit || v > limit {
		fieldErrors[key] = append(fieldErrors[key], key+" must be between -"+strconv.Itoa(int(limit))+" and "+strconv.Itoa(int(limit)))
		return 0
	}
	return v
}
