package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"bus-tracker/internal/transit"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

func Ping(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}

// LoadCatalog reads routes and stops from a GTFS database. Vehicles are not
// stored there; callers seed them.
func LoadCatalog(ctx context.Context, db *sql.DB) (transit.Catalog, error) {
	routes, err := FetchRoutes(ctx, db)
	if err != nil {
		return transit.Catalog{}, err
	}
	stops, err := FetchStops(ctx, db)
	if err != nil {
		return transit.Catalog{}, err
	}
	codes := uniqueCodes(routes)
	for i := range stops {
		stops[i].Routes = routeCodes(stops[i].Routes, codes)
	}
	return transit.Catalog{Routes: routes, Stops: stops}, nil
}

// uniqueCodes falls back to the route id for repeated short names and returns
// the route_id to code mapping.
func uniqueCodes(routes []transit.Route) map[string]string {
	used := make(map[string]bool, len(routes))
	byID := make(map[string]string, len(routes))
	for i := range routes {
		routes[i].Code = transit.UniqueCode(used, routes[i].Code, routes[i].ID)
		byID[routes[i].ID] = routes[i].Code
	}
	return byID
}

// routeCodes translates route ids, dropping unknown ones.
func routeCodes(ids []string, codes map[string]string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if c, ok := codes[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

// FetchRoutes returns every route in route_id order with its representative
// shape and, when fare tables exist, its cheapest fare.
func FetchRoutes(ctx context.Context, db *sql.DB) ([]transit.Route, error) {
	q := `SELECT route_id,
                 COALESCE(NULLIF(route_short_name, ''), route_id),
                 COALESCE(NULLIF(route_long_name, ''), route_short_name, ''),
                 COALESCE(route_color, '')
          FROM routes ORDER BY route_id`
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query routes: %w", err)
	}
	var routes []transit.Route
	for rows.Next() {
		var r transit.Route
		if err := rows.Scan(&r.ID, &r.Code, &r.Name, &r.Color); err != nil {
			rows.Close()
			return nil, err
		}
		if r.Color != "" {
			r.Color = "#" + r.Color
		}
		routes = append(routes, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	fares, err := fetchFares(ctx, db)
	if err != nil {
		return nil, err
	}
	for i := range routes {
		routes[i].Fare = fares[routes[i].ID]
		shapeID, err := representativeShape(ctx, db, routes[i].ID)
		if err != nil {
			return nil, err
		}
		routes[i].Path, err = FetchShapePoints(ctx, db, shapeID)
		if err != nil {
			return nil, err
		}
	}
	return routes, nil
}

func representativeShape(ctx context.Context, db *sql.DB, routeID string) (string, error) {
	q := `SELECT COALESCE(shape_id, '') FROM trips
          WHERE route_id = $1 AND shape_id IS NOT NULL
          ORDER BY trip_id LIMIT 1`
	var shapeID string
	err := db.QueryRowContext(ctx, q, routeID).Scan(&shapeID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query shape for route %s: %w", routeID, err)
	}
	return shapeID, nil
}

// fetchFares maps route_id to the lowest fare price. Feeds without fare tables
// yield an empty map.
func fetchFares(ctx context.Context, db *sql.DB) (map[string]float64, error) {
	fares := map[string]float64{}
	ok, err := hasTables(ctx, db, "public", "fare_attributes", "fare_rules")
	if err != nil {
		return nil, fmt.Errorf("introspect fare tables: %w", err)
	}
	if !ok["fare_attributes"] || !ok["fare_rules"] {
		return fares, nil
	}
	q := `SELECT fr.route_id, MIN(fa.price)::float8
          FROM fare_rules fr
          JOIN fare_attributes fa ON fa.fare_id = fr.fare_id
          WHERE fr.route_id IS NOT NULL
          GROUP BY fr.route_id`
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query fares: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var routeID string
		var price float64
		if err := rows.Scan(&routeID, &price); err != nil {
			return nil, err
		}
		fares[routeID] = price
	}
	return fares, rows.Err()
}

func FetchShapePoints(ctx context.Context, db *sql.DB, shapeID string) ([]transit.Point, error) {
	if shapeID == "" {
		return nil, nil
	}
	// Either shape_pt_lat/lon exist, or the PostGIS shape_pt_loc geography does.
	cols, err := hasColumns(ctx, db, "public", "shapes", "shape_pt_lat", "shape_pt_lon", "shape_pt_loc")
	if err != nil {
		return nil, fmt.Errorf("introspect shapes columns: %w", err)
	}
	var q string
	switch {
	case cols["shape_pt_lat"] && cols["shape_pt_lon"]:
		q = `SELECT shape_pt_lat, shape_pt_lon
             FROM shapes WHERE shape_id = $1 ORDER BY shape_pt_sequence`
	case cols["shape_pt_loc"]:
		q = `SELECT ST_Y(shape_pt_loc::geometry), ST_X(shape_pt_loc::geometry)
             FROM shapes WHERE shape_id = $1 ORDER BY shape_pt_sequence`
	default:
		return nil, fmt.Errorf("shapes table missing expected columns (lat/lon or shape_pt_loc)")
	}
	rows, err := db.QueryContext(ctx, q, shapeID)
	if err != nil {
		return nil, fmt.Errorf("query shapes: %w", err)
	}
	defer rows.Close()
	var pts []transit.Point
	for rows.Next() {
		var p transit.Point
		if err := rows.Scan(&p.Lat, &p.Lon); err != nil {
			return nil, err
		}
		pts = append(pts, p)
	}
	return pts, rows.Err()
}

// FetchStops returns stops that serve at least one trip, with the ids of the
// routes serving them. LoadCatalog turns those ids into route codes.
func FetchStops(ctx context.Context, db *sql.DB) ([]transit.Stop, error) {
	cols, err := hasColumns(ctx, db, "public", "stops", "stop_lat", "stop_lon", "stop_loc")
	if err != nil {
		return nil, fmt.Errorf("introspect stops columns: %w", err)
	}
	var latlon string
	switch {
	case cols["stop_lat"] && cols["stop_lon"]:
		latlon = `s.stop_lat, s.stop_lon`
	case cols["stop_loc"]:
		latlon = `ST_Y(s.stop_loc::geometry), ST_X(s.stop_loc::geometry)`
	default:
		return nil, fmt.Errorf("stops table missing expected columns (stop_lat/lon or stop_loc)")
	}
	q := `SELECT s.stop_id, COALESCE(s.stop_name, ''), ` + latlon + `, sr.route_id
          FROM stops s
          JOIN (SELECT DISTINCT st.stop_id, t.route_id
                FROM stop_times st JOIN trips t ON t.trip_id = st.trip_id) sr ON sr.stop_id = s.stop_id
          ORDER BY s.stop_id, sr.route_id`
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query stops: %w", err)
	}
	defer rows.Close()

	var stops []transit.Stop
	for rows.Next() {
		var id, name, routeID string
		var p transit.Point
		if err := rows.Scan(&id, &name, &p.Lat, &p.Lon, &routeID); err != nil {
			return nil, err
		}
		stops = appendStopRoute(stops, id, name, p, routeID)
	}
	return stops, rows.Err()
}

// appendStopRoute folds one (stop, route) row into stops. Rows arrive grouped by stop.
func appendStopRoute(stops []transit.Stop, id, name string, p transit.Point, routeID string) []transit.Stop {
	if n := len(stops); n > 0 && stops[n-1].ID == id {
		stops[n-1].Routes = append(stops[n-1].Routes, routeID)
		return stops
	}
	return append(stops, transit.Stop{ID: id, Name: name, Position: p, Routes: []string{routeID}})
}

// hasColumns returns a map of requested column names to existence for the given table.
func hasColumns(ctx context.Context, db *sql.DB, schema, table string, cols ...string) (map[string]bool, error) {
	res := make(map[string]bool, len(cols))
	if len(cols) == 0 {
		return res, nil
	}
	q := `SELECT column_name FROM information_schema.columns
          WHERE table_schema = $1 AND table_name = $2 AND column_name = ANY($3)`
	rows, err := db.QueryContext(ctx, q, schema, table, cols)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		res[name] = true
	}
	return res, rows.Err()
}

func hasTables(ctx context.Context, db *sql.DB, schema string, tables ...string) (map[string]bool, error) {
	res := make(map[string]bool, len(tables))
	q := `SELECT table_name FROM information_schema.tables
          WHERE table_schema = $1 AND table_name = ANY($2)`
	rows, err := db.QueryContext(ctx, q, schema, tables)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		res[name] = true
	}
	return res, rows.Err()
}
