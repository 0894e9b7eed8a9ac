package api

import (
	"fmt"
	"net/http"
	"time"

	gtfsrtpb "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"bus-tracker/internal/transit"
)

const gtfsRealtimeVersion = "2.0"

// BuildVehiclePositionsFeed renders the fleet as a full-dataset GTFS-Realtime feed
// with one VehiclePosition entity per vehicle.
func BuildVehiclePositionsFeed(vs []transit.Vehicle, now time.Time) *gtfsrtpb.FeedMessage {
	feed := &gtfsrtpb.FeedMessage{
		Header: &gtfsrtpb.FeedHeader{
			GtfsRealtimeVersion: proto.String(gtfsRealtimeVersion),
			Incrementality:      gtfsrtpb.FeedHeader_FULL_DATASET.Enum(),
			Timestamp:           proto.Uint64(uint64(now.Unix())),
		},
		Entity: make([]*gtfsrtpb.FeedEntity, 0, len(vs)),
	}
	for _, v := range vs {
		ts := v.UpdatedAt
		if ts.IsZero() {
			ts = now
		}
		vp := &gtfsrtpb.VehiclePosition{
			Trip: &gtfsrtpb.TripDescriptor{RouteId: proto.String(v.RouteCode)},
			Vehicle: &gtfsrtpb.VehicleDescriptor{
				Id:    proto.String(v.ID),
				Label: proto.String(v.RouteCode),
			},
			Position: &gtfsrtpb.Position{
				Latitude:  proto.Float32(float32(v.Position.Lat)),
				Longitude: proto.Float32(float32(v.Position.Lon)),
			},
			Timestamp: proto.Uint64(uint64(ts.Unix())),
		}
		feed.Entity = append(feed.Entity, &gtfsrtpb.FeedEntity{
			Id:      proto.String(v.ID),
			Vehicle: vp,
		})
	}
	return feed
}

func (s *Server) vehiclePositionsHandler(w http.ResponseWriter, r *http.Request) {
	feed := BuildVehiclePositionsFeed(s.reader.ListVehicles(), s.now())

	if r.URL.Query().Get("format") == "json" {
		b, err := protojson.Marshal(feed)
		if err != nil {
			s.serverErrorResponse(w, fmt.Errorf("marshal feed json: %w", err))
			return
		}
		setJSONResponseType(w)
		_, _ = w.Write(b)
		return
	}

	b, err := proto.Marshal(feed)
	if err != nil {
		s.serverErrorResponse(w, fmt.Errorf("marshal feed: %w", err))
		return
	}
	w.Header().Set("Content-Type", "application/x-protobuf")
	_, _ = w.Write(b)
}
