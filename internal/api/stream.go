package api

import (
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"bus-tracker/internal/tracker"
	"bus-tracker/internal/transit"
)

const (
	msgTypeNewBounds = "newBounds"
	msgTypeBuses     = "Buses"

	writeWait = 2 * time.Second
)

type StreamMetrics interface {
	StreamClientsSet(n int)
}

// boundsMessage is sent by a viewer whenever its map window changes.
type boundsMessage struct {
	MsgType string          `json:"msgType"`
	Data    *transit.Bounds `json:"data"`
}

type busesMessage struct {
	MsgType string    `json:"msgType"`
	Buses   []busView `json:"buses"`
}

type busView struct {
	BusID      string  `json:"busId"`
	Lat        float64 `json:"lat"`
	Lng        float64 `json:"lng"`
	Route      string  `json:"route"`
	NextStop   string  `json:"nextStop"`
	ETAMinutes int     `json:"etaMinutes"`
	Stale      bool    `json:"stale,omitempty"`
}

func newBusesMessage(vs []transit.Vehicle, b *transit.Bounds) busesMessage {
	filtered := filterVehicles(vs, b)
	buses := make([]busView, 0, len(filtered))
	for _, v := range filtered {
		buses = append(buses, busView{
			BusID:      v.ID,
			Lat:        v.Position.Lat,
			Lng:        v.Position.Lon,
			Route:      v.RouteCode,
			NextStop:   v.NextStop,
			ETAMinutes: v.ETAMinutes,
			Stale:      v.Stale,
		})
	}
	return busesMessage{MsgType: msgTypeBuses, Buses: buses}
}

type streamClient struct {
	conn   *websocket.Conn
	send   chan []transit.Vehicle
	bounds atomic.Pointer[transit.Bounds]
	done   chan struct{}
	once   sync.Once
}

// offer queues the newest snapshot, replacing one the client has not consumed yet.
func (c *streamClient) offer(vs []transit.Vehicle) {
	for {
		select {
		case c.send <- vs:
			return
		default:
		}
		select {
		case <-c.send:
		default:
		}
	}
}

func (c *streamClient) close() { c.once.Do(func() { close(c.done) }) }

// Hub pushes fleet snapshots to WebSocket viewers, each filtered by the
// viewer's map window. Viewers without a window receive every vehicle.
type Hub struct {
	reader   tracker.Reader
	logger   *slog.Logger
	metrics  StreamMetrics
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*streamClient]struct{}
	closed  chan struct{}
	wg      sync.WaitGroup
}

// NewHub builds a hub. metrics may be nil.
func NewHub(reader tracker.Reader, logger *slog.Logger, metrics StreamMetrics) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		reader:  reader,
		logger:  logger,
		metrics: metrics,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*streamClient]struct{}),
		closed:  make(chan struct{}),
	}
}

// VehiclesUpdated fans a snapshot out to every connected viewer.
func (h *Hub) VehiclesUpdated(vs []transit.Vehicle) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.offer(vs)
	}
}

func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close sends a close frame to every viewer and waits for their handlers to return.
func (h *Hub) Close() {
	h.mu.Lock()
	select {
	case <-h.closed:
	default:
		close(h.closed)
	}
	h.mu.Unlock()
	h.wg.Wait()
}

func (h *Hub) register(c *streamClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	select {
	case <-h.closed:
		return false
	default:
	}
	h.clients[c] = struct{}{}
	h.wg.Add(1)
	if h.metrics != nil {
		h.metrics.StreamClientsSet(len(h.clients))
	}
	return true
}

func (h *Hub) unregister(c *streamClient) {
	h.mu.Lock()
	delete(h.clients, c)
	if h.metrics != nil {
		h.metrics.StreamClientsSet(len(h.clients))
	}
	h.mu.Unlock()
	h.wg.Done()
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer ws.Close()

	c := &streamClient{
		conn: ws,
		send: make(chan []transit.Vehicle, 1),
		done: make(chan struct{}),
	}
	if !h.register(c) {
		h.writeClose(ws)
		return
	}
	defer h.unregister(c)

	var readers sync.WaitGroup
	readers.Add(1)
	go func() {
		defer readers.Done()
		h.listen(c)
	}()
	defer readers.Wait()
	// unblock the reader once we stop writing
	defer ws.Close()

	c.offer(h.reader.ListVehicles())
	for {
		select {
		case <-h.closed:
			h.writeClose(ws)
			return
		case <-c.done:
			return
		case vs := <-c.send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteJSON(newBusesMessage(vs, c.bounds.Load())); err != nil {
				h.logger.Debug("websocket write failed", slog.String("error", err.Error()))
				return
			}
		}
	}
}

// listen reads window updates until the connection fails.
func (h *Hub) listen(c *streamClient) {
	defer c.close()
	for {
		var msg boundsMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}
		if msg.MsgType != msgTypeNewBounds || msg.Data == nil {
			continue
		}
		b := *msg.Data
		c.bounds.Store(&b)
		c.offer(h.reader.ListVehicles())
	}
}

func (h *Hub) writeClose(ws *websocket.Conn) {
	_ = ws.SetWriteDeadline(time.Now().Add(time.Second))
	_ = ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
}
