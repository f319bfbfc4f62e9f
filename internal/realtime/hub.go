// internal/realtime/hub.go
package realtime

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second
	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Clients only send control frames; anything larger is a misbehaving peer.
	maxMessageSize = 4096
	// Outbound messages buffered per client before it is dropped as too slow.
	sendBuffer = 256
)

// ErrHubStopped is returned when broadcasting after the hub has shut down.
var ErrHubStopped = errors.New("realtime hub stopped")

// Envelope is the frame written to every client.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// client is a middleman between the websocket connection and the hub.
type client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	// Buffered channel of outbound messages.
	send chan []byte
}

// Hub fans events out to every connected websocket client.
type Hub struct {
	logger     *zap.Logger
	upgrader   websocket.Upgrader
	clients    map[*client]struct{}
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	done       chan struct{}
	stopOnce   sync.Once
	pumps      sync.WaitGroup

	mu    sync.RWMutex
	count int
}

// NewHub creates a Hub. An empty allowedOrigins, or one containing "*",
// accepts any origin.
func NewHub(logger *zap.Logger, allowedOrigins []string) *Hub {
	h := &Hub{
		logger:     logger.Named("realtime"),
		clients:    make(map[*client]struct{}),
		broadcast:  make(chan []byte, sendBuffer),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[strings.TrimRight(strings.ToLower(o), "/")] = struct{}{}
	}
	if len(set) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[strings.TrimRight(strings.ToLower(origin), "/")]
		return ok
	}
}

// Run serves the hub until ctx is done, then disconnects every client and
// waits for their pumps to exit.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("Realtime hub started.")
	defer h.logger.Info("Realtime hub stopped.")

	for {
		select {
		case <-ctx.Done():
			h.stopOnce.Do(func() { close(h.done) })
			for c := range h.clients {
				h.drop(c)
			}
			h.pumps.Wait()
			return
		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.setCount()
			h.pumps.Add(2)
			go c.writePump()
			go c.readPump()
			h.logger.Info("Websocket client connected.", zap.String("client_id", c.id))
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.drop(c)
				h.logger.Info("Websocket client disconnected.", zap.String("client_id", c.id))
			}
		case message := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- message:
				default:
					h.logger.Warn("Dropping slow websocket client.", zap.String("client_id", c.id))
					h.drop(c)
				}
			}
		}
	}
}

// drop removes c and closes its send channel. Only called from Run.
func (h *Hub) drop(c *client) {
	delete(h.clients, c)
	close(c.send)
	h.setCount()
}

func (h *Hub) setCount() {
	h.mu.Lock()
	h.count = len(h.clients)
	h.mu.Unlock()
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Broadcast sends event to every connected client. It never blocks on a
// stopped hub.
func (h *Hub) Broadcast(event string, data any) error {
	message, err := encode(event, data)
	if err != nil {
		h.logger.Error("Failed to marshal broadcast message.", zap.String("event", event), zap.Error(err))
		return err
	}
	select {
	case h.broadcast <- message:
		return nil
	case <-h.done:
		return ErrHubStopped
	}
}

func encode(event string, data any) ([]byte, error) {
	return json.Marshal(Envelope{Event: event, Data: data})
}

// ServeHTTP upgrades the request to a websocket and registers the client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.done:
		http.Error(w, "realtime hub stopped", http.StatusServiceUnavailable)
		return
	default:
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Failed to upgrade websocket.", zap.Error(err))
		return
	}
	c := &client{
		id:   uuid.NewString(),
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}

	greeting, err := encode(EventConnected, Connected{Message: ConnectedMessage})
	if err == nil {
		c.send <- greeting
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
	}
}

// readPump drains the connection so control frames are processed. Clients
// have nothing to say to the hub.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
		c.hub.pumps.Done()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("Websocket client read error.", zap.String("client_id", c.id), zap.Error(err))
			}
			return
		}
		c.hub.logger.Debug("Ignoring message from websocket client.", zap.String("client_id", c.id), zap.Int("bytes", len(message)))
	}
}

// writePump writes queued messages, one frame each, and keeps the peer alive.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.hub.pumps.Done()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
