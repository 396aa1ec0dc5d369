package adminhttp

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/bavix/btscan/internal/devices"
	"github.com/bavix/btscan/internal/session"
)

// WebSocket message types.
const (
	TypeDevices  = "devices"
	TypeScanning = "scanning"
	TypeMessage  = "message"
)

const (
	clientSendBuffer             = 32
	defaultWebSocketReadLimit    = 1024
	defaultWebSocketTimeout      = 60 * time.Second
	defaultWebSocketPingInterval = 30 * time.Second
	defaultWebSocketWriteTimeout = 5 * time.Second
)

// Envelope is one WebSocket message.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }} //nolint:gochecknoglobals // websocket upgrader

type client struct {
	conn *websocket.Conn
	send chan Envelope
}

// Hub pushes the device list, the scanning indicator and user messages to
// WebSocket clients. It is an events.Presenter and a session.Notifier.
//
// Refresh and SetScanning only enqueue: each client has its own writer
// goroutine, and a client that cannot keep up loses messages, not the router.
type Hub struct {
	mu       sync.Mutex
	clients  map[*client]struct{}
	devices  []devices.View
	scanning bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*client]struct{}),
		devices: []devices.View{},
	}
}

// Refresh implements events.Presenter.
func (h *Hub) Refresh(snapshot []devices.Record) {
	views := devices.Views(snapshot)

	h.mu.Lock()
	h.devices = views
	h.mu.Unlock()

	h.broadcast(Envelope{Type: TypeDevices, Data: views})
}

// SetScanning implements events.Presenter.
func (h *Hub) SetScanning(visible bool) {
	h.mu.Lock()
	h.scanning = visible
	h.mu.Unlock()

	h.broadcast(Envelope{Type: TypeScanning, Data: visible})
}

// Notify implements session.Notifier.
func (h *Hub) Notify(_ context.Context, msg session.Message) {
	h.broadcast(Envelope{Type: TypeMessage, Data: msg})
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.clients)
}

func (h *Hub) broadcast(env Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		select {
		case c.send <- env:
		default:
		}
	}
}

// register adds c and queues the current state for it under the same lock,
// so no broadcast can slip in between.
func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[c] = struct{}{}
	c.send <- Envelope{Type: TypeDevices, Data: h.devices}
	c.send <- Envelope{Type: TypeScanning, Data: h.scanning}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// ServeHTTP upgrades the request and serves one client until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Log the error but don't use http.Error as it conflicts with WebSocket upgrade
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("WebSocket upgrade failed")

		return
	}

	c := &client{conn: conn, send: make(chan Envelope, clientSendBuffer)}
	h.register(c)

	go c.writeLoop()

	conn.SetReadLimit(defaultWebSocketReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(defaultWebSocketTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(defaultWebSocketTimeout))

		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.unregister(c)
	_ = conn.Close()
}

func (c *client) writeLoop() {
	ticker := time.NewTicker(defaultWebSocketPingInterval)
	defer ticker.Stop()

	for {
		select {
		case env, ok := <-c.send:
			if !ok {
				return
			}

			_ = c.conn.SetWriteDeadline(time.Now().Add(defaultWebSocketWriteTimeout))
			if err := c.conn.WriteJSON(env); err != nil {
				_ = c.conn.Close()

				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(defaultWebSocketWriteTimeout)); err != nil {
				_ = c.conn.Close()

				return
			}
		}
	}
}
