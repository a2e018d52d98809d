package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket" //nolint:staticcheck // TODO: migrate to github.com/coder/websocket

	"github.com/scrypster/contactcard/internal/events"
)

// WebSocketHub manages WebSocket connections and broadcasts events to them.
type WebSocketHub struct {
	clients    map[clientInterface]bool
	broadcast  chan events.Event
	register   chan clientInterface
	unregister chan clientInterface
	origins    []string
	log        zerolog.Logger
	mu         sync.RWMutex
	ctx        context.Context
	cancel     context.CancelFunc
}

// clientInterface allows for both real clients and test clients.
type clientInterface interface {
	getSendChannel() chan []byte
	close()
}

// Client represents a WebSocket connection.
type Client struct {
	hub  *WebSocketHub
	conn *websocket.Conn //nolint:staticcheck
	send chan []byte
}

func (c *Client) getSendChannel() chan []byte {
	return c.send
}

func (c *Client) close() {
	if c.conn != nil {
		_ = c.conn.Close(websocket.StatusNormalClosure, "") //nolint:staticcheck
	}
}

// NewWebSocketHub creates a hub that accepts browser connections only from
// origins (host:port patterns). Requests without an Origin header, such as
// CLI clients, are always accepted.
func NewWebSocketHub(origins []string, log zerolog.Logger) *WebSocketHub {
	ctx, cancel := context.WithCancel(context.Background())
	return &WebSocketHub{
		clients:    make(map[clientInterface]bool),
		broadcast:  make(chan events.Event, 256),
		register:   make(chan clientInterface),
		unregister: make(chan clientInterface),
		origins:    origins,
		log:        log,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Run starts the hub's message processing loop.
func (h *WebSocketHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			h.log.Debug().Int("clients", count).Msg("websocket client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.getSendChannel())
			}
			count := len(h.clients)
			h.mu.Unlock()
			h.log.Debug().Int("clients", count).Msg("websocket client disconnected")

		case e := <-h.broadcast:
			data, err := json.Marshal(e)
			if err != nil {
				h.log.Error().Err(err).Str("type", string(e.Type)).Msg("failed to marshal websocket event")
				continue
			}

			// Full lock: slow clients are removed in the default branch.
			h.mu.Lock()
			for client := range h.clients {
				sendChan := client.getSendChannel()
				select {
				case sendChan <- data:
				default:
					close(sendChan)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()

		case <-h.ctx.Done():
			return
		}
	}
}

// Stop gracefully shuts down the hub.
func (h *WebSocketHub) Stop() {
	h.cancel()

	h.mu.Lock()
	for client := range h.clients {
		close(client.getSendChannel())
		client.close()
	}
	h.clients = make(map[clientInterface]bool)
	h.mu.Unlock()
}

// Publish queues an event for every connected client. It implements
// events.Publisher and never blocks.
func (h *WebSocketHub) Publish(e events.Event) {
	select {
	case h.broadcast <- e:
	default:
		h.log.Warn().Str("type", string(e.Type)).Msg("websocket broadcast channel full, dropping event")
	}
}

// Forward publishes everything received on sub until it is closed or the hub
// stops.
func (h *WebSocketHub) Forward(sub <-chan events.Event) {
	for {
		select {
		case e, ok := <-sub:
			if !ok {
				return
			}
			h.Publish(e)
		case <-h.ctx.Done():
			return
		}
	}
}

// Register adds a client to the hub.
func (h *WebSocketHub) Register(client clientInterface) {
	select {
	case h.register <- client:
	case <-h.ctx.Done():
	}
}

// Unregister removes a client from the hub.
func (h *WebSocketHub) Unregister(client clientInterface) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

func (h *WebSocketHub) originAllowed(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, o := range h.origins {
		if u.Host == o {
			return true
		}
	}
	return false
}

// ServeHTTP handles WebSocket upgrade requests.
func (h *WebSocketHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if origin := r.Header.Get("Origin"); origin != "" && !h.originAllowed(origin) {
		http.Error(w, "Forbidden: invalid origin", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{ //nolint:staticcheck
		OriginPatterns: h.origins,
	})
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, 64),
	}
	h.Register(client)

	go client.writePump()
	go client.readPump()
}

// writePump sends queued events to the connection.
func (c *Client) writePump() {
	defer func() {
		c.hub.Unregister(c)
		c.close()
	}()

	for message := range c.send {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := c.conn.Write(ctx, websocket.MessageText, message) //nolint:staticcheck
		cancel()
		if err != nil {
			return
		}
	}
}

// readPump drains client messages to detect disconnects.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.close()
	}()

	for {
		if _, _, err := c.conn.Read(c.hub.ctx); err != nil { //nolint:staticcheck
			return
		}
	}
}

var _ events.Publisher = (*WebSocketHub)(nil)
