package web

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gamelaunch/gamelaunch/internal/monitor"
)

const (
	clientBuffer = 64
	writeWait    = 5 * time.Second
)

// EventSessionEnded is pushed once when the tracked app leaves the foreground.
const EventSessionEnded = "sessionEnded"

// Event is the message written to WebSocket clients.
type Event struct {
	Type           string    `json:"type"`
	SessionID      string    `json:"session_id,omitempty"`
	AppID          string    `json:"app_id,omitempty"`
	LastForeground string    `json:"last_foreground,omitempty"`
	EndedAt        time.Time `json:"ended_at,omitzero"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func newClient(conn *websocket.Conn) *client {
	c := &client{
		conn: conn,
		send: make(chan []byte, clientBuffer),
	}
	go c.writePump()
	return c
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
}

// Broadcaster fans session events out to every connected WebSocket client.
// A client whose buffer is full is disconnected.
type Broadcaster struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]bool
	// lastEnded guards against announcing the same session twice.
	lastEnded string
	closed    bool
}

func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Broadcaster{
		logger:  logger.With("component", "ws"),
		clients: make(map[*client]bool),
	}
	b.upgrader = websocket.Upgrader{CheckOrigin: checkOrigin}
	return b
}

// SessionEnded has the shape of a host subscriber.
func (b *Broadcaster) SessionEnded(end monitor.SessionEnd) {
	b.mu.Lock()
	if end.SessionID != "" && end.SessionID == b.lastEnded {
		b.mu.Unlock()
		return
	}
	b.lastEnded = end.SessionID
	b.mu.Unlock()

	b.broadcast(Event{
		Type:           EventSessionEnded,
		SessionID:      end.SessionID,
		AppID:          end.AppID,
		LastForeground: end.LastForeground,
		EndedAt:        end.EndedAt,
	})
}

// ServeWS upgrades the request and keeps the client registered until it
// disconnects.
func (b *Broadcaster) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn("ws upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	c, ok := b.addClient(conn)
	if !ok {
		conn.Close()
		return
	}
	b.logger.Debug("ws client connected", "remote", r.RemoteAddr)

	go func() {
		defer func() {
			b.removeClient(c)
			b.logger.Debug("ws client disconnected", "remote", r.RemoteAddr)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (b *Broadcaster) addClient(conn *websocket.Conn) (*client, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, false
	}
	c := newClient(conn)
	b.clients[c] = true
	return c, true
}

func (b *Broadcaster) removeClient(c *client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		close(c.send)
	}
}

func (b *Broadcaster) broadcast(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		b.logger.Error("ws marshal failed", "err", err)
		return
	}

	b.mu.RLock()
	clients := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	for _, c := range clients {
		if !b.trySend(c, data) {
			b.logger.Warn("ws client too slow, disconnecting")
			b.removeClient(c)
		}
	}
}

// trySend holds the read lock so the channel cannot be closed mid-send.
// A client removed in the meantime counts as delivered.
func (b *Broadcaster) trySend(c *client, data []byte) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.clients[c] {
		return true
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// ClientCount returns the number of connected clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Close disconnects every client and refuses new ones.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for c := range b.clients {
		delete(b.clients, c)
		close(c.send)
	}
}

// checkOrigin accepts non-browser clients and same-host pages.
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return parsed.Host == r.Host
}
