// Package transport owns the websocket endpoint lobbyd clients connect to.
// It assigns each accepted socket a connection-scoped client id, pumps frames
// in both directions, and reports lifecycle and payloads to a Handler. What
// the frames mean is the gateway's business; the transport moves bytes.
package transport

import (
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/quellen-dev/lobbyd/internal/roster"
	"github.com/quellen-dev/lobbyd/pkg/logger"
	"github.com/quellen-dev/lobbyd/pkg/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 32 << 10 // 32 KiB

	defaultBufferSize = 64
)

var timeNow = time.Now

// Handler receives transport callbacks. For any one client the calls are
// ordered: HandleConnect first, then HandleMessage per inbound frame, then
// exactly one HandleDisconnect, all from that client's read goroutine.
// Different clients call concurrently.
type Handler interface {
	HandleConnect(client roster.ClientID, remoteAddr string)
	HandleMessage(client roster.ClientID, payload []byte)
	HandleDisconnect(client roster.ClientID)
}

// Hub accepts websocket connections and tracks the live client set. Client
// ids count up from one and are never reused within a process lifetime.
type Hub struct {
	handler  Handler
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[roster.ClientID]*client

	nextID atomic.Uint64
}

// NewHub constructs a hub delivering callbacks to handler. Origins beyond
// same-host and loopback can be allowed explicitly for cross-origin clients.
func NewHub(handler Handler, allowedOrigins []string) *Hub {
	extra := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		if origin = strings.TrimSpace(origin); origin != "" {
			extra[hostWithoutPort(origin)] = struct{}{}
		}
	}

	return &Hub{
		handler: handler,
		clients: make(map[roster.ClientID]*client),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				originHost := hostWithoutPort(origin)
				if originHost == hostWithoutPort(r.Host) || isLoopback(originHost) {
					return true
				}
				_, ok := extra[originHost]
				return ok
			},
		},
	}
}

// Serve upgrades the HTTP connection, assigns a client id and runs the read
// pump until the connection dies. Blocks for the connection's lifetime.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request) {
	socket, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("transport: upgrade failed", zap.Error(err))
		return
	}

	c := &client{
		hub:         h,
		socket:      socket,
		id:          roster.ClientID(h.nextID.Add(1)),
		send:        make(chan []byte, defaultBufferSize),
		remoteAddr:  r.RemoteAddr,
		connectedAt: timeNow(),
	}

	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	metrics.ConnectedClients.Inc()

	h.handler.HandleConnect(c.id, c.remoteAddr)

	go c.writeLoop()
	c.readLoop()
}

// Send queues payload for one client. Reports false when the client is not
// connected. A client that cannot keep up with its queue is closed rather
// than allowed to stall the sender.
func (h *Hub) Send(id roster.ClientID, payload []byte) bool {
	h.mu.RLock()
	c, ok := h.clients[id]
	h.mu.RUnlock()
	if !ok {
		return false
	}

	if !c.trySend(payload) {
		logger.Warn("transport: closing backpressured client", zap.Uint64("client", uint64(id)))
		c.close()
	}
	return true
}

// Broadcast queues payload for every connected client.
func (h *Hub) Broadcast(payload []byte) {
	h.broadcast(payload, 0)
}

// BroadcastExcept queues payload for every connected client but one, which
// is how a state change is echoed to everyone other than its originator.
func (h *Hub) BroadcastExcept(except roster.ClientID, payload []byte) {
	h.broadcast(payload, except)
}

func (h *Hub) broadcast(payload []byte, except roster.ClientID) {
	h.mu.RLock()
	var stalled []*client
	for id, c := range h.clients {
		if id == except {
			continue
		}
		if !c.trySend(payload) {
			stalled = append(stalled, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range stalled {
		logger.Warn("transport: closing backpressured client", zap.Uint64("client", uint64(c.id)))
		c.close()
	}
}

// Close tears down one client's connection, if still present. The handler's
// HandleDisconnect fires as part of the teardown.
func (h *Hub) Close(id roster.ClientID) {
	h.mu.RLock()
	c, ok := h.clients[id]
	h.mu.RUnlock()
	if ok {
		c.close()
	}
}

// CloseAll tears down every live connection.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	all := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		all = append(all, c)
	}
	h.mu.RUnlock()

	for _, c := range all {
		c.close()
	}
}

// MarkEstablished flags a client as having completed the join handshake,
// exempting it from the unestablished-connection sweep.
func (h *Hub) MarkEstablished(id roster.ClientID) {
	h.mu.RLock()
	c, ok := h.clients[id]
	h.mu.RUnlock()
	if ok {
		c.established.Store(true)
	}
}

// SweepUnestablished closes connections that have been open for longer than
// maxAge without completing the join handshake and returns how many were
// dropped.
func (h *Hub) SweepUnestablished(maxAge time.Duration) int {
	cutoff := timeNow().Add(-maxAge)

	h.mu.RLock()
	var idle []*client
	for _, c := range h.clients {
		if !c.established.Load() && c.connectedAt.Before(cutoff) {
			idle = append(idle, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range idle {
		logger.Info("transport: dropping connection that never joined",
			zap.Uint64("client", uint64(c.id)),
			zap.String("remote_addr", c.remoteAddr))
		c.close()
	}
	return len(idle)
}

// Count returns the number of live connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; ok {
		delete(h.clients, c.id)
		metrics.ConnectedClients.Dec()
	}
	h.mu.Unlock()
}

type client struct {
	hub    *Hub
	socket *websocket.Conn
	id     roster.ClientID

	send   chan []byte
	sendMu sync.Mutex
	closed bool
	once   sync.Once

	established atomic.Bool
	remoteAddr  string
	connectedAt time.Time
}

func (c *client) readLoop() {
	defer c.close()

	c.socket.SetReadLimit(maxMessageSize)
	_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
	c.socket.SetPongHandler(func(string) error {
		_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, payload, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				logger.Debug("transport: unexpected close", zap.Uint64("client", uint64(c.id)), zap.Error(err))
			}
			break
		}
		if len(payload) == 0 {
			continue
		}
		c.hub.handler.HandleMessage(c.id, payload)
	}
}

// writeLoop drains queued frames, so payloads sent just before a teardown
// still reach the peer ahead of the close handshake. It owns the socket
// close; readLoop unblocks when the socket goes away.
func (c *client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.socket.Close()
		c.close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.socket.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.socket.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// trySend reports false only on backpressure; payloads for an already closed
// client are dropped quietly.
func (c *client) trySend(payload []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.closed {
		return true
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	c.once.Do(func() {
		c.sendMu.Lock()
		c.closed = true
		close(c.send)
		c.sendMu.Unlock()

		c.hub.unregister(c)
		c.hub.handler.HandleDisconnect(c.id)
	})
}

func hostWithoutPort(host string) string {
	host = strings.TrimSpace(host)
	if host == "" {
		return ""
	}

	if strings.Contains(host, "://") {
		if parsed, err := url.Parse(host); err == nil && parsed.Host != "" {
			return hostWithoutPort(parsed.Host)
		}
	}

	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

func isLoopback(host string) bool {
	ip := net.ParseIP(host)
	if ip != nil {
		return ip.IsLoopback()
	}
	return strings.EqualFold(host, "localhost")
}
