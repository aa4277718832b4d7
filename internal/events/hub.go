// Package events fans lobby lifecycle events out to operational subscribers
// over a lightweight websocket feed, separate from the game transport. A
// bounded replay ring hands late subscribers the recent history so a monitor
// attaching mid-session still sees how the lobby got into its current state.
package events

import (
	"net/http"
	"sync"
	"time"

	"github.com/eapache/queue"
	"golang.org/x/net/websocket"
)

// Event types published on the feed.
const (
	TypePlayerJoined   = "player_joined"
	TypePlayerUpdated  = "player_updated"
	TypePlayerLeft     = "player_left"
	TypeSessionStarted = "session_started"
	TypeSessionEnded   = "session_ended"
	TypeServerReset    = "server_reset"
)

const (
	defaultReplayLimit = 64

	// defaultWriteWait bounds each individual send; a feed subscriber itself
	// stays attached for as long as it keeps accepting writes.
	defaultWriteWait = 10 * time.Second
)

var timeNow = time.Now

// Event is one entry on the lobby event feed. Seq increases by one per
// published event for the lifetime of the hub.
type Event struct {
	Seq     uint64      `json:"seq"`
	Type    string      `json:"type"`
	At      time.Time   `json:"at"`
	Payload interface{} `json:"payload,omitempty"`
}

type client struct {
	conn *websocket.Conn
	send chan Event
}

// Hub broadcasts events to all connected subscribers and retains a bounded
// replay window for newcomers.
type Hub struct {
	mu        sync.RWMutex
	clients   map[*client]struct{}
	replay    *queue.Queue
	replayCap int
	nextSeq   uint64
	writeWait time.Duration
}

// NewHub constructs an event hub retaining up to replayLimit events for
// replay; zero or negative selects the default window.
func NewHub(replayLimit int) *Hub {
	if replayLimit <= 0 {
		replayLimit = defaultReplayLimit
	}
	return &Hub{
		clients:   make(map[*client]struct{}),
		replay:    queue.New(),
		replayCap: replayLimit,
		writeWait: defaultWriteWait,
	}
}

// Publish stamps the event with a sequence number and timestamp, appends it
// to the replay window and fans it out. Subscribers that cannot keep up have
// the event dropped rather than stalling the publisher.
func (h *Hub) Publish(eventType string, payload interface{}) Event {
	h.mu.Lock()
	h.nextSeq++
	event := Event{
		Seq:     h.nextSeq,
		Type:    eventType,
		At:      timeNow(),
		Payload: payload,
	}

	h.replay.Add(event)
	for h.replay.Length() > h.replayCap {
		h.replay.Remove()
	}

	for cl := range h.clients {
		select {
		case cl.send <- event:
		default:
			// Drop if buffer full to avoid blocking all subscribers.
		}
	}
	h.mu.Unlock()

	return event
}

// Serve upgrades the HTTP connection to a WebSocket subscriber. The retained
// replay window is queued for delivery before any live event.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request) {
	server := websocket.Server{
		Handshake: func(config *websocket.Config, req *http.Request) error {
			// Accept any origin; pick the first subprotocol when one is offered.
			if len(config.Protocol) > 0 {
				config.Protocol = config.Protocol[:1]
			}
			return nil
		},
		Handler: func(conn *websocket.Conn) {
			cl := &client{
				conn: conn,
				send: make(chan Event, h.replayCap+16),
			}

			h.addClient(cl)
			defer h.removeClient(cl)

			go h.writeLoop(cl)
			h.readLoop(cl)
		},
	}

	server.ServeHTTP(w, r)
}

// SubscriberCount returns the number of attached subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) addClient(cl *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	// The send buffer is sized to hold the full window, so these cannot block.
	for i := 0; i < h.replay.Length(); i++ {
		cl.send <- h.replay.Get(i).(Event)
	}
	h.clients[cl] = struct{}{}
}

func (h *Hub) removeClient(cl *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[cl]; !ok {
		return
	}
	delete(h.clients, cl)
	close(cl.send)
	_ = cl.conn.Close()
}

// writeLoop delivers queued events. The deadline is set per write, so a
// subscriber is only dropped when a send stalls, never for simply being
// attached a long time.
func (h *Hub) writeLoop(cl *client) {
	for event := range cl.send {
		_ = cl.conn.SetWriteDeadline(time.Now().Add(h.writeWait))
		if err := websocket.JSON.Send(cl.conn, event); err != nil {
			break
		}
	}
}

func (h *Hub) readLoop(cl *client) {
	defer cl.conn.Close()

	for {
		var payload interface{}
		if err := websocket.JSON.Receive(cl.conn, &payload); err != nil {
			break
		}
	}
}
