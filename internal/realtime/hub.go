// Package realtime pushes notification events to connected back-office screens
// and relays them between API instances.
package realtime

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"billingdesk/internal/common"
)

// Hub owns the set of websocket clients. Every mutation of the set goes
// through the run loop, so clients never race on it.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	done       chan struct{}
	closeOnce  sync.Once

	mu    sync.RWMutex
	count int

	log *zap.SugaredLogger
}

func NewHub(log *zap.SugaredLogger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 256),
		done:       make(chan struct{}),
		log:        log,
	}
}

// Run serves register, unregister and broadcast until Shutdown.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.clients[c] = true
			h.setCount(len(h.clients))
			h.log.Debugw("websocket client connected", "client", c.id, "clients", len(h.clients))

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				h.setCount(len(h.clients))
				h.log.Debugw("websocket client disconnected", "client", c.id, "clients", len(h.clients))
			}

		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// slow consumer: drop the client rather than stall everyone
					delete(h.clients, c)
					close(c.send)
					h.log.Warnw("dropping slow websocket client", "client", c.id)
				}
			}
			h.setCount(len(h.clients))

		case <-h.done:
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.setCount(0)
			return
		}
	}
}

func (h *Hub) setCount(n int) {
	h.mu.Lock()
	h.count = n
	h.mu.Unlock()
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Update implements common.Observer. The frame is the event itself:
// {"event": "<kind>", "notification": {...}}.
func (h *Hub) Update(event common.NotificationEvent) error {
	frame, err := json.Marshal(event)
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- frame:
		return nil
	case <-h.done:
		return nil
	default:
		h.log.Warnw("websocket broadcast queue full, dropping frame", "event", event.Kind)
		return nil
	}
}

func (h *Hub) Name() string {
	return "websocket_hub"
}

func (h *Hub) Shutdown() {
	h.closeOnce.Do(func() { close(h.done) })
}
