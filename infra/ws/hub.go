// Package ws streams live position updates to websocket watchers. Each
// connection watches a single shipment; the hub fans out the telemetry bus to
// whoever is watching.
package ws

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/openfleet/dispatchd/core/logger"
	"github.com/openfleet/dispatchd/core/telemetry"
	"github.com/openfleet/dispatchd/internal/eventbus"
)

// Hub fans out position updates to connected watchers, keyed by shipment.
type Hub struct {
	bus *eventbus.Bus[telemetry.PositionUpdate]
	log logger.Logger

	mu      sync.RWMutex
	clients map[string]map[*client]struct{}

	startOnce sync.Once
	stopOnce  sync.Once
	sub       <-chan telemetry.PositionUpdate
	done      chan struct{}
}

// NewHub builds a hub reading from bus.
func NewHub(bus *eventbus.Bus[telemetry.PositionUpdate], log logger.Logger) *Hub {
	if log == nil {
		log = logger.Nop{}
	}
	return &Hub{
		bus:     bus,
		log:     log,
		clients: make(map[string]map[*client]struct{}),
		done:    make(chan struct{}),
	}
}

// Start begins consuming the bus. Calling Start twice is a no-op.
func (h *Hub) Start() {
	h.startOnce.Do(func() {
		h.sub = h.bus.Subscribe()
		go h.run()
	})
}

// Stop detaches from the bus and closes every connection.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		if h.sub != nil {
			h.bus.Unsubscribe(h.sub)
		}
		close(h.done)
		h.mu.Lock()
		for _, set := range h.clients {
			for c := range set {
				close(c.send)
			}
		}
		h.clients = make(map[string]map[*client]struct{})
		h.mu.Unlock()
	})
}

func (h *Hub) run() {
	for {
		select {
		case <-h.done:
			return
		case upd, ok := <-h.sub:
			if !ok {
				return
			}
			h.broadcast(upd)
		}
	}
}

func (h *Hub) broadcast(upd telemetry.PositionUpdate) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients[upd.ShipmentID] {
		select {
		case c.send <- upd:
		default:
			// slow watcher, drop the update
		}
	}
}

// WatcherCount returns how many connections watch the shipment.
func (h *Hub) WatcherCount(shipmentID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[shipmentID])
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	set := h.clients[c.shipmentID]
	if set == nil {
		set = make(map[*client]struct{})
		h.clients[c.shipmentID] = set
	}
	set[c] = struct{}{}
	n := len(set)
	h.mu.Unlock()
	h.log.Debugw("watcher connected", map[string]any{"shipment_id": c.shipmentID, "watchers": n})
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if set, ok := h.clients[c.shipmentID]; ok {
		if _, ok := set[c]; ok {
			delete(set, c)
			close(c.send)
			if len(set) == 0 {
				delete(h.clients, c.shipmentID)
			}
		}
	}
	h.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// ServeShipment upgrades the request to a websocket watching shipmentID.
func (h *Hub) ServeShipment(w http.ResponseWriter, r *http.Request, shipmentID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnf("websocket upgrade failed: %v", err)
		return
	}
	c := &client{
		shipmentID: shipmentID,
		conn:       conn,
		send:       make(chan telemetry.PositionUpdate, 32),
		hub:        h,
	}
	h.register(c)
	go c.writePump()
	go c.readPump()
}
