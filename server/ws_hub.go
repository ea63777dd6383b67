package main

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const maxWSConnections = 200

// MetricsHub manages WebSocket connections and broadcasts the dashboard
// snapshot. Single broadcaster pattern prevents N duplicate tickers.
type MetricsHub struct {
	clients    map[*websocket.Conn]struct{}
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mu         sync.RWMutex
	api        *API
}

func NewMetricsHub(api *API) *MetricsHub {
	return &MetricsHub{
		clients:    make(map[*websocket.Conn]struct{}),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		api:        api,
	}
}

// Run starts the hub's main loop.
func (h *MetricsHub) Run(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case conn := <-h.register:
			h.mu.Lock()
			// Connection cap to prevent overload
			if len(h.clients) >= maxWSConnections {
				h.mu.Unlock()
				conn.Close()
				log.Printf("ws: connection rejected, max connections (%d) reached", maxWSConnections)
				continue
			}
			h.clients[conn] = struct{}{}
			total := len(h.clients)
			h.mu.Unlock()
			log.Printf("ws: client registered, total %d", total)

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			total := len(h.clients)
			h.mu.Unlock()
			log.Printf("ws: client unregistered, total %d", total)

		case <-ticker.C:
			h.broadcastAll(ctx)
		}
	}
}

// broadcastAll sends the current dashboard snapshot to every client.
func (h *MetricsHub) broadcastAll(ctx context.Context) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.clients) == 0 {
		return
	}

	snapshot := h.api.snapshotMetrics(ctx)
	for conn := range h.clients {
		// Write deadline prevents blocking on dead connections.
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(snapshot); err != nil {
			log.Printf("ws: write error: %v", err)
			// Unregister is handled by the read pump or the next ping.
			go h.Unregister(conn)
		}
	}
}

func (h *MetricsHub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	log.Printf("ws: shutting down hub with %d clients", len(h.clients))
	for conn := range h.clients {
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]struct{})
}

func (h *MetricsHub) Register(conn *websocket.Conn) {
	h.register <- conn
}

func (h *MetricsHub) Unregister(conn *websocket.Conn) {
	h.unregister <- conn
}

func (h *MetricsHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
