// Package live exposes a WebSocket feed of sync activity. Clients connect
// to /ws and receive one JSON event per sync lifecycle transition plus
// outbox depth changes, which is enough to render a live status widget.
package live

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// Event names published by the sync client and daemon.
const (
	EventSyncStarted   = "sync_started"
	EventPushComplete  = "push_complete"
	EventPullComplete  = "pull_complete"
	EventSyncFailed    = "sync_failed"
	EventOutboxChanged = "outbox_changed"
)

// Event is one feed entry. Data carries event-specific fields such as the
// acked op count for push_complete or the failing stage for sync_failed.
type Event struct {
	Event     string         `json:"event"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Hub accepts WebSocket connections and fans events out to all of them.
// A slow or dead client is dropped rather than allowed to stall the feed.
type Hub struct {
	addr     string
	listener net.Listener
	server   *http.Server

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	broadcast chan Event

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *slog.Logger
}

func NewHub(port int, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		addr:      fmt.Sprintf(":%d", port),
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Event, 100),
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger,
	}
}

// Publish queues an event for broadcast. It never blocks; when the queue
// is full the event is dropped, which is acceptable for a status feed.
func (h *Hub) Publish(event string, data map[string]any) {
	msg := Event{Event: event, Timestamp: time.Now().UTC(), Data: data}
	select {
	case h.broadcast <- msg:
	case <-h.ctx.Done():
	default:
		h.logger.Warn("live feed queue full, dropping event", "event", event)
	}
}

// Start listens and serves in the background.
func (h *Hub) Start() error {
	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("live feed listen on %s: %w", h.addr, err)
	}
	h.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.handleWebSocket)

	h.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	h.wg.Add(1)
	go h.broadcastLoop()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.logger.Info("live feed listening", "addr", ln.Addr().String())
		if err := h.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			h.logger.Error("live feed server error", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address, valid after Start.
func (h *Hub) Addr() string {
	if h.listener == nil {
		return h.addr
	}
	return h.listener.Addr().String()
}

// ClientCount reports the number of connected feed clients.
func (h *Hub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// Stop closes every client connection and shuts the server down.
func (h *Hub) Stop() error {
	h.cancel()

	h.clientsMu.Lock()
	for conn := range h.clients {
		_ = conn.Close(websocket.StatusGoingAway, "shutting down")
		delete(h.clients, conn)
	}
	h.clientsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("live feed shutdown: %w", err)
	}
	h.wg.Wait()
	return nil
}

func (h *Hub) broadcastLoop() {
	defer h.wg.Done()

	for {
		select {
		case <-h.ctx.Done():
			return
		case msg := <-h.broadcast:
			data, err := json.Marshal(msg)
			if err != nil {
				h.logger.Error("encode live event", "error", err)
				continue
			}

			h.clientsMu.RLock()
			conns := make([]*websocket.Conn, 0, len(h.clients))
			for conn := range h.clients {
				conns = append(conns, conn)
			}
			h.clientsMu.RUnlock()

			for _, conn := range conns {
				ctx, cancel := context.WithTimeout(h.ctx, 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()
				if err != nil {
					h.removeClient(conn)
				}
			}
		}
	}
}

func (h *Hub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	h.clientsMu.Lock()
	h.clients[conn] = true
	total := len(h.clients)
	h.clientsMu.Unlock()
	h.logger.Debug("live client connected", "total", total)

	go h.readLoop(conn)
}

// readLoop drains client frames so pings and closes are handled. Client
// messages carry no meaning; the feed is one-way.
func (h *Hub) readLoop(conn *websocket.Conn) {
	defer h.removeClient(conn)
	for {
		if _, _, err := conn.Read(h.ctx); err != nil {
			return
		}
	}
}

func (h *Hub) removeClient(conn *websocket.Conn) {
	h.clientsMu.Lock()
	if _, ok := h.clients[conn]; !ok {
		h.clientsMu.Unlock()
		return
	}
	delete(h.clients, conn)
	total := len(h.clients)
	h.clientsMu.Unlock()

	_ = conn.Close(websocket.StatusNormalClosure, "")
	h.logger.Debug("live client disconnected", "total", total)
}
