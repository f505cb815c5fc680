package status

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Uranury/hommie-node/report"
)

// Event is what websocket clients receive for every sink write.
type Event struct {
	Sink    string         `json:"sink"`
	Path    string         `json:"path"`
	Payload report.Payload `json:"payload"`
	Passed  bool           `json:"passed"`
	Reason  string         `json:"reason,omitempty"`
	Time    time.Time      `json:"time"`
}

// Hub fans published payloads out to connected websocket clients.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *zap.SugaredLogger

	mu      sync.Mutex
	clients map[*websocket.Conn]bool
}

func NewHub(logger *zap.SugaredLogger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:  logger,
		clients: make(map[*websocket.Conn]bool),
	}
}

func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) handleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warnw("WebSocket upgrade error", "error", err)
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	total := len(h.clients)
	h.mu.Unlock()
	h.logger.Infow("Client connected", "clients", total)

	// Clients only listen; reading keeps the close handshake working.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.mu.Lock()
	if h.clients[conn] {
		delete(h.clients, conn)
		conn.Close()
	}
	total = len(h.clients)
	h.mu.Unlock()
	h.logger.Infow("Client disconnected", "clients", total)
}

func (h *Hub) Broadcast(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		client.SetWriteDeadline(time.Now().Add(time.Second))
		if err := client.WriteJSON(ev); err != nil {
			h.logger.Debugw("WebSocket write error", "error", err)
			client.Close()
			delete(h.clients, client)
		}
	}
}

func (h *Hub) CycleStarted(string, time.Time) {}

func (h *Hub) ReadFailed(string, error) {}

func (h *Hub) Written(sink, path string, p report.Payload, err error) {
	ev := Event{Sink: sink, Path: path, Payload: p, Passed: err == nil, Time: time.Now()}
	if err != nil {
		ev.Reason = err.Error()
	}
	h.Broadcast(ev)
}
