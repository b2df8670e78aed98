package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/flaketrader/ledger-engine/internal/metrics"
)

// TradeEvent is a JSON message sent to trade-feed clients after a trade
// commits. Account identity is deliberately omitted.
type TradeEvent struct {
	Type     string `json:"type"`
	TradeID  string `json:"trade_id"`
	Symbol   string `json:"symbol"`
	Side     string `json:"side"` // "buy" or "sell"
	Quantity string `json:"quantity"`
	Price    string `json:"price"`
	Closed   bool   `json:"closed,omitempty"`
}

// FeedHub manages WebSocket connections and broadcasts trade events to all
// connected clients.
type FeedHub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mu         sync.RWMutex
}

// NewFeedHub creates a new trade-feed hub.
func NewFeedHub() *FeedHub {
	return &FeedHub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
	}
}

// Run starts the hub's main event loop. Must be called in a goroutine.
func (h *FeedHub) Run() {
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			total := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(total))
			slog.Info("feed client connected", "total", total)

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			total := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(total))

		case msg := <-h.broadcast:
			h.mu.Lock()
			for conn := range h.clients {
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					conn.Close()
					delete(h.clients, conn)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast sends an event to all connected clients. Never blocks the
// trading path: if the buffer is full the event is dropped.
func (h *FeedHub) Broadcast(event TradeEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- data:
	default:
		slog.Warn("feed broadcast buffer full, dropping event", "trade_id", event.TradeID)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The feed is public read-only data.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleWS handles GET /api/v1/ws, upgrading to a WebSocket subscription.
func (h *FeedHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "err", err)
		return
	}

	h.register <- conn

	// Reader loop: discard client messages, detect disconnect.
	go func() {
		defer func() { h.unregister <- conn }()
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(24 * time.Hour))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
