// Package events broadcasts sync progress to websocket subscribers.
package events

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/dialogport/tg-archiver/internal/logger"
)

// event types pushed over the websocket
const (
	EventSyncStart    = "sync.start"
	EventSyncEnd      = "sync.end"
	EventDialogSynced = "dialog.synced"
	EventAuthQR       = "auth.qr"
)

// Event is a structured websocket message
type Event struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// DialogSyncedPayload reports per-dialog progress during a sync run
type DialogSyncedPayload struct {
	DialogID    int64  `json:"dialog_id"`
	Title       string `json:"title"`
	NewMessages int    `json:"new_messages"`
	Attachments int    `json:"attachments"`
	Replies     int    `json:"replies"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// admin API is already cors-open; the socket follows suit
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub fans events out to connected websocket clients.
type Hub struct {
	mu        sync.Mutex
	clients   map[*websocket.Conn]bool
	broadcast chan []byte
	done      chan struct{}
	log       *logger.Logger
}

// NewHub creates a hub; call Run in a goroutine to start broadcasting.
func NewHub() *Hub {
	return &Hub{
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan []byte, 64),
		done:      make(chan struct{}),
		log:       logger.Get(),
	}
}

// Run pumps broadcast messages to all clients until Stop is called.
func (h *Hub) Run() {
	for {
		select {
		case msg := <-h.broadcast:
			h.mu.Lock()
			for conn := range h.clients {
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					conn.Close()
					delete(h.clients, conn)
				}
			}
			h.mu.Unlock()
		case <-h.done:
			h.mu.Lock()
			for conn := range h.clients {
				conn.Close()
			}
			h.clients = make(map[*websocket.Conn]bool)
			h.mu.Unlock()
			return
		}
	}
}

// Stop closes all client connections and terminates Run.
func (h *Hub) Stop() {
	close(h.done)
}

// Broadcast sends an event to every connected client.
// Never blocks: when the buffer is full the event is dropped, progress
// events are advisory.
func (h *Hub) Broadcast(eventType string, payload interface{}) {
	data, err := json.Marshal(Event{Type: eventType, Payload: payload})
	if err != nil {
		h.log.Warn().Err(err).Str("type", eventType).Msg("events: failed to marshal event")
		return
	}

	select {
	case h.broadcast <- data:
	default:
		h.log.Debug().Str("type", eventType).Msg("events: broadcast buffer full, dropping event")
	}
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeWS upgrades an HTTP request and registers the connection.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("events: websocket upgrade failed")
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	h.mu.Unlock()

	// drain reads so close frames are processed; we never expect input
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.mu.Lock()
				if _, ok := h.clients[conn]; ok {
					conn.Close()
					delete(h.clients, conn)
				}
				h.mu.Unlock()
				return
			}
		}
	}()
}
