package ws

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"conversation-service/internal/models"
	"conversation-service/internal/observability"
)

const wsEventsChannel = "ws-events"

// EventPublisher receives websocket lifecycle events for analytics.
type EventPublisher interface {
	Publish(ctx context.Context, channel string, event string, payload any) error
}

// Hub maintains the active websocket connections of each conversation.
// Writes to a connection are serialized through a per-connection mutex;
// gorilla connections do not allow concurrent writers.
type Hub struct {
	rooms      map[string]map[*websocket.Conn]bool
	connInfo   map[string]map[*websocket.Conn]ConnInfo
	writeLocks map[*websocket.Conn]*sync.Mutex
	mu         sync.RWMutex

	events EventPublisher
}

// NewHub creates an empty hub. events may be nil.
func NewHub(events EventPublisher) *Hub {
	return &Hub{
		rooms:      make(map[string]map[*websocket.Conn]bool),
		connInfo:   make(map[string]map[*websocket.Conn]ConnInfo),
		writeLocks: make(map[*websocket.Conn]*sync.Mutex),
		events:     events,
	}
}

// Add registers a websocket connection to a conversation room.
func (h *Hub) Add(conversationID string, conn *websocket.Conn, info ConnInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[conversationID]; !ok {
		h.rooms[conversationID] = make(map[*websocket.Conn]bool)
	}
	h.rooms[conversationID][conn] = true
	if _, ok := h.connInfo[conversationID]; !ok {
		h.connInfo[conversationID] = make(map[*websocket.Conn]ConnInfo)
	}
	h.connInfo[conversationID][conn] = info
	if _, ok := h.writeLocks[conn]; !ok {
		h.writeLocks[conn] = &sync.Mutex{}
	}
}

// Remove unregisters a websocket connection, dropping the room once it
// is empty.
func (h *Hub) Remove(conversationID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.rooms[conversationID]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.rooms, conversationID)
		}
	}
	if infos, ok := h.connInfo[conversationID]; ok {
		delete(infos, conn)
		if len(infos) == 0 {
			delete(h.connInfo, conversationID)
		}
	}
	delete(h.writeLocks, conn)
}

// RoomSize reports how many connections a conversation currently has.
func (h *Hub) RoomSize(conversationID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[conversationID])
}

// Broadcast sends an event to every connection in a conversation room,
// optionally skipping one connection. Connections that fail to take the
// write are closed and removed in the same pass.
func (h *Hub) Broadcast(conversationID string, event models.ConversationEvent, exclude *websocket.Conn) {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.rooms[conversationID]))
	for conn := range h.rooms[conversationID] {
		if conn != exclude {
			conns = append(conns, conn)
		}
	}
	h.mu.RUnlock()

	payload, _ := json.Marshal(event)
	for _, conn := range conns {
		if err := h.write(conn, payload); err != nil {
			log.Printf("websocket write error: %v", err)
			conn.Close()
			h.publishWSError(conversationID, conn, err)
			h.Remove(conversationID, conn)
		}
	}
}

// SendTo writes an event to a single connection.
func (h *Hub) SendTo(conn *websocket.Conn, event models.ConversationEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return h.write(conn, payload)
}

// write serializes writes to one connection so concurrent broadcasts
// never hit the same conn at the same time.
func (h *Hub) write(conn *websocket.Conn, payload []byte) error {
	h.mu.RLock()
	lock := h.writeLocks[conn]
	h.mu.RUnlock()
	if lock == nil {
		// Conn is not (or no longer) registered.
		return conn.WriteMessage(websocket.TextMessage, payload)
	}
	lock.Lock()
	defer lock.Unlock()
	return conn.WriteMessage(websocket.TextMessage, payload)
}

func (h *Hub) publishWSError(conversationID string, conn *websocket.Conn, err error) {
	info, ok := h.getConnInfo(conversationID, conn)
	if !ok {
		return
	}

	observability.IncWSEvent("ws_error")
	if h.events == nil {
		return
	}
	payload := map[string]interface{}{
		"ws": map[string]interface{}{
			"conversation_id": conversationID,
			"event":           "ws_error",
			"conn_id":         info.ConnID,
			"duration_ms":     time.Since(info.ConnectedAt).Milliseconds(),
			"reason":          err.Error(),
		},
		"identity": map[string]interface{}{
			"user_id":   info.UserID,
			"device_id": info.DeviceID,
			"ip":        info.IP,
		},
	}
	_ = h.events.Publish(context.Background(), wsEventsChannel, "ws_error", payload)
}

func (h *Hub) getConnInfo(conversationID string, conn *websocket.Conn) (ConnInfo, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if infos, ok := h.connInfo[conversationID]; ok {
		info, exists := infos[conn]
		return info, exists
	}
	return ConnInfo{}, false
}
