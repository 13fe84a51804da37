package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"conversation-service/internal/models"
	"conversation-service/internal/notify"
	"conversation-service/internal/observability"
	"conversation-service/internal/repositories"
)

// TokenValidator resolves a bearer token to a user id.
type TokenValidator interface {
	Validate(token string) (string, error)
}

// ConversationWebSocketHandler handles live conversation connections:
// it authenticates the handshake, registers the connection and turns
// inbound frames into persisted, broadcast messages.
type ConversationWebSocketHandler struct {
	hub           *Hub
	conversations repositories.ConversationRepository
	messages      repositories.MessageRepository
	fanout        *notify.Fanout
	tokens        TokenValidator
}

// NewConversationWebSocketHandler constructs a ConversationWebSocketHandler.
func NewConversationWebSocketHandler(
	hub *Hub,
	conversations repositories.ConversationRepository,
	messages repositories.MessageRepository,
	fanout *notify.Fanout,
	tokens TokenValidator,
) *ConversationWebSocketHandler {
	return &ConversationWebSocketHandler{
		hub:           hub,
		conversations: conversations,
		messages:      messages,
		fanout:        fanout,
		tokens:        tokens,
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle upgrades the connection and registers the client. Auth and
// membership are checked before the upgrade so rejected clients get a
// plain HTTP status instead of a half-open socket.
func (h *ConversationWebSocketHandler) Handle(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	if conversationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return
	}

	ctx, span := otel.Tracer("conversation-service/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token := c.GetHeader("Authorization")
	if token == "" {
		token = c.Query("token")
		if token != "" {
			token = "Bearer " + token
		}
	}

	userID, err := h.validateToken(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	member, err := h.conversations.IsParticipant(c.Request.Context(), conversationID, userID)
	if err != nil || !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not authorized for conversation"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      userID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	h.hub.Add(conversationID, conn, info)

	observability.IncWSActive()
	observability.IncWSEvent("ws_connect")
	h.publishLifecycle(ctx, conversationID, info, "ws_connect", "")

	// The request context dies when this handler returns; the pump
	// outlives it.
	go h.readPump(context.Background(), conversationID, conn, info)
}

func (h *ConversationWebSocketHandler) readPump(ctx context.Context, conversationID string, conn *websocket.Conn, info ConnInfo) {
	var closeReason string
	defer func() {
		h.hub.Remove(conversationID, conn)
		observability.DecWSActive()
		observability.IncWSEvent("ws_disconnect")
		h.publishLifecycle(ctx, conversationID, info, "ws_disconnect", closeReason)
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				observability.IncWSEvent("ws_error")
				h.publishLifecycle(ctx, conversationID, info, "ws_error", closeReason)
			}
			return
		}
		h.handleFrame(ctx, conversationID, conn, info, raw)
	}
}

// handleFrame validates and persists one inbound frame. Invalid frames
// get an error event back on the same connection; the connection stays
// open either way.
func (h *ConversationWebSocketHandler) handleFrame(ctx context.Context, conversationID string, conn *websocket.Conn, info ConnInfo, raw []byte) {
	var frame models.WebSocketMessage
	if err := json.Unmarshal(raw, &frame); err != nil {
		h.sendError(conversationID, conn, "invalid message payload")
		return
	}
	if frame.ClientMessageID == "" || frame.ConversationID == "" || frame.SenderID == "" {
		h.sendError(conversationID, conn, "client_message_id, conversation_id and sender_id are required")
		return
	}
	if frame.ConversationID != conversationID {
		h.sendError(conversationID, conn, "conversation id does not match the connection")
		return
	}
	if frame.SenderID != info.UserID {
		h.sendError(conversationID, conn, "sender id does not match the authenticated user")
		return
	}
	if strings.TrimSpace(frame.Content) == "" {
		h.sendError(conversationID, conn, "content is required")
		return
	}

	message, err := h.messages.Create(ctx, repositories.MessageCreate{
		ConversationID:   conversationID,
		SenderID:         info.UserID,
		Content:          frame.Content,
		MessageType:      frame.MessageType,
		ReplyToMessageID: frame.ReplyToMessageID,
		ClientMessageID:  frame.ClientMessageID,
	})
	if err != nil {
		h.sendError(conversationID, conn, "failed to persist message")
		return
	}

	observability.IncWSEvent("ws_message")
	h.hub.Broadcast(conversationID, models.ConversationEvent{Type: "message", Message: &message}, nil)
	h.fanout.MessageCreated(ctx, message)
}

func (h *ConversationWebSocketHandler) sendError(conversationID string, conn *websocket.Conn, reason string) {
	observability.IncWSEvent("ws_error")
	if err := h.hub.SendTo(conn, models.ConversationEvent{Type: "error", Error: reason}); err != nil {
		conn.Close()
		h.hub.Remove(conversationID, conn)
	}
}

func (h *ConversationWebSocketHandler) publishLifecycle(ctx context.Context, conversationID string, info ConnInfo, event, reason string) {
	if h.hub.events == nil {
		return
	}
	payload := map[string]interface{}{
		"ws": map[string]interface{}{
			"conversation_id": conversationID,
			"event":           event,
			"conn_id":         info.ConnID,
			"duration_ms":     time.Since(info.ConnectedAt).Milliseconds(),
			"reason":          reason,
		},
		"identity": map[string]interface{}{
			"user_id":   info.UserID,
			"device_id": info.DeviceID,
			"ip":        info.IP,
		},
	}
	_ = h.hub.events.Publish(ctx, wsEventsChannel, event, payload)
}

func (h *ConversationWebSocketHandler) validateToken(header string) (string, error) {
	parts := strings.Split(header, " ")
	if len(parts) == 2 {
		return h.tokens.Validate(parts[1])
	}
	return "", fmt.Errorf("invalid token")
}
