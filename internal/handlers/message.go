package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"conversation-service/internal/middleware"
	"conversation-service/internal/models"
	"conversation-service/internal/notify"
	"conversation-service/internal/repositories"
	"conversation-service/internal/telemetry"
	"conversation-service/internal/ws"
)

// MessageHandler manages message, reaction and read-state endpoints.
type MessageHandler struct {
	messages  repositories.MessageRepository
	readState repositories.ReadStateRepository
	users     repositories.UserRepository
	fanout    *notify.Fanout
	hub       *ws.Hub
	audit     *telemetry.AuditEmitter
}

// NewMessageHandler builds a MessageHandler.
func NewMessageHandler(
	messages repositories.MessageRepository,
	readState repositories.ReadStateRepository,
	users repositories.UserRepository,
	fanout *notify.Fanout,
	hub *ws.Hub,
	audit *telemetry.AuditEmitter,
) *MessageHandler {
	return &MessageHandler{
		messages:  messages,
		readState: readState,
		users:     users,
		fanout:    fanout,
		hub:       hub,
		audit:     audit,
	}
}

// ListMessages returns a page of messages for a conversation, newest
// first. An optional before cursor excludes anything at or after the
// named message.
func (h *MessageHandler) ListMessages(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	userID := middleware.UserID(c)
	page := queryInt(c, "page", 1)
	perPage := queryInt(c, "per_page", 20)
	before := c.Query("before")

	result, err := h.messages.List(c.Request.Context(), conversationID, userID, page, perPage, before)
	if err != nil {
		if errors.Is(err, repositories.ErrNotParticipant) {
			c.JSON(http.StatusForbidden, gin.H{"error": "not a conversation participant"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}

	senderIDs := make([]string, 0, len(result.Messages))
	seen := map[string]struct{}{}
	for _, m := range result.Messages {
		if _, ok := seen[m.SenderID]; !ok {
			seen[m.SenderID] = struct{}{}
			senderIDs = append(senderIDs, m.SenderID)
		}
	}
	usernames, err := h.users.UsernamesByID(c.Request.Context(), senderIDs)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load sender info"})
		return
	}
	for i := range result.Messages {
		result.Messages[i].SenderUsername = usernames[result.Messages[i].SenderID]
	}

	c.JSON(http.StatusOK, result)
}

// PostMessage persists a message sent over HTTP and pushes it to live
// connections and notification channels.
func (h *MessageHandler) PostMessage(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	userID := middleware.UserID(c)

	var req struct {
		Content          string `json:"content" binding:"required"`
		MessageType      string `json:"message_type"`
		ReplyToMessageID string `json:"reply_to_message_id"`
		ClientMessageID  string `json:"client_message_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	message, err := h.messages.Create(c.Request.Context(), repositories.MessageCreate{
		ConversationID:   conversationID,
		SenderID:         userID,
		Content:          req.Content,
		MessageType:      req.MessageType,
		ReplyToMessageID: req.ReplyToMessageID,
		ClientMessageID:  req.ClientMessageID,
	})
	if err != nil {
		switch {
		case errors.Is(err, repositories.ErrNotParticipant):
			c.JSON(http.StatusForbidden, gin.H{"error": "not a conversation participant"})
		case errors.Is(err, repositories.ErrMessageNotFound):
			c.JSON(http.StatusBadRequest, gin.H{"error": "reply target does not exist"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not send message"})
		}
		return
	}

	h.hub.Broadcast(conversationID, models.ConversationEvent{Type: "message", Message: &message}, nil)
	h.fanout.MessageCreated(c.Request.Context(), message)
	c.JSON(http.StatusCreated, message)
}

// UpdateMessage edits a message's content. Sender only.
func (h *MessageHandler) UpdateMessage(c *gin.Context) {
	messageID := c.Param("message_id")
	userID := middleware.UserID(c)

	var req struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	message, err := h.messages.Update(c.Request.Context(), messageID, req.Content, userID)
	if err != nil {
		h.respondMessageError(c, err, "could not update message")
		return
	}

	h.hub.Broadcast(message.ConversationID, models.ConversationEvent{Type: "message_updated", Message: &message}, nil)
	h.fanout.MessageChanged(c.Request.Context(), message)
	c.JSON(http.StatusOK, message)
}

// DeleteMessage soft-deletes a message for everyone. The sender or a
// group manager may delete.
func (h *MessageHandler) DeleteMessage(c *gin.Context) {
	messageID := c.Param("message_id")
	userID := middleware.UserID(c)

	message, err := h.messages.Delete(c.Request.Context(), messageID, userID)
	if err != nil {
		h.respondMessageError(c, err, "could not delete message")
		return
	}

	h.audit.Emit(c.Request.Context(), "info",
		fmt.Sprintf("message %s deleted in conversation %s", messageID, message.ConversationID),
		requestIDFromContext(c), userIDFromContext(c))
	h.hub.Broadcast(message.ConversationID, models.ConversationEvent{Type: "message_deleted", MessageID: messageID}, nil)
	h.fanout.MessageChanged(c.Request.Context(), message)
	c.Status(http.StatusNoContent)
}

// AddReaction attaches an emoji reaction to a message. One reaction per
// user and emoji.
func (h *MessageHandler) AddReaction(c *gin.Context) {
	messageID := c.Param("message_id")
	userID := middleware.UserID(c)

	var req struct {
		Emoji string `json:"emoji" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	reaction, err := h.messages.AddReaction(c.Request.Context(), messageID, userID, req.Emoji)
	if err != nil {
		if errors.Is(err, repositories.ErrDuplicateReaction) {
			c.JSON(http.StatusConflict, gin.H{"error": "reaction already exists"})
			return
		}
		h.respondMessageError(c, err, "could not add reaction")
		return
	}

	h.broadcastMessageState(c, messageID, userID)
	c.JSON(http.StatusCreated, reaction)
}

// RemoveReaction removes the caller's own reaction.
func (h *MessageHandler) RemoveReaction(c *gin.Context) {
	messageID := c.Param("message_id")
	emoji := c.Param("emoji")
	userID := middleware.UserID(c)

	if err := h.messages.RemoveReaction(c.Request.Context(), messageID, userID, emoji); err != nil {
		if errors.Is(err, repositories.ErrReactionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "reaction not found"})
			return
		}
		h.respondMessageError(c, err, "could not remove reaction")
		return
	}

	h.broadcastMessageState(c, messageID, userID)
	c.Status(http.StatusNoContent)
}

// MarkAsRead records read receipts for a batch of messages and advances
// the caller's watermark. Senders of newly read messages are notified.
func (h *MessageHandler) MarkAsRead(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	userID := middleware.UserID(c)

	var req struct {
		MessageIDs []string `json:"message_ids" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	changes, err := h.readState.MarkMessagesAsRead(c.Request.Context(), conversationID, userID, req.MessageIDs)
	if err != nil {
		if errors.Is(err, repositories.ErrNotParticipant) {
			c.JSON(http.StatusForbidden, gin.H{"error": "not a conversation participant"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not mark messages as read"})
		return
	}

	for _, change := range changes {
		h.hub.Broadcast(conversationID, models.ConversationEvent{Type: "message_status_changed", MessageID: change.MessageID}, nil)
	}
	h.fanout.ReadStateChanged(c.Request.Context(), conversationID, userID, changes)
	c.JSON(http.StatusOK, gin.H{"updated": changes})
}

// broadcastMessageState reloads a message and pushes its new state to
// the conversation room. Failures only cost the live update.
func (h *MessageHandler) broadcastMessageState(c *gin.Context, messageID, userID string) {
	message, err := h.messages.Get(c.Request.Context(), messageID, userID)
	if err != nil {
		return
	}
	h.hub.Broadcast(message.ConversationID, models.ConversationEvent{Type: "message_updated", Message: &message}, nil)
	h.fanout.MessageChanged(c.Request.Context(), message)
}

func (h *MessageHandler) respondMessageError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, repositories.ErrMessageNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
	case errors.Is(err, repositories.ErrConversationNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
	case errors.Is(err, repositories.ErrNotParticipant):
		c.JSON(http.StatusForbidden, gin.H{"error": "not a conversation participant"})
	case errors.Is(err, repositories.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "operation not permitted"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}
