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
)

// ConversationHandler manages conversation and participant endpoints.
type ConversationHandler struct {
	conversations repositories.ConversationRepository
	readState     repositories.ReadStateRepository
	fanout        *notify.Fanout
	audit         *telemetry.AuditEmitter
}

// NewConversationHandler builds a ConversationHandler.
func NewConversationHandler(
	conversations repositories.ConversationRepository,
	readState repositories.ReadStateRepository,
	fanout *notify.Fanout,
	audit *telemetry.AuditEmitter,
) *ConversationHandler {
	return &ConversationHandler{
		conversations: conversations,
		readState:     readState,
		fanout:        fanout,
		audit:         audit,
	}
}

// ListConversations returns the conversations visible to the
// authenticated user, ordered by most recent activity.
func (h *ConversationHandler) ListConversations(c *gin.Context) {
	userID := middleware.UserID(c)
	page := queryInt(c, "page", 1)
	perPage := queryInt(c, "per_page", 20)

	result, err := h.conversations.ListForUser(c.Request.Context(), userID, page, perPage)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversations"})
		return
	}

	c.JSON(http.StatusOK, result)
}

// CreateConversation creates a direct or group conversation. Creating a
// direct conversation with an existing counterpart returns the existing
// one with 200 instead of 201.
func (h *ConversationHandler) CreateConversation(c *gin.Context) {
	var req struct {
		ParticipantIDs []string `json:"participant_ids" binding:"required"`
		IsGroup        bool     `json:"is_group"`
		Name           *string  `json:"name"`
		Description    *string  `json:"description"`
		Avatar         *string  `json:"avatar"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := middleware.UserID(c)
	conversation, created, err := h.conversations.Create(c.Request.Context(), userID, req.ParticipantIDs, req.IsGroup, repositories.ConversationMeta{
		Name:        req.Name,
		Description: req.Description,
		Avatar:      req.Avatar,
	})
	if err != nil {
		switch {
		case errors.Is(err, repositories.ErrSelfChat),
			errors.Is(err, repositories.ErrDirectParticipants):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, repositories.ErrUserNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "one or more users do not exist"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create conversation"})
		}
		return
	}

	if created {
		h.fanout.ConversationChanged(c.Request.Context(), conversation.ID, nil)
		c.JSON(http.StatusCreated, conversation)
		return
	}
	c.JSON(http.StatusOK, conversation)
}

// GetConversation returns one conversation with its participants and
// the caller's unread count.
func (h *ConversationHandler) GetConversation(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	userID := middleware.UserID(c)

	member, err := h.conversations.IsParticipant(c.Request.Context(), conversationID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify membership"})
		return
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a conversation participant"})
		return
	}

	conversation, err := h.conversations.Get(c.Request.Context(), conversationID)
	if err != nil {
		if errors.Is(err, repositories.ErrConversationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversation"})
		return
	}

	participants, err := h.conversations.ListParticipants(c.Request.Context(), conversationID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load participants"})
		return
	}

	unread, err := h.readState.UnreadCount(c.Request.Context(), conversationID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load unread count"})
		return
	}

	c.JSON(http.StatusOK, models.ConversationDetail{
		Conversation: conversation,
		Participants: participants,
		UnreadCount:  unread,
	})
}

// UpdateConversation changes group metadata. Only ADMIN and MODERATOR
// may edit.
func (h *ConversationHandler) UpdateConversation(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	userID := middleware.UserID(c)

	var req struct {
		Name        *string `json:"name"`
		Description *string `json:"description"`
		Avatar      *string `json:"avatar"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conversation, err := h.conversations.Update(c.Request.Context(), conversationID, repositories.ConversationMeta{
		Name:        req.Name,
		Description: req.Description,
		Avatar:      req.Avatar,
	}, userID)
	if err != nil {
		h.respondParticipantError(c, err, "could not update conversation")
		return
	}

	h.fanout.ConversationChanged(c.Request.Context(), conversationID, nil)
	c.JSON(http.StatusOK, conversation)
}

// DeleteConversation removes a conversation and everything in it. ADMIN
// only.
func (h *ConversationHandler) DeleteConversation(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	userID := middleware.UserID(c)

	participantIDs, err := h.conversations.Delete(c.Request.Context(), conversationID, userID)
	if err != nil {
		h.respondParticipantError(c, err, "could not delete conversation")
		return
	}

	h.audit.Emit(c.Request.Context(), "warning",
		fmt.Sprintf("conversation %s deleted", conversationID),
		requestIDFromContext(c), userIDFromContext(c))
	h.fanout.ConversationRemoved(c.Request.Context(), conversationID, participantIDs)
	c.Status(http.StatusNoContent)
}

// AddParticipants adds users to a group conversation. Direct
// conversations never grow.
func (h *ConversationHandler) AddParticipants(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	userID := middleware.UserID(c)

	var req struct {
		UserIDs []string `json:"user_ids" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	added, err := h.conversations.AddParticipants(c.Request.Context(), conversationID, req.UserIDs, userID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotGroup) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "cannot add participants to a direct conversation"})
			return
		}
		if errors.Is(err, repositories.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "one or more users do not exist"})
			return
		}
		h.respondParticipantError(c, err, "could not add participants")
		return
	}

	h.fanout.ConversationChanged(c.Request.Context(), conversationID, nil)
	c.JSON(http.StatusOK, gin.H{"added": added})
}

// RemoveParticipant kicks a user out of a group conversation.
func (h *ConversationHandler) RemoveParticipant(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	targetUserID := c.Param("user_id")
	userID := middleware.UserID(c)

	if err := h.conversations.RemoveParticipant(c.Request.Context(), conversationID, targetUserID, userID); err != nil {
		h.respondParticipantError(c, err, "could not remove participant")
		return
	}

	h.audit.Emit(c.Request.Context(), "info",
		fmt.Sprintf("participant %s removed from conversation %s", targetUserID, conversationID),
		requestIDFromContext(c), userIDFromContext(c))
	h.fanout.ConversationRemoved(c.Request.Context(), conversationID, []string{targetUserID})
	h.fanout.ConversationChanged(c.Request.Context(), conversationID, nil)
	c.Status(http.StatusNoContent)
}

// UpdateParticipantRole changes a participant's role. ADMIN only.
func (h *ConversationHandler) UpdateParticipantRole(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	targetUserID := c.Param("user_id")
	userID := middleware.UserID(c)

	var req struct {
		Role string `json:"role" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	role := models.Role(req.Role)
	if !role.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid role"})
		return
	}

	if err := h.conversations.UpdateParticipantRole(c.Request.Context(), conversationID, targetUserID, role, userID); err != nil {
		if errors.Is(err, repositories.ErrInvalidRole) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid role"})
			return
		}
		h.respondParticipantError(c, err, "could not update role")
		return
	}

	h.audit.Emit(c.Request.Context(), "info",
		fmt.Sprintf("participant %s role changed to %s in conversation %s", targetUserID, role, conversationID),
		requestIDFromContext(c), userIDFromContext(c))
	h.fanout.ConversationChanged(c.Request.Context(), conversationID, nil)
	c.Status(http.StatusNoContent)
}

// Leave lets the authenticated user exit a conversation.
func (h *ConversationHandler) Leave(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	userID := middleware.UserID(c)

	if err := h.conversations.Leave(c.Request.Context(), conversationID, userID); err != nil {
		h.respondParticipantError(c, err, "could not leave conversation")
		return
	}

	h.fanout.ConversationRemoved(c.Request.Context(), conversationID, []string{userID})
	h.fanout.ConversationChanged(c.Request.Context(), conversationID, nil)
	c.Status(http.StatusNoContent)
}

// UpdateMuteStatus mutes or unmutes a conversation for a participant.
// Users manage their own mute state; ADMIN may manage anyone's.
func (h *ConversationHandler) UpdateMuteStatus(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	targetUserID := c.Param("user_id")
	userID := middleware.UserID(c)

	var req struct {
		IsMuted *bool `json:"is_muted" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.conversations.UpdateMuteStatus(c.Request.Context(), conversationID, targetUserID, *req.IsMuted, userID); err != nil {
		h.respondParticipantError(c, err, "could not update mute status")
		return
	}

	h.fanout.ConversationChanged(c.Request.Context(), conversationID, []string{targetUserID})
	c.Status(http.StatusNoContent)
}

// RealtimeAuth authorizes a client's subscription to a private channel.
func (h *ConversationHandler) RealtimeAuth(c *gin.Context) {
	var req struct {
		Channel string `json:"channel" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := middleware.UserID(c)
	authorized, err := notify.AuthorizeChannel(c.Request.Context(), h.conversations, userID, req.Channel)
	if err != nil {
		if errors.Is(err, notify.ErrUnknownChannel) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown channel name"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to authorize channel"})
		return
	}
	if !authorized {
		c.JSON(http.StatusForbidden, gin.H{"error": "not authorized for channel"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"authorized": true, "channel": req.Channel})
}

// respondParticipantError maps the shared participant and permission
// sentinels to HTTP statuses.
func (h *ConversationHandler) respondParticipantError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, repositories.ErrConversationNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
	case errors.Is(err, repositories.ErrParticipantNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "participant not found"})
	case errors.Is(err, repositories.ErrNotParticipant):
		c.JSON(http.StatusForbidden, gin.H{"error": "not a conversation participant"})
	case errors.Is(err, repositories.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "operation not permitted"})
	case errors.Is(err, repositories.ErrNotGroup):
		c.JSON(http.StatusBadRequest, gin.H{"error": "operation only valid for group conversations"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}
