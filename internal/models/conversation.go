package models

import (
	"database/sql"
	"time"
)

// Role is a participant's role within a conversation.
type Role string

const (
	RoleAdmin     Role = "ADMIN"
	RoleModerator Role = "MODERATOR"
	RoleMember    Role = "MEMBER"
)

// Valid reports whether the role is one of the closed set.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleModerator, RoleMember:
		return true
	}
	return false
}

// CanManageParticipants reports whether the role may add or remove participants.
func (r Role) CanManageParticipants() bool {
	return r == RoleAdmin || r == RoleModerator
}

// Conversation is a direct or group conversation.
type Conversation struct {
	ID            string         `db:"id" json:"id"`
	Name          sql.NullString `db:"name" json:"name,omitempty"`
	Description   sql.NullString `db:"description" json:"description,omitempty"`
	Avatar        sql.NullString `db:"avatar" json:"avatar,omitempty"`
	IsGroup       bool           `db:"is_group" json:"is_group"`
	CreatedBy     string         `db:"created_by" json:"created_by"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt     sql.NullTime   `db:"updated_at" json:"updated_at,omitempty"`
	LastMessageAt time.Time      `db:"last_message_at" json:"last_message_at"`
}

// Participant is a (user, conversation) membership row.
type Participant struct {
	UserID         string    `db:"user_id" json:"user_id"`
	ConversationID string    `db:"conversation_id" json:"conversation_id"`
	Role           Role      `db:"role" json:"role"`
	JoinedAt       time.Time `db:"joined_at" json:"joined_at"`
	LastSeenAt     time.Time `db:"last_seen_at" json:"last_seen_at"`
	IsMuted        bool      `db:"is_muted" json:"is_muted"`
	IsPinned       bool      `db:"is_pinned" json:"is_pinned"`

	Username string `db:"username" json:"username,omitempty"`
}

// ConversationDetail is the participant-gated detail view of a conversation.
type ConversationDetail struct {
	Conversation
	Participants []Participant `json:"participants"`
	UnreadCount  int           `json:"unread_count"`
	LastMessage  string        `json:"last_message,omitempty"`
}

// ConversationSummary is the per-user list row for a conversation. It doubles
// as the payload of conversation-updated notification events.
type ConversationSummary struct {
	ID                string    `db:"id" json:"id"`
	Name              string    `json:"name,omitempty"`
	IsGroup           bool      `db:"is_group" json:"is_group"`
	Avatar            string    `json:"avatar,omitempty"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
	LastMessageAt     time.Time `db:"last_message_at" json:"last_message_at"`
	UnreadCount       int       `json:"unread_count"`
	LastMessage       string    `json:"last_message,omitempty"`
	LastMessageSender string    `json:"last_message_sender,omitempty"`
	ParticipantsCount int       `db:"participants_count" json:"participants_count"`
	IsMuted           bool      `db:"is_muted" json:"is_muted"`
	IsPinned          bool      `db:"is_pinned" json:"is_pinned"`

	// Populated for direct conversations only.
	OtherParticipantID       string `json:"other_participant_id,omitempty"`
	OtherParticipantUsername string `json:"other_participant_username,omitempty"`
}

// ConversationPage is a paginated conversation listing.
type ConversationPage struct {
	Conversations []ConversationSummary `json:"conversations"`
	Total         int                   `json:"total"`
	Page          int                   `json:"page"`
	PerPage       int                   `json:"per_page"`
	HasMore       bool                  `json:"has_more"`
}
