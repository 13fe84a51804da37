package models

import (
	"database/sql"
	"time"
)

// MessageStatus is the coarse display status of a message. READ means at
// least one recipient other than the sender has read it.
type MessageStatus string

const (
	StatusSent      MessageStatus = "SENT"
	StatusDelivered MessageStatus = "DELIVERED"
	StatusRead      MessageStatus = "READ"
)

// Message is a message within a conversation.
type Message struct {
	ID               string         `db:"id" json:"id"`
	ConversationID   string         `db:"conversation_id" json:"conversation_id"`
	SenderID         string         `db:"sender_id" json:"sender_id"`
	ReplyToMessageID sql.NullString `db:"reply_to_message_id" json:"reply_to_message_id,omitempty"`
	Content          string         `db:"content" json:"content"`
	MessageType      string         `db:"message_type" json:"message_type"`
	Status           MessageStatus  `db:"status" json:"status"`
	IsDeleted        bool           `db:"is_deleted" json:"is_deleted"`
	IsEdited         bool           `db:"is_edited" json:"is_edited"`
	SentAt           time.Time      `db:"sent_at" json:"sent_at"`
	EditedAt         sql.NullTime   `db:"edited_at" json:"edited_at,omitempty"`
	DeletedAt        sql.NullTime   `db:"deleted_at" json:"deleted_at,omitempty"`
	ClientMessageID  sql.NullString `db:"client_message_id" json:"client_message_id,omitempty"`

	ReadByCount int `db:"read_by_count" json:"read_by_count"`

	// Decorated from the users table for list responses.
	SenderUsername string `db:"-" json:"sender_username,omitempty"`

	ReplyTo     *ReplyPreview     `json:"reply_to,omitempty"`
	Attachments []Attachment      `json:"attachments,omitempty"`
	Reactions   []MessageReaction `json:"reactions,omitempty"`
}

// ReplyPreview is the bounded single-hop view of a replied-to message.
type ReplyPreview struct {
	ID        string    `db:"id" json:"id"`
	SenderID  string    `db:"sender_id" json:"sender_id"`
	Content   string    `db:"content" json:"content"`
	IsDeleted bool      `db:"is_deleted" json:"is_deleted"`
	SentAt    time.Time `db:"sent_at" json:"sent_at"`
}

// MessageReaction is a single emoji reaction, unique per (message, user, emoji).
type MessageReaction struct {
	ID        string    `db:"id" json:"id"`
	MessageID string    `db:"message_id" json:"message_id"`
	UserID    string    `db:"user_id" json:"user_id"`
	Emoji     string    `db:"emoji" json:"emoji"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Attachment is file metadata linked to a message. Upload and thumbnailing
// are handled outside this service; only the metadata is read here.
type Attachment struct {
	ID           string          `db:"id" json:"id"`
	MessageID    string          `db:"message_id" json:"message_id"`
	FileName     string          `db:"file_name" json:"file_name"`
	FileType     string          `db:"file_type" json:"file_type"`
	MimeType     sql.NullString  `db:"mime_type" json:"mime_type,omitempty"`
	FileSize     sql.NullInt64   `db:"file_size" json:"file_size,omitempty"`
	URL          string          `db:"url" json:"url"`
	ThumbnailURL sql.NullString  `db:"thumbnail_url" json:"thumbnail_url,omitempty"`
	Duration     sql.NullFloat64 `db:"duration" json:"duration,omitempty"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
}

// MessagePage is a paginated, newest-first message listing.
type MessagePage struct {
	Messages []Message `json:"messages"`
	Total    int       `json:"total"`
	Page     int       `json:"page"`
	PerPage  int       `json:"per_page"`
	HasMore  bool      `json:"has_more"`
}

// StatusChange reports a message whose status flipped to READ, annotated with
// its new read-by count. Used to notify the original sender.
type StatusChange struct {
	MessageID   string        `db:"id" json:"message_id"`
	SenderID    string        `db:"sender_id" json:"sender_id"`
	Status      MessageStatus `db:"status" json:"status"`
	ReadByCount int           `db:"read_by_count" json:"read_by_count"`
}
