package models

// WebSocketMessage is the inbound frame a client sends on a live connection.
type WebSocketMessage struct {
	ClientMessageID  string `json:"client_message_id"`
	ConversationID   string `json:"conversation_id"`
	SenderID         string `json:"sender_id"`
	Content          string `json:"content"`
	MessageType      string `json:"message_type"`
	ReplyToMessageID string `json:"reply_to_message_id,omitempty"`
}

// ConversationEvent is broadcast to the live connections of a conversation.
type ConversationEvent struct {
	Type      string   `json:"type"`
	Message   *Message `json:"message,omitempty"`
	MessageID string   `json:"message_id,omitempty"`
	Error     string   `json:"error,omitempty"`
}
