package notify

import (
	"context"
	"errors"
	"strings"
)

const (
	userChannelPrefix         = "private-user-"
	conversationChannelPrefix = "private-conversation-"
)

// Event names delivered on user and conversation channels.
const (
	EventConversationUpdated  = "conversation-updated"
	EventConversationRemoved  = "conversation-removed"
	EventNewMessage           = "new-message"
	EventMessageStatusChanged = "message-status-changed"
)

var ErrUnknownChannel = errors.New("unknown channel name")

// UserChannel is the per-user channel carrying conversation summary events.
func UserChannel(userID string) string {
	return userChannelPrefix + userID
}

// ConversationChannel is the per-conversation channel carrying message events.
func ConversationChannel(conversationID string) string {
	return conversationChannelPrefix + conversationID
}

// ParseChannel splits a channel name into its kind and subject id.
func ParseChannel(channel string) (kind, id string, err error) {
	switch {
	case strings.HasPrefix(channel, conversationChannelPrefix):
		id = strings.TrimPrefix(channel, conversationChannelPrefix)
		kind = "conversation"
	case strings.HasPrefix(channel, userChannelPrefix):
		id = strings.TrimPrefix(channel, userChannelPrefix)
		kind = "user"
	default:
		return "", "", ErrUnknownChannel
	}
	if id == "" {
		return "", "", ErrUnknownChannel
	}
	return kind, id, nil
}

// MembershipChecker answers whether a user belongs to a conversation.
type MembershipChecker interface {
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
}

// AuthorizeChannel decides whether a user may subscribe to a channel:
// their own user channel, or a conversation channel they participate in.
func AuthorizeChannel(ctx context.Context, members MembershipChecker, userID, channel string) (bool, error) {
	kind, id, err := ParseChannel(channel)
	if err != nil {
		return false, err
	}
	switch kind {
	case "user":
		return id == userID, nil
	case "conversation":
		return members.IsParticipant(ctx, id, userID)
	}
	return false, ErrUnknownChannel
}
