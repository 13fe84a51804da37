package repositories

import "errors"

// Sentinel errors map onto the service's error taxonomy: not-found,
// forbidden, bad-request and conflict. Handlers translate them to HTTP
// status codes with errors.Is.
var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrParticipantNotFound  = errors.New("participant not found")
	ErrReactionNotFound     = errors.New("reaction not found")
	ErrUserNotFound         = errors.New("one or more users not found")

	ErrNotParticipant = errors.New("not a participant of this conversation")
	ErrForbidden      = errors.New("insufficient permissions")

	ErrNotGroup           = errors.New("operation not valid for a direct conversation")
	ErrSelfChat           = errors.New("cannot create a direct conversation with yourself")
	ErrDirectParticipants = errors.New("a direct conversation requires exactly two participants")
	ErrInvalidRole        = errors.New("invalid participant role")

	ErrDuplicateReaction = errors.New("reaction already exists")
)
