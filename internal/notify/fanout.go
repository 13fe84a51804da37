package notify

import (
	"context"
	"log"

	"conversation-service/internal/models"
	"conversation-service/internal/observability"
)

// ConversationSource is the slice of the conversation store the fan-out
// needs: who is in a conversation and how it looks to a given user.
type ConversationSource interface {
	ParticipantIDs(ctx context.Context, conversationID string) ([]string, error)
	Summary(ctx context.Context, conversationID, userID string) (models.ConversationSummary, error)
}

// Fanout turns state changes into per-channel events. Delivery is
// at-most-once: a failed recipient is logged and skipped, it never
// blocks the others or the originating request.
type Fanout struct {
	publisher     Publisher
	conversations ConversationSource
}

func NewFanout(publisher Publisher, conversations ConversationSource) *Fanout {
	return &Fanout{publisher: publisher, conversations: conversations}
}

// ConversationChanged pushes a fresh per-user summary to every recipient.
// With nil recipients it targets all current participants.
func (f *Fanout) ConversationChanged(ctx context.Context, conversationID string, recipients []string) {
	if recipients == nil {
		ids, err := f.conversations.ParticipantIDs(ctx, conversationID)
		if err != nil {
			log.Printf("fanout: list participants conversation=%s: %v", conversationID, err)
			observability.IncFanoutEvent(EventConversationUpdated, "error")
			return
		}
		recipients = ids
	}

	for _, userID := range recipients {
		summary, err := f.conversations.Summary(ctx, conversationID, userID)
		if err != nil {
			log.Printf("fanout: summary conversation=%s user=%s: %v", conversationID, userID, err)
			observability.IncFanoutEvent(EventConversationUpdated, "error")
			continue
		}
		f.emit(ctx, UserChannel(userID), EventConversationUpdated, summary)
	}
}

// ConversationRemoved tells each recipient the conversation is gone for
// them. Used for deletes, removals and leaves, where no summary can be
// built anymore.
func (f *Fanout) ConversationRemoved(ctx context.Context, conversationID string, recipients []string) {
	payload := map[string]string{"conversation_id": conversationID}
	for _, userID := range recipients {
		f.emit(ctx, UserChannel(userID), EventConversationRemoved, payload)
	}
}

// MessageCreated announces a persisted message on the conversation
// channel, then refreshes every participant's summary.
func (f *Fanout) MessageCreated(ctx context.Context, message models.Message) {
	f.emit(ctx, ConversationChannel(message.ConversationID), EventNewMessage, message)
	f.ConversationChanged(ctx, message.ConversationID, nil)
}

// MessageChanged announces an edit, delete or reaction change on the
// conversation channel.
func (f *Fanout) MessageChanged(ctx context.Context, message models.Message) {
	f.emit(ctx, ConversationChannel(message.ConversationID), EventNewMessage, message)
}

// ReadStateChanged refreshes the reader's summary and tells each sender
// whose messages flipped status that they were read.
func (f *Fanout) ReadStateChanged(ctx context.Context, conversationID, readerID string, changes []models.StatusChange) {
	f.ConversationChanged(ctx, conversationID, []string{readerID})

	bySender := make(map[string][]models.StatusChange)
	for _, change := range changes {
		bySender[change.SenderID] = append(bySender[change.SenderID], change)
	}
	for senderID, senderChanges := range bySender {
		payload := map[string]any{
			"conversation_id": conversationID,
			"messages":        senderChanges,
		}
		f.emit(ctx, UserChannel(senderID), EventMessageStatusChanged, payload)
	}
}

func (f *Fanout) emit(ctx context.Context, channel, event string, payload any) {
	if err := f.publisher.Publish(ctx, channel, event, payload); err != nil {
		log.Printf("fanout: publish channel=%s event=%s: %v", channel, event, err)
		observability.IncFanoutEvent(event, "error")
		return
	}
	observability.IncFanoutEvent(event, "ok")
}
