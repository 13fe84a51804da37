package notify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"conversation-service/internal/mocks"
	"conversation-service/internal/models"
)

func TestConversationChangedFansOutToAllParticipants(t *testing.T) {
	publisher := new(mocks.PublisherMock)
	conversations := new(mocks.ConversationRepositoryMock)
	fanout := NewFanout(publisher, conversations)

	conversations.On("ParticipantIDs", mock.Anything, "c1").Return([]string{"u1", "u2"}, nil).Once()
	conversations.On("Summary", mock.Anything, "c1", "u1").Return(models.ConversationSummary{ID: "c1", UnreadCount: 3}, nil).Once()
	conversations.On("Summary", mock.Anything, "c1", "u2").Return(models.ConversationSummary{ID: "c1"}, nil).Once()
	publisher.On("Publish", mock.Anything, "private-user-u1", EventConversationUpdated, mock.Anything).Return(nil).Once()
	publisher.On("Publish", mock.Anything, "private-user-u2", EventConversationUpdated, mock.Anything).Return(nil).Once()

	fanout.ConversationChanged(context.Background(), "c1", nil)

	publisher.AssertExpectations(t)
	conversations.AssertExpectations(t)
}

func TestConversationChangedSkipsFailingRecipient(t *testing.T) {
	publisher := new(mocks.PublisherMock)
	conversations := new(mocks.ConversationRepositoryMock)
	fanout := NewFanout(publisher, conversations)

	conversations.On("Summary", mock.Anything, "c1", "u1").Return(models.ConversationSummary{}, assert.AnError).Once()
	conversations.On("Summary", mock.Anything, "c1", "u2").Return(models.ConversationSummary{ID: "c1"}, nil).Once()
	publisher.On("Publish", mock.Anything, "private-user-u2", EventConversationUpdated, mock.Anything).Return(nil).Once()

	fanout.ConversationChanged(context.Background(), "c1", []string{"u1", "u2"})

	publisher.AssertExpectations(t)
	conversations.AssertExpectations(t)
}

func TestConversationRemovedTargetsGivenRecipients(t *testing.T) {
	publisher := new(mocks.PublisherMock)
	conversations := new(mocks.ConversationRepositoryMock)
	fanout := NewFanout(publisher, conversations)

	publisher.On("Publish", mock.Anything, "private-user-u1", EventConversationRemoved, mock.Anything).Return(nil).Once()
	publisher.On("Publish", mock.Anything, "private-user-u2", EventConversationRemoved, mock.Anything).Return(nil).Once()

	fanout.ConversationRemoved(context.Background(), "c1", []string{"u1", "u2"})

	publisher.AssertExpectations(t)
}

func TestMessageCreatedPublishesOnConversationChannel(t *testing.T) {
	publisher := new(mocks.PublisherMock)
	conversations := new(mocks.ConversationRepositoryMock)
	fanout := NewFanout(publisher, conversations)

	conversations.On("ParticipantIDs", mock.Anything, "c1").Return([]string{"u1"}, nil).Once()
	conversations.On("Summary", mock.Anything, "c1", "u1").Return(models.ConversationSummary{ID: "c1"}, nil).Once()
	publisher.On("Publish", mock.Anything, "private-conversation-c1", EventNewMessage, mock.Anything).Return(nil).Once()
	publisher.On("Publish", mock.Anything, "private-user-u1", EventConversationUpdated, mock.Anything).Return(nil).Once()

	fanout.MessageCreated(context.Background(), models.Message{ID: "m1", ConversationID: "c1", SenderID: "u1"})

	publisher.AssertExpectations(t)
	conversations.AssertExpectations(t)
}

func TestMessageCreatedToleratesPublisherFailure(t *testing.T) {
	publisher := new(mocks.PublisherMock)
	conversations := new(mocks.ConversationRepositoryMock)
	fanout := NewFanout(publisher, conversations)

	conversations.On("ParticipantIDs", mock.Anything, "c1").Return([]string{"u1"}, nil).Once()
	conversations.On("Summary", mock.Anything, "c1", "u1").Return(models.ConversationSummary{ID: "c1"}, nil).Once()
	publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(assert.AnError)

	fanout.MessageCreated(context.Background(), models.Message{ID: "m1", ConversationID: "c1", SenderID: "u1"})

	conversations.AssertExpectations(t)
}

func TestReadStateChangedNotifiesReaderAndSenders(t *testing.T) {
	publisher := new(mocks.PublisherMock)
	conversations := new(mocks.ConversationRepositoryMock)
	fanout := NewFanout(publisher, conversations)

	conversations.On("Summary", mock.Anything, "c1", "reader").Return(models.ConversationSummary{ID: "c1"}, nil).Once()
	publisher.On("Publish", mock.Anything, "private-user-reader", EventConversationUpdated, mock.Anything).Return(nil).Once()
	publisher.On("Publish", mock.Anything, "private-user-sender", EventMessageStatusChanged, mock.Anything).Return(nil).Once()

	changes := []models.StatusChange{
		{MessageID: "m1", SenderID: "sender", Status: "READ", ReadByCount: 1},
		{MessageID: "m2", SenderID: "sender", Status: "READ", ReadByCount: 1},
	}
	fanout.ReadStateChanged(context.Background(), "c1", "reader", changes)

	publisher.AssertExpectations(t)
	conversations.AssertExpectations(t)
}
