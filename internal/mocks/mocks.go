package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"conversation-service/internal/models"
	"conversation-service/internal/repositories"
)

type ConversationRepositoryMock struct {
	mock.Mock
}

func (m *ConversationRepositoryMock) Create(ctx context.Context, creatorID string, participantIDs []string, isGroup bool, meta repositories.ConversationMeta) (models.Conversation, bool, error) {
	args := m.Called(ctx, creatorID, participantIDs, isGroup, meta)
	var conversation models.Conversation
	if val := args.Get(0); val != nil {
		conversation = val.(models.Conversation)
	}
	return conversation, args.Bool(1), args.Error(2)
}

func (m *ConversationRepositoryMock) Get(ctx context.Context, conversationID string) (models.Conversation, error) {
	args := m.Called(ctx, conversationID)
	var conversation models.Conversation
	if val := args.Get(0); val != nil {
		conversation = val.(models.Conversation)
	}
	return conversation, args.Error(1)
}

func (m *ConversationRepositoryMock) Update(ctx context.Context, conversationID string, meta repositories.ConversationMeta, actingUserID string) (models.Conversation, error) {
	args := m.Called(ctx, conversationID, meta, actingUserID)
	var conversation models.Conversation
	if val := args.Get(0); val != nil {
		conversation = val.(models.Conversation)
	}
	return conversation, args.Error(1)
}

func (m *ConversationRepositoryMock) Delete(ctx context.Context, conversationID string, actingUserID string) ([]string, error) {
	args := m.Called(ctx, conversationID, actingUserID)
	var ids []string
	if val := args.Get(0); val != nil {
		ids = val.([]string)
	}
	return ids, args.Error(1)
}

func (m *ConversationRepositoryMock) AddParticipants(ctx context.Context, conversationID string, userIDs []string, actingUserID string) ([]string, error) {
	args := m.Called(ctx, conversationID, userIDs, actingUserID)
	var ids []string
	if val := args.Get(0); val != nil {
		ids = val.([]string)
	}
	return ids, args.Error(1)
}

func (m *ConversationRepositoryMock) RemoveParticipant(ctx context.Context, conversationID string, targetUserID string, actingUserID string) error {
	args := m.Called(ctx, conversationID, targetUserID, actingUserID)
	return args.Error(0)
}

func (m *ConversationRepositoryMock) UpdateParticipantRole(ctx context.Context, conversationID string, targetUserID string, role models.Role, actingUserID string) error {
	args := m.Called(ctx, conversationID, targetUserID, role, actingUserID)
	return args.Error(0)
}

func (m *ConversationRepositoryMock) Leave(ctx context.Context, conversationID string, userID string) error {
	args := m.Called(ctx, conversationID, userID)
	return args.Error(0)
}

func (m *ConversationRepositoryMock) UpdateMuteStatus(ctx context.Context, conversationID string, targetUserID string, isMuted bool, actingUserID string) error {
	args := m.Called(ctx, conversationID, targetUserID, isMuted, actingUserID)
	return args.Error(0)
}

func (m *ConversationRepositoryMock) FindDirectConversation(ctx context.Context, userA string, userB string) (models.Conversation, bool, error) {
	args := m.Called(ctx, userA, userB)
	var conversation models.Conversation
	if val := args.Get(0); val != nil {
		conversation = val.(models.Conversation)
	}
	return conversation, args.Bool(1), args.Error(2)
}

func (m *ConversationRepositoryMock) IsParticipant(ctx context.Context, conversationID string, userID string) (bool, error) {
	args := m.Called(ctx, conversationID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *ConversationRepositoryMock) GetParticipant(ctx context.Context, conversationID string, userID string) (models.Participant, error) {
	args := m.Called(ctx, conversationID, userID)
	var participant models.Participant
	if val := args.Get(0); val != nil {
		participant = val.(models.Participant)
	}
	return participant, args.Error(1)
}

func (m *ConversationRepositoryMock) ListParticipants(ctx context.Context, conversationID string) ([]models.Participant, error) {
	args := m.Called(ctx, conversationID)
	var participants []models.Participant
	if val := args.Get(0); val != nil {
		participants = val.([]models.Participant)
	}
	return participants, args.Error(1)
}

func (m *ConversationRepositoryMock) ParticipantIDs(ctx context.Context, conversationID string) ([]string, error) {
	args := m.Called(ctx, conversationID)
	var ids []string
	if val := args.Get(0); val != nil {
		ids = val.([]string)
	}
	return ids, args.Error(1)
}

func (m *ConversationRepositoryMock) ListForUser(ctx context.Context, userID string, page int, perPage int) (models.ConversationPage, error) {
	args := m.Called(ctx, userID, page, perPage)
	var result models.ConversationPage
	if val := args.Get(0); val != nil {
		result = val.(models.ConversationPage)
	}
	return result, args.Error(1)
}

func (m *ConversationRepositoryMock) Summary(ctx context.Context, conversationID string, userID string) (models.ConversationSummary, error) {
	args := m.Called(ctx, conversationID, userID)
	var summary models.ConversationSummary
	if val := args.Get(0); val != nil {
		summary = val.(models.ConversationSummary)
	}
	return summary, args.Error(1)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) Create(ctx context.Context, input repositories.MessageCreate) (models.Message, error) {
	args := m.Called(ctx, input)
	var message models.Message
	if val := args.Get(0); val != nil {
		message = val.(models.Message)
	}
	return message, args.Error(1)
}

func (m *MessageRepositoryMock) Get(ctx context.Context, messageID string, userID string) (models.Message, error) {
	args := m.Called(ctx, messageID, userID)
	var message models.Message
	if val := args.Get(0); val != nil {
		message = val.(models.Message)
	}
	return message, args.Error(1)
}

func (m *MessageRepositoryMock) Update(ctx context.Context, messageID string, content string, actingUserID string) (models.Message, error) {
	args := m.Called(ctx, messageID, content, actingUserID)
	var message models.Message
	if val := args.Get(0); val != nil {
		message = val.(models.Message)
	}
	return message, args.Error(1)
}

func (m *MessageRepositoryMock) Delete(ctx context.Context, messageID string, actingUserID string) (models.Message, error) {
	args := m.Called(ctx, messageID, actingUserID)
	var message models.Message
	if val := args.Get(0); val != nil {
		message = val.(models.Message)
	}
	return message, args.Error(1)
}

func (m *MessageRepositoryMock) AddReaction(ctx context.Context, messageID string, userID string, emoji string) (models.MessageReaction, error) {
	args := m.Called(ctx, messageID, userID, emoji)
	var reaction models.MessageReaction
	if val := args.Get(0); val != nil {
		reaction = val.(models.MessageReaction)
	}
	return reaction, args.Error(1)
}

func (m *MessageRepositoryMock) RemoveReaction(ctx context.Context, messageID string, userID string, emoji string) error {
	args := m.Called(ctx, messageID, userID, emoji)
	return args.Error(0)
}

func (m *MessageRepositoryMock) List(ctx context.Context, conversationID string, userID string, page int, perPage int, beforeMessageID string) (models.MessagePage, error) {
	args := m.Called(ctx, conversationID, userID, page, perPage, beforeMessageID)
	var result models.MessagePage
	if val := args.Get(0); val != nil {
		result = val.(models.MessagePage)
	}
	return result, args.Error(1)
}

type ReadStateRepositoryMock struct {
	mock.Mock
}

func (m *ReadStateRepositoryMock) UnreadCount(ctx context.Context, conversationID string, userID string) (int, error) {
	args := m.Called(ctx, conversationID, userID)
	return args.Int(0), args.Error(1)
}

func (m *ReadStateRepositoryMock) MarkMessagesAsRead(ctx context.Context, conversationID string, userID string, messageIDs []string) ([]models.StatusChange, error) {
	args := m.Called(ctx, conversationID, userID, messageIDs)
	var changes []models.StatusChange
	if val := args.Get(0); val != nil {
		changes = val.([]models.StatusChange)
	}
	return changes, args.Error(1)
}

type UserRepositoryMock struct {
	mock.Mock
}

func (m *UserRepositoryMock) AllExist(ctx context.Context, userIDs []string) (bool, error) {
	args := m.Called(ctx, userIDs)
	return args.Bool(0), args.Error(1)
}

func (m *UserRepositoryMock) UsernamesByID(ctx context.Context, userIDs []string) (map[string]string, error) {
	args := m.Called(ctx, userIDs)
	var usernames map[string]string
	if val := args.Get(0); val != nil {
		usernames = val.(map[string]string)
	}
	return usernames, args.Error(1)
}
