package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"conversation-service/internal/mocks"
	"conversation-service/internal/models"
	"conversation-service/internal/notify"
	"conversation-service/internal/repositories"
	"conversation-service/internal/ws"
)

type messageFixture struct {
	messages      *mocks.MessageRepositoryMock
	readState     *mocks.ReadStateRepositoryMock
	users         *mocks.UserRepositoryMock
	conversations *mocks.ConversationRepositoryMock
	publisher     *mocks.PublisherMock
	handler       *MessageHandler
}

func newMessageFixture() messageFixture {
	messages := new(mocks.MessageRepositoryMock)
	readState := new(mocks.ReadStateRepositoryMock)
	users := new(mocks.UserRepositoryMock)
	conversations := new(mocks.ConversationRepositoryMock)
	publisher := new(mocks.PublisherMock)
	fanout := notify.NewFanout(publisher, conversations)
	handler := NewMessageHandler(messages, readState, users, fanout, ws.NewHub(nil), nil)
	return messageFixture{
		messages:      messages,
		readState:     readState,
		users:         users,
		conversations: conversations,
		publisher:     publisher,
		handler:       handler,
	}
}

func setupMessageRouter(handler *MessageHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("userID", "u1")
		c.Next()
	})
	r.GET("/conversations/:conversation_id/messages", handler.ListMessages)
	r.POST("/conversations/:conversation_id/messages", handler.PostMessage)
	r.POST("/conversations/:conversation_id/read", handler.MarkAsRead)
	r.PATCH("/messages/:message_id", handler.UpdateMessage)
	r.DELETE("/messages/:message_id", handler.DeleteMessage)
	r.POST("/messages/:message_id/reactions", handler.AddReaction)
	r.DELETE("/messages/:message_id/reactions/:emoji", handler.RemoveReaction)
	return r
}

func TestListMessagesDecoratesSenderUsernames(t *testing.T) {
	f := newMessageFixture()
	router := setupMessageRouter(f.handler)

	f.messages.On("List", mock.Anything, "c1", "u1", 2, 10, "").
		Return(models.MessagePage{
			Messages: []models.Message{{ID: "m1", SenderID: "u2", Content: "hi"}},
			Total:    11, Page: 2, PerPage: 10,
		}, nil).Once()
	f.users.On("UsernamesByID", mock.Anything, []string{"u2"}).
		Return(map[string]string{"u2": "bob"}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/conversations/c1/messages?page=2&per_page=10", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp models.MessagePage
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Equal(t, "bob", resp.Messages[0].SenderUsername)
	f.messages.AssertExpectations(t)
	f.users.AssertExpectations(t)
}

func TestListMessagesNotParticipant(t *testing.T) {
	f := newMessageFixture()
	router := setupMessageRouter(f.handler)

	f.messages.On("List", mock.Anything, "c1", "u1", 1, 20, "").
		Return(models.MessagePage{}, repositories.ErrNotParticipant).Once()

	req := httptest.NewRequest(http.MethodGet, "/conversations/c1/messages", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	f.messages.AssertExpectations(t)
}

func TestPostMessageCreated(t *testing.T) {
	f := newMessageFixture()
	router := setupMessageRouter(f.handler)

	f.messages.On("Create", mock.Anything, repositories.MessageCreate{
		ConversationID:  "c1",
		SenderID:        "u1",
		Content:         "hello",
		ClientMessageID: "client-1",
	}).Return(models.Message{ID: "m1", ConversationID: "c1", SenderID: "u1", Content: "hello"}, nil).Once()
	f.conversations.On("ParticipantIDs", mock.Anything, "c1").Return([]string{"u1"}, nil)
	f.conversations.On("Summary", mock.Anything, "c1", "u1").Return(models.ConversationSummary{ID: "c1"}, nil)
	f.publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	body := bytes.NewBufferString(`{"content":"hello","client_message_id":"client-1"}`)
	req := httptest.NewRequest(http.MethodPost, "/conversations/c1/messages", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	f.messages.AssertExpectations(t)
}

func TestPostMessageMissingReplyTarget(t *testing.T) {
	f := newMessageFixture()
	router := setupMessageRouter(f.handler)

	f.messages.On("Create", mock.Anything, repositories.MessageCreate{
		ConversationID:   "c1",
		SenderID:         "u1",
		Content:          "hello",
		ReplyToMessageID: "gone",
	}).Return(models.Message{}, repositories.ErrMessageNotFound).Once()

	body := bytes.NewBufferString(`{"content":"hello","reply_to_message_id":"gone"}`)
	req := httptest.NewRequest(http.MethodPost, "/conversations/c1/messages", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "reply target")
	f.messages.AssertExpectations(t)
}

func TestUpdateMessageNotSender(t *testing.T) {
	f := newMessageFixture()
	router := setupMessageRouter(f.handler)

	f.messages.On("Update", mock.Anything, "m1", "edited", "u1").
		Return(models.Message{}, repositories.ErrForbidden).Once()

	body := bytes.NewBufferString(`{"content":"edited"}`)
	req := httptest.NewRequest(http.MethodPatch, "/messages/m1", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	f.messages.AssertExpectations(t)
}

func TestDeleteMessage(t *testing.T) {
	f := newMessageFixture()
	router := setupMessageRouter(f.handler)

	f.messages.On("Delete", mock.Anything, "m1", "u1").
		Return(models.Message{ID: "m1", ConversationID: "c1", SenderID: "u1", IsDeleted: true}, nil).Once()
	f.publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	req := httptest.NewRequest(http.MethodDelete, "/messages/m1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	f.messages.AssertExpectations(t)
}

func TestAddReactionConflict(t *testing.T) {
	f := newMessageFixture()
	router := setupMessageRouter(f.handler)

	f.messages.On("AddReaction", mock.Anything, "m1", "u1", "👍").
		Return(models.MessageReaction{}, repositories.ErrDuplicateReaction).Once()

	body := bytes.NewBufferString(`{"emoji":"👍"}`)
	req := httptest.NewRequest(http.MethodPost, "/messages/m1/reactions", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusConflict, rec.Code)
	f.messages.AssertExpectations(t)
}

func TestRemoveReactionNotFound(t *testing.T) {
	f := newMessageFixture()
	router := setupMessageRouter(f.handler)

	f.messages.On("RemoveReaction", mock.Anything, "m1", "u1", "x").
		Return(repositories.ErrReactionNotFound).Once()

	req := httptest.NewRequest(http.MethodDelete, "/messages/m1/reactions/x", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	f.messages.AssertExpectations(t)
}

func TestMarkAsReadReturnsStatusChanges(t *testing.T) {
	f := newMessageFixture()
	router := setupMessageRouter(f.handler)

	changes := []models.StatusChange{{MessageID: "m1", SenderID: "u2", Status: models.StatusRead, ReadByCount: 1}}
	f.readState.On("MarkMessagesAsRead", mock.Anything, "c1", "u1", []string{"m1", "m2"}).
		Return(changes, nil).Once()
	f.conversations.On("Summary", mock.Anything, "c1", "u1").Return(models.ConversationSummary{ID: "c1"}, nil)
	f.publisher.On("Publish", mock.Anything, "private-user-u1", notify.EventConversationUpdated, mock.Anything).Return(nil).Once()
	f.publisher.On("Publish", mock.Anything, "private-user-u2", notify.EventMessageStatusChanged, mock.Anything).Return(nil).Once()

	body := bytes.NewBufferString(`{"message_ids":["m1","m2"]}`)
	req := httptest.NewRequest(http.MethodPost, "/conversations/c1/read", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Updated []models.StatusChange `json:"updated"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Updated, 1)
	require.Equal(t, "m1", resp.Updated[0].MessageID)
	f.readState.AssertExpectations(t)
	f.publisher.AssertExpectations(t)
}

func TestMarkAsReadNotParticipant(t *testing.T) {
	f := newMessageFixture()
	router := setupMessageRouter(f.handler)

	f.readState.On("MarkMessagesAsRead", mock.Anything, "c1", "u1", []string{"m1"}).
		Return(([]models.StatusChange)(nil), repositories.ErrNotParticipant).Once()

	body := bytes.NewBufferString(`{"message_ids":["m1"]}`)
	req := httptest.NewRequest(http.MethodPost, "/conversations/c1/read", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	f.readState.AssertExpectations(t)
}
