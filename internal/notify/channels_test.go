package notify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type membershipCheckerMock struct {
	mock.Mock
}

func (m *membershipCheckerMock) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	args := m.Called(ctx, conversationID, userID)
	return args.Bool(0), args.Error(1)
}

func TestChannelNames(t *testing.T) {
	require.Equal(t, "private-user-u1", UserChannel("u1"))
	require.Equal(t, "private-conversation-c1", ConversationChannel("c1"))
}

func TestParseChannel(t *testing.T) {
	kind, id, err := ParseChannel("private-conversation-c1")
	require.NoError(t, err)
	require.Equal(t, "conversation", kind)
	require.Equal(t, "c1", id)

	kind, id, err = ParseChannel("private-user-u1")
	require.NoError(t, err)
	require.Equal(t, "user", kind)
	require.Equal(t, "u1", id)

	_, _, err = ParseChannel("presence-lobby")
	require.ErrorIs(t, err, ErrUnknownChannel)

	_, _, err = ParseChannel("private-user-")
	require.ErrorIs(t, err, ErrUnknownChannel)
}

func TestAuthorizeChannelOwnUserChannel(t *testing.T) {
	members := new(membershipCheckerMock)

	authorized, err := AuthorizeChannel(context.Background(), members, "u1", "private-user-u1")
	require.NoError(t, err)
	require.True(t, authorized)

	authorized, err = AuthorizeChannel(context.Background(), members, "u1", "private-user-u2")
	require.NoError(t, err)
	require.False(t, authorized)
}

func TestAuthorizeChannelConversationMembership(t *testing.T) {
	members := new(membershipCheckerMock)
	members.On("IsParticipant", mock.Anything, "c1", "u1").Return(true, nil).Once()
	members.On("IsParticipant", mock.Anything, "c2", "u1").Return(false, nil).Once()

	authorized, err := AuthorizeChannel(context.Background(), members, "u1", "private-conversation-c1")
	require.NoError(t, err)
	require.True(t, authorized)

	authorized, err = AuthorizeChannel(context.Background(), members, "u1", "private-conversation-c2")
	require.NoError(t, err)
	require.False(t, authorized)

	members.AssertExpectations(t)
}
