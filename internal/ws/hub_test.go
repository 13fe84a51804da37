package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"conversation-service/internal/models"
)

func TestHubAddAndRemoveClient(t *testing.T) {
	hub := NewHub(nil)

	hub.Add("c1", nil, ConnInfo{})
	if len(hub.rooms) != 1 {
		t.Fatalf("expected room to be created")
	}

	hub.Remove("c1", nil)
	if len(hub.rooms) != 0 {
		t.Fatalf("expected room to be removed")
	}
}

func TestHubRoomSize(t *testing.T) {
	hub := NewHub(nil)
	require.Equal(t, 0, hub.RoomSize("c1"))

	hub.Add("c1", nil, ConnInfo{})
	require.Equal(t, 1, hub.RoomSize("c1"))
	require.Equal(t, 0, hub.RoomSize("c2"))
}

// dialTestConns upgrades n server-side connections through a test server
// and returns both ends.
func dialTestConns(t *testing.T, n int) ([]*websocket.Conn, []*websocket.Conn) {
	t.Helper()

	serverConns := make(chan *websocket.Conn, n)
	upgrade := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrade.Upgrade(w, r, nil)
		require.NoError(t, err)
		serverConns <- conn
	}))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	clients := make([]*websocket.Conn, 0, n)
	servers := make([]*websocket.Conn, 0, n)
	for i := 0; i < n; i++ {
		client, _, err := websocket.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		t.Cleanup(func() { client.Close() })
		clients = append(clients, client)

		select {
		case conn := <-serverConns:
			servers = append(servers, conn)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for server connection")
		}
	}
	return servers, clients
}

func TestHubBroadcastDeliversToRoom(t *testing.T) {
	servers, clients := dialTestConns(t, 2)

	hub := NewHub(nil)
	hub.Add("c1", servers[0], ConnInfo{UserID: "u1"})
	hub.Add("c1", servers[1], ConnInfo{UserID: "u2"})

	message := models.Message{ID: "m1", ConversationID: "c1", SenderID: "u1", Content: "hi"}
	hub.Broadcast("c1", models.ConversationEvent{Type: "message", Message: &message}, nil)

	for _, client := range clients {
		client.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, raw, err := client.ReadMessage()
		require.NoError(t, err)

		var event models.ConversationEvent
		require.NoError(t, json.Unmarshal(raw, &event))
		require.Equal(t, "message", event.Type)
		require.Equal(t, "m1", event.Message.ID)
	}
}

func TestHubBroadcastSkipsExcluded(t *testing.T) {
	servers, clients := dialTestConns(t, 2)

	hub := NewHub(nil)
	hub.Add("c1", servers[0], ConnInfo{UserID: "u1"})
	hub.Add("c1", servers[1], ConnInfo{UserID: "u2"})

	hub.Broadcast("c1", models.ConversationEvent{Type: "message_deleted", MessageID: "m1"}, servers[0])

	clients[1].SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := clients[1].ReadMessage()
	require.NoError(t, err)

	clients[0].SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err = clients[0].ReadMessage()
	require.Error(t, err)
}

func TestHubConcurrentBroadcastsToSameConnection(t *testing.T) {
	servers, clients := dialTestConns(t, 1)

	hub := NewHub(nil)
	hub.Add("c1", servers[0], ConnInfo{UserID: "u1"})

	const writers = 4
	const perWriter = 25

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < writers*perWriter; i++ {
			clients[0].SetReadDeadline(time.Now().Add(2 * time.Second))
			if _, _, err := clients[0].ReadMessage(); err != nil {
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				hub.Broadcast("c1", models.ConversationEvent{Type: "message_deleted", MessageID: "m1"}, nil)
			}
		}()
	}
	wg.Wait()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out draining broadcasts")
	}
	require.Equal(t, 1, hub.RoomSize("c1"))
}

func TestHubBroadcastDropsDeadConnections(t *testing.T) {
	servers, clients := dialTestConns(t, 2)

	hub := NewHub(nil)
	hub.Add("c1", servers[0], ConnInfo{UserID: "u1"})
	hub.Add("c1", servers[1], ConnInfo{UserID: "u2"})

	// Kill one server-side connection so the next write fails.
	servers[0].Close()

	hub.Broadcast("c1", models.ConversationEvent{Type: "message_deleted", MessageID: "m1"}, nil)
	require.Equal(t, 1, hub.RoomSize("c1"))

	clients[1].SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := clients[1].ReadMessage()
	require.NoError(t, err)
}
