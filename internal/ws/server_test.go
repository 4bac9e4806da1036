package ws

import (
	"context"
	"encoding/json"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatrelay/internal/store"
)

func newTestServer(t *testing.T) (*WsServer, *store.MemoryStore, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st := store.NewMemoryStore()
	require.NoError(t, store.EnsureDefaultRoom(context.Background(), st, "general"))

	srv := NewWsServer(NewHub(), st, nil, 50)

	engine := gin.New()
	engine.GET("/ws", srv.Handle)
	ts := httptest.NewServer(engine)
	t.Cleanup(ts.Close)

	return srv, st, "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

// dialWS connects and consumes the rooms_list frame every fresh connection
// receives.
func dialWS(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	readEvent(t, conn, TypeRoomsList)
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn, wantType string) Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	require.Equal(t, wantType, env.Type, "unexpected frame: %s", data)
	return env
}

func sendFrame(t *testing.T, conn *websocket.Conn, msgType string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	frame, err := json.Marshal(Envelope{Type: msgType, Payload: raw})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
}

func joinRoom(t *testing.T, conn *websocket.Conn, roomID, username string) RoomHistoryEvent {
	t.Helper()
	sendFrame(t, conn, TypeJoinRoom, JoinRoomRequest{RoomID: roomID, Username: username})
	env := readEvent(t, conn, TypeRoomHistory)
	var history RoomHistoryEvent
	require.NoError(t, json.Unmarshal(env.Payload, &history))
	require.Equal(t, roomID, history.RoomID)
	return history
}

func expectNoFrame(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	_, data, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("expected no frame, got %s", data)
	}
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return
	}
	t.Fatalf("unexpected error waiting for silence: %v", err)
}

func generalRoomID(t *testing.T, st store.Store) string {
	t.Helper()
	room, err := st.RoomByName(context.Background(), "general")
	require.NoError(t, err)
	return room.ID
}

func TestConnectionReceivesRoomsList(t *testing.T) {
	_, _, url := newTestServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	env := readEvent(t, conn, TypeRoomsList)
	var list RoomsListEvent
	require.NoError(t, json.Unmarshal(env.Payload, &list))
	require.Len(t, list.Rooms, 1)
	assert.Equal(t, "general", list.Rooms[0].Name)
}

func TestMessageBroadcastToRoomMembersOnly(t *testing.T) {
	_, st, url := newTestServer(t)

	ops, err := st.CreateRoom(context.Background(), "ops")
	require.NoError(t, err)

	connA := dialWS(t, url)
	connB := dialWS(t, url)
	connC := dialWS(t, url)

	joinRoom(t, connA, ops.ID, "A")
	joinRoom(t, connB, ops.ID, "B")
	joinRoom(t, connC, generalRoomID(t, st), "C")

	sendFrame(t, connA, TypeMessage, MessageRequest{RoomID: ops.ID, Username: "A", Content: "hello"})

	for _, conn := range []*websocket.Conn{connA, connB} {
		env := readEvent(t, conn, TypeNewMessage)
		var got NewMessageEvent
		require.NoError(t, json.Unmarshal(env.Payload, &got))
		assert.Equal(t, "hello", got.Message.Content)
		assert.Equal(t, "A", got.Message.Username)
		assert.Equal(t, ops.ID, got.Message.RoomID)
		assert.NotEmpty(t, got.Message.ID)
	}

	// exactly one broadcast each, none to the third room
	expectNoFrame(t, connA, 300*time.Millisecond)
	expectNoFrame(t, connC, 300*time.Millisecond)

	msgs, err := st.RoomMessages(context.Background(), ops.ID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
}

func TestMessageRoomIDFallsBackToJoinedRoom(t *testing.T) {
	_, st, url := newTestServer(t)
	general := generalRoomID(t, st)

	conn := dialWS(t, url)
	joinRoom(t, conn, general, "alice")

	sendFrame(t, conn, TypeMessage, MessageRequest{Username: "alice", Content: "no room field"})

	env := readEvent(t, conn, TypeNewMessage)
	var got NewMessageEvent
	require.NoError(t, json.Unmarshal(env.Payload, &got))
	assert.Equal(t, general, got.Message.RoomID)
}

func TestMessageWithoutJoinRejected(t *testing.T) {
	_, st, url := newTestServer(t)

	conn := dialWS(t, url)
	sendFrame(t, conn, TypeMessage, MessageRequest{Username: "alice", Content: "hi"})

	env := readEvent(t, conn, TypeError)
	var e ErrorEvent
	require.NoError(t, json.Unmarshal(env.Payload, &e))
	assert.Equal(t, ErrNotJoined.Error(), e.Message)

	msgs, err := st.RecentMessages(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestOversizedMessageRejected(t *testing.T) {
	_, st, url := newTestServer(t)
	general := generalRoomID(t, st)

	connA := dialWS(t, url)
	connB := dialWS(t, url)
	joinRoom(t, connA, general, "A")
	joinRoom(t, connB, general, "B")

	sendFrame(t, connA, TypeMessage, MessageRequest{
		RoomID:   general,
		Username: "A",
		Content:  strings.Repeat("x", 501),
	})

	readEvent(t, connA, TypeError)
	expectNoFrame(t, connB, 300*time.Millisecond)

	msgs, err := st.RoomMessages(context.Background(), general, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestCreateRoomBroadcastsGlobally(t *testing.T) {
	_, st, url := newTestServer(t)

	connA := dialWS(t, url)
	connB := dialWS(t, url)
	joinRoom(t, connB, generalRoomID(t, st), "B")

	sendFrame(t, connA, TypeCreateRoom, CreateRoomRequest{Name: "ops"})

	// everyone hears about the new room, joined or not
	for _, conn := range []*websocket.Conn{connA, connB} {
		env := readEvent(t, conn, TypeNewRoom)
		var got NewRoomEvent
		require.NoError(t, json.Unmarshal(env.Payload, &got))
		assert.Equal(t, "ops", got.Room.Name)
		assert.NotEmpty(t, got.Room.ID)
	}
}

func TestCreateRoomDuplicateUnicastError(t *testing.T) {
	_, st, url := newTestServer(t)

	connA := dialWS(t, url)
	connB := dialWS(t, url)

	sendFrame(t, connA, TypeCreateRoom, CreateRoomRequest{Name: "ops"})
	readEvent(t, connA, TypeNewRoom)
	readEvent(t, connB, TypeNewRoom)

	sendFrame(t, connA, TypeCreateRoom, CreateRoomRequest{Name: "ops"})
	env := readEvent(t, connA, TypeError)
	var e ErrorEvent
	require.NoError(t, json.Unmarshal(env.Payload, &e))
	assert.Equal(t, store.ErrDuplicateRoom.Error(), e.Message)

	// error is unicast, no state change
	expectNoFrame(t, connB, 300*time.Millisecond)
	rooms, err := st.Rooms(context.Background())
	require.NoError(t, err)
	require.Len(t, rooms, 2) // general + ops
}

func TestJoinReturnsOnlyThatRoomsHistory(t *testing.T) {
	_, st, url := newTestServer(t)
	ctx := context.Background()

	ops, err := st.CreateRoom(ctx, "ops")
	require.NoError(t, err)
	_, err = st.CreateMessage(ctx, ops.ID, "A", "first")
	require.NoError(t, err)
	_, err = st.CreateMessage(ctx, ops.ID, "B", "second")
	require.NoError(t, err)
	_, err = st.CreateMessage(ctx, generalRoomID(t, st), "C", "elsewhere")
	require.NoError(t, err)

	conn := dialWS(t, url)
	history := joinRoom(t, conn, ops.ID, "A")
	require.Len(t, history.Messages, 2)
	assert.Equal(t, "first", history.Messages[0].Content)
	assert.Equal(t, "second", history.Messages[1].Content)
}

func TestMalformedFramesGetErrorReply(t *testing.T) {
	_, _, url := newTestServer(t)
	conn := dialWS(t, url)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	readEvent(t, conn, TypeError)

	sendFrame(t, conn, "bogus_type", struct{}{})
	env := readEvent(t, conn, TypeError)
	var e ErrorEvent
	require.NoError(t, json.Unmarshal(env.Payload, &e))
	assert.Equal(t, ErrUnknownType.Error(), e.Message)

	// the connection survives both
	sendFrame(t, conn, TypeCreateRoom, CreateRoomRequest{Name: "still-alive"})
	readEvent(t, conn, TypeNewRoom)
}

func TestClosedConnectionLeavesRegistry(t *testing.T) {
	srv, st, url := newTestServer(t)
	general := generalRoomID(t, st)

	ops, err := st.CreateRoom(context.Background(), "ops")
	require.NoError(t, err)

	connA := dialWS(t, url)
	connB := dialWS(t, url)
	joinRoom(t, connA, ops.ID, "A")
	joinRoom(t, connB, general, "B")

	connA.Close()
	require.Eventually(t, func() bool {
		return srv.hub.registry.Len() == 1
	}, 2*time.Second, 10*time.Millisecond, "closed connection must be removed")

	// a different room keeps working after A dropped
	sendFrame(t, connB, TypeMessage, MessageRequest{Username: "B", Content: "still here"})
	env := readEvent(t, connB, TypeNewMessage)
	var got NewMessageEvent
	require.NoError(t, json.Unmarshal(env.Payload, &got))
	assert.Equal(t, "still here", got.Message.Content)
}

func TestRejoinSwitchesRoomSilently(t *testing.T) {
	_, st, url := newTestServer(t)
	general := generalRoomID(t, st)

	ops, err := st.CreateRoom(context.Background(), "ops")
	require.NoError(t, err)

	connA := dialWS(t, url)
	connB := dialWS(t, url)
	joinRoom(t, connA, ops.ID, "A")
	joinRoom(t, connB, ops.ID, "B")

	// B moves to general; A gets no notification
	joinRoom(t, connB, general, "B")
	expectNoFrame(t, connA, 300*time.Millisecond)

	// and no longer receives ops traffic
	sendFrame(t, connA, TypeMessage, MessageRequest{RoomID: ops.ID, Username: "A", Content: "bye"})
	readEvent(t, connA, TypeNewMessage)
	expectNoFrame(t, connB, 300*time.Millisecond)
}
