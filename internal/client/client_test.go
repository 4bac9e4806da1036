package client

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatrelay/internal/store"
	"chatrelay/internal/ws"
)

func shortDelays(t *testing.T) {
	t.Helper()
	oldReconnect, oldDial := reconnectDelay, dialErrorDelay
	reconnectDelay, dialErrorDelay = 20*time.Millisecond, 20*time.Millisecond
	t.Cleanup(func() { reconnectDelay, dialErrorDelay = oldReconnect, oldDial })
}

func startRelay(t *testing.T) (*httptest.Server, *store.MemoryStore, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st := store.NewMemoryStore()
	require.NoError(t, store.EnsureDefaultRoom(context.Background(), st, "general"))
	srv := ws.NewWsServer(ws.NewHub(), st, nil, 50)

	engine := gin.New()
	engine.GET("/ws", srv.Handle)
	ts := httptest.NewServer(engine)
	t.Cleanup(ts.Close)

	return ts, st, "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func waitForState(t *testing.T, c *Client, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return c.State() == want },
		2*time.Second, 5*time.Millisecond, "want state %s, have %s", want, c.State())
}

func waitForEvent(t *testing.T, events <-chan ws.Envelope, wantType string) ws.Envelope {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case env := <-events:
			if env.Type == wantType {
				return env
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q event", wantType)
		}
	}
}

func TestClientJoinAndSend(t *testing.T) {
	shortDelays(t)
	_, st, url := startRelay(t)

	events := make(chan ws.Envelope, 32)
	c := New(url, func(env ws.Envelope) { events <- env })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	waitForState(t, c, StateConnected)
	waitForEvent(t, events, ws.TypeRoomsList)

	room, err := st.RoomByName(context.Background(), "general")
	require.NoError(t, err)

	require.NoError(t, c.Join(room.ID, "alice"))
	waitForEvent(t, events, ws.TypeRoomHistory)

	require.NoError(t, c.Send("hello"))
	env := waitForEvent(t, events, ws.TypeNewMessage)
	var got ws.NewMessageEvent
	require.NoError(t, json.Unmarshal(env.Payload, &got))
	assert.Equal(t, "hello", got.Message.Content)
	assert.Equal(t, "alice", got.Message.Username)
}

func TestClientSendBeforeConnect(t *testing.T) {
	c := New("ws://localhost:0/ws", nil)
	require.ErrorIs(t, c.Send("hi"), ErrNotConnected)
	assert.Equal(t, StateDisconnected, c.State())
}

func TestClientReconnectsAndRejoins(t *testing.T) {
	shortDelays(t)
	ts, st, url := startRelay(t)

	events := make(chan ws.Envelope, 64)
	c := New(url, func(env ws.Envelope) { events <- env })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	waitForState(t, c, StateConnected)
	room, err := st.RoomByName(context.Background(), "general")
	require.NoError(t, err)
	require.NoError(t, c.Join(room.ID, "alice"))
	waitForEvent(t, events, ws.TypeRoomHistory)

	// drop every open connection; the client must come back on its own
	ts.CloseClientConnections()
	waitForState(t, c, StateConnected)

	// reconnect replays the join, which re-requests history
	waitForEvent(t, events, ws.TypeRoomHistory)
}

func TestClientDialFailureEntersErrorState(t *testing.T) {
	shortDelays(t)

	// nothing listens here
	c := New("ws://127.0.0.1:1/ws", nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	waitForState(t, c, StateError)

	// it keeps retrying instead of giving up; cancelling stops the loop
	time.Sleep(100 * time.Millisecond)
	assert.NotEqual(t, StateConnected, c.State())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "error", StateError.String())
}
