// Package client implements the connection side of the relay protocol:
// dial, read events, reconnect forever on fixed delays. Reconnecting is
// unconditional because the protocol is idempotent to it: rejoining a room
// simply re-requests its history.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chatrelay/internal/ws"
)

type State int32

const (
	StateConnecting State = iota
	StateConnected
	StateDisconnected
	StateError
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Fixed delays, no backoff growth, no attempt cap. A failed dial waits
// longer than a dropped connection.
var (
	reconnectDelay = 3 * time.Second
	dialErrorDelay = 8 * time.Second
)

var ErrNotConnected = errors.New("not connected")

// Client drives one relay connection. OnEvent runs on the read goroutine for
// every inbound frame, including the rooms_list pushed on connect.
type Client struct {
	url     string
	onEvent func(ws.Envelope)

	state atomic.Int32

	mu       sync.Mutex
	conn     *websocket.Conn
	roomID   string // last joined room, replayed after reconnect
	username string
}

func New(url string, onEvent func(ws.Envelope)) *Client {
	if onEvent == nil {
		onEvent = func(ws.Envelope) {}
	}
	c := &Client{url: url, onEvent: onEvent}
	c.state.Store(int32(StateDisconnected))
	return c
}

func (c *Client) State() State { return State(c.state.Load()) }

// Run blocks until ctx is cancelled, cycling through the lifecycle states.
func (c *Client) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		c.setState(StateConnecting)

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			zap.L().Warn("client.dial", zap.Error(err))
			c.setState(StateError)
			if !sleepCtx(ctx, dialErrorDelay) {
				return
			}
			continue
		}

		c.mu.Lock()
		c.conn = conn
		roomID, username := c.roomID, c.username
		c.mu.Unlock()
		c.setState(StateConnected)

		if roomID != "" {
			_ = c.writeFrame(ws.TypeJoinRoom, ws.JoinRoomRequest{RoomID: roomID, Username: username})
		}

		c.readLoop(ctx, conn)

		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.Close()

		if ctx.Err() != nil {
			return
		}
		c.setState(StateDisconnected)
		if !sleepCtx(ctx, reconnectDelay) {
			return
		}
	}
}

// Join requests membership in a room; the server replies with room_history.
// The room is remembered and re-joined automatically after a reconnect.
func (c *Client) Join(roomID, username string) error {
	c.mu.Lock()
	c.roomID, c.username = roomID, username
	c.mu.Unlock()
	return c.writeFrame(ws.TypeJoinRoom, ws.JoinRoomRequest{RoomID: roomID, Username: username})
}

// Send posts a chat message to the joined room.
func (c *Client) Send(content string) error {
	c.mu.Lock()
	username := c.username
	c.mu.Unlock()
	return c.writeFrame(ws.TypeMessage, ws.MessageRequest{Username: username, Content: content})
}

// CreateRoom asks the server for a new room; everyone gets a new_room event.
func (c *Client) CreateRoom(name string) error {
	return c.writeFrame(ws.TypeCreateRoom, ws.CreateRoomRequest{Name: name})
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var env ws.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			zap.L().Warn("client.bad_frame", zap.Error(err))
			continue
		}
		c.onEvent(env)
	}
}

func (c *Client) writeFrame(msgType string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(ws.Envelope{Type: msgType, Payload: raw})
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

func (c *Client) setState(s State) {
	old := State(c.state.Swap(int32(s)))
	if old != s {
		zap.L().Debug("client.state", zap.String("from", old.String()), zap.String("to", s.String()))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
