package ws

import (
	"encoding/json"

	"chatrelay/internal/store"
)

// Envelope wraps every WS frame in both directions.
type Envelope struct {
	Type    string          `json:"type"`              // e.g. "join_room"
	Payload json.RawMessage `json:"payload,omitempty"` // arbitrary JSON object
}

// Inbound frame types.
const (
	TypeJoinRoom   = "join_room"
	TypeMessage    = "message"
	TypeCreateRoom = "create_room"
)

// Outbound frame types.
const (
	TypeRoomsList   = "rooms_list"
	TypeRoomHistory = "room_history"
	TypeNewMessage  = "new_message"
	TypeNewRoom     = "new_room"
	TypeError       = "error"
)

// ──────────────────────────── Request payloads ───────────────────────────────

type JoinRoomRequest struct {
	RoomID   string `json:"roomId"   validate:"required"`
	Username string `json:"username" validate:"required"`
}

// MessageRequest carries one chat message. RoomID may be empty, in which case
// the connection's registered room is used.
type MessageRequest struct {
	RoomID   string `json:"roomId,omitempty"`
	Username string `json:"username"`
	Content  string `json:"content" validate:"required,min=1,max=500"`
}

type CreateRoomRequest struct {
	Name string `json:"name" validate:"required"`
}

// ──────────────────────────── Event payloads ─────────────────────────────────

type RoomsListEvent struct {
	Rooms []store.Room `json:"rooms"`
}

type RoomHistoryEvent struct {
	RoomID   string          `json:"roomId"`
	Messages []store.Message `json:"messages"`
}

type NewMessageEvent struct {
	Message store.Message `json:"message"`
}

type NewRoomEvent struct {
	Room store.Room `json:"room"`
}

type ErrorEvent struct {
	Message string `json:"message"`
}

// marshalEvent builds a complete outbound frame.
func marshalEvent(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: msgType, Payload: raw})
}
