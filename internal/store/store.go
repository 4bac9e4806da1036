package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"
)

type Room struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

type Message struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"roomId"`
	Username  string    `json:"username"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

var (
	ErrDuplicateRoom = errors.New("room name already exists")
	ErrRoomNotFound  = errors.New("room not found")
	ErrEmptyName     = errors.New("name must not be empty")
)

// Store is the history/catalog backend behind the relay. All writes assign
// server-side IDs and timestamps; client-supplied timestamps are never used.
// CreateRoom MUST be atomic with respect to the name-uniqueness check, so
// concurrent creates of the same name yield exactly one room.
type Store interface {
	CreateRoom(ctx context.Context, name string) (*Room, error)
	Rooms(ctx context.Context) ([]Room, error)
	RoomByName(ctx context.Context, name string) (*Room, error)

	// CreateMessage does not verify that roomID exists; dangling room
	// references are tolerated.
	CreateMessage(ctx context.Context, roomID, username, content string) (*Message, error)
	// RoomMessages returns the most recent limit messages of one room,
	// ascending by timestamp. limit <= 0 means no limit.
	RoomMessages(ctx context.Context, roomID string, limit int) ([]Message, error)
	// RecentMessages is like RoomMessages but across all rooms.
	RecentMessages(ctx context.Context, limit int) ([]Message, error)

	// EnsureUser returns the user with that username, creating it on demand.
	EnsureUser(ctx context.Context, username string) (*User, error)

	Close() error
}

// NewID returns an opaque 32-hex-char identifier.
func NewID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return ""
	}
	return hex.EncodeToString(buf)
}

// EnsureDefaultRoom creates the boot room ("general" unless configured
// otherwise) if it is not there yet.
func EnsureDefaultRoom(ctx context.Context, s Store, name string) error {
	if _, err := s.RoomByName(ctx, name); err == nil {
		return nil
	} else if !errors.Is(err, ErrRoomNotFound) {
		return err
	}
	_, err := s.CreateRoom(ctx, name)
	if errors.Is(err, ErrDuplicateRoom) {
		return nil
	}
	return err
}

func tail(msgs []Message, limit int) []Message {
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs
}
