package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the reference backend: volatile, in-process, insertion
// ordered. Everything lives for the lifetime of the process.
type MemoryStore struct {
	mu         sync.RWMutex
	rooms      []Room
	roomByName map[string]int // name -> index into rooms
	messages   []Message
	users      map[string]User // username -> user
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		roomByName: make(map[string]int),
		users:      make(map[string]User),
	}
}

func (s *MemoryStore) CreateRoom(_ context.Context, name string) (*Room, error) {
	if name == "" {
		return nil, ErrEmptyName
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	// check and insert under the same lock, no check-then-create window
	if _, ok := s.roomByName[name]; ok {
		return nil, ErrDuplicateRoom
	}
	room := Room{ID: NewID(), Name: name, CreatedAt: time.Now().UTC()}
	s.roomByName[name] = len(s.rooms)
	s.rooms = append(s.rooms, room)
	return &room, nil
}

func (s *MemoryStore) Rooms(_ context.Context) ([]Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Room, len(s.rooms))
	copy(out, s.rooms)
	return out, nil
}

func (s *MemoryStore) RoomByName(_ context.Context, name string) (*Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.roomByName[name]
	if !ok {
		return nil, ErrRoomNotFound
	}
	room := s.rooms[idx]
	return &room, nil
}

func (s *MemoryStore) CreateMessage(_ context.Context, roomID, username, content string) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := Message{
		ID:        NewID(),
		RoomID:    roomID,
		Username:  username,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
	s.messages = append(s.messages, msg)
	return &msg, nil
}

func (s *MemoryStore) RoomMessages(_ context.Context, roomID string, limit int) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Message
	for _, m := range s.messages {
		if m.RoomID == roomID {
			out = append(out, m)
		}
	}
	return tail(out, limit), nil
}

func (s *MemoryStore) RecentMessages(_ context.Context, limit int) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return tail(out, limit), nil
}

func (s *MemoryStore) EnsureUser(_ context.Context, username string) (*User, error) {
	if username == "" {
		return nil, ErrEmptyName
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[username]; ok {
		return &u, nil
	}
	u := User{ID: NewID(), Username: username}
	s.users[username] = u
	return &u, nil
}

func (s *MemoryStore) Close() error { return nil }
