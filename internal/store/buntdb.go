package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/tidwall/buntdb"
)

const (
	roomKeyPrefix     = "room:"
	roomNameKeyPrefix = "roomname:"
	messageKeyPrefix  = "msg:"
	userKeyPrefix     = "user:"
)

// BuntStore keeps rooms/messages/users in an embedded buntdb file, so history
// survives a restart on a single node. Still best-effort, nothing guaranteed.
type BuntStore struct {
	db *buntdb.DB
}

// sortable wrappers: the "ts" field carries unix nanos for index ordering,
// RFC3339 inside the record is not lexicographically sortable.
type buntRoom struct {
	Room
	TS int64 `json:"ts"`
}

type buntMessage struct {
	Message
	TS int64 `json:"ts"`
}

// NewBuntStore opens (or creates) the db at path; ":memory:" works for tests.
func NewBuntStore(path string) (*BuntStore, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, err
	}
	if err := db.CreateIndex("rooms", roomKeyPrefix+"*", buntdb.IndexJSON("ts")); err != nil {
		db.Close()
		return nil, err
	}
	if err := db.CreateIndex("messages", messageKeyPrefix+"*", buntdb.IndexJSON("ts")); err != nil {
		db.Close()
		return nil, err
	}
	return &BuntStore{db: db}, nil
}

func (s *BuntStore) CreateRoom(_ context.Context, name string) (*Room, error) {
	if name == "" {
		return nil, ErrEmptyName
	}
	room := Room{ID: NewID(), Name: name, CreatedAt: time.Now().UTC()}
	raw, err := json.Marshal(buntRoom{Room: room, TS: room.CreatedAt.UnixNano()})
	if err != nil {
		return nil, err
	}
	err = s.db.Update(func(tx *buntdb.Tx) error {
		// uniqueness check rides in the same transaction as the insert
		if _, err := tx.Get(roomNameKeyPrefix + name); err == nil {
			return ErrDuplicateRoom
		} else if !errors.Is(err, buntdb.ErrNotFound) {
			return err
		}
		if _, _, err := tx.Set(roomKeyPrefix+room.ID, string(raw), nil); err != nil {
			return err
		}
		_, _, err := tx.Set(roomNameKeyPrefix+name, room.ID, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &room, nil
}

func (s *BuntStore) Rooms(_ context.Context) ([]Room, error) {
	var out []Room
	err := s.db.View(func(tx *buntdb.Tx) error {
		return tx.Ascend("rooms", func(_, value string) bool {
			var r buntRoom
			if err := json.Unmarshal([]byte(value), &r); err == nil {
				out = append(out, r.Room)
			}
			return true
		})
	})
	return out, err
}

func (s *BuntStore) RoomByName(_ context.Context, name string) (*Room, error) {
	var room Room
	err := s.db.View(func(tx *buntdb.Tx) error {
		id, err := tx.Get(roomNameKeyPrefix + name)
		if err != nil {
			return err
		}
		raw, err := tx.Get(roomKeyPrefix + id)
		if err != nil {
			return err
		}
		var r buntRoom
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return err
		}
		room = r.Room
		return nil
	})
	if errors.Is(err, buntdb.ErrNotFound) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

func (s *BuntStore) CreateMessage(_ context.Context, roomID, username, content string) (*Message, error) {
	msg := Message{
		ID:        NewID(),
		RoomID:    roomID,
		Username:  username,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
	raw, err := json.Marshal(buntMessage{Message: msg, TS: msg.Timestamp.UnixNano()})
	if err != nil {
		return nil, err
	}
	err = s.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(messageKeyPrefix+msg.ID, string(raw), nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (s *BuntStore) RoomMessages(_ context.Context, roomID string, limit int) ([]Message, error) {
	return s.messages(func(m Message) bool { return m.RoomID == roomID }, limit)
}

func (s *BuntStore) RecentMessages(_ context.Context, limit int) ([]Message, error) {
	return s.messages(func(Message) bool { return true }, limit)
}

// messages walks the timestamp index newest-first until limit matches are
// collected, then flips the result back to ascending order.
func (s *BuntStore) messages(match func(Message) bool, limit int) ([]Message, error) {
	var out []Message
	err := s.db.View(func(tx *buntdb.Tx) error {
		return tx.Descend("messages", func(_, value string) bool {
			var m buntMessage
			if err := json.Unmarshal([]byte(value), &m); err != nil {
				return true
			}
			if !match(m.Message) {
				return true
			}
			out = append(out, m.Message)
			return limit <= 0 || len(out) < limit
		})
	})
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *BuntStore) EnsureUser(_ context.Context, username string) (*User, error) {
	if username == "" {
		return nil, ErrEmptyName
	}
	user := User{ID: NewID(), Username: username}
	err := s.db.Update(func(tx *buntdb.Tx) error {
		if raw, err := tx.Get(userKeyPrefix + username); err == nil {
			return json.Unmarshal([]byte(raw), &user)
		} else if !errors.Is(err, buntdb.ErrNotFound) {
			return err
		}
		raw, err := json.Marshal(user)
		if err != nil {
			return err
		}
		_, _, err = tx.Set(userKeyPrefix+username, string(raw), nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *BuntStore) Close() error { return s.db.Close() }
