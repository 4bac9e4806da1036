package ws

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"chatrelay/internal/store"
)

const (
	roomChannelPrefix = "room:"
	roomChannelSuffix = ":events"
	globalChannel     = "rooms:events"
)

// fanoutEnvelope rides on the redis channels. Src carries the publishing
// instance id so a relay never re-broadcasts its own frames.
type fanoutEnvelope struct {
	Src   string          `json:"src"`
	Frame json.RawMessage `json:"frame"`
}

// Fanout relays room broadcasts between relay instances over redis pub/sub.
// It keeps exactly one subscription per room channel, no matter how many
// local connections joined that room, plus one for the global room catalog.
type Fanout struct {
	rdb        *redis.Client
	hub        *Hub
	instanceID string

	mu   sync.Mutex
	subs map[string]*subEntry // roomID ➜ subscription data
}

type subEntry struct {
	refCnt int
	cancel context.CancelFunc
}

func NewFanout(ctx context.Context, rdb *redis.Client, hub *Hub) *Fanout {
	f := &Fanout{
		rdb:        rdb,
		hub:        hub,
		instanceID: store.NewID(),
		subs:       make(map[string]*subEntry),
	}
	go f.runGlobal(ctx)
	return f
}

// Subscribe ensures the process listens on the room's channel; subsequent
// calls for the same room only increment the ref-counter.
func (f *Fanout) Subscribe(roomID string) {
	f.mu.Lock()
	if e, ok := f.subs[roomID]; ok {
		e.refCnt++
		f.mu.Unlock()
		return
	}

	// First local member → create the redis SUB and fan-out loop.
	ctx, cancel := context.WithCancel(context.Background())
	ps := f.rdb.Subscribe(ctx, roomChannel(roomID))

	f.subs[roomID] = &subEntry{refCnt: 1, cancel: cancel}
	f.mu.Unlock()

	go func() {
		defer ps.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ps.Channel():
				if !ok { // redis connection closed
					return
				}
				frame, ok := f.unwrap(m.Payload)
				if !ok {
					continue
				}
				f.hub.Broadcast(roomID, frame)
			}
		}
	}()
}

// Unsubscribe decrements the ref-counter and tears the redis SUB down when
// the last local member leaves the room.
func (f *Fanout) Unsubscribe(roomID string) {
	f.mu.Lock()
	e, ok := f.subs[roomID]
	if !ok {
		f.mu.Unlock()
		return
	}
	e.refCnt--
	if e.refCnt > 0 {
		f.mu.Unlock()
		return
	}
	delete(f.subs, roomID)
	f.mu.Unlock()

	// Outside the lock → stop the fan-out goroutine.
	e.cancel()
}

// PublishRoom hands a locally broadcast frame to the other instances.
func (f *Fanout) PublishRoom(ctx context.Context, roomID string, frame []byte) {
	f.publish(ctx, roomChannel(roomID), frame)
}

// PublishGlobal is PublishRoom for events every connection should see.
func (f *Fanout) PublishGlobal(ctx context.Context, frame []byte) {
	f.publish(ctx, globalChannel, frame)
}

func (f *Fanout) publish(ctx context.Context, channel string, frame []byte) {
	payload, err := json.Marshal(fanoutEnvelope{Src: f.instanceID, Frame: frame})
	if err != nil {
		zap.L().Warn("ws.fanout_marshal", zap.Error(err))
		return
	}
	if err := f.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		zap.L().Warn("ws.fanout_publish", zap.String("channel", channel), zap.Error(err))
	}
}

func (f *Fanout) runGlobal(ctx context.Context) {
	ps := f.rdb.Subscribe(ctx, globalChannel)
	defer ps.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ps.Channel():
			if !ok {
				return
			}
			frame, ok := f.unwrap(m.Payload)
			if !ok {
				continue
			}
			f.hub.BroadcastAll(frame)
		}
	}
}

// unwrap drops frames published by this instance.
func (f *Fanout) unwrap(payload string) ([]byte, bool) {
	var env fanoutEnvelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		zap.L().Warn("ws.fanout_unwrap", zap.Error(err))
		return nil, false
	}
	if env.Src == f.instanceID {
		return nil, false
	}
	return env.Frame, true
}

func roomChannel(roomID string) string {
	return roomChannelPrefix + roomID + roomChannelSuffix
}
