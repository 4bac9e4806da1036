package ws

import (
	"sync"

	"go.uber.org/zap"

	"chatrelay/internal/observability"
)

// Hub owns the connection registry and the per-room connection sets used for
// fan-out. Membership changes go through Register/Join/Leave only.
type Hub struct {
	registry *Registry
	onLeave  func(Membership)

	mu    sync.Mutex
	rooms map[string]*room
}

func NewHub() *Hub {
	return &Hub{
		registry: NewRegistry(),
		rooms:    make(map[string]*room),
	}
}

// Register puts a freshly opened connection into the registry, not yet in
// any room.
func (h *Hub) Register(c *clientConn) {
	h.registry.Add(c)
	observability.ConnOpened()
}

// Join moves the connection into roomID, detaching it from its previous room
// if it had one. Other members of the old room are not notified.
func (h *Hub) Join(roomID, username string, c *clientConn) (prevRoom string) {
	prevRoom = h.registry.Join(c, roomID, username)
	if prevRoom == roomID {
		return prevRoom
	}
	if prevRoom != "" {
		h.roomFor(prevRoom).remove(c)
		zap.L().Debug("ws.implicit_leave",
			zap.String("conn", c.id), zap.String("room", prevRoom))
	}
	h.roomFor(roomID).add(c)
	return prevRoom
}

// SetOnLeave installs a hook run once per removed connection, whether it
// left through its reader or was evicted by a failed write.
func (h *Hub) SetOnLeave(fn func(Membership)) { h.onLeave = fn }

// Leave removes a closed connection from the registry and its room set.
// Safe to call twice; only the first call does anything.
func (h *Hub) Leave(c *clientConn) {
	m, existed := h.registry.Remove(c)
	if !existed {
		return
	}
	if m.State == stateJoined {
		h.roomFor(m.RoomID).remove(c)
	}
	c.close()
	observability.ConnClosed()
	if h.onLeave != nil {
		h.onLeave(m)
	}
}

// Membership reports the connection's current registry record.
func (h *Hub) Membership(c *clientConn) (Membership, bool) {
	return h.registry.Membership(c)
}

// Broadcast writes msg to every connection joined to roomID. Connections that
// fail the write are evicted.
func (h *Hub) Broadcast(roomID string, msg []byte) {
	failed := h.roomFor(roomID).broadcast(msg)
	for _, c := range failed {
		h.Leave(c)
	}
}

// BroadcastAll writes msg to every live connection regardless of room.
func (h *Hub) BroadcastAll(msg []byte) {
	var failed []*clientConn
	for _, c := range h.registry.All() {
		if c.closed.Load() {
			continue
		}
		if err := c.write(msg); err != nil {
			observability.IncWriteFailure()
			failed = append(failed, c)
		}
	}
	for _, c := range failed {
		h.Leave(c)
	}
}

// Dispatch runs fn while holding the room's dispatch lock. The message
// handler uses it to keep persist and fan-out as one ordered step per room.
func (h *Hub) Dispatch(roomID string, fn func()) {
	r := h.roomFor(roomID)
	r.dispatchMu.Lock()
	defer r.dispatchMu.Unlock()
	fn()
}

func (h *Hub) roomFor(roomID string) *room {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[roomID]
	if !ok {
		r = newRoom()
		h.rooms[roomID] = r
	}
	return r
}
