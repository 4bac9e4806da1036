package ws

import "sync"

// A connection is either freshly opened or joined to exactly one room.
// Closed connections have no entry at all.
type connState int

const (
	stateOpen connState = iota
	stateJoined
)

// Membership is the registry record for one live connection. RoomID and
// Username are meaningful only when State == stateJoined.
type Membership struct {
	State    connState
	RoomID   string
	Username string
}

// Registry maps live connections to their current membership. Entries are
// inserted on open with empty state, overwritten on every join and removed
// on close, never left dangling.
type Registry struct {
	mu    sync.RWMutex
	conns map[*clientConn]Membership
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[*clientConn]Membership)}
}

func (r *Registry) Add(c *clientConn) {
	r.mu.Lock()
	r.conns[c] = Membership{State: stateOpen}
	r.mu.Unlock()
}

// Join records the connection's room/username and returns the previously
// joined room, if any. Re-joining simply overwrites: there is no leave event,
// the old room is abandoned silently.
func (r *Registry) Join(c *clientConn, roomID, username string) (prevRoom string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.conns[c]; ok && m.State == stateJoined {
		prevRoom = m.RoomID
	}
	r.conns[c] = Membership{State: stateJoined, RoomID: roomID, Username: username}
	return prevRoom
}

// Remove drops the entry and reports the membership it had, if any.
func (r *Registry) Remove(c *clientConn) (Membership, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.conns[c]
	delete(r.conns, c)
	return m, ok
}

func (r *Registry) Membership(c *clientConn) (Membership, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.conns[c]
	return m, ok
}

// All snapshots every live connection, joined or not.
func (r *Registry) All() []*clientConn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*clientConn, 0, len(r.conns))
	for c := range r.conns {
		out = append(out, c)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
