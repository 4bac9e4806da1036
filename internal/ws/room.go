package ws

import (
	"sync"

	"chatrelay/internal/observability"
)

type room struct {
	mu    sync.RWMutex
	conns map[*clientConn]struct{}

	// dispatchMu serializes persist+fan-out pairs for this room, so messages
	// are broadcast in store insertion order.
	dispatchMu sync.Mutex
}

func newRoom() *room { return &room{conns: map[*clientConn]struct{}{}} }

func (r *room) add(c *clientConn) {
	r.mu.Lock()
	r.conns[c] = struct{}{}
	r.mu.Unlock()
}

func (r *room) remove(c *clientConn) {
	r.mu.Lock()
	delete(r.conns, c)
	r.mu.Unlock()
}

func (r *room) broadcast(msg []byte) []*clientConn {
	// Take a quick snapshot of the current connections
	r.mu.RLock()
	conns := make([]*clientConn, 0, len(r.conns))
	for c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	// Do the I/O outside the lock
	var failed []*clientConn
	for _, c := range conns {
		if c.closed.Load() {
			continue
		}
		if err := c.write(msg); err != nil {
			observability.IncWriteFailure()
			failed = append(failed, c)
		}
	}
	return failed
}
