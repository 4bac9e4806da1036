package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	ErrUnknownType = errors.New("unknown message type")
	ErrBadPayload  = errors.New("malformed payload")
)

// internal (untyped) handler signature.
type rawHandler func(ctx context.Context, c *ConnContext, payload json.RawMessage) error

// ConnContext identifies the connection an inbound frame arrived on.
type ConnContext struct {
	Conn *clientConn
}

// Router keeps a map[type]handler, à-la gin.Engine. Payloads are unmarshalled
// and field-validated before the typed handler runs; both failure modes
// surface as ErrBadPayload so the caller replies to the sender only.
type Router struct {
	mu       sync.RWMutex
	validate *validator.Validate
	handlers map[string]rawHandler
}

func NewRouter() *Router {
	return &Router{
		validate: validator.New(),
		handlers: make(map[string]rawHandler),
	}
}

// Register binds a frame type to a strongly-typed handler.
func Register[Req any](
	r *Router,
	msgType string,
	h func(ctx context.Context, c *ConnContext, req Req) error,
) {
	if msgType == "" {
		panic("ws router: empty message type")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers[msgType] = func(ctx context.Context, c *ConnContext, payload json.RawMessage) error {
		var req Req
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &req); err != nil {
				return ErrBadPayload
			}
		}
		if err := r.validate.Struct(&req); err != nil {
			return err
		}
		return h(ctx, c, req)
	}
}

// dispatch is called by the server's reader loop.
func (r *Router) dispatch(ctx context.Context, c *ConnContext, env Envelope) error {
	r.mu.RLock()
	h, ok := r.handlers[env.Type]
	r.mu.RUnlock()
	if !ok {
		return ErrUnknownType
	}
	return h(ctx, c, env.Payload)
}
