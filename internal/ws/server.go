package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chatrelay/internal/observability"
	"chatrelay/internal/store"
)

const (
	writeWait       = 10 * time.Second
	pingPeriod      = 30 * time.Second
	dispatchTimeout = 1900 * time.Millisecond
	readLimit       = 4096
)

var ErrNotJoined = errors.New("no room joined")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true }, // dev-only
}

type WsServer struct {
	hub          *Hub
	router       *Router
	store        store.Store
	fanout       *Fanout
	historyLimit int
}

// NewWsServer wires the hub, store and optional cross-instance fan-out.
// fanout may be nil, in which case broadcasting stays process-local.
func NewWsServer(h *Hub, st store.Store, fanout *Fanout, historyLimit int) *WsServer {
	srv := &WsServer{
		hub:          h,
		router:       NewRouter(),
		store:        st,
		fanout:       fanout,
		historyLimit: historyLimit,
	}
	if fanout != nil {
		h.SetOnLeave(func(m Membership) {
			if m.State == stateJoined {
				fanout.Unsubscribe(m.RoomID)
			}
		})
	}
	srv.registerHandlers() // ← all WS frame types configured here
	return srv
}

// ---------------------------------------------------------------------------
//  Public: Gin entry-point
// ---------------------------------------------------------------------------

func (s *WsServer) Handle(ginCtx *gin.Context) {
	rawConn, err := upgrader.Upgrade(ginCtx.Writer, ginCtx.Request, nil)
	if err != nil {
		zap.L().Warn("ws.upgrade", zap.Error(err))
		return
	}
	rawConn.SetReadLimit(readLimit)

	// ─────────────────── Connection opened ────────────────────
	conn := newClientConn(rawConn)
	s.hub.Register(conn)

	// Initial room catalog.
	if err := s.pushRoomsList(ginCtx.Request.Context(), conn); err != nil {
		zap.L().Warn("ws.rooms_list", zap.Error(err))
	}

	go s.reader(conn)
	go s.pinger(conn)
}

// ---------------------------------------------------------------------------
//  Private helpers
// ---------------------------------------------------------------------------

func (s *WsServer) registerHandlers() {
	// 🔹 join_room ------------------------------------------------------------
	Register(
		s.router,
		TypeJoinRoom,
		func(ctx context.Context, cc *ConnContext, req JoinRoomRequest) error {
			if _, err := s.store.EnsureUser(ctx, req.Username); err != nil {
				return err
			}

			var (
				history []store.Message
				prev    string
				err     error
			)
			// History read and membership switch run under the room's
			// dispatch lock, so the reply holds exactly the messages
			// persisted before this join.
			s.hub.Dispatch(req.RoomID, func() {
				history, err = s.store.RoomMessages(ctx, req.RoomID, s.historyLimit)
				if err != nil {
					return
				}
				prev = s.hub.Join(req.RoomID, req.Username, cc.Conn)
			})
			if err != nil {
				return err
			}

			if s.fanout != nil {
				s.fanout.Subscribe(req.RoomID)
				if prev != "" && prev != req.RoomID {
					s.fanout.Unsubscribe(prev)
				}
			}

			// joining is silent to the rest of the room
			return cc.Conn.writeEvent(TypeRoomHistory, RoomHistoryEvent{
				RoomID:   req.RoomID,
				Messages: history,
			})
		},
	)

	// 🔹 message --------------------------------------------------------------
	Register(
		s.router,
		TypeMessage,
		func(ctx context.Context, cc *ConnContext, req MessageRequest) error {
			m, ok := s.hub.Membership(cc.Conn)

			roomID := req.RoomID
			if roomID == "" {
				if !ok || m.State != stateJoined {
					return ErrNotJoined
				}
				roomID = m.RoomID
			}
			username := req.Username
			if username == "" && ok && m.State == stateJoined {
				username = m.Username
			}

			var (
				stored *store.Message
				err    error
			)
			s.hub.Dispatch(roomID, func() {
				stored, err = s.store.CreateMessage(ctx, roomID, username, req.Content)
				if err != nil {
					return
				}
				var frame []byte
				frame, err = marshalEvent(TypeNewMessage, NewMessageEvent{Message: *stored})
				if err != nil {
					return
				}
				// sender included, no echo suppression
				s.hub.Broadcast(roomID, frame)
				observability.IncMessageBroadcast()
				if s.fanout != nil {
					s.fanout.PublishRoom(ctx, roomID, frame)
				}
			})
			return err
		},
	)

	// 🔹 create_room ----------------------------------------------------------
	Register(
		s.router,
		TypeCreateRoom,
		func(ctx context.Context, cc *ConnContext, req CreateRoomRequest) error {
			room, err := s.store.CreateRoom(ctx, req.Name)
			if err != nil {
				return err
			}

			frame, err := marshalEvent(TypeNewRoom, NewRoomEvent{Room: *room})
			if err != nil {
				return err
			}
			// room lists are global: everyone hears about the new room
			s.hub.BroadcastAll(frame)
			if s.fanout != nil {
				s.fanout.PublishGlobal(ctx, frame)
			}
			return nil
		},
	)
}

func (s *WsServer) pushRoomsList(ctx context.Context, conn *clientConn) error {
	ctx, cancel := context.WithTimeout(ctx, 4*time.Second)
	defer cancel()

	rooms, err := s.store.Rooms(ctx)
	if err != nil {
		return err
	}
	return conn.writeEvent(TypeRoomsList, RoomsListEvent{Rooms: rooms})
}

func (s *WsServer) reader(conn *clientConn) {
	defer s.hub.Leave(conn)

	cc := &ConnContext{Conn: conn}

	for {
		_, data, err := conn.rawConn.ReadMessage()
		if err != nil {
			return // client closed or errored
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			_ = conn.writeEvent(TypeError, ErrorEvent{Message: "malformed payload"})
			continue
		}
		observability.IncWSEvent(env.Type)

		ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
		err = s.router.dispatch(ctx, cc, env)
		cancel()

		// ---- error -> {"type":"error","payload":{...}}, sender only -------
		if err != nil {
			_ = conn.writeEvent(TypeError, ErrorEvent{Message: errorMessage(err)})
		}
	}
}

func (s *WsServer) pinger(conn *clientConn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for range ticker.C {
		if conn.closed.Load() {
			return
		}
		conn.mu.Lock()
		_ = conn.rawConn.SetWriteDeadline(time.Now().Add(writeWait))
		err := conn.rawConn.WriteMessage(websocket.PingMessage, nil)
		conn.mu.Unlock()
		if err != nil {
			conn.close()
			return
		}
	}
}

func errorMessage(err error) string {
	var verr validator.ValidationErrors
	switch {
	case errors.As(err, &verr):
		if len(verr) > 0 {
			return "invalid field: " + strings.ToLower(verr[0].Field())
		}
		return "invalid payload"
	default:
		return err.Error()
	}
}
