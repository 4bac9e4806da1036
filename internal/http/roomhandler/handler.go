package roomhandler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"chatrelay/internal/store"
)

type Handler struct {
	store store.Store
}

func New(st store.Store) *Handler { return &Handler{store: st} }

func (h *Handler) Register(r gin.IRoutes) {
	r.GET("/rooms", h.list)
	r.POST("/rooms", h.create)
	r.GET("/rooms/:id/messages", h.roomMessages)
	r.GET("/messages/recent", h.recentMessages)
}

// @Summary		List rooms
// @Description	Returns all rooms, ascending by creation time.
// @Tags			Rooms
// @Success		200	{array}		store.Room
// @Failure		500	{object}	ErrorResponse
// @Router			/rooms [get]
func (h *Handler) list(c *gin.Context) {
	rooms, err := h.store.Rooms(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	if rooms == nil {
		rooms = []store.Room{}
	}
	c.JSON(http.StatusOK, rooms)
}

// @Summary		Create a room
// @Description	Creates a named room; names are case-sensitive-unique.
// @Tags			Rooms
// @Param			body	body		CreateRoomBody	true	"Room name"
// @Success		201		{object}	store.Room
// @Failure		400		{object}	ErrorResponse
// @Failure		409		{object}	ErrorResponse
// @Router			/rooms [post]
func (h *Handler) create(ginCtx *gin.Context) {
	var body CreateRoomBody
	if err := ginCtx.ShouldBindJSON(&body); err != nil {
		ginCtx.JSON(http.StatusBadRequest, &ErrorResponse{Error: err.Error()})
		return
	}

	room, err := h.store.CreateRoom(ginCtx.Request.Context(), body.Name)
	if errors.Is(err, store.ErrDuplicateRoom) {
		ginCtx.JSON(http.StatusConflict, &ErrorResponse{Error: err.Error()})
		return
	}
	if err != nil {
		ginCtx.JSON(http.StatusInternalServerError, &ErrorResponse{Error: err.Error()})
		return
	}
	ginCtx.JSON(http.StatusCreated, room)
}

// @Summary		Room message history
// @Description	Returns the most recent messages of one room, oldest first.
// @Tags			Messages
// @Param			id		path	string	true	"Room ID"
// @Param			limit	query	int		false	"Max results (0-500)"	minimum(0)	maximum(500)	default(50)
// @Success		200	{array}		store.Message
// @Failure		400	{object}	ErrorResponse
// @Failure		500	{object}	ErrorResponse
// @Router			/rooms/{id}/messages [get]
func (h *Handler) roomMessages(c *gin.Context) {
	var q MessagesQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	msgs, err := h.store.RoomMessages(c.Request.Context(), c.Param("id"), q.Limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	if msgs == nil {
		msgs = []store.Message{}
	}
	c.JSON(http.StatusOK, msgs)
}

// @Summary		Recent messages
// @Description	Returns the most recent messages across all rooms, oldest first.
// @Tags			Messages
// @Param			limit	query	int	false	"Max results (0-500)"	minimum(0)	maximum(500)	default(50)
// @Success		200	{array}		store.Message
// @Failure		400	{object}	ErrorResponse
// @Failure		500	{object}	ErrorResponse
// @Router			/messages/recent [get]
func (h *Handler) recentMessages(c *gin.Context) {
	var q MessagesQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	msgs, err := h.store.RecentMessages(c.Request.Context(), q.Limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	if msgs == nil {
		msgs = []store.Message{}
	}
	c.JSON(http.StatusOK, msgs)
}
