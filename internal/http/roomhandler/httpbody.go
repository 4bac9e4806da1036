package roomhandler

type CreateRoomBody struct {
	Name string `json:"name" binding:"required" example:"general"`
} // @name CreateRoomRequest

type ErrorResponse struct {
	Error string `json:"error"`
} // @name ErrorResponse

type MessagesQuery struct {
	Limit int `form:"limit,default=50" binding:"gte=0,lte=500"`
} // @name MessagesQuery
