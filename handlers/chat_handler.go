package handlers

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/DATN-PetShop/ServerPetShop/models"
	"github.com/DATN-PetShop/ServerPetShop/redis"
	"github.com/DATN-PetShop/ServerPetShop/services"
)

type ChatHandler struct {
	chatService *services.ChatService
	gateway     *ChatGateway
	redis       *redis.RedisClient
}

func NewChatHandler(chatService *services.ChatService, gateway *ChatGateway, redisClient *redis.RedisClient) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
		gateway:     gateway,
		redis:       redisClient,
	}
}

func paramUint(c echo.Context, name string) (uint, bool) {
	v, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil {
		return 0, false
	}
	return uint(v), true
}

func queryInt(c echo.Context, name string, def int) int {
	v, err := strconv.Atoi(c.QueryParam(name))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

type createRoomRequest struct {
	Subject  string `json:"subject"`
	Priority string `json:"priority"`
}

// CreateRoom POST /rooms — 客户发起会话，已有未关闭的房间时幂等返回
func (h *ChatHandler) CreateRoom(c echo.Context) error {
	user := c.Get("user").(*models.User)

	var req createRoomRequest
	if err := c.Bind(&req); err != nil {
		return respond(c, http.StatusBadRequest, "invalid request", nil)
	}

	room, created, err := h.chatService.CreateOrGetActiveRoom(
		c.Request().Context(), user.ID, user.Role, req.Subject, req.Priority)
	if err != nil {
		return respondError(c, err)
	}

	if created {
		return respond(c, http.StatusCreated, "Chat room created successfully", room)
	}
	return respond(c, http.StatusOK, "Active chat room found", room)
}

// ListRooms GET /rooms/my — 角色过滤的房间列表
func (h *ChatHandler) ListRooms(c echo.Context) error {
	user := c.Get("user").(*models.User)
	page := queryInt(c, "page", 1)
	limit := queryInt(c, "limit", 10)
	status := c.QueryParam("status")

	rooms, pagination, err := h.chatService.ListRooms(
		c.Request().Context(), user.ID, user.Role, status, page, limit)
	if err != nil {
		return respondError(c, err)
	}

	return respond(c, http.StatusOK, "Chat rooms retrieved successfully", map[string]interface{}{
		"rooms":      rooms,
		"pagination": pagination,
	})
}

// GetHistory GET /messages/:roomId — 历史消息 + 未读数
func (h *ChatHandler) GetHistory(c echo.Context) error {
	user := c.Get("user").(*models.User)
	roomID, ok := paramUint(c, "roomId")
	if !ok {
		return respond(c, http.StatusBadRequest, "invalid room ID", nil)
	}
	page := queryInt(c, "page", 1)
	limit := queryInt(c, "limit", 50)

	history, err := h.chatService.GetHistory(
		c.Request().Context(), roomID, user.ID, user.Role, page, limit)
	if err != nil {
		return respondError(c, err)
	}
	return respond(c, http.StatusOK, "Chat history retrieved successfully", history)
}

// MarkRead PATCH /messages/:messageId/read — 幂等已读回执
func (h *ChatHandler) MarkRead(c echo.Context) error {
	user := c.Get("user").(*models.User)
	messageID, ok := paramUint(c, "messageId")
	if !ok {
		return respond(c, http.StatusBadRequest, "invalid message ID", nil)
	}

	if err := h.chatService.MarkRead(c.Request().Context(), messageID, user.ID, user.Role); err != nil {
		return respondError(c, err)
	}
	return respond(c, http.StatusOK, "Message marked as read", nil)
}

// UnreadCount GET /unread-count — 跨房间未读聚合
func (h *ChatHandler) UnreadCount(c echo.Context) error {
	user := c.Get("user").(*models.User)

	total, rooms, err := h.chatService.UnreadSummary(c.Request().Context(), user.ID, user.Role)
	if err != nil {
		return respondError(c, err)
	}
	return respond(c, http.StatusOK, "Unread count retrieved successfully", map[string]interface{}{
		"total_unread":      total,
		"rooms_with_unread": rooms,
	})
}

// AssignRoom PATCH /rooms/:roomId/assign — 客服认领房间
func (h *ChatHandler) AssignRoom(c echo.Context) error {
	user := c.Get("user").(*models.User)
	roomID, ok := paramUint(c, "roomId")
	if !ok {
		return respond(c, http.StatusBadRequest, "invalid room ID", nil)
	}

	room, err := h.chatService.AssignRoom(c.Request().Context(), roomID, user.ID, user.Role)
	if err != nil {
		return respondError(c, err)
	}
	return respond(c, http.StatusOK, "Room assigned successfully", room)
}

type closeRoomRequest struct {
	Reason string `json:"reason"`
}

// CloseRoom PATCH /rooms/:roomId/close
func (h *ChatHandler) CloseRoom(c echo.Context) error {
	user := c.Get("user").(*models.User)
	roomID, ok := paramUint(c, "roomId")
	if !ok {
		return respond(c, http.StatusBadRequest, "invalid room ID", nil)
	}

	var req closeRoomRequest
	if err := c.Bind(&req); err != nil {
		return respond(c, http.StatusBadRequest, "invalid request", nil)
	}

	room, err := h.chatService.CloseRoom(c.Request().Context(), roomID, user.ID, user.Role, req.Reason)
	if err != nil {
		return respondError(c, err)
	}
	return respond(c, http.StatusOK, "Room closed successfully", room)
}

type sendMessageRequest struct {
	RoomID      uint   `json:"room_id"`
	Content     string `json:"content"`
	MessageType string `json:"message_type"`
}

// SendMessage POST /messages — REST 发消息。落库后走和 socket 一样的广播路径，
// change feed 那条路也会再播一次，客户端按消息 id 去重。
func (h *ChatHandler) SendMessage(c echo.Context) error {
	user := c.Get("user").(*models.User)

	var req sendMessageRequest
	if err := c.Bind(&req); err != nil {
		return respond(c, http.StatusBadRequest, "invalid request", nil)
	}
	if req.RoomID == 0 {
		return respond(c, http.StatusBadRequest, "room_id is required", nil)
	}

	room, err := h.chatService.GetRoom(c.Request().Context(), req.RoomID)
	if err != nil {
		return respondError(c, err)
	}
	if !room.HasAccess(user.ID, user.Role) {
		return respond(c, http.StatusForbidden, "Access denied to this chat room", nil)
	}

	msg, err := h.chatService.SendMessage(
		c.Request().Context(), req.RoomID, user.ID, req.Content, req.MessageType)
	if err != nil {
		return respondError(c, err)
	}

	if h.gateway != nil {
		h.gateway.BroadcastNewMessage(c.Request().Context(), msg)
	}

	return respond(c, http.StatusCreated, "Message sent successfully", msg)
}

// GetOnlineUsers GET /rooms/:roomId/online-users — Redis 在线列表
func (h *ChatHandler) GetOnlineUsers(c echo.Context) error {
	user := c.Get("user").(*models.User)
	roomID, ok := paramUint(c, "roomId")
	if !ok {
		return respond(c, http.StatusBadRequest, "invalid room ID", nil)
	}

	room, err := h.chatService.GetRoom(c.Request().Context(), roomID)
	if err != nil {
		return respondError(c, err)
	}
	if !room.HasAccess(user.ID, user.Role) {
		return respond(c, http.StatusForbidden, "Access denied to this chat room", nil)
	}

	if h.redis == nil {
		return respond(c, http.StatusOK, "Online users retrieved successfully", map[string]interface{}{
			"room_id": roomID,
			"count":   0,
			"users":   []redis.OnlineUser{},
		})
	}

	users, err := h.redis.GetOnlineUsers(c.Request().Context(), roomID)
	if err != nil {
		return respond(c, http.StatusInternalServerError, "failed to fetch online users", nil)
	}
	return respond(c, http.StatusOK, "Online users retrieved successfully", map[string]interface{}{
		"room_id": roomID,
		"count":   len(users),
		"users":   users,
	})
}
