package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/DATN-PetShop/ServerPetShop/models"
	"github.com/DATN-PetShop/ServerPetShop/redis"
	"github.com/DATN-PetShop/ServerPetShop/services"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	sendBufferSize = 256
	// staff 认证成功后推送的待分配队列长度
	pendingRoomsLimit = 10
)

// Client 一条 WebSocket 连接。认证前只有 ID 和 conn 有意义。
// userID/role/currentRoom 只被 readPump 这一个 goroutine 写。
type Client struct {
	ID       string
	conn     *websocket.Conn
	send     chan Envelope
	ctx      context.Context
	cancel   context.CancelFunc

	authenticated bool
	userID        uint
	role          models.Role
	username      string
	currentRoom   uint // 0 表示没订阅任何房间
}

// ChatGateway 实时网关。管理连接、认证、房间订阅和事件广播，
// 持久化全部交给 ChatService，自己不碰数据库。
type ChatGateway struct {
	authService *services.AuthService
	chatService *services.ChatService
	session     *GatewaySession
	redis       *redis.RedisClient // 可以为 nil，在线列表功能降级
}

func NewChatGateway(authService *services.AuthService, chatService *services.ChatService, redisClient *redis.RedisClient) *ChatGateway {
	return &ChatGateway{
		authService: authService,
		chatService: chatService,
		session:     NewGatewaySession(),
		redis:       redisClient,
	}
}

func (g *ChatGateway) Session() *GatewaySession {
	return g.session
}

// HandleWebSocket 升级连接。认证走 in-band 的 authenticate 事件，
// 所以这个路由不挂 auth middleware。
func (g *ChatGateway) HandleWebSocket(c echo.Context) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := &Client{
		ID:     uuid.New().String(),
		conn:   ws,
		send:   make(chan Envelope, sendBufferSize),
		ctx:    ctx,
		cancel: cancel,
	}

	go g.writePump(client)
	g.readPump(client)

	return nil
}

// inboundEvent 客户端上行事件，payload 按事件类型再解
type inboundEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func (g *ChatGateway) readPump(client *Client) {
	defer func() {
		client.cancel()
		client.conn.Close()
		g.handleDisconnect(client)
	}()

	client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var ev inboundEvent
		if err := client.conn.ReadJSON(&ev); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			return
		}
		g.dispatch(client, ev)
	}
}

func (g *ChatGateway) writePump(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case <-client.ctx.Done():
			return

		case env, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteJSON(env); err != nil {
				log.Printf("WriteJSON error: %v", err)
				return
			}

		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// dispatch 事件分发。每个事件的失败只回给这条连接，绝不广播出去。
func (g *ChatGateway) dispatch(client *Client, ev inboundEvent) {
	switch ev.Type {
	case "authenticate":
		g.handleAuthenticate(client, ev.Payload)
	case "join_room":
		g.handleJoinRoom(client, ev.Payload)
	case "send_message":
		g.handleSendMessage(client, ev.Payload)
	case "typing_start":
		g.handleTyping(client, ev.Payload, true)
	case "typing_stop":
		g.handleTyping(client, ev.Payload, false)
	case "leave_room":
		g.handleLeaveRoom(client, ev.Payload)
	default:
		client.enqueue(Envelope{Type: "error", Payload: map[string]string{"message": "unknown event type"}})
	}
}

func (g *ChatGateway) emitError(client *Client, message string) {
	client.enqueue(Envelope{Type: "error", Payload: map[string]string{"message": message}})
}

type authenticatePayload struct {
	Token string `json:"token"`
}

func (g *ChatGateway) handleAuthenticate(client *Client, raw json.RawMessage) {
	var payload authenticatePayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.Token == "" {
		client.enqueue(Envelope{Type: "auth_error", Payload: map[string]string{"message": "Token is required"}})
		return
	}

	claims, err := g.authService.ValidateToken(payload.Token)
	if err != nil {
		client.enqueue(Envelope{Type: "auth_error", Payload: map[string]string{"message": "Invalid token"}})
		return
	}

	user, err := g.authService.LoadUser(claims.UserID)
	if err != nil {
		client.enqueue(Envelope{Type: "auth_error", Payload: map[string]string{"message": "User not found"}})
		return
	}

	client.authenticated = true
	client.userID = user.ID
	client.role = user.Role
	client.username = user.Username

	g.session.Register(client)

	// staff/admin 进 staff 广播组，并立刻推一把待分配队列
	if user.Role.IsStaff() {
		g.session.JoinStaff(client)
		g.pushPendingRooms(client)
	}

	client.enqueue(Envelope{Type: "authenticated", Payload: map[string]interface{}{
		"success": true,
		"user": clientInfo{
			UserID:   user.ID,
			Username: user.Username,
			Role:     user.Role,
		},
	}})
}

type roomPayload struct {
	RoomID uint `json:"room_id"`
}

func (g *ChatGateway) handleJoinRoom(client *Client, raw json.RawMessage) {
	if !client.authenticated {
		g.emitError(client, "Not authenticated")
		return
	}

	var payload roomPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.RoomID == 0 {
		g.emitError(client, "room_id is required")
		return
	}

	room, err := g.chatService.GetRoom(client.ctx, payload.RoomID)
	if err != nil {
		g.emitError(client, "Room not found")
		return
	}
	if !room.HasAccess(client.userID, client.role) {
		g.emitError(client, "Access denied to this room")
		return
	}

	// 一条连接最多订阅一个房间，切换前先退出旧的
	if client.currentRoom != 0 && client.currentRoom != payload.RoomID {
		g.leaveCurrentRoom(client, false)
	}

	g.session.JoinRoom(client, payload.RoomID)
	client.currentRoom = payload.RoomID

	if g.redis != nil {
		if err := g.redis.AddOnlineUser(client.ctx, payload.RoomID, redis.OnlineUser{
			UserID:   client.userID,
			Username: client.username,
			Role:     client.role,
		}); err != nil {
			log.Printf("Failed to add online user to redis: %v", err)
		}
	}

	g.session.SendToRoom(payload.RoomID, Envelope{Type: "user_joined", Payload: map[string]interface{}{
		"user_id":  client.userID,
		"username": client.username,
		"role":     client.role,
	}}, client.ID)

	client.enqueue(Envelope{Type: "room_joined", Payload: map[string]interface{}{
		"room_id": payload.RoomID,
		"message": "Successfully joined room",
	}})
}

type sendMessagePayload struct {
	RoomID      uint   `json:"room_id"`
	Content     string `json:"content"`
	MessageType string `json:"message_type"`
}

func (g *ChatGateway) handleSendMessage(client *Client, raw json.RawMessage) {
	if !client.authenticated {
		g.emitError(client, "Not authenticated")
		return
	}

	var payload sendMessagePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		g.emitError(client, "invalid payload")
		return
	}

	room, err := g.chatService.GetRoom(client.ctx, payload.RoomID)
	if err != nil {
		g.emitError(client, "Room not found")
		return
	}
	if !room.HasAccess(client.userID, client.role) {
		g.emitError(client, "Access denied to this room")
		return
	}

	msg, err := g.chatService.SendMessage(client.ctx, payload.RoomID, client.userID, payload.Content, payload.MessageType)
	if err != nil {
		// 持久层短暂不可用时把错误还给调用方，由客户端重试，不能静默丢消息
		g.emitError(client, err.Error())
		return
	}

	// 直连广播。change feed 那条路随后还会再播一次，客户端按 id 去重。
	g.BroadcastNewMessage(client.ctx, msg)

	client.enqueue(Envelope{Type: "message_sent", Payload: map[string]interface{}{
		"message_id": msg.ID,
		"timestamp":  msg.CreatedAt,
	}})
}

func (g *ChatGateway) handleTyping(client *Client, raw json.RawMessage, isTyping bool) {
	if !client.authenticated {
		return
	}
	var payload roomPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.RoomID == 0 {
		return
	}

	// 打字状态不落库，只转给房间里的其他人
	g.session.SendToRoom(payload.RoomID, Envelope{Type: "user_typing", Payload: map[string]interface{}{
		"user_id":   client.userID,
		"username":  client.username,
		"is_typing": isTyping,
	}}, client.ID)
}

func (g *ChatGateway) handleLeaveRoom(client *Client, raw json.RawMessage) {
	if !client.authenticated {
		return
	}
	var payload roomPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.RoomID == 0 {
		return
	}
	if client.currentRoom != payload.RoomID {
		return
	}
	g.leaveCurrentRoom(client, true)
}

// leaveCurrentRoom 退房间 + 清 presence，notify 控制是否发 user_left
func (g *ChatGateway) leaveCurrentRoom(client *Client, notify bool) {
	roomID := client.currentRoom
	if roomID == 0 {
		return
	}

	g.session.LeaveRoom(client, roomID)
	client.currentRoom = 0

	if g.redis != nil {
		if err := g.redis.RemoveOnlineUser(client.ctx, roomID, client.userID); err != nil {
			log.Printf("Failed to remove online user from redis: %v", err)
		}
	}

	if notify {
		g.session.SendToRoom(roomID, Envelope{Type: "user_left", Payload: map[string]interface{}{
			"user_id":  client.userID,
			"username": client.username,
		}}, client.ID)
	}
}

func (g *ChatGateway) handleDisconnect(client *Client) {
	if !client.authenticated {
		return
	}

	roomID := client.currentRoom
	g.session.Unregister(client)

	if roomID != 0 {
		if g.redis != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if err := g.redis.RemoveOnlineUser(ctx, roomID, client.userID); err != nil {
				log.Printf("Failed to remove online user from redis: %v", err)
			}
		}
		g.session.SendToRoom(roomID, Envelope{Type: "user_disconnected", Payload: map[string]interface{}{
			"user_id":  client.userID,
			"username": client.username,
		}}, client.ID)
	}
}

func (g *ChatGateway) pushPendingRooms(client *Client) {
	rooms, err := g.chatService.PendingRooms(client.ctx, pendingRoomsLimit)
	if err != nil {
		log.Printf("Error fetching pending rooms: %v", err)
		return
	}
	client.enqueue(Envelope{Type: "pending_rooms", Payload: map[string]interface{}{
		"rooms": rooms,
		"count": len(rooms),
	}})
}

// MessagePayload new_message 事件的投影，不对外暴露原始行
type MessagePayload struct {
	ID          uint                `json:"id"`
	RoomID      uint                `json:"room_id"`
	Content     string              `json:"content"`
	MessageType string              `json:"message_type"`
	Sender      models.UserSummary  `json:"sender"`
	Timestamp   time.Time           `json:"timestamp"`
	IsRead      bool                `json:"is_read"`
}

// BroadcastNewMessage 把一条已落库的消息广播给房间订阅者。
// REST 发消息、socket 发消息、change feed bridge 三条路都走这里。
// 发送者是客户且房间没人认领时，额外通知 staff 组招人。
func (g *ChatGateway) BroadcastNewMessage(ctx context.Context, msg *models.ChatMessage) {
	sender, err := g.chatService.SenderSummary(ctx, msg.SenderID)
	if err != nil {
		log.Printf("Error resolving sender for message %d: %v", msg.ID, err)
		return
	}

	payload := MessagePayload{
		ID:          msg.ID,
		RoomID:      msg.RoomID,
		Content:     msg.Content,
		MessageType: msg.MessageType,
		Sender:      *sender,
		Timestamp:   msg.CreatedAt,
		IsRead:      msg.IsRead,
	}

	g.session.SendToRoom(msg.RoomID, Envelope{Type: "new_message", Payload: payload}, "")

	if sender.Role == models.RoleCustomer {
		g.notifyStaffOfNewMessage(ctx, msg, sender)
	}
}

func (g *ChatGateway) notifyStaffOfNewMessage(ctx context.Context, msg *models.ChatMessage, sender *models.UserSummary) {
	room, err := g.chatService.GetRoom(ctx, msg.RoomID)
	if err != nil {
		log.Printf("Error loading room %d for staff notify: %v", msg.RoomID, err)
		return
	}
	if room.AssignedStaffID != nil {
		return
	}

	g.session.SendToStaff(Envelope{Type: "new_customer_message", Payload: map[string]interface{}{
		"room_id":   room.ID,
		"customer":  sender.Username,
		"message":   truncate(msg.Content, 100),
		"timestamp": msg.CreatedAt,
	}})
}

// truncate 按 rune 截断，不能把多字节字符切到一半
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
