package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/DATN-PetShop/ServerPetShop/models"
	"github.com/DATN-PetShop/ServerPetShop/repository"
)

var (
	ErrRoomNotFound       = errors.New("chat room not found")
	ErrMessageNotFound    = errors.New("message not found")
	ErrAccessDenied       = errors.New("access denied")
	ErrCustomerOnly       = errors.New("only customers can create chat rooms")
	ErrStaffOnly          = errors.New("staff or admin role required")
	ErrEmptyContent       = errors.New("message content is required")
	ErrInvalidMessageType = errors.New("invalid message type")
	ErrInvalidPriority    = errors.New("invalid priority")
	ErrAlreadyAssigned    = errors.New("room is already assigned to another staff member")
	ErrRoomClosed         = errors.New("room is closed")
)

// Pagination 列表接口统一的分页信息
type Pagination struct {
	CurrentPage int   `json:"currentPage"`
	TotalPages  int   `json:"totalPages"`
	TotalCount  int64 `json:"totalCount"`
	HasNextPage bool  `json:"hasNextPage"`
	HasPrevPage bool  `json:"hasPrevPage"`
	Limit       int   `json:"limit"`
}

func newPagination(page, limit int, total int64) Pagination {
	if limit <= 0 {
		limit = 10
	}
	if page <= 0 {
		page = 1
	}
	totalPages := int(math.Ceil(float64(total) / float64(limit)))
	return Pagination{
		CurrentPage: page,
		TotalPages:  totalPages,
		TotalCount:  total,
		HasNextPage: page < totalPages,
		HasPrevPage: page > 1,
		Limit:       limit,
	}
}

// RoomView 房间 + populate 出来的用户信息和最后一条消息
type RoomView struct {
	models.ChatRoom
	Customer      *models.UserSummary `json:"customer,omitempty"`
	AssignedStaff *models.UserSummary `json:"assigned_staff,omitempty"`
	LastMessage   *models.ChatMessage `json:"last_message,omitempty"`
}

type HistoryPage struct {
	Room        RoomView             `json:"room"`
	Messages    []models.ChatMessage `json:"messages"`
	UnreadCount int64                `json:"unread_count"`
	Pagination  Pagination           `json:"pagination"`
}

type RoomUnread struct {
	RoomID      uint  `json:"room_id"`
	UnreadCount int64 `json:"unread_count"`
}

// ChatService 聊天室和消息的唯一写入口。
// 持久化状态的所有不变量（状态机、去重、已读幂等）都在这一层和仓储层保证。
type ChatService struct {
	rooms    repository.RoomRepository
	messages repository.MessageRepository
	users    repository.UserRepository
}

func NewChatService(rooms repository.RoomRepository, messages repository.MessageRepository, users repository.UserRepository) *ChatService {
	return &ChatService{rooms: rooms, messages: messages, users: users}
}

// CreateOrGetActiveRoom 客户发起会话。已有 waiting/active 房间时直接返回（幂等去重），
// 否则以 waiting 状态新建。返回值第二项表示是否新建。
func (s *ChatService) CreateOrGetActiveRoom(ctx context.Context, customerID uint, role models.Role, subject, priority string) (*models.ChatRoom, bool, error) {
	if role != models.RoleCustomer {
		return nil, false, ErrCustomerOnly
	}

	existing, err := s.rooms.FindActiveByCustomer(ctx, customerID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, false, err
	}

	if priority == "" {
		priority = models.PriorityMedium
	}
	if !models.ValidPriority(priority) {
		return nil, false, ErrInvalidPriority
	}

	room := &models.ChatRoom{
		CustomerID: customerID,
		Subject:    subject,
		Priority:   priority,
		Status:     models.RoomStatusWaiting,
	}
	if err := s.rooms.Create(ctx, room); err != nil {
		return nil, false, err
	}
	return room, true, nil
}

// ListRooms 按角色过滤的房间列表。
// customer 只看自己的；staff 看分配给自己的 + waiting 队列；
// admin 传 status=all 时不加过滤。status=pending 的队列按 created_at ASC 排，先来先服务。
func (s *ChatService) ListRooms(ctx context.Context, userID uint, role models.Role, status string, page, limit int) ([]RoomView, Pagination, error) {
	// 分页参数只在这里归一化一次，查询和响应里的 pagination 必须一致
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	if page <= 0 {
		page = 1
	}
	filter := repository.RoomFilter{Page: page, Limit: limit}

	switch {
	case role == models.RoleCustomer:
		filter.CustomerID = userID
		if status != "" && status != "pending" && status != "assigned" {
			filter.Status = status
		}
	case role.IsStaff():
		switch status {
		case "pending":
			filter.Status = models.RoomStatusWaiting
			filter.OldestFirst = true
		case "assigned":
			filter.AssignedStaffID = userID
		case "all":
			if role != models.RoleAdmin {
				filter.StaffVisible = true
				filter.StaffID = userID
			}
		case "":
			filter.StaffVisible = true
			filter.StaffID = userID
		default:
			filter.StaffVisible = true
			filter.StaffID = userID
			filter.Status = status
		}
	default:
		return nil, Pagination{}, ErrAccessDenied
	}

	rooms, total, err := s.rooms.List(ctx, filter)
	if err != nil {
		return nil, Pagination{}, err
	}

	views, err := s.buildRoomViews(ctx, rooms, true)
	if err != nil {
		return nil, Pagination{}, err
	}
	return views, newPagination(page, limit, total), nil
}

// GetHistory 房间历史。存储按最新在前取，返回前反转成时间正序。
func (s *ChatService) GetHistory(ctx context.Context, roomID, userID uint, role models.Role, page, limit int) (*HistoryPage, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if page <= 0 {
		page = 1
	}

	room, err := s.findRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.HasAccess(userID, role) {
		return nil, ErrAccessDenied
	}

	msgs, total, err := s.messages.ListByRoomDesc(ctx, roomID, page, limit)
	if err != nil {
		return nil, err
	}
	// 反转：从旧到新显示
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}

	unread, err := s.messages.CountUnread(ctx, roomID, userID)
	if err != nil {
		return nil, err
	}

	views, err := s.buildRoomViews(ctx, []models.ChatRoom{*room}, false)
	if err != nil {
		return nil, err
	}

	return &HistoryPage{
		Room:        views[0],
		Messages:    msgs,
		UnreadCount: unread,
		Pagination:  newPagination(page, limit, total),
	}, nil
}

// AssignRoom 客服认领 waiting 房间。已被其他客服认领返回 ErrAlreadyAssigned；
// 同一客服重复认领自己的 active 房间是 no-op（不重复发 system 消息）。
func (s *ChatService) AssignRoom(ctx context.Context, roomID, staffID uint, role models.Role) (*models.ChatRoom, error) {
	if !role.IsStaff() {
		return nil, ErrStaffOnly
	}

	room, err := s.findRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}

	ok, err := s.rooms.Assign(ctx, roomID, staffID)
	if err != nil {
		return nil, err
	}
	if !ok {
		// 条件更新没抢到：看一眼现在的状态再给出准确的错误
		room, err = s.findRoom(ctx, roomID)
		if err != nil {
			return nil, err
		}
		if room.IsClosed() {
			return nil, ErrRoomClosed
		}
		if room.AssignedStaffID != nil && *room.AssignedStaffID == staffID {
			return room, nil
		}
		return nil, ErrAlreadyAssigned
	}

	staffName := s.username(ctx, staffID)
	if _, err := s.appendSystemMessage(ctx, roomID, staffID, fmt.Sprintf("%s has joined the chat", staffName)); err != nil {
		return nil, err
	}

	return s.findRoom(ctx, roomID)
}

// CloseRoom 关闭房间。admin、被分配的客服、房主客户三者可关。
// 关已经关闭的房间返回 ErrRoomClosed，不允许重复 system 消息。
func (s *ChatService) CloseRoom(ctx context.Context, roomID, userID uint, role models.Role, reason string) (*models.ChatRoom, error) {
	room, err := s.findRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}

	canClose := role == models.RoleAdmin ||
		(role == models.RoleStaff && room.AssignedStaffID != nil && *room.AssignedStaffID == userID) ||
		(role == models.RoleCustomer && room.CustomerID == userID)
	if !canClose {
		return nil, ErrAccessDenied
	}

	if room.IsClosed() {
		return nil, ErrRoomClosed
	}

	if err := s.rooms.Close(ctx, roomID); err != nil {
		return nil, err
	}

	content := "Room has been closed"
	if reason != "" {
		content = "Room closed: " + reason
	}
	if _, err := s.appendSystemMessage(ctx, roomID, userID, content); err != nil {
		return nil, err
	}

	return s.findRoom(ctx, roomID)
}

// SendMessage 校验内容和房间存在性后落库，并刷新房间的 last_message_at。
// 不做访问控制 —— 调用方（REST handler、gateway）必须先过 HasAccess。
func (s *ChatService) SendMessage(ctx context.Context, roomID, senderID uint, content, messageType string) (*models.ChatMessage, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyContent
	}
	if messageType == "" {
		messageType = models.MessageTypeText
	}
	if !models.ValidMessageType(messageType) {
		return nil, ErrInvalidMessageType
	}
	if _, err := s.findRoom(ctx, roomID); err != nil {
		return nil, err
	}

	msg := &models.ChatMessage{
		RoomID:      roomID,
		SenderID:    senderID,
		Content:     content,
		MessageType: messageType,
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, err
	}
	if err := s.rooms.TouchLastMessage(ctx, roomID, msg.CreatedAt); err != nil {
		return nil, err
	}
	return msg, nil
}

// MarkRead 幂等的已读回执。重复调用不产生第二条回执。
func (s *ChatService) MarkRead(ctx context.Context, messageID, userID uint, role models.Role) error {
	msg, err := s.messages.FindByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrMessageNotFound
		}
		return err
	}

	room, err := s.findRoom(ctx, msg.RoomID)
	if err != nil {
		return err
	}
	if !room.HasAccess(userID, role) {
		return ErrAccessDenied
	}

	return s.messages.MarkRead(ctx, messageID, userID)
}

func (s *ChatService) CountUnread(ctx context.Context, roomID, userID uint) (int64, error) {
	return s.messages.CountUnread(ctx, roomID, userID)
}

// UnreadSummary 聚合未读数。customer 统计自己 waiting/active 的房间，
// staff 统计分配给自己的 active 房间。
func (s *ChatService) UnreadSummary(ctx context.Context, userID uint, role models.Role) (int64, []RoomUnread, error) {
	var filter repository.RoomFilter
	switch {
	case role == models.RoleCustomer:
		filter = repository.RoomFilter{CustomerID: userID, Limit: 100}
	case role.IsStaff():
		filter = repository.RoomFilter{AssignedStaffID: userID, Status: models.RoomStatusActive, Limit: 100}
	default:
		return 0, nil, ErrAccessDenied
	}

	rooms, _, err := s.rooms.List(ctx, filter)
	if err != nil {
		return 0, nil, err
	}

	var total int64
	result := make([]RoomUnread, 0, len(rooms))
	for _, room := range rooms {
		if role == models.RoleCustomer && room.IsClosed() {
			continue
		}
		count, err := s.messages.CountUnread(ctx, room.ID, userID)
		if err != nil {
			return 0, nil, err
		}
		if count > 0 {
			result = append(result, RoomUnread{RoomID: room.ID, UnreadCount: count})
			total += count
		}
	}
	return total, result, nil
}

// PendingRooms 待分配队列，最旧的在前，staff 认证成功后推送用
func (s *ChatService) PendingRooms(ctx context.Context, limit int) ([]RoomView, error) {
	rooms, err := s.rooms.ListWaiting(ctx, limit)
	if err != nil {
		return nil, err
	}
	return s.buildRoomViews(ctx, rooms, false)
}

// GetRoom 带访问控制的单房间查询（gateway join_room 用）
func (s *ChatService) GetRoom(ctx context.Context, roomID uint) (*models.ChatRoom, error) {
	return s.findRoom(ctx, roomID)
}

// SenderSummary 消息广播前 resolve 发送者的公开信息
func (s *ChatService) SenderSummary(ctx context.Context, userID uint) (*models.UserSummary, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	summary := user.Summary()
	summary.Email = "" // 广播里不带邮箱
	return &summary, nil
}

func (s *ChatService) findRoom(ctx context.Context, roomID uint) (*models.ChatRoom, error) {
	room, err := s.rooms.FindByID(ctx, roomID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	return room, nil
}

func (s *ChatService) appendSystemMessage(ctx context.Context, roomID, actorID uint, content string) (*models.ChatMessage, error) {
	msg := &models.ChatMessage{
		RoomID:      roomID,
		SenderID:    actorID,
		Content:     content,
		MessageType: models.MessageTypeSystem,
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, err
	}
	if err := s.rooms.TouchLastMessage(ctx, roomID, msg.CreatedAt); err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *ChatService) username(ctx context.Context, userID uint) string {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return "Staff"
	}
	return user.Username
}

// buildRoomViews populate 客户/客服信息，withLast 时再挂上最后一条消息
func (s *ChatService) buildRoomViews(ctx context.Context, rooms []models.ChatRoom, withLast bool) ([]RoomView, error) {
	ids := make([]uint, 0, len(rooms)*2)
	for _, r := range rooms {
		ids = append(ids, r.CustomerID)
		if r.AssignedStaffID != nil {
			ids = append(ids, *r.AssignedStaffID)
		}
	}
	users, err := s.users.FindByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	views := make([]RoomView, 0, len(rooms))
	for _, r := range rooms {
		view := RoomView{ChatRoom: r}
		if u, ok := users[r.CustomerID]; ok {
			summary := u.Summary()
			view.Customer = &summary
		}
		if r.AssignedStaffID != nil {
			if u, ok := users[*r.AssignedStaffID]; ok {
				summary := u.Summary()
				summary.AvatarURL = ""
				view.AssignedStaff = &summary
			}
		}
		if withLast {
			last, err := s.messages.LastInRoom(ctx, r.ID)
			if err == nil {
				view.LastMessage = last
			} else if !errors.Is(err, repository.ErrNotFound) {
				return nil, err
			}
		}
		views = append(views, view)
	}
	return views, nil
}
