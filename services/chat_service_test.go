package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/DATN-PetShop/ServerPetShop/models"
	"github.com/DATN-PetShop/ServerPetShop/repository"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	// 每个测试一个独立的内存库，cache=shared 让 gorm 连接池共享同一份数据
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := models.AutoMigrateAll(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func newTestService(t *testing.T) (*ChatService, *gorm.DB) {
	t.Helper()
	db := openTestDB(t)
	svc := NewChatService(
		repository.NewRoomRepository(db),
		repository.NewMessageRepository(db, nil),
		repository.NewUserRepository(db),
	)
	return svc, db
}

func seedUser(t *testing.T, db *gorm.DB, username string, role models.Role) *models.User {
	t.Helper()
	user := &models.User{
		Email:    username + "@example.com",
		Username: username,
		Role:     role,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("seed user %s: %v", username, err)
	}
	return user
}

func TestCreateOrGetActiveRoom_Dedupes(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	customer := seedUser(t, db, "alice", models.RoleCustomer)

	room, created, err := svc.CreateOrGetActiveRoom(ctx, customer.ID, customer.Role, "", "")
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	if !created {
		t.Fatalf("expected first call to create a room")
	}
	if room.Status != models.RoomStatusWaiting {
		t.Fatalf("expected waiting status, got %q", room.Status)
	}
	if room.Subject != models.DefaultSubject {
		t.Fatalf("expected default subject, got %q", room.Subject)
	}
	if room.Priority != models.PriorityMedium {
		t.Fatalf("expected medium priority, got %q", room.Priority)
	}

	again, created, err := svc.CreateOrGetActiveRoom(ctx, customer.ID, customer.Role, "other subject", "high")
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if created {
		t.Fatalf("expected second call to return the existing room")
	}
	if again.ID != room.ID {
		t.Fatalf("expected room %d, got %d", room.ID, again.ID)
	}
}

func TestCreateOrGetActiveRoom_CustomerOnly(t *testing.T) {
	svc, db := newTestService(t)
	staff := seedUser(t, db, "bob", models.RoleStaff)

	_, _, err := svc.CreateOrGetActiveRoom(context.Background(), staff.ID, staff.Role, "", "")
	if !errors.Is(err, ErrCustomerOnly) {
		t.Fatalf("expected ErrCustomerOnly, got %v", err)
	}
}

func TestCreateOrGetActiveRoom_InvalidPriority(t *testing.T) {
	svc, db := newTestService(t)
	customer := seedUser(t, db, "alice", models.RoleCustomer)

	_, _, err := svc.CreateOrGetActiveRoom(context.Background(), customer.ID, customer.Role, "", "urgent")
	if !errors.Is(err, ErrInvalidPriority) {
		t.Fatalf("expected ErrInvalidPriority, got %v", err)
	}
}

func TestAssignRoom_StateMachine(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	customer := seedUser(t, db, "alice", models.RoleCustomer)
	staff := seedUser(t, db, "bob", models.RoleStaff)

	room, _, err := svc.CreateOrGetActiveRoom(ctx, customer.ID, customer.Role, "", "")
	if err != nil {
		t.Fatalf("create room: %v", err)
	}

	assigned, err := svc.AssignRoom(ctx, room.ID, staff.ID, staff.Role)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if assigned.Status != models.RoomStatusActive {
		t.Fatalf("expected active status, got %q", assigned.Status)
	}
	if assigned.AssignedStaffID == nil || *assigned.AssignedStaffID != staff.ID {
		t.Fatalf("expected staff %d assigned, got %v", staff.ID, assigned.AssignedStaffID)
	}

	var systemMsgs []models.ChatMessage
	if err := db.Where("room_id = ? AND message_type = ?", room.ID, models.MessageTypeSystem).
		Find(&systemMsgs).Error; err != nil {
		t.Fatalf("query system messages: %v", err)
	}
	if len(systemMsgs) != 1 {
		t.Fatalf("expected 1 system message, got %d", len(systemMsgs))
	}
	if !strings.Contains(systemMsgs[0].Content, "bob has joined the chat") {
		t.Fatalf("unexpected system message: %q", systemMsgs[0].Content)
	}
}

func TestAssignRoom_SameStaffIsIdempotent(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	customer := seedUser(t, db, "alice", models.RoleCustomer)
	staff := seedUser(t, db, "bob", models.RoleStaff)

	room, _, _ := svc.CreateOrGetActiveRoom(ctx, customer.ID, customer.Role, "", "")
	if _, err := svc.AssignRoom(ctx, room.ID, staff.ID, staff.Role); err != nil {
		t.Fatalf("first assign: %v", err)
	}

	again, err := svc.AssignRoom(ctx, room.ID, staff.ID, staff.Role)
	if err != nil {
		t.Fatalf("re-assign by same staff: %v", err)
	}
	if again.AssignedStaffID == nil || *again.AssignedStaffID != staff.ID {
		t.Fatalf("expected staff %d to stay assigned", staff.ID)
	}

	// 重复认领不能再发一条 system 消息
	var count int64
	if err := db.Model(&models.ChatMessage{}).
		Where("room_id = ? AND message_type = ?", room.ID, models.MessageTypeSystem).
		Count(&count).Error; err != nil {
		t.Fatalf("count system messages: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 system message after re-assign, got %d", count)
	}
}

func TestAssignRoom_Conflict(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	customer := seedUser(t, db, "alice", models.RoleCustomer)
	first := seedUser(t, db, "bob", models.RoleStaff)
	second := seedUser(t, db, "carol", models.RoleStaff)

	room, _, _ := svc.CreateOrGetActiveRoom(ctx, customer.ID, customer.Role, "", "")
	if _, err := svc.AssignRoom(ctx, room.ID, first.ID, first.Role); err != nil {
		t.Fatalf("first assign: %v", err)
	}

	_, err := svc.AssignRoom(ctx, room.ID, second.ID, second.Role)
	if !errors.Is(err, ErrAlreadyAssigned) {
		t.Fatalf("expected ErrAlreadyAssigned, got %v", err)
	}
}

func TestAssignRoom_ClosedRoom(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	customer := seedUser(t, db, "alice", models.RoleCustomer)
	staff := seedUser(t, db, "bob", models.RoleStaff)

	room, _, _ := svc.CreateOrGetActiveRoom(ctx, customer.ID, customer.Role, "", "")
	if _, err := svc.CloseRoom(ctx, room.ID, customer.ID, customer.Role, ""); err != nil {
		t.Fatalf("close: %v", err)
	}

	_, err := svc.AssignRoom(ctx, room.ID, staff.ID, staff.Role)
	if !errors.Is(err, ErrRoomClosed) {
		t.Fatalf("expected ErrRoomClosed, got %v", err)
	}
}

func TestAssignRoom_StaffOnly(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	customer := seedUser(t, db, "alice", models.RoleCustomer)

	room, _, _ := svc.CreateOrGetActiveRoom(ctx, customer.ID, customer.Role, "", "")
	_, err := svc.AssignRoom(ctx, room.ID, customer.ID, customer.Role)
	if !errors.Is(err, ErrStaffOnly) {
		t.Fatalf("expected ErrStaffOnly, got %v", err)
	}
}

func TestCloseRoom(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	customer := seedUser(t, db, "alice", models.RoleCustomer)
	other := seedUser(t, db, "mallory", models.RoleCustomer)

	room, _, _ := svc.CreateOrGetActiveRoom(ctx, customer.ID, customer.Role, "", "")

	// 不相关的客户不能关
	if _, err := svc.CloseRoom(ctx, room.ID, other.ID, other.Role, ""); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied, got %v", err)
	}

	closed, err := svc.CloseRoom(ctx, room.ID, customer.ID, customer.Role, "resolved")
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if closed.Status != models.RoomStatusClosed {
		t.Fatalf("expected closed status, got %q", closed.Status)
	}

	var msg models.ChatMessage
	if err := db.Where("room_id = ? AND message_type = ?", room.ID, models.MessageTypeSystem).
		First(&msg).Error; err != nil {
		t.Fatalf("query close message: %v", err)
	}
	if msg.Content != "Room closed: resolved" {
		t.Fatalf("unexpected close message: %q", msg.Content)
	}

	// 关已经关闭的房间不是 no-op
	if _, err := svc.CloseRoom(ctx, room.ID, customer.ID, customer.Role, ""); !errors.Is(err, ErrRoomClosed) {
		t.Fatalf("expected ErrRoomClosed on double close, got %v", err)
	}
}

func TestSendMessage_Validation(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	customer := seedUser(t, db, "alice", models.RoleCustomer)
	room, _, _ := svc.CreateOrGetActiveRoom(ctx, customer.ID, customer.Role, "", "")

	if _, err := svc.SendMessage(ctx, room.ID, customer.ID, "   ", ""); !errors.Is(err, ErrEmptyContent) {
		t.Fatalf("expected ErrEmptyContent, got %v", err)
	}
	if _, err := svc.SendMessage(ctx, room.ID, customer.ID, "hi", "video"); !errors.Is(err, ErrInvalidMessageType) {
		t.Fatalf("expected ErrInvalidMessageType, got %v", err)
	}
	if _, err := svc.SendMessage(ctx, 9999, customer.ID, "hi", ""); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}

	msg, err := svc.SendMessage(ctx, room.ID, customer.ID, "  hello  ", "")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg.Content != "hello" {
		t.Fatalf("expected trimmed content, got %q", msg.Content)
	}
	if msg.MessageType != models.MessageTypeText {
		t.Fatalf("expected text type, got %q", msg.MessageType)
	}

	updated, err := svc.GetRoom(ctx, room.ID)
	if err != nil {
		t.Fatalf("reload room: %v", err)
	}
	if !updated.LastMessageAt.Equal(msg.CreatedAt) && updated.LastMessageAt.Before(msg.CreatedAt) {
		t.Fatalf("expected last_message_at bumped to message time")
	}
}

func TestGetHistory_OrderAndAccess(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	customer := seedUser(t, db, "alice", models.RoleCustomer)
	other := seedUser(t, db, "mallory", models.RoleCustomer)
	room, _, _ := svc.CreateOrGetActiveRoom(ctx, customer.ID, customer.Role, "", "")

	for i := 1; i <= 3; i++ {
		if _, err := svc.SendMessage(ctx, room.ID, customer.ID, fmt.Sprintf("msg %d", i), ""); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}

	if _, err := svc.GetHistory(ctx, room.ID, other.ID, other.Role, 1, 50); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied for stranger, got %v", err)
	}

	page, err := svc.GetHistory(ctx, room.ID, customer.ID, customer.Role, 1, 50)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(page.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(page.Messages))
	}
	// 从旧到新
	for i, m := range page.Messages {
		want := fmt.Sprintf("msg %d", i+1)
		if m.Content != want {
			t.Fatalf("message %d: expected %q, got %q", i, want, m.Content)
		}
	}
	if page.Pagination.TotalCount != 3 {
		t.Fatalf("expected total 3, got %d", page.Pagination.TotalCount)
	}
}

func TestMarkRead_Idempotent(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	customer := seedUser(t, db, "alice", models.RoleCustomer)
	staff := seedUser(t, db, "bob", models.RoleStaff)
	stranger := seedUser(t, db, "mallory", models.RoleCustomer)

	room, _, _ := svc.CreateOrGetActiveRoom(ctx, customer.ID, customer.Role, "", "")
	if _, err := svc.AssignRoom(ctx, room.ID, staff.ID, staff.Role); err != nil {
		t.Fatalf("assign: %v", err)
	}
	msg, err := svc.SendMessage(ctx, room.ID, customer.ID, "hello", "")
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	unread, err := svc.CountUnread(ctx, room.ID, staff.ID)
	if err != nil {
		t.Fatalf("count unread: %v", err)
	}
	if unread != 1 {
		t.Fatalf("expected 1 unread, got %d", unread)
	}

	if err := svc.MarkRead(ctx, msg.ID, stranger.ID, stranger.Role); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied for stranger, got %v", err)
	}

	if err := svc.MarkRead(ctx, msg.ID, staff.ID, staff.Role); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if err := svc.MarkRead(ctx, msg.ID, staff.ID, staff.Role); err != nil {
		t.Fatalf("second mark read: %v", err)
	}

	var receipts int64
	if err := db.Model(&models.ReadReceipt{}).
		Where("message_id = ? AND user_id = ?", msg.ID, staff.ID).
		Count(&receipts).Error; err != nil {
		t.Fatalf("count receipts: %v", err)
	}
	if receipts != 1 {
		t.Fatalf("expected exactly 1 receipt, got %d", receipts)
	}

	unread, _ = svc.CountUnread(ctx, room.ID, staff.ID)
	if unread != 0 {
		t.Fatalf("expected 0 unread after mark, got %d", unread)
	}

	reloaded, err := svc.messages.FindByID(ctx, msg.ID)
	if err != nil {
		t.Fatalf("reload message: %v", err)
	}
	if !reloaded.IsRead {
		t.Fatalf("expected is_read flag set")
	}

	if err := svc.MarkRead(ctx, 9999, staff.ID, staff.Role); !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("expected ErrMessageNotFound, got %v", err)
	}
}

func TestUnreadSummary(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	customer := seedUser(t, db, "alice", models.RoleCustomer)
	staff := seedUser(t, db, "bob", models.RoleStaff)

	room, _, _ := svc.CreateOrGetActiveRoom(ctx, customer.ID, customer.Role, "", "")
	if _, err := svc.AssignRoom(ctx, room.ID, staff.ID, staff.Role); err != nil {
		t.Fatalf("assign: %v", err)
	}
	// assign 产生一条 system 消息，对 customer 也算未读
	if _, err := svc.SendMessage(ctx, room.ID, staff.ID, "how can I help?", ""); err != nil {
		t.Fatalf("send: %v", err)
	}

	total, rooms, err := svc.UnreadSummary(ctx, customer.ID, customer.Role)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if total != 2 {
		t.Fatalf("expected 2 unread, got %d", total)
	}
	if len(rooms) != 1 || rooms[0].RoomID != room.ID || rooms[0].UnreadCount != 2 {
		t.Fatalf("unexpected per-room summary: %+v", rooms)
	}

	// staff 侧只统计分配给自己的 active 房间
	total, _, err = svc.UnreadSummary(ctx, staff.ID, staff.Role)
	if err != nil {
		t.Fatalf("staff summary: %v", err)
	}
	if total != 0 {
		t.Fatalf("expected 0 unread for staff, got %d", total)
	}

	// 关闭后不再计入客户的未读
	if _, err := svc.CloseRoom(ctx, room.ID, customer.ID, customer.Role, ""); err != nil {
		t.Fatalf("close: %v", err)
	}
	total, rooms, err = svc.UnreadSummary(ctx, customer.ID, customer.Role)
	if err != nil {
		t.Fatalf("summary after close: %v", err)
	}
	if total != 0 || len(rooms) != 0 {
		t.Fatalf("expected closed room to be skipped, got total=%d rooms=%+v", total, rooms)
	}
	_ = db
}

func TestListRooms_RoleScoping(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	alice := seedUser(t, db, "alice", models.RoleCustomer)
	carol := seedUser(t, db, "carol", models.RoleCustomer)
	staff := seedUser(t, db, "bob", models.RoleStaff)
	admin := seedUser(t, db, "dora", models.RoleAdmin)

	first, _, _ := svc.CreateOrGetActiveRoom(ctx, alice.ID, alice.Role, "", "")
	second, _, _ := svc.CreateOrGetActiveRoom(ctx, carol.ID, carol.Role, "", "")

	// customer 只看自己的
	rooms, _, err := svc.ListRooms(ctx, alice.ID, alice.Role, "", 1, 10)
	if err != nil {
		t.Fatalf("customer list: %v", err)
	}
	if len(rooms) != 1 || rooms[0].ID != first.ID {
		t.Fatalf("expected only alice's room, got %+v", rooms)
	}
	if rooms[0].Customer == nil || rooms[0].Customer.Username != "alice" {
		t.Fatalf("expected populated customer summary")
	}

	// pending 队列 FIFO，最旧的在前
	pending, _, err := svc.ListRooms(ctx, staff.ID, staff.Role, "pending", 1, 10)
	if err != nil {
		t.Fatalf("pending list: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending rooms, got %d", len(pending))
	}
	if pending[0].ID != first.ID || pending[1].ID != second.ID {
		t.Fatalf("expected FIFO order %d,%d got %d,%d", first.ID, second.ID, pending[0].ID, pending[1].ID)
	}

	// staff 认领一间后，另一个 staff 的默认视图看不到它
	if _, err := svc.AssignRoom(ctx, first.ID, staff.ID, staff.Role); err != nil {
		t.Fatalf("assign: %v", err)
	}
	assigned, _, err := svc.ListRooms(ctx, staff.ID, staff.Role, "assigned", 1, 10)
	if err != nil {
		t.Fatalf("assigned list: %v", err)
	}
	if len(assigned) != 1 || assigned[0].ID != first.ID {
		t.Fatalf("expected staff's assigned room, got %+v", assigned)
	}

	// admin status=all 看到全部
	all, _, err := svc.ListRooms(ctx, admin.ID, admin.Role, "all", 1, 10)
	if err != nil {
		t.Fatalf("admin list: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 rooms for admin, got %d", len(all))
	}
}

func TestListRooms_LimitClamped(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	customer := seedUser(t, db, "alice", models.RoleCustomer)
	if _, _, err := svc.CreateOrGetActiveRoom(ctx, customer.ID, customer.Role, "", ""); err != nil {
		t.Fatalf("create: %v", err)
	}

	// 超出上限的 limit 被归一化，分页信息和实际查询必须一致
	rooms, pagination, err := svc.ListRooms(ctx, customer.ID, customer.Role, "", 1, 200)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if pagination.Limit != 10 {
		t.Fatalf("expected clamped limit 10 in pagination, got %d", pagination.Limit)
	}
	if len(rooms) != 1 || pagination.TotalCount != 1 || pagination.TotalPages != 1 {
		t.Fatalf("unexpected page: rooms=%d pagination=%+v", len(rooms), pagination)
	}

	page, err := svc.GetHistory(ctx, rooms[0].ID, customer.ID, customer.Role, 0, 500)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if page.Pagination.Limit != 50 || page.Pagination.CurrentPage != 1 {
		t.Fatalf("expected clamped history pagination, got %+v", page.Pagination)
	}
}

func TestPendingRooms(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	alice := seedUser(t, db, "alice", models.RoleCustomer)
	carol := seedUser(t, db, "carol", models.RoleCustomer)

	first, _, _ := svc.CreateOrGetActiveRoom(ctx, alice.ID, alice.Role, "", "")
	if _, _, err := svc.CreateOrGetActiveRoom(ctx, carol.ID, carol.Role, "", ""); err != nil {
		t.Fatalf("create: %v", err)
	}

	rooms, err := svc.PendingRooms(ctx, 1)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(rooms) != 1 || rooms[0].ID != first.ID {
		t.Fatalf("expected oldest waiting room first, got %+v", rooms)
	}
}
