package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/DATN-PetShop/ServerPetShop/models"
)

var ErrNotFound = errors.New("record not found")

// RoomFilter 房间列表查询条件。Status 为空表示不过滤。
type RoomFilter struct {
	CustomerID      uint   // 只看某个客户的房间
	AssignedStaffID uint   // 只看分配给某个客服的房间
	Status          string // waiting / active / closed
	// StaffVisible: assigned_staff_id = StaffID OR status = waiting
	StaffVisible bool
	StaffID      uint

	Page  int
	Limit int
	// OldestFirst 待分配队列按 created_at ASC 排（FIFO），否则按 last_message_at DESC
	OldestFirst bool
}

type RoomRepository interface {
	Create(ctx context.Context, room *models.ChatRoom) error
	FindByID(ctx context.Context, id uint) (*models.ChatRoom, error)
	// FindActiveByCustomer 返回客户处于 waiting/active 的房间，没有则 ErrNotFound
	FindActiveByCustomer(ctx context.Context, customerID uint) (*models.ChatRoom, error)
	List(ctx context.Context, filter RoomFilter) ([]models.ChatRoom, int64, error)
	ListWaiting(ctx context.Context, limit int) ([]models.ChatRoom, error)
	// Assign 条件更新，返回是否真的抢到了房间。
	// 两个客服并发抢同一个 waiting 房间时只有一个能成功。
	Assign(ctx context.Context, roomID, staffID uint) (bool, error)
	Close(ctx context.Context, roomID uint) error
	TouchLastMessage(ctx context.Context, roomID uint, at time.Time) error
}

type roomRepo struct {
	db *gorm.DB
}

func NewRoomRepository(db *gorm.DB) RoomRepository {
	return &roomRepo{db: db}
}

func (r *roomRepo) Create(ctx context.Context, room *models.ChatRoom) error {
	if room.Status == "" {
		room.Status = models.RoomStatusWaiting
	}
	if room.Subject == "" {
		room.Subject = models.DefaultSubject
	}
	if room.Priority == "" {
		room.Priority = models.PriorityMedium
	}
	if room.LastMessageAt.IsZero() {
		room.LastMessageAt = time.Now()
	}
	return r.db.WithContext(ctx).Create(room).Error
}

func (r *roomRepo) FindByID(ctx context.Context, id uint) (*models.ChatRoom, error) {
	var room models.ChatRoom
	if err := r.db.WithContext(ctx).First(&room, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &room, nil
}

func (r *roomRepo) FindActiveByCustomer(ctx context.Context, customerID uint) (*models.ChatRoom, error) {
	var room models.ChatRoom
	err := r.db.WithContext(ctx).
		Where("customer_id = ? AND status IN ?", customerID,
			[]string{models.RoomStatusWaiting, models.RoomStatusActive}).
		First(&room).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &room, nil
}

func (r *roomRepo) List(ctx context.Context, filter RoomFilter) ([]models.ChatRoom, int64, error) {
	q := r.db.WithContext(ctx).Model(&models.ChatRoom{})

	if filter.CustomerID != 0 {
		q = q.Where("customer_id = ?", filter.CustomerID)
	}
	if filter.AssignedStaffID != 0 {
		q = q.Where("assigned_staff_id = ?", filter.AssignedStaffID)
	}
	if filter.StaffVisible {
		q = q.Where("assigned_staff_id = ? OR status = ?", filter.StaffID, models.RoomStatusWaiting)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	// 上限由 service 层归一化，这里只兜底默认值
	limit := filter.Limit
	if limit <= 0 {
		limit = 10
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}

	order := "last_message_at DESC"
	if filter.OldestFirst {
		order = "created_at ASC"
	}

	var rooms []models.ChatRoom
	err := q.Order(order).
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&rooms).Error
	if err != nil {
		return nil, 0, err
	}
	return rooms, total, nil
}

func (r *roomRepo) ListWaiting(ctx context.Context, limit int) ([]models.ChatRoom, error) {
	if limit <= 0 {
		limit = 10
	}
	var rooms []models.ChatRoom
	err := r.db.WithContext(ctx).
		Where("status = ?", models.RoomStatusWaiting).
		Order("created_at ASC").
		Limit(limit).
		Find(&rooms).Error
	return rooms, err
}

func (r *roomRepo) Assign(ctx context.Context, roomID, staffID uint) (bool, error) {
	// 先查后改在这里必须是一条原子 UPDATE，否则两个客服会同时抢到
	res := r.db.WithContext(ctx).Model(&models.ChatRoom{}).
		Where("id = ? AND status = ? AND (assigned_staff_id IS NULL OR assigned_staff_id = ?)",
			roomID, models.RoomStatusWaiting, staffID).
		Updates(map[string]interface{}{
			"assigned_staff_id": staffID,
			"status":            models.RoomStatusActive,
			"updated_at":        time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *roomRepo) Close(ctx context.Context, roomID uint) error {
	return r.db.WithContext(ctx).Model(&models.ChatRoom{}).
		Where("id = ?", roomID).
		Updates(map[string]interface{}{
			"status":     models.RoomStatusClosed,
			"updated_at": time.Now(),
		}).Error
}

func (r *roomRepo) TouchLastMessage(ctx context.Context, roomID uint, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.ChatRoom{}).
		Where("id = ?", roomID).
		Updates(map[string]interface{}{
			"last_message_at": at,
			"updated_at":      time.Now(),
		}).Error
}
