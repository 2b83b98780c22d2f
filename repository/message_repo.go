package repository

import (
	"context"
	"errors"
	"log"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/DATN-PetShop/ServerPetShop/models"
)

// MessageEventPublisher 消息落库后的 change feed 出口（Kafka 生产者实现）。
// 为 nil 时只落库不发事件，REST-only 部署和测试都走这条路。
type MessageEventPublisher interface {
	PublishMessageCreated(ctx context.Context, m *models.ChatMessage) error
}

type MessageRepository interface {
	// Create 插入消息并发布 change feed 事件。事件发布失败只记日志，
	// 不回滚写入 —— 直连广播路径仍然可以送达。
	Create(ctx context.Context, m *models.ChatMessage) error
	FindByID(ctx context.Context, id uint) (*models.ChatMessage, error)
	// ListByRoomDesc 按 created_at DESC 分页取消息，同时返回总数
	ListByRoomDesc(ctx context.Context, roomID uint, page, limit int) ([]models.ChatMessage, int64, error)
	LastInRoom(ctx context.Context, roomID uint) (*models.ChatMessage, error)
	// CountUnread 房间内 sender != userID 且无该用户回执的消息数
	CountUnread(ctx context.Context, roomID, userID uint) (int64, error)
	// MarkRead 幂等：重复回执靠唯一索引 + DoNothing 吞掉
	MarkRead(ctx context.Context, messageID, userID uint) error
}

type messageRepo struct {
	db     *gorm.DB
	events MessageEventPublisher
}

func NewMessageRepository(db *gorm.DB, events MessageEventPublisher) MessageRepository {
	return &messageRepo{db: db, events: events}
}

func (r *messageRepo) Create(ctx context.Context, m *models.ChatMessage) error {
	if m.MessageType == "" {
		m.MessageType = models.MessageTypeText
	}
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return err
	}
	if r.events != nil {
		if err := r.events.PublishMessageCreated(ctx, m); err != nil {
			log.Printf("Failed to publish message event (id=%d): %v", m.ID, err)
		}
	}
	return nil
}

func (r *messageRepo) FindByID(ctx context.Context, id uint) (*models.ChatMessage, error) {
	var m models.ChatMessage
	if err := r.db.WithContext(ctx).First(&m, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (r *messageRepo) ListByRoomDesc(ctx context.Context, roomID uint, page, limit int) ([]models.ChatMessage, int64, error) {
	// 上限由 service 层归一化，这里只兜底默认值
	if limit <= 0 {
		limit = 50
	}
	if page <= 0 {
		page = 1
	}

	var total int64
	if err := r.db.WithContext(ctx).Model(&models.ChatMessage{}).
		Where("room_id = ?", roomID).
		Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var msgs []models.ChatMessage
	err := r.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("created_at DESC, id DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, 0, err
	}
	return msgs, total, nil
}

func (r *messageRepo) LastInRoom(ctx context.Context, roomID uint) (*models.ChatMessage, error) {
	var m models.ChatMessage
	err := r.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("created_at DESC, id DESC").
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (r *messageRepo) CountUnread(ctx context.Context, roomID, userID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.ChatMessage{}).
		Where("room_id = ? AND sender_id <> ?", roomID, userID).
		Where("NOT EXISTS (SELECT 1 FROM read_receipts WHERE read_receipts.message_id = chat_messages.id AND read_receipts.user_id = ?)", userID).
		Count(&count).Error
	return count, err
}

func (r *messageRepo) MarkRead(ctx context.Context, messageID, userID uint) error {
	receipt := models.ReadReceipt{
		MessageID: messageID,
		UserID:    userID,
		ReadAt:    time.Now(),
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&receipt)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// 已读过，no-op
		return nil
	}
	// 至少一个非发送方读过即置位。1:1 场景下语义明确，
	// 群聊场景的语义留待真正有群聊时再定。
	return r.db.WithContext(ctx).Model(&models.ChatMessage{}).
		Where("id = ?", messageID).
		Updates(map[string]interface{}{
			"is_read":    true,
			"updated_at": time.Now(),
		}).Error
}
