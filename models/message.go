package models

import "time"

const (
	MessageTypeText   = "text"
	MessageTypeImage  = "image"
	MessageTypeFile   = "file"
	MessageTypeSystem = "system"
)

func ValidMessageType(t string) bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeFile, MessageTypeSystem:
		return true
	}
	return false
}

// FileInfo 图片/文件消息的附加元数据
type FileInfo struct {
	OriginalName string `json:"original_name,omitempty"`
	FileSize     int64  `json:"file_size,omitempty"`
	MimeType     string `json:"mime_type,omitempty"`
	FileURL      string `json:"file_url,omitempty"`
}

type ChatMessage struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	RoomID      uint      `json:"room_id" gorm:"index:idx_room_created;not null"`
	SenderID    uint      `json:"sender_id" gorm:"index;not null"`
	Content     string    `json:"content" gorm:"type:text;not null"`
	MessageType string    `json:"message_type" gorm:"type:varchar(8);default:'text'"`
	IsRead      bool      `json:"is_read" gorm:"default:false"`
	FileInfo    FileInfo  `json:"file_info" gorm:"embedded;embeddedPrefix:file_"`
	CreatedAt   time.Time `json:"created_at" gorm:"index:idx_room_created"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ReadReceipt 已读回执，(message_id, user_id) 唯一，保证每人最多一条
type ReadReceipt struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	MessageID uint      `json:"message_id" gorm:"uniqueIndex:idx_message_reader;not null"`
	UserID    uint      `json:"user_id" gorm:"uniqueIndex:idx_message_reader;not null"`
	ReadAt    time.Time `json:"read_at"`
}
