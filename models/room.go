package models

import "time"

// 房间状态机: waiting --assign--> active --close--> closed
// waiting 也可以直接 close（客户或管理员在分配前关闭）
const (
	RoomStatusWaiting = "waiting"
	RoomStatusActive  = "active"
	RoomStatusClosed  = "closed"
)

const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

const DefaultSubject = "Customer Support"

type ChatRoom struct {
	ID              uint      `json:"id" gorm:"primaryKey"`
	CustomerID      uint      `json:"customer_id" gorm:"index;not null"`
	AssignedStaffID *uint     `json:"assigned_staff_id" gorm:"index"`
	Status          string    `json:"status" gorm:"type:varchar(16);index;default:'waiting'"`
	Subject         string    `json:"subject" gorm:"default:'Customer Support'"`
	Priority        string    `json:"priority" gorm:"type:varchar(8);default:'medium'"`
	LastMessageAt   time.Time `json:"last_message_at"`
	CreatedAt       time.Time `json:"created_at" gorm:"index"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// HasAccess 房间访问控制的唯一判定入口。
// REST、WebSocket、历史查询必须统一走这里，不允许各写各的。
// customer 只能进自己的房间；staff 能进未分配或分配给自己的房间；admin 全通。
func (r *ChatRoom) HasAccess(userID uint, role Role) bool {
	switch role {
	case RoleCustomer:
		return r.CustomerID == userID
	case RoleStaff:
		return r.AssignedStaffID == nil || *r.AssignedStaffID == userID
	case RoleAdmin:
		return true
	}
	return false
}

func (r *ChatRoom) IsClosed() bool {
	return r.Status == RoomStatusClosed
}

func ValidPriority(p string) bool {
	return p == PriorityLow || p == PriorityMedium || p == PriorityHigh
}
