package handlers

import (
	"log"
	"sync"

	"github.com/DATN-PetShop/ServerPetShop/models"
)

// Envelope websocket 上下行消息的统一信封
type Envelope struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// GatewaySession 维护 连接↔用户 的双向映射和房间/staff 分组。
// 全部是进程内的瞬时状态，断线重连后重建，不落盘。
// 单实例部署假设：多实例需要把这些映射挪到共享存储，当前明确不做。
type GatewaySession struct {
	mu      sync.RWMutex
	clients map[string]*Client          // connID -> client（已认证）
	byUser  map[uint]*Client            // userID -> client，后来的连接顶掉旧映射
	rooms   map[uint]map[string]*Client // roomID -> connID -> client
	staff   map[string]*Client          // staff 广播组
}

func NewGatewaySession() *GatewaySession {
	return &GatewaySession{
		clients: make(map[string]*Client),
		byUser:  make(map[uint]*Client),
		rooms:   make(map[uint]map[string]*Client),
		staff:   make(map[string]*Client),
	}
}

func (s *GatewaySession) Register(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c.ID] = c
	s.byUser[c.userID] = c
}

// Unregister 把连接从所有映射和分组里摘掉
func (s *GatewaySession) Unregister(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.clients, c.ID)
	delete(s.staff, c.ID)
	if cur, ok := s.byUser[c.userID]; ok && cur.ID == c.ID {
		delete(s.byUser, c.userID)
	}
	for roomID, members := range s.rooms {
		if _, ok := members[c.ID]; ok {
			delete(members, c.ID)
			if len(members) == 0 {
				delete(s.rooms, roomID)
			}
		}
	}
}

func (s *GatewaySession) JoinRoom(c *Client, roomID uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	members, ok := s.rooms[roomID]
	if !ok {
		members = make(map[string]*Client)
		s.rooms[roomID] = members
	}
	members[c.ID] = c
}

func (s *GatewaySession) LeaveRoom(c *Client, roomID uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if members, ok := s.rooms[roomID]; ok {
		delete(members, c.ID)
		if len(members) == 0 {
			delete(s.rooms, roomID)
		}
	}
}

func (s *GatewaySession) JoinStaff(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staff[c.ID] = c
}

// SendToRoom 发给房间内所有订阅者，exceptConnID 非空时跳过该连接
func (s *GatewaySession) SendToRoom(roomID uint, env Envelope, exceptConnID string) {
	s.mu.RLock()
	members := make([]*Client, 0, len(s.rooms[roomID]))
	for id, c := range s.rooms[roomID] {
		if id == exceptConnID {
			continue
		}
		members = append(members, c)
	}
	s.mu.RUnlock()

	for _, c := range members {
		c.enqueue(env)
	}
}

func (s *GatewaySession) SendToStaff(env Envelope) {
	s.mu.RLock()
	members := make([]*Client, 0, len(s.staff))
	for _, c := range s.staff {
		members = append(members, c)
	}
	s.mu.RUnlock()

	for _, c := range members {
		c.enqueue(env)
	}
}

func (s *GatewaySession) SendToUser(userID uint, env Envelope) bool {
	s.mu.RLock()
	c, ok := s.byUser[userID]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	c.enqueue(env)
	return true
}

func (s *GatewaySession) IsUserOnline(userID uint) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byUser[userID]
	return ok
}

func (s *GatewaySession) OnlineCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byUser)
}

func (s *GatewaySession) StaffCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.staff)
}

// RoomMemberCount 主要给测试和日志用
func (s *GatewaySession) RoomMemberCount(roomID uint) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms[roomID])
}

// enqueue 非阻塞投递。慢客户端把缓冲塞满时丢弃消息，
// 不能让一个坏连接拖住整个广播。
func (c *Client) enqueue(env Envelope) {
	select {
	case c.send <- env:
	default:
		log.Printf("Client %s send buffer full, dropping %s event", c.ID, env.Type)
	}
}

// clientInfo 认证后缓存在连接上的用户信息
type clientInfo struct {
	UserID   uint        `json:"id"`
	Username string      `json:"username"`
	Role     models.Role `json:"role"`
}
