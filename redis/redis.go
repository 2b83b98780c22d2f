package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/DATN-PetShop/ServerPetShop/config"
	"github.com/DATN-PetShop/ServerPetShop/models"
)

type RedisClient struct {
	Client *redis.Client
}

// NewRedisClient 初始化并做一次 PING 测试
func NewRedisClient(cfg *config.RedisConfig) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("redis client connection test failed: %w", err)
	}

	return &RedisClient{Client: client}, nil
}

func (r *RedisClient) Close() error {
	return r.Client.Close()
}

// OnlineUser 在线列表里的用户条目
type OnlineUser struct {
	UserID   uint        `json:"user_id"`
	Username string      `json:"username"`
	Role     models.Role `json:"role"`
}

func roomPresenceKey(roomID uint) string {
	return fmt.Sprintf("chat:room:%d:online_users", roomID)
}

// AddOnlineUser 写入房间在线列表。Hash 的 field 是 user_id，value 是 JSON。
// key 带 24h 过期，进程挂掉也不会留死数据。
func (r *RedisClient) AddOnlineUser(ctx context.Context, roomID uint, user OnlineUser) error {
	data, err := json.Marshal(user)
	if err != nil {
		return err
	}
	key := roomPresenceKey(roomID)
	field := fmt.Sprintf("%d", user.UserID)
	if err := r.Client.HSet(ctx, key, field, data).Err(); err != nil {
		return err
	}
	return r.Client.Expire(ctx, key, 24*time.Hour).Err()
}

func (r *RedisClient) RemoveOnlineUser(ctx context.Context, roomID, userID uint) error {
	field := fmt.Sprintf("%d", userID)
	return r.Client.HDel(ctx, roomPresenceKey(roomID), field).Err()
}

// GetOnlineUsers 获取指定房间的在线用户
func (r *RedisClient) GetOnlineUsers(ctx context.Context, roomID uint) ([]OnlineUser, error) {
	result, err := r.Client.HGetAll(ctx, roomPresenceKey(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch online users for room %d: %w", roomID, err)
	}

	users := make([]OnlineUser, 0, len(result))
	for _, data := range result {
		var u OnlineUser
		if err := json.Unmarshal([]byte(data), &u); err != nil {
			continue
		}
		users = append(users, u)
	}
	return users, nil
}
