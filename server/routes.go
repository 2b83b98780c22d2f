package server

import (
	"fmt"
	"time"

	"github.com/labstack/echo/v4"

	custommiddleware "github.com/DATN-PetShop/ServerPetShop/middleware"
	"github.com/DATN-PetShop/ServerPetShop/models"
)

func (s *Server) SetupRoutes(authMiddleware echo.MiddlewareFunc) {
	e := s.Echo
	api := e.Group("/api/v1")

	// Auth routes (unprotected)
	auth := api.Group("/auth")
	{
		auth.POST("/register", s.AuthHandler.Register)
		auth.POST("/login", s.AuthHandler.Login)
		auth.POST("/refresh", s.AuthHandler.RefreshToken)
	}

	// 需要认证
	protected := api.Group("")
	protected.Use(authMiddleware)
	{
		protected.GET("/user", s.AuthHandler.GetCurrentUser)

		// 发消息和开房间按用户限流，防刷
		userKey := func(prefix string) func(c echo.Context) string {
			return func(c echo.Context) string {
				if user, ok := c.Get("user").(*models.User); ok {
					return fmt.Sprintf("%s:%d", prefix, user.ID)
				}
				return ""
			}
		}
		sendLimit := custommiddleware.NewRateLimitMiddleware(s.Limiter, custommiddleware.RateLimitConfig{
			Limit:   30,
			Window:  time.Minute,
			KeyFunc: userKey("send"),
		})
		createRoomLimit := custommiddleware.NewRateLimitMiddleware(s.Limiter, custommiddleware.RateLimitConfig{
			Limit:   10,
			Window:  time.Minute,
			KeyFunc: userKey("room"),
		})

		chat := protected.Group("/chat")
		{
			chat.POST("/rooms", s.ChatHandler.CreateRoom,
				custommiddleware.RequireRoles(models.RoleCustomer), createRoomLimit) // 客户发起会话
			chat.GET("/rooms/my", s.ChatHandler.ListRooms)                                                   // 角色过滤的房间列表
			chat.PATCH("/rooms/:roomId/assign", s.ChatHandler.AssignRoom,
				custommiddleware.RequireRoles(models.RoleStaff, models.RoleAdmin)) // 客服认领
			chat.PATCH("/rooms/:roomId/close", s.ChatHandler.CloseRoom)           // 关闭房间
			chat.GET("/rooms/:roomId/online-users", s.ChatHandler.GetOnlineUsers) // 在线用户
			chat.GET("/messages/:roomId", s.ChatHandler.GetHistory)               // 历史消息
			chat.PATCH("/messages/:messageId/read", s.ChatHandler.MarkRead)       // 已读回执
			chat.POST("/messages", s.ChatHandler.SendMessage, sendLimit)          // REST 发消息
			chat.GET("/unread-count", s.ChatHandler.UnreadCount)                  // 未读聚合
		}
	}

	// websocket 握手自己做 in-band 认证，不挂 auth 中间件
	api.GET("/chat/ws", s.Gateway.HandleWebSocket)
}
