package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/DATN-PetShop/ServerPetShop/limiter"
)

type RateLimitConfig struct {
	Limit   int
	Window  time.Duration
	KeyFunc func(c echo.Context) string
}

// NewRateLimitMiddleware Redis 限流。Redis 出错时放行（fail open），
// 不能让限流组件故障把业务打挂。
func NewRateLimitMiddleware(manager *limiter.Manager, config RateLimitConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if manager == nil {
				return next(c)
			}

			key := ""
			if config.KeyFunc != nil {
				key = config.KeyFunc(c)
			}
			if key == "" {
				key = c.RealIP()
			}
			redisKey := fmt.Sprintf("limiter:%s", key)

			allowed, err := manager.Allow(c.Request().Context(), redisKey, config.Limit, config.Window)
			if err != nil {
				c.Logger().Errorf("Rate limit redis error: %v", err)
				return next(c)
			}

			if !allowed {
				return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
					"success":    false,
					"statusCode": http.StatusTooManyRequests,
					"message":    "Too Many Requests",
					"data":       nil,
				})
			}
			return next(c)
		}
	}
}
