package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/DATN-PetShop/ServerPetShop/models"
	"github.com/DATN-PetShop/ServerPetShop/services"
)

// AuthMiddleware 校验 JWT 并把用户挂到 context。
// 支持 Authorization: Bearer 头，也支持 ?token= query（websocket 握手用）。
func AuthMiddleware(authService *services.AuthService) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			var tokenString string
			if authHeader != "" {
				parts := strings.Split(authHeader, " ")
				if len(parts) != 2 || parts[0] != "Bearer" {
					return c.JSON(http.StatusUnauthorized, map[string]interface{}{
						"success":    false,
						"statusCode": http.StatusUnauthorized,
						"message":    "invalid authorization header",
						"data":       nil,
					})
				}
				tokenString = parts[1]
			} else {
				tokenString = c.QueryParam("token")
				if tokenString == "" {
					return c.JSON(http.StatusUnauthorized, map[string]interface{}{
						"success":    false,
						"statusCode": http.StatusUnauthorized,
						"message":    "missing authorization token",
						"data":       nil,
					})
				}
				tokenString = strings.TrimSpace(strings.TrimPrefix(tokenString, "Bearer "))
			}

			claims, err := authService.ValidateToken(tokenString)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, map[string]interface{}{
					"success":    false,
					"statusCode": http.StatusUnauthorized,
					"message":    "invalid token",
					"data":       nil,
				})
			}
			user, err := authService.LoadUser(claims.UserID)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, map[string]interface{}{
					"success":    false,
					"statusCode": http.StatusUnauthorized,
					"message":    "user not found",
					"data":       nil,
				})
			}

			c.Set("user", user)
			return next(c)
		}
	}
}

// RequireRoles 角色门禁，放在 AuthMiddleware 之后
func RequireRoles(roles ...models.Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			user, ok := c.Get("user").(*models.User)
			if !ok {
				return c.JSON(http.StatusUnauthorized, map[string]interface{}{
					"success":    false,
					"statusCode": http.StatusUnauthorized,
					"message":    "not authenticated",
					"data":       nil,
				})
			}
			for _, role := range roles {
				if user.Role == role {
					return next(c)
				}
			}
			return c.JSON(http.StatusForbidden, map[string]interface{}{
				"success":    false,
				"statusCode": http.StatusForbidden,
				"message":    "insufficient role",
				"data":       nil,
			})
		}
	}
}
