package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/DATN-PetShop/ServerPetShop/services"
)

// Response 统一响应信封，REST 全部接口共用
type Response struct {
	Success    bool        `json:"success"`
	StatusCode int         `json:"statusCode"`
	Message    string      `json:"message"`
	Data       interface{} `json:"data"`
}

func respond(c echo.Context, status int, message string, data interface{}) error {
	return c.JSON(status, Response{
		Success:    status < http.StatusBadRequest,
		StatusCode: status,
		Message:    message,
		Data:       data,
	})
}

// respondError service 层的 sentinel error 映射到 HTTP 状态码。
// 未知错误一律 500，不往外漏内部细节。
func respondError(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	message := "Internal server error"

	switch {
	case errors.Is(err, services.ErrRoomNotFound),
		errors.Is(err, services.ErrMessageNotFound):
		status = http.StatusNotFound
		message = err.Error()
	case errors.Is(err, services.ErrAccessDenied),
		errors.Is(err, services.ErrCustomerOnly),
		errors.Is(err, services.ErrStaffOnly):
		status = http.StatusForbidden
		message = err.Error()
	case errors.Is(err, services.ErrEmptyContent),
		errors.Is(err, services.ErrInvalidMessageType),
		errors.Is(err, services.ErrInvalidPriority),
		errors.Is(err, services.ErrAlreadyAssigned),
		errors.Is(err, services.ErrRoomClosed):
		status = http.StatusBadRequest
		message = err.Error()
	case errors.Is(err, services.ErrInvalidToken),
		errors.Is(err, services.ErrInvalidCredentials):
		status = http.StatusUnauthorized
		message = err.Error()
	}

	return respond(c, status, message, nil)
}
