package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/DATN-PetShop/ServerPetShop/models"
	"github.com/DATN-PetShop/ServerPetShop/services"
)

type AuthHandler struct {
	authService *services.AuthService
}

func NewAuthHandler(authService *services.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

type registerRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

func (h *AuthHandler) Register(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return respond(c, http.StatusBadRequest, "invalid request", nil)
	}
	if req.Email == "" || req.Username == "" || req.Password == "" {
		return respond(c, http.StatusBadRequest, "email, username and password are required", nil)
	}

	// 开放注册只允许 customer，staff/admin 由运营后台建号
	role := models.RoleCustomer
	if req.Role != "" {
		parsed, ok := models.ParseRole(req.Role)
		if !ok || parsed != models.RoleCustomer {
			return respond(c, http.StatusBadRequest, "invalid role", nil)
		}
		role = parsed
	}

	user, err := h.authService.RegisterLocal(req.Email, req.Username, req.Password, role)
	if err != nil {
		return respond(c, http.StatusBadRequest, "failed to create user (email or username may already exist)", nil)
	}

	tokens, err := h.authService.GenerateTokens(user)
	if err != nil {
		return respondError(c, err)
	}
	return respond(c, http.StatusCreated, "registered successfully", tokens)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *AuthHandler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return respond(c, http.StatusBadRequest, "invalid request", nil)
	}

	user, err := h.authService.LoginLocal(req.Email, req.Password)
	if err != nil {
		return respondError(c, err)
	}

	tokens, err := h.authService.GenerateTokens(user)
	if err != nil {
		return respondError(c, err)
	}
	return respond(c, http.StatusOK, "login successful", tokens)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *AuthHandler) RefreshToken(c echo.Context) error {
	var req refreshRequest
	if err := c.Bind(&req); err != nil || req.RefreshToken == "" {
		return respond(c, http.StatusBadRequest, "refresh_token is required", nil)
	}

	tokens, err := h.authService.RefreshToken(req.RefreshToken)
	if err != nil {
		return respondError(c, err)
	}
	return respond(c, http.StatusOK, "token refreshed", tokens)
}

func (h *AuthHandler) GetCurrentUser(c echo.Context) error {
	user := c.Get("user").(*models.User)
	return respond(c, http.StatusOK, "current user", user)
}
