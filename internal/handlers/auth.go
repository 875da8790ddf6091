package handlers

import (
	"errors"
	"net/http"

	"github.com/Significant-Gravitas/AutoModerate-sub000/internal/middleware"
	"github.com/Significant-Gravitas/AutoModerate-sub000/internal/services"
	"github.com/Significant-Gravitas/AutoModerate-sub000/pkg/response"
	"github.com/gin-gonic/gin"
)

// AuthHandler serves the dashboard's login and account endpoints.
type AuthHandler struct {
	authService *services.AuthService
}

func NewAuthHandler(authService *services.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

// Login POST /api/admin/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req services.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "username and password required")
		return
	}

	resp, err := h.authService.Login(&req)
	switch {
	case err == nil:
		response.Success(c, resp)
	case errors.Is(err, services.ErrInvalidCredentials):
		response.Fail(c, http.StatusUnauthorized, err.Error())
	case errors.Is(err, services.ErrUserDisabled):
		response.Fail(c, http.StatusForbidden, err.Error())
	default:
		response.ServerError(c, err.Error())
	}
}

// GetCurrentUser GET /api/admin/me
func (h *AuthHandler) GetCurrentUser(c *gin.Context) {
	user, err := h.authService.GetUserByID(middleware.GetUserID(c))
	if err != nil {
		response.NotFound(c, "user not found")
		return
	}
	response.Success(c, user)
}

// ChangePassword POST /api/admin/change-password
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	var req services.ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	err := h.authService.ChangePassword(middleware.GetUserID(c), &req)
	switch {
	case err == nil:
	case errors.Is(err, services.ErrWrongPassword), errors.Is(err, services.ErrPasswordUnchanged):
		response.BadRequest(c, err.Error())
		return
	case errors.Is(err, services.ErrUserNotFound):
		response.NotFound(c, err.Error())
		return
	default:
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, gin.H{"message": "password changed"})
}

// Logout is client side; the endpoint exists so the audit trail records it.
// POST /api/admin/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	response.Success(c, gin.H{"message": "logged out"})
}
