package handler

import (
	"errors"
	"net/http"
	"strconv"

	"jobboard_auth/internal/logging"
	"jobboard_auth/internal/middleware"
	"jobboard_auth/internal/service"

	"github.com/gin-gonic/gin"
)

// UserHandler serves account endpoints for signed-in users and admins
type UserHandler struct {
	service service.AuthService
}

func NewUserHandler(s service.AuthService) *UserHandler {
	return &UserHandler{service: s}
}

// Me returns the profile of the authenticated user
func (h *UserHandler) Me(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	user, err := h.service.CurrentUser(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		logging.FromContext(c.Request.Context()).Error("failed to load user", "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve user"})
		return
	}

	c.JSON(http.StatusOK, user)
}

// RevokeTokens revokes every valid token of the user named in the path
func (h *UserHandler) RevokeTokens(c *gin.Context) {
	userID, err := strconv.Atoi(c.Param("id"))
	if err != nil || userID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user ID"})
		return
	}

	n, err := h.service.RevokeUserTokens(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		logging.FromContext(c.Request.Context()).Error("failed to revoke tokens", "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to revoke tokens"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"revoked": n})
}

// RegisterUserRoutes registers the profile and admin routes
func (h *UserHandler) RegisterUserRoutes(rg *gin.RouterGroup, authMW, adminMW gin.HandlerFunc) {
	userGroup := rg.Group("/users")
	userGroup.Use(authMW)
	{
		userGroup.GET("/me", h.Me)
	}

	adminGroup := rg.Group("/admin")
	adminGroup.Use(authMW, adminMW)
	{
		adminGroup.POST("/users/:id/revoke-tokens", h.RevokeTokens)
	}
}

func currentUserID(c *gin.Context) (int, bool) {
	v, exists := c.Get(middleware.AuthUserKey)
	if !exists {
		return 0, false
	}
	id, ok := v.(int)
	return id, ok
}
