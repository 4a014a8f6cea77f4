package handler

import (
	"errors"
	"net/http"

	"jobboard_auth/internal/logging"
	"jobboard_auth/internal/middleware"
	"jobboard_auth/internal/model"
	"jobboard_auth/internal/service"

	"github.com/gin-gonic/gin"
)

// AuthHandler handles authentication requests
type AuthHandler struct {
	service service.AuthService
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(s service.AuthService) *AuthHandler {
	return &AuthHandler{service: s}
}

// Register creates an account and responds with its first bearer token
func (h *AuthHandler) Register(c *gin.Context) {
	var req model.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	resp, err := h.service.Register(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, service.ErrUserAlreadyExists) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		logging.FromContext(c.Request.Context()).Error("registration failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to register user"})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// Authenticate checks credentials and responds with a fresh bearer token
func (h *AuthHandler) Authenticate(c *gin.Context) {
	var req model.AuthenticationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	resp, err := h.service.Authenticate(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) || errors.Is(err, service.ErrUserNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": service.ErrInvalidCredentials.Error()})
			return
		}
		logging.FromContext(c.Request.Context()).Error("authentication failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to authenticate"})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// Logout revokes the bearer token the request was authenticated with
func (h *AuthHandler) Logout(c *gin.Context) {
	token := c.GetString(middleware.AuthTokenKey)
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	if err := h.service.Logout(c.Request.Context(), token); err != nil {
		if errors.Is(err, service.ErrTokenNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": service.ErrInvalidToken.Error()})
			return
		}
		logging.FromContext(c.Request.Context()).Error("logout failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to logout"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Logged out successfully"})
}

// RegisterAuthRoutes registers auth routes. authMW guards the routes that need
// a bearer token.
func (h *AuthHandler) RegisterAuthRoutes(rg *gin.RouterGroup, authMW gin.HandlerFunc) {
	authGroup := rg.Group("/auth")
	{
		authGroup.POST("/register", h.Register)
		authGroup.POST("/authenticate", h.Authenticate)
		authGroup.POST("/logout", authMW, h.Logout)
	}
}
