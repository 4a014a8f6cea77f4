package middleware

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"jobboard_auth/internal/logging"
	"jobboard_auth/internal/model"
	"jobboard_auth/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubValidator struct {
	claims *utils.JWTClaims
	err    error
	got    string
}

func (v *stubValidator) ValidateToken(_ context.Context, token string) (*utils.JWTClaims, error) {
	v.got = token
	return v.claims, v.err
}

func protectedRouter(mws ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	handlers := append(mws, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"user":  c.GetInt(AuthUserKey),
			"role":  c.GetString(AuthRoleKey),
			"email": c.GetString(AuthEmailKey),
			"token": c.GetString(AuthTokenKey),
		})
	})
	r.GET("/protected", handlers...)
	return r
}

func TestJWTAuthMiddleware(t *testing.T) {
	validClaims := &utils.JWTClaims{
		UserID:           7,
		Role:             model.RoleUser,
		RegisteredClaims: jwt.RegisteredClaims{Subject: "jane@example.com"},
	}

	tests := []struct {
		name       string
		header     string
		validator  *stubValidator
		wantStatus int
	}{
		{name: "missing header", header: "", validator: &stubValidator{claims: validClaims}, wantStatus: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic abc", validator: &stubValidator{claims: validClaims}, wantStatus: http.StatusUnauthorized},
		{name: "empty token", header: "Bearer ", validator: &stubValidator{claims: validClaims}, wantStatus: http.StatusUnauthorized},
		{name: "rejected token", header: "Bearer revoked", validator: &stubValidator{err: errors.New("revoked")}, wantStatus: http.StatusUnauthorized},
		{name: "valid token", header: "Bearer good", validator: &stubValidator{claims: validClaims}, wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := protectedRouter(JWTAuthMiddleware(tt.validator))
			req := httptest.NewRequest(http.MethodGet, "/protected", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, "good", tt.validator.got)
				assert.JSONEq(t, `{"user":7,"role":"USER","email":"jane@example.com","token":"good"}`, w.Body.String())
			}
		})
	}
}

func TestRoleMiddleware(t *testing.T) {
	withRole := func(role string) gin.HandlerFunc {
		return func(c *gin.Context) {
			if role != "" {
				c.Set(AuthRoleKey, role)
			}
			c.Next()
		}
	}

	tests := []struct {
		name       string
		role       string
		wantStatus int
	}{
		{name: "admin allowed", role: model.RoleAdmin, wantStatus: http.StatusOK},
		{name: "user forbidden", role: model.RoleUser, wantStatus: http.StatusForbidden},
		{name: "no role", role: "", wantStatus: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := protectedRouter(withRole(tt.role), AdminMiddleware())
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/protected", nil))
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	base := logging.NewWithWriter(&buf, "info")

	r := gin.New()
	r.Use(RequestLogger(base))
	r.GET("/ping", func(c *gin.Context) {
		logging.FromContext(c.Request.Context()).Info("inside handler")
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "req-123", w.Header().Get(RequestIDHeader))
	out := buf.String()
	assert.Contains(t, out, `"msg":"inside handler"`)
	assert.Contains(t, out, `"request_id":"req-123"`)
	assert.Contains(t, out, `"status":204`)
}

func TestRequestLogger_GeneratesRequestID(t *testing.T) {
	r := gin.New()
	r.Use(RequestLogger(logging.NewWithWriter(&bytes.Buffer{}, "info")))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
}

func TestCORSMiddleware(t *testing.T) {
	r := gin.New()
	r.Use(CORSMiddleware("http://localhost:3000"))
	r.POST("/api/v1/auth/authenticate", func(c *gin.Context) { c.Status(http.StatusOK) })

	t.Run("preflight from allowed origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/auth/authenticate", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		require.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
		assert.Equal(t, "3600", w.Header().Get("Access-Control-Max-Age"))
		allowed := w.Header().Get("Access-Control-Allow-Headers")
		assert.Contains(t, allowed, "Authorization")
		assert.Contains(t, allowed, "Cache-Control")
		assert.Contains(t, allowed, "Content-Type")
	})

	t.Run("simple request exposes header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/authenticate", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "X-Get-Header", w.Header().Get("Access-Control-Expose-Headers"))
	})

	t.Run("other origin rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/authenticate", nil)
		req.Header.Set("Origin", "http://evil.example")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})
}
