package middleware

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// CORSMiddleware allows browser calls from a single frontend origin
func CORSMiddleware(allowedOrigin string) gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins:     []string{allowedOrigin},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Cache-Control", "Content-Type"},
		ExposeHeaders:    []string{"X-Get-Header"},
		AllowCredentials: true,
		MaxAge:           3600 * time.Second,
	})
}
