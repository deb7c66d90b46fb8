package middleware

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// CORS allows the marketing site and dashboard origins to call the API with
// credentials.
func CORS(origins []string) gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-API-KEY", VisitorHeader, "X-Requested-With"},
		ExposeHeaders:    []string{VisitorHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}
