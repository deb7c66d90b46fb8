package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"edumarket/api/utils"
)

const TokenCookie = "jwt_token"

// AuthRequired accepts the static API key in X-API-KEY or a dashboard JWT
// from the cookie or a Bearer header. An empty apiKey disables the key path.
func AuthRequired(tokens *utils.TokenIssuer, apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key := c.GetHeader("X-API-KEY"); apiKey != "" && key != "" &&
			subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) == 1 {
			c.Set("auth_method", "api_key")
			c.Next()
			return
		}

		tokenString, err := c.Cookie(TokenCookie)
		if err != nil || tokenString == "" {
			tokenString = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		}
		if tokenString == "" {
			log.Debug().Str("path", c.FullPath()).Msg("No token in cookie or header")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: No token provided"})
			return
		}

		claims, err := tokens.Validate(tokenString)
		if err != nil {
			log.Debug().Err(err).Str("path", c.FullPath()).Msg("Rejected token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Invalid or expired token"})
			return
		}

		c.Set("auth_method", "jwt")
		c.Set("user_id", claims.UserID)
		c.Set("user_email", claims.Email)
		c.Next()
	}
}
