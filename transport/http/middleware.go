package http

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// ControlTokenMiddleware rejects requests that do not carry token as a bearer credential
func ControlTokenMiddleware(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")

		// Check if the Authorization header is present and in correct format
		if len(auth) < 8 || auth[:7] != "Bearer " {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization header"})
			return
		}

		if subtle.ConstantTimeCompare([]byte(auth[7:]), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}

		c.Next()
	}
}
