package middleware

import "github.com/gin-gonic/gin"

// NoStore marks responses as uncacheable. Practice responses carry answer
// keys and per-principal state.
func NoStore() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", "no-store")
		c.Header("Pragma", "no-cache")
		c.Next()
	}
}
