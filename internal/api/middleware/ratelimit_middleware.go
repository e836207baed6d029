package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/JebGy/parkingiot/internal/ratelimit"
)

// RateLimit giới hạn số request theo IP client trong một cửa sổ cố định.
// Vượt ngưỡng trả 429 kèm Retry-After.
func RateLimit(store *ratelimit.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		result := store.Consume(c.ClientIP())

		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", result.Remaining))
		c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", result.Reset.Unix()))

		if !result.Allowed {
			retryAfter := int(time.Until(result.Reset).Seconds()) + 1
			c.Header("Retry-After", fmt.Sprintf("%d", retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Quá nhiều request, thử lại sau"})
			return
		}
		c.Next()
	}
}
