package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// RequestIDKey is the gin context key handlers read the ID back from.
	RequestIDKey = "request_id"
	// RequestIDHeader is honored when the caller supplies its own ID.
	RequestIDHeader = "X-Request-ID"
)

// RequestIDMiddleware tags every request with an ID for log correlation and
// echoes it in the response headers.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(RequestIDKey, id)
		c.Writer.Header().Set(RequestIDHeader, id)
		c.Next()
	}
}
