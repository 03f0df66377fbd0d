package response

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/stemsi/interview-engine/internal/client"
)

// ContextKeyRequestID is the Gin context key for the request ID.
const ContextKeyRequestID = "request_id"

// RequestIDMiddleware assigns every request an ID and carries it into the
// request context so outbound interview API calls reuse it.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.GetHeader("X-Request-ID")
		if reqID == "" {
			reqID = uuid.New().String()
		}
		c.Set(ContextKeyRequestID, reqID)
		c.Header("X-Request-ID", reqID)
		c.Request = c.Request.WithContext(client.WithRequestID(c.Request.Context(), reqID))
		c.Next()
	}
}
