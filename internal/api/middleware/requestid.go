package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/blockwait/toolhost/internal/shared/id"
)

// RequestIDHeader carries the request identity on both sides.
const RequestIDHeader = "X-Request-ID"

// RequestID tags every request with a ULID unless the client supplied one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(RequestIDHeader)
		if rid == "" || !id.IsValid(rid) {
			rid = id.NewRequestID().String()
		}
		c.Set("request_id", rid)
		c.Header(RequestIDHeader, rid)
		c.Next()
	}
}
