package server

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	requestIDHeader     = "X-Request-ID"
	requestIDContextKey = "celebrations_request_id"
	maxRequestIDLength  = 128
)

// requestIDMiddleware propagates a caller supplied request id or issues a UUIDv7.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" || len(requestID) > maxRequestIDLength {
			requestID = newRequestID()
		}
		c.Set(requestIDContextKey, requestID)
		c.Header(requestIDHeader, requestID)
		c.Next()
	}
}

func newRequestID() string {
	value, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return value.String()
}

// requestLoggingMiddleware logs every request at debug level; production runs at info
// and therefore stays quiet.
func requestLoggingMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()

		if checked := logger.Check(zap.DebugLevel, "http request"); checked != nil {
			checked.Write(
				zap.String("method", c.Request.Method),
				zap.String("path", c.Request.URL.Path),
				zap.Int("status", c.Writer.Status()),
				zap.Float64("latency_ms", milliseconds(time.Since(started))),
				zap.String("request_id", c.GetString(requestIDContextKey)),
			)
		}
	}
}
