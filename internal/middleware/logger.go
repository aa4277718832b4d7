package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/quellen-dev/lobbyd/pkg/logger"
)

// Logger writes a structured access log line per request. Websocket upgrades
// only return once the socket closes, so for those the line is emitted at
// teardown and duration is the lifetime of the connection.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method
		websocket := c.IsWebsocket()

		c.Next()

		fields := []zap.Field{
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}

		if websocket {
			logger.WithModule("http").Info("websocket closed", fields...)
			return
		}

		fields = append(fields, zap.String("user_agent", c.Request.UserAgent()))
		logger.WithModule("http").Info("request", fields...)
	}
}
