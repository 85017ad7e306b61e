package middleware

import (
	"context"
	"fmt"
	"time"

	"zonecast/pkg/logger"
	"zonecast/pkg/utils"

	"github.com/gin-gonic/gin"
)

// RequestLoggingMiddleware stamps every request with a correlation id
// and logs it on completion.
func RequestLoggingMiddleware(contextLogger *logger.ContextLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		ctx := context.WithValue(c.Request.Context(), logger.ContextKeyRequestID, utils.GenerateRequestID())
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		if userID, ok := c.Get("user_id"); ok {
			ctx = context.WithValue(ctx, logger.ContextKeyUserID, fmt.Sprint(userID))
		}

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		contextLogger.LogRequest(ctx, c.Request.Method, path, c.Writer.Status(), time.Since(start).Milliseconds())
	}
}
