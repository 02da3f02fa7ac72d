// Package middleware holds the gin middleware every intake route runs behind.
package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"leadpipe/pkg/errors"
	"leadpipe/pkg/logging"
)

const RequestIDHeader = "X-Request-ID"

// RequestLogger is the subset of logger.Logger the middleware needs.
type RequestLogger interface {
	DebugwCtx(ctx context.Context, msg string, keysAndValues ...interface{})
	InfowCtx(ctx context.Context, msg string, keysAndValues ...interface{})
	WarnwCtx(ctx context.Context, msg string, keysAndValues ...interface{})
	ErrorwCtx(ctx context.Context, msg string, keysAndValues ...interface{})
}

// probePaths are logged at debug so health polling does not drown the
// webhook traffic.
var probePaths = map[string]bool{
	"/health":  true,
	"/metrics": true,
}

// LoggerMiddleware writes one line per request. The request ID travels on
// the context, so it must run after RequestIDMiddleware.
func LoggerMiddleware(log RequestLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		ctx := c.Request.Context()
		status := c.Writer.Status()
		fields := []interface{}{
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"bytes", c.Writer.Size(),
		}
		if errs := c.Errors.ByType(gin.ErrorTypePrivate).String(); errs != "" {
			fields = append(fields, "error", errs)
		}

		switch {
		case status >= http.StatusInternalServerError:
			log.ErrorwCtx(ctx, "HTTP request", fields...)
		case status >= http.StatusBadRequest:
			log.WarnwCtx(ctx, "HTTP request", fields...)
		case probePaths[c.Request.URL.Path]:
			log.DebugwCtx(ctx, "HTTP request", fields...)
		default:
			log.InfowCtx(ctx, "HTTP request", fields...)
		}
	}
}

// RecoveryMiddleware turns a handler panic into a 500 with the standard
// error body. The stack goes to the log only.
func RecoveryMiddleware(log RequestLogger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		err := errors.RecoverPanic(recovered)
		fields := []interface{}{
			"error", err,
			"path", c.Request.URL.Path,
			"method", c.Request.Method,
		}
		if appErr, ok := err.(*errors.Error); ok {
			fields = append(fields, "stack_trace", appErr.Details["stack_trace"])
		}
		log.ErrorwCtx(c.Request.Context(), "Panic recovered", fields...)
		c.AbortWithStatusJSON(http.StatusInternalServerError, errors.ToErrorResponse(err))
	})
}

// RequestIDMiddleware propagates X-Request-ID, generating one when absent,
// and stores it on the request context for the *Ctx loggers.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(logging.RequestIDKey, requestID)
		c.Request = c.Request.WithContext(logging.WithRequestID(c.Request.Context(), requestID))
		c.Header(RequestIDHeader, requestID)
		c.Next()
	}
}
