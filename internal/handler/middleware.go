// Package handler exposes the trigger surface of the story server as
// a gin REST API. Authentication itself happens upstream; the handlers
// trust the X-User-ID header set by the gateway.
package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"story-server/internal/models"
)

// userIDContextKey is the gin context key holding the caller's id.
const userIDContextKey = "userID"

// userIDHeader carries the authenticated user id from the upstream
// gateway.
const userIDHeader = "X-User-ID"

// UserIdentity extracts the caller's id from the gateway header and
// aborts with 401 when it is missing or malformed.
func UserIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(userIDHeader)
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, apiError{Message: "missing " + userIDHeader + " header"})
			return
		}
		userID, err := uuid.Parse(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, apiError{Message: "invalid " + userIDHeader + " header"})
			return
		}
		c.Set(userIDContextKey, userID)
		c.Next()
	}
}

// getUserID reads the id stored by UserIdentity. The middleware runs
// on every protected route, so a miss is a programming error reported
// as 500.
func getUserID(c *gin.Context) (uuid.UUID, bool) {
	value, exists := c.Get(userIDContextKey)
	if !exists {
		c.AbortWithStatusJSON(http.StatusInternalServerError, apiError{Message: models.ErrInternalServer.Error()})
		return uuid.Nil, false
	}
	userID, ok := value.(uuid.UUID)
	if !ok {
		c.AbortWithStatusJSON(http.StatusInternalServerError, apiError{Message: models.ErrInternalServer.Error()})
		return uuid.Nil, false
	}
	return userID, true
}

// RequestLogger logs every request with zap, skipping the health and
// metrics endpoints.
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if path == "/health" || path == "/metrics" {
			c.Next()
			return
		}

		c.Next()

		latency := time.Since(start)
		if query := c.Request.URL.RawQuery; query != "" {
			path = path + "?" + query
		}

		fields := []zap.Field{
			zap.Int("status", c.Writer.Status()),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("ip", c.ClientIP()),
			zap.Duration("latency", latency),
		}

		if len(c.Errors) > 0 {
			for _, ginErr := range c.Errors.ByType(gin.ErrorTypeAny) {
				logger.Error("Request error", append(fields, zap.Error(ginErr.Err))...)
			}
			return
		}

		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			logger.Error("Request", fields...)
		case c.Writer.Status() >= http.StatusBadRequest:
			logger.Warn("Request", fields...)
		default:
			logger.Info("Request", fields...)
		}
	}
}
