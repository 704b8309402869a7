// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file records API-key traffic in the usage audit log once the response
// has been produced. JWT (dashboard) traffic is not audited.
package middleware

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/visa-eval-backend/internal/services"
)

const (
	ctxKeyUsageMeta = "usage.meta"
	ctxKeyErrorMsg  = "error.message"
)

// UsageRecorder persists usage records without blocking the caller.
type UsageRecorder interface {
	Record(ctx context.Context, r services.UsageRecord)
}

// SetUsageMetadata attaches request-specific details to the usage record.
func SetUsageMetadata(c *gin.Context, meta map[string]any) {
	c.Set(ctxKeyUsageMeta, meta)
}

// SetErrorMessage remembers the error message sent to the client.
func SetErrorMessage(c *gin.Context, msg string) {
	c.Set(ctxKeyErrorMsg, msg)
}

// TrackUsage records every API-key-authenticated request handled after it.
// It must be mounted after Authenticate.
func TrackUsage(rec UsageRecorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		p, ok := PrincipalFrom(c)
		if !ok || p.Method != services.AuthAPIKey {
			return
		}
		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = c.Request.URL.Path
		}
		r := services.UsageRecord{
			UserID:       p.UserID,
			APIKeyID:     p.APIKeyID,
			Endpoint:     endpoint,
			Method:       c.Request.Method,
			StatusCode:   c.Writer.Status(),
			ResponseTime: time.Since(start),
			IPAddress:    c.ClientIP(),
			UserAgent:    c.Request.UserAgent(),
			Timestamp:    start.UTC(),
		}
		if v, ok := c.Get(ctxKeyErrorMsg); ok {
			r.ErrorMessage = asString(v)
		}
		if v, ok := c.Get(ctxKeyUsageMeta); ok {
			r.Metadata, _ = v.(map[string]any)
		}
		rec.Record(c.Request.Context(), r)
	}
}
