// Package handlers provides HTTP handler implementations for the public API.
//
// This file defines the response envelopes shared by every endpoint:
//
//	HTTP/1.1 200 OK
//	{ "success": true, "data": { ... } }
//
//	HTTP/1.1 404 Not Found
//	{
//	  "success": false,
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "not_found",
//	  "message": "evaluation not found"
//	}
//
// Quota rejections add a "quota" object and pipeline failures that left a
// stored evaluation add "evaluationId".
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/visa-eval-backend/internal/http/middleware"
)

// SuccessResponse wraps every successful payload.
type SuccessResponse struct {
	Success bool `json:"success" example:"true"`
	Data    any  `json:"data"`
}

// QuotaInfo is attached to 429 quota rejections.
type QuotaInfo struct {
	Limit     int        `json:"limit"     example:"5"`
	Used      int        `json:"used"      example:"5"`
	Remaining int        `json:"remaining" example:"0"`
	Plan      string     `json:"plan"      example:"free"`
	PeriodEnd *time.Time `json:"periodEnd,omitempty"`
}

// ErrorResponse is the standard error envelope returned by all endpoints.
type ErrorResponse struct {
	Success bool `json:"success" example:"false"`
	// Correlates server logs and client errors
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go constants)
	Code string `json:"code" example:"not_found"`
	// Human-readable message (safe to show to users)
	Message string `json:"message" example:"resource not found"`

	Quota        *QuotaInfo `json:"quota,omitempty"`
	EvaluationID string     `json:"evaluationId,omitempty"`
}

// fail aborts the request with a structured error. Server errors are logged
// with the request-scoped logger.
func fail(c *gin.Context, status int, code, msg string) {
	abort(c, status, ErrorResponse{Code: code, Message: msg})
}

func abort(c *gin.Context, status int, resp ErrorResponse) {
	resp.Success = false
	resp.RequestID = middleware.RequestIDFrom(c)
	middleware.SetErrorMessage(c, resp.Message)

	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", resp.Code).
			Str("message", resp.Message).
			Msg("api error")
	}

	c.AbortWithStatusJSON(status, resp)
}

// Fail is the exported variant of fail() for the router.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// ok writes data inside the success envelope.
func ok(c *gin.Context, status int, data any) {
	c.JSON(status, SuccessResponse{Success: true, Data: data})
}

// noContent writes an HTTP 204 No Content response.
func noContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}
