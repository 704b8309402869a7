// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// Codes are lowercase snake_case. Generic codes mirror HTTP status semantics;
// domain codes name failures that status alone cannot convey. Clients branch
// on the code, never on the message.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/visa-eval-backend/internal/services"
)

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeValidation       = "validation_error"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeForbidden        = "forbidden"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodePayloadTooLarge  = "payload_too_large"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeInternal         = "internal_error"

	// Domain-specific:
	ErrCodeQuotaExceeded       = "quota_exceeded"
	ErrCodeUnsupportedFileType = "unsupported_file_type"
	ErrCodeFileTooLarge        = "file_too_large"
	ErrCodeTooManyFiles        = "too_many_files"
	ErrCodeAnalysisFailed      = "analysis_failed"
	ErrCodeConfiguration       = "configuration_error"
	ErrCodeInvalidSignature    = "invalid_signature"
)

// failErr translates a service error into the matching status and code.
// Unknown errors become an opaque 500.
func failErr(c *gin.Context, err error) {
	var qe *services.QuotaExceededError
	if errors.As(err, &qe) {
		abort(c, http.StatusTooManyRequests, ErrorResponse{
			Code:    ErrCodeQuotaExceeded,
			Message: "analysis quota exceeded for the current billing period, upgrade your plan to continue",
			Quota: &QuotaInfo{
				Limit:     qe.Limit,
				Used:      qe.Used,
				Remaining: 0,
				Plan:      qe.Plan,
				PeriodEnd: qe.PeriodEnd,
			},
		})
		return
	}

	status, code := statusFor(err)
	msg := err.Error()
	if code == ErrCodeInternal {
		_ = c.Error(err)
		msg = "internal server error"
	}
	fail(c, status, code, msg)
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, services.ErrMissingFields),
		errors.Is(err, services.ErrVisaTypeNotFound),
		errors.Is(err, services.ErrNoDocuments),
		errors.Is(err, services.ErrInvalidSignup):
		return http.StatusBadRequest, ErrCodeValidation
	case errors.Is(err, services.ErrTooManyFiles):
		return http.StatusBadRequest, ErrCodeTooManyFiles
	case errors.Is(err, services.ErrUnsupportedFileType):
		return http.StatusBadRequest, ErrCodeUnsupportedFileType
	case errors.Is(err, services.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge, ErrCodeFileTooLarge
	case errors.Is(err, services.ErrInvalidSignature):
		return http.StatusBadRequest, ErrCodeInvalidSignature
	case errors.Is(err, services.ErrFreePlanCheckout),
		errors.Is(err, services.ErrInvalidRedirectURL):
		return http.StatusBadRequest, ErrCodeValidation
	case errors.Is(err, services.ErrUnknownPlan),
		errors.Is(err, services.ErrNoBillingAccount):
		return http.StatusBadRequest, ErrCodeBadRequest
	case errors.Is(err, services.ErrInvalidCredentials),
		errors.Is(err, services.ErrUnauthenticated):
		return http.StatusUnauthorized, ErrCodeUnauthorized
	case errors.Is(err, services.ErrEmailTaken):
		return http.StatusConflict, ErrCodeConflict
	case errors.Is(err, services.ErrEvaluationNotFound),
		errors.Is(err, services.ErrAPIKeyNotFound),
		errors.Is(err, services.ErrNoSubscription),
		errors.Is(err, services.ErrPlanNotFound):
		return http.StatusNotFound, ErrCodeNotFound
	case errors.Is(err, services.ErrConfiguration),
		errors.Is(err, services.ErrAuthNotConfigured),
		errors.Is(err, services.ErrWebhookNotConfigured),
		errors.Is(err, services.ErrBillingNotConfigured):
		return http.StatusInternalServerError, ErrCodeConfiguration
	case errors.Is(err, services.ErrAnalysisFailed):
		return http.StatusInternalServerError, ErrCodeAnalysisFailed
	}
	return http.StatusInternalServerError, ErrCodeInternal
}
