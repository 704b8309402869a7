package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/visa-eval-backend/internal/http/middleware"
	"github.com/tbourn/visa-eval-backend/internal/services"
)

func runHandler(fn gin.HandlerFunc) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.RequestID())
	r.GET("/x", fn)
	return doReq(r, http.MethodGet, "/x", nil, withHeader("X-Request-ID", "rid-123"))
}

func TestFail_WritesEnvelopeWithRequestID(t *testing.T) {
	w := runHandler(func(c *gin.Context) {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "evaluation not found")
	})
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
	e := decodeError(t, w)
	if e.Code != ErrCodeNotFound || e.Message != "evaluation not found" || e.RequestID != "rid-123" {
		t.Fatalf("unexpected envelope: %+v", e)
	}
	if e.Quota != nil || e.EvaluationID != "" {
		t.Fatalf("optional members should be omitted: %s", w.Body.String())
	}
}

func TestOK_WrapsData(t *testing.T) {
	w := runHandler(func(c *gin.Context) { ok(c, http.StatusOK, map[string]int{"n": 1}) })
	var got map[string]int
	decodeData(t, w, &got)
	if got["n"] != 1 {
		t.Fatalf("data = %v", got)
	}
}

func TestFailErr_QuotaExceeded(t *testing.T) {
	end := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)
	w := runHandler(func(c *gin.Context) {
		failErr(c, fmt.Errorf("admit: %w", &services.QuotaExceededError{Limit: 3, Used: 3, Plan: "free", PeriodEnd: &end}))
	})
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d", w.Code)
	}
	e := decodeError(t, w)
	if e.Code != ErrCodeQuotaExceeded || e.Quota == nil {
		t.Fatalf("unexpected envelope: %s", w.Body.String())
	}
	if strings.Contains(e.Message, "monthly") {
		t.Fatalf("message must fit yearly plans too: %q", e.Message)
	}
	if e.Quota.Limit != 3 || e.Quota.Used != 3 || e.Quota.Remaining != 0 || e.Quota.Plan != "free" {
		t.Fatalf("quota = %+v", *e.Quota)
	}
	if e.Quota.PeriodEnd == nil || !e.Quota.PeriodEnd.Equal(end) {
		t.Fatalf("periodEnd = %v", e.Quota.PeriodEnd)
	}
}

func TestFailErr_InternalHidesMessage(t *testing.T) {
	w := runHandler(func(c *gin.Context) {
		failErr(c, errors.New("database is on fire"))
	})
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", w.Code)
	}
	if e := decodeError(t, w); e.Code != ErrCodeInternal || e.Message != "internal server error" {
		t.Fatalf("unexpected envelope: %+v", e)
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{services.ErrMissingFields, http.StatusBadRequest, ErrCodeValidation},
		{fmt.Errorf("%w: X for country Y", services.ErrVisaTypeNotFound), http.StatusBadRequest, ErrCodeValidation},
		{services.ErrNoDocuments, http.StatusBadRequest, ErrCodeValidation},
		{services.ErrTooManyFiles, http.StatusBadRequest, ErrCodeTooManyFiles},
		{services.ErrUnsupportedFileType, http.StatusBadRequest, ErrCodeUnsupportedFileType},
		{services.ErrFileTooLarge, http.StatusRequestEntityTooLarge, ErrCodeFileTooLarge},
		{services.ErrInvalidSignature, http.StatusBadRequest, ErrCodeInvalidSignature},
		{services.ErrInvalidCredentials, http.StatusUnauthorized, ErrCodeUnauthorized},
		{services.ErrEmailTaken, http.StatusConflict, ErrCodeConflict},
		{services.ErrEvaluationNotFound, http.StatusNotFound, ErrCodeNotFound},
		{services.ErrNoSubscription, http.StatusNotFound, ErrCodeNotFound},
		{services.ErrConfiguration, http.StatusInternalServerError, ErrCodeConfiguration},
		{services.ErrWebhookNotConfigured, http.StatusInternalServerError, ErrCodeConfiguration},
		{fmt.Errorf("%w: timeout", services.ErrAnalysisFailed), http.StatusInternalServerError, ErrCodeAnalysisFailed},
		{errors.New("boom"), http.StatusInternalServerError, ErrCodeInternal},
	}
	for _, tc := range cases {
		status, code := statusFor(tc.err)
		if status != tc.status || code != tc.code {
			t.Errorf("statusFor(%v) = %d %s; want %d %s", tc.err, status, code, tc.status, tc.code)
		}
	}
}
