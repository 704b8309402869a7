// Usage analytics HTTP handlers.
//
//   - GET /analytics/usage?from&to&apiKeyId
//   - GET /analytics/summary
//   - GET /analytics/api-keys/{id}
package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbourn/visa-eval-backend/internal/services"
)

// parseTimeParam accepts RFC 3339 timestamps or plain dates. Plain dates used
// as an upper bound cover the whole day.
func parseTimeParam(v string, endOfDay bool) (time.Time, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, true
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), true
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, false
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, true
}

// UsageAnalytics godoc
// @ID          usageAnalytics
// @Summary     API usage analytics
// @Tags        Analytics
// @Produce     json
// @Security    BearerAuth
// @Security    ApiKeyAuth
// @Param       from      query  string  false "Start (RFC 3339 or YYYY-MM-DD)"
// @Param       to        query  string  false "End (RFC 3339 or YYYY-MM-DD)"
// @Param       apiKeyId  query  string  false "Restrict to one API key"
// @Success     200  {object}  handlers.SuccessResponse{data=services.UsageAnalytics}
// @Failure     400  {object}  handlers.ErrorResponse
// @Router      /analytics/usage [get]
func (h *Handlers) UsageAnalytics(c *gin.Context) {
	from, okFrom := parseTimeParam(c.Query("from"), false)
	to, okTo := parseTimeParam(c.Query("to"), true)
	if !okFrom || !okTo {
		fail(c, http.StatusBadRequest, ErrCodeValidation, "from and to must be RFC 3339 timestamps or YYYY-MM-DD dates")
		return
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		fail(c, http.StatusBadRequest, ErrCodeValidation, "to must not be before from")
		return
	}

	a, err := h.usage.Analytics(c.Request.Context(), userID(c), services.AnalyticsFilter{
		From:     from,
		To:       to,
		APIKeyID: strings.TrimSpace(c.Query("apiKeyId")),
	})
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, a)
}

// UsageSummary godoc
// @ID          usageSummary
// @Summary     Plan and quota of the current period
// @Tags        Analytics
// @Produce     json
// @Security    BearerAuth
// @Security    ApiKeyAuth
// @Success     200  {object}  handlers.SuccessResponse{data=services.UsageSummary}
// @Router      /analytics/summary [get]
func (h *Handlers) UsageSummary(c *gin.Context) {
	s, err := h.usage.Summary(c.Request.Context(), userID(c))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, s)
}

// APIKeyUsage godoc
// @ID          apiKeyUsage
// @Summary     Usage of one API key
// @Tags        Analytics
// @Produce     json
// @Security    BearerAuth
// @Param       id  path  string  true  "API key ID (UUID)"  format(uuid)
// @Success     200  {object}  handlers.SuccessResponse{data=services.KeyUsage}
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /analytics/api-keys/{id} [get]
func (h *Handlers) APIKeyUsage(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "api key id must be a UUID")
		return
	}
	ku, err := h.usage.KeyUsage(c.Request.Context(), userID(c), id)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, ku)
}
