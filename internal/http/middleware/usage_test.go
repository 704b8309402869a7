package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/visa-eval-backend/internal/services"
)

type captureRecorder struct {
	mu   sync.Mutex
	recs []services.UsageRecord
}

func (c *captureRecorder) Record(_ context.Context, r services.UsageRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recs = append(c.recs, r)
}

func TestTrackUsage_RecordsAPIKeyTrafficOnly(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := &captureRecorder{}

	r := gin.New()
	r.Use(RequestID())
	r.Use(Authenticate(newFakeAuth()))
	r.Use(TrackUsage(rec))
	r.POST("/api/evaluations", func(c *gin.Context) {
		SetUsageMetadata(c, map[string]any{"country": "US", "documentCount": 2})
		c.Status(http.StatusCreated)
	})
	r.GET("/api/evaluations/:id", func(c *gin.Context) {
		abortError(c, http.StatusNotFound, "not_found", "evaluation not found")
	})

	send := func(method, path, header, value string) {
		req := httptest.NewRequest(method, path, nil)
		req.Header.Set(header, value)
		req.Header.Set("User-Agent", "unit/1.0")
		r.ServeHTTP(httptest.NewRecorder(), req)
	}
	send(http.MethodPost, "/api/evaluations", HeaderAPIKey, "vk_good")
	send(http.MethodGet, "/api/evaluations/e1", HeaderAPIKey, "vk_good")
	send(http.MethodPost, "/api/evaluations", "Authorization", "Bearer jwt-good")

	if len(rec.recs) != 2 {
		t.Fatalf("expected 2 records (jwt skipped), got %d", len(rec.recs))
	}

	ok := rec.recs[0]
	if ok.UserID != "u1" || ok.APIKeyID != "k1" || ok.Endpoint != "/api/evaluations" ||
		ok.Method != http.MethodPost || ok.StatusCode != http.StatusCreated || ok.UserAgent != "unit/1.0" {
		t.Fatalf("unexpected record: %+v", ok)
	}
	if ok.Metadata["country"] != "US" || ok.ErrorMessage != "" || ok.Timestamp.IsZero() {
		t.Fatalf("unexpected metadata/error: %+v", ok)
	}

	failed := rec.recs[1]
	if failed.Endpoint != "/api/evaluations/:id" || failed.StatusCode != http.StatusNotFound ||
		failed.ErrorMessage != "evaluation not found" {
		t.Fatalf("unexpected failure record: %+v", failed)
	}
}

func TestTrackUsage_RejectedAuthIsNotRecorded(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := &captureRecorder{}

	r := gin.New()
	r.Use(Authenticate(newFakeAuth()))
	r.Use(TrackUsage(rec))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(HeaderAPIKey, "vk_bad")
	r.ServeHTTP(httptest.NewRecorder(), req)

	if len(rec.recs) != 0 {
		t.Fatalf("expected no records, got %d", len(rec.recs))
	}
}
