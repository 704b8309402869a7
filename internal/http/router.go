// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// compression, CORS, security headers, authentication, usage tracking,
// idempotency, and rate limiting.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/visa-eval-backend/internal/config"
	"github.com/tbourn/visa-eval-backend/internal/http/handlers"
	"github.com/tbourn/visa-eval-backend/internal/http/middleware"
	"github.com/tbourn/visa-eval-backend/internal/repo"
	"github.com/tbourn/visa-eval-backend/internal/services"
	"github.com/tbourn/visa-eval-backend/internal/visadata"
)

const (
	// defaultBodyLimit applies to every route without an override.
	defaultBodyLimit = 1 << 20
	// multipartOverhead covers form fields and part headers of an upload.
	multipartOverhead = 1 << 20
)

// Services are the application services exposed over HTTP.
type Services struct {
	Auth          *services.AuthService
	Evaluations   *services.EvaluationService
	Subscriptions *services.SubscriptionService
	Usage         *services.UsageService
	Catalog       *visadata.Catalog
}

// idemRepoShim adapts the repository free functions to the
// handlers.IdempotencyStore interface.
type idemRepoShim struct {
	db  *gorm.DB
	ttl time.Duration
}

// Lookup proxies repo.GetIdempotency.
func (s idemRepoShim) Lookup(ctx context.Context, userID, scope, key string) (string, bool, error) {
	rec, err := repo.GetIdempotency(ctx, s.db, userID, scope, key, time.Now().UTC())
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return "", false, nil
	case err != nil:
		return "", false, err
	}
	return rec.ResourceID, true, nil
}

// Save proxies repo.CreateIdempotency. A concurrent duplicate is not an error.
func (s idemRepoShim) Save(ctx context.Context, userID, scope, key, resourceID string, status int) error {
	_, err := repo.CreateIdempotency(ctx, s.db, userID, scope, key, resourceID, status, s.ttl)
	if errors.Is(err, repo.ErrDuplicate) {
		return nil
	}
	return err
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter (per route)
//  6. Metrics
//  7. Gzip, CORS and security headers
//
// Per group: Authenticate → TrackUsage → Idempotency validator → rate limiter.
// The validator runs before the limiter so replays bypass it.
func RegisterRoutes(r *gin.Engine, db *gorm.DB, svc Services, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{}))
	r.Use(middleware.Recovery())

	base := normalizeBase(cfg.APIBasePath)
	r.Use(limitBody(defaultBodyLimit, map[string]int64{
		http.MethodPost + " " + base + "/evaluations": uploadLimit(cfg),
	}))

	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))
	r.Use(corsMiddleware(cfg.CORS))
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		EnablePolicy: true,
	}))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", healthHandler(db))
	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	h := handlers.New(handlers.Deps{
		Auth:          svc.Auth,
		Evaluations:   svc.Evaluations,
		Subscriptions: svc.Subscriptions,
		Usage:         svc.Usage,
		Catalog:       svc.Catalog,
		Idempotency:   idemRepoShim{db: db, ttl: cfg.IdempotencyTTL},
		Stats: func(ctx context.Context, userID string) (int64, *time.Time, error) {
			return repo.EvaluationsStats(ctx, db, userID)
		},
	})

	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByCaller())
	authAny := middleware.Authenticate(svc.Auth)
	authJWT := middleware.Authenticate(svc.Auth, services.AuthJWT)
	track := middleware.TrackUsage(svc.Usage)
	idem := middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{MaxLen: 200},
		func(ctx context.Context, userID, scope, key string, now time.Time) (bool, error) {
			rec, err := repo.GetIdempotency(ctx, db, userID, scope, key, now)
			return err == nil && rec != nil, nil
		},
	)

	api := groupWithPrefix(r, base)

	// Accounts; responses may carry credentials.
	auth := api.Group("/auth", middleware.SecurityHeaders(middleware.SecurityOptions{NoStore: true}))
	{
		auth.POST("/signup", rl.Handler(), h.Signup)
		auth.POST("/login", rl.Handler(), h.Login)
		auth.GET("/me", authAny, track, rl.Handler(), h.Me)

		keys := auth.Group("/api-keys", authJWT, rl.Handler())
		keys.POST("", h.CreateAPIKey)
		keys.GET("", h.ListAPIKeys)
		keys.DELETE("/:id", h.DeactivateAPIKey)
	}

	// Public reference data.
	public := api.Group("", rl.Handler())
	{
		public.GET("/visa-config", h.ListVisaConfig)
		public.GET("/visa-config/:country", h.GetCountryVisaConfig)
		public.GET("/visa-config/:country/:visaType", h.GetVisaTypeConfig)
		public.GET("/subscription/plans", h.ListPlans)
	}

	// Authenticated API.
	authed := api.Group("", authAny, track, idem, rl.Handler())
	{
		authed.POST("/evaluations", h.CreateEvaluation)
		authed.GET("/evaluations", h.ListEvaluations)
		authed.GET("/evaluations/:id", h.GetEvaluation)
		authed.DELETE("/evaluations/:id", h.DeleteEvaluation)

		authed.GET("/subscription/status", h.SubscriptionStatus)
		authed.GET("/subscription/usage", h.SubscriptionUsage)
		authed.POST("/subscription/cancel", h.CancelSubscription)
		authed.POST("/subscription/create-checkout", h.CreateCheckout)
		authed.POST("/subscription/billing-portal", h.BillingPortal)

		authed.GET("/analytics/usage", h.UsageAnalytics)
		authed.GET("/analytics/summary", h.UsageSummary)
	}
	api.GET("/analytics/api-keys/:id", authJWT, rl.Handler(), h.APIKeyUsage)

	// Billing provider callbacks are authenticated by signature.
	api.POST("/webhook/stripe", h.StripeWebhook)
}

// uploadLimit is the body cap of the evaluation upload route.
func uploadLimit(cfg config.Config) int64 {
	files, size := int64(cfg.MaxFiles), cfg.MaxFileSize
	if files <= 0 {
		files = 10
	}
	if size <= 0 {
		size = 10 << 20
	}
	return files*size + multipartOverhead
}

// limitBody caps request bodies with http.MaxBytesReader. perRoute overrides
// the default for "METHOD /full/path" keys.
func limitBody(defaultMax int64, perRoute map[string]int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := defaultMax
		if v, ok := perRoute[c.Request.Method+" "+c.FullPath()]; ok {
			limit = v
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}

// corsMiddleware allows every origin without credentials when no allowlist is
// configured, otherwise only the listed origins.
func corsMiddleware(cfg config.CORSConfig) gin.HandlerFunc {
	cc := cors.Config{
		AllowMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders: []string{
			"Origin", "Content-Type", "Accept", "Authorization",
			middleware.HeaderAPIKey, middleware.HeaderIdempotencyKey,
		},
		ExposeHeaders: []string{"X-Request-ID", "Content-Length", "ETag", middleware.HeaderIdempotencyReplayed},
		MaxAge:        12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) == 0 {
		cc.AllowAllOrigins = true
	} else {
		cc.AllowOrigins = cfg.AllowedOrigins
	}
	return cors.New(cc)
}

// healthHandler reports liveness and database reachability.
func healthHandler(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		status, dbState := http.StatusOK, "ok"
		if sqlDB, err := db.DB(); err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
			status, dbState = http.StatusServiceUnavailable, "unavailable"
		}
		c.JSON(status, gin.H{
			"success": status == http.StatusOK,
			"status":  http.StatusText(status),
			"checks":  gin.H{"database": dbState},
			"time":    time.Now().UTC(),
		})
	}
}

func normalizeBase(prefix string) string {
	if prefix == "/" {
		return ""
	}
	return prefix
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
