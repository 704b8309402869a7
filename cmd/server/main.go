// Command server runs the visa document evaluation API.
//
//	@title						Visa Evaluation API
//	@version					1.0
//	@description				Uploads visa application documents, analyses them with an LLM and returns a scored evaluation.
//	@BasePath					/api
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@securityDefinitions.apikey	ApiKeyAuth
//	@in							header
//	@name						X-API-Key
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	_ "github.com/tbourn/visa-eval-backend/docs"
	"github.com/tbourn/visa-eval-backend/internal/billing"
	"github.com/tbourn/visa-eval-backend/internal/cache"
	"github.com/tbourn/visa-eval-backend/internal/config"
	httpapi "github.com/tbourn/visa-eval-backend/internal/http"
	"github.com/tbourn/visa-eval-backend/internal/llm"
	"github.com/tbourn/visa-eval-backend/internal/observability"
	"github.com/tbourn/visa-eval-backend/internal/repo"
	"github.com/tbourn/visa-eval-backend/internal/services"
	"github.com/tbourn/visa-eval-backend/internal/storage"
	"github.com/tbourn/visa-eval-backend/internal/sysutil"
	"github.com/tbourn/visa-eval-backend/internal/visadata"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	_ = godotenv.Load()

	cfg := config.MustLoad()
	ver := sysutil.FirstNonEmpty(os.Getenv("APP_VERSION"), version)

	sysutil.SetLogLevel(cfg.LogLevel)
	log.Logger = sysutil.NewLogger(os.Stdout, cfg.LogPretty, cfg.OTEL.ServiceName)
	zerolog.DefaultContextLogger = &log.Logger

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, ver)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}

	db, err := repo.OpenSQLite(cfg.DBPath, repo.Options{Silent: cfg.GinMode == gin.ReleaseMode})
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate database")
	}
	if err := repo.SeedPlans(ctx, db, repo.DefaultPlans(cfg.Billing.FreePlanCallLimit)); err != nil {
		log.Fatal().Err(err).Msg("seed plans")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		log.Fatal().Err(err).Msg("snowflake node")
	}

	catalog := visadata.Default()
	quota := &services.QuotaService{DB: db, FreeLimit: cfg.Billing.FreePlanCallLimit}

	evals := &services.EvaluationService{
		DB:          db,
		Quota:       quota,
		Catalog:     catalog,
		MaxFiles:    cfg.MaxFiles,
		MaxFileSize: cfg.MaxFileSize,
		LLMTimeout:  cfg.LLM.Timeout,
		URLExpiry:   cfg.Storage.URLExpiry,
	}
	if cfg.LLMConfigured() {
		client, err := llm.New(cfg.LLM)
		if err != nil {
			log.Fatal().Err(err).Msg("llm client")
		}
		evals.Analyzer = client
	} else {
		log.Warn().Msg("OPENAI_API_KEY not set; evaluations will fail with configuration_error")
	}
	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("bucket", cfg.Storage.Bucket).Msg("object storage")
	}
	evals.Store = store

	subs := &services.SubscriptionService{
		DB:            db,
		Quota:         quota,
		WebhookSecret: cfg.Billing.StripeWebhookSecret,

		SuccessURL:      cfg.Billing.CheckoutSuccessURL,
		CancelURL:       cfg.Billing.CheckoutCancelURL,
		PortalReturnURL: cfg.Billing.PortalReturnURL,
	}
	if cfg.BillingConfigured() {
		provider, err := billing.NewStripe(cfg.Billing.StripeSecretKey)
		if err != nil {
			log.Fatal().Err(err).Msg("billing provider")
		}
		subs.Provider = provider
	}

	auth := &services.AuthService{
		DB:        db,
		JWTSecret: []byte(cfg.Auth.JWTSecret),
		JWTTTL:    cfg.Auth.JWTTTL,
		KeyCache:  cache.NewTTL[string, services.Principal](cfg.Auth.APIKeyCache),
	}
	usage := &services.UsageService{DB: db, Node: node, Quota: quota, TTL: cfg.Usage.TTL}

	bg, cancelBG := context.WithCancel(context.Background())
	go usage.RunSweeper(bg, cfg.Usage.SweepInterval)
	go purgeIdempotency(bg, db, cfg.IdempotencyTTL)

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, db, httpapi.Services{
		Auth:          auth,
		Evaluations:   evals,
		Subscriptions: subs,
		Usage:         usage,
		Catalog:       catalog,
	}, cfg)

	srv := &http.Server{
		Addr:              sysutil.ListenAddr(cfg.Port),
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", ver).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	cancelBG()
	usage.Wait()
	if err := shutdownOTel(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("otel shutdown")
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	log.Info().Msg("server exited")
}

// purgeIdempotency deletes expired idempotency records until ctx is done.
func purgeIdempotency(ctx context.Context, db *gorm.DB, ttl time.Duration) {
	every := ttl / 4
	if every < time.Minute {
		every = time.Minute
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			n, err := repo.PurgeExpiredIdempotency(ctx, db, now.UTC())
			if err != nil {
				log.Warn().Err(err).Msg("idempotency purge failed")
				continue
			}
			if n > 0 {
				log.Debug().Int64("deleted", n).Msg("idempotency purge")
			}
		}
	}
}

// openStore returns the S3 store when configured. Otherwise debug and test
// modes get an in-memory store and release mode gets nil, which makes
// evaluation creation fail with configuration_error.
func openStore(ctx context.Context, cfg config.Config) (storage.Store, error) {
	if cfg.StorageConfigured() {
		store, err := storage.NewS3Store(cfg.Storage)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("ensure bucket: %w", err)
		}
		return store, nil
	}
	if cfg.GinMode != gin.ReleaseMode {
		log.Warn().Str("gin_mode", cfg.GinMode).Msg("object storage not configured; keeping uploads in memory")
		return storage.NewMemoryStore(), nil
	}
	log.Warn().Msg("object storage not configured; evaluations will fail with configuration_error")
	return nil, nil
}
