// Package config provides application configuration loaded from environment
// variables with defaults and validation. It covers the HTTP server, logging,
// persistence, rate limiting, observability and the external collaborators of
// the evaluation pipeline (LLM provider, object storage, billing).
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// LLMConfig configures the chat-completion provider used for analysis.
type LLMConfig struct {
	APIKey      string        // OPENAI_API_KEY; empty disables analysis
	BaseURL     string        // OPENAI_BASE_URL; empty uses the provider default
	Model       string        // OPENAI_MODEL
	Timeout     time.Duration // LLM_TIMEOUT, bound on a single analysis call
	Temperature float64       // LLM_TEMPERATURE
	MaxTokens   int           // LLM_MAX_TOKENS
}

// StorageConfig configures the S3-compatible bucket holding uploaded documents.
type StorageConfig struct {
	Endpoint  string // STORAGE_ENDPOINT, host[:port] without scheme
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
	URLExpiry time.Duration // presigned GET lifetime
}

// AuthConfig configures bearer tokens and API key caching.
type AuthConfig struct {
	JWTSecret   string
	JWTTTL      time.Duration
	APIKeyCache time.Duration
}

// BillingConfig configures subscription plans and webhooks.
type BillingConfig struct {
	StripeSecretKey     string
	StripeWebhookSecret string
	FreePlanCallLimit   int
	// Default redirect targets for hosted checkout and the billing portal.
	CheckoutSuccessURL string
	CheckoutCancelURL  string
	PortalReturnURL    string
}

// UsageConfig configures the API usage audit log retention.
type UsageConfig struct {
	TTL           time.Duration
	SweepInterval time.Duration
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration // must exceed LLM.Timeout for synchronous evaluations
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	GinMode           string // debug|release|test

	// Logging / Docs
	LogLevel       string
	LogPretty      bool
	SwaggerEnabled bool
	APIBasePath    string

	// Persistence
	DBPath string

	// Rate limiting
	RateRPS   float64
	RateBurst int

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration

	// Uploads
	MaxFiles    int
	MaxFileSize int64

	// Collaborators
	LLM     LLMConfig
	Storage StorageConfig
	Auth    AuthConfig
	Billing BillingConfig
	Usage   UsageConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	frontend := strings.TrimRight(getenv("FRONTEND_URL", "http://localhost:3000"), "/")
	cfg := Config{
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 30*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 150*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api")),

		DBPath: getenv("DB_PATH", "visa.db"),

		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		MaxFiles:    getint("UPLOAD_MAX_FILES", 10),
		MaxFileSize: int64(getint("UPLOAD_MAX_FILE_BYTES", 10<<20)),

		LLM: LLMConfig{
			APIKey:      getenv("OPENAI_API_KEY", ""),
			BaseURL:     getenv("OPENAI_BASE_URL", ""),
			Model:       getenv("OPENAI_MODEL", "gpt-4-turbo-preview"),
			Timeout:     getdur("LLM_TIMEOUT", 90*time.Second),
			Temperature: getfloat("LLM_TEMPERATURE", 0.3),
			MaxTokens:   getint("LLM_MAX_TOKENS", 4000),
		},
		Storage: StorageConfig{
			Endpoint:  getenv("STORAGE_ENDPOINT", ""),
			AccessKey: getenv("STORAGE_ACCESS_KEY", ""),
			SecretKey: getenv("STORAGE_SECRET_KEY", ""),
			Bucket:    getenv("STORAGE_BUCKET", "visa-documents"),
			Region:    getenv("STORAGE_REGION", "auto"),
			UseSSL:    getbool("STORAGE_USE_SSL", true),
			URLExpiry: getdur("STORAGE_URL_EXPIRY", time.Hour),
		},
		Auth: AuthConfig{
			JWTSecret:   getenv("JWT_SECRET", ""),
			JWTTTL:      getdur("JWT_TTL", 7*24*time.Hour),
			APIKeyCache: getdur("API_KEY_CACHE_TTL", time.Minute),
		},
		Billing: BillingConfig{
			StripeSecretKey:     getenv("STRIPE_SECRET_KEY", ""),
			StripeWebhookSecret: getenv("STRIPE_WEBHOOK_SECRET", ""),
			FreePlanCallLimit:   getint("FREE_PLAN_CALL_LIMIT", 5),
			CheckoutSuccessURL:  frontend + "/dashboard?payment=success",
			CheckoutCancelURL:   frontend + "/dashboard?payment=canceled",
			PortalReturnURL:     frontend + "/dashboard/subscription",
		},
		Usage: UsageConfig{
			TTL:           getdur("USAGE_TTL", 90*24*time.Hour),
			SweepInterval: getdur("USAGE_SWEEP_INTERVAL", time.Hour),
		},

		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "visa-eval-backend"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.MaxFiles < 1 {
		return cfg, errors.New("UPLOAD_MAX_FILES must be >= 1")
	}
	if cfg.MaxFileSize <= 0 {
		return cfg, errors.New("UPLOAD_MAX_FILE_BYTES must be > 0")
	}
	if cfg.LLM.Timeout <= 0 {
		return cfg, errors.New("LLM_TIMEOUT must be > 0")
	}
	if cfg.LLM.Temperature < 0 || cfg.LLM.Temperature > 2 {
		return cfg, errors.New("LLM_TEMPERATURE must be in [0,2]")
	}
	if cfg.LLM.MaxTokens <= 0 {
		return cfg, errors.New("LLM_MAX_TOKENS must be > 0")
	}
	if cfg.Storage.URLExpiry <= 0 {
		return cfg, errors.New("STORAGE_URL_EXPIRY must be > 0")
	}
	if cfg.Auth.JWTTTL <= 0 {
		return cfg, errors.New("JWT_TTL must be > 0")
	}
	if cfg.Billing.FreePlanCallLimit < 0 {
		return cfg, errors.New("FREE_PLAN_CALL_LIMIT must be >= 0")
	}
	if cfg.Usage.TTL <= 0 || cfg.Usage.SweepInterval <= 0 {
		return cfg, errors.New("USAGE_TTL and USAGE_SWEEP_INTERVAL must be > 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// LLMConfigured reports whether analysis credentials are present.
func (c Config) LLMConfigured() bool { return strings.TrimSpace(c.LLM.APIKey) != "" }

// StorageConfigured reports whether object storage credentials are present.
func (c Config) StorageConfigured() bool {
	s := c.Storage
	return strings.TrimSpace(s.Endpoint) != "" && s.AccessKey != "" && s.SecretKey != "" && s.Bucket != ""
}

// BillingConfigured reports whether remote subscription management is enabled.
func (c Config) BillingConfigured() bool { return strings.TrimSpace(c.Billing.StripeSecretKey) != "" }

// ---- helpers ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
