// Package services implements the business logic of the visa evaluation
// backend: quota admission, the evaluation pipeline, billing, authentication
// and usage analytics. This file centralizes the service-level error values so
// that callers can match them with errors.Is / errors.As.
//
// Translation into user-facing messages or HTTP status codes is performed at
// the handler layer.
package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/tbourn/visa-eval-backend/internal/billing"
	"github.com/tbourn/visa-eval-backend/internal/extractor"
)

// Evaluation input and pipeline errors.
var (
	// ErrMissingFields is returned when country or visa type is blank.
	ErrMissingFields = errors.New("country and visa type are required")

	// ErrVisaTypeNotFound indicates that the requested country/visa pair is not
	// part of the reference data.
	ErrVisaTypeNotFound = errors.New("visa type not found")

	ErrNoDocuments  = errors.New("at least one document is required")
	ErrTooManyFiles = errors.New("too many documents")
	ErrFileTooLarge = errors.New("document exceeds the maximum file size")

	// ErrUnsupportedFileType is the extractor's sentinel, re-exported so
	// handlers only depend on this package.
	ErrUnsupportedFileType = extractor.ErrUnsupportedFileType

	// ErrConfiguration means a required collaborator (LLM provider or object
	// storage) is not configured. Nothing is persisted when it is returned.
	ErrConfiguration = errors.New("service not configured")

	// ErrAnalysisFailed wraps every failure after admission. The evaluation
	// has been stored as failed when it is returned.
	ErrAnalysisFailed = errors.New("analysis failed")

	// ErrEvaluationNotFound indicates that the evaluation does not exist or
	// belongs to another user.
	ErrEvaluationNotFound = errors.New("evaluation not found")

	// ErrQuotaExceeded is matched by every *QuotaExceededError.
	ErrQuotaExceeded = errors.New("quota exceeded")
)

// Auth errors.
var (
	ErrInvalidSignup      = errors.New("invalid signup")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrAPIKeyNotFound     = errors.New("api key not found")
	ErrAuthNotConfigured  = errors.New("jwt secret not configured")
)

// Billing errors.
var (
	ErrNoSubscription = errors.New("no active subscription")

	// ErrInvalidSignature is the billing adapter's sentinel.
	ErrInvalidSignature = billing.ErrInvalidSignature

	ErrWebhookNotConfigured = errors.New("webhook secret not configured")
	ErrUnknownPlan          = errors.New("unknown plan")

	// ErrBillingNotConfigured means no Stripe key is set, or the chosen plan
	// has no Stripe price.
	ErrBillingNotConfigured = errors.New("billing not configured")
	ErrPlanNotFound         = errors.New("plan not found")
	ErrFreePlanCheckout     = errors.New("cannot create checkout session for free plan")
	ErrNoBillingAccount     = errors.New("no billing account, subscribe first")
	ErrInvalidRedirectURL   = errors.New("redirect url must be an absolute http(s) url")
)

// QuotaExceededError carries the quota snapshot at the time of rejection.
type QuotaExceededError struct {
	Limit int
	Used  int
	// Plan is the tier: free, pro or business.
	Plan      string
	PeriodEnd *time.Time
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded: %d of %d calls used on the %s plan", e.Used, e.Limit, e.Plan)
}

// Is makes errors.Is(err, ErrQuotaExceeded) true.
func (e *QuotaExceededError) Is(target error) bool { return target == ErrQuotaExceeded }
