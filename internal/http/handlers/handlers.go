// Package handlers provides HTTP handler implementations for the public API.
//
// Handlers are transport-thin: they validate input, call application
// services through the contracts below, and translate results into the
// response envelopes defined in response.go.
package handlers

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/visa-eval-backend/internal/billing"
	"github.com/tbourn/visa-eval-backend/internal/domain"
	"github.com/tbourn/visa-eval-backend/internal/http/middleware"
	"github.com/tbourn/visa-eval-backend/internal/services"
	"github.com/tbourn/visa-eval-backend/internal/visadata"
)

//
// Service contracts (context-aware)
//

// AuthService covers accounts, sessions and API keys.
type AuthService interface {
	Signup(ctx context.Context, in services.SignupInput) (*services.Session, error)
	Login(ctx context.Context, email, password string) (*services.Session, error)
	Me(ctx context.Context, userID string) (*domain.User, error)
	CreateAPIKey(ctx context.Context, userID, name string) (*services.IssuedAPIKey, error)
	ListAPIKeys(ctx context.Context, userID string) ([]domain.APIKey, error)
	DeactivateAPIKey(ctx context.Context, userID, id string) (*domain.APIKey, error)
}

// EvaluationService runs and reads document evaluations.
type EvaluationService interface {
	// Create returns the stored failed evaluation together with the error
	// when the pipeline fails after admission.
	Create(ctx context.Context, in services.CreateEvaluationInput) (*domain.Evaluation, error)
	List(ctx context.Context, userID string, f services.EvaluationListFilter) (*services.EvaluationPage, error)
	Get(ctx context.Context, userID, id string) (*domain.Evaluation, error)
	Delete(ctx context.Context, userID, id string) error
	DocumentURLs(ctx context.Context, e *domain.Evaluation) []services.DocumentLink
}

// SubscriptionService exposes plans, subscription state and the billing
// webhook.
type SubscriptionService interface {
	Plans(ctx context.Context) ([]domain.Plan, error)
	Status(ctx context.Context, userID string) (*services.SubscriptionStatus, error)
	Usage(ctx context.Context, userID string) (*services.UsageReport, error)
	Cancel(ctx context.Context, userID string) (*domain.Subscription, error)
	CreateCheckout(ctx context.Context, userID string, in services.CheckoutInput) (*billing.Session, error)
	BillingPortal(ctx context.Context, userID, returnURL string) (*billing.Session, error)
	HandleWebhook(ctx context.Context, payload []byte, signature string) (string, error)
}

// UsageService reports API-key usage.
type UsageService interface {
	Analytics(ctx context.Context, userID string, f services.AnalyticsFilter) (*services.UsageAnalytics, error)
	KeyUsage(ctx context.Context, userID, keyID string) (*services.KeyUsage, error)
	Summary(ctx context.Context, userID string) (*services.UsageSummary, error)
}

// IdempotencyStore remembers which evaluation answered a keyed request.
type IdempotencyStore interface {
	// Lookup returns the stored resource ID, or found=false.
	Lookup(ctx context.Context, userID, scope, key string) (resourceID string, found bool, err error)
	Save(ctx context.Context, userID, scope, key, resourceID string, status int) error
}

// StatsFunc returns the number of a user's evaluations and their latest
// update time. It backs the weak ETag of the list endpoint.
type StatsFunc func(ctx context.Context, userID string) (count int64, latest *time.Time, err error)

//
// Handler wiring
//

// Deps bundles the collaborators of Handlers. Idempotency and Stats are
// optional.
type Deps struct {
	Auth          AuthService
	Evaluations   EvaluationService
	Subscriptions SubscriptionService
	Usage         UsageService
	Catalog       *visadata.Catalog
	Idempotency   IdempotencyStore
	Stats         StatsFunc
}

// Handlers groups every HTTP endpoint of the API.
type Handlers struct {
	auth    AuthService
	evals   EvaluationService
	subs    SubscriptionService
	usage   UsageService
	catalog *visadata.Catalog
	idem    IdempotencyStore
	stats   StatsFunc
}

// New constructs Handlers from d. A nil Catalog selects the embedded one.
func New(d Deps) *Handlers {
	cat := d.Catalog
	if cat == nil {
		cat = visadata.Default()
	}
	return &Handlers{
		auth:    d.Auth,
		evals:   d.Evaluations,
		subs:    d.Subscriptions,
		usage:   d.Usage,
		catalog: cat,
		idem:    d.Idempotency,
		stats:   d.Stats,
	}
}

// userID returns the authenticated caller set by middleware.Authenticate.
func userID(c *gin.Context) string { return middleware.UserIDFrom(c) }
