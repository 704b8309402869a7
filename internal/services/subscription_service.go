// Package services – SubscriptionService
//
// SubscriptionService exposes the plan catalogue and a user's subscription
// state, opens hosted checkout and portal sessions, and keeps local
// subscriptions in step with Stripe webhook events.
// Usage counters are only reset when Stripe reports a new billing period
// for an active subscription.
package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/visa-eval-backend/internal/billing"
	"github.com/tbourn/visa-eval-backend/internal/domain"
	"github.com/tbourn/visa-eval-backend/internal/repo"
)

const defaultPeriod = 30 * 24 * time.Hour

// SubscriptionStatus is the caller's subscription with its plan and quota.
type SubscriptionStatus struct {
	Subscription *domain.Subscription `json:"subscription"`
	Plan         *domain.Plan         `json:"plan"`
	Quota        QuotaStatus          `json:"quota"`
}

// UsageReport summarises consumption in the current period.
type UsageReport struct {
	Plan        string     `json:"plan"`
	Limit       int        `json:"limit"`
	Used        int        `json:"used"`
	Remaining   int        `json:"remaining"`
	Percentage  float64    `json:"percentage"`
	PeriodStart time.Time  `json:"periodStart"`
	PeriodEnd   *time.Time `json:"periodEnd,omitempty"`
}

// CheckoutInput selects a paid plan. Empty redirect URLs fall back to the
// service defaults.
type CheckoutInput struct {
	PlanID     string
	SuccessURL string
	CancelURL  string
}

// SubscriptionService implements plan, subscription and webhook operations.
type SubscriptionService struct {
	DB    *gorm.DB
	Quota *QuotaService
	// Provider talks to Stripe. When nil, cancellation is local only and
	// checkout and portal sessions are unavailable.
	Provider      billing.Provider
	WebhookSecret string

	SuccessURL      string
	CancelURL       string
	PortalReturnURL string

	Now func() time.Time
}

func (s *SubscriptionService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Plans lists the active plan catalogue.
func (s *SubscriptionService) Plans(ctx context.Context) ([]domain.Plan, error) {
	ctx, span := otel.Tracer("services/SubscriptionService").Start(ctx, "Plans")
	defer span.End()
	return repo.ListPlans(ctx, s.DB)
}

// Status returns the user's latest subscription (nil for free users), the
// plan in effect and the current quota.
func (s *SubscriptionService) Status(ctx context.Context, userID string) (*SubscriptionStatus, error) {
	ctx, span := otel.Tracer("services/SubscriptionService").Start(ctx, "Status",
		trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	q, err := s.Quota.Check(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := &SubscriptionStatus{Quota: q}

	sub, err := repo.GetLatestSubscription(ctx, s.DB, userID)
	switch {
	case err == nil:
		out.Subscription = sub
	case !errors.Is(err, repo.ErrNotFound):
		return nil, err
	}

	plan, err := repo.GetPlan(ctx, s.DB, q.Plan)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	out.Plan = plan
	return out, nil
}

// Usage reports limit, consumption and percentage for the current period.
func (s *SubscriptionService) Usage(ctx context.Context, userID string) (*UsageReport, error) {
	ctx, span := otel.Tracer("services/SubscriptionService").Start(ctx, "Usage",
		trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	q, err := s.Quota.Check(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &UsageReport{
		Plan:        q.Plan,
		Limit:       q.Limit,
		Used:        q.Used,
		Remaining:   q.Remaining,
		Percentage:  usagePercent(q.Used, q.Limit),
		PeriodStart: q.PeriodStart,
		PeriodEnd:   q.PeriodEnd,
	}, nil
}

func usagePercent(used, limit int) float64 {
	if limit <= 0 {
		if used > 0 {
			return 100
		}
		return 0
	}
	return math.Round(float64(used)/float64(limit)*10000) / 100
}

// Cancel schedules the user's active subscription to end with its period.
// The provider is asked first; the local flag is only set once it agrees.
func (s *SubscriptionService) Cancel(ctx context.Context, userID string) (*domain.Subscription, error) {
	ctx, span := otel.Tracer("services/SubscriptionService").Start(ctx, "Cancel",
		trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	sub, err := repo.GetActiveSubscription(ctx, s.DB, userID, s.now())
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrNoSubscription
		}
		return nil, err
	}
	if s.Provider != nil && sub.StripeSubscriptionID != nil && *sub.StripeSubscriptionID != "" {
		if err := s.Provider.CancelAtPeriodEnd(ctx, *sub.StripeSubscriptionID); err != nil {
			return nil, err
		}
	}
	if err := repo.UpdateSubscriptionFields(ctx, s.DB, sub.ID, map[string]any{"cancel_at_period_end": true}); err != nil {
		return nil, err
	}
	sub.CancelAtPeriodEnd = true
	zerolog.Ctx(ctx).Info().Str("subscription_id", sub.ID).Msg("subscription set to cancel at period end")
	return sub, nil
}

// CreateCheckout opens a hosted Stripe checkout for a paid plan. The user's
// Stripe customer is created on first use.
func (s *SubscriptionService) CreateCheckout(ctx context.Context, userID string, in CheckoutInput) (*billing.Session, error) {
	ctx, span := otel.Tracer("services/SubscriptionService").Start(ctx, "CreateCheckout",
		trace.WithAttributes(attribute.String("user.id", userID), attribute.String("plan.id", in.PlanID)))
	defer span.End()

	if s.Provider == nil {
		return nil, ErrBillingNotConfigured
	}
	successURL, err := redirectURL(in.SuccessURL, s.SuccessURL)
	if err != nil {
		return nil, err
	}
	cancelURL, err := redirectURL(in.CancelURL, s.CancelURL)
	if err != nil {
		return nil, err
	}

	plan, err := repo.GetPlan(ctx, s.DB, strings.TrimSpace(in.PlanID))
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return nil, ErrPlanNotFound
	case err != nil:
		return nil, err
	case !plan.IsActive:
		return nil, ErrPlanNotFound
	case plan.Tier == domain.TierFree:
		return nil, ErrFreePlanCheckout
	case plan.StripePriceID == "":
		return nil, fmt.Errorf("%w: plan %s has no stripe price", ErrBillingNotConfigured, plan.ID)
	}

	customer, err := s.ensureCustomer(ctx, userID)
	if err != nil {
		return nil, err
	}
	sess, err := s.Provider.CreateCheckoutSession(ctx, billing.CheckoutRequest{
		CustomerID: customer,
		PriceID:    plan.StripePriceID,
		UserID:     userID,
		PlanID:     plan.ID,
		SuccessURL: successURL,
		CancelURL:  cancelURL,
	})
	if err != nil {
		return nil, err
	}
	zerolog.Ctx(ctx).Info().Str("plan_id", plan.ID).Str("session_id", sess.ID).Msg("checkout session created")
	return &sess, nil
}

// BillingPortal opens the Stripe customer portal for a user who has already
// been through checkout.
func (s *SubscriptionService) BillingPortal(ctx context.Context, userID, returnURL string) (*billing.Session, error) {
	ctx, span := otel.Tracer("services/SubscriptionService").Start(ctx, "BillingPortal",
		trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	if s.Provider == nil {
		return nil, ErrBillingNotConfigured
	}
	ret, err := redirectURL(returnURL, s.PortalReturnURL)
	if err != nil {
		return nil, err
	}
	u, err := repo.GetUser(ctx, s.DB, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrUnauthenticated
	}
	if err != nil {
		return nil, err
	}
	if u.StripeCustomerID == "" {
		return nil, ErrNoBillingAccount
	}
	sess, err := s.Provider.CreatePortalSession(ctx, u.StripeCustomerID, ret)
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *SubscriptionService) ensureCustomer(ctx context.Context, userID string) (string, error) {
	u, err := repo.GetUser(ctx, s.DB, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return "", ErrUnauthenticated
	}
	if err != nil {
		return "", err
	}
	if u.StripeCustomerID != "" {
		return u.StripeCustomerID, nil
	}
	id, err := s.Provider.CreateCustomer(ctx, u.ID, u.Email, u.Name)
	if err != nil {
		return "", err
	}
	if err := repo.SetStripeCustomer(ctx, s.DB, u.ID, id); err != nil {
		return "", err
	}
	zerolog.Ctx(ctx).Info().Str("stripe_customer_id", id).Msg("stripe customer created")
	return id, nil
}

// redirectURL returns raw when set, otherwise fallback. Only absolute http
// and https URLs are accepted.
func redirectURL(raw, fallback string) (string, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		v = fallback
	}
	u, err := url.Parse(v)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", ErrInvalidRedirectURL
	}
	return v, nil
}

// HandleWebhook verifies a Stripe delivery and applies it. It returns the
// event type; unknown types are acknowledged without changes.
func (s *SubscriptionService) HandleWebhook(ctx context.Context, payload []byte, signature string) (string, error) {
	ctx, span := otel.Tracer("services/SubscriptionService").Start(ctx, "HandleWebhook")
	defer span.End()

	if strings.TrimSpace(s.WebhookSecret) == "" {
		return "", ErrWebhookNotConfigured
	}
	ev, err := billing.ParseEvent(payload, signature, s.WebhookSecret)
	if err != nil {
		return "", err
	}
	span.SetAttributes(attribute.String("stripe.event_type", ev.Type), attribute.String("stripe.event_id", ev.ID))
	log := zerolog.Ctx(ctx).With().Str("event_id", ev.ID).Str("event_type", ev.Type).Logger()
	ctx = log.WithContext(ctx)

	switch ev.Type {
	case billing.EventCheckoutCompleted:
		err = s.onCheckoutCompleted(ctx, ev)
	case billing.EventSubscriptionCreated:
		err = s.onSubscriptionCreated(ctx, ev)
	case billing.EventSubscriptionUpdated:
		err = s.onSubscriptionUpdated(ctx, ev)
	case billing.EventSubscriptionDeleted:
		err = s.onSubscriptionDeleted(ctx, ev)
	case billing.EventInvoicePaid:
		err = s.onInvoice(ctx, ev, domain.SubActive)
	case billing.EventInvoiceFailed:
		err = s.onInvoice(ctx, ev, domain.SubPastDue)
	default:
		log.Debug().Msg("webhook event ignored")
		return ev.Type, nil
	}
	if err != nil {
		log.Error().Err(err).Msg("webhook event failed")
		return ev.Type, err
	}
	log.Info().Msg("webhook event applied")
	return ev.Type, nil
}

func (s *SubscriptionService) onCheckoutCompleted(ctx context.Context, ev billing.Event) error {
	cs, err := billing.Decode[billing.CheckoutSession](ev)
	if err != nil {
		return err
	}
	userID, customer := cs.UserID(), cs.Customer.String()
	if userID == "" || customer == "" {
		zerolog.Ctx(ctx).Warn().Msg("checkout session without user or customer")
		return nil
	}
	err = repo.SetStripeCustomer(ctx, s.DB, userID, customer)
	if errors.Is(err, repo.ErrNotFound) {
		zerolog.Ctx(ctx).Warn().Str("user_id", userID).Msg("checkout session for unknown user")
		return nil
	}
	return err
}

func (s *SubscriptionService) onSubscriptionCreated(ctx context.Context, ev billing.Event) error {
	ss, err := billing.Decode[billing.Subscription](ev)
	if err != nil {
		return err
	}
	if _, err := repo.GetSubscriptionByStripeID(ctx, s.DB, ss.ID); err == nil {
		return nil
	} else if !errors.Is(err, repo.ErrNotFound) {
		return err
	}

	userID, err := s.resolveUser(ctx, ss)
	if err != nil || userID == "" {
		return err
	}
	plan, err := s.resolvePlan(ctx, ss)
	if err != nil {
		return err
	}

	now := s.now()
	start, end, ok := ss.Period()
	if !ok {
		start, end = now, now.Add(defaultPeriod)
	}
	stripeID := ss.ID
	sub := &domain.Subscription{
		UserID:               userID,
		PlanID:               plan.ID,
		StripeSubscriptionID: &stripeID,
		StripeCustomerID:     ss.Customer.String(),
		Status:               mapStatus(ss.Status),
		CurrentPeriodStart:   start,
		CurrentPeriodEnd:     end,
		CancelAtPeriodEnd:    ss.CancelAtPeriodEnd,
		CanceledAt:           ss.CanceledTime(),
	}
	if err := repo.CreateSubscription(ctx, s.DB, sub); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return nil
		}
		return err
	}
	if sub.StripeCustomerID != "" {
		if err := repo.SetStripeCustomer(ctx, s.DB, userID, sub.StripeCustomerID); err != nil && !errors.Is(err, repo.ErrNotFound) {
			return err
		}
	}
	return nil
}

// resolveUser prefers metadata.userId and falls back to the customer id.
// An empty result means the event cannot be attributed and is skipped.
func (s *SubscriptionService) resolveUser(ctx context.Context, ss billing.Subscription) (string, error) {
	if id := strings.TrimSpace(ss.Metadata["userId"]); id != "" {
		if _, err := repo.GetUser(ctx, s.DB, id); err == nil {
			return id, nil
		} else if !errors.Is(err, repo.ErrNotFound) {
			return "", err
		}
	}
	u, err := repo.GetUserByStripeCustomer(ctx, s.DB, ss.Customer.String())
	if err == nil {
		return u.ID, nil
	}
	if errors.Is(err, repo.ErrNotFound) {
		zerolog.Ctx(ctx).Warn().Str("stripe_subscription_id", ss.ID).Msg("subscription for unknown user")
		return "", nil
	}
	return "", err
}

func (s *SubscriptionService) resolvePlan(ctx context.Context, ss billing.Subscription) (*domain.Plan, error) {
	if id := strings.TrimSpace(ss.Metadata["planId"]); id != "" {
		p, err := repo.GetPlan(ctx, s.DB, id)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return nil, err
		}
	}
	p, err := repo.GetPlanByStripePrice(ctx, s.DB, ss.PriceID())
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrUnknownPlan
	}
	return p, err
}

func (s *SubscriptionService) onSubscriptionUpdated(ctx context.Context, ev billing.Event) error {
	ss, err := billing.Decode[billing.Subscription](ev)
	if err != nil {
		return err
	}
	cur, err := repo.GetSubscriptionByStripeID(ctx, s.DB, ss.ID)
	if errors.Is(err, repo.ErrNotFound) {
		zerolog.Ctx(ctx).Warn().Str("stripe_subscription_id", ss.ID).Msg("update for unknown subscription")
		return nil
	}
	if err != nil {
		return err
	}

	status := mapStatus(ss.Status)
	fields := map[string]any{
		"status":               status,
		"cancel_at_period_end": ss.CancelAtPeriodEnd,
		"canceled_at":          ss.CanceledTime(),
	}
	if start, end, ok := ss.Period(); ok {
		fields["current_period_start"] = start
		fields["current_period_end"] = end
		if !start.Equal(cur.CurrentPeriodStart) && status == domain.SubActive {
			fields["calls_used"] = 0
			zerolog.Ctx(ctx).Info().Str("subscription_id", cur.ID).Msg("billing period renewed, usage reset")
		}
	}
	if p, err := repo.GetPlanByStripePrice(ctx, s.DB, ss.PriceID()); err == nil && p.ID != cur.PlanID {
		fields["plan_id"] = p.ID
	}
	return repo.UpdateSubscriptionFields(ctx, s.DB, cur.ID, fields)
}

func (s *SubscriptionService) onSubscriptionDeleted(ctx context.Context, ev billing.Event) error {
	ss, err := billing.Decode[billing.Subscription](ev)
	if err != nil {
		return err
	}
	cur, err := repo.GetSubscriptionByStripeID(ctx, s.DB, ss.ID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return repo.UpdateSubscriptionFields(ctx, s.DB, cur.ID, map[string]any{
		"status":      domain.SubCanceled,
		"canceled_at": s.now(),
	})
}

func (s *SubscriptionService) onInvoice(ctx context.Context, ev billing.Event, status domain.SubscriptionStatus) error {
	inv, err := billing.Decode[billing.Invoice](ev)
	if err != nil {
		return err
	}
	stripeID := inv.SubscriptionID()
	if stripeID == "" {
		return nil
	}
	cur, err := repo.GetSubscriptionByStripeID(ctx, s.DB, stripeID)
	if errors.Is(err, repo.ErrNotFound) {
		zerolog.Ctx(ctx).Warn().Str("stripe_subscription_id", stripeID).Msg("invoice for unknown subscription")
		return nil
	}
	if err != nil {
		return err
	}
	return repo.UpdateSubscriptionFields(ctx, s.DB, cur.ID, map[string]any{"status": status})
}

// mapStatus folds Stripe statuses outside the local set onto the closest
// local one.
func mapStatus(s string) domain.SubscriptionStatus {
	st := domain.SubscriptionStatus(s)
	if st.Valid() {
		return st
	}
	switch s {
	case "incomplete_expired":
		return domain.SubCanceled
	case "paused":
		return domain.SubPastDue
	}
	return domain.SubIncomplete
}
