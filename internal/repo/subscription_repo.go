// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for plans and
// subscriptions, including the atomic quota increment.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/visa-eval-backend/internal/domain"
)

// FreePlanID is the identifier of the implicit free plan.
const FreePlanID = "free_monthly"

// DefaultPlans is the catalogue seeded at startup. The free plan's call
// limit is overridden by configuration.
func DefaultPlans(freeLimit int) []domain.Plan {
	return []domain.Plan{
		{ID: FreePlanID, Name: "Free", Tier: domain.TierFree, BillingPeriod: domain.PeriodMonthly, CallLimit: freeLimit, PriceCents: 0, Currency: "usd",
			Features: []string{"5 evaluations per month", "All supported countries"}},
		{ID: "pro_monthly", Name: "Pro", Tier: domain.TierPro, BillingPeriod: domain.PeriodMonthly, CallLimit: 5000, PriceCents: 2900, Currency: "usd",
			Features: []string{"5,000 API calls per month", "API key access", "Usage analytics"}},
		{ID: "pro_yearly", Name: "Pro", Tier: domain.TierPro, BillingPeriod: domain.PeriodYearly, CallLimit: 60000, PriceCents: 29000, Currency: "usd",
			Features: []string{"60,000 API calls per year", "API key access", "Usage analytics"}},
		{ID: "business_monthly", Name: "Business", Tier: domain.TierBusiness, BillingPeriod: domain.PeriodMonthly, CallLimit: 25000, PriceCents: 9900, Currency: "usd",
			Features: []string{"25,000 API calls per month", "API key access", "Usage analytics", "Priority support"}},
		{ID: "business_yearly", Name: "Business", Tier: domain.TierBusiness, BillingPeriod: domain.PeriodYearly, CallLimit: 300000, PriceCents: 99000, Currency: "usd",
			Features: []string{"300,000 API calls per year", "API key access", "Usage analytics", "Priority support"}},
	}
}

// SeedPlans upserts the plan catalogue. Stripe price ids set by operators
// are left untouched.
func SeedPlans(ctx context.Context, db *gorm.DB, plans []domain.Plan) error {
	for i := range plans {
		plans[i].IsActive = true
	}
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "call_limit", "price_cents", "currency", "features", "is_active", "updated_at"}),
	}).Create(&plans).Error
}

// ListPlans returns active plans ordered by price.
func ListPlans(ctx context.Context, db *gorm.DB) ([]domain.Plan, error) {
	var out []domain.Plan
	err := db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("price_cents asc, call_limit asc").
		Find(&out).Error
	return out, err
}

// GetPlan fetches a plan by id.
func GetPlan(ctx context.Context, db *gorm.DB, id string) (*domain.Plan, error) {
	var p domain.Plan
	if err := db.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPlanByStripePrice fetches a plan by its Stripe price id.
func GetPlanByStripePrice(ctx context.Context, db *gorm.DB, priceID string) (*domain.Plan, error) {
	if priceID == "" {
		return nil, ErrNotFound
	}
	var p domain.Plan
	if err := db.WithContext(ctx).Where("stripe_price_id = ?", priceID).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// GetActiveSubscription returns the user's subscription that is active and
// whose period has not ended at now, with its plan loaded.
func GetActiveSubscription(ctx context.Context, db *gorm.DB, userID string, now time.Time) (*domain.Subscription, error) {
	var s domain.Subscription
	err := db.WithContext(ctx).
		Preload("Plan").
		Where("user_id = ? AND status = ? AND current_period_end >= ?", userID, domain.SubActive, now.UTC()).
		Order("current_period_end desc").
		First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// GetLatestSubscription returns the user's most recently created subscription
// in any status.
func GetLatestSubscription(ctx context.Context, db *gorm.DB, userID string) (*domain.Subscription, error) {
	var s domain.Subscription
	err := db.WithContext(ctx).
		Preload("Plan").
		Where("user_id = ?", userID).
		Order("created_at desc").
		First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// GetSubscriptionByStripeID looks a subscription up by its Stripe id.
func GetSubscriptionByStripeID(ctx context.Context, db *gorm.DB, stripeID string) (*domain.Subscription, error) {
	var s domain.Subscription
	err := db.WithContext(ctx).
		Preload("Plan").
		Where("stripe_subscription_id = ?", stripeID).
		First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// CreateSubscription inserts s. A second row for the same Stripe id yields
// ErrDuplicate.
func CreateSubscription(ctx context.Context, db *gorm.DB, s *domain.Subscription) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if err := db.WithContext(ctx).Omit("Plan").Create(s).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// UpdateSubscriptionFields applies a partial update by id.
func UpdateSubscriptionFields(ctx context.Context, db *gorm.DB, id string, fields map[string]any) error {
	fields["updated_at"] = time.Now().UTC()
	res := db.WithContext(ctx).Model(&domain.Subscription{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementCallsWithinLimit consumes one call from an active subscription.
// The limit check and the increment are a single UPDATE; it reports false
// when no call was left, so the affected-row count is the admission decision.
func IncrementCallsWithinLimit(ctx context.Context, db *gorm.DB, subscriptionID string, limit int, now time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.Subscription{}).
		Where("id = ? AND calls_used < ? AND status = ? AND current_period_end >= ?",
			subscriptionID, limit, domain.SubActive, now.UTC()).
		Updates(map[string]any{
			"calls_used": gorm.Expr("calls_used + 1"),
			"updated_at": now.UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ReleaseCall gives back one call reserved by IncrementCallsWithinLimit. The
// counter never drops below zero. It reports whether a row was changed.
func ReleaseCall(ctx context.Context, db *gorm.DB, subscriptionID string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.Subscription{}).
		Where("id = ? AND calls_used > 0", subscriptionID).
		Updates(map[string]any{
			"calls_used": gorm.Expr("calls_used - 1"),
			"updated_at": now.UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// IsNotFound reports whether err means the record does not exist.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
