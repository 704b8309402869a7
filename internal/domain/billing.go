package domain

import (
	"time"

	"gorm.io/datatypes"
)

// PlanTier is the commercial tier of a Plan.
type PlanTier string

const (
	TierFree     PlanTier = "free"
	TierPro      PlanTier = "pro"
	TierBusiness PlanTier = "business"
)

// BillingPeriod is how often a plan renews.
type BillingPeriod string

const (
	PeriodMonthly BillingPeriod = "monthly"
	PeriodYearly  BillingPeriod = "yearly"
)

// Plan is a purchasable quota bundle. The free plan never has a Subscription
// row; its usage is derived from evaluation counts.
type Plan struct {
	ID            string                      `json:"id"            gorm:"type:varchar(64);primaryKey"`
	Name          string                      `json:"name"          gorm:"type:varchar(128);not null"`
	Tier          PlanTier                    `json:"tier"          gorm:"type:varchar(16);not null;uniqueIndex:ux_plan_tier_period,priority:1"`
	BillingPeriod BillingPeriod               `json:"billingPeriod" gorm:"type:varchar(16);not null;uniqueIndex:ux_plan_tier_period,priority:2"`
	CallLimit     int                         `json:"callLimit"     gorm:"not null;check:call_limit >= 0"`
	PriceCents    int64                       `json:"priceCents"    gorm:"not null;default:0"`
	Currency      string                      `json:"currency"      gorm:"type:varchar(3);not null;default:'usd'"`
	StripePriceID string                      `json:"stripePriceId,omitempty" gorm:"type:varchar(128);index"`
	Features      datatypes.JSONSlice[string] `json:"features"      gorm:"type:json"`
	IsActive      bool                        `json:"isActive"      gorm:"not null;default:true"`
	CreatedAt     time.Time                   `json:"createdAt"`
	UpdatedAt     time.Time                   `json:"updatedAt"`
}

// TableName returns the database table name for Plan.
func (Plan) TableName() string { return "plans" }

// SubscriptionStatus mirrors the payment provider's subscription states.
type SubscriptionStatus string

const (
	SubActive     SubscriptionStatus = "active"
	SubCanceled   SubscriptionStatus = "canceled"
	SubPastDue    SubscriptionStatus = "past_due"
	SubUnpaid     SubscriptionStatus = "unpaid"
	SubIncomplete SubscriptionStatus = "incomplete"
	SubTrialing   SubscriptionStatus = "trialing"
)

// Valid reports whether s is a known subscription status.
func (s SubscriptionStatus) Valid() bool {
	switch s {
	case SubActive, SubCanceled, SubPastDue, SubUnpaid, SubIncomplete, SubTrialing:
		return true
	}
	return false
}

// Subscription binds a user to a paid plan for a billing period.
// CallsUsed only ever grows, except for the reset on period renewal.
type Subscription struct {
	ID                   string             `json:"id"        gorm:"type:char(36);primaryKey"`
	UserID               string             `json:"userId"    gorm:"type:char(36);not null;index"`
	PlanID               string             `json:"planId"    gorm:"type:varchar(64);not null;index"`
	StripeSubscriptionID *string            `json:"stripeSubscriptionId,omitempty" gorm:"type:varchar(128);uniqueIndex"`
	StripeCustomerID     string             `json:"stripeCustomerId,omitempty"     gorm:"type:varchar(128);index"`
	Status               SubscriptionStatus `json:"status"    gorm:"type:varchar(16);not null;index"`
	CurrentPeriodStart   time.Time          `json:"currentPeriodStart" gorm:"not null"`
	CurrentPeriodEnd     time.Time          `json:"currentPeriodEnd"   gorm:"not null;index"`
	CancelAtPeriodEnd    bool               `json:"cancelAtPeriodEnd"  gorm:"not null;default:false"`
	CanceledAt           *time.Time         `json:"canceledAt,omitempty"`
	CallsUsed            int                `json:"callsUsed" gorm:"not null;default:0;check:calls_used >= 0"`
	CreatedAt            time.Time          `json:"createdAt"`
	UpdatedAt            time.Time          `json:"updatedAt"`

	Plan Plan `json:"plan" gorm:"foreignKey:PlanID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
}

// TableName returns the database table name for Subscription.
func (Subscription) TableName() string { return "subscriptions" }

// IsCurrent reports whether the subscription grants quota at now.
func (s *Subscription) IsCurrent(now time.Time) bool {
	return s != nil && s.Status == SubActive && !s.CurrentPeriodEnd.Before(now)
}
