// Package billing adapts the Stripe payment provider: webhook verification,
// event payload decoding, hosted checkout and portal sessions, and remote
// subscription changes.
package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"
	portalsession "github.com/stripe/stripe-go/v82/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/subscription"
	"github.com/stripe/stripe-go/v82/webhook"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrNotConfigured    = errors.New("billing provider not configured")
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

// Event types handled by the subscription service.
const (
	EventSubscriptionCreated = string(stripe.EventTypeCustomerSubscriptionCreated)
	EventSubscriptionUpdated = string(stripe.EventTypeCustomerSubscriptionUpdated)
	EventSubscriptionDeleted = string(stripe.EventTypeCustomerSubscriptionDeleted)
	EventCheckoutCompleted   = string(stripe.EventTypeCheckoutSessionCompleted)
	EventInvoicePaid         = string(stripe.EventTypeInvoicePaymentSucceeded)
	EventInvoiceFailed       = string(stripe.EventTypeInvoicePaymentFailed)
)

// Event is a verified webhook delivery. Object holds the raw data.object.
type Event struct {
	ID     string
	Type   string
	Object json.RawMessage
}

// ParseEvent checks the Stripe-Signature header against secret and decodes
// the envelope. Account API version drift is tolerated; payloads are decoded
// into the minimal shapes below.
func ParseEvent(payload []byte, header, secret string) (Event, error) {
	if secret == "" {
		return Event{}, ErrNotConfigured
	}
	ev, err := webhook.ConstructEventWithOptions(payload, header, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	out := Event{ID: ev.ID, Type: string(ev.Type)}
	if ev.Data != nil {
		out.Object = ev.Data.Raw
	}
	return out, nil
}

// Ref is an expandable Stripe reference: either an ID string or an object
// carrying an "id" field.
type Ref string

// UnmarshalJSON accepts both representations.
func (r *Ref) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*r = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*r = Ref(s)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*r = Ref(obj.ID)
	return nil
}

func (r Ref) String() string { return string(r) }

type subscriptionItem struct {
	CurrentPeriodStart int64 `json:"current_period_start"`
	CurrentPeriodEnd   int64 `json:"current_period_end"`
	Price              struct {
		ID string `json:"id"`
	} `json:"price"`
}

// Subscription is the subset of a Stripe subscription object that drives
// local state.
type Subscription struct {
	ID                 string            `json:"id"`
	Customer           Ref               `json:"customer"`
	Status             string            `json:"status"`
	CancelAtPeriodEnd  bool              `json:"cancel_at_period_end"`
	CanceledAt         int64             `json:"canceled_at"`
	CurrentPeriodStart int64             `json:"current_period_start"`
	CurrentPeriodEnd   int64             `json:"current_period_end"`
	Metadata           map[string]string `json:"metadata"`
	Items              struct {
		Data []subscriptionItem `json:"data"`
	} `json:"items"`
}

// Period returns the billing period. Newer API versions carry it on the first
// item instead of the subscription. ok is false when neither is present.
func (s Subscription) Period() (start, end time.Time, ok bool) {
	st, en := s.CurrentPeriodStart, s.CurrentPeriodEnd
	if (st == 0 || en == 0) && len(s.Items.Data) > 0 {
		st, en = s.Items.Data[0].CurrentPeriodStart, s.Items.Data[0].CurrentPeriodEnd
	}
	if st == 0 || en == 0 {
		return time.Time{}, time.Time{}, false
	}
	return time.Unix(st, 0).UTC(), time.Unix(en, 0).UTC(), true
}

// PriceID returns the price of the first item, if any.
func (s Subscription) PriceID() string {
	if len(s.Items.Data) == 0 {
		return ""
	}
	return s.Items.Data[0].Price.ID
}

// CanceledTime converts canceled_at; nil when unset.
func (s Subscription) CanceledTime() *time.Time {
	if s.CanceledAt == 0 {
		return nil
	}
	t := time.Unix(s.CanceledAt, 0).UTC()
	return &t
}

// CheckoutSession is the subset of a completed checkout session.
type CheckoutSession struct {
	ID                string            `json:"id"`
	ClientReferenceID string            `json:"client_reference_id"`
	Customer          Ref               `json:"customer"`
	Subscription      Ref               `json:"subscription"`
	Metadata          map[string]string `json:"metadata"`
}

// UserID returns the local user the session was opened for.
func (c CheckoutSession) UserID() string {
	if id := strings.TrimSpace(c.ClientReferenceID); id != "" {
		return id
	}
	return strings.TrimSpace(c.Metadata["userId"])
}

// Invoice is the subset of an invoice needed to track renewals and failures.
type Invoice struct {
	ID            string `json:"id"`
	Subscription  Ref    `json:"subscription"`
	BillingReason string `json:"billing_reason"`
	Parent        struct {
		SubscriptionDetails struct {
			Subscription Ref `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

// SubscriptionID resolves the owning subscription across API versions.
func (i Invoice) SubscriptionID() string {
	if i.Subscription != "" {
		return i.Subscription.String()
	}
	return i.Parent.SubscriptionDetails.Subscription.String()
}

// Decode unmarshals an event object into one of the payload types.
func Decode[T any](ev Event) (T, error) {
	var v T
	if len(ev.Object) == 0 {
		return v, fmt.Errorf("event %s has no object", ev.Type)
	}
	if err := json.Unmarshal(ev.Object, &v); err != nil {
		return v, fmt.Errorf("decode %s: %w", ev.Type, err)
	}
	return v, nil
}

// CheckoutRequest describes a hosted checkout for one subscription price.
type CheckoutRequest struct {
	CustomerID string
	PriceID    string
	UserID     string
	PlanID     string
	SuccessURL string
	CancelURL  string
}

// Session is a hosted Stripe page the user is redirected to.
type Session struct {
	ID  string `json:"sessionId,omitempty"`
	URL string `json:"url"`
}

// Provider manages customers and subscriptions held by the payment provider.
type Provider interface {
	CancelAtPeriodEnd(ctx context.Context, stripeSubscriptionID string) error
	CreateCustomer(ctx context.Context, userID, email, name string) (string, error)
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (Session, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (Session, error)
}

// Stripe is a Provider backed by the Stripe API.
type Stripe struct {
	subs      *subscription.Client
	customers *customer.Client
	checkout  *checkoutsession.Client
	portal    *portalsession.Client
}

// NewStripe builds a Stripe provider. It fails with ErrNotConfigured when no
// secret key is set.
func NewStripe(secretKey string) (*Stripe, error) {
	if strings.TrimSpace(secretKey) == "" {
		return nil, ErrNotConfigured
	}
	return newStripe(stripe.GetBackend(stripe.APIBackend), secretKey), nil
}

func newStripe(b stripe.Backend, key string) *Stripe {
	return &Stripe{
		subs:      &subscription.Client{B: b, Key: key},
		customers: &customer.Client{B: b, Key: key},
		checkout:  &checkoutsession.Client{B: b, Key: key},
		portal:    &portalsession.Client{B: b, Key: key},
	}
}

func spanFail(span trace.Span, err error, msg string) {
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
}

// CancelAtPeriodEnd schedules the subscription to end with its current period.
func (s *Stripe) CancelAtPeriodEnd(ctx context.Context, id string) error {
	ctx, span := otel.Tracer("billing/stripe").Start(ctx, "CancelAtPeriodEnd",
		trace.WithAttributes(attribute.String("stripe.subscription_id", id)))
	defer span.End()

	params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(true)}
	params.Context = ctx
	if _, err := s.subs.Update(id, params); err != nil {
		spanFail(span, err, "update failed")
		return fmt.Errorf("stripe cancel %s: %w", id, err)
	}
	return nil
}

// CreateCustomer registers a customer tagged with the local user id.
func (s *Stripe) CreateCustomer(ctx context.Context, userID, email, name string) (string, error) {
	ctx, span := otel.Tracer("billing/stripe").Start(ctx, "CreateCustomer",
		trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	params := &stripe.CustomerParams{Email: stripe.String(email), Name: stripe.String(name)}
	params.AddMetadata("userId", userID)
	params.Context = ctx
	c, err := s.customers.New(params)
	if err != nil {
		spanFail(span, err, "create customer failed")
		return "", fmt.Errorf("stripe customer for %s: %w", userID, err)
	}
	return c.ID, nil
}

// CreateCheckoutSession opens a subscription-mode checkout. The user and plan
// ids travel as metadata on both the session and the subscription it creates,
// which is how webhook events are attributed later.
func (s *Stripe) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (Session, error) {
	ctx, span := otel.Tracer("billing/stripe").Start(ctx, "CreateCheckoutSession",
		trace.WithAttributes(attribute.String("user.id", req.UserID), attribute.String("plan.id", req.PlanID)))
	defer span.End()

	params := &stripe.CheckoutSessionParams{
		Customer:          stripe.String(req.CustomerID),
		ClientReferenceID: stripe.String(req.UserID),
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(req.PriceID), Quantity: stripe.Int64(1)},
		},
		SuccessURL:       stripe.String(req.SuccessURL),
		CancelURL:        stripe.String(req.CancelURL),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{},
	}
	params.AddMetadata("userId", req.UserID)
	params.AddMetadata("planId", req.PlanID)
	params.SubscriptionData.AddMetadata("userId", req.UserID)
	params.SubscriptionData.AddMetadata("planId", req.PlanID)
	params.Context = ctx

	cs, err := s.checkout.New(params)
	if err != nil {
		spanFail(span, err, "create checkout failed")
		return Session{}, fmt.Errorf("stripe checkout for %s: %w", req.UserID, err)
	}
	return Session{ID: cs.ID, URL: cs.URL}, nil
}

// CreatePortalSession opens the customer billing portal.
func (s *Stripe) CreatePortalSession(ctx context.Context, customerID, returnURL string) (Session, error) {
	ctx, span := otel.Tracer("billing/stripe").Start(ctx, "CreatePortalSession",
		trace.WithAttributes(attribute.String("stripe.customer_id", customerID)))
	defer span.End()

	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx
	ps, err := s.portal.New(params)
	if err != nil {
		spanFail(span, err, "create portal failed")
		return Session{}, fmt.Errorf("stripe portal for %s: %w", customerID, err)
	}
	return Session{ID: ps.ID, URL: ps.URL}, nil
}
