// Subscription and billing HTTP handlers.
//
//   - GET  /subscription/plans
//   - GET  /subscription/status
//   - GET  /subscription/usage
//   - POST /subscription/cancel
//   - POST /subscription/create-checkout
//   - POST /subscription/billing-portal
//   - POST /webhook/stripe
package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/visa-eval-backend/internal/services"
)

// maxWebhookBody bounds Stripe event payloads.
const maxWebhookBody = 1 << 20

// CheckoutRequest selects the paid plan to buy. Redirect URLs are optional.
type CheckoutRequest struct {
	PlanID     string `json:"planId"     binding:"required" example:"pro_monthly"`
	SuccessURL string `json:"successUrl"                    example:"https://app.example.com/dashboard?payment=success"`
	CancelURL  string `json:"cancelUrl"                     example:"https://app.example.com/dashboard?payment=canceled"`
}

// PortalRequest optionally overrides where the portal sends the user back.
type PortalRequest struct {
	ReturnURL string `json:"returnUrl" example:"https://app.example.com/dashboard/subscription"`
}

// WebhookAck acknowledges a processed billing event.
type WebhookAck struct {
	Received bool   `json:"received" example:"true"`
	Type     string `json:"type"     example:"customer.subscription.updated"`
}

// ListPlans godoc
// @ID          listPlans
// @Summary     Plan catalogue
// @Tags        Subscription
// @Produce     json
// @Success     200  {object}  handlers.SuccessResponse{data=[]domain.Plan}
// @Router      /subscription/plans [get]
func (h *Handlers) ListPlans(c *gin.Context) {
	plans, err := h.subs.Plans(c.Request.Context())
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, plans)
}

// SubscriptionStatus godoc
// @ID          subscriptionStatus
// @Summary     Current subscription, plan and quota
// @Tags        Subscription
// @Produce     json
// @Security    BearerAuth
// @Security    ApiKeyAuth
// @Success     200  {object}  handlers.SuccessResponse{data=services.SubscriptionStatus}
// @Router      /subscription/status [get]
func (h *Handlers) SubscriptionStatus(c *gin.Context) {
	st, err := h.subs.Status(c.Request.Context(), userID(c))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, st)
}

// SubscriptionUsage godoc
// @ID          subscriptionUsage
// @Summary     Quota consumption in the current period
// @Tags        Subscription
// @Produce     json
// @Security    BearerAuth
// @Security    ApiKeyAuth
// @Success     200  {object}  handlers.SuccessResponse{data=services.UsageReport}
// @Router      /subscription/usage [get]
func (h *Handlers) SubscriptionUsage(c *gin.Context) {
	rep, err := h.subs.Usage(c.Request.Context(), userID(c))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, rep)
}

// CancelSubscription godoc
// @ID          cancelSubscription
// @Summary     Cancel at period end
// @Tags        Subscription
// @Produce     json
// @Security    BearerAuth
// @Security    ApiKeyAuth
// @Success     200  {object}  handlers.SuccessResponse{data=domain.Subscription}
// @Failure     404  {object}  handlers.ErrorResponse  "No active subscription"
// @Router      /subscription/cancel [post]
func (h *Handlers) CancelSubscription(c *gin.Context) {
	sub, err := h.subs.Cancel(c.Request.Context(), userID(c))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, sub)
}

// CreateCheckout godoc
// @ID          createCheckout
// @Summary     Start a hosted Stripe checkout
// @Description Returns the checkout URL to redirect the user to. The subscription is created by the webhook once payment succeeds.
// @Tags        Subscription
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Security    ApiKeyAuth
// @Param       body  body      handlers.CheckoutRequest  true  "Plan to buy"
// @Success     200   {object}  handlers.SuccessResponse{data=billing.Session}
// @Failure     400   {object}  handlers.ErrorResponse  "Free plan or invalid redirect"
// @Failure     404   {object}  handlers.ErrorResponse  "Unknown plan"
// @Failure     500   {object}  handlers.ErrorResponse  "Billing not configured"
// @Router      /subscription/create-checkout [post]
func (h *Handlers) CreateCheckout(c *gin.Context) {
	var req CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.PlanID) == "" {
		fail(c, http.StatusBadRequest, ErrCodeValidation, "planId is required")
		return
	}
	sess, err := h.subs.CreateCheckout(c.Request.Context(), userID(c), services.CheckoutInput{
		PlanID:     req.PlanID,
		SuccessURL: req.SuccessURL,
		CancelURL:  req.CancelURL,
	})
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, sess)
}

// BillingPortal godoc
// @ID          billingPortal
// @Summary     Open the Stripe customer portal
// @Tags        Subscription
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Security    ApiKeyAuth
// @Param       body  body      handlers.PortalRequest  false  "Return URL override"
// @Success     200   {object}  handlers.SuccessResponse{data=billing.Session}
// @Failure     400   {object}  handlers.ErrorResponse  "No billing account yet"
// @Router      /subscription/billing-portal [post]
func (h *Handlers) BillingPortal(c *gin.Context) {
	var req PortalRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		fail(c, http.StatusBadRequest, ErrCodeValidation, "invalid JSON body")
		return
	}
	sess, err := h.subs.BillingPortal(c.Request.Context(), userID(c), req.ReturnURL)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, sess)
}

// StripeWebhook godoc
// @ID          stripeWebhook
// @Summary     Stripe event receiver
// @Description Verifies the Stripe-Signature header against the raw body.
// @Tags        Webhooks
// @Accept      json
// @Produce     json
// @Param       Stripe-Signature  header  string  true  "Stripe signature"
// @Success     200  {object}  handlers.SuccessResponse{data=handlers.WebhookAck}
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid signature"
// @Router      /webhook/stripe [post]
func (h *Handlers) StripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody+1))
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "could not read body")
		return
	}
	if len(payload) > maxWebhookBody {
		fail(c, http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge, "request body too large")
		return
	}

	typ, err := h.subs.HandleWebhook(c.Request.Context(), payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, WebhookAck{Received: true, Type: typ})
}
