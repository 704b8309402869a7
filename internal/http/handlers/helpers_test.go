package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/visa-eval-backend/internal/billing"
	"github.com/tbourn/visa-eval-backend/internal/domain"
	"github.com/tbourn/visa-eval-backend/internal/http/middleware"
	"github.com/tbourn/visa-eval-backend/internal/services"
)

// ---------- authenticator: the bearer token is the user id ----------

type fakeAuthn struct{}

func (fakeAuthn) AuthenticateAPIKey(_ context.Context, key string) (services.Principal, error) {
	return services.Principal{UserID: "key-owner", APIKeyID: key, Method: services.AuthAPIKey}, nil
}

func (fakeAuthn) ParseToken(token string) (services.Principal, error) {
	return services.Principal{UserID: token, Method: services.AuthJWT}, nil
}

// ---------- service fakes ----------

type fakeAuth struct {
	signup   func(services.SignupInput) (*services.Session, error)
	login    func(email, password string) (*services.Session, error)
	keys     []domain.APIKey
	issued   *services.IssuedAPIKey
	deactErr error
	lastName string
}

func (f *fakeAuth) Signup(_ context.Context, in services.SignupInput) (*services.Session, error) {
	return f.signup(in)
}

func (f *fakeAuth) Login(_ context.Context, email, password string) (*services.Session, error) {
	return f.login(email, password)
}

func (f *fakeAuth) Me(_ context.Context, userID string) (*domain.User, error) {
	return &domain.User{ID: userID, Email: userID + "@example.com"}, nil
}

func (f *fakeAuth) CreateAPIKey(_ context.Context, userID, name string) (*services.IssuedAPIKey, error) {
	f.lastName = name
	return f.issued, nil
}

func (f *fakeAuth) ListAPIKeys(context.Context, string) ([]domain.APIKey, error) { return f.keys, nil }

func (f *fakeAuth) DeactivateAPIKey(_ context.Context, userID, id string) (*domain.APIKey, error) {
	if f.deactErr != nil {
		return nil, f.deactErr
	}
	return &domain.APIKey{ID: id, UserID: userID}, nil
}

type fakeEvals struct {
	mu         sync.Mutex
	create     func(services.CreateEvaluationInput) (*domain.Evaluation, error)
	inputs     []services.CreateEvaluationInput
	stored     map[string]*domain.Evaluation
	page       *services.EvaluationPage
	lastFilter services.EvaluationListFilter
	deleted    []string
}

func newFakeEvals() *fakeEvals {
	return &fakeEvals{stored: map[string]*domain.Evaluation{}, page: &services.EvaluationPage{}}
}

func (f *fakeEvals) Create(_ context.Context, in services.CreateEvaluationInput) (*domain.Evaluation, error) {
	f.mu.Lock()
	f.inputs = append(f.inputs, in)
	f.mu.Unlock()
	e, err := f.create(in)
	if e != nil {
		f.mu.Lock()
		f.stored[e.ID] = e
		f.mu.Unlock()
	}
	return e, err
}

func (f *fakeEvals) List(_ context.Context, _ string, flt services.EvaluationListFilter) (*services.EvaluationPage, error) {
	f.lastFilter = flt
	return f.page, nil
}

func (f *fakeEvals) Get(_ context.Context, userID, id string) (*domain.Evaluation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.stored[id]; ok && e.UserID == userID {
		return e, nil
	}
	return nil, services.ErrEvaluationNotFound
}

func (f *fakeEvals) Delete(_ context.Context, userID, id string) error {
	if _, err := f.Get(context.Background(), userID, id); err != nil {
		return err
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeEvals) DocumentURLs(_ context.Context, e *domain.Evaluation) []services.DocumentLink {
	out := make([]services.DocumentLink, 0, len(e.Documents))
	for _, d := range e.Documents {
		out = append(out, services.DocumentLink{Document: d, URL: "https://files.test/" + d.StorageKey})
	}
	return out
}

func (f *fakeEvals) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inputs)
}

type fakeSubs struct {
	plans     []domain.Plan
	cancelErr error
	webhook   func(payload []byte, sig string) (string, error)

	billingErr error
	checkout   services.CheckoutInput
	returnURL  string
}

func (f *fakeSubs) Plans(context.Context) ([]domain.Plan, error) { return f.plans, nil }

func (f *fakeSubs) Status(_ context.Context, _ string) (*services.SubscriptionStatus, error) {
	return &services.SubscriptionStatus{Quota: services.QuotaStatus{Plan: "free", Limit: 3}}, nil
}

func (f *fakeSubs) Usage(_ context.Context, _ string) (*services.UsageReport, error) {
	return &services.UsageReport{Plan: "free", Limit: 3, Used: 1, Remaining: 2}, nil
}

func (f *fakeSubs) Cancel(_ context.Context, userID string) (*domain.Subscription, error) {
	if f.cancelErr != nil {
		return nil, f.cancelErr
	}
	return &domain.Subscription{UserID: userID, CancelAtPeriodEnd: true}, nil
}

func (f *fakeSubs) CreateCheckout(_ context.Context, _ string, in services.CheckoutInput) (*billing.Session, error) {
	f.checkout = in
	if f.billingErr != nil {
		return nil, f.billingErr
	}
	return &billing.Session{ID: "cs_1", URL: "https://checkout.stripe.test/cs_1"}, nil
}

func (f *fakeSubs) BillingPortal(_ context.Context, _ string, returnURL string) (*billing.Session, error) {
	f.returnURL = returnURL
	if f.billingErr != nil {
		return nil, f.billingErr
	}
	return &billing.Session{URL: "https://billing.stripe.test/p"}, nil
}

func (f *fakeSubs) HandleWebhook(_ context.Context, payload []byte, sig string) (string, error) {
	return f.webhook(payload, sig)
}

type fakeUsage struct {
	lastFilter services.AnalyticsFilter
	lastKey    string
	keyErr     error
}

func (f *fakeUsage) Analytics(_ context.Context, _ string, flt services.AnalyticsFilter) (*services.UsageAnalytics, error) {
	f.lastFilter = flt
	return &services.UsageAnalytics{}, nil
}

func (f *fakeUsage) KeyUsage(_ context.Context, _ string, keyID string) (*services.KeyUsage, error) {
	f.lastKey = keyID
	if f.keyErr != nil {
		return nil, f.keyErr
	}
	return &services.KeyUsage{}, nil
}

func (f *fakeUsage) Summary(context.Context, string) (*services.UsageSummary, error) {
	return &services.UsageSummary{}, nil
}

type memIdem struct {
	mu   sync.Mutex
	recs map[string]string
}

func newMemIdem() *memIdem { return &memIdem{recs: map[string]string{}} }

func (m *memIdem) Lookup(_ context.Context, userID, scope, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.recs[userID+"|"+scope+"|"+key]
	return id, ok, nil
}

func (m *memIdem) Save(_ context.Context, userID, scope, key, resourceID string, _ int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs[userID+"|"+scope+"|"+key] = resourceID
	return nil
}

// ---------- router + request helpers ----------

// newTestEngine mounts every handler behind RequestID and a fake
// authenticator, mirroring the production route table.
func newTestEngine(h *Handlers) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.RequestID())

	api := r.Group("/api")
	api.POST("/auth/signup", h.Signup)
	api.POST("/auth/login", h.Login)
	api.GET("/visa-config", h.ListVisaConfig)
	api.GET("/visa-config/:country", h.GetCountryVisaConfig)
	api.GET("/visa-config/:country/:visaType", h.GetVisaTypeConfig)
	api.GET("/subscription/plans", h.ListPlans)
	api.POST("/webhook/stripe", h.StripeWebhook)

	authed := api.Group("", middleware.Authenticate(fakeAuthn{}), middleware.IdempotencyValidator(middleware.IdempotencyOptions{}, nil))
	authed.GET("/auth/me", h.Me)
	authed.POST("/auth/api-keys", h.CreateAPIKey)
	authed.GET("/auth/api-keys", h.ListAPIKeys)
	authed.DELETE("/auth/api-keys/:id", h.DeactivateAPIKey)
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
	authed.GET("/analytics/api-keys/:id", h.APIKeyUsage)
	return r
}

type reqOpt func(*http.Request)

func asUser(uid string) reqOpt {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+uid) }
}

func withHeader(k, v string) reqOpt {
	return func(r *http.Request) { r.Header.Set(k, v) }
}

func doReq(r http.Handler, method, path string, body io.Reader, opts ...reqOpt) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	for _, o := range opts {
		o(req)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func doJSON(r http.Handler, method, path string, v any, opts ...reqOpt) *httptest.ResponseRecorder {
	b, _ := json.Marshal(v)
	opts = append(opts, withHeader("Content-Type", "application/json"))
	return doReq(r, method, path, bytes.NewReader(b), opts...)
}

// decodeError reads the error envelope.
func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var e ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &e); err != nil {
		t.Fatalf("decode error envelope %q: %v", w.Body.String(), err)
	}
	if e.Success {
		t.Fatalf("error envelope with success=true: %s", w.Body.String())
	}
	return e
}

// decodeData unmarshals the data member of the success envelope into out.
func decodeData(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	var env struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope %q: %v", w.Body.String(), err)
	}
	if !env.Success {
		t.Fatalf("success=false: %s", w.Body.String())
	}
	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			t.Fatalf("decode data %s: %v", env.Data, err)
		}
	}
}
