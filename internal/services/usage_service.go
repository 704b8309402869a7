// Package services – UsageService
//
// UsageService keeps the append-only audit log of API-key-authenticated calls
// and derives per-user analytics from it. Writes happen off the request path;
// a background sweeper enforces the retention window.
package services

import (
	"context"
	"errors"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/visa-eval-backend/internal/domain"
	"github.com/tbourn/visa-eval-backend/internal/repo"
)

const (
	analyticsWindow  = 1000
	recentCallsLimit = 50
	keyUsageWindow   = 100
	keyRecentLimit   = 20
	usageWriteBudget = 5 * time.Second
)

// UsageRecord describes one finished API-key request.
type UsageRecord struct {
	UserID       string
	APIKeyID     string
	Endpoint     string
	Method       string
	StatusCode   int
	ResponseTime time.Duration
	ErrorMessage string
	IPAddress    string
	UserAgent    string
	Metadata     map[string]any
	Timestamp    time.Time
}

// AnalyticsFilter narrows Analytics. Zero values match everything.
type AnalyticsFilter struct {
	From     time.Time
	To       time.Time
	APIKeyID string
}

// UsageTotals aggregates a set of usage rows.
type UsageTotals struct {
	TotalCalls            int     `json:"totalCalls"`
	SuccessfulCalls       int     `json:"successfulCalls"`
	FailedCalls           int     `json:"failedCalls"`
	SuccessRate           float64 `json:"successRate"`
	AverageResponseTimeMs float64 `json:"averageResponseTimeMs"`
}

// UsageCharts groups usage rows for plotting.
type UsageCharts struct {
	CallsByDate     map[string]int `json:"callsByDate"`
	CallsByEndpoint map[string]int `json:"callsByEndpoint"`
	CallsByStatus   map[string]int `json:"callsByStatus"`
}

// UsageAnalytics is the analytics view over the newest rows of a user.
type UsageAnalytics struct {
	Summary     UsageTotals       `json:"summary"`
	Charts      UsageCharts       `json:"charts"`
	RecentCalls []domain.APIUsage `json:"recentCalls"`
}

// KeyUsage is the analytics view for a single API key.
type KeyUsage struct {
	APIKey      domain.APIKey     `json:"apiKey"`
	Usage       UsageTotals       `json:"usage"`
	RecentCalls []domain.APIUsage `json:"recentCalls"`
}

// UsageSummary reports the plan and quota of the current billing period.
type UsageSummary struct {
	Plan struct {
		ID            string               `json:"id"`
		Name          string               `json:"name"`
		Tier          domain.PlanTier      `json:"tier"`
		BillingPeriod domain.BillingPeriod `json:"billingPeriod"`
	} `json:"plan"`
	Quota struct {
		Limit      int     `json:"limit"`
		Used       int     `json:"used"`
		Remaining  int     `json:"remaining"`
		Percentage float64 `json:"percentage"`
	} `json:"quota"`
	BillingPeriod struct {
		Start         time.Time  `json:"start"`
		End           *time.Time `json:"end,omitempty"`
		DaysRemaining int        `json:"daysRemaining"`
	} `json:"billingPeriod"`
	Status string `json:"status"`
}

// UsageService records and reports API usage.
type UsageService struct {
	DB    *gorm.DB
	Node  *snowflake.Node
	Quota *QuotaService
	// TTL is the retention window enforced by Sweep.
	TTL time.Duration
	Now func() time.Time

	wg sync.WaitGroup
}

func (s *UsageService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Record stores r in the background. Failures are logged, never returned;
// the request has already been answered.
func (s *UsageService) Record(ctx context.Context, r UsageRecord) {
	ctx = context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		wctx, cancel := context.WithTimeout(ctx, usageWriteBudget)
		defer cancel()
		if err := s.Insert(wctx, r); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("endpoint", r.Endpoint).Msg("usage record failed")
		}
	}()
}

// Wait blocks until pending Record calls have finished.
func (s *UsageService) Wait() { s.wg.Wait() }

// Insert stores r synchronously.
func (s *UsageService) Insert(ctx context.Context, r UsageRecord) error {
	ctx, span := otel.Tracer("services/UsageService").Start(ctx, "Insert",
		trace.WithAttributes(attribute.String("user.id", r.UserID), attribute.String("http.route", r.Endpoint)))
	defer span.End()

	if r.UserID == "" || r.APIKeyID == "" {
		return errors.New("usage record without user or api key")
	}
	ts := r.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}
	row := &domain.APIUsage{
		ID:             s.Node.Generate().Int64(),
		UserID:         r.UserID,
		APIKeyID:       r.APIKeyID,
		Endpoint:       r.Endpoint,
		Method:         r.Method,
		StatusCode:     r.StatusCode,
		Success:        r.StatusCode >= 200 && r.StatusCode < 400,
		ResponseTimeMs: r.ResponseTime.Milliseconds(),
		ErrorMessage:   truncate(r.ErrorMessage, 512),
		IPAddress:      r.IPAddress,
		UserAgent:      truncate(r.UserAgent, 512),
		Metadata:       datatypes.JSONMap(r.Metadata),
		Timestamp:      ts.UTC(),
	}
	return repo.InsertUsage(ctx, s.DB, row)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// Analytics aggregates the newest rows matching f.
func (s *UsageService) Analytics(ctx context.Context, userID string, f AnalyticsFilter) (*UsageAnalytics, error) {
	ctx, span := otel.Tracer("services/UsageService").Start(ctx, "Analytics",
		trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	rows, err := repo.ListUsage(ctx, s.DB, userID, repo.UsageFilter{
		From: f.From, To: f.To, APIKeyID: f.APIKeyID, Limit: analyticsWindow,
	})
	if err != nil {
		return nil, err
	}

	out := &UsageAnalytics{
		Summary: totals(rows),
		Charts: UsageCharts{
			CallsByDate:     map[string]int{},
			CallsByEndpoint: map[string]int{},
			CallsByStatus:   map[string]int{},
		},
		RecentCalls: rows[:min(len(rows), recentCallsLimit)],
	}
	for _, r := range rows {
		out.Charts.CallsByDate[r.Timestamp.UTC().Format(time.DateOnly)]++
		out.Charts.CallsByEndpoint[r.Endpoint]++
		out.Charts.CallsByStatus[strconv.Itoa(r.StatusCode)]++
	}
	return out, nil
}

// KeyUsage reports usage for one of the user's API keys.
func (s *UsageService) KeyUsage(ctx context.Context, userID, keyID string) (*KeyUsage, error) {
	ctx, span := otel.Tracer("services/UsageService").Start(ctx, "KeyUsage",
		trace.WithAttributes(attribute.String("user.id", userID), attribute.String("api_key.id", keyID)))
	defer span.End()

	keys, err := repo.ListAPIKeys(ctx, s.DB, userID)
	if err != nil {
		return nil, err
	}
	var key *domain.APIKey
	for i := range keys {
		if keys[i].ID == keyID {
			key = &keys[i]
			break
		}
	}
	if key == nil {
		return nil, ErrAPIKeyNotFound
	}

	rows, err := repo.ListUsage(ctx, s.DB, userID, repo.UsageFilter{APIKeyID: keyID, Limit: keyUsageWindow})
	if err != nil {
		return nil, err
	}
	return &KeyUsage{
		APIKey:      *key,
		Usage:       totals(rows),
		RecentCalls: rows[:min(len(rows), keyRecentLimit)],
	}, nil
}

func totals(rows []domain.APIUsage) UsageTotals {
	t := UsageTotals{TotalCalls: len(rows)}
	if len(rows) == 0 {
		return t
	}
	var sum int64
	for _, r := range rows {
		if r.Success {
			t.SuccessfulCalls++
		}
		sum += r.ResponseTimeMs
	}
	t.FailedCalls = t.TotalCalls - t.SuccessfulCalls
	t.SuccessRate = math.Round(float64(t.SuccessfulCalls)/float64(t.TotalCalls)*10000) / 100
	t.AverageResponseTimeMs = math.Round(float64(sum) / float64(t.TotalCalls))
	return t
}

// Summary reports the user's plan and quota for the current period.
func (s *UsageService) Summary(ctx context.Context, userID string) (*UsageSummary, error) {
	ctx, span := otel.Tracer("services/UsageService").Start(ctx, "Summary",
		trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	q, err := s.Quota.Check(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := &UsageSummary{Status: "free"}
	out.Plan.ID, out.Plan.Tier = q.Plan, q.Tier
	if p, err := repo.GetPlan(ctx, s.DB, q.Plan); err == nil {
		out.Plan.Name, out.Plan.BillingPeriod = p.Name, p.BillingPeriod
	} else if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	if q.Subscription != nil {
		out.Status = string(q.Subscription.Status)
	}

	out.Quota.Limit, out.Quota.Used, out.Quota.Remaining = q.Limit, q.Used, q.Remaining
	out.Quota.Percentage = usagePercent(q.Used, q.Limit)

	out.BillingPeriod.Start, out.BillingPeriod.End = q.PeriodStart, q.PeriodEnd
	if q.PeriodEnd != nil {
		days := math.Ceil(q.PeriodEnd.Sub(s.now()).Hours() / 24)
		out.BillingPeriod.DaysRemaining = max(int(days), 0)
	}
	return out, nil
}

// Sweep deletes rows older than the retention window.
func (s *UsageService) Sweep(ctx context.Context) (int64, error) {
	ctx, span := otel.Tracer("services/UsageService").Start(ctx, "Sweep")
	defer span.End()

	n, err := repo.PurgeUsageBefore(ctx, s.DB, s.now().Add(-s.TTL))
	span.SetAttributes(attribute.Int64("usage.purged", n))
	return n, err
}

// RunSweeper calls Sweep every interval until ctx is done.
func (s *UsageService) RunSweeper(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := s.Sweep(ctx)
			if err != nil {
				zerolog.Ctx(ctx).Error().Err(err).Msg("usage sweep failed")
				continue
			}
			if n > 0 {
				zerolog.Ctx(ctx).Info().Int64("purged", n).Msg("usage sweep")
			}
		}
	}
}
